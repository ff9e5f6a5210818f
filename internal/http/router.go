// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"rideflow/internal/fanout"
	"rideflow/internal/http/handlers"
	"rideflow/internal/http/middleware"
	"rideflow/internal/infra"
	"rideflow/internal/modules/dispatch"
	"rideflow/internal/modules/earnings"
	"rideflow/internal/modules/location"
	"rideflow/internal/modules/notification"
	"rideflow/internal/modules/rating"
	"rideflow/internal/modules/receipt"
	"rideflow/internal/modules/ride"
	"rideflow/internal/types"
)

type RouterDeps struct {
	Verifier      infra.TokenVerifier
	Logger        *slog.Logger
	Dispatch      *dispatch.Coordinator
	Rides         *ride.Service
	Receipts      *receipt.Service
	Location      *location.Service
	Ledger        *earnings.Ledger
	Ratings       *rating.Aggregator
	Notifications *notification.Service
	Hub           *fanout.Hub
	WebhookSecret string
}

func NewRouter(d RouterDeps) *gin.Engine {
	log := d.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logging(log.With("module", "http")), middleware.Recovery(log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	payments := handlers.NewPaymentHandler(d.Rides, d.WebhookSecret)
	r.POST("/api/payments/webhook", payments.Webhook)

	authed := r.Group("/", middleware.Auth(d.Verifier))
	customerOnly := middleware.RequireRole(types.RoleCustomer)
	driverOnly := middleware.RequireRole(types.RoleDriver)

	rides := handlers.NewRideHandler(d.Dispatch, d.Rides, d.Receipts)
	authed.POST("/api/rides", customerOnly, rides.Request)
	authed.GET("/api/rides/:id", rides.Get)
	authed.GET("/api/rides/:id/timeline", rides.Timeline)
	authed.GET("/api/rides/:id/receipt", rides.Receipt)
	authed.POST("/api/rides/:id/accept", driverOnly, rides.Accept)
	authed.POST("/api/rides/:id/status", rides.UpdateStatus)
	authed.POST("/api/rides/:id/cancel", rides.Cancel)
	authed.POST("/api/rides/:id/rate", rides.Rate)
	authed.POST("/api/rides/:id/rate-customer", driverOnly, rides.RateCustomer)

	drivers := handlers.NewDriverHandler(d.Location, d.Ledger, d.Ratings)
	authed.GET("/api/drivers/nearby", drivers.Nearby)
	authed.GET("/api/drivers/:id/reviews", drivers.Reviews)
	me := authed.Group("/api/drivers/me", driverOnly)
	me.PUT("/location", drivers.UpdateLocation)
	me.PUT("/online", drivers.SetOnline)
	me.GET("/earnings", drivers.Earnings)
	me.POST("/withdrawals", drivers.RequestWithdrawal)

	admin := authed.Group("/api/admin", middleware.RequireRole(types.RoleAdmin))
	admin.POST("/withdrawals/:id/settle", drivers.SettleWithdrawal)

	notes := handlers.NewNotificationHandler(d.Notifications)
	authed.GET("/api/notifications", notes.List)
	authed.POST("/api/notifications/:id/read", notes.MarkRead)

	if d.Hub != nil {
		ws := handlers.NewWSHandler(d.Hub)
		authed.GET("/ws", ws.Subscribe)
	}
	return r
}
