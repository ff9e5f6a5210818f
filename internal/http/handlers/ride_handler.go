// README: Ride handlers for request, status, accept, cancel, rating and receipts.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rideflow/internal/http/middleware"
	"rideflow/internal/modules/dispatch"
	"rideflow/internal/modules/receipt"
	"rideflow/internal/modules/ride"
	"rideflow/internal/types"
)

type RideHandler struct {
	dispatch *dispatch.Coordinator
	rides    *ride.Service
	receipts *receipt.Service
}

func NewRideHandler(coord *dispatch.Coordinator, rides *ride.Service, receipts *receipt.Service) *RideHandler {
	return &RideHandler{dispatch: coord, rides: rides, receipts: receipts}
}

type placeReq struct {
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	Address string   `json:"address"`
}

func (p placeReq) place() (types.Place, bool) {
	if p.Lat == nil || p.Lng == nil {
		return types.Place{}, false
	}
	return types.Place{Point: types.Point{Lat: *p.Lat, Lng: *p.Lng}, Address: p.Address}, true
}

type requestRideReq struct {
	DriverID      string   `json:"driver_id"`
	ServiceType   string   `json:"service_type"`
	Pickup        placeReq `json:"pickup"`
	Dropoff       placeReq `json:"dropoff"`
	EstimatedFare int64    `json:"estimated_fare"`
	Currency      string   `json:"currency"`
	PaymentMethod string   `json:"payment_method"`
}

func (h *RideHandler) Request(c *gin.Context) {
	var req requestRideReq
	if !bindJSON(c, &req) {
		return
	}
	pickup, ok := req.Pickup.place()
	if !ok {
		badRequest(c, "pickup coordinates are required")
		return
	}
	dropoff, ok := req.Dropoff.place()
	if !ok {
		badRequest(c, "dropoff coordinates are required")
		return
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = string(ride.PaymentCash)
	}
	res, err := h.dispatch.RequestRide(c.Request.Context(), dispatch.RequestCommand{
		CustomerID:    middleware.CallerUID(c),
		DriverID:      types.ID(req.DriverID),
		ServiceType:   req.ServiceType,
		Pickup:        pickup,
		Dropoff:       dropoff,
		EstimatedFare: types.Money{Amount: req.EstimatedFare, Currency: req.Currency},
		PaymentMethod: ride.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, res)
}

func (h *RideHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	view, err := h.dispatch.GetStatus(c.Request.Context(), middleware.Caller(c), types.ID(id))
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, view)
}

func (h *RideHandler) Timeline(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	timeline, err := h.rides.ListTimeline(c.Request.Context(), types.ID(id), middleware.Caller(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride_id": id, "timeline": timeline})
}

func (h *RideHandler) Accept(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := h.dispatch.AcceptRide(c.Request.Context(), middleware.Caller(c), types.ID(id))
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

type updateStatusReq struct {
	Status string   `json:"status"`
	Lat    *float64 `json:"lat"`
	Lng    *float64 `json:"lng"`
}

func (h *RideHandler) UpdateStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req updateStatusReq
	if !bindJSON(c, &req) {
		return
	}
	if req.Status == "" {
		badRequest(c, "status is required")
		return
	}
	var loc *types.Point
	if req.Lat != nil && req.Lng != nil {
		loc = &types.Point{Lat: *req.Lat, Lng: *req.Lng}
	}
	res, err := h.dispatch.UpdateStatus(c.Request.Context(), middleware.Caller(c), types.ID(id), ride.Status(req.Status), loc)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *RideHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req cancelReq
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	res, err := h.dispatch.CancelRide(c.Request.Context(), middleware.Caller(c), types.ID(id), req.Reason)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

type rateReq struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (h *RideHandler) Rate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req rateReq
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.dispatch.RateRide(c.Request.Context(), middleware.Caller(c), types.ID(id), req.Rating, req.Comment)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *RideHandler) RateCustomer(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req rateReq
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.dispatch.RateCustomer(c.Request.Context(), middleware.Caller(c), types.ID(id), req.Rating, req.Comment)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *RideHandler) Receipt(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	pdf, err := h.receipts.ForRide(c.Request.Context(), middleware.Caller(c), types.ID(id))
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="receipt-`+id+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", pdf)
}
