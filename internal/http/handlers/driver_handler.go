// README: Driver handlers for presence, location, earnings, withdrawals and reviews.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rideflow/internal/http/middleware"
	"rideflow/internal/modules/driver"
	"rideflow/internal/modules/earnings"
	"rideflow/internal/modules/location"
	"rideflow/internal/modules/rating"
	"rideflow/internal/types"
)

type DriverHandler struct {
	location *location.Service
	ledger   *earnings.Ledger
	ratings  *rating.Aggregator
}

func NewDriverHandler(loc *location.Service, ledger *earnings.Ledger, ratings *rating.Aggregator) *DriverHandler {
	return &DriverHandler{location: loc, ledger: ledger, ratings: ratings}
}

type locationReq struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	var req locationReq
	if !bindJSON(c, &req) {
		return
	}
	if req.Lat == nil || req.Lng == nil {
		badRequest(c, "lat and lng are required")
		return
	}
	d, err := h.location.Update(c.Request.Context(), location.Update{
		DriverUserID: middleware.CallerUID(c),
		Point:        types.Point{Lat: *req.Lat, Lng: *req.Lng},
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"driver_id": d.ID, "location": d.Location})
}

type onlineReq struct {
	Online *bool `json:"online"`
}

func (h *DriverHandler) SetOnline(c *gin.Context) {
	var req onlineReq
	if !bindJSON(c, &req) {
		return
	}
	if req.Online == nil {
		badRequest(c, "online is required")
		return
	}
	d, err := h.location.SetOnline(c.Request.Context(), middleware.CallerUID(c), *req.Online)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"driver_id": d.ID, "is_online": d.IsOnline, "is_available": d.IsAvailable})
}

func (h *DriverHandler) Earnings(c *gin.Context) {
	e, withdrawals, err := h.ledger.Account(c.Request.Context(), middleware.CallerUID(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	if withdrawals == nil {
		withdrawals = []driver.Withdrawal{}
	}
	writeJSON(c, http.StatusOK, gin.H{"earnings": e, "withdrawals": withdrawals})
}

type withdrawalReq struct {
	Amount      int64              `json:"amount"`
	BankDetails driver.BankDetails `json:"bank_details"`
}

func (h *DriverHandler) RequestWithdrawal(c *gin.Context) {
	var req withdrawalReq
	if !bindJSON(c, &req) {
		return
	}
	w, err := h.ledger.RequestWithdrawal(c.Request.Context(), earnings.WithdrawalCommand{
		DriverUserID: middleware.CallerUID(c),
		Amount:       req.Amount,
		BankDetails:  req.BankDetails,
	})
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, w)
}

type settleReq struct {
	Success *bool `json:"success"`
}

func (h *DriverHandler) SettleWithdrawal(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req settleReq
	if !bindJSON(c, &req) {
		return
	}
	if req.Success == nil {
		badRequest(c, "success is required")
		return
	}
	w, err := h.ledger.SettleWithdrawal(c.Request.Context(), types.ID(id), *req.Success)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, w)
}

func (h *DriverHandler) Reviews(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	reviews, err := h.ratings.Reviews(c.Request.Context(), types.ID(id), limit)
	if err != nil {
		writeAppError(c, err)
		return
	}
	if reviews == nil {
		reviews = []driver.Review{}
	}
	writeJSON(c, http.StatusOK, gin.H{"driver_id": id, "reviews": reviews})
}

func (h *DriverHandler) Nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		badRequest(c, "lat and lng query parameters are required")
		return
	}
	radius, _ := strconv.ParseFloat(c.DefaultQuery("radius_km", "0"), 64)
	drivers, err := h.location.Nearby(c.Request.Context(), types.Point{Lat: lat, Lng: lng}, radius)
	if err != nil {
		writeAppError(c, err)
		return
	}
	if drivers == nil {
		drivers = []location.Nearby{}
	}
	writeJSON(c, http.StatusOK, gin.H{"drivers": drivers})
}
