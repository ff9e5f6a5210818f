// README: Payment gateway webhook; reconciles asynchronous charge results onto rides.
package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"rideflow/internal/apperr"
	"rideflow/internal/modules/payment"
	"rideflow/internal/modules/ride"
)

const WebhookSecretHeader = "X-Webhook-Secret"

type PaymentHandler struct {
	rides  *ride.Service
	secret string
}

// NewPaymentHandler with an empty secret accepts unsigned callbacks; use only behind a private network.
func NewPaymentHandler(rides *ride.Service, secret string) *PaymentHandler {
	return &PaymentHandler{rides: rides, secret: secret}
}

func (h *PaymentHandler) Webhook(c *gin.Context) {
	if h.secret != "" && subtle.ConstantTimeCompare([]byte(c.GetHeader(WebhookSecretHeader)), []byte(h.secret)) != 1 {
		writeError(c, http.StatusUnauthorized, "unauthenticated", "invalid webhook secret")
		return
	}
	var res payment.Result
	if !bindJSON(c, &res) {
		return
	}
	if !isValidID(string(res.RideID)) {
		badRequest(c, "invalid ride_id")
		return
	}
	success, err := res.Succeeded()
	if err != nil {
		writeAppError(c, apperr.ValidationError{Field: "status", Msg: err.Error()})
		return
	}
	r, err := h.rides.ReconcilePayment(c.Request.Context(), res.RideID, success)
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride_id": r.ID, "payment_status": r.PaymentStatus})
}
