package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	httptransport "rideflow/internal/http"
	"rideflow/internal/infra"
	"rideflow/internal/modules/dispatch"
	"rideflow/internal/modules/driver"
	"rideflow/internal/modules/earnings"
	"rideflow/internal/modules/location"
	"rideflow/internal/modules/notification"
	"rideflow/internal/modules/payment"
	"rideflow/internal/modules/pricing"
	"rideflow/internal/modules/rating"
	"rideflow/internal/modules/receipt"
	"rideflow/internal/modules/ride"
)

// tokenVerifier treats the bearer token as "uid:role".
type tokenVerifier struct{}

func (tokenVerifier) VerifyIDToken(_ context.Context, raw string) (*infra.Token, error) {
	uid, role, _ := strings.Cut(raw, ":")
	if uid == "" {
		return nil, errors.New("empty token")
	}
	claims := map[string]interface{}{}
	if role != "" {
		claims["role"] = role
	}
	return &infra.Token{UID: uid, Claims: claims}, nil
}

type recordingGateway struct{ charges []payment.Charge }

func (g *recordingGateway) ChargeOrSplit(_ context.Context, c payment.Charge) error {
	g.charges = append(g.charges, c)
	return nil
}

type testAPI struct {
	router  *gin.Engine
	drivers *driver.MemoryStore
	gateway *recordingGateway
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	drivers := driver.NewMemoryStore()
	for _, d := range []driver.Driver{
		{ID: "d1", UserID: "u-d1", Name: "Ana", ApprovalStatus: driver.ApprovalApproved, IsOnline: true, PayoutAccount: "acct_1"},
		{ID: "d2", UserID: "u-d2", Name: "Ben", ApprovalStatus: driver.ApprovalApproved, IsOnline: true},
	} {
		d := d
		if err := drivers.Create(ctx, &d); err != nil {
			t.Fatalf("create driver: %v", err)
		}
	}
	gateway := &recordingGateway{}
	geo := location.NewMemoryGeo()
	locations := location.NewService(drivers, geo, nil)
	ledger := earnings.NewLedger(drivers, nil)
	rides := ride.NewService(ride.Deps{
		Store:   ride.NewMemoryStore(drivers),
		Drivers: drivers,
		Pricing: pricing.NewService(pricing.StaticRates{
			"standard": {ServiceType: "standard", BaseFare: 100, PerKm: 10, PerMinute: 2, MinimumFare: 50, Currency: "USD"},
		}, pricing.DefaultCommissionRate),
		Payments:  gateway,
		Locations: locations,
	})
	ratings := rating.NewAggregator(rides, drivers, nil)
	notifications := notification.NewService(notification.NewMemoryStore(), nil, nil)
	coord := dispatch.NewCoordinator(dispatch.Deps{
		Drivers:       drivers,
		Rides:         rides,
		Ratings:       ratings,
		Notifications: notifications,
	})
	router := httptransport.NewRouter(httptransport.RouterDeps{
		Verifier:      tokenVerifier{},
		Dispatch:      coord,
		Rides:         rides,
		Receipts:      receipt.NewService(rides, drivers),
		Location:      locations,
		Ledger:        ledger,
		Ratings:       ratings,
		Notifications: notifications,
		WebhookSecret: "hook",
	})
	return &testAPI{router: router, drivers: drivers, gateway: gateway}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

const (
	customerToken = "c1:customer"
	driverToken   = "u-d1:driver"
	adminToken    = "ops:admin"
)

func rideBody(driverID string, method string) map[string]any {
	return map[string]any{
		"driver_id":      driverID,
		"pickup":         map[string]any{"lat": 0.0, "lng": 0.0, "address": "Main St 1"},
		"dropoff":        map[string]any{"lat": 0.045, "lng": 0.0, "address": "Harbor 9"},
		"estimated_fare": 160,
		"currency":       "USD",
		"payment_method": method,
	}
}

func (a *testAPI) requestRide(t *testing.T, method string) string {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/rides", customerToken, rideBody("d1", method))
	if w.Code != http.StatusCreated {
		t.Fatalf("request ride: %d %s", w.Code, w.Body.String())
	}
	var res struct {
		Ride struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"ride"`
		Driver struct {
			Name string `json:"name"`
		} `json:"driver"`
	}
	decode(t, w, &res)
	if res.Ride.Status != "requested" || res.Driver.Name != "Ana" {
		t.Fatalf("unexpected response %s", w.Body.String())
	}
	return res.Ride.ID
}

func (a *testAPI) complete(t *testing.T, id string) {
	t.Helper()
	if w := a.do(t, http.MethodPost, "/api/rides/"+id+"/accept", driverToken, nil); w.Code != http.StatusOK {
		t.Fatalf("accept: %d %s", w.Code, w.Body.String())
	}
	for _, status := range []string{"driver_arrived", "in_progress", "completed"} {
		w := a.do(t, http.MethodPost, "/api/rides/"+id+"/status", driverToken, map[string]any{"status": status, "lat": 0.045, "lng": 0.0})
		if w.Code != http.StatusOK {
			t.Fatalf("status %s: %d %s", status, w.Code, w.Body.String())
		}
	}
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	if w := a.do(t, http.MethodGet, "/health", "", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRides_RequireAuth(t *testing.T) {
	a := newTestAPI(t)
	if w := a.do(t, http.MethodPost, "/api/rides", "", rideBody("d1", "cash")); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w := a.do(t, http.MethodPost, "/api/rides", driverToken, rideBody("d1", "cash")); w.Code != http.StatusForbidden {
		t.Fatalf("driver requesting a ride: expected 403, got %d", w.Code)
	}
}

func TestRides_RequestErrors(t *testing.T) {
	a := newTestAPI(t)
	cases := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{"unknown driver", rideBody("nope", "cash"), http.StatusNotFound},
		{"bad payment method", rideBody("d1", "barter"), http.StatusBadRequest},
		{"missing pickup", map[string]any{"driver_id": "d1", "dropoff": map[string]any{"lat": 1.0, "lng": 1.0}}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := a.do(t, http.MethodPost, "/api/rides", customerToken, tc.body)
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d %s", tc.status, w.Code, w.Body.String())
			}
		})
	}

	a.requestRide(t, "cash")
	w := a.do(t, http.MethodPost, "/api/rides", "c2:customer", rideBody("d1", "cash"))
	if w.Code != http.StatusConflict {
		t.Fatalf("busy driver: expected 409, got %d", w.Code)
	}
	var body map[string]string
	decode(t, w, &body)
	if body["error"] != "conflict" || body["message"] == "" {
		t.Fatalf("unexpected error body %v", body)
	}
}

func TestRides_FullLifecycleOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	id := a.requestRide(t, "cash")

	if w := a.do(t, http.MethodPost, "/api/rides/"+id+"/accept", "u-d2:driver", nil); w.Code != http.StatusForbidden {
		t.Fatalf("other driver accept: expected 403, got %d", w.Code)
	}
	a.complete(t, id)

	w := a.do(t, http.MethodGet, "/api/rides/"+id, customerToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: %d", w.Code)
	}
	var view struct {
		Ride struct {
			Status        string `json:"status"`
			PaymentStatus string `json:"payment_status"`
			ActualFare    *struct {
				Amount int64 `json:"amount"`
			} `json:"actual_fare"`
			Timeline []any `json:"timeline"`
		} `json:"ride"`
	}
	decode(t, w, &view)
	if view.Ride.Status != "completed" || view.Ride.PaymentStatus != "paid" || view.Ride.ActualFare == nil || len(view.Ride.Timeline) != 5 {
		t.Fatalf("unexpected view %s", w.Body.String())
	}

	if w := a.do(t, http.MethodPost, "/api/rides/"+id+"/cancel", customerToken, map[string]any{"reason": "late"}); w.Code != http.StatusConflict {
		t.Fatalf("cancel after completion: expected 409, got %d", w.Code)
	}
	if w := a.do(t, http.MethodPost, "/api/rides/"+id+"/rate", customerToken, map[string]any{"rating": 6}); w.Code != http.StatusBadRequest {
		t.Fatalf("rating 6: expected 400, got %d", w.Code)
	}
	if w := a.do(t, http.MethodPost, "/api/rides/"+id+"/rate", customerToken, map[string]any{"rating": 5, "comment": "great"}); w.Code != http.StatusOK {
		t.Fatalf("rate: %d %s", w.Code, w.Body.String())
	}
	if w := a.do(t, http.MethodPost, "/api/rides/"+id+"/rate", customerToken, map[string]any{"rating": 4}); w.Code != http.StatusConflict {
		t.Fatalf("second rating: expected 409, got %d", w.Code)
	}

	w = a.do(t, http.MethodGet, "/api/rides/"+id+"/receipt", customerToken, nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("receipt: %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	if w := a.do(t, http.MethodGet, "/api/rides/"+id+"/receipt", "c9:customer", nil); w.Code != http.StatusForbidden {
		t.Fatalf("stranger receipt: expected 403, got %d", w.Code)
	}

	w = a.do(t, http.MethodGet, "/api/drivers/me/earnings", driverToken, nil)
	var acct struct {
		Earnings driver.Earnings `json:"earnings"`
	}
	decode(t, w, &acct)
	if acct.Earnings.Total == 0 || acct.Earnings.Total != acct.Earnings.Available {
		t.Fatalf("driver not credited: %+v", acct.Earnings)
	}

	w = a.do(t, http.MethodGet, "/api/drivers/d1/reviews", customerToken, nil)
	var reviews struct {
		Reviews []driver.Review `json:"reviews"`
	}
	decode(t, w, &reviews)
	if len(reviews.Reviews) != 1 || reviews.Reviews[0].Stars != 5 {
		t.Fatalf("unexpected reviews %s", w.Body.String())
	}

	w = a.do(t, http.MethodGet, "/api/notifications", customerToken, nil)
	var inbox struct {
		Notifications []notification.Notification `json:"notifications"`
	}
	decode(t, w, &inbox)
	if len(inbox.Notifications) == 0 || inbox.Notifications[0].Type != notification.TypeRideAccepted {
		t.Fatalf("unexpected inbox %s", w.Body.String())
	}
	if w := a.do(t, http.MethodPost, "/api/notifications/"+string(inbox.Notifications[0].ID)+"/read", customerToken, nil); w.Code != http.StatusNoContent {
		t.Fatalf("mark read: %d", w.Code)
	}
}

func TestPayments_WebhookReconcilesCardRide(t *testing.T) {
	a := newTestAPI(t)
	id := a.requestRide(t, "card")
	a.complete(t, id)
	if len(a.gateway.charges) != 1 || a.gateway.charges[0].PayeeAccount != "acct_1" {
		t.Fatalf("expected one charge to the driver's account, got %+v", a.gateway.charges)
	}

	body := map[string]any{"ride_id": id, "status": "succeeded", "reference": "ch_1"}
	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", strings.NewReader(`{"ride_id":"`+id+`","status":"succeeded"}`))
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned webhook: expected 401, got %d", w.Code)
	}

	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(body)
	req = httptest.NewRequest(http.MethodPost, "/api/payments/webhook", &buf)
	req.Header.Set("X-Webhook-Secret", "hook")
	w = httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("webhook: %d %s", w.Code, w.Body.String())
	}
	var res map[string]string
	decode(t, w, &res)
	if res["payment_status"] != "paid" {
		t.Fatalf("unexpected webhook result %v", res)
	}
}

func TestDrivers_PresenceLocationAndWithdrawals(t *testing.T) {
	a := newTestAPI(t)

	if w := a.do(t, http.MethodPut, "/api/drivers/me/location", customerToken, map[string]any{"lat": 1.0, "lng": 1.0}); w.Code != http.StatusForbidden {
		t.Fatalf("customer location update: expected 403, got %d", w.Code)
	}
	if w := a.do(t, http.MethodPut, "/api/drivers/me/location", driverToken, map[string]any{"lat": 1.0, "lng": 1.0}); w.Code != http.StatusOK {
		t.Fatalf("location: %d %s", w.Code, w.Body.String())
	}
	w := a.do(t, http.MethodGet, "/api/drivers/nearby?lat=1.001&lng=1.0", customerToken, nil)
	var nearby struct {
		Drivers []location.Nearby `json:"drivers"`
	}
	decode(t, w, &nearby)
	if len(nearby.Drivers) != 1 || nearby.Drivers[0].DriverID != "d1" {
		t.Fatalf("unexpected nearby %s", w.Body.String())
	}

	if w := a.do(t, http.MethodPut, "/api/drivers/me/online", driverToken, map[string]any{"online": false}); w.Code != http.StatusOK {
		t.Fatalf("offline: %d", w.Code)
	}
	if w := a.do(t, http.MethodPost, "/api/rides", customerToken, rideBody("d1", "cash")); w.Code != http.StatusConflict {
		t.Fatalf("offline driver request: expected 409, got %d", w.Code)
	}

	if err := a.drivers.FinishRide(context.Background(), "d1", "earlier-ride", 100); err != nil {
		t.Fatalf("seed earnings: %v", err)
	}
	bank := map[string]any{"account_name": "Ana", "account_number": "123", "bank_name": "B"}
	w = a.do(t, http.MethodPost, "/api/drivers/me/withdrawals", driverToken, map[string]any{"amount": 150, "bank_details": bank})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("overdraw: expected 422, got %d", w.Code)
	}
	w = a.do(t, http.MethodPost, "/api/drivers/me/withdrawals", driverToken, map[string]any{"amount": 60, "bank_details": bank})
	if w.Code != http.StatusCreated {
		t.Fatalf("withdraw: %d %s", w.Code, w.Body.String())
	}
	var wd driver.Withdrawal
	decode(t, w, &wd)

	settle := "/api/admin/withdrawals/" + string(wd.ID) + "/settle"
	if w := a.do(t, http.MethodPost, settle, driverToken, map[string]any{"success": true}); w.Code != http.StatusForbidden {
		t.Fatalf("driver settle: expected 403, got %d", w.Code)
	}
	if w := a.do(t, http.MethodPost, settle, adminToken, map[string]any{"success": true}); w.Code != http.StatusOK {
		t.Fatalf("settle: %d %s", w.Code, w.Body.String())
	}
	if w := a.do(t, http.MethodPost, settle, adminToken, map[string]any{"success": false}); w.Code != http.StatusConflict {
		t.Fatalf("second settle: expected 409, got %d", w.Code)
	}
}
