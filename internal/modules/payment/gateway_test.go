package payment

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"rideflow/internal/types"
)

func usd(amount int64) types.Money { return types.Money{Amount: amount, Currency: "USD"} }

func TestCharge_Validate(t *testing.T) {
	cases := []struct {
		name string
		c    Charge
		ok   bool
	}{
		{"valid", Charge{RideID: "r1", Amount: usd(170), PlatformFee: usd(3)}, true},
		{"fee equals amount", Charge{RideID: "r1", Amount: usd(10), PlatformFee: usd(10)}, true},
		{"missing ride", Charge{Amount: usd(170)}, false},
		{"zero amount", Charge{RideID: "r1"}, false},
		{"negative fee", Charge{RideID: "r1", Amount: usd(170), PlatformFee: usd(-1)}, false},
		{"fee above amount", Charge{RideID: "r1", Amount: usd(170), PlatformFee: usd(171)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.c.Validate(); (err == nil) != tc.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestResult_Succeeded(t *testing.T) {
	if ok, err := (Result{Status: ResultSucceeded}).Succeeded(); err != nil || !ok {
		t.Fatalf("succeeded: (%v, %v)", ok, err)
	}
	if ok, err := (Result{Status: ResultFailed}).Succeeded(); err != nil || ok {
		t.Fatalf("failed: (%v, %v)", ok, err)
	}
	if _, err := (Result{Status: "pending"}).Succeeded(); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestLogGateway(t *testing.T) {
	var buf bytes.Buffer
	g := LogGateway{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	if err := g.ChargeOrSplit(context.Background(), Charge{RideID: "r1", Amount: usd(170), PlatformFee: usd(3)}); err != nil {
		t.Fatalf("charge: %v", err)
	}
	if !strings.Contains(buf.String(), "ride_id=r1") {
		t.Fatalf("charge not logged: %s", buf.String())
	}
	if err := g.ChargeOrSplit(context.Background(), Charge{RideID: "r1"}); err == nil {
		t.Fatalf("expected validation error")
	}
}
