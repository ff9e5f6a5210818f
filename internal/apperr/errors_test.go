package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKind(t *testing.T) {
	base := errors.New("ride not found")
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"validation", ValidationError{Field: "rating", Msg: "must be between 1 and 5"}, KindValidation},
		{"not found wrapped", fmt.Errorf("load: %w", NotFoundError{Resource: "ride", Err: base}), KindNotFound},
		{"conflict", ConflictError{Msg: "driver is not available"}, KindConflict},
		{"unauthorized", UnauthorizedError{}, KindUnauthorized},
		{"funds", InsufficientFundsError{Requested: 150, Available: 100}, KindInsufficientFunds},
		{"plain", base, KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Kind(tc.err); got != tc.want {
				t.Errorf("Kind() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestUnwrapKeepsSentinel(t *testing.T) {
	sentinel := errors.New("ride already rated")
	err := ConflictError{Resource: "rating", Err: sentinel}
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected errors.Is to reach sentinel")
	}
	if err.Error() != "rating conflict" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestValidationMessage(t *testing.T) {
	if got := (ValidationError{Field: "amount"}).Error(); got != "invalid amount" {
		t.Errorf("got %q", got)
	}
	if got := (ValidationError{Field: "rating", Msg: "out of range"}).Error(); got != "rating: out of range" {
		t.Errorf("got %q", got)
	}
}
