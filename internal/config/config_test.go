package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("RIDEFLOW_JWT_SECRET", "s3cret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" || cfg.Store != StorePostgres || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Dispatch.CommissionRate != 0.02 || cfg.Dispatch.SideEffectTimeout != 3*time.Second {
		t.Fatalf("unexpected dispatch defaults %+v", cfg.Dispatch)
	}
	if cfg.Redis.Addr != "" || cfg.AMQP.URL != "" {
		t.Fatalf("optional adapters must default to disabled")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("RIDEFLOW_JWT_SECRET", "s3cret")
	t.Setenv("RIDEFLOW_STORE", "memory")
	t.Setenv("RIDEFLOW_COMMISSION_RATE", "0.1")
	t.Setenv("RIDEFLOW_SIDE_EFFECT_TIMEOUT", "750ms")
	t.Setenv("RIDEFLOW_REDIS_ADDR", "redis:6379")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store != StoreMemory || cfg.Dispatch.CommissionRate != 0.1 || cfg.Redis.Addr != "redis:6379" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Dispatch.SideEffectTimeout != 750*time.Millisecond {
		t.Fatalf("timeout = %v", cfg.Dispatch.SideEffectTimeout)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"no auth", map[string]string{}},
		{"bad store", map[string]string{"RIDEFLOW_JWT_SECRET": "x", "RIDEFLOW_STORE": "mysql"}},
		{"bad commission", map[string]string{"RIDEFLOW_JWT_SECRET": "x", "RIDEFLOW_COMMISSION_RATE": "1.5"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("RIDEFLOW_JWT_SECRET", "")
			t.Setenv("RIDEFLOW_FIREBASE_PROJECT_ID", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoad_ZeroCommissionIsValid(t *testing.T) {
	t.Setenv("RIDEFLOW_JWT_SECRET", "s3cret")
	t.Setenv("RIDEFLOW_COMMISSION_RATE", "0")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dispatch.CommissionRate != 0 {
		t.Fatalf("commission rate = %v, want 0", cfg.Dispatch.CommissionRate)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("RIDEFLOW_T_BOOL", "Yes")
	t.Setenv("RIDEFLOW_T_OFF", "false")
	t.Setenv("RIDEFLOW_T_INT", "-3")
	t.Setenv("RIDEFLOW_T_DUR", "soon")

	if !EnvBool("RIDEFLOW_T_BOOL", false) || EnvBool("RIDEFLOW_T_OFF", true) || !EnvBool("RIDEFLOW_T_UNSET", true) {
		t.Fatalf("EnvBool did not honour values and defaults")
	}
	if got := EnvInt("RIDEFLOW_T_INT", 20); got != 20 {
		t.Fatalf("EnvInt = %d, want default for a non-positive value", got)
	}
	if got := EnvDuration("RIDEFLOW_T_DUR", time.Second); got != time.Second {
		t.Fatalf("EnvDuration = %v, want default for an unparsable value", got)
	}
	if got := Env("RIDEFLOW_T_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("Env = %q", got)
	}
}
