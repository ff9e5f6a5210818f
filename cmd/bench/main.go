// README: Smoke and race runner for a live rideflow API; prints one line per check and exits non-zero on failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"rideflow/internal/config"
)

type Config struct {
	BaseURL        string
	DSN            string
	RedisAddr      string
	JWTSecret      string
	MigrationPath  string
	ApplyMigration bool
	Strict         bool
	Timeout        time.Duration
	Concurrency    int
	Duration       time.Duration
}

func main() {
	cfg := parseFlags()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	counts := tally(NewRunner(cfg).RunAll(ctx))
	fmt.Printf("\n== Summary ==\nPASS=%d FAIL=%d SKIP=%d\n", counts[StatusPass], counts[StatusFail], counts[StatusSkip])
	if counts[StatusFail] > 0 || (cfg.Strict && counts[StatusSkip] > 0) {
		os.Exit(1)
	}
}

// parseFlags reads flags whose defaults come from the same variables the API uses.
func parseFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.BaseURL, "base-url", config.Env("RIDEFLOW_BENCH_BASE_URL", "http://localhost:8080"), "API base URL")
	flag.StringVar(&cfg.DSN, "dsn", os.Getenv("RIDEFLOW_DB_DSN"), "Postgres DSN used to seed drivers")
	flag.StringVar(&cfg.RedisAddr, "redis", os.Getenv("RIDEFLOW_REDIS_ADDR"), "Redis address")
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", os.Getenv("RIDEFLOW_JWT_SECRET"), "HS256 secret shared with the API")
	flag.StringVar(&cfg.MigrationPath, "migration", config.Env("RIDEFLOW_BENCH_MIGRATION", "migrations/0001_init.sql"), "schema applied with -apply-migration")
	flag.BoolVar(&cfg.ApplyMigration, "apply-migration", config.EnvBool("RIDEFLOW_BENCH_APPLY_MIGRATION", false), "apply the schema before the checks")
	flag.BoolVar(&cfg.Strict, "strict", config.EnvBool("RIDEFLOW_BENCH_STRICT", false), "treat skipped checks as failures")
	flag.DurationVar(&cfg.Timeout, "timeout", config.EnvDuration("RIDEFLOW_BENCH_TIMEOUT", time.Minute), "budget for the whole run")
	flag.IntVar(&cfg.Concurrency, "concurrency", config.EnvInt("RIDEFLOW_BENCH_CONCURRENCY", 20), "parallel callers in the race and throughput checks")
	flag.DurationVar(&cfg.Duration, "duration", config.EnvDuration("RIDEFLOW_BENCH_DURATION", 10*time.Second), "length of the throughput check")
	flag.Parse()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg
}

func tally(results []Result) map[string]int {
	counts := make(map[string]int, 3)
	for _, r := range results {
		counts[r.Status]++
	}
	return counts
}
