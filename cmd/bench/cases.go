// README: Bench cases: environment, schema, auth, the single-driver reservation race, the ride lifecycle and throughput.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"rideflow/internal/infra"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

type Runner struct {
	cfg    Config
	httpc  *http.Client
	db     *pgxpool.Pool
	redis  *redis.Client
	signer *infra.JWTVerifier

	// filled in by the seed and race cases
	driverID  string
	driverUID string
	rideID    string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	r := &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
	if cfg.JWTSecret != "" {
		r.signer = infra.NewJWTVerifier(cfg.JWTSecret)
	}
	return r
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: pingDB},
		{Name: "Env: Redis connect", Run: pingRedis},
		{Name: "Migration: apply (optional)", Run: applyMigration},
		{Name: "Migration: tables exist", Run: tablesExist},
		{Name: "API: health", Run: health},
		{Name: "Auth: missing token -> 401", Run: missingToken},
		{Name: "Seed: approved online driver", Run: seedDriver},
		{Name: "Race: concurrent requests for one driver", Run: requestRace},
		{Name: "Race: concurrent accepts of one ride", Run: acceptRace},
		{Name: "Lifecycle: arrive, start, complete", Run: lifecycle},
		{Name: "Perf: driver location throughput", Run: locationLoad},
	}
}

func pingDB(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "db not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func pingRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: StatusSkip, Note: "redis not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func applyMigration(ctx context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return Result{Status: StatusSkip, Note: "apply-migration=false"}
	}
	if r.db == nil {
		return Result{Status: StatusFail, Note: "db not configured"}
	}
	sql, err := os.ReadFile(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	for _, s := range splitSQL(string(sql)) {
		if _, err := r.db.Exec(ctx, s); err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
	}
	return Result{Status: StatusPass}
}

func tablesExist(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "db not configured"}
	}
	tables, err := extractTables(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
			t,
		).Scan(&exists)
		if err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: StatusFail, Note: "missing table: " + t}
		}
	}
	return Result{Status: StatusPass, Note: fmt.Sprintf("tables=%d", len(tables))}
}

func health(ctx context.Context, r *Runner) Result {
	start := time.Now()
	code, _, err := r.do(ctx, http.MethodGet, "/health", "", nil)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return expect(code, time.Since(start), http.StatusOK)
}

func missingToken(ctx context.Context, r *Runner) Result {
	code, _, err := r.do(ctx, http.MethodGet, "/api/notifications", "", nil)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return expect(code, 0, http.StatusUnauthorized)
}

// seedDriver inserts a fresh approved, online driver so every run races on a clean reservation.
func seedDriver(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "db not configured"}
	}
	suffix := uuid.NewString()[:8]
	r.driverID = "bench-" + suffix
	r.driverUID = "bench-driver-" + suffix
	_, err := r.db.Exec(ctx, `
		INSERT INTO drivers (id, user_id, name, approval_status, is_online, is_available, lat, lng)
		VALUES ($1, $2, 'Bench Driver', 'approved', TRUE, TRUE, 25.0330, 121.5654)`,
		r.driverID, r.driverUID,
	)
	if err != nil {
		r.driverID = ""
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass, Note: r.driverID}
}

func requestRace(ctx context.Context, r *Runner) Result {
	if skip, ok := r.needsDriver(); !ok {
		return skip
	}
	body := map[string]any{
		"driver_id":      r.driverID,
		"service_type":   "standard",
		"pickup":         map[string]any{"lat": 25.0330, "lng": 121.5654, "address": "Taipei 101"},
		"dropoff":        map[string]any{"lat": 25.0478, "lng": 121.5170, "address": "Taipei Main Station"},
		"estimated_fare": 1500,
		"currency":       "USD",
		"payment_method": "cash",
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		created  int
		conflict int
		other    []int
	)
	start := time.Now()
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := r.token(fmt.Sprintf("bench-customer-%s-%d", r.driverID, i), "customer")
			if err != nil {
				return
			}
			code, resp, err := r.do(ctx, http.MethodPost, "/api/rides", token, body)
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			switch code {
			case http.StatusCreated:
				created++
				var out struct {
					Ride struct {
						ID string `json:"id"`
					} `json:"ride"`
				}
				if json.Unmarshal(resp, &out) == nil {
					r.rideID = out.Ride.ID
				}
			case http.StatusConflict:
				conflict++
			default:
				other = append(other, code)
			}
		}(i)
	}
	wg.Wait()

	note := fmt.Sprintf("created=%d conflict=%d other=%v", created, conflict, other)
	if created == 1 && conflict == r.cfg.Concurrency-1 {
		return Result{Status: StatusPass, Latency: time.Since(start), Note: note}
	}
	return Result{Status: StatusFail, Note: note}
}

func acceptRace(ctx context.Context, r *Runner) Result {
	if r.rideID == "" {
		return Result{Status: StatusSkip, Note: "no ride from request race"}
	}
	token, err := r.token(r.driverUID, "driver")
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		accepted int
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, _, err := r.do(ctx, http.MethodPost, "/api/rides/"+r.rideID+"/accept", token, nil)
			if err != nil {
				return
			}
			if code == http.StatusOK {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if accepted == 1 {
		return Result{Status: StatusPass, Note: "accepted=1"}
	}
	return Result{Status: StatusFail, Note: fmt.Sprintf("accepted=%d", accepted)}
}

func lifecycle(ctx context.Context, r *Runner) Result {
	if r.rideID == "" {
		return Result{Status: StatusSkip, Note: "no ride from request race"}
	}
	token, err := r.token(r.driverUID, "driver")
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	start := time.Now()
	for _, status := range []string{"driver_arrived", "in_progress", "completed"} {
		body := map[string]any{"status": status, "lat": 25.0478, "lng": 121.5170}
		code, resp, err := r.do(ctx, http.MethodPost, "/api/rides/"+r.rideID+"/status", token, body)
		if err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
		if code != http.StatusOK {
			return Result{Status: StatusFail, Note: fmt.Sprintf("%s: status=%d body=%s", status, code, trim(resp))}
		}
	}
	return Result{Status: StatusPass, Latency: time.Since(start)}
}

func locationLoad(ctx context.Context, r *Runner) Result {
	if skip, ok := r.needsDriver(); !ok {
		return skip
	}
	token, err := r.token(r.driverUID, "driver")
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	end := time.Now().Add(r.cfg.Duration)
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		count    int64
		errCount int64
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				body := map[string]any{"lat": 25.03 + float64(i)*0.0001, "lng": 121.56}
				code, _, err := r.do(ctx, http.MethodPut, "/api/drivers/me/location", token, body)
				mu.Lock()
				if err != nil || code != http.StatusOK {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("no requests completed, errors=%d", errCount)}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: StatusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func (r *Runner) needsDriver() (Result, bool) {
	if r.signer == nil {
		return Result{Status: StatusSkip, Note: "jwt secret not configured"}, false
	}
	if r.driverID == "" {
		return Result{Status: StatusSkip, Note: "no seeded driver"}, false
	}
	return Result{}, true
}

func (r *Runner) token(uid, role string) (string, error) {
	if r.signer == nil {
		return "", fmt.Errorf("jwt secret not configured")
	}
	return r.signer.Sign(uid, role, 10*time.Minute)
}

func (r *Runner) do(ctx context.Context, method, path, token string, body any) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, rd)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func expect(code int, latency time.Duration, want int) Result {
	if code == want {
		return Result{Status: StatusPass, Latency: latency}
	}
	return Result{Status: StatusFail, Note: fmt.Sprintf("status=%d want=%d", code, want)}
}

func trim(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
