// README: Bench cases; walks the full ride/booking lifecycle against a live server.
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// Lifecycle state threaded through the ordered cases. The run suffix
	// keeps repeated runs against one server from colliding on keys.
	run          string
	driverTok    string
	passengerTok string
	rideID       string
	bookingID    string
	pickupCode   string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name  string
	Focus string
	Run   func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
		run:   fmt.Sprintf("%d", time.Now().UnixNano()),
	}
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
		fmt.Printf("%-7s %s", res.Status, tc.Name)
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
	base := r.cfg.BaseURL
	return []TestCase{
		{
			Name:  "Env: Postgres connect",
			Focus: "DB 連線可用",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "SKIP", Note: "dsn not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Env: Redis connect",
			Focus: "Redis 連線可用",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "SKIP", Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: apply (optional)",
			Focus: "可選套用 migration SQL",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: "SKIP", Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				sql, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, s := range splitSQL(string(sql)) {
					if _, err := r.db.Exec(ctx, s); err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: tables exist",
			Focus: "依 migrations/0001_init.sql 檢查表是否存在",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "SKIP", Note: "db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
					if !exists {
						return Result{Status: "FAIL", Note: "missing table: " + t}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "API: health reachable",
			Focus: "API 可回應請求",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				status, _, err := r.call(ctx, http.MethodGet, base+"/health", "", nil)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != 200 {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d", status)}
				}
				return Result{Status: "PASS", Latency: time.Since(start)}
			},
		},
		{
			Name:  "Auth: mint tokens",
			Focus: "可簽發 driver/passenger token",
			Run: func(ctx context.Context, r *Runner) Result {
				var err error
				if r.driverTok, err = r.mintToken(ctx, base, "bench-driver-"+r.run, "driver"); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if r.passengerTok, err = r.mintToken(ctx, base, "bench-passenger-"+r.run, "passenger"); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Ride: unauthenticated publish -> 401",
			Focus: "未帶 token 應拒絕",
			Run: func(ctx context.Context, r *Runner) Result {
				status, _, err := r.call(ctx, http.MethodPost, base+"/api/rides", "", r.publishBody(3))
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != 401 {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d", status)}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Ride: driver publish (valid)",
			Focus: "司機可發佈行程",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.driverTok == "" {
					return Result{Status: "SKIP", Note: "no token"}
				}
				start := time.Now()
				status, data, err := r.call(ctx, http.MethodPost, base+"/api/rides", r.driverTok, r.publishBody(3))
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != 201 {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d body=%s", status, data)}
				}
				r.rideID = jsonField(data, "ride_id")
				if r.rideID == "" {
					return Result{Status: "FAIL", Note: "no ride_id in response"}
				}
				return Result{Status: "PASS", Latency: time.Since(start)}
			},
		},
		{
			Name:  "Ride: publish missing fields -> 400",
			Focus: "缺欄位應回 400",
			Run: func(ctx context.Context, r *Runner) Result {
				status, _, err := r.call(ctx, http.MethodPost, base+"/api/rides", r.driverTok, map[string]any{})
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != 400 {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d", status)}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Ride: publish past departure -> 400",
			Focus: "過去時間應回 400",
			Run: func(ctx context.Context, r *Runner) Result {
				body := r.publishBody(3)
				body["departure_at"] = "2020-01-01T00:00:00Z"
				status, _, err := r.call(ctx, http.MethodPost, base+"/api/rides", r.driverTok, body)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != 400 {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d", status)}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Ride: search near origin",
			Focus: "依起點半徑搜尋可見行程",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.rideID == "" {
					return Result{Status: "SKIP", Note: "no ride"}
				}
				url := base + "/api/rides?origin_lat=25.0330&origin_lng=121.5654&seats=1"
				status, data, err := r.call(ctx, http.MethodGet, url, r.passengerTok, nil)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != 200 || !strings.Contains(string(data), r.rideID) {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d", status)}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Booking: passenger books seats",
			Focus: "乘客可預訂座位",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.rideID == "" || r.passengerTok == "" {
					return Result{Status: "SKIP", Note: "no ride"}
				}
				start := time.Now()
				status, data, err := r.call(ctx, http.MethodPost, base+"/api/bookings", r.passengerTok, map[string]any{
					"ride_id":         r.rideID,
					"seats_booked":    2,
					"idempotency_key": "bench-" + r.run,
				})
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != 201 {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d body=%s", status, data)}
				}
				r.bookingID = jsonField(data, "booking_id")
				if r.bookingID == "" {
					return Result{Status: "FAIL", Note: "no booking_id in response"}
				}
				return Result{Status: "PASS", Latency: time.Since(start)}
			},
		},
		{
			Name:  "Booking: duplicate key different payload -> 409",
			Focus: "同 key 不同內容應回 409",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.bookingID == "" {
					return Result{Status: "SKIP", Note: "no booking"}
				}
				status, _, err := r.call(ctx, http.MethodPost, base+"/api/bookings", r.passengerTok, map[string]any{
					"ride_id":         r.rideID,
					"seats_booked":    1,
					"idempotency_key": "bench-" + r.run,
				})
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != 409 {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d", status)}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Booking: over capacity -> 409",
			Focus: "超出剩餘座位應回 409",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.rideID == "" {
					return Result{Status: "SKIP", Note: "no ride"}
				}
				status, _, err := r.call(ctx, http.MethodPost, base+"/api/bookings", r.passengerTok, map[string]any{
					"ride_id":         r.rideID,
					"seats_booked":    2,
					"idempotency_key": "bench-over-" + r.run,
				})
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != 409 {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d", status)}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Booking: driver accept",
			Focus: "司機可接受預訂",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.bookingID == "" {
					return Result{Status: "SKIP", Note: "no booking"}
				}
				status, data, err := r.call(ctx, http.MethodPost, base+"/api/bookings/"+r.bookingID+"/accept", r.driverTok, nil)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != 200 || jsonField(data, "status") != "CONFIRMED" {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d body=%s", status, data)}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Ride: start issues pickup codes",
			Focus: "發車後產生 4 位接駁碼",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.bookingID == "" {
					return Result{Status: "SKIP", Note: "no booking"}
				}
				status, data, err := r.call(ctx, http.MethodPost, base+"/api/rides/"+r.rideID+"/start", r.driverTok, nil)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != 200 {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d body=%s", status, data)}
				}
				status, data, err = r.call(ctx, http.MethodGet, base+"/api/bookings/"+r.bookingID, r.passengerTok, nil)
				if err != nil || status != 200 {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d", status)}
				}
				r.pickupCode = jsonField(data, "pickup_code")
				if len(r.pickupCode) != 4 {
					return Result{Status: "FAIL", Note: "no pickup code visible to passenger"}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "OTP: wrong pickup code -> 422",
			Focus: "錯誤碼應回 422 且不改變狀態",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.pickupCode == "" {
					return Result{Status: "SKIP", Note: "no code"}
				}
				wrong := "0000"
				if r.pickupCode == wrong {
					wrong = "0001"
				}
				status, _, err := r.call(ctx, http.MethodPost, base+"/api/bookings/"+r.bookingID+"/pickup/confirm", r.driverTok, map[string]any{"code": wrong})
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != 422 {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d", status)}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "OTP: correct pickup code",
			Focus: "正確碼轉 PICKED_UP",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.pickupCode == "" {
					return Result{Status: "SKIP", Note: "no code"}
				}
				status, data, err := r.call(ctx, http.MethodPost, base+"/api/bookings/"+r.bookingID+"/pickup/confirm", r.driverTok, map[string]any{"code": r.pickupCode})
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != 200 || jsonField(data, "status") != "PICKED_UP" {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d body=%s", status, data)}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Dropoff: transit, begin, confirm",
			Focus: "下車碼流程完成 DROPPED_OFF",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.bookingID == "" {
					return Result{Status: "SKIP", Note: "no booking"}
				}
				if status, _, err := r.call(ctx, http.MethodPost, base+"/api/bookings/"+r.bookingID+"/transit", r.driverTok, nil); err != nil || status != 200 {
					return Result{Status: "FAIL", Note: fmt.Sprintf("transit status=%d", status)}
				}
				if status, _, err := r.call(ctx, http.MethodPost, base+"/api/bookings/"+r.bookingID+"/dropoff", r.driverTok, nil); err != nil || status != 200 {
					return Result{Status: "FAIL", Note: fmt.Sprintf("dropoff status=%d", status)}
				}
				status, data, err := r.call(ctx, http.MethodGet, base+"/api/bookings/"+r.bookingID, r.passengerTok, nil)
				if err != nil || status != 200 {
					return Result{Status: "FAIL", Note: fmt.Sprintf("get status=%d", status)}
				}
				code := jsonField(data, "dropoff_code")
				if len(code) != 4 {
					return Result{Status: "FAIL", Note: "no dropoff code"}
				}
				status, data, err = r.call(ctx, http.MethodPost, base+"/api/bookings/"+r.bookingID+"/dropoff/confirm", r.driverTok, map[string]any{"code": code})
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != 200 || jsonField(data, "status") != "DROPPED_OFF" {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d body=%s", status, data)}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Ride: complete",
			Focus: "全員下車後可完成行程",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.rideID == "" {
					return Result{Status: "SKIP", Note: "no ride"}
				}
				status, data, err := r.call(ctx, http.MethodPost, base+"/api/rides/"+r.rideID+"/complete", r.driverTok, nil)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != 200 || jsonField(data, "status") != "COMPLETED" {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d body=%s", status, data)}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Cancel: driver cancels ride with booking",
			Focus: "取消後預訂改派或退款取消",
			Run: func(ctx context.Context, r *Runner) Result {
				return cancelFlow(ctx, r, base)
			},
		},
		{
			Name:  "Concurrency: last seats",
			Focus: "同時搶位只允許一筆成功",
			Run: func(ctx context.Context, r *Runner) Result {
				return concurrentBooking(ctx, r, base)
			},
		},
		manualCase("Reassign: comparable ride rebooks", "需兩台相近班次驗證改派"),
		manualCase("WS: event delivery", "需 websocket 客戶端驗證推播"),
		manualCase("AMQP: sink publishes", "需檢查 exchange 訊息"),
		manualCase("OTP: attempt lockout", "需連續錯誤碼觸發 429 (Redis)"),
		{
			Name:  "Perf: search throughput",
			Focus: "搜尋每秒吞吐",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, http.MethodGet, base+"/api/rides?seats=1", r.passengerTok, nil)
			},
		},
		{
			Name:  "Perf: publish throughput",
			Focus: "發佈每秒吞吐",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, http.MethodPost, base+"/api/rides", r.driverTok, r.publishBody(2))
			},
		},
	}
}

// publishBody builds a valid publish payload departing two hours out.
func (r *Runner) publishBody(seats int) map[string]any {
	return map[string]any{
		"origin":         map[string]float64{"lat": 25.0330, "lng": 121.5654},
		"destination":    map[string]float64{"lat": 24.9936, "lng": 121.3010},
		"departure_at":   time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339),
		"price_per_seat": map[string]any{"amount": 120, "currency": "TWD"},
		"total_seats":    seats,
	}
}

func (r *Runner) mintToken(ctx context.Context, base, userID, role string) (string, error) {
	status, data, err := r.call(ctx, http.MethodPost, base+"/api/auth/token", "", map[string]any{
		"user_id": userID,
		"role":    role,
	})
	if err != nil {
		return "", err
	}
	if status != 200 {
		return "", fmt.Errorf("token status=%d", status)
	}
	tok := jsonField(data, "token")
	if tok == "" {
		return "", fmt.Errorf("no token in response")
	}
	return tok, nil
}

func (r *Runner) call(ctx context.Context, method, url, tok string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	data, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode, data, nil
}

func manualCase(name, note string) TestCase {
	return TestCase{
		Name:  name,
		Focus: "Manual",
		Run: func(ctx context.Context, r *Runner) Result {
			return Result{Status: "SKIP", Note: note}
		},
	}
}

// cancelFlow publishes a fresh ride, books and accepts, then cancels the
// ride and checks that the booking did not stay live.
func cancelFlow(ctx context.Context, r *Runner, base string) Result {
	if r.driverTok == "" || r.passengerTok == "" {
		return Result{Status: "SKIP", Note: "no tokens"}
	}
	status, data, err := r.call(ctx, http.MethodPost, base+"/api/rides", r.driverTok, r.publishBody(3))
	if err != nil || status != 201 {
		return Result{Status: "FAIL", Note: fmt.Sprintf("publish status=%d", status)}
	}
	rideID := jsonField(data, "ride_id")

	status, data, err = r.call(ctx, http.MethodPost, base+"/api/bookings", r.passengerTok, map[string]any{
		"ride_id":         rideID,
		"seats_booked":    1,
		"idempotency_key": "bench-cancel-" + r.run,
	})
	if err != nil || status != 201 {
		return Result{Status: "FAIL", Note: fmt.Sprintf("book status=%d", status)}
	}
	bookingID := jsonField(data, "booking_id")

	if status, _, err = r.call(ctx, http.MethodPost, base+"/api/bookings/"+bookingID+"/accept", r.driverTok, nil); err != nil || status != 200 {
		return Result{Status: "FAIL", Note: fmt.Sprintf("accept status=%d", status)}
	}

	status, data, err = r.call(ctx, http.MethodPost, base+"/api/rides/"+rideID+"/cancel", r.driverTok, map[string]any{"reason": "bench"})
	if err != nil || status != 200 {
		return Result{Status: "FAIL", Note: fmt.Sprintf("cancel status=%d", status)}
	}
	if jsonField(data, "status") != "CANCELLED" {
		return Result{Status: "FAIL", Note: "ride not cancelled"}
	}

	// The displaced booking either moved to a comparable ride or was
	// cancelled with a refund; it must not stay CONFIRMED on this ride.
	status, data, err = r.call(ctx, http.MethodGet, base+"/api/bookings/"+bookingID, r.passengerTok, nil)
	if err != nil || status != 200 {
		return Result{Status: "FAIL", Note: fmt.Sprintf("get status=%d", status)}
	}
	final := jsonField(data, "status")
	if final == "CONFIRMED" || final == "PENDING" {
		return Result{Status: "FAIL", Note: "booking still live on cancelled ride"}
	}
	return Result{Status: "PASS", Note: "final=" + final}
}

// concurrentBooking races distinct passengers for the last seats; exactly
// one booking may win.
func concurrentBooking(ctx context.Context, r *Runner, base string) Result {
	if r.driverTok == "" {
		return Result{Status: "SKIP", Note: "no token"}
	}
	status, data, err := r.call(ctx, http.MethodPost, base+"/api/rides", r.driverTok, r.publishBody(2))
	if err != nil || status != 201 {
		return Result{Status: "FAIL", Note: fmt.Sprintf("publish status=%d", status)}
	}
	rideID := jsonField(data, "ride_id")

	var mu sync.Mutex
	succ := 0
	wg := sync.WaitGroup{}
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := r.mintToken(ctx, base, fmt.Sprintf("bench-racer-%d-%s", i, r.run), "passenger")
			if err != nil {
				return
			}
			status, _, err := r.call(ctx, http.MethodPost, base+"/api/bookings", tok, map[string]any{
				"ride_id":         rideID,
				"seats_booked":    2,
				"idempotency_key": fmt.Sprintf("bench-race-%d-%s", i, r.run),
			})
			if err != nil {
				return
			}
			if status == 201 {
				mu.Lock()
				succ++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if succ != 1 {
		return Result{Status: "FAIL", Note: fmt.Sprintf("winners=%d", succ)}
	}
	return Result{Status: "PASS", Note: "winners=1"}
}

func perfLoad(ctx context.Context, r *Runner, method, url, tok string, payload any) Result {
	var body []byte
	if payload != nil {
		body, _ = json.Marshal(payload)
	}
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount int64
	var mu sync.Mutex
	wg := sync.WaitGroup{}

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) {
				var reader io.Reader
				if body != nil {
					reader = bytes.NewReader(body)
				}
				req, _ := http.NewRequestWithContext(ctx, method, url, reader)
				req.Header.Set("Content-Type", "application/json")
				if tok != "" {
					req.Header.Set("Authorization", "Bearer "+tok)
				}
				resp, err := r.httpc.Do(req)
				if err != nil {
					mu.Lock()
					errCount++
					mu.Unlock()
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
				mu.Lock()
				count++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: "FAIL", Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

// jsonField pulls a top-level string field out of a response body.
func jsonField(data []byte, key string) string {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
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
	cleaned := strings.Join(filtered, "\n")
	parts := strings.Split(cleaned, ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
