package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/customerbook/internal/auth"
	"github.com/hitoshi/customerbook/internal/customer"
	"github.com/hitoshi/customerbook/internal/metrics"
	"github.com/hitoshi/customerbook/internal/middleware"
)

const johnDoeJSON = `{"first_name":"John","last_name":"Doe","email":"john@example.com","phone":"555-1234","address":"123 Street"}`

type testAppOptions struct {
	csrf        bool
	trustProxy  bool
	rateLimiter *middleware.RateLimiter
}

type testApp struct {
	server *httptest.Server
	client *http.Client
	store  *memoryStore
}

// newTestApp は実サービスとインメモリリポジトリでルーター全体を起動する。
// tester/strongpasswordのユーザーを事前に登録する。
func newTestApp(t *testing.T, opts testAppOptions) *testApp {
	t.Helper()

	store := newMemoryStore()
	users := memoryUserRepo{store}
	sessions := memorySessionRepo{store}

	authSvc := auth.NewService(
		auth.NewCredentialStore(users, bcrypt.MinCost),
		users, sessions,
		auth.ServiceConfig{SessionMaxAge: 3600},
	)
	if _, err := authSvc.CreateUser(context.Background(), "tester", "strongpassword"); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	router := NewRouter(&RouterDeps{
		Identity:          authSvc,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       opts.rateLimiter,
		CSRFProtection:    opts.csrf,
		TrustProxyHeaders: opts.trustProxy,
		Logger:            slog.New(slog.NewJSONHandler(io.Discard, nil)),
		Metrics:           collector,
		Gatherer:          reg,
		AuthService:       authSvc,
		AuthConfig:        AuthHandlerConfig{SessionMaxAge: 3600},
		CustomerService:   customer.NewService(memoryCustomerRepo{store}, collector),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("failed to create cookie jar: %v", err)
	}

	return &testApp{
		server: srv,
		client: &http.Client{Jar: jar, Timeout: 10 * time.Second},
		store:  store,
	}
}

// do はリクエストを送り、ステータスとボディを返す。
func (a *testApp) do(t *testing.T, method, path, body string, headers ...string) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := a.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return resp.StatusCode, raw
}

func (a *testApp) login(t *testing.T) {
	t.Helper()
	status, body := a.do(t, http.MethodPost, "/auth/login/", `{"username":"tester","password":"strongpassword"}`)
	if status != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", status, body)
	}
}

func decodeObject(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("failed to decode %s: %v", raw, err)
	}
	return m
}

func (a *testApp) customerCount() int {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	return len(a.store.customers)
}

// --- テスト ---

func TestRouter_EndToEndScenario(t *testing.T) {
	app := newTestApp(t, testAppOptions{})

	// ヘルスチェック
	status, body := app.do(t, http.MethodGet, "/health/", "")
	if status != http.StatusOK || strings.TrimSpace(string(body)) != `{"message":"Server is up!"}` {
		t.Fatalf("health = %d %s", status, body)
	}

	// ログイン
	status, body = app.do(t, http.MethodPost, "/auth/login/", `{"username":"tester","password":"strongpassword"}`)
	if status != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", status, body)
	}
	if got := decodeObject(t, body); got["username"] != "tester" || got["is_authenticated"] != true {
		t.Errorf("login body = %v", got)
	}

	// 作成
	status, body = app.do(t, http.MethodPost, "/customers/", johnDoeJSON)
	if status != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", status, body)
	}
	created := decodeObject(t, body)
	if created["id"] != float64(1) {
		t.Errorf("id = %v, want 1", created["id"])
	}
	if created["created_at"] != created["updated_at"] {
		t.Errorf("created_at %v != updated_at %v", created["created_at"], created["updated_at"])
	}

	// 一覧と詳細
	status, body = app.do(t, http.MethodGet, "/customers/", "")
	if status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	var list []map[string]any
	if err := json.Unmarshal(body, &list); err != nil || len(list) != 1 {
		t.Fatalf("list = %s (err %v)", body, err)
	}

	status, _ = app.do(t, http.MethodGet, "/customers/1/", "")
	if status != http.StatusOK {
		t.Errorf("retrieve status = %d", status)
	}

	// 部分更新
	status, body = app.do(t, http.MethodPatch, "/customers/1/", `{"phone":"555-0000"}`)
	if status != http.StatusOK {
		t.Fatalf("patch status = %d, body = %s", status, body)
	}
	patched := decodeObject(t, body)
	if patched["phone"] != "555-0000" {
		t.Errorf("phone = %v, want 555-0000", patched["phone"])
	}
	for _, key := range []string{"first_name", "last_name", "email", "address", "created_at"} {
		if patched[key] != created[key] {
			t.Errorf("%s changed: %v -> %v", key, created[key], patched[key])
		}
	}
	before, _ := time.Parse(time.RFC3339Nano, created["updated_at"].(string))
	after, _ := time.Parse(time.RFC3339Nano, patched["updated_at"].(string))
	if !after.After(before) {
		t.Errorf("updated_at should increase: %v -> %v", before, after)
	}

	// ログアウト
	status, body = app.do(t, http.MethodPost, "/auth/logout/", "")
	if status != http.StatusOK || decodeObject(t, body)["detail"] != "Logged out" {
		t.Fatalf("logout = %d %s", status, body)
	}

	// ログアウト後の作成は拒否される
	status, body = app.do(t, http.MethodPost, "/customers/", johnDoeJSON)
	if status != http.StatusUnauthorized {
		t.Errorf("create after logout status = %d, want %d (body %s)", status, http.StatusUnauthorized, body)
	}
	if app.customerCount() != 1 {
		t.Errorf("customer count = %d, want 1", app.customerCount())
	}

	// 読み取りは引き続き公開
	status, _ = app.do(t, http.MethodGet, "/customers/1/", "")
	if status != http.StatusOK {
		t.Errorf("anonymous retrieve status = %d, want %d", status, http.StatusOK)
	}
}

func TestRouter_AnonymousWritesRejected(t *testing.T) {
	app := newTestApp(t, testAppOptions{})
	app.login(t)
	if status, _ := app.do(t, http.MethodPost, "/customers/", johnDoeJSON); status != http.StatusCreated {
		t.Fatalf("setup create status = %d", status)
	}
	app.do(t, http.MethodPost, "/auth/logout/", "")

	tests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodPost, "/customers/", johnDoeJSON},
		{http.MethodPut, "/customers/1/", johnDoeJSON},
		{http.MethodPatch, "/customers/1/", `{"phone":"1"}`},
		{http.MethodDelete, "/customers/1/", ""},
		{http.MethodDelete, "/customers/999/", ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			status, body := app.do(t, tt.method, tt.path, tt.body)
			if status != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", status, http.StatusUnauthorized)
			}
			if got := decodeObject(t, body)["code"]; got != "AUTHENTICATION_REQUIRED" {
				t.Errorf("code = %v", got)
			}
		})
	}

	status, body := app.do(t, http.MethodGet, "/customers/1/", "")
	if status != http.StatusOK || decodeObject(t, body)["phone"] != "555-1234" {
		t.Errorf("record should be unchanged: %d %s", status, body)
	}
}

func TestRouter_InvalidLogin(t *testing.T) {
	app := newTestApp(t, testAppOptions{})

	for _, body := range []string{
		`{"username":"tester","password":"wrong"}`,
		`{"username":"nobody","password":"strongpassword"}`,
	} {
		status, raw := app.do(t, http.MethodPost, "/auth/login/", body)
		if status != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", status, http.StatusBadRequest)
		}
		if got := decodeObject(t, raw)["message"]; got != "Invalid username or password." {
			t.Errorf("message = %v", got)
		}
	}

	if status, _ := app.do(t, http.MethodGet, "/auth/me/", ""); status != http.StatusUnauthorized {
		t.Errorf("me status = %d, want %d", status, http.StatusUnauthorized)
	}
}

func TestRouter_Me_AfterLogin(t *testing.T) {
	app := newTestApp(t, testAppOptions{})
	app.login(t)

	status, body := app.do(t, http.MethodGet, "/api/auth/me/", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, body = %s", status, body)
	}
	got := decodeObject(t, body)
	if got["username"] != "tester" || got["is_authenticated"] != true || got["id"] == "" {
		t.Errorf("body = %v", got)
	}
}

func TestRouter_PathVariants(t *testing.T) {
	app := newTestApp(t, testAppOptions{})

	for _, path := range []string{"/health", "/health/", "/api/health", "/api/health/", "/customers", "/api/customers/"} {
		t.Run(path, func(t *testing.T) {
			if status, body := app.do(t, http.MethodGet, path, ""); status != http.StatusOK {
				t.Errorf("status = %d, want %d (body %s)", status, http.StatusOK, body)
			}
		})
	}
}

func TestRouter_NotFoundAndMethodNotAllowed(t *testing.T) {
	app := newTestApp(t, testAppOptions{})

	tests := []struct {
		method     string
		path       string
		wantStatus int
		wantCode   string
	}{
		{http.MethodGet, "/nope/", http.StatusNotFound, "NOT_FOUND"},
		{http.MethodGet, "/customers/abc/", http.StatusNotFound, "CUSTOMER_NOT_FOUND"},
		{http.MethodGet, "/customers/42/", http.StatusNotFound, "CUSTOMER_NOT_FOUND"},
		{http.MethodPost, "/health/", http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
		{http.MethodGet, "/auth/login/", http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			status, body := app.do(t, tt.method, tt.path, "")
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if got := decodeObject(t, body)["code"]; got != tt.wantCode {
				t.Errorf("code = %v, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestRouter_ValidationErrors(t *testing.T) {
	app := newTestApp(t, testAppOptions{})
	app.login(t)

	status, body := app.do(t, http.MethodPost, "/customers/", `{"first_name":"John","email":"not-an-email"}`)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", status, http.StatusBadRequest)
	}
	fields, ok := decodeObject(t, body)["fields"].(map[string]any)
	if !ok {
		t.Fatalf("fields missing: %s", body)
	}
	for _, key := range []string{"last_name", "email", "phone", "address"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("expected error for %q", key)
		}
	}
	if app.customerCount() != 0 {
		t.Error("nothing should be stored")
	}
}

func TestRouter_DeleteThenRetrieve(t *testing.T) {
	app := newTestApp(t, testAppOptions{})
	app.login(t)
	app.do(t, http.MethodPost, "/customers/", johnDoeJSON)

	if status, body := app.do(t, http.MethodDelete, "/customers/1/", ""); status != http.StatusNoContent || len(body) != 0 {
		t.Fatalf("delete = %d %q", status, body)
	}
	if status, _ := app.do(t, http.MethodGet, "/customers/1/", ""); status != http.StatusNotFound {
		t.Errorf("retrieve after delete status = %d, want %d", status, http.StatusNotFound)
	}
	if status, _ := app.do(t, http.MethodDelete, "/customers/1/", ""); status != http.StatusNotFound {
		t.Errorf("second delete status = %d, want %d", status, http.StatusNotFound)
	}
}

func TestRouter_CSRFProtection(t *testing.T) {
	app := newTestApp(t, testAppOptions{csrf: true})
	app.login(t)

	status, body := app.do(t, http.MethodPost, "/customers/", johnDoeJSON)
	if status != http.StatusForbidden {
		t.Fatalf("status without token = %d, want %d (body %s)", status, http.StatusForbidden, body)
	}

	status, body = app.do(t, http.MethodGet, "/auth/csrf/", "")
	if status != http.StatusOK {
		t.Fatalf("csrf status = %d", status)
	}
	token, _ := decodeObject(t, body)["token"].(string)
	if token == "" {
		t.Fatal("empty csrf token")
	}

	status, body = app.do(t, http.MethodPost, "/customers/", johnDoeJSON, "X-CSRF-Token", token)
	if status != http.StatusCreated {
		t.Errorf("status with token = %d, want %d (body %s)", status, http.StatusCreated, body)
	}
}

func TestRouter_LoginRateLimit(t *testing.T) {
	cfg := middleware.NewRateLimiterConfig(100, 2)
	rl := middleware.NewRateLimiter(cfg)
	t.Cleanup(rl.Stop)

	app := newTestApp(t, testAppOptions{rateLimiter: rl})

	for i := 0; i < 2; i++ {
		if status, _ := app.do(t, http.MethodPost, "/auth/login/", `{"username":"tester","password":"wrong"}`); status != http.StatusBadRequest {
			t.Fatalf("attempt %d status = %d, want %d", i, status, http.StatusBadRequest)
		}
	}

	status, body := app.do(t, http.MethodPost, "/auth/login/", `{"username":"tester","password":"strongpassword"}`)
	if status != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", status, http.StatusTooManyRequests)
	}
	if got := decodeObject(t, body)["code"]; got != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %v", got)
	}

	// 一般のエンドポイントは影響を受けない
	if status, _ := app.do(t, http.MethodGet, "/customers/", ""); status != http.StatusOK {
		t.Errorf("list status = %d, want %d", status, http.StatusOK)
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	app := newTestApp(t, testAppOptions{})
	app.login(t)
	app.do(t, http.MethodPost, "/customers/", johnDoeJSON)

	status, body := app.do(t, http.MethodGet, "/metrics", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	for _, want := range []string{
		`customerbook_customer_mutations_total{action="create"} 1`,
		`customerbook_login_attempts_total{result="success"} 1`,
		`customerbook_http_requests_total`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestRouter_SecurityAndCORSHeaders(t *testing.T) {
	app := newTestApp(t, testAppOptions{})

	req, _ := http.NewRequest(http.MethodGet, app.server.URL+"/health/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := app.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q", got)
	}
}

// wrongLogins は誤ったパスワードでのログインをn回送り、各ステータスを返す。
// forwardedがtrueの場合は毎回異なるX-Forwarded-Forを付与する。
func wrongLogins(t *testing.T, app *testApp, n int, forwarded bool) []int {
	t.Helper()
	statuses := make([]int, 0, n)
	for i := 0; i < n; i++ {
		var headers []string
		if forwarded {
			headers = []string{"X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i+1)}
		}
		status, _ := app.do(t, http.MethodPost, "/auth/login/", `{"username":"tester","password":"wrong"}`, headers...)
		statuses = append(statuses, status)
	}
	return statuses
}

func TestRouter_LoginRateLimit_IgnoresForwardedHeaders(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(100, 2))
	t.Cleanup(rl.Stop)

	app := newTestApp(t, testAppOptions{rateLimiter: rl})

	statuses := wrongLogins(t, app, 6, true)
	for i, status := range statuses[2:] {
		if status != http.StatusTooManyRequests {
			t.Errorf("attempt %d status = %d, want %d (all: %v)", i+3, status, http.StatusTooManyRequests, statuses)
		}
	}
}

func TestRouter_LoginRateLimit_TrustedProxyUsesForwardedAddress(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(100, 2))
	t.Cleanup(rl.Stop)

	app := newTestApp(t, testAppOptions{rateLimiter: rl, trustProxy: true})

	// プロキシ配下ではX-Forwarded-Forごとに別クライアントとして扱う
	for i, status := range wrongLogins(t, app, 4, true) {
		if status != http.StatusBadRequest {
			t.Errorf("attempt %d status = %d, want %d", i+1, status, http.StatusBadRequest)
		}
	}
}

func TestRouter_HeadOnReadRoutes(t *testing.T) {
	app := newTestApp(t, testAppOptions{})

	for _, path := range []string{"/health/", "/api/health", "/customers/", "/api/customers/"} {
		t.Run(path, func(t *testing.T) {
			status, body := app.do(t, http.MethodHead, path, "")
			if status != http.StatusOK {
				t.Errorf("status = %d, want %d", status, http.StatusOK)
			}
			if len(body) != 0 {
				t.Errorf("HEAD response should have no body, got %q", body)
			}
		})
	}

	if status, _ := app.do(t, http.MethodHead, "/customers/42/", ""); status != http.StatusNotFound {
		t.Errorf("HEAD unknown customer status = %d, want %d", status, http.StatusNotFound)
	}
}
