package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nikoai/niko/internal/clock"
	"github.com/nikoai/niko/internal/metrics"
	"github.com/nikoai/niko/internal/model"
	"github.com/nikoai/niko/internal/ratelimit"
	"github.com/nikoai/niko/internal/service"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) model.ErrorResponse {
	t.Helper()
	var body model.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

// ---------------------------------------------------------------------------
// RequestID middleware tests
// ---------------------------------------------------------------------------

func TestRequestIDGeneratesUUID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r.Context()) == "" {
			t.Error("expected non-empty request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	respID := rr.Header().Get("X-Request-ID")
	// UUID v7 format check: 36 chars with dashes
	if len(respID) != 36 {
		t.Errorf("expected UUID-length request ID, got %q (len=%d)", respID, len(respID))
	}
}

func TestRequestIDPreservesClientID(t *testing.T) {
	clientID := "my-custom-trace-id-123"

	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := GetRequestID(r.Context()); id != clientID {
			t.Errorf("expected context ID %q, got %q", clientID, id)
		}
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", clientID)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if respID := rr.Header().Get("X-Request-ID"); respID != clientID {
		t.Errorf("expected response X-Request-ID %q, got %q", clientID, respID)
	}
}

func TestRequestIDReplacesOversizedClientID(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("a", 500))
	rr := httptest.NewRecorder()
	RequestID(ok).ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); len(got) != 36 {
		t.Errorf("expected a generated ID, got %d chars", len(got))
	}
}

func TestGetRequestIDEmptyContext(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("expected empty string from bare context, got %q", id)
	}
}

// ---------------------------------------------------------------------------
// Classifier tests
// ---------------------------------------------------------------------------

func TestClassify(t *testing.T) {
	c := DefaultClassifier()
	tests := []struct {
		path   string
		class  ratelimit.Class
		bypass bool
	}{
		{"/register", ratelimit.ClassRegistration, false},
		{"/login", ratelimit.ClassAuthentication, false},
		{"/chat", ratelimit.ClassChatCompletion, false},
		{"/me", ratelimit.ClassGeneral, false},
		{"/api/admin/users", ratelimit.ClassGeneral, false},
		{"/login/extra", ratelimit.ClassGeneral, false},
		{"/", ratelimit.ClassGeneral, true},
		{"/health", ratelimit.ClassGeneral, true},
		{"/healthz", ratelimit.ClassGeneral, true},
		{"/readyz", ratelimit.ClassGeneral, false},
		{"/static/app.js", ratelimit.ClassGeneral, true},
		{"/static/index.html", ratelimit.ClassGeneral, true},
		{"/admin.html", ratelimit.ClassGeneral, false},
		{"/api/admin/users/x.html", ratelimit.ClassGeneral, false},
		{"/sw.js", ratelimit.ClassGeneral, true},
	}
	for _, tt := range tests {
		class, bypass := c.Classify(tt.path)
		if class != tt.class || bypass != tt.bypass {
			t.Errorf("Classify(%q) = (%s, %v), want (%s, %v)", tt.path, class, bypass, tt.class, tt.bypass)
		}
	}
}

// ---------------------------------------------------------------------------
// Admit middleware tests
// ---------------------------------------------------------------------------

func newTestAdmit(p ratelimit.Policies) (http.Handler, *ratelimit.Limiter, *clock.Fixed, *metrics.Metrics) {
	return newTestAdmitKeyed(p, nil)
}

func newTestAdmitKeyed(p ratelimit.Policies, key KeyFunc) (http.Handler, *ratelimit.Limiter, *clock.Fixed, *metrics.Metrics) {
	c := clock.NewFixed(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	l := ratelimit.New(p, ratelimit.WithClock(c))
	m := metrics.New()
	return Admit(l, DefaultClassifier(), key, m, discard)(ok), l, c, m
}

func doFrom(h http.Handler, method, path, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = addr
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAdmitRejectsWithRetryAfter(t *testing.T) {
	p := ratelimit.DefaultPolicies()
	p.Registration = ratelimit.Policy{MaxRequests: 3, Window: 60 * time.Second}
	h, _, c, _ := newTestAdmit(p)

	for i := 0; i < 3; i++ {
		rr := doFrom(h, "POST", "/register", "1.2.3.4:5000")
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, rr.Code)
		}
		if got := rr.Header().Get("X-RateLimit-Remaining"); got != fmt.Sprint(2-i) {
			t.Errorf("request %d: remaining %q", i, got)
		}
		c.Advance(time.Second)
	}

	rr := doFrom(h, "POST", "/register", "1.2.3.4:5000")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "58" {
		t.Errorf("Retry-After = %q, want 58", got)
	}
	body := decodeError(t, rr)
	if body.RetryAfter != 58 || body.Error.Code != 429 {
		t.Errorf("body = %+v", body)
	}

	// A different caller is unaffected.
	if rr := doFrom(h, "POST", "/register", "5.6.7.8:5000"); rr.Code != http.StatusOK {
		t.Errorf("other caller status = %d", rr.Code)
	}
}

func TestAdmitIgnoresForwardedHeadersByDefault(t *testing.T) {
	p := ratelimit.DefaultPolicies()
	p.Authentication = ratelimit.Policy{MaxRequests: 2, Window: time.Minute}
	h, l, _, _ := newTestAdmit(p)

	rejected := 0
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest("POST", "/login", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("9.9.9.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("8.8.8.%d", i))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code == http.StatusTooManyRequests {
			rejected++
		}
	}

	if rejected != 8 {
		t.Errorf("rejected = %d, want 8", rejected)
	}
	if got := l.Remaining("9.9.9.0", ratelimit.ClassAuthentication); got != 2 {
		t.Errorf("forwarded address remaining = %d, want untouched 2", got)
	}
}

func TestAdmitForwardedKey(t *testing.T) {
	p := ratelimit.DefaultPolicies()
	p.Authentication = ratelimit.Policy{MaxRequests: 1, Window: time.Minute}
	h, l, _, _ := newTestAdmitKeyed(p, KeyByForwarded)

	req := httptest.NewRequest("POST", "/login", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "9.9.9.9")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got := l.Remaining("9.9.9.9", ratelimit.ClassAuthentication); got != 0 {
		t.Errorf("forwarded caller remaining = %d, want 0", got)
	}
	if got := l.Remaining("10.0.0.1", ratelimit.ClassAuthentication); got != 1 {
		t.Errorf("proxy address remaining = %d, want 1", got)
	}
}

func TestKeyFuncs(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	if got := KeyByRemoteAddr(req); got != "203.0.113.7" {
		t.Errorf("KeyByRemoteAddr = %q", got)
	}
	if got := KeyByForwarded(req); got != "203.0.113.7" {
		t.Errorf("KeyByForwarded without headers = %q", got)
	}
	req.Header.Set("X-Real-IP", "198.51.100.4")
	if got := KeyByRemoteAddr(req); got != "203.0.113.7" {
		t.Errorf("KeyByRemoteAddr trusted a header: %q", got)
	}
	if got := KeyByForwarded(req); got != "198.51.100.4" {
		t.Errorf("KeyByForwarded = %q", got)
	}

	req.RemoteAddr = "no-port"
	if got := KeyByRemoteAddr(req); got != "no-port" {
		t.Errorf("KeyByRemoteAddr fallback = %q", got)
	}
}

func TestAdmitBypassLane(t *testing.T) {
	p := ratelimit.DefaultPolicies()
	p.General = ratelimit.Policy{MaxRequests: 1, Window: time.Minute}
	h, l, _, _ := newTestAdmit(p)

	for i := 0; i < 5; i++ {
		rr := doFrom(h, "GET", "/static/app.js", "1.2.3.4:1")
		if rr.Code != http.StatusOK {
			t.Fatalf("bypass request %d: status %d", i, rr.Code)
		}
		if rr.Header().Get("X-RateLimit-Remaining") != "" {
			t.Error("bypass lane should not carry rate limit headers")
		}
	}
	if l.Len() != 0 {
		t.Errorf("bypass lane recorded %d windows", l.Len())
	}
}

// ---------------------------------------------------------------------------
// Authenticate middleware tests
// ---------------------------------------------------------------------------

type fakeAuth struct {
	ids map[string]*model.Identity
	err error
}

func (f *fakeAuth) Authenticate(_ context.Context, token string) (*model.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	if id, ok := f.ids[token]; ok {
		return id, nil
	}
	return nil, fmt.Errorf("%w: unknown", service.ErrUnauthenticated)
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{ids: map[string]*model.Identity{
		"user-token":  {Name: "alice"},
		"admin-token": {Name: "root", IsPrivileged: true},
	}}
}

func authRequest(h http.Handler, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/me", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAuthenticate(t *testing.T) {
	var seen *Principal
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetPrincipal(r.Context())
	})
	lane := ServiceLane{Key: "svc-key", Subject: "mobile_user"}
	h := Authenticate(newFakeAuth(), lane, nil, discard)(inner)

	tests := []struct {
		name    string
		headers map[string]string
		status  int
		message string
		who     string
	}{
		{"no credentials", nil, 401, msgAuthRequired, ""},
		{"non-bearer scheme", map[string]string{"Authorization": "Basic abc"}, 401, msgAuthRequired, ""},
		{"empty bearer", map[string]string{"Authorization": "Bearer "}, 401, msgAuthRequired, ""},
		{"invalid token", map[string]string{"Authorization": "Bearer nope"}, 401, msgInvalidToken, ""},
		{"valid token", map[string]string{"Authorization": "Bearer user-token"}, 200, "", "alice"},
		{"lowercase scheme", map[string]string{"Authorization": "bearer user-token"}, 200, "", "alice"},
		{"service key", map[string]string{"X-API-Key": "svc-key"}, 200, "", "mobile_user"},
		{"wrong service key", map[string]string{"X-API-Key": "guess"}, 401, msgAuthRequired, ""},
		{"wrong key falls back to bearer", map[string]string{"X-API-Key": "guess", "Authorization": "Bearer user-token"}, 200, "", "alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			rr := authRequest(h, tt.headers)
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d", rr.Code, tt.status)
			}
			if tt.status != 200 {
				if body := decodeError(t, rr); body.Error.Message != tt.message {
					t.Errorf("message = %q, want %q", body.Error.Message, tt.message)
				}
				return
			}
			if seen == nil || seen.Name != tt.who {
				t.Errorf("principal = %+v, want %s", seen, tt.who)
			}
		})
	}
}

func TestAuthenticateServiceLaneDisabled(t *testing.T) {
	h := Authenticate(newFakeAuth(), ServiceLane{}, nil, discard)(ok)
	rr := authRequest(h, map[string]string{"X-API-Key": ""})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
}

func TestAuthenticateStoreFailureIs500(t *testing.T) {
	fa := &fakeAuth{err: errors.New("resolve identity: database is locked")}
	h := Authenticate(fa, ServiceLane{}, nil, discard)(ok)

	rr := authRequest(h, map[string]string{"Authorization": "Bearer user-token"})
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if body := decodeError(t, rr); strings.Contains(body.Error.Message, "database") {
		t.Errorf("store details leaked: %q", body.Error.Message)
	}
}

// ---------------------------------------------------------------------------
// RequirePrivileged middleware tests
// ---------------------------------------------------------------------------

func withPrincipal(p *Principal) *http.Request {
	req := httptest.NewRequest("GET", "/api/admin/users", nil)
	if p == nil {
		return req
	}
	return req.WithContext(context.WithValue(req.Context(), AuthPrincipalKey, p))
}

func TestRequirePrivileged(t *testing.T) {
	handler := RequirePrivileged(nil)(ok)

	tests := []struct {
		name      string
		principal *Principal
		want      int
	}{
		{"privileged", &Principal{Name: "root", IsPrivileged: true}, http.StatusOK},
		{"unprivileged", &Principal{Name: "alice"}, http.StatusForbidden},
		{"service lane", &Principal{Name: "mobile_user", Service: true, IsPrivileged: true}, http.StatusForbidden},
		{"unauthenticated", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, withPrincipal(tt.principal))
		if rr.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.name, rr.Code, tt.want)
		}
	}
}

func TestGetPrincipalWithoutValue(t *testing.T) {
	if p := GetPrincipal(context.Background()); p != nil {
		t.Errorf("expected nil principal, got %+v", p)
	}
}

// ---------------------------------------------------------------------------
// SecurityHeaders and Logger tests
// ---------------------------------------------------------------------------

func TestSecurityHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	SecurityHeaders(false)(ok).ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" || rr.Header().Get("X-Frame-Options") != "DENY" {
		t.Errorf("missing hardening headers: %v", rr.Header())
	}
	if rr.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must only be sent in production")
	}

	rr = httptest.NewRecorder()
	SecurityHeaders(true)(ok).ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	if rr.Header().Get("Strict-Transport-Security") == "" {
		t.Error("expected HSTS in production")
	}
}

func TestLoggerReportsClassAndSubjectWithoutToken(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	c := clock.NewFixed(time.Now())
	l := ratelimit.New(ratelimit.DefaultPolicies(), ratelimit.WithClock(c))
	chain := RequestID(Logger(logger, nil)(
		Admit(l, DefaultClassifier(), nil, nil, logger)(
			Authenticate(newFakeAuth(), ServiceLane{}, nil, logger)(ok))))

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer user-token")
	chain.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, want := range []string{"class=general", "subject=alice", "status=200", "request_id="} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q: %s", want, out)
		}
	}
	if strings.Contains(out, "user-token") {
		t.Errorf("token leaked into log: %s", out)
	}
}
