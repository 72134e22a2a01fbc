package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestExecutor_Headers(t *testing.T) {
	tests := []struct {
		name     string
		tokens   Tokens
		skipAuth bool
		wantAuth string
	}{
		{
			name:     "access token attached",
			tokens:   Tokens{AccessToken: "access-123", RefreshToken: "refresh-123"},
			wantAuth: "Bearer access-123",
		},
		{
			name:     "no token stored",
			tokens:   Tokens{},
			wantAuth: "",
		},
		{
			name:     "skip auth",
			tokens:   Tokens{AccessToken: "access-123", RefreshToken: "refresh-123"},
			skipAuth: true,
			wantAuth: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := make(chan http.Header, 1)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				headers <- r.Header.Clone()
				writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			}))
			defer server.Close()

			exec := newTestExecutor(t, server.URL, NewMemoryStore(tt.tokens))
			_, err := exec.Execute(context.Background(), Request{
				Endpoint: "/jobs",
				SkipAuth: tt.skipAuth,
				Header:   http.Header{"X-Trace": []string{"abc"}},
			})
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			got := <-headers

			if auth := got.Get("Authorization"); auth != tt.wantAuth {
				t.Errorf("Authorization = %q, want %q", auth, tt.wantAuth)
			}
			if ct := got.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			if v := got.Get(HeaderClientVersion); v != "1.4.0" {
				t.Errorf("%s = %q, want 1.4.0", HeaderClientVersion, v)
			}
			if v := got.Get(HeaderEnvironment); v != "test" {
				t.Errorf("%s = %q, want test", HeaderEnvironment, v)
			}
			if _, err := uuid.Parse(got.Get(HeaderRequestID)); err != nil {
				t.Errorf("%s = %q, not a UUID", HeaderRequestID, got.Get(HeaderRequestID))
			}
			if v := got.Get("X-Trace"); v != "abc" {
				t.Errorf("X-Trace = %q, want abc", v)
			}
		})
	}
}

func TestExecutor_JSONBody(t *testing.T) {
	type seen struct {
		method string
		body   map[string]any
	}
	requests := make(chan seen, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		requests <- seen{method: r.Method, body: body}
		writeJSON(w, http.StatusCreated, map[string]any{"id": "ref-1"})
	}))
	defer server.Close()

	exec := newTestExecutor(t, server.URL, NewMemoryStore(Tokens{}))
	resp, err := exec.Execute(context.Background(), Request{
		Method:   http.MethodPost,
		Endpoint: "/referrals",
		Body:     map[string]string{"jobId": "job-7"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	got := <-requests
	if got.method != http.MethodPost {
		t.Errorf("method = %s, want POST", got.method)
	}
	if got.body["jobId"] != "job-7" {
		t.Errorf("body jobId = %v, want job-7", got.body["jobId"])
	}
	if resp.Status != http.StatusCreated {
		t.Errorf("Status = %d, want %d", resp.Status, http.StatusCreated)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := resp.Decode(&out); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if out.ID != "ref-1" {
		t.Errorf("ID = %q, want ref-1", out.ID)
	}
}

func TestExecutor_Classification(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		wantKind    Kind
		wantMessage string
	}{
		{
			name:        "401 is auth",
			status:      http.StatusUnauthorized,
			contentType: "application/json",
			body:        `{"message":"Unauthorized"}`,
			wantKind:    KindAuth,
			wantMessage: "Unauthorized",
		},
		{
			name:        "403 with token expired message is auth",
			status:      http.StatusForbidden,
			contentType: "application/json; charset=utf-8",
			body:        `{"success":false,"message":"Token expired"}`,
			wantKind:    KindAuth,
			wantMessage: "Token expired",
		},
		{
			name:        "403 with expired code is auth",
			status:      http.StatusForbidden,
			contentType: "application/json",
			body:        `{"error":{"code":"TOKEN_EXPIRED","message":"please sign in"}}`,
			wantKind:    KindAuth,
			wantMessage: "please sign in",
		},
		{
			name:        "403 forbidden is http error",
			status:      http.StatusForbidden,
			contentType: "application/json",
			body:        `{"message":"not your referral"}`,
			wantKind:    KindHTTP,
			wantMessage: "not your referral",
		},
		{
			name:        "500 plain text is http error",
			status:      http.StatusInternalServerError,
			contentType: "text/plain",
			body:        "upstream exploded\n",
			wantKind:    KindHTTP,
			wantMessage: "upstream exploded",
		},
		{
			name:        "invalid json falls back to text",
			status:      http.StatusBadGateway,
			contentType: "application/json",
			body:        "<html>bad gateway</html>",
			wantKind:    KindHTTP,
			wantMessage: "<html>bad gateway</html>",
		},
		{
			name:        "429 is http error",
			status:      http.StatusTooManyRequests,
			contentType: "application/json",
			body:        `{"message":"slow down"}`,
			wantKind:    KindHTTP,
			wantMessage: "slow down",
		},
		{
			name:        "503 with token expired message is auth",
			status:      http.StatusServiceUnavailable,
			contentType: "application/json",
			body:        `{"message":"jwt expired"}`,
			wantKind:    KindAuth,
			wantMessage: "jwt expired",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			exec := newTestExecutor(t, server.URL, NewMemoryStore(Tokens{}))
			_, err := exec.Execute(context.Background(), Request{Endpoint: "/wallet"})

			var outErr *Error
			if !errors.As(err, &outErr) {
				t.Fatalf("Execute() error = %v, want *Error", err)
			}
			if outErr.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", outErr.Kind, tt.wantKind)
			}
			if outErr.Status != tt.status {
				t.Errorf("Status = %d, want %d", outErr.Status, tt.status)
			}
			if outErr.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", outErr.Message, tt.wantMessage)
			}
			if !errors.Is(err, tt.wantKind.sentinel()) {
				t.Errorf("errors.Is(err, %v) = false", tt.wantKind.sentinel())
			}
		})
	}
}

func TestExecutor_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	exec := newTestExecutor(t, server.URL, NewMemoryStore(Tokens{}))

	start := time.Now()
	_, err := exec.Execute(context.Background(), Request{
		Endpoint: "/jobs/search",
		Timeout:  100 * time.Millisecond,
	})
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Execute() error = %v, want %v", err, ErrTimeout)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Execute() returned after %v, want about 100ms", elapsed)
	}
}

func TestExecutor_CallerCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	exec := newTestExecutor(t, server.URL, NewMemoryStore(Tokens{}))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := exec.Execute(ctx, Request{Endpoint: "/jobs"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want %v", err, context.Canceled)
	}
	if KindOf(err) != 0 {
		t.Errorf("KindOf() = %v, want none for caller cancellation", KindOf(err))
	}
}

func TestExecutor_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	exec := newTestExecutor(t, baseURL, NewMemoryStore(Tokens{}))
	_, err := exec.Execute(context.Background(), Request{Endpoint: "/jobs"})

	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("Execute() error = %v, want %v", err, ErrNetwork)
	}
	if errors.Is(err, ErrTimeout) {
		t.Errorf("network failure also matched ErrTimeout")
	}
}

func TestExecutor_DoesNotMutateSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Token expired"})
	}))
	defer server.Close()

	want := Tokens{AccessToken: "access", RefreshToken: "refresh"}
	store := NewMemoryStore(want)
	exec := newTestExecutor(t, server.URL, store)

	if _, err := exec.Execute(context.Background(), Request{Endpoint: "/profile"}); !errors.Is(err, ErrAuth) {
		t.Fatalf("Execute() error = %v, want %v", err, ErrAuth)
	}
	if got := store.Load(context.Background()); got != want {
		t.Errorf("session = %+v, want unchanged %+v", got, want)
	}
}

func TestExecutor_TransportRetriesExhausted(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "database unavailable"})
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.TransportRetries = 2
	cfg.TransportRetryDelay = 10 * time.Millisecond
	exec, err := NewExecutor(cfg, NewMemoryStore(Tokens{}), nil, nil)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	defer exec.Close()

	_, err = exec.Execute(context.Background(), Request{Endpoint: "/jobs"})

	if got := attempts.Load(); got != 3 {
		t.Errorf("server saw %d attempts, want 3", got)
	}
	var outErr *Error
	if !errors.As(err, &outErr) {
		t.Fatalf("Execute() error = %v, want *Error", err)
	}
	if outErr.Kind != KindHTTP || outErr.Status != http.StatusInternalServerError {
		t.Errorf("Kind, Status = %v, %d; want %v, 500", outErr.Kind, outErr.Status, KindHTTP)
	}
	if outErr.Message != "database unavailable" {
		t.Errorf("Message = %q, want database unavailable", outErr.Message)
	}
}

func TestExecutor_ErrorResponsesReuseConnection(t *testing.T) {
	var conns atomic.Int32
	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadGateway, map[string]any{"message": "upstream down"})
	}))
	server.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateNew {
			conns.Add(1)
		}
	}
	server.Start()
	defer server.Close()

	exec := newTestExecutor(t, server.URL, NewMemoryStore(Tokens{}))
	for i := 0; i < 3; i++ {
		if _, err := exec.Execute(context.Background(), Request{Endpoint: "/jobs"}); !errors.Is(err, ErrHTTP) {
			t.Fatalf("Execute() error = %v, want %v", err, ErrHTTP)
		}
	}

	if got := conns.Load(); got != 1 {
		t.Errorf("opened %d connections for 3 sequential calls, want 1", got)
	}
}

func TestExecutor_RetryLogsGoToZap(t *testing.T) {
	var stderr bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&stderr)
	defer log.SetOutput(prev)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"message": "maintenance"})
	}))
	defer server.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	exec, err := NewExecutor(testConfig(server.URL), NewMemoryStore(Tokens{}), nil, zap.New(core))
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	defer exec.Close()

	if _, err := exec.Execute(context.Background(), Request{Endpoint: "/jobs"}); !errors.Is(err, ErrHTTP) {
		t.Fatalf("Execute() error = %v, want %v", err, ErrHTTP)
	}

	if stderr.Len() != 0 {
		t.Errorf("retry client wrote to the default logger: %q", stderr.String())
	}
	exhausted := logs.FilterMessage("request failed after all retries").All()
	if len(exhausted) != 1 {
		t.Fatalf("zap saw %d exhausted-retry entries, want 1", len(exhausted))
	}
	if exhausted[0].Level != zapcore.WarnLevel {
		t.Errorf("exhausted-retry level = %v, want warn", exhausted[0].Level)
	}
}
