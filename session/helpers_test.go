package session

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:       baseURL,
		ClientVersion: "1.4.0",
		Environment:   "test",
	}
}

func newTestExecutor(t *testing.T, baseURL string, store TokenStore) *Executor {
	t.Helper()
	exec, err := NewExecutor(testConfig(baseURL), store, nil, nil)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	t.Cleanup(exec.Close)
	return exec
}

func newTestManager(t *testing.T, baseURL string, store TokenStore, opts ...Option) *Manager {
	t.Helper()
	m, err := New(testConfig(baseURL), store, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// refreshSuccess is the refresh endpoint's success body. An empty
// refreshToken is omitted, as servers without rotation do.
func refreshSuccess(accessToken, refreshToken string) map[string]any {
	data := map[string]any{"accessToken": accessToken}
	if refreshToken != "" {
		data["refreshToken"] = refreshToken
	}
	return map[string]any{"success": true, "data": data}
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}
