package session

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Metadata headers sent with every request.
const (
	HeaderClientVersion = "X-Client-Version"
	HeaderEnvironment   = "X-Client-Environment"
	HeaderRequestID     = "X-Request-ID"
)

// expiredSignals are body fragments that mark an auth failure even when the
// server does not answer with 401.
var expiredSignals = []string{
	"token expired",
	"token_expired",
	"jwt expired",
	"expired_token",
	"access token has expired",
}

// Request describes one outbound call.
type Request struct {
	Method   string
	Endpoint string // path relative to the base URL, e.g. "/jobs"
	Header   http.Header
	Body     any           // JSON-encoded when non-nil
	Timeout  time.Duration // zero uses the configured default
	SkipAuth bool          // never attach the Authorization header
}

// Response is a successful (2xx) response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// Executor issues single HTTP requests and classifies their outcome.
// It reads the access token from the store but never mutates session state.
type Executor struct {
	cfg    Config
	store  TokenStore
	client *retry.Client
	http   *http.Client
	logger *zap.Logger
}

// NewExecutor creates an Executor. A nil httpClient gets a TLS 1.2+ client
// with pooled connections.
func NewExecutor(
	cfg Config,
	store TokenStore,
	httpClient *http.Client,
	logger *zap.Logger,
) (*Executor, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	client, err := retry.NewClient(
		retry.WithHTTPClient(httpClient),
		retry.WithMaxRetries(cfg.TransportRetries),
		retry.WithInitialRetryDelay(cfg.TransportRetryDelay),
		retry.WithLogger(retryLogger{logger.Sugar()}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry client: %w", err)
	}

	return &Executor{
		cfg:    cfg,
		store:  store,
		client: client,
		http:   httpClient,
		logger: logger,
	}, nil
}

// Execute issues req with the stored access token.
func (e *Executor) Execute(ctx context.Context, req Request) (*Response, error) {
	return e.execute(ctx, req, "")
}

// execute issues req. A non-empty bearer overrides the stored access token.
func (e *Executor) execute(ctx context.Context, req Request, bearer string) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	fail := func(kind Kind, status int, err error) *Error {
		return &Error{Kind: kind, Method: method, Endpoint: req.Endpoint, Status: status, Err: err}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, method, e.cfg.BaseURL+req.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(HeaderClientVersion, e.cfg.ClientVersion)
	httpReq.Header.Set(HeaderEnvironment, e.cfg.Environment)
	if httpReq.Header.Get(HeaderRequestID) == "" {
		httpReq.Header.Set(HeaderRequestID, uuid.NewString())
	}

	if !req.SkipAuth {
		if bearer == "" {
			bearer = e.store.Get(ctx, KeyAccessToken)
		}
		if bearer != "" {
			(&oauth2.Token{AccessToken: bearer}).SetAuthHeader(httpReq)
		}
	}

	// A retryable status (5xx, 429) comes back as a response together with a
	// *retry.RetryError once retries are spent; the response is classified.
	resp, err := e.client.DoWithContext(reqCtx, httpReq)
	if resp != nil {
		defer resp.Body.Close()
	}
	var retryErr *retry.RetryError
	if resp == nil || (err != nil && !errors.As(err, &retryErr)) {
		if err == nil {
			err = errors.New("no response")
		}
		return nil, e.classifyTransport(ctx, reqCtx, fail, err)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, e.classifyTransport(ctx, reqCtx, fail, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &Response{Status: resp.StatusCode, Header: resp.Header, Body: raw}, nil
	}

	decoded, message := decodeErrorBody(resp.Header.Get("Content-Type"), raw)
	kind := KindHTTP
	if resp.StatusCode == http.StatusUnauthorized || signalsExpiry(message, raw) {
		kind = KindAuth
	}

	outErr := fail(kind, resp.StatusCode, nil)
	outErr.Body = decoded
	outErr.Message = message

	e.logger.Debug("request failed",
		zap.String("method", method),
		zap.String("endpoint", req.Endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Stringer("kind", kind),
	)
	return nil, outErr
}

// classifyTransport maps a transport failure. The caller's own cancellation is
// returned as the bare context error; only the per-request deadline is a
// Timeout.
func (e *Executor) classifyTransport(
	ctx, reqCtx context.Context,
	fail func(Kind, int, error) *Error,
	err error,
) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return fail(KindTimeout, 0, err)
	}
	return fail(KindNetwork, 0, err)
}

// Close releases idle connections.
func (e *Executor) Close() {
	e.http.CloseIdleConnections()
}

// retryLogger routes go-httpretry's logs into zap. Exhausted retries are an
// ordinary classified outcome here, so its error level is lowered to warn.
type retryLogger struct {
	s *zap.SugaredLogger
}

func (l retryLogger) Debug(msg string, args ...any) { l.s.Debugw(msg, args...) }
func (l retryLogger) Info(msg string, args ...any)  { l.s.Infow(msg, args...) }
func (l retryLogger) Warn(msg string, args ...any)  { l.s.Warnw(msg, args...) }
func (l retryLogger) Error(msg string, args ...any) { l.s.Warnw(msg, args...) }

// decodeErrorBody parses JSON bodies and pulls out the server message; other
// bodies are returned as raw text.
func decodeErrorBody(contentType string, raw []byte) (any, string) {
	if !strings.Contains(strings.ToLower(contentType), "json") {
		text := strings.TrimSpace(string(raw))
		return text, text
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		text := strings.TrimSpace(string(raw))
		return text, text
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		return decoded, ""
	}
	for _, field := range []string{"message", "error_description", "error", "code"} {
		switch v := obj[field].(type) {
		case string:
			if v != "" {
				return decoded, v
			}
		case map[string]any:
			if msg, ok := v["message"].(string); ok && msg != "" {
				return decoded, msg
			}
		}
	}
	return decoded, ""
}

func signalsExpiry(message string, raw []byte) bool {
	haystack := strings.ToLower(message + " " + string(raw))
	for _, s := range expiredSignals {
		if strings.Contains(haystack, s) {
			return true
		}
	}
	return false
}
