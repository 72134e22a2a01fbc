// Package session implements the authenticated HTTP client of the referral
// marketplace: every call carries the stored access token, and an expired
// token is refreshed once, however many calls are in flight, with each
// affected call retried exactly once.
package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// attempt tags a dispatch of a logical request. The tag, not shared state,
// bounds each logical request to one retry.
type attempt int

const (
	firstAttempt attempt = iota
	retryAttempt
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithObserver receives session lifecycle events.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = c
	}
}

// WithExpiredHandler registers the session-expired handler.
func WithExpiredHandler(h ExpiredHandler) Option {
	return func(m *Manager) {
		m.expiredHandler = h
	}
}

// Manager owns one authenticated session and issues every request for it.
// Create it with New, share it by reference, and dispose of it with Close.
type Manager struct {
	cfg      Config
	store    TokenStore
	exec     *Executor
	refresh  *Refresher
	notifier *Notifier

	logger         *zap.Logger
	observer       Observer
	httpClient     *http.Client
	expiredHandler ExpiredHandler
}

// New creates a Manager backed by store.
func New(cfg Config, store TokenStore, opts ...Option) (*Manager, error) {
	if err := ValidateBaseURL(cfg.BaseURL); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	m := &Manager{
		cfg:      cfg,
		store:    store,
		logger:   zap.NewNop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(m)
	}

	exec, err := NewExecutor(cfg, store, m.httpClient, m.logger)
	if err != nil {
		return nil, err
	}
	m.exec = exec
	m.refresh = NewRefresher(cfg, exec, store, m.logger, m.observer)
	m.notifier = NewNotifier(cfg, store, m.logger, m.observer)
	if m.expiredHandler != nil {
		m.notifier.SetHandler(m.expiredHandler)
	}

	return m, nil
}

// Close disposes of the Manager.
func (m *Manager) Close() {
	m.notifier.Close()
	m.exec.Close()
}

// Refresher exposes the refresh coordinator.
func (m *Manager) Refresher() *Refresher {
	return m.refresh
}

// Notifier exposes the session lifecycle notifier, e.g. to register reset hooks.
func (m *Manager) Notifier() *Notifier {
	return m.notifier
}

// CallOption configures a single Call.
type CallOption func(*Request)

// WithMethod sets the HTTP method. The default is GET.
func WithMethod(method string) CallOption {
	return func(r *Request) { r.Method = method }
}

// WithJSONBody sends v JSON-encoded.
func WithJSONBody(v any) CallOption {
	return func(r *Request) { r.Body = v }
}

// WithHeader adds a request header.
func WithHeader(key, value string) CallOption {
	return func(r *Request) {
		if r.Header == nil {
			r.Header = make(http.Header)
		}
		r.Header.Add(key, value)
	}
}

// WithTimeout overrides the configured timeout for this call.
func WithTimeout(d time.Duration) CallOption {
	return func(r *Request) { r.Timeout = d }
}

// Call sends a request to endpoint. An auth failure on the first dispatch
// triggers a (shared) refresh and one retry with the new token; the retry's
// outcome is final. If no token can be obtained the session-expired episode
// fires and the call fails with ErrSessionExpired wrapping the auth error.
// Timeouts, network failures and other HTTP errors are returned unchanged.
func (m *Manager) Call(ctx context.Context, endpoint string, opts ...CallOption) (*Response, error) {
	req := Request{Method: http.MethodGet, Endpoint: endpoint}
	for _, opt := range opts {
		opt(&req)
	}
	return m.dispatch(ctx, req, firstAttempt, "")
}

func (m *Manager) dispatch(ctx context.Context, req Request, at attempt, bearer string) (*Response, error) {
	sent := bearer
	if sent == "" {
		sent = m.store.Get(ctx, KeyAccessToken)
	}

	resp, err := m.exec.execute(ctx, req, sent)
	if err == nil || at == retryAttempt || KindOf(err) != KindAuth {
		return resp, err
	}

	m.observer.AccessTokenRejected(req.Endpoint)

	token, waitErr := m.refresh.ensure(ctx, sent)
	if waitErr != nil {
		return nil, waitErr
	}
	if token == "" {
		m.notifier.NotifyExpired(ctx, err.Error())
		var authErr *Error
		errors.As(err, &authErr)
		return nil, &Error{
			Kind:     KindSessionExpired,
			Method:   authErr.Method,
			Endpoint: authErr.Endpoint,
			Status:   authErr.Status,
			Body:     authErr.Body,
			Message:  authErr.Message,
			Err:      authErr,
		}
	}

	m.observer.Retrying(req.Endpoint)
	return m.dispatch(ctx, req, retryAttempt, token)
}

// Decode calls endpoint and unmarshals the JSON response into a T.
func Decode[T any](ctx context.Context, m *Manager, endpoint string, opts ...CallOption) (T, error) {
	var out T
	resp, err := m.Call(ctx, endpoint, opts...)
	if err != nil {
		return out, err
	}
	if err := resp.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

// SetTokens stores a newly issued session, e.g. after login.
func (m *Manager) SetTokens(ctx context.Context, tokens Tokens) error {
	return m.store.Set(ctx, tokens)
}

// Tokens returns the stored session.
func (m *Manager) Tokens(ctx context.Context) Tokens {
	return m.store.Load(ctx)
}

// Logout clears the session without starting a session-expired episode.
func (m *Manager) Logout(ctx context.Context) {
	m.store.Clear(ctx)
}

// UserID returns the subject of the stored access token. The token is not
// verified; see UnverifiedSubject.
func (m *Manager) UserID(ctx context.Context) (string, error) {
	return UnverifiedSubject(m.store.Get(ctx, KeyAccessToken))
}

// TokenSource adapts the session to oauth2, so other clients can share it.
// Token returns the stored access token, refreshing first when none is stored
// but a refresh token is.
func (m *Manager) TokenSource() oauth2.TokenSource {
	return &tokenSource{m: m}
}

type tokenSource struct {
	m *Manager
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	ctx := context.Background()
	tokens := s.m.store.Load(ctx)
	if tokens.AccessToken == "" {
		access, err := s.m.refresh.Refresh(ctx)
		if err != nil {
			return nil, err
		}
		tokens = s.m.store.Load(ctx)
		tokens.AccessToken = access
	}
	return &oauth2.Token{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    "Bearer",
	}, nil
}
