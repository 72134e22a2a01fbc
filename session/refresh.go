package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrRefreshFailed is returned by Refresh when no new access token could be
// obtained.
var ErrRefreshFailed = errors.New("token refresh failed")

var (
	errNoRefreshToken     = errors.New("no refresh token stored")
	errMalformedRefreshed = errors.New("malformed refresh response")
)

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	Success bool `json:"success"`
	Data    struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	} `json:"data"`
}

// Refresher runs at most one refresh-token exchange at a time. Callers that
// need a fresh token while an exchange is outstanding wait for its result
// instead of starting another.
type Refresher struct {
	exec     *Executor
	store    TokenStore
	endpoint string
	timeout  time.Duration
	logger   *zap.Logger
	observer Observer

	mu         sync.Mutex
	inProgress bool
	waiters    []chan string
}

// NewRefresher creates a Refresher that exchanges tokens at cfg.RefreshEndpoint.
func NewRefresher(
	cfg Config,
	exec *Executor,
	store TokenStore,
	logger *zap.Logger,
	observer Observer,
) *Refresher {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Refresher{
		exec:     exec,
		store:    store,
		endpoint: cfg.RefreshEndpoint,
		timeout:  cfg.RefreshTimeout,
		logger:   logger,
		observer: observer,
	}
}

// EnsureFreshToken returns a new access token, or "" when refresh is
// impossible or failed. The error is non-nil only when ctx ends while waiting;
// the shared exchange keeps running for the other waiters.
func (r *Refresher) EnsureFreshToken(ctx context.Context) (string, error) {
	return r.ensure(ctx, "")
}

// Refresh forces a refresh cycle, joining one already in flight.
func (r *Refresher) Refresh(ctx context.Context) (string, error) {
	token, err := r.ensure(ctx, "")
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrRefreshFailed
	}
	return token, nil
}

// InProgress reports whether an exchange is outstanding.
func (r *Refresher) InProgress() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inProgress
}

// ensure is EnsureFreshToken for a caller whose request was sent with the
// access token rejected. If the stored token already differs, an exchange
// settled after that request went out and its token is returned without a
// new exchange.
func (r *Refresher) ensure(ctx context.Context, rejected string) (string, error) {
	if r.store.Get(ctx, KeyRefreshToken) == "" {
		return "", nil
	}

	ch := make(chan string, 1)

	r.mu.Lock()
	if !r.inProgress && rejected != "" {
		if current := r.store.Get(ctx, KeyAccessToken); current != "" && current != rejected {
			r.mu.Unlock()
			return current, nil
		}
	}
	r.waiters = append(r.waiters, ch)
	if !r.inProgress {
		// Set before any goroutine starts, under the same lock as the check
		r.inProgress = true
		go r.run(context.WithoutCancel(ctx))
	}
	r.mu.Unlock()

	select {
	case token := <-ch:
		return token, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Refresher) run(ctx context.Context) {
	r.observer.Refreshing()

	token, err := r.exchange(ctx)
	if err != nil {
		r.logger.Warn("token refresh failed", zap.Error(err))
		r.observer.RefreshFailed(err)
	} else {
		r.logger.Info("token refreshed")
		r.observer.RefreshOK()
	}

	r.settle(token)
}

// settle detaches the waiters and clears inProgress before signalling, so a
// waiter that asks again starts a new cycle. Waiters are released in
// registration order.
func (r *Refresher) settle(token string) {
	r.mu.Lock()
	waiters := r.waiters
	r.waiters = nil
	r.inProgress = false
	r.mu.Unlock()

	for _, ch := range waiters {
		ch <- token
	}
}

// exchange calls the refresh endpoint and persists the result before
// returning it.
func (r *Refresher) exchange(ctx context.Context) (string, error) {
	refreshToken := r.store.Get(ctx, KeyRefreshToken)
	if refreshToken == "" {
		return "", errNoRefreshToken
	}

	resp, err := r.exec.Execute(ctx, Request{
		Method:   http.MethodPost,
		Endpoint: r.endpoint,
		Body:     refreshRequest{RefreshToken: refreshToken},
		Timeout:  r.timeout,
		SkipAuth: true,
	})
	if err != nil {
		return "", fmt.Errorf("refresh request failed: %w", err)
	}

	var body refreshResponse
	if err := resp.Decode(&body); err != nil {
		return "", fmt.Errorf("%w: %v", errMalformedRefreshed, err)
	}
	if !body.Success || body.Data.AccessToken == "" {
		return "", errMalformedRefreshed
	}

	// Servers that do not rotate refresh tokens omit it; keep the old one
	newRefreshToken := body.Data.RefreshToken
	if newRefreshToken == "" {
		newRefreshToken = refreshToken
	}

	if err := r.store.Set(ctx, Tokens{
		AccessToken:  body.Data.AccessToken,
		RefreshToken: newRefreshToken,
	}); err != nil {
		return "", fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	return body.Data.AccessToken, nil
}
