package session

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExpiredEvent describes one session-expired episode.
type ExpiredEvent struct {
	EpisodeID uuid.UUID
	Reason    string
	At        time.Time
}

// ExpiredHandler is the host's session-expired callback.
type ExpiredHandler func(ctx context.Context, ev ExpiredEvent) error

// Notifier tears the session down when it can no longer be refreshed.
//
// The first NotifyExpired of an episode clears the store, runs the handler
// and then the reset hooks. Further calls are ignored until the cool-down
// after those side effects has passed.
type Notifier struct {
	store    TokenStore
	cooldown time.Duration
	logger   *zap.Logger
	observer Observer

	mu      sync.Mutex
	firing  bool
	closed  bool
	timer   *time.Timer
	handler ExpiredHandler
	resets  []func()
}

// NewNotifier creates a Notifier that clears store.
func NewNotifier(cfg Config, store TokenStore, logger *zap.Logger, observer Observer) *Notifier {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Notifier{
		store:    store,
		cooldown: cfg.ExpiryCooldown,
		logger:   logger,
		observer: observer,
	}
}

// SetHandler registers the session-expired handler, replacing any previous one.
func (n *Notifier) SetHandler(h ExpiredHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handler = h
}

// OnReset registers a hook that returns the host to its unauthenticated
// entry point. Hooks run after the handler, in registration order.
func (n *Notifier) OnReset(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resets = append(n.resets, fn)
}

// NotifyExpired runs the logout side effects once per episode. It reports
// whether this call fired them.
func (n *Notifier) NotifyExpired(ctx context.Context, reason string) bool {
	n.mu.Lock()
	if n.firing || n.closed {
		n.mu.Unlock()
		return false
	}
	n.firing = true
	handler := n.handler
	resets := slices.Clone(n.resets)
	n.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	ev := ExpiredEvent{
		EpisodeID: uuid.New(),
		Reason:    reason,
		At:        time.Now(),
	}

	n.logger.Warn("session expired",
		zap.Stringer("episode", ev.EpisodeID),
		zap.String("reason", reason),
	)

	n.store.Clear(ctx)
	n.observer.SessionExpired(reason)

	if handler != nil {
		if err := handler(ctx, ev); err != nil {
			n.logger.Error("session expired handler failed",
				zap.Stringer("episode", ev.EpisodeID),
				zap.Error(err),
			)
		}
	}
	for _, reset := range resets {
		reset()
	}

	n.mu.Lock()
	if !n.closed {
		n.timer = time.AfterFunc(n.cooldown, n.rearm)
	}
	n.mu.Unlock()

	return true
}

func (n *Notifier) rearm() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.firing = false
	n.timer = nil
}

// Armed reports whether the next NotifyExpired would fire.
func (n *Notifier) Armed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return !n.firing && !n.closed
}

// Close stops the re-arm timer; later notifications are ignored.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}
