package tui

import (
	"fmt"
	"io"
	"sync"
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/referhub/session-client/session"
)

// Displayer abstracts all output of the CLI. It is also a session.Observer,
// so the session manager reports refresh and expiry events to it directly.
// Implementations must be safe for concurrent use.
type Displayer interface {
	session.Observer

	Banner(baseURL string)
	TokensFound(source string)
	TokensNotFound(source string)
	TokenSaved(source string)
	TokenSaveFailed(err error)
	Dispatching(count int, method, endpoint string)
	CallOK(id, status int, elapsed time.Duration)
	CallFailed(id int, err error)
	LoggedOut()
	WhoAmI(userID string)
	Done(ok, failed int, elapsed time.Duration)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *PlainDisplayer) Banner(baseURL string) {
	p.printf("=== ReferHub Session Client ===\nAPI: %s\n\n", baseURL)
}

func (p *PlainDisplayer) TokensFound(source string) {
	p.printf("Found stored session (%s)\n", source)
}

func (p *PlainDisplayer) TokensNotFound(source string) {
	p.printf("No stored session (%s), calls go out unauthenticated\n", source)
}

func (p *PlainDisplayer) TokenSaved(source string) {
	p.printf("Tokens saved to %s\n", source)
}

func (p *PlainDisplayer) TokenSaveFailed(err error) {
	p.printf("Warning: Failed to save tokens: %v\n", err)
}

func (p *PlainDisplayer) Dispatching(count int, method, endpoint string) {
	p.printf("\nSending %d x %s %s...\n", count, method, endpoint)
}

func (p *PlainDisplayer) CallOK(id, status int, elapsed time.Duration) {
	p.printf("[%d] %d OK (%s)\n", id, status, elapsed.Round(time.Millisecond))
}

func (p *PlainDisplayer) CallFailed(id int, err error) {
	p.printf("[%d] failed: %v\n", id, err)
}

func (p *PlainDisplayer) AccessTokenRejected(endpoint string) {
	p.printf("Access token rejected on %s\n", endpoint)
}

func (p *PlainDisplayer) Refreshing() {
	p.printf("Refreshing access token...\n")
}

func (p *PlainDisplayer) RefreshOK() {
	p.printf("Token refreshed successfully!\n")
}

func (p *PlainDisplayer) RefreshFailed(err error) {
	p.printf("Refresh failed: %v\n", err)
}

func (p *PlainDisplayer) Retrying(endpoint string) {
	p.printf("Token refreshed, retrying %s...\n", endpoint)
}

func (p *PlainDisplayer) SessionExpired(reason string) {
	p.printf("Session expired: %s\nPlease sign in again.\n", reason)
}

func (p *PlainDisplayer) LoggedOut() {
	p.printf("Session cleared.\n")
}

func (p *PlainDisplayer) WhoAmI(userID string) {
	p.printf("Signed in as: %s (unverified)\n", userID)
}

func (p *PlainDisplayer) Done(ok, failed int, elapsed time.Duration) {
	p.printf("\n========================================\n")
	p.printf("Succeeded: %d\n", ok)
	p.printf("Failed:    %d\n", failed)
	p.printf("Elapsed:   %s\n", elapsed.Round(time.Millisecond))
	p.printf("========================================\n")
}

func (p *PlainDisplayer) Fatal(err error) {
	p.printf("Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner(_ string)                  {}
func (NoopDisplayer) TokensFound(_ string)             {}
func (NoopDisplayer) TokensNotFound(_ string)          {}
func (NoopDisplayer) TokenSaved(_ string)              {}
func (NoopDisplayer) TokenSaveFailed(_ error)          {}
func (NoopDisplayer) Dispatching(_ int, _, _ string)   {}
func (NoopDisplayer) CallOK(_, _ int, _ time.Duration) {}
func (NoopDisplayer) CallFailed(_ int, _ error)        {}
func (NoopDisplayer) AccessTokenRejected(_ string)     {}
func (NoopDisplayer) Refreshing()                      {}
func (NoopDisplayer) RefreshOK()                       {}
func (NoopDisplayer) RefreshFailed(_ error)            {}
func (NoopDisplayer) Retrying(_ string)                {}
func (NoopDisplayer) SessionExpired(_ string)          {}
func (NoopDisplayer) LoggedOut()                       {}
func (NoopDisplayer) WhoAmI(_ string)                  {}
func (NoopDisplayer) Done(_, _ int, _ time.Duration)   {}
func (NoopDisplayer) Fatal(_ error)                    {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner(baseURL string) {
	t.p.Send(MsgBanner{BaseURL: baseURL})
}

func (t *ProgramDisplayer) TokensFound(source string) {
	t.p.Send(MsgTokensFound{Source: source})
}

func (t *ProgramDisplayer) TokensNotFound(source string) {
	t.p.Send(MsgTokensNotFound{Source: source})
}

func (t *ProgramDisplayer) TokenSaved(source string) {
	t.p.Send(MsgTokenSaved{Source: source})
}

func (t *ProgramDisplayer) TokenSaveFailed(err error) {
	t.p.Send(MsgTokenSaveFailed{Err: err})
}

func (t *ProgramDisplayer) Dispatching(count int, method, endpoint string) {
	t.p.Send(MsgDispatching{Count: count, Method: method, Endpoint: endpoint})
}

func (t *ProgramDisplayer) CallOK(id, status int, elapsed time.Duration) {
	t.p.Send(MsgCallOK{ID: id, Status: status, Elapsed: elapsed})
}

func (t *ProgramDisplayer) CallFailed(id int, err error) {
	t.p.Send(MsgCallFailed{ID: id, Err: err})
}

func (t *ProgramDisplayer) AccessTokenRejected(endpoint string) {
	t.p.Send(MsgAccessTokenRejected{Endpoint: endpoint})
}

func (t *ProgramDisplayer) Refreshing() {
	t.p.Send(MsgRefreshing{})
}

func (t *ProgramDisplayer) RefreshOK() {
	t.p.Send(MsgRefreshOK{})
}

func (t *ProgramDisplayer) RefreshFailed(err error) {
	t.p.Send(MsgRefreshFailed{Err: err})
}

func (t *ProgramDisplayer) Retrying(endpoint string) {
	t.p.Send(MsgRetrying{Endpoint: endpoint})
}

func (t *ProgramDisplayer) SessionExpired(reason string) {
	t.p.Send(MsgSessionExpired{Reason: reason})
}

func (t *ProgramDisplayer) LoggedOut() {
	t.p.Send(MsgLoggedOut{})
}

func (t *ProgramDisplayer) WhoAmI(userID string) {
	t.p.Send(MsgWhoAmI{UserID: userID})
}

func (t *ProgramDisplayer) Done(ok, failed int, elapsed time.Duration) {
	t.p.Send(MsgDone{OK: ok, Failed: failed, Elapsed: elapsed})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
