package tui

import (
	"time"
)

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{ BaseURL string }

// MsgTokensFound signals that a stored session was found.
type MsgTokensFound struct{ Source string }

// MsgTokensNotFound signals that the store holds no session.
type MsgTokensNotFound struct{ Source string }

// MsgTokenSaved signals that seeded tokens were stored.
type MsgTokenSaved struct{ Source string }

// MsgTokenSaveFailed signals that storing tokens failed.
type MsgTokenSaveFailed struct{ Err error }

// MsgDispatching signals that a batch of calls is starting.
type MsgDispatching struct {
	Count    int
	Method   string
	Endpoint string
}

// MsgCallOK signals that one call of the batch succeeded.
type MsgCallOK struct {
	ID      int
	Status  int
	Elapsed time.Duration
}

// MsgCallFailed signals that one call of the batch failed.
type MsgCallFailed struct {
	ID  int
	Err error
}

// MsgAccessTokenRejected signals that the server rejected the access token.
type MsgAccessTokenRejected struct{ Endpoint string }

// MsgRefreshing signals that a token refresh is in progress.
type MsgRefreshing struct{}

// MsgRefreshOK signals that the token was refreshed successfully.
type MsgRefreshOK struct{}

// MsgRefreshFailed signals that token refresh failed.
type MsgRefreshFailed struct{ Err error }

// MsgRetrying signals that a rejected call is being retried with the new token.
type MsgRetrying struct{ Endpoint string }

// MsgSessionExpired signals that the session was torn down.
type MsgSessionExpired struct{ Reason string }

// MsgLoggedOut signals that the session was cleared on request.
type MsgLoggedOut struct{}

// MsgWhoAmI carries the user identifier decoded from the access token.
type MsgWhoAmI struct{ UserID string }

// MsgDone signals that the batch finished.
type MsgDone struct {
	OK      int
	Failed  int
	Elapsed time.Duration
}

// MsgFatal signals a fatal error that should terminate the run.
type MsgFatal struct{ Err error }
