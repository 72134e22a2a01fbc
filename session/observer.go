package session

// Observer receives session lifecycle events, e.g. to drive a progress view.
// Calls are made from whichever goroutine hit the event and must not block.
type Observer interface {
	AccessTokenRejected(endpoint string)
	Refreshing()
	RefreshOK()
	RefreshFailed(err error)
	Retrying(endpoint string)
	SessionExpired(reason string)
}

type nopObserver struct{}

func (nopObserver) AccessTokenRejected(string) {}
func (nopObserver) Refreshing()                {}
func (nopObserver) RefreshOK()                 {}
func (nopObserver) RefreshFailed(error)        {}
func (nopObserver) Retrying(string)            {}
func (nopObserver) SessionExpired(string)      {}
