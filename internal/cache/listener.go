package cache

// Listener is notified after a cache mutation changed the corresponding
// entity list. Callbacks carry no payload; observers re-query the cache.
// Registering a listener from inside a callback is not supported.
type Listener interface {
	OnUserListUpdate()
	OnEventListUpdate()
	OnFilterListUpdate()
	OnInvitationListUpdate()
}

// Callback receives the outcome of a network-backed mutation. Exactly one
// of OnSuccess/OnFailure is invoked per call, after the cache already
// reflects the outcome. A nil Callback is allowed. Completions for work
// that reached the gateway run on the dispatch queue; synchronous argument
// validation failures invoke OnFailure on the calling goroutine before any
// work is scheduled.
type Callback[T any] struct {
	OnSuccess func(T)
	OnFailure func(error)
}

func (cb *Callback[T]) success(result T) {
	if cb != nil && cb.OnSuccess != nil {
		cb.OnSuccess(result)
	}
}

func (cb *Callback[T]) failure(err error) {
	if cb != nil && cb.OnFailure != nil {
		cb.OnFailure(err)
	}
}

// changeSet accumulates which entity kinds a single top-level cache call
// touched, so a batch produces at most one notification per kind.
type changeSet struct {
	users       bool
	events      bool
	filters     bool
	invitations bool
}

func (ch *changeSet) any() bool {
	return ch.users || ch.events || ch.filters || ch.invitations
}
