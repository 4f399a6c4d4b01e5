package bedge

import "time"

// Observer receives measurements from the dispatch and connection layers. Implementations must be
// safe for concurrent use and must not block.
type Observer interface {
	ObserveDispatch(outcome Outcome)
	ObserveResponse(status int, bodyBytes int64, elapsed time.Duration)
	ObserveConn(delta int)
}

type nopObserver struct{}

func (nopObserver) ObserveDispatch(Outcome)                   {}
func (nopObserver) ObserveResponse(int, int64, time.Duration) {}
func (nopObserver) ObserveConn(int)                           {}

// NopObserver returns an Observer that discards everything.
func NopObserver() Observer { return nopObserver{} }
