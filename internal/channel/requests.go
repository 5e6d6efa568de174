package channel

import (
	"sync"

	"github.com/google/uuid"
)

// ResponseCallback receives the outcome of one correlated request:
// either the response payload or the error that ended it. Exactly one
// of the two is meaningful; the callback fires at most once.
type ResponseCallback func(payload string, err error)

// RequestTracker correlates asynchronous requests to their response
// callbacks by ID. IDs are caller supplied or generated with NextID.
// An entry is removed when its request resolves or fails; a duplicate
// ID for a concurrently in-flight request is a contract violation and
// is rejected rather than overwritten.
type RequestTracker struct {
	mu      sync.Mutex
	pending map[string]ResponseCallback
}

// NewRequestTracker creates an empty tracker.
func NewRequestTracker() *RequestTracker {
	return &RequestTracker{pending: make(map[string]ResponseCallback)}
}

// NextID returns a fresh request ID.
func (t *RequestTracker) NextID() string {
	return uuid.New().String()
}

// Add registers a callback under the given ID. Fails fast with
// ErrDuplicateRequestID if the ID is already in flight so that callers
// cannot lose a callback to a silent overwrite.
func (t *RequestTracker) Add(id string, callback ResponseCallback) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.pending[id]; exists {
		return ErrDuplicateRequestID
	}
	t.pending[id] = callback
	return nil
}

// Resolve completes the request with a response payload. Unknown IDs
// return ErrRequestNotFound; late responses after disposal land here
// and are safely ignored by callers.
func (t *RequestTracker) Resolve(id, payload string) error {
	cb, err := t.take(id)
	if err != nil {
		return err
	}
	cb(payload, nil)
	return nil
}

// Fail completes the request with an error.
func (t *RequestTracker) Fail(id string, failure error) error {
	cb, err := t.take(id)
	if err != nil {
		return err
	}
	cb("", failure)
	return nil
}

// FailAll ends every in-flight request with the given error. Used on
// channel disposal so no callback is left dangling.
func (t *RequestTracker) FailAll(failure error) {
	t.mu.Lock()
	callbacks := t.pending
	t.pending = make(map[string]ResponseCallback)
	t.mu.Unlock()

	for _, cb := range callbacks {
		cb("", failure)
	}
}

// Pending reports whether the ID is currently in flight.
func (t *RequestTracker) Pending(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, exists := t.pending[id]
	return exists
}

// Len returns the number of in-flight requests.
func (t *RequestTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *RequestTracker) take(id string) (ResponseCallback, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cb, exists := t.pending[id]
	if !exists {
		return nil, ErrRequestNotFound
	}
	delete(t.pending, id)
	return cb, nil
}
