package hub

import (
	"sync"
	"time"

	"widgetbridge/internal/transport"
)

// Mailbox is a bounded FIFO of frames waiting for one channel side to
// drain them. The polling and relay transports are pull-based, so the
// hub buffers here between the sender's POST and the receiver's next
// GET.
type Mailbox struct {
	mu         sync.Mutex
	frames     []*transport.Frame
	capacity   int
	lastActive time.Time
}

// NewMailbox creates a mailbox holding at most capacity frames.
func NewMailbox(capacity int) *Mailbox {
	return &Mailbox{
		capacity:   capacity,
		lastActive: time.Now(),
	}
}

// Push appends a frame. A full mailbox rejects the frame rather than
// evicting older ones: within one channel delivery order is a contract
// and a silent gap is worse than visible backpressure.
func (m *Mailbox) Push(frame *transport.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActive = time.Now()
	if len(m.frames) >= m.capacity {
		return ErrMailboxFull
	}
	m.frames = append(m.frames, frame)
	return nil
}

// Drain removes and returns all queued frames in arrival order.
func (m *Mailbox) Drain() []*transport.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActive = time.Now()
	frames := m.frames
	m.frames = nil
	return frames
}

// Len returns the number of queued frames.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

// LastActive reports the last push or drain, for idle expiry.
func (m *Mailbox) LastActive() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActive
}
