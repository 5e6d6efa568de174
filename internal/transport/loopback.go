package transport

import (
	"context"
	"sync"

	"widgetbridge/pkg/interfaces"
)

// Loopback is an in-memory transport pair for channels whose two ends
// live in the same process: tests, and host pages that render their
// own first-party widgets without frame isolation. Both ends report
// ready once both have connected; Send delivers synchronously to the
// peer's receiver.
type Loopback struct {
	shared *sync.Mutex
	peer   *Loopback

	receiver  interfaces.Receiver
	connected bool
	ready     bool
	disposed  bool
	onReady   func()
}

// NewLoopbackPair creates two linked loopback ends. By convention the
// first is the host (outer) end and the second the widget (inner) end,
// but the ends are symmetric.
func NewLoopbackPair() (*Loopback, *Loopback) {
	mu := &sync.Mutex{}
	a := &Loopback{shared: mu}
	b := &Loopback{shared: mu}
	a.peer = b
	b.peer = a
	return a, b
}

// SetReceiver installs the inbound dispatch callback.
func (l *Loopback) SetReceiver(r interfaces.Receiver) {
	l.shared.Lock()
	defer l.shared.Unlock()
	l.receiver = r
}

// Connect marks this end connected. Both onReady callbacks fire, each
// exactly once, as soon as the second end connects.
func (l *Loopback) Connect(ctx context.Context, onReady func()) error {
	l.shared.Lock()
	if l.disposed {
		l.shared.Unlock()
		return ErrTransportDisposed
	}
	if l.receiver == nil {
		l.shared.Unlock()
		return ErrNoReceiver
	}
	l.connected = true
	l.onReady = onReady

	var fire []func()
	if l.connected && l.peer.connected {
		if !l.ready {
			l.ready = true
			if l.onReady != nil {
				fire = append(fire, l.onReady)
			}
		}
		if !l.peer.ready {
			l.peer.ready = true
			if l.peer.onReady != nil {
				fire = append(fire, l.peer.onReady)
			}
		}
	}
	l.shared.Unlock()

	for _, f := range fire {
		f()
	}
	return nil
}

// Send delivers the invocation to the peer synchronously.
func (l *Loopback) Send(service, payload string) error {
	l.shared.Lock()
	if l.disposed {
		l.shared.Unlock()
		return ErrTransportDisposed
	}
	if !l.ready {
		l.shared.Unlock()
		return ErrTransportNotReady
	}
	if l.peer.disposed {
		l.shared.Unlock()
		return ErrPeerUnreachable
	}
	receiver := l.peer.receiver
	l.shared.Unlock()

	if receiver != nil {
		receiver(service, payload)
	}
	return nil
}

// Dispose detaches this end. The peer's sends fail afterwards.
func (l *Loopback) Dispose() error {
	l.shared.Lock()
	defer l.shared.Unlock()
	l.disposed = true
	l.onReady = nil
	return nil
}
