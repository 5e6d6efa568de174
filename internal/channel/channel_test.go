package channel

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"widgetbridge/pkg/interfaces"
)

// fakeTransport records sends and lets the test decide when the
// handshake completes.
type fakeTransport struct {
	mu         sync.Mutex
	receiver   interfaces.Receiver
	sent       []sentCall
	onReady    func()
	disposed   bool
	sendErr    error
	connectErr error
	sendHook   func(service string)
}

type sentCall struct {
	service string
	payload string
}

func (f *fakeTransport) Connect(ctx context.Context, onReady func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.onReady = onReady
	return nil
}

func (f *fakeTransport) Send(service, payload string) error {
	f.mu.Lock()
	if f.sendErr != nil {
		f.mu.Unlock()
		return f.sendErr
	}
	f.sent = append(f.sent, sentCall{service: service, payload: payload})
	hook := f.sendHook
	f.mu.Unlock()
	if hook != nil {
		hook(service)
	}
	return nil
}

func (f *fakeTransport) setSendHook(hook func(service string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendHook = hook
}

func (f *fakeTransport) SetReceiver(r interfaces.Receiver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiver = r
}

func (f *fakeTransport) Dispose() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disposed = true
	return nil
}

func (f *fakeTransport) ready() {
	f.mu.Lock()
	onReady := f.onReady
	f.mu.Unlock()
	if onReady != nil {
		onReady()
	}
}

func (f *fakeTransport) deliver(service, payload string) {
	f.mu.Lock()
	receiver := f.receiver
	f.mu.Unlock()
	receiver(service, payload)
}

func (f *fakeTransport) sentCalls() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCall(nil), f.sent...)
}

func newTestChannel(t *testing.T) (*Channel, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	ch, err := New("test-channel", tr, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return ch, tr
}

func TestNew_RequiresTransport(t *testing.T) {
	if _, err := New("x", nil, zerolog.Nop()); !errors.Is(err, ErrNilTransport) {
		t.Errorf("expected ErrNilTransport, got %v", err)
	}
}

func TestRegisterService_DispatchesExactlyOnce(t *testing.T) {
	ch, tr := newTestChannel(t)
	defer func() { _ = ch.Dispose() }()

	var calls []string
	ch.RegisterService("update_progress", func(payload string) {
		calls = append(calls, payload)
	})

	tr.deliver("update_progress", `{"progress":50,"score":80}`)

	if len(calls) != 1 {
		t.Fatalf("expected 1 handler call, got %d", len(calls))
	}
	if calls[0] != `{"progress":50,"score":80}` {
		t.Errorf("handler received wrong payload: %s", calls[0])
	}
}

func TestRegisterService_ReRegistrationOverwrites(t *testing.T) {
	ch, tr := newTestChannel(t)
	defer func() { _ = ch.Dispose() }()

	var first, second int
	ch.RegisterService("svc", func(string) { first++ })
	ch.RegisterService("svc", func(string) { second++ })

	tr.deliver("svc", "payload")

	if first != 0 || second != 1 {
		t.Errorf("expected overwritten handler only: first=%d second=%d", first, second)
	}
}

func TestDispatch_UnknownServiceIgnored(t *testing.T) {
	ch, tr := newTestChannel(t)
	defer func() { _ = ch.Dispose() }()

	// Must not panic or error.
	tr.deliver("never_registered", "payload")
}

func TestDispatch_HandlerPanicConfined(t *testing.T) {
	ch, tr := newTestChannel(t)
	defer func() { _ = ch.Dispose() }()

	var survived int
	ch.RegisterService("bad", func(string) { panic("boom") })
	ch.RegisterService("good", func(string) { survived++ })

	tr.deliver("bad", "x")
	tr.deliver("good", "y")

	if survived != 1 {
		t.Errorf("dispatch after panic should work, survived=%d", survived)
	}
}

func TestSend_BuffersUntilConnectedAndFlushesInOrder(t *testing.T) {
	ch, tr := newTestChannel(t)
	defer func() { _ = ch.Dispose() }()

	if err := ch.Send("a", "1"); err != nil {
		t.Fatalf("pre-connect send should buffer, got %v", err)
	}

	connected := false
	if err := ch.Connect(context.Background(), func() { connected = true }); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := ch.Send("b", "2"); err != nil {
		t.Fatalf("connecting-state send should buffer, got %v", err)
	}
	if got := tr.sentCalls(); len(got) != 0 {
		t.Fatalf("nothing should hit the transport before ready, got %v", got)
	}

	tr.ready()

	if !connected {
		t.Fatal("onConnected did not fire")
	}
	got := tr.sentCalls()
	if len(got) != 2 || got[0] != (sentCall{"a", "1"}) || got[1] != (sentCall{"b", "2"}) {
		t.Errorf("buffered sends not flushed in order: %v", got)
	}
	if ch.State() != StateConnected {
		t.Errorf("expected Connected, got %v", ch.State())
	}
}

func TestConnect_CallbackFiresExactlyOnce(t *testing.T) {
	ch, tr := newTestChannel(t)
	defer func() { _ = ch.Dispose() }()

	fired := 0
	if err := ch.Connect(context.Background(), func() { fired++ }); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	tr.ready()
	tr.ready()

	if fired != 1 {
		t.Errorf("onConnected fired %d times, want 1", fired)
	}
}

func TestConnect_TransportFailureResetsForRetry(t *testing.T) {
	ch, tr := newTestChannel(t)
	defer func() { _ = ch.Dispose() }()

	tr.mu.Lock()
	tr.connectErr = errors.New("dial refused")
	tr.mu.Unlock()

	if err := ch.Connect(context.Background(), nil); err == nil {
		t.Fatal("expected transport connect failure")
	}
	if ch.State() != StateUnconnected {
		t.Fatalf("failed connect left state %v, want unconnected", ch.State())
	}

	tr.mu.Lock()
	tr.connectErr = nil
	tr.mu.Unlock()

	fired := 0
	if err := ch.Connect(context.Background(), func() { fired++ }); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	tr.ready()

	if fired != 1 {
		t.Errorf("onConnected fired %d times after retry, want 1", fired)
	}
	if ch.State() != StateConnected {
		t.Errorf("retry did not connect: %v", ch.State())
	}
}

func TestSend_RacingConnectCompletionQueuesBehindBacklog(t *testing.T) {
	ch, tr := newTestChannel(t)
	defer func() { _ = ch.Dispose() }()

	_ = ch.Send("a", "1")
	_ = ch.Send("b", "2")
	if err := ch.Connect(context.Background(), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// A send arriving while the backlog flushes must queue behind it,
	// never reach the transport ahead of older buffered frames.
	injected := false
	tr.setSendHook(func(service string) {
		if service == "a" && !injected {
			injected = true
			if err := ch.Send("c", "3"); err != nil {
				t.Errorf("send during flush failed: %v", err)
			}
		}
	})

	tr.ready()

	got := tr.sentCalls()
	want := []sentCall{{"a", "1"}, {"b", "2"}, {"c", "3"}}
	if len(got) != len(want) {
		t.Fatalf("sent %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("flush order bent at %d: %v", i, got)
		}
	}
	if ch.State() != StateConnected {
		t.Errorf("expected Connected after flush, got %v", ch.State())
	}
}

func TestConnect_SecondCallRejected(t *testing.T) {
	ch, _ := newTestChannel(t)
	defer func() { _ = ch.Dispose() }()

	if err := ch.Connect(context.Background(), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := ch.Connect(context.Background(), nil); !errors.Is(err, ErrAlreadyConnecting) {
		t.Errorf("expected ErrAlreadyConnecting, got %v", err)
	}
}

func TestDispose_BeforeConnectIsSafe(t *testing.T) {
	ch, tr := newTestChannel(t)

	if err := ch.Dispose(); err != nil {
		t.Fatalf("Dispose failed: %v", err)
	}
	if !tr.disposed {
		t.Error("transport not disposed")
	}
	if err := ch.Connect(context.Background(), nil); !errors.Is(err, ErrChannelDisposed) {
		t.Errorf("connect after dispose: expected ErrChannelDisposed, got %v", err)
	}
}

func TestDispose_Idempotent(t *testing.T) {
	ch, _ := newTestChannel(t)
	_ = ch.Dispose()
	if err := ch.Dispose(); err != nil {
		t.Errorf("second Dispose failed: %v", err)
	}
}

func TestSend_AfterDisposeGuarded(t *testing.T) {
	ch, _ := newTestChannel(t)
	_ = ch.Dispose()

	if err := ch.Send("svc", "payload"); !errors.Is(err, ErrChannelDisposed) {
		t.Errorf("expected ErrChannelDisposed, got %v", err)
	}
}

func TestDispose_ClearsRegistryAndLateReadyIgnored(t *testing.T) {
	ch, tr := newTestChannel(t)

	var calls int
	ch.RegisterService("svc", func(string) { calls++ })
	if err := ch.Connect(context.Background(), func() { t.Error("onConnected after dispose") }); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	_ = ch.Dispose()

	tr.ready()
	tr.deliver("svc", "payload")

	if calls != 0 {
		t.Errorf("handler ran after dispose: %d", calls)
	}
	if ch.State() != StateDisposed {
		t.Errorf("expected Disposed, got %v", ch.State())
	}
}

func TestDispose_FailsPendingRequests(t *testing.T) {
	ch, _ := newTestChannel(t)

	var gotErr error
	if err := ch.SendRequest("req-1", "fetch", "", func(_ string, err error) { gotErr = err }); err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	_ = ch.Dispose()

	if !errors.Is(gotErr, ErrChannelDisposed) {
		t.Errorf("pending request not failed on dispose: %v", gotErr)
	}
	if ch.Requests().Len() != 0 {
		t.Error("tracker still holds entries after dispose")
	}
}

func TestSendRequest_DuplicateInFlightIDFailsFast(t *testing.T) {
	ch, _ := newTestChannel(t)
	defer func() { _ = ch.Dispose() }()

	if err := ch.SendRequest("x", "fetch", "", func(string, error) {}); err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	err := ch.SendRequest("x", "fetch", "", func(string, error) {})
	if !errors.Is(err, ErrDuplicateRequestID) {
		t.Errorf("expected ErrDuplicateRequestID, got %v", err)
	}
}

func TestSendRequest_SendFailureReleasesID(t *testing.T) {
	ch, tr := newTestChannel(t)

	if err := ch.Connect(context.Background(), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	tr.ready()

	tr.mu.Lock()
	tr.sendErr = errors.New("wire down")
	tr.mu.Unlock()

	var cbErr error
	err := ch.SendRequest("x", "fetch", "", func(_ string, e error) { cbErr = e })
	if err == nil {
		t.Fatal("expected send failure")
	}
	if cbErr == nil {
		t.Error("callback not failed")
	}
	if ch.Requests().Pending("x") {
		t.Error("failed request still pending")
	}
}
