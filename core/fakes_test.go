package core

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/lisuiheng/duplexvoice/audio"
	"github.com/lisuiheng/duplexvoice/pkg/interfaces"
)

var (
	_ interfaces.TransportProtocol = (*fakeTransport)(nil)
	_ audio.Recorder               = (*fakeRecorder)(nil)
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return pb.GetCounter().GetValue()
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// fakeTransport 内存中的传输通道，测试直接调用回调模拟服务端
type fakeTransport struct {
	mu         sync.Mutex
	state      interfaces.ConnectionState
	onFrame    func([]byte)
	onControl  func(interfaces.Control)
	onState    func(interfaces.ConnectionState)
	sent       [][]byte
	sendErr    error
	connectErr error
	sessionID  string

	done      chan struct{}
	closeOnce sync.Once
}

func newFakeTransport(sessionID string) *fakeTransport {
	return &fakeTransport{sessionID: sessionID, done: make(chan struct{})}
}

func (f *fakeTransport) setState(s interfaces.ConnectionState) {
	f.mu.Lock()
	f.state = s
	h := f.onState
	f.mu.Unlock()
	if h != nil {
		h(s)
	}
}

func (f *fakeTransport) Connect(_ context.Context) error {
	f.setState(interfaces.StateConnecting)
	if f.connectErr != nil {
		f.Close()
		return f.connectErr
	}
	f.setState(interfaces.StateOpen)
	return nil
}

func (f *fakeTransport) OnFrame(h func([]byte)) {
	f.mu.Lock()
	f.onFrame = h
	f.mu.Unlock()
}

func (f *fakeTransport) OnControl(h func(interfaces.Control)) {
	f.mu.Lock()
	f.onControl = h
	f.mu.Unlock()
}

func (f *fakeTransport) OnStateChange(h func(interfaces.ConnectionState)) {
	f.mu.Lock()
	f.onState = h
	f.mu.Unlock()
}

func (f *fakeTransport) State() interfaces.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) Done() <-chan struct{} { return f.done }

func (f *fakeTransport) Send(data []byte, _ interfaces.MessageType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != interfaces.StateOpen {
		return interfaces.ErrNotConnected
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() {
		f.setState(interfaces.StateClosed)
		close(f.done)
	})
	return nil
}

func (f *fakeTransport) ProtocolType() string { return "fake" }

// deliverFrame 模拟服务端下发一个音频帧
func (f *fakeTransport) deliverFrame(data []byte) {
	f.mu.Lock()
	h := f.onFrame
	f.mu.Unlock()
	h(data)
}

func (f *fakeTransport) deliverControl(msg interfaces.Control) {
	f.mu.Lock()
	h := f.onControl
	f.mu.Unlock()
	h(msg)
}

// fakeRecorder 由测试手动产生采集块
type fakeRecorder struct {
	mu       sync.Mutex
	handler  audio.BlockHandler
	startErr error
	lost     chan struct{}
	starts   int
	stops    int
}

func (r *fakeRecorder) Start(h audio.BlockHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.handler = h
	r.lost = make(chan struct{})
	r.starts++
	return nil
}

func (r *fakeRecorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = nil
	r.stops++
	return nil
}

func (r *fakeRecorder) Lost() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lost
}

func (r *fakeRecorder) emit(block []float32) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h != nil {
		h(block)
	}
}

func (r *fakeRecorder) loseDevice() {
	r.mu.Lock()
	defer r.mu.Unlock()
	close(r.lost)
}

func (r *fakeRecorder) Stops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}
