package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type mockWS struct {
	readCh  chan Frame
	writeCh chan Frame
	closeCh chan struct{}

	mu          sync.Mutex
	closed      bool
	pings       int
	errToReturn error
}

func newMockWS() *mockWS {
	return &mockWS{
		readCh:  make(chan Frame, 10),
		writeCh: make(chan Frame, 10),
		closeCh: make(chan struct{}),
	}
}

func (m *mockWS) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.closeCh)
	return nil
}

func (m *mockWS) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockWS) failWith(err error) {
	m.mu.Lock()
	m.errToReturn = err
	m.mu.Unlock()
	_ = m.Close()
}

func (m *mockWS) err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errToReturn
}

func (m *mockWS) WriteJSON(v any) error {
	if err := m.err(); err != nil {
		return err
	}
	f, ok := v.(Frame)
	if !ok {
		return errors.New("unexpected frame type")
	}
	m.writeCh <- f
	return nil
}

func (m *mockWS) ReadJSON(v any) error {
	if err := m.err(); err != nil {
		return err
	}
	select {
	case f, ok := <-m.readCh:
		if !ok {
			return errors.New("closed")
		}
		if ptr, ok := v.(*Frame); ok {
			*ptr = f
		}
		return nil
	case <-m.closeCh:
		if err := m.err(); err != nil {
			return err
		}
		return errors.New("connection closed")
	}
}

func (m *mockWS) WriteControl(messageType int, data []byte, deadline time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pings++
	return nil
}

func (m *mockWS) SetReadDeadline(t time.Time) error { return nil }

func (m *mockWS) SetPongHandler(h func(appData string) error) {}

func (m *mockWS) pingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pings
}

func mustFrame(t *testing.T, event string, payload any) Frame {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return Frame{Event: event, Data: data}
}

func TestConnection_Lifecycle(t *testing.T) {
	ws := newMockWS()
	received := make(chan Frame, 10)
	conn := newConnection(ws, Config{}.withDefaults(), func(f Frame) error {
		received <- f
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error)
	go func() {
		done <- conn.Handle(ctx)
	}()

	// 1. Server -> client
	ws.readCh <- Frame{Event: EventServerStats, Data: json.RawMessage(`{"rooms":2}`)}
	select {
	case f := <-received:
		if f.Event != EventServerStats {
			t.Errorf("Expected %s, got %s", EventServerStats, f.Event)
		}
	case <-time.After(1 * time.Second):
		t.Error("Frame was not delivered")
	}

	// 2. Client -> server
	out := mustFrame(t, EventJoinConversation, roomPayload{ConversationID: 42, UserID: "u1"})
	if err := conn.emit(ctx, out); err != nil {
		t.Fatalf("emit failed: %v", err)
	}
	select {
	case f := <-ws.writeCh:
		if f.Event != EventJoinConversation {
			t.Errorf("WS received wrong frame: %v", f)
		}
	case <-time.After(1 * time.Second):
		t.Error("WS did not receive frame")
	}

	// 3. Stop
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Handle returned error: %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Error("Handle did not return after cancel")
	}

	if !ws.isClosed() {
		t.Error("WS Close not called")
	}
	if err := conn.emit(context.Background(), out); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected after close, got %v", err)
	}
}

func TestConnection_WSError(t *testing.T) {
	ws := newMockWS()
	conn := newConnection(ws, Config{}.withDefaults(), func(Frame) error { return nil })

	ws.failWith(errors.New("read error"))

	done := make(chan error)
	go func() {
		done <- conn.Handle(context.Background())
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected error from Handle, got nil")
		}
	case <-time.After(1 * time.Second):
		t.Error("Handle did not return on error")
	}
}

func TestConnection_HandlerErrorEndsConnection(t *testing.T) {
	ws := newMockWS()
	stop := errors.New("stop")
	conn := newConnection(ws, Config{}.withDefaults(), func(Frame) error { return stop })

	done := make(chan error)
	go func() {
		done <- conn.Handle(context.Background())
	}()
	ws.readCh <- Frame{Event: EventForceDisconnect}

	select {
	case err := <-done:
		if !errors.Is(err, stop) {
			t.Errorf("Expected handler error, got %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Handle did not return")
	}
	if !ws.isClosed() {
		t.Error("WS Close not called")
	}
}

func TestConnection_Keepalive(t *testing.T) {
	ws := newMockWS()
	cfg := Config{PingPeriod: 5 * time.Millisecond}.withDefaults()
	conn := newConnection(ws, cfg, func(Frame) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- conn.Handle(ctx)
	}()

	deadline := time.Now().Add(time.Second)
	for ws.pingCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if ws.pingCount() < 2 {
		t.Errorf("Expected at least 2 pings, got %d", ws.pingCount())
	}
}
