package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type wsConnection interface {
	Close() error
	WriteJSON(v any) error
	ReadJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

type outbound struct {
	frame  Frame
	result chan error
}

// connection drives one live socket: a read pump feeding onFrame and a
// write loop that serializes emits and keepalive pings.
type connection struct {
	ws         wsConnection
	onFrame    func(Frame) error
	toServer   chan outbound
	errorCh    chan error
	done       chan struct{}
	pingPeriod time.Duration
	pongWait   time.Duration
	writeWait  time.Duration
}

func newConnection(ws wsConnection, cfg Config, onFrame func(Frame) error) *connection {
	return &connection{
		ws:         ws,
		onFrame:    onFrame,
		toServer:   make(chan outbound),
		errorCh:    make(chan error, 2),
		done:       make(chan struct{}),
		pingPeriod: cfg.PingPeriod,
		pongWait:   cfg.PongWait,
		writeWait:  cfg.WriteWait,
	}
}

// Handle blocks until the socket fails, onFrame returns an error or ctx is
// cancelled. The socket is always closed on return.
func (c *connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.errorCh)
	}()

	if c.pongWait > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
		})
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	close(c.done)
	_ = c.ws.Close()
	wg.Wait()
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *connection) pumpMessages(ctx context.Context) error {
	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := c.onFrame(f); err != nil {
			return err
		}
	}
}

func (c *connection) mainLoop(ctx context.Context) error {
	var ping <-chan time.Time
	if c.pingPeriod > 0 {
		ticker := time.NewTicker(c.pingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case out := <-c.toServer:
			err := c.ws.WriteJSON(out.frame)
			out.result <- err
			if err != nil {
				return err
			}
		case <-ping:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait)); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// emit hands a frame to the write loop and waits for the write result.
func (c *connection) emit(ctx context.Context, f Frame) error {
	out := outbound{frame: f, result: make(chan error, 1)}
	select {
	case c.toServer <- out:
	case <-c.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-out.result:
		return err
	case <-c.done:
		// The write loop may have finished the write just before exiting.
		select {
		case err := <-out.result:
			return err
		default:
			return ErrNotConnected
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
