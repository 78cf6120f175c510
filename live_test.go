package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// scriptedConn feeds a fixed sequence of frames, then returns closeErr.
type scriptedConn struct {
	frames   chan []byte
	closeErr error
	closed   atomic.Bool
}

func newScriptedConn(closeErr error, frames ...string) *scriptedConn {
	ch := make(chan []byte, len(frames))
	for _, frame := range frames {
		ch <- []byte(frame)
	}
	close(ch)
	return &scriptedConn{frames: ch, closeErr: closeErr}
}

func (c *scriptedConn) ReadMessage() (int, []byte, error) {
	payload, ok := <-c.frames
	if !ok {
		return 0, nil, c.closeErr
	}
	return websocket.TextMessage, payload, nil
}

func (c *scriptedConn) Close() error {
	c.closed.Store(true)
	return nil
}

// blockedConn never yields a frame until released.
type blockedConn struct {
	release chan struct{}
}

func newBlockedConn() *blockedConn {
	return &blockedConn{release: make(chan struct{})}
}

func (c *blockedConn) ReadMessage() (int, []byte, error) {
	<-c.release
	return 0, nil, errors.New("released")
}

func (c *blockedConn) Close() error {
	select {
	case <-c.release:
	default:
		close(c.release)
	}
	return nil
}

func newTestLiveManager(dial liveDialer) *liveChannelManager {
	m := newLiveChannelManager("ws://chat.test/ws", "user-1")
	m.dial = dial
	m.retryDelay = 10 * time.Millisecond
	return m
}

func waitForDials(t *testing.T, dials *atomic.Int64, want int64) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for dials.Load() < want {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d dials, saw %d", want, dials.Load())
		case <-time.After(time.Millisecond):
		}
	}
}

func drainUntilStatus(t *testing.T, events <-chan liveEvent, want channelStatus) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-events:
			if event.kind == liveEventStatus && event.status == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %v", want)
		}
	}
}

func TestReconnectsAfterUncleanClose(t *testing.T) {
	t.Parallel()

	var dials atomic.Int64
	stable := newBlockedConn()
	m := newTestLiveManager(func(context.Context, string) (liveConn, error) {
		if dials.Add(1) == 1 {
			return newScriptedConn(errors.New("connection reset")), nil
		}
		return stable, nil
	})
	defer m.Close()

	m.Connect()
	waitForDials(t, &dials, 2)
	drainUntilStatus(t, m.Events(), channelConnected)

	if got := m.Status(); got != channelConnected {
		t.Fatalf("expected reconnected status, got %v", got)
	}
}

func TestNoReconnectAfterCleanClose(t *testing.T) {
	t.Parallel()

	var dials atomic.Int64
	m := newTestLiveManager(func(context.Context, string) (liveConn, error) {
		dials.Add(1)
		return newScriptedConn(&websocket.CloseError{Code: websocket.CloseNormalClosure}), nil
	})
	defer m.Close()

	m.Connect()
	drainUntilStatus(t, m.Events(), channelDisconnected)

	// Give any mistaken retry timer several delays to fire.
	time.Sleep(5 * m.retryDelay)
	if dials.Load() != 1 {
		t.Fatalf("clean close must not reconnect, saw %d dials", dials.Load())
	}
}

func TestConnectIsSingleFlight(t *testing.T) {
	t.Parallel()

	var dials atomic.Int64
	started := make(chan struct{})
	release := make(chan struct{})
	m := newTestLiveManager(func(context.Context, string) (liveConn, error) {
		if dials.Add(1) == 1 {
			close(started)
			<-release
		}
		return newBlockedConn(), nil
	})
	defer m.Close()

	m.Connect()
	<-started
	m.Connect()
	m.Connect()
	close(release)
	drainUntilStatus(t, m.Events(), channelConnected)

	// Connected; further calls are also no-ops.
	m.Connect()
	time.Sleep(10 * time.Millisecond)
	if dials.Load() != 1 {
		t.Fatalf("expected a single dial, saw %d", dials.Load())
	}
}

func TestRetryAfterDialFailure(t *testing.T) {
	t.Parallel()

	var dials atomic.Int64
	m := newTestLiveManager(func(context.Context, string) (liveConn, error) {
		if dials.Add(1) == 1 {
			return nil, errors.New("refused")
		}
		return newBlockedConn(), nil
	})
	defer m.Close()

	m.Connect()
	waitForDials(t, &dials, 2)
	drainUntilStatus(t, m.Events(), channelConnected)
}

func TestInboundFramesEmitMessages(t *testing.T) {
	t.Parallel()

	m := newTestLiveManager(func(context.Context, string) (liveConn, error) {
		return newScriptedConn(&websocket.CloseError{Code: websocket.CloseNormalClosure},
			`{"client_id":"user-1","message":"first push"}`,
			`not json`,
			`{"client_id":"user-1","message":""}`,
			`{"client_id":"user-1","message":"second push"}`,
		), nil
	})
	defer m.Close()

	m.Connect()

	var got []string
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case event := <-m.Events():
			if event.kind == liveEventMessage {
				got = append(got, event.message)
			}
		case <-deadline:
			t.Fatalf("timed out, received %v", got)
		}
	}
	if got[0] != "first push" || got[1] != "second push" {
		t.Fatalf("unexpected messages: %v", got)
	}
}

func TestCloseSuppressesReconnect(t *testing.T) {
	t.Parallel()

	var dials atomic.Int64
	conn := newBlockedConn()
	m := newTestLiveManager(func(context.Context, string) (liveConn, error) {
		dials.Add(1)
		return conn, nil
	})

	m.Connect()
	drainUntilStatus(t, m.Events(), channelConnected)

	m.Close()
	time.Sleep(5 * m.retryDelay)
	if dials.Load() != 1 {
		t.Fatalf("close must suppress reconnects, saw %d dials", dials.Load())
	}
	if m.Status() != channelDisconnected {
		t.Fatalf("expected disconnected after close, got %v", m.Status())
	}
}

func TestConnectWithoutIdentityIsNoop(t *testing.T) {
	t.Parallel()

	m := newLiveChannelManager("ws://chat.test/ws", "")
	m.dial = func(context.Context, string) (liveConn, error) {
		t.Error("no dial expected without an identity")
		return nil, errors.New("unreachable")
	}
	m.Connect()
	time.Sleep(10 * time.Millisecond)
}

func TestConnectionURLAppendsIdentity(t *testing.T) {
	t.Parallel()

	m := newLiveChannelManager("ws://chat.test/ws/", "user one")
	if got := m.connectionURL(); got != "ws://chat.test/ws/user%20one" {
		t.Fatalf("unexpected connection URL %q", got)
	}
}
