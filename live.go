package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const liveRetryDelay = 5 * time.Second

type liveEventKind int

const (
	liveEventStatus liveEventKind = iota
	liveEventMessage
)

// liveEvent is what subscribers drain from the channel manager: either a
// status transition or an inbound AI-originated text frame.
type liveEvent struct {
	kind    liveEventKind
	status  channelStatus
	message string
}

// liveFrame is the wire shape of one inbound push frame. client_id is echoed
// by the server but carries no routing information the client uses.
type liveFrame struct {
	ClientID string `json:"client_id"`
	Message  string `json:"message"`
}

type liveConn interface {
	ReadMessage() (messageType int, payload []byte, err error)
	Close() error
}

type liveDialer func(ctx context.Context, rawURL string) (liveConn, error)

func gorillaDialer(ctx context.Context, rawURL string) (liveConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial live channel %q: %w", rawURL, err)
	}
	return conn, nil
}

// liveChannelManager owns the single push connection for one user identity.
// It reconnects after a fixed delay when the connection drops uncleanly and
// stays down after an intentional close. All reconnect state is owned by the
// instance so independent sessions (and tests) cannot interfere.
type liveChannelManager struct {
	liveURL    string
	userID     string
	dial       liveDialer
	retryDelay time.Duration

	mu           sync.Mutex
	status       channelStatus
	isConnecting bool
	retryPending bool
	closed       bool
	conn         liveConn

	events chan liveEvent
}

func newLiveChannelManager(liveURL, userID string) *liveChannelManager {
	return &liveChannelManager{
		liveURL:    liveURL,
		userID:     userID,
		dial:       gorillaDialer,
		retryDelay: liveRetryDelay,
		events:     make(chan liveEvent, 32),
	}
}

// events are dropped rather than blocking the read loop if the subscriber
// falls far behind; the buffer is generous for a single user's traffic.
func (m *liveChannelManager) emit(event liveEvent) {
	select {
	case m.events <- event:
	default:
	}
}

func (m *liveChannelManager) Events() <-chan liveEvent {
	return m.events
}

func (m *liveChannelManager) Status() channelStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *liveChannelManager) connectionURL() string {
	return strings.TrimRight(m.liveURL, "/") + "/" + url.PathEscape(m.userID)
}

// Connect starts a connection attempt unless one is already outstanding, a
// connection exists, no user identity is known, or the manager was torn down.
func (m *liveChannelManager) Connect() {
	m.mu.Lock()
	if m.userID == "" || m.closed || m.isConnecting || m.conn != nil {
		m.mu.Unlock()
		return
	}
	m.isConnecting = true
	m.retryPending = false
	m.status = channelConnecting
	m.mu.Unlock()

	m.emit(liveEvent{kind: liveEventStatus, status: channelConnecting})
	go m.runConnect()
}

func (m *liveChannelManager) runConnect() {
	conn, err := m.dial(context.Background(), m.connectionURL())

	m.mu.Lock()
	m.isConnecting = false
	if m.closed {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.status = channelDisconnected
		m.scheduleRetryLocked()
		m.mu.Unlock()
		m.emit(liveEvent{kind: liveEventStatus, status: channelDisconnected})
		return
	}
	m.conn = conn
	m.status = channelConnected
	m.mu.Unlock()

	m.emit(liveEvent{kind: liveEventStatus, status: channelConnected})
	go m.readLoop(conn)
}

func (m *liveChannelManager) readLoop(conn liveConn) {
	for {
		_, payload, err := m.readFrom(conn)
		if err != nil {
			m.handleClose(conn, err)
			return
		}
		var frame liveFrame
		if jsonErr := json.Unmarshal(payload, &frame); jsonErr != nil {
			continue
		}
		if strings.TrimSpace(frame.Message) == "" {
			continue
		}
		m.emit(liveEvent{kind: liveEventMessage, message: frame.Message})
	}
}

// readFrom guards against reads racing an intentional teardown: a conn that
// was replaced or closed no longer feeds events.
func (m *liveChannelManager) readFrom(conn liveConn) (int, []byte, error) {
	m.mu.Lock()
	current := m.conn
	m.mu.Unlock()
	if current != conn {
		return 0, nil, fmt.Errorf("connection superseded")
	}
	return conn.ReadMessage()
}

func (m *liveChannelManager) handleClose(conn liveConn, err error) {
	_ = conn.Close()

	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.status = channelDisconnected
	clean := m.closed || isCleanClose(err)
	if !clean {
		m.scheduleRetryLocked()
	}
	m.mu.Unlock()

	m.emit(liveEvent{kind: liveEventStatus, status: channelDisconnected})
}

// scheduleRetryLocked arms a single reconnect attempt after the fixed delay.
// Callers hold m.mu.
func (m *liveChannelManager) scheduleRetryLocked() {
	if m.retryPending || m.closed {
		return
	}
	m.retryPending = true
	time.AfterFunc(m.retryDelay, m.Connect)
}

func isCleanClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// Close tears the channel down intentionally, suppressing any reconnect.
func (m *liveChannelManager) Close() {
	m.mu.Lock()
	m.closed = true
	conn := m.conn
	m.conn = nil
	m.status = channelDisconnected
	m.mu.Unlock()

	if conn != nil {
		if ws, ok := conn.(*websocket.Conn); ok {
			deadline := time.Now().Add(time.Second)
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		}
		_ = conn.Close()
	}
}
