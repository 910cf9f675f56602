package signaling

import (
	"context"
	"sync"
)

// MemoryRelay routes messages between Memory endpoints in-process, applying
// the same addressing rules as the WebSocket relay: a message goes to its
// "to" participant, or to every other participant of the session when "to"
// is empty or Broadcast.
type MemoryRelay struct {
	mu       sync.Mutex
	sessions map[string]map[string]*Memory
}

// NewMemoryRelay creates an empty relay.
func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{sessions: make(map[string]map[string]*Memory)}
}

// Endpoint returns a signaling endpoint for participant in session. It does
// not receive anything until Connect is called.
func (r *MemoryRelay) Endpoint(sessionID, participant string) *Memory {
	m := &Memory{
		relay:       r,
		sessionID:   sessionID,
		participant: participant,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	go m.pump()
	return m
}

func (r *MemoryRelay) join(m *Memory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.sessions[m.sessionID]
	if room == nil {
		room = make(map[string]*Memory)
		r.sessions[m.sessionID] = room
	}
	room[m.participant] = m
}

func (r *MemoryRelay) leave(m *Memory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.sessions[m.sessionID]
	if room[m.participant] == m {
		delete(room, m.participant)
	}
	if len(room) == 0 {
		delete(r.sessions, m.sessionID)
	}
}

func (r *MemoryRelay) route(sessionID string, msg Message) {
	r.mu.Lock()
	var targets []*Memory
	for id, peer := range r.sessions[sessionID] {
		if id == msg.From {
			continue
		}
		if msg.To == "" || msg.To == Broadcast || msg.To == id {
			targets = append(targets, peer)
		}
	}
	r.mu.Unlock()

	for _, peer := range targets {
		peer.push(msg)
	}
}

// Memory is an in-process signaling endpoint. Inbound messages are handed
// to the handler on a dedicated goroutine, one at a time, in arrival order.
type Memory struct {
	relay       *MemoryRelay
	sessionID   string
	participant string

	hookMu  sync.RWMutex
	handler Handler
	onError ErrorHandler

	mu        sync.Mutex
	connected bool
	closed    bool
	outbox    []Message
	sent      []Message
	inbox     []Message
	wake      chan struct{}
	done      chan struct{}
}

// OnMessage registers the single inbound handler.
func (m *Memory) OnMessage(h Handler) {
	m.hookMu.Lock()
	m.handler = h
	m.hookMu.Unlock()
}

// OnError registers the delivery-failure hook.
func (m *Memory) OnError(fn ErrorHandler) {
	m.hookMu.Lock()
	m.onError = fn
	m.hookMu.Unlock()
}

// Connect joins the relay room and flushes anything sent before.
func (m *Memory) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.connected {
		m.mu.Unlock()
		return nil
	}
	m.connected = true
	pending := m.outbox
	m.outbox = nil
	m.mu.Unlock()

	m.relay.join(m)
	for _, msg := range pending {
		m.relay.route(m.sessionID, msg)
	}
	return nil
}

// Send records msg and routes it once connected.
func (m *Memory) Send(msg Message) {
	if msg.ConnectionType == "" {
		msg.ConnectionType = Camera
	}
	if msg.From == "" {
		msg.From = m.participant
	}
	if msg.SessionID == "" {
		msg.SessionID = m.sessionID
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.hookMu.RLock()
		fn := m.onError
		m.hookMu.RUnlock()
		if fn != nil {
			fn(msg.Kind(), ErrClosed)
		}
		return
	}
	m.sent = append(m.sent, msg)
	if !m.connected {
		m.outbox = append(m.outbox, msg)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.relay.route(m.sessionID, msg)
}

// Sent returns a copy of every message accepted by Send, in order.
func (m *Memory) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

// Deliver hands msg straight to the handler on the calling goroutine,
// bypassing the relay.
func (m *Memory) Deliver(msg Message) {
	m.hookMu.RLock()
	h := m.handler
	m.hookMu.RUnlock()
	if h != nil {
		h(msg)
	}
}

// Close leaves the relay room. Safe to call repeatedly.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.inbox = nil
	m.mu.Unlock()

	close(m.done)
	m.relay.leave(m)
	return nil
}

func (m *Memory) push(msg Message) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.inbox = append(m.inbox, msg)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Memory) pump() {
	for {
		select {
		case <-m.done:
			return
		case <-m.wake:
		}

		for {
			m.mu.Lock()
			if m.closed || len(m.inbox) == 0 {
				m.mu.Unlock()
				break
			}
			msg := m.inbox[0]
			m.inbox = m.inbox[1:]
			m.mu.Unlock()

			m.Deliver(msg)
		}
	}
}
