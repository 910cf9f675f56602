package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/duet/internal/util"
)

const (
	outboxLimit = 256
	minBackoff  = 250 * time.Millisecond
	maxBackoff  = 5 * time.Second
)

var log = util.Component("signaling")

// ErrClosed is reported for messages sent after Close.
var ErrClosed = errors.New("signaling: service closed")

// Handler receives every inbound message.
type Handler func(Message)

// ErrorHandler receives delivery failures, tagged with the connection type of
// the message that could not be sent.
type ErrorHandler func(ConnectionType, error)

// Service is the WebSocket client of the session relay.
//
// Outbound delivery is best-effort: Send never fails the caller. Messages
// sent while the socket is down are kept in a bounded outbox and written in
// order once the connection is (re)established.
type Service struct {
	url         string
	sessionID   string
	participant string
	dialer      *websocket.Dialer

	hookMu  sync.RWMutex
	handler Handler
	onError ErrorHandler

	mu      sync.Mutex
	out     *sender // nil while disconnected
	outbox  []Message
	started bool
	closed  bool
	cancel  context.CancelFunc
}

// NewService creates a Service for one participant of one session. An empty
// url yields a Service whose Connect is a no-op; outbound messages then stay
// queued.
func NewService(url, sessionID, participant string) *Service {
	return &Service{
		url:         url,
		sessionID:   sessionID,
		participant: participant,
		dialer:      websocket.DefaultDialer,
	}
}

// OnMessage registers the single inbound handler, replacing any previous one.
func (s *Service) OnMessage(h Handler) {
	s.hookMu.Lock()
	s.handler = h
	s.hookMu.Unlock()
}

// OnError registers the delivery-failure hook.
func (s *Service) OnError(fn ErrorHandler) {
	s.hookMu.Lock()
	s.onError = fn
	s.hookMu.Unlock()
}

// Connect dials the relay and starts the read loop. It returns nil without
// dialing when no URL is configured or when already connected.
func (s *Service) Connect(ctx context.Context) error {
	if s.url == "" {
		log.Debug("No signaling URL configured, staying offline")
		return nil
	}

	target, err := endpoint(s.url, s.sessionID, s.participant)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	conn, err := dial(ctx, s.dialer, target)
	if err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		conn.Close()
		return ErrClosed
	}
	s.cancel = cancel
	s.mu.Unlock()

	log.Success("Connected to signaling relay as %s", s.participant)
	s.attach(conn)
	go s.run(loopCtx, target, conn)
	return nil
}

// Send delivers msg to the relay, filling the connection type, sender and
// session id when the caller left them empty.
func (s *Service) Send(msg Message) {
	if msg.ConnectionType == "" {
		msg.ConnectionType = Camera
	}
	if msg.From == "" {
		msg.From = s.participant
	}
	if msg.SessionID == "" {
		msg.SessionID = s.sessionID
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.fail(msg, ErrClosed)
		return
	}
	if s.out == nil {
		s.enqueue(msg)
		s.mu.Unlock()
		return
	}
	err := s.out.send(msg)
	s.mu.Unlock()

	if err != nil {
		s.fail(msg, err)
	}
}

// Close releases the socket and stops reconnecting. Safe to call repeatedly.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	out := s.out
	s.out = nil
	s.outbox = nil
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if out != nil {
		return out.close()
	}
	return nil
}

// enqueue appends msg to the outbox, dropping the oldest entry on overflow.
// Caller must hold s.mu.
func (s *Service) enqueue(msg Message) {
	if len(s.outbox) >= outboxLimit {
		dropped := s.outbox[0]
		s.outbox = s.outbox[1:]
		log.Warning("Signaling outbox full, dropping queued %s message", dropped.Type)
	}
	s.outbox = append(s.outbox, msg)
}

// attach makes conn the active socket and flushes the outbox through it.
func (s *Service) attach(conn *websocket.Conn) {
	s.mu.Lock()
	out := &sender{conn: conn}
	s.out = out

	var failed []Message
	var firstErr error
	for i, msg := range s.outbox {
		if err := out.send(msg); err != nil {
			failed = s.outbox[i:]
			firstErr = err
			break
		}
	}
	s.outbox = nil
	s.mu.Unlock()

	for _, msg := range failed {
		s.fail(msg, firstErr)
	}
}

// run reads from conn until it fails, then redials with capped exponential
// backoff until ctx is cancelled.
func (s *Service) run(ctx context.Context, target string, conn *websocket.Conn) {
	for {
		r := &receiver{conn: conn, handle: s.dispatch}
		err := r.watch()

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.out = nil
		s.mu.Unlock()
		conn.Close()

		log.Warning("Signaling connection lost: %v", err)

		conn = s.redial(ctx, target)
		if conn == nil {
			return
		}
		log.Success("Reconnected to signaling relay")
		s.attach(conn)
	}
}

// redial retries the relay until it answers or ctx is cancelled.
func (s *Service) redial(ctx context.Context, target string) *websocket.Conn {
	backoff := minBackoff
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		conn, err := dial(ctx, s.dialer, target)
		if err == nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				conn.Close()
				return nil
			}
			return conn
		}

		log.Debug("Signaling redial failed (next attempt in %s): %v", backoff, err)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (s *Service) dispatch(msg Message) {
	s.hookMu.RLock()
	h := s.handler
	s.hookMu.RUnlock()

	if h == nil {
		log.Debug("No handler registered, dropping %s from %s", msg.Type, msg.From)
		return
	}
	h(msg)
}

func (s *Service) fail(msg Message, err error) {
	err = fmt.Errorf("send %s: %w", msg.Type, err)
	log.Warning("Signaling delivery failed: %v", err)

	s.hookMu.RLock()
	fn := s.onError
	s.hookMu.RUnlock()

	if fn != nil {
		fn(msg.Kind(), err)
	}
}
