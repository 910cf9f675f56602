// Package transporttest provides a scripted transport.Conn for testing the
// negotiation protocol without a media engine.
package transporttest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duet/internal/media"
	"github.com/1ureka/duet/internal/transport"
)

var (
	// ErrInjected is returned by operations configured to fail.
	ErrInjected = errors.New("transporttest: injected failure")
	// ErrRollback is returned for a local rollback description.
	ErrRollback = errors.New("transporttest: invalid SDP type supplied to SetLocalDescription(): rollback")
)

// Conn is an in-memory connection that follows the offer/answer signaling
// state machine and records every call in order.
type Conn struct {
	mu sync.Mutex

	state  webrtc.SignalingState
	local  *webrtc.SessionDescription
	remote *webrtc.SessionDescription
	closed bool
	seq    int

	senders    []*Sender
	recvOnly   []webrtc.RTPCodecType
	candidates []webrtc.ICECandidateInit
	calls      []string

	// OfferErr, AnswerErr and RemoteErr make the matching call fail.
	OfferErr  error
	AnswerErr error
	RemoteErr error
	// BadCandidates lists candidate strings AddICECandidate rejects.
	BadCandidates map[string]bool

	autoNegotiate bool

	onNegotiation func()
	onCandidate   func(*webrtc.ICECandidateInit)
	onTrack       func(media.RemoteTrack)
	onState       func(webrtc.PeerConnectionState)
}

var _ transport.Conn = (*Conn)(nil)

// New returns a fresh connection in the stable state.
func New() *Conn {
	return &Conn{state: webrtc.SignalingStateStable}
}

func (c *Conn) record(format string, args ...any) {
	c.calls = append(c.calls, fmt.Sprintf(format, args...))
}

// Calls returns the recorded call log, e.g. "setLocal:offer",
// "setRemote:answer", "addCandidate:<candidate>".
func (c *Conn) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *Conn) CreateOffer(opts *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.OfferErr != nil {
		return webrtc.SessionDescription{}, c.OfferErr
	}
	c.seq++
	restart := opts != nil && opts.ICERestart
	c.record("createOffer:restart=%t", restart)
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", c.seq)}, nil
}

func (c *Conn) CreateAnswer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.AnswerErr != nil {
		return webrtc.SessionDescription{}, c.AnswerErr
	}
	if c.state != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("createAnswer in state %s", c.state)
	}
	c.seq++
	c.record("createAnswer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", c.seq)}, nil
}

func (c *Conn) SetLocalDescription(sd webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch sd.Type {
	case webrtc.SDPTypeRollback:
		// pion rejects local rollbacks.
		return ErrRollback
	case webrtc.SDPTypeOffer:
		if c.state != webrtc.SignalingStateStable {
			return fmt.Errorf("local offer in state %s", c.state)
		}
		c.state = webrtc.SignalingStateHaveLocalOffer
	case webrtc.SDPTypeAnswer:
		if c.state != webrtc.SignalingStateHaveRemoteOffer {
			return fmt.Errorf("local answer in state %s", c.state)
		}
		c.state = webrtc.SignalingStateStable
	}
	c.record("setLocal:%s", sd.Type)
	c.local = &sd
	return nil
}

func (c *Conn) SetRemoteDescription(sd webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.RemoteErr != nil {
		return c.RemoteErr
	}

	switch sd.Type {
	case webrtc.SDPTypeOffer:
		if c.state != webrtc.SignalingStateStable {
			return fmt.Errorf("remote offer in state %s", c.state)
		}
		c.state = webrtc.SignalingStateHaveRemoteOffer
	case webrtc.SDPTypeAnswer:
		if c.state != webrtc.SignalingStateHaveLocalOffer {
			return fmt.Errorf("remote answer in state %s", c.state)
		}
		c.state = webrtc.SignalingStateStable
	}
	c.record("setRemote:%s", sd.Type)
	c.remote = &sd
	return nil
}

func (c *Conn) LocalDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *Conn) RemoteDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *Conn) SignalingState() webrtc.SignalingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) AddICECandidate(init webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return errors.New("no remote description")
	}
	c.record("addCandidate:%s", init.Candidate)
	if c.BadCandidates[init.Candidate] {
		return ErrInjected
	}
	c.candidates = append(c.candidates, init)
	return nil
}

// Candidates returns the remote candidates accepted so far.
func (c *Conn) Candidates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.candidates))
	for _, cand := range c.candidates {
		out = append(out, cand.Candidate)
	}
	return out
}

func (c *Conn) AddTrack(track webrtc.TrackLocal) (transport.Sender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("addTrack:%s", track.Kind())
	s := &Sender{conn: c, track: track}
	c.senders = append(c.senders, s)
	c.negotiationNeeded()
	return s, nil
}

func (c *Conn) RemoveTrack(s transport.Sender) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fs, ok := s.(*Sender)
	if !ok || fs.conn != c {
		return transport.ErrForeignSender
	}
	c.record("removeTrack:%s", fs.track.Kind())
	for i, cur := range c.senders {
		if cur == fs {
			c.senders = append(c.senders[:i], c.senders[i+1:]...)
			break
		}
	}
	fs.removed = true
	c.negotiationNeeded()
	return nil
}

// negotiationNeeded fires the hook on its own goroutine, the way the
// transport adapts pion, when the factory asked for it. Caller must hold
// c.mu.
func (c *Conn) negotiationNeeded() {
	if !c.autoNegotiate || c.closed || c.onNegotiation == nil {
		return
	}
	go c.onNegotiation()
}

func (c *Conn) AddRecvOnly(kind webrtc.RTPCodecType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("addRecvOnly:%s", kind)
	c.recvOnly = append(c.recvOnly, kind)
	return nil
}

// Senders returns the attached senders in order.
func (c *Conn) Senders() []*Sender {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Sender(nil), c.senders...)
}

// RecvOnly returns the kinds of receive-only transceivers added.
func (c *Conn) RecvOnly() []webrtc.RTPCodecType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.RTPCodecType(nil), c.recvOnly...)
}

func (c *Conn) OnICECandidate(fn func(*webrtc.ICECandidateInit)) { c.setHook(func() { c.onCandidate = fn }) }
func (c *Conn) OnNegotiationNeeded(fn func())                    { c.setHook(func() { c.onNegotiation = fn }) }
func (c *Conn) OnTrack(fn func(media.RemoteTrack))               { c.setHook(func() { c.onTrack = fn }) }
func (c *Conn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.setHook(func() { c.onState = fn })
}

func (c *Conn) setHook(set func()) {
	c.mu.Lock()
	set()
	c.mu.Unlock()
}

// FireNegotiationNeeded runs the negotiation-needed hook on the caller's
// goroutine.
func (c *Conn) FireNegotiationNeeded() {
	c.mu.Lock()
	fn := c.onNegotiation
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// FireCandidate emits a local ICE candidate.
func (c *Conn) FireCandidate(candidate string) {
	c.mu.Lock()
	fn := c.onCandidate
	c.mu.Unlock()
	if fn != nil {
		init := webrtc.ICECandidateInit{Candidate: candidate}
		fn(&init)
	}
}

// FireTrack delivers an inbound track.
func (c *Conn) FireTrack(t media.RemoteTrack) {
	c.mu.Lock()
	fn := c.onTrack
	c.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

// FireState reports a connection state change.
func (c *Conn) FireState(s webrtc.PeerConnectionState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.state = webrtc.SignalingStateClosed
		c.record("close")
	}
	return nil
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Sender is a fake outbound track slot.
type Sender struct {
	conn    *Conn
	track   webrtc.TrackLocal
	prefer  string
	removed bool

	// ReplaceErr and PreferErr make the matching call fail.
	ReplaceErr error
	PreferErr  error
}

func (s *Sender) Track() webrtc.TrackLocal {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	return s.track
}

func (s *Sender) ReplaceTrack(track webrtc.TrackLocal) error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	if s.ReplaceErr != nil {
		return s.ReplaceErr
	}
	s.conn.record("replaceTrack:%s", track.Kind())
	s.track = track
	return nil
}

func (s *Sender) PreferCodec(mimeType string) error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	if s.PreferErr != nil {
		return s.PreferErr
	}
	s.prefer = mimeType
	return nil
}

// Preferred returns the last codec passed to PreferCodec.
func (s *Sender) Preferred() string {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	return s.prefer
}

// Removed reports whether the sender was detached.
func (s *Sender) Removed() bool {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	return s.removed
}

// Factory hands out fake connections and remembers them in creation order.
type Factory struct {
	mu    sync.Mutex
	conns []*Conn
	// Err makes New fail.
	Err error
	// AutoNegotiate makes connections fire negotiation-needed
	// asynchronously after AddTrack and RemoveTrack.
	AutoNegotiate bool
}

// New is a transport.Factory.
func (f *Factory) New() (transport.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	c := New()
	c.autoNegotiate = f.AutoNegotiate
	f.conns = append(f.conns, c)
	return c, nil
}

// Conns returns every connection created so far.
func (f *Factory) Conns() []*Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Conn(nil), f.conns...)
}

// Last returns the most recent connection, or nil.
func (f *Factory) Last() *Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

// RemoteTrack is a stand-in inbound track.
type RemoteTrack struct {
	TrackID   string
	TrackKind webrtc.RTPCodecType
}

func (r RemoteTrack) ID() string                { return r.TrackID }
func (r RemoteTrack) Kind() webrtc.RTPCodecType { return r.TrackKind }
