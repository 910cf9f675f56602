// Package transport adapts pion PeerConnections to the narrow connection
// interface the negotiators drive, so the negotiation protocol can run
// against a real engine or a scripted fake.
package transport

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duet/internal/media"
	"github.com/1ureka/duet/internal/util"
)

// ErrForeignSender is returned when a Sender from another connection (or
// another implementation) is passed to RemoveTrack.
var ErrForeignSender = errors.New("transport: sender does not belong to this connection")

// Conn is the part of a peer connection the negotiation protocol uses.
type Conn interface {
	CreateOffer(opts *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(sd webrtc.SessionDescription) error
	SetRemoteDescription(sd webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	RemoteDescription() *webrtc.SessionDescription
	SignalingState() webrtc.SignalingState
	AddICECandidate(c webrtc.ICECandidateInit) error

	AddTrack(track webrtc.TrackLocal) (Sender, error)
	RemoveTrack(s Sender) error
	AddRecvOnly(kind webrtc.RTPCodecType) error

	// OnICECandidate receives nil once gathering is complete.
	OnICECandidate(fn func(*webrtc.ICECandidateInit))
	OnNegotiationNeeded(fn func())
	OnTrack(fn func(media.RemoteTrack))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))

	Close() error
}

// Sender is one outbound track slot of a connection.
type Sender interface {
	Track() webrtc.TrackLocal
	ReplaceTrack(track webrtc.TrackLocal) error
	// PreferCodec moves codecs of mimeType to the front of the slot's
	// codec preferences.
	PreferCodec(mimeType string) error
}

// Factory creates a fresh connection.
type Factory func() (Conn, error)

// Peer wraps a single pion PeerConnection.
//
// It records the last observed connection state; the negotiator decides what
// a state change means.
type Peer struct {
	pc *webrtc.PeerConnection

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
}

var _ Conn = (*Peer)(nil)

func newPeer(pc *webrtc.PeerConnection) *Peer {
	p := &Peer{pc: pc, pcState: webrtc.PeerConnectionStateNew}
	p.OnConnectionStateChange(nil)
	return p
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Close shuts the PeerConnection down.
func (p *Peer) Close() error {
	return p.pc.Close()
}

// ConnectionState returns the last observed PeerConnection state.
func (p *Peer) ConnectionState() webrtc.PeerConnectionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pcState
}

// OnConnectionStateChange registers fn for state changes. The state is
// recorded before fn runs.
func (p *Peer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		p.mu.Lock()
		p.pcState = state
		p.mu.Unlock()
		if fn != nil {
			fn(state)
		}
	})
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (p *Peer) CreateOffer(opts *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(opts)
}

// CreateAnswer generates an SDP answer.
func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP. pion rejects rollback
// descriptions, so a pending local offer can only be abandoned with its
// connection.
func (p *Peer) SetLocalDescription(sd webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(sd)
}

// SetRemoteDescription applies the remote SDP.
func (p *Peer) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sd)
}

func (p *Peer) LocalDescription() *webrtc.SessionDescription  { return p.pc.LocalDescription() }
func (p *Peer) RemoteDescription() *webrtc.SessionDescription { return p.pc.RemoteDescription() }
func (p *Peer) SignalingState() webrtc.SignalingState         { return p.pc.SignalingState() }

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered.
func (p *Peer) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			fn(nil)
			return
		}
		init := c.ToJSON()
		fn(&init)
	})
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (p *Peer) AddICECandidate(c webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

// OnNegotiationNeeded registers fn for renegotiation requests. pion calls
// the handler from its operation queue, so fn runs on its own goroutine to
// keep that queue moving while fn waits for the caller's locks.
func (p *Peer) OnNegotiationNeeded(fn func()) {
	p.pc.OnNegotiationNeeded(func() { go fn() })
}

// ---------------------------------------------------------------------------
// Media
// ---------------------------------------------------------------------------

// AddTrack attaches a local track and returns its sender slot.
func (p *Peer) AddTrack(track webrtc.TrackLocal) (Sender, error) {
	s, err := p.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	go drainRTCP(s)
	return &rtpSender{pc: p.pc, s: s}, nil
}

// RemoveTrack detaches the sender's track.
func (p *Peer) RemoveTrack(s Sender) error {
	rs, ok := s.(*rtpSender)
	if !ok || rs.pc != p.pc {
		return ErrForeignSender
	}
	return p.pc.RemoveTrack(rs.s)
}

// AddRecvOnly adds a receive-only transceiver of kind, so the remote side can
// send media even when nothing is sent locally.
func (p *Peer) AddRecvOnly(kind webrtc.RTPCodecType) error {
	_, err := p.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	return err
}

// OnTrack registers fn for inbound tracks.
func (p *Peer) OnTrack(fn func(media.RemoteTrack)) {
	p.pc.OnTrack(func(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		util.LogDebug("Remote %s track %s (%s)", t.Kind(), t.ID(), t.Codec().MimeType)
		fn(t)
	})
}
