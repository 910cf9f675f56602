// Package negotiator runs the offer/answer protocol for one media kind over
// one peer connection: glare handling, buffered remote candidates, local
// media attachment, device switching and screen sharing.
//
// Every operation and every connection callback takes the negotiator's
// mutex, so they are applied one at a time in arrival order. Hooks run with
// that mutex held and must not call back into the negotiator.
package negotiator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duet/internal/media"
	"github.com/1ureka/duet/internal/signaling"
	"github.com/1ureka/duet/internal/transport"
	"github.com/1ureka/duet/internal/util"
)

var (
	ErrClosed             = errors.New("negotiator: closed")
	ErrNegotiationTimeout = errors.New("negotiator: offer was not answered in time")
	ErrConnectionFailed   = errors.New("negotiator: peer connection failed")
)

const (
	DefaultNegotiationTimeout = 15 * time.Second
	maxOfferRetries           = 2
)

// GlarePolicy decides who yields when both sides offer at once.
type GlarePolicy int

const (
	// GlarePolite always yields: the connection holding the local offer is
	// replaced and the remote offer applied to the new one.
	GlarePolite GlarePolicy = iota
	// GlareTieBreak lets the participant with the smaller id keep its
	// own offer and ignore the incoming one; the other side yields.
	GlareTieBreak
)

// Signaler delivers outbound messages. signaling.Service satisfies it.
type Signaler interface {
	Send(msg signaling.Message)
}

// Hooks report to the owner of the negotiator. They run with the
// negotiator's mutex held.
type Hooks struct {
	OnChange func()
	OnError  func(error)
	// OnRemoteLeft runs after a leave has hung up the connection.
	OnRemoteLeft func()
}

// Config wires a negotiator.
type Config struct {
	Participant string
	Profile     Profile
	NewConn     transport.Factory
	Devices     media.Devices
	Signaler    Signaler
	Hooks       Hooks
	Glare       GlarePolicy
	// NegotiationTimeout bounds how long a sent offer waits for its
	// answer. Zero means DefaultNegotiationTimeout, negative disables it.
	NegotiationTimeout time.Duration
}

// Negotiator owns one peer connection of one media kind.
type Negotiator struct {
	cfg Config
	log util.Logger

	mu          sync.Mutex
	conn        transport.Conn
	gen         int // bumped whenever conn is replaced; stale callbacks compare against it
	local       *media.Stream
	remote      *media.RemoteStream
	pending     []webrtc.ICECandidateInit
	makingOffer bool
	remotePeer  string
	senders     map[webrtc.RTPCodecType]transport.Sender
	state       webrtc.PeerConnectionState
	deadline    *time.Timer
	deadlineSeq int
	retries     int
	closed      bool
}

// New creates a negotiator. No connection exists until Init or the first
// inbound offer.
func New(cfg Config) *Negotiator {
	return &Negotiator{
		cfg:     cfg,
		log:     util.Component(string(cfg.Profile.Kind)),
		senders: make(map[webrtc.RTPCodecType]transport.Sender),
		state:   webrtc.PeerConnectionStateNew,
	}
}

// Kind returns the connection type this negotiator serves.
func (n *Negotiator) Kind() signaling.ConnectionType { return n.cfg.Profile.Kind }

// ──────────────────────────────────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────────────────────────────────

// Init creates the connection and, for profiles that acquire media up front,
// captures and attaches local media. A media failure is reported through
// OnError and the connection falls back to receive-only transceivers; only a
// connection failure is returned.
func (n *Negotiator) Init(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	if err := n.ensureConn(); err != nil {
		n.report(err)
		return err
	}
	if !n.cfg.Profile.AcquireOnInit || n.local != nil {
		return nil
	}

	stream, err := n.cfg.Profile.Acquire(ctx, n.cfg.Devices)
	if err != nil {
		n.report(fmt.Errorf("acquire %s media: %w", n.Kind(), err))
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if err := n.conn.AddRecvOnly(kind); err != nil {
				n.log.Debug("add receive-only %s transceiver: %v", kind, err)
			}
		}
		return nil
	}

	n.local = stream
	for _, t := range stream.Tracks() {
		n.attach(t)
	}
	n.changed()
	return nil
}

// Close stops local media and closes the connection. Safe to call
// repeatedly.
func (n *Negotiator) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	if n.local != nil {
		n.local.Stop()
		n.local = nil
	}
	conn := n.detach()
	n.changed()
	n.mu.Unlock()

	closeConn(conn)
}

// Reconnect replaces the connection with a fresh one carrying the current
// local media. The new connection offers to whoever is in the session.
func (n *Negotiator) Reconnect() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	old := n.detach()
	err := n.ensureConn()
	if err != nil {
		n.report(err)
	}
	n.changed()
	n.mu.Unlock()

	closeConn(old)
	return err
}

// ensureConn creates the connection when absent and attaches local tracks
// to it. Caller must hold n.mu.
func (n *Negotiator) ensureConn() error {
	if n.conn != nil {
		return nil
	}

	conn, err := n.cfg.NewConn()
	if err != nil {
		return fmt.Errorf("create %s connection: %w", n.Kind(), err)
	}

	n.gen++
	gen := n.gen
	n.conn = conn
	n.state = webrtc.PeerConnectionStateNew

	conn.OnNegotiationNeeded(func() { n.onNegotiationNeeded(gen) })
	conn.OnICECandidate(func(c *webrtc.ICECandidateInit) { n.onLocalCandidate(gen, c) })
	conn.OnTrack(func(t media.RemoteTrack) { n.onTrack(gen, t) })
	conn.OnConnectionStateChange(func(s webrtc.PeerConnectionState) { n.onStateChange(gen, s) })

	if n.local != nil {
		for _, t := range n.local.Tracks() {
			n.attach(t)
		}
	}
	n.log.Debug("Connection created")
	return nil
}

// replaceConn swaps the connection for a fresh one carrying the local
// media. The remote peer, remote candidates buffered for the next remote
// description and the retry count survive. The caller closes the returned
// connection after releasing n.mu. Caller must hold n.mu.
func (n *Negotiator) replaceConn() (transport.Conn, error) {
	peer, pending, retries := n.remotePeer, n.pending, n.retries
	stale := n.detach()
	n.remotePeer, n.pending, n.retries = peer, pending, retries
	return stale, n.ensureConn()
}

// detach forgets the connection and every piece of per-peer state, keeping
// local media. The caller closes the returned connection after releasing
// n.mu. Caller must hold n.mu.
func (n *Negotiator) detach() transport.Conn {
	conn := n.conn
	n.conn = nil
	n.gen++
	n.remote = nil
	n.pending = nil
	n.makingOffer = false
	n.remotePeer = ""
	n.senders = make(map[webrtc.RTPCodecType]transport.Sender)
	n.state = webrtc.PeerConnectionStateClosed
	n.retries = 0
	n.stopDeadline()
	return conn
}

func closeConn(conn transport.Conn) {
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		util.LogDebug("close connection: %v", err)
	}
}

// attach adds t to the connection and records its sender. Caller must hold
// n.mu.
func (n *Negotiator) attach(t *media.Track) {
	sender, err := n.conn.AddTrack(t.Local())
	if err != nil {
		n.report(fmt.Errorf("attach %s track: %w", t.Kind(), err))
		return
	}
	n.senders[t.Kind()] = sender
	if t.Kind() == webrtc.RTPCodecTypeVideo {
		n.preferVideo(sender, t)
	}
}

// preferVideo asks for H264 and records the profile's encoding hint. Both
// are best effort.
func (n *Negotiator) preferVideo(sender transport.Sender, t *media.Track) {
	if err := sender.PreferCodec(webrtc.MimeTypeH264); err != nil {
		n.log.Debug("H264 preference not applied: %v", err)
	}
	t.SetHint(n.cfg.Profile.Hint)
}

// ──────────────────────────────────────────────────────────────────────────────
// Inbound signaling
// ──────────────────────────────────────────────────────────────────────────────

// HandleSignal applies one inbound message addressed to this negotiator.
func (n *Negotiator) HandleSignal(msg signaling.Message) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		n.log.Debug("Closed, ignoring %s from %s", msg.Type, msg.From)
		return
	}

	var stale transport.Conn

	switch msg.Type {
	case signaling.TypeOffer:
		stale = n.handleOffer(msg)
	case signaling.TypeAnswer:
		n.handleAnswer(msg)
	case signaling.TypeCandidate:
		n.handleCandidate(msg)
	case signaling.TypeLeave:
		n.log.Info("%s left, hanging up", msg.From)
		stale = n.detach()
		if n.cfg.Hooks.OnRemoteLeft != nil {
			n.cfg.Hooks.OnRemoteLeft()
		}
		n.changed()
	case signaling.TypeStopScreen, signaling.TypeCancelScreen:
		if n.Kind() == signaling.Screen && n.remote != nil {
			n.remote = nil
			n.changed()
		}
	case signaling.TypeStartScreen:
		if n.Kind() == signaling.Screen {
			if err := n.ensureConn(); err != nil {
				n.report(err)
			}
		}
	default:
		n.log.Debug("Ignoring %s", msg.Type)
	}

	n.mu.Unlock()

	closeConn(stale)
}

// handleOffer answers msg. A connection replaced to resolve a collision is
// returned for closing.
func (n *Negotiator) handleOffer(msg signaling.Message) (stale transport.Conn) {
	offer, err := msg.Description()
	if err != nil {
		n.report(fmt.Errorf("offer from %s: %w", msg.From, err))
		return nil
	}
	if err := n.ensureConn(); err != nil {
		n.report(err)
		return nil
	}

	if n.makingOffer || n.conn.SignalingState() != webrtc.SignalingStateStable {
		util.Stats.AddGlare()
		if n.cfg.Glare == GlareTieBreak && n.cfg.Participant < msg.From {
			n.log.Debug("Offer collision with %s, keeping ours", msg.From)
			return nil
		}
		// pion cannot roll back a local offer, so the connection that
		// holds it is dropped.
		n.log.Debug("Offer collision with %s, yielding", msg.From)
		stale, err = n.replaceConn()
		if err != nil {
			n.report(err)
			return stale
		}
		n.changed()
	}

	n.remotePeer = msg.From
	if err := n.conn.SetRemoteDescription(offer); err != nil {
		n.report(fmt.Errorf("apply offer from %s: %w", msg.From, err))
		return stale
	}
	n.flushCandidates()

	answer, err := n.conn.CreateAnswer()
	if err != nil {
		n.report(fmt.Errorf("create answer: %w", err))
		return stale
	}
	if err := n.conn.SetLocalDescription(answer); err != nil {
		n.report(fmt.Errorf("apply answer: %w", err))
		return stale
	}
	if ld := n.conn.LocalDescription(); ld != nil {
		answer = *ld
	}

	out, err := signaling.NewDescription(n.Kind(), msg.From, answer)
	if err != nil {
		n.report(err)
		return stale
	}
	n.cfg.Signaler.Send(out)
	util.Stats.AddAnswer()
	n.log.Debug("Answered %s (video %s)", msg.From, transport.VideoCodec(answer.SDP))
	return stale
}

func (n *Negotiator) handleAnswer(msg signaling.Message) {
	if n.conn == nil || n.conn.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		n.log.Debug("No offer outstanding, dropping answer from %s", msg.From)
		return
	}

	answer, err := msg.Description()
	if err != nil {
		n.report(fmt.Errorf("answer from %s: %w", msg.From, err))
		return
	}

	n.remotePeer = msg.From
	if err := n.conn.SetRemoteDescription(answer); err != nil {
		n.report(fmt.Errorf("apply answer from %s: %w", msg.From, err))
		return
	}
	n.stopDeadline()
	n.retries = 0
	n.flushCandidates()
	n.log.Debug("Negotiated with %s (video %s)", msg.From, transport.VideoCodec(answer.SDP))
}

func (n *Negotiator) handleCandidate(msg signaling.Message) {
	c, err := msg.Candidate()
	if err != nil {
		n.log.Warning("Dropping candidate from %s: %v", msg.From, err)
		return
	}

	if n.conn == nil || n.conn.RemoteDescription() == nil {
		n.pending = append(n.pending, c)
		util.Stats.AddCandidateQueued()
		return
	}
	n.applyCandidate(c)
}

// flushCandidates applies buffered candidates in arrival order. Caller must
// hold n.mu.
func (n *Negotiator) flushCandidates() {
	pending := n.pending
	n.pending = nil
	for _, c := range pending {
		n.applyCandidate(c)
	}
}

func (n *Negotiator) applyCandidate(c webrtc.ICECandidateInit) {
	if err := n.conn.AddICECandidate(c); err != nil {
		n.log.Warning("Failed to add ICE candidate: %v", err)
		return
	}
	util.Stats.AddCandidateApplied()
}

// ──────────────────────────────────────────────────────────────────────────────
// Connection callbacks
// ──────────────────────────────────────────────────────────────────────────────

// current reports whether gen still names the live connection. Caller must
// hold n.mu.
func (n *Negotiator) current(gen int) bool {
	return !n.closed && n.conn != nil && gen == n.gen
}

func (n *Negotiator) onNegotiationNeeded(gen int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current(gen) {
		n.offer(false)
	}
}

// offer creates, applies and broadcasts a local offer unless one is already
// in flight. Caller must hold n.mu.
func (n *Negotiator) offer(iceRestart bool) {
	if n.makingOffer || n.conn.SignalingState() != webrtc.SignalingStateStable {
		n.log.Debug("Negotiation already in progress, skipping offer")
		return
	}

	n.makingOffer = true
	defer func() { n.makingOffer = false }()

	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := n.conn.CreateOffer(opts)
	if err != nil {
		n.report(fmt.Errorf("create offer: %w", err))
		return
	}
	if err := n.conn.SetLocalDescription(offer); err != nil {
		n.report(fmt.Errorf("apply offer: %w", err))
		return
	}
	if ld := n.conn.LocalDescription(); ld != nil {
		offer = *ld
	}

	msg, err := signaling.NewDescription(n.Kind(), signaling.Broadcast, offer)
	if err != nil {
		n.report(err)
		return
	}
	n.cfg.Signaler.Send(msg)
	util.Stats.AddOffer()
	n.armDeadline()
}

func (n *Negotiator) onLocalCandidate(gen int, c *webrtc.ICECandidateInit) {
	if c == nil {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.current(gen) {
		return
	}

	to := n.remotePeer
	if to == "" {
		to = signaling.Broadcast
	}
	msg, err := signaling.NewCandidate(n.Kind(), to, *c)
	if err != nil {
		n.log.Warning("Dropping local candidate: %v", err)
		return
	}
	n.cfg.Signaler.Send(msg)
}

func (n *Negotiator) onTrack(gen int, t media.RemoteTrack) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.current(gen) {
		return
	}

	if n.remote == nil {
		n.remote = &media.RemoteStream{}
	}
	n.remote.Add(t)
	n.log.Info("Receiving remote %s", t.Kind())
	n.changed()
}

func (n *Negotiator) onStateChange(gen int, s webrtc.PeerConnectionState) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.current(gen) {
		return
	}

	n.state = s
	switch s {
	case webrtc.PeerConnectionStateConnected:
		n.log.Success("Connected")
	case webrtc.PeerConnectionStateFailed:
		n.report(ErrConnectionFailed)
		n.offer(true)
	}
	n.changed()
}

// ──────────────────────────────────────────────────────────────────────────────
// Negotiation deadline
// ──────────────────────────────────────────────────────────────────────────────

func (n *Negotiator) armDeadline() {
	timeout := n.cfg.NegotiationTimeout
	if timeout == 0 {
		timeout = DefaultNegotiationTimeout
	}
	if timeout < 0 {
		return
	}

	n.stopDeadline()
	n.deadlineSeq++
	gen, seq := n.gen, n.deadlineSeq
	n.deadline = time.AfterFunc(timeout, func() { n.onDeadline(gen, seq) })
}

func (n *Negotiator) stopDeadline() {
	if n.deadline != nil {
		n.deadline.Stop()
		n.deadline = nil
	}
}

// onDeadline replaces the connection holding an unanswered offer and offers
// again from the new one, a bounded number of times. Once the retries are
// spent the offer is left outstanding; a later remote offer or Resend picks
// it up. Nobody may be listening yet, so a missing answer is only reported
// once a peer has been seen.
func (n *Negotiator) onDeadline(gen, seq int) {
	n.mu.Lock()
	if !n.current(gen) || n.deadline == nil || seq != n.deadlineSeq {
		n.mu.Unlock()
		return
	}
	n.deadline = nil
	if n.conn.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		n.mu.Unlock()
		return
	}

	if n.remotePeer != "" {
		n.report(ErrNegotiationTimeout)
	} else {
		n.log.Debug("Offer unanswered, nobody else in the session yet")
	}
	if n.retries >= maxOfferRetries {
		n.mu.Unlock()
		return
	}

	n.retries++
	stale, err := n.replaceConn()
	if err != nil {
		n.report(err)
	} else {
		n.offer(false)
	}
	n.changed()
	n.mu.Unlock()

	closeConn(stale)
}

// Resend addresses the unanswered local offer to participant, who joined
// after it was broadcast. It only acts under GlareTieBreak when this side
// keeps its offer in a collision with participant; otherwise the newcomer's
// own offer settles the connection.
func (n *Negotiator) Resend(participant string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || n.conn == nil || n.remotePeer != "" {
		return
	}
	if n.cfg.Glare != GlareTieBreak || n.cfg.Participant >= participant {
		return
	}
	if n.conn.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		return
	}
	ld := n.conn.LocalDescription()
	if ld == nil {
		return
	}

	msg, err := signaling.NewDescription(n.Kind(), participant, *ld)
	if err != nil {
		n.report(err)
		return
	}
	n.cfg.Signaler.Send(msg)
	util.Stats.AddOffer()
	n.armDeadline()
	n.log.Debug("Resent offer to %s", participant)
}

// ──────────────────────────────────────────────────────────────────────────────
// Local media
// ──────────────────────────────────────────────────────────────────────────────

// SwitchDevice replaces the local track of kind with one captured from
// deviceID. The outgoing track is swapped in place without renegotiation
// and keeps the enabled state of the track it replaces.
func (n *Negotiator) SwitchDevice(ctx context.Context, kind webrtc.RTPCodecType, deviceID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}

	c := media.Constraints{Video: true, VideoDeviceID: deviceID}
	if kind == webrtc.RTPCodecTypeAudio {
		c = media.Constraints{Audio: true, AudioDeviceID: deviceID}
	}
	stream, err := n.cfg.Devices.UserMedia(ctx, c)
	if err != nil {
		err = fmt.Errorf("switch %s to %s: %w", kind, deviceID, err)
		n.report(err)
		return err
	}
	next := stream.Track(kind)
	if next == nil {
		stream.Stop()
		return fmt.Errorf("switch %s: device %s produced no track", kind, deviceID)
	}

	var old *media.Track
	if n.local != nil {
		old = n.local.Track(kind)
	}
	if old != nil {
		next.SetEnabled(old.Enabled())
	}

	if n.conn != nil {
		if sender := n.senders[kind]; sender != nil {
			if err := sender.ReplaceTrack(next.Local()); err != nil {
				next.Stop()
				err = fmt.Errorf("replace %s track: %w", kind, err)
				n.report(err)
				return err
			}
			if kind == webrtc.RTPCodecTypeVideo {
				next.SetHint(n.cfg.Profile.Hint)
			}
		} else {
			n.attach(next)
		}
	}

	if n.local == nil {
		n.local = media.NewStream()
	}
	if old != nil {
		old.Stop()
		n.local.Replace(old, next)
	} else {
		n.local.Add(next)
	}
	n.log.Info("Switched %s to %s", kind, next.Label())
	n.changed()
	return nil
}

// SetTrackEnabled mutes or unmutes the local track of kind in place. It
// reports whether such a track exists.
func (n *Negotiator) SetTrackEnabled(kind webrtc.RTPCodecType, on bool) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.local == nil {
		return false
	}
	t := n.local.Track(kind)
	if t == nil {
		return false
	}
	t.SetEnabled(on)
	n.changed()
	return true
}

// StartShare captures the display and sends it on this connection. The share
// stops on its own when the capture ends.
func (n *Negotiator) StartShare(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	if n.local != nil {
		return nil
	}
	if err := n.ensureConn(); err != nil {
		n.report(err)
		return err
	}

	stream, err := n.cfg.Profile.Acquire(ctx, n.cfg.Devices)
	if err != nil {
		err = fmt.Errorf("acquire %s media: %w", n.Kind(), err)
		n.report(err)
		return err
	}
	n.local = stream

	n.cfg.Signaler.Send(signaling.Message{
		To:             signaling.Broadcast,
		Type:           signaling.TypeStartScreen,
		ConnectionType: n.Kind(),
	})

	for _, t := range stream.Tracks() {
		if sender := n.senders[t.Kind()]; sender != nil {
			if err := sender.ReplaceTrack(t.Local()); err != nil {
				n.report(fmt.Errorf("replace %s track: %w", t.Kind(), err))
			}
			continue
		}
		n.attach(t)
	}

	if video := stream.Track(webrtc.RTPCodecTypeVideo); video != nil {
		video.OnEnded(func() {
			n.log.Info("Capture ended")
			n.StopShare()
		})
	}

	n.log.Info("Sharing started")
	n.changed()
	return nil
}

// StopShare stops the shared tracks, detaches them and tells the other side.
// It does nothing when not sharing.
func (n *Negotiator) StopShare() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.local == nil {
		return
	}

	n.local.Stop()
	n.local = nil
	if n.conn != nil {
		for kind, sender := range n.senders {
			if err := n.conn.RemoveTrack(sender); err != nil {
				n.log.Debug("remove %s sender: %v", kind, err)
			}
		}
	}
	n.senders = make(map[webrtc.RTPCodecType]transport.Sender)

	n.cfg.Signaler.Send(signaling.Message{
		To:             signaling.Broadcast,
		Type:           signaling.TypeStopScreen,
		ConnectionType: n.Kind(),
	})
	n.log.Info("Sharing stopped")
	n.changed()
}

// ──────────────────────────────────────────────────────────────────────────────
// Accessors
// ──────────────────────────────────────────────────────────────────────────────

// LocalStream returns the local media, or nil.
func (n *Negotiator) LocalStream() *media.Stream {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.local
}

// RemoteStream returns the media received from the other side, or nil.
func (n *Negotiator) RemoteStream() *media.RemoteStream {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.remote
}

// ConnectionState returns the last observed connection state.
func (n *Negotiator) ConnectionState() webrtc.PeerConnectionState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Sharing reports whether local media is attached.
func (n *Negotiator) Sharing() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.local != nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Hooks
// ──────────────────────────────────────────────────────────────────────────────

func (n *Negotiator) changed() {
	if n.cfg.Hooks.OnChange != nil {
		n.cfg.Hooks.OnChange()
	}
}

func (n *Negotiator) report(err error) {
	util.Stats.AddError()
	n.log.Warning("%v", err)
	if n.cfg.Hooks.OnError != nil {
		n.cfg.Hooks.OnError(err)
	}
}
