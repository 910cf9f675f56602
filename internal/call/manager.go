// Package call composes the camera and screen negotiators of one
// participant in one session. The Manager routes inbound signaling to the
// right negotiator, exposes user intents (mute, share, switch device) and
// publishes an immutable Snapshot of the call after every change.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duet/internal/media"
	"github.com/1ureka/duet/internal/negotiator"
	"github.com/1ureka/duet/internal/signaling"
	"github.com/1ureka/duet/internal/transport"
	"github.com/1ureka/duet/internal/util"
)

// ErrCallEnded is returned by StartCall after LeaveCall.
var ErrCallEnded = errors.New("call: ended")

// Signaling is the channel a Manager talks through. *signaling.Service and
// *signaling.Memory implement it.
type Signaling interface {
	Connect(ctx context.Context) error
	Send(msg signaling.Message)
	OnMessage(h signaling.Handler)
	OnError(fn signaling.ErrorHandler)
	Close() error
}

var (
	_ Signaling = (*signaling.Service)(nil)
	_ Signaling = (*signaling.Memory)(nil)
)

// Error is a failure tagged with the connection it happened on.
type Error struct {
	Kind signaling.ConnectionType
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// RemoteStates are the other participant's intents as last announced.
type RemoteStates struct {
	CameraOn      bool
	MicOn         bool
	ScreenSharing bool
}

// Snapshot is the observable state of a call.
type Snapshot struct {
	LocalStream       *media.Stream
	RemoteStream      *media.RemoteStream
	LocalScreenShare  *media.Stream
	RemoteScreenShare *media.RemoteStream

	CameraOn        bool
	MicOn           bool
	IsScreenSharing bool
	Remote          RemoteStates

	CameraState webrtc.PeerConnectionState
	ScreenState webrtc.PeerConnectionState

	// Error is set in exactly one published snapshot per failure.
	Error *Error
}

// Config wires a Manager.
type Config struct {
	Participant        string
	Session            string
	Signaling          Signaling
	Devices            media.Devices
	NewConn            transport.Factory
	Glare              negotiator.GlarePolicy
	NegotiationTimeout time.Duration
}

// Manager owns one participant's call in one session.
type Manager struct {
	cfg    Config
	camera *negotiator.Negotiator
	screen *negotiator.Negotiator

	mu       sync.Mutex
	started  bool
	ended    bool
	cameraOn bool
	micOn    bool
	remote   RemoteStates
	err      *Error
	onLeave  func()

	subMu      sync.Mutex
	subs       map[int]func(Snapshot)
	nextSub    int
	dispatchMu sync.Mutex

	wake chan struct{}
	done chan struct{}
}

// New creates a Manager and starts its publisher. Nothing is acquired or
// dialed until StartCall.
func New(cfg Config) *Manager {
	m := &Manager{
		cfg:      cfg,
		cameraOn: true,
		micOn:    true,
		subs:     make(map[int]func(Snapshot)),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	m.camera = negotiator.New(m.negotiatorConfig(negotiator.Camera))
	m.screen = negotiator.New(m.negotiatorConfig(negotiator.Screen))

	cfg.Signaling.OnMessage(m.handle)
	cfg.Signaling.OnError(m.fail)

	go m.publishLoop()
	return m
}

func (m *Manager) negotiatorConfig(p negotiator.Profile) negotiator.Config {
	kind := p.Kind
	return negotiator.Config{
		Participant: m.cfg.Participant,
		Profile:     p,
		NewConn:     m.cfg.NewConn,
		Devices:     m.cfg.Devices,
		Signaler:    m.cfg.Signaling,
		Glare:       m.cfg.Glare,
		Hooks: negotiator.Hooks{
			OnChange:     m.notify,
			OnError:      func(err error) { m.fail(kind, err) },
			OnRemoteLeft: func() { m.forgetRemote(kind) },
		},
		NegotiationTimeout: m.cfg.NegotiationTimeout,
	}
}

// Participant returns the local participant id.
func (m *Manager) Participant() string { return m.cfg.Participant }

// Session returns the session id.
func (m *Manager) Session() string { return m.cfg.Session }

// ──────────────────────────────────────────────────────────────────────────────
// Call lifecycle
// ──────────────────────────────────────────────────────────────────────────────

// StartCall acquires camera and microphone, connects to signaling and
// announces the participant. A media failure does not stop the call; it is
// published in the snapshot and the missing tracks show as a nil
// LocalStream, while CameraOn and MicOn keep the user's intent. Calling it
// again while active does nothing.
func (m *Manager) StartCall(ctx context.Context) error {
	m.mu.Lock()
	if m.ended {
		m.mu.Unlock()
		return ErrCallEnded
	}
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	if err := m.camera.Init(ctx); err != nil {
		m.mu.Lock()
		m.started = false
		m.mu.Unlock()
		return fmt.Errorf("start call: %w", err)
	}

	if err := m.cfg.Signaling.Connect(ctx); err != nil {
		m.fail(signaling.Camera, err)
		return fmt.Errorf("start call: %w", err)
	}

	m.cfg.Signaling.Send(signaling.Message{
		To:     signaling.Broadcast,
		Type:   signaling.TypeJoin,
		States: m.cameraStates(),
	})
	util.LogInfo("Joined session %s as %s", m.cfg.Session, m.cfg.Participant)
	m.notify()
	return nil
}

// LeaveCall stops sharing, tells the other side, releases both connections
// and the signaling channel, and removes the manager from its registry.
// Safe to call repeatedly.
func (m *Manager) LeaveCall() {
	m.mu.Lock()
	if m.ended {
		m.mu.Unlock()
		return
	}
	m.ended = true
	onLeave := m.onLeave
	m.mu.Unlock()

	// Nothing may be sent on either connection after leave, including the
	// renegotiation that removing the shared tracks triggers.
	if m.screen.Sharing() {
		m.screen.StopShare()
	}
	m.screen.Close()
	m.camera.Close()
	m.cfg.Signaling.Send(signaling.Message{To: signaling.Broadcast, Type: signaling.TypeLeave})

	if err := m.cfg.Signaling.Close(); err != nil {
		util.LogDebug("close signaling: %v", err)
	}

	m.mu.Lock()
	m.cameraOn = false
	m.micOn = false
	m.remote = RemoteStates{}
	m.mu.Unlock()

	// The publisher delivers the final snapshot.
	close(m.done)

	if onLeave != nil {
		onLeave()
	}
	util.LogInfo("Left session %s", m.cfg.Session)
}

// ──────────────────────────────────────────────────────────────────────────────
// Inbound routing
// ──────────────────────────────────────────────────────────────────────────────

func (m *Manager) handle(msg signaling.Message) {
	if msg.From == m.cfg.Participant {
		return
	}
	if msg.To != m.cfg.Participant && msg.To != signaling.Broadcast {
		return
	}
	if msg.SessionID != "" && msg.SessionID != m.cfg.Session {
		util.LogDebug("Ignoring %s for session %s", msg.Type, msg.SessionID)
		return
	}

	switch msg.Type {
	case signaling.TypeJoin:
		m.onJoin(msg)
		m.applyStates(msg.States)
	case signaling.TypeSyncCamera, signaling.TypeSyncScreen:
		m.applyStates(msg.States)
	case signaling.TypeStartScreen:
		m.setRemoteSharing(true)
		m.screen.HandleSignal(msg)
	case signaling.TypeStopScreen, signaling.TypeCancelScreen:
		m.setRemoteSharing(false)
		m.screen.HandleSignal(msg)
	case signaling.TypeLeave:
		m.camera.HandleSignal(msg)
		m.screen.HandleSignal(msg)
	default:
		m.negotiatorFor(msg.Kind()).HandleSignal(msg)
	}
}

func (m *Manager) negotiatorFor(kind signaling.ConnectionType) *negotiator.Negotiator {
	if kind == signaling.Screen {
		return m.screen
	}
	return m.camera
}

// onJoin brings a newcomer up to date: it gets our intents and, when we are
// sharing, a fresh screen connection offering the share.
func (m *Manager) onJoin(msg signaling.Message) {
	util.LogInfo("%s joined", msg.From)
	m.cfg.Signaling.Send(signaling.Message{
		To:     msg.From,
		Type:   signaling.TypeSyncCamera,
		States: m.cameraStates(),
	})
	m.camera.Resend(msg.From)

	if !m.screen.Sharing() {
		return
	}
	m.cfg.Signaling.Send(signaling.Message{
		To:             msg.From,
		Type:           signaling.TypeSyncScreen,
		ConnectionType: signaling.Screen,
		States:         &signaling.States{ScreenSharing: signaling.Bool(true)},
	})
	if err := m.screen.Reconnect(); err != nil {
		util.LogWarning("Failed to restart screen share for %s: %v", msg.From, err)
	}
}

func (m *Manager) applyStates(s *signaling.States) {
	if s == nil {
		return
	}
	m.mu.Lock()
	if s.CameraOn != nil {
		m.remote.CameraOn = *s.CameraOn
	}
	if s.MicOn != nil {
		m.remote.MicOn = *s.MicOn
	}
	if s.ScreenSharing != nil {
		m.remote.ScreenSharing = *s.ScreenSharing
	}
	m.mu.Unlock()
	m.notify()
}

// forgetRemote clears the intents carried on kind's connection. It runs
// from the negotiator's leave hook.
func (m *Manager) forgetRemote(kind signaling.ConnectionType) {
	m.mu.Lock()
	if kind == signaling.Screen {
		m.remote.ScreenSharing = false
	} else {
		m.remote.CameraOn = false
		m.remote.MicOn = false
	}
	m.mu.Unlock()
}

func (m *Manager) setRemoteSharing(on bool) {
	m.mu.Lock()
	m.remote.ScreenSharing = on
	m.mu.Unlock()
	m.notify()
}

// ──────────────────────────────────────────────────────────────────────────────
// User intents
// ──────────────────────────────────────────────────────────────────────────────

// ToggleCamera enables or disables the outgoing video in place.
func (m *Manager) ToggleCamera(on bool) {
	m.camera.SetTrackEnabled(webrtc.RTPCodecTypeVideo, on)
	m.mu.Lock()
	m.cameraOn = on
	m.mu.Unlock()
	m.announce()
}

// ToggleMic enables or disables the outgoing audio in place.
func (m *Manager) ToggleMic(on bool) {
	m.camera.SetTrackEnabled(webrtc.RTPCodecTypeAudio, on)
	m.mu.Lock()
	m.micOn = on
	m.mu.Unlock()
	m.announce()
}

// ToggleScreenShare starts or stops sharing the display.
func (m *Manager) ToggleScreenShare(ctx context.Context, on bool) error {
	if !on {
		m.screen.StopShare()
		return nil
	}
	return m.screen.StartShare(ctx)
}

// SwitchCamera moves the outgoing video to another camera.
func (m *Manager) SwitchCamera(ctx context.Context, deviceID string) error {
	return m.camera.SwitchDevice(ctx, webrtc.RTPCodecTypeVideo, deviceID)
}

// SwitchMic moves the outgoing audio to another microphone.
func (m *Manager) SwitchMic(ctx context.Context, deviceID string) error {
	return m.camera.SwitchDevice(ctx, webrtc.RTPCodecTypeAudio, deviceID)
}

// ListDevices enumerates capture devices.
func (m *Manager) ListDevices(ctx context.Context) ([]media.DeviceInfo, error) {
	return m.cfg.Devices.Enumerate(ctx)
}

// announce broadcasts the camera and mic intents.
func (m *Manager) announce() {
	m.cfg.Signaling.Send(signaling.Message{
		To:     signaling.Broadcast,
		Type:   signaling.TypeSyncCamera,
		States: m.cameraStates(),
	})
	m.notify()
}

func (m *Manager) cameraStates() *signaling.States {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &signaling.States{
		CameraOn: signaling.Bool(m.cameraOn),
		MicOn:    signaling.Bool(m.micOn),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Snapshots
// ──────────────────────────────────────────────────────────────────────────────

// Subscribe registers fn for every published snapshot and calls it at once
// with the current one. Snapshots are delivered one at a time, in order. fn
// must not call Subscribe. The returned func unsubscribes.
func (m *Manager) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subMu.Unlock()

	fn(m.snapshot(false))

	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

// Snapshot returns the current state without consuming the error slot.
func (m *Manager) Snapshot() Snapshot {
	return m.snapshot(false)
}

// snapshot reads the negotiators first and the manager's own fields second,
// so m.mu is never held while a negotiator lock is taken.
func (m *Manager) snapshot(consume bool) Snapshot {
	s := Snapshot{
		LocalStream:       m.camera.LocalStream(),
		RemoteStream:      m.camera.RemoteStream(),
		LocalScreenShare:  m.screen.LocalStream(),
		RemoteScreenShare: m.screen.RemoteStream(),
		CameraState:       m.camera.ConnectionState(),
		ScreenState:       m.screen.ConnectionState(),
	}
	s.IsScreenSharing = s.LocalScreenShare != nil

	m.mu.Lock()
	s.CameraOn = m.cameraOn
	s.MicOn = m.micOn
	s.Remote = m.remote
	s.Error = m.err
	if consume {
		m.err = nil
	}
	m.mu.Unlock()
	return s
}

func (m *Manager) fail(kind signaling.ConnectionType, err error) {
	m.mu.Lock()
	m.err = &Error{Kind: kind, Err: err}
	m.mu.Unlock()
	m.notify()
}

// notify schedules a publish. It never blocks; bursts of changes collapse
// into one snapshot.
func (m *Manager) notify() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) publishLoop() {
	for {
		select {
		case <-m.done:
			m.publish()
			return
		case <-m.wake:
			m.publish()
		}
	}
}

func (m *Manager) publish() {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	snap := m.snapshot(true)

	m.subMu.Lock()
	subs := make([]func(Snapshot), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.subMu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}
