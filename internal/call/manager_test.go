package call

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/duet/internal/media"
	"github.com/1ureka/duet/internal/signaling"
	"github.com/1ureka/duet/internal/transport/transporttest"
	"github.com/1ureka/duet/internal/util"
)

func TestMain(m *testing.M) {
	util.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

type watcher struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (w *watcher) add(s Snapshot) {
	w.mu.Lock()
	w.snaps = append(w.snaps, s)
	w.mu.Unlock()
}

func (w *watcher) all() []Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Snapshot(nil), w.snaps...)
}

func (w *watcher) latest() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.snaps) == 0 {
		return Snapshot{}
	}
	return w.snaps[len(w.snaps)-1]
}

type participant struct {
	m       *Manager
	ep      *signaling.Memory
	conns   *transporttest.Factory
	devices *media.Synthetic
}

func newParticipant(t *testing.T, relay *signaling.MemoryRelay, id string) *participant {
	t.Helper()
	p := &participant{
		ep:      relay.Endpoint("s1", id),
		conns:   &transporttest.Factory{},
		devices: media.NewSynthetic(),
	}
	p.m = New(Config{
		Participant:        id,
		Session:            "s1",
		Signaling:          p.ep,
		Devices:            p.devices,
		NewConn:            p.conns.New,
		NegotiationTimeout: -1,
	})
	t.Cleanup(p.m.LeaveCall)
	return p
}

func (p *participant) sent(typ signaling.MessageType) []signaling.Message {
	var out []signaling.Message
	for _, msg := range p.ep.Sent() {
		if msg.Type == typ {
			out = append(out, msg)
		}
	}
	return out
}

func offer(t *testing.T, from, to string, kind signaling.ConnectionType) signaling.Message {
	t.Helper()
	msg, err := signaling.NewDescription(kind, to, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"})
	require.NoError(t, err)
	msg.From = from
	msg.SessionID = "s1"
	return msg
}

func TestStartCallPublishesLocalMedia(t *testing.T) {
	p := newParticipant(t, signaling.NewMemoryRelay(), "alice")
	var w watcher
	p.m.Subscribe(w.add)
	require.Len(t, w.all(), 1)
	assert.Nil(t, w.all()[0].LocalStream)

	require.NoError(t, p.m.StartCall(context.Background()))

	require.Eventually(t, func() bool {
		s := w.latest()
		return s.LocalStream != nil && len(s.LocalStream.Tracks()) == 2
	}, time.Second, 5*time.Millisecond)

	s := w.latest()
	assert.NotNil(t, s.LocalStream.Track(webrtc.RTPCodecTypeVideo))
	assert.NotNil(t, s.LocalStream.Track(webrtc.RTPCodecTypeAudio))
	assert.True(t, s.CameraOn)
	assert.True(t, s.MicOn)
	assert.False(t, s.IsScreenSharing)
	assert.Nil(t, s.Error)

	joins := p.sent(signaling.TypeJoin)
	require.Len(t, joins, 1)
	assert.Equal(t, signaling.Broadcast, joins[0].To)
	require.NotNil(t, joins[0].States)
	assert.True(t, *joins[0].States.CameraOn)
	assert.True(t, *joins[0].States.MicOn)
}

func TestStartCallIsIdempotent(t *testing.T) {
	p := newParticipant(t, signaling.NewMemoryRelay(), "alice")
	require.NoError(t, p.m.StartCall(context.Background()))
	require.NoError(t, p.m.StartCall(context.Background()))

	assert.Len(t, p.conns.Conns(), 1)
	assert.Len(t, p.sent(signaling.TypeJoin), 1)
}

func TestStartCallAfterLeave(t *testing.T) {
	p := newParticipant(t, signaling.NewMemoryRelay(), "alice")
	require.NoError(t, p.m.StartCall(context.Background()))
	p.m.LeaveCall()

	assert.ErrorIs(t, p.m.StartCall(context.Background()), ErrCallEnded)
}

func TestHandleIgnoresSelfAndMisaddressed(t *testing.T) {
	p := newParticipant(t, signaling.NewMemoryRelay(), "alice")
	require.NoError(t, p.m.StartCall(context.Background()))

	p.ep.Deliver(offer(t, "alice", signaling.Broadcast, signaling.Camera))
	p.ep.Deliver(offer(t, "bob", "carol", signaling.Camera))

	wrongSession := offer(t, "bob", "alice", signaling.Camera)
	wrongSession.SessionID = "s2"
	p.ep.Deliver(wrongSession)

	assert.Empty(t, p.sent(signaling.TypeAnswer))
	assert.NotContains(t, p.conns.Conns()[0].Calls(), "setRemote:offer")

	p.ep.Deliver(offer(t, "bob", "alice", signaling.Camera))
	answers := p.sent(signaling.TypeAnswer)
	require.Len(t, answers, 1)
	assert.Equal(t, "bob", answers[0].To)
}

func TestMissingConnectionTypeRoutesToCamera(t *testing.T) {
	p := newParticipant(t, signaling.NewMemoryRelay(), "alice")
	require.NoError(t, p.m.StartCall(context.Background()))
	camera := p.conns.Conns()[0]

	msg := offer(t, "bob", signaling.Broadcast, signaling.Camera)
	msg.ConnectionType = ""
	p.ep.Deliver(msg)
	assert.Contains(t, camera.Calls(), "setRemote:offer")
	assert.Len(t, p.conns.Conns(), 1)

	p.ep.Deliver(offer(t, "bob", signaling.Broadcast, signaling.Screen))
	require.Len(t, p.conns.Conns(), 2)
	assert.Contains(t, p.conns.Conns()[1].Calls(), "setRemote:offer")

	answers := p.sent(signaling.TypeAnswer)
	require.Len(t, answers, 2)
	assert.Equal(t, signaling.Camera, answers[0].ConnectionType)
	assert.Equal(t, signaling.Screen, answers[1].ConnectionType)
}

func TestJoinIsAnsweredWithSync(t *testing.T) {
	p := newParticipant(t, signaling.NewMemoryRelay(), "alice")
	require.NoError(t, p.m.StartCall(context.Background()))
	p.m.ToggleMic(false)

	p.ep.Deliver(signaling.Message{
		From:   "bob",
		To:     signaling.Broadcast,
		Type:   signaling.TypeJoin,
		States: &signaling.States{CameraOn: signaling.Bool(true), MicOn: signaling.Bool(false)},
	})

	var reply *signaling.Message
	for _, msg := range p.sent(signaling.TypeSyncCamera) {
		if msg.To == "bob" {
			msg := msg
			reply = &msg
		}
	}
	require.NotNil(t, reply)
	assert.True(t, *reply.States.CameraOn)
	assert.False(t, *reply.States.MicOn)
	assert.Empty(t, p.sent(signaling.TypeSyncScreen))

	remote := p.m.Snapshot().Remote
	assert.True(t, remote.CameraOn)
	assert.False(t, remote.MicOn)
}

func TestJoinWhileSharingRestartsScreen(t *testing.T) {
	p := newParticipant(t, signaling.NewMemoryRelay(), "alice")
	require.NoError(t, p.m.StartCall(context.Background()))
	require.NoError(t, p.m.ToggleScreenShare(context.Background(), true))
	require.Len(t, p.conns.Conns(), 2)
	firstScreen := p.conns.Conns()[1]

	p.ep.Deliver(signaling.Message{From: "carol", To: signaling.Broadcast, Type: signaling.TypeJoin})

	syncs := p.sent(signaling.TypeSyncScreen)
	require.Len(t, syncs, 1)
	assert.Equal(t, "carol", syncs[0].To)
	assert.Equal(t, signaling.Screen, syncs[0].ConnectionType)
	assert.True(t, *syncs[0].States.ScreenSharing)

	require.Len(t, p.conns.Conns(), 3)
	assert.True(t, firstScreen.Closed())
	assert.Equal(t, []string{"addTrack:video"}, p.conns.Conns()[2].Calls())
	assert.True(t, p.m.Snapshot().IsScreenSharing)
}

func TestSyncUpdatesRemoteStates(t *testing.T) {
	p := newParticipant(t, signaling.NewMemoryRelay(), "alice")
	require.NoError(t, p.m.StartCall(context.Background()))

	p.ep.Deliver(signaling.Message{From: "bob", To: "alice", Type: signaling.TypeSyncCamera,
		States: &signaling.States{CameraOn: signaling.Bool(false), MicOn: signaling.Bool(true)}})
	p.ep.Deliver(signaling.Message{From: "bob", To: "alice", Type: signaling.TypeSyncScreen, ConnectionType: signaling.Screen,
		States: &signaling.States{ScreenSharing: signaling.Bool(true)}})

	assert.Equal(t, RemoteStates{CameraOn: false, MicOn: true, ScreenSharing: true}, p.m.Snapshot().Remote)

	p.ep.Deliver(signaling.Message{From: "bob", To: signaling.Broadcast, Type: signaling.TypeStopScreen, ConnectionType: signaling.Screen})
	assert.False(t, p.m.Snapshot().Remote.ScreenSharing)
}

func TestToggleCameraAndMic(t *testing.T) {
	p := newParticipant(t, signaling.NewMemoryRelay(), "alice")
	var w watcher
	p.m.Subscribe(w.add)
	require.NoError(t, p.m.StartCall(context.Background()))

	p.m.ToggleCamera(false)
	local := p.m.Snapshot().LocalStream
	assert.False(t, local.Track(webrtc.RTPCodecTypeVideo).Enabled())
	assert.True(t, local.Track(webrtc.RTPCodecTypeAudio).Enabled())

	syncs := p.sent(signaling.TypeSyncCamera)
	require.Len(t, syncs, 1)
	assert.Equal(t, signaling.Broadcast, syncs[0].To)
	assert.False(t, *syncs[0].States.CameraOn)
	assert.True(t, *syncs[0].States.MicOn)

	require.Eventually(t, func() bool { return !w.latest().CameraOn && w.latest().MicOn }, time.Second, 5*time.Millisecond)

	p.m.ToggleMic(false)
	assert.False(t, local.Track(webrtc.RTPCodecTypeAudio).Enabled())
	require.Eventually(t, func() bool { return !w.latest().MicOn }, time.Second, 5*time.Millisecond)

	// The same tracks stay attached.
	assert.Equal(t, 2, len(p.conns.Conns()[0].Senders()))
}

func TestSwitchDevicesAndList(t *testing.T) {
	p := newParticipant(t, signaling.NewMemoryRelay(), "alice")
	require.NoError(t, p.m.StartCall(context.Background()))

	devices, err := p.m.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, media.DefaultCatalog, devices)

	require.NoError(t, p.m.SwitchCamera(context.Background(), "camera-0"))
	require.NoError(t, p.m.SwitchMic(context.Background(), "microphone-0"))
	assert.ErrorIs(t, p.m.SwitchCamera(context.Background(), "missing"), media.ErrDeviceNotFound)

	calls := p.conns.Conns()[0].Calls()
	assert.Contains(t, calls, "replaceTrack:video")
	assert.Contains(t, calls, "replaceTrack:audio")
}

func TestLeaveCallStopsShareBeforeLeaving(t *testing.T) {
	relay := signaling.NewMemoryRelay()
	reg := NewRegistry(func(key Key) (*Manager, error) {
		return New(Config{
			Participant:        key.Participant,
			Session:            key.Session,
			Signaling:          relay.Endpoint(key.Session, key.Participant),
			Devices:            media.NewSynthetic(),
			NewConn:            (&transporttest.Factory{}).New,
			NegotiationTimeout: -1,
		}), nil
	})
	key := Key{Participant: "alice", Session: "s1"}

	m, err := reg.Get(key)
	require.NoError(t, err)
	ep := m.cfg.Signaling.(*signaling.Memory)

	require.NoError(t, m.StartCall(context.Background()))
	require.NoError(t, m.ToggleScreenShare(context.Background(), true))
	share := m.Snapshot().LocalScreenShare
	camera := m.Snapshot().LocalStream

	m.LeaveCall()
	m.LeaveCall()

	var types []signaling.MessageType
	for _, msg := range ep.Sent() {
		types = append(types, msg.Type)
	}
	require.GreaterOrEqual(t, len(types), 2)
	assert.Equal(t, signaling.TypeStopScreen, types[len(types)-2])
	assert.Equal(t, signaling.TypeLeave, types[len(types)-1])

	for _, tr := range append(share.Tracks(), camera.Tracks()...) {
		assert.True(t, tr.Stopped())
	}
	s := m.Snapshot()
	assert.Nil(t, s.LocalStream)
	assert.False(t, s.CameraOn)
	assert.False(t, s.IsScreenSharing)

	next, err := reg.Get(key)
	require.NoError(t, err)
	assert.NotSame(t, m, next)
	next.LeaveCall()
}

func TestMediaErrorPublishedOnce(t *testing.T) {
	p := newParticipant(t, signaling.NewMemoryRelay(), "alice")
	p.devices.DenyUserMedia(true)

	var w watcher
	p.m.Subscribe(w.add)
	require.NoError(t, p.m.StartCall(context.Background()))

	require.Eventually(t, func() bool {
		for _, s := range w.all() {
			if s.Error != nil {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// Later snapshots no longer carry the error.
	p.m.ToggleCamera(false)
	require.Eventually(t, func() bool { return !w.latest().CameraOn }, time.Second, 5*time.Millisecond)

	var withError []*Error
	for _, s := range w.all() {
		if s.Error != nil {
			withError = append(withError, s.Error)
		}
	}
	require.Len(t, withError, 1)
	assert.Equal(t, signaling.Camera, withError[0].Kind)
	assert.True(t, errors.Is(withError[0], media.ErrPermissionDenied))
	assert.Nil(t, w.latest().Error)
}

func TestMediaFailureKeepsIntent(t *testing.T) {
	p := newParticipant(t, signaling.NewMemoryRelay(), "alice")
	p.devices.DenyUserMedia(true)
	require.NoError(t, p.m.StartCall(context.Background()))

	s := p.m.Snapshot()
	assert.Nil(t, s.LocalStream)
	assert.True(t, s.CameraOn)
	assert.True(t, s.MicOn)

	joins := p.sent(signaling.TypeJoin)
	require.Len(t, joins, 1)
	assert.True(t, *joins[0].States.CameraOn)

	// Without tracks the toggles still record and announce the intent.
	p.m.ToggleMic(false)
	assert.False(t, p.m.Snapshot().MicOn)
	syncs := p.sent(signaling.TypeSyncCamera)
	require.Len(t, syncs, 1)
	assert.False(t, *syncs[0].States.MicOn)
}

func TestLeaveCallFromSubscriber(t *testing.T) {
	p := newParticipant(t, signaling.NewMemoryRelay(), "alice")
	p.devices.DenyDisplayMedia(true)
	require.NoError(t, p.m.StartCall(context.Background()))

	var w watcher
	p.m.Subscribe(func(s Snapshot) {
		w.add(s)
		if s.Error != nil {
			p.m.LeaveCall()
		}
	})
	assert.Error(t, p.m.ToggleScreenShare(context.Background(), true))

	require.Eventually(t, func() bool {
		return errors.Is(p.m.StartCall(context.Background()), ErrCallEnded)
	}, 2*time.Second, 5*time.Millisecond)

	// The final snapshot still reaches the subscriber.
	require.Eventually(t, func() bool {
		s := w.latest()
		return !s.CameraOn && !s.MicOn && s.Error == nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, p.sent(signaling.TypeLeave), 1)
}

func TestLeaveCallSendsNothingAfterLeave(t *testing.T) {
	relay := signaling.NewMemoryRelay()
	p := &participant{
		ep:      relay.Endpoint("s1", "alice"),
		conns:   &transporttest.Factory{AutoNegotiate: true},
		devices: media.NewSynthetic(),
	}
	p.m = New(Config{
		Participant:        "alice",
		Session:            "s1",
		Signaling:          p.ep,
		Devices:            p.devices,
		NewConn:            p.conns.New,
		NegotiationTimeout: -1,
	})

	require.NoError(t, p.m.StartCall(context.Background()))
	require.NoError(t, p.m.ToggleScreenShare(context.Background(), true))
	require.Eventually(t, func() bool {
		for _, msg := range p.sent(signaling.TypeOffer) {
			if msg.ConnectionType == signaling.Screen {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	p.m.LeaveCall()
	time.Sleep(50 * time.Millisecond)

	sent := p.ep.Sent()
	require.NotEmpty(t, sent)
	assert.Equal(t, signaling.TypeLeave, sent[len(sent)-1].Type)
	for _, c := range p.conns.Conns() {
		assert.True(t, c.Closed())
	}
}

func TestScreenShareDeniedIsReturnedAndPublished(t *testing.T) {
	p := newParticipant(t, signaling.NewMemoryRelay(), "alice")
	p.devices.DenyDisplayMedia(true)
	var w watcher
	p.m.Subscribe(w.add)
	require.NoError(t, p.m.StartCall(context.Background()))

	err := p.m.ToggleScreenShare(context.Background(), true)
	assert.ErrorIs(t, err, media.ErrPermissionDenied)
	assert.False(t, p.m.Snapshot().IsScreenSharing)

	require.Eventually(t, func() bool {
		for _, s := range w.all() {
			if s.Error != nil && s.Error.Kind == signaling.Screen {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	p := newParticipant(t, signaling.NewMemoryRelay(), "alice")
	require.NoError(t, p.m.StartCall(context.Background()))

	var w watcher
	unsubscribe := p.m.Subscribe(w.add)
	require.Len(t, w.all(), 1)
	assert.NotNil(t, w.all()[0].LocalStream)

	unsubscribe()
	before := len(w.all())
	p.m.ToggleCamera(false)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, w.all(), before)
}

func TestRemoteLeaveHangsUpBothConnections(t *testing.T) {
	p := newParticipant(t, signaling.NewMemoryRelay(), "alice")
	require.NoError(t, p.m.StartCall(context.Background()))

	p.ep.Deliver(offer(t, "bob", signaling.Broadcast, signaling.Camera))
	p.ep.Deliver(signaling.Message{From: "bob", To: signaling.Broadcast, Type: signaling.TypeStartScreen, ConnectionType: signaling.Screen})
	p.ep.Deliver(signaling.Message{From: "bob", To: "alice", Type: signaling.TypeSyncCamera,
		States: &signaling.States{CameraOn: signaling.Bool(true), MicOn: signaling.Bool(true)}})
	require.Len(t, p.conns.Conns(), 2)
	assert.Equal(t, RemoteStates{CameraOn: true, MicOn: true, ScreenSharing: true}, p.m.Snapshot().Remote)

	// Each negotiator's leave hook clears the intents of its connection.
	p.ep.Deliver(signaling.Message{From: "bob", To: signaling.Broadcast, Type: signaling.TypeLeave})

	for _, c := range p.conns.Conns() {
		assert.True(t, c.Closed())
	}
	s := p.m.Snapshot()
	assert.Equal(t, RemoteStates{}, s.Remote)
	assert.NotNil(t, s.LocalStream)
	assert.Equal(t, webrtc.PeerConnectionStateClosed, s.CameraState)
}

func TestTwoParticipantsNegotiateOverRelay(t *testing.T) {
	relay := signaling.NewMemoryRelay()
	alice := newParticipant(t, relay, "alice")
	bob := newParticipant(t, relay, "bob")

	require.NoError(t, alice.m.StartCall(context.Background()))
	require.NoError(t, bob.m.StartCall(context.Background()))

	// bob's join reaches alice, who answers with her intents.
	require.Eventually(t, func() bool {
		return bob.m.Snapshot().Remote.CameraOn && bob.m.Snapshot().Remote.MicOn
	}, time.Second, 5*time.Millisecond)

	bobCamera := bob.conns.Conns()[0]
	aliceCamera := alice.conns.Conns()[0]
	bobCamera.FireNegotiationNeeded()

	require.Eventually(t, func() bool {
		return bobCamera.SignalingState() == webrtc.SignalingStateStable &&
			len(bob.sent(signaling.TypeOffer)) == 1 &&
			contains(bobCamera.Calls(), "setRemote:answer")
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, aliceCamera.Calls(), "setRemote:offer")

	// Candidates trickled after the answer go to the right peer.
	aliceCamera.FireCandidate("alice-host")
	require.Eventually(t, func() bool {
		return contains(bobCamera.Candidates(), "alice-host")
	}, time.Second, 5*time.Millisecond)

	// alice leaves; bob hangs up but keeps his camera.
	alice.m.LeaveCall()
	require.Eventually(t, func() bool { return bobCamera.Closed() }, time.Second, 5*time.Millisecond)
	assert.NotNil(t, bob.m.Snapshot().LocalStream)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
