package app

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/duet/internal/call"
	"github.com/1ureka/duet/internal/config"
	"github.com/1ureka/duet/internal/media"
	"github.com/1ureka/duet/internal/signaling"
	"github.com/1ureka/duet/internal/transport/transporttest"
	"github.com/1ureka/duet/internal/util"
)

func TestMain(m *testing.M) {
	util.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

func startedManager(t *testing.T) *call.Manager {
	t.Helper()
	m := call.New(call.Config{
		Participant:        "alice",
		Session:            "s1",
		Signaling:          signaling.NewMemoryRelay().Endpoint("s1", "alice"),
		Devices:            media.NewSynthetic(),
		NewConn:            (&transporttest.Factory{}).New,
		NegotiationTimeout: -1,
	})
	t.Cleanup(m.LeaveCall)
	require.NoError(t, m.StartCall(context.Background()))
	return m
}

func TestConsoleToggles(t *testing.T) {
	m := startedManager(t)
	c := NewConsole(m, io.Discard)
	ctx := context.Background()

	require.NoError(t, c.Exec(ctx, "camera off"))
	require.NoError(t, c.Exec(ctx, "mic OFF"))
	require.NoError(t, c.Exec(ctx, "share on"))

	s := m.Snapshot()
	assert.False(t, s.CameraOn)
	assert.False(t, s.MicOn)
	assert.True(t, s.IsScreenSharing)

	require.NoError(t, c.Exec(ctx, "share off"))
	assert.False(t, m.Snapshot().IsScreenSharing)
}

func TestConsoleRejectsBadInput(t *testing.T) {
	c := NewConsole(startedManager(t), io.Discard)
	ctx := context.Background()

	assert.NoError(t, c.Exec(ctx, "   "))
	assert.ErrorContains(t, c.Exec(ctx, "camera"), "usage")
	assert.ErrorContains(t, c.Exec(ctx, "mic maybe"), "expected on or off")
	assert.ErrorContains(t, c.Exec(ctx, "switch speaker x"), "unknown device kind")
	assert.ErrorContains(t, c.Exec(ctx, "dance"), "unknown command")
	assert.ErrorIs(t, c.Exec(ctx, "switch camera nope"), media.ErrDeviceNotFound)
}

func TestConsoleTables(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(startedManager(t), &out)
	ctx := context.Background()

	require.NoError(t, c.Exec(ctx, "devices"))
	assert.Contains(t, out.String(), "camera-0")
	assert.Contains(t, out.String(), "microphone-0")

	out.Reset()
	require.NoError(t, c.Exec(ctx, "status"))
	assert.Contains(t, out.String(), "alice")
	assert.Contains(t, out.String(), "s1")
}

func TestConsoleRunLeaves(t *testing.T) {
	m := startedManager(t)
	c := NewConsole(m, io.Discard)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), strings.NewReader("camera off\nbogus\nleave\nmic off\n")) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("console did not stop on leave")
	}

	assert.ErrorIs(t, m.StartCall(context.Background()), call.ErrCallEnded)
}

func TestConsoleRunStopsOnCancel(t *testing.T) {
	c := NewConsole(startedManager(t), io.Discard)
	ctx, cancel := context.WithCancel(context.Background())

	r, w := io.Pipe()
	defer w.Close()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, r) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("console ignored cancellation")
	}
}

func TestDescribe(t *testing.T) {
	prev := call.Snapshot{CameraState: webrtc.PeerConnectionStateNew, ScreenState: webrtc.PeerConnectionStateNew}
	next := prev
	next.CameraState = webrtc.PeerConnectionStateConnected
	next.Remote = call.RemoteStates{CameraOn: true, ScreenSharing: true}
	next.RemoteStream = &media.RemoteStream{}
	next.RemoteStream.Add(transporttest.RemoteTrack{TrackID: "v", TrackKind: webrtc.RTPCodecTypeVideo})

	assert.Equal(t, []string{
		"Camera connection connected",
		"Receiving 1 remote track(s)",
		"Remote camera on",
		"Remote screen share on",
	}, describe(prev, next))

	assert.Empty(t, describe(next, next))
}

func TestRegistryBuildsManagersFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Participant = "alice"
	cfg.Session = "s1"
	cfg.Glare = config.GlareTieBreak

	conns := &transporttest.Factory{}
	reg := newRegistry(cfg, conns.New, media.NewSynthetic())

	m, err := reg.Get(call.Key{Participant: "alice", Session: "s1"})
	require.NoError(t, err)
	t.Cleanup(m.LeaveCall)

	assert.Equal(t, "alice", m.Participant())
	assert.Equal(t, "s1", m.Session())

	// No signaling URL: the call starts and messages stay queued.
	require.NoError(t, m.StartCall(context.Background()))
	assert.Len(t, conns.Conns(), 1)
}
