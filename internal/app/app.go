// Package app contains the top-level orchestration of a participant.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duet/internal/call"
	"github.com/1ureka/duet/internal/config"
	"github.com/1ureka/duet/internal/ice"
	"github.com/1ureka/duet/internal/media"
	"github.com/1ureka/duet/internal/signaling"
	"github.com/1ureka/duet/internal/transport"
	"github.com/1ureka/duet/internal/util"
)

// NewRegistry builds the shared stack (ICE servers, pion API, devices) and
// returns a registry whose managers talk to the configured relay.
func NewRegistry(ctx context.Context, cfg *config.Config) (*call.Registry, error) {
	fetcher := &ice.Fetcher{URL: cfg.ICE.TURNURL, Token: cfg.ICE.TURNToken}
	servers := fetcher.Servers(ctx)

	api, err := transport.NewAPI(transport.Options{
		Loopback: cfg.Transport.Loopback,
		PortMin:  cfg.Transport.PortMin,
		PortMax:  cfg.Transport.PortMax,
	})
	if err != nil {
		return nil, fmt.Errorf("create webrtc api: %w", err)
	}

	return newRegistry(cfg, api.Factory(servers), media.NewSynthetic(cfg.Catalog()...)), nil
}

func newRegistry(cfg *config.Config, conns transport.Factory, devices media.Devices) *call.Registry {
	return call.NewRegistry(func(key call.Key) (*call.Manager, error) {
		return call.New(call.Config{
			Participant:        key.Participant,
			Session:            key.Session,
			Signaling:          signaling.NewService(cfg.SignalingURL, key.Session, key.Participant),
			Devices:            devices,
			NewConn:            conns,
			Glare:              cfg.GlarePolicy(),
			NegotiationTimeout: cfg.NegotiationTimeout,
		}), nil
	})
}

// Run orchestrates one participant's call:
//  1. Build the shared stack and the participant's manager
//  2. Start reporting snapshots and statistics
//  3. Start the call (media, signaling, join)
//  4. Execute console commands from in until "leave", EOF or ctx is done
//  5. Leave the call
func Run(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	// ── 1. Stack ───────────────────────────────────────────────────────
	registry, err := NewRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	m, err := registry.Get(call.Key{Participant: cfg.Participant, Session: cfg.Session})
	if err != nil {
		return err
	}
	defer m.LeaveCall()

	// ── 2. Reporting ───────────────────────────────────────────────────
	unsubscribe := m.Subscribe(newReporter().observe)
	defer unsubscribe()
	util.StartStatsReporter(ctx, cfg.StatsInterval)

	// ── 3. Join ────────────────────────────────────────────────────────
	if err := m.StartCall(ctx); err != nil {
		return err
	}
	util.LogSuccess("In session %s as %s, type \"help\" for commands", cfg.Session, cfg.Participant)

	// ── 4. Console ─────────────────────────────────────────────────────
	return NewConsole(m, out).Run(ctx, in)
}

// reporter logs what changed between consecutive snapshots.
type reporter struct {
	prev  call.Snapshot
	first bool
}

func newReporter() *reporter {
	return &reporter{first: true}
}

func (r *reporter) observe(s call.Snapshot) {
	if r.first {
		r.first = false
		r.prev = s
		return
	}
	for _, line := range describe(r.prev, s) {
		util.LogInfo("%s", line)
	}
	if s.Error != nil {
		util.LogError("%v", s.Error)
	}
	r.prev = s
}

// describe lists the user-visible differences between two snapshots.
func describe(prev, next call.Snapshot) []string {
	var out []string
	if prev.CameraState != next.CameraState {
		out = append(out, fmt.Sprintf("Camera connection %s", next.CameraState))
	}
	if prev.ScreenState != next.ScreenState && next.ScreenState != webrtc.PeerConnectionStateNew {
		out = append(out, fmt.Sprintf("Screen connection %s", next.ScreenState))
	}
	if n := remoteTracks(next.RemoteStream); n != remoteTracks(prev.RemoteStream) {
		out = append(out, fmt.Sprintf("Receiving %d remote track(s)", n))
	}
	if prev.Remote.CameraOn != next.Remote.CameraOn {
		out = append(out, fmt.Sprintf("Remote camera %s", onOff(next.Remote.CameraOn)))
	}
	if prev.Remote.MicOn != next.Remote.MicOn {
		out = append(out, fmt.Sprintf("Remote mic %s", onOff(next.Remote.MicOn)))
	}
	if prev.Remote.ScreenSharing != next.Remote.ScreenSharing {
		out = append(out, fmt.Sprintf("Remote screen share %s", onOff(next.Remote.ScreenSharing)))
	}
	if prev.IsScreenSharing != next.IsScreenSharing {
		out = append(out, fmt.Sprintf("Screen share %s", onOff(next.IsScreenSharing)))
	}
	return out
}

func remoteTracks(r *media.RemoteStream) int {
	if r == nil {
		return 0
	}
	return len(r.Tracks())
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
