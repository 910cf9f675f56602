// Package media models local and remote media: tracks produced by capture
// devices, the streams grouping them, and the device capability the
// negotiators acquire media through.
package media

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// ErrTrackStopped is returned when writing to a stopped track.
var ErrTrackStopped = errors.New("media: track stopped")

// EncodingHint describes how a video track should be encoded. It is kept on
// the track and read by whatever produces its samples.
type EncodingHint struct {
	Priority     string // "low" | "medium" | "high"
	MaxFramerate float64
}

// Track is a local media track backed by a pion sample track.
type Track struct {
	local    *webrtc.TrackLocalStaticSample
	kind     webrtc.RTPCodecType
	deviceID string
	label    string

	enabled atomic.Bool

	mu      sync.Mutex
	stopped bool
	hint    EncodingHint
	onEnded []func()
}

// NewTrack creates an enabled track of the given kind belonging to streamID.
// Video tracks carry H264, audio tracks Opus.
func NewTrack(kind webrtc.RTPCodecType, deviceID, label, streamID string) (*Track, error) {
	var capability webrtc.RTPCodecCapability
	switch kind {
	case webrtc.RTPCodecTypeVideo:
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000}
	case webrtc.RTPCodecTypeAudio:
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	default:
		return nil, fmt.Errorf("media: unsupported track kind %s", kind)
	}

	local, err := webrtc.NewTrackLocalStaticSample(capability, uuid.NewString(), streamID)
	if err != nil {
		return nil, fmt.Errorf("media: create %s track: %w", kind, err)
	}

	t := &Track{local: local, kind: kind, deviceID: deviceID, label: label}
	t.enabled.Store(true)
	return t, nil
}

// Local returns the pion track to attach to a connection.
func (t *Track) Local() webrtc.TrackLocal { return t.local }

func (t *Track) ID() string                { return t.local.ID() }
func (t *Track) Kind() webrtc.RTPCodecType { return t.kind }
func (t *Track) DeviceID() string          { return t.deviceID }
func (t *Track) Label() string             { return t.label }

// Enabled reports whether samples written to the track are sent.
func (t *Track) Enabled() bool { return t.enabled.Load() }

// SetEnabled mutes or unmutes the track in place. A disabled track stays
// attached to its sender; its samples are dropped.
func (t *Track) SetEnabled(on bool) { t.enabled.Store(on) }

// WriteSample forwards one encoded sample to the connection.
func (t *Track) WriteSample(s pionmedia.Sample) error {
	if t.Stopped() {
		return ErrTrackStopped
	}
	if !t.Enabled() {
		return nil
	}
	return t.local.WriteSample(s)
}

// SetHint records the encoding hint for the track.
func (t *Track) SetHint(h EncodingHint) {
	t.mu.Lock()
	t.hint = h
	t.mu.Unlock()
}

// Hint returns the last recorded encoding hint.
func (t *Track) Hint() EncodingHint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hint
}

// OnEnded registers fn to run when the track's source ends on its own, for
// example when the user stops a display capture outside the application.
func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = append(t.onEnded, fn)
	t.mu.Unlock()
}

// Stop releases the track. Ended hooks do not run. Safe to call repeatedly.
func (t *Track) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.onEnded = nil
	t.mu.Unlock()
}

// End stops the track as its source would and runs the ended hooks once.
func (t *Track) End() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	hooks := t.onEnded
	t.onEnded = nil
	t.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// Stopped reports whether Stop or End was called.
func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
