package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

var (
	ErrPermissionDenied = errors.New("media: permission denied")
	ErrDeviceNotFound   = errors.New("media: device not found")
)

// DeviceKind mirrors the browser's MediaDeviceInfo kinds.
type DeviceKind string

const (
	VideoInput DeviceKind = "videoinput"
	AudioInput DeviceKind = "audioinput"
)

// DeviceInfo describes one capture device.
type DeviceInfo struct {
	ID    string
	Label string
	Kind  DeviceKind
}

// Constraints select what UserMedia captures. An empty device id picks the
// first device of the kind.
type Constraints struct {
	Audio         bool
	Video         bool
	AudioDeviceID string
	VideoDeviceID string
}

// Devices is the capture capability negotiators acquire local media from.
type Devices interface {
	Enumerate(ctx context.Context) ([]DeviceInfo, error)
	UserMedia(ctx context.Context, c Constraints) (*Stream, error)
	DisplayMedia(ctx context.Context) (*Stream, error)
}

// Synthetic is a Devices implementation over a fixed catalog. Its tracks are
// real pion sample tracks, so they can be negotiated and fed with samples,
// but nothing is captured.
type Synthetic struct {
	mu          sync.Mutex
	catalog     []DeviceInfo
	denyUser    bool
	denyDisplay bool
}

var _ Devices = (*Synthetic)(nil)

// DefaultCatalog is used when NewSynthetic is given no devices.
var DefaultCatalog = []DeviceInfo{
	{ID: "camera-0", Label: "Synthetic Camera", Kind: VideoInput},
	{ID: "microphone-0", Label: "Synthetic Microphone", Kind: AudioInput},
}

// NewSynthetic creates a device source offering catalog.
func NewSynthetic(catalog ...DeviceInfo) *Synthetic {
	if len(catalog) == 0 {
		catalog = DefaultCatalog
	}
	return &Synthetic{catalog: append([]DeviceInfo(nil), catalog...)}
}

// DenyUserMedia makes camera/microphone requests fail with
// ErrPermissionDenied.
func (s *Synthetic) DenyUserMedia(deny bool) {
	s.mu.Lock()
	s.denyUser = deny
	s.mu.Unlock()
}

// DenyDisplayMedia makes display capture requests fail with
// ErrPermissionDenied.
func (s *Synthetic) DenyDisplayMedia(deny bool) {
	s.mu.Lock()
	s.denyDisplay = deny
	s.mu.Unlock()
}

func (s *Synthetic) Enumerate(ctx context.Context) ([]DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeviceInfo(nil), s.catalog...), nil
}

func (s *Synthetic) UserMedia(ctx context.Context, c Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	deny := s.denyUser
	s.mu.Unlock()
	if deny {
		return nil, ErrPermissionDenied
	}

	// Audio first, matching the track order browsers return.
	stream := NewStream()
	if c.Audio {
		dev, err := s.find(AudioInput, c.AudioDeviceID)
		if err != nil {
			return nil, err
		}
		t, err := NewTrack(webrtc.RTPCodecTypeAudio, dev.ID, dev.Label, stream.ID())
		if err != nil {
			stream.Stop()
			return nil, err
		}
		stream.Add(t)
	}
	if c.Video {
		dev, err := s.find(VideoInput, c.VideoDeviceID)
		if err != nil {
			stream.Stop()
			return nil, err
		}
		t, err := NewTrack(webrtc.RTPCodecTypeVideo, dev.ID, dev.Label, stream.ID())
		if err != nil {
			stream.Stop()
			return nil, err
		}
		stream.Add(t)
	}
	return stream, nil
}

func (s *Synthetic) DisplayMedia(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	deny := s.denyDisplay
	s.mu.Unlock()
	if deny {
		return nil, ErrPermissionDenied
	}

	stream := NewStream()
	t, err := NewTrack(webrtc.RTPCodecTypeVideo, "screen-0", "Entire Screen", stream.ID())
	if err != nil {
		return nil, err
	}
	stream.Add(t)
	return stream, nil
}

func (s *Synthetic) find(kind DeviceKind, id string) (DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.catalog {
		if d.Kind == kind && (id == "" || d.ID == id) {
			return d, nil
		}
	}
	if id == "" {
		return DeviceInfo{}, fmt.Errorf("%w: no %s", ErrDeviceNotFound, kind)
	}
	return DeviceInfo{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
}
