package media

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Stream groups the local tracks acquired together.
type Stream struct {
	id string

	mu     sync.Mutex
	tracks []*Track
}

// NewStream creates a stream with a fresh id.
func NewStream() *Stream {
	return &Stream{id: uuid.NewString()}
}

func (s *Stream) ID() string { return s.id }

// Add appends t to the stream.
func (s *Stream) Add(t *Track) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

// Tracks returns the stream's tracks in insertion order.
func (s *Stream) Tracks() []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Track(nil), s.tracks...)
}

// Track returns the first track of kind, or nil.
func (s *Stream) Track(kind webrtc.RTPCodecType) *Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

// Replace swaps old for next in place. It reports false when old is not
// part of the stream.
func (s *Stream) Replace(old, next *Track) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tracks {
		if t == old {
			s.tracks[i] = next
			return true
		}
	}
	return false
}

// Stop stops every track of the stream.
func (s *Stream) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// RemoteTrack is the part of an inbound track the call layer needs.
// *webrtc.TrackRemote implements it.
type RemoteTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
}

var _ RemoteTrack = (*webrtc.TrackRemote)(nil)

// RemoteStream collects the tracks received from the other participant.
type RemoteStream struct {
	mu     sync.Mutex
	tracks []RemoteTrack
}

// Add records an inbound track.
func (r *RemoteStream) Add(t RemoteTrack) {
	r.mu.Lock()
	r.tracks = append(r.tracks, t)
	r.mu.Unlock()
}

// Tracks returns the inbound tracks in arrival order.
func (r *RemoteStream) Tracks() []RemoteTrack {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RemoteTrack(nil), r.tracks...)
}
