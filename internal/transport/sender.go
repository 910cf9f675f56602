package transport

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

var errNoTransceiver = errors.New("transport: no transceiver for sender")

// rtpSender adapts a pion RTPSender to Sender.
type rtpSender struct {
	pc *webrtc.PeerConnection
	s  *webrtc.RTPSender
}

func (r *rtpSender) Track() webrtc.TrackLocal { return r.s.Track() }

// ReplaceTrack swaps the outgoing track without renegotiation.
func (r *rtpSender) ReplaceTrack(track webrtc.TrackLocal) error {
	return r.s.ReplaceTrack(track)
}

// PreferCodec reorders the registered codecs of the sender's transceiver so
// that mimeType comes first.
func (r *rtpSender) PreferCodec(mimeType string) error {
	for _, tr := range r.pc.GetTransceivers() {
		if tr.Sender() != r.s {
			continue
		}
		codecs, err := preferred(codecsFor(tr.Kind()), mimeType)
		if err != nil {
			return err
		}
		return tr.SetCodecPreferences(codecs)
	}
	return errNoTransceiver
}

func codecsFor(kind webrtc.RTPCodecType) []webrtc.RTPCodecParameters {
	if kind == webrtc.RTPCodecTypeAudio {
		return audioCodecs
	}
	return videoCodecs
}

// preferred returns codecs with those matching mimeType moved to the front,
// keeping relative order otherwise.
func preferred(codecs []webrtc.RTPCodecParameters, mimeType string) ([]webrtc.RTPCodecParameters, error) {
	var first, rest []webrtc.RTPCodecParameters
	for _, c := range codecs {
		if strings.EqualFold(c.MimeType, mimeType) {
			first = append(first, c)
		} else {
			rest = append(rest, c)
		}
	}
	if len(first) == 0 {
		return nil, fmt.Errorf("codec %s not available", mimeType)
	}
	return append(first, rest...), nil
}

// drainRTCP reads RTCP for s until the sender stops. Interceptors such as
// NACK only run while RTCP is being read.
func drainRTCP(s *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := s.Read(buf); err != nil {
			return
		}
	}
}
