package transport

import (
	"fmt"
	"strconv"

	"github.com/pion/sdp/v3"
)

// Codec is one negotiated payload type of a media section.
type Codec struct {
	Media       string
	PayloadType uint8
	Name        string
	ClockRate   uint32
}

// Codecs lists the payload types of every media section of raw, in SDP
// order. Formats without an rtpmap entry are skipped.
func Codecs(raw string) ([]Codec, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return nil, fmt.Errorf("parse sdp: %w", err)
	}

	var out []Codec
	for _, md := range sd.MediaDescriptions {
		for _, format := range md.MediaName.Formats {
			pt, err := strconv.ParseUint(format, 10, 8)
			if err != nil {
				continue
			}
			c, err := sd.GetCodecForPayloadType(uint8(pt))
			if err != nil {
				continue
			}
			out = append(out, Codec{
				Media:       md.MediaName.Media,
				PayloadType: c.PayloadType,
				Name:        c.Name,
				ClockRate:   c.ClockRate,
			})
		}
	}
	return out, nil
}

// VideoCodec returns the first video codec name of raw, or "" when there is
// none.
func VideoCodec(raw string) string {
	codecs, err := Codecs(raw)
	if err != nil {
		return ""
	}
	for _, c := range codecs {
		if c.Media == "video" {
			return c.Name
		}
	}
	return ""
}
