package transport

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// Options tune the pion API shared by every connection of a process.
type Options struct {
	// Loopback includes 127.0.0.1 host candidates, which lets two
	// participants on the same machine connect without a network.
	Loopback bool
	// PortMin/PortMax restrict the UDP ports used for ICE. Zero means any.
	PortMin uint16
	PortMax uint16
}

var videoFeedback = []webrtc.RTCPFeedback{
	{Type: "goog-remb"},
	{Type: "ccm", Parameter: "fir"},
	{Type: webrtc.TypeRTCPFBNACK},
	{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"},
}

// videoCodecs lists the video codecs offered, H264 first.
var videoCodecs = []webrtc.RTPCodecParameters{
	{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     webrtc.MimeTypeH264,
			ClockRate:    90000,
			SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			RTCPFeedback: videoFeedback,
		},
		PayloadType: 102,
	},
	{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     webrtc.MimeTypeVP8,
			ClockRate:    90000,
			RTCPFeedback: videoFeedback,
		},
		PayloadType: 96,
	},
}

var audioCodecs = []webrtc.RTPCodecParameters{
	{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	},
}

// API builds peer connections that share one media engine and interceptor
// registry.
type API struct {
	api *webrtc.API
}

// NewAPI registers H264, VP8 and Opus plus pion's default interceptors
// (NACK, RTCP reports, TWCC).
func NewAPI(opts Options) (*API, error) {
	m := &webrtc.MediaEngine{}
	for _, c := range videoCodecs {
		if err := m.RegisterCodec(c, webrtc.RTPCodecTypeVideo); err != nil {
			return nil, fmt.Errorf("register %s: %w", c.MimeType, err)
		}
	}
	for _, c := range audioCodecs {
		if err := m.RegisterCodec(c, webrtc.RTPCodecTypeAudio); err != nil {
			return nil, fmt.Errorf("register %s: %w", c.MimeType, err)
		}
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	s := webrtc.SettingEngine{}
	s.SetIncludeLoopbackCandidate(opts.Loopback)
	if opts.PortMin != 0 || opts.PortMax != 0 {
		if err := s.SetEphemeralUDPPortRange(opts.PortMin, opts.PortMax); err != nil {
			return nil, fmt.Errorf("port range: %w", err)
		}
	}

	return &API{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(s),
		),
	}, nil
}

// NewConn creates a connection configured with the given ICE servers.
func (a *API) NewConn(servers []webrtc.ICEServer) (*Peer, error) {
	pc, err := a.api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return newPeer(pc), nil
}

// Factory returns a constructor producing connections with the given ICE
// servers, in the form the negotiators expect.
func (a *API) Factory(servers []webrtc.ICEServer) Factory {
	return func() (Conn, error) {
		return a.NewConn(servers)
	}
}
