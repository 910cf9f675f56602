package negotiator

import (
	"context"

	"github.com/1ureka/duet/internal/media"
	"github.com/1ureka/duet/internal/signaling"
)

// Profile captures what differs between the camera and the screen
// connection: which media it acquires and when.
type Profile struct {
	Kind signaling.ConnectionType
	// AcquireOnInit acquires media in Init. Otherwise media is only
	// acquired by StartShare.
	AcquireOnInit bool
	Acquire       func(ctx context.Context, d media.Devices) (*media.Stream, error)
	// Hint is applied to outgoing video tracks.
	Hint media.EncodingHint
}

var (
	Camera = Profile{
		Kind:          signaling.Camera,
		AcquireOnInit: true,
		Acquire: func(ctx context.Context, d media.Devices) (*media.Stream, error) {
			return d.UserMedia(ctx, media.Constraints{Audio: true, Video: true})
		},
		Hint: media.EncodingHint{Priority: "high", MaxFramerate: 30},
	}

	Screen = Profile{
		Kind: signaling.Screen,
		Acquire: func(ctx context.Context, d media.Devices) (*media.Stream, error) {
			return d.DisplayMedia(ctx)
		},
		Hint: media.EncodingHint{Priority: "high", MaxFramerate: 15},
	}
)
