// Package media supplies the local tracks attached to a call. Device
// capture is out of scope; the synthetic source produces real pion tracks
// so that adding media mid-call exercises renegotiation.
package media

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/BioHazard786/warproom/internal/config"
)

// Source hands out the local tracks for one call.
type Source interface {
	Tracks(ctx context.Context) ([]webrtc.TrackLocal, error)
}

// New returns the source for a config media mode.
func New(mode string) (Source, error) {
	switch mode {
	case "", config.MediaNone:
		return None{}, nil
	case config.MediaSynthetic:
		return &Synthetic{}, nil
	default:
		return nil, fmt.Errorf("unknown media mode %q", mode)
	}
}

// None attaches no tracks; calls carry only the data channel.
type None struct{}

func (None) Tracks(context.Context) ([]webrtc.TrackLocal, error) {
	return nil, nil
}

// Synthetic produces one Opus audio track and one VP8 video track per call.
// The audio track carries Opus silence frames once Pump is running; video
// stays empty.
type Synthetic struct {
	StreamID string
}

const frameDuration = 20 * time.Millisecond

var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Tracks creates a fresh audio/video pair.
func (s *Synthetic) Tracks(ctx context.Context) ([]webrtc.TrackLocal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream := s.StreamID
	if stream == "" {
		stream = "warproom-" + uuid.NewString()[:8]
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", stream,
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", stream,
	)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}

	return []webrtc.TrackLocal{audio, video}, nil
}

// Pump writes Opus silence to every audio sample track in tracks until ctx
// is done. Writes to unbound tracks are no-ops in pion.
func Pump(ctx context.Context, tracks []webrtc.TrackLocal) error {
	var audio []*webrtc.TrackLocalStaticSample
	for _, t := range tracks {
		if st, ok := t.(*webrtc.TrackLocalStaticSample); ok && t.Kind() == webrtc.RTPCodecTypeAudio {
			audio = append(audio, st)
		}
	}
	if len(audio) == 0 {
		return nil
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, t := range audio {
				if err := t.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: frameDuration}); err != nil {
					return fmt.Errorf("write sample: %w", err)
				}
			}
		}
	}
}
