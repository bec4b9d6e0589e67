package cast

import (
	"context"
	"strings"

	"github.com/mtahle/torrent-streamer/internal/domain"
)

// Media is what a device is asked to load.
type Media struct {
	URL         string
	ContentType string
	Title       string
	Subtitles   []domain.SubtitleTrack
	Duration    float64
}

// subtitleURL picks the first track that carries a URL.
func (m Media) subtitleURL() string {
	for _, t := range m.Subtitles {
		if t.URL != "" {
			return t.URL
		}
	}
	return ""
}

// Observation is one state report from a device. Zero fields mean unknown.
type Observation struct {
	State    domain.CastStatus
	Position float64
	Duration float64
}

// Device is the capability set every family implements. Calls are
// blocking network round trips bounded by ctx.
type Device interface {
	Play(ctx context.Context, m Media) error
	Resume(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Seek(ctx context.Context, seconds float64) error
	// SetVolume takes a percentage in [0,100].
	SetVolume(ctx context.Context, level int) error
	Status(ctx context.Context) (Observation, error)
	Close() error
}

// Factory builds a Device for target. notify receives unsolicited state
// reports and must not block.
type Factory func(target domain.CastTarget, notify func(Observation)) (Device, error)

// normalizeState maps DLNA transport states, Chromecast player states and
// AirPlay rates onto the shared vocabulary. Unknown input maps to "".
func normalizeState(s string) domain.CastStatus {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	switch s {
	case "playing":
		return domain.CastPlaying
	case "paused", "paused_playback":
		return domain.CastPaused
	case "stopped", "no_media_present", "finished":
		return domain.CastStopped
	case "buffering", "transitioning", "loading":
		return domain.CastLoading
	case "idle":
		return domain.CastIdle
	default:
		return ""
	}
}
