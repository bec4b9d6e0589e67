// Package api is the HTTP front door: routing, request decoding and the
// mapping from component failures to HTTP statuses.
package api

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mtahle/torrent-streamer/internal/cast"
	"github.com/mtahle/torrent-streamer/internal/delivery"
	"github.com/mtahle/torrent-streamer/internal/domain"
	applog "github.com/mtahle/torrent-streamer/internal/log"
	"github.com/mtahle/torrent-streamer/internal/metrics"
	"github.com/mtahle/torrent-streamer/internal/session"
	"github.com/mtahle/torrent-streamer/internal/transcode"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// Sessions is the session manager surface served over HTTP.
type Sessions interface {
	Start(ctx context.Context, req session.StartRequest) (domain.ActiveStreamSession, error)
	Stop(ctx context.Context) error
	Files() domain.FileListing
	SelectFile(index int) (domain.FileDescriptor, error)
	Status() *domain.SessionStatus
	Snapshot(ctx context.Context) (*domain.SessionStatus, error)
	Subtitles() ([]domain.SubtitleTrack, error)
	SubtitleFile(ctx context.Context, index int) (io.ReadCloser, domain.SubtitleTrack, error)
}

type Caster interface {
	Devices(ctx context.Context) ([]domain.CastTarget, error)
	Cast(ctx context.Context, req cast.Request) (domain.CastSession, error)
	Control(ctx context.Context, action string, params map[string]any) (domain.CastSession, error)
	Status() *domain.CastSession
}

type Transcoder interface {
	StartRTP(ctx context.Context, open transcode.Opener, meta transcode.Metadata, o transcode.RTPOptions) (domain.TranscodeStream, error)
	StartUDP(ctx context.Context, open transcode.Opener, meta transcode.Metadata, o transcode.UDPOptions) (domain.TranscodeStream, error)
	Stop(id string) (domain.TranscodeStream, error)
	Status(id string) (domain.TranscodeStream, bool)
	StatusAll() []domain.TranscodeStream
}

type Announcements interface {
	ActiveAnnouncements() []domain.AnnouncementInfo
}

type Deps struct {
	Sessions      Sessions
	Active        delivery.Lookup
	Cast          Caster
	Transcode     Transcoder
	Announcements Announcements
	Metrics       *metrics.Metrics
	Logger        zerolog.Logger

	// PublicBaseURL prefixes URLs handed to cast devices. When empty it is
	// derived from the request.
	PublicBaseURL string
	RateLimit     int
	RateWindow    time.Duration
}

type handler struct {
	deps   Deps
	logger zerolog.Logger
}

// NewRouter builds the HTTP handler for every route.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger.With().Str(applog.FieldComponent, "api").Logger()
	h := &handler{deps: deps, logger: logger}
	stream := delivery.New(delivery.Options{
		Lookup:     deps.Active,
		WriteError: errorWriter(logger),
		Logger:     deps.Logger,
		Metrics:    deps.Metrics,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(metrics.RequestMiddleware(deps.Metrics))

	r.Get("/healthz", h.healthz)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	r.Method(http.MethodGet, "/stream", stream)
	r.Method(http.MethodHead, "/stream", stream)

	r.Group(func(r chi.Router) {
		if deps.RateLimit > 0 && deps.RateWindow > 0 {
			r.Use(controlRateLimit(deps.RateLimit, deps.RateWindow))
		}

		r.Post("/start", h.start)
		r.Post("/stop", h.stop)
		r.Get("/files", h.files)
		r.Post("/select", h.selectFile)
		r.Get("/status", h.status)
		r.Post("/snapshot", h.snapshot)
		r.Get("/subtitles", h.subtitles)
		r.Get("/subtitles/{index}", h.subtitleFile)

		r.Route("/cast", func(r chi.Router) {
			r.Get("/devices", h.castDevices)
			r.Post("/", h.cast)
			r.Post("/control", h.castControl)
			r.Get("/status", h.castStatus)
		})

		r.Route("/transcode", func(r chi.Router) {
			r.Get("/", h.transcodeStatusAll)
			r.Post("/rtp", h.startRTP)
			r.Post("/udp", h.startUDP)
			r.Get("/{id}", h.transcodeStatus)
			r.Delete("/{id}", h.transcodeStop)
		})

		r.Get("/announcements", h.announcements)
	})
	return r
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, h.logger, err)
}

// baseURL is the externally reachable root of this server.
func (h *handler) baseURL(r *http.Request) string {
	if h.deps.PublicBaseURL != "" {
		return strings.TrimRight(h.deps.PublicBaseURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host
}
