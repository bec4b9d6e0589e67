// Package delivery serves the active session's selected file over HTTP with
// single byte-range support.
package delivery

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"sync"

	"github.com/mtahle/torrent-streamer/internal/domain"
	applog "github.com/mtahle/torrent-streamer/internal/log"
	"github.com/mtahle/torrent-streamer/internal/media"
	"github.com/mtahle/torrent-streamer/internal/metrics"
	"github.com/rs/zerolog"
)

const copyBufferSize = 256 << 10

// File is a point-in-time handle on the active file.
type File interface {
	Session() domain.ActiveStreamSession
	// OpenRange reads [start, end] inclusive; a negative end reads to EOF.
	OpenRange(ctx context.Context, start, end int64) (io.ReadCloser, error)
}

// Lookup returns the active file, or false when nothing is active.
type Lookup func() (File, bool)

// ErrorWriter renders a domain failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

type Options struct {
	Lookup     Lookup
	WriteError ErrorWriter
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

type Engine struct {
	lookup     Lookup
	writeError ErrorWriter
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	bufs       sync.Pool
}

func New(opts Options) *Engine {
	we := opts.WriteError
	if we == nil {
		we = plainError
	}
	return &Engine{
		lookup:     opts.Lookup,
		writeError: we,
		logger:     opts.Logger.With().Str(applog.FieldComponent, "delivery").Logger(),
		metrics:    opts.Metrics,
		bufs: sync.Pool{New: func() any {
			b := make([]byte, copyBufferSize)
			return &b
		}},
	}
}

func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		e.writeError(w, r, domain.NewError(domain.CodeUnsupportedAction, "method %s not allowed", r.Method))
		return
	}

	var (
		file File
		ok   bool
	)
	if e.lookup != nil {
		file, ok = e.lookup()
	}
	if !ok {
		e.writeError(w, r, domain.NewError(domain.CodeNoActiveSession, "no active stream"))
		return
	}

	sess := file.Session()
	size := sess.FileSize
	status := http.StatusOK
	rng := Range{Start: 0, End: size - 1}
	if h := r.Header.Get("Range"); h != "" {
		parsed, err := ParseRange(h, size)
		if err == nil {
			rng = parsed
			status = http.StatusPartialContent
		} else {
			e.logger.Debug().Str(applog.FieldRange, h).Int64("size", size).Msg("range_ignored")
		}
	}

	writeHeaders(w.Header(), sess)
	if status == http.StatusPartialContent {
		w.Header().Set("Content-Range", FormatContentRange(rng, size))
	}
	w.Header().Set("Content-Length", strconv.FormatInt(max(rng.Length(), 0), 10))

	if r.Method == http.MethodHead || size <= 0 {
		w.WriteHeader(status)
		return
	}

	body, err := file.OpenRange(r.Context(), rng.Start, rng.End)
	if err != nil {
		clearBodyHeaders(w.Header())
		e.writeError(w, r, err)
		return
	}
	defer body.Close()

	w.WriteHeader(status)
	n, err := e.copy(w, body)
	e.metrics.AddStreamBytes(n)
	if err != nil && !errors.Is(err, context.Canceled) {
		// Headers are out; all that is left is to stop writing.
		e.logger.Warn().Err(err).
			Str(applog.FieldSessionID, sess.SessionID).
			Int64("written", n).
			Int64("expected", rng.Length()).
			Msg("stream_aborted")
		return
	}
	e.logger.Debug().
		Str(applog.FieldSessionID, sess.SessionID).
		Int("status", status).
		Int64("bytes", n).
		Msg("stream_served")
}

func (e *Engine) copy(w io.Writer, r io.Reader) (int64, error) {
	bp := e.bufs.Get().(*[]byte)
	defer e.bufs.Put(bp)
	return io.CopyBuffer(w, r, *bp)
}

func writeHeaders(h http.Header, s domain.ActiveStreamSession) {
	h.Set("Content-Type", s.MimeType)
	if s.MimeType == "" {
		h.Set("Content-Type", media.ContentType(s.FileName))
	}
	h.Set("Accept-Ranges", "bytes")
	h.Set("Cache-Control", "no-store")
	h.Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{
		"filename": media.SafeFilename(s.Title, s.FileName),
	}))
	// DLNA renderers refuse to seek without these.
	h.Set("transferMode.dlna.org", "Streaming")
	h.Set("contentFeatures.dlna.org", "DLNA.ORG_OP=01;DLNA.ORG_CI=0")
	setIf(h, "X-Media-Title", s.Title)
	setIf(h, "X-Media-Quality", s.Quality)
	setIf(h, "X-Media-Year", s.Year)
}

func clearBodyHeaders(h http.Header) {
	for _, k := range []string{"Content-Range", "Content-Length", "Content-Disposition", "Accept-Ranges"} {
		h.Del(k)
	}
}

func setIf(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}

func plainError(w http.ResponseWriter, _ *http.Request, err error) {
	status := http.StatusInternalServerError
	switch domain.CodeOf(err) {
	case domain.CodeNoActiveSession:
		status = http.StatusNotFound
	case domain.CodeUnsupportedAction:
		status = http.StatusMethodNotAllowed
	case domain.CodeSourceUnavailable:
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}
