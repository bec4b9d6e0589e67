package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/mtahle/torrent-streamer/internal/domain"
	"github.com/mtahle/torrent-streamer/internal/session"
)

type startBody struct {
	Source  string `json:"source"`
	Title   string `json:"title"`
	Quality string `json:"quality"`
	Year    string `json:"year"`
}

type selectBody struct {
	Index *int `json:"index"`
}

// start handles POST /start.
func (h *handler) start(w http.ResponseWriter, r *http.Request) {
	var body startBody
	if err := decodeJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	sess, err := h.deps.Sessions.Start(r.Context(), session.StartRequest{
		Source:  body.Source,
		Title:   body.Title,
		Quality: body.Quality,
		Year:    body.Year,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// stop handles POST /stop. Stopping with nothing active succeeds.
func (h *handler) stop(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Sessions.Stop(r.Context()); err != nil {
		// Teardown ran to completion; report what failed along the way.
		h.logger.Warn().Err(err).Msg("stop_partial_failure")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": true})
}

func (h *handler) files(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Sessions.Files())
}

// selectFile handles POST /select {index}.
func (h *handler) selectFile(w http.ResponseWriter, r *http.Request) {
	var body selectBody
	if err := decodeJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	if body.Index == nil {
		h.fail(w, r, domain.NewError(domain.CodeInvalidSelection, "index is required"))
		return
	}
	fd, err := h.deps.Sessions.SelectFile(*body.Index)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fd)
}

func (h *handler) status(w http.ResponseWriter, _ *http.Request) {
	st := h.deps.Sessions.Status()
	if st == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"running": false})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) snapshot(w http.ResponseWriter, r *http.Request) {
	st, err := h.deps.Sessions.Snapshot(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// subtitles handles GET /subtitles, listing tracks with fetchable URLs.
func (h *handler) subtitles(w http.ResponseWriter, r *http.Request) {
	tracks, err := h.deps.Sessions.Subtitles()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	base := h.baseURL(r)
	for i := range tracks {
		tracks[i].URL = base + "/subtitles/" + strconv.Itoa(tracks[i].Index)
	}
	writeJSON(w, http.StatusOK, map[string]any{"subtitles": tracks})
}

// subtitleFile handles GET /subtitles/{index}.
func (h *handler) subtitleFile(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		h.fail(w, r, domain.NewError(domain.CodeInvalidSelection, "subtitle index %q is not a number", chi.URLParam(r, "index")))
		return
	}
	rc, track, err := h.deps.Sessions.SubtitleFile(r.Context(), index)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", track.ContentType)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Debug().Err(err).Int("index", index).Msg("subtitle_copy_aborted")
	}
}
