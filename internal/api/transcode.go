package api

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mtahle/torrent-streamer/internal/domain"
	"github.com/mtahle/torrent-streamer/internal/transcode"
)

type rtpBody struct {
	Port          int    `json:"port"`
	Multicast     *bool  `json:"multicast"`
	MulticastAddr string `json:"multicastAddr"`
	TTL           int    `json:"ttl"`
	Announce      *bool  `json:"announce"`
}

type udpBody struct {
	Port          int    `json:"port"`
	MulticastAddr string `json:"multicastAddr"`
	TTL           int    `json:"ttl"`
	Announce      *bool  `json:"announce"`
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// activeInput returns an opener over the active file plus its title.
func (h *handler) activeInput() (transcode.Opener, transcode.Metadata, error) {
	if h.deps.Active == nil {
		return nil, transcode.Metadata{}, domain.NewError(domain.CodeNoActiveSession, "no active session")
	}
	f, ok := h.deps.Active()
	if !ok {
		return nil, transcode.Metadata{}, &domain.Error{
			Code:           domain.CodeNoActiveSession,
			Message:        "no active session to transcode",
			SuggestedFixes: []string{"Start a session with POST /start first."},
		}
	}
	sess := f.Session()
	title := sess.Title
	if title == "" {
		title = sess.FileName
	}
	open := func(ctx context.Context) (io.ReadCloser, error) {
		return f.OpenRange(ctx, 0, -1)
	}
	return open, transcode.Metadata{Title: title}, nil
}

// startRTP handles POST /transcode/rtp. Multicast and announce default to true.
func (h *handler) startRTP(w http.ResponseWriter, r *http.Request) {
	var body rtpBody
	if err := decodeJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	open, meta, err := h.activeInput()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ts, err := h.deps.Transcode.StartRTP(r.Context(), open, meta, transcode.RTPOptions{
		Port:          body.Port,
		Multicast:     boolOr(body.Multicast, true),
		MulticastAddr: body.MulticastAddr,
		TTL:           body.TTL,
		Announce:      boolOr(body.Announce, true),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ts)
}

// startUDP handles POST /transcode/udp.
func (h *handler) startUDP(w http.ResponseWriter, r *http.Request) {
	var body udpBody
	if err := decodeJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	open, meta, err := h.activeInput()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ts, err := h.deps.Transcode.StartUDP(r.Context(), open, meta, transcode.UDPOptions{
		Port:          body.Port,
		MulticastAddr: body.MulticastAddr,
		TTL:           body.TTL,
		Announce:      boolOr(body.Announce, true),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ts)
}

func (h *handler) transcodeStatusAll(w http.ResponseWriter, _ *http.Request) {
	streams := h.deps.Transcode.StatusAll()
	if streams == nil {
		streams = []domain.TranscodeStream{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"streams": streams})
}

func (h *handler) transcodeStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ts, ok := h.deps.Transcode.Status(id)
	if !ok {
		h.fail(w, r, domain.NewError(domain.CodeStreamNotFound, "no transcode stream %q", id))
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (h *handler) transcodeStop(w http.ResponseWriter, r *http.Request) {
	ts, err := h.deps.Transcode.Stop(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (h *handler) announcements(w http.ResponseWriter, _ *http.Request) {
	var list []domain.AnnouncementInfo
	if h.deps.Announcements != nil {
		list = h.deps.Announcements.ActiveAnnouncements()
	}
	if list == nil {
		list = []domain.AnnouncementInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"announcements": list})
}
