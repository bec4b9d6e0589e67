package api

import (
	"net/http"

	"github.com/mtahle/torrent-streamer/internal/cast"
)

type castBody struct {
	TargetID  string `json:"targetId"`
	StreamURL string `json:"streamUrl"`
	Title     string `json:"title"`
}

type controlBody struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

func (h *handler) castDevices(w http.ResponseWriter, r *http.Request) {
	targets, err := h.deps.Cast.Devices(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": targets})
}

// cast handles POST /cast. The stream URL defaults to this server's /stream
// and the content type and title come from the active session when present.
func (h *handler) cast(w http.ResponseWriter, r *http.Request) {
	var body castBody
	if err := decodeJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	base := h.baseURL(r)
	req := cast.Request{
		TargetID:        body.TargetID,
		StreamURL:       body.StreamURL,
		Title:           body.Title,
		SubtitleBaseURL: base,
	}
	if req.StreamURL == "" {
		req.StreamURL = base + "/stream"
	}
	if h.deps.Active != nil {
		if f, ok := h.deps.Active(); ok {
			sess := f.Session()
			req.ContentType = sess.MimeType
			if req.Title == "" {
				req.Title = sess.Title
			}
			if req.Title == "" {
				req.Title = sess.FileName
			}
		}
	}
	cs, err := h.deps.Cast.Cast(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

// castControl handles POST /cast/control {action, params}.
func (h *handler) castControl(w http.ResponseWriter, r *http.Request) {
	var body controlBody
	if err := decodeJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	cs, err := h.deps.Cast.Control(r.Context(), body.Action, body.Params)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (h *handler) castStatus(w http.ResponseWriter, _ *http.Request) {
	cs := h.deps.Cast.Status()
	if cs == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, cs)
}
