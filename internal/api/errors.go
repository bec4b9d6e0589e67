package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/mtahle/torrent-streamer/internal/domain"
	"github.com/rs/zerolog"
)

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code           domain.Code `json:"code"`
	Message        string      `json:"message"`
	SuggestedFixes []string    `json:"suggested_fixes,omitempty"`
}

// StatusFor maps a failure code to its HTTP status.
func StatusFor(code domain.Code) int {
	switch code {
	case domain.CodeInvalidSelection, domain.CodeInvalidParameter, domain.CodeUnsupportedAction:
		return http.StatusBadRequest
	case domain.CodeNoActiveSession, domain.CodeDeviceNotFound, domain.CodeNoActiveCast, domain.CodeStreamNotFound:
		return http.StatusNotFound
	case domain.CodeSourceUnavailable, domain.CodeEncoderUnavailable, domain.CodeDeviceCommunicationError:
		return http.StatusServiceUnavailable
	case domain.CodeResolutionTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorWriter(logger zerolog.Logger) func(w http.ResponseWriter, r *http.Request, err error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		writeError(w, r, logger, err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error) {
	payload := errorPayload{Code: domain.CodeInternal, Message: "internal error"}
	var de *domain.Error
	if errors.As(err, &de) {
		payload = errorPayload{Code: de.Code, Message: de.Message, SuggestedFixes: de.SuggestedFixes}
	}
	status := StatusFor(payload.Code)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", r.URL.Path).Str("code", string(payload.Code)).Msg("request_failed")
	} else {
		logger.Debug().Err(err).Str("path", r.URL.Path).Str("code", string(payload.Code)).Msg("request_rejected")
	}
	writeJSON(w, status, errorBody{Error: payload})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return domain.Wrap(domain.CodeInvalidParameter, err, "malformed JSON body")
	}
	return nil
}
