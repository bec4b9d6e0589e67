package delivery

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mtahle/torrent-streamer/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memFile struct {
	session domain.ActiveStreamSession
	data    string
	opens   atomic.Int32
	closes  atomic.Int32
	openErr error
	readErr error
}

func newMemFile(data string) *memFile {
	return &memFile{
		data: data,
		session: domain.ActiveStreamSession{
			SessionID: "s1",
			FileName:  "dir/Movie.2019.mkv",
			FileSize:  int64(len(data)),
			MimeType:  "video/x-matroska",
			Title:     "Big Movie",
			Quality:   "1080p",
			Year:      "2019",
		},
	}
}

func (f *memFile) Session() domain.ActiveStreamSession { return f.session }

func (f *memFile) OpenRange(_ context.Context, start, end int64) (io.ReadCloser, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opens.Add(1)
	if end < 0 {
		end = int64(len(f.data)) - 1
	}
	var r io.Reader = strings.NewReader(f.data[start : end+1])
	if f.readErr != nil {
		r = io.MultiReader(r, errReader{f.readErr})
	}
	return &countingCloser{Reader: r, closes: &f.closes}, nil
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

type countingCloser struct {
	io.Reader
	closes *atomic.Int32
}

func (c *countingCloser) Close() error {
	c.closes.Add(1)
	return nil
}

func engineFor(f *memFile) *Engine {
	return New(Options{
		Lookup: func() (File, bool) {
			if f == nil {
				return nil, false
			}
			return f, true
		},
		Logger: zerolog.Nop(),
	})
}

func get(t *testing.T, h http.Handler, method, rangeHeader string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "/stream", nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServeNoActiveFile(t *testing.T) {
	rec := get(t, engineFor(nil), http.MethodGet, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeFullContent(t *testing.T) {
	f := newMemFile("0123456789abcdef")
	rec := get(t, engineFor(f), http.MethodGet, "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0123456789abcdef", rec.Body.String())
	assert.Equal(t, "16", rec.Header().Get("Content-Length"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "video/x-matroska", rec.Header().Get("Content-Type"))
	assert.Equal(t, `inline; filename="Big Movie.mkv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "Big Movie", rec.Header().Get("X-Media-Title"))
	assert.Equal(t, "1080p", rec.Header().Get("X-Media-Quality"))
	assert.Equal(t, "2019", rec.Header().Get("X-Media-Year"))
	assert.Empty(t, rec.Header().Get("Content-Range"))
	assert.Equal(t, int32(1), f.closes.Load())
}

func TestServeRangesConcatenateToFullBody(t *testing.T) {
	data := strings.Repeat("abcdefghij", 30)
	f := newMemFile(data)
	e := engineFor(f)

	head := get(t, e, http.MethodGet, "bytes=0-99")
	require.Equal(t, http.StatusPartialContent, head.Code)
	assert.Equal(t, "bytes 0-99/300", head.Header().Get("Content-Range"))
	assert.Equal(t, "100", head.Header().Get("Content-Length"))

	tail := get(t, e, http.MethodGet, "bytes=100-")
	require.Equal(t, http.StatusPartialContent, tail.Code)
	assert.Equal(t, "bytes 100-299/300", tail.Header().Get("Content-Range"))

	assert.Equal(t, data, head.Body.String()+tail.Body.String())
	assert.Equal(t, int32(2), f.closes.Load())
}

func TestServeUnsatisfiableRangeFallsBackToFull(t *testing.T) {
	f := newMemFile("0123456789")
	rec := get(t, engineFor(f), http.MethodGet, "bytes=10-")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0123456789", rec.Body.String())
	assert.Empty(t, rec.Header().Get("Content-Range"))
}

func TestServeHeadDoesNotOpen(t *testing.T) {
	f := newMemFile("0123456789")
	rec := get(t, engineFor(f), http.MethodHead, "bytes=2-5")

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "4", rec.Header().Get("Content-Length"))
	assert.Zero(t, rec.Body.Len())
	assert.Equal(t, int32(0), f.opens.Load())
}

func TestServeOpenFailure(t *testing.T) {
	f := newMemFile("0123456789")
	f.openErr = domain.NewError(domain.CodeNoActiveSession, "session ended")
	rec := get(t, engineFor(f), http.MethodGet, "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Disposition"))
}

func TestServeMidStreamFailureKeepsStatus(t *testing.T) {
	f := newMemFile("0123456789")
	f.readErr = errors.New("piece hash mismatch")
	rec := get(t, engineFor(f), http.MethodGet, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0123456789", rec.Body.String())
	assert.Equal(t, int32(1), f.closes.Load())
}

func TestServeRejectsOtherMethods(t *testing.T) {
	rec := get(t, engineFor(newMemFile("x")), http.MethodPost, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
}
