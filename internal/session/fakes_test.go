package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mtahle/torrent-streamer/internal/adapters"
	"github.com/mtahle/torrent-streamer/internal/domain"
)

type fakeFile struct {
	index   int
	name    string
	content string

	mu       sync.Mutex
	selected bool
}

func (f *fakeFile) Index() int   { return f.index }
func (f *fakeFile) Name() string { return f.name }
func (f *fakeFile) Size() int64  { return int64(len(f.content)) }

func (f *fakeFile) Select() {
	f.mu.Lock()
	f.selected = true
	f.mu.Unlock()
}

func (f *fakeFile) Deselect() {
	f.mu.Lock()
	f.selected = false
	f.mu.Unlock()
}

func (f *fakeFile) isSelected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selected
}

func (f *fakeFile) NewRangeReader(ctx context.Context, start, end int64) (io.ReadCloser, error) {
	if end < 0 {
		end = f.Size() - 1
	}
	return ctxReader{ctx: ctx, r: strings.NewReader(f.content[start : end+1])}, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func (ctxReader) Close() error { return nil }

type fakeSource struct {
	id    string
	name  string
	files []*fakeFile
	stats adapters.SourceStats
	log   *callLog

	mu     sync.Mutex
	closed int
}

func (s *fakeSource) ID() string   { return s.id }
func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Files() []adapters.SourceFile {
	out := make([]adapters.SourceFile, len(s.files))
	for i, f := range s.files {
		out[i] = f
	}
	return out
}

func (s *fakeSource) Stats() adapters.SourceStats { return s.stats }

func (s *fakeSource) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	s.log.add("source:" + s.id)
	return nil
}

func (s *fakeSource) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeEngine struct {
	mu       sync.Mutex
	sources  map[string]*fakeSource
	resolves map[string]int
	// gate, when set, holds Resolve until closed or ctx ends.
	gate chan struct{}
}

func newFakeEngine(sources ...*fakeSource) *fakeEngine {
	e := &fakeEngine{sources: map[string]*fakeSource{}, resolves: map[string]int{}}
	for _, s := range sources {
		e.sources[s.id] = s
	}
	return e
}

func (e *fakeEngine) Identify(ref string) (string, error) {
	if strings.HasPrefix(ref, "bad:") {
		return "", errors.New("unparseable reference")
	}
	return strings.TrimPrefix(ref, "magnet:"), nil
}

func (e *fakeEngine) Resolve(ctx context.Context, ref string) (adapters.Source, error) {
	id, _ := e.Identify(ref)
	e.mu.Lock()
	e.resolves[id]++
	gate := e.gate
	src, ok := e.sources[id]
	e.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, errors.New("no peers")
	}
	return src, nil
}

func (e *fakeEngine) Close() error { return nil }

func (e *fakeEngine) resolveCount(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolves[id]
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	l.calls = append(l.calls, call)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeCast struct {
	log *callLog
	err error
}

func (f *fakeCast) StopActive(context.Context) error {
	f.log.add("cast")
	return f.err
}

type fakeTranscode struct{ log *callLog }

func (f *fakeTranscode) StopAll() error {
	f.log.add("transcode")
	return nil
}

type fakeAnnouncements struct{ log *callLog }

func (f *fakeAnnouncements) StopAll() { f.log.add("announce") }

type fakeRecorder struct {
	mu        sync.Mutex
	started   []string
	ended     []string
	snapshots []domain.SessionStatus
}

func (r *fakeRecorder) RecordSessionStart(_ context.Context, s domain.ActiveStreamSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, s.SessionID)
	return nil
}

func (r *fakeRecorder) RecordSessionEnd(_ context.Context, id string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, id)
	return nil
}

func (r *fakeRecorder) RecordSnapshot(_ context.Context, st domain.SessionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, st)
	return nil
}
