// Package session owns the single active stream session and cascades its
// teardown to every component that consumes it.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mtahle/torrent-streamer/internal/adapters"
	"github.com/mtahle/torrent-streamer/internal/domain"
	applog "github.com/mtahle/torrent-streamer/internal/log"
	"github.com/mtahle/torrent-streamer/internal/media"
	"github.com/mtahle/torrent-streamer/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	defaultResolveTimeout = 60 * time.Second
	mib                   = 1 << 20
)

// CastStopper ends whichever cast session is live.
type CastStopper interface {
	StopActive(ctx context.Context) error
}

// TranscodeStopper stops every live encoder.
type TranscodeStopper interface {
	StopAll() error
}

// AnnouncementStopper withdraws every live announcement.
type AnnouncementStopper interface {
	StopAll()
}

// Recorder is the persistence collaborator. All calls are best effort.
type Recorder interface {
	RecordSessionStart(ctx context.Context, s domain.ActiveStreamSession) error
	RecordSessionEnd(ctx context.Context, sessionID string, endedAt time.Time) error
	RecordSnapshot(ctx context.Context, st domain.SessionStatus) error
}

type StartRequest struct {
	Source  string
	Title   string
	Quality string
	Year    string
}

type Options struct {
	Engine         adapters.TorrentEngine
	ResolveTimeout time.Duration
	Cast           CastStopper
	Transcode      TranscodeStopper
	Announcements  AnnouncementStopper
	Recorder       Recorder
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
}

type Manager struct {
	engine         adapters.TorrentEngine
	resolveTimeout time.Duration
	cast           CastStopper
	transcode      TranscodeStopper
	announcements  AnnouncementStopper
	recorder       Recorder
	logger         zerolog.Logger
	metrics        *metrics.Metrics
	now            func() time.Time

	// opMu serializes start, stop and select.
	opMu sync.Mutex

	mu     sync.RWMutex
	active *active

	pendMu  sync.Mutex
	pending *pendingStart
}

// active is replaced wholesale; readers copy the pointer under mu.
type active struct {
	session domain.ActiveStreamSession
	source  adapters.Source
	file    adapters.SourceFile
	ctx     context.Context
	cancel  context.CancelFunc
}

type pendingStart struct {
	identity string
	cancel   context.CancelFunc
	done     chan struct{}
	result   domain.ActiveStreamSession
	err      error
}

func NewManager(opts Options) *Manager {
	timeout := opts.ResolveTimeout
	if timeout <= 0 {
		timeout = defaultResolveTimeout
	}
	return &Manager{
		engine:         opts.Engine,
		resolveTimeout: timeout,
		cast:           opts.Cast,
		transcode:      opts.Transcode,
		announcements:  opts.Announcements,
		recorder:       opts.Recorder,
		logger:         opts.Logger.With().Str(applog.FieldComponent, "session").Logger(),
		metrics:        opts.Metrics,
		now:            time.Now,
	}
}

// Start tears down the current session, resolves req.Source and installs
// the new session. A Start for the source that is already active, or
// already resolving, returns that session instead of resolving twice.
func (m *Manager) Start(ctx context.Context, req StartRequest) (domain.ActiveStreamSession, error) {
	ref := strings.TrimSpace(req.Source)
	if ref == "" {
		return domain.ActiveStreamSession{}, domain.NewError(domain.CodeInvalidParameter, "source is required")
	}
	identity, err := m.engine.Identify(ref)
	if err != nil {
		return domain.ActiveStreamSession{}, domain.Wrap(domain.CodeSourceUnavailable, err, "source %q cannot be identified", ref)
	}

	p, joined := m.beginPending(identity)
	if joined {
		select {
		case <-p.done:
			return p.result, p.err
		case <-ctx.Done():
			return domain.ActiveStreamSession{}, ctx.Err()
		}
	}

	// Resolution runs under the pending context so Stop, or a Start for a
	// different source, can abort it.
	resolveCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	m.pendMu.Unlock()

	p.result, p.err = m.start(resolveCtx, identity, ref, req)
	cancel()
	m.endPending(p)
	return p.result, p.err
}

// beginPending returns with pendMu held when joined is false; the caller
// must set p.cancel and unlock.
func (m *Manager) beginPending(identity string) (p *pendingStart, joined bool) {
	m.pendMu.Lock()
	if cur := m.pending; cur != nil {
		if cur.identity == identity {
			m.pendMu.Unlock()
			return cur, true
		}
		cur.cancel()
	}
	p = &pendingStart{identity: identity, cancel: func() {}, done: make(chan struct{})}
	m.pending = p
	return p, false
}

func (m *Manager) endPending(p *pendingStart) {
	m.pendMu.Lock()
	if m.pending == p {
		m.pending = nil
	}
	m.pendMu.Unlock()
	close(p.done)
}

func (m *Manager) cancelPending() {
	m.pendMu.Lock()
	if m.pending != nil {
		m.pending.cancel()
	}
	m.pendMu.Unlock()
}

func (m *Manager) start(ctx context.Context, identity, ref string, req StartRequest) (domain.ActiveStreamSession, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if cur := m.current(); cur != nil && cur.session.SourceID == identity {
		m.logger.Info().Str(applog.FieldSessionID, cur.session.SessionID).Str(applog.FieldSourceID, identity).Msg("session_reused")
		return cur.session, nil
	}

	if err := m.teardownLocked(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("previous_session_teardown_incomplete")
	}
	if err := ctx.Err(); err != nil {
		return domain.ActiveStreamSession{}, domain.Wrap(domain.CodeSourceUnavailable, err, "start superseded")
	}

	resolveCtx, cancel := context.WithTimeout(ctx, m.resolveTimeout)
	defer cancel()
	started := m.now()
	src, err := m.engine.Resolve(resolveCtx, ref)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return domain.ActiveStreamSession{}, (&domain.Error{
				Code:    domain.CodeResolutionTimeout,
				Message: fmt.Sprintf("source metadata not received within %s", m.resolveTimeout),
				Err:     err,
				SuggestedFixes: []string{
					"Check that the magnet link has reachable peers or trackers.",
					"Raise torrent.resolve_timeout (TS_RESOLVE_TIMEOUT) for slow swarms.",
				},
			}).WithDetail("source_id", identity)
		}
		return domain.ActiveStreamSession{}, domain.Wrap(domain.CodeSourceUnavailable, err, "resolve source").WithDetail("source_id", identity)
	}

	files := src.Files()
	if len(files) == 0 {
		_ = src.Close()
		return domain.ActiveStreamSession{}, domain.NewError(domain.CodeSourceUnavailable, "source %s contains no files", identity)
	}
	idx := media.DefaultSelection(describe(files))
	selectOnly(files, idx)

	file := files[idx]
	sessCtx, sessCancel := context.WithCancel(context.Background())
	next := &active{
		session: domain.ActiveStreamSession{
			SessionID:         uuid.NewString(),
			SourceID:          src.ID(),
			Name:              src.Name(),
			SelectedFileIndex: idx,
			FileName:          file.Name(),
			FileSize:          file.Size(),
			MimeType:          media.ContentType(file.Name()),
			Title:             strings.TrimSpace(req.Title),
			Quality:           strings.TrimSpace(req.Quality),
			Year:              strings.TrimSpace(req.Year),
			CreatedAt:         m.now(),
		},
		source: src,
		file:   file,
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	m.mu.Lock()
	m.active = next
	m.mu.Unlock()
	m.metrics.SetActiveSession(true)

	m.record(func(ctx context.Context) error { return m.recorder.RecordSessionStart(ctx, next.session) })
	m.logger.Info().
		Str(applog.FieldSessionID, next.session.SessionID).
		Str(applog.FieldSourceID, next.session.SourceID).
		Int(applog.FieldFileIndex, idx).
		Str("file", next.session.FileName).
		Dur("resolve_duration", m.now().Sub(started)).
		Msg("session_started")
	return next.session, nil
}

// SelectFile makes index the only selected file of the active source.
func (m *Manager) SelectFile(index int) (domain.FileDescriptor, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	cur := m.current()
	if cur == nil {
		return domain.FileDescriptor{}, domain.NewError(domain.CodeInvalidSelection, "no active session")
	}
	files := cur.source.Files()
	if index < 0 || index >= len(files) {
		return domain.FileDescriptor{}, domain.NewError(domain.CodeInvalidSelection, "file index %d out of range [0,%d)", index, len(files)).
			WithDetail("file_count", len(files))
	}

	selectOnly(files, index)
	file := files[index]
	next := *cur
	next.file = file
	next.session.SelectedFileIndex = index
	next.session.FileName = file.Name()
	next.session.FileSize = file.Size()
	next.session.MimeType = media.ContentType(file.Name())

	m.mu.Lock()
	m.active = &next
	m.mu.Unlock()

	m.logger.Info().
		Str(applog.FieldSessionID, next.session.SessionID).
		Int(applog.FieldFileIndex, index).
		Str("file", file.Name()).
		Msg("file_selected")
	return domain.FileDescriptor{Index: index, Name: file.Name(), Size: file.Size()}, nil
}

// Stop cascades teardown. Stopping with no session succeeds.
func (m *Manager) Stop(ctx context.Context) error {
	m.cancelPending()
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.teardownLocked(ctx)
}

// teardownLocked runs cast, transcode, announcement and handle release in
// that order. Every step runs even when an earlier one fails.
func (m *Manager) teardownLocked(ctx context.Context) error {
	m.mu.Lock()
	cur := m.active
	m.active = nil
	m.mu.Unlock()
	if cur == nil {
		return nil
	}
	m.metrics.SetActiveSession(false)
	cur.cancel()

	var errs []error
	if m.cast != nil {
		if err := m.cast.StopActive(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop cast: %w", err))
		}
	}
	if m.transcode != nil {
		if err := m.transcode.StopAll(); err != nil {
			errs = append(errs, fmt.Errorf("stop transcodes: %w", err))
		}
	}
	if m.announcements != nil {
		m.announcements.StopAll()
	}
	if err := cur.source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("release source: %w", err))
	}

	m.record(func(ctx context.Context) error {
		return m.recorder.RecordSessionEnd(ctx, cur.session.SessionID, m.now())
	})

	err := errors.Join(errs...)
	evt := m.logger.Info()
	if err != nil {
		evt = m.logger.Warn().Err(err)
	}
	evt.Str(applog.FieldSessionID, cur.session.SessionID).
		Str(applog.FieldSourceID, cur.session.SourceID).
		Msg("session_stopped")
	return err
}

// Status returns nil when no session is active.
func (m *Manager) Status() *domain.SessionStatus {
	cur := m.current()
	if cur == nil {
		return nil
	}
	stats := cur.source.Stats()
	var progress float64
	if stats.TotalBytes > 0 {
		progress = round2(float64(stats.BytesVerified) / float64(stats.TotalBytes) * 100)
	}
	s := cur.session
	return &domain.SessionStatus{
		Running:           true,
		SessionID:         s.SessionID,
		SourceID:          s.SourceID,
		InfoHash:          stats.InfoHash,
		Name:              s.Name,
		SelectedFileIndex: s.SelectedFileIndex,
		FileName:          s.FileName,
		FileSize:          s.FileSize,
		Title:             s.Title,
		Quality:           s.Quality,
		Year:              s.Year,
		Progress:          progress,
		Peers:             stats.Peers,
		DownloadSpeed:     round2(stats.DownloadRate / mib),
		UploadSpeed:       round2(stats.UploadRate / mib),
		Files:             describe(cur.source.Files()),
		CreatedAt:         s.CreatedAt,
	}
}

// Files lists the active source; empty when no session is active.
func (m *Manager) Files() domain.FileListing {
	cur := m.current()
	if cur == nil {
		return domain.FileListing{Files: []domain.FileDescriptor{}, SelectedIndex: -1}
	}
	return domain.FileListing{Files: describe(cur.source.Files()), SelectedIndex: cur.session.SelectedFileIndex}
}

// Subtitles lists subtitle files matching the selected file.
func (m *Manager) Subtitles() ([]domain.SubtitleTrack, error) {
	cur := m.current()
	if cur == nil {
		return nil, domain.NewError(domain.CodeNoActiveSession, "no active session")
	}
	tracks := media.MatchSubtitles(cur.file.Name(), describe(cur.source.Files()))
	if tracks == nil {
		tracks = []domain.SubtitleTrack{}
	}
	return tracks, nil
}

// SubtitleFile opens a subtitle file of the active source by index.
func (m *Manager) SubtitleFile(ctx context.Context, index int) (io.ReadCloser, domain.SubtitleTrack, error) {
	cur := m.current()
	if cur == nil {
		return nil, domain.SubtitleTrack{}, domain.NewError(domain.CodeNoActiveSession, "no active session")
	}
	files := cur.source.Files()
	if index < 0 || index >= len(files) || !media.IsSubtitle(files[index].Name()) {
		return nil, domain.SubtitleTrack{}, domain.NewError(domain.CodeInvalidSelection, "file %d is not a subtitle of the active source", index)
	}
	f := files[index]
	rc, err := f.NewRangeReader(mergeDone(ctx, cur.ctx), 0, -1)
	if err != nil {
		return nil, domain.SubtitleTrack{}, domain.Wrap(domain.CodeSourceUnavailable, err, "open subtitle %d", index)
	}
	return rc, domain.SubtitleTrack{
		Index:       index,
		Name:        f.Name(),
		Language:    media.InferLanguage(f.Name()),
		ContentType: media.SubtitleContentType(f.Name()),
	}, nil
}

// Snapshot records the current status through the persistence collaborator.
func (m *Manager) Snapshot(ctx context.Context) (*domain.SessionStatus, error) {
	st := m.Status()
	if st == nil {
		return nil, domain.NewError(domain.CodeNoActiveSession, "no active session")
	}
	if m.recorder != nil {
		if err := m.recorder.RecordSnapshot(ctx, *st); err != nil {
			m.logger.Warn().Err(err).Str(applog.FieldSessionID, st.SessionID).Msg("snapshot_record_failed")
		}
	}
	return st, nil
}

func (m *Manager) current() *active {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

func (m *Manager) record(call func(ctx context.Context) error) {
	if m.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := call(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("session_record_failed")
	}
}

func selectOnly(files []adapters.SourceFile, index int) {
	for i, f := range files {
		if i != index {
			f.Deselect()
		}
	}
	files[index].Select()
}

func describe(files []adapters.SourceFile) []domain.FileDescriptor {
	out := make([]domain.FileDescriptor, len(files))
	for i, f := range files {
		out[i] = domain.FileDescriptor{Index: i, Name: f.Name(), Size: f.Size()}
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
