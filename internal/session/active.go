package session

import (
	"context"
	"io"

	"github.com/mtahle/torrent-streamer/internal/domain"
)

// ActiveFile is a point-in-time handle on the selected file. Its readers
// are bound to the session, so Stop aborts them.
type ActiveFile struct {
	session domain.ActiveStreamSession
	ctx     context.Context
	open    func(ctx context.Context, start, end int64) (io.ReadCloser, error)
}

// Active returns the current file handle, or false with no session.
func (m *Manager) Active() (ActiveFile, bool) {
	cur := m.current()
	if cur == nil {
		return ActiveFile{}, false
	}
	return ActiveFile{session: cur.session, ctx: cur.ctx, open: cur.file.NewRangeReader}, true
}

// Session is the session the handle was taken from.
func (a ActiveFile) Session() domain.ActiveStreamSession {
	return a.session
}

// OpenRange reads [start, end] inclusive; a negative end reads to EOF. The
// reader ends when either ctx or the session ends.
func (a ActiveFile) OpenRange(ctx context.Context, start, end int64) (io.ReadCloser, error) {
	if a.open == nil {
		return nil, domain.NewError(domain.CodeNoActiveSession, "no active session")
	}
	rctx := mergeDone(ctx, a.ctx)
	rc, err := a.open(rctx, start, end)
	if err != nil {
		return nil, domain.Wrap(domain.CodeSourceUnavailable, err, "open %s", a.session.FileName)
	}
	return rc, nil
}

// Open reads the whole file.
func (a ActiveFile) Open(ctx context.Context) (io.ReadCloser, error) {
	return a.OpenRange(ctx, 0, -1)
}

// mergeDone returns a context carrying ctx's values that is cancelled when
// either parent is done.
func mergeDone(ctx, session context.Context) context.Context {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(session, cancel)
	context.AfterFunc(merged, func() { stop() })
	return merged
}
