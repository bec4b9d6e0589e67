package torrent

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/types"
	"github.com/mtahle/torrent-streamer/internal/adapters"
)

type source struct {
	t     *torrent.Torrent
	files []adapters.SourceFile

	rates     *rateWindow
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newSource(t *torrent.Torrent) *source {
	s := &source{
		t:     t,
		rates: newRateWindow(rateSamples),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for i, f := range t.Files() {
		s.files = append(s.files, &file{index: i, f: f})
	}
	go s.sample(sampleInterval)
	return s
}

func (s *source) ID() string   { return s.t.InfoHash().HexString() }
func (s *source) Name() string { return s.t.Name() }

func (s *source) Files() []adapters.SourceFile {
	return s.files
}

// sample records the transfer counters every interval until Close.
func (s *source) sample(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st := s.t.Stats()
		s.rates.add(time.Now(), st.BytesReadUsefulData.Int64(), st.BytesWrittenData.Int64())
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
	}
}

// Stats reports rates averaged over the recent sample window.
func (s *source) Stats() adapters.SourceStats {
	st := s.t.Stats()
	down, up := s.rates.rates()
	return adapters.SourceStats{
		InfoHash:      s.t.InfoHash().HexString(),
		BytesVerified: s.t.BytesCompleted(),
		TotalBytes:    s.t.Length(),
		Peers:         st.ActivePeers,
		DownloadRate:  down,
		UploadRate:    up,
	}
}

func (s *source) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		s.t.Drop()
	})
	return nil
}

type file struct {
	index int
	f     *torrent.File
}

func (f *file) Index() int   { return f.index }
func (f *file) Name() string { return f.f.DisplayPath() }
func (f *file) Size() int64  { return f.f.Length() }
func (f *file) Select()      { f.f.Download() }
func (f *file) Deselect()    { f.f.SetPriority(types.PiecePriorityNone) }

func (f *file) NewRangeReader(ctx context.Context, start, end int64) (io.ReadCloser, error) {
	r := f.f.NewReader()
	r.SetResponsive()
	r.SetReadahead(readahead)
	if _, err := r.Seek(start, io.SeekStart); err != nil {
		_ = r.Close()
		return nil, err
	}

	length := f.f.Length() - start
	if end >= 0 && end-start+1 < length {
		length = end - start + 1
	}
	return newBoundReader(ctx, r, length), nil
}

// boundReader limits a torrent reader to a byte count and closes it when
// ctx is done, which unblocks a Read waiting on missing pieces.
type boundReader struct {
	ctx    context.Context
	r      io.ReadCloser
	limit  io.Reader
	stop   func() bool
	closed sync.Once
	err    error
}

func newBoundReader(ctx context.Context, r io.ReadCloser, length int64) *boundReader {
	br := &boundReader{ctx: ctx, r: r, limit: io.LimitReader(r, length)}
	br.stop = context.AfterFunc(ctx, br.release)
	return br
}

func (b *boundReader) Read(p []byte) (int, error) {
	if err := b.ctx.Err(); err != nil {
		return 0, err
	}
	return b.limit.Read(p)
}

func (b *boundReader) Close() error {
	b.stop()
	b.release()
	return b.err
}

func (b *boundReader) release() {
	b.closed.Do(func() {
		b.err = b.r.Close()
	})
}
