package session

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/mtahle/torrent-streamer/internal/adapters"
	"github.com/mtahle/torrent-streamer/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	m        *Manager
	engine   *fakeEngine
	log      *callLog
	cast     *fakeCast
	recorder *fakeRecorder
}

func newHarness(t *testing.T, sources ...*fakeSource) *harness {
	t.Helper()
	log := &callLog{}
	for _, s := range sources {
		s.log = log
	}
	h := &harness{engine: newFakeEngine(sources...), log: log, cast: &fakeCast{log: log}, recorder: &fakeRecorder{}}
	h.m = NewManager(Options{
		Engine:         h.engine,
		ResolveTimeout: time.Second,
		Cast:           h.cast,
		Transcode:      &fakeTranscode{log: log},
		Announcements:  &fakeAnnouncements{log: log},
		Recorder:       h.recorder,
		Logger:         zerolog.Nop(),
	})
	return h
}

func movieSource(id string) *fakeSource {
	return &fakeSource{
		id:   id,
		name: "Movie " + id,
		files: []*fakeFile{
			{index: 0, name: "sample.mkv", content: "tiny"},
			{index: 1, name: "Movie.2019.1080p.mkv", content: "the feature film payload"},
			{index: 2, name: "Movie.2019.1080p.en.srt", content: "1\n00:00:01,000 --> 00:00:02,000\nhi\n"},
		},
		stats: adapters.SourceStats{
			InfoHash:      id,
			BytesVerified: 1,
			TotalBytes:    3,
			Peers:         7,
			DownloadRate:  3 << 20,
			UploadRate:    1 << 19,
		},
	}
}

func TestStartSelectsLargestVideo(t *testing.T) {
	src := movieSource("aaa")
	h := newHarness(t, src)

	s, err := h.m.Start(context.Background(), StartRequest{Source: "magnet:aaa", Title: " Movie ", Year: "2019"})
	require.NoError(t, err)

	assert.NotEmpty(t, s.SessionID)
	assert.Equal(t, "aaa", s.SourceID)
	assert.Equal(t, 1, s.SelectedFileIndex)
	assert.Equal(t, "Movie.2019.1080p.mkv", s.FileName)
	assert.Equal(t, "Movie", s.Title)
	assert.True(t, src.files[1].isSelected())
	assert.False(t, src.files[0].isSelected())
	assert.Equal(t, []string{s.SessionID}, h.recorder.started)
}

func TestStartRejectsEmptyAndUnparseableSource(t *testing.T) {
	h := newHarness(t)

	_, err := h.m.Start(context.Background(), StartRequest{Source: "  "})
	assert.True(t, domain.IsCode(err, domain.CodeInvalidParameter))

	_, err = h.m.Start(context.Background(), StartRequest{Source: "bad:xyz"})
	assert.True(t, domain.IsCode(err, domain.CodeSourceUnavailable))
	assert.Nil(t, h.m.Status())
}

func TestStartSameSourceReusesSession(t *testing.T) {
	h := newHarness(t, movieSource("aaa"))

	first, err := h.m.Start(context.Background(), StartRequest{Source: "magnet:aaa"})
	require.NoError(t, err)
	second, err := h.m.Start(context.Background(), StartRequest{Source: "magnet:aaa"})
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, 1, h.engine.resolveCount("aaa"))
	assert.Empty(t, h.log.snapshot())
}

func TestStartDifferentSourceTearsDownInOrder(t *testing.T) {
	a, b := movieSource("aaa"), movieSource("bbb")
	h := newHarness(t, a, b)

	first, err := h.m.Start(context.Background(), StartRequest{Source: "magnet:aaa"})
	require.NoError(t, err)
	second, err := h.m.Start(context.Background(), StartRequest{Source: "magnet:bbb"})
	require.NoError(t, err)

	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, []string{"cast", "transcode", "announce", "source:aaa"}, h.log.snapshot())
	assert.Equal(t, 1, a.closeCount())
	assert.Equal(t, []string{first.SessionID}, h.recorder.ended)
}

func TestStopContinuesPastFailures(t *testing.T) {
	src := movieSource("aaa")
	h := newHarness(t, src)
	h.cast.err = errors.New("renderer gone")

	_, err := h.m.Start(context.Background(), StartRequest{Source: "magnet:aaa"})
	require.NoError(t, err)

	err = h.m.Stop(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "renderer gone")
	assert.Equal(t, []string{"cast", "transcode", "announce", "source:aaa"}, h.log.snapshot())
	assert.Nil(t, h.m.Status())

	require.NoError(t, h.m.Stop(context.Background()))
	assert.Equal(t, 1, src.closeCount())
}

func TestStopAbortsOpenReaders(t *testing.T) {
	h := newHarness(t, movieSource("aaa"))
	_, err := h.m.Start(context.Background(), StartRequest{Source: "magnet:aaa"})
	require.NoError(t, err)

	af, ok := h.m.Active()
	require.True(t, ok)
	rc, err := af.OpenRange(context.Background(), 4, 10)
	require.NoError(t, err)
	defer rc.Close()

	require.NoError(t, h.m.Stop(context.Background()))
	_, err = rc.Read(make([]byte, 2))
	assert.ErrorIs(t, err, context.Canceled)

	_, ok = h.m.Active()
	assert.False(t, ok)
}

func TestResolutionTimeout(t *testing.T) {
	h := newHarness(t, movieSource("aaa"))
	h.engine.gate = make(chan struct{})
	h.m.resolveTimeout = 20 * time.Millisecond

	_, err := h.m.Start(context.Background(), StartRequest{Source: "magnet:aaa"})
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeResolutionTimeout))
	assert.Nil(t, h.m.Status())
}

func TestResolveFailureIsSourceUnavailable(t *testing.T) {
	h := newHarness(t)
	_, err := h.m.Start(context.Background(), StartRequest{Source: "magnet:ghost"})
	assert.True(t, domain.IsCode(err, domain.CodeSourceUnavailable))
}

func TestConcurrentStartSameSourceJoins(t *testing.T) {
	h := newHarness(t, movieSource("aaa"))
	h.engine.gate = make(chan struct{})

	results := make(chan domain.ActiveStreamSession, 2)
	for range 2 {
		go func() {
			s, err := h.m.Start(context.Background(), StartRequest{Source: "magnet:aaa"})
			assert.NoError(t, err)
			results <- s
		}()
	}
	require.Eventually(t, func() bool { return h.engine.resolveCount("aaa") == 1 }, time.Second, 5*time.Millisecond)
	close(h.engine.gate)

	a, b := <-results, <-results
	assert.Equal(t, a.SessionID, b.SessionID)
	assert.Equal(t, 1, h.engine.resolveCount("aaa"))
}

func TestStopCancelsPendingStart(t *testing.T) {
	h := newHarness(t, movieSource("aaa"))
	h.engine.gate = make(chan struct{})

	errc := make(chan error, 1)
	go func() {
		_, err := h.m.Start(context.Background(), StartRequest{Source: "magnet:aaa"})
		errc <- err
	}()
	require.Eventually(t, func() bool { return h.engine.resolveCount("aaa") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.m.Stop(context.Background()))
	select {
	case err := <-errc:
		assert.True(t, domain.IsCode(err, domain.CodeSourceUnavailable))
	case <-time.After(time.Second):
		t.Fatal("pending start was not cancelled")
	}
	assert.Nil(t, h.m.Status())
}

func TestSelectFile(t *testing.T) {
	src := movieSource("aaa")
	h := newHarness(t, src)

	_, err := h.m.SelectFile(0)
	assert.True(t, domain.IsCode(err, domain.CodeInvalidSelection))

	_, err = h.m.Start(context.Background(), StartRequest{Source: "magnet:aaa"})
	require.NoError(t, err)

	_, err = h.m.SelectFile(3)
	assert.True(t, domain.IsCode(err, domain.CodeInvalidSelection))
	_, err = h.m.SelectFile(-1)
	assert.True(t, domain.IsCode(err, domain.CodeInvalidSelection))

	fd, err := h.m.SelectFile(0)
	require.NoError(t, err)
	assert.Equal(t, "sample.mkv", fd.Name)
	assert.True(t, src.files[0].isSelected())
	assert.False(t, src.files[1].isSelected())
	assert.Equal(t, 0, h.m.Files().SelectedIndex)

	af, ok := h.m.Active()
	require.True(t, ok)
	rc, err := af.Open(context.Background())
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "tiny", string(b))
}

func TestStatusAndFiles(t *testing.T) {
	h := newHarness(t, movieSource("aaa"))
	assert.Nil(t, h.m.Status())
	assert.Equal(t, -1, h.m.Files().SelectedIndex)
	assert.Empty(t, h.m.Files().Files)

	_, err := h.m.Start(context.Background(), StartRequest{Source: "magnet:aaa"})
	require.NoError(t, err)

	st := h.m.Status()
	require.NotNil(t, st)
	assert.True(t, st.Running)
	assert.Equal(t, "Movie aaa", st.Name)
	assert.InDelta(t, 33.33, st.Progress, 0.001)
	assert.InDelta(t, 3.0, st.DownloadSpeed, 0.001)
	assert.InDelta(t, 0.5, st.UploadSpeed, 0.001)
	assert.Equal(t, 7, st.Peers)
	assert.Len(t, st.Files, 3)
	assert.Len(t, h.m.Files().Files, 3)
}

func TestSubtitles(t *testing.T) {
	h := newHarness(t, movieSource("aaa"))
	_, err := h.m.Subtitles()
	assert.True(t, domain.IsCode(err, domain.CodeNoActiveSession))

	_, err = h.m.Start(context.Background(), StartRequest{Source: "magnet:aaa"})
	require.NoError(t, err)

	tracks, err := h.m.Subtitles()
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, 2, tracks[0].Index)
	assert.Equal(t, "en", tracks[0].Language)

	rc, track, err := h.m.SubtitleFile(context.Background(), 2)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, "Movie.2019.1080p.en.srt", track.Name)

	_, _, err = h.m.SubtitleFile(context.Background(), 1)
	assert.True(t, domain.IsCode(err, domain.CodeInvalidSelection))
}

func TestSnapshotRecordsStatus(t *testing.T) {
	h := newHarness(t, movieSource("aaa"))
	_, err := h.m.Snapshot(context.Background())
	assert.True(t, domain.IsCode(err, domain.CodeNoActiveSession))

	_, err = h.m.Start(context.Background(), StartRequest{Source: "magnet:aaa"})
	require.NoError(t, err)
	st, err := h.m.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, h.recorder.snapshots, 1)
	assert.Equal(t, st.SessionID, h.recorder.snapshots[0].SessionID)
}
