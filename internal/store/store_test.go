package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mtahle/torrent-streamer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "streamer.db"), DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionLifecycle(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	sess := domain.ActiveStreamSession{
		SessionID:         "s-1",
		SourceID:          "abc",
		Name:              "Movie",
		SelectedFileIndex: 1,
		FileName:          "Movie.mkv",
		FileSize:          900,
		Title:             "Movie",
		Year:              "2019",
		CreatedAt:         started,
	}
	require.NoError(t, s.RecordSessionStart(ctx, sess))
	require.NoError(t, s.RecordSessionStart(ctx, sess), "duplicate start is ignored")

	recs, err := s.Sessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, sess, recs[0].Session)
	assert.Nil(t, recs[0].EndedAt)

	ended := started.Add(90 * time.Minute)
	require.NoError(t, s.RecordSessionEnd(ctx, "s-1", ended))
	require.NoError(t, s.RecordSessionEnd(ctx, "s-1", ended.Add(time.Hour)), "first end wins")

	recs, err = s.Sessions(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, recs[0].EndedAt)
	assert.True(t, ended.Equal(*recs[0].EndedAt))
}

func TestSnapshotsNewestFirst(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.RecordSessionStart(ctx, domain.ActiveStreamSession{SessionID: "s-1", CreatedAt: time.Now()}))

	clock := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	for i := range 3 {
		clock = clock.Add(time.Minute)
		require.NoError(t, s.RecordSnapshot(ctx, domain.SessionStatus{
			SessionID: "s-1",
			Progress:  float64(i * 10),
			Peers:     i,
		}))
	}

	snaps, err := s.Snapshots(ctx, "s-1", 2)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.InDelta(t, 20.0, snaps[0].Progress, 0.001)
	assert.InDelta(t, 10.0, snaps[1].Progress, 0.001)
	assert.Equal(t, clock, snaps[0].TakenAt)

	require.Error(t, s.RecordSnapshot(ctx, domain.SessionStatus{}))
}

func TestSnapshotRequiresKnownSession(t *testing.T) {
	s := openTemp(t)
	err := s.RecordSnapshot(context.Background(), domain.SessionStatus{SessionID: "ghost"})
	require.Error(t, err)
}
