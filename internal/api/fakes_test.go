package api

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/mtahle/torrent-streamer/internal/cast"
	"github.com/mtahle/torrent-streamer/internal/delivery"
	"github.com/mtahle/torrent-streamer/internal/domain"
	"github.com/mtahle/torrent-streamer/internal/session"
	"github.com/mtahle/torrent-streamer/internal/transcode"
)

type fakeSessions struct {
	mu        sync.Mutex
	started   []session.StartRequest
	startErr  error
	stops     int
	stopErr   error
	selected  int
	status    *domain.SessionStatus
	tracks    []domain.SubtitleTrack
	subtitles map[int]string
}

func (f *fakeSessions) Start(_ context.Context, req session.StartRequest) (domain.ActiveStreamSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, req)
	if f.startErr != nil {
		return domain.ActiveStreamSession{}, f.startErr
	}
	return domain.ActiveStreamSession{SessionID: "s1", SourceID: "abc", Title: req.Title, FileName: "movie.mkv"}, nil
}

func (f *fakeSessions) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.stopErr
}

func (f *fakeSessions) Files() domain.FileListing {
	return domain.FileListing{Files: []domain.FileDescriptor{{Index: 0, Name: "movie.mkv", Size: 10}}, SelectedIndex: 0}
}

func (f *fakeSessions) SelectFile(index int) (domain.FileDescriptor, error) {
	if index != 0 {
		return domain.FileDescriptor{}, domain.NewError(domain.CodeInvalidSelection, "index %d out of range", index)
	}
	f.selected = index
	return domain.FileDescriptor{Index: 0, Name: "movie.mkv", Size: 10}, nil
}

func (f *fakeSessions) Status() *domain.SessionStatus { return f.status }

func (f *fakeSessions) Snapshot(context.Context) (*domain.SessionStatus, error) {
	if f.status == nil {
		return nil, domain.NewError(domain.CodeNoActiveSession, "no active session")
	}
	return f.status, nil
}

func (f *fakeSessions) Subtitles() ([]domain.SubtitleTrack, error) {
	if f.status == nil {
		return nil, domain.NewError(domain.CodeNoActiveSession, "no active session")
	}
	return append([]domain.SubtitleTrack(nil), f.tracks...), nil
}

func (f *fakeSessions) SubtitleFile(_ context.Context, index int) (io.ReadCloser, domain.SubtitleTrack, error) {
	body, ok := f.subtitles[index]
	if !ok {
		return nil, domain.SubtitleTrack{}, domain.NewError(domain.CodeInvalidSelection, "file %d is not a subtitle", index)
	}
	return io.NopCloser(strings.NewReader(body)), domain.SubtitleTrack{Index: index, ContentType: "text/srt"}, nil
}

type memFile struct {
	session domain.ActiveStreamSession
	data    string
}

func (f memFile) Session() domain.ActiveStreamSession { return f.session }

func (f memFile) OpenRange(_ context.Context, start, end int64) (io.ReadCloser, error) {
	if end < 0 {
		end = int64(len(f.data)) - 1
	}
	return io.NopCloser(strings.NewReader(f.data[start : end+1])), nil
}

func lookupOf(f *memFile) delivery.Lookup {
	return func() (delivery.File, bool) {
		if f == nil {
			return nil, false
		}
		return *f, true
	}
}

type fakeCaster struct {
	mu      sync.Mutex
	reqs    []cast.Request
	actions []string
	params  []map[string]any
	session *domain.CastSession
}

func (f *fakeCaster) Devices(context.Context) ([]domain.CastTarget, error) {
	return []domain.CastTarget{{ID: "t1", Name: "TV", Family: domain.FamilyDLNA}}, nil
}

func (f *fakeCaster) Cast(_ context.Context, req cast.Request) (domain.CastSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if req.TargetID != "t1" {
		return domain.CastSession{}, domain.NewError(domain.CodeDeviceNotFound, "unknown cast target %q", req.TargetID)
	}
	cs := domain.CastSession{TargetID: req.TargetID, StreamURL: req.StreamURL, Status: domain.CastPlaying}
	f.session = &cs
	return cs, nil
}

func (f *fakeCaster) Control(_ context.Context, action string, params map[string]any) (domain.CastSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	f.params = append(f.params, params)
	if f.session == nil {
		return domain.CastSession{}, domain.NewError(domain.CodeNoActiveCast, "no active cast")
	}
	return *f.session, nil
}

func (f *fakeCaster) Status() *domain.CastSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

type fakeTranscoder struct {
	mu      sync.Mutex
	rtp     []transcode.RTPOptions
	udp     []transcode.UDPOptions
	titles  []string
	inputs  []string
	streams map[string]domain.TranscodeStream
	err     error
}

func (f *fakeTranscoder) consume(ctx context.Context, open transcode.Opener) {
	rc, err := open(ctx)
	if err != nil {
		return
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	f.inputs = append(f.inputs, string(b))
}

func (f *fakeTranscoder) StartRTP(ctx context.Context, open transcode.Opener, meta transcode.Metadata, o transcode.RTPOptions) (domain.TranscodeStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.TranscodeStream{}, f.err
	}
	f.rtp = append(f.rtp, o)
	f.titles = append(f.titles, meta.Title)
	f.consume(ctx, open)
	ts := domain.TranscodeStream{StreamID: "rtp-1", Protocol: domain.ProtocolRTP, Port: o.Port, Status: domain.StreamStreaming}
	f.streams[ts.StreamID] = ts
	return ts, nil
}

func (f *fakeTranscoder) StartUDP(ctx context.Context, open transcode.Opener, meta transcode.Metadata, o transcode.UDPOptions) (domain.TranscodeStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.TranscodeStream{}, f.err
	}
	f.udp = append(f.udp, o)
	f.titles = append(f.titles, meta.Title)
	f.consume(ctx, open)
	ts := domain.TranscodeStream{StreamID: "udp-1", Protocol: domain.ProtocolUDP, Port: o.Port, Status: domain.StreamStreaming}
	f.streams[ts.StreamID] = ts
	return ts, nil
}

func (f *fakeTranscoder) Stop(id string) (domain.TranscodeStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts, ok := f.streams[id]
	if !ok {
		return domain.TranscodeStream{}, domain.NewError(domain.CodeStreamNotFound, "transcode stream %q not found", id)
	}
	delete(f.streams, id)
	ts.Status = domain.StreamStopped
	return ts, nil
}

func (f *fakeTranscoder) Status(id string) (domain.TranscodeStream, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts, ok := f.streams[id]
	return ts, ok
}

func (f *fakeTranscoder) StatusAll() []domain.TranscodeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TranscodeStream
	for _, ts := range f.streams {
		out = append(out, ts)
	}
	return out
}

type fakeAnnouncements []domain.AnnouncementInfo

func (f fakeAnnouncements) ActiveAnnouncements() []domain.AnnouncementInfo { return f }
