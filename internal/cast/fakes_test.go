package cast

import (
	"context"
	"errors"
	"sync"

	"github.com/mtahle/torrent-streamer/internal/adapters"
	"github.com/mtahle/torrent-streamer/internal/domain"
	"go2tv.app/go2tv/v2/castprotocol"
	"go2tv.app/go2tv/v2/httphandlers"
	"go2tv.app/go2tv/v2/soapcalls"
)

// fakeDevice records calls; errs maps a method name to the error it returns.
type fakeDevice struct {
	target domain.CastTarget
	notify func(Observation)

	mu     sync.Mutex
	calls  []string
	errs   map[string]error
	loaded Media
	obs    Observation
	closed bool
}

func (d *fakeDevice) record(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, name)
	return d.errs[name]
}

func (d *fakeDevice) Play(_ context.Context, m Media) error {
	d.mu.Lock()
	d.loaded = m
	d.mu.Unlock()
	return d.record("play")
}

func (d *fakeDevice) Resume(context.Context) error         { return d.record("resume") }
func (d *fakeDevice) Pause(context.Context) error          { return d.record("pause") }
func (d *fakeDevice) Stop(context.Context) error           { return d.record("stop") }
func (d *fakeDevice) Seek(context.Context, float64) error  { return d.record("seek") }
func (d *fakeDevice) SetVolume(context.Context, int) error { return d.record("volume") }

func (d *fakeDevice) Status(context.Context) (Observation, error) {
	if err := d.record("status"); err != nil {
		return Observation{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.obs, nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) setErr(name string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.errs == nil {
		d.errs = map[string]error{}
	}
	d.errs[name] = err
}

func (d *fakeDevice) callList() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type fakeTargets struct {
	mu        sync.Mutex
	known     map[string]domain.CastTarget
	late      map[string]domain.CastTarget
	refreshes int
}

func newFakeTargets(ts ...domain.CastTarget) *fakeTargets {
	f := &fakeTargets{known: map[string]domain.CastTarget{}, late: map[string]domain.CastTarget{}}
	for _, t := range ts {
		f.known[t.ID] = t
	}
	return f
}

func (f *fakeTargets) Targets(context.Context) ([]domain.CastTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.CastTarget, 0, len(f.known))
	for _, t := range f.known {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeTargets) Lookup(id string) (domain.CastTarget, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.known[id]
	return t, ok
}

// Refresh promotes late targets, like a device answering the second scan.
func (f *fakeTargets) Refresh(context.Context) ([]domain.CastTarget, error) {
	f.mu.Lock()
	f.refreshes++
	for id, t := range f.late {
		f.known[id] = t
	}
	f.late = map[string]domain.CastTarget{}
	f.mu.Unlock()
	return f.Targets(context.Background())
}

type fakeSubtitles struct {
	tracks []domain.SubtitleTrack
	err    error
}

func (f fakeSubtitles) Subtitles() ([]domain.SubtitleTrack, error) { return f.tracks, f.err }

// fakeCastClient stands in for the go2tv Chromecast client.
type fakeCastClient struct {
	mu sync.Mutex

	connectErrs  []error
	loadErr      error
	statusGate   chan struct{}
	statuses     []castprotocol.CastStatus
	loadURL      string
	loadSubtitle string
	seekTo       int
	volume       float32
	connectCalls int
	playCalls    int
	pauseCalls   int
	stopCalls    int
	closeCalls   int
	statusCalls  int
}

func (f *fakeCastClient) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if idx := f.connectCalls - 1; idx < len(f.connectErrs) {
		return f.connectErrs[idx]
	}
	return nil
}

func (f *fakeCastClient) Load(mediaURL, contentType string, startTime int, duration float64, subtitleURL string, live bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadURL = mediaURL
	f.loadSubtitle = subtitleURL
	return f.loadErr
}

func (f *fakeCastClient) Play() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playCalls++
	return nil
}

func (f *fakeCastClient) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauseCalls++
	return nil
}

func (f *fakeCastClient) Seek(seconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seekTo = seconds
	return nil
}

func (f *fakeCastClient) SetVolume(level float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = level
	return nil
}

func (f *fakeCastClient) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return nil
}

func (f *fakeCastClient) GetStatus() (*castprotocol.CastStatus, error) {
	if f.statusGate != nil {
		<-f.statusGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if len(f.statuses) == 0 {
		return &castprotocol.CastStatus{PlayerState: "PLAYING", CurrentTime: float32(f.statusCalls)}, nil
	}
	idx := min(f.statusCalls-1, len(f.statuses)-1)
	st := f.statuses[idx]
	return &st, nil
}

func (f *fakeCastClient) Close(stopMedia bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

type fakeCastFactory struct {
	client *fakeCastClient
	err    error
}

func (f *fakeCastFactory) NewCastClient(string) (adapters.CastClient, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

type fakeDLNAPayload struct {
	listenAddr string
	rawPayload *soapcalls.TVPayload
	// hang holds an action until its channel closes.
	hang map[string]chan struct{}

	mu           sync.Mutex
	mediaURL     string
	subtitlesURL string
	actions      []string
	actionErr    map[string]error
	seeks        []string
	volumes      []string
	transport    []string
	position     []string
}

func (f *fakeDLNAPayload) SendtoTV(action string) error {
	if gate, ok := f.hang[action]; ok {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	return f.actionErr[action]
}

func (f *fakeDLNAPayload) SeekSoapCall(reltime string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, reltime)
	return nil
}

func (f *fakeDLNAPayload) SetVolumeSoapCall(level string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes = append(f.volumes, level)
	return nil
}

func (f *fakeDLNAPayload) GetTransportInfo() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transport == nil {
		return []string{"PLAYING", "OK", "1"}, nil
	}
	return f.transport, nil
}

func (f *fakeDLNAPayload) GetPositionInfo() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.position == nil {
		return []string{"00:30:00", "00:00:02"}, nil
	}
	return f.position, nil
}

func (f *fakeDLNAPayload) ListenAddress() string { return f.listenAddr }

func (f *fakeDLNAPayload) SetContext(context.Context) {}

func (f *fakeDLNAPayload) MediaURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mediaURL
}

func (f *fakeDLNAPayload) SetMediaURL(mediaURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mediaURL = mediaURL
}

func (f *fakeDLNAPayload) SetSubtitlesURL(subtitlesURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subtitlesURL = subtitlesURL
}

func (f *fakeDLNAPayload) RawPayload() *soapcalls.TVPayload {
	if f.rawPayload == nil {
		f.rawPayload = &soapcalls.TVPayload{}
	}
	return f.rawPayload
}

func (f *fakeDLNAPayload) actionList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.actions...)
}

type fakeDLNAFactory struct {
	payload *fakeDLNAPayload
	err     error
	opts    *soapcalls.Options
}

func (f *fakeDLNAFactory) NewTVPayload(o *soapcalls.Options) (adapters.DLNAPayload, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.opts = o
	return f.payload, nil
}

type fakeCallbackServer struct {
	mu       sync.Mutex
	startErr error
	screen   httphandlers.Screen
	stopped  int
}

func (f *fakeCallbackServer) StartServer(serverStarted chan<- error, media, subtitles any, tvpayload *soapcalls.TVPayload, screen httphandlers.Screen) {
	f.mu.Lock()
	f.screen = screen
	f.mu.Unlock()
	serverStarted <- f.startErr
}

func (f *fakeCallbackServer) StopServer() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
}

func (f *fakeCallbackServer) screenOrNil() httphandlers.Screen {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.screen
}

func (f *fakeCallbackServer) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type fakeCallbackFactory struct{ server *fakeCallbackServer }

func (f fakeCallbackFactory) New(string) adapters.CallbackServer { return f.server }

var errDeviceGone = errors.New("dial tcp 192.168.1.20:8009: connect: connection refused")
