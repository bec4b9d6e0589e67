package cast

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mtahle/torrent-streamer/internal/adapters"
	"github.com/mtahle/torrent-streamer/internal/domain"
	"go2tv.app/go2tv/v2/soapcalls"
)

// dlnaPlaceholder is handed to the callback server as its media body; the
// renderer fetches the real stream URL directly.
var dlnaPlaceholder = []byte("torrent-streamer-direct-url")

type dlnaDevice struct {
	target    domain.CastTarget
	payloads  adapters.DLNAFactory
	callbacks adapters.CallbackServerFactory
	notify    func(Observation)

	// lifetime bounds every SOAP call made through the payload.
	lifetime context.Context
	cancel   context.CancelFunc

	mu      sync.Mutex
	payload adapters.DLNAPayload
	server  adapters.CallbackServer
}

// NewDLNAFactory returns a Factory for UPnP/DLNA media renderers.
func NewDLNAFactory(payloads adapters.DLNAFactory, callbacks adapters.CallbackServerFactory) Factory {
	return func(target domain.CastTarget, notify func(Observation)) (Device, error) {
		if payloads == nil || callbacks == nil {
			return nil, errors.New("dlna adapters are not configured")
		}
		ctx, cancel := context.WithCancel(context.Background())
		return &dlnaDevice{
			target:    target,
			payloads:  payloads,
			callbacks: callbacks,
			notify:    notify,
			lifetime:  ctx,
			cancel:    cancel,
		}, nil
	}
}

func (d *dlnaDevice) Play(ctx context.Context, m Media) error {
	payload, err := d.payloads.NewTVPayload(&soapcalls.Options{
		Ctx:   d.lifetime,
		DMR:   d.target.Address,
		Media: m.URL,
		Mtype: m.ContentType,
		Seek:  true,
	})
	if err != nil {
		return fmt.Errorf("initialize dlna payload: %w", err)
	}
	payload.SetContext(d.lifetime)

	server := d.callbacks.New(payload.ListenAddress())
	started := make(chan error, 1)
	go server.StartServer(started, dlnaPlaceholder, "", payload.RawPayload(), &dlnaScreen{notify: d.notify})
	select {
	case err := <-started:
		if err != nil {
			return fmt.Errorf("start dlna callback server: %w", err)
		}
	case <-ctx.Done():
		server.StopServer()
		return ctx.Err()
	}

	payload.SetMediaURL(m.URL)
	if sub := m.subtitleURL(); sub != "" {
		payload.SetSubtitlesURL(sub)
	}

	d.mu.Lock()
	prevServer := d.server
	d.payload, d.server = payload, server
	d.mu.Unlock()
	if prevServer != nil {
		prevServer.StopServer()
	}

	return bounded(ctx, func() error { return payload.SendtoTV("Play1") })
}

func (d *dlnaDevice) current() (adapters.DLNAPayload, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.payload == nil {
		return nil, errors.New("nothing loaded on renderer")
	}
	return d.payload, nil
}

func (d *dlnaDevice) send(ctx context.Context, action string) error {
	p, err := d.current()
	if err != nil {
		return err
	}
	return bounded(ctx, func() error { return p.SendtoTV(action) })
}

func (d *dlnaDevice) Resume(ctx context.Context) error { return d.send(ctx, "Play") }
func (d *dlnaDevice) Pause(ctx context.Context) error  { return d.send(ctx, "Pause") }
func (d *dlnaDevice) Stop(ctx context.Context) error   { return d.send(ctx, "Stop") }

func (d *dlnaDevice) Seek(ctx context.Context, seconds float64) error {
	p, err := d.current()
	if err != nil {
		return err
	}
	return bounded(ctx, func() error { return p.SeekSoapCall(formatClock(seconds)) })
}

func (d *dlnaDevice) SetVolume(ctx context.Context, level int) error {
	p, err := d.current()
	if err != nil {
		return err
	}
	return bounded(ctx, func() error { return p.SetVolumeSoapCall(strconv.Itoa(level)) })
}

func (d *dlnaDevice) Status(ctx context.Context) (Observation, error) {
	p, err := d.current()
	if err != nil {
		return Observation{}, err
	}
	return boundedValue(ctx, func() (Observation, error) { return readDLNAStatus(p) })
}

func readDLNAStatus(p adapters.DLNAPayload) (Observation, error) {
	transport, err := p.GetTransportInfo()
	if err != nil {
		return Observation{}, err
	}
	var obs Observation
	if len(transport) > 0 {
		obs.State = normalizeState(transport[0])
	}
	// Position info is {TrackDuration, RelTime}.
	if pos, err := p.GetPositionInfo(); err == nil && len(pos) >= 2 {
		obs.Duration = parseClock(pos[0])
		obs.Position = parseClock(pos[1])
	}
	return obs, nil
}

func (d *dlnaDevice) Close() error {
	d.mu.Lock()
	server := d.server
	d.server, d.payload = nil, nil
	d.mu.Unlock()
	if server != nil {
		server.StopServer()
	}
	d.cancel()
	return nil
}

// dlnaScreen receives UPnP event callbacks from the go2tv server.
type dlnaScreen struct {
	notify func(Observation)
}

func (s *dlnaScreen) EmitMsg(msg string) {
	if s == nil || s.notify == nil {
		return
	}
	if state := normalizeState(msg); state != "" {
		s.notify(Observation{State: state})
	}
}

func (s *dlnaScreen) Fini() {}

func (s *dlnaScreen) SetMediaType(string) {}

// formatClock renders seconds as H:MM:SS.
func formatClock(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Truncate(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}

// parseClock reads H:MM:SS(.fff); anything else, including NOT_IMPLEMENTED,
// is zero.
func parseClock(v string) float64 {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 3 {
		return 0
	}
	var total float64
	for _, p := range parts {
		n, err := strconv.ParseFloat(p, 64)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return total
}
