// Package cast drives one cast session at a time across DLNA, AirPlay and
// Chromecast receivers behind a single vocabulary.
package cast

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mtahle/torrent-streamer/internal/discovery"
	"github.com/mtahle/torrent-streamer/internal/domain"
	applog "github.com/mtahle/torrent-streamer/internal/log"
	"github.com/mtahle/torrent-streamer/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	defaultPollInterval   = 4 * time.Second
	defaultCommandTimeout = 10 * time.Second
	defaultInboxSize      = 64
	monitorStopWait       = 500 * time.Millisecond
)

// Targets is the discovery view the controller resolves ids against.
type Targets interface {
	Targets(ctx context.Context) ([]domain.CastTarget, error)
	Lookup(id string) (domain.CastTarget, bool)
	Refresh(ctx context.Context) ([]domain.CastTarget, error)
}

// SubtitleLister lists subtitle tracks for the active file.
type SubtitleLister interface {
	Subtitles() ([]domain.SubtitleTrack, error)
}

type Options struct {
	Targets        Targets
	Factories      map[domain.Family]Factory
	Subtitles      SubtitleLister
	TargetEvents   <-chan discovery.Event
	PollInterval   time.Duration
	CommandTimeout time.Duration
	InboxSize      int
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
}

// Request asks for StreamURL to be played on TargetID. Subtitle URLs are
// built as SubtitleBaseURL/subtitles/{index} when SubtitleBaseURL is set.
type Request struct {
	TargetID        string
	StreamURL       string
	Title           string
	ContentType     string
	SubtitleBaseURL string
}

type Controller struct {
	targets        Targets
	factories      map[domain.Family]Factory
	subtitles      SubtitleLister
	pollInterval   time.Duration
	commandTimeout time.Duration
	logger         zerolog.Logger
	metrics        *metrics.Metrics

	// opMu serializes commands so a cast never interleaves with a stop.
	opMu sync.Mutex

	mu     sync.RWMutex
	active *activeCast
	gen    uint64
	closed bool

	// handles caches one Device per target for the controller's lifetime.
	// Guarded by opMu.
	handles map[string]*deviceHandle

	inbox     chan event
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type activeCast struct {
	session domain.CastSession
	device  Device
	gen     uint64

	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
}

// deviceHandle forwards device notifications tagged with the generation of
// the cast currently using it.
type deviceHandle struct {
	device Device
	gen    atomic.Uint64
}

// event is the controller's inbox message. gen ties device reports to the
// cast that produced them.
type event struct {
	gen        uint64
	obs        *Observation
	targetDown string
}

func NewController(opts Options) *Controller {
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	timeout := opts.CommandTimeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	size := opts.InboxSize
	if size <= 0 {
		size = defaultInboxSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		targets:        opts.Targets,
		factories:      opts.Factories,
		subtitles:      opts.Subtitles,
		pollInterval:   poll,
		commandTimeout: timeout,
		logger:         opts.Logger.With().Str(applog.FieldComponent, "cast").Logger(),
		metrics:        opts.Metrics,
		handles:        map[string]*deviceHandle{},
		inbox:          make(chan event, size),
		runCtx:         ctx,
		runCancel:      cancel,
	}
	c.wg.Add(1)
	go c.run()
	if opts.TargetEvents != nil {
		c.wg.Add(1)
		go c.forwardTargetEvents(opts.TargetEvents)
	}
	return c
}

// Devices lists the targets currently visible.
func (c *Controller) Devices(ctx context.Context) ([]domain.CastTarget, error) {
	if c.targets == nil {
		return []domain.CastTarget{}, nil
	}
	targets, err := c.targets.Targets(ctx)
	if err != nil {
		return nil, domain.Wrap(domain.CodeDeviceCommunicationError, err, "device discovery failed")
	}
	return targets, nil
}

// Cast stops any active cast, then loads req on the target. A device that
// fails to load leaves the session installed with status error.
func (c *Controller) Cast(ctx context.Context, req Request) (domain.CastSession, error) {
	req.TargetID = strings.TrimSpace(req.TargetID)
	req.StreamURL = strings.TrimSpace(req.StreamURL)
	if req.TargetID == "" {
		return domain.CastSession{}, domain.NewError(domain.CodeInvalidParameter, "targetId is required")
	}
	if req.StreamURL == "" {
		return domain.CastSession{}, domain.NewError(domain.CodeInvalidParameter, "streamUrl is required")
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.isClosed() {
		return domain.CastSession{}, domain.NewError(domain.CodeInternal, "cast controller is shut down")
	}

	if err := c.teardownLocked(ctx, true); err != nil {
		c.logger.Warn().Err(err).Msg("previous_cast_stop_failed")
	}

	target, err := c.lookup(ctx, req.TargetID)
	if err != nil {
		return domain.CastSession{}, err
	}
	factory := c.factories[target.Family]
	if factory == nil {
		return domain.CastSession{}, domain.NewError(domain.CodeUnsupportedAction, "casting to %s receivers is not supported", target.Family)
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	log := c.logger.With().
		Str(applog.FieldDeviceID, target.ID).
		Str(applog.FieldFamily, string(target.Family)).
		Logger()

	h, err := c.handleLocked(target, factory)
	if err != nil {
		c.metrics.ObserveCastCommand(string(target.Family), "cast", err)
		return domain.CastSession{}, domain.Wrap(domain.CodeDeviceCommunicationError, err, "cannot open %s", target.Name)
	}
	h.gen.Store(gen)
	device := h.device

	media := Media{
		URL:         req.StreamURL,
		ContentType: req.ContentType,
		Title:       req.Title,
		Subtitles:   c.subtitleTracks(req.SubtitleBaseURL),
	}
	cur := &activeCast{
		session: domain.CastSession{
			TargetID:   target.ID,
			TargetName: target.Name,
			Family:     target.Family,
			StreamURL:  req.StreamURL,
			Status:     domain.CastLoading,
		},
		device: device,
		gen:    gen,
	}

	cmdCtx, cancel := context.WithTimeout(ctx, c.commandTimeout)
	err = withRetry(cmdCtx, defaultRetry, log, "cast_play", func() error { return device.Play(cmdCtx, media) })
	cancel()
	c.metrics.ObserveCastCommand(string(target.Family), "cast", err)

	if err != nil {
		cur.session.Status = domain.CastError
		cur.session.LastError = err.Error()
	} else {
		cur.session.Status = domain.CastPlaying
	}
	c.startMonitor(cur)
	c.mu.Lock()
	c.active = cur
	c.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Str("stream_url", req.StreamURL).Msg("cast_failed")
		return cur.session, domain.Wrap(domain.CodeDeviceCommunicationError, err, "%s did not start playback", target.Name).
			WithDetail("target_id", target.ID)
	}
	log.Info().Str("stream_url", req.StreamURL).Int("subtitles", len(media.Subtitles)).Msg("cast_started")
	return cur.session, nil
}

// handleLocked returns the cached device for target, opening it on first
// use. Callers hold opMu.
func (c *Controller) handleLocked(target domain.CastTarget, factory Factory) (*deviceHandle, error) {
	if h, ok := c.handles[target.ID]; ok {
		return h, nil
	}
	h := &deviceHandle{}
	device, err := factory(target, func(obs Observation) {
		c.post(event{gen: h.gen.Load(), obs: &obs})
	})
	if err != nil {
		return nil, err
	}
	h.device = device
	c.handles[target.ID] = h
	return h, nil
}

func (c *Controller) lookup(ctx context.Context, id string) (domain.CastTarget, error) {
	if c.targets == nil {
		return domain.CastTarget{}, domain.NewError(domain.CodeDeviceNotFound, "unknown cast target %q", id)
	}
	if t, ok := c.targets.Lookup(id); ok {
		return t, nil
	}
	if _, err := c.targets.Refresh(ctx); err != nil {
		c.logger.Debug().Err(err).Msg("target_refresh_failed")
	}
	if t, ok := c.targets.Lookup(id); ok {
		return t, nil
	}
	return domain.CastTarget{}, (&domain.Error{
		Code:           domain.CodeDeviceNotFound,
		Message:        fmt.Sprintf("unknown cast target %q", id),
		SuggestedFixes: []string{"List targets with GET /cast/devices and use one of the returned ids."},
	}).WithDetail("target_id", id)
}

func (c *Controller) subtitleTracks(base string) []domain.SubtitleTrack {
	if c.subtitles == nil {
		return nil
	}
	tracks, err := c.subtitles.Subtitles()
	if err != nil {
		return nil
	}
	base = strings.TrimRight(base, "/")
	out := make([]domain.SubtitleTrack, len(tracks))
	for i, t := range tracks {
		if base != "" {
			t.URL = base + "/subtitles/" + strconv.Itoa(t.Index)
		}
		out[i] = t
	}
	return out
}

// Control applies action to the active cast. Input is validated before the
// active cast is looked up.
func (c *Controller) Control(ctx context.Context, action string, params map[string]any) (domain.CastSession, error) {
	cmd, err := parseCommand(action, params)
	if err != nil {
		return domain.CastSession{}, err
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.RLock()
	cur := c.active
	c.mu.RUnlock()
	if cur == nil {
		return domain.CastSession{}, domain.NewError(domain.CodeNoActiveCast, "no active cast session")
	}

	cmdCtx, cancel := context.WithTimeout(ctx, c.commandTimeout)
	defer cancel()

	var devErr error
	switch cmd.action {
	case ActionPlay:
		devErr = cur.device.Resume(cmdCtx)
	case ActionPause:
		devErr = cur.device.Pause(cmdCtx)
	case ActionSeek:
		devErr = cur.device.Seek(cmdCtx, cmd.position)
	case ActionVolume:
		devErr = cur.device.SetVolume(cmdCtx, cmd.level)
	case ActionStop:
		devErr = cur.device.Stop(cmdCtx)
	}
	c.metrics.ObserveCastCommand(string(cur.session.Family), string(cmd.action), devErr)

	log := c.logger.With().
		Str(applog.FieldDeviceID, cur.session.TargetID).
		Str(applog.FieldAction, string(cmd.action)).
		Logger()

	if devErr != nil {
		c.mu.Lock()
		cur.session.Status = domain.CastError
		cur.session.LastError = devErr.Error()
		snapshot := cur.session
		c.mu.Unlock()
		log.Warn().Err(devErr).Msg("cast_control_failed")
		return snapshot, domain.Wrap(domain.CodeDeviceCommunicationError, devErr, "%s failed on %s", cmd.action, cur.session.TargetName)
	}

	if cmd.action == ActionStop {
		c.mu.Lock()
		c.active = nil
		cur.session.Status = domain.CastStopped
		snapshot := cur.session
		c.mu.Unlock()
		c.release(cur)
		log.Info().Msg("cast_stopped")
		return snapshot, nil
	}

	c.mu.Lock()
	switch cmd.action {
	case ActionPlay:
		cur.session.Status = domain.CastPlaying
	case ActionPause:
		cur.session.Status = domain.CastPaused
	case ActionSeek:
		cur.session.PositionSeconds = cmd.position
	}
	cur.session.LastError = ""
	snapshot := cur.session
	c.mu.Unlock()
	log.Debug().Msg("cast_control_applied")
	return snapshot, nil
}

// Status returns nil when nothing is being cast.
func (c *Controller) Status() *domain.CastSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.active == nil {
		return nil
	}
	s := c.active.session
	return &s
}

// StopActive ends the active cast. The session is cleared even when the
// device cannot be told to stop.
func (c *Controller) StopActive(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.teardownLocked(ctx, true)
}

func (c *Controller) teardownLocked(ctx context.Context, stopMedia bool) error {
	c.mu.Lock()
	cur := c.active
	c.active = nil
	c.mu.Unlock()
	if cur == nil {
		return nil
	}

	var errs []error
	if stopMedia {
		cmdCtx, cancel := context.WithTimeout(ctx, c.commandTimeout)
		if err := cur.device.Stop(cmdCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", cur.session.TargetID, err))
		}
		cancel()
		c.metrics.ObserveCastCommand(string(cur.session.Family), string(ActionStop), errors.Join(errs...))
	}
	c.release(cur)
	c.logger.Info().Str(applog.FieldDeviceID, cur.session.TargetID).Msg("cast_stopped")
	return errors.Join(errs...)
}

// release stops polling for cur. The device handle stays cached.
func (c *Controller) release(cur *activeCast) {
	if cur.monitorCancel == nil {
		return
	}
	cur.monitorCancel()
	select {
	case <-cur.monitorDone:
	case <-time.After(monitorStopWait):
	}
}

// closeHandlesLocked releases every cached device. Callers hold opMu.
func (c *Controller) closeHandlesLocked() error {
	var errs []error
	for id, h := range c.handles {
		if err := h.device.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
		delete(c.handles, id)
	}
	return errors.Join(errs...)
}

// startMonitor polls the device into the inbox until the cast ends.
func (c *Controller) startMonitor(cur *activeCast) {
	ctx, cancel := context.WithCancel(c.runCtx)
	cur.monitorCancel = cancel
	cur.monitorDone = make(chan struct{})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(cur.monitorDone)
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			pollCtx, pollCancel := context.WithTimeout(ctx, c.commandTimeout)
			obs, err := cur.device.Status(pollCtx)
			pollCancel()
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Debug().Err(err).Str(applog.FieldDeviceID, cur.session.TargetID).Msg("cast_poll_failed")
				}
				continue
			}
			c.post(event{gen: cur.gen, obs: &obs})
		}
	}()
}

func (c *Controller) post(ev event) {
	select {
	case c.inbox <- ev:
	default:
		c.logger.Debug().Msg("cast_event_dropped")
	}
}

func (c *Controller) forwardTargetEvents(events <-chan discovery.Event) {
	defer c.wg.Done()
	for {
		select {
		case <-c.runCtx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind == discovery.TargetDown {
				c.post(event{targetDown: ev.Target.ID})
			}
		}
	}
}

func (c *Controller) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.runCtx.Done():
			return
		case ev := <-c.inbox:
			c.apply(ev)
		}
	}
}

func (c *Controller) apply(ev event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.active
	if cur == nil {
		return
	}

	if ev.targetDown != "" {
		if ev.targetDown == cur.session.TargetID {
			cur.session.Status = domain.CastError
			cur.session.LastError = "device left the network"
			c.logger.Warn().Str(applog.FieldDeviceID, ev.targetDown).Msg("cast_target_lost")
		}
		return
	}
	if ev.gen != cur.gen || ev.obs == nil {
		return
	}
	obs := ev.obs
	if obs.State != "" && obs.State != cur.session.Status {
		c.logger.Debug().
			Str(applog.FieldDeviceID, cur.session.TargetID).
			Str(applog.FieldOldState, string(cur.session.Status)).
			Str(applog.FieldNewState, string(obs.State)).
			Msg("cast_state_changed")
		cur.session.Status = obs.State
	}
	if obs.Position > 0 {
		cur.session.PositionSeconds = obs.Position
	}
	if obs.Duration > 0 {
		cur.session.DurationSeconds = obs.Duration
	}
}

func (c *Controller) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Close stops the active cast, closes every cached device and stops the
// background goroutines.
func (c *Controller) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.opMu.Lock()
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		err = errors.Join(c.teardownLocked(ctx, true), c.closeHandlesLocked())
		c.opMu.Unlock()

		c.runCancel()
		c.wg.Wait()
	})
	return err
}
