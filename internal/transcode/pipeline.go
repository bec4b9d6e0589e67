// Package transcode supervises encoder subprocesses that re-encode the
// active file and push it to RTP or UDP/MPEG-TS destinations.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mtahle/torrent-streamer/internal/announce"
	"github.com/mtahle/torrent-streamer/internal/domain"
	applog "github.com/mtahle/torrent-streamer/internal/log"
	"github.com/mtahle/torrent-streamer/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	defaultStopGrace   = 5 * time.Second
	encoderCheckWait   = 5 * time.Second
	historySize        = 16
	inboxSize          = 32
	defaultRTPPort     = 5004
	defaultUDPPort     = 1234
	defaultMulticast   = "239.255.1.1"
	defaultTTL         = 16
	unicastBindAddress = "0.0.0.0"
)

// newCommand is swapped in tests for a helper process.
var newCommand = exec.CommandContext

// Opener opens a full read of the file to encode.
type Opener func(ctx context.Context) (io.ReadCloser, error)

// Announcer is the subset of the SAP announcer the pipeline drives.
type Announcer interface {
	Announce(info announce.StreamInfo) (string, error)
	StopAnnouncement(id string)
}

type Metadata struct {
	Title string
}

type RTPOptions struct {
	Port          int
	Multicast     bool
	MulticastAddr string
	TTL           int
	Announce      bool
}

type UDPOptions struct {
	Port          int
	MulticastAddr string
	TTL           int
	Announce      bool
}

type Options struct {
	EncoderPath   string
	StopGrace     time.Duration
	RTPPort       int
	UDPPort       int
	MulticastAddr string
	TTL           int
	Announcer     Announcer
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
}

type Pipeline struct {
	opts    Options
	logger  zerolog.Logger
	metrics *metrics.Metrics
	seq     atomic.Uint64
	now     func() time.Time

	inbox chan event
	quit  chan struct{}
	done  chan struct{}

	mu      sync.Mutex
	live    map[string]*stream
	history []domain.TranscodeStream
	closed  bool
}

type stream struct {
	info  domain.TranscodeStream
	cmd   *exec.Cmd
	stdin io.WriteCloser
	input io.ReadCloser

	cancelInput context.CancelFunc
	releaseOnce sync.Once
	stopOnce    sync.Once
	exited      chan struct{}
	finalized   chan struct{}
}

type eventKind int

const (
	eventStreaming eventKind = iota
	eventExited
)

type event struct {
	kind   eventKind
	id     string
	err    error
	detail string
}

func New(opts Options) *Pipeline {
	if opts.EncoderPath == "" {
		opts.EncoderPath = "ffmpeg"
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = defaultStopGrace
	}
	if opts.RTPPort <= 0 {
		opts.RTPPort = defaultRTPPort
	}
	if opts.UDPPort <= 0 {
		opts.UDPPort = defaultUDPPort
	}
	if opts.MulticastAddr == "" {
		opts.MulticastAddr = defaultMulticast
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}

	p := &Pipeline{
		opts:    opts,
		logger:  opts.Logger.With().Str(applog.FieldComponent, "transcode").Logger(),
		metrics: opts.Metrics,
		now:     time.Now,
		inbox:   make(chan event, inboxSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		live:    make(map[string]*stream),
	}
	go p.run()
	return p
}

// CheckEncoderAvailable reports whether the encoder binary runs.
func (p *Pipeline) CheckEncoderAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, encoderCheckWait)
	defer cancel()
	cmd := newCommand(ctx, p.opts.EncoderPath, "-version")
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	return cmd.Run() == nil
}

func (p *Pipeline) StartRTP(ctx context.Context, open Opener, meta Metadata, o RTPOptions) (domain.TranscodeStream, error) {
	dest := destination{port: o.Port, multicast: o.Multicast, ttl: o.TTL}
	if dest.port <= 0 {
		dest.port = p.opts.RTPPort
	}
	if dest.multicast {
		dest.address = o.MulticastAddr
		if dest.address == "" {
			dest.address = p.opts.MulticastAddr
		}
		if dest.ttl <= 0 {
			dest.ttl = p.opts.TTL
		}
	} else {
		dest.address = unicastBindAddress
		dest.ttl = 0
	}
	if err := validateDestination(dest); err != nil {
		return domain.TranscodeStream{}, err
	}
	return p.start(ctx, domain.ProtocolRTP, open, meta, dest, o.Announce && dest.multicast, rtpArgs(dest))
}

func (p *Pipeline) StartUDP(ctx context.Context, open Opener, meta Metadata, o UDPOptions) (domain.TranscodeStream, error) {
	dest := destination{port: o.Port, address: o.MulticastAddr, multicast: true, ttl: o.TTL}
	if dest.port <= 0 {
		dest.port = p.opts.UDPPort
	}
	if dest.address == "" {
		dest.address = p.opts.MulticastAddr
	}
	if dest.ttl <= 0 {
		dest.ttl = p.opts.TTL
	}
	if err := validateDestination(dest); err != nil {
		return domain.TranscodeStream{}, err
	}
	return p.start(ctx, domain.ProtocolUDP, open, meta, dest, o.Announce, udpArgs(dest, meta.Title))
}

func validateDestination(d destination) error {
	if d.port < 1 || d.port > 65535 {
		return domain.NewError(domain.CodeInvalidParameter, "port %d out of range", d.port)
	}
	if d.ttl < 0 || d.ttl > 255 {
		return domain.NewError(domain.CodeInvalidParameter, "ttl %d out of range", d.ttl)
	}
	if d.multicast {
		ip := net.ParseIP(d.address)
		if ip == nil || ip.To4() == nil || !ip.IsMulticast() {
			return domain.NewError(domain.CodeInvalidParameter, "%q is not an IPv4 multicast address", d.address)
		}
	}
	return nil
}

func (p *Pipeline) start(ctx context.Context, proto domain.Protocol, open Opener, meta Metadata, dest destination, withAnnounce bool, args []string) (domain.TranscodeStream, error) {
	if p.isClosed() {
		return domain.TranscodeStream{}, domain.NewError(domain.CodeInternal, "transcode pipeline is closed")
	}
	if !p.CheckEncoderAvailable(ctx) {
		return domain.TranscodeStream{}, encoderUnavailableError(p.opts.EncoderPath)
	}

	id := fmt.Sprintf("%s-%d-%d", proto, p.now().UnixMilli(), p.seq.Add(1))
	log := p.logger.With().Str(applog.FieldStreamID, id).Str(applog.FieldDestination, dest.String()).Logger()

	inputCtx, cancelInput := context.WithCancel(context.Background())
	input, err := open(inputCtx)
	if err != nil {
		cancelInput()
		var de *domain.Error
		if errors.As(err, &de) {
			return domain.TranscodeStream{}, err
		}
		return domain.TranscodeStream{}, domain.Wrap(domain.CodeSourceUnavailable, err, "open encoder input")
	}

	info := domain.TranscodeStream{
		StreamID:  id,
		Protocol:  proto,
		Address:   dest.address,
		Port:      dest.port,
		Multicast: dest.multicast,
		TTL:       dest.ttl,
		Title:     meta.Title,
		Status:    domain.StreamStarting,
		StartedAt: p.now(),
	}

	cmd := newCommand(context.Background(), p.opts.EncoderPath, args...)
	setProcessGroup(cmd)
	stdin, err := cmd.StdinPipe()
	if err == nil {
		var stderr io.ReadCloser
		stderr, err = cmd.StderrPipe()
		if err == nil {
			err = cmd.Start()
		}
		if err == nil {
			s := &stream{
				info:        info,
				cmd:         cmd,
				stdin:       stdin,
				input:       input,
				cancelInput: cancelInput,
				exited:      make(chan struct{}),
				finalized:   make(chan struct{}),
			}
			return p.launch(s, stderr, withAnnounce, log), nil
		}
	}

	// Spawn failure: the stream is born dead but stays observable.
	cancelInput()
	_ = input.Close()
	info.Status = domain.StreamError
	info.EndedAt = p.now()
	info.ExitReason = err.Error()
	p.mu.Lock()
	p.pushHistoryLocked(info)
	p.mu.Unlock()
	log.Error().Err(err).Msg("encoder_spawn_failed")
	return info, domain.Wrap(domain.CodeInternal, err, "start encoder")
}

func (p *Pipeline) launch(s *stream, stderr io.Reader, withAnnounce bool, log zerolog.Logger) domain.TranscodeStream {
	id := s.info.StreamID
	if withAnnounce && p.opts.Announcer != nil {
		annID, err := p.opts.Announcer.Announce(announce.StreamInfo{
			StreamID: id,
			Title:    s.info.Title,
			Address:  s.info.Address,
			Port:     s.info.Port,
			TTL:      s.info.TTL,
			Protocol: s.info.Protocol,
		})
		if err != nil {
			log.Warn().Err(err).Msg("announcement_failed")
		} else {
			s.info.AnnouncementID = annID
		}
	}

	p.mu.Lock()
	p.live[id] = s
	snapshot := s.info
	p.mu.Unlock()
	p.metrics.TranscodeStarted(string(s.info.Protocol))

	go func() {
		_, err := io.Copy(s.stdin, s.input)
		if err != nil && !errors.Is(err, context.Canceled) && !isPipeClosed(err) {
			log.Debug().Err(err).Msg("encoder_feed_stopped")
		}
		_ = s.stdin.Close()
	}()

	go func() {
		last := p.watchStderr(id, stderr)
		err := s.cmd.Wait()
		close(s.exited)
		p.post(event{kind: eventExited, id: id, err: err, detail: last})
	}()

	log.Info().
		Str("protocol", string(s.info.Protocol)).
		Bool("multicast", s.info.Multicast).
		Str(applog.FieldAnnouncementID, s.info.AnnouncementID).
		Msg("transcode_started")
	return snapshot
}

// watchStderr posts one streaming event on the first progress marker and
// returns the last non-empty line for exit diagnostics.
func (p *Pipeline) watchStderr(id string, r io.Reader) string {
	sc := newProgressScanner(r)
	var (
		last      string
		streaming bool
	)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		last = line
		if !streaming && isProgressLine(line) {
			streaming = true
			p.post(event{kind: eventStreaming, id: id})
		}
	}
	return last
}

func (p *Pipeline) post(ev event) {
	select {
	case p.inbox <- ev:
	case <-p.quit:
	}
}

func (p *Pipeline) run() {
	defer close(p.done)
	for {
		select {
		case ev := <-p.inbox:
			p.apply(ev)
		case <-p.quit:
			return
		}
	}
}

func (p *Pipeline) apply(ev event) {
	p.mu.Lock()
	s, ok := p.live[ev.id]
	if !ok {
		p.mu.Unlock()
		return
	}

	switch ev.kind {
	case eventStreaming:
		if s.info.Status == domain.StreamStarting {
			s.info.Status = domain.StreamStreaming
			p.mu.Unlock()
			p.logger.Info().Str(applog.FieldStreamID, ev.id).
				Str(applog.FieldOldState, string(domain.StreamStarting)).
				Str(applog.FieldNewState, string(domain.StreamStreaming)).
				Msg("transcode_state_changed")
			return
		}
		p.mu.Unlock()

	case eventExited:
		delete(p.live, ev.id)
		stopping := s.info.Status == domain.StreamStopping
		switch {
		case ev.err == nil || stopping:
			s.info.Status = domain.StreamStopped
		default:
			s.info.Status = domain.StreamError
			s.info.ExitReason = ev.err.Error()
			if ev.detail != "" {
				s.info.ExitReason += ": " + ev.detail
			}
		}
		s.info.EndedAt = p.now()
		final := s.info
		p.pushHistoryLocked(final)
		p.mu.Unlock()

		s.release()
		if final.AnnouncementID != "" && p.opts.Announcer != nil {
			p.opts.Announcer.StopAnnouncement(final.AnnouncementID)
		}
		p.metrics.TranscodeEnded(string(final.Protocol), string(final.Status))

		evt := p.logger.Info()
		if final.Status == domain.StreamError {
			evt = p.logger.Error().Str("exit_reason", final.ExitReason)
		}
		evt.Str(applog.FieldStreamID, ev.id).
			Str(applog.FieldNewState, string(final.Status)).
			Dur("uptime", final.EndedAt.Sub(final.StartedAt)).
			Msg("transcode_exited")
		close(s.finalized)
	}
}

func (p *Pipeline) pushHistoryLocked(info domain.TranscodeStream) {
	p.history = append(p.history, info)
	if len(p.history) > historySize {
		p.history = p.history[len(p.history)-historySize:]
	}
}

// release drops the input read stream; safe to call more than once.
func (s *stream) release() {
	s.releaseOnce.Do(func() {
		s.cancelInput()
		_ = s.input.Close()
	})
}

// Stop closes the encoder's input, asks it to exit and escalates to a kill
// after the grace period. The input stream is released either way.
func (p *Pipeline) Stop(id string) (domain.TranscodeStream, error) {
	p.mu.Lock()
	s, ok := p.live[id]
	if ok && s.info.Status != domain.StreamStopping {
		s.info.Status = domain.StreamStopping
	}
	p.mu.Unlock()
	if !ok {
		return domain.TranscodeStream{}, domain.NewError(domain.CodeStreamNotFound, "transcode stream %q not found", id).
			WithDetail("stream_id", id)
	}

	s.stopOnce.Do(func() {
		_ = s.stdin.Close()
		s.release()
		if err := terminate(s.cmd.Process); err != nil {
			p.logger.Debug().Err(err).Str(applog.FieldStreamID, id).Msg("encoder_terminate_failed")
		}

		timer := time.NewTimer(p.opts.StopGrace)
		defer timer.Stop()
		select {
		case <-s.exited:
		case <-timer.C:
			p.logger.Warn().Str(applog.FieldStreamID, id).Dur("grace", p.opts.StopGrace).Msg("encoder_kill_escalated")
			if err := kill(s.cmd.Process); err != nil {
				p.logger.Error().Err(err).Str(applog.FieldStreamID, id).Msg("encoder_kill_failed")
			}
		}
	})

	<-s.finalized
	final, _ := p.Status(id)
	return final, nil
}

// StopAll stops every live stream, logging and collecting failures without
// aborting the sweep.
func (p *Pipeline) StopAll() error {
	p.mu.Lock()
	ids := make([]string, 0, len(p.live))
	for id := range p.live {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := p.Stop(id); err != nil && !domain.IsCode(err, domain.CodeStreamNotFound) {
				p.logger.Error().Err(err).Str(applog.FieldStreamID, id).Msg("transcode_stop_failed")
				mu.Lock()
				errs = append(errs, fmt.Errorf("stop %s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Status returns the live stream, or the most recent finished record.
func (p *Pipeline) Status(id string) (domain.TranscodeStream, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.live[id]; ok {
		return s.info, true
	}
	for i := len(p.history) - 1; i >= 0; i-- {
		if p.history[i].StreamID == id {
			return p.history[i], true
		}
	}
	return domain.TranscodeStream{}, false
}

// StatusAll lists live streams, oldest first.
func (p *Pipeline) StatusAll() []domain.TranscodeStream {
	p.mu.Lock()
	out := make([]domain.TranscodeStream, 0, len(p.live))
	for _, s := range p.live {
		out = append(out, s.info)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].StreamID < out[j].StreamID
	})
	return out
}

// Close stops all streams and the state loop. Starts after Close fail.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.StopAll()
	close(p.quit)
	<-p.done
	return err
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func encoderUnavailableError(path string) *domain.Error {
	return &domain.Error{
		Code:    domain.CodeEncoderUnavailable,
		Message: fmt.Sprintf("encoder %q is required for transcoding but could not be run", path),
		SuggestedFixes: []string{
			"Linux: install ffmpeg with your package manager (for example: sudo apt install ffmpeg).",
			"macOS: install ffmpeg with Homebrew (brew install ffmpeg).",
			"Windows: install ffmpeg and add ffmpeg.exe to PATH, then verify with `where ffmpeg`.",
			"Or point transcode.encoder_path / TS_ENCODER_PATH at an ffmpeg binary.",
		},
		Details: map[string]any{"binary": path},
	}
}
