// Package discovery keeps the set of cast targets visible on the LAN and
// reports targets appearing and disappearing.
package discovery

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mtahle/torrent-streamer/internal/adapters"
	"github.com/mtahle/torrent-streamer/internal/domain"
	applog "github.com/mtahle/torrent-streamer/internal/log"
	"github.com/rs/zerolog"
	"go2tv.app/go2tv/v2/devices"
	"golang.org/x/sync/errgroup"
)

const (
	defaultInterval = 10 * time.Second
	defaultTimeout  = 3 * time.Second
	// missesBeforeDown is how many consecutive scans a target may be absent
	// from before it is reported gone.
	missesBeforeDown = 2
	eventBuffer      = 32
)

type EventKind string

const (
	TargetUp   EventKind = "up"
	TargetDown EventKind = "down"
)

type Event struct {
	Kind   EventKind
	Target domain.CastTarget
}

type Options struct {
	Devices  adapters.Discovery
	AirPlay  adapters.AirPlayBrowser
	Interval time.Duration
	Timeout  time.Duration
	Logger   zerolog.Logger
}

type Service struct {
	devices  adapters.Discovery
	airplay  adapters.AirPlayBrowser
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger
	events   chan Event

	loopOnce sync.Once
	scanMu   sync.Mutex

	mu      sync.RWMutex
	known   map[string]domain.CastTarget
	misses  map[string]int
	scanned bool
}

func NewService(opts Options) *Service {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Service{
		devices:  opts.Devices,
		airplay:  opts.AirPlay,
		interval: interval,
		timeout:  timeout,
		logger:   opts.Logger.With().Str(applog.FieldComponent, "discovery").Logger(),
		events:   make(chan Event, eventBuffer),
		known:    map[string]domain.CastTarget{},
		misses:   map[string]int{},
	}
}

// Events delivers up/down transitions. Events are dropped when the
// consumer falls behind.
func (s *Service) Events() <-chan Event {
	return s.events
}

// Run rescans every interval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("discovery_scan_failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Targets returns the current target set, scanning once if nothing has
// been scanned yet.
func (s *Service) Targets(ctx context.Context) ([]domain.CastTarget, error) {
	s.mu.RLock()
	scanned := s.scanned
	s.mu.RUnlock()
	if !scanned {
		return s.Refresh(ctx)
	}
	return s.snapshot(), nil
}

// Lookup finds a known target by id.
func (s *Service) Lookup(id string) (domain.CastTarget, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.known[id]
	return t, ok
}

// Refresh scans both discovery sources concurrently and merges the result.
// A failing source contributes nothing; Refresh only fails when both do.
func (s *Service) Refresh(ctx context.Context) ([]domain.CastTarget, error) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	if s.devices != nil {
		s.loopOnce.Do(func() {
			// go2tv's Chromecast loop outlives individual scans.
			s.devices.StartChromecastDiscoveryLoop(context.WithoutCancel(ctx))
		})
	}

	var (
		upnp, airplay       []domain.CastTarget
		upnpErr, airplayErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		upnp, upnpErr = s.scanGo2TV(gctx)
		return nil
	})
	g.Go(func() error {
		airplay, airplayErr = s.scanAirPlay(gctx)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if upnpErr != nil && airplayErr != nil {
		return nil, errors.Join(upnpErr, airplayErr)
	}
	for _, err := range []error{upnpErr, airplayErr} {
		if err != nil {
			s.logger.Debug().Err(err).Msg("discovery_source_failed")
		}
	}

	found := append(upnp, airplay...)
	s.merge(found)
	return s.snapshot(), nil
}

func (s *Service) scanGo2TV(ctx context.Context) ([]domain.CastTarget, error) {
	if s.devices == nil {
		return nil, nil
	}
	type result struct {
		devices []devices.Device
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		d, err := s.devices.LoadAllDevices(timeoutToDelaySeconds(s.timeout))
		ch <- result{d, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if errors.Is(r.err, devices.ErrNoDeviceAvailable) {
			return nil, nil
		}
		if r.err != nil {
			return nil, fmt.Errorf("load upnp devices: %w", r.err)
		}
		return normalizeDevices(r.devices), nil
	}
}

func (s *Service) scanAirPlay(ctx context.Context) ([]domain.CastTarget, error) {
	if s.airplay == nil {
		return nil, nil
	}
	services, err := s.airplay.Browse(ctx, s.timeout)
	if err != nil {
		return nil, fmt.Errorf("browse airplay: %w", err)
	}
	out := make([]domain.CastTarget, 0, len(services))
	for _, svc := range services {
		addr := "http://" + net.JoinHostPort(svc.Host, strconv.Itoa(svc.Port))
		out = append(out, domain.CastTarget{
			ID:      stableID(domain.FamilyAirPlay, addr),
			Name:    strings.TrimSpace(svc.Name),
			Address: addr,
			Family:  domain.FamilyAirPlay,
		})
	}
	return out, nil
}

// merge applies a scan result and emits transitions. A known target is
// dropped only after missesBeforeDown consecutive absent scans.
func (s *Service) merge(found []domain.CastTarget) {
	var events []Event

	s.mu.Lock()
	s.scanned = true
	seen := make(map[string]struct{}, len(found))
	for _, t := range found {
		seen[t.ID] = struct{}{}
		delete(s.misses, t.ID)
		if _, ok := s.known[t.ID]; !ok {
			events = append(events, Event{Kind: TargetUp, Target: t})
		}
		s.known[t.ID] = t
	}
	for id, t := range s.known {
		if _, ok := seen[id]; ok {
			continue
		}
		s.misses[id]++
		if s.misses[id] >= missesBeforeDown {
			delete(s.known, id)
			delete(s.misses, id)
			events = append(events, Event{Kind: TargetDown, Target: t})
		}
	}
	s.mu.Unlock()

	for _, ev := range events {
		s.logger.Info().
			Str(applog.FieldEvent, string(ev.Kind)).
			Str(applog.FieldDeviceID, ev.Target.ID).
			Str(applog.FieldFamily, string(ev.Target.Family)).
			Str("name", ev.Target.Name).
			Msg("cast_target_changed")
		select {
		case s.events <- ev:
		default:
			s.logger.Warn().Str(applog.FieldDeviceID, ev.Target.ID).Msg("discovery_event_dropped")
		}
	}
}

func (s *Service) snapshot() []domain.CastTarget {
	s.mu.RLock()
	out := make([]domain.CastTarget, 0, len(s.known))
	for _, t := range s.known {
		out = append(out, t)
	}
	s.mu.RUnlock()
	sortTargets(out)
	return out
}

func timeoutToDelaySeconds(timeout time.Duration) int {
	seconds := int(math.Ceil(timeout.Seconds()))
	if seconds <= 0 {
		return 1
	}
	return seconds
}

func normalizeDevices(discovered []devices.Device) []domain.CastTarget {
	result := make([]domain.CastTarget, 0, len(discovered))
	for _, raw := range discovered {
		family, ok := normalizeFamily(raw.Type)
		if !ok {
			continue
		}
		address := strings.TrimSpace(raw.Addr)
		result = append(result, domain.CastTarget{
			ID:      stableID(family, address),
			Name:    strings.TrimSpace(raw.Name),
			Address: address,
			Family:  family,
		})
	}
	return result
}

func sortTargets(all []domain.CastTarget) {
	slices.SortFunc(all, func(a, b domain.CastTarget) int {
		if d := familyRank(a.Family) - familyRank(b.Family); d != 0 {
			return d
		}
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		if c := strings.Compare(strings.ToLower(a.Address), strings.ToLower(b.Address)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func familyRank(f domain.Family) int {
	switch f {
	case domain.FamilyDLNA:
		return 0
	case domain.FamilyChromecast:
		return 1
	default:
		return 2
	}
}

func stableID(family domain.Family, address string) string {
	canonical := fmt.Sprintf("%s|%s", family, canonicalAddress(address))
	sum := sha1.Sum([]byte(canonical))
	return "dev_" + hex.EncodeToString(sum[:8])
}

func canonicalAddress(address string) string {
	parsed, err := url.Parse(address)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(address))
	}

	host := strings.ToLower(parsed.Hostname())
	port := parsed.Port()
	if port == "" {
		if strings.EqualFold(parsed.Scheme, "https") {
			port = "443"
		} else {
			port = "80"
		}
	}

	path := strings.TrimSpace(strings.ToLower(parsed.EscapedPath()))
	if path == "" {
		path = "/"
	}

	return fmt.Sprintf("%s://%s:%s%s", strings.ToLower(parsed.Scheme), host, port, path)
}

func normalizeFamily(kind string) (domain.Family, bool) {
	lower := strings.ToLower(strings.TrimSpace(kind))
	switch {
	case strings.Contains(lower, "chrome"):
		return domain.FamilyChromecast, true
	case strings.Contains(lower, "dlna"):
		return domain.FamilyDLNA, true
	}
	return "", false
}
