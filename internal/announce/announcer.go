// Package announce advertises multicast streams with SAP/SDP so players
// such as VLC list them without manual configuration.
package announce

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mtahle/torrent-streamer/internal/domain"
	applog "github.com/mtahle/torrent-streamer/internal/log"
	"github.com/mtahle/torrent-streamer/internal/metrics"
	"github.com/rs/zerolog"
)

const DefaultInterval = 30 * time.Second

// StreamInfo describes the stream being announced.
type StreamInfo struct {
	StreamID    string
	Title       string
	Description string
	Address     string
	Port        int
	TTL         int
	Protocol    domain.Protocol
}

type Options struct {
	Sender   Sender
	Interval time.Duration
	// LocalIP overrides origin address discovery.
	LocalIP func() (net.IP, error)
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

type Announcer struct {
	sender   Sender
	interval time.Duration
	localIP  func() (net.IP, error)
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*announcement
	closed  bool
}

type announcement struct {
	id          string
	title       string
	destination string
	startedAt   time.Time
	announcePkt []byte
	deletePkt   []byte
	cancel      context.CancelFunc
	done        chan struct{}
}

func New(opts Options) *Announcer {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	localIP := opts.LocalIP
	if localIP == nil {
		localIP = LocalIPv4
	}
	return &Announcer{
		sender:   opts.Sender,
		interval: interval,
		localIP:  localIP,
		logger:   opts.Logger.With().Str(applog.FieldComponent, "announce").Logger(),
		metrics:  opts.Metrics,
		now:      time.Now,
		entries:  make(map[string]*announcement),
	}
}

// Announce starts periodic announcements for info and returns their id.
// Announcing a stream id that is already live replaces the old entry.
func (a *Announcer) Announce(info StreamInfo) (string, error) {
	if a.sender == nil {
		return "", errors.New("announcer has no sender")
	}
	origin, err := a.localIP()
	if err != nil {
		return "", fmt.Errorf("resolve sap origin: %w", err)
	}

	id := info.StreamID
	if id == "" {
		id = uuid.NewString()
	}

	sessionID := randomUint64()
	sdp := BuildSDP(Description{
		SessionID: sessionID,
		Version:   uint64(a.now().Unix()),
		Origin:    origin,
		Title:     info.Title,
		Info:      info.Description,
		Address:   info.Address,
		Port:      info.Port,
		TTL:       info.TTL,
		Protocol:  info.Protocol,
	})
	msgID := uint16(randomUint64())
	announcePkt, err := BuildPacket(KindAnnounce, msgID, origin, sdp)
	if err != nil {
		return "", err
	}
	deletePkt, err := BuildPacket(KindDelete, msgID, origin, sdp)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	entry := &announcement{
		id:          id,
		title:       info.Title,
		destination: fmt.Sprintf("%s:%d", info.Address, info.Port),
		startedAt:   a.now(),
		announcePkt: announcePkt,
		deletePkt:   deletePkt,
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		cancel()
		return "", errors.New("announcer is closed")
	}
	prev := a.entries[id]
	delete(a.entries, id)
	a.mu.Unlock()
	if prev != nil {
		a.withdraw(prev)
	}

	// Close may have run while the previous entry was withdrawn.
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		cancel()
		return "", errors.New("announcer is closed")
	}
	a.entries[id] = entry
	a.mu.Unlock()

	a.send(entry, KindAnnounce)
	go a.repeat(ctx, entry)

	a.logger.Info().
		Str(applog.FieldAnnouncementID, id).
		Str(applog.FieldDestination, entry.destination).
		Dur("interval", a.interval).
		Msg("announcement_started")
	return id, nil
}

func (a *Announcer) repeat(ctx context.Context, entry *announcement) {
	defer close(entry.done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.send(entry, KindAnnounce)
		}
	}
}

// StopAnnouncement withdraws id. Unknown ids are a no-op.
func (a *Announcer) StopAnnouncement(id string) {
	a.mu.Lock()
	entry, ok := a.entries[id]
	delete(a.entries, id)
	a.mu.Unlock()
	if !ok {
		return
	}
	a.withdraw(entry)
}

func (a *Announcer) withdraw(entry *announcement) {
	entry.cancel()
	<-entry.done
	a.send(entry, KindDelete)
	a.logger.Info().
		Str(applog.FieldAnnouncementID, entry.id).
		Dur("uptime", a.now().Sub(entry.startedAt)).
		Msg("announcement_withdrawn")
}

func (a *Announcer) send(entry *announcement, kind Kind) {
	pkt := entry.announcePkt
	if kind == KindDelete {
		pkt = entry.deletePkt
	}
	if err := a.sender.Send(pkt); err != nil {
		a.logger.Warn().Err(err).
			Str(applog.FieldAnnouncementID, entry.id).
			Str("kind", kind.String()).
			Msg("sap_send_failed")
		return
	}
	a.metrics.IncSAPPackets(kind.String())
}

// ActiveAnnouncements lists live announcements ordered by start time.
func (a *Announcer) ActiveAnnouncements() []domain.AnnouncementInfo {
	now := a.now()
	a.mu.Lock()
	out := make([]domain.AnnouncementInfo, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, domain.AnnouncementInfo{
			ID:          e.id,
			Title:       e.title,
			Destination: e.destination,
			Uptime:      now.Sub(e.startedAt),
		})
	}
	a.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Uptime != out[j].Uptime {
			return out[i].Uptime > out[j].Uptime
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// StopAll withdraws every live announcement.
func (a *Announcer) StopAll() {
	a.mu.Lock()
	entries := make([]*announcement, 0, len(a.entries))
	for id, e := range a.entries {
		entries = append(entries, e)
		delete(a.entries, id)
	}
	a.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.withdraw(e)
		}()
	}
	wg.Wait()
}

// Close withdraws everything and closes the socket.
func (a *Announcer) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	a.StopAll()
	if a.sender == nil {
		return nil
	}
	return a.sender.Close()
}

func randomUint64() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint64(b[:])
}
