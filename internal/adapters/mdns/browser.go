// Package mdns browses the LAN for AirPlay receivers.
package mdns

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/mtahle/torrent-streamer/internal/adapters"
)

const (
	airplayService = "_airplay._tcp"
	defaultPort    = 7000
)

// query is swapped in tests.
var query = mdns.QueryContext

type Browser struct{}

func NewBrowser() Browser { return Browser{} }

func (Browser) Browse(ctx context.Context, timeout time.Duration) ([]adapters.AirPlayService, error) {
	entries := make(chan *mdns.ServiceEntry, 32)

	var (
		wg   sync.WaitGroup
		out  []adapters.AirPlayService
		seen = map[string]struct{}{}
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range entries {
			svc, ok := toService(e)
			if !ok {
				continue
			}
			key := fmt.Sprintf("%s:%d", svc.Host, svc.Port)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, svc)
		}
	}()

	params := mdns.DefaultParams(airplayService)
	params.Domain = "local"
	params.Timeout = timeout
	params.Entries = entries
	params.DisableIPv6 = true

	err := query(ctx, params)
	close(entries)
	wg.Wait()
	if err != nil {
		return out, fmt.Errorf("mdns query %s: %w", airplayService, err)
	}
	return out, nil
}

func toService(e *mdns.ServiceEntry) (adapters.AirPlayService, bool) {
	if e == nil || e.AddrV4 == nil {
		return adapters.AirPlayService{}, false
	}
	name := strings.TrimSuffix(e.Name, ".")
	if i := strings.Index(name, "."+airplayService); i > 0 {
		name = name[:i]
	}
	name = strings.ReplaceAll(name, `\ `, " ")
	port := e.Port
	if port <= 0 {
		port = defaultPort
	}
	return adapters.AirPlayService{Name: name, Host: e.AddrV4.String(), Port: port}, true
}

var _ adapters.AirPlayBrowser = Browser{}
