package mdns

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/mtahle/torrent-streamer/internal/adapters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrowseNormalizesAndDedupes(t *testing.T) {
	orig := query
	t.Cleanup(func() { query = orig })

	query = func(_ context.Context, p *mdns.QueryParam) error {
		assert.Equal(t, airplayService, p.Service)
		p.Entries <- &mdns.ServiceEntry{Name: `Living\ Room._airplay._tcp.local.`, AddrV4: net.ParseIP("192.168.1.40"), Port: 7000}
		p.Entries <- &mdns.ServiceEntry{Name: `Living\ Room._airplay._tcp.local.`, AddrV4: net.ParseIP("192.168.1.40"), Port: 7000}
		p.Entries <- &mdns.ServiceEntry{Name: "Den._airplay._tcp.local.", AddrV4: net.ParseIP("192.168.1.41")}
		p.Entries <- &mdns.ServiceEntry{Name: "v6only._airplay._tcp.local."}
		return nil
	}

	got, err := NewBrowser().Browse(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []adapters.AirPlayService{
		{Name: "Living Room", Host: "192.168.1.40", Port: 7000},
		{Name: "Den", Host: "192.168.1.41", Port: defaultPort},
	}, got)
}

func TestBrowseWrapsQueryError(t *testing.T) {
	orig := query
	t.Cleanup(func() { query = orig })
	query = func(context.Context, *mdns.QueryParam) error { return errors.New("no multicast interface") }

	_, err := NewBrowser().Browse(context.Background(), time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no multicast interface")
}
