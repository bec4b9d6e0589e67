package cast

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mtahle/torrent-streamer/internal/adapters"
	"github.com/mtahle/torrent-streamer/internal/domain"
	"github.com/rs/zerolog"
)

type chromecastDevice struct {
	target  domain.CastTarget
	factory adapters.CastFactory
	logger  zerolog.Logger

	mu     sync.Mutex
	client adapters.CastClient
}

// NewChromecastFactory returns a Factory for Cast receivers. Chromecast has
// no push channel here, so notify is unused and state comes from polling.
func NewChromecastFactory(factory adapters.CastFactory, logger zerolog.Logger) Factory {
	return func(target domain.CastTarget, _ func(Observation)) (Device, error) {
		if factory == nil {
			return nil, errors.New("chromecast adapter is not configured")
		}
		return &chromecastDevice{target: target, factory: factory, logger: logger}, nil
	}
}

func (c *chromecastDevice) connect(ctx context.Context) (adapters.CastClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	client, err := c.factory.NewCastClient(c.target.Address)
	if err != nil {
		return nil, fmt.Errorf("create chromecast client: %w", err)
	}
	connect := func() error { return bounded(ctx, client.Connect) }
	if err := withRetry(ctx, defaultRetry, c.logger, "chromecast_connect", connect); err != nil {
		_ = client.Close(false)
		return nil, fmt.Errorf("connect chromecast: %w", err)
	}
	c.client = client
	return client, nil
}

func (c *chromecastDevice) Play(ctx context.Context, m Media) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	return bounded(ctx, func() error {
		return client.Load(m.URL, m.ContentType, 0, m.Duration, m.subtitleURL(), false)
	})
}

func (c *chromecastDevice) current() (adapters.CastClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, errors.New("chromecast not connected")
	}
	return c.client, nil
}

// do runs call against the connected client within ctx.
func (c *chromecastDevice) do(ctx context.Context, call func(adapters.CastClient) error) error {
	client, err := c.current()
	if err != nil {
		return err
	}
	return bounded(ctx, func() error { return call(client) })
}

func (c *chromecastDevice) Resume(ctx context.Context) error {
	return c.do(ctx, func(cl adapters.CastClient) error { return cl.Play() })
}

func (c *chromecastDevice) Pause(ctx context.Context) error {
	return c.do(ctx, func(cl adapters.CastClient) error { return cl.Pause() })
}

func (c *chromecastDevice) Stop(ctx context.Context) error {
	return c.do(ctx, func(cl adapters.CastClient) error { return cl.Stop() })
}

func (c *chromecastDevice) Seek(ctx context.Context, seconds float64) error {
	return c.do(ctx, func(cl adapters.CastClient) error { return cl.Seek(int(seconds)) })
}

func (c *chromecastDevice) SetVolume(ctx context.Context, level int) error {
	return c.do(ctx, func(cl adapters.CastClient) error { return cl.SetVolume(float32(level) / 100) })
}

func (c *chromecastDevice) Status(ctx context.Context) (Observation, error) {
	client, err := c.current()
	if err != nil {
		return Observation{}, err
	}
	st, err := boundedValue(ctx, client.GetStatus)
	if err != nil {
		return Observation{}, err
	}
	if st == nil {
		return Observation{}, nil
	}
	return Observation{
		State:    normalizeState(st.PlayerState),
		Position: float64(st.CurrentTime),
		Duration: float64(st.Duration),
	}, nil
}

func (c *chromecastDevice) Close() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close(false)
}
