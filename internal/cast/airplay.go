package cast

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/mtahle/torrent-streamer/internal/domain"
	"github.com/rs/zerolog"
)

const airplayUserAgent = "MediaControl/1.0"

type airplayDevice struct {
	base      string
	client    *retryablehttp.Client
	sessionID string

	// AirPlay has no state query beyond position, so the last commanded
	// state stands in for it.
	mu    sync.Mutex
	state domain.CastStatus
}

// NewAirPlayClient returns the retrying HTTP client AirPlay devices share.
func NewAirPlayClient(timeout time.Duration, logger zerolog.Logger) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = defaultRetry.attempts - 1
	c.RetryWaitMin = defaultRetry.baseBackoff
	c.RetryWaitMax = defaultRetry.maxBackoff
	c.HTTPClient.Timeout = timeout
	c.Logger = retryLogger{logger: logger}
	return c
}

// NewAirPlayFactory returns a Factory for AirPlay receivers.
func NewAirPlayFactory(client *retryablehttp.Client) Factory {
	if client == nil {
		client = retryablehttp.NewClient()
	}
	return func(target domain.CastTarget, _ func(Observation)) (Device, error) {
		return &airplayDevice{
			base:      strings.TrimRight(target.Address, "/"),
			client:    client,
			sessionID: uuid.NewString(),
			state:     domain.CastIdle,
		}, nil
	}
}

func (a *airplayDevice) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, a.base+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", airplayUserAgent)
	req.Header.Set("X-Apple-Session-ID", a.sessionID)
	if body != nil {
		req.Header.Set("Content-Type", "text/parameters")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("airplay %s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	return out, nil
}

func (a *airplayDevice) setState(s domain.CastStatus) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *airplayDevice) Play(ctx context.Context, m Media) error {
	body := fmt.Sprintf("Content-Location: %s\nStart-Position: 0\n", m.URL)
	if _, err := a.do(ctx, http.MethodPost, "/play", []byte(body)); err != nil {
		return err
	}
	a.setState(domain.CastPlaying)
	return nil
}

func (a *airplayDevice) rate(ctx context.Context, value string, next domain.CastStatus) error {
	if _, err := a.do(ctx, http.MethodPost, "/rate?value="+value, nil); err != nil {
		return err
	}
	a.setState(next)
	return nil
}

func (a *airplayDevice) Resume(ctx context.Context) error {
	return a.rate(ctx, "1.000000", domain.CastPlaying)
}

func (a *airplayDevice) Pause(ctx context.Context) error {
	return a.rate(ctx, "0.000000", domain.CastPaused)
}

func (a *airplayDevice) Stop(ctx context.Context) error {
	if _, err := a.do(ctx, http.MethodPost, "/stop", nil); err != nil {
		return err
	}
	a.setState(domain.CastStopped)
	return nil
}

func (a *airplayDevice) Seek(ctx context.Context, seconds float64) error {
	_, err := a.do(ctx, http.MethodPost, "/scrub?position="+strconv.FormatFloat(seconds, 'f', 3, 64), nil)
	return err
}

func (a *airplayDevice) SetVolume(ctx context.Context, level int) error {
	_, err := a.do(ctx, http.MethodPost, "/volume?volume="+strconv.FormatFloat(float64(level)/100, 'f', 2, 64), nil)
	return err
}

// Status reads GET /scrub, which answers "duration: D\nposition: P".
func (a *airplayDevice) Status(ctx context.Context) (Observation, error) {
	body, err := a.do(ctx, http.MethodGet, "/scrub", nil)
	if err != nil {
		return Observation{}, err
	}
	a.mu.Lock()
	obs := Observation{State: a.state}
	a.mu.Unlock()

	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			continue
		}
		switch strings.TrimSpace(key) {
		case "duration":
			obs.Duration = n
		case "position":
			obs.Position = n
		}
	}
	return obs, nil
}

func (a *airplayDevice) Close() error { return nil }

// retryLogger routes retryablehttp's leveled logging into zerolog.
type retryLogger struct {
	logger zerolog.Logger
}

func (l retryLogger) Error(msg string, kv ...any) { l.logger.Warn().Fields(kv).Msg(msg) }
func (l retryLogger) Warn(msg string, kv ...any)  { l.logger.Warn().Fields(kv).Msg(msg) }
func (l retryLogger) Info(msg string, kv ...any)  { l.logger.Debug().Fields(kv).Msg(msg) }
func (l retryLogger) Debug(msg string, kv ...any) { l.logger.Trace().Fields(kv).Msg(msg) }

var _ retryablehttp.LeveledLogger = retryLogger{}
