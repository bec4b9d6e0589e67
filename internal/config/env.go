package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func (l *Loader) mergeEnv(cfg *Config) error {
	var errs []string
	str := func(key string, dst *string) {
		if v, ok := l.lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(key string, dst *int) {
		v, ok := l.lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %q is not an integer", key, v))
			return
		}
		*dst = n
	}
	boolean := func(key string, dst *bool) {
		v, ok := l.lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %q is not a boolean", key, v))
			return
		}
		*dst = b
	}
	duration := func(key string, dst *time.Duration) {
		v, ok := l.lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %q is not a duration", key, v))
			return
		}
		*dst = d
	}

	str("TS_LISTEN", &cfg.Server.Listen)
	str("TS_PUBLIC_BASE_URL", &cfg.Server.PublicBaseURL)
	integer("TS_RATE_LIMIT_REQUESTS", &cfg.Server.RateLimit.Requests)
	duration("TS_RATE_LIMIT_WINDOW", &cfg.Server.RateLimit.Window)
	duration("TS_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	str("TS_LOG_LEVEL", &cfg.Log.Level)
	str("TS_LOG_FORMAT", &cfg.Log.Format)

	str("TS_DATA_DIR", &cfg.Torrent.DataDir)
	duration("TS_RESOLVE_TIMEOUT", &cfg.Torrent.ResolveTimeout)
	boolean("TS_NO_UPLOAD", &cfg.Torrent.NoUpload)
	integer("TS_TORRENT_PORT", &cfg.Torrent.ListenPort)

	duration("TS_DISCOVERY_INTERVAL", &cfg.Cast.DiscoveryInterval)
	duration("TS_DISCOVERY_TIMEOUT", &cfg.Cast.DiscoveryTimeout)
	duration("TS_CAST_POLL_INTERVAL", &cfg.Cast.PollInterval)
	duration("TS_CAST_COMMAND_TIMEOUT", &cfg.Cast.CommandTimeout)
	integer("TS_CAST_INBOX_SIZE", &cfg.Cast.InboxSize)

	str("TS_ENCODER_PATH", &cfg.Transcode.EncoderPath)
	duration("TS_TRANSCODE_STOP_GRACE", &cfg.Transcode.StopGrace)
	integer("TS_RTP_PORT", &cfg.Transcode.RTPPort)
	integer("TS_UDP_PORT", &cfg.Transcode.UDPPort)
	str("TS_MULTICAST_ADDR", &cfg.Transcode.MulticastAddr)
	integer("TS_MULTICAST_TTL", &cfg.Transcode.TTL)

	str("TS_SAP_GROUP", &cfg.Announce.Group)
	integer("TS_SAP_PORT", &cfg.Announce.Port)
	duration("TS_SAP_INTERVAL", &cfg.Announce.Interval)
	integer("TS_SAP_TTL", &cfg.Announce.TTL)

	str("TS_STORE_PATH", &cfg.Store.Path)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}
