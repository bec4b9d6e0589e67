package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Validate rejects values no component can run with.
func Validate(cfg Config) error {
	var errs []error

	if strings.TrimSpace(cfg.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen must be set"))
	}
	if cfg.Server.RateLimit.Requests <= 0 {
		errs = append(errs, errors.New("server.rate_limit.requests must be positive"))
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or console", cfg.Log.Format))
	}

	positive := map[string]time.Duration{
		"server.rate_limit.window": cfg.Server.RateLimit.Window,
		"server.shutdown_timeout":  cfg.Server.ShutdownTimeout,
		"torrent.resolve_timeout":  cfg.Torrent.ResolveTimeout,
		"cast.discovery_interval":  cfg.Cast.DiscoveryInterval,
		"cast.discovery_timeout":   cfg.Cast.DiscoveryTimeout,
		"cast.poll_interval":       cfg.Cast.PollInterval,
		"cast.command_timeout":     cfg.Cast.CommandTimeout,
		"transcode.stop_grace":     cfg.Transcode.StopGrace,
		"announce.interval":        cfg.Announce.Interval,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive duration", name))
		}
	}

	if cfg.Cast.InboxSize <= 0 {
		errs = append(errs, errors.New("cast.inbox_size must be positive"))
	}
	if cfg.Torrent.ListenPort < 0 || cfg.Torrent.ListenPort > 65535 {
		errs = append(errs, fmt.Errorf("torrent.listen_port %d out of range", cfg.Torrent.ListenPort))
	}
	for name, port := range map[string]int{
		"transcode.rtp_port": cfg.Transcode.RTPPort,
		"transcode.udp_port": cfg.Transcode.UDPPort,
		"announce.port":      cfg.Announce.Port,
	} {
		if port < 1 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s %d out of range", name, port))
		}
	}
	for name, ttl := range map[string]int{
		"transcode.ttl": cfg.Transcode.TTL,
		"announce.ttl":  cfg.Announce.TTL,
	} {
		if ttl < 1 || ttl > 255 {
			errs = append(errs, fmt.Errorf("%s %d out of range", name, ttl))
		}
	}
	if err := requireMulticast("transcode.multicast_addr", cfg.Transcode.MulticastAddr); err != nil {
		errs = append(errs, err)
	}
	if err := requireMulticast("announce.group", cfg.Announce.Group); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func requireMulticast(name, addr string) error {
	ip := net.ParseIP(strings.TrimSpace(addr))
	if ip == nil || ip.To4() == nil || !ip.IsMulticast() {
		return fmt.Errorf("%s %q must be an IPv4 multicast address", name, addr)
	}
	return nil
}
