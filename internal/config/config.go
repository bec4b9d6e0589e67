// Package config loads the streamer configuration.
// Precedence: ENV > file > defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const EnvConfigPath = "TS_CONFIG"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Torrent   TorrentConfig   `yaml:"torrent"`
	Cast      CastConfig      `yaml:"cast"`
	Transcode TranscodeConfig `yaml:"transcode"`
	Announce  AnnounceConfig  `yaml:"announce"`
	Store     StoreConfig     `yaml:"store"`
}

type ServerConfig struct {
	Listen          string          `yaml:"listen"`
	PublicBaseURL   string          `yaml:"public_base_url"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TorrentConfig struct {
	DataDir        string        `yaml:"data_dir"`
	ResolveTimeout time.Duration `yaml:"resolve_timeout"`
	NoUpload       bool          `yaml:"no_upload"`
	ListenPort     int           `yaml:"listen_port"`
}

type CastConfig struct {
	DiscoveryInterval time.Duration `yaml:"discovery_interval"`
	DiscoveryTimeout  time.Duration `yaml:"discovery_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	CommandTimeout    time.Duration `yaml:"command_timeout"`
	InboxSize         int           `yaml:"inbox_size"`
}

type TranscodeConfig struct {
	EncoderPath   string        `yaml:"encoder_path"`
	StopGrace     time.Duration `yaml:"stop_grace"`
	RTPPort       int           `yaml:"rtp_port"`
	UDPPort       int           `yaml:"udp_port"`
	MulticastAddr string        `yaml:"multicast_addr"`
	TTL           int           `yaml:"ttl"`
}

type AnnounceConfig struct {
	Group    string        `yaml:"group"`
	Port     int           `yaml:"port"`
	Interval time.Duration `yaml:"interval"`
	TTL      int           `yaml:"ttl"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

// Defaults returns the configuration used when neither file nor env set a value.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Listen:          ":8881",
			RateLimit:       RateLimitConfig{Requests: 120, Window: time.Minute},
			ShutdownTimeout: 5 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Torrent: TorrentConfig{
			DataDir:        "./data",
			ResolveTimeout: 60 * time.Second,
		},
		Cast: CastConfig{
			DiscoveryInterval: 10 * time.Second,
			DiscoveryTimeout:  3 * time.Second,
			PollInterval:      4 * time.Second,
			CommandTimeout:    10 * time.Second,
			InboxSize:         64,
		},
		Transcode: TranscodeConfig{
			EncoderPath:   "ffmpeg",
			StopGrace:     5 * time.Second,
			RTPPort:       5004,
			UDPPort:       1234,
			MulticastAddr: "239.255.1.1",
			TTL:           16,
		},
		Announce: AnnounceConfig{
			Group:    "224.2.127.254",
			Port:     9875,
			Interval: 30 * time.Second,
			TTL:      16,
		},
	}
}

// Loader resolves a Config from defaults, an optional YAML file, a .env file
// and the process environment.
type Loader struct {
	path     string
	envFiles []string
	lookup   func(string) (string, bool)
}

func NewLoader(path string) *Loader {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	return &Loader{path: path, envFiles: []string{".env"}, lookup: os.LookupEnv}
}

func (l *Loader) Load() (Config, error) {
	cfg := Defaults()

	// A missing .env is the common case.
	for _, f := range l.envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", f, err)
		}
	}

	if l.path != "" {
		if err := loadFile(l.path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := l.mergeEnv(&cfg); err != nil {
		return cfg, err
	}

	if abs, err := filepath.Abs(cfg.Torrent.DataDir); err == nil {
		cfg.Torrent.DataDir = abs
	}

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes YAML strictly on top of the values already in cfg.
func loadFile(path string, cfg *Config) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- path comes from the operator via flag or env
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	return nil
}
