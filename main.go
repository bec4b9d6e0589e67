package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	go2tvadapters "github.com/mtahle/torrent-streamer/internal/adapters/go2tv"
	"github.com/mtahle/torrent-streamer/internal/adapters/mdns"
	"github.com/mtahle/torrent-streamer/internal/adapters/torrent"
	"github.com/mtahle/torrent-streamer/internal/announce"
	"github.com/mtahle/torrent-streamer/internal/api"
	"github.com/mtahle/torrent-streamer/internal/buildinfo"
	"github.com/mtahle/torrent-streamer/internal/cast"
	"github.com/mtahle/torrent-streamer/internal/config"
	"github.com/mtahle/torrent-streamer/internal/delivery"
	"github.com/mtahle/torrent-streamer/internal/diagnostics"
	"github.com/mtahle/torrent-streamer/internal/discovery"
	"github.com/mtahle/torrent-streamer/internal/domain"
	"github.com/mtahle/torrent-streamer/internal/lifecycle"
	applog "github.com/mtahle/torrent-streamer/internal/log"
	"github.com/mtahle/torrent-streamer/internal/metrics"
	"github.com/mtahle/torrent-streamer/internal/session"
	"github.com/mtahle/torrent-streamer/internal/store"
	"github.com/mtahle/torrent-streamer/internal/transcode"
	"github.com/rs/zerolog"
)

const serverName = "torrent-streamer"

type selfTestOutput struct {
	Server struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"server"`
	Go2TVAdapters struct {
		DiscoveryWired bool `json:"discovery_wired"`
		CastWired      bool `json:"cast_wired"`
		DLNAWired      bool `json:"dlna_wired"`
		CallbackWired  bool `json:"callback_wired"`
	} `json:"go2tv_adapters"`
	EncoderRuns  bool                         `json:"encoder_runs"`
	Dependencies diagnostics.DependencyReport `json:"dependencies"`
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults to $"+config.EnvConfigPath+")")
	selfTest := flag.Bool("self-test", false, "run dependency and wiring diagnostics then exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.Version)
		return
	}

	cfg, err := config.NewLoader(*configPath).Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *selfTest {
		if err := runSelfTest(cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	applog.Reconfigure(applog.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: serverName,
		Version: buildinfo.Version,
	})
	if err := run(cfg); err != nil {
		applog.Base().Error().Err(err).Msg("server_exit")
		os.Exit(1)
	}
}

func runSelfTest(cfg config.Config) error {
	bundle := go2tvadapters.NewBundle()
	pipeline := transcode.New(transcode.Options{EncoderPath: cfg.Transcode.EncoderPath, Logger: zerolog.Nop()})
	defer pipeline.Close()

	out := selfTestOutput{
		EncoderRuns:  pipeline.CheckEncoderAvailable(context.Background()),
		Dependencies: diagnostics.DetectDependencies(cfg.Transcode.EncoderPath),
	}
	out.Server.Name = serverName
	out.Server.Version = buildinfo.Version
	out.Go2TVAdapters.DiscoveryWired = bundle.Discovery != nil
	out.Go2TVAdapters.CastWired = bundle.CastFactory != nil
	out.Go2TVAdapters.DLNAWired = bundle.DLNAFactory != nil
	out.Go2TVAdapters.CallbackWired = bundle.CallbackServers != nil

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func run(cfg config.Config) error {
	logger := applog.WithComponent("main")
	logger.Info().
		Str("listen", cfg.Server.Listen).
		Str("data_dir", cfg.Torrent.DataDir).
		Str("log_level", cfg.Log.Level).
		Msg("server_start")

	runCtx, stopSignals := lifecycle.SignalContext(context.Background())
	defer stopSignals()

	met := metrics.New()
	bundle := go2tvadapters.NewBundle()

	engine, err := torrent.NewEngine(torrent.Config{
		DataDir:    cfg.Torrent.DataDir,
		NoUpload:   cfg.Torrent.NoUpload,
		ListenPort: cfg.Torrent.ListenPort,
	}, applog.WithComponent("torrent"))
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn().Err(err).Msg("torrent_engine_close_failed")
		}
	}()

	var recorder session.Recorder
	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path, store.DefaultConfig())
		if err != nil {
			return err
		}
		defer st.Close()
		recorder = st
	}

	disc := discovery.NewService(discovery.Options{
		Devices:  bundle.Discovery,
		AirPlay:  mdns.NewBrowser(),
		Interval: cfg.Cast.DiscoveryInterval,
		Timeout:  cfg.Cast.DiscoveryTimeout,
		Logger:   applog.Base(),
	})
	go disc.Run(runCtx)

	sender, err := announce.NewMulticastSender(cfg.Announce.Group, cfg.Announce.Port, cfg.Announce.TTL)
	if err != nil {
		return err
	}
	announcer := announce.New(announce.Options{
		Sender:   sender,
		Interval: cfg.Announce.Interval,
		Logger:   applog.Base(),
		Metrics:  met,
	})
	defer announcer.Close()

	pipeline := transcode.New(transcode.Options{
		EncoderPath:   cfg.Transcode.EncoderPath,
		StopGrace:     cfg.Transcode.StopGrace,
		RTPPort:       cfg.Transcode.RTPPort,
		UDPPort:       cfg.Transcode.UDPPort,
		MulticastAddr: cfg.Transcode.MulticastAddr,
		TTL:           cfg.Transcode.TTL,
		Announcer:     announcer,
		Logger:        applog.Base(),
		Metrics:       met,
	})
	defer pipeline.Close()

	// The cast controller lists subtitles through the session manager, and
	// the session manager stops the cast on teardown.
	subtitles := &subtitleSource{}
	controller := cast.NewController(cast.Options{
		Targets: disc,
		Factories: map[domain.Family]cast.Factory{
			domain.FamilyDLNA:       cast.NewDLNAFactory(bundle.DLNAFactory, bundle.CallbackServers),
			domain.FamilyChromecast: cast.NewChromecastFactory(bundle.CastFactory, applog.WithComponent("chromecast")),
			domain.FamilyAirPlay:    cast.NewAirPlayFactory(cast.NewAirPlayClient(cfg.Cast.CommandTimeout, applog.WithComponent("airplay"))),
		},
		Subtitles:      subtitles,
		TargetEvents:   disc.Events(),
		PollInterval:   cfg.Cast.PollInterval,
		CommandTimeout: cfg.Cast.CommandTimeout,
		InboxSize:      cfg.Cast.InboxSize,
		Logger:         applog.Base(),
		Metrics:        met,
	})

	manager := session.NewManager(session.Options{
		Engine:         engine,
		ResolveTimeout: cfg.Torrent.ResolveTimeout,
		Cast:           controller,
		Transcode:      pipeline,
		Announcements:  announcer,
		Recorder:       recorder,
		Logger:         applog.Base(),
		Metrics:        met,
	})
	subtitles.manager = manager

	router := api.NewRouter(api.Deps{
		Sessions: manager,
		Active: func() (delivery.File, bool) {
			af, ok := manager.Active()
			return af, ok
		},
		Cast:          controller,
		Transcode:     pipeline,
		Announcements: announcer,
		Metrics:       met,
		Logger:        applog.Base(),
		PublicBaseURL: cfg.Server.PublicBaseURL,
		RateLimit:     cfg.Server.RateLimit.Requests,
		RateWindow:    cfg.Server.RateLimit.Window,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http_listen")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-runCtx.Done():
		logger.Info().Msg("server_stopping")
	case runErr = <-serveErr:
		logger.Error().Err(runErr).Msg("http_server_failed")
	}

	// Stopping the session first ends open /stream responses, which
	// srv.Shutdown would otherwise wait on.
	shutdown(logger, cfg.Server.ShutdownTimeout,
		shutdownStep{msg: "session_stop_incomplete", run: manager.Stop},
		shutdownStep{msg: "http_shutdown_incomplete", run: srv.Shutdown},
		shutdownStep{msg: "cast_close_failed", run: controller.Close},
	)
	logger.Info().Msg("server_stopped")
	return runErr
}

type shutdownStep struct {
	msg string
	run func(context.Context) error
}

// shutdown runs steps in order, each under its own timeout, and logs the
// ones that fail.
func shutdown(logger zerolog.Logger, timeout time.Duration, steps ...shutdownStep) {
	for _, step := range steps {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := step.run(ctx); err != nil {
			logger.Warn().Err(err).Msg(step.msg)
		}
		cancel()
	}
}

// subtitleSource breaks the construction cycle between the cast controller
// and the session manager.
type subtitleSource struct {
	manager *session.Manager
}

func (s *subtitleSource) Subtitles() ([]domain.SubtitleTrack, error) {
	if s.manager == nil {
		return nil, domain.NewError(domain.CodeNoActiveSession, "no active session")
	}
	return s.manager.Subtitles()
}
