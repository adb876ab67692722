package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/perceptual-video/pvstream/internal/broadcast"
	"github.com/perceptual-video/pvstream/internal/config"
	"github.com/perceptual-video/pvstream/internal/filter"
	"github.com/perceptual-video/pvstream/internal/logger"
	"github.com/perceptual-video/pvstream/internal/metrics"
	"github.com/perceptual-video/pvstream/internal/pipeline"
	"github.com/perceptual-video/pvstream/internal/server"
	"github.com/perceptual-video/pvstream/internal/transport"
	"github.com/perceptual-video/pvstream/internal/trust"
	"github.com/perceptual-video/pvstream/internal/webmonitor"
	"github.com/perceptual-video/pvstream/pkg/protocol"
)

var (
	// Command-line flags; when set they override the config file
	configPath   = flag.String("config", "", "Config file (default: pvserver.yaml in . or ./configs)")
	listenAddr   = flag.String("listen", "", "QUIC listen address")
	certPath     = flag.String("cert", "", "Where to publish the server certificate")
	codecName    = flag.String("codec", "", "Payload codec (cbor, msgpack, proto)")
	policyName   = flag.String("policy", "", "Frame filter policy (keyframe, periodic)")
	keepInterval = flag.Uint64("keep-interval", 0, "Keep one of every N frames (periodic policy)")
	sourceKind   = flag.String("source", "", "Media source (testsrc, annexb, gst)")
	inputPath    = flag.String("input", "", "Input file for annexb and gst sources")
	metricsAddr  = flag.String("metrics", "", "Metrics, health and preview address (\"off\" disables)")
	logLevel     = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
	statsEvery   = flag.Duration("stats-interval", 10*time.Second, "Interval between stats log lines (0 disables)")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	l, err := logger.Setup(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer l.Sync()

	logger.Info("Main", "Producer starting...")
	logger.Info("Main", "Log level: %s", l.GetLevel())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("Main", "%v", err)
		_ = l.Sync()
		os.Exit(1)
	}
	logger.Info("Main", "Producer stopped")
}

// applyFlags overrides cfg with the flags given on the command line
func applyFlags(cfg *config.ServerConfig) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Listen = *listenAddr
		case "cert":
			cfg.CertPath = *certPath
		case "codec":
			cfg.Codec = *codecName
		case "policy":
			cfg.Filter.Policy = filter.Policy(*policyName)
		case "keep-interval":
			cfg.Filter.KeepInterval = *keepInterval
		case "source":
			cfg.Source.Kind = *sourceKind
		case "input":
			cfg.Source.Path = *inputPath
		case "metrics":
			cfg.MetricsAddr = *metricsAddr
			if cfg.MetricsAddr == "off" {
				cfg.MetricsAddr = ""
			}
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})
}

func run(ctx context.Context, cfg *config.ServerConfig) error {
	codec, err := protocol.CodecByName(cfg.Codec)
	if err != nil {
		return err
	}
	// Each video session gets its own filter; this one checks the config
	// and names the policy
	frameFilter, err := filter.New(cfg.Filter)
	if err != nil {
		return err
	}
	newFilter := func() (filter.Filter, error) { return filter.New(cfg.Filter) }
	src, err := pipeline.New(cfg.Source)
	if err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}

	id, err := trust.Generate(cfg.CertHosts, trust.DefaultValidity)
	if err != nil {
		return fmt.Errorf("failed to generate certificate: %w", err)
	}
	if err := (trust.FilePublisher{Path: cfg.CertPath}).Publish(id); err != nil {
		return fmt.Errorf("failed to publish certificate: %w", err)
	}

	topts := transport.DefaultOptions()
	topts.IdleTimeout = cfg.IdleTimeout
	topts.KeepAlive = cfg.KeepAlive
	listener, err := transport.Listen(cfg.Listen, id.Certificate, topts)
	if err != nil {
		return err
	}

	m := metrics.New()
	hub := broadcast.NewHub()
	srv := server.New(hub, m, server.Options{
		Codec:          codec,
		MaxStreams:     cfg.MaxStreams,
		RequestTimeout: cfg.RequestTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		NewFilter:      newFilter,
	})

	logger.Info("Main", "Source: %s, filter: %s, codec: %s", src.Name(), frameFilter.Policy(), codec.Name())

	g, gctx := errgroup.WithContext(ctx)

	// Pipeline: source -> hub -> per-session filter
	g.Go(func() error {
		if err := src.Run(gctx, nil, hub.Publish); err != nil {
			return fmt.Errorf("source %s: %w", src.Name(), err)
		}
		logger.Info("Main", "Source %s finished; serving the last frame", src.Name())
		return nil
	})

	g.Go(func() error {
		return srv.Serve(gctx, listener)
	})

	g.Go(func() error {
		<-gctx.Done()
		hub.Close()
		return nil
	})

	if cfg.MetricsAddr != "" {
		health := func() map[string]any {
			return map[string]any{
				"listen": listener.Addr().String(),
				"source": src.Name(),
				"policy": frameFilter.Policy(),
				"filter": sessionFilterStats(m),
				"hub":    hub.Stats(),
				"codec":  codec.Name(),
			}
		}
		mux := m.Mux(health)
		preview, err := webmonitor.NewServer(hub, health, webmonitor.DefaultConfig())
		if err != nil {
			return fmt.Errorf("failed to create preview: %w", err)
		}
		preview.Register(mux)
		httpServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("Main", "Metrics server listening on %s", cfg.MetricsAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	if *statsEvery > 0 {
		g.Go(func() error {
			logStats(gctx, *statsEvery, m, hub)
			return nil
		})
	}

	return g.Wait()
}

// sessionFilterStats sums the decisions of every session filter
func sessionFilterStats(m *metrics.Metrics) filter.Stats {
	s := m.Snapshot()
	return filter.Stats{Evaluated: s.FramesEvaluated, Kept: s.FramesKept, Dropped: s.FramesDropped}
}

// logStats logs filter and session counters until ctx is done
func logStats(ctx context.Context, every time.Duration, m *metrics.Metrics, hub *broadcast.Hub) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("Stats", "%s", statsLine(m, hub))
		}
	}
}

// statsLine summarizes the counters. Sessions are video streams only;
// subscribers also include preview clients.
func statsLine(m *metrics.Metrics, hub *broadcast.Hub) string {
	s := m.Snapshot()
	h := hub.Stats()
	return fmt.Sprintf("Frames published %d, kept %d/%d, sessions %d, subscribers %d, sent %d, mailbox drops %d",
		h.Published, s.FramesKept, s.FramesEvaluated, s.ActiveSessions, h.Subscribers, s.FramesSent, h.Dropped)
}
