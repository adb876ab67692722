package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/perceptual-video/pvstream/internal/client"
	"github.com/perceptual-video/pvstream/internal/config"
	"github.com/perceptual-video/pvstream/internal/display"
	"github.com/perceptual-video/pvstream/internal/logger"
	"github.com/perceptual-video/pvstream/internal/transport"
	"github.com/perceptual-video/pvstream/pkg/protocol"
)

var (
	// Command-line flags; when set they override the config file
	configPath  = flag.String("config", "", "Config file (default: pvclient.yaml in . or ./configs)")
	serverAddr  = flag.String("server", "", "Producer address")
	serverName  = flag.String("server-name", "", "TLS server name (default: derived from -server)")
	certPath    = flag.String("cert", "", "Published producer certificate")
	codecName   = flag.String("codec", "", "Payload codec (cbor, msgpack, proto)")
	displayKind = flag.String("display", "", "Presenter (headless, snapshot)")
	snapshotOut = flag.String("snapshot", "", "PNG path for the snapshot presenter")
	quitAfter   = flag.Uint64("quit-after", 0, "Quit after this many rendered frames (0 = run until interrupted)")
	renderFPS   = flag.Int("fps", 0, "Render rate")
	wakeOnFrame = flag.Bool("wake", false, "Render as soon as a new frame arrives")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadClient(*configPath)
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		switch {
		case errors.Is(err, client.ErrHandshake):
			logger.Error("Main", "Could not start streaming: %v", err)
		case errors.Is(err, client.ErrStreamLost):
			logger.Error("Main", "Stream interrupted: %v", err)
		default:
			logger.Error("Main", "%v", err)
		}
		_ = l.Sync()
		os.Exit(1)
	}
}

// applyFlags overrides cfg with the flags given on the command line
func applyFlags(cfg *config.ClientConfig) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "server":
			cfg.Server = *serverAddr
			if *serverName == "" {
				cfg.ServerName = transport.ServerName(cfg.Server)
			}
		case "server-name":
			cfg.ServerName = *serverName
		case "cert":
			cfg.CertPath = *certPath
		case "codec":
			cfg.Codec = *codecName
		case "display":
			cfg.Display.Kind = *displayKind
		case "snapshot":
			cfg.Display.Path = *snapshotOut
			if *displayKind == "" {
				cfg.Display.Kind = display.KindSnapshot
			}
		case "quit-after":
			cfg.Display.QuitAfter = *quitAfter
		case "fps":
			cfg.RenderFPS = *renderFPS
		case "wake":
			cfg.WakeOnFrame = *wakeOnFrame
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})
}

func run(ctx context.Context, cfg *config.ClientConfig) error {
	codec, err := protocol.CodecByName(cfg.Codec)
	if err != nil {
		return err
	}
	name := cfg.ServerName
	if name == "" {
		name = transport.ServerName(cfg.Server)
	}
	tlsConf, err := client.LoadTLS(cfg.CertPath, name)
	if err != nil {
		return err
	}

	topts := transport.DefaultOptions()
	topts.IdleTimeout = cfg.IdleTimeout
	topts.KeepAlive = cfg.KeepAlive

	c, err := client.Dial(ctx, cfg.Server, client.Options{
		Codec:            codec,
		TLS:              tlsConf,
		Transport:        topts,
		PingNonce:        cfg.PingNonce,
		Offset:           cfg.Offset,
		HandshakeTimeout: cfg.HandshakeTimeout,
	})
	if err != nil {
		return err
	}

	stream, buf, err := c.Handshake(ctx)
	if err != nil {
		_ = c.Close()
		return err
	}

	presenter, err := display.New(cfg.Display)
	if err != nil {
		stream.Close()
		_ = c.Close()
		return err
	}
	defer presenter.Close()

	session := client.NewSession(c, stream, buf, presenter, client.RenderOptions{
		FPS:         cfg.RenderFPS,
		WakeOnFrame: cfg.WakeOnFrame,
	})
	return session.Run(ctx, nil)
}
