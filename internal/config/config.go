// Package config loads producer and consumer configuration from YAML files
// with PV_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/perceptual-video/pvstream/internal/display"
	"github.com/perceptual-video/pvstream/internal/filter"
	"github.com/perceptual-video/pvstream/internal/logger"
	"github.com/perceptual-video/pvstream/internal/pipeline"
	"github.com/perceptual-video/pvstream/pkg/protocol"
)

// EnvPrefix prefixes every environment override, e.g. PV_LISTEN or PV_FILTER_POLICY
const EnvPrefix = "PV"

// DefaultPingNonce is the nonce the consumer sends during its handshake
const DefaultPingNonce uint64 = 12313897890

// ServerConfig is the producer configuration
type ServerConfig struct {
	Listen         string          `mapstructure:"listen"`
	CertPath       string          `mapstructure:"cert_path"`  // Where the certificate is published
	CertHosts      []string        `mapstructure:"cert_hosts"` // Subject alternative names
	Codec          string          `mapstructure:"codec"`
	MaxStreams     int64           `mapstructure:"max_streams"` // Concurrent video sessions
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
	WriteTimeout   time.Duration   `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration   `mapstructure:"idle_timeout"`
	KeepAlive      time.Duration   `mapstructure:"keep_alive"`
	MetricsAddr    string          `mapstructure:"metrics_addr"` // Empty disables /metrics and /health
	Source         pipeline.Config `mapstructure:"source"`
	Filter         filter.Config   `mapstructure:"filter"`
	Log            logger.Config   `mapstructure:"log"`
}

// ClientConfig is the consumer configuration
type ClientConfig struct {
	Server           string         `mapstructure:"server"`
	ServerName       string         `mapstructure:"server_name"`
	CertPath         string         `mapstructure:"cert_path"` // Published producer certificate
	Codec            string         `mapstructure:"codec"`
	PingNonce        uint64         `mapstructure:"ping_nonce"`
	Offset           uint64         `mapstructure:"offset"` // Requested stream offset in ms
	RenderFPS        int            `mapstructure:"render_fps"`
	WakeOnFrame      bool           `mapstructure:"wake_on_frame"`
	HandshakeTimeout time.Duration  `mapstructure:"handshake_timeout"`
	IdleTimeout      time.Duration  `mapstructure:"idle_timeout"`
	KeepAlive        time.Duration  `mapstructure:"keep_alive"`
	Display          display.Config `mapstructure:"display"`
	Log              logger.Config  `mapstructure:"log"`
}

// DefaultServer returns the default producer configuration
func DefaultServer() *ServerConfig {
	return &ServerConfig{
		Listen:         "127.0.0.1:4242",
		CertPath:       "pub_key.pem",
		CertHosts:      []string{"localhost", "127.0.0.1", "::1"},
		Codec:          protocol.DefaultCodec,
		MaxStreams:     16,
		RequestTimeout: 5 * time.Second,
		WriteTimeout:   5 * time.Second,
		IdleTimeout:    30 * time.Second,
		KeepAlive:      10 * time.Second,
		MetricsAddr:    "127.0.0.1:9242",
		Source:         pipeline.DefaultConfig(),
		Filter:         filter.Config{Policy: filter.DefaultPolicy, KeepInterval: 4},
		Log:            logger.DefaultConfig(),
	}
}

// DefaultClient returns the default consumer configuration
func DefaultClient() *ClientConfig {
	return &ClientConfig{
		Server:           "127.0.0.1:4242",
		ServerName:       "localhost",
		CertPath:         "pub_key.pem",
		Codec:            protocol.DefaultCodec,
		PingNonce:        DefaultPingNonce,
		RenderFPS:        60,
		HandshakeTimeout: 10 * time.Second,
		IdleTimeout:      30 * time.Second,
		KeepAlive:        10 * time.Second,
		Display:          display.DefaultConfig(),
		Log:              logger.DefaultConfig(),
	}
}

// LoadServer reads the producer configuration from path, or from
// pvserver.yaml in the usual locations when path is empty
func LoadServer(path string) (*ServerConfig, error) {
	cfg := DefaultServer()
	v := newViper(path, "pvserver")

	v.SetDefault("listen", cfg.Listen)
	v.SetDefault("cert_path", cfg.CertPath)
	v.SetDefault("cert_hosts", cfg.CertHosts)
	v.SetDefault("codec", cfg.Codec)
	v.SetDefault("max_streams", cfg.MaxStreams)
	v.SetDefault("request_timeout", cfg.RequestTimeout)
	v.SetDefault("write_timeout", cfg.WriteTimeout)
	v.SetDefault("idle_timeout", cfg.IdleTimeout)
	v.SetDefault("keep_alive", cfg.KeepAlive)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)
	v.SetDefault("source.kind", cfg.Source.Kind)
	v.SetDefault("source.width", cfg.Source.Width)
	v.SetDefault("source.height", cfg.Source.Height)
	v.SetDefault("source.fps", cfg.Source.FPS)
	v.SetDefault("source.gop", cfg.Source.GOP)
	v.SetDefault("source.frames", cfg.Source.Frames)
	v.SetDefault("source.path", cfg.Source.Path)
	v.SetDefault("source.loop", cfg.Source.Loop)
	v.SetDefault("source.launch", cfg.Source.Launch)
	v.SetDefault("filter.policy", string(cfg.Filter.Policy))
	v.SetDefault("filter.keep_interval", cfg.Filter.KeepInterval)
	setLogDefaults(v, cfg.Log)

	if err := read(v, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadClient reads the consumer configuration from path, or from
// pvclient.yaml in the usual locations when path is empty
func LoadClient(path string) (*ClientConfig, error) {
	cfg := DefaultClient()
	v := newViper(path, "pvclient")

	v.SetDefault("server", cfg.Server)
	v.SetDefault("server_name", cfg.ServerName)
	v.SetDefault("cert_path", cfg.CertPath)
	v.SetDefault("codec", cfg.Codec)
	v.SetDefault("ping_nonce", cfg.PingNonce)
	v.SetDefault("offset", cfg.Offset)
	v.SetDefault("render_fps", cfg.RenderFPS)
	v.SetDefault("wake_on_frame", cfg.WakeOnFrame)
	v.SetDefault("handshake_timeout", cfg.HandshakeTimeout)
	v.SetDefault("idle_timeout", cfg.IdleTimeout)
	v.SetDefault("keep_alive", cfg.KeepAlive)
	v.SetDefault("display.kind", cfg.Display.Kind)
	v.SetDefault("display.path", cfg.Display.Path)
	v.SetDefault("display.interval", cfg.Display.Interval)
	v.SetDefault("display.width", cfg.Display.Width)
	v.SetDefault("display.height", cfg.Display.Height)
	v.SetDefault("display.quit_after", cfg.Display.QuitAfter)
	setLogDefaults(v, cfg.Log)

	if err := read(v, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper(path, name string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Allow override via env var
	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(name)
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}
	return v
}

func setLogDefaults(v *viper.Viper, c logger.Config) {
	v.SetDefault("log.level", c.Level)
	v.SetDefault("log.format", c.Format)
	v.SetDefault("log.outputs", c.Outputs)
	v.SetDefault("log.color", c.Color)
	v.SetDefault("log.rotation.enable", c.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", c.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", c.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", c.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", c.Rotation.Compress)
}

// read loads the config file if present; a missing file falls back to
// defaults and environment
func read(v *viper.Viper, out any) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate checks the producer configuration
func (c *ServerConfig) Validate() error {
	if err := validateAddr("listen", c.Listen); err != nil {
		return err
	}
	if c.MetricsAddr != "" {
		if err := validateAddr("metrics_addr", c.MetricsAddr); err != nil {
			return err
		}
	}
	if c.CertPath == "" {
		return errors.New("cert_path must not be empty")
	}
	if _, err := protocol.CodecByName(c.Codec); err != nil {
		return err
	}
	if c.MaxStreams < 1 {
		return fmt.Errorf("max_streams must be at least 1, got %d", c.MaxStreams)
	}
	if c.RequestTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0 {
		return errors.New("request_timeout, write_timeout and idle_timeout must be positive")
	}
	if _, err := filter.ParsePolicy(string(c.Filter.Policy)); err != nil {
		return err
	}
	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Validate checks the consumer configuration
func (c *ClientConfig) Validate() error {
	if err := validateAddr("server", c.Server); err != nil {
		return err
	}
	if c.CertPath == "" {
		return errors.New("cert_path must not be empty")
	}
	if _, err := protocol.CodecByName(c.Codec); err != nil {
		return err
	}
	if c.RenderFPS <= 0 {
		return fmt.Errorf("render_fps must be positive, got %d", c.RenderFPS)
	}
	if c.HandshakeTimeout <= 0 || c.IdleTimeout <= 0 {
		return errors.New("handshake_timeout and idle_timeout must be positive")
	}
	if err := c.Display.Validate(); err != nil {
		return fmt.Errorf("display: %w", err)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func validateAddr(key, addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, addr, err)
	}
	return nil
}
