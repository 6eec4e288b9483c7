// Package config provides YAML-based configuration loading for skillmesh.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root node configuration.
type Config struct {
	// AppName is the logical name of this agent node.
	AppName string `mapstructure:"app_name"`

	// DataDir is the base directory for persistent data (peer snapshots).
	DataDir string `mapstructure:"data_dir"`

	Log       LogConfig       `mapstructure:"log"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Mesh      MeshConfig      `mapstructure:"mesh"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Overlay   OverlayConfig   `mapstructure:"overlay"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// IdentityConfig controls the node's ed25519 identity.
type IdentityConfig struct {
	// PrivateKey is a base64url (no padding) encoded ed25519 private key.
	PrivateKey string `mapstructure:"private_key"`
	// PrivateKeyFile points at a file holding the key instead.
	PrivateKeyFile string `mapstructure:"private_key_file"`
}

// MeshConfig configures the mesh endpoint this node exposes.
type MeshConfig struct {
	// ListenAddr is the well-known mesh service address, e.g. ":7735".
	ListenAddr string `mapstructure:"listen_addr"`
	// AdvertiseHost optionally overrides the host other peers should use.
	AdvertiseHost string `mapstructure:"advertise_host"`
	// QUICEnable additionally serves the duplex transport over QUIC on the
	// same port number (UDP).
	QUICEnable bool `mapstructure:"quic_enable"`
	// ConnectTimeoutMS bounds connection establishment for sends.
	ConnectTimeoutMS int `mapstructure:"connect_timeout_ms"`
	// RequestTimeoutMS bounds one unicast request/response exchange.
	RequestTimeoutMS int `mapstructure:"request_timeout_ms"`
	// Secure requires signed envelopes on every transport.
	Secure bool `mapstructure:"secure"`
}

// DiscoveryConfig tunes local-network probing.
type DiscoveryConfig struct {
	// CIDRs overrides the subnets to scan; empty means derive /24s from the
	// local non-loopback interface addresses.
	CIDRs []string `mapstructure:"cidrs"`
	// Port is the mesh port probed on every candidate host.
	Port int `mapstructure:"port"`
	// ProbeTimeoutMS bounds a single host probe.
	ProbeTimeoutMS int `mapstructure:"probe_timeout_ms"`
	// TimeoutMS bounds one whole discovery pass.
	TimeoutMS int `mapstructure:"timeout_ms"`
	// Fanout caps concurrently outstanding probes.
	Fanout int `mapstructure:"fanout"`
	// PeerTTLSec is the registry staleness window.
	PeerTTLSec int `mapstructure:"peer_ttl_sec"`
	// AllowedKeys lists base64url ed25519 public keys trusted by secure
	// discovery. Empty means secure discovery rejects everyone.
	AllowedKeys []string `mapstructure:"allowed_keys"`
}

// OverlayConfig points at the overlay network control plane.
type OverlayConfig struct {
	// Endpoint is the local control-plane base URL.
	Endpoint string `mapstructure:"endpoint"`
	// TimeoutMS bounds one roster query.
	TimeoutMS int `mapstructure:"timeout_ms"`
}

// DefaultMeshPort is the well-known skillmesh service port.
const DefaultMeshPort = 7735

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "skillmesh-node",
		DataDir: "./data",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Mesh: MeshConfig{
			ListenAddr:       fmt.Sprintf(":%d", DefaultMeshPort),
			ConnectTimeoutMS: 2000,
			RequestTimeoutMS: 5000,
		},
		Discovery: DiscoveryConfig{
			Port:           DefaultMeshPort,
			ProbeTimeoutMS: 300,
			TimeoutMS:      3000,
			Fanout:         64,
			PeerTTLSec:     300,
		},
		Overlay: OverlayConfig{
			Endpoint:  "http://127.0.0.1:4780",
			TimeoutMS: 1000,
		},
	}
}

// Load reads configuration from path (if non-empty), otherwise it searches
// common locations and supports environment overrides with the SKILLMESH
// prefix. Example: SKILLMESH_LOG_LEVEL=debug.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SKILLMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("identity.private_key", cfg.Identity.PrivateKey)
	v.SetDefault("identity.private_key_file", cfg.Identity.PrivateKeyFile)
	v.SetDefault("mesh.listen_addr", cfg.Mesh.ListenAddr)
	v.SetDefault("mesh.advertise_host", cfg.Mesh.AdvertiseHost)
	v.SetDefault("mesh.quic_enable", cfg.Mesh.QUICEnable)
	v.SetDefault("mesh.connect_timeout_ms", cfg.Mesh.ConnectTimeoutMS)
	v.SetDefault("mesh.request_timeout_ms", cfg.Mesh.RequestTimeoutMS)
	v.SetDefault("mesh.secure", cfg.Mesh.Secure)
	v.SetDefault("discovery.cidrs", cfg.Discovery.CIDRs)
	v.SetDefault("discovery.port", cfg.Discovery.Port)
	v.SetDefault("discovery.probe_timeout_ms", cfg.Discovery.ProbeTimeoutMS)
	v.SetDefault("discovery.timeout_ms", cfg.Discovery.TimeoutMS)
	v.SetDefault("discovery.fanout", cfg.Discovery.Fanout)
	v.SetDefault("discovery.peer_ttl_sec", cfg.Discovery.PeerTTLSec)
	v.SetDefault("discovery.allowed_keys", cfg.Discovery.AllowedKeys)
	v.SetDefault("overlay.endpoint", cfg.Overlay.Endpoint)
	v.SetDefault("overlay.timeout_ms", cfg.Overlay.TimeoutMS)

	if path == "" {
		if envPath := os.Getenv("SKILLMESH_CONFIG"); envPath != "" {
			path = envPath
		}
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("skillmesh")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".skillmesh"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if c.Mesh.ListenAddr == "" {
		c.Mesh.ListenAddr = fmt.Sprintf(":%d", DefaultMeshPort)
	}
	if c.Discovery.Port <= 0 || c.Discovery.Port > 65535 {
		return fmt.Errorf("invalid discovery.port: %d", c.Discovery.Port)
	}
	if c.Discovery.Fanout <= 0 {
		c.Discovery.Fanout = 64
	}
	if c.Discovery.ProbeTimeoutMS <= 0 {
		c.Discovery.ProbeTimeoutMS = 300
	}
	if c.Discovery.TimeoutMS <= 0 {
		c.Discovery.TimeoutMS = 3000
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
