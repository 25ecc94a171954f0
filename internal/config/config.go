// Package config manages scoutnet configuration and its on-disk location
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scoutnet/scoutnet/internal/discovery"
	"github.com/scoutnet/scoutnet/internal/session"
)

const (
	// ConfigDirName is the name of the config directory
	ConfigDirName = ".scoutnet"
	// ConfigFileName is the name of the config file
	ConfigFileName = "config.yaml"
	// DefaultStatusAddr is where a host serves the status RPC
	DefaultStatusAddr = "127.0.0.1:47802"
)

// Environment overrides, applied after the file is read
const (
	EnvDiscoveryPort = "SCOUTNET_DISCOVERY_PORT"
	EnvSessionPort   = "SCOUTNET_SESSION_PORT"
	EnvStatusAddr    = "SCOUTNET_STATUS_ADDR"
	EnvVerbose       = "SCOUTNET_VERBOSE"
)

// Config holds the CLI configuration
type Config struct {
	// Verbose enables [DEBUG] logging
	Verbose bool `yaml:"verbose"`
	// StatusAddr is the gRPC status listener used while hosting
	StatusAddr string        `yaml:"status_addr"`
	Network    NetworkConfig `yaml:"network"`
	Host       HostConfig    `yaml:"host"`
}

// NetworkConfig holds ports and timings shared by every role
type NetworkConfig struct {
	DiscoveryPort    int           `yaml:"discovery_port"`
	SessionPort      int           `yaml:"session_port"`
	ListenHost       string        `yaml:"listen_host"`
	BroadcastAddr    string        `yaml:"broadcast_addr"`
	AnnounceInterval time.Duration `yaml:"announce_interval"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	// CandidateTTL of zero keeps discovered sessions listed until rediscovery
	CandidateTTL   time.Duration `yaml:"candidate_ttl"`
	PruneInterval  time.Duration `yaml:"prune_interval"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxPeers       int           `yaml:"max_peers"`
}

// HostConfig holds defaults for the host command
type HostConfig struct {
	SessionName  string `yaml:"session_name"`
	CreatorLabel string `yaml:"creator_label"`
}

// Paths holds commonly used paths
type Paths struct {
	// ConfigDir is ~/.scoutnet
	ConfigDir string
	// ConfigFile is ~/.scoutnet/config.yaml
	ConfigFile string
}

// GetPaths returns the standard paths
func GetPaths() (*Paths, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ConfigDirName)
	return &Paths{
		ConfigDir:  configDir,
		ConfigFile: filepath.Join(configDir, ConfigFileName),
	}, nil
}

// Default returns a new Config with default values
func Default() *Config {
	defaults := session.DefaultConfig()
	return &Config{
		StatusAddr: DefaultStatusAddr,
		Network: NetworkConfig{
			DiscoveryPort:    defaults.DiscoveryPort,
			SessionPort:      defaults.SessionPort,
			BroadcastAddr:    defaults.BroadcastAddr,
			AnnounceInterval: defaults.AnnounceInterval,
			PollInterval:     defaults.PollInterval,
			ConnectTimeout:   defaults.ConnectTimeout,
			WriteTimeout:     defaults.WriteTimeout,
		},
	}
}

// Load reads the config at path, or the default location when path is empty.
// A missing file yields the defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		paths, err := GetPaths()
		if err != nil {
			return nil, err
		}
		path = paths.ConfigFile
	}

	config := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save writes the configuration to path, creating its directory
func (c *Config) Save(path string) error {
	if path == "" {
		paths, err := GetPaths()
		if err != nil {
			return err
		}
		path = paths.ConfigFile
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from the environment. lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDiscoveryPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvDiscoveryPort, v, err)
		}
		c.Network.DiscoveryPort = port
	}
	if v, ok := lookup(EnvSessionPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvSessionPort, v, err)
		}
		c.Network.SessionPort = port
	}
	if v, ok := lookup(EnvStatusAddr); ok {
		c.StatusAddr = v
	}
	if v, ok := lookup(EnvVerbose); ok {
		verbose, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvVerbose, v, err)
		}
		c.Verbose = verbose
	}
	return nil
}

// Validate checks ports and timings
func (c *Config) Validate() error {
	n := c.Network
	if n.DiscoveryPort < 1 || n.DiscoveryPort > 65535 {
		return fmt.Errorf("discovery_port %d out of range", n.DiscoveryPort)
	}
	if n.SessionPort < 1 || n.SessionPort > 65535 {
		return fmt.Errorf("session_port %d out of range", n.SessionPort)
	}
	if n.AnnounceInterval <= 0 || n.PollInterval <= 0 {
		return fmt.Errorf("announce_interval and poll_interval must be positive")
	}
	if n.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive")
	}
	if n.CandidateTTL < 0 || n.PruneInterval < 0 || n.WriteTimeout < 0 || n.MaxPeers < 0 {
		return fmt.Errorf("candidate_ttl, prune_interval, write_timeout and max_peers must not be negative")
	}
	return nil
}

// SessionConfig converts the network settings for a session.Manager
func (c *Config) SessionConfig() session.Config {
	n := c.Network
	return session.Config{
		DiscoveryPort:    n.DiscoveryPort,
		SessionPort:      n.SessionPort,
		ListenHost:       n.ListenHost,
		BroadcastAddr:    n.BroadcastAddr,
		AnnounceInterval: n.AnnounceInterval,
		PollInterval:     n.PollInterval,
		CandidateTTL:     n.CandidateTTL,
		PruneInterval:    n.PruneInterval,
		ConnectTimeout:   n.ConnectTimeout,
		WriteTimeout:     n.WriteTimeout,
		MaxPeers:         n.MaxPeers,
		Verbose:          c.Verbose,
	}
}

// HostIdentity builds the session identity, falling back to the configured
// defaults and then to the machine's hostname
func (c *Config) HostIdentity(name, creator string) discovery.Identity {
	if name == "" {
		name = c.Host.SessionName
	}
	if creator == "" {
		creator = c.Host.CreatorLabel
	}
	if creator == "" {
		if hostName, err := os.Hostname(); err == nil {
			creator = hostName
		}
	}
	return discovery.Identity{Name: name, CreatorLabel: creator}
}
