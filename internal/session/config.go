package session

import (
	"time"

	"github.com/scoutnet/scoutnet/internal/discovery"
)

const (
	// DefaultSessionPort is the TCP port hosts accept clients on
	DefaultSessionPort = 47801
	// DefaultConnectTimeout bounds the client dial
	DefaultConnectTimeout = 5 * time.Second
	// DefaultWriteTimeout bounds a single snapshot write to one peer
	DefaultWriteTimeout = 5 * time.Second
)

// Config holds the network settings for every role
type Config struct {
	DiscoveryPort int
	SessionPort   int
	// ListenHost restricts the session listener; empty means all interfaces
	ListenHost string
	// BroadcastAddr is where announcements are sent, normally 255.255.255.255
	BroadcastAddr string

	AnnounceInterval time.Duration
	PollInterval     time.Duration
	CandidateTTL     time.Duration
	PruneInterval    time.Duration

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	// MaxPeers caps connected clients; zero is unlimited
	MaxPeers int

	Verbose bool
}

// DefaultConfig returns the settings used on a real LAN
func DefaultConfig() Config {
	return Config{
		DiscoveryPort:    discovery.DefaultPort,
		SessionPort:      DefaultSessionPort,
		BroadcastAddr:    "255.255.255.255",
		AnnounceInterval: discovery.AnnounceInterval,
		PollInterval:     discovery.PollInterval,
		ConnectTimeout:   DefaultConnectTimeout,
		WriteTimeout:     DefaultWriteTimeout,
	}
}
