// Package discovery announces hosted sessions over UDP broadcast and collects
// the announcements heard on the LAN.
package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

const (
	// DefaultPort is the default UDP port for discovery broadcasts
	DefaultPort = 47800
	// AnnounceInterval is how often a host announces its session
	AnnounceInterval = 2 * time.Second
	// PollInterval bounds each blocking read so the listener notices shutdown
	PollInterval = 500 * time.Millisecond
)

// debugLog prints [DEBUG] lines only when enabled
type debugLog bool

func (d debugLog) Printf(format string, args ...any) {
	if d {
		log.Printf("[DEBUG] "+format, args...)
	}
}

// BroadcasterConfig controls where and how often a session is announced
type BroadcasterConfig struct {
	// Target is the broadcast address, usually 255.255.255.255:DefaultPort
	Target   *net.UDPAddr
	Interval time.Duration
	Verbose  bool
}

// Broadcaster periodically announces one session identity
type Broadcaster struct {
	identity Identity
	target   *net.UDPAddr
	interval time.Duration
	debug    debugLog

	conn *net.UDPConn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBroadcaster creates a broadcaster for identity
func NewBroadcaster(identity Identity, cfg BroadcasterConfig) *Broadcaster {
	target := cfg.Target
	if target == nil {
		target = &net.UDPAddr{IP: net.IPv4bcast, Port: DefaultPort}
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = AnnounceInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Broadcaster{
		identity: identity,
		target:   target,
		interval: interval,
		debug:    debugLog(cfg.Verbose),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start opens the sending socket and starts the announce loop
func (b *Broadcaster) Start() error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return fmt.Errorf("failed to open discovery broadcast socket: %w", err)
	}
	b.conn = conn

	b.wg.Add(1)
	go b.announceLoop()

	log.Printf("[INFO] discovery: announcing %q by %q to %s every %s",
		b.identity.Name, b.identity.CreatorLabel, b.target, b.interval)
	return nil
}

// Stop ends the announce loop and closes the socket
func (b *Broadcaster) Stop() {
	b.cancel()
	if b.conn != nil {
		b.conn.Close()
	}
	b.wg.Wait()
}

// announceLoop sends immediately, then on every tick
func (b *Broadcaster) announceLoop() {
	defer b.wg.Done()

	payload := EncodeAnnouncement(b.identity)
	b.announce(payload)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.announce(payload)
		}
	}
}

// announce is best effort; failures are only visible in verbose mode
func (b *Broadcaster) announce(payload []byte) {
	if _, err := b.conn.WriteToUDP(payload, b.target); err != nil {
		if b.ctx.Err() == nil {
			b.debug.Printf("discovery: broadcast failed: %v", err)
		}
	}
}
