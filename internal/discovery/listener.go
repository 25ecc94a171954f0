package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// ListenerConfig controls the discovery listener
type ListenerConfig struct {
	Port         int
	PollInterval time.Duration
	// CandidateTTL drops candidates not heard from for this long. Zero keeps
	// every candidate until the listener is recreated.
	CandidateTTL  time.Duration
	PruneInterval time.Duration
	Verbose       bool
}

// Listener collects session announcements into a CandidateList
type Listener struct {
	cfg      ListenerConfig
	list     *CandidateList
	onChange func([]Candidate)
	debug    debugLog

	conn *net.UDPConn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewListener creates a listener that appends to list and calls onChange with
// the full ordered list whenever it changes. onChange may be nil.
func NewListener(cfg ListenerConfig, list *CandidateList, onChange func([]Candidate)) *Listener {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = PollInterval
	}
	if cfg.CandidateTTL > 0 && cfg.PruneInterval <= 0 {
		cfg.PruneInterval = cfg.CandidateTTL / 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		cfg:      cfg,
		list:     list,
		onChange: onChange,
		debug:    debugLog(cfg.Verbose),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start binds the discovery port and begins receiving
func (l *Listener) Start() error {
	lc := net.ListenConfig{Control: reuseAddrControl}
	pc, err := lc.ListenPacket(l.ctx, "udp4", fmt.Sprintf(":%d", l.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to bind UDP port %d: %w", l.cfg.Port, err)
	}
	conn := pc.(*net.UDPConn)
	l.conn = conn

	if err := conn.SetReadBuffer(MaxMessageSize * 10); err != nil {
		log.Printf("[WARN] discovery: failed to set read buffer: %v", err)
	}

	l.wg.Add(1)
	go l.listenLoop()

	if l.cfg.CandidateTTL > 0 {
		l.wg.Add(1)
		go l.pruneLoop()
	}

	log.Printf("[INFO] discovery: listening on UDP %s", conn.LocalAddr())
	return nil
}

// LocalAddr returns the bound address, or nil before Start
func (l *Listener) LocalAddr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Stop closes the socket and waits for the loops to exit
func (l *Listener) Stop() {
	l.cancel()
	if l.conn != nil {
		l.conn.Close()
	}
	l.wg.Wait()
}

func (l *Listener) listenLoop() {
	defer l.wg.Done()

	buf := make([]byte, MaxMessageSize)
	for {
		select {
		case <-l.ctx.Done():
			return
		default:
		}

		// Set read deadline to allow periodic ctx check
		l.conn.SetReadDeadline(time.Now().Add(l.cfg.PollInterval))

		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if l.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("[WARN] discovery: read error: %v", err)
			continue
		}

		id, ok := ParseAnnouncement(buf[:n])
		if !ok {
			l.debug.Printf("discovery: ignoring %d byte datagram from %s", n, addr)
			continue
		}

		if l.list.Observe(id, addr.IP.String(), time.Now()) {
			log.Printf("[INFO] discovery: found session %q by %q at %s", id.Name, id.CreatorLabel, addr.IP)
			l.publish()
		}
	}
}

// pruneLoop removes candidates that stopped announcing
func (l *Listener) pruneLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			removed := l.list.PruneStale(l.cfg.CandidateTTL, time.Now())
			for _, c := range removed {
				log.Printf("[INFO] discovery: session %q marked stale (no announcement for %v)",
					c.Identity.Name, l.cfg.CandidateTTL)
			}
			if len(removed) > 0 {
				l.publish()
			}
		}
	}
}

func (l *Listener) publish() {
	if l.onChange != nil {
		l.onChange(l.list.List())
	}
}
