// Package session runs the LAN session roles: hosting a session, discovering
// hosts, and joining one as a client. A Manager owns every socket and
// goroutine of the active role.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/scoutnet/scoutnet/internal/discovery"
	"github.com/scoutnet/scoutnet/internal/wire"
)

// ErrConnectAborted is returned by Connect when Stop or another role change
// happens while the dial is in flight
var ErrConnectAborted = errors.New("session: connect aborted by a role change")

// State is the active role of a Manager
type State int

const (
	StateIdle State = iota
	StateHosting
	StateDiscovering
	StateClient
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateHosting:
		return "HOSTING"
	case StateDiscovering:
		return "DISCOVERING"
	case StateClient:
		return "CLIENT"
	default:
		return fmt.Sprintf("STATE(%d)", int(s))
	}
}

// CandidateSink receives the full candidate list after every change
type CandidateSink func(candidates []discovery.Candidate)

// Status is a point-in-time view of a Manager
type Status struct {
	State       State
	Identity    discovery.Identity // set while hosting
	SessionAddr string             // listener address while hosting
	Peers       []PeerInfo
	Candidates  int
	HostAddr    string // host address while a client
	Connected   bool
}

// Option configures a Manager
type Option func(*Manager)

// WithDispatcher runs callbacks on d instead of a private EventLoop
func WithDispatcher(d Dispatcher) Option {
	return func(m *Manager) {
		m.loop = d
	}
}

// Manager is the session lifecycle state machine. At most one role is active;
// entering a role always tears down the previous one first.
type Manager struct {
	cfg     Config
	loop    Dispatcher
	ownLoop *EventLoop

	mu          sync.Mutex
	state       State
	identity    discovery.Identity
	server      *server
	broadcaster *discovery.Broadcaster
	listener    *discovery.Listener
	candidates  *discovery.CandidateList
	client      *client

	// gen changes on every teardown so an in-flight Connect can tell it was
	// superseded; cancelDial aborts that dial
	gen        uint64
	cancelDial context.CancelFunc
	dial       dialFunc
}

// New creates an idle Manager
func New(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:        cfg,
		candidates: discovery.NewCandidateList(),
		dial:       (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.loop == nil {
		m.ownLoop = NewEventLoop()
		m.loop = m.ownLoop
	}
	return m
}

// State returns the active role
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StartHost accepts clients and announces identity on the LAN. Records
// submitted by clients are passed to onRecord on the dispatcher.
func (m *Manager) StartHost(identity discovery.Identity, onRecord RecordHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()

	if !identity.Valid() {
		return fmt.Errorf("%w: name %q creator %q", ErrInvalidIdentity, identity.Name, identity.CreatorLabel)
	}

	srv := newServer(m.cfg, m.loop, onRecord)
	if err := srv.start(); err != nil {
		return fmt.Errorf("failed to start session server: %w", err)
	}

	bc := discovery.NewBroadcaster(identity, discovery.BroadcasterConfig{
		Target:   m.broadcastTarget(),
		Interval: m.cfg.AnnounceInterval,
		Verbose:  m.cfg.Verbose,
	})
	if err := bc.Start(); err != nil {
		srv.close()
		return fmt.Errorf("failed to start discovery broadcaster: %w", err)
	}

	m.server = srv
	m.broadcaster = bc
	m.identity = identity
	m.state = StateHosting
	log.Printf("[INFO] session: hosting %q", identity.Name)
	return nil
}

func (m *Manager) broadcastTarget() *net.UDPAddr {
	ip := net.ParseIP(m.cfg.BroadcastAddr)
	if ip == nil {
		ip = net.IPv4bcast
	}
	return &net.UDPAddr{IP: ip, Port: m.cfg.DiscoveryPort}
}

// Broadcast sends the full snapshot to every connected client and returns the
// number of successful deliveries. Outside the hosting role it does nothing.
func (m *Manager) Broadcast(records []wire.Record, rankings []wire.RankingRow) int {
	m.mu.Lock()
	srv := m.server
	m.mu.Unlock()

	if srv == nil {
		return 0
	}
	return srv.broadcast(records, rankings)
}

// Peers lists connected clients while hosting
func (m *Manager) Peers() []PeerInfo {
	m.mu.Lock()
	srv := m.server
	m.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.peerInfos()
}

// StartDiscovery listens for session announcements. The candidate list starts
// empty and sink is called on the dispatcher whenever it changes.
func (m *Manager) StartDiscovery(sink CandidateSink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()

	list := discovery.NewCandidateList()
	onChange := func(c []discovery.Candidate) {
		if sink != nil {
			m.loop.Post(func() { sink(c) })
		}
	}
	l := discovery.NewListener(discovery.ListenerConfig{
		Port:          m.cfg.DiscoveryPort,
		PollInterval:  m.cfg.PollInterval,
		CandidateTTL:  m.cfg.CandidateTTL,
		PruneInterval: m.cfg.PruneInterval,
		Verbose:       m.cfg.Verbose,
	}, list, onChange)
	if err := l.Start(); err != nil {
		return fmt.Errorf("failed to start discovery: %w", err)
	}

	m.candidates = list
	m.listener = l
	m.state = StateDiscovering
	return nil
}

// Candidates returns the sessions found by the active discovery. The list is
// emptied whenever the Manager leaves DISCOVERING.
func (m *Manager) Candidates() []discovery.Candidate {
	m.mu.Lock()
	list := m.candidates
	m.mu.Unlock()
	return list.List()
}

// Connect joins the host at hostAddress ("ip" or "ip:port"). Snapshots from
// the host are passed to onSnapshot on the dispatcher. A failed dial returns a
// *ConnectError and leaves the Manager idle.
//
// The dial runs without holding the Manager lock. Stop or another role change
// during the dial cancels it and Connect returns ErrConnectAborted.
func (m *Manager) Connect(ctx context.Context, hostAddress string, onSnapshot SnapshotHandler) error {
	m.mu.Lock()
	m.stopLocked()
	dialCtx, cancel := context.WithCancel(ctx)
	m.cancelDial = cancel
	gen := m.gen
	m.mu.Unlock()
	defer cancel()

	c, err := dialClient(dialCtx, m.cfg, m.dial, hostAddress, m.loop, onSnapshot)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != gen {
		if c != nil {
			c.close()
		}
		return ErrConnectAborted
	}
	m.cancelDial = nil
	if err != nil {
		return err
	}

	m.client = c
	m.state = StateClient
	return nil
}

// Send submits one record to the host. Without a live connection it is a
// silent no-op.
func (m *Manager) Send(record wire.Record) error {
	m.mu.Lock()
	c := m.client
	m.mu.Unlock()

	if c == nil {
		return nil
	}
	return c.send(record)
}

// Status returns a snapshot of the current role
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		State:      m.state,
		Candidates: m.candidates.Count(),
	}
	if m.server != nil {
		st.Identity = m.identity
		st.Peers = m.server.peerInfos()
		if addr := m.server.addr(); addr != nil {
			st.SessionAddr = addr.String()
		}
	}
	if m.client != nil {
		st.HostAddr = m.client.addr
		st.Connected = m.client.isConnected()
	}
	return st
}

// Stop tears down the active role and returns to idle. Calling it while idle
// does nothing.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

// stopLocked closes every socket of the active role. Caller must hold m.mu.
func (m *Manager) stopLocked() {
	m.gen++
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.candidates = discovery.NewCandidateList()
	if m.state == StateIdle {
		return
	}
	prev := m.state

	if m.broadcaster != nil {
		m.broadcaster.Stop()
		m.broadcaster = nil
	}
	if m.server != nil {
		m.server.close()
		m.server = nil
	}
	if m.listener != nil {
		m.listener.Stop()
		m.listener = nil
	}
	if m.client != nil {
		m.client.close()
		m.client = nil
	}
	m.identity = discovery.Identity{}
	m.state = StateIdle

	log.Printf("[INFO] session: left %s", prev)
}

// Close stops the active role and the private event loop, if any
func (m *Manager) Close() error {
	m.Stop()
	if m.ownLoop != nil {
		m.ownLoop.Close()
	}
	return nil
}
