package session

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/scoutnet/scoutnet/internal/wire"
)

// acceptRetryDelay throttles the accept loop after a transient failure
const acceptRetryDelay = 50 * time.Millisecond

// PeerInfo describes one connected client
type PeerInfo struct {
	ID          string
	Addr        string
	ConnectedAt time.Time
}

// RecordHandler receives each submitted record on the dispatcher goroutine
type RecordHandler func(from PeerInfo, record wire.Record)

// peer is one accepted connection. The handler goroutine owns reads; writes
// are serialized by writeMu because broadcasts may overlap.
type peer struct {
	info      PeerInfo
	conn      net.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (p *peer) write(frame []byte, timeout time.Duration) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if timeout > 0 {
		if err := p.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	_, err := p.conn.Write(frame)
	return err
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		p.conn.Close()
	})
}

// server accepts clients and fans snapshots out to them
type server struct {
	cfg      Config
	loop     Dispatcher
	onRecord RecordHandler
	debug    debugLog

	listener net.Listener

	// peers is the live broadcast set
	mu     sync.RWMutex
	peers  map[string]*peer
	closed bool

	wg sync.WaitGroup
}

func newServer(cfg Config, loop Dispatcher, onRecord RecordHandler) *server {
	return &server{
		cfg:      cfg,
		loop:     loop,
		onRecord: onRecord,
		debug:    debugLog(cfg.Verbose),
		peers:    make(map[string]*peer),
	}
}

// start binds the session port and begins accepting
func (s *server) start() error {
	addr := net.JoinHostPort(s.cfg.ListenHost, strconv.Itoa(s.cfg.SessionPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()

	log.Printf("[INFO] session: accepting clients on %s", ln.Addr())
	return nil
}

func (s *server) addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.isClosed() {
				return
			}
			log.Printf("[WARN] session: accept failed: %v", err)
			time.Sleep(acceptRetryDelay)
			continue
		}
		s.addPeer(conn)
	}
}

func (s *server) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// addPeer registers conn in the live set and starts its handler.
// Returns nil when the connection was refused.
func (s *server) addPeer(conn net.Conn) *peer {
	p := &peer{
		info: PeerInfo{
			ID:          uuid.New().String(),
			Addr:        conn.RemoteAddr().String(),
			ConnectedAt: time.Now(),
		},
		conn: conn,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	if s.cfg.MaxPeers > 0 && len(s.peers) >= s.cfg.MaxPeers {
		s.mu.Unlock()
		log.Printf("[WARN] session: rejecting %s, peer limit %d reached", p.info.Addr, s.cfg.MaxPeers)
		conn.Close()
		return nil
	}
	s.peers[p.info.ID] = p
	count := len(s.peers)
	s.wg.Add(1)
	s.mu.Unlock()

	log.Printf("[INFO] session: peer %s connected from %s (%d live)", p.info.ID[:8], p.info.Addr, count)
	go s.handlePeer(p)
	return p
}

// handlePeer reads messages from one client until the stream ends
func (s *server) handlePeer(p *peer) {
	defer s.wg.Done()

	dec := wire.NewDecoder(p.conn)
	for {
		msg, err := dec.Decode()
		if err != nil {
			s.removePeer(p, err)
			return
		}

		switch msg.Kind {
		case wire.KindSubmitRecord:
			if s.onRecord == nil {
				continue
			}
			info, record := p.info, msg.Record
			if !s.loop.Post(func() { s.onRecord(info, record) }) {
				s.debug.Printf("session: dispatcher closed, dropping record from %s", info.ID[:8])
			}
		default:
			s.debug.Printf("session: ignoring %s from peer %s", msg.Kind, p.info.ID[:8])
		}
	}
}

// removePeer drops p from the live set and closes it. Every failure on an
// established connection ends here.
func (s *server) removePeer(p *peer, cause error) {
	s.mu.Lock()
	current, ok := s.peers[p.info.ID]
	removed := ok && current == p
	if removed {
		delete(s.peers, p.info.ID)
	}
	closed := s.closed
	count := len(s.peers)
	s.mu.Unlock()

	p.close()

	if !removed || closed {
		return
	}
	if cause == nil || errors.Is(cause, io.EOF) || errors.Is(cause, net.ErrClosed) {
		log.Printf("[INFO] session: peer %s disconnected (%d live)", p.info.ID[:8], count)
		return
	}
	log.Printf("[INFO] session: peer %s dropped: %v (%d live)", p.info.ID[:8], cause, count)
}

// livePeers copies the live set so callers can iterate without the lock
func (s *server) livePeers() []*peer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	return peers
}

// peerInfos returns the live peers ordered by connect time
func (s *server) peerInfos() []PeerInfo {
	peers := s.livePeers()
	infos := make([]PeerInfo, 0, len(peers))
	for _, p := range peers {
		infos = append(infos, p.info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

func (s *server) peerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// broadcast writes one snapshot frame to every live peer in parallel and
// returns how many writes succeeded. Failed peers are removed.
func (s *server) broadcast(records []wire.Record, rankings []wire.RankingRow) int {
	frame, err := wire.Marshal(wire.NewUpdateSnapshot(records, rankings))
	if err != nil {
		log.Printf("[ERROR] session: failed to encode snapshot: %v", err)
		return 0
	}

	peers := s.livePeers()
	var (
		delivered atomic.Int64
		wg        sync.WaitGroup
	)
	for _, p := range peers {
		wg.Add(1)
		go func(p *peer) {
			defer wg.Done()
			if err := p.write(frame, s.cfg.WriteTimeout); err != nil {
				s.removePeer(p, err)
				return
			}
			delivered.Add(1)
		}(p)
	}
	wg.Wait()

	s.debug.Printf("session: snapshot of %d records delivered to %d/%d peers",
		len(records), delivered.Load(), len(peers))
	return int(delivered.Load())
}

// close stops accepting, disconnects every peer and waits for the handlers
func (s *server) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	peers := s.peers
	s.peers = make(map[string]*peer)
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	for _, p := range peers {
		p.close()
	}
	s.wg.Wait()
}
