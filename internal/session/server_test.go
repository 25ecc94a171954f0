package session

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutnet/scoutnet/internal/wire"
)

// brokenConn reads like a healthy connection but every write fails
type brokenConn struct {
	net.Conn
}

func (brokenConn) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

// snapshotReader counts snapshots arriving on the client end of a pipe
type snapshotReader struct {
	count atomic.Int32
	done  chan struct{}
}

func readSnapshots(conn net.Conn) *snapshotReader {
	r := &snapshotReader{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		dec := wire.NewDecoder(conn)
		for {
			msg, err := dec.Decode()
			if err != nil {
				return
			}
			if msg.Kind == wire.KindUpdateSnapshot {
				r.count.Add(1)
			}
		}
	}()
	return r
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SessionPort = 0
	cfg.ListenHost = "127.0.0.1"
	cfg.WriteTimeout = time.Second
	return cfg
}

func TestBroadcastDropsFailedPeers(t *testing.T) {
	loop := NewEventLoop()
	defer loop.Close()
	srv := newServer(testConfig(), loop, nil)
	defer srv.close()

	const healthy, broken = 3, 2

	var readers []*snapshotReader
	for i := 0; i < healthy; i++ {
		serverEnd, clientEnd := net.Pipe()
		defer clientEnd.Close()
		require.NotNil(t, srv.addPeer(serverEnd))
		readers = append(readers, readSnapshots(clientEnd))
	}
	for i := 0; i < broken; i++ {
		serverEnd, clientEnd := net.Pipe()
		defer clientEnd.Close()
		require.NotNil(t, srv.addPeer(brokenConn{serverEnd}))
	}
	require.Equal(t, healthy+broken, srv.peerCount())

	records := []wire.Record{wire.Record(`{"team":"254"}`)}
	assert.Equal(t, healthy, srv.broadcast(records, nil))
	assert.Equal(t, healthy, srv.peerCount())

	assert.Equal(t, healthy, srv.broadcast(records, nil))
	assert.Equal(t, healthy, srv.peerCount())

	for i, r := range readers {
		require.Eventually(t, func() bool { return r.count.Load() == 2 }, 2*time.Second, 10*time.Millisecond,
			"reader %d saw %d snapshots", i, r.count.Load())
	}
}

func TestBroadcastWithNoPeers(t *testing.T) {
	srv := newServer(testConfig(), NewEventLoop(), nil)
	defer srv.close()

	assert.Equal(t, 0, srv.broadcast(nil, nil))
}

func TestDisconnectedClientLeavesLiveSet(t *testing.T) {
	loop := NewEventLoop()
	defer loop.Close()
	srv := newServer(testConfig(), loop, nil)
	require.NoError(t, srv.start())
	defer srv.close()

	var conns []net.Conn
	for i := 0; i < 3; i++ {
		conn, err := net.Dial("tcp", srv.addr().String())
		require.NoError(t, err)
		defer conn.Close()
		conns = append(conns, conn)
	}
	require.Eventually(t, func() bool { return srv.peerCount() == 3 }, 2*time.Second, 10*time.Millisecond)

	readers := []*snapshotReader{readSnapshots(conns[0]), readSnapshots(conns[1])}
	require.NoError(t, conns[2].Close())

	require.Eventually(t, func() bool { return srv.peerCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, srv.broadcast([]wire.Record{wire.Record("r")}, []wire.RankingRow{wire.RankingRow("row")}))
	assert.Equal(t, 2, srv.peerCount())

	for _, r := range readers {
		require.Eventually(t, func() bool { return r.count.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	}
}

func TestPeerHandlerForwardsRecordsAndIgnoresOtherKinds(t *testing.T) {
	loop := NewEventLoop()
	defer loop.Close()

	var (
		mu   sync.Mutex
		got  []string
		from []string
	)
	srv := newServer(testConfig(), loop, func(p PeerInfo, record wire.Record) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(record))
		from = append(from, p.ID)
	})
	defer srv.close()

	serverEnd, clientEnd := net.Pipe()
	defer clientEnd.Close()
	p := srv.addPeer(serverEnd)
	require.NotNil(t, p)

	go func() {
		wire.WriteMessage(clientEnd, wire.NewJoinRequest("alice"))
		wire.WriteMessage(clientEnd, wire.NewSubmitRecord(wire.Record("first")))
		wire.WriteMessage(clientEnd, wire.NewJoinResponse(true))
		wire.WriteMessage(clientEnd, wire.NewUpdateSnapshot(nil, nil))
		wire.WriteMessage(clientEnd, wire.NewSubmitRecord(wire.Record("first")))
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"first", "first"}, got)
	assert.Equal(t, []string{p.info.ID, p.info.ID}, from)
	mu.Unlock()
	assert.Equal(t, 1, srv.peerCount())
}

func TestMalformedStreamDisconnectsPeer(t *testing.T) {
	srv := newServer(testConfig(), NewEventLoop(), nil)
	defer srv.close()

	serverEnd, clientEnd := net.Pipe()
	defer clientEnd.Close()
	require.NotNil(t, srv.addPeer(serverEnd))

	go clientEnd.Write([]byte{0x09, 0x01, 0, 0, 0, 0})

	require.Eventually(t, func() bool { return srv.peerCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestMaxPeersRejectsExtraConnections(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPeers = 1
	srv := newServer(cfg, NewEventLoop(), nil)
	defer srv.close()

	first, firstClient := net.Pipe()
	defer firstClient.Close()
	second, secondClient := net.Pipe()
	defer secondClient.Close()

	require.NotNil(t, srv.addPeer(first))
	assert.Nil(t, srv.addPeer(second))
	assert.Equal(t, 1, srv.peerCount())
}

func TestServerCloseClearsPeers(t *testing.T) {
	srv := newServer(testConfig(), NewEventLoop(), nil)
	require.NoError(t, srv.start())

	conn, err := net.Dial("tcp", srv.addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return srv.peerCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	srv.close()
	srv.close()
	assert.Equal(t, 0, srv.peerCount())

	// the client sees the host go away
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)

	// a closed server refuses new peers
	a, b := net.Pipe()
	defer b.Close()
	assert.Nil(t, srv.addPeer(a))
}
