package session

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/scoutnet/scoutnet/internal/wire"
)

// SnapshotHandler receives each host snapshot on the dispatcher goroutine
type SnapshotHandler func(records []wire.Record, rankings []wire.RankingRow)

// client is the single connection from a joined client to its host
type client struct {
	addr       string
	conn       net.Conn
	loop       Dispatcher
	onSnapshot SnapshotHandler
	debug      debugLog

	writeMu sync.Mutex
	w       *bufio.Writer

	connected atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// hostAddr appends the default session port when addr has none
func hostAddr(addr string, port int) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, strconv.Itoa(port))
}

// dialFunc opens the stream connection to a host
type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// dialClient connects to the host and starts the receive loop
func dialClient(ctx context.Context, cfg Config, dial dialFunc, addr string, loop Dispatcher, onSnapshot SnapshotHandler) (*client, error) {
	target := hostAddr(addr, cfg.SessionPort)

	conn, err := dial(ctx, "tcp", target)
	if err != nil {
		return nil, newConnectError(target, err)
	}

	c := &client{
		addr:       target,
		conn:       conn,
		loop:       loop,
		onSnapshot: onSnapshot,
		debug:      debugLog(cfg.Verbose),
		w:          bufio.NewWriter(conn),
	}
	c.connected.Store(true)

	c.wg.Add(1)
	go c.receiveLoop()

	log.Printf("[INFO] session: connected to host %s", target)
	return c, nil
}

func (c *client) receiveLoop() {
	defer c.wg.Done()

	dec := wire.NewDecoder(c.conn)
	for {
		msg, err := dec.Decode()
		if err != nil {
			c.connected.Store(false)
			if !c.closing.Load() {
				if errors.Is(err, io.EOF) {
					log.Printf("[INFO] session: host %s closed the session", c.addr)
				} else {
					log.Printf("[INFO] session: lost connection to host %s: %v", c.addr, err)
				}
			}
			c.closeConn()
			return
		}

		switch msg.Kind {
		case wire.KindUpdateSnapshot:
			if c.onSnapshot == nil {
				continue
			}
			records, rankings := msg.Records, msg.Rankings
			if !c.loop.Post(func() { c.onSnapshot(records, rankings) }) {
				c.debug.Printf("session: dispatcher closed, dropping snapshot")
			}
		default:
			c.debug.Printf("session: ignoring %s from host", msg.Kind)
		}
	}
}

// send writes one SubmitRecord frame and flushes it. A dead connection makes
// this a no-op.
func (c *client) send(record wire.Record) error {
	frame, err := wire.Marshal(wire.NewSubmitRecord(record))
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if !c.connected.Load() {
		return nil
	}
	_, err = c.w.Write(frame)
	if err == nil {
		err = c.w.Flush()
	}
	if err == nil {
		return nil
	}

	if !c.closing.Load() {
		log.Printf("[INFO] session: lost connection to host %s: %v", c.addr, err)
	}
	c.connected.Store(false)
	c.closeConn()
	return nil
}

func (c *client) isConnected() bool {
	return c.connected.Load()
}

func (c *client) closeConn() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}

// close disconnects and waits for the receive loop
func (c *client) close() {
	c.closing.Store(true)
	c.connected.Store(false)
	c.closeConn()
	c.wg.Wait()
}
