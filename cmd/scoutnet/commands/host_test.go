package commands

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutnet/scoutnet/internal/config"
	"github.com/scoutnet/scoutnet/internal/session"
	"github.com/scoutnet/scoutnet/internal/tally"
)

// syncBuffer is written by the dispatcher and read by the test
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func freePorts(t *testing.T) (tcpPort, udpPort int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	tcpPort = ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	udpPort = conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return tcpPort, udpPort
}

func TestHostSummaryWhileScoutsKeepSubmitting(t *testing.T) {
	sessionPort, discoveryPort := freePorts(t)

	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = config.Default()
	cfg.Network.SessionPort = sessionPort
	cfg.Network.ListenHost = "127.0.0.1"
	cfg.Network.DiscoveryPort = discoveryPort
	cfg.Network.BroadcastAddr = "127.0.0.1"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := &cobra.Command{RunE: runHost}
	addHostFlags(cmd)
	require.NoError(t, cmd.Flags().Set("name", "Regionals"))
	require.NoError(t, cmd.Flags().Set("creator", "alice"))
	require.NoError(t, cmd.Flags().Set("no-status", "true"))
	out := &syncBuffer{}
	cmd.SetOut(out)
	cmd.SetContext(ctx)

	done := make(chan error, 1)
	go func() { done <- runHost(cmd, nil) }()

	scout := session.New(cfg.SessionConfig())
	defer scout.Close()
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(sessionPort))
	require.Eventually(t, func() bool {
		return scout.Connect(context.Background(), addr, nil) == nil
	}, 3*time.Second, 20*time.Millisecond)

	record, err := tally.Entry{Scout: "bob", Team: "254", Score: 42}.Record()
	require.NoError(t, err)

	// keep submitting through the shutdown so records land while the host exits
	stop := make(chan struct{})
	sending := make(chan struct{})
	go func() {
		defer close(sending)
		for {
			select {
			case <-stop:
				return
			default:
				scout.Send(record)
				time.Sleep(time.Millisecond)
			}
		}
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "scored team 254")
	}, 3*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("host did not exit after cancel")
	}
	close(stop)
	<-sending

	got := out.String()
	idx := strings.Index(got, "Session ended with ")
	require.GreaterOrEqual(t, idx, 0, "missing summary:\n%s", got)

	var entries, scouts int
	_, err = fmt.Sscanf(got[idx:], "Session ended with %d entries from %d scouts.", &entries, &scouts)
	require.NoError(t, err)
	assert.Equal(t, 1, scouts)
	assert.Equal(t, strings.Count(got, "scored team 254"), entries, "summary must count every record printed")
	assert.Contains(t, got[idx:], "254")
}
