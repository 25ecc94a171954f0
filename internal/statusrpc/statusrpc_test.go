package statusrpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/scoutnet/scoutnet/internal/discovery"
	"github.com/scoutnet/scoutnet/internal/session"
)

type fakeSource struct {
	st session.Status
}

func (f fakeSource) Status() session.Status {
	return f.st
}

func serveFake(t *testing.T, st session.Status) string {
	t.Helper()
	srv, err := Serve("127.0.0.1:0", fakeSource{st: st})
	require.NoError(t, err)
	t.Cleanup(srv.Stop)
	return srv.Addr().String()
}

func TestFetchHostingStatus(t *testing.T) {
	connectedAt := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	addr := serveFake(t, session.Status{
		State:       session.StateHosting,
		Identity:    discovery.Identity{Name: "Regionals", CreatorLabel: "alice"},
		SessionAddr: "0.0.0.0:47801",
		Peers: []session.PeerInfo{
			{ID: "peer-1", Addr: "10.0.0.7:51234", ConnectedAt: connectedAt},
			{ID: "peer-2", Addr: "10.0.0.8:51300", ConnectedAt: connectedAt.Add(time.Minute)},
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	report, err := Fetch(ctx, addr)
	require.NoError(t, err)

	assert.Equal(t, "HOSTING", report.State)
	assert.Equal(t, "Regionals", report.SessionName)
	assert.Equal(t, "alice", report.CreatorLabel)
	assert.Equal(t, "0.0.0.0:47801", report.SessionAddr)
	require.Len(t, report.Peers, 2)
	assert.Equal(t, "peer-1", report.Peers[0].ID)
	assert.Equal(t, "10.0.0.8:51300", report.Peers[1].Addr)
	assert.True(t, report.Peers[0].ConnectedAt.Equal(connectedAt))
}

func TestFetchWhenNotHosting(t *testing.T) {
	addr := serveFake(t, session.Status{State: session.StateIdle})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Fetch(ctx, addr)
	require.Error(t, err)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestFetchUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Fetch(ctx, "127.0.0.1:1")
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
