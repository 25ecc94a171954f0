package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/scoutnet/scoutnet/internal/statusrpc"
	"github.com/scoutnet/scoutnet/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a running host",
	Long: `Query the status RPC of a running "scoutnet host" and print the session
and its connected scouts.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().String("addr", "", "Status RPC address (default: status_addr)")
	statusCmd.Flags().Duration("timeout", 3*time.Second, "RPC timeout")
}

func runStatus(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if addr == "" {
		addr = cfg.StatusAddr
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	report, err := statusrpc.Fetch(ctx, addr)
	if err != nil {
		switch status.Code(err) {
		case codes.Unavailable, codes.DeadlineExceeded:
			return fmt.Errorf("no host reachable at %s", addr)
		case codes.FailedPrecondition:
			return fmt.Errorf("process at %s is not hosting: %s", addr, status.Convert(err).Message())
		}
		return err
	}

	fmt.Print(ui.RenderPanel(report.SessionName, [][2]string{
		{"state", report.State},
		{"creator", report.CreatorLabel},
		{"session", report.SessionAddr},
		{"scouts", strconv.Itoa(len(report.Peers))},
	}))

	if len(report.Peers) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(report.Peers))
	for _, p := range report.Peers {
		rows = append(rows, []string{
			p.ID,
			p.Addr,
			time.Since(p.ConnectedAt).Truncate(time.Second).String(),
		})
	}
	fmt.Print(ui.RenderTable([]string{"PEER", "ADDRESS", "CONNECTED"}, rows))
	return nil
}
