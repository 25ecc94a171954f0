package commands

import (
	"fmt"
	"log"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/scoutnet/scoutnet/internal/session"
	"github.com/scoutnet/scoutnet/internal/statusrpc"
	"github.com/scoutnet/scoutnet/internal/tally"
	"github.com/scoutnet/scoutnet/internal/ui"
	"github.com/scoutnet/scoutnet/internal/wire"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Host a scouting session on the LAN",
	Long: `Host a scouting session. The session is announced by UDP broadcast
until the command exits. Every entry a scout submits is added to the team
table and the full table is pushed back to every connected scout.

The host also serves its status over gRPC on status_addr, for use with
"scoutnet status".`,
	RunE: runHost,
}

func init() {
	addHostFlags(hostCmd)
}

func addHostFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("name", "n", "", "Session name (default: host.session_name)")
	cmd.Flags().String("creator", "", "Creator label (default: host.creator_label or hostname)")
	cmd.Flags().Bool("no-status", false, "Do not serve the status RPC")
}

func runHost(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	creator, _ := cmd.Flags().GetString("creator")
	noStatus, _ := cmd.Flags().GetBool("no-status")

	identity := cfg.HostIdentity(name, creator)
	out := cmd.OutOrStdout()

	mgr := session.New(cfg.SessionConfig())
	defer mgr.Close()

	// The tally is only touched from the dispatcher goroutine until mgr is closed
	t := tally.New()
	onRecord := func(from session.PeerInfo, record wire.Record) {
		entry, err := t.Add(record)
		if err != nil {
			log.Printf("[WARN] host: dropped record from %s: %v", from.Addr, err)
			return
		}
		fmt.Fprintf(out, "%s %s scored team %s: %s\n",
			ui.RenderDim(from.Addr), entry.Scout, ui.Color(ui.Bold, entry.Team), formatScore(entry.Score))

		rows, err := t.RankingRows()
		if err != nil {
			log.Printf("[ERROR] host: failed to encode rankings: %v", err)
			return
		}
		delivered := mgr.Broadcast(t.Records(), rows)
		if cfg.Verbose {
			log.Printf("[DEBUG] host: snapshot of %d entries delivered to %d scouts", t.Len(), delivered)
		}
	}

	if err := mgr.StartHost(identity, onRecord); err != nil {
		return err
	}

	st := mgr.Status()
	lines := [][2]string{
		{"creator", identity.CreatorLabel},
		{"session", st.SessionAddr},
		{"discovery", fmt.Sprintf("udp/%d", cfg.Network.DiscoveryPort)},
	}

	if !noStatus {
		srv, err := statusrpc.Serve(cfg.StatusAddr, mgr)
		if err != nil {
			log.Printf("[WARN] host: status RPC disabled: %v", err)
		} else {
			defer srv.Stop()
			lines = append(lines, [2]string{"status", srv.Addr().String()})
		}
	}

	fmt.Fprint(out, ui.RenderPanel(identity.Name, lines))
	fmt.Fprintln(out, ui.RenderDim("Waiting for scouts. Press Ctrl+C to end the session."))

	<-cmd.Context().Done()

	// Close waits for the peer handlers and drains the dispatcher, after
	// which this goroutine owns the tally
	scouts := len(mgr.Peers())
	mgr.Close()

	fmt.Fprintln(out)
	fmt.Fprintln(out, ui.RenderSuccess(fmt.Sprintf("Session ended with %d entries from %d scouts.", t.Len(), scouts)))
	fmt.Fprint(out, renderRankings(t.Rankings()))
	return nil
}

// renderRankings formats the team table, or a placeholder when empty
func renderRankings(rankings []tally.Ranking) string {
	if len(rankings) == 0 {
		return ui.RenderDim("  (no entries yet)") + "\n"
	}
	rows := make([][]string, 0, len(rankings))
	for _, r := range rankings {
		rows = append(rows, []string{
			strconv.Itoa(r.Rank),
			r.Team,
			formatScore(r.Average),
			strconv.Itoa(r.Entries),
		})
	}
	return ui.RenderTable([]string{"RANK", "TEAM", "AVG", "ENTRIES"}, rows)
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
