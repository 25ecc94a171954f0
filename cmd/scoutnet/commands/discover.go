package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/scoutnet/scoutnet/internal/discovery"
	"github.com/scoutnet/scoutnet/internal/session"
	"github.com/scoutnet/scoutnet/internal/ui"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List scouting sessions announced on the LAN",
	Long: `Listen for session announcements and print each session the first time
it is seen. When the timeout elapses the full list is printed as a table.
A timeout of 0 listens until interrupted.`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().DurationP("timeout", "t", 6*time.Second, "How long to listen (0 = until Ctrl+C)")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx := cmd.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	mgr := session.New(cfg.SessionConfig())
	defer mgr.Close()

	spinner := ui.NewSpinner(os.Stdout, "Listening for sessions...")

	// seen is only touched from the dispatcher goroutine
	seen := make(map[string]bool)
	sink := func(candidates []discovery.Candidate) {
		for _, c := range candidates {
			if seen[c.Identity.Name] {
				continue
			}
			seen[c.Identity.Name] = true
			spinner.Println(fmt.Sprintf("  %s %s %s",
				ui.Color(ui.Green, "+"), ui.Color(ui.Bold, c.Identity.Name), ui.RenderDim("by "+c.Identity.CreatorLabel+" at "+c.Addr)))
		}
		spinner.SetMessage(fmt.Sprintf("Listening for sessions... %d found", len(candidates)))
	}

	if err := mgr.StartDiscovery(sink); err != nil {
		return err
	}

	spinner.Start()
	<-ctx.Done()
	spinner.Stop()

	fmt.Println()
	fmt.Print(renderCandidates(mgr.Candidates()))
	return nil
}

// renderCandidates formats discovered sessions in first-seen order
func renderCandidates(candidates []discovery.Candidate) string {
	if len(candidates) == 0 {
		return ui.RenderWarning("No sessions found.") + "\n"
	}
	rows := make([][]string, 0, len(candidates))
	for _, c := range candidates {
		rows = append(rows, []string{
			c.Identity.Name,
			c.Identity.CreatorLabel,
			c.Addr,
			c.LastSeen.Format(time.Kitchen),
		})
	}
	return ui.RenderTable([]string{"SESSION", "CREATOR", "ADDRESS", "LAST SEEN"}, rows)
}
