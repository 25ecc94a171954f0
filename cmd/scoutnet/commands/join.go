package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/scoutnet/scoutnet/internal/discovery"
	"github.com/scoutnet/scoutnet/internal/session"
	"github.com/scoutnet/scoutnet/internal/tally"
	"github.com/scoutnet/scoutnet/internal/ui"
	"github.com/scoutnet/scoutnet/internal/wire"
)

var joinCmd = &cobra.Command{
	Use:   "join [host]",
	Short: "Join a scouting session and submit entries",
	Long: `Join a session by host address ("ip" or "ip:port") or by session name.
With --session the LAN is searched first and the first host announcing that
name is joined.

Each line read from stdin is submitted as "<team> <score>". The team table is
printed every time the host sends a new snapshot.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJoin,
}

func init() {
	joinCmd.Flags().StringP("session", "s", "", "Join the session with this name")
	joinCmd.Flags().String("scout", "", "Name attached to your entries (default: hostname)")
	joinCmd.Flags().DurationP("timeout", "t", 10*time.Second, "How long to search for --session")
}

func runJoin(cmd *cobra.Command, args []string) error {
	sessionName, _ := cmd.Flags().GetString("session")
	scout, _ := cmd.Flags().GetString("scout")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	if len(args) == 0 && sessionName == "" {
		return errors.New("specify a host address or --session")
	}
	if scout == "" {
		scout = cfg.HostIdentity("", "").CreatorLabel
	}

	ctx := cmd.Context()
	mgr := session.New(cfg.SessionConfig())
	defer mgr.Close()

	hostAddress := ""
	if len(args) == 1 {
		hostAddress = args[0]
	} else {
		found, err := findSession(ctx, mgr, sessionName, timeout)
		if err != nil {
			return err
		}
		hostAddress = found.Addr
		fmt.Println(ui.RenderDim(fmt.Sprintf("Found %q by %s at %s", found.Identity.Name, found.Identity.CreatorLabel, found.Addr)))
	}

	onSnapshot := func(records []wire.Record, rankings []wire.RankingRow) {
		fmt.Println()
		fmt.Println(ui.Color(ui.Cyan, fmt.Sprintf("Team table (%d entries)", len(records))))
		fmt.Print(renderRankings(tally.DecodeRankings(rankings)))
	}

	if err := mgr.Connect(ctx, hostAddress, onSnapshot); err != nil {
		var connErr *session.ConnectError
		if errors.As(err, &connErr) {
			return fmt.Errorf("host %s %s", connErr.Addr, connErr.Reason)
		}
		return err
	}

	fmt.Println(ui.RenderSuccess(fmt.Sprintf("Joined %s as %s", mgr.Status().HostAddr, scout)))
	fmt.Println(ui.RenderDim(`Enter "<team> <score>" per line. Ctrl+D or Ctrl+C to leave.`))

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := submitLine(mgr, scout, line); err != nil {
				fmt.Println(ui.RenderError(err))
				continue
			}
			if !mgr.Status().Connected {
				return errors.New("host closed the session")
			}
		}
	}
}

// findSession runs discovery until a session named name is announced
func findSession(ctx context.Context, mgr *session.Manager, name string, timeout time.Duration) (discovery.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	found := make(chan discovery.Candidate, 1)
	sink := func(candidates []discovery.Candidate) {
		for _, c := range candidates {
			if c.Identity.Name == name {
				select {
				case found <- c:
				default:
				}
				return
			}
		}
	}
	if err := mgr.StartDiscovery(sink); err != nil {
		return discovery.Candidate{}, err
	}

	spinner := ui.NewSpinner(os.Stdout, fmt.Sprintf("Looking for %q...", name))
	spinner.Start()
	defer spinner.Stop()

	select {
	case c := <-found:
		return c, nil
	case <-ctx.Done():
		return discovery.Candidate{}, fmt.Errorf("session %q not found within %v", name, timeout)
	}
}

// submitLine parses one typed entry and sends it to the host
func submitLine(mgr *session.Manager, scout, line string) error {
	entry, err := tally.ParseLine(scout, line)
	if err != nil {
		return err
	}
	record, err := entry.Record()
	if err != nil {
		return err
	}
	return mgr.Send(record)
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}
