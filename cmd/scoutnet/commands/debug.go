package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scoutnet/scoutnet/internal/config"
)

// debugCmd is the parent command for debug subcommands
var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debug and diagnostic commands",
	Long:  `Commands for debugging and diagnosing issues with scoutnet.`,
}

// debugFlagsCmd prints resolved flag values for debugging
var debugFlagsCmd = &cobra.Command{
	Use:   "flags",
	Short: "Print resolved flag values for debugging",
	Long: `Print the resolved values of global flags and the effective network
configuration after the config file and SCOUTNET_* overrides are applied.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		configPath, _ := cmd.Flags().GetString("config")
		if configPath == "" {
			if paths, err := config.GetPaths(); err == nil {
				configPath = paths.ConfigFile
			}
		}

		n := cfg.Network
		fmt.Println("Resolved Flag Values:")
		fmt.Printf("  --verbose:         %v\n", verbose)
		fmt.Printf("  --config:          %q\n", configPath)
		fmt.Println()
		fmt.Println("Effective Configuration:")
		fmt.Printf("  verbose:           %v\n", cfg.Verbose)
		fmt.Printf("  status_addr:       %s\n", cfg.StatusAddr)
		fmt.Printf("  discovery_port:    %d\n", n.DiscoveryPort)
		fmt.Printf("  session_port:      %d\n", n.SessionPort)
		fmt.Printf("  broadcast_addr:    %s\n", n.BroadcastAddr)
		fmt.Printf("  announce_interval: %v\n", n.AnnounceInterval)
		fmt.Printf("  candidate_ttl:     %v\n", n.CandidateTTL)
		fmt.Printf("  connect_timeout:   %v\n", n.ConnectTimeout)
		fmt.Printf("  max_peers:         %d\n", n.MaxPeers)
		return nil
	},
}

func init() {
	debugCmd.AddCommand(debugFlagsCmd)
}
