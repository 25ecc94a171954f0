package commands

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/scoutnet/scoutnet/internal/config"
)

var (
	// Version is set at build time
	Version = "dev"
	// Commit is set at build time
	Commit = "none"
)

// cfg is resolved once per invocation before any subcommand runs
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "scoutnet",
	Short: "scoutnet - LAN scouting sessions",
	Long: `scoutnet hosts and joins scouting sessions on the local network.

One machine hosts a session and announces it by UDP broadcast. Scouts
discover it, join over TCP and submit "<team> <score>" entries; the host
ranks teams and pushes the full table back to every scout.

Use "scoutnet [command] --help" for more information about a command.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command, canceling its context on SIGINT or SIGTERM
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default: ~/.scoutnet/config.yaml)")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(debugCmd)
}

// loadConfig reads .env, the config file and the environment, then applies
// the --verbose flag on top
func loadConfig(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	configPath, _ := cmd.Flags().GetString("config")

	if err := godotenv.Load(); err != nil && verbose {
		log.Printf("[DEBUG] No .env file found or error loading it: %v", err)
	}

	loaded, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		loaded.Verbose = true
	}
	cfg = loaded
	return nil
}

// versionCmd shows version info
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("scoutnet\n")
		fmt.Printf("  Version:  %s\n", Version)
		fmt.Printf("  Commit:   %s\n", Commit)
		fmt.Printf("  Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}
