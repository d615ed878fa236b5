package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/craftd/internal/config"
	"github.com/standardbeagle/craftd/internal/daemon"
)

const (
	appName    = "craftd"
	appVersion = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Control daemon for Minecraft game servers",
	Long: `Craftd runs a Minecraft server under a local control daemon:
  - run/start the server with lifecycle supervision and auto-restart
  - send console commands, follow logs, and tab-complete remotely
  - query live status (players, TPS, memory, worlds) and timings

The daemon listens on a local endpoint only (Unix socket or SysV
message queue); nothing is exposed over the network.`,
	Version: appVersion,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().String("pid", "", "Path to the daemon PID file")
	rootCmd.PersistentFlags().String("config", "", "Path to a craftd.kdl config file")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(timingsCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(configCmd)

	// Version template
	rootCmd.SetVersionTemplate(fmt.Sprintf("%s v%s\n", appName, appVersion))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves configuration from the --config flag or the
// default lookup chain.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	return config.Load(path)
}

// resolvePIDFile picks the daemon PID file: --pid flag, then the
// CRAFTD_PID environment variable, then the configured path.
func resolvePIDFile(cmd *cobra.Command, cfg *config.Config) string {
	if flag, _ := cmd.Root().PersistentFlags().GetString("pid"); flag != "" {
		return flag
	}
	if env := os.Getenv("CRAFTD_PID"); env != "" {
		return env
	}
	return cfg.Daemon.PIDFile
}

// connectClient dials the daemon for a client command.
func connectClient(cmd *cobra.Command) (*daemon.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return daemon.Connect(resolvePIDFile(cmd, cfg), cfg.Daemon.Transport)
}
