package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the server",
	Long: `Ask the server to restart itself.

The server exits with its restart code and the daemon respawns it with
the same configuration.`,
	Run: runRestart,
}

func init() {
	restartCmd.Flags().Bool("tail", false, "Follow server logs after restarting")
}

func runRestart(cmd *cobra.Command, args []string) {
	c, err := connectClient(cmd)
	if err != nil {
		log.Fatalf("Failed to connect to daemon: %v", err)
	}

	if err := c.Restart(); err != nil {
		c.Close()
		log.Fatalf("Failed to send restart: %v", err)
	}
	fmt.Println("Restart command sent")
	c.Close()

	if tail, _ := cmd.Flags().GetBool("tail"); tail {
		if err := followLogs(cmd); err != nil {
			log.Fatalf("Failed to follow logs: %v", err)
		}
	}
}
