package main

import (
	"log"
	"strings"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <command>...",
	Short: "Send a console command to the server",
	Args:  cobra.MinimumNArgs(1),
	Run:   runSend,
}

func init() {
	sendCmd.Flags().Bool("tail", false, "Follow server logs after sending")
}

func runSend(cmd *cobra.Command, args []string) {
	c, err := connectClient(cmd)
	if err != nil {
		log.Fatalf("Failed to connect to daemon: %v", err)
	}

	if err := c.SendCommand(strings.Join(args, " ")); err != nil {
		c.Close()
		log.Fatalf("Failed to send command: %v", err)
	}
	c.Close()

	if tail, _ := cmd.Flags().GetBool("tail"); tail {
		if err := followLogs(cmd); err != nil {
			log.Fatalf("Failed to follow logs: %v", err)
		}
	}
}
