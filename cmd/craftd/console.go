package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

var consoleCmd = &cobra.Command{
	Use:   "console-status",
	Short: "Show the compact console status line",
	Run:   runConsoleStatus,
}

func runConsoleStatus(cmd *cobra.Command, args []string) {
	c, err := connectClient(cmd)
	if err != nil {
		log.Fatalf("Failed to connect to daemon: %v", err)
	}
	defer c.Close()

	status, err := c.ConsoleStatus()
	if err != nil {
		log.Fatalf("Failed to get console status: %v", err)
	}

	name := status.ServerName
	if name == "" {
		name = "(unknown)"
	}
	fmt.Printf("%s | players %d/%d | tps %.2f\n",
		name, status.Players, status.MaxPlayers, status.TPS)
}
