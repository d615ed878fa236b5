package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Run:   runStatus,
}

func runStatus(cmd *cobra.Command, args []string) {
	c, err := connectClient(cmd)
	if err != nil {
		log.Fatalf("Failed to connect to daemon: %v", err)
	}
	defer c.Close()

	status, err := c.Status()
	if err != nil {
		log.Fatalf("Failed to get status: %v", err)
	}

	name := status.ServerName
	if name == "" {
		name = "(statistics unavailable)"
	}
	fmt.Printf("Server:  %s\n", name)
	if status.ServerVersion != "" {
		fmt.Printf("Version: %s (API %s)\n", status.ServerVersion, status.APIVersion)
	}
	if status.MOTD != "" {
		fmt.Printf("MOTD:    %s\n", stripSectionCodes(status.MOTD))
	}
	fmt.Printf("TPS:     %.2f, %.2f, %.2f (1m, 5m, 15m)\n",
		status.TPS.OneMin, status.TPS.FiveMin, status.TPS.FifteenMin)
	if status.MemoryUsage.MaxMemory != "" {
		fmt.Printf("Memory:  %s used / %s allocated / %s max\n",
			status.MemoryUsage.UsedMemory,
			status.MemoryUsage.TotalMemory,
			status.MemoryUsage.MaxMemory)
	}

	fmt.Printf("Players: %d", len(status.Players))
	if len(status.Players) > 0 {
		fmt.Printf(" (%s)", strings.Join(status.Players, ", "))
	}
	fmt.Println()

	for _, w := range status.Worlds {
		fmt.Printf("World %q: dimension=%s difficulty=%s time=%s players=%d\n",
			w.Name, w.Dimension, w.Difficulty, w.Time, len(w.Players))
	}
}
