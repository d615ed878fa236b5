package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"
)

var completeCmd = &cobra.Command{
	Use:   "complete <partial-command>...",
	Short: "Tab-complete a server console command",
	Args:  cobra.MinimumNArgs(1),
	Run:   runComplete,
}

func runComplete(cmd *cobra.Command, args []string) {
	c, err := connectClient(cmd)
	if err != nil {
		log.Fatalf("Failed to connect to daemon: %v", err)
	}
	defer c.Close()

	suggestions, err := c.TabComplete(strings.Join(args, " "))
	if err != nil {
		log.Fatalf("Tab complete failed: %v", err)
	}
	for _, s := range suggestions {
		fmt.Println(s)
	}
}
