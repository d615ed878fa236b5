package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the server and the daemon",
	Run:   runStop,
}

func runStop(cmd *cobra.Command, args []string) {
	c, err := connectClient(cmd)
	if err != nil {
		log.Fatalf("Failed to connect to daemon: %v", err)
	}
	defer c.Close()

	if err := c.Stop(); err != nil {
		log.Fatalf("Failed to send stop: %v", err)
	}
	fmt.Println("Stop command sent")
}
