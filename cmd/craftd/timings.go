package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

var timingsCmd = &cobra.Command{
	Use:   "timings",
	Short: "Generate a timings report",
	Long: `Ask the server to generate a timings performance report.

Progress lines stream back until the report (usually a URL) is ready.`,
	Run: runTimings,
}

func runTimings(cmd *cobra.Command, args []string) {
	c, err := connectClient(cmd)
	if err != nil {
		log.Fatalf("Failed to connect to daemon: %v", err)
	}
	defer c.Close()

	err = c.Timings(func(message string) error {
		fmt.Println(stripSectionCodes(message))
		return nil
	})
	if err != nil {
		log.Fatalf("Timings failed: %v", err)
	}
}
