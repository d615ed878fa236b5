package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Follow live server console output",
	Long: `Subscribe to the server's console output and print each line.

Stops on Ctrl-C. Minecraft color codes are stripped when stdout is not
a terminal.`,
	Run: runLogs,
}

func runLogs(cmd *cobra.Command, args []string) {
	if err := followLogs(cmd); err != nil {
		log.Fatalf("Failed to follow logs: %v", err)
	}
}

// followLogs opens a log subscription keyed by this process's PID and
// prints lines until interrupted. Shared by the logs command and the
// --tail flags.
func followLogs(cmd *cobra.Command) error {
	c, err := connectClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	pid := os.Getpid()

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	go func() {
		<-ctx.Done()
		// Tear the subscription down; closing the connection unblocks
		// the read loop.
		c.EndLogs(pid)
		c.Close()
	}()

	plain := !term.IsTerminal(int(os.Stdout.Fd()))

	err = c.Logs(pid, func(line string) error {
		if plain {
			line = stripSectionCodes(line)
		}
		fmt.Println(line)
		return nil
	})
	if ctx.Err() != nil {
		return nil // interrupted: clean exit
	}
	return err
}

// stripSectionCodes removes Minecraft §-style color codes: each '§'
// and the single formatting character after it.
func stripSectionCodes(s string) string {
	if !strings.ContainsRune(s, '§') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	skip := false
	for _, r := range s {
		if skip {
			skip = false
			continue
		}
		if r == '§' {
			skip = true
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
