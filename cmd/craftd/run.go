package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/craftd/internal/daemon"
	"github.com/standardbeagle/craftd/internal/supervisor"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the server in the foreground",
	Long: `Run the server under the control daemon without detaching.

The daemon supervises the server process, respawns it when it exits
with the restart code, and serves control commands on the local
endpoint until the server stops.`,
	Run: runRun,
}

func init() {
	runCmd.Flags().String("jar", "", "Server jar path (overrides config)")
	runCmd.Flags().String("jvm", "", "JVM binary path (overrides config)")
}

func runRun(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if jar, _ := cmd.Flags().GetString("jar"); jar != "" {
		cfg.Server.Jar = jar
	}
	if jvm, _ := cmd.Flags().GetString("jvm"); jvm != "" {
		cfg.Server.Java = jvm
	}

	pidFile := resolvePIDFile(cmd, cfg)

	// Signals stop the server the same way a stop command would.
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	d := daemon.New(daemon.Config{
		PIDFile:      pidFile,
		Transport:    cfg.Daemon.Transport,
		MaxFrameSize: cfg.Daemon.MaxFrameSize,
		MaxClients:   100,
		Server: supervisor.Config{
			JavaPath:        cfg.Server.Java,
			JarPath:         cfg.Server.Jar,
			JVMArgs:         cfg.Server.JVMArgs,
			GracefulTimeout: cfg.Daemon.GracefulTimeout,
			RestartExitCode: cfg.Server.RestartExitCode,
		},
	})

	if err := d.Start(); err != nil {
		log.Fatalf("Failed to start daemon: %v", err)
	}

	go func() {
		<-ctx.Done()
		log.Println("Shutdown signal received...")
		shutdownCtx, shutdownCancel := context.WithTimeout(
			context.Background(),
			cfg.Daemon.GracefulTimeout+10*time.Second,
		)
		defer shutdownCancel()
		if err := d.Stop(shutdownCtx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	if err := d.Serve(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}

	// The server exited on its own (stop command or terminal exit
	// code); tear down the endpoint.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := d.Stop(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
