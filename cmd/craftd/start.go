package main

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the server in the background",
	Long: `Start the server detached from the terminal.

Re-executes "craftd run" in a new session; daemon output goes to
logs/daemon.log next to the server jar.`,
	Run: runStart,
}

func init() {
	startCmd.Flags().String("jar", "", "Server jar path (overrides config)")
	startCmd.Flags().String("jvm", "", "JVM binary path (overrides config)")
}

func runStart(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	jar, _ := cmd.Flags().GetString("jar")
	if jar == "" {
		jar = cfg.Server.Jar
	}

	exe, err := os.Executable()
	if err != nil {
		log.Fatalf("Failed to locate executable: %v", err)
	}

	// Propagate the flags that shape the run.
	runArgs := []string{"run"}
	if pid, _ := cmd.Root().PersistentFlags().GetString("pid"); pid != "" {
		runArgs = append(runArgs, "--pid", pid)
	}
	if configPath, _ := cmd.Root().PersistentFlags().GetString("config"); configPath != "" {
		runArgs = append(runArgs, "--config", configPath)
	}
	if jarFlag, _ := cmd.Flags().GetString("jar"); jarFlag != "" {
		runArgs = append(runArgs, "--jar", jarFlag)
	}
	if jvm, _ := cmd.Flags().GetString("jvm"); jvm != "" {
		runArgs = append(runArgs, "--jvm", jvm)
	}

	logDir := filepath.Join(filepath.Dir(jar), "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.Fatalf("Failed to create log directory: %v", err)
	}
	logFile, err := os.OpenFile(filepath.Join(logDir, "daemon.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Fatalf("Failed to open daemon log: %v", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, runArgs...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.Stdin = nil
	// Detach: the daemon gets its own session so closing the terminal
	// does not kill it.
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		log.Fatalf("Failed to start daemon: %v", err)
	}
	pid := child.Process.Pid
	// The child is on its own; don't hold the process table entry.
	if err := child.Process.Release(); err != nil {
		log.Printf("Warning: release failed: %v", err)
	}

	fmt.Printf("Daemon started (pid %d), logging to %s\n",
		pid, filepath.Join(logDir, "daemon.log"))
}
