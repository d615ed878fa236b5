package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrDaemonRunning is returned when a PID file is owned by a live
// process.
var ErrDaemonRunning = errors.New("daemon already running")

// SocketPath derives the control socket path from the PID file path:
// craftd.pid -> craftd.sock in the same directory. The PID file is the
// endpoint-discovery record for clients on both transports.
func SocketPath(pidFile string) string {
	base := strings.TrimSuffix(filepath.Base(pidFile), ".pid")
	return filepath.Join(filepath.Dir(pidFile), base+".sock")
}

// WritePIDFile records the daemon's PID. The file doubles as the seed
// for the message queue key, so it must exist before the queue is
// created.
func WritePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}
	data := strconv.Itoa(os.Getpid()) + "\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// ReadPIDFile returns the PID recorded in a daemon PID file.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed PID file %s: %w", path, err)
	}
	return pid, nil
}

// ClaimPIDFile writes this process's PID file after verifying that any
// process recorded in an existing file is gone. A live owner fails the
// claim with ErrDaemonRunning and the file is left untouched; a stale
// or malformed file is overwritten.
func ClaimPIDFile(path string) error {
	if pid, err := ReadPIDFile(path); err == nil && pid != os.Getpid() && processAlive(pid) {
		return fmt.Errorf("%w (pid %d)", ErrDaemonRunning, pid)
	}
	return WritePIDFile(path)
}

// processAlive probes a PID with signal 0. EPERM still means the
// process exists, just under another user.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// RemovePIDFile deletes the PID file on clean shutdown.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
