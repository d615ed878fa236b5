// Package supervisor owns the lifecycle of the controlled game server
// process: spawning it under a pty, delivering console commands and
// signals, interpreting its exit code, and deciding whether to respawn.
package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
)

var (
	// ErrNotRunning is returned for operations that need a live
	// server process.
	ErrNotRunning = errors.New("server process is not running")
	// ErrAlreadyRunning is returned when starting a supervisor whose
	// process is already up.
	ErrAlreadyRunning = errors.New("server process already running")
	// ErrShutdownTimeout marks a graceful stop that exceeded its
	// bound and was escalated to a forced kill.
	ErrShutdownTimeout = errors.New("graceful shutdown timed out")
)

// State is the lifecycle state of the supervised process.
type State int32

const (
	StatePending State = iota
	StateStarting
	StateRunning
	StateStopping
	StateRespawning
	StateExited
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateRespawning:
		return "respawning"
	case StateExited:
		return "exited"
	}
	return "unknown"
}

// ExitDisposition is the supervisor's reading of a server exit code.
type ExitDisposition int

const (
	// Terminate means the server is done; do not respawn.
	Terminate ExitDisposition = iota
	// Respawn means the server asked to be restarted with the same
	// configuration.
	Respawn
)

// DefaultRestartExitCode is the distinguished exit code the server
// uses to request a respawn. The server exits with this code after an
// in-band restart directive instead of relying on an external restart
// script.
const DefaultRestartExitCode = 57

// DefaultGracefulTimeout bounds the wait for a graceful stop before
// escalating to SIGKILL.
const DefaultGracefulTimeout = 30 * time.Second

// Config describes how to run the server process.
type Config struct {
	// JavaPath is the JVM binary. Empty means search PATH then
	// JAVA_HOME.
	JavaPath string
	// JarPath is the server jar to run. Its directory becomes the
	// working directory.
	JarPath string
	// JVMArgs are passed before -jar. Empty means DefaultJVMArgs.
	JVMArgs []string
	// GracefulTimeout bounds the graceful stop wait.
	GracefulTimeout time.Duration
	// RestartExitCode maps to the Respawn disposition.
	RestartExitCode int
	// OnLine receives each console output line. Must not block.
	OnLine func(line string)
}

// Disposition maps an exit code to what the supervisor should do next.
func (c Config) Disposition(exitCode int) ExitDisposition {
	restart := c.RestartExitCode
	if restart == 0 {
		restart = DefaultRestartExitCode
	}
	if exitCode == restart {
		return Respawn
	}
	return Terminate
}

// Snapshot is a consistent read of the process state. Handlers read
// snapshots; only the supervisor mutates the underlying state.
type Snapshot struct {
	State    State
	PID      int
	Running  bool
	ExitCode int
	HasExit  bool
	Respawns int64
}

// Supervisor runs the server process and its respawn loop.
type Supervisor struct {
	cfg Config

	state    atomic.Int32
	pid      atomic.Int32
	exitCode atomic.Int32
	hasExit  atomic.Bool
	respawns atomic.Int64

	// stopRequested suppresses the respawn loop once a stop has been
	// asked for, whatever exit code the server produces.
	stopRequested atomic.Bool

	mu     sync.Mutex // guards cmd, console, done
	cmd    *exec.Cmd
	conIn  *os.File // pty master; console command injection
	done   chan struct{}
	logOut *os.File

	wg sync.WaitGroup
}

// New creates a supervisor. The process is not started.
func New(cfg Config) *Supervisor {
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = DefaultGracefulTimeout
	}
	if cfg.RestartExitCode == 0 {
		cfg.RestartExitCode = DefaultRestartExitCode
	}
	return &Supervisor{cfg: cfg}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

func (s *Supervisor) setState(st State) {
	s.state.Store(int32(st))
}

func (s *Supervisor) compareAndSwapState(old, new State) bool {
	return s.state.CompareAndSwap(int32(old), int32(new))
}

// Snapshot returns a point-in-time view of the process state.
func (s *Supervisor) Snapshot() Snapshot {
	st := s.State()
	return Snapshot{
		State:    st,
		PID:      int(s.pid.Load()),
		Running:  st == StateRunning || st == StateStopping,
		ExitCode: int(s.exitCode.Load()),
		HasExit:  s.hasExit.Load(),
		Respawns: s.respawns.Load(),
	}
}

// Run spawns the server and blocks through its respawn loop until the
// process exits with a terminating disposition or a stop is requested.
// Exactly one Run may be active per Supervisor.
func (s *Supervisor) Run() error {
	if !s.compareAndSwapState(StatePending, StateStarting) {
		return fmt.Errorf("%w (state: %s)", ErrAlreadyRunning, s.State())
	}

	if err := s.openLogFile(); err != nil {
		s.setState(StateExited)
		return err
	}
	defer s.closeLogFile()

	for {
		if err := s.spawn(); err != nil {
			s.setState(StateExited)
			return err
		}

		code := s.waitForExit()
		s.exitCode.Store(int32(code))
		s.hasExit.Store(true)

		if s.stopRequested.Load() {
			s.setState(StateExited)
			return nil
		}

		if s.cfg.Disposition(code) == Respawn {
			log.Printf("Server exited with restart code %d, respawning", code)
			s.respawns.Add(1)
			s.setState(StateRespawning)
			s.setState(StateStarting)
			continue
		}

		log.Printf("Server exited with code %d", code)
		s.setState(StateExited)
		return nil
	}
}

// spawn starts one incarnation of the server process under a pty so
// console output can be captured line by line.
func (s *Supervisor) spawn() error {
	javaPath := s.cfg.JavaPath
	if javaPath == "" {
		found, err := FindJava()
		if err != nil {
			return err
		}
		javaPath = found
	}

	jvmArgs := s.cfg.JVMArgs
	if len(jvmArgs) == 0 {
		jvmArgs = DefaultJVMArgs()
	}

	args := append(append([]string{}, jvmArgs...), "-jar", s.cfg.JarPath)
	cmd := exec.Command(javaPath, args...)
	cmd.Dir = filepath.Dir(s.cfg.JarPath)
	cmd.Env = os.Environ()

	master, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("failed to start server process: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.conIn = master
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.pid.Store(int32(cmd.Process.Pid))
	s.setState(StateRunning)
	log.Printf("Server started (pid %d)", cmd.Process.Pid)

	s.wg.Add(1)
	go s.readConsole(master)

	return nil
}

// readConsole fans server console output out to the line sink and the
// log file until the pty closes on process exit.
func (s *Supervisor) readConsole(master *os.File) {
	defer s.wg.Done()

	scanner := bufio.NewScanner(master)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if s.logOut != nil {
			fmt.Fprintln(s.logOut, line)
		}
		if s.cfg.OnLine != nil {
			s.cfg.OnLine(line)
		}
	}
}

// waitForExit reaps the current incarnation and returns its exit code.
func (s *Supervisor) waitForExit() int {
	s.mu.Lock()
	cmd := s.cmd
	master := s.conIn
	done := s.done
	s.mu.Unlock()

	err := cmd.Wait()
	master.Close()
	close(done)

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		return -1
	}
	return 0
}

// SendCommand injects a console command into the server, as if typed
// at its console.
func (s *Supervisor) SendCommand(command string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateRunning || s.conIn == nil {
		return ErrNotRunning
	}
	if _, err := s.conIn.Write([]byte(command + "\n")); err != nil {
		return fmt.Errorf("failed to write console command: %w", err)
	}
	return nil
}

// Stop shuts the server down: graceful in-band stop first, SIGTERM if
// the console is unreachable, then exactly one SIGKILL escalation when
// the graceful timeout expires. The supervisor always leaves Stopping.
func (s *Supervisor) Stop() error {
	s.stopRequested.Store(true)

	if !s.compareAndSwapState(StateRunning, StateStopping) {
		if st := s.State(); st == StateStopping {
			s.awaitDone()
			return nil
		}
		return ErrNotRunning
	}

	s.mu.Lock()
	conIn := s.conIn
	cmd := s.cmd
	done := s.done
	s.mu.Unlock()

	// Prefer the server's own save-and-stop path over a signal.
	graceful := false
	if conIn != nil {
		if _, err := conIn.Write([]byte("stop\n")); err == nil {
			graceful = true
		}
	}
	if !graceful && cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.GracefulTimeout):
	}

	log.Printf("Graceful stop timed out after %s, escalating to SIGKILL", s.cfg.GracefulTimeout)
	if cmd != nil && cmd.Process != nil {
		// The pty gave the server its own session; kill the whole
		// process group.
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	<-done
	return ErrShutdownTimeout
}

// Restart asks the server to restart itself. The server exits with the
// restart code and the Run loop respawns it with identical
// configuration.
func (s *Supervisor) Restart() error {
	return s.SendCommand("restart")
}

func (s *Supervisor) awaitDone() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// openLogFile opens logs/latest.log next to the jar for console
// capture.
func (s *Supervisor) openLogFile() error {
	dir := filepath.Join(filepath.Dir(s.cfg.JarPath), "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "latest.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	s.logOut = f
	return nil
}

func (s *Supervisor) closeLogFile() {
	s.wg.Wait()
	if s.logOut != nil {
		s.logOut.Close()
		s.logOut = nil
	}
}
