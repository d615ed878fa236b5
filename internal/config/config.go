// Package config loads craftd configuration. Settings come from KDL
// files: an explicit --config path, then ./craftd.kdl in the server
// directory, then the global file under the XDG config dir. Missing
// files fall back to defaults.
package config

import (
	"errors"
	"time"
)

var (
	errMissingJar   = errors.New("config: server jar not set")
	errBadTransport = errors.New(`config: transport must be "socket" or "msgqueue"`)
)

// Config holds the complete daemon configuration.
type Config struct {
	// Server configures the supervised game server process.
	Server ServerConfig `json:"server"`

	// Daemon configures the control endpoint.
	Daemon DaemonConfig `json:"daemon"`
}

// ServerConfig holds settings for the supervised process.
type ServerConfig struct {
	// Jar is the path to the server jar.
	Jar string `json:"jar"`
	// Java is the JVM binary; empty means search PATH then JAVA_HOME.
	Java string `json:"java,omitempty"`
	// JVMArgs are passed before -jar; empty means built-in defaults.
	JVMArgs []string `json:"jvm_args,omitempty"`
	// RestartExitCode is the exit code that requests a respawn.
	RestartExitCode int `json:"restart_exit_code"`
}

// DaemonConfig holds settings for the control endpoint.
type DaemonConfig struct {
	// PIDFile is where the daemon records its PID; the control socket
	// and message queue key derive from it.
	PIDFile string `json:"pid_file"`
	// Transport selects the control channel: "socket" or "msgqueue".
	Transport string `json:"transport"`
	// GracefulTimeout bounds the graceful server stop.
	GracefulTimeout time.Duration `json:"graceful_timeout"`
	// MaxFrameSize is the payload size ceiling for control frames.
	MaxFrameSize int `json:"max_frame_size"`
}

// Transport kinds accepted by DaemonConfig.Transport.
const (
	TransportSocket   = "socket"
	TransportMsgQueue = "msgqueue"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Jar:             "paperclip.jar",
			RestartExitCode: 57,
		},
		Daemon: DaemonConfig{
			PIDFile:         "craftd.pid",
			Transport:       TransportSocket,
			GracefulTimeout: 30 * time.Second,
			MaxFrameSize:    1 << 20,
		},
	}
}

// Validate checks the configuration and repairs recoverable fields.
func (c *Config) Validate() error {
	if c.Server.Jar == "" {
		return errMissingJar
	}
	switch c.Daemon.Transport {
	case TransportSocket, TransportMsgQueue:
	case "":
		c.Daemon.Transport = TransportSocket
	default:
		return errBadTransport
	}
	if c.Daemon.PIDFile == "" {
		c.Daemon.PIDFile = "craftd.pid"
	}
	if c.Daemon.GracefulTimeout <= 0 {
		c.Daemon.GracefulTimeout = 30 * time.Second
	}
	if c.Daemon.MaxFrameSize <= 0 {
		c.Daemon.MaxFrameSize = 1 << 20
	}
	if c.Server.RestartExitCode == 0 {
		c.Server.RestartExitCode = 57
	}
	return nil
}
