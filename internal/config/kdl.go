package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	kdl "github.com/sblinch/kdl-go"
)

// KDL configuration file names
const (
	GlobalConfigFile = "config.kdl"
	ServerConfigFile = "craftd.kdl"
)

// KDLConfig represents the KDL configuration structure.
// Uses kdl struct tags for unmarshaling.
type KDLConfig struct {
	Server KDLServer `kdl:"server"`
	Daemon KDLDaemon `kdl:"daemon"`
}

// KDLServer holds server process settings from KDL.
type KDLServer struct {
	Jar             string   `kdl:"jar"`
	Java            string   `kdl:"java"`
	JVMArgs         []string `kdl:"jvm-args"`
	RestartExitCode int      `kdl:"restart-exit-code"`
}

// KDLDaemon holds control endpoint settings from KDL.
type KDLDaemon struct {
	PIDFile         string `kdl:"pid-file"`
	Transport       string `kdl:"transport"`
	GracefulTimeout int    `kdl:"graceful-timeout"`
	MaxFrameSize    int    `kdl:"max-frame-size"`
}

// Load resolves configuration for a server directory: an explicit
// path wins, then ./craftd.kdl, then the global file. Missing files
// yield defaults.
func Load(explicitPath string) (*Config, error) {
	if explicitPath != "" {
		return LoadConfigFile(explicitPath)
	}

	if _, err := os.Stat(ServerConfigFile); err == nil {
		return LoadConfigFile(ServerConfigFile)
	}

	return LoadGlobalConfig()
}

// LoadGlobalConfig loads the global configuration from the default location.
func LoadGlobalConfig() (*Config, error) {
	configPath := GlobalConfigPath()
	if configPath == "" {
		return DefaultConfig(), nil
	}

	// If file doesn't exist, return defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	return LoadConfigFile(configPath)
}

// LoadConfigFile loads configuration from a specific file path.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return ParseKDLConfig(string(data))
}

// ParseKDLConfig parses KDL configuration data.
func ParseKDLConfig(data string) (*Config, error) {
	var kdlCfg KDLConfig
	if err := kdl.Unmarshal([]byte(data), &kdlCfg); err != nil {
		return nil, err
	}

	cfg := kdlConfigToConfig(&kdlCfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// kdlConfigToConfig converts KDL config to our Config type.
func kdlConfigToConfig(kdlCfg *KDLConfig) *Config {
	cfg := DefaultConfig()

	if kdlCfg.Server.Jar != "" {
		cfg.Server.Jar = kdlCfg.Server.Jar
	}
	if kdlCfg.Server.Java != "" {
		cfg.Server.Java = kdlCfg.Server.Java
	}
	if len(kdlCfg.Server.JVMArgs) > 0 {
		cfg.Server.JVMArgs = kdlCfg.Server.JVMArgs
	}
	if kdlCfg.Server.RestartExitCode != 0 {
		cfg.Server.RestartExitCode = kdlCfg.Server.RestartExitCode
	}

	if kdlCfg.Daemon.PIDFile != "" {
		cfg.Daemon.PIDFile = kdlCfg.Daemon.PIDFile
	}
	if kdlCfg.Daemon.Transport != "" {
		cfg.Daemon.Transport = kdlCfg.Daemon.Transport
	}
	if kdlCfg.Daemon.GracefulTimeout > 0 {
		cfg.Daemon.GracefulTimeout = time.Duration(kdlCfg.Daemon.GracefulTimeout) * time.Second
	}
	if kdlCfg.Daemon.MaxFrameSize > 0 {
		cfg.Daemon.MaxFrameSize = kdlCfg.Daemon.MaxFrameSize
	}

	return cfg
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "craftd", GlobalConfigFile)
}

// WriteDefaultConfig writes a default config file with documentation.
func WriteDefaultConfig(path string) error {
	defaultKDL := `// craftd Configuration
// See documentation for full options

server {
    // Path to the server jar, relative to the server directory
    jar "paperclip.jar"
    // JVM binary; omit to search PATH then JAVA_HOME
    // java "/usr/lib/jvm/java-21/bin/java"
    // JVM arguments; omit for tuned defaults sized to free memory
    // jvm-args "-Xms2G" "-Xmx2G"
    // Exit code the server uses to request a restart
    restart-exit-code 57
}

daemon {
    // PID file; the control socket path derives from this
    pid-file "craftd.pid"
    // Control channel: "socket" or "msgqueue"
    transport "socket"
    // Graceful shutdown timeout in seconds
    graceful-timeout 30
    // Control frame payload ceiling in bytes (1MB default)
    max-frame-size 1048576
}
`
	// Create directory if needed
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, []byte(strings.TrimSpace(defaultKDL)+"\n"), 0644)
}
