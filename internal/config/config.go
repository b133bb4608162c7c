// Package config loads proxy settings from flags layered over an optional
// YAML file. Flags win; the file supplies defaults for everything but the
// debugger argv, which is normally given on the command line.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kballard/go-shellquote"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Argv is the debugger command and its arguments, passed through
	// verbatim to the child process.
	Argv []string

	// SocketPath is the control channel endpoint. Empty disables the
	// channel entirely.
	SocketPath string

	// TranscriptDB is the SQLite transcript database path. Empty disables
	// recording.
	TranscriptDB string

	// MonitorAddr is the websocket mirror listen address. Empty disables
	// the monitor.
	MonitorAddr string

	LogFile  string
	LogLevel string
}

// fileConfig is the YAML config file shape.
type fileConfig struct {
	Debugger     string `yaml:"debugger"`
	Socket       string `yaml:"socket"`
	TranscriptDB string `yaml:"transcript_db"`
	Monitor      string `yaml:"monitor"`
	LogFile      string `yaml:"log_file"`
	LogLevel     string `yaml:"log_level"`
}

// Load parses os.Args using the default config file location.
func Load() (*Config, error) {
	path, err := defaultConfigPath()
	if err != nil {
		return nil, err
	}
	return load(os.Args[1:], path)
}

func defaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "dbgproxy", "config.yaml"), nil
}

func load(args []string, defaultFile string) (*Config, error) {
	cfg := &Config{LogLevel: "info"}

	fs := flag.NewFlagSet("dbgproxy", flag.ContinueOnError)
	configPath := fs.String("config", defaultFile, "config file path")
	fs.StringVar(&cfg.SocketPath, "address", "", "local datagram socket receiving injected commands")
	fs.StringVar(&cfg.TranscriptDB, "transcript", "", "SQLite transcript database path")
	fs.StringVar(&cfg.MonitorAddr, "monitor", "", "websocket mirror listen address (e.g. 127.0.0.1:8766)")
	fs.StringVar(&cfg.LogFile, "log-file", "", "write logs to this file instead of stderr")
	fs.StringVar(&cfg.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: dbgproxy [flags] [--] debugger [args...]\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	file, err := loadFile(*configPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: load %q: %w", *configPath, err)
	}
	if file != nil {
		if cfg.SocketPath == "" {
			cfg.SocketPath = file.Socket
		}
		if cfg.TranscriptDB == "" {
			cfg.TranscriptDB = file.TranscriptDB
		}
		if cfg.MonitorAddr == "" {
			cfg.MonitorAddr = file.Monitor
		}
		if cfg.LogFile == "" {
			cfg.LogFile = file.LogFile
		}
		if cfg.LogLevel == "" {
			cfg.LogLevel = file.LogLevel
		}
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("config: invalid log level %q", cfg.LogLevel)
	}

	cfg.Argv = fs.Args()
	if len(cfg.Argv) == 0 && file != nil && file.Debugger != "" {
		argv, err := shellquote.Split(file.Debugger)
		if err != nil {
			return nil, fmt.Errorf("config: parse debugger command %q: %w", file.Debugger, err)
		}
		cfg.Argv = argv
	}
	if len(cfg.Argv) == 0 {
		return nil, errors.New("config: no debugger command given")
	}

	return cfg, nil
}

func loadFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return &file, nil
}
