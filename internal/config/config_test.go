package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadFlagsOnly(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")
	cfg, err := load([]string{"-address", "/tmp/p.sock", "--", "gdb", "-q", "./a.out"}, missing)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SocketPath != "/tmp/p.sock" {
		t.Errorf("SocketPath = %q", cfg.SocketPath)
	}
	if want := []string{"gdb", "-q", "./a.out"}; !reflect.DeepEqual(cfg.Argv, want) {
		t.Errorf("Argv = %v, want %v", cfg.Argv, want)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want default info", cfg.LogLevel)
	}
}

func TestLoadFileDefaults(t *testing.T) {
	path := writeConfigFile(t, `
debugger: gdb -q "./my program"
socket: /tmp/from-file.sock
transcript_db: /tmp/tr.db
monitor: 127.0.0.1:9999
log_level: debug
`)

	cfg, err := load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if want := []string{"gdb", "-q", "./my program"}; !reflect.DeepEqual(cfg.Argv, want) {
		t.Errorf("Argv = %v, want %v", cfg.Argv, want)
	}
	if cfg.SocketPath != "/tmp/from-file.sock" {
		t.Errorf("SocketPath = %q", cfg.SocketPath)
	}
	if cfg.TranscriptDB != "/tmp/tr.db" {
		t.Errorf("TranscriptDB = %q", cfg.TranscriptDB)
	}
	if cfg.MonitorAddr != "127.0.0.1:9999" {
		t.Errorf("MonitorAddr = %q", cfg.MonitorAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestFlagsOverrideFile(t *testing.T) {
	path := writeConfigFile(t, `
debugger: gdb
socket: /tmp/from-file.sock
`)

	cfg, err := load([]string{"-address", "/tmp/from-flag.sock", "lldb"}, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SocketPath != "/tmp/from-flag.sock" {
		t.Errorf("SocketPath = %q, want flag value", cfg.SocketPath)
	}
	if want := []string{"lldb"}; !reflect.DeepEqual(cfg.Argv, want) {
		t.Errorf("Argv = %v, want positional args to win", cfg.Argv)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		file string
	}{
		{name: "no debugger anywhere", args: nil, file: ""},
		{name: "bad log level", args: []string{"-log-level", "loud", "gdb"}, file: ""},
		{name: "unparseable debugger line", args: nil, file: "debugger: 'gdb \"unterminated'\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "absent.yaml")
			if tt.file != "" {
				path = writeConfigFile(t, tt.file)
			}
			if _, err := load(tt.args, path); err == nil {
				t.Error("expected error")
			}
		})
	}
}
