package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// writeSettings persists cfg as settings.json. The token is kept out of
// the file when it came from the environment.
func writeSettings(cfg Config) (string, error) {
	dir := flowcraftDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create %s: %w", dir, err)
	}
	if os.Getenv("FLOWCRAFT_TOKEN") != "" {
		cfg.Token = ""
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", err
	}
	path := settingsPath()
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("cannot write %s: %w", path, err)
	}
	return path, nil
}

var errNoPanel = errors.New("no running panel")

func panelPID() (int, error) {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return 0, errNoPanel
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("bad pidfile: %w", err)
	}
	return pid, nil
}

// signalRunningPanel sends SIGHUP to a running panel (via pidfile).
func signalRunningPanel() (int, bool) {
	pid, err := panelPID()
	if err != nil {
		return 0, false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	// Check if process is alive.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return 0, false
	}
	return pid, true
}
