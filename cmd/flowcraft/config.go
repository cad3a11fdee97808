package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	cli "github.com/urfave/cli/v3"

	"github.com/sigmoyd/flowcraft/internal/scheduler"
)

// Config holds all flowcraft configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	BackendURL   string  `json:"backend_url"`
	WSURL        string  `json:"ws_url,omitempty"`
	Token        string  `json:"token,omitempty"`
	DBPath       string  `json:"db_path"`
	LogLevel     string  `json:"log_level"`
	ListenAddr   string  `json:"listen_addr"`
	SyncSchedule string  `json:"sync_schedule"`
	RateLimit    float64 `json:"rate_limit"`
}

func defaultConfig() Config {
	return Config{
		BackendURL:   "http://localhost:8000",
		DBPath:       filepath.Join(flowcraftDir(), "flowcraft.db"),
		LogLevel:     "info",
		ListenAddr:   ":4100",
		SyncSchedule: scheduler.DefaultSchedule,
		RateLimit:    5,
	}
}

func flowcraftDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowcraft"
	}
	return filepath.Join(home, ".flowcraft")
}

func settingsPath() string {
	return filepath.Join(flowcraftDir(), "settings.json")
}

func pidPath() string {
	return filepath.Join(flowcraftDir(), "panel.pid")
}

func loadConfig() Config {
	return loadConfigFrom(settingsPath(), os.Getenv)
}

// loadConfigFrom layers settings.json and env vars over the defaults.
func loadConfigFrom(path string, getenv func(string) string) Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := getenv("FLOWCRAFT_BACKEND_URL"); v != "" {
		cfg.BackendURL = v
	}
	if v := getenv("FLOWCRAFT_WS_URL"); v != "" {
		cfg.WSURL = v
	}
	if v := getenv("FLOWCRAFT_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := getenv("FLOWCRAFT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("FLOWCRAFT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("FLOWCRAFT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := getenv("FLOWCRAFT_SYNC_SCHEDULE"); v != "" {
		cfg.SyncSchedule = v
	}
	if v := getenv("FLOWCRAFT_RATE_LIMIT"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit = n
		}
	}
	return cfg
}

// applyFlags is layer 4: flags the user set explicitly.
func applyFlags(cfg Config, cmd *cli.Command) Config {
	if cmd.IsSet("backend-url") {
		cfg.BackendURL = cmd.String("backend-url")
	}
	if cmd.IsSet("ws-url") {
		cfg.WSURL = cmd.String("ws-url")
	}
	if cmd.IsSet("token") {
		cfg.Token = cmd.String("token")
	}
	if cmd.IsSet("db-path") {
		cfg.DBPath = cmd.String("db-path")
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if cmd.IsSet("listen-addr") {
		cfg.ListenAddr = cmd.String("listen-addr")
	}
	if cmd.IsSet("sync-schedule") {
		cfg.SyncSchedule = cmd.String("sync-schedule")
	}
	if cmd.IsSet("rate-limit") {
		cfg.RateLimit = cmd.Float("rate-limit")
	}
	return cfg
}

// streamURL is the push channel base. It follows the backend URL unless
// set on its own.
func (c Config) streamURL() string {
	if c.WSURL != "" {
		return c.WSURL
	}
	return c.BackendURL
}

// dsn turns db_path into a libSQL file URI.
func (c Config) dsn() string {
	if strings.HasPrefix(c.DBPath, "file:") || strings.Contains(c.DBPath, "://") {
		return c.DBPath
	}
	return "file:" + c.DBPath
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	ScheduleChanged bool
	RestartNeeded   []string // fields that require a panel restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.SyncSchedule != new.SyncSchedule {
		d.ScheduleChanged = true
	}
	if old.ListenAddr != new.ListenAddr {
		d.RestartNeeded = append(d.RestartNeeded, "listen_addr")
	}
	if old.BackendURL != new.BackendURL {
		d.RestartNeeded = append(d.RestartNeeded, "backend_url")
	}
	if old.WSURL != new.WSURL {
		d.RestartNeeded = append(d.RestartNeeded, "ws_url")
	}
	if old.Token != new.Token {
		d.RestartNeeded = append(d.RestartNeeded, "token")
	}
	if old.DBPath != new.DBPath {
		d.RestartNeeded = append(d.RestartNeeded, "db_path")
	}
	if old.RateLimit != new.RateLimit {
		d.RestartNeeded = append(d.RestartNeeded, "rate_limit")
	}
	return d
}
