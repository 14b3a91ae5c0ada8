package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is tugcastd's full configuration surface: where it binds, which
// multiplexer session and project tree it serves, and a set of feed
// tunables. Durations are held as strings on disk (e.g. "2s", "45s") and
// parsed by Manager.Resolve. The serve command applies the bind address,
// tmux session, watch root, agent binary, and audit settings; ignore_file,
// session_ttl, broadcast_capacity, fs_debounce, fs_poll,
// vcs_poll_interval, the crash budget, and the heartbeat fields are parsed
// and validated but not passed to any feed, which keep their own fixed
// constants.
type Config struct {
	BindHost string `yaml:"bind_host,omitempty"`
	BindPort int    `yaml:"bind_port,omitempty"`

	TmuxSession string `yaml:"tmux_session,omitempty"`
	ProjectDir  string `yaml:"project_dir,omitempty"`
	WatchRoot   string `yaml:"watch_root,omitempty"`
	IgnoreFile  string `yaml:"ignore_file,omitempty"`

	AgentBinary string `yaml:"agent_binary,omitempty"`

	SessionTTL string `yaml:"session_ttl,omitempty"`

	BroadcastCapacity int `yaml:"broadcast_capacity,omitempty"`

	FSDebounce string `yaml:"fs_debounce,omitempty"`
	FSPoll     string `yaml:"fs_poll,omitempty"`

	VCSPollInterval string `yaml:"vcs_poll_interval,omitempty"`

	CrashBudgetMax    int    `yaml:"crash_budget_max,omitempty"`
	CrashBudgetWindow string `yaml:"crash_budget_window,omitempty"`

	HeartbeatInterval string `yaml:"heartbeat_interval,omitempty"`
	HeartbeatTimeout  string `yaml:"heartbeat_timeout,omitempty"`

	AuditEnabled *bool  `yaml:"audit_enabled,omitempty"`
	StateDir     string `yaml:"state_dir,omitempty"`
}

// Resolved is the parsed, default-filled, ready-to-use form of Config.
type Resolved struct {
	BindHost string
	BindPort int

	TmuxSession string
	ProjectDir  string
	WatchRoot   string
	IgnoreFile  string

	AgentBinary string

	SessionTTL time.Duration

	BroadcastCapacity int

	FSDebounce time.Duration
	FSPoll     time.Duration

	VCSPollInterval time.Duration

	CrashBudgetMax    int
	CrashBudgetWindow time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	AuditEnabled bool
	StateDir     string
}

// defaults mirrors the fixed constants each feed package uses, so
// Resolved never silently carries a zero duration.
var defaults = Resolved{
	BindHost:          "127.0.0.1",
	BindPort:          7682,
	TmuxSession:       "tugcast",
	SessionTTL:        24 * time.Hour,
	BroadcastCapacity: 256,
	FSDebounce:        100 * time.Millisecond,
	FSPoll:            50 * time.Millisecond,
	VCSPollInterval:   2 * time.Second,
	CrashBudgetMax:    3,
	CrashBudgetWindow: 60 * time.Second,
	HeartbeatInterval: 15 * time.Second,
	HeartbeatTimeout:  45 * time.Second,
}

// Manager loads and merges a user-level and a project-level Config, the
// project one taking precedence field-by-field, the way the teacher's
// settings.json layering worked before tugcastd's own config surface
// replaced it.
type Manager struct {
	userConfig    *Config
	projectConfig *Config
	merged        *Config
}

// NewManager returns an empty Manager; call Load before Get.
func NewManager() *Manager {
	return &Manager{
		userConfig:    &Config{},
		projectConfig: &Config{},
		merged:        &Config{},
	}
}

// Load reads config.yaml from userConfigDir and from projectDir/.tugcast,
// tolerating either being absent, then merges them.
func (m *Manager) Load(userConfigDir, projectDir string) error {
	if err := m.loadConfig(filepath.Join(userConfigDir, "config.yaml"), m.userConfig); err != nil {
		return fmt.Errorf("load user config: %w", err)
	}
	if err := m.loadConfig(filepath.Join(projectDir, ".tugcast", "config.yaml"), m.projectConfig); err != nil {
		return fmt.Errorf("load project config: %w", err)
	}
	m.merge()
	return nil
}

func (m *Manager) loadConfig(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (m *Manager) merge() {
	m.merged = &Config{
		BindHost:          firstNonEmpty(m.projectConfig.BindHost, m.userConfig.BindHost),
		BindPort:          firstNonZero(m.projectConfig.BindPort, m.userConfig.BindPort),
		TmuxSession:       firstNonEmpty(m.projectConfig.TmuxSession, m.userConfig.TmuxSession),
		ProjectDir:        firstNonEmpty(m.projectConfig.ProjectDir, m.userConfig.ProjectDir),
		WatchRoot:         firstNonEmpty(m.projectConfig.WatchRoot, m.userConfig.WatchRoot),
		IgnoreFile:        firstNonEmpty(m.projectConfig.IgnoreFile, m.userConfig.IgnoreFile),
		AgentBinary:       firstNonEmpty(m.projectConfig.AgentBinary, m.userConfig.AgentBinary),
		SessionTTL:        firstNonEmpty(m.projectConfig.SessionTTL, m.userConfig.SessionTTL),
		BroadcastCapacity: firstNonZero(m.projectConfig.BroadcastCapacity, m.userConfig.BroadcastCapacity),
		FSDebounce:        firstNonEmpty(m.projectConfig.FSDebounce, m.userConfig.FSDebounce),
		FSPoll:            firstNonEmpty(m.projectConfig.FSPoll, m.userConfig.FSPoll),
		VCSPollInterval:   firstNonEmpty(m.projectConfig.VCSPollInterval, m.userConfig.VCSPollInterval),
		CrashBudgetMax:    firstNonZero(m.projectConfig.CrashBudgetMax, m.userConfig.CrashBudgetMax),
		CrashBudgetWindow: firstNonEmpty(m.projectConfig.CrashBudgetWindow, m.userConfig.CrashBudgetWindow),
		HeartbeatInterval: firstNonEmpty(m.projectConfig.HeartbeatInterval, m.userConfig.HeartbeatInterval),
		HeartbeatTimeout:  firstNonEmpty(m.projectConfig.HeartbeatTimeout, m.userConfig.HeartbeatTimeout),
		AuditEnabled:      firstNonNilBool(m.projectConfig.AuditEnabled, m.userConfig.AuditEnabled),
		StateDir:          firstNonEmpty(m.projectConfig.StateDir, m.userConfig.StateDir),
	}
}

func firstNonNilBool(values ...*bool) *bool {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

// Get returns the merged, still-string-typed Config.
func (m *Manager) Get() *Config {
	return m.merged
}

// Resolve parses every duration field against defaults, returning an
// error naming the offending field if a value fails to parse.
func (m *Manager) Resolve() (*Resolved, error) {
	r := defaults
	c := m.merged

	if c.BindHost != "" {
		r.BindHost = c.BindHost
	}
	if c.BindPort != 0 {
		r.BindPort = c.BindPort
	}
	if c.TmuxSession != "" {
		r.TmuxSession = c.TmuxSession
	}
	r.ProjectDir = c.ProjectDir
	r.WatchRoot = firstNonEmpty(c.WatchRoot, c.ProjectDir)
	r.IgnoreFile = c.IgnoreFile
	r.AgentBinary = c.AgentBinary
	r.AuditEnabled = c.AuditEnabled != nil && *c.AuditEnabled
	r.StateDir = firstNonEmpty(c.StateDir, filepath.Join(c.ProjectDir, ".tugcast"))
	if c.BroadcastCapacity != 0 {
		r.BroadcastCapacity = c.BroadcastCapacity
	}
	if c.CrashBudgetMax != 0 {
		r.CrashBudgetMax = c.CrashBudgetMax
	}

	var err error
	if r.SessionTTL, err = parseDurationField("session_ttl", c.SessionTTL, r.SessionTTL); err != nil {
		return nil, err
	}
	if r.FSDebounce, err = parseDurationField("fs_debounce", c.FSDebounce, r.FSDebounce); err != nil {
		return nil, err
	}
	if r.FSPoll, err = parseDurationField("fs_poll", c.FSPoll, r.FSPoll); err != nil {
		return nil, err
	}
	if r.VCSPollInterval, err = parseDurationField("vcs_poll_interval", c.VCSPollInterval, r.VCSPollInterval); err != nil {
		return nil, err
	}
	if r.CrashBudgetWindow, err = parseDurationField("crash_budget_window", c.CrashBudgetWindow, r.CrashBudgetWindow); err != nil {
		return nil, err
	}
	if r.HeartbeatInterval, err = parseDurationField("heartbeat_interval", c.HeartbeatInterval, r.HeartbeatInterval); err != nil {
		return nil, err
	}
	if r.HeartbeatTimeout, err = parseDurationField("heartbeat_timeout", c.HeartbeatTimeout, r.HeartbeatTimeout); err != nil {
		return nil, err
	}

	return &r, nil
}

func parseDurationField(field, raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q: %w", field, raw, err)
	}
	return d, nil
}

// SaveUserConfig writes the in-memory user config to userConfigDir.
func (m *Manager) SaveUserConfig(userConfigDir string) error {
	if err := os.MkdirAll(userConfigDir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(m.userConfig)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(userConfigDir, "config.yaml"), data, 0o644)
}

// SaveProjectConfig writes the in-memory project config to
// projectDir/.tugcast/config.yaml.
func (m *Manager) SaveProjectConfig(projectDir string) error {
	dir := filepath.Join(projectDir, ".tugcast")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(m.projectConfig)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0o644)
}
