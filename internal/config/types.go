package config

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// Config is the root of the pulsemon config file (YAML or JSON).
//
// All durations are Go duration strings (e.g. "500ms", "30s", "5m").
type Config struct {
	Logging LoggingConfig  `json:"logging"`
	History *HistoryConfig `json:"history,omitempty"`
	Notify  *NotifyConfig  `json:"notify,omitempty"`
	Runners []RunnerConfig `json:"runners"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"` // trace|debug|info|warn|error
	Console *bool  `json:"console,omitempty"`
	File    struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path,omitempty"`
	} `json:"file,omitempty"`
}

// ConsoleEnabled defaults to true when omitted.
func (l LoggingConfig) ConsoleEnabled() bool {
	return l.Console == nil || *l.Console
}

// HistoryConfig controls the optional SQLite iteration log.
type HistoryConfig struct {
	Driver      string `json:"driver"` // "sqlite" or "none"
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// KeepRuns caps retained rows per runner (0 = keep everything).
	KeepRuns int `json:"keep_runs,omitempty"`
}

type NotifyConfig struct {
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

// TelegramConfig controls the Telegram alert sink.
type TelegramConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"` // do not log
	ChatID     int64  `json:"chat_id,omitempty"`
	RatePerMin int    `json:"rate_per_min,omitempty"` // default 6
}

// RunnerConfig describes one recurring check.
type RunnerConfig struct {
	Name string `json:"name"`

	// Every is the fixed delay between iterations. "0s" means back-to-back.
	Every string `json:"every,omitempty"`

	// MaxIterations caps the run; 0 means run until paused/stopped.
	MaxIterations int `json:"max_iterations,omitempty"`

	// Paused keeps/puts the runner in the paused state; flipping it at
	// runtime pauses or resumes without losing the iteration ordinal.
	Paused bool `json:"paused,omitempty"`

	Probe ProbeConfig `json:"probe"`
}

// ProbeConfig selects and parameterizes the iteration processor.
type ProbeConfig struct {
	Type string `json:"type"` // http | command | speedtest

	// http
	URL          string `json:"url,omitempty"`
	Timeout      string `json:"timeout,omitempty"`
	ExpectStatus int    `json:"expect_status,omitempty"`

	// command
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`

	// speedtest
	SavingMode bool `json:"saving_mode,omitempty"`
}

// Delay parses the runner cadence. An omitted "every" means no delay.
func (r RunnerConfig) Delay() (time.Duration, error) {
	d, _, err := ParseDuration("runners."+r.Name+".every", r.Every)
	return d, err
}

// Fingerprint identifies the runner's effective configuration so hot reload
// can tell "unchanged" from "needs restart". Paused is deliberately left
// out: flipping it alone must pause/resume in place, not rebuild.
func (r RunnerConfig) Fingerprint() uint64 {
	cp := r
	cp.Paused = false
	b, err := json.Marshal(cp)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Validate checks the whole config; it is also installed as the watcher's
// pre-commit validator so bad edits never reach the running app.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	seen := map[string]bool{}
	for i := range c.Runners {
		r := &c.Runners[i]
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return fmt.Errorf("runners[%d]: name is empty", i)
		}
		if seen[name] {
			return fmt.Errorf("runners[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
		if r.MaxIterations < 0 {
			return fmt.Errorf("runners.%s.max_iterations: must be >= 0", name)
		}
		if _, err := r.Delay(); err != nil {
			return err
		}
		if err := r.Probe.validate(name); err != nil {
			return err
		}
	}
	if c.History != nil {
		if _, _, err := ParseDuration("history.busy_timeout", c.History.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}

func (p ProbeConfig) validate(runner string) error {
	switch strings.ToLower(strings.TrimSpace(p.Type)) {
	case "http":
		if strings.TrimSpace(p.URL) == "" {
			return fmt.Errorf("runners.%s.probe.url: required for http probe", runner)
		}
		if _, _, err := ParseDuration("runners."+runner+".probe.timeout", p.Timeout); err != nil {
			return err
		}
	case "command":
		if strings.TrimSpace(p.Command) == "" {
			return fmt.Errorf("runners.%s.probe.command: required for command probe", runner)
		}
	case "speedtest":
		// no required fields
	case "":
		return fmt.Errorf("runners.%s.probe.type: required", runner)
	default:
		return fmt.Errorf("runners.%s.probe.type: unknown type %q", runner, p.Type)
	}
	return nil
}
