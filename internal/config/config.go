// Package config loads and validates the mining client's JSON
// configuration, merges in CLI flag overrides, supports writing a config
// back out (Save), and generates mining keypairs for --generate-key.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Config is the full on-disk configuration for a mining client process.
type Config struct {
	Node    NodeConfig    `json:"node"`
	Worker  WorkerConfig  `json:"worker"`
	Stratum StratumConfig `json:"stratum"`
	Preempt PreemptConfig `json:"preempt"`
	Logging LoggingConfig `json:"logging"`

	path string
	mu   sync.RWMutex
}

// NodeConfig describes the Chainweb node this client fetches work from.
type NodeConfig struct {
	URL                string `json:"url"`
	Version            string `json:"version"`
	Account            string `json:"account"`
	Predicate          string `json:"predicate"`
	PublicKeys         []string `json:"publicKeys"`
	ChainID            int    `json:"chainId"`
	InsecureSkipVerify bool   `json:"insecureSkipVerify"`
	TimeoutSec         int    `json:"timeoutSec"`
	MaxRetries         int    `json:"maxRetries"`
}

// WorkerConfig selects and parameterizes the mining worker.
type WorkerConfig struct {
	// Kind is one of "cpu", "external", "simulation", "constant-delay",
	// "on-demand", or "stratum".
	Kind string `json:"kind"`

	Threads   int    `json:"threads"`
	Command   string `json:"command"`
	Args      []string `json:"args"`
	KillGraceSec int  `json:"killGraceSec"`

	HashRate float64 `json:"hashRate"`

	DelayMS int `json:"delayMs"`

	OnDemandAddr string `json:"onDemandAddr"`
}

// StratumConfig describes the optional Stratum V1 server. Its difficulty
// fields carry the same values as stratum.DifficultyConfig; the entrypoint
// copies them across and maps DifficultyMode to stratum's mode constants.
type StratumConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`

	// DifficultyMode is one of "block", "fixed", "period".
	DifficultyMode  string  `json:"difficultyMode"`
	FixedLevel      float64 `json:"fixedLevel"`
	TargetTimeSec   float64 `json:"targetTimeSec"`
	RetargetTimeSec float64 `json:"retargetTimeSec"`
	VariancePct     float64 `json:"variancePct"`
	MinLevel        float64 `json:"minLevel"`
	MaxLevel        float64 `json:"maxLevel"`
}

// PreemptConfig selects a work-preemption strategy.
type PreemptConfig struct {
	// Strategy is one of "immediate", "conditional", "rate-limited".
	Strategy   string `json:"strategy"`
	IntervalMS int    `json:"intervalMs"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level         string `json:"level"`
	JSON          bool   `json:"json"`
	FilePath      string `json:"filePath"`
	MaxFileSizeKB int64  `json:"maxFileSizeKb"`
	MaxRolls      int    `json:"maxRolls"`
}

// Defaults returns a Config with sane out-of-the-box values.
func Defaults() *Config {
	return &Config{
		Node: NodeConfig{
			URL:        "https://localhost:1848",
			Version:    "mainnet01",
			Predicate:  "keys-all",
			ChainID:    0,
			TimeoutSec: 30,
			MaxRetries: 5,
		},
		Worker: WorkerConfig{
			Kind:         "cpu",
			Threads:      0, // 0 means runtime.NumCPU()
			KillGraceSec: 2,
			HashRate:     1e6,
			DelayMS:      1000,
			OnDemandAddr: "127.0.0.1:1917",
		},
		Stratum: StratumConfig{
			Enabled:         false,
			Addr:            "0.0.0.0:1917",
			DifficultyMode:  "block",
			FixedLevel:      1,
			TargetTimeSec:   10,
			RetargetTimeSec: 90,
			VariancePct:     25,
			MinLevel:        1,
		},
		Preempt: PreemptConfig{
			Strategy:   "immediate",
			IntervalMS: 250,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads and merges one or more JSON config files in order: each
// file is unmarshaled on top of the running config, so a key present in
// a later file overrides the same key from an earlier one, and a key
// absent from every file keeps its Defaults() value.
func Load(paths []string) (*Config, error) {
	cfg := Defaults()
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", p, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", p, err)
		}
	}
	if len(paths) > 0 {
		cfg.path = paths[len(paths)-1]
	}
	return cfg, nil
}

// Save writes cfg to path (or the path it was last Loaded/Saved from,
// if path is empty) as indented JSON, atomically via a tmp file rename.
func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if path == "" {
		path = c.path
	}
	if path == "" {
		return fmt.Errorf("config: no path to save to")
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("config: write tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("config: rename: %w", err)
	}
	return nil
}

// Validate checks cfg for internally-consistent, startable values.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Node.URL == "" {
		return fmt.Errorf("config: node.url is required")
	}
	if c.Node.ChainID < 0 || c.Node.ChainID > 19 {
		return fmt.Errorf("config: node.chainId must be 0-19, got %d", c.Node.ChainID)
	}

	switch c.Worker.Kind {
	case "cpu", "simulation", "constant-delay":
		// no required fields beyond Kind
	case "external":
		if c.Worker.Command == "" {
			return fmt.Errorf("config: worker.command is required for kind=external")
		}
	case "on-demand":
		if c.Worker.OnDemandAddr == "" {
			return fmt.Errorf("config: worker.onDemandAddr is required for kind=on-demand")
		}
	case "stratum":
		if !c.Stratum.Enabled {
			return fmt.Errorf("config: worker.kind=stratum requires stratum.enabled=true")
		}
	default:
		return fmt.Errorf("config: unknown worker.kind %q", c.Worker.Kind)
	}

	if c.Stratum.Enabled {
		if c.Stratum.Addr == "" {
			return fmt.Errorf("config: stratum.addr is required when stratum.enabled")
		}
		switch c.Stratum.DifficultyMode {
		case "block", "fixed", "period":
		default:
			return fmt.Errorf("config: unknown stratum.difficultyMode %q", c.Stratum.DifficultyMode)
		}
		if c.Stratum.DifficultyMode == "period" && c.Stratum.TargetTimeSec <= 0 {
			return fmt.Errorf("config: stratum.targetTimeSec must be positive in period mode")
		}
	}

	switch c.Preempt.Strategy {
	case "immediate", "conditional":
	case "rate-limited":
		if c.Preempt.IntervalMS <= 0 {
			return fmt.Errorf("config: preempt.intervalMs must be positive for rate-limited")
		}
	default:
		return fmt.Errorf("config: unknown preempt.strategy %q", c.Preempt.Strategy)
	}

	return nil
}

// Clone returns a deep-enough copy for safe concurrent reads by a
// reload watcher without holding c's lock.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cp := &Config{
		Node:    c.Node,
		Worker:  c.Worker,
		Stratum: c.Stratum,
		Preempt: c.Preempt,
		Logging: c.Logging,
		path:    c.path,
	}
	cp.Worker.Args = append([]string(nil), c.Worker.Args...)
	cp.Node.PublicKeys = append([]string(nil), c.Node.PublicKeys...)
	return cp
}
