// Package config loads the daemon settings file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "time/tzdata"

	"gopkg.in/yaml.v2"
)

// DefaultPath is where the daemon looks for its settings.
const DefaultPath = "/etc/iirr/iirr.yaml"

// Config is the daemon settings file. Durations use Go syntax ("10s").
type Config struct {
	DataDir  string `yaml:"data_dir"`
	Timezone string `yaml:"timezone"`
	Debug    bool   `yaml:"debug"`

	GPIO     GPIO    `yaml:"gpio"`
	Probes   Probes  `yaml:"probes"`
	Loop     Loop    `yaml:"loop"`
	Engine   Engine  `yaml:"engine"`
	Cloud    Cloud   `yaml:"cloud"`
	MQTT     MQTT    `yaml:"mqtt"`
	HTTP     HTTP    `yaml:"http"`
	History  History `yaml:"history"`
	LogFile  LogFile `yaml:"log_file"`
	SetClock bool    `yaml:"set_system_clock"`
}

// GPIO selects the pump relay and flow sensor lines.
type GPIO struct {
	Chip         string `yaml:"chip"`
	PumpPin      int    `yaml:"pump_pin"`
	PumpActiveLo bool   `yaml:"pump_active_low"`
	FlowPin      int    `yaml:"flow_pin"`
	// FlowPowerPin powers the flow sensor while measuring; -1 for none.
	FlowPowerPin int `yaml:"flow_power_pin"`
}

// Probe is one moisture probe: two channels of an IIO ADC.
type Probe struct {
	Reference int `yaml:"reference_channel"`
	After     int `yaml:"after_channel"`
}

// Probes configures the moisture probes.
type Probes struct {
	IIODevice     string        `yaml:"iio_device"`
	Surface       Probe         `yaml:"surface"`
	Middle        Probe         `yaml:"middle"`
	Deep          Probe         `yaml:"deep"`
	ReferenceOhms float64       `yaml:"reference_ohms"`
	Samples       int           `yaml:"samples"`
	SettleDelay   time.Duration `yaml:"settle_delay"`
}

// Loop sets the scheduler periods.
type Loop struct {
	Tick        time.Duration `yaml:"tick"`
	LogInterval time.Duration `yaml:"log_interval"`
	Heartbeat   time.Duration `yaml:"heartbeat"`
	KeepDays    int           `yaml:"keep_days"`
}

// Engine tunes the irrigation engine.
type Engine struct {
	DeepRiseFraction  float64 `yaml:"deep_rise_fraction"`
	MinBudgetFraction float64 `yaml:"min_budget_fraction"`
}

// Cloud tunes the sync engine.
type Cloud struct {
	Steady         time.Duration `yaml:"steady_interval"`
	Retry          time.Duration `yaml:"retry_interval"`
	Jitter         float64       `yaml:"jitter"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ClockTolerance time.Duration `yaml:"clock_tolerance"`
}

// MQTT configures the event publisher. An empty broker disables it.
type MQTT struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	BufferSize  int    `yaml:"buffer_size"`
}

// HTTP configures the boundary API listener.
type HTTP struct {
	Addr string `yaml:"addr"`
}

// History configures the run history database.
type History struct {
	Path string `yaml:"path"`
}

// LogFile configures the rotated log file. An empty path disables it.
type LogFile struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the stock settings.
func Default() Config {
	return Config{
		DataDir:  "/var/lib/iirr",
		Timezone: "UTC",
		GPIO: GPIO{
			Chip:         "gpiochip0",
			PumpPin:      17,
			FlowPin:      27,
			FlowPowerPin: -1,
		},
		Probes: Probes{
			IIODevice:     "/sys/bus/iio/devices/iio:device0",
			Surface:       Probe{Reference: 0, After: 1},
			Middle:        Probe{Reference: 2, After: 3},
			Deep:          Probe{Reference: 4, After: 5},
			ReferenceOhms: 4700,
			Samples:       11,
			SettleDelay:   10 * time.Millisecond,
		},
		Loop: Loop{
			Tick:        10 * time.Second,
			LogInterval: 5 * time.Minute,
			Heartbeat:   15 * time.Minute,
			KeepDays:    60,
		},
		Engine: Engine{DeepRiseFraction: 0.5, MinBudgetFraction: 0.2},
		Cloud: Cloud{
			Steady:         4 * time.Minute,
			Retry:          30 * time.Second,
			Jitter:         0.5,
			RequestTimeout: 30 * time.Second,
			ClockTolerance: 120 * time.Second,
		},
		MQTT: MQTT{ClientID: "iirr", TopicPrefix: "iirr", BufferSize: 256},
		HTTP: HTTP{Addr: ":8080"},
		LogFile: LogFile{
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
// Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the settings that would make the daemon misbehave.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	if c.Loop.Tick <= 0 || c.Loop.LogInterval <= 0 {
		return errors.New("loop.tick and loop.log_interval must be positive")
	}
	if c.Loop.Heartbeat < 0 {
		return errors.New("loop.heartbeat must not be negative")
	}
	if c.Cloud.Steady <= 0 || c.Cloud.Retry <= 0 {
		return errors.New("cloud intervals must be positive")
	}
	if c.Cloud.Jitter < 0 || c.Cloud.Jitter >= 1 {
		return errors.New("cloud.jitter must be in [0, 1)")
	}
	if f := c.Engine.DeepRiseFraction; f <= 0 || f > 1 {
		return errors.New("engine.deep_rise_fraction must be in (0, 1]")
	}
	if f := c.Engine.MinBudgetFraction; f < 0 || f > 1 {
		return errors.New("engine.min_budget_fraction must be in [0, 1]")
	}
	if c.Probes.Samples < 1 {
		return errors.New("probes.samples must be at least 1")
	}
	return nil
}

// Location returns the configured timezone.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// HistoryPath returns the history database path, defaulting into DataDir.
func (c Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return filepath.Join(c.DataDir, "var", "history.db")
}
