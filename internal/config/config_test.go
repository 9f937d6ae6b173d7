package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "iirr.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg.DataDir != def.DataDir || cfg.Loop.Tick != def.Loop.Tick || cfg.Cloud.Steady != 4*time.Minute {
		t.Errorf("defaults: got %+v", cfg)
	}
	if err := def.Validate(); err != nil {
		t.Errorf("Default().Validate: %v", err)
	}
}

func TestLoadOverridesKeepOtherDefaults(t *testing.T) {
	path := writeFile(t, `
data_dir: /srv/iirr
timezone: America/Recife
loop:
  tick: 30s
cloud:
  retry_interval: 1m
mqtt:
  broker: tcp://10.0.0.2:1883
probes:
  surface:
    reference_channel: 6
    after_channel: 7
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != "/srv/iirr" || cfg.Timezone != "America/Recife" {
		t.Errorf("top level: got %q %q", cfg.DataDir, cfg.Timezone)
	}
	if cfg.Loop.Tick != 30*time.Second {
		t.Errorf("loop.tick: got %v, want 30s", cfg.Loop.Tick)
	}
	if cfg.Loop.LogInterval != 5*time.Minute {
		t.Errorf("loop.log_interval default lost: got %v", cfg.Loop.LogInterval)
	}
	if cfg.Cloud.Retry != time.Minute || cfg.Cloud.Steady != 4*time.Minute {
		t.Errorf("cloud: got %+v", cfg.Cloud)
	}
	if cfg.MQTT.Broker != "tcp://10.0.0.2:1883" || cfg.MQTT.ClientID != "iirr" {
		t.Errorf("mqtt: got %+v", cfg.MQTT)
	}
	if cfg.Probes.Surface != (Probe{Reference: 6, After: 7}) || cfg.Probes.Middle != (Probe{Reference: 2, After: 3}) {
		t.Errorf("probes: got %+v", cfg.Probes)
	}
	if cfg.Location().String() != "America/Recife" {
		t.Errorf("Location: got %v", cfg.Location())
	}
	if cfg.HistoryPath() != "/srv/iirr/var/history.db" {
		t.Errorf("HistoryPath: got %q", cfg.HistoryPath())
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name, content, want string
	}{
		{"unknown key", "data_dri: /x\n", "data_dri"},
		{"bad timezone", "timezone: Mars/Olympus\n", "timezone"},
		{"zero tick", "loop:\n  tick: 0s\n", "loop.tick"},
		{"jitter", "cloud:\n  jitter: 1.5\n", "jitter"},
		{"deep rise", "engine:\n  deep_rise_fraction: 0\n", "deep_rise_fraction"},
		{"bad duration", "loop:\n  tick: soon\n", "iirr.yaml"},
	}
	for _, tt := range tests {
		_, err := Load(writeFile(t, tt.content))
		if err == nil {
			t.Errorf("%s: expected error", tt.name)
			continue
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: error %q does not mention %q", tt.name, err, tt.want)
		}
	}
}
