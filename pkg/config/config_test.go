package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/open-teleop/tracklink/domain/tracking"
)

const testTrackingYAML = `
version: "1.0"
config_id: "test-claw"
device_id: "cam-01"
labels: ["Claw", "Ball", "ClawTop"]
min_confidence: 0.25
roles:
  - name: ball
    label: Ball
    continuous: true
  - name: claw
    label: ClawTop
    offset: [0, 0, 145]
    continuous: true
relation:
  a: ball
  b: claw
  window: [170, 170, 50]
  require_labels: ["Claw"]
rates:
  detection_hz: 100
  telemetry_hz: 50
  yield_ms: 2
telemetry:
  multicast_group: "239.1.2.3"
  port: 5008
  layout: aligned
`

func TestLoadConfig(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "tracking.yaml")
	if err := os.WriteFile(configPath, []byte(testTrackingYAML), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.ConfigID != "test-claw" {
		t.Errorf("Expected config_id 'test-claw', got '%s'", cfg.ConfigID)
	}
	if len(cfg.Roles) != 2 {
		t.Fatalf("Expected 2 roles, got %d", len(cfg.Roles))
	}
	if cfg.Roles[1].Offset != [3]int32{0, 0, 145} {
		t.Errorf("Expected claw offset [0 0 145], got %v", cfg.Roles[1].Offset)
	}
	if cfg.Sentinel != tracking.DefaultSentinel {
		t.Errorf("Expected default sentinel %d, got %d", tracking.DefaultSentinel, cfg.Sentinel)
	}
	if cfg.Telemetry.TTL != 1 {
		t.Errorf("Expected default TTL 1, got %d", cfg.Telemetry.TTL)
	}
	if cfg.DetectionPeriod() != 10*time.Millisecond {
		t.Errorf("Expected detection period 10ms, got %v", cfg.DetectionPeriod())
	}
	if cfg.TelemetryPeriod() != 20*time.Millisecond {
		t.Errorf("Expected telemetry period 20ms, got %v", cfg.TelemetryPeriod())
	}
	if cfg.Yield() != 2*time.Millisecond {
		t.Errorf("Expected yield 2ms, got %v", cfg.Yield())
	}

	layout := cfg.WireLayout()
	if layout.Entities != 2 || !layout.Flag || !layout.Aligned {
		t.Errorf("Unexpected wire layout %+v", layout)
	}
	dst := cfg.Destination()
	if dst.String() != "239.1.2.3:5008" {
		t.Errorf("Expected destination 239.1.2.3:5008, got %s", dst)
	}
}

func TestConfigProfile(t *testing.T) {
	cfg, err := ParseConfig([]byte(testTrackingYAML))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	p, err := cfg.Profile()
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if p.Relation == nil {
		t.Fatal("Expected relation to be set")
	}
	if p.Relation.A != 0 || p.Relation.B != 1 {
		t.Errorf("Expected relation roles 0 and 1, got %d and %d", p.Relation.A, p.Relation.B)
	}
	if p.Roles[0].AxisSign != [3]float64{1, -1, 1} {
		t.Errorf("Expected default axis sign [1 -1 1], got %v", p.Roles[0].AxisSign)
	}
	if p.MinConfidence != 0.25 {
		t.Errorf("Expected min confidence 0.25, got %v", p.MinConfidence)
	}
	if len(p.Relation.RequireLabels) != 1 || p.Relation.RequireLabels[0] != "Claw" {
		t.Errorf("Expected require_labels [Claw], got %v", p.Relation.RequireLabels)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	base := func() *Config {
		cfg, _ := Preset("claw-ball")
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"no roles", func(c *Config) { c.Roles = nil; c.Relation = nil }, "roles"},
		{"missing label", func(c *Config) { c.Roles[0].Label = "" }, "roles[0].label"},
		{"bad axis sign", func(c *Config) { c.Roles[0].AxisSign = []float64{1} }, "axis_sign"},
		{"unknown relation role", func(c *Config) { c.Relation.B = "gripper" }, "relation.b"},
		{"missing group", func(c *Config) { c.Telemetry.MulticastGroup = "" }, "telemetry.multicast_group"},
		{"ipv6 group", func(c *Config) { c.Telemetry.MulticastGroup = "ff02::1" }, "not an IPv4 address"},
		{"bad port", func(c *Config) { c.Telemetry.Port = 70000 }, "telemetry.port"},
		{"bad layout", func(c *Config) { c.Telemetry.Layout = "padded" }, "telemetry.layout"},
		{"zero window", func(c *Config) { c.Relation.Window[2] = 0 }, "window"},
		{"duplicate label", func(c *Config) { c.Roles[1].Label = "Ball" }, "bound twice"},
		{"sentinel too large", func(c *Config) { c.Sentinel = 40000 }, "sentinel 40000"},
		{"sentinel too small", func(c *Config) { c.Sentinel = -40000 }, "sentinel -40000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Expected validation error containing %q, got nil", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error to contain %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestPresets(t *testing.T) {
	names := PresetNames()
	if len(names) != 2 || names[0] != "claw-ball" || names[1] != "payload-zone" {
		t.Fatalf("Unexpected preset names %v", names)
	}
	for _, name := range names {
		cfg, ok := Preset(name)
		if !ok {
			t.Fatalf("Preset %q not found", name)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Preset %q does not validate: %v", name, err)
		}
	}

	claw, _ := Preset("claw-ball")
	if got := claw.WireLayout(); got.Entities != 2 || !got.Flag || got.Aligned {
		t.Errorf("Unexpected claw-ball layout %+v", got)
	}
	zone, _ := Preset("payload-zone")
	if got := zone.WireLayout(); got.Entities != 2 || got.Flag {
		t.Errorf("Unexpected payload-zone layout %+v", got)
	}

	// Presets hand out independent copies.
	claw.Roles[0].Name = "changed"
	again, _ := Preset("claw-ball")
	if again.Roles[0].Name != "ball" {
		t.Errorf("Preset mutation leaked into later copies")
	}

	if _, ok := Preset("unknown"); ok {
		t.Errorf("Expected unknown preset lookup to fail")
	}
}

func TestLoadBootstrapConfig(t *testing.T) {
	tempDir := t.TempDir()

	bootstrapContent := `
logging:
  level: "debug"
  log_path: "/var/log/tracklink"
  max_size_mb: 20
server:
  http_port: 9090
zeromq:
  detection_address: "tcp://localhost:5560"
  orientation_address: "tcp://localhost:5561"
  publish_bind_address: "tcp://*:7777"
  request_bind_address: "tcp://*:6666"
data:
  directory: "/data/tracklink"
  tracking_config_file: "tracking.yaml"
`
	configPath := filepath.Join(tempDir, BootstrapFileName)
	if err := os.WriteFile(configPath, []byte(bootstrapContent), 0644); err != nil {
		t.Fatalf("Failed to write test bootstrap config: %v", err)
	}

	bootstrapCfg, err := LoadBootstrapConfig(tempDir)
	if err != nil {
		t.Fatalf("LoadBootstrapConfig failed: %v", err)
	}

	if bootstrapCfg.Logging.Level != "debug" {
		t.Errorf("Expected logging level 'debug', got '%s'", bootstrapCfg.Logging.Level)
	}
	if bootstrapCfg.Logging.MaxSizeMB != 20 {
		t.Errorf("Expected max_size_mb 20, got %d", bootstrapCfg.Logging.MaxSizeMB)
	}
	if bootstrapCfg.Server.HTTPPort != 9090 {
		t.Errorf("Expected server http_port 9090, got %d", bootstrapCfg.Server.HTTPPort)
	}
	if bootstrapCfg.ZeroMQ.DetectionAddress != "tcp://localhost:5560" {
		t.Errorf("Expected detection_address 'tcp://localhost:5560', got '%s'", bootstrapCfg.ZeroMQ.DetectionAddress)
	}
	if bootstrapCfg.ZeroMQ.SnapshotHz != 10 {
		t.Errorf("Expected default snapshot_hz 10, got %d", bootstrapCfg.ZeroMQ.SnapshotHz)
	}
	if got := bootstrapCfg.TrackingConfigPath(); got != "/data/tracklink/tracking.yaml" {
		t.Errorf("Expected tracking config path '/data/tracklink/tracking.yaml', got '%s'", got)
	}
}

func TestLoadBootstrapConfigMissingRequired(t *testing.T) {
	tempDir := t.TempDir()

	bootstrapContentMissing := `
logging:
  level: "info"
data:
  tracking_config_file: "tracking.yaml"
`
	configPath := filepath.Join(tempDir, BootstrapFileName)
	if err := os.WriteFile(configPath, []byte(bootstrapContentMissing), 0644); err != nil {
		t.Fatalf("Failed to write test bootstrap config: %v", err)
	}

	_, err := LoadBootstrapConfig(tempDir)
	if err == nil {
		t.Fatalf("Expected error when loading bootstrap config with missing required fields, but got nil")
	}

	expectedErrorSubstr := "missing required field in bootstrap config: data.directory"
	if !strings.Contains(err.Error(), expectedErrorSubstr) {
		t.Errorf("Expected error message to contain '%s', but got: %v", expectedErrorSubstr, err)
	}
}

func TestLoadBootstrapConfigUnknownProfile(t *testing.T) {
	tempDir := t.TempDir()
	content := "data:\n  directory: /data\n  profile: nope\n"
	if err := os.WriteFile(filepath.Join(tempDir, BootstrapFileName), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test bootstrap config: %v", err)
	}
	_, err := LoadBootstrapConfig(tempDir)
	if err == nil || !strings.Contains(err.Error(), "unknown data.profile") {
		t.Errorf("Expected unknown profile error, got: %v", err)
	}
}
