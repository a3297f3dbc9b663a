package services

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/open-teleop/tracklink/pkg/config"
)

const validProfile = `
version: "2.0"
config_id: "bench"
labels: ["pl", "zone"]
roles:
  - name: payload
    label: pl
    continuous: true
telemetry:
  multicast_group: "239.0.0.9"
  port: 6000
`

type notifyPublisher struct {
	got chan *config.Config
}

func (p *notifyPublisher) PublishConfigUpdatedNotification(cfg *config.Config) error {
	p.got <- cfg
	return nil
}

func TestFallbackWhenFileMissing(t *testing.T) {
	preset, _ := config.Preset("claw-ball")
	path := filepath.Join(t.TempDir(), "tracking.yaml")

	svc, err := NewTrackingConfigService(path, preset, nil)
	if err != nil {
		t.Fatalf("NewTrackingConfigService failed: %v", err)
	}
	if got := svc.GetConfig().ConfigID; got != "claw-ball" {
		t.Errorf("Expected fallback profile 'claw-ball', got '%s'", got)
	}

	data, err := svc.GetCurrentConfigYAML()
	if err != nil {
		t.Fatalf("GetCurrentConfigYAML failed: %v", err)
	}
	if !strings.Contains(string(data), "config_id: claw-ball") {
		t.Errorf("Expected YAML of fallback profile, got:\n%s", data)
	}
}

func TestNoPathNoFallback(t *testing.T) {
	if _, err := NewTrackingConfigService("", nil, nil); err == nil {
		t.Errorf("Expected error with neither path nor fallback")
	}
}

func TestInvalidFileFailsLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracking.yaml")
	if err := os.WriteFile(path, []byte("roles: []\n"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	preset, _ := config.Preset("claw-ball")
	if _, err := NewTrackingConfigService(path, preset, nil); err == nil {
		t.Errorf("Expected invalid file to fail even with a fallback")
	}
}

func TestUpdateConfigPersistsAndNotifies(t *testing.T) {
	preset, _ := config.Preset("claw-ball")
	path := filepath.Join(t.TempDir(), "tracking.yaml")
	svc, err := NewTrackingConfigService(path, preset, nil)
	if err != nil {
		t.Fatalf("NewTrackingConfigService failed: %v", err)
	}
	pub := &notifyPublisher{got: make(chan *config.Config, 1)}
	svc.SetPublisher(pub)

	if err := svc.UpdateConfig([]byte(validProfile)); err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}
	if got := svc.GetConfig().ConfigID; got != "claw-ball" {
		t.Errorf("Expected running config to stay 'claw-ball' until restart, got '%s'", got)
	}
	if pending := svc.GetPendingConfig(); pending == nil || pending.ConfigID != "bench" {
		t.Errorf("Expected pending config 'bench', got %+v", pending)
	}
	if string(svc.GetPendingConfigYAML()) != validProfile {
		t.Errorf("Pending YAML differs from update")
	}
	current, err := svc.GetCurrentConfigYAML()
	if err != nil {
		t.Fatalf("GetCurrentConfigYAML failed: %v", err)
	}
	if !strings.Contains(string(current), "config_id: claw-ball") {
		t.Errorf("Expected running YAML to describe 'claw-ball', got:\n%s", current)
	}

	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected persisted file: %v", err)
	}
	if string(onDisk) != validProfile {
		t.Errorf("Persisted content differs from update")
	}

	select {
	case cfg := <-pub.got:
		if cfg.ConfigID != "bench" {
			t.Errorf("Notification carried config '%s'", cfg.ConfigID)
		}
	case <-time.After(2 * time.Second):
		t.Errorf("Expected config update notification")
	}

	reloaded, err := NewTrackingConfigService(path, nil, nil)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if reloaded.GetConfig().Telemetry.Port != 6000 {
		t.Errorf("Expected reloaded port 6000, got %d", reloaded.GetConfig().Telemetry.Port)
	}
	if reloaded.GetPendingConfig() != nil {
		t.Errorf("Expected no pending config after reload")
	}
}

func TestUpdateKeepsRunningProfileFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracking.yaml")
	running := strings.Replace(validProfile, `config_id: "bench"`, `config_id: "running"`, 1)
	if err := os.WriteFile(path, []byte(running), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	svc, err := NewTrackingConfigService(path, nil, nil)
	if err != nil {
		t.Fatalf("NewTrackingConfigService failed: %v", err)
	}

	if err := svc.UpdateConfig([]byte(validProfile)); err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}
	if got := svc.GetConfig().ConfigID; got != "running" {
		t.Errorf("Expected running config 'running' after update, got '%s'", got)
	}
	data, err := svc.GetCurrentConfigYAML()
	if err != nil {
		t.Fatalf("GetCurrentConfigYAML failed: %v", err)
	}
	if string(data) != running {
		t.Errorf("Expected YAML of the running file, got:\n%s", data)
	}

	if err := svc.LoadConfig(); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got := svc.GetConfig().ConfigID; got != "bench" {
		t.Errorf("Expected reload to apply 'bench', got '%s'", got)
	}
	if svc.GetPendingConfig() != nil {
		t.Errorf("Expected pending config cleared by reload")
	}
}

func TestUpdateConfigRejectsInvalid(t *testing.T) {
	preset, _ := config.Preset("claw-ball")
	path := filepath.Join(t.TempDir(), "tracking.yaml")
	svc, _ := NewTrackingConfigService(path, preset, nil)

	for _, body := range []string{"::not yaml", "version: '1'\nconfig_id: x\n", strings.Replace(validProfile, "config_id: \"bench\"", "", 1)} {
		err := svc.UpdateConfig([]byte(body))
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("Expected ValidationError for %q, got %v", body, err)
		}
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Rejected update must not be persisted")
	}
	if svc.GetConfig().ConfigID != "claw-ball" {
		t.Errorf("Rejected update replaced the active config")
	}
}

func TestUpdateWithoutPath(t *testing.T) {
	preset, _ := config.Preset("payload-zone")
	svc, _ := NewTrackingConfigService("", preset, nil)
	if err := svc.UpdateConfig([]byte(validProfile)); !errors.Is(err, ErrNotPersistable) {
		t.Errorf("Expected ErrNotPersistable, got %v", err)
	}
}
