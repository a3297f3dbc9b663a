package services

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/open-teleop/tracklink/pkg/config"
	customlog "github.com/open-teleop/tracklink/pkg/log"
)

// ErrNotPersistable is returned by UpdateConfig when no tracking file is configured.
var ErrNotPersistable = errors.New("no tracking_config_file configured")

// ValidationError marks an update rejected because of its content.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "validation failed: " + e.Err.Error() }

// Unwrap returns the underlying parse or validation error.
func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidationError lets HTTP handlers map the error to 400.
func (e *ValidationError) IsValidationError() bool { return true }

// ConfigPublisher defines the interface for publishing configuration updates.
// This avoids a direct dependency on the concrete ZeroMQService or ConfigPublisher implementation.
type ConfigPublisher interface {
	PublishConfigUpdatedNotification(cfg *config.Config) error
}

// TrackingConfigService manages the tracking profile used by the fusion loop.
// Updates are persisted and announced as pending; the running loop keeps its
// profile until restart.
type TrackingConfigService interface {
	LoadConfig() error
	GetConfig() *config.Config
	GetCurrentConfigYAML() ([]byte, error)
	GetPendingConfig() *config.Config
	GetPendingConfigYAML() []byte
	UpdateConfig(newConfigYAML []byte) error
	PersistConfig(yamlData []byte) error
	SetPublisher(p ConfigPublisher)
}

type trackingConfigService struct {
	configPath      string
	fallback        *config.Config
	logger          customlog.Logger
	configPublisher ConfigPublisher
	currentConfig   *config.Config
	currentYAML     []byte
	pendingConfig   *config.Config
	pendingYAML     []byte
	mu              sync.RWMutex
}

// NewTrackingConfigService creates the service and loads the profile at
// configPath. When configPath is empty or missing, fallback (a built-in
// preset) is used instead.
func NewTrackingConfigService(configPath string, fallback *config.Config, logger customlog.Logger) (TrackingConfigService, error) {
	if configPath == "" && fallback == nil {
		return nil, fmt.Errorf("tracking configuration path and fallback profile cannot both be empty")
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}

	service := &trackingConfigService{
		configPath: configPath,
		fallback:   fallback,
		logger:     logger,
	}
	if err := service.LoadConfig(); err != nil {
		return nil, err
	}

	logger.Infof("TrackingConfigService initialized with profile ID: %s", service.currentConfig.ConfigID)
	return service, nil
}

// LoadConfig reads and validates the tracking profile from disk and makes it
// the running profile. Any pending update is cleared.
func (s *trackingConfigService) LoadConfig() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.configPath == "" {
		s.useFallbackUnlocked("no tracking_config_file configured")
		return nil
	}

	s.logger.Infof("Loading tracking configuration from: %s", s.configPath)
	data, err := os.ReadFile(s.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && s.fallback != nil {
			s.useFallbackUnlocked(fmt.Sprintf("%s does not exist", s.configPath))
			return nil
		}
		return fmt.Errorf("error reading tracking config file '%s': %w", s.configPath, err)
	}
	cfg, err := config.ParseConfig(data)
	if err != nil {
		return fmt.Errorf("error loading tracking config file '%s': %w", s.configPath, err)
	}

	s.currentConfig = cfg
	s.currentYAML = data
	s.pendingConfig, s.pendingYAML = nil, nil
	s.logger.Infof("Successfully loaded tracking configuration ID: %s, Version: %s", cfg.ConfigID, cfg.Version)
	return nil
}

func (s *trackingConfigService) useFallbackUnlocked(reason string) {
	s.currentConfig = s.fallback
	s.currentYAML = nil
	s.pendingConfig, s.pendingYAML = nil, nil
	s.logger.Infof("Using built-in profile %q (%s)", s.fallback.ConfigID, reason)
}

// GetConfig returns the running tracking configuration. It is read-only and
// does not change until the next LoadConfig.
func (s *trackingConfigService) GetConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentConfig
}

// GetCurrentConfigYAML returns the running configuration as YAML, as it was
// read from disk when available.
func (s *trackingConfigService) GetCurrentConfigYAML() ([]byte, error) {
	s.mu.RLock()
	data, cfg := s.currentYAML, s.currentConfig
	s.mu.RUnlock()

	if data != nil {
		return data, nil
	}
	if cfg == nil {
		return nil, nil
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("error encoding tracking config: %w", err)
	}
	return data, nil
}

// GetPendingConfig returns the profile persisted by the last update, or nil
// when the running profile is also the one on disk.
func (s *trackingConfigService) GetPendingConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingConfig
}

// GetPendingConfigYAML returns the YAML of the pending profile, or nil.
func (s *trackingConfigService) GetPendingConfigYAML() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingYAML
}

// UpdateConfig validates and persists a new profile as pending, then
// publishes a notification. It takes effect on the next restart.
func (s *trackingConfigService) UpdateConfig(newConfigYAML []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newCfg, err := config.ParseConfig(newConfigYAML)
	if err != nil {
		s.logger.Warnf("Rejected tracking configuration update: %v", err)
		return &ValidationError{Err: err}
	}
	if newCfg.ConfigID == "" || newCfg.Version == "" {
		return &ValidationError{Err: fmt.Errorf("missing required fields (config_id, version)")}
	}

	if s.configPath == "" {
		return ErrNotPersistable
	}
	if err := s.persistConfigUnlocked(newConfigYAML); err != nil {
		return err
	}

	runningID := "N/A"
	if s.currentConfig != nil {
		runningID = s.currentConfig.ConfigID
	}
	s.pendingConfig = newCfg
	s.pendingYAML = append([]byte(nil), newConfigYAML...)
	s.logger.Infof("Persisted tracking configuration ID %s, Version: %s (running %s until restart)", newCfg.ConfigID, newCfg.Version, runningID)

	if s.configPublisher != nil {
		go func(publisher ConfigPublisher, cfg *config.Config) {
			if err := publisher.PublishConfigUpdatedNotification(cfg); err != nil {
				s.logger.Warnf("Failed to publish config update notification: %v", err)
			}
		}(s.configPublisher, newCfg)
	}
	return nil
}

// PersistConfig writes the given YAML data to the tracking config file path
// without validation and records it as pending. The pending profile is nil
// when the data does not parse.
func (s *trackingConfigService) PersistConfig(yamlData []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.configPath == "" {
		return ErrNotPersistable
	}
	if err := s.persistConfigUnlocked(yamlData); err != nil {
		return err
	}
	s.pendingConfig, _ = config.ParseConfig(yamlData)
	s.pendingYAML = append([]byte(nil), yamlData...)
	return nil
}

func (s *trackingConfigService) persistConfigUnlocked(yamlData []byte) error {
	tmp := s.configPath + ".tmp"
	if err := os.WriteFile(tmp, yamlData, 0644); err != nil {
		return fmt.Errorf("error writing tracking config file '%s': %w", tmp, err)
	}
	if err := os.Rename(tmp, s.configPath); err != nil {
		return fmt.Errorf("error replacing tracking config file '%s': %w", s.configPath, err)
	}
	s.logger.Infof("Persisted tracking configuration to %s", s.configPath)
	return nil
}

// SetPublisher allows injecting the ConfigPublisher after initialization.
func (s *trackingConfigService) SetPublisher(p ConfigPublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configPublisher = p
}
