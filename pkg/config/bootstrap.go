package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// BootstrapFileName is the device bootstrap file looked up in the config directory.
const BootstrapFileName = "device_config.yaml"

// BootstrapConfig holds the initial configuration loaded from device_config.yaml
type BootstrapConfig struct {
	Logging LoggingConfig         `yaml:"logging"`
	Server  BootstrapServerConfig `yaml:"server"`
	ZeroMQ  ZeroMQBootstrap       `yaml:"zeromq"`
	Data    DataConfig            `yaml:"data"`
}

// LoggingConfig holds logging settings from bootstrap
type LoggingConfig struct {
	Level      string `yaml:"level"`
	LogPath    string `yaml:"log_path,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
}

// BootstrapServerConfig holds the diagnostics HTTP server settings.
// A zero port disables the server.
type BootstrapServerConfig struct {
	HTTPPort int `yaml:"http_port"`
}

// ZeroMQBootstrap holds the ZeroMQ endpoints. Empty addresses disable the
// corresponding socket.
type ZeroMQBootstrap struct {
	// DetectionAddress is the inference process PUB endpoint the device connects to.
	DetectionAddress string `yaml:"detection_address"`
	// OrientationAddress is the IMU process PUB endpoint the device connects to.
	OrientationAddress string `yaml:"orientation_address"`
	// PublishBindAddress serves FusedState snapshots to host tools.
	PublishBindAddress string `yaml:"publish_bind_address"`
	// RequestBindAddress answers CONFIG_REQUEST messages.
	RequestBindAddress string `yaml:"request_bind_address"`
	SnapshotHz         int    `yaml:"snapshot_hz"`
}

// DataConfig holds data directory settings from bootstrap
type DataConfig struct {
	Directory          string `yaml:"directory"`
	TrackingConfigFile string `yaml:"tracking_config_file"`
	// Profile names a built-in preset used when no tracking file exists.
	Profile string `yaml:"profile"`
}

// TrackingConfigPath returns the absolute path of the tracking profile file,
// or "" when none is configured.
func (b *BootstrapConfig) TrackingConfigPath() string {
	if b.Data.TrackingConfigFile == "" {
		return ""
	}
	if filepath.IsAbs(b.Data.TrackingConfigFile) {
		return b.Data.TrackingConfigFile
	}
	return filepath.Join(b.Data.Directory, b.Data.TrackingConfigFile)
}

// LoadBootstrapConfig loads the bootstrap configuration from device_config.yaml
func LoadBootstrapConfig(configDir string) (*BootstrapConfig, error) {
	bootstrapConfigPath := filepath.Join(configDir, BootstrapFileName)

	data, err := os.ReadFile(bootstrapConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error reading bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	var bootstrapCfg BootstrapConfig
	if err := yaml.Unmarshal(data, &bootstrapCfg); err != nil {
		return nil, fmt.Errorf("error parsing bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	if bootstrapCfg.Data.Directory == "" {
		return nil, fmt.Errorf("missing required field in bootstrap config: data.directory")
	}
	if bootstrapCfg.Data.TrackingConfigFile == "" && bootstrapCfg.Data.Profile == "" {
		return nil, fmt.Errorf("missing required field in bootstrap config: data.tracking_config_file or data.profile")
	}
	if bootstrapCfg.Data.Profile != "" {
		if _, ok := Preset(bootstrapCfg.Data.Profile); !ok {
			return nil, fmt.Errorf("invalid bootstrap config: unknown data.profile %q", bootstrapCfg.Data.Profile)
		}
	}
	if bootstrapCfg.Logging.Level == "" {
		bootstrapCfg.Logging.Level = "info"
	}
	if bootstrapCfg.ZeroMQ.SnapshotHz <= 0 {
		bootstrapCfg.ZeroMQ.SnapshotHz = 10
	}

	return &bootstrapCfg, nil
}
