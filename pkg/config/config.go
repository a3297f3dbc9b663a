package config

import (
	"fmt"
	"math"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/open-teleop/tracklink/domain/tracking"
	"github.com/open-teleop/tracklink/pkg/wire"
)

// Layout names accepted in telemetry.layout.
const (
	LayoutPacked  = "packed"
	LayoutAligned = "aligned"
)

// Config represents one tracking deployment profile.
type Config struct {
	Version       string          `yaml:"version" json:"version"`
	ConfigID      string          `yaml:"config_id" json:"config_id"`
	LastUpdated   string          `yaml:"lastUpdated" json:"lastUpdated"`
	DeviceID      string          `yaml:"device_id" json:"device_id"`
	Labels        []string        `yaml:"labels" json:"labels"`
	MinConfidence float64         `yaml:"min_confidence" json:"min_confidence"`
	Sentinel      int32           `yaml:"sentinel,omitempty" json:"sentinel,omitempty"`
	Roles         []RoleConfig    `yaml:"roles" json:"roles"`
	Relation      *RelationConfig `yaml:"relation,omitempty" json:"relation,omitempty"`
	Rates         RatesConfig     `yaml:"rates" json:"rates"`
	Telemetry     TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

// RoleConfig binds a label to a tracked entity.
type RoleConfig struct {
	Name       string    `yaml:"name" json:"name"`
	Label      string    `yaml:"label" json:"label"`
	AxisSign   []float64 `yaml:"axis_sign,omitempty,flow" json:"axis_sign,omitempty"`
	Offset     [3]int32  `yaml:"offset,flow" json:"offset"`
	Continuous bool      `yaml:"continuous" json:"continuous"`
}

// RelationConfig enables the relational flag between two roles.
type RelationConfig struct {
	A             string   `yaml:"a" json:"a"`
	B             string   `yaml:"b" json:"b"`
	Window        [3]int32 `yaml:"window,flow" json:"window"`
	RequireLabels []string `yaml:"require_labels,omitempty" json:"require_labels,omitempty"`
}

// RatesConfig holds the two timer frequencies and the loop yield.
type RatesConfig struct {
	DetectionHz float64 `yaml:"detection_hz" json:"detection_hz"`
	TelemetryHz float64 `yaml:"telemetry_hz" json:"telemetry_hz"`
	YieldMs     float64 `yaml:"yield_ms" json:"yield_ms"`
}

// TelemetryConfig holds the datagram destination and transmit policy.
type TelemetryConfig struct {
	MulticastGroup          string `yaml:"multicast_group" json:"multicast_group"`
	Port                    int    `yaml:"port" json:"port"`
	TTL                     int    `yaml:"ttl" json:"ttl"`
	Interface               string `yaml:"interface,omitempty" json:"interface,omitempty"`
	Loopback                bool   `yaml:"loopback" json:"loopback"`
	Layout                  string `yaml:"layout" json:"layout"`
	BackoffMs               int    `yaml:"backoff_ms" json:"backoff_ms"`
	LogIntervalMs           int    `yaml:"log_interval_ms" json:"log_interval_ms"`
	RequireFreshOrientation bool   `yaml:"require_fresh_orientation" json:"require_fresh_orientation"`
}

// LoadConfig loads a tracking profile from the specified file path,
// applies defaults and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes, defaults and validates YAML tracking profile data.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero-valued fields with the device defaults.
func (c *Config) ApplyDefaults() {
	if c.Sentinel == 0 {
		c.Sentinel = tracking.DefaultSentinel
	}
	if c.Rates.DetectionHz == 0 {
		c.Rates.DetectionHz = 200
	}
	if c.Rates.TelemetryHz == 0 {
		c.Rates.TelemetryHz = 200
	}
	if c.Rates.YieldMs == 0 {
		c.Rates.YieldMs = 1
	}
	if c.Telemetry.TTL == 0 {
		c.Telemetry.TTL = 1
	}
	if c.Telemetry.Layout == "" {
		c.Telemetry.Layout = LayoutPacked
	}
	if c.Telemetry.BackoffMs == 0 {
		c.Telemetry.BackoffMs = 10
	}
	if c.Telemetry.LogIntervalMs == 0 {
		c.Telemetry.LogIntervalMs = 1000
	}
	for i := range c.Roles {
		if len(c.Roles[i].AxisSign) == 0 {
			c.Roles[i].AxisSign = []float64{1, -1, 1}
		}
	}
}

// Validate checks that the profile describes a runnable deployment.
func (c *Config) Validate() error {
	// The sentinel must round-trip through the int16 wire fields.
	if c.Sentinel < math.MinInt16 || c.Sentinel > math.MaxInt16 {
		return fmt.Errorf("invalid tracking config: sentinel %d outside the int16 range", c.Sentinel)
	}
	if len(c.Roles) == 0 {
		return fmt.Errorf("missing required field in tracking config: roles")
	}
	for i, r := range c.Roles {
		if r.Name == "" {
			return fmt.Errorf("missing required field in tracking config: roles[%d].name", i)
		}
		if r.Label == "" {
			return fmt.Errorf("missing required field in tracking config: roles[%d].label", i)
		}
		if len(r.AxisSign) != 3 {
			return fmt.Errorf("invalid tracking config: roles[%d].axis_sign must have 3 entries", i)
		}
	}
	if c.Relation != nil {
		if c.roleIndex(c.Relation.A) < 0 {
			return fmt.Errorf("invalid tracking config: relation.a %q is not a role", c.Relation.A)
		}
		if c.roleIndex(c.Relation.B) < 0 {
			return fmt.Errorf("invalid tracking config: relation.b %q is not a role", c.Relation.B)
		}
	}
	if c.Rates.DetectionHz < 0 || c.Rates.TelemetryHz < 0 || c.Rates.YieldMs < 0 {
		return fmt.Errorf("invalid tracking config: rates must be positive")
	}
	if c.Telemetry.MulticastGroup == "" {
		return fmt.Errorf("missing required field in tracking config: telemetry.multicast_group")
	}
	if net.ParseIP(c.Telemetry.MulticastGroup).To4() == nil {
		return fmt.Errorf("invalid tracking config: telemetry.multicast_group %q is not an IPv4 address", c.Telemetry.MulticastGroup)
	}
	if c.Telemetry.Port <= 0 || c.Telemetry.Port > 65535 {
		return fmt.Errorf("invalid tracking config: telemetry.port %d out of range", c.Telemetry.Port)
	}
	if c.Telemetry.Layout != LayoutPacked && c.Telemetry.Layout != LayoutAligned {
		return fmt.Errorf("invalid tracking config: telemetry.layout %q (want %s or %s)", c.Telemetry.Layout, LayoutPacked, LayoutAligned)
	}
	if _, err := c.Profile(); err != nil {
		return fmt.Errorf("invalid tracking config: %w", err)
	}
	return nil
}

func (c *Config) roleIndex(name string) int {
	for i, r := range c.Roles {
		if r.Name == name {
			return i
		}
	}
	return -1
}

// Profile converts the configuration into a tracking profile.
func (c *Config) Profile() (tracking.Profile, error) {
	p := tracking.Profile{
		Labels:        append([]string(nil), c.Labels...),
		MinConfidence: c.MinConfidence,
		Sentinel:      c.Sentinel,
		Roles:         make([]tracking.Role, len(c.Roles)),
	}
	for i, r := range c.Roles {
		role := tracking.Role{Name: r.Name, Label: r.Label, Offset: r.Offset, Continuous: r.Continuous}
		copy(role.AxisSign[:], r.AxisSign)
		p.Roles[i] = role
	}
	if c.Relation != nil {
		p.Relation = &tracking.Relation{
			A:             c.roleIndex(c.Relation.A),
			B:             c.roleIndex(c.Relation.B),
			Window:        c.Relation.Window,
			RequireLabels: append([]string(nil), c.Relation.RequireLabels...),
		}
	}
	return p, p.Validate()
}

// WireLayout returns the telemetry record layout implied by the profile.
func (c *Config) WireLayout() wire.Layout {
	return wire.Layout{
		Entities: len(c.Roles),
		Flag:     c.Relation != nil,
		Aligned:  c.Telemetry.Layout == LayoutAligned,
	}
}

// Destination returns the multicast group and port as a UDP address.
func (c *Config) Destination() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(c.Telemetry.MulticastGroup), Port: c.Telemetry.Port}
}

// DetectionPeriod is the detection timer period.
func (c *Config) DetectionPeriod() time.Duration {
	return hzToPeriod(c.Rates.DetectionHz)
}

// TelemetryPeriod is the telemetry timer period.
func (c *Config) TelemetryPeriod() time.Duration {
	return hzToPeriod(c.Rates.TelemetryHz)
}

// Yield is the fixed sleep at the end of every loop iteration.
func (c *Config) Yield() time.Duration {
	return time.Duration(c.Rates.YieldMs * float64(time.Millisecond))
}

// Backoff is the pause between closing a failed transmitter and opening another.
func (c *Config) Backoff() time.Duration {
	return time.Duration(c.Telemetry.BackoffMs) * time.Millisecond
}

// LogInterval bounds repeated transmit failure logs.
func (c *Config) LogInterval() time.Duration {
	return time.Duration(c.Telemetry.LogIntervalMs) * time.Millisecond
}

func hzToPeriod(hz float64) time.Duration {
	if hz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / hz)
}
