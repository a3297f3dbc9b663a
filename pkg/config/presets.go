package config

import "sort"

// Preset returns a copy of the named built-in profile with defaults applied.
func Preset(name string) (*Config, bool) {
	build, ok := presets[name]
	if !ok {
		return nil, false
	}
	cfg := build()
	cfg.ApplyDefaults()
	return cfg, true
}

// PresetNames lists the built-in profiles.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var presets = map[string]func() *Config{
	// Top camera over the claw: the ball is hooked when it sits inside the
	// claw envelope while the claw body is in view.
	"claw-ball": func() *Config {
		return &Config{
			Version:       "1.0",
			ConfigID:      "claw-ball",
			Labels:        []string{"Claw", "Ball", "ClawTop"},
			MinConfidence: 0,
			Roles: []RoleConfig{
				{Name: "ball", Label: "Ball", Continuous: true},
				{Name: "claw", Label: "ClawTop", Offset: [3]int32{0, 0, 145}, Continuous: true},
			},
			Relation: &RelationConfig{
				A:             "ball",
				B:             "claw",
				Window:        [3]int32{170, 170, 50},
				RequireLabels: []string{"Claw"},
			},
			Rates: RatesConfig{DetectionHz: 200, TelemetryHz: 200, YieldMs: 4},
			Telemetry: TelemetryConfig{
				MulticastGroup: "192.168.80.15",
				Port:           5008,
				TTL:            1,
				Layout:         LayoutPacked,
				BackoffMs:      10,
			},
		}
	},
	// Payload and drop-zone tracking without a relational flag.
	"payload-zone": func() *Config {
		return &Config{
			Version:  "1.0",
			ConfigID: "payload-zone",
			Labels:   []string{"pl", "zone"},
			Roles: []RoleConfig{
				{Name: "payload", Label: "pl", Continuous: true},
				{Name: "zone", Label: "zone", Continuous: true},
			},
			Rates: RatesConfig{DetectionHz: 200, TelemetryHz: 200, YieldMs: 4},
			Telemetry: TelemetryConfig{
				MulticastGroup: "192.168.80.15",
				Port:           5008,
				TTL:            1,
				Layout:         LayoutPacked,
				BackoffMs:      10,
			},
		}
	},
}
