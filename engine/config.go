// Package engine owns the detector manager: lifecycle, event routing
// between detectors/correlators/sync, configuration, log sinks, Prometheus
// metrics and telemetry publication.
package engine

import (
	"fmt"
	"os"

	"github.com/cwsl/wwvclock"
	"github.com/cwsl/wwvclock/detect"
	"gopkg.in/yaml.v3"
)

// TickTuning holds the tick detector's validated runtime tunables.
type TickTuning struct {
	ThresholdMultiplier float64 `yaml:"threshold_multiplier"`
	MinDurationMS       float64 `yaml:"min_duration_ms"`
}

// MarkerTuning holds the minute-marker detector's validated runtime tunables.
type MarkerTuning struct {
	ThresholdMultiplier float64 `yaml:"threshold_multiplier"`
	NoiseAdaptRate      float64 `yaml:"noise_adapt_rate"`
	MinDurationMS       float64 `yaml:"min_duration_ms"`
}

// LoggingConfig holds the append-only log-sink file paths. An empty path
// disables that sink.
type LoggingConfig struct {
	TickLogPath   string `yaml:"tick_log_path"`
	MarkerLogPath string `yaml:"marker_log_path"`
	BcdLogPath    string `yaml:"bcd_log_path"`
	SyncLogPath   string `yaml:"sync_log_path"`
}

// PrometheusConfig controls the optional metrics listener.
type PrometheusConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// MQTTConfig controls the optional MQTT telemetry sink, an alternative to
// the default UDP datagram broadcaster.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
}

// TelemetryConfig controls the default connectionless UDP telemetry sink.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Config is the manager's full validated configuration.
type Config struct {
	Station              string `yaml:"station"`
	DetectorSampleRateHz float64 `yaml:"detector_sample_rate_hz"`
	DisplaySampleRateHz  float64 `yaml:"display_sample_rate_hz"`
	TickFrequencyHz      float64 `yaml:"tick_frequency_hz"`
	DataSubcarrierHz     float64 `yaml:"data_subcarrier_hz"`
	GroupDelayMS         float64 `yaml:"group_delay_ms"`

	Tick   TickTuning   `yaml:"tick"`
	Marker MarkerTuning `yaml:"marker"`

	Logging    LoggingConfig    `yaml:"logging"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// DefaultConfig returns the WWV defaults spelled out across the detector
// packages, with logging, Prometheus and MQTT disabled and the UDP
// telemetry sink enabled on a loopback port.
func DefaultConfig() Config {
	return Config{
		Station:              "WWV",
		DetectorSampleRateHz: 50000,
		DisplaySampleRateHz:  12000,
		TickFrequencyHz:      wwvclock.StationWWV.TickHz(),
		DataSubcarrierHz:     100,
		GroupDelayMS:         3.0,
		Tick: TickTuning{
			ThresholdMultiplier: wwvclock.TickThresholdMultiplier,
			MinDurationMS:       wwvclock.TickMinDurationMS,
		},
		Marker: MarkerTuning{
			ThresholdMultiplier: wwvclock.MarkerThresholdMultiplier,
			NoiseAdaptRate:      wwvclock.MarkerNoiseAdaptRate,
			MinDurationMS:       wwvclock.MarkerMinDurationMS,
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9735",
		},
	}
}

// LoadConfig reads a YAML config file and validates it. Zero-valued fields
// not present in the file are filled from DefaultConfig, following the
// reference corpus's config.go convention of unmarshaling first and
// defaulting zero fields afterward rather than pre-seeding the struct.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("engine: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("engine: parse config: %w", err)
	}

	def := DefaultConfig()
	if cfg.Station == "" {
		cfg.Station = def.Station
	}
	if cfg.DetectorSampleRateHz == 0 {
		cfg.DetectorSampleRateHz = def.DetectorSampleRateHz
	}
	if cfg.DisplaySampleRateHz == 0 {
		cfg.DisplaySampleRateHz = def.DisplaySampleRateHz
	}
	if cfg.TickFrequencyHz == 0 {
		cfg.TickFrequencyHz = cfg.station().TickHz()
	}
	if cfg.DataSubcarrierHz == 0 {
		cfg.DataSubcarrierHz = def.DataSubcarrierHz
	}
	if cfg.GroupDelayMS == 0 {
		cfg.GroupDelayMS = def.GroupDelayMS
	}
	if cfg.Tick.ThresholdMultiplier == 0 {
		cfg.Tick.ThresholdMultiplier = def.Tick.ThresholdMultiplier
	}
	if cfg.Tick.MinDurationMS == 0 {
		cfg.Tick.MinDurationMS = def.Tick.MinDurationMS
	}
	if cfg.Marker.ThresholdMultiplier == 0 {
		cfg.Marker.ThresholdMultiplier = def.Marker.ThresholdMultiplier
	}
	if cfg.Marker.NoiseAdaptRate == 0 {
		cfg.Marker.NoiseAdaptRate = def.Marker.NoiseAdaptRate
	}
	if cfg.Marker.MinDurationMS == 0 {
		cfg.Marker.MinDurationMS = def.Marker.MinDurationMS
	}
	if !cfg.Telemetry.Enabled && cfg.Telemetry.Addr == "" && cfg.MQTT.Broker == "" {
		cfg.Telemetry = def.Telemetry
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects out-of-range tunables, reusing each detector config's
// own validated setters rather than duplicating the range checks here.
func (c *Config) Validate() error {
	if c.DetectorSampleRateHz <= 0 {
		return fmt.Errorf("engine: detector_sample_rate_hz must be positive")
	}
	if c.DisplaySampleRateHz <= 0 {
		return fmt.Errorf("engine: display_sample_rate_hz must be positive")
	}
	if c.Station != "WWV" && c.Station != "WWVH" {
		return fmt.Errorf("engine: station must be WWV or WWVH, got %q", c.Station)
	}

	tick := detect.DefaultTickConfig()
	if err := tick.SetThresholdMultiplier(c.Tick.ThresholdMultiplier); err != nil {
		return err
	}
	if err := tick.SetMinDurationMS(c.Tick.MinDurationMS); err != nil {
		return err
	}

	marker := detect.DefaultMarkerConfig()
	if err := marker.SetThresholdMultiplier(c.Marker.ThresholdMultiplier); err != nil {
		return err
	}
	if err := marker.SetNoiseAdaptRate(c.Marker.NoiseAdaptRate); err != nil {
		return err
	}
	if err := marker.SetMinDurationMS(c.Marker.MinDurationMS); err != nil {
		return err
	}
	return nil
}

// station returns the configured Station enum value.
func (c *Config) station() wwvclock.Station {
	if c.Station == "WWVH" {
		return wwvclock.StationWWVH
	}
	return wwvclock.StationWWV
}
