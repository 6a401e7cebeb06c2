// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/lappd/internal/core"
)

// GlobalConfig represents the top-level static configuration.
// Maps to the `lappd:` root key in YAML.
type GlobalConfig struct {
	Log         LogConfig         `mapstructure:"log"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Intake      IntakeConfig      `mapstructure:"intake"`
	Calibration CalibrationConfig `mapstructure:"calibration"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Reporters   []ReporterConfig  `mapstructure:"reporters"`
	Generator   GeneratorConfig   `mapstructure:"generator"`
}

// ─── Intake ───

// IntakeConfig configures the UDP listeners and event reconstruction.
type IntakeConfig struct {
	Address     string        `mapstructure:"address"`      // Bind host
	Ports       []int         `mapstructure:"ports"`        // One intake loop per port
	BufferSize  int           `mapstructure:"buffer_size"`  // Bytes per datagram buffer
	ReadBuffer  int           `mapstructure:"read_buffer"`  // SO_RCVBUF, 0 = system default
	BatchSize   int           `mapstructure:"batch_size"`   // Datagrams per read
	ReadTimeout time.Duration `mapstructure:"read_timeout"` // Cancellation poll interval
	Capacity    int           `mapstructure:"capacity"`     // In-flight events per loop
	MaxOrphans  int           `mapstructure:"max_orphans"`  // 0 = unbounded
	// LeftMask masks stop-1 back to stop-N; the stop sample is covered by the
	// right mask instead. Older tools counted the stop sample in their mask,
	// so a migrated setting of N corresponds to left_mask N-1 here.
	LeftMask   int  `mapstructure:"left_mask"`
	KeepOffset bool `mapstructure:"keep_offset"` // Capacitor order instead of time order
}

// ─── Calibration ───

// CalibrationConfig locates calibration tables. Empty paths disable a stage.
type CalibrationConfig struct {
	Pedestal string       `mapstructure:"pedestal"`
	Gain     string       `mapstructure:"gain"`
	Timing   string       `mapstructure:"timing"`
	CondDB   CondDBConfig `mapstructure:"conddb"`
}

// CondDBConfig selects pedestal and gain tables from the conditions database.
// File paths take precedence.
type CondDBConfig struct {
	DSN   string `mapstructure:"dsn"`
	Board string `mapstructure:"board"`
}

// ─── Pipeline ───

// PipelineConfig configures the hand-off from intake to reporters.
type PipelineConfig struct {
	QueueSize int `mapstructure:"queue_size"`
	Workers   int `mapstructure:"workers"`
}

// ReporterConfig names a reporter plugin and its options.
type ReporterConfig struct {
	Name    string         `mapstructure:"name"`
	Options map[string]any `mapstructure:"options"`
}

// ─── Generator ───

// GeneratorConfig configures synthetic traffic.
type GeneratorConfig struct {
	Target     string        `mapstructure:"target"`
	MTU        int           `mapstructure:"mtu"`
	Resolution int           `mapstructure:"resolution"`
	Channels   []int         `mapstructure:"channels"`
	Subhits    int           `mapstructure:"subhits"`
	Samples    int           `mapstructure:"samples"`
	Offset     int           `mapstructure:"offset"`
	Events     int           `mapstructure:"events"`
	Interval   time.Duration `mapstructure:"interval"`
	Shuffle    bool          `mapstructure:"shuffle"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains log output destinations besides stdout.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `lappd: ...`.
type configRoot struct {
	Lappd GlobalConfig `mapstructure:"lappd"`
}

// Load loads configuration from file. An empty path loads the defaults.
// The YAML file uses `lappd:` as root key; env vars use the LAPPD_ prefix
// (e.g., LAPPD_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Key "lappd.log.level" maps to env "LAPPD_LOG_LEVEL".
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Lappd

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *GlobalConfig {
	cfg, err := Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

// setDefaults sets default values for configuration.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("lappd.log.level", "info")
	v.SetDefault("lappd.log.format", "text")
	v.SetDefault("lappd.log.outputs.file.enabled", false)
	v.SetDefault("lappd.log.outputs.file.path", "/var/log/lappd/lappd.log")
	v.SetDefault("lappd.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("lappd.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("lappd.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("lappd.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("lappd.metrics.enabled", true)
	v.SetDefault("lappd.metrics.listen", ":9091")
	v.SetDefault("lappd.metrics.path", "/metrics")

	// Intake defaults
	v.SetDefault("lappd.intake.address", "0.0.0.0")
	v.SetDefault("lappd.intake.ports", []int{1338})
	v.SetDefault("lappd.intake.buffer_size", 9000)
	v.SetDefault("lappd.intake.read_buffer", 0)
	v.SetDefault("lappd.intake.batch_size", 32)
	v.SetDefault("lappd.intake.read_timeout", "250ms")
	v.SetDefault("lappd.intake.capacity", 100)
	v.SetDefault("lappd.intake.max_orphans", 0)
	v.SetDefault("lappd.intake.left_mask", 0)
	v.SetDefault("lappd.intake.keep_offset", false)

	// Pipeline defaults
	v.SetDefault("lappd.pipeline.queue_size", 1024)
	v.SetDefault("lappd.pipeline.workers", 1)

	// Generator defaults
	v.SetDefault("lappd.generator.target", "127.0.0.1:1338")
	v.SetDefault("lappd.generator.mtu", core.DefaultMTU)
	v.SetDefault("lappd.generator.resolution", 4)
	v.SetDefault("lappd.generator.channels", []int{0})
	v.SetDefault("lappd.generator.subhits", 1)
	v.SetDefault("lappd.generator.samples", 256)
	v.SetDefault("lappd.generator.offset", 0)
	v.SetDefault("lappd.generator.events", 1)
	v.SetDefault("lappd.generator.interval", "1ms")
	v.SetDefault("lappd.generator.shuffle", false)
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level %q (must be debug/info/warn/error): %w", cfg.Log.Level, core.ErrConfigInvalid)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format %q (must be json/text): %w", cfg.Log.Format, core.ErrConfigInvalid)
	}

	// ── Intake validation ──
	in := &cfg.Intake
	if len(in.Ports) == 0 {
		return fmt.Errorf("intake.ports must list at least one port: %w", core.ErrConfigInvalid)
	}
	seen := make(map[int]bool, len(in.Ports))
	for _, p := range in.Ports {
		if p <= 0 || p > 0xffff {
			return fmt.Errorf("invalid intake port %d: %w", p, core.ErrConfigInvalid)
		}
		if seen[p] {
			return fmt.Errorf("intake port %d listed twice: %w", p, core.ErrConfigInvalid)
		}
		seen[p] = true
	}
	if in.LeftMask < 0 || in.LeftMask >= core.MaxSamples {
		return fmt.Errorf("intake.left_mask %d outside [0, %d): %w", in.LeftMask, core.MaxSamples, core.ErrConfigInvalid)
	}
	if in.MaxOrphans < 0 {
		return fmt.Errorf("intake.max_orphans %d is negative: %w", in.MaxOrphans, core.ErrConfigInvalid)
	}
	if in.Capacity <= 0 {
		in.Capacity = 100
	}
	if in.BatchSize <= 0 {
		in.BatchSize = 32
	}
	if in.BufferSize <= 0 {
		in.BufferSize = 9000
	}

	// ── Pipeline ──
	if cfg.Pipeline.QueueSize <= 0 {
		cfg.Pipeline.QueueSize = 1024
	}
	if cfg.Pipeline.Workers <= 0 {
		cfg.Pipeline.Workers = 1
	}

	// ── Reporters ──
	for i, r := range cfg.Reporters {
		if r.Name == "" {
			return fmt.Errorf("reporters[%d] has no name: %w", i, core.ErrConfigInvalid)
		}
	}

	// ── Calibration ──
	if cfg.Calibration.CondDB.DSN != "" && cfg.Calibration.CondDB.Board == "" {
		return fmt.Errorf("calibration.conddb.board is required with a dsn: %w", core.ErrConfigInvalid)
	}

	// ── Generator ──
	g := &cfg.Generator
	if g.Resolution < 0 || g.Resolution > core.MaxResolution {
		return fmt.Errorf("generator.resolution %d outside [0, %d]: %w", g.Resolution, core.MaxResolution, core.ErrConfigInvalid)
	}
	if g.Offset < 0 || g.Offset >= core.MaxSamples {
		return fmt.Errorf("generator.offset %d outside [0, %d): %w", g.Offset, core.MaxSamples, core.ErrConfigInvalid)
	}
	for _, ch := range g.Channels {
		if ch < 0 || ch > 0xff {
			return fmt.Errorf("generator channel %d does not fit a byte: %w", ch, core.ErrConfigInvalid)
		}
	}
	if g.MTU <= 0 {
		g.MTU = core.DefaultMTU
	}
	return nil
}
