// Package config loads the YAML configuration shared by the server and
// client binaries and converts it into the per-package configs.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rewind/internal/clocksync"
	"rewind/internal/correction"
	"rewind/internal/engine"
	"rewind/internal/input"
	"rewind/internal/interpolation"
	"rewind/internal/prediction"
	"rewind/internal/server"
	"rewind/internal/sim"
	"rewind/logging"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the file layout. Durations are Go duration strings such as
// "16ms" or "1s".
type Config struct {
	TickDuration  string              `yaml:"tick_duration" json:"tick_duration"`
	Server        ServerConfig        `yaml:"server" json:"server"`
	Client        ClientConfig        `yaml:"client" json:"client"`
	Sync          SyncConfig          `yaml:"sync" json:"sync"`
	Input         InputConfig         `yaml:"input" json:"input"`
	Prediction    PredictionConfig    `yaml:"prediction" json:"prediction"`
	Correction    CorrectionConfig    `yaml:"correction" json:"correction"`
	Interpolation InterpolationConfig `yaml:"interpolation" json:"interpolation"`
	Simulation    sim.Config          `yaml:"simulation" json:"simulation"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Store         StoreConfig         `yaml:"store" json:"store"`
}

type ServerConfig struct {
	Addr            string `yaml:"addr" json:"addr"`
	SendInterval    string `yaml:"send_interval" json:"send_interval"`
	MaxCatchupTicks int    `yaml:"max_catchup_ticks" json:"max_catchup_ticks"`
	OutboxSize      int    `yaml:"outbox_size" json:"outbox_size"`
}

type ClientConfig struct {
	ServerURL     string `yaml:"server_url" json:"server_url"`
	QueueCapacity int    `yaml:"queue_capacity" json:"queue_capacity"`
	DialTimeout   string `yaml:"dial_timeout" json:"dial_timeout"`
}

type SyncConfig struct {
	ErrorMargin          float64 `yaml:"error_margin" json:"error_margin"`
	MaxErrorMargin       float64 `yaml:"max_error_margin" json:"max_error_margin"`
	SpeedupFactor        float64 `yaml:"speedup_factor" json:"speedup_factor"`
	JitterMultipleMargin float64 `yaml:"jitter_multiple_margin" json:"jitter_multiple_margin"`
	TickMargin           float64 `yaml:"tick_margin" json:"tick_margin"`
	HandshakePings       int     `yaml:"handshake_pings" json:"handshake_pings"`
	PingInterval         string  `yaml:"ping_interval" json:"ping_interval"`
	StatsWindow          int     `yaml:"stats_window" json:"stats_window"`
}

type InputConfig struct {
	DelayTicks    int `yaml:"delay_ticks" json:"delay_ticks"`
	MaxStaleTicks int `yaml:"max_stale_ticks" json:"max_stale_ticks"`
	Redundancy    int `yaml:"redundancy" json:"redundancy"`
}

type PredictionConfig struct {
	MaxRollbackTicks int   `yaml:"max_rollback_ticks" json:"max_rollback_ticks"`
	HistoryDepth     int   `yaml:"history_depth" json:"history_depth"`
	RollbackOnSpawn  *bool `yaml:"rollback_on_spawn" json:"rollback_on_spawn,omitempty"`
	LoopStreak       int   `yaml:"loop_streak" json:"loop_streak"`
}

type CorrectionConfig struct {
	Easing      string  `yaml:"easing" json:"easing" jsonschema:"enum=linear,enum=ease-out-quad,enum=ease-in-out-cubic"`
	TicksFactor float64 `yaml:"ticks_factor" json:"ticks_factor"`
	MinTicks    int     `yaml:"min_ticks" json:"min_ticks"`
	MaxTicks    int     `yaml:"max_ticks" json:"max_ticks"`
}

type InterpolationConfig struct {
	MinDelay          string  `yaml:"min_delay" json:"min_delay"`
	SendIntervalRatio float64 `yaml:"send_interval_ratio" json:"send_interval_ratio"`
}

type LoggingConfig struct {
	Sinks       []string `yaml:"sinks" json:"sinks"`
	MinSeverity string   `yaml:"min_severity" json:"min_severity" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	JSONPath    string   `yaml:"json_path" json:"json_path"`
	BufferSize  int      `yaml:"buffer_size" json:"buffer_size"`
}

// StoreConfig enables the SQLite diagnostics recorder when Path is set.
type StoreConfig struct {
	Path string `yaml:"path" json:"path"`
}

// Default returns the configuration used for every unset field.
func Default() Config {
	eng := engine.DefaultConfig()
	srv := server.DefaultConfig()
	syncCfg := clocksync.DefaultConfig()
	inputCfg := input.DefaultConfig()
	predCfg := prediction.DefaultConfig()
	corrCfg := correction.DefaultConfig()
	interpCfg := interpolation.DefaultConfig()
	logCfg := logging.DefaultConfig()
	rollbackOnSpawn := predCfg.RollbackOnSpawn
	return Config{
		TickDuration: eng.TickDuration.String(),
		Server: ServerConfig{
			Addr:            ":8080",
			SendInterval:    srv.SendInterval.String(),
			MaxCatchupTicks: srv.MaxCatchupTicks,
			OutboxSize:      srv.OutboxSize,
		},
		Client: ClientConfig{
			ServerURL:     "ws://localhost:8080/ws",
			QueueCapacity: eng.QueueCapacity,
			DialTimeout:   "5s",
		},
		Sync: SyncConfig{
			ErrorMargin:          syncCfg.ErrorMargin,
			MaxErrorMargin:       syncCfg.MaxErrorMargin,
			SpeedupFactor:        syncCfg.SpeedupFactor,
			JitterMultipleMargin: syncCfg.JitterMultipleMargin,
			TickMargin:           syncCfg.TickMargin,
			HandshakePings:       syncCfg.HandshakePings,
			PingInterval:         syncCfg.PingInterval.String(),
			StatsWindow:          syncCfg.StatsWindow,
		},
		Input: InputConfig{
			DelayTicks:    inputCfg.DelayTicks,
			MaxStaleTicks: inputCfg.MaxStaleTicks,
			Redundancy:    inputCfg.Redundancy,
		},
		Prediction: PredictionConfig{
			MaxRollbackTicks: predCfg.MaxRollbackTicks,
			HistoryDepth:     predCfg.HistoryDepth,
			RollbackOnSpawn:  &rollbackOnSpawn,
			LoopStreak:       predCfg.LoopStreak,
		},
		Correction: CorrectionConfig{
			Easing:      corrCfg.Easing,
			TicksFactor: corrCfg.TicksFactor,
			MinTicks:    corrCfg.MinTicks,
			MaxTicks:    corrCfg.MaxTicks,
		},
		Interpolation: InterpolationConfig{
			MinDelay:          interpCfg.MinDelay.String(),
			SendIntervalRatio: interpCfg.SendIntervalRatio,
		},
		Simulation: sim.DefaultConfig(),
		Logging: LoggingConfig{
			Sinks:       []string{"console"},
			MinSeverity: logCfg.MinimumSeverity.String(),
			BufferSize:  logCfg.BufferSize,
		},
	}
}

// Load reads a YAML file, fills unset fields from Default and validates the
// result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes the same way Load does.
func Parse(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&c)
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Marshal renders c as YAML.
func (c Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

func applyDefaults(c *Config) {
	d := Default()
	if c.TickDuration == "" {
		c.TickDuration = d.TickDuration
	}

	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.SendInterval == "" {
		c.Server.SendInterval = d.Server.SendInterval
	}
	if c.Server.MaxCatchupTicks == 0 {
		c.Server.MaxCatchupTicks = d.Server.MaxCatchupTicks
	}
	if c.Server.OutboxSize == 0 {
		c.Server.OutboxSize = d.Server.OutboxSize
	}

	if c.Client.ServerURL == "" {
		c.Client.ServerURL = d.Client.ServerURL
	}
	if c.Client.QueueCapacity == 0 {
		c.Client.QueueCapacity = d.Client.QueueCapacity
	}
	if c.Client.DialTimeout == "" {
		c.Client.DialTimeout = d.Client.DialTimeout
	}

	if c.Sync.ErrorMargin == 0 {
		c.Sync.ErrorMargin = d.Sync.ErrorMargin
	}
	if c.Sync.MaxErrorMargin == 0 {
		c.Sync.MaxErrorMargin = d.Sync.MaxErrorMargin
	}
	if c.Sync.SpeedupFactor == 0 {
		c.Sync.SpeedupFactor = d.Sync.SpeedupFactor
	}
	if c.Sync.JitterMultipleMargin == 0 {
		c.Sync.JitterMultipleMargin = d.Sync.JitterMultipleMargin
	}
	if c.Sync.TickMargin == 0 {
		c.Sync.TickMargin = d.Sync.TickMargin
	}
	if c.Sync.HandshakePings == 0 {
		c.Sync.HandshakePings = d.Sync.HandshakePings
	}
	if c.Sync.PingInterval == "" {
		c.Sync.PingInterval = d.Sync.PingInterval
	}
	if c.Sync.StatsWindow == 0 {
		c.Sync.StatsWindow = d.Sync.StatsWindow
	}

	if c.Input.MaxStaleTicks == 0 {
		c.Input.MaxStaleTicks = d.Input.MaxStaleTicks
	}
	if c.Input.Redundancy == 0 {
		c.Input.Redundancy = d.Input.Redundancy
	}

	if c.Prediction.MaxRollbackTicks == 0 {
		c.Prediction.MaxRollbackTicks = d.Prediction.MaxRollbackTicks
	}
	if c.Prediction.HistoryDepth == 0 {
		c.Prediction.HistoryDepth = d.Prediction.HistoryDepth
	}
	if c.Prediction.RollbackOnSpawn == nil {
		c.Prediction.RollbackOnSpawn = d.Prediction.RollbackOnSpawn
	}
	if c.Prediction.LoopStreak == 0 {
		c.Prediction.LoopStreak = d.Prediction.LoopStreak
	}

	if c.Correction.Easing == "" {
		c.Correction.Easing = d.Correction.Easing
	}
	if c.Correction.TicksFactor == 0 {
		c.Correction.TicksFactor = d.Correction.TicksFactor
	}
	if c.Correction.MinTicks == 0 {
		c.Correction.MinTicks = d.Correction.MinTicks
	}
	if c.Correction.MaxTicks == 0 {
		c.Correction.MaxTicks = d.Correction.MaxTicks
	}

	if c.Interpolation.MinDelay == "" {
		c.Interpolation.MinDelay = d.Interpolation.MinDelay
	}
	if c.Interpolation.SendIntervalRatio == 0 {
		c.Interpolation.SendIntervalRatio = d.Interpolation.SendIntervalRatio
	}

	applySimDefaults(&c.Simulation, d.Simulation)

	if len(c.Logging.Sinks) == 0 {
		c.Logging.Sinks = d.Logging.Sinks
	}
	if c.Logging.MinSeverity == "" {
		c.Logging.MinSeverity = d.Logging.MinSeverity
	}
	if c.Logging.BufferSize == 0 {
		c.Logging.BufferSize = d.Logging.BufferSize
	}
}

func applySimDefaults(c *sim.Config, d sim.Config) {
	if c.Accel == 0 {
		c.Accel = d.Accel
	}
	if c.MaxSpeed == 0 {
		c.MaxSpeed = d.MaxSpeed
	}
	if c.BoostFactor == 0 {
		c.BoostFactor = d.BoostFactor
	}
	if c.Friction == 0 {
		c.Friction = d.Friction
	}
	if c.Radius == 0 {
		c.Radius = d.Radius
	}
	if c.Width == 0 {
		c.Width = d.Width
	}
	if c.Height == 0 {
		c.Height = d.Height
	}
	if c.Epsilon == 0 {
		c.Epsilon = d.Epsilon
	}
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	tickDuration, err := parseDuration("tick_duration", c.TickDuration)
	if err != nil {
		return err
	}
	if tickDuration <= 0 {
		return fmt.Errorf("%w: tick_duration must be positive", ErrInvalid)
	}
	for name, raw := range map[string]string{
		"server.send_interval":    c.Server.SendInterval,
		"client.dial_timeout":     c.Client.DialTimeout,
		"sync.ping_interval":      c.Sync.PingInterval,
		"interpolation.min_delay": c.Interpolation.MinDelay,
	} {
		if _, err := parseDuration(name, raw); err != nil {
			return err
		}
	}
	if c.Sync.MaxErrorMargin < c.Sync.ErrorMargin {
		return fmt.Errorf("%w: sync.max_error_margin %.2f below error_margin %.2f", ErrInvalid, c.Sync.MaxErrorMargin, c.Sync.ErrorMargin)
	}
	if c.Sync.SpeedupFactor <= 1 {
		return fmt.Errorf("%w: sync.speedup_factor must exceed 1, got %.3f", ErrInvalid, c.Sync.SpeedupFactor)
	}
	if c.Input.DelayTicks < 0 || c.Input.MaxStaleTicks < 0 {
		return fmt.Errorf("%w: input ticks must not be negative", ErrInvalid)
	}
	// Tick comparisons are only meaningful within half the wrapping range.
	if c.Prediction.MaxRollbackTicks < 1 || c.Prediction.MaxRollbackTicks >= 1<<14 {
		return fmt.Errorf("%w: prediction.max_rollback_ticks out of range: %d", ErrInvalid, c.Prediction.MaxRollbackTicks)
	}
	if c.Prediction.HistoryDepth < c.Prediction.MaxRollbackTicks {
		return fmt.Errorf("%w: prediction.history_depth %d shorter than max_rollback_ticks %d", ErrInvalid, c.Prediction.HistoryDepth, c.Prediction.MaxRollbackTicks)
	}
	if _, err := correction.EasingByName(c.Correction.Easing); err != nil {
		return fmt.Errorf("%w: correction: %v", ErrInvalid, err)
	}
	if c.Correction.MinTicks > c.Correction.MaxTicks {
		return fmt.Errorf("%w: correction.min_ticks %d above max_ticks %d", ErrInvalid, c.Correction.MinTicks, c.Correction.MaxTicks)
	}
	if c.Simulation.Friction <= 0 || c.Simulation.Friction > 1 {
		return fmt.Errorf("%w: simulation.friction must be in (0, 1]", ErrInvalid)
	}
	if _, err := parseSeverity(c.Logging.MinSeverity); err != nil {
		return err
	}
	for _, sink := range c.Logging.Sinks {
		switch sink {
		case "console", "json", "store":
		default:
			return fmt.Errorf("%w: unknown logging sink %q", ErrInvalid, sink)
		}
	}
	if c.Logging.HasSink("json") && c.Logging.JSONPath == "" {
		return fmt.Errorf("%w: logging.json_path required by the json sink", ErrInvalid)
	}
	if c.Logging.HasSink("store") && c.Store.Path == "" {
		return fmt.Errorf("%w: store.path required by the store sink", ErrInvalid)
	}
	return nil
}

func (l LoggingConfig) HasSink(name string) bool {
	for _, s := range l.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

// Engine converts the client-side settings. Call Validate first; malformed
// durations fall back to the package defaults.
func (c Config) Engine() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.TickDuration = durationOr(c.TickDuration, cfg.TickDuration)
	cfg.SendInterval = durationOr(c.Server.SendInterval, cfg.SendInterval)
	cfg.QueueCapacity = c.Client.QueueCapacity
	cfg.MaxCatchupTicks = c.Server.MaxCatchupTicks
	cfg.Sync = c.clockSync()
	cfg.Prediction = c.prediction()
	cfg.Correction = correction.Config{
		Easing:      c.Correction.Easing,
		TicksFactor: c.Correction.TicksFactor,
		MinTicks:    c.Correction.MinTicks,
		MaxTicks:    c.Correction.MaxTicks,
	}
	cfg.Input = c.input()
	cfg.Interpolation = interpolation.Config{
		MinDelay:          durationOr(c.Interpolation.MinDelay, cfg.Interpolation.MinDelay),
		SendIntervalRatio: c.Interpolation.SendIntervalRatio,
	}
	return cfg
}

// ServerConfig converts the authority settings.
func (c Config) ServerConfig() server.Config {
	cfg := server.DefaultConfig()
	cfg.TickDuration = durationOr(c.TickDuration, cfg.TickDuration)
	cfg.SendInterval = durationOr(c.Server.SendInterval, cfg.SendInterval)
	cfg.MaxCatchupTicks = c.Server.MaxCatchupTicks
	cfg.OutboxSize = c.Server.OutboxSize
	cfg.Input = c.input()
	cfg.Prediction = c.prediction()
	return cfg
}

// LoggingRouter converts the logging settings for logging.NewRouter.
func (c Config) LoggingRouter() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.BufferSize = c.Logging.BufferSize
	if severity, err := parseSeverity(c.Logging.MinSeverity); err == nil {
		cfg.MinimumSeverity = severity
	}
	cfg.JSON.FilePath = c.Logging.JSONPath
	return cfg
}

// DialTimeout returns the client dial timeout.
func (c Config) DialTimeout() time.Duration {
	return durationOr(c.Client.DialTimeout, 5*time.Second)
}

func (c Config) clockSync() clocksync.Config {
	cfg := clocksync.DefaultConfig()
	cfg.ErrorMargin = c.Sync.ErrorMargin
	cfg.MaxErrorMargin = c.Sync.MaxErrorMargin
	cfg.SpeedupFactor = c.Sync.SpeedupFactor
	cfg.JitterMultipleMargin = c.Sync.JitterMultipleMargin
	cfg.TickMargin = c.Sync.TickMargin
	cfg.InputDelayTicks = float64(c.Input.DelayTicks)
	cfg.HandshakePings = c.Sync.HandshakePings
	cfg.PingInterval = durationOr(c.Sync.PingInterval, cfg.PingInterval)
	cfg.StatsWindow = c.Sync.StatsWindow
	return cfg
}

func (c Config) prediction() prediction.Config {
	cfg := prediction.DefaultConfig()
	cfg.MaxRollbackTicks = c.Prediction.MaxRollbackTicks
	cfg.HistoryDepth = c.Prediction.HistoryDepth
	if c.Prediction.RollbackOnSpawn != nil {
		cfg.RollbackOnSpawn = *c.Prediction.RollbackOnSpawn
	}
	cfg.LoopStreak = c.Prediction.LoopStreak
	return cfg
}

func (c Config) input() input.Config {
	return input.Config{
		MaxStaleTicks: c.Input.MaxStaleTicks,
		DelayTicks:    c.Input.DelayTicks,
		Redundancy:    c.Input.Redundancy,
	}
}

func parseDuration(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative", ErrInvalid, name)
	}
	return d, nil
}

func durationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseSeverity(raw string) (logging.Severity, error) {
	severity, err := logging.ParseSeverity(raw)
	if err != nil {
		return severity, fmt.Errorf("%w: logging.min_severity: %v", ErrInvalid, err)
	}
	return severity, nil
}
