// Package config implements the pipeline's pointer-field JSON tuning
// config: every field defaults to the documented constant when nil, so
// a partial override file only needs to name what it changes.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/hwt905-edge/internal/units"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig holds every tunable knob of the ingest pipeline and motion
// processor (spec §4.4, §4.5) plus the serial transport and storage
// layers. It is loaded once at startup; no admin endpoint reads or
// changes it at runtime.
type TuningConfig struct {
	// Transport (C3) params.
	Baudrate          *int    `json:"baudrate,omitempty"`
	PreferredPort     *string `json:"preferred_port,omitempty"`
	ErrorThreshold    *int    `json:"error_threshold,omitempty"`
	MaxBackoffSeconds *int    `json:"max_backoff_seconds,omitempty"`

	// Ingest pipeline (C4) params.
	QueueCapacity      *int    `json:"queue_capacity,omitempty"`
	StageGetTimeout    *string `json:"stage_get_timeout,omitempty"`    // duration string like "1s"
	StageJoinTimeout   *string `json:"stage_join_timeout,omitempty"`   // duration string like "5s"
	RateReportInterval *string `json:"rate_report_interval,omitempty"` // duration string like "10s"

	// Motion processor (C5) params.
	SampleFrameSize     *int     `json:"sample_frame_size,omitempty"`
	CalcFrameMultiplier *int     `json:"calc_frame_multiplier,omitempty"`
	SampleDtSeconds     *float64 `json:"sample_dt_seconds,omitempty"`
	ForgettingFactor    *float64 `json:"forgetting_factor,omitempty"` // RLS q, (0,1]
	WarmupFrames        *int     `json:"warmup_frames,omitempty"`
	FilterKind          *string  `json:"filter_kind,omitempty"` // "none" | "ema" | "sma"
	FilterWindow        *int     `json:"filter_window,omitempty"`
	FilterAlpha         *float64 `json:"filter_alpha,omitempty"`
	NFFT                *int     `json:"nfft,omitempty"`
	MinFreqHz           *float64 `json:"min_freq_hz,omitempty"`
	MaxFreqHz           *float64 `json:"max_freq_hz,omitempty"` // 0 means Nyquist

	// Storage (C6) params.
	RotationInterval *string `json:"rotation_interval,omitempty"` // duration string like "1h"
	StartupMode      *string `json:"startup_mode,omitempty"`      // "new_file" | "continue_file"
	OutputDir        *string `json:"output_dir,omitempty"`

	// GPS speed reporting unit, applied at the storage/reporting boundary
	// (internal/units.ConvertSpeed): "mps" | "mph" | "kmph" | "kph".
	GPSSpeedUnit *string `json:"gps_speed_unit,omitempty"`
}

// Helper functions to create pointers.
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file must
// have a .json extension and be under the max file size. Fields omitted
// from the JSON retain their zero value, so Get* accessors fall back to
// defaults for anything not specified — partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from
// DefaultConfigPath, searching from the current directory up to the repo
// root. Panics if the file cannot be loaded; intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
		"../../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that any set field holds a structurally valid value.
// Unset (nil) fields never fail validation — see Get* for their defaults.
func (c *TuningConfig) Validate() error {
	if c.Baudrate != nil && *c.Baudrate <= 0 {
		return fmt.Errorf("baudrate must be positive, got %d", *c.Baudrate)
	}
	if c.QueueCapacity != nil && *c.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be positive, got %d", *c.QueueCapacity)
	}
	if c.ForgettingFactor != nil && (*c.ForgettingFactor <= 0 || *c.ForgettingFactor > 1) {
		return fmt.Errorf("forgetting_factor must be in (0, 1], got %f", *c.ForgettingFactor)
	}
	if c.SampleFrameSize != nil && *c.SampleFrameSize <= 0 {
		return fmt.Errorf("sample_frame_size must be positive, got %d", *c.SampleFrameSize)
	}
	if c.CalcFrameMultiplier != nil && *c.CalcFrameMultiplier <= 0 {
		return fmt.Errorf("calc_frame_multiplier must be positive, got %d", *c.CalcFrameMultiplier)
	}
	if c.NFFT != nil && *c.NFFT <= 0 {
		return fmt.Errorf("nfft must be positive, got %d", *c.NFFT)
	}
	if c.FilterKind != nil {
		switch *c.FilterKind {
		case "none", "ema", "sma":
		default:
			return fmt.Errorf("filter_kind must be one of none|ema|sma, got %q", *c.FilterKind)
		}
	}
	if c.StartupMode != nil {
		switch *c.StartupMode {
		case "new_file", "continue_file":
		default:
			return fmt.Errorf("startup_mode must be one of new_file|continue_file, got %q", *c.StartupMode)
		}
	}
	if c.GPSSpeedUnit != nil && !units.IsValid(*c.GPSSpeedUnit) {
		return fmt.Errorf("gps_speed_unit must be one of %s, got %q", units.GetValidUnitsString(), *c.GPSSpeedUnit)
	}
	for name, v := range map[string]*string{
		"stage_get_timeout":    c.StageGetTimeout,
		"stage_join_timeout":   c.StageJoinTimeout,
		"rate_report_interval": c.RateReportInterval,
		"rotation_interval":    c.RotationInterval,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s %q: %w", name, *v, err)
			}
		}
	}
	return nil
}

func getDuration(s *string, fallback time.Duration) time.Duration {
	if s == nil || *s == "" {
		return fallback
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return fallback
	}
	return d
}

// GetBaudrate returns the configured baudrate or the sensor's default.
func (c *TuningConfig) GetBaudrate() int {
	if c.Baudrate == nil {
		return 9600
	}
	return *c.Baudrate
}

// GetErrorThreshold returns the consecutive-read-error count that
// triggers a reconnect, or the supervisor default of 3.
func (c *TuningConfig) GetErrorThreshold() int {
	if c.ErrorThreshold == nil {
		return 3
	}
	return *c.ErrorThreshold
}

// GetMaxBackoffSeconds returns the backoff ceiling, or the default 10s.
func (c *TuningConfig) GetMaxBackoffSeconds() int {
	if c.MaxBackoffSeconds == nil {
		return 10
	}
	return *c.MaxBackoffSeconds
}

// GetQueueCapacity returns the inter-stage queue depth, or the spec
// default of 8192.
func (c *TuningConfig) GetQueueCapacity() int {
	if c.QueueCapacity == nil {
		return 8192
	}
	return *c.QueueCapacity
}

// GetStageGetTimeout returns how long a stage blocks on an empty queue
// before re-checking its shutdown flag, or the default 1s.
func (c *TuningConfig) GetStageGetTimeout() time.Duration {
	return getDuration(c.StageGetTimeout, time.Second)
}

// GetStageJoinTimeout returns how long shutdown waits for a stage to
// finish before abandoning it, or the default 5s.
func (c *TuningConfig) GetStageJoinTimeout() time.Duration {
	return getDuration(c.StageJoinTimeout, 5*time.Second)
}

// GetRateReportInterval returns the throughput-logging period, or the
// default 10s.
func (c *TuningConfig) GetRateReportInterval() time.Duration {
	return getDuration(c.RateReportInterval, 10*time.Second)
}

// GetSampleFrameSize returns N, or the default 20.
func (c *TuningConfig) GetSampleFrameSize() int {
	if c.SampleFrameSize == nil {
		return 20
	}
	return *c.SampleFrameSize
}

// GetCalcFrameMultiplier returns M, or the default 100.
func (c *TuningConfig) GetCalcFrameMultiplier() int {
	if c.CalcFrameMultiplier == nil {
		return 100
	}
	return *c.CalcFrameMultiplier
}

// GetSampleDtSeconds returns the fixed sample period, or 0.005 (200Hz).
func (c *TuningConfig) GetSampleDtSeconds() float64 {
	if c.SampleDtSeconds == nil || *c.SampleDtSeconds <= 0 {
		return 0.005
	}
	return *c.SampleDtSeconds
}

// GetForgettingFactor returns the RLS forgetting factor q, or 0.9825.
func (c *TuningConfig) GetForgettingFactor() float64 {
	if c.ForgettingFactor == nil || *c.ForgettingFactor <= 0 {
		return 0.9825
	}
	return *c.ForgettingFactor
}

// GetWarmupFrames returns how many initial frames are suppressed, or 5.
func (c *TuningConfig) GetWarmupFrames() int {
	if c.WarmupFrames == nil {
		return 5
	}
	return *c.WarmupFrames
}

// GetFilterKind returns the front-end filter selection, or "none".
func (c *TuningConfig) GetFilterKind() string {
	if c.FilterKind == nil || *c.FilterKind == "" {
		return "none"
	}
	return *c.FilterKind
}

// GetFilterWindow returns the filter's window length, or 5.
func (c *TuningConfig) GetFilterWindow() int {
	if c.FilterWindow == nil || *c.FilterWindow <= 0 {
		return 5
	}
	return *c.FilterWindow
}

// GetFilterAlpha returns the EMA smoothing factor, or 0.2.
func (c *TuningConfig) GetFilterAlpha() float64 {
	if c.FilterAlpha == nil || *c.FilterAlpha <= 0 {
		return 0.2
	}
	return *c.FilterAlpha
}

// GetNFFT returns the FFT window length, or 512.
func (c *TuningConfig) GetNFFT() int {
	if c.NFFT == nil {
		return 512
	}
	return *c.NFFT
}

// GetMinFreqHz returns the low edge of the reported frequency band, or 0.1.
func (c *TuningConfig) GetMinFreqHz() float64 {
	if c.MinFreqHz == nil || *c.MinFreqHz <= 0 {
		return 0.1
	}
	return *c.MinFreqHz
}

// GetMaxFreqHz returns the high edge of the reported frequency band, or
// the Nyquist frequency for GetSampleDtSeconds when unset.
func (c *TuningConfig) GetMaxFreqHz() float64 {
	if c.MaxFreqHz == nil || *c.MaxFreqHz <= 0 {
		return 1 / (2 * c.GetSampleDtSeconds())
	}
	return *c.MaxFreqHz
}

// GetRotationInterval returns the CSV sink's rotation period, or 1h.
func (c *TuningConfig) GetRotationInterval() time.Duration {
	return getDuration(c.RotationInterval, time.Hour)
}

// GetStartupMode returns "new_file" or "continue_file", defaulting to
// "new_file".
func (c *TuningConfig) GetStartupMode() string {
	if c.StartupMode == nil || *c.StartupMode == "" {
		return "new_file"
	}
	return *c.StartupMode
}

// GetOutputDir returns the CSV output directory, or "data".
func (c *TuningConfig) GetOutputDir() string {
	if c.OutputDir == nil || *c.OutputDir == "" {
		return "data"
	}
	return *c.OutputDir
}

// GetPreferredPort returns the preferred serial port name, or "" (meaning
// "use the first port discovered").
func (c *TuningConfig) GetPreferredPort() string {
	if c.PreferredPort == nil {
		return ""
	}
	return *c.PreferredPort
}

// GetGPSSpeedUnit returns the unit GPS_SPEED ground speed is reported in,
// or units.KMPH (the sensor's native unit) when unset.
func (c *TuningConfig) GetGPSSpeedUnit() string {
	if c.GPSSpeedUnit == nil || *c.GPSSpeedUnit == "" {
		return units.KMPH
	}
	return *c.GPSSpeedUnit
}
