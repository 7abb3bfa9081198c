package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tracking and fall
// classification thresholds. The schema matches the /api/config endpoint so
// the same JSON can be used for startup configuration and inspection.
type TuningConfig struct {
	// Tracker params
	IoUThreshold *float64 `json:"iou_threshold,omitempty"`

	// Classifier params
	PoseAngleDeg       *float64 `json:"pose_angle_deg,omitempty"`
	AspectRatio        *float64 `json:"aspect_ratio,omitempty"`
	MotionDropFraction *float64 `json:"motion_drop_fraction,omitempty"`
	HistoryLen         *int     `json:"history_len,omitempty"`
	FlagWindow         *int     `json:"flag_window,omitempty"`
	MinPersistence     *int     `json:"min_persistence,omitempty"`

	// Delivery params
	QueueSize        *int    `json:"queue_size,omitempty"`
	SubscriberBuffer *int    `json:"subscriber_buffer,omitempty"`
	DeliveryTimeout  *string `json:"delivery_timeout,omitempty"` // duration string like "500ms"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// from the built-in defaults.
func DefaultTuningConfig() *TuningConfig {
	c := EmptyTuningConfig()
	return &TuningConfig{
		IoUThreshold:       ptrFloat64(c.GetIoUThreshold()),
		PoseAngleDeg:       ptrFloat64(c.GetPoseAngleDeg()),
		AspectRatio:        ptrFloat64(c.GetAspectRatio()),
		MotionDropFraction: ptrFloat64(c.GetMotionDropFraction()),
		HistoryLen:         ptrInt(c.GetHistoryLen()),
		FlagWindow:         ptrInt(c.GetFlagWindow()),
		MinPersistence:     ptrInt(c.GetMinPersistence()),
		QueueSize:          ptrInt(c.GetQueueSize()),
		SubscriberBuffer:   ptrInt(c.GetSubscriberBuffer()),
		DeliveryTimeout:    ptrString(c.GetDeliveryTimeout().String()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file fall back to their defaults, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
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

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,          // from cmd/fallwatch with cwd cmd/
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // deeper packages
		"../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.IoUThreshold != nil {
		if *c.IoUThreshold <= 0 || *c.IoUThreshold > 1 {
			return fmt.Errorf("iou_threshold must be in (0, 1], got %f", *c.IoUThreshold)
		}
	}

	if c.PoseAngleDeg != nil {
		if *c.PoseAngleDeg <= 0 || *c.PoseAngleDeg > 90 {
			return fmt.Errorf("pose_angle_deg must be in (0, 90], got %f", *c.PoseAngleDeg)
		}
	}

	if c.AspectRatio != nil && *c.AspectRatio <= 0 {
		return fmt.Errorf("aspect_ratio must be positive, got %f", *c.AspectRatio)
	}

	if c.MotionDropFraction != nil && *c.MotionDropFraction <= 0 {
		return fmt.Errorf("motion_drop_fraction must be positive, got %f", *c.MotionDropFraction)
	}

	for _, f := range []struct {
		name string
		v    *int
	}{
		{"history_len", c.HistoryLen},
		{"flag_window", c.FlagWindow},
		{"min_persistence", c.MinPersistence},
		{"queue_size", c.QueueSize},
		{"subscriber_buffer", c.SubscriberBuffer},
	} {
		if f.v != nil && *f.v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", f.name, *f.v)
		}
	}

	if c.GetMinPersistence() > c.GetFlagWindow() {
		return fmt.Errorf("min_persistence (%d) cannot exceed flag_window (%d)",
			c.GetMinPersistence(), c.GetFlagWindow())
	}

	// Validate DeliveryTimeout can be parsed if set
	if c.DeliveryTimeout != nil && *c.DeliveryTimeout != "" {
		d, err := time.ParseDuration(*c.DeliveryTimeout)
		if err != nil {
			return fmt.Errorf("invalid delivery_timeout '%s': %w", *c.DeliveryTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("delivery_timeout must be positive, got %s", d)
		}
	}

	return nil
}

// GetIoUThreshold returns the iou_threshold value or the default.
func (c *TuningConfig) GetIoUThreshold() float64 {
	if c.IoUThreshold == nil {
		return 0.3
	}
	return *c.IoUThreshold
}

// GetPoseAngleDeg returns the pose_angle_deg value or the default.
func (c *TuningConfig) GetPoseAngleDeg() float64 {
	if c.PoseAngleDeg == nil {
		return 30
	}
	return *c.PoseAngleDeg
}

// GetAspectRatio returns the aspect_ratio value or the default.
func (c *TuningConfig) GetAspectRatio() float64 {
	if c.AspectRatio == nil {
		return 1.5
	}
	return *c.AspectRatio
}

// GetMotionDropFraction returns the motion_drop_fraction value or the default.
func (c *TuningConfig) GetMotionDropFraction() float64 {
	if c.MotionDropFraction == nil {
		return 0.5
	}
	return *c.MotionDropFraction
}

// GetHistoryLen returns the history_len value or the default.
func (c *TuningConfig) GetHistoryLen() int {
	if c.HistoryLen == nil {
		return 10
	}
	return *c.HistoryLen
}

// GetFlagWindow returns the flag_window value or the default.
func (c *TuningConfig) GetFlagWindow() int {
	if c.FlagWindow == nil {
		return 2
	}
	return *c.FlagWindow
}

// GetMinPersistence returns the min_persistence value or the default.
func (c *TuningConfig) GetMinPersistence() int {
	if c.MinPersistence == nil {
		return 2
	}
	return *c.MinPersistence
}

// GetQueueSize returns the queue_size value or the default.
func (c *TuningConfig) GetQueueSize() int {
	if c.QueueSize == nil {
		return 256
	}
	return *c.QueueSize
}

// GetSubscriberBuffer returns the subscriber_buffer value or the default.
func (c *TuningConfig) GetSubscriberBuffer() int {
	if c.SubscriberBuffer == nil {
		return 32
	}
	return *c.SubscriberBuffer
}

// GetDeliveryTimeout parses and returns the DeliveryTimeout as a time.Duration.
func (c *TuningConfig) GetDeliveryTimeout() time.Duration {
	if c.DeliveryTimeout == nil || *c.DeliveryTimeout == "" {
		return 500 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.DeliveryTimeout)
	if err != nil {
		return 500 * time.Millisecond // default on parse error
	}
	return d
}
