package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultTuningConfig(t *testing.T) {
	cfg := DefaultTuningConfig()

	if cfg.IoUThreshold == nil || *cfg.IoUThreshold != 0.3 {
		t.Errorf("Expected IoUThreshold 0.3, got %v", cfg.IoUThreshold)
	}
	if cfg.PoseAngleDeg == nil || *cfg.PoseAngleDeg != 30 {
		t.Errorf("Expected PoseAngleDeg 30, got %v", cfg.PoseAngleDeg)
	}
	if cfg.FlagWindow == nil || *cfg.FlagWindow != 2 {
		t.Errorf("Expected FlagWindow 2, got %v", cfg.FlagWindow)
	}
	if cfg.DeliveryTimeout == nil || *cfg.DeliveryTimeout != "500ms" {
		t.Errorf("Expected DeliveryTimeout '500ms', got %v", cfg.DeliveryTimeout)
	}

	if cfg.GetAspectRatio() != 1.5 {
		t.Errorf("GetAspectRatio() = %f, want 1.5", cfg.GetAspectRatio())
	}
	if cfg.GetMotionDropFraction() != 0.5 {
		t.Errorf("GetMotionDropFraction() = %f, want 0.5", cfg.GetMotionDropFraction())
	}
	if cfg.GetHistoryLen() != 10 {
		t.Errorf("GetHistoryLen() = %d, want 10", cfg.GetHistoryLen())
	}
	if cfg.GetMinPersistence() != 2 {
		t.Errorf("GetMinPersistence() = %d, want 2", cfg.GetMinPersistence())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultTuningConfig() should validate, got %v", err)
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "iou_threshold": 0.45,
  "pose_angle_deg": 40,
  "flag_window": 3,
  "min_persistence": 2,
  "delivery_timeout": "250ms"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetIoUThreshold() != 0.45 {
		t.Errorf("Expected IoUThreshold 0.45, got %v", cfg.GetIoUThreshold())
	}
	if cfg.GetPoseAngleDeg() != 40 {
		t.Errorf("Expected PoseAngleDeg 40, got %v", cfg.GetPoseAngleDeg())
	}
	if cfg.GetFlagWindow() != 3 {
		t.Errorf("Expected FlagWindow 3, got %d", cfg.GetFlagWindow())
	}
	if cfg.GetDeliveryTimeout() != 250*time.Millisecond {
		t.Errorf("Expected DeliveryTimeout 250ms, got %v", cfg.GetDeliveryTimeout())
	}
	// Omitted fields fall back to defaults.
	if cfg.AspectRatio != nil {
		t.Errorf("Expected AspectRatio unset, got %v", *cfg.AspectRatio)
	}
	if cfg.GetAspectRatio() != 1.5 {
		t.Errorf("Expected default AspectRatio 1.5, got %v", cfg.GetAspectRatio())
	}
}

func TestLoadTuningConfigMissing(t *testing.T) {
	_, err := LoadTuningConfig("/nonexistent/path/to/config.json")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadTuningConfigWrongExtension(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("{}"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	if _, err := LoadTuningConfig(configPath); err == nil {
		t.Error("Expected error for non-.json extension, got nil")
	}
}

func TestLoadTuningConfigTooLarge(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "big.json")
	big := make([]byte, 1024*1024+1)
	for i := range big {
		big[i] = ' '
	}
	if err := os.WriteFile(configPath, big, 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	if _, err := LoadTuningConfig(configPath); err == nil {
		t.Error("Expected error for oversized config, got nil")
	}
}

func TestLoadTuningConfigInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid_config.json")

	invalidJSON := `{
  "iou_threshold": "invalid"
`
	if err := os.WriteFile(configPath, []byte(invalidJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadTuningConfig(configPath)
	if err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}
}

func TestLoadTuningConfigRejectsInvalidValues(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad_values.json")
	if err := os.WriteFile(configPath, []byte(`{"aspect_ratio": 0}`), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	if _, err := LoadTuningConfig(configPath); err == nil {
		t.Error("Expected validation error for aspect_ratio 0, got nil")
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	def := DefaultTuningConfig()

	if cfg.GetIoUThreshold() != def.GetIoUThreshold() {
		t.Errorf("defaults file iou_threshold = %v, built-in %v", cfg.GetIoUThreshold(), def.GetIoUThreshold())
	}
	if cfg.GetPoseAngleDeg() != def.GetPoseAngleDeg() {
		t.Errorf("defaults file pose_angle_deg = %v, built-in %v", cfg.GetPoseAngleDeg(), def.GetPoseAngleDeg())
	}
	if cfg.GetFlagWindow() != def.GetFlagWindow() {
		t.Errorf("defaults file flag_window = %v, built-in %v", cfg.GetFlagWindow(), def.GetFlagWindow())
	}
	if cfg.GetMinPersistence() != def.GetMinPersistence() {
		t.Errorf("defaults file min_persistence = %v, built-in %v", cfg.GetMinPersistence(), def.GetMinPersistence())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *TuningConfig
		wantErr bool
	}{
		{
			name:    "valid config",
			cfg:     DefaultTuningConfig(),
			wantErr: false,
		},
		{
			name:    "empty config is valid",
			cfg:     &TuningConfig{},
			wantErr: false,
		},
		{
			name:    "zero iou threshold",
			cfg:     &TuningConfig{IoUThreshold: ptrFloat64(0)},
			wantErr: true,
		},
		{
			name:    "iou threshold above one",
			cfg:     &TuningConfig{IoUThreshold: ptrFloat64(1.2)},
			wantErr: true,
		},
		{
			name:    "negative pose angle",
			cfg:     &TuningConfig{PoseAngleDeg: ptrFloat64(-5)},
			wantErr: true,
		},
		{
			name:    "pose angle beyond vertical",
			cfg:     &TuningConfig{PoseAngleDeg: ptrFloat64(120)},
			wantErr: true,
		},
		{
			name:    "zero motion fraction",
			cfg:     &TuningConfig{MotionDropFraction: ptrFloat64(0)},
			wantErr: true,
		},
		{
			name:    "zero history",
			cfg:     &TuningConfig{HistoryLen: ptrInt(0)},
			wantErr: true,
		},
		{
			name:    "persistence larger than window",
			cfg:     &TuningConfig{FlagWindow: ptrInt(2), MinPersistence: ptrInt(3)},
			wantErr: true,
		},
		{
			name:    "persistence checked against default window",
			cfg:     &TuningConfig{MinPersistence: ptrInt(5)},
			wantErr: true,
		},
		{
			name:    "invalid delivery timeout",
			cfg:     &TuningConfig{DeliveryTimeout: ptrString("soon")},
			wantErr: true,
		},
		{
			name:    "negative delivery timeout",
			cfg:     &TuningConfig{DeliveryTimeout: ptrString("-1s")},
			wantErr: true,
		},
		{
			name:    "zero queue size",
			cfg:     &TuningConfig{QueueSize: ptrInt(0)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetDeliveryTimeout(t *testing.T) {
	tests := []struct {
		name string
		cfg  *TuningConfig
		want time.Duration
	}{
		{
			name: "explicit",
			cfg:  &TuningConfig{DeliveryTimeout: ptrString("2s")},
			want: 2 * time.Second,
		},
		{
			name: "unset",
			cfg:  &TuningConfig{},
			want: 500 * time.Millisecond,
		},
		{
			name: "empty string",
			cfg:  &TuningConfig{DeliveryTimeout: ptrString("")},
			want: 500 * time.Millisecond,
		},
		{
			name: "unparseable falls back",
			cfg:  &TuningConfig{DeliveryTimeout: ptrString("nope")},
			want: 500 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetDeliveryTimeout(); got != tt.want {
				t.Errorf("GetDeliveryTimeout() = %v, want %v", got, tt.want)
			}
		})
	}
}
