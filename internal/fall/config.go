package fall

import (
	"fmt"

	"github.com/banshee-data/fallwatch/internal/config"
)

// ClassifierConfig holds the fall heuristic thresholds.
type ClassifierConfig struct {
	PoseAngleDeg       float64 // Torso angle from horizontal below which the pose signal fires
	AspectRatio        float64 // Width/height above which the aspect signal fires
	MotionDropFraction float64 // Fraction of previous height the top edge must drop by
	HistoryLen         int     // Boxes kept per identity
	FlagWindow         int     // Combined flags kept per identity
	MinPersistence     int     // Flagged frames in the window needed to enter the fallen state
}

// DefaultClassifierConfig returns default classifier configuration.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		PoseAngleDeg:       30,
		AspectRatio:        1.5,
		MotionDropFraction: 0.5,
		HistoryLen:         10,
		FlagWindow:         2,
		MinPersistence:     2,
	}
}

// ClassifierConfigFromTuning derives classifier config from a TuningConfig.
func ClassifierConfigFromTuning(c *config.TuningConfig) ClassifierConfig {
	return ClassifierConfig{
		PoseAngleDeg:       c.GetPoseAngleDeg(),
		AspectRatio:        c.GetAspectRatio(),
		MotionDropFraction: c.GetMotionDropFraction(),
		HistoryLen:         c.GetHistoryLen(),
		FlagWindow:         c.GetFlagWindow(),
		MinPersistence:     c.GetMinPersistence(),
	}
}

func (c ClassifierConfig) check() error {
	switch {
	case !(c.PoseAngleDeg > 0):
		return fmt.Errorf("pose angle threshold must be positive, got %v", c.PoseAngleDeg)
	case !(c.AspectRatio > 0):
		return fmt.Errorf("aspect ratio threshold must be positive, got %v", c.AspectRatio)
	case !(c.MotionDropFraction > 0):
		return fmt.Errorf("motion drop fraction must be positive, got %v", c.MotionDropFraction)
	case c.HistoryLen <= 0:
		return fmt.Errorf("history length must be positive, got %d", c.HistoryLen)
	case c.FlagWindow <= 0:
		return fmt.Errorf("flag window must be positive, got %d", c.FlagWindow)
	case c.MinPersistence <= 0:
		return fmt.Errorf("min persistence must be positive, got %d", c.MinPersistence)
	case c.MinPersistence > c.FlagWindow:
		return fmt.Errorf("min persistence %d exceeds flag window %d", c.MinPersistence, c.FlagWindow)
	}
	return nil
}
