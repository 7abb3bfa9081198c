package fall

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fallwatch/internal/config"
	"github.com/banshee-data/fallwatch/internal/detect"
)

var (
	uprightBox = detect.Box{X: 100, Y: 100, W: 50, H: 150}
	fallenBox  = detect.Box{X: 100, Y: 240, W: 160, H: 60}
)

// uprightPose has the hips straight below the shoulders.
func uprightPose() detect.Keypoints {
	return detect.Keypoints{
		detect.LeftShoulder:  {X: 115, Y: 130},
		detect.RightShoulder: {X: 135, Y: 130},
		detect.LeftHip:       {X: 118, Y: 190},
		detect.RightHip:      {X: 132, Y: 190},
	}
}

// lyingPose has the torso close to horizontal, head to the left.
func lyingPose() detect.Keypoints {
	return detect.Keypoints{
		detect.LeftShoulder:  {X: 120, Y: 262},
		detect.RightShoulder: {X: 122, Y: 278},
		detect.LeftHip:       {X: 200, Y: 266},
		detect.RightHip:      {X: 202, Y: 282},
	}
}

func TestClassifierScenario(t *testing.T) {
	t.Parallel()
	c := NewClassifier(DefaultClassifierConfig())

	v1 := c.Evaluate(1, uprightBox, uprightPose())
	assert.False(t, v1.Combined)
	assert.False(t, v1.Alert)

	v2 := c.Evaluate(1, fallenBox, lyingPose())
	assert.True(t, v2.Pose, "torso angle %.1f", v2.TorsoAngleDeg)
	assert.True(t, v2.Aspect)
	assert.True(t, v2.Motion, "drop %.1f", v2.DropPx)
	assert.True(t, v2.Combined)
	assert.False(t, v2.Fallen)
	assert.False(t, v2.Alert)

	v3 := c.Evaluate(1, fallenBox, lyingPose())
	assert.True(t, v3.Combined)
	assert.False(t, v3.Motion)
	assert.True(t, v3.Fallen)
	assert.True(t, v3.Alert)
	assert.Equal(t, StateAlerted, c.State(1))

	v4 := c.Evaluate(1, fallenBox, lyingPose())
	assert.True(t, v4.Fallen)
	assert.False(t, v4.Alert)
}

func TestClassifierHysteresis(t *testing.T) {
	t.Parallel()

	t.Run("one alert per sustained fall", func(t *testing.T) {
		t.Parallel()
		c := NewClassifier(DefaultClassifierConfig())

		alerts := 0
		for i := 0; i < 10; i++ {
			if c.Classify(7, fallenBox, lyingPose()) {
				alerts++
			}
		}
		assert.Equal(t, 1, alerts)
	})

	t.Run("recovery then second fall re-alerts", func(t *testing.T) {
		t.Parallel()
		c := NewClassifier(DefaultClassifierConfig())

		got := []bool{
			c.Classify(1, fallenBox, lyingPose()),
			c.Classify(1, fallenBox, lyingPose()),
			c.Classify(1, fallenBox, lyingPose()),
			c.Classify(1, uprightBox, uprightPose()),
			c.Classify(1, fallenBox, lyingPose()),
			c.Classify(1, fallenBox, lyingPose()),
		}
		assert.Equal(t, []bool{false, true, false, false, false, true}, got)
	})

	t.Run("single recovered frame clears immediately", func(t *testing.T) {
		t.Parallel()
		// Window of 3 needing 2: after T,T,F the window still holds two
		// flags, yet the alerted state must already be cleared.
		cfg := DefaultClassifierConfig()
		cfg.FlagWindow = 3
		c := NewClassifier(cfg)

		assert.False(t, c.Classify(1, fallenBox, lyingPose()))
		assert.True(t, c.Classify(1, fallenBox, lyingPose()))
		assert.False(t, c.Classify(1, uprightBox, uprightPose()))
		assert.Equal(t, StateNormal, c.State(1))

		// Window is now T,F,T: two flags, not alerted, so it fires again.
		assert.True(t, c.Classify(1, fallenBox, lyingPose()))
	})

	t.Run("identities are independent", func(t *testing.T) {
		t.Parallel()
		c := NewClassifier(DefaultClassifierConfig())

		assert.False(t, c.Classify(1, fallenBox, lyingPose()))
		assert.False(t, c.Classify(2, uprightBox, uprightPose()))
		assert.True(t, c.Classify(1, fallenBox, lyingPose()))
		assert.False(t, c.Classify(2, uprightBox, uprightPose()))
		assert.Equal(t, StateNormal, c.State(2))
	})

	t.Run("persistence of one alerts on first flagged frame", func(t *testing.T) {
		t.Parallel()
		cfg := DefaultClassifierConfig()
		cfg.FlagWindow = 1
		cfg.MinPersistence = 1
		c := NewClassifier(cfg)

		assert.True(t, c.Classify(1, fallenBox, lyingPose()))
		assert.False(t, c.Classify(1, fallenBox, lyingPose()))
	})
}

func TestClassifierWithoutKeypoints(t *testing.T) {
	t.Parallel()
	c := NewClassifier(DefaultClassifierConfig())

	assert.NotPanics(t, func() {
		v := c.Evaluate(3, uprightBox, nil)
		assert.False(t, v.Pose)
		assert.False(t, v.PoseKnown)
	})

	// Aspect and motion alone still reach two signals.
	v := c.Evaluate(3, fallenBox, nil)
	assert.False(t, v.Pose)
	assert.True(t, v.Aspect)
	assert.True(t, v.Motion)
	assert.True(t, v.Combined)

	// Without the drop only one signal remains.
	v = c.Evaluate(3, fallenBox, nil)
	assert.False(t, v.Combined)
	assert.False(t, v.Alert)
}

func TestClassifierPartialKeypoints(t *testing.T) {
	t.Parallel()
	c := NewClassifier(DefaultClassifierConfig())

	kps := lyingPose()
	delete(kps, detect.RightHip)
	v := c.Evaluate(1, fallenBox, kps)
	assert.False(t, v.Pose)
	assert.False(t, v.PoseKnown)
}

func TestTorsoAngle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		kps  detect.Keypoints
		want float64
	}{
		{
			name: "vertical",
			kps: detect.Keypoints{
				detect.LeftShoulder: {X: 0, Y: 0}, detect.RightShoulder: {X: 10, Y: 0},
				detect.LeftHip: {X: 0, Y: 50}, detect.RightHip: {X: 10, Y: 50},
			},
			want: 90,
		},
		{
			name: "horizontal head left",
			kps: detect.Keypoints{
				detect.LeftShoulder: {X: 0, Y: 0}, detect.RightShoulder: {X: 0, Y: 10},
				detect.LeftHip: {X: 50, Y: 0}, detect.RightHip: {X: 50, Y: 10},
			},
			want: 0,
		},
		{
			name: "horizontal head right",
			kps: detect.Keypoints{
				detect.LeftShoulder: {X: 50, Y: 0}, detect.RightShoulder: {X: 50, Y: 10},
				detect.LeftHip: {X: 0, Y: 0}, detect.RightHip: {X: 0, Y: 10},
			},
			want: 0,
		},
		{
			name: "forty five degrees",
			kps: detect.Keypoints{
				detect.LeftShoulder: {X: 0, Y: 0}, detect.RightShoulder: {X: 0, Y: 0},
				detect.LeftHip: {X: -20, Y: 20}, detect.RightHip: {X: -20, Y: 20},
			},
			want: 45,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := TorsoAngle(tt.kps)
			require.True(t, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	_, ok := TorsoAngle(detect.Keypoints{detect.LeftShoulder: {}})
	assert.False(t, ok)
}

func TestMotionSignalUsesPreviousHeight(t *testing.T) {
	t.Parallel()
	cfg := DefaultClassifierConfig()

	prev := detect.Box{X: 0, Y: 100, W: 40, H: 100}
	fire, drop := motionSignal(cfg, detect.Box{X: 0, Y: 150, W: 40, H: 10}, &prev)
	assert.False(t, fire, "drop equal to half height is not enough")
	assert.Equal(t, 50.0, drop)

	fire, _ = motionSignal(cfg, detect.Box{X: 0, Y: 151, W: 40, H: 10}, &prev)
	assert.True(t, fire)

	fire, _ = motionSignal(cfg, detect.Box{X: 0, Y: 400}, nil)
	assert.False(t, fire)
}

func TestBeginFrame(t *testing.T) {
	t.Parallel()

	t.Run("unknown identity panics", func(t *testing.T) {
		t.Parallel()
		c := NewClassifier(DefaultClassifierConfig())
		c.BeginFrame([]int{1, 2})

		assert.NotPanics(t, func() { c.Classify(2, uprightBox, nil) })
		assert.Panics(t, func() { c.Classify(3, uprightBox, nil) })
	})

	t.Run("lost identities are evicted", func(t *testing.T) {
		t.Parallel()
		c := NewClassifier(DefaultClassifierConfig())

		c.BeginFrame([]int{1, 2})
		c.Classify(1, fallenBox, lyingPose())
		c.Classify(2, uprightBox, nil)
		assert.Equal(t, 2, c.Tracked())

		c.BeginFrame([]int{2})
		assert.Equal(t, 1, c.Tracked())
		assert.Panics(t, func() { c.Classify(1, fallenBox, lyingPose()) })
	})

	t.Run("empty frame", func(t *testing.T) {
		t.Parallel()
		c := NewClassifier(DefaultClassifierConfig())
		c.BeginFrame([]int{4})
		c.Classify(4, uprightBox, nil)

		c.BeginFrame(nil)
		assert.Zero(t, c.Tracked())
	})
}

func TestHistoryIsBounded(t *testing.T) {
	t.Parallel()
	cfg := DefaultClassifierConfig()
	cfg.HistoryLen = 3
	c := NewClassifier(cfg)

	for i := 0; i < 8; i++ {
		c.Classify(1, detect.Box{X: 0, Y: float64(i), W: 10, H: 10}, nil)
	}
	h := c.table[1]
	require.Len(t, h.boxes, 3)
	assert.Equal(t, []float64{5, 6, 7}, []float64{h.boxes[0].Y, h.boxes[1].Y, h.boxes[2].Y})
	assert.Len(t, h.flags, cfg.FlagWindow)
}

func TestNewClassifierPanicsOnBadConfig(t *testing.T) {
	t.Parallel()

	mutations := map[string]func(*ClassifierConfig){
		"zero pose angle":       func(c *ClassifierConfig) { c.PoseAngleDeg = 0 },
		"negative aspect ratio": func(c *ClassifierConfig) { c.AspectRatio = -1 },
		"zero motion fraction":  func(c *ClassifierConfig) { c.MotionDropFraction = 0 },
		"zero history":          func(c *ClassifierConfig) { c.HistoryLen = 0 },
		"zero window":           func(c *ClassifierConfig) { c.FlagWindow = 0 },
		"zero persistence":      func(c *ClassifierConfig) { c.MinPersistence = 0 },
		"persistence > window":  func(c *ClassifierConfig) { c.MinPersistence = 3 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultClassifierConfig()
			mutate(&cfg)
			assert.Panics(t, func() { NewClassifier(cfg) })
		})
	}
}

func TestClassifierConfigFromTuning(t *testing.T) {
	t.Parallel()
	assert.Equal(t, DefaultClassifierConfig(), ClassifierConfigFromTuning(config.EmptyTuningConfig()))
	assert.Equal(t, DefaultClassifierConfig(), ClassifierConfigFromTuning(config.MustLoadDefaultConfig()))
}
