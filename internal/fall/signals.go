package fall

import (
	"math"

	"github.com/banshee-data/fallwatch/internal/detect"
)

var torsoKeypoints = []detect.KeypointName{
	detect.LeftShoulder, detect.RightShoulder, detect.LeftHip, detect.RightHip,
}

// TorsoAngle returns the angle in degrees between the shoulder-to-hip line
// and the horizontal, in [0, 90]. ok is false unless both shoulders and both
// hips are present.
func TorsoAngle(kps detect.Keypoints) (deg float64, ok bool) {
	if !kps.Has(torsoKeypoints...) {
		return 0, false
	}
	ls, rs := kps[detect.LeftShoulder], kps[detect.RightShoulder]
	lh, rh := kps[detect.LeftHip], kps[detect.RightHip]

	sx, sy := (ls.X+rs.X)/2, (ls.Y+rs.Y)/2
	hx, hy := (lh.X+rh.X)/2, (lh.Y+rh.Y)/2

	a := math.Abs(math.Atan2(hy-sy, hx-sx) * 180 / math.Pi)
	// Fold so head-left and head-right read the same.
	return math.Min(a, 180-a), true
}

func poseSignal(cfg ClassifierConfig, kps detect.Keypoints) (fire bool, deg float64, ok bool) {
	deg, ok = TorsoAngle(kps)
	if !ok {
		return false, 0, false
	}
	return deg < cfg.PoseAngleDeg, deg, true
}

func aspectSignal(cfg ClassifierConfig, box detect.Box) (bool, float64) {
	r := box.AspectRatio()
	return r > cfg.AspectRatio, r
}

func motionSignal(cfg ClassifierConfig, box detect.Box, prev *detect.Box) (bool, float64) {
	if prev == nil {
		return false, 0
	}
	drop := box.Y - prev.Y
	return drop > cfg.MotionDropFraction*prev.H, drop
}
