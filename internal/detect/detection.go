package detect

import "time"

// KeypointName names a body landmark using the COCO-17 vocabulary.
type KeypointName string

const (
	Nose          KeypointName = "nose"
	LeftEye       KeypointName = "left_eye"
	RightEye      KeypointName = "right_eye"
	LeftEar       KeypointName = "left_ear"
	RightEar      KeypointName = "right_ear"
	LeftShoulder  KeypointName = "left_shoulder"
	RightShoulder KeypointName = "right_shoulder"
	LeftElbow     KeypointName = "left_elbow"
	RightElbow    KeypointName = "right_elbow"
	LeftWrist     KeypointName = "left_wrist"
	RightWrist    KeypointName = "right_wrist"
	LeftHip       KeypointName = "left_hip"
	RightHip      KeypointName = "right_hip"
	LeftKnee      KeypointName = "left_knee"
	RightKnee     KeypointName = "right_knee"
	LeftAnkle     KeypointName = "left_ankle"
	RightAnkle    KeypointName = "right_ankle"
)

var knownKeypoints = map[KeypointName]struct{}{
	Nose: {}, LeftEye: {}, RightEye: {}, LeftEar: {}, RightEar: {},
	LeftShoulder: {}, RightShoulder: {}, LeftElbow: {}, RightElbow: {},
	LeftWrist: {}, RightWrist: {}, LeftHip: {}, RightHip: {},
	LeftKnee: {}, RightKnee: {}, LeftAnkle: {}, RightAnkle: {},
}

// Valid reports whether n is part of the keypoint vocabulary.
func (n KeypointName) Valid() bool {
	_, ok := knownKeypoints[n]
	return ok
}

// Point is a pixel coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Keypoints maps landmark names to pixel coordinates. A nil map means the
// detector produced no pose for this person.
type Keypoints map[KeypointName]Point

// Get returns the named point and whether it is present.
func (k Keypoints) Get(n KeypointName) (Point, bool) {
	p, ok := k[n]
	return p, ok
}

// Has reports whether every named point is present.
func (k Keypoints) Has(names ...KeypointName) bool {
	for _, n := range names {
		if _, ok := k[n]; !ok {
			return false
		}
	}
	return true
}

// Detection is one person reported by the upstream detector for one frame.
type Detection struct {
	Box       Box       `json:"box"`
	Keypoints Keypoints `json:"keypoints,omitempty"`
}

// Frame is the detector output for one video frame of one stream.
type Frame struct {
	StreamID   string      `json:"stream_id"`
	Index      uint64      `json:"index"`
	Timestamp  time.Time   `json:"timestamp"`
	Detections []Detection `json:"detections"`
}
