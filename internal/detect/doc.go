// Package detect holds the per-frame detector output model shared by the
// tracker, the fall classifier and the ingest layer.
//
// Key types: Box, Detection, Frame, Keypoints.
//
// Boxes are in pixel space with a top-left origin, so y grows down-screen.
// No I/O is allowed in this package.
package detect
