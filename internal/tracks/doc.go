// Package tracks assigns stable person identities across frames.
//
// Matching is a greedy single pass over detections in input order against
// live tracks in ascending ID order. It is not a min-cost assignment, and
// the order is part of the contract: the same input always yields the same
// identities. A track that goes unmatched for one frame is deleted and its
// ID is never handed out again.
//
// No I/O is allowed in this package.
package tracks
