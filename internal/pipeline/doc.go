// Package pipeline runs detector frames through identity tracking and fall
// classification.
//
// An Engine owns one stream's Tracker and Classifier and processes frames
// strictly in order. A Runner owns one Engine per stream and a single
// goroutine that drains the frame queue, so no stream is ever processed
// concurrently. Results leave through a Sink, which must not block: delivery
// is decoupled by the publish package.
package pipeline
