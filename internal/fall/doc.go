// Package fall decides, per tracked identity, whether a person has fallen.
//
// Three weak signals are computed each frame: torso pose, box aspect ratio
// and sudden downward motion. A frame is flagged when at least two of them
// fire. An identity enters the fallen state once the flag has persisted for
// MinPersistence of the last FlagWindow frames, and exactly one alert is
// raised per fall. Any unflagged frame clears the alerted state, so a person
// who gets up and falls again raises a second alert.
//
// Key types: Classifier, ClassifierConfig, Verdict.
package fall
