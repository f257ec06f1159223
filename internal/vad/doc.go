// Package vad provides voice activity detection over windows of normalized
// audio samples. It implements energy-based speech interval extraction with
// silence-gap merging and the trailing-window inactivity decision used to
// terminate idle streaming sessions.
package vad
