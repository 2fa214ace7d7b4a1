// Package audio provides the shared audio stream used by keyword detectors.
// It implements a single-writer, multi-reader circular buffer of 16-bit
// samples with position-tracked readers, the audio format descriptor, and a
// WAV codec with a real-time file replay source.
package audio
