// Package vad implements streaming voice activity detection on top of a
// Silero-style recurrent ONNX model. The pipeline is stateless: every
// Process call takes the previous state and returns a new one, so callers
// own session lifetimes and can checkpoint, fork, or discard detector
// state freely.
package vad
