// Package audio implements the streaming buffer layer: a lossless ring buffer
// for mono float32 samples, a non-destructive re-chunker with remainder carry,
// a multi-consumer fan-out chunker, and WAV encoding for trigger snapshots.
package audio
