// Package stream manages per-stream detection sessions. Each session owns a
// ring buffer fed by the UDP receiver, re-chunks the audio for the VAD and
// wakeword pipelines, threads detector state across windows, and emits
// detection events through the notifier and any attached event sink.
package stream
