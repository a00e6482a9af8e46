// Package wakeword implements openWakeWord-style detection as a three
// stage pipeline: a melspectrogram model, an embedding model, and a
// per-phrase classifier. Like the vad package it threads detector state
// functionally, so one pipeline serves any number of concurrent streams.
//
// Classifier input dimensions vary between exported models; ProbeDims
// recovers them from model metadata or, failing that, by probing the
// model with candidate shapes.
package wakeword
