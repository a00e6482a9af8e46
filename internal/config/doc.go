// Package config provides configuration loading and validation for the
// speech detection service. It handles YAML-based configuration with
// per-section validation covering the UDP ingest server, HTTP API, audio
// buffering, VAD and wakeword models, and event delivery.
package config
