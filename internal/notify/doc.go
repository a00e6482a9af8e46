// Package notify implements the webhook client for detection events.
// It delivers speech and wakeword events as JSON, attaches WAV snapshots
// as multipart form data, implements retry logic with exponential backoff,
// and manages rate limiting.
package notify
