// Package server implements the network surfaces of the service: the UDP
// ingest listener that receives framed audio packets and routes them to
// detection sessions, the HTTP API for health, statistics and session
// inspection, and a WebSocket hub that streams detection events to
// subscribers in real time.
package server
