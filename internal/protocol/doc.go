// Package protocol defines the binary framing for audio ingest over UDP.
//
// Every packet starts with an 8-byte header identifying the packet type,
// total length, stream, and audio codec. Signaling packets announce a
// stream with a label and source sample rate; audio packets carry a
// sequence number and encoded samples. DecodeSamples converts payload
// bytes to the normalized float32 samples the detection pipelines consume.
package protocol
