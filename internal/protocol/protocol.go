package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/zaf/g711"
)

// Protocol constants for the ingest framing
const (
	// Packet types
	PacketTypeSignaling = 0x01
	PacketTypeAudio     = 0x02

	// Audio codecs
	CodecPCM16 = 0x01 // 16-bit little-endian PCM
	CodecMulaw = 0x02 // G.711 mu-law
	CodecF32   = 0x03 // 32-bit little-endian IEEE float

	// Packet structure sizes
	HeaderSize             = 8  // 1 + 2 + 4 + 1 bytes
	SignalingPayloadSize   = 68 // 64 + 4 bytes
	AudioPayloadHeaderSize = 4  // Sequence number (4 bytes)

	// Field sizes in signaling payload
	LabelSize      = 64
	SampleRateSize = 4
)

// Header represents the 8-byte packet header
// Layout: [PacketType:1][PacketLen:2][StreamID:4][Codec:1]
type Header struct {
	PacketType uint8  // 0x01=Signaling, 0x02=Audio
	PacketLen  uint16 // Total packet size (header + payload)
	StreamID   uint32 // Unique stream identifier
	Codec      uint8  // Audio encoding for this stream's audio packets
}

// SignalingPayload represents the 68-byte stream announcement payload
// Layout: [Label:64][SampleRate:4]
type SignalingPayload struct {
	Label      [LabelSize]byte // Null-terminated stream label (64 bytes)
	SampleRate uint32          // Source sample rate in Hz (4 bytes)
}

// AudioPayload represents the audio packet payload
// Layout: [Sequence:4][AudioData:N]
type AudioPayload struct {
	Sequence  uint32 // Packet sequence number
	AudioData []byte // Encoded audio data (variable length)
}

// ParsedPacket represents a fully parsed ingest packet
type ParsedPacket struct {
	Header    *Header
	Signaling *SignalingPayload // Only set for signaling packets
	Audio     *AudioPayload     // Only set for audio packets
}

// ParseHeader parses the 8-byte packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	header := &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		StreamID:   binary.BigEndian.Uint32(data[3:7]),
		Codec:      data[7],
	}

	return header, nil
}

// ParseSignalingPayload parses the 68-byte stream announcement payload
func ParseSignalingPayload(data []byte) (*SignalingPayload, error) {
	if len(data) < SignalingPayloadSize {
		return nil, fmt.Errorf("signaling payload too short: expected %d bytes, got %d",
			SignalingPayloadSize, len(data))
	}

	payload := &SignalingPayload{}
	copy(payload.Label[:], data[0:LabelSize])
	payload.SampleRate = binary.BigEndian.Uint32(data[LabelSize : LabelSize+SampleRateSize])

	return payload, nil
}

// ParseAudioPayload parses the audio packet payload (4-byte sequence + audio data)
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			AudioPayloadHeaderSize, len(data))
	}

	payload := &AudioPayload{
		Sequence: binary.BigEndian.Uint32(data[0:4]),
	}

	if len(data) > AudioPayloadHeaderSize {
		payload.AudioData = make([]byte, len(data)-AudioPayloadHeaderSize)
		copy(payload.AudioData, data[AudioPayloadHeaderSize:])
	}

	return payload, nil
}

// ParsePacket parses a complete ingest packet (header + payload)
func ParsePacket(data []byte) (*ParsedPacket, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: expected at least %d bytes, got %d", HeaderSize, len(data))
	}

	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	// Validate packet length matches actual data
	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	payloadData := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeSignaling:
		payload, err := ParseSignalingPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse signaling payload: %w", err)
		}
		packet.Signaling = payload

	case PacketTypeAudio:
		payload, err := ParseAudioPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		packet.Audio = payload

	default:
		return nil, fmt.Errorf("unknown packet type: 0x%02x", header.PacketType)
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if !IsValidCodec(header.Codec) {
		return fmt.Errorf("invalid codec: 0x%02x", header.Codec)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	expectedPayloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeSignaling:
		if expectedPayloadSize != SignalingPayloadSize {
			return fmt.Errorf("signaling packet payload size mismatch: expected %d, got %d",
				SignalingPayloadSize, expectedPayloadSize)
		}
	case PacketTypeAudio:
		if expectedPayloadSize < AudioPayloadHeaderSize {
			return fmt.Errorf("audio packet payload too small: expected at least %d, got %d",
				AudioPayloadHeaderSize, expectedPayloadSize)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeSignaling || ptype == PacketTypeAudio
}

// IsValidCodec checks if the codec is supported
func IsValidCodec(codec uint8) bool {
	return codec == CodecPCM16 || codec == CodecMulaw || codec == CodecF32
}

// DecodeSamples converts encoded audio bytes into normalized float32
// samples in [-1, 1] according to the codec.
func DecodeSamples(codec uint8, data []byte) ([]float32, error) {
	switch codec {
	case CodecPCM16:
		if len(data)%2 != 0 {
			return nil, fmt.Errorf("pcm16 data length %d is not sample-aligned", len(data))
		}
		samples := make([]float32, len(data)/2)
		for i := range samples {
			v := int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
			samples[i] = float32(v) / 32768.0
		}
		return samples, nil

	case CodecMulaw:
		pcm := g711.DecodeUlaw(data)
		samples := make([]float32, len(pcm)/2)
		for i := range samples {
			v := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
			samples[i] = float32(v) / 32768.0
		}
		return samples, nil

	case CodecF32:
		if len(data)%4 != 0 {
			return nil, fmt.Errorf("f32 data length %d is not sample-aligned", len(data))
		}
		samples := make([]float32, len(data)/4)
		for i := range samples {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4 : i*4+4]))
		}
		return samples, nil

	default:
		return nil, fmt.Errorf("unknown codec: 0x%02x", codec)
	}
}

// CodecName returns the human-readable codec name for logs and metrics.
func CodecName(codec uint8) string {
	switch codec {
	case CodecPCM16:
		return "pcm16"
	case CodecMulaw:
		return "mulaw"
	case CodecF32:
		return "f32"
	default:
		return fmt.Sprintf("unknown(0x%02x)", codec)
	}
}

// ExtractString extracts a null-terminated string from a fixed-size byte array
func ExtractString(buf []byte) string {
	nullPos := len(buf)
	for i, b := range buf {
		if b == 0 {
			nullPos = i
			break
		}
	}
	return string(buf[:nullPos])
}

// GetLabel extracts the stream label as a string
func (s *SignalingPayload) GetLabel() string {
	return ExtractString(s.Label[:])
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType string
	switch h.PacketType {
	case PacketTypeSignaling:
		packetType = "Signaling"
	case PacketTypeAudio:
		packetType = "Audio"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, StreamID:%d, Codec:%s}",
		packetType, h.PacketLen, h.StreamID, CodecName(h.Codec))
}

// String returns a human-readable representation of the signaling payload
func (s *SignalingPayload) String() string {
	return fmt.Sprintf("SignalingPayload{Label:%q, SampleRate:%d}", s.GetLabel(), s.SampleRate)
}

// String returns a human-readable representation of the audio payload
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Sequence:%d, AudioDataLen:%d}", a.Sequence, len(a.AudioData))
}

// MarshalJSON renders the header with a symbolic codec name for the
// monitoring API.
func (h *Header) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"packet_type": h.PacketType,
		"packet_len":  h.PacketLen,
		"stream_id":   h.StreamID,
		"codec":       CodecName(h.Codec),
	})
}
