package audio

import (
	"math"
	"testing"
)

func TestEncodeWAV(t *testing.T) {
	samples := make([]float32, 1600)
	for i := range samples {
		samples[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / 16000))
	}

	data, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("failed to encode WAV: %v", err)
	}

	expectedSize := 44 + len(samples)*2
	if len(data) != expectedSize {
		t.Errorf("expected %d bytes, got %d", expectedSize, len(data))
	}
	if err := ValidateWAV(data); err != nil {
		t.Errorf("encoded WAV failed validation: %v", err)
	}
}

func TestEncodeWAVErrors(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000); err == nil {
		t.Error("expected error for empty samples")
	}
	if _, err := EncodeWAV([]float32{0.5}, 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if _, err := EncodeWAV([]float32{0.5}, -8000); err == nil {
		t.Error("expected error for negative sample rate")
	}
}

func TestEncodeWAVClipping(t *testing.T) {
	data, err := EncodeWAV([]float32{2.0, -2.0, 0}, 8000)
	if err != nil {
		t.Fatalf("failed to encode WAV: %v", err)
	}
	samples, _, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("failed to decode WAV: %v", err)
	}
	if samples[0] < 0.99 {
		t.Errorf("positive overdrive should clip near 1.0, got %v", samples[0])
	}
	if samples[1] > -0.99 {
		t.Errorf("negative overdrive should clip near -1.0, got %v", samples[1])
	}
	if samples[2] != 0 {
		t.Errorf("zero sample should survive, got %v", samples[2])
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := []float32{0, 0.25, -0.25, 0.5, -0.5, 0.9, -0.9}

	data, err := EncodeWAV(original, 16000)
	if err != nil {
		t.Fatalf("failed to encode WAV: %v", err)
	}
	decoded, rate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("failed to decode WAV: %v", err)
	}
	if rate != 16000 {
		t.Errorf("expected sample rate 16000, got %d", rate)
	}
	if len(decoded) != len(original) {
		t.Fatalf("expected %d samples, got %d", len(original), len(decoded))
	}
	for i := range original {
		if diff := math.Abs(float64(decoded[i] - original[i])); diff > 1.0/32768.0 {
			t.Errorf("sample %d: expected %v, got %v (diff %v)", i, original[i], decoded[i], diff)
		}
	}
}

func TestDecodeWAVErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", make([]byte, 10)},
		{"missing RIFF", make([]byte, 44)},
		{"corrupted header", append([]byte("RIFF"), make([]byte, 40)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeWAV(tt.data); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestValidateWAV(t *testing.T) {
	data, err := EncodeWAV([]float32{0.1, 0.2, 0.3}, 8000)
	if err != nil {
		t.Fatalf("failed to encode WAV: %v", err)
	}
	if err := ValidateWAV(data); err != nil {
		t.Errorf("valid WAV failed validation: %v", err)
	}

	bad := make([]byte, len(data))
	copy(bad, data)
	copy(bad[0:4], "JUNK")
	if err := ValidateWAV(bad); err == nil {
		t.Error("expected error for corrupted RIFF marker")
	}
	if err := ValidateWAV(data[:20]); err == nil {
		t.Error("expected error for truncated data")
	}
}
