package engine

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewFloatTensor(t *testing.T) {
	tests := []struct {
		name        string
		shape       []int64
		dataLen     int
		expectError bool
	}{
		{name: "matching shape", shape: []int64{1, 576}, dataLen: 576, expectError: false},
		{name: "scalar-like", shape: []int64{1}, dataLen: 1, expectError: false},
		{name: "rank 3", shape: []int64{2, 1, 128}, dataLen: 256, expectError: false},
		{name: "too little data", shape: []int64{1, 512}, dataLen: 100, expectError: true},
		{name: "too much data", shape: []int64{1, 2}, dataLen: 4, expectError: true},
		{name: "empty shape means one element", shape: []int64{}, dataLen: 1, expectError: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tensor, err := NewFloatTensor(tt.shape, make([]float32, tt.dataLen))
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if tensor.DType != Float32 {
				t.Errorf("Expected Float32 dtype, got %v", tensor.DType)
			}
			if tensor.Elements() != tt.dataLen {
				t.Errorf("Expected %d elements, got %d", tt.dataLen, tensor.Elements())
			}
		})
	}
}

func TestNewIntTensor(t *testing.T) {
	tensor, err := NewIntTensor([]int64{1}, []int64{16000})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if tensor.DType != Int64 {
		t.Errorf("Expected Int64 dtype, got %v", tensor.DType)
	}
	if tensor.Ints[0] != 16000 {
		t.Errorf("Expected value 16000, got %d", tensor.Ints[0])
	}

	if _, err := NewIntTensor([]int64{2}, []int64{1}); err == nil {
		t.Errorf("Expected error for mismatched int tensor")
	}
}

func TestZeroFloatTensor(t *testing.T) {
	tensor := ZeroFloatTensor(2, 1, 128)
	if tensor.Elements() != 256 {
		t.Errorf("Expected 256 elements, got %d", tensor.Elements())
	}
	if len(tensor.Floats) != 256 {
		t.Errorf("Expected 256 floats allocated, got %d", len(tensor.Floats))
	}
	for i, v := range tensor.Floats {
		if v != 0 {
			t.Errorf("Expected zero at index %d, got %f", i, v)
			break
		}
	}
}

func TestElementsDynamicDimension(t *testing.T) {
	tensor := &Tensor{DType: Float32, Shape: []int64{1, -1, 96}}
	if tensor.Elements() != 0 {
		t.Errorf("Dynamic dimension should yield 0 elements, got %d", tensor.Elements())
	}
}

func TestTensorClone(t *testing.T) {
	original, err := NewFloatTensor([]int64{1, 4}, []float32{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("Failed to create tensor: %v", err)
	}

	clone := original.Clone()
	clone.Floats[0] = 99
	clone.Shape[0] = 7

	if original.Floats[0] != 1 {
		t.Errorf("Clone mutation leaked into original data: %f", original.Floats[0])
	}
	if original.Shape[0] != 1 {
		t.Errorf("Clone mutation leaked into original shape: %d", original.Shape[0])
	}
}

func TestDTypeString(t *testing.T) {
	if Float32.String() != "float32" {
		t.Errorf("Expected 'float32', got %q", Float32.String())
	}
	if Int64.String() != "int64" {
		t.Errorf("Expected 'int64', got %q", Int64.String())
	}
	if DType(42).String() != "unknown(42)" {
		t.Errorf("Expected 'unknown(42)', got %q", DType(42).String())
	}
}

func TestInferenceErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("session expired")
	infErr := &InferenceError{Op: "vad", Err: cause}

	if !errors.Is(infErr, cause) {
		t.Errorf("Expected errors.Is to find the wrapped cause")
	}

	msg := infErr.Error()
	if msg != "inference failed at vad: session expired" {
		t.Errorf("Unexpected error message: %q", msg)
	}
}
