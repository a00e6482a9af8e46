package engine

import (
	"fmt"
)

// DType identifies the element type of a Tensor.
type DType int

const (
	Float32 DType = iota
	Int64
)

// String returns a human-readable representation of the data type
func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Int64:
		return "int64"
	default:
		return fmt.Sprintf("unknown(%d)", int(d))
	}
}

// Tensor is a dense, row-major tensor with a named element type.
// Exactly one of Floats/Ints is populated, matching DType.
type Tensor struct {
	DType  DType
	Shape  []int64
	Floats []float32
	Ints   []int64
}

// NewFloatTensor creates a float32 tensor. The data slice is used as-is
// (not copied); callers that retain the slice must not mutate it while the
// tensor is in flight.
func NewFloatTensor(shape []int64, data []float32) (*Tensor, error) {
	t := &Tensor{DType: Float32, Shape: shape, Floats: data}
	if n := t.Elements(); n != len(data) {
		return nil, fmt.Errorf("float tensor data length %d does not match shape %v (%d elements)", len(data), shape, n)
	}
	return t, nil
}

// NewIntTensor creates an int64 tensor.
func NewIntTensor(shape []int64, data []int64) (*Tensor, error) {
	t := &Tensor{DType: Int64, Shape: shape, Ints: data}
	if n := t.Elements(); n != len(data) {
		return nil, fmt.Errorf("int tensor data length %d does not match shape %v (%d elements)", len(data), shape, n)
	}
	return t, nil
}

// ZeroFloatTensor creates a float32 tensor of the given shape filled with zeros.
func ZeroFloatTensor(shape ...int64) *Tensor {
	t := &Tensor{DType: Float32, Shape: shape}
	t.Floats = make([]float32, t.Elements())
	return t
}

// Elements returns the number of elements implied by the tensor shape.
// Dynamic (negative) dimensions count as zero.
func (t *Tensor) Elements() int {
	n := 1
	for _, d := range t.Shape {
		if d < 0 {
			return 0
		}
		n *= int(d)
	}
	return n
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	c := &Tensor{DType: t.DType, Shape: append([]int64(nil), t.Shape...)}
	if t.Floats != nil {
		c.Floats = append([]float32(nil), t.Floats...)
	}
	if t.Ints != nil {
		c.Ints = append([]int64(nil), t.Ints...)
	}
	return c
}

// Engine executes a precompiled compute graph with named inputs and outputs.
// Implementations may be synchronous wrappers over asynchronous runtimes; the
// call must not return until the outputs are fully materialized.
type Engine interface {
	Run(inputs map[string]*Tensor) (map[string]*Tensor, error)
}

// ShapeReporter is optionally implemented by engines that can describe the
// declared tensor shapes of their model. Dynamic dimensions are reported
// as -1. Used by dimension probing only, never on the per-chunk path.
type ShapeReporter interface {
	InputShapes() map[string][]int64
	OutputShapes() map[string][]int64
}

// InferenceError wraps a failed engine invocation. Pipelines propagate it
// without retrying: a silent retry against stateful streaming input would
// desynchronize the carried buffers.
type InferenceError struct {
	Op  string // which stage/model failed, e.g. "vad", "melspectrogram"
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed at %s: %v", e.Op, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}
