// Package onnx adapts ONNX Runtime sessions to the engine.Engine interface.
// Each Session wraps one model file; tensors are converted per call, which is
// cheap compared to graph execution and keeps the adapter stateless.
package onnx

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/JonesHong/web-asr-core/internal/engine"
)

// ortInitOnce guards ONNX Runtime environment initialization. The runtime is
// not designed to be torn down and re-created, so it is initialized once for
// the process lifetime and never destroyed.
var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// Initialize loads the ONNX Runtime shared library and initializes the
// environment. Safe to call multiple times; only the first libPath is used.
func Initialize(libPath string) error {
	ortInitOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// Session is an engine.Engine backed by a single ONNX model file.
type Session struct {
	name    string
	session *ort.DynamicAdvancedSession

	inputNames   []string
	outputNames  []string
	inputShapes  map[string][]int64
	outputShapes map[string][]int64
}

// NewSession opens the model at modelPath. The name identifies the session in
// errors (e.g. "vad", "melspectrogram"). Initialize must have succeeded first.
func NewSession(name, modelPath string) (*Session, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model metadata for %s: %w", modelPath, err)
	}

	s := &Session{
		name:         name,
		inputShapes:  make(map[string][]int64, len(inputs)),
		outputShapes: make(map[string][]int64, len(outputs)),
	}
	for _, info := range inputs {
		s.inputNames = append(s.inputNames, info.Name)
		s.inputShapes[info.Name] = append([]int64(nil), info.Dimensions...)
	}
	for _, info := range outputs {
		s.outputNames = append(s.outputNames, info.Name)
		s.outputShapes[info.Name] = append([]int64(nil), info.Dimensions...)
	}

	sess, err := ort.NewDynamicAdvancedSession(modelPath, s.inputNames, s.outputNames, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", modelPath, err)
	}
	s.session = sess

	return s, nil
}

// Run executes the graph with the given named inputs and returns all model
// outputs by name.
func (s *Session) Run(inputs map[string]*engine.Tensor) (map[string]*engine.Tensor, error) {
	ortInputs := make([]ort.Value, len(s.inputNames))
	defer func() {
		for _, v := range ortInputs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	for i, name := range s.inputNames {
		t, ok := inputs[name]
		if !ok {
			return nil, &engine.InferenceError{Op: s.name, Err: fmt.Errorf("missing input tensor %q", name)}
		}
		v, err := toOrtValue(t)
		if err != nil {
			return nil, &engine.InferenceError{Op: s.name, Err: err}
		}
		ortInputs[i] = v
	}

	// Let ONNX Runtime allocate the outputs so dynamic shapes work.
	ortOutputs := make([]ort.Value, len(s.outputNames))
	if err := s.session.Run(ortInputs, ortOutputs); err != nil {
		return nil, &engine.InferenceError{Op: s.name, Err: err}
	}
	defer func() {
		for _, v := range ortOutputs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	outputs := make(map[string]*engine.Tensor, len(s.outputNames))
	for i, name := range s.outputNames {
		t, err := fromOrtValue(ortOutputs[i])
		if err != nil {
			return nil, &engine.InferenceError{Op: s.name, Err: fmt.Errorf("output %q: %w", name, err)}
		}
		outputs[name] = t
	}

	return outputs, nil
}

// InputShapes reports the model's declared input shapes (-1 for dynamic dims).
func (s *Session) InputShapes() map[string][]int64 { return s.inputShapes }

// OutputShapes reports the model's declared output shapes.
func (s *Session) OutputShapes() map[string][]int64 { return s.outputShapes }

// Destroy releases the underlying ONNX session.
func (s *Session) Destroy() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}

func toOrtValue(t *engine.Tensor) (ort.Value, error) {
	shape := ort.NewShape(t.Shape...)
	switch t.DType {
	case engine.Float32:
		return ort.NewTensor(shape, t.Floats)
	case engine.Int64:
		return ort.NewTensor(shape, t.Ints)
	default:
		return nil, fmt.Errorf("unsupported tensor dtype: %s", t.DType)
	}
}

func fromOrtValue(v ort.Value) (*engine.Tensor, error) {
	shape := append([]int64(nil), v.GetShape()...)
	switch data := v.(type) {
	case *ort.Tensor[float32]:
		return &engine.Tensor{
			DType:  engine.Float32,
			Shape:  shape,
			Floats: append([]float32(nil), data.GetData()...),
		}, nil
	case *ort.Tensor[int64]:
		return &engine.Tensor{
			DType: engine.Int64,
			Shape: shape,
			Ints:  append([]int64(nil), data.GetData()...),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported ONNX output value type %T", v)
	}
}
