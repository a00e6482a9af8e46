// Package mock provides a scriptable Engine for tests and model-less runs.
package mock

import (
	"fmt"

	"github.com/JonesHong/web-asr-core/internal/engine"
)

// Engine is a scriptable implementation of engine.Engine. RunFunc receives
// the named inputs and produces the named outputs; if nil, Run fails.
// Inputs/Outputs, when set, are reported through the ShapeReporter interface.
type Engine struct {
	RunFunc func(inputs map[string]*engine.Tensor) (map[string]*engine.Tensor, error)
	Inputs  map[string][]int64
	Outputs map[string][]int64

	Calls int
}

// Run invokes RunFunc and counts the call.
func (m *Engine) Run(inputs map[string]*engine.Tensor) (map[string]*engine.Tensor, error) {
	m.Calls++
	if m.RunFunc == nil {
		return nil, fmt.Errorf("mock engine has no RunFunc")
	}
	return m.RunFunc(inputs)
}

// InputShapes reports the scripted input shapes.
func (m *Engine) InputShapes() map[string][]int64 { return m.Inputs }

// OutputShapes reports the scripted output shapes.
func (m *Engine) OutputShapes() map[string][]int64 { return m.Outputs }

// Scores returns an engine that emits the given score sequence on successive
// calls (repeating the last one) under the output name, echoing back a state
// tensor when the model carries one. It mimics the Silero VAD output contract.
func Scores(outputName, stateOutName string, scores ...float32) *Engine {
	call := 0
	return &Engine{
		RunFunc: func(inputs map[string]*engine.Tensor) (map[string]*engine.Tensor, error) {
			score := scores[len(scores)-1]
			if call < len(scores) {
				score = scores[call]
			}
			call++

			outputs := map[string]*engine.Tensor{
				outputName: {DType: engine.Float32, Shape: []int64{1, 1}, Floats: []float32{score}},
			}
			if stateOutName != "" {
				if st, ok := inputs["state"]; ok {
					outputs[stateOutName] = st.Clone()
				} else {
					outputs[stateOutName] = engine.ZeroFloatTensor(2, 1, 128)
				}
			}
			return outputs, nil
		},
	}
}
