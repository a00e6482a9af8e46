package wakeword

import (
	"errors"
	"fmt"
	"testing"

	"github.com/JonesHong/web-asr-core/internal/engine"
	"github.com/JonesHong/web-asr-core/internal/engine/mock"
)

// melspecEngine returns a mock producing 5 mel frames of the given raw
// value per chunk. The pipeline rescales raw values as v/10+2.
func melspecEngine(raw float32) *mock.Engine {
	return &mock.Engine{
		RunFunc: func(inputs map[string]*engine.Tensor) (map[string]*engine.Tensor, error) {
			out := make([]float32, 5*melBins)
			for i := range out {
				out[i] = raw
			}
			return map[string]*engine.Tensor{
				"output": {DType: engine.Float32, Shape: []int64{1, 1, 5, melBins}, Floats: out},
			}, nil
		},
	}
}

func embedderEngine(dim int) *mock.Engine {
	return &mock.Engine{
		RunFunc: func(inputs map[string]*engine.Tensor) (map[string]*engine.Tensor, error) {
			out := make([]float32, dim)
			for i := range out {
				out[i] = 0.5
			}
			return map[string]*engine.Tensor{
				"conv2d_19": {DType: engine.Float32, Shape: []int64{1, 1, 1, int64(dim)}, Floats: out},
			}, nil
		},
	}
}

func classifierEngine(score float32) *mock.Engine {
	return &mock.Engine{
		RunFunc: func(inputs map[string]*engine.Tensor) (map[string]*engine.Tensor, error) {
			return map[string]*engine.Tensor{
				"dense": {DType: engine.Float32, Shape: []int64{1, 1}, Floats: []float32{score}},
			}, nil
		},
	}
}

func chunk() []float32 {
	return make([]float32, defaultWindowSize)
}

func TestNewPipeline(t *testing.T) {
	if _, err := NewPipeline(nil, embedderEngine(96), classifierEngine(0), Params{}); err == nil {
		t.Error("expected error for nil melspec engine")
	}

	p, err := NewPipeline(melspecEngine(0), embedderEngine(96), classifierEngine(0), Params{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	params := p.Params()
	if params.WindowSize != 1280 {
		t.Errorf("expected default window size 1280, got %d", params.WindowSize)
	}
	if params.Dims.EmbeddingFrames != 16 || params.Dims.EmbeddingDim != 96 {
		t.Errorf("expected default dims 16x96, got %+v", params.Dims)
	}
}

func TestProcessChunkSizeValidation(t *testing.T) {
	p, _ := NewPipeline(melspecEngine(0), embedderEngine(96), classifierEngine(0), Params{})
	state := p.NewState()

	if _, _, err := p.Process(state, make([]float32, 512)); err == nil {
		t.Error("expected error for undersized chunk")
	}
}

func TestProcessRejectsInvalidState(t *testing.T) {
	p, _ := NewPipeline(melspecEngine(0), embedderEngine(96), classifierEngine(0), Params{})

	raggedMel := p.NewState()
	raggedMel.Mel = make([]float32, 33)

	wrongDim := p.NewState()
	for i := range wrongDim.Embeddings {
		wrongDim.Embeddings[i] = make([]float32, 64)
	}

	tests := []struct {
		name  string
		state State
	}{
		{name: "ragged mel buffer", state: raggedMel},
		{name: "embedding window too short", state: State{Embeddings: make([][]float32, 1)}},
		{name: "embedding window too long", state: State{Embeddings: make([][]float32, 17)}},
		{name: "wrong embedding dim", state: wrongDim},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, returned, err := p.Process(tt.state, chunk())
			if !errors.Is(err, ErrInvalidState) {
				t.Errorf("expected ErrInvalidState, got %v", err)
			}
			if len(returned.Mel) != len(tt.state.Mel) || len(returned.Embeddings) != len(tt.state.Embeddings) {
				t.Error("input state should be returned unchanged on error")
			}
		})
	}
}

func TestProcessWarmup(t *testing.T) {
	classifier := classifierEngine(0.9)
	p, _ := NewPipeline(melspecEngine(0), embedderEngine(96), classifier, Params{})
	state := p.NewState()

	// Each chunk yields 5 mel frames and the embedder needs 76, so the
	// first embedding lands on chunk 16. The classifier scores the
	// zero-padded window as soon as that first embedding slides in.
	var readyAt int
	for i := 1; i <= 16; i++ {
		res, next, err := p.Process(state, chunk())
		if err != nil {
			t.Fatalf("chunk %d: unexpected error: %v", i, err)
		}
		state = next
		if res.Ready && readyAt == 0 {
			readyAt = i
		}
		if !res.Ready && res.Score != 0 {
			t.Fatalf("chunk %d: expected zero score during warm-up, got %v", i, res.Score)
		}
		if !res.Ready && res.Triggered {
			t.Fatalf("chunk %d: warm-up chunk must not trigger", i)
		}
		if i < 16 && classifier.Calls != 0 {
			t.Fatalf("chunk %d: classifier ran before the first embedding", i)
		}
	}
	if readyAt != 16 {
		t.Errorf("expected first score on chunk 16, got %d", readyAt)
	}
	if classifier.Calls != 1 {
		t.Errorf("expected exactly one classifier run, got %d", classifier.Calls)
	}
}

func TestProcessTrigger(t *testing.T) {
	p, _ := NewPipeline(melspecEngine(0), embedderEngine(96), classifierEngine(0.9), Params{})
	state := p.NewState()

	var res Result
	var err error
	for i := 0; i < 16; i++ {
		res, state, err = p.Process(state, chunk())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if !res.Ready || !res.Triggered || res.Score != 0.9 {
		t.Errorf("expected a live trigger, got %+v", res)
	}

	stats := p.GetStats()
	if stats.Triggers != 1 {
		t.Errorf("expected 1 trigger recorded, got %d", stats.Triggers)
	}
	if stats.ChunksProcessed != 16 {
		t.Errorf("expected 16 chunks processed, got %d", stats.ChunksProcessed)
	}
}

func TestProcessBelowThreshold(t *testing.T) {
	p, _ := NewPipeline(melspecEngine(0), embedderEngine(96), classifierEngine(0.2), Params{})
	state := p.NewState()

	var res Result
	var err error
	for i := 0; i < 16; i++ {
		res, state, err = p.Process(state, chunk())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if !res.Ready {
		t.Fatal("expected a score after 16 chunks")
	}
	if res.Triggered {
		t.Errorf("score 0.2 must not trigger at threshold 0.5")
	}
}

func TestProcessScoreAtThresholdDoesNotTrigger(t *testing.T) {
	p, _ := NewPipeline(melspecEngine(0), embedderEngine(96), classifierEngine(0.5), Params{Threshold: 0.5})
	state := p.NewState()

	var res Result
	var err error
	for i := 0; i < 16; i++ {
		res, state, err = p.Process(state, chunk())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if !res.Ready {
		t.Fatal("expected a score after 16 chunks")
	}
	if res.Triggered {
		t.Error("score equal to the threshold must not trigger")
	}
}

func TestProcessMelRescale(t *testing.T) {
	var embedderInput []float32
	embedder := &mock.Engine{
		RunFunc: func(inputs map[string]*engine.Tensor) (map[string]*engine.Tensor, error) {
			for _, in := range inputs {
				embedderInput = append([]float32(nil), in.Floats...)
			}
			return map[string]*engine.Tensor{
				"conv2d_19": engine.ZeroFloatTensor(1, 1, 1, 96),
			}, nil
		},
	}
	p, _ := NewPipeline(melspecEngine(10), embedder, classifierEngine(0), Params{})
	state := p.NewState()

	for i := 0; i < 16; i++ {
		var err error
		_, state, err = p.Process(state, chunk())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if len(embedderInput) != melFramesRequired*melBins {
		t.Fatalf("expected embedder input of %d values, got %d",
			melFramesRequired*melBins, len(embedderInput))
	}
	// Raw mel value 10 rescales to 10/10+2 = 3.
	for i, v := range embedderInput {
		if v != 3 {
			t.Fatalf("mel value %d: expected rescaled 3, got %v", i, v)
		}
	}
}

func TestProcessClassifierInputGeometry(t *testing.T) {
	var clsShape []int64
	classifier := &mock.Engine{
		RunFunc: func(inputs map[string]*engine.Tensor) (map[string]*engine.Tensor, error) {
			for _, in := range inputs {
				clsShape = append([]int64(nil), in.Shape...)
			}
			return map[string]*engine.Tensor{
				"dense": {DType: engine.Float32, Shape: []int64{1, 1}, Floats: []float32{0.1}},
			}, nil
		},
	}
	p, _ := NewPipeline(melspecEngine(0), embedderEngine(96), classifier, Params{})
	state := p.NewState()

	for i := 0; i < 40; i++ {
		var err error
		_, state, err = p.Process(state, chunk())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	want := []int64{1, 16, 96}
	if len(clsShape) != 3 || clsShape[0] != want[0] || clsShape[1] != want[1] || clsShape[2] != want[2] {
		t.Errorf("expected classifier input shape %v, got %v", want, clsShape)
	}
}

func TestProcessDoesNotMutateInputState(t *testing.T) {
	p, _ := NewPipeline(melspecEngine(0), embedderEngine(96), classifierEngine(0), Params{})
	state := p.NewState()

	_, next, err := p.Process(state, chunk())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(state.Mel) != 0 || state.EmbeddingCount != 0 {
		t.Error("input state was mutated")
	}
	if len(state.Embeddings) != 16 {
		t.Fatalf("expected input window to keep its 16 slots, got %d", len(state.Embeddings))
	}
	for i, emb := range state.Embeddings {
		for _, v := range emb {
			if v != 0 {
				t.Fatalf("input window vector %d no longer zero", i)
			}
		}
	}
	if len(next.Mel) != 5*melBins {
		t.Errorf("expected 5 mel frames carried, got %d values", len(next.Mel))
	}
}

func TestProcessFirstWindowIsZeroPadded(t *testing.T) {
	var clsInput []float32
	classifier := &mock.Engine{
		RunFunc: func(inputs map[string]*engine.Tensor) (map[string]*engine.Tensor, error) {
			for _, in := range inputs {
				clsInput = append([]float32(nil), in.Floats...)
			}
			return map[string]*engine.Tensor{
				"dense": {DType: engine.Float32, Shape: []int64{1, 1}, Floats: []float32{0.1}},
			}, nil
		},
	}
	p, _ := NewPipeline(melspecEngine(0), embedderEngine(96), classifier, Params{})
	state := p.NewState()

	for i := 0; i < 16; i++ {
		var err error
		_, state, err = p.Process(state, chunk())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if len(clsInput) != 16*96 {
		t.Fatalf("expected 16x96 classifier input, got %d values", len(clsInput))
	}
	for i, v := range clsInput[:15*96] {
		if v != 0 {
			t.Fatalf("value %d: expected zero padding ahead of the first embedding, got %v", i, v)
		}
	}
	for i, v := range clsInput[15*96:] {
		if v != 0.5 {
			t.Fatalf("value %d: expected the fresh embedding in the last slot, got %v", i, v)
		}
	}
	if state.EmbeddingCount != 1 {
		t.Errorf("expected 1 real embedding counted, got %d", state.EmbeddingCount)
	}
}

func TestProcessInferenceErrorKeepsState(t *testing.T) {
	calls := 0
	flaky := &mock.Engine{
		RunFunc: func(inputs map[string]*engine.Tensor) (map[string]*engine.Tensor, error) {
			calls++
			if calls > 2 {
				return nil, fmt.Errorf("model exploded")
			}
			out := make([]float32, 5*melBins)
			return map[string]*engine.Tensor{
				"output": {DType: engine.Float32, Shape: []int64{1, 1, 5, melBins}, Floats: out},
			}, nil
		},
	}
	p, _ := NewPipeline(flaky, embedderEngine(96), classifierEngine(0), Params{})
	state := p.NewState()

	for i := 0; i < 2; i++ {
		var err error
		_, state, err = p.Process(state, chunk())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	melBefore := len(state.Mel)

	_, returned, err := p.Process(state, chunk())
	if err == nil {
		t.Fatal("expected inference error")
	}
	var infErr *engine.InferenceError
	if !errors.As(err, &infErr) {
		t.Errorf("expected InferenceError, got %T", err)
	}
	if len(returned.Mel) != melBefore {
		t.Error("expected state unchanged after inference failure")
	}
	if p.GetStats().InferenceErrors != 1 {
		t.Errorf("expected 1 inference error recorded, got %d", p.GetStats().InferenceErrors)
	}
}

func TestSingleStage(t *testing.T) {
	if _, err := NewSingleStage(nil, 0, 0); err == nil {
		t.Error("expected error for nil engine")
	}

	s, err := NewSingleStage(mock.Scores("output", "", 0.8, 0.1), 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.WindowSize() != 1280 {
		t.Errorf("expected default window size 1280, got %d", s.WindowSize())
	}

	if _, err := s.Process(make([]float32, 100)); err == nil {
		t.Error("expected error for undersized chunk")
	}

	res, err := s.Process(chunk())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Triggered || res.Score != 0.8 || !res.Ready {
		t.Errorf("expected immediate trigger, got %+v", res)
	}

	res, err = s.Process(chunk())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Triggered {
		t.Errorf("score 0.1 must not trigger, got %+v", res)
	}

	stats := s.GetStats()
	if stats.ChunksProcessed != 2 || stats.Triggers != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestSingleStageScoreAtThresholdDoesNotTrigger(t *testing.T) {
	s, err := NewSingleStage(mock.Scores("output", "", 0.5), 0, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := s.Process(chunk())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Triggered {
		t.Errorf("score equal to the threshold must not trigger, got %+v", res)
	}
}
