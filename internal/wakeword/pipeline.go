package wakeword

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/JonesHong/web-asr-core/internal/engine"
)

// ErrInvalidState is returned when a State's buffers are structurally
// inconsistent with the pipeline configuration, typically because they were
// produced by a pipeline with different classifier dimensions.
var ErrInvalidState = errors.New("wakeword: state does not match pipeline parameters")

// Constants of the openWakeWord export format.
const (
	defaultWindowSize = 1280 // 80 ms at 16 kHz
	melBins           = 32   // melspectrogram bands
	melFramesRequired = 76   // mel frames per embedding window
	melStride         = 8    // mel frames advanced between embeddings
)

// ModelDims describes the classifier's input geometry.
type ModelDims struct {
	EmbeddingFrames int `json:"embedding_frames"` // Embeddings per classifier window
	EmbeddingDim    int `json:"embedding_dim"`    // Values per embedding
}

// DefaultDims matches the standard openWakeWord classifier export.
func DefaultDims() ModelDims {
	return ModelDims{EmbeddingFrames: 16, EmbeddingDim: 96}
}

func (d ModelDims) valid() bool {
	return d.EmbeddingFrames > 0 && d.EmbeddingDim > 0
}

// Params configures a wakeword pipeline.
type Params struct {
	WindowSize int     // Samples per chunk
	Threshold  float32 // Classifier score threshold
	Dims       ModelDims
}

func (p *Params) applyDefaults() {
	if p.WindowSize <= 0 {
		p.WindowSize = defaultWindowSize
	}
	if p.Threshold <= 0 {
		p.Threshold = 0.5
	}
	if !p.Dims.valid() {
		p.Dims = DefaultDims()
	}
}

// State accumulates mel frames and embeddings between chunks. Process
// returns a successor state and never mutates its argument.
//
// Embeddings is a fixed-length FIFO of exactly EmbeddingFrames vectors,
// newest last. NewState seeds it with zero vectors so the classifier can
// score from the very first embedding; EmbeddingCount tracks how many of
// the vectors are model-produced rather than zero padding.
type State struct {
	Mel            []float32   // Flattened mel frames, melBins values each
	Embeddings     [][]float32 // Fixed-length sliding window, newest last
	EmbeddingCount int         // Real embeddings pushed so far
}

// Result is the outcome of scoring one chunk.
type Result struct {
	Score     float32 `json:"score"`
	Triggered bool    `json:"triggered"`
	Ready     bool    `json:"ready"` // At least one real embedding has been scored
}

// Stats tracks pipeline activity for monitoring.
type Stats struct {
	ChunksProcessed int64 `json:"chunks_processed"`
	Embeddings      int64 `json:"embeddings"`
	Triggers        int64 `json:"triggers"`
	InferenceErrors int64 `json:"inference_errors"`
}

// Pipeline runs the melspectrogram, embedding, and classifier models over
// fixed-size audio chunks. Safe for concurrent use; each stream threads its
// own State.
type Pipeline struct {
	params     Params
	melspec    engine.Engine
	embedder   engine.Engine
	classifier engine.Engine

	melIn, melOut     string
	embedIn, embedOut string
	clsIn, clsOut     string

	chunksProcessed atomic.Int64
	embeddings      atomic.Int64
	triggers        atomic.Int64
	inferenceErrors atomic.Int64
}

// NewPipeline creates a wakeword pipeline over the three stage models.
// Tensor names are taken from each engine when it reports them, so exported
// models keep their original graph names.
func NewPipeline(melspec, embedder, classifier engine.Engine, params Params) (*Pipeline, error) {
	if melspec == nil || embedder == nil || classifier == nil {
		return nil, fmt.Errorf("wakeword: all three stage engines are required")
	}
	params.applyDefaults()

	p := &Pipeline{
		params:     params,
		melspec:    melspec,
		embedder:   embedder,
		classifier: classifier,
	}
	p.melIn, p.melOut = ioNames(melspec, "input", "output")
	p.embedIn, p.embedOut = ioNames(embedder, "input_1", "conv2d_19")
	p.clsIn, p.clsOut = ioNames(classifier, "input_1", "dense")
	return p, nil
}

// Params returns the effective parameters after defaulting.
func (p *Pipeline) Params() Params {
	return p.params
}

// NewState returns a fresh accumulator state. The embedding window starts
// at its full length, seeded with zero vectors.
func (p *Pipeline) NewState() State {
	embeddings := make([][]float32, p.params.Dims.EmbeddingFrames)
	for i := range embeddings {
		embeddings[i] = make([]float32, p.params.Dims.EmbeddingDim)
	}
	return State{Embeddings: embeddings}
}

// validateState checks the structural invariants of a passed-in state.
func (p *Pipeline) validateState(s State) error {
	if len(s.Mel)%melBins != 0 {
		return fmt.Errorf("%w: mel buffer has %d values, not a multiple of %d",
			ErrInvalidState, len(s.Mel), melBins)
	}
	if len(s.Embeddings) != p.params.Dims.EmbeddingFrames {
		return fmt.Errorf("%w: embedding window has %d vectors, requires fixed length %d",
			ErrInvalidState, len(s.Embeddings), p.params.Dims.EmbeddingFrames)
	}
	for _, emb := range s.Embeddings {
		if len(emb) != p.params.Dims.EmbeddingDim {
			return fmt.Errorf("%w: embedding has %d values, want %d",
				ErrInvalidState, len(emb), p.params.Dims.EmbeddingDim)
		}
	}
	return nil
}

// Process pushes one chunk of exactly WindowSize samples through the three
// stages. Every new embedding is scored immediately against the zero-padded
// window, so the first real score arrives with the first embedding. Until
// then the score is 0 and Ready is false. On inference failure the input
// state is returned unchanged.
func (p *Pipeline) Process(state State, window []float32) (Result, State, error) {
	if len(window) != p.params.WindowSize {
		return Result{}, state, fmt.Errorf("wakeword: chunk has %d samples, want %d",
			len(window), p.params.WindowSize)
	}
	if err := p.validateState(state); err != nil {
		return Result{}, state, err
	}

	melFrames, err := p.runMelspec(window)
	if err != nil {
		p.inferenceErrors.Add(1)
		return Result{}, state, err
	}

	next := State{
		Mel:            make([]float32, 0, len(state.Mel)+len(melFrames)),
		Embeddings:     make([][]float32, len(state.Embeddings)),
		EmbeddingCount: state.EmbeddingCount,
	}
	next.Mel = append(next.Mel, state.Mel...)
	next.Mel = append(next.Mel, melFrames...)
	copy(next.Embeddings, state.Embeddings)

	score := float32(0)
	scored := false
	for len(next.Mel)/melBins >= melFramesRequired {
		emb, err := p.runEmbedder(next.Mel[:melFramesRequired*melBins])
		if err != nil {
			p.inferenceErrors.Add(1)
			return Result{}, state, err
		}
		p.embeddings.Add(1)

		// The window keeps its fixed length: oldest vector out, newest in.
		next.Embeddings = append(next.Embeddings[1:], emb)
		next.EmbeddingCount++
		next.Mel = next.Mel[melStride*melBins:]

		score, err = p.runClassifier(next.Embeddings)
		if err != nil {
			p.inferenceErrors.Add(1)
			return Result{}, state, err
		}
		scored = true
	}

	res := Result{
		Score: score,
		Ready: next.EmbeddingCount > 0,
	}
	if scored && score > p.params.Threshold {
		res.Triggered = true
		p.triggers.Add(1)
	}
	p.chunksProcessed.Add(1)
	return res, next, nil
}

// runMelspec converts one audio chunk into rescaled mel frames.
func (p *Pipeline) runMelspec(window []float32) ([]float32, error) {
	in, err := engine.NewFloatTensor([]int64{1, int64(len(window))},
		append([]float32(nil), window...))
	if err != nil {
		return nil, fmt.Errorf("wakeword: build melspec input: %w", err)
	}
	outputs, err := p.melspec.Run(map[string]*engine.Tensor{p.melIn: in})
	if err != nil {
		return nil, &engine.InferenceError{Op: "melspectrogram", Err: err}
	}
	out, ok := outputs[p.melOut]
	if !ok || len(out.Floats) == 0 || len(out.Floats)%melBins != 0 {
		return nil, &engine.InferenceError{
			Op:  "melspectrogram",
			Err: fmt.Errorf("output %q missing or not a multiple of %d bins", p.melOut, melBins),
		}
	}

	// openWakeWord rescale applied to every mel value.
	frames := make([]float32, len(out.Floats))
	for i, v := range out.Floats {
		frames[i] = v/10 + 2
	}
	return frames, nil
}

// runEmbedder maps 76 mel frames to one embedding vector.
func (p *Pipeline) runEmbedder(mel []float32) ([]float32, error) {
	in, err := engine.NewFloatTensor(
		[]int64{1, melFramesRequired, melBins, 1},
		append([]float32(nil), mel...))
	if err != nil {
		return nil, fmt.Errorf("wakeword: build embedder input: %w", err)
	}
	outputs, err := p.embedder.Run(map[string]*engine.Tensor{p.embedIn: in})
	if err != nil {
		return nil, &engine.InferenceError{Op: "embedding", Err: err}
	}
	out, ok := outputs[p.embedOut]
	if !ok || len(out.Floats) != p.params.Dims.EmbeddingDim {
		return nil, &engine.InferenceError{
			Op:  "embedding",
			Err: fmt.Errorf("output %q missing or not %d values", p.embedOut, p.params.Dims.EmbeddingDim),
		}
	}
	return append([]float32(nil), out.Floats...), nil
}

// runClassifier scores a full embedding window.
func (p *Pipeline) runClassifier(embeddings [][]float32) (float32, error) {
	dims := p.params.Dims
	flat := make([]float32, 0, dims.EmbeddingFrames*dims.EmbeddingDim)
	for _, emb := range embeddings {
		flat = append(flat, emb...)
	}
	in, err := engine.NewFloatTensor(
		[]int64{1, int64(dims.EmbeddingFrames), int64(dims.EmbeddingDim)}, flat)
	if err != nil {
		return 0, fmt.Errorf("wakeword: build classifier input: %w", err)
	}
	outputs, err := p.classifier.Run(map[string]*engine.Tensor{p.clsIn: in})
	if err != nil {
		return 0, &engine.InferenceError{Op: "classifier", Err: err}
	}
	out, ok := outputs[p.clsOut]
	if !ok || len(out.Floats) == 0 {
		return 0, &engine.InferenceError{
			Op:  "classifier",
			Err: fmt.Errorf("output %q missing or empty", p.clsOut),
		}
	}
	return out.Floats[0], nil
}

// GetStats returns a snapshot of pipeline counters.
func (p *Pipeline) GetStats() Stats {
	return Stats{
		ChunksProcessed: p.chunksProcessed.Load(),
		Embeddings:      p.embeddings.Load(),
		Triggers:        p.triggers.Load(),
		InferenceErrors: p.inferenceErrors.Load(),
	}
}

// SingleStage scores raw audio chunks against a single end-to-end wakeword
// model, for models that bundle feature extraction internally. It keeps no
// state between chunks.
type SingleStage struct {
	eng        engine.Engine
	windowSize int
	threshold  float32
	in, out    string

	chunksProcessed atomic.Int64
	triggers        atomic.Int64
	inferenceErrors atomic.Int64
}

// NewSingleStage creates a detector around one model.
func NewSingleStage(eng engine.Engine, windowSize int, threshold float32) (*SingleStage, error) {
	if eng == nil {
		return nil, fmt.Errorf("wakeword: engine cannot be nil")
	}
	if windowSize <= 0 {
		windowSize = defaultWindowSize
	}
	if threshold <= 0 {
		threshold = 0.5
	}
	s := &SingleStage{eng: eng, windowSize: windowSize, threshold: threshold}
	s.in, s.out = ioNames(eng, "input", "output")
	return s, nil
}

// WindowSize returns the expected chunk size in samples.
func (s *SingleStage) WindowSize() int {
	return s.windowSize
}

// Process scores one chunk.
func (s *SingleStage) Process(window []float32) (Result, error) {
	if len(window) != s.windowSize {
		return Result{}, fmt.Errorf("wakeword: chunk has %d samples, want %d",
			len(window), s.windowSize)
	}
	in, err := engine.NewFloatTensor([]int64{1, int64(len(window))},
		append([]float32(nil), window...))
	if err != nil {
		return Result{}, fmt.Errorf("wakeword: build input: %w", err)
	}
	outputs, err := s.eng.Run(map[string]*engine.Tensor{s.in: in})
	if err != nil {
		s.inferenceErrors.Add(1)
		return Result{}, &engine.InferenceError{Op: "wakeword", Err: err}
	}
	out, ok := outputs[s.out]
	if !ok || len(out.Floats) == 0 {
		s.inferenceErrors.Add(1)
		return Result{}, &engine.InferenceError{
			Op:  "wakeword",
			Err: fmt.Errorf("output %q missing or empty", s.out),
		}
	}

	res := Result{Score: out.Floats[0], Ready: true}
	if res.Score > s.threshold {
		res.Triggered = true
		s.triggers.Add(1)
	}
	s.chunksProcessed.Add(1)
	return res, nil
}

// GetStats returns a snapshot of detector counters.
func (s *SingleStage) GetStats() Stats {
	return Stats{
		ChunksProcessed: s.chunksProcessed.Load(),
		Triggers:        s.triggers.Load(),
		InferenceErrors: s.inferenceErrors.Load(),
	}
}

// ioNames resolves the single input and output tensor names of a model,
// preferring what the engine reports over the given defaults.
func ioNames(eng engine.Engine, defIn, defOut string) (string, string) {
	in, out := defIn, defOut
	rep, ok := eng.(engine.ShapeReporter)
	if !ok {
		return in, out
	}
	if shapes := rep.InputShapes(); len(shapes) == 1 {
		for name := range shapes {
			in = name
		}
	}
	if shapes := rep.OutputShapes(); len(shapes) == 1 {
		for name := range shapes {
			out = name
		}
	}
	return in, out
}
