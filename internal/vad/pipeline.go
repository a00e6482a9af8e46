package vad

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/JonesHong/web-asr-core/internal/engine"
)

// ErrInvalidState is returned when a State's buffers do not match the
// pipeline parameters, typically because the state came from a pipeline
// configured with different sizes.
var ErrInvalidState = errors.New("vad: state does not match pipeline parameters")

const recurrentSize = 2 * 1 * 128

// Params configures a VAD pipeline. Zero values are replaced by defaults
// matching the Silero v5 model contract.
type Params struct {
	WindowSize     int     // Samples per detection window
	ContextSize    int     // Samples of prior audio prepended to each window
	SampleRate     int     // Input sample rate in Hz
	Threshold      float32 // Speech probability threshold
	HangoverFrames int     // Low-score windows tolerated before speech ends

	// ONNX tensor names. Silero v5 uses input/state/sr in and
	// output/stateN out.
	InputName    string
	StateName    string
	SampleRate64 string
	OutputName   string
	StateOutName string
}

// DefaultParams returns the Silero v5 contract with a 12-frame hangover.
func DefaultParams() Params {
	return Params{
		WindowSize:     512,
		ContextSize:    64,
		SampleRate:     16000,
		Threshold:      0.5,
		HangoverFrames: 12,
		InputName:      "input",
		StateName:      "state",
		SampleRate64:   "sr",
		OutputName:     "output",
		StateOutName:   "stateN",
	}
}

func (p *Params) applyDefaults() {
	d := DefaultParams()
	if p.WindowSize <= 0 {
		p.WindowSize = d.WindowSize
	}
	if p.ContextSize <= 0 {
		p.ContextSize = d.ContextSize
	}
	if p.SampleRate <= 0 {
		p.SampleRate = d.SampleRate
	}
	if p.Threshold <= 0 {
		p.Threshold = d.Threshold
	}
	if p.HangoverFrames <= 0 {
		p.HangoverFrames = d.HangoverFrames
	}
	if p.InputName == "" {
		p.InputName = d.InputName
	}
	if p.StateName == "" {
		p.StateName = d.StateName
	}
	if p.SampleRate64 == "" {
		p.SampleRate64 = d.SampleRate64
	}
	if p.OutputName == "" {
		p.OutputName = d.OutputName
	}
	if p.StateOutName == "" {
		p.StateOutName = d.StateOutName
	}
}

// State carries everything the detector remembers between windows. It is a
// value: Process never mutates its argument and returns a fresh State, so
// callers can retain, copy, and replay states at will.
type State struct {
	Recurrent []float32 // LSTM state, 2x1x128 flattened
	Context   []float32 // Last ContextSize samples of the previous window
	Hangover  int       // Remaining low-score windows before deactivation
	Active    bool      // Debounced speech flag
}

// Result is the outcome of one detection window.
type Result struct {
	Score     float32 `json:"score"`      // Raw model speech probability
	Active    bool    `json:"active"`     // Debounced speech flag
	SpeechOn  bool    `json:"speech_on"`  // Active turned on at this window
	SpeechOff bool    `json:"speech_off"` // Active turned off at this window
	AboveGate bool    `json:"above_gate"` // Score cleared the threshold
}

// Stats tracks pipeline activity for monitoring.
type Stats struct {
	WindowsProcessed int64 `json:"windows_processed"`
	SpeechWindows    int64 `json:"speech_windows"`
	InferenceErrors  int64 `json:"inference_errors"`
}

// Pipeline scores fixed-size audio windows against a recurrent VAD model
// and applies hangover-based debouncing. A single Pipeline is safe for
// concurrent use across sessions as long as each session threads its own
// State.
type Pipeline struct {
	params Params
	eng    engine.Engine

	windowsProcessed atomic.Int64
	speechWindows    atomic.Int64
	inferenceErrors  atomic.Int64
}

// NewPipeline creates a VAD pipeline driving the given inference engine.
func NewPipeline(eng engine.Engine, params Params) (*Pipeline, error) {
	if eng == nil {
		return nil, fmt.Errorf("vad: engine cannot be nil")
	}
	params.applyDefaults()
	if params.Threshold >= 1 {
		return nil, fmt.Errorf("vad: threshold must be below 1, got %v", params.Threshold)
	}
	return &Pipeline{params: params, eng: eng}, nil
}

// Params returns the effective pipeline parameters after defaulting.
func (p *Pipeline) Params() Params {
	return p.params
}

// NewState returns a fresh detector state with zeroed model memory.
func (p *Pipeline) NewState() State {
	return State{
		Recurrent: make([]float32, recurrentSize),
		Context:   make([]float32, p.params.ContextSize),
	}
}

func (p *Pipeline) validateState(s State) error {
	if len(s.Recurrent) != recurrentSize {
		return fmt.Errorf("%w: recurrent state has %d values, want %d",
			ErrInvalidState, len(s.Recurrent), recurrentSize)
	}
	if len(s.Context) != p.params.ContextSize {
		return fmt.Errorf("%w: context has %d samples, want %d",
			ErrInvalidState, len(s.Context), p.params.ContextSize)
	}
	return nil
}

// Process scores one window of exactly WindowSize samples. It returns the
// detection result and the successor state; the input state is left
// untouched. On inference failure the input state remains valid and can be
// reused for the next window.
func (p *Pipeline) Process(state State, window []float32) (Result, State, error) {
	if len(window) != p.params.WindowSize {
		return Result{}, state, fmt.Errorf("vad: window has %d samples, want %d",
			len(window), p.params.WindowSize)
	}
	if err := p.validateState(state); err != nil {
		return Result{}, state, err
	}

	// Model input is the previous context followed by the new window.
	frame := make([]float32, p.params.ContextSize+p.params.WindowSize)
	copy(frame, state.Context)
	copy(frame[p.params.ContextSize:], window)

	input, err := engine.NewFloatTensor([]int64{1, int64(len(frame))}, frame)
	if err != nil {
		return Result{}, state, fmt.Errorf("vad: build input tensor: %w", err)
	}
	lstm, err := engine.NewFloatTensor([]int64{2, 1, 128}, state.Recurrent)
	if err != nil {
		return Result{}, state, fmt.Errorf("vad: build state tensor: %w", err)
	}
	sr, err := engine.NewIntTensor([]int64{1}, []int64{int64(p.params.SampleRate)})
	if err != nil {
		return Result{}, state, fmt.Errorf("vad: build sample rate tensor: %w", err)
	}

	outputs, err := p.eng.Run(map[string]*engine.Tensor{
		p.params.InputName:    input,
		p.params.StateName:    lstm,
		p.params.SampleRate64: sr,
	})
	if err != nil {
		p.inferenceErrors.Add(1)
		return Result{}, state, &engine.InferenceError{Op: "vad", Err: err}
	}

	score, err := scalarOutput(outputs, p.params.OutputName)
	if err != nil {
		p.inferenceErrors.Add(1)
		return Result{}, state, err
	}
	nextLSTM, ok := outputs[p.params.StateOutName]
	if !ok || len(nextLSTM.Floats) != recurrentSize {
		p.inferenceErrors.Add(1)
		return Result{}, state, &engine.InferenceError{
			Op:  "vad",
			Err: fmt.Errorf("output %q missing or malformed", p.params.StateOutName),
		}
	}

	next := State{
		Recurrent: append([]float32(nil), nextLSTM.Floats...),
		Context:   append([]float32(nil), window[len(window)-p.params.ContextSize:]...),
		Hangover:  state.Hangover,
		Active:    state.Active,
	}

	above := score > p.params.Threshold
	if above {
		next.Active = true
		next.Hangover = p.params.HangoverFrames
	} else if next.Active {
		if next.Hangover == 0 {
			next.Active = false
		} else {
			next.Hangover--
		}
	}

	res := Result{
		Score:     score,
		Active:    next.Active,
		AboveGate: above,
		SpeechOn:  next.Active && !state.Active,
		SpeechOff: !next.Active && state.Active,
	}

	p.windowsProcessed.Add(1)
	if next.Active {
		p.speechWindows.Add(1)
	}
	return res, next, nil
}

// GetStats returns a snapshot of pipeline counters.
func (p *Pipeline) GetStats() Stats {
	return Stats{
		WindowsProcessed: p.windowsProcessed.Load(),
		SpeechWindows:    p.speechWindows.Load(),
		InferenceErrors:  p.inferenceErrors.Load(),
	}
}

func scalarOutput(outputs map[string]*engine.Tensor, name string) (float32, error) {
	t, ok := outputs[name]
	if !ok || len(t.Floats) == 0 {
		return 0, &engine.InferenceError{
			Op:  "vad",
			Err: fmt.Errorf("output %q missing or empty", name),
		}
	}
	return t.Floats[0], nil
}
