package wakeword

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/JonesHong/web-asr-core/internal/engine"
)

// ErrProbeExhausted is returned when every strategy for recovering the
// classifier input dimensions has failed.
var ErrProbeExhausted = errors.New("wakeword: could not determine classifier dimensions")

// Probe candidates for the embedding-frame count, most common first.
var probeFrameCandidates = []int{16, 20, 24, 28, 32}

// Shapes quoted in ONNX runtime error messages, either "[1,16,96]" or
// "1x16x96".
var (
	bracketShapeRe = regexp.MustCompile(`\[1,\s*(\d+),\s*(\d+)\]`)
	crossShapeRe   = regexp.MustCompile(`\b1x(\d+)x(\d+)\b`)
)

// ProbeDims determines the classifier's input geometry. The embedding
// engine's declared output metadata resolves the embedding dimension first;
// then strategies for the full geometry are tried in order and the first
// success wins:
//
//  1. A rank-3 classifier input shape reported by the model itself,
//     with a dynamic trailing axis filled from the embedder's dimension.
//  2. Running the classifier with zero tensors of candidate shapes,
//     synthesized at the resolved embedding dimension.
//  3. Parsing an expected shape out of the classifier's error messages.
//  4. The caller's fallback, when valid.
//
// The returned string names the strategy that succeeded. If everything
// fails the error wraps ErrProbeExhausted.
func ProbeDims(embedder, classifier engine.Engine, fallback ModelDims) (ModelDims, string, error) {
	if classifier == nil {
		return ModelDims{}, "", fmt.Errorf("wakeword: classifier cannot be nil")
	}

	embedDim := dimFromEmbedder(embedder)

	if dims, ok := dimsFromMetadata(classifier, embedDim); ok {
		return dims, "metadata", nil
	}

	dims, probeErrs := dimsFromProbing(classifier, embedDim)
	if dims.valid() {
		return dims, "probe", nil
	}

	for _, err := range probeErrs {
		if dims, ok := parseShapeHint(err.Error()); ok {
			return dims, "error-hint", nil
		}
	}

	if fallback.valid() {
		return fallback, "fallback", nil
	}

	return ModelDims{}, "", fmt.Errorf("%w: %d probe attempts failed", ErrProbeExhausted, len(probeErrs))
}

// dimFromEmbedder reads the embedding dimension from the embedder's declared
// output metadata: a numeric last dimension of its single output. Returns 0
// when the embedder reports nothing usable.
func dimFromEmbedder(embedder engine.Engine) int {
	rep, ok := embedder.(engine.ShapeReporter)
	if !ok {
		return 0
	}
	shapes := rep.OutputShapes()
	if len(shapes) != 1 {
		return 0
	}
	for _, shape := range shapes {
		if len(shape) == 0 {
			return 0
		}
		if last := shape[len(shape)-1]; last > 0 {
			return int(last)
		}
	}
	return 0
}

// dimsFromMetadata reads the classifier input shape when the engine reports
// one. Only a rank-3 [batch, frames, dim] shape with a concrete frame count
// counts; a dynamic trailing axis (-1 or 0) is filled from the embedder's
// dimension when that is known.
func dimsFromMetadata(classifier engine.Engine, embedDim int) (ModelDims, bool) {
	rep, ok := classifier.(engine.ShapeReporter)
	if !ok {
		return ModelDims{}, false
	}
	shapes := rep.InputShapes()
	if len(shapes) != 1 {
		return ModelDims{}, false
	}
	for _, shape := range shapes {
		if len(shape) != 3 {
			return ModelDims{}, false
		}
		dims := ModelDims{
			EmbeddingFrames: int(shape[1]),
			EmbeddingDim:    int(shape[2]),
		}
		if dims.EmbeddingDim <= 0 && embedDim > 0 {
			dims.EmbeddingDim = embedDim
		}
		if dims.valid() {
			return dims, true
		}
	}
	return ModelDims{}, false
}

// dimsFromProbing runs the classifier with zero input of each candidate
// shape and keeps the first one the model accepts. Errors are collected for
// the shape-hint fallback.
func dimsFromProbing(classifier engine.Engine, embedDim int) (ModelDims, []error) {
	in, _ := ioNames(classifier, "input_1", "dense")

	dim := embedDim
	if dim <= 0 {
		dim = DefaultDims().EmbeddingDim
	}

	var errs []error
	for _, frames := range probeFrameCandidates {
		probe := engine.ZeroFloatTensor(1, int64(frames), int64(dim))
		if _, err := classifier.Run(map[string]*engine.Tensor{in: probe}); err != nil {
			errs = append(errs, err)
			continue
		}
		return ModelDims{EmbeddingFrames: frames, EmbeddingDim: dim}, errs
	}
	return ModelDims{}, errs
}

// parseShapeHint extracts an expected [1, frames, dim] shape quoted in an
// inference error message.
func parseShapeHint(msg string) (ModelDims, bool) {
	for _, re := range []*regexp.Regexp{bracketShapeRe, crossShapeRe} {
		m := re.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		var frames, dim int
		fmt.Sscanf(m[1], "%d", &frames)
		fmt.Sscanf(m[2], "%d", &dim)
		dims := ModelDims{EmbeddingFrames: frames, EmbeddingDim: dim}
		if dims.valid() {
			return dims, true
		}
	}
	return ModelDims{}, false
}
