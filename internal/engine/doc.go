// Package engine defines the named-tensor inference boundary used by the
// detector pipelines. Pipelines only depend on the Engine interface; concrete
// backends (ONNX Runtime, mocks) live in subpackages.
package engine
