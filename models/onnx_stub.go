//go:build !cgo
// +build !cgo

// Stub for non-CGO builds where ONNX Runtime is not available.

package models

import (
	"errors"

	"github.com/kirbu123/olimp/tensor"
)

// ErrCGORequired is returned when ONNX inference is attempted without CGO
// support.
var ErrCGORequired = errors.New("models: onnx inference requires CGO support; rebuild with CGO_ENABLED=1")

// Options configures an ONNX-backed model.
type Options struct {
	ORTSharedLibraryPath string
	InputNames           []string
	OutputNames          []string
	Kind                 ModelKind
}

// DefaultOptions returns default Options.
func DefaultOptions() Options {
	return Options{
		InputNames:  []string{"input"},
		OutputNames: []string{"output"},
		Kind:        KindStandard,
	}
}

// ONNXModel is unavailable without CGO.
type ONNXModel struct {
	opts Options
}

// NewONNXModel returns an error indicating CGO is required.
func NewONNXModel(weightsPath string, opts Options) (*ONNXModel, error) {
	return nil, ErrCGORequired
}

// Kind reports the output contract declared at construction.
func (m *ONNXModel) Kind() ModelKind { return m.opts.Kind }

// Forward returns an error indicating CGO is required.
func (m *ONNXModel) Forward(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	return nil, ErrCGORequired
}

// Close is a no-op in non-CGO builds.
func (m *ONNXModel) Close() error { return nil }
