//go:build cgo
// +build cgo

package models

import (
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/kirbu123/olimp/tensor"
)

// Options configures an ONNX-backed model.
type Options struct {
	// Path to the onnxruntime shared library (.dll/.so/.dylib). If empty, the
	// environment variable ONNXRUNTIME_SHARED_LIBRARY_PATH will be respected.
	ORTSharedLibraryPath string

	// Input and output tensor names in the model graph, in positional order.
	InputNames  []string
	OutputNames []string

	// Kind declares the output contract. KindVAE sessions must list three
	// outputs (reconstruction, mu, logvar).
	Kind ModelKind
}

// DefaultOptions returns the configuration used by single-image
// precompensation graphs.
func DefaultOptions() Options {
	return Options{
		InputNames:  []string{"input"},
		OutputNames: []string{"output"},
		Kind:        KindStandard,
	}
}

// The onnxruntime environment is process global. Sessions share it through a
// reference count so the last Close tears it down.
var (
	envMu   sync.Mutex
	envRefs int
)

func acquireEnvironment(sharedLibPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		if sharedLibPath != "" {
			ort.SetSharedLibraryPath(sharedLibPath)
		} else if p := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); p != "" {
			ort.SetSharedLibraryPath(p)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return err
		}
	}
	envRefs++
	return nil
}

func releaseEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		return nil
	}
	envRefs--
	if envRefs == 0 {
		return ort.DestroyEnvironment()
	}
	return nil
}

// ONNXModel runs a model graph through an onnxruntime session. Input shapes
// are dynamic; each Forward call builds fresh input tensors and lets the
// runtime allocate the outputs.
type ONNXModel struct {
	session *ort.DynamicAdvancedSession
	opts    Options
	closed  bool
}

// NewONNXModel opens the model at weightsPath. The path must point to a local
// .onnx file; use ResolveWeights first for remote references.
func NewONNXModel(weightsPath string, opts Options) (*ONNXModel, error) {
	if len(opts.InputNames) == 0 || len(opts.OutputNames) == 0 {
		return nil, errors.New("models: input and output names must be provided")
	}
	if opts.Kind == "" {
		opts.Kind = KindStandard
	}
	if opts.Kind == KindVAE && len(opts.OutputNames) != 3 {
		return nil, fmt.Errorf("models: a vae session needs 3 outputs, got %d", len(opts.OutputNames))
	}
	if _, err := os.Stat(weightsPath); err != nil {
		return nil, fmt.Errorf("models: weights not found: %w", err)
	}
	if err := acquireEnvironment(opts.ORTSharedLibraryPath); err != nil {
		return nil, err
	}
	session, err := ort.NewDynamicAdvancedSession(
		weightsPath, opts.InputNames, opts.OutputNames, nil)
	if err != nil {
		releaseEnvironment()
		return nil, err
	}
	return &ONNXModel{session: session, opts: opts}, nil
}

// Kind reports the output contract declared at construction.
func (m *ONNXModel) Kind() ModelKind { return m.opts.Kind }

// Forward runs one inference pass. len(inputs) must match the configured
// input names.
func (m *ONNXModel) Forward(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if m.closed {
		return nil, errors.New("models: session is closed")
	}
	if len(inputs) != len(m.opts.InputNames) {
		return nil, fmt.Errorf("models: got %d inputs for %d graph inputs",
			len(inputs), len(m.opts.InputNames))
	}

	ortInputs := make([]ort.Value, len(inputs))
	defer func() {
		for _, v := range ortInputs {
			if v != nil {
				v.Destroy()
			}
		}
	}()
	for i, in := range inputs {
		shape := ort.NewShape(
			int64(in.N()), int64(in.C()), int64(in.H()), int64(in.W()))
		data := make([]float32, len(in.Data))
		copy(data, in.Data)
		v, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, err
		}
		ortInputs[i] = v
	}

	ortOutputs := make([]ort.Value, len(m.opts.OutputNames))
	if err := m.session.Run(ortInputs, ortOutputs); err != nil {
		return nil, err
	}
	defer func() {
		for _, v := range ortOutputs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	outs := make([]*tensor.Tensor, len(ortOutputs))
	for i, v := range ortOutputs {
		ot, ok := v.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("models: output %q is not a float32 tensor",
				m.opts.OutputNames[i])
		}
		n, c, h, w, err := padShape(ot.GetShape())
		if err != nil {
			return nil, fmt.Errorf("models: output %q: %w", m.opts.OutputNames[i], err)
		}
		data := make([]float32, len(ot.GetData()))
		copy(data, ot.GetData())
		t, err := tensor.FromSlice(n, c, h, w, data)
		if err != nil {
			return nil, err
		}
		outs[i] = t
	}
	return outs, nil
}

// padShape maps a 1..4 dimensional runtime shape into NCHW, filling missing
// trailing dimensions with 1 so a latent (N, D) lands as (N, D, 1, 1).
func padShape(shape ort.Shape) (n, c, h, w int, err error) {
	dims := []int64(shape)
	if len(dims) == 0 || len(dims) > 4 {
		return 0, 0, 0, 0, fmt.Errorf("unsupported rank %d", len(dims))
	}
	full := [4]int64{1, 1, 1, 1}
	copy(full[:], dims)
	return int(full[0]), int(full[1]), int(full[2]), int(full[3]), nil
}

// Close destroys the session and releases the shared runtime environment.
func (m *ONNXModel) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	err := m.session.Destroy()
	if relErr := releaseEnvironment(); err == nil {
		err = relErr
	}
	return err
}
