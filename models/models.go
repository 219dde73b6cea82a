// Package models loads precompensation models and runs them over image
// batches. The concrete implementation is an ONNX Runtime session; weight
// files may live on disk or be fetched from https or s3 locations into the
// local cache.
package models

import (
	"fmt"

	"github.com/kirbu123/olimp/tensor"
)

// ModelKind marks what a model's outputs mean. Losses that need more than a
// reconstructed image (e.g. a variational objective needing mu and logvar)
// check the kind before binding.
type ModelKind string

const (
	// KindStandard models produce a single precompensated image batch.
	KindStandard ModelKind = "standard"
	// KindVAE models produce (reconstruction, mu, logvar).
	KindVAE ModelKind = "vae"
)

// ParseModelKind validates a kind string from configuration.
func ParseModelKind(s string) (ModelKind, error) {
	switch ModelKind(s) {
	case KindStandard, KindVAE:
		return ModelKind(s), nil
	}
	return "", fmt.Errorf("models: unknown model kind %q", s)
}

// Model is a loaded inference model. Forward takes the input image batch
// (plus any extra conditioning tensors the architecture expects, e.g. a PSF)
// and returns the output tensors in graph order.
type Model interface {
	Forward(inputs []*tensor.Tensor) ([]*tensor.Tensor, error)
	Kind() ModelKind
	Close() error
}
