// Package trainconfig parses the declarative experiment configuration:
// which model to run, which loss to score it with, which distortions to
// simulate and which datasets feed them. Every record is strict: unknown
// fields, unknown variant tags and out-of-range parameters are rejected at
// parse time, before any tensors are touched.
package trainconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrValidation marks malformed configuration: unknown fields or tags and
// out-of-range parameters. Raised at parse/validate time only.
var ErrValidation = errors.New("trainconfig: validation error")

// ErrCompatibility marks a loss whose model precondition fails at Load time.
var ErrCompatibility = errors.New("trainconfig: compatibility error")

// strictUnmarshal decodes JSON into v, rejecting unknown fields.
func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// Config is the top-level experiment description.
type Config struct {
	Model       ModelConfig        `json:"model"`
	Loss        LossConfig         `json:"loss_function"`
	Distortions []DistortionConfig `json:"distortions,omitempty"`
	Images      DatasetConfig      `json:"images"`
}

// Validate checks every section. Parsing already validates; this exists for
// configs assembled in code.
func (c *Config) Validate() error {
	if c.Model.Variant == nil {
		return fmt.Errorf("%w: missing model section", ErrValidation)
	}
	if c.Loss.Variant == nil {
		return fmt.Errorf("%w: missing loss_function section", ErrValidation)
	}
	if c.Images.Variant == nil {
		return fmt.Errorf("%w: missing images section", ErrValidation)
	}
	if err := c.Model.Variant.Validate(); err != nil {
		return err
	}
	if err := c.Loss.Variant.Validate(); err != nil {
		return err
	}
	for _, d := range c.Distortions {
		if d.Variant == nil {
			return fmt.Errorf("%w: empty distortion entry", ErrValidation)
		}
		if err := d.Variant.Validate(); err != nil {
			return err
		}
	}
	return c.Images.Variant.Validate()
}

// Parse reads a JSON configuration document.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := strictUnmarshal(data, &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ParseYAML reads a YAML configuration document. The document is normalized
// to JSON first so both formats share one strict decoding path.
func ParseYAML(data []byte) (*Config, error) {
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	normalized, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return Parse(normalized)
}

// LoadFile reads a configuration file, dispatching on extension
// (.json, .yaml, .yml).
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return Parse(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	}
	return nil, fmt.Errorf("%w: unsupported config extension %q", ErrValidation, filepath.Ext(path))
}

// tagOf extracts the discriminant field from a raw variant record.
func tagOf(data []byte) (string, error) {
	var probe struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if probe.Name == "" {
		return "", fmt.Errorf("%w: missing variant tag \"name\"", ErrValidation)
	}
	return probe.Name, nil
}
