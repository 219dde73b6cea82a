package trainconfig

import (
	"encoding/json"
	"fmt"

	"github.com/kirbu123/olimp/dataset"
)

// DatasetVariant is one arm of the dataset discriminated union. A variant
// names a Zenodo record and the archive categories to enumerate.
type DatasetVariant interface {
	VariantName() string
	Validate() error
	Record() dataset.Record
	SelectedCategories() []string
}

// DatasetConfig wraps the union for JSON decoding.
type DatasetConfig struct {
	Variant DatasetVariant
}

func (c *DatasetConfig) UnmarshalJSON(data []byte) error {
	tag, err := tagOf(data)
	if err != nil {
		return err
	}
	v, err := newDatasetVariant(tag)
	if err != nil {
		return err
	}
	if err := strictUnmarshal(data, v); err != nil {
		return err
	}
	if err := v.Validate(); err != nil {
		return err
	}
	c.Variant = v
	return nil
}

func (c DatasetConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Variant)
}

func newDatasetVariant(tag string) (DatasetVariant, error) {
	switch tag {
	case "sca_2023":
		return &SCA2023DatasetConfig{}, nil
	case "cvd":
		return &CVDDatasetConfig{}, nil
	}
	return nil, fmt.Errorf("%w: unknown dataset %q", ErrValidation, tag)
}

// sca2023Paths are the category subpaths present in the SCA-2023 archive.
var sca2023Paths = map[string]bool{
	"Images":                     true,
	"Images/Icons":               true,
	"Images/Real_images":         true,
	"Images/Real_images/Animals": true,
	"Images/Real_images/Faces":   true,
	"Images/Real_images/Natural": true,
	"Images/Real_images/Urban":   true,
	"Images/Texts":               true,
	"PSFs":                       true,
	"PSFs/Broad":                 true,
	"PSFs/Medium":                true,
	"PSFs/Narrow":                true,
}

// SCA2023DatasetConfig selects categories of the SCA-2023 record: natural
// and synthetic images plus measured PSF banks.
type SCA2023DatasetConfig struct {
	Name       string   `json:"name"`
	Categories []string `json:"categories"`
}

func (*SCA2023DatasetConfig) VariantName() string { return "sca_2023" }

func (c *SCA2023DatasetConfig) Validate() error {
	if len(c.Categories) == 0 {
		return fmt.Errorf("%w: sca_2023 needs at least one category", ErrValidation)
	}
	for _, cat := range c.Categories {
		if !sca2023Paths[cat] {
			return fmt.Errorf("%w: unknown sca_2023 category %q", ErrValidation, cat)
		}
	}
	return nil
}

func (c *SCA2023DatasetConfig) Record() dataset.Record { return dataset.SCA2023 }
func (c *SCA2023DatasetConfig) SelectedCategories() []string { return c.Categories }

// cvdPaths are the category subpaths present in the CVD record.
var cvdPaths = map[string]bool{
	"Color_cvd_D_experiment_100000": true,
	"Color_cvd_P_experiment_100000": true,
	"*":                             true,
}

// CVDDatasetConfig selects categories of the CVD record.
type CVDDatasetConfig struct {
	Name       string   `json:"name"`
	Categories []string `json:"categories"`
}

func (*CVDDatasetConfig) VariantName() string { return "cvd" }

func (c *CVDDatasetConfig) Validate() error {
	if len(c.Categories) == 0 {
		return fmt.Errorf("%w: cvd needs at least one category", ErrValidation)
	}
	for _, cat := range c.Categories {
		if !cvdPaths[cat] {
			return fmt.Errorf("%w: unknown cvd category %q", ErrValidation, cat)
		}
	}
	return nil
}

func (c *CVDDatasetConfig) Record() dataset.Record { return dataset.CVD }
func (c *CVDDatasetConfig) SelectedCategories() []string { return c.Categories }
