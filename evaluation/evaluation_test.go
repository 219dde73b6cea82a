package evaluation

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/kirbu123/olimp/dataset"
	"github.com/kirbu123/olimp/models"
	"github.com/kirbu123/olimp/tensor"
	"github.com/kirbu123/olimp/trainconfig"
)

// identityModel echoes its inputs, standing in for a perfect precompensator.
type identityModel struct{}

func (identityModel) Forward(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	return inputs, nil
}
func (identityModel) Kind() models.ModelKind { return models.KindStandard }
func (identityModel) Close() error           { return nil }

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func colorPNG(t *testing.T, w, h int, c color.NRGBA) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return encodePNG(t, img)
}

// deltaPNG is a PSF image with all mass in the origin pixel. Convolution
// with it leaves the image unchanged.
func deltaPNG(t *testing.T, w, h int) []byte {
	img := image.NewGray(image.Rect(0, 0, w, h))
	img.SetGray(0, 0, color.Gray{Y: 255})
	return encodePNG(t, img)
}

func recordArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entries := map[string][]byte{
		"Images/a.png":        colorPNG(t, 4, 4, color.NRGBA{R: 128, G: 64, A: 255}),
		"Images/b.png":        colorPNG(t, 4, 4, color.NRGBA{B: 200, A: 255}),
		"PSFs/Medium/psf.png": deltaPNG(t, 4, 4),
	}
	for name, data := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// newTestStore serves the SCA record layout from a local server and opens a
// store pointed at it.
func newTestStore(t *testing.T) *dataset.Store {
	t.Helper()
	archive := recordArchive(t)
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc(fmt.Sprintf("/records/%d", dataset.SCA2023.ID), func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"files":[{"key":"data.zip","size":%d,"checksum":"md5:ignored","links":{"self":"%s/files/data.zip"}}]}`,
			len(archive), srv.URL)
	})
	mux.HandleFunc("/files/data.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store, err := dataset.NewStore(dataset.StoreOptions{
		Dir:     t.TempDir(),
		APIBase: srv.URL + "/records",
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

const runConfigJSON = `{
	"model": {"name": "vdsr", "path": "weights/vdsr.onnx"},
	"loss_function": {"name": "MSE"},
	"distortions": [
		{"name": "refraction_datasets",
		 "psf": {"name": "sca_2023", "categories": ["PSFs/Medium"]}}
	],
	"images": {"name": "sca_2023", "categories": ["Images"]}
}`

func TestRunnerEndToEnd(t *testing.T) {
	cfg, err := trainconfig.Parse([]byte(runConfigJSON))
	if err != nil {
		t.Fatal(err)
	}
	store := newTestStore(t)

	runner := NewRunner(cfg, store, Options{Model: identityModel{}})
	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Samples != 2 {
		t.Errorf("samples = %d; want 2", summary.Samples)
	}
	if summary.NonFinite != 0 {
		t.Errorf("non-finite scores = %d; want 0", summary.NonFinite)
	}
	// identity model plus delta psf reproduces the target exactly
	if math.Abs(summary.Mean) > 1e-6 {
		t.Errorf("mean mse = %v; want 0", summary.Mean)
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), "results.db")); err != nil {
		t.Errorf("results database missing: %v", err)
	}
}

func TestRunnerLimit(t *testing.T) {
	cfg, err := trainconfig.Parse([]byte(runConfigJSON))
	if err != nil {
		t.Fatal(err)
	}
	store := newTestStore(t)

	runner := NewRunner(cfg, store, Options{Model: identityModel{}, Limit: 1})
	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Samples != 1 {
		t.Errorf("samples = %d; want 1", summary.Samples)
	}
}

func TestRunnerWithoutDistortions(t *testing.T) {
	plain := `{
		"model": {"name": "vdsr", "path": "weights/vdsr.onnx"},
		"loss_function": {"name": "MSE"},
		"images": {"name": "sca_2023", "categories": ["Images"]}
	}`
	cfg, err := trainconfig.Parse([]byte(plain))
	if err != nil {
		t.Fatal(err)
	}
	store := newTestStore(t)

	runner := NewRunner(cfg, store, Options{Model: identityModel{}})
	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Samples != 2 || math.Abs(summary.Mean) > 1e-6 {
		t.Errorf("summary = %+v; want 2 zero-score samples", summary)
	}
}

func TestResultsNonFiniteScores(t *testing.T) {
	db, err := OpenResults(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if err := db.BeginRun("run-1", "vdsr", "PSNR", "{}"); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertScore("run-1", "a.png", "PSNR", math.Inf(1)); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertScore("run-1", "b.png", "PSNR", 42.5); err != nil {
		t.Fatal(err)
	}
	if err := db.FinishRun("run-1"); err != nil {
		t.Fatal(err)
	}

	s, err := db.Summary("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Samples != 2 || s.NonFinite != 1 {
		t.Errorf("summary = %+v; want 2 samples with 1 non-finite", s)
	}
	if math.Abs(s.Mean-42.5) > 1e-9 {
		t.Errorf("mean of finite scores = %v; want 42.5", s.Mean)
	}
}
