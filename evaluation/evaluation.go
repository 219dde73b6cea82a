// Package evaluation drives precompensation models over cached datasets and
// records per-sample quality scores.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kirbu123/olimp/dataset"
	"github.com/kirbu123/olimp/distort"
	"github.com/kirbu123/olimp/models"
	"github.com/kirbu123/olimp/tensor"
	"github.com/kirbu123/olimp/trainconfig"
)

// Options configures a Runner.
type Options struct {
	// Resolve controls weight download and caching for the configured model.
	Resolve models.ResolveOptions
	// Model overrides the configured model when set. The runner does not
	// close an injected model.
	Model models.Model
	// ResultsPath is the SQLite results database. Defaults to
	// results.db inside the dataset store directory.
	ResultsPath string
	// Limit caps the number of evaluated samples. Zero means all.
	Limit int
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// Runner evaluates one experiment configuration end to end: it opens the
// model, binds the loss, streams dataset samples through the model and
// persists every score.
type Runner struct {
	cfg   *trainconfig.Config
	store *dataset.Store
	opts  Options
	log   *zap.Logger
}

// NewRunner builds a runner over a parsed configuration and a dataset store.
func NewRunner(cfg *trainconfig.Config, store *dataset.Store, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ResultsPath == "" {
		opts.ResultsPath = filepath.Join(store.Dir(), "results.db")
	}
	return &Runner{cfg: cfg, store: store, opts: opts, log: opts.Logger}
}

// paramSource feeds one distortion's parameter tensor per sample. Exactly one
// of paths and fixed is set.
type paramSource struct {
	paths []string
	fixed *tensor.Tensor
}

func (p *paramSource) at(i int) (*tensor.Tensor, error) {
	if p.fixed != nil {
		return p.fixed, nil
	}
	return dataset.ReadImage(p.paths[i%len(p.paths)])
}

// Run evaluates every selected sample and returns the run summary.
func (r *Runner) Run(ctx context.Context) (RunSummary, error) {
	model := r.opts.Model
	if model == nil {
		var err error
		model, err = r.cfg.Model.Variant.GetInstance(ctx, r.opts.Resolve)
		if err != nil {
			return RunSummary{}, fmt.Errorf("evaluation: open model: %w", err)
		}
		defer model.Close()
	}

	bound, err := r.cfg.Loss.Variant.Load(model)
	if err != nil {
		return RunSummary{}, err
	}

	imagePaths, err := r.fetchFlat(ctx, r.cfg.Images.Variant)
	if err != nil {
		return RunSummary{}, err
	}
	if r.opts.Limit > 0 && len(imagePaths) > r.opts.Limit {
		imagePaths = imagePaths[:r.opts.Limit]
	}

	builders := make([]distort.Builder, len(r.cfg.Distortions))
	sources := make([]*paramSource, len(r.cfg.Distortions))
	for i, dc := range r.cfg.Distortions {
		builders[i] = dc.Variant.Builder()
		src := &paramSource{fixed: dc.Variant.FixedParameter()}
		if pd := dc.Variant.ParameterDataset(); pd != nil {
			if src.paths, err = r.fetchFlat(ctx, pd.Variant); err != nil {
				return RunSummary{}, err
			}
		}
		sources[i] = src
	}

	results, err := OpenResults(r.opts.ResultsPath)
	if err != nil {
		return RunSummary{}, err
	}
	defer results.Close()

	runID := uuid.NewString()
	cfgJSON, err := json.Marshal(r.cfg)
	if err != nil {
		return RunSummary{}, err
	}
	metric := r.cfg.Loss.Variant.VariantName()
	if err := results.BeginRun(runID, r.cfg.Model.Variant.VariantName(), metric, string(cfgJSON)); err != nil {
		return RunSummary{}, err
	}
	r.log.Info("evaluation run started",
		zap.String("run_id", runID),
		zap.String("model", r.cfg.Model.Variant.VariantName()),
		zap.String("metric", metric),
		zap.Int("samples", len(imagePaths)))

	for i, path := range imagePaths {
		if err := ctx.Err(); err != nil {
			return RunSummary{}, err
		}
		score, err := r.evaluateSample(path, i, model, bound, builders, sources)
		if err != nil {
			return RunSummary{}, fmt.Errorf("evaluation: sample %s: %w", path, err)
		}
		if err := results.InsertScore(runID, path, metric, score); err != nil {
			return RunSummary{}, err
		}
		r.log.Debug("sample scored",
			zap.String("run_id", runID),
			zap.String("sample", path),
			zap.Float64("score", score))
	}

	if err := results.FinishRun(runID); err != nil {
		return RunSummary{}, err
	}
	summary, err := results.Summary(runID)
	if err != nil {
		return RunSummary{}, err
	}
	r.log.Info("evaluation run finished",
		zap.String("run_id", runID),
		zap.Int("samples", summary.Samples),
		zap.Int("non_finite", summary.NonFinite),
		zap.Float64("mean_score", summary.Mean))
	return summary, nil
}

// evaluateSample reads one image, runs the model on it and scores the output
// against the image through the configured distortions.
func (r *Runner) evaluateSample(path string, idx int, model models.Model, bound trainconfig.BoundLoss, builders []distort.Builder, sources []*paramSource) (float64, error) {
	img, err := dataset.ReadImage(path)
	if err != nil {
		return 0, err
	}
	datums := make([]*tensor.Tensor, 0, len(sources)+1)
	datums = append(datums, img)
	for _, src := range sources {
		param, err := src.at(idx)
		if err != nil {
			return 0, err
		}
		datums = append(datums, param)
	}

	outputs, err := model.Forward(datums[:1])
	if err != nil {
		return 0, err
	}
	return bound(outputs, datums, builders)
}

// fetchFlat resolves a dataset variant into one sorted, deduplicated path
// list across its categories.
func (r *Runner) fetchFlat(ctx context.Context, v trainconfig.DatasetVariant) ([]string, error) {
	byCat, err := r.store.Fetch(ctx, v.Record(), v.SelectedCategories())
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, paths := range byCat {
		for _, p := range paths {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}
