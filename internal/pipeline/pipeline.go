// Package pipeline runs the index calculation for a CBSA end to end:
// repeat-sale pairs, supertracts, weights, per-supertract regressions and
// index assembly, then persists the outputs and any revisions.
package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/rsai-cli/internal/calcerr"
	"github.com/sells-group/rsai-cli/internal/config"
	"github.com/sells-group/rsai-cli/internal/geo"
	"github.com/sells-group/rsai-cli/internal/index"
	"github.com/sells-group/rsai-cli/internal/model"
	"github.com/sells-group/rsai-cli/internal/monitoring"
	"github.com/sells-group/rsai-cli/internal/pairs"
	"github.com/sells-group/rsai-cli/internal/regression"
	"github.com/sells-group/rsai-cli/internal/store"
	"github.com/sells-group/rsai-cli/internal/weights"
)

// Store is the persistence the pipeline reads inputs from and writes
// outputs to.
type Store interface {
	ListTransactions(ctx context.Context, cbsaID string) ([]model.Transaction, error)
	ListTracts(ctx context.Context, cbsaID string) ([]model.GeographicUnit, error)
	SaveSupertracts(ctx context.Context, cbsaID string, defs []model.SupertractDefinition) error
	SaveIndexSeries(ctx context.Context, series model.IndexTimeSeries) error
	GetIndexSeries(ctx context.Context, key store.SeriesKey) (*model.IndexTimeSeries, error)
	SaveRevisions(ctx context.Context, revs []model.IndexRevision) error
}

// Options configures a calculation.
type Options struct {
	Supertracts geo.SupertractOptions
	Rules       pairs.Rules
	Scheme      model.WeightingScheme
	Weights     weights.Params
	Frequency   model.Frequency
	BasePeriod  model.Period // zero selects the earliest period
	BaseValue   float64

	// CoarsenFrequency lets a CBSA fall back to a coarser frequency when a
	// supertract cannot identify every period at Frequency.
	CoarsenFrequency bool

	// Concurrency bounds parallel supertract regressions within one CBSA.
	Concurrency int
	// BatchConcurrency bounds parallel CBSAs within a batch.
	BatchConcurrency int
	// MaxBatch caps the CBSAs of one batch.
	MaxBatch int
}

// OptionsFromConfig builds calculation options from the loaded config.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	rules, err := cfg.PairRules()
	if err != nil {
		return Options{}, err
	}
	scheme, err := model.ParseScheme(cfg.Weights.Scheme)
	if err != nil {
		return Options{}, err
	}
	freq, err := model.ParseFrequency(cfg.Index.Frequency)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Supertracts:      cfg.SupertractOptions(),
		Rules:            rules,
		Scheme:           scheme,
		Weights:          cfg.WeightParams(),
		Frequency:        freq,
		CoarsenFrequency: cfg.Index.CoarsenFrequency,
		BaseValue:        cfg.Index.BaseValue,
		Concurrency:      cfg.Batch.SupertractConcurrency,
		BatchConcurrency: cfg.Batch.Concurrency,
		MaxBatch:         cfg.Batch.MaxCBSAs,
	}, nil
}

// Pipeline orchestrates index calculations against a store.
type Pipeline struct {
	store   Store
	opts    Options
	metrics *monitoring.Metrics
}

// New creates a Pipeline. metrics may be nil.
func New(st Store, opts Options, metrics *monitoring.Metrics) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = 4
	}
	if opts.MaxBatch <= 0 || opts.MaxBatch > MaxBatch {
		opts.MaxBatch = MaxBatch
	}
	if opts.Frequency == "" {
		opts.Frequency = model.FrequencyQuarterly
	}
	return &Pipeline{store: st, opts: opts, metrics: metrics}
}

// Options returns the options the pipeline runs with.
func (p *Pipeline) Options() Options {
	return p.opts
}

// Result is the output of one CBSA calculation.
type Result struct {
	CBSAID      string                   `json:"cbsa_id"`
	Frequency   model.Frequency          `json:"frequency"`
	Series      *model.IndexTimeSeries   `json:"series"`
	Supertracts *geo.SupertractOutput    `json:"supertracts"`
	Runs        []model.RegressionRun    `json:"runs"`
	Pairs       int                      `json:"pairs"`
	Excluded    map[string]int           `json:"excluded,omitempty"`
	Unassigned  int                      `json:"unassigned"`
	Revisions   []model.IndexRevision    `json:"revisions,omitempty"`
	Stages      map[string]time.Duration `json:"stages"`
	Elapsed     time.Duration            `json:"elapsed"`
}

// stageTimer records stage durations for a result and the metrics.
type stageTimer struct {
	mu      sync.Mutex
	stages  map[string]time.Duration
	metrics *monitoring.Metrics
	log     *zap.Logger
}

func newStageTimer(metrics *monitoring.Metrics, log *zap.Logger) *stageTimer {
	return &stageTimer{stages: make(map[string]time.Duration), metrics: metrics, log: log}
}

func (t *stageTimer) track(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	d := time.Since(start)

	t.mu.Lock()
	t.stages[name] += d
	t.mu.Unlock()
	t.metrics.ObserveStage(name, d)

	if err != nil {
		t.metrics.ObserveError(name, err)
		t.log.Error("pipeline: stage failed",
			zap.String("stage", name),
			zap.Int64("duration_ms", d.Milliseconds()),
			zap.Error(err),
		)
		return err
	}
	t.log.Debug("pipeline: stage complete",
		zap.String("stage", name),
		zap.Int64("duration_ms", d.Milliseconds()),
	)
	return nil
}

// Calculate loads a CBSA's transactions and tracts, computes its index and
// persists the supertracts, the series and any revisions against the
// previously stored series.
func (p *Pipeline) Calculate(ctx context.Context, cbsaID string) (*Result, error) {
	txns, tracts, err := p.load(ctx, cbsaID)
	if err != nil {
		return nil, err
	}

	res, err := p.Compute(ctx, cbsaID, txns, tracts)
	if err != nil {
		return nil, err
	}

	if err := p.persist(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) load(ctx context.Context, cbsaID string) ([]model.Transaction, []model.GeographicUnit, error) {
	txns, err := p.store.ListTransactions(ctx, cbsaID)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "pipeline: load transactions for %s", cbsaID)
	}
	tracts, err := p.store.ListTracts(ctx, cbsaID)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "pipeline: load tracts for %s", cbsaID)
	}
	return txns, tracts, nil
}

// Compute runs the calculation for one CBSA on the given inputs without
// touching the store. Supertract regressions run concurrently; the first
// failure stops the CBSA, and supertracts not yet started when the context
// ends fail with a cancelled error.
func (p *Pipeline) Compute(ctx context.Context, cbsaID string, txns []model.Transaction, tracts []model.GeographicUnit) (*Result, error) {
	start := time.Now()
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("cbsa_id", cbsaID))
	log.Info("pipeline: starting calculation",
		zap.Int("transactions", len(txns)),
		zap.Int("tracts", len(tracts)),
	)

	timer := newStageTimer(p.metrics, log)
	res := &Result{CBSAID: cbsaID}

	if err := ctx.Err(); err != nil {
		return nil, calcerr.Cancelled("pipeline", cbsaID, err)
	}

	// Pairs over every tract of the CBSA.
	var built *pairs.BuildResult
	if err := timer.track("pairs", func() error {
		var err error
		built, err = pairs.Build(txns, pairs.BuildOptions{Rules: p.opts.Rules})
		return err
	}); err != nil {
		return nil, err
	}
	res.Excluded = built.Excluded

	// Supertracts sized by repeat pairs per tract.
	var out *geo.SupertractOutput
	if err := timer.track("supertracts", func() error {
		counted := pairs.ApplyCounts(tracts, pairs.CountByTract(built.Pairs, txns))
		var err error
		out, err = geo.GenerateSupertracts(geo.SupertractInput{CBSAID: cbsaID, Tracts: counted}, p.opts.Supertracts)
		return err
	}); err != nil {
		return nil, err
	}
	res.Supertracts = out

	assigned, dropped := pairs.Assign(built.Pairs, out.Assignments())
	res.Pairs = len(assigned)
	res.Unassigned = dropped
	groups := pairs.GroupBySupertract(assigned)

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var freq model.Frequency
	if err := timer.track("design", func() error {
		var err error
		freq, err = p.frequencyFor(log, ids, groups)
		return err
	}); err != nil {
		return nil, err
	}
	res.Frequency = freq

	results := make([]index.SupertractResults, len(ids))
	runs := make([]model.RegressionRun, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return calcerr.Cancelled("regression", id, err)
			}
			sr, run, err := p.regress(gctx, timer, id, groups[id], freq)
			runs[i] = run
			if err != nil {
				return err
			}
			results[i] = sr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	res.Runs = runs

	if err := timer.track("assemble", func() error {
		series, err := index.Assemble(results, index.AssembleOptions{
			GeographyID:    cbsaID,
			GeographyLevel: model.LevelCBSA,
			Scheme:         p.opts.Scheme,
			BasePeriod:     p.opts.BasePeriod,
			BaseValue:      p.opts.BaseValue,
		})
		res.Series = series
		return err
	}); err != nil {
		return nil, err
	}

	res.Stages = timer.stages
	res.Elapsed = time.Since(start)
	log.Info("pipeline: calculation complete",
		zap.Int("pairs", res.Pairs),
		zap.Int("supertracts", len(ids)),
		zap.String("frequency", string(freq)),
		zap.Int("periods", len(res.Series.Periods)),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// frequencyFor returns the configured frequency when every supertract can
// identify all of its periods at it. Otherwise, when coarsening is enabled,
// it steps to the next coarser frequency until every supertract can; the
// whole CBSA moves together so the supertracts assemble on one grid.
func (p *Pipeline) frequencyFor(log *zap.Logger, ids []string, groups map[string][]model.RepeatSalePair) (model.Frequency, error) {
	freq := p.opts.Frequency
	var firstErr error
	for {
		err := checkDesigns(ids, groups, freq)
		if err == nil {
			if freq != p.opts.Frequency {
				log.Warn("pipeline: coarsened index frequency",
					zap.String("configured", string(p.opts.Frequency)),
					zap.String("frequency", string(freq)),
					zap.NamedError("reason", firstErr),
				)
			}
			return freq, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		next, ok := coarser(freq)
		if !p.opts.CoarsenFrequency || !ok {
			return "", firstErr
		}
		freq = next
	}
}

func checkDesigns(ids []string, groups map[string][]model.RepeatSalePair, freq model.Frequency) error {
	for _, id := range ids {
		group := groups[id]
		if err := regression.CheckDesign(id, group, regression.ActivePeriods(group, freq)); err != nil {
			return err
		}
	}
	return nil
}

func coarser(f model.Frequency) (model.Frequency, bool) {
	switch f {
	case model.FrequencyMonthly:
		return model.FrequencyQuarterly, true
	case model.FrequencyQuarterly:
		return model.FrequencyAnnual, true
	default:
		return "", false
	}
}

// regress weights and fits one supertract.
func (p *Pipeline) regress(ctx context.Context, timer *stageTimer, supertractID string, group []model.RepeatSalePair, freq model.Frequency) (index.SupertractResults, model.RegressionRun, error) {
	periods := regression.ActivePeriods(group, freq)

	var ws []model.WeightCalculation
	if err := timer.track("weights", func() error {
		params := p.opts.Weights
		params.Periods = periods
		params.Frequency = freq
		var err error
		ws, err = weights.Calculate(ctx, group, p.opts.Scheme, params)
		return err
	}); err != nil {
		return index.SupertractResults{}, model.RegressionRun{SupertractID: supertractID, Status: model.RunStatusFailed, Error: err.Error()}, err
	}

	var out *regression.Output
	err := timer.track("regression", func() error {
		var err error
		out, err = regression.Run(supertractID, group, weights.Effective(ws, p.opts.Scheme), periods)
		return err
	})
	if err != nil {
		return index.SupertractResults{}, out.Run, err
	}
	return index.SupertractResults{SupertractID: supertractID, Results: out.Results}, out.Run, nil
}

// persist stores the supertracts and series, recording revisions against
// the series stored before.
func (p *Pipeline) persist(ctx context.Context, res *Result) error {
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("cbsa_id", res.CBSAID))

	if err := p.store.SaveSupertracts(ctx, res.CBSAID, res.Supertracts.Definitions); err != nil {
		return eris.Wrapf(err, "pipeline: save supertracts for %s", res.CBSAID)
	}

	key := store.SeriesKey{GeographyID: res.CBSAID, Scheme: res.Series.Scheme, Frequency: res.Series.Frequency}
	prev, err := p.store.GetIndexSeries(ctx, key)
	if err != nil {
		return eris.Wrapf(err, "pipeline: load published series for %s", res.CBSAID)
	}
	if prev != nil {
		revs, err := index.DetectRevisions(*prev, *res.Series, "recalculation")
		if err != nil {
			// A series that cannot be compared is replaced without revisions.
			log.Warn("pipeline: skipping revision detection", zap.Error(err))
		} else if len(revs) > 0 {
			if err := p.store.SaveRevisions(ctx, revs); err != nil {
				return eris.Wrapf(err, "pipeline: save revisions for %s", res.CBSAID)
			}
			res.Revisions = revs
		}
	}

	if err := p.store.SaveIndexSeries(ctx, *res.Series); err != nil {
		return eris.Wrapf(err, "pipeline: save series for %s", res.CBSAID)
	}
	log.Info("pipeline: results saved",
		zap.Int("supertracts", len(res.Supertracts.Definitions)),
		zap.Int("revisions", len(res.Revisions)),
	)
	return nil
}

// Supertracts generates and stores the supertracts of one CBSA without
// running the regressions.
func (p *Pipeline) Supertracts(ctx context.Context, cbsaID string) (*geo.SupertractOutput, error) {
	txns, tracts, err := p.load(ctx, cbsaID)
	if err != nil {
		return nil, err
	}
	built, err := pairs.Build(txns, pairs.BuildOptions{Rules: p.opts.Rules})
	if err != nil {
		return nil, err
	}
	counted := pairs.ApplyCounts(tracts, pairs.CountByTract(built.Pairs, txns))
	out, err := geo.GenerateSupertracts(geo.SupertractInput{CBSAID: cbsaID, Tracts: counted}, p.opts.Supertracts)
	if err != nil {
		p.metrics.ObserveError("supertracts", err)
		return nil, err
	}
	if err := p.store.SaveSupertracts(ctx, cbsaID, out.Definitions); err != nil {
		return nil, eris.Wrapf(err, "pipeline: save supertracts for %s", cbsaID)
	}
	return out, nil
}
