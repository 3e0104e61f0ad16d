package main

import (
	"github.com/sells-group/rsai-cli/internal/geo"
	"github.com/sells-group/rsai-cli/internal/model"
	"github.com/sells-group/rsai-cli/internal/monitoring"
	"github.com/sells-group/rsai-cli/internal/pipeline"
	"github.com/sells-group/rsai-cli/internal/store"
)

// calcOverrides are per-command replacements for configured settings.
type calcOverrides struct {
	Scheme    string
	Frequency string
	Algorithm string
	MinObs    int
}

// newPipeline builds a pipeline over st from the loaded config.
func newPipeline(st store.Store, metrics *monitoring.Metrics, o calcOverrides) (*pipeline.Pipeline, error) {
	opts, err := pipeline.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if err := applyOverrides(&opts, o); err != nil {
		return nil, err
	}
	return pipeline.New(st, opts, metrics), nil
}

func applyOverrides(opts *pipeline.Options, o calcOverrides) error {
	if o.Scheme != "" {
		s, err := model.ParseScheme(o.Scheme)
		if err != nil {
			return err
		}
		opts.Scheme = s
	}
	if o.Frequency != "" {
		f, err := model.ParseFrequency(o.Frequency)
		if err != nil {
			return err
		}
		opts.Frequency = f
		opts.Weights.Frequency = f
	}
	if o.Algorithm != "" {
		a, err := geo.ParseAlgorithm(o.Algorithm)
		if err != nil {
			return err
		}
		opts.Supertracts.Algorithm = a
	}
	if o.MinObs > 0 {
		opts.Supertracts.MinObservations = o.MinObs
	}
	return nil
}

// seriesKey is the stored series of a CBSA under the configured or
// overridden scheme and frequency.
func seriesKey(cbsaID string, o calcOverrides) (store.SeriesKey, error) {
	opts, err := pipeline.OptionsFromConfig(cfg)
	if err != nil {
		return store.SeriesKey{}, err
	}
	if err := applyOverrides(&opts, o); err != nil {
		return store.SeriesKey{}, err
	}
	return store.SeriesKey{GeographyID: cbsaID, Scheme: opts.Scheme, Frequency: opts.Frequency}, nil
}
