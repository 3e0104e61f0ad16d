package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/rsai-cli/internal/geo"
	"github.com/sells-group/rsai-cli/internal/model"
	"github.com/sells-group/rsai-cli/internal/weights"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "rsai.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 40, cfg.Geography.MinObservations)
	assert.Equal(t, "hierarchical", cfg.Geography.Algorithm)
	assert.InDelta(t, 50.0, cfg.Geography.MaxDistanceKM, 0.001)
	assert.Equal(t, "great_circle", cfg.Geography.DistanceMethod)
	assert.Equal(t, 1000, cfg.Geography.MaxTracts)
	assert.Equal(t, []string{"non_arms_length", "foreclosure", "short_sale"}, cfg.Pairs.ExcludedTypes)
	assert.Equal(t, "bmn", cfg.Weights.Scheme)
	assert.Equal(t, "higher", cfg.Weights.ValueDirection)
	assert.Equal(t, 10, cfg.Weights.MaxIterations)
	assert.InDelta(t, 1e-4, cfg.Weights.Tolerance, 1e-12)
	assert.InDelta(t, 100.0, cfg.Index.BaseValue, 0.001)
	assert.Equal(t, "quarterly", cfg.Index.Frequency)
	assert.True(t, cfg.Index.CoarsenFrequency)
	assert.InDelta(t, 1.96, cfg.Index.ConfidenceZ, 0.001)
	assert.Equal(t, 100, cfg.Batch.MaxCBSAs)
	assert.Equal(t, 20, cfg.Batch.MaxCompare)
	assert.Equal(t, 2024, cfg.Tiger.Year)
	assert.Equal(t, 2, cfg.Jobs.Workers)
	assert.Equal(t, 64, cfg.Jobs.QueueSize)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.InDelta(t, 0.25, cfg.Monitoring.FailureRateThreshold, 1e-9)

	assert.NoError(t, cfg.Validate("compute"))
	assert.NoError(t, cfg.Validate("serve"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/rsai
log:
  level: debug
  format: console
server:
  port: 9090
geography:
  algorithm: kmeans
  min_observations: 60
weights:
  value_direction: lower
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "kmeans", cfg.Geography.Algorithm)
	assert.Equal(t, 60, cfg.Geography.MinObservations)
	// Defaults still apply for unset values
	assert.InDelta(t, 50.0, cfg.Geography.MaxDistanceKM, 0.001)

	opts := cfg.SupertractOptions()
	assert.Equal(t, geo.AlgorithmKMeans, opts.Algorithm)
	assert.Equal(t, 60, opts.MinObservations)
	assert.Equal(t, geo.MethodGreatCircle, opts.DistanceMethod)
	assert.Equal(t, weights.DirectionLower, cfg.WeightParams().ValueDirection)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("RSAI_STORE_DRIVER", "postgres")
	t.Setenv("RSAI_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("RSAI_SERVER_PORT", "3000")
	t.Setenv("RSAI_GEOGRAPHY_MIN_OBSERVATIONS", "25")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 25, cfg.Geography.MinObservations)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	return &Config{
		Store:  StoreConfig{Driver: "sqlite", DatabaseURL: "rsai.db"},
		Server: ServerConfig{Port: 8080},
		Geography: GeographyConfig{
			MinObservations: 40,
			Algorithm:       "hierarchical",
			MaxDistanceKM:   50,
			DistanceMethod:  "great_circle",
			MaxTracts:       1000,
		},
		Weights: WeightsConfig{
			Scheme:             "bmn",
			ValueDirection:     "higher",
			OutlierIQRMultiple: 1.5,
			OutlierAdjustment:  0.5,
			BucketYears:        1,
			MaxIterations:      10,
			Tolerance:          1e-4,
		},
		Index:      IndexConfig{BaseValue: 100, Frequency: "quarterly", ConfidenceZ: 1.96},
		Batch:      BatchConfig{MaxCBSAs: 100, MaxCompare: 20, Concurrency: 4, SupertractConcurrency: 4},
		Jobs:       JobsConfig{Workers: 2, QueueSize: 64},
		Monitoring: MonitoringConfig{LookbackWindowHours: 24, FailureRateThreshold: 0.25},
	}
}

func TestValidate_Valid(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("compute"))
	assert.NoError(t, validDefaults().Validate("serve"))
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	cfg.Geography.Algorithm = "dbscan"
	cfg.Weights.ValueDirection = "sideways"
	cfg.Index.Frequency = "weekly"

	err := cfg.Validate("compute")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
	assert.Contains(t, err.Error(), "geography.algorithm")
	assert.Contains(t, err.Error(), "weights")
	assert.Contains(t, err.Error(), "index.frequency")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	assert.NoError(t, cfg.Validate("compute"))
	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateServe_Jobs(t *testing.T) {
	cfg := validDefaults()
	cfg.Jobs.Workers = 0
	cfg.Monitoring.FailureRateThreshold = 1.5

	assert.NoError(t, cfg.Validate("compute"))
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jobs.workers")
	assert.Contains(t, err.Error(), "failure_rate_threshold")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateCaps(t *testing.T) {
	cfg := validDefaults()

	cfg.Batch.MaxCBSAs = 101
	err := cfg.Validate("compute")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "batch.max_cbsas must be between 1 and 100")

	cfg.Batch.MaxCBSAs = 100
	cfg.Batch.MaxCompare = 21
	err = cfg.Validate("compute")
	assert.Contains(t, err.Error(), "batch.max_compare must be between 1 and 20")

	cfg.Batch.MaxCompare = 20
	cfg.Geography.MaxTracts = 1001
	err = cfg.Validate("compute")
	assert.Contains(t, err.Error(), "geography.max_tracts must be between 1 and 1000")
}

func TestWeightParams(t *testing.T) {
	p := validDefaults().WeightParams()
	assert.Equal(t, weights.DirectionHigher, p.ValueDirection)
	assert.Equal(t, model.FrequencyQuarterly, p.Frequency)
	assert.Equal(t, 10, p.MaxIterations)
	assert.Nil(t, p.Periods)
	assert.NoError(t, p.Validate())
}

func TestPairRules(t *testing.T) {
	cfg := validDefaults()
	cfg.Pairs.ExcludedTypes = []string{"foreclosure"}
	cfg.Pairs.MinHoldingDays = 180

	r, err := cfg.PairRules()
	require.NoError(t, err)
	assert.Equal(t, []model.TransactionType{model.TransactionForeclosure}, r.ExcludedTypes)
	assert.Equal(t, 180, r.MinHoldingDays)

	cfg.Pairs.ExcludedTypes = []string{"gift"}
	_, err = cfg.PairRules()
	assert.Error(t, err)
}

func TestPairRules_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pairs:\n  min_holding_days: 365\n"), 0644))

	cfg := validDefaults()
	cfg.Pairs.RulesFile = path
	r, err := cfg.PairRules()
	require.NoError(t, err)
	assert.Equal(t, 365, r.MinHoldingDays)
	assert.Len(t, r.ExcludedTypes, 3)
}
