package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/rsai-cli/internal/geo"
	"github.com/sells-group/rsai-cli/internal/model"
	"github.com/sells-group/rsai-cli/internal/pairs"
	"github.com/sells-group/rsai-cli/internal/weights"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Geography  GeographyConfig  `yaml:"geography" mapstructure:"geography"`
	Pairs      PairsConfig      `yaml:"pairs" mapstructure:"pairs"`
	Weights    WeightsConfig    `yaml:"weights" mapstructure:"weights"`
	Index      IndexConfig      `yaml:"index" mapstructure:"index"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Tiger      TigerConfig      `yaml:"tiger" mapstructure:"tiger"`
	Jobs       JobsConfig       `yaml:"jobs" mapstructure:"jobs"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// GeographyConfig configures distance and supertract generation.
type GeographyConfig struct {
	MinObservations     int     `yaml:"min_observations" mapstructure:"min_observations"`
	Algorithm           string  `yaml:"algorithm" mapstructure:"algorithm"`
	MaxDistanceKM       float64 `yaml:"max_distance_km" mapstructure:"max_distance_km"`
	DistanceMethod      string  `yaml:"distance_method" mapstructure:"distance_method"`
	MaxTracts           int     `yaml:"max_tracts" mapstructure:"max_tracts"`
	KMeansMaxIterations int     `yaml:"kmeans_max_iterations" mapstructure:"kmeans_max_iterations"`
	Seed                int64   `yaml:"seed" mapstructure:"seed"`
	HDBSCANMinSamples   int     `yaml:"hdbscan_min_samples" mapstructure:"hdbscan_min_samples"`
	HDBSCANEpsilonKM    float64 `yaml:"hdbscan_epsilon_km" mapstructure:"hdbscan_epsilon_km"`
}

// PairsConfig configures repeat-sale pair exclusion. RulesFile, when set,
// replaces the inline values.
type PairsConfig struct {
	RulesFile      string   `yaml:"rules_file" mapstructure:"rules_file"`
	ExcludedTypes  []string `yaml:"excluded_types" mapstructure:"excluded_types"`
	MinHoldingDays int      `yaml:"min_holding_days" mapstructure:"min_holding_days"`
}

// WeightsConfig configures pair weighting.
type WeightsConfig struct {
	Scheme             string  `yaml:"scheme" mapstructure:"scheme"`
	ValueDirection     string  `yaml:"value_direction" mapstructure:"value_direction"`
	OutlierIQRMultiple float64 `yaml:"outlier_iqr_multiple" mapstructure:"outlier_iqr_multiple"`
	OutlierAdjustment  float64 `yaml:"outlier_adjustment" mapstructure:"outlier_adjustment"`
	BucketYears        float64 `yaml:"bucket_years" mapstructure:"bucket_years"`
	MaxIterations      int     `yaml:"max_iterations" mapstructure:"max_iterations"`
	Tolerance          float64 `yaml:"tolerance" mapstructure:"tolerance"`
}

// IndexConfig configures index assembly.
type IndexConfig struct {
	BaseValue   float64 `yaml:"base_value" mapstructure:"base_value"`
	Frequency   string  `yaml:"frequency" mapstructure:"frequency"`
	ConfidenceZ float64 `yaml:"confidence_z" mapstructure:"confidence_z"`
	// CoarsenFrequency moves a CBSA to the next coarser frequency when a
	// supertract cannot identify every period at the configured one.
	CoarsenFrequency bool `yaml:"coarsen_frequency" mapstructure:"coarsen_frequency"`
}

// BatchConfig configures batch processing and size caps.
type BatchConfig struct {
	MaxCBSAs              int `yaml:"max_cbsas" mapstructure:"max_cbsas"`
	MaxCompare            int `yaml:"max_compare" mapstructure:"max_compare"`
	Concurrency           int `yaml:"concurrency" mapstructure:"concurrency"`
	SupertractConcurrency int `yaml:"supertract_concurrency" mapstructure:"supertract_concurrency"`
}

// TigerConfig configures the census tract shapefile download.
type TigerConfig struct {
	Year    int    `yaml:"year" mapstructure:"year"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	TempDir string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// JobsConfig configures the background job runner.
type JobsConfig struct {
	Workers   int `yaml:"workers" mapstructure:"workers"`
	QueueSize int `yaml:"queue_size" mapstructure:"queue_size"`
}

// MonitoringConfig configures job health checks and alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MaxPendingJobs       int     `yaml:"max_pending_jobs" mapstructure:"max_pending_jobs"`
	StuckAfterMinutes    int     `yaml:"stuck_after_minutes" mapstructure:"stuck_after_minutes"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RSAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "rsai.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("geography.min_observations", 40)
	v.SetDefault("geography.algorithm", string(geo.AlgorithmHierarchical))
	v.SetDefault("geography.max_distance_km", 50.0)
	v.SetDefault("geography.distance_method", string(geo.MethodGreatCircle))
	v.SetDefault("geography.max_tracts", geo.MaxTractsPerCall)
	v.SetDefault("geography.kmeans_max_iterations", 100)
	v.SetDefault("geography.seed", 1)
	v.SetDefault("geography.hdbscan_min_samples", 3)
	v.SetDefault("geography.hdbscan_epsilon_km", 0.0)
	v.SetDefault("pairs.excluded_types", []string{"non_arms_length", "foreclosure", "short_sale"})
	v.SetDefault("pairs.min_holding_days", 1)
	v.SetDefault("weights.scheme", string(model.SchemeBMN))
	v.SetDefault("weights.value_direction", string(weights.DirectionHigher))
	v.SetDefault("weights.outlier_iqr_multiple", 1.5)
	v.SetDefault("weights.outlier_adjustment", 0.5)
	v.SetDefault("weights.bucket_years", 1.0)
	v.SetDefault("weights.max_iterations", 10)
	v.SetDefault("weights.tolerance", 1e-4)
	v.SetDefault("index.base_value", model.DefaultBaseValue)
	v.SetDefault("index.frequency", string(model.FrequencyQuarterly))
	v.SetDefault("index.coarsen_frequency", true)
	v.SetDefault("index.confidence_z", 1.96)
	v.SetDefault("batch.max_cbsas", 100)
	v.SetDefault("batch.max_compare", 20)
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("batch.supertract_concurrency", 4)
	v.SetDefault("tiger.year", 2024)
	v.SetDefault("tiger.base_url", "https://www2.census.gov/geo/tiger")
	v.SetDefault("tiger.temp_dir", "/tmp/rsai-tiger")
	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.queue_size", 64)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.max_pending_jobs", 50)
	v.SetDefault("monitoring.stuck_after_minutes", 120)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a mode needs: "compute" for the calculation
// commands, "serve" for the HTTP API. Every problem is reported at once.
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch mode {
	case "compute":
	case "serve":
		if c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		add("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		add("store.database_url is required")
	}
	if c.Geography.MinObservations < 1 {
		add("geography.min_observations must be >= 1")
	}
	if c.Geography.MaxDistanceKM <= 0 {
		add("geography.max_distance_km must be > 0")
	}
	if c.Geography.MaxTracts < 1 || c.Geography.MaxTracts > geo.MaxTractsPerCall {
		add("geography.max_tracts must be between 1 and %d", geo.MaxTractsPerCall)
	}
	if _, err := geo.ParseAlgorithm(c.Geography.Algorithm); err != nil {
		add("geography.algorithm: %v", err)
	}
	if _, err := geo.ParseMethod(c.Geography.DistanceMethod); err != nil {
		add("geography.distance_method: %v", err)
	}
	if _, err := model.ParseScheme(c.Weights.Scheme); err != nil {
		add("weights.scheme: %v", err)
	}
	if err := c.WeightParams().Validate(); err != nil {
		add("weights: %v", err)
	}
	if _, err := model.ParseFrequency(c.Index.Frequency); err != nil {
		add("index.frequency: %v", err)
	}
	if c.Index.BaseValue <= 0 {
		add("index.base_value must be > 0")
	}
	if c.Index.ConfidenceZ <= 0 {
		add("index.confidence_z must be > 0")
	}
	if c.Batch.MaxCBSAs < 1 || c.Batch.MaxCBSAs > 100 {
		add("batch.max_cbsas must be between 1 and 100")
	}
	if c.Batch.MaxCompare < 1 || c.Batch.MaxCompare > 20 {
		add("batch.max_compare must be between 1 and 20")
	}
	if c.Batch.Concurrency < 1 || c.Batch.SupertractConcurrency < 1 {
		add("batch concurrency must be >= 1")
	}
	if mode == "serve" {
		if c.Jobs.Workers < 1 || c.Jobs.QueueSize < 1 {
			add("jobs.workers and jobs.queue_size must be >= 1")
		}
		if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
			add("monitoring.failure_rate_threshold must be between 0 and 1")
		}
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

// SupertractOptions builds generator options from the geography section.
func (c *Config) SupertractOptions() geo.SupertractOptions {
	g := c.Geography
	return geo.SupertractOptions{
		MinObservations:     g.MinObservations,
		Algorithm:           geo.Algorithm(g.Algorithm),
		MaxDistanceKM:       g.MaxDistanceKM,
		DistanceMethod:      geo.Method(g.DistanceMethod),
		KMeansMaxIterations: g.KMeansMaxIterations,
		Seed:                g.Seed,
		HDBSCANMinSamples:   g.HDBSCANMinSamples,
		HDBSCANEpsilonKM:    g.HDBSCANEpsilonKM,
	}
}

// WeightParams builds weighting parameters from the weights and index sections.
func (c *Config) WeightParams() weights.Params {
	w := c.Weights
	return weights.Params{
		ValueDirection:     weights.Direction(w.ValueDirection),
		OutlierIQRMultiple: w.OutlierIQRMultiple,
		OutlierAdjustment:  w.OutlierAdjustment,
		MaxIterations:      w.MaxIterations,
		Tolerance:          w.Tolerance,
		BucketYears:        w.BucketYears,
		Frequency:          model.Frequency(c.Index.Frequency),
	}
}

// PairRules returns the exclusion rules, read from RulesFile when set.
func (c *Config) PairRules() (pairs.Rules, error) {
	if c.Pairs.RulesFile != "" {
		return pairs.LoadRules(c.Pairs.RulesFile)
	}
	r := pairs.DefaultRules()
	r.MinHoldingDays = c.Pairs.MinHoldingDays
	if c.Pairs.ExcludedTypes != nil {
		r.ExcludedTypes = make([]model.TransactionType, len(c.Pairs.ExcludedTypes))
		for i, t := range c.Pairs.ExcludedTypes {
			r.ExcludedTypes[i] = model.TransactionType(t)
		}
	}
	if err := r.Validate(); err != nil {
		return pairs.Rules{}, eris.Wrap(err, "config: pairs")
	}
	return r, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
