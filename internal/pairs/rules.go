package pairs

import (
	"os"
	"slices"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/rsai-cli/internal/calcerr"
	"github.com/sells-group/rsai-cli/internal/model"
)

// Rules decides which consecutive sales may form a repeat-sale pair.
// Same-day resales are never paired, whatever MinHoldingDays says.
type Rules struct {
	ExcludedTypes  []model.TransactionType `yaml:"excluded_types"`
	MinHoldingDays int                     `yaml:"min_holding_days"`
	// Price ratio bounds; zero disables a bound.
	MinPriceRatio float64 `yaml:"min_price_ratio"`
	MaxPriceRatio float64 `yaml:"max_price_ratio"`
}

// DefaultRules excludes every sale that is not arms-length and same-day resales.
func DefaultRules() Rules {
	return Rules{
		ExcludedTypes: []model.TransactionType{
			model.TransactionNonArmsLength,
			model.TransactionForeclosure,
			model.TransactionShortSale,
		},
		MinHoldingDays: 1,
	}
}

// LoadRules reads a rule set from a YAML file. The file has a top-level
// "pairs" key; omitted fields keep their defaults.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, eris.Wrapf(err, "pairs: read rules %s", path)
	}

	wrapper := struct {
		Pairs Rules `yaml:"pairs"`
	}{Pairs: DefaultRules()}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return Rules{}, eris.Wrap(err, "pairs: parse rules")
	}
	if err := wrapper.Pairs.Validate(); err != nil {
		return Rules{}, err
	}
	return wrapper.Pairs, nil
}

// Validate checks the rule values.
func (r Rules) Validate() error {
	for _, t := range r.ExcludedTypes {
		switch t {
		case model.TransactionArmsLength, model.TransactionNonArmsLength,
			model.TransactionForeclosure, model.TransactionShortSale:
		default:
			return calcerr.Validation("pairs", string(t), "unknown transaction type in exclusion rules")
		}
	}
	if r.MinHoldingDays < 0 {
		return calcerr.Validation("pairs", "", "min holding days must be non-negative")
	}
	if r.MinPriceRatio < 0 || r.MaxPriceRatio < 0 {
		return calcerr.Validation("pairs", "", "price ratio bounds must be non-negative")
	}
	if r.MaxPriceRatio > 0 && r.MinPriceRatio > r.MaxPriceRatio {
		return calcerr.Validation("pairs", "", "min price ratio %v above max %v", r.MinPriceRatio, r.MaxPriceRatio)
	}
	return nil
}

func (r Rules) excludes(t model.Transaction) bool {
	return slices.Contains(r.ExcludedTypes, t.Type())
}
