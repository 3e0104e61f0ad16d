package pairs

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rsai-cli/internal/calcerr"
	"github.com/sells-group/rsai-cli/internal/model"
)

func sale(id, property string, y int, m time.Month, price float64, typ model.TransactionType) model.Transaction {
	return model.Transaction{
		ID:              id,
		PropertyID:      property,
		SaleDate:        time.Date(y, m, 1, 0, 0, 0, 0, time.UTC),
		Price:           price,
		TransactionType: typ,
		TractID:         "06037101100",
		CBSAID:          "31080",
	}
}

func TestBuild_ConsecutiveOnly(t *testing.T) {
	t.Parallel()

	txs := []model.Transaction{
		sale("t3", "p1", 2020, time.January, 300_000, ""),
		sale("t1", "p1", 2012, time.January, 200_000, ""),
		sale("t2", "p1", 2016, time.January, 250_000, model.TransactionArmsLength),
		sale("t4", "p2", 2019, time.June, 500_000, ""),
	}

	res, err := Build(txs, BuildOptions{Rules: DefaultRules()})
	require.NoError(t, err)

	require.Len(t, res.Pairs, 2)
	assert.Equal(t, "t1:t2", res.Pairs[0].ID)
	assert.Equal(t, "t2:t3", res.Pairs[1].ID)
	assert.Equal(t, 4, res.Transactions)
	assert.Equal(t, 2, res.Properties)
	for _, p := range res.Pairs {
		assert.NoError(t, p.Validate())
		assert.InDelta(t, p.SecondSalePrice/p.FirstSalePrice, p.PriceRatio, 1e-3)
		assert.InDelta(t, math.Log(p.PriceRatio), p.LogPriceRatio, 1e-12)
	}
}

func TestBuild_ExcludedSaleBreaksChain(t *testing.T) {
	t.Parallel()

	txs := []model.Transaction{
		sale("t1", "p1", 2010, time.January, 200_000, ""),
		sale("t2", "p1", 2012, time.January, 150_000, model.TransactionForeclosure),
		sale("t3", "p1", 2015, time.January, 260_000, ""),
		sale("t4", "p1", 2018, time.January, 300_000, ""),
	}

	res, err := Build(txs, BuildOptions{Rules: DefaultRules()})
	require.NoError(t, err)

	require.Len(t, res.Pairs, 1)
	assert.Equal(t, "t3:t4", res.Pairs[0].ID)
	assert.Equal(t, 2, res.Excluded[ReasonTransactionType])
}

func TestBuild_ConfigurableExclusions(t *testing.T) {
	t.Parallel()

	txs := []model.Transaction{
		sale("t1", "p1", 2010, time.January, 200_000, model.TransactionShortSale),
		sale("t2", "p1", 2014, time.January, 260_000, ""),
	}

	res, err := Build(txs, BuildOptions{Rules: Rules{ExcludedTypes: []model.TransactionType{model.TransactionForeclosure}}})
	require.NoError(t, err)
	assert.Len(t, res.Pairs, 1)
}

func TestBuild_SameDayDropped(t *testing.T) {
	t.Parallel()

	txs := []model.Transaction{
		sale("t1", "p1", 2010, time.January, 200_000, ""),
		sale("t2", "p1", 2010, time.January, 210_000, ""),
	}
	res, err := Build(txs, BuildOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Pairs)
	assert.Equal(t, 1, res.Excluded[ReasonHoldingPeriod])
}

func TestBuild_PriceRatioBounds(t *testing.T) {
	t.Parallel()

	txs := []model.Transaction{
		sale("t1", "p1", 2010, time.January, 100_000, ""),
		sale("t2", "p1", 2011, time.January, 900_000, ""),
	}
	rules := DefaultRules()
	rules.MaxPriceRatio = 5
	res, err := Build(txs, BuildOptions{Rules: rules})
	require.NoError(t, err)
	assert.Empty(t, res.Pairs)
	assert.Equal(t, 1, res.Excluded[ReasonPriceRatio])
}

func TestBuild_InvalidTransaction(t *testing.T) {
	t.Parallel()

	bad := sale("t9", "p1", 2010, time.January, -5, "")
	_, err := Build([]model.Transaction{bad}, BuildOptions{Rules: DefaultRules()})
	require.Error(t, err)
	assert.True(t, calcerr.Is(err, calcerr.KindValidation))
	assert.Contains(t, err.Error(), "t9")

	dup := sale("t1", "p1", 2010, time.January, 100_000, "")
	_, err = Build([]model.Transaction{dup, dup}, BuildOptions{Rules: DefaultRules()})
	assert.True(t, calcerr.Is(err, calcerr.KindValidation))
}

func TestBuild_AssignsSupertract(t *testing.T) {
	t.Parallel()

	txs := []model.Transaction{
		sale("t1", "p1", 2010, time.January, 200_000, ""),
		sale("t2", "p1", 2014, time.January, 260_000, ""),
	}
	res, err := Build(txs, BuildOptions{
		Rules:       DefaultRules(),
		Assignments: map[string]string{"06037101100": "31080-ST001"},
	})
	require.NoError(t, err)
	require.Len(t, res.Pairs, 1)
	assert.Equal(t, "31080-ST001", res.Pairs[0].SupertractID)
}

func TestAssign(t *testing.T) {
	t.Parallel()

	a := model.NewRepeatSalePair(sale("t1", "p1", 2010, time.January, 1, ""), sale("t2", "p1", 2011, time.January, 2, ""))
	b := a
	b.ID = "x"
	b.TractID = "06037999999"

	out, dropped := Assign([]model.RepeatSalePair{a, b}, map[string]string{"06037101100": "31080-ST002"})
	require.Len(t, out, 1)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, "31080-ST002", out[0].SupertractID)
	assert.Empty(t, a.SupertractID)

	groups := GroupBySupertract(out)
	assert.Len(t, groups["31080-ST002"], 1)
}

func TestCountByTract(t *testing.T) {
	t.Parallel()

	txs := []model.Transaction{
		sale("t1", "p1", 2010, time.January, 200_000, ""),
		sale("t2", "p1", 2014, time.January, 260_000, ""),
		sale("t3", "p2", 2014, time.March, 400_000, ""),
	}
	res, err := Build(txs, BuildOptions{Rules: DefaultRules()})
	require.NoError(t, err)

	counts := CountByTract(res.Pairs, txs)
	c := counts["06037101100"]
	assert.Equal(t, TractCounts{RepeatPairs: 1, Transactions: 3, Properties: 2}, c)

	units := ApplyCounts([]model.GeographicUnit{
		model.NewTract("06037101100", "31080", 34, -118, model.TractAttributes{}),
		model.NewTract("06037101200", "31080", 34, -118, model.TractAttributes{}),
	}, counts)
	assert.Equal(t, 1, units[0].RepeatSalesCount)
	assert.Equal(t, 2, units[0].PropertyCount)
	assert.Zero(t, units[1].TransactionCount)
}

func TestLoadRules(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pairs:
  excluded_types: [foreclosure]
  max_price_ratio: 10
`), 0o644))

	r, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, []model.TransactionType{model.TransactionForeclosure}, r.ExcludedTypes)
	assert.Equal(t, 10.0, r.MaxPriceRatio)
	assert.Equal(t, 1, r.MinHoldingDays)

	require.NoError(t, os.WriteFile(path, []byte("pairs:\n  excluded_types: [gift]\n"), 0o644))
	_, err = LoadRules(path)
	assert.True(t, calcerr.Is(err, calcerr.KindValidation))

	_, err = LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
