package model

import (
	"math"
	"time"

	"github.com/sells-group/rsai-cli/internal/calcerr"
)

// PriceRatioTolerance is the allowed gap between a stored price ratio and the
// ratio recomputed from the two sale prices.
const PriceRatioTolerance = 0.001

const daysPerYear = 365.25

// RepeatSalePair is two consecutive sales of the same property.
type RepeatSalePair struct {
	ID                 string    `json:"id"`
	PropertyID         string    `json:"property_id"`
	FirstSaleID        string    `json:"first_sale_id"`
	SecondSaleID       string    `json:"second_sale_id"`
	FirstSaleDate      time.Time `json:"first_sale_date"`
	SecondSaleDate     time.Time `json:"second_sale_date"`
	FirstSalePrice     float64   `json:"first_sale_price"`
	SecondSalePrice    float64   `json:"second_sale_price"`
	PriceRatio         float64   `json:"price_ratio"`
	LogPriceRatio      float64   `json:"log_price_ratio"`
	HoldingPeriodDays  int       `json:"holding_period_days"`
	HoldingPeriodYears float64   `json:"holding_period_years"`
	TractID            string    `json:"tract_id"`
	CBSAID             string    `json:"cbsa_id"`
	SupertractID       string    `json:"supertract_id,omitempty"`
}

// NewRepeatSalePair derives a pair from two sales of one property. The
// geography is taken from the second sale. It does not validate.
func NewRepeatSalePair(first, second Transaction) RepeatSalePair {
	p := RepeatSalePair{
		ID:              first.ID + ":" + second.ID,
		PropertyID:      second.PropertyID,
		FirstSaleID:     first.ID,
		SecondSaleID:    second.ID,
		FirstSaleDate:   first.SaleDate,
		SecondSaleDate:  second.SaleDate,
		FirstSalePrice:  first.Price,
		SecondSalePrice: second.Price,
		TractID:         second.TractID,
		CBSAID:          second.CBSAID,
	}
	if first.Price > 0 {
		p.PriceRatio = second.Price / first.Price
		p.LogPriceRatio = math.Log(p.PriceRatio)
	}
	p.HoldingPeriodDays = daysBetween(first.SaleDate, second.SaleDate)
	p.HoldingPeriodYears = float64(p.HoldingPeriodDays) / daysPerYear
	return p
}

// daysBetween counts calendar days between two dates, ignoring time of day.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(math.Round(db.Sub(da).Hours() / 24))
}

// Reclassify returns a copy of the pair assigned to another supertract.
func (p RepeatSalePair) Reclassify(supertractID string) RepeatSalePair {
	p.SupertractID = supertractID
	return p
}

// Validate checks date order, positive prices and the stored price ratio.
func (p RepeatSalePair) Validate() error {
	if p.FirstSalePrice <= 0 || p.SecondSalePrice <= 0 {
		return calcerr.Validation("pair", p.ID, "sale prices must be positive")
	}
	if !p.SecondSaleDate.After(p.FirstSaleDate) {
		return calcerr.Validation("pair", p.ID, "second sale date %s must be after first sale date %s",
			p.SecondSaleDate.Format(time.DateOnly), p.FirstSaleDate.Format(time.DateOnly))
	}
	expected := p.SecondSalePrice / p.FirstSalePrice
	if math.Abs(p.PriceRatio-expected) > PriceRatioTolerance {
		return calcerr.Validation("pair", p.ID, "price ratio %.6f does not match computed %.6f", p.PriceRatio, expected)
	}
	if p.HoldingPeriodDays <= 0 {
		return calcerr.Validation("pair", p.ID, "holding period must be positive")
	}
	return nil
}

// AveragePrice is the mean of the two sale prices.
func (p RepeatSalePair) AveragePrice() float64 {
	return (p.FirstSalePrice + p.SecondSalePrice) / 2
}
