package model

import (
	"time"

	"github.com/sells-group/rsai-cli/internal/calcerr"
)

// TransactionType classifies the market conditions of a sale.
type TransactionType string

const (
	TransactionArmsLength    TransactionType = "arms_length"
	TransactionNonArmsLength TransactionType = "non_arms_length"
	TransactionForeclosure   TransactionType = "foreclosure"
	TransactionShortSale     TransactionType = "short_sale"
)

// PropertyType describes the kind of structure sold.
type PropertyType string

const (
	PropertySingleFamily PropertyType = "single_family"
	PropertyCondo        PropertyType = "condo"
	PropertyTownhouse    PropertyType = "townhouse"
	PropertyMultiFamily  PropertyType = "multi_family"
	PropertyOther        PropertyType = "other"
)

// MaxTransactionPrice is the largest sale price accepted as a valid record.
const MaxTransactionPrice = 1_000_000_000

// Transaction is a single validated property sale supplied by ingestion.
type Transaction struct {
	ID              string          `json:"id" validate:"required"`
	PropertyID      string          `json:"property_id" validate:"required"`
	SaleDate        time.Time       `json:"sale_date"`
	Price           float64         `json:"price" validate:"gt=0,lte=1000000000"`
	TransactionType TransactionType `json:"transaction_type" validate:"omitempty,oneof=arms_length non_arms_length foreclosure short_sale"`
	PropertyType    PropertyType    `json:"property_type,omitempty" validate:"omitempty,oneof=single_family condo townhouse multi_family other"`
	TractID         string          `json:"tract_id" validate:"min=6"`
	CBSAID          string          `json:"cbsa_id" validate:"len=5,number"`
	CountyFIPS      string          `json:"county_fips,omitempty"`
	StateCode       string          `json:"state_code,omitempty"`
	ZipCode         string          `json:"zip_code,omitempty"`
	DataSource      string          `json:"data_source,omitempty"`
}

// Type returns the transaction type, treating an empty value as arms-length.
func (t Transaction) Type() TransactionType {
	if t.TransactionType == "" {
		return TransactionArmsLength
	}
	return t.TransactionType
}

// Validate checks the record-level invariants of a sale.
func (t Transaction) Validate() error {
	if err := validateStruct("transaction", t.ID, t); err != nil {
		return err
	}
	if t.SaleDate.IsZero() {
		return calcerr.Validation("transaction", t.ID, "sale date is required")
	}
	return nil
}
