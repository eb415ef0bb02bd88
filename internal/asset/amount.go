package asset

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// BpsScale is the basis-point denominator: 10,000 bps = 100%.
const BpsScale = 10000

var bpsScale = decimal.NewFromInt(BpsScale)

// Amount is a fixed-point quantity of one asset. Arithmetic and comparison
// are only defined between amounts of the same asset.
type Amount struct {
	Asset    ID
	Quantity decimal.Decimal
}

// NewAmount builds an Amount, rejecting quantities with more fractional
// digits than the asset allows.
func NewAmount(id ID, qty decimal.Decimal) (Amount, error) {
	a := Amount{Asset: id, Quantity: qty}
	if err := a.Validate(); err != nil {
		return Amount{}, err
	}
	return a, nil
}

// MustAmount parses qty and panics on error. Intended for tests.
func MustAmount(id ID, qty string) Amount {
	d, err := decimal.NewFromString(qty)
	if err != nil {
		panic(err)
	}
	a, err := NewAmount(id, d)
	if err != nil {
		panic(err)
	}
	return a
}

// Zero returns a zero quantity of id.
func Zero(id ID) Amount {
	return Amount{Asset: id, Quantity: decimal.Zero}
}

// Validate checks that the quantity fits the asset precision.
func (a Amount) Validate() error {
	if a.Asset.IsZero() {
		return fmt.Errorf("%w: missing asset", ErrInvalidID)
	}
	p := int32(a.Asset.Precision)
	if !a.Quantity.Equal(a.Quantity.Truncate(p)) {
		return fmt.Errorf("%w: %s has more than %d decimals", ErrPrecision, a.Quantity, p)
	}
	return nil
}

// IsPositive reports whether the quantity is strictly greater than zero.
func (a Amount) IsPositive() bool { return a.Quantity.IsPositive() }

// IsNegative reports whether the quantity is strictly less than zero.
func (a Amount) IsNegative() bool { return a.Quantity.IsNegative() }

// Add returns a + b.
func (a Amount) Add(b Amount) (Amount, error) {
	if a.Asset != b.Asset {
		return Amount{}, fmt.Errorf("%w: %s + %s", ErrAssetMismatch, a.Asset, b.Asset)
	}
	return Amount{Asset: a.Asset, Quantity: a.Quantity.Add(b.Quantity)}, nil
}

// Cmp compares a and b: -1 if a < b, 0 if equal, +1 if a > b.
func (a Amount) Cmp(b Amount) (int, error) {
	if a.Asset != b.Asset {
		return 0, fmt.Errorf("%w: %s vs %s", ErrAssetMismatch, a.Asset, b.Asset)
	}
	return a.Quantity.Cmp(b.Quantity), nil
}

// MulBps returns a * bps / 10000, truncated toward zero at the asset
// precision. Loan limits and fees both go through this so they share one
// rounding rule.
func (a Amount) MulBps(bps uint32) Amount {
	q, _ := a.Quantity.Mul(decimal.NewFromInt(int64(bps))).
		QuoRem(bpsScale, int32(a.Asset.Precision))
	return Amount{Asset: a.Asset, Quantity: q}
}

// String formats the amount as "500.0000 EOS".
func (a Amount) String() string {
	return a.Quantity.StringFixed(int32(a.Asset.Precision)) + " " + a.Asset.Symbol
}

type amountJSON struct {
	Asset    ID              `json:"asset"`
	Quantity decimal.Decimal `json:"quantity"`
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Asset    ID     `json:"asset"`
		Quantity string `json:"quantity"`
	}{a.Asset, a.Quantity.StringFixed(int32(a.Asset.Precision))})
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var raw amountJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewAmount(raw.Asset, raw.Quantity)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
