// Package asset defines fungible asset identifiers and the fixed-point Amount
// type used for every balance, principal and fee in the engine.
// All quantities use shopspring/decimal, never float64 for money.
package asset

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// MaxPrecision is the largest number of fractional digits an asset may carry.
const MaxPrecision = 18

// idRegex matches the extended asset notation: {precision},{SYMBOL}@{contract}
// Example: 4,EOS@eosio.token
var idRegex = regexp.MustCompile(
	`^(\d{1,2}),([A-Z]{1,7})@([a-z1-5.]{1,12})$`,
)

var (
	ErrInvalidID     = errors.New("asset: invalid asset identifier")
	ErrAssetMismatch = errors.New("asset: mismatched assets")
	ErrPrecision     = errors.New("asset: quantity exceeds asset precision")
)

// ID identifies a fungible asset: the issuing contract, its symbol and the
// number of fractional digits it is denominated in. IDs are comparable and
// safe to use as map keys.
type ID struct {
	Contract  string
	Symbol    string
	Precision uint8
}

// ParseID parses and validates an asset identifier.
// Format: {precision},{SYMBOL}@{contract}
func ParseID(s string) (ID, error) {
	matches := idRegex.FindStringSubmatch(s)
	if matches == nil {
		return ID{}, fmt.Errorf("%w: %q (expected {precision},{SYMBOL}@{contract})",
			ErrInvalidID, s)
	}

	precision, err := strconv.Atoi(matches[1])
	if err != nil || precision > MaxPrecision {
		return ID{}, fmt.Errorf("%w: precision %s out of range", ErrInvalidID, matches[1])
	}

	return ID{
		Contract:  matches[3],
		Symbol:    matches[2],
		Precision: uint8(precision),
	}, nil
}

// MustParseID is like ParseID but panics on error. Intended for constants
// and tests.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the extended asset notation.
func (id ID) String() string {
	return fmt.Sprintf("%d,%s@%s", id.Precision, id.Symbol, id.Contract)
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
