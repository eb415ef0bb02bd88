package store

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRow feeds fixed column values to the scan helpers the way pgx.Row does.
type fakeRow struct {
	values []any
}

func (r fakeRow) Scan(dest ...any) error {
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(r.values))
	}
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(r.values[i]))
	}
	return nil
}

var created = time.Date(2025, 8, 15, 12, 0, 0, 0, time.UTC)

func poolRow(balance string) fakeRow {
	return fakeRow{values: []any{
		"pool-eos", "4,EOS@eosio.token", balance, uint32(100), uint32(5000), created,
	}}
}

func loanRow(amount, fee string) fakeRow {
	return fakeRow{values: []any{
		"l1", "pool-eos", "alice", "4,EOS@eosio.token", amount, fee,
		created.Add(time.Hour), false, created, (*time.Time)(nil),
	}}
}

func TestScanPool_NumericScale(t *testing.T) {
	p, err := scanPool(poolRow("1005.000000000000000000"))
	require.NoError(t, err)

	assert.Equal(t, eos, p.Asset)
	assert.Equal(t, "1005.0000 EOS", p.Balance.String())
	assert.Equal(t, uint32(100), p.FeeRateBps)
}

func TestScanPool_CorruptBalance(t *testing.T) {
	_, err := scanPool(poolRow("not-a-number"))
	assert.Error(t, err)

	// Digits beyond the asset precision cannot come from a value we wrote.
	_, err = scanPool(poolRow("1000.000050000000000000"))
	assert.Error(t, err)
}

func TestScanLoan(t *testing.T) {
	l, err := scanLoan(loanRow("500.000000000000000000", "5.000000000000000000"))
	require.NoError(t, err)

	assert.Equal(t, "500.0000 EOS", l.Amount.String())
	assert.Equal(t, "5.0000 EOS", l.Fee.String())
	assert.Nil(t, l.RepaidAt)
}

func TestScanLoan_CorruptAmounts(t *testing.T) {
	_, err := scanLoan(loanRow("", "5"))
	assert.Error(t, err)

	_, err = scanLoan(loanRow("500", "five"))
	assert.Error(t, err)
}
