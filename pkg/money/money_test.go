package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, "KES 3,500.00", Format(350000, "kes"))
	assert.Equal(t, "KES 7,000.00", Format(700000, "KES"))
	assert.Equal(t, "0.50", Format(50, ""))
	assert.Equal(t, "KES 1,234,567.89", Format(123456789, "KES"))
	assert.Equal(t, "-12.00", Format(-1200, ""))
}

func TestConversions(t *testing.T) {
	assert.Equal(t, int64(350000), FromMajor(decimal.RequireFromString("3500")))
	assert.Equal(t, int64(350001), FromMajor(decimal.RequireFromString("3500.005")))
	assert.True(t, ToMajor(700000).Equal(decimal.NewFromInt(7000)))
	assert.Equal(t, int64(3501), WholeUnits(350001))
	assert.Equal(t, int64(3500), WholeUnits(350000))
}
