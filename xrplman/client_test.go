package xrplman

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDropsToXRP(t *testing.T) {
	xrp, err := DropsToXRP("1000000")
	require.NoError(t, err)
	assert.True(t, xrp.Equal(decimal.NewFromInt(1)))

	xrp, err = DropsToXRP("1")
	require.NoError(t, err)
	assert.Equal(t, "0.000001", xrp.String())

	_, err = DropsToXRP("not-drops")
	assert.Error(t, err)
}

func TestXRPToDrops(t *testing.T) {
	assert.Equal(t, "1000000", XRPToDrops(decimal.NewFromInt(1)))
	assert.Equal(t, "1500000", XRPToDrops(decimal.RequireFromString("1.5")))
	assert.Equal(t, "1", XRPToDrops(decimal.RequireFromString("0.000001")))
}

func TestDropsRoundTrip(t *testing.T) {
	for _, s := range []string{"0.000001", "1", "123.456789", "100000000"} {
		amount := decimal.RequireFromString(s)
		back, err := DropsToXRP(XRPToDrops(amount))
		require.NoError(t, err)
		assert.True(t, back.Equal(amount), "round trip of %s gave %s", s, back)
	}
}
