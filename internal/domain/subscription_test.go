package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBandValidate(t *testing.T) {
	cases := []struct {
		name    string
		band    Band
		wantErr bool
	}{
		{"asymmetric default", Band{dec("10"), dec("-5")}, false},
		{"zero upper", Band{dec("0"), dec("-5")}, true},
		{"positive lower", Band{dec("10"), dec("5")}, true},
		{"lower at -100", Band{dec("10"), dec("-100")}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.band.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestBandThreshold(t *testing.T) {
	b := Band{UpperPct: dec("10"), LowerPct: dec("-5")}
	assert.True(t, dec("122.1").Equal(b.Threshold(SideUpper, dec("111"))))
	assert.True(t, dec("95").Equal(b.Threshold(SideLower, dec("100"))))
}

func TestBandWithTarget(t *testing.T) {
	b := Band{UpperPct: dec("10"), LowerPct: dec("-5")}

	got, err := b.WithTarget(nil)
	require.NoError(t, err)
	assert.Equal(t, b, got)

	up := dec("25")
	got, err = b.WithTarget(&up)
	require.NoError(t, err)
	assert.True(t, got.UpperPct.Equal(up))
	assert.True(t, got.LowerPct.Equal(dec("-5")))

	down := dec("-20")
	got, err = b.WithTarget(&down)
	require.NoError(t, err)
	assert.True(t, got.UpperPct.Equal(dec("10")))
	assert.True(t, got.LowerPct.Equal(down))

	zero := decimal.Zero
	_, err = b.WithTarget(&zero)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "target return", cfgErr.Field)
}

func TestSubscriptionReturnPct(t *testing.T) {
	s := Subscription{ReferencePrice: dec("200")}
	assert.True(t, dec("-25").Equal(s.ReturnPct(dec("150"))))
	assert.True(t, dec("5").Equal(s.ReturnPct(dec("210"))))
}

func TestAlertMessage(t *testing.T) {
	up := Alert{
		Symbol:         "BTC",
		Side:           SideUpper,
		Price:          dec("111"),
		ReferencePrice: dec("100"),
		ReturnPct:      dec("11"),
		Threshold:      dec("110"),
		NextThreshold:  dec("122.1"),
		FiredAt:        time.Now(),
	}
	assert.Equal(t,
		"🚀 BTC broke above 110.00\nprice 111.00 (+11.00% vs reference 100.00)\nnext alert at 122.10",
		up.Message())

	down := Alert{
		Symbol:         "ETH",
		Side:           SideLower,
		Price:          dec("90"),
		ReferencePrice: dec("100"),
		ReturnPct:      dec("-10"),
		Threshold:      dec("95"),
		NextThreshold:  dec("85.5"),
	}
	assert.Equal(t,
		"📉 ETH fell below 95.00\nprice 90.00 (-10.00% vs reference 100.00)\nnext alert at 85.50",
		down.Message())
}

func TestConfigErrorMessage(t *testing.T) {
	err := NewConfigError("reference price", "must be greater than 0")
	assert.EqualError(t, err, "invalid reference price: must be greater than 0")
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.False(t, errors.Is(err, ErrNotFound))
}
