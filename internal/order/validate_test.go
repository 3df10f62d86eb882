package order

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawOrder(price, amount, market, side string) RawOrder {
	return RawOrder{
		Price:  json.Number(price),
		Amount: json.Number(amount),
		Market: market,
		Side:   side,
	}
}

func TestValidateNormalizes(t *testing.T) {
	v := NewValidator(Policy{Kind: KindLimit})

	raw := rawOrder("100", "1.5", " btc-usdt ", "buy")
	raw.IsMaker = true
	o, err := v.Validate(raw)
	require.NoError(t, err)

	assert.Equal(t, "BTC-USDT", o.Market)
	assert.Equal(t, SideBuy, o.Side)
	assert.Equal(t, KindLimit, o.Kind)
	assert.Equal(t, "100", o.Price.String())
	assert.Equal(t, "1.5", o.Amount.String())
	assert.True(t, o.IsMaker)
	assert.Empty(t, o.OrderID)
}

func TestValidateAcceptsSymbolAlias(t *testing.T) {
	v := NewValidator(Policy{})
	raw := rawOrder("10.25", "3", "", "SELL")
	raw.Symbol = "eth_usdt"

	o, err := v.Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, "ETH_USDT", o.Market)
	assert.Equal(t, SideSell, o.Side)
}

func TestValidateMarketProfileForcesTaker(t *testing.T) {
	v := NewValidator(Policy{Kind: KindMarket})
	raw := rawOrder("100", "1", "BTCUSDT", "buy")
	raw.IsMaker = true

	o, err := v.Validate(raw)
	require.NoError(t, err)
	assert.False(t, o.IsMaker)
	assert.Equal(t, KindMarket, o.Kind)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name  string
		raw   RawOrder
		field string
	}{
		{"missing price", rawOrder("", "1", "BTCUSDT", "buy"), "price"},
		{"zero price", rawOrder("0", "1", "BTCUSDT", "buy"), "price"},
		{"negative amount", rawOrder("1", "-2", "BTCUSDT", "buy"), "amount"},
		{"three decimals", rawOrder("1.005", "1", "BTCUSDT", "buy"), "price"},
		{"amount precision", rawOrder("1", "0.001", "BTCUSDT", "buy"), "amount"},
		{"exponent notation", rawOrder("1e3", "1", "BTCUSDT", "buy"), "price"},
		{"empty market", rawOrder("1", "1", "   ", "buy"), "market"},
		{"long market", rawOrder("1", "1", "ABCDEFGHIJK", "buy"), "market"},
		{"bad charset", rawOrder("1", "1", "BTC/USDT", "buy"), "market"},
		{"sql keyword", rawOrder("1", "1", "DROP", "buy"), "market"},
		{"double dash", rawOrder("1", "1", "BTC--X", "buy"), "market"},
		{"unknown side", rawOrder("1", "1", "BTCUSDT", "hold"), "side"},
		{"missing side", rawOrder("1", "1", "BTCUSDT", ""), "side"},
	}

	v := NewValidator(Policy{})
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Validate(tc.raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestValidateRequireUser(t *testing.T) {
	v := NewValidator(Policy{RequireUser: true})

	_, err := v.Validate(rawOrder("1", "1", "BTCUSDT", "buy"))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "userId", verr.Field)

	raw := rawOrder("1", "1", "BTCUSDT", "buy")
	raw.UserID = "u-1"
	o, err := v.Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, "u-1", o.UserID)
}

func TestRawOrderDecodesNumbersVerbatim(t *testing.T) {
	var raw RawOrder
	require.NoError(t, json.Unmarshal([]byte(`{"price":100.10,"amount":2,"market":"btc-usdt","side":"Buy","isMaker":true}`), &raw))
	assert.Equal(t, "100.10", raw.Price.String())
	assert.Equal(t, "BTC-USDT", raw.MarketSymbol())
}
