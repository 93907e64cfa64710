package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"BTC/USDT":      "btcusdt",
		" eth-usdt ":    "ethusdt",
		"btcusdt":       "btcusdt",
		"1000PEPE_USDT": "1000pepeusdt",
		"../../etc":     "etc",
		"ÄBC$":          "bc",
		"":              "",
		"!!!":           "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Sanitize(in), "input %q", in)
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	for _, in := range []string{"BTC/USDT", "x@y#z", "  SoL_usdc  ", "ÄÖÜ123", ""} {
		once := Sanitize(in)
		assert.Equal(t, once, Sanitize(once), "input %q", in)
	}
}

func TestBinanceConverters(t *testing.T) {
	assert.Equal(t, "BTCUSDT", BinanceREST.ToExchange("btc/usdt"))
	assert.Equal(t, "btcusdt", BinanceStream.ToExchange("BTC-USDT"))
	assert.Equal(t, FormatREST, BinanceREST.Format())
	assert.Equal(t, FormatStream, BinanceStream.Format())
}

func TestPretty(t *testing.T) {
	assert.Equal(t, "BTC/USDT", Pretty("btcusdt"))
	assert.Equal(t, "ETH/BTC", Pretty("ETH/BTC"))
	assert.Equal(t, "FOOBAR", Pretty("foobar"))
}
