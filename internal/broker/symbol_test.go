package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocalSymbol(t *testing.T) {
	c := ParseLocalSymbol("SPY   240920P00455000")
	require.NotNil(t, c)
	assert.Equal(t, "SPY", c.Symbol)
	assert.Equal(t, "20240920", c.Expiry)
	assert.Equal(t, RightPut, c.Right)
	assert.Equal(t, 455.0, c.Strike)
	assert.Equal(t, SecOption, c.SecType)
	assert.Equal(t, "SMART", c.Exchange)
	assert.Equal(t, "SPY", c.TradingClass)
}

func TestParseLocalSymbolFractionalStrike(t *testing.T) {
	c := ParseLocalSymbol("XSP   250117C00452500")
	require.NotNil(t, c)
	assert.Equal(t, RightCall, c.Right)
	assert.Equal(t, 452.5, c.Strike)
}

func TestParseLocalSymbolMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"no separator", "SPY240920P00455000"},
		{"short tail", "SPY   240920P0045500"},
		{"bad right", "SPY   240920X00455000"},
		{"bad expiry", "SPY   24O920P00455000"},
		{"bad strike", "SPY   240920P0045500x"},
		{"three fields", "SPY X 240920P00455000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, ParseLocalSymbol(tt.input))
		})
	}
}

func TestFormatLocalSymbol(t *testing.T) {
	got := FormatLocalSymbol(Contract{
		Symbol: "SPY",
		Expiry: "20240920",
		Right:  RightPut,
		Strike: 455,
	})
	assert.Equal(t, "SPY   240920P00455000", got)
}

func TestFormatLocalSymbolRoundTrip(t *testing.T) {
	symbols := []string{
		"SPY   240920P00455000",
		"XSP   250117C00452500",
		"BRKB  261218P03500000",
	}
	for _, s := range symbols {
		c := ParseLocalSymbol(s)
		require.NotNil(t, c, s)
		assert.Equal(t, s, FormatLocalSymbol(*c))
	}
}
