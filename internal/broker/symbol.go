package broker

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Option local symbols follow the OCC convention the gateway uses:
// the underlying padded to six characters, a yymmdd expiry, the right,
// and the strike times 1000 zero-padded to eight digits, e.g.
// "SPY   240920P00455000".

// ParseLocalSymbol decodes a local symbol into an unqualified option
// contract. A string that cannot be decoded yields nil rather than an
// error; callers must handle absence explicitly.
func ParseLocalSymbol(localSymbol string) *Contract {
	fields := strings.Fields(localSymbol)
	if len(fields) != 2 {
		return nil
	}
	symbol, rest := fields[0], fields[1]
	if len(rest) != 15 {
		return nil
	}

	expiry := rest[:6]
	if _, err := strconv.Atoi(expiry); err != nil {
		return nil
	}
	right := Right(rest[6])
	if right != RightPut && right != RightCall {
		return nil
	}
	milliStrike, err := strconv.ParseInt(rest[7:], 10, 64)
	if err != nil {
		return nil
	}

	return &Contract{
		SecType:      SecOption,
		Symbol:       symbol,
		Expiry:       "20" + expiry,
		Strike:       float64(milliStrike) / 1000,
		Right:        right,
		Exchange:     "SMART",
		TradingClass: symbol,
		LocalSymbol:  localSymbol,
	}
}

// FormatLocalSymbol encodes an option contract's identity fields into its
// local symbol. It is the inverse of ParseLocalSymbol for well-formed
// contracts.
func FormatLocalSymbol(c Contract) string {
	expiry := c.Expiry
	if len(expiry) == 8 {
		expiry = expiry[2:]
	}
	return fmt.Sprintf("%-6s%s%s%08d", c.Symbol, expiry, c.Right, int64(math.Round(c.Strike*1000)))
}
