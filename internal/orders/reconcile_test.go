package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanlooting/theta-engine/internal/broker"
)

func spyPut(qty int) broker.Position {
	return broker.Position{
		Contract: broker.Contract{
			ConID:       1,
			SecType:     broker.SecOption,
			Symbol:      "SPY",
			LocalSymbol: "SPY   240920P00455000",
			Multiplier:  100,
		},
		Quantity: qty,
		AvgCost:  180.0,
	}
}

func openTrade(symbol string, orderID int64, qty int) broker.Trade {
	return broker.Trade{
		Contract: broker.Contract{LocalSymbol: symbol},
		Order:    broker.Order{ID: orderID, Quantity: qty},
		Status:   broker.StatusSubmitted,
	}
}

func TestReplaceBlendsPriceAndGrowsChildren(t *testing.T) {
	pos := spyPut(-10) // short 10 at avg cost 180 per contract, 1.80 per share
	open := []broker.Trade{
		openTrade(pos.Contract.LocalSymbol, 201, 10),
		openTrade(pos.Contract.LocalSymbol, 202, 10),
	}

	b, stale, err := Replace(&fakeIDs{}, pos, open, ReplaceParams{
		AddQuantity:   5,
		Price:         2.00,
		StopLossPct:   ptr(0.5),
		TakeProfitPct: ptr(0.0),
		Tick:          0.0001,
	})
	require.NoError(t, err)

	// blended = (2.00*5 + 1.80*10) / 15 = 1.8667
	assert.InDelta(t, 1.8667, b.TakeProfit.LimitPrice, 1e-4)

	assert.Equal(t, broker.Sell, b.Parent.Action)
	assert.Equal(t, broker.Market, b.Parent.Kind)
	assert.Equal(t, 5, b.Parent.Quantity)
	assert.Equal(t, 15, b.TakeProfit.Quantity)
	assert.Equal(t, 15, b.StopLoss.Quantity)

	require.Len(t, stale, 2)
	assert.Equal(t, int64(201), stale[0].ID)
	assert.Equal(t, int64(202), stale[1].ID)
}

func TestReplaceLongPositionBuys(t *testing.T) {
	pos := spyPut(10)
	open := []broker.Trade{openTrade(pos.Contract.LocalSymbol, 301, 10)}

	b, _, err := Replace(&fakeIDs{}, pos, open, ReplaceParams{
		AddQuantity: 2,
		Price:       1.80,
		StopLossPct: ptr(0.5),
		Tick:        0.05,
	})
	require.NoError(t, err)

	assert.Equal(t, broker.Buy, b.Parent.Action)
	assert.Equal(t, broker.Sell, b.StopLoss.Action)
	// Long entry at 1.80 with the fraction negated: stop below entry.
	assert.InDelta(t, 0.90, b.StopLoss.StopPrice, 1e-9)
}

func TestReplaceIgnoresOtherSymbols(t *testing.T) {
	pos := spyPut(-10)
	open := []broker.Trade{
		openTrade(pos.Contract.LocalSymbol, 401, 10),
		openTrade("SPY   240920P00430000", 402, 3),
	}

	b, stale, err := Replace(&fakeIDs{}, pos, open, ReplaceParams{
		AddQuantity: 5,
		Price:       2.00,
		StopLossPct: ptr(0.5),
		Tick:        0.05,
	})
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, int64(401), stale[0].ID)
	assert.Equal(t, 15, b.StopLoss.Quantity)
}

func TestReplaceInconsistentQuantities(t *testing.T) {
	pos := spyPut(-10)
	open := []broker.Trade{
		openTrade(pos.Contract.LocalSymbol, 501, 10),
		openTrade(pos.Contract.LocalSymbol, 502, 7),
	}

	_, _, err := Replace(&fakeIDs{}, pos, open, ReplaceParams{
		AddQuantity: 5, Price: 2.00, StopLossPct: ptr(0.5), Tick: 0.05,
	})
	require.ErrorIs(t, err, ErrInconsistentBracket)
}

func TestReplaceNoOpenOrders(t *testing.T) {
	pos := spyPut(-10)

	_, _, err := Replace(&fakeIDs{}, pos, nil, ReplaceParams{
		AddQuantity: 5, Price: 2.00, StopLossPct: ptr(0.5), Tick: 0.05,
	})
	require.ErrorIs(t, err, ErrInconsistentBracket)
}

func TestReplaceValidation(t *testing.T) {
	t.Run("non-positive add quantity", func(t *testing.T) {
		_, _, err := Replace(&fakeIDs{}, spyPut(-10), nil, ReplaceParams{
			AddQuantity: 0, Price: 2.00, Tick: 0.05,
		})
		require.Error(t, err)
	})

	t.Run("missing multiplier", func(t *testing.T) {
		pos := spyPut(-10)
		pos.Contract.Multiplier = 0
		_, _, err := Replace(&fakeIDs{}, pos, nil, ReplaceParams{
			AddQuantity: 5, Price: 2.00, Tick: 0.05,
		})
		require.Error(t, err)
	})
}
