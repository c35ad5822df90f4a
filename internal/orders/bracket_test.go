package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanlooting/theta-engine/internal/broker"
)

type fakeIDs struct{ next int64 }

func (f *fakeIDs) NextOrderID() int64 {
	f.next++
	return f.next
}

func ptr(v float64) *float64 { return &v }

func TestBuildSellBracket(t *testing.T) {
	ids := &fakeIDs{}
	b, err := Build(ids, BracketParams{
		Action:        broker.Sell,
		Quantity:      2,
		Price:         1.00,
		StopLossPct:   ptr(0.5),
		TakeProfitPct: ptr(0.5),
		ParentKind:    broker.Limit,
		Tick:          0.05,
	})
	require.NoError(t, err)

	require.NotNil(t, b.Parent)
	assert.Equal(t, broker.Sell, b.Parent.Action)
	assert.Equal(t, broker.Limit, b.Parent.Kind)
	assert.Equal(t, 1.00, b.Parent.LimitPrice)
	assert.Equal(t, 2, b.Parent.Quantity)
	assert.Equal(t, "GTC", b.Parent.TIF)

	require.NotNil(t, b.TakeProfit)
	assert.Equal(t, broker.Buy, b.TakeProfit.Action)
	assert.Equal(t, broker.Limit, b.TakeProfit.Kind)
	assert.InDelta(t, 0.50, b.TakeProfit.LimitPrice, 1e-9)

	require.NotNil(t, b.StopLoss)
	assert.Equal(t, broker.Buy, b.StopLoss.Action)
	assert.Equal(t, broker.Stop, b.StopLoss.Kind)
	assert.InDelta(t, 1.50, b.StopLoss.StopPrice, 1e-9)
}

func TestBuildDirectionSymmetry(t *testing.T) {
	// BUY negates both fractions, mirroring the SELL prices around entry.
	sell, err := Build(&fakeIDs{}, BracketParams{
		Action: broker.Sell, Quantity: 1, Price: 1.00,
		StopLossPct: ptr(0.5), TakeProfitPct: ptr(0.5),
		ParentKind: broker.Market, Tick: 0.05,
	})
	require.NoError(t, err)
	buy, err := Build(&fakeIDs{}, BracketParams{
		Action: broker.Buy, Quantity: 1, Price: 1.00,
		StopLossPct: ptr(0.5), TakeProfitPct: ptr(0.5),
		ParentKind: broker.Market, Tick: 0.05,
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.50, sell.TakeProfit.LimitPrice, 1e-9)
	assert.InDelta(t, 1.50, sell.StopLoss.StopPrice, 1e-9)
	assert.InDelta(t, 1.50, buy.TakeProfit.LimitPrice, 1e-9)
	assert.InDelta(t, 0.50, buy.StopLoss.StopPrice, 1e-9)

	assert.Equal(t, broker.Sell, buy.TakeProfit.Action)
	assert.Equal(t, broker.Sell, buy.StopLoss.Action)
}

func TestBuildTakeProfitFlipIndependentOfStopLoss(t *testing.T) {
	// The take-profit sign flip depends only on the take-profit's own
	// presence; omitting the stop-loss must not change it.
	b, err := Build(&fakeIDs{}, BracketParams{
		Action: broker.Buy, Quantity: 1, Price: 2.00,
		TakeProfitPct: ptr(0.25),
		ParentKind:    broker.Market, Tick: 0.01,
	})
	require.NoError(t, err)
	require.Nil(t, b.StopLoss)
	require.NotNil(t, b.TakeProfit)
	// BUY: 2.00 * (1 - (-0.25)) = 2.50
	assert.InDelta(t, 2.50, b.TakeProfit.LimitPrice, 1e-9)
}

func TestBuildSlippageAdjustment(t *testing.T) {
	b, err := Build(&fakeIDs{}, BracketParams{
		Action: broker.Sell, Quantity: 1, Price: 1.00,
		StopLossPct: ptr(0.5), SlippageAdj: 0.05,
		ParentKind: broker.Market, Tick: 0.05,
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.45, b.StopLoss.StopPrice, 1e-9)
}

func TestBuildTransmitMarking(t *testing.T) {
	tests := []struct {
		name string
		sl   *float64
		tp   *float64
		want func(t *testing.T, b broker.BracketOrder)
	}{
		{
			name: "full bracket transmits on stop loss",
			sl:   ptr(0.5), tp: ptr(0.5),
			want: func(t *testing.T, b broker.BracketOrder) {
				assert.False(t, b.Parent.Transmit)
				assert.False(t, b.TakeProfit.Transmit)
				assert.True(t, b.StopLoss.Transmit)
			},
		},
		{
			name: "take profit only transmits on take profit",
			tp:   ptr(0.5),
			want: func(t *testing.T, b broker.BracketOrder) {
				assert.False(t, b.Parent.Transmit)
				assert.True(t, b.TakeProfit.Transmit)
				assert.Nil(t, b.StopLoss)
			},
		},
		{
			name: "stop loss only transmits on stop loss",
			sl:   ptr(0.5),
			want: func(t *testing.T, b broker.BracketOrder) {
				assert.False(t, b.Parent.Transmit)
				assert.Nil(t, b.TakeProfit)
				assert.True(t, b.StopLoss.Transmit)
			},
		},
		{
			name: "lone parent transmits itself",
			want: func(t *testing.T, b broker.BracketOrder) {
				assert.True(t, b.Parent.Transmit)
				assert.Nil(t, b.TakeProfit)
				assert.Nil(t, b.StopLoss)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Build(&fakeIDs{}, BracketParams{
				Action: broker.Sell, Quantity: 1, Price: 1.00,
				StopLossPct: tt.sl, TakeProfitPct: tt.tp,
				ParentKind: broker.Market, Tick: 0.05,
			})
			require.NoError(t, err)
			tt.want(t, b)
		})
	}
}

func TestBuildOrderIdentities(t *testing.T) {
	ids := &fakeIDs{next: 100}
	b, err := Build(ids, BracketParams{
		Action: broker.Sell, Quantity: 1, Price: 1.00,
		StopLossPct: ptr(0.5), TakeProfitPct: ptr(0.5),
		ParentKind: broker.Market, Tick: 0.05,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(101), b.Parent.ID)
	assert.Equal(t, int64(102), b.TakeProfit.ID)
	assert.Equal(t, int64(103), b.StopLoss.ID)
	assert.Equal(t, b.Parent.ID, b.TakeProfit.ParentID)
	assert.Equal(t, b.Parent.ID, b.StopLoss.ParentID)
	assert.Zero(t, b.Parent.ParentID)
}

func TestBuildValidation(t *testing.T) {
	t.Run("non-positive quantity", func(t *testing.T) {
		_, err := Build(&fakeIDs{}, BracketParams{
			Action: broker.Sell, Quantity: 0, Price: 1.00,
			ParentKind: broker.Market, Tick: 0.05,
		})
		require.Error(t, err)
	})

	t.Run("unsupported parent kind", func(t *testing.T) {
		_, err := Build(&fakeIDs{}, BracketParams{
			Action: broker.Sell, Quantity: 1, Price: 1.00,
			ParentKind: broker.Stop, Tick: 0.05,
		})
		require.Error(t, err)
	})

	t.Run("non-positive tick", func(t *testing.T) {
		_, err := Build(&fakeIDs{}, BracketParams{
			Action: broker.Sell, Quantity: 1, Price: 1.00,
			ParentKind: broker.Market,
		})
		require.Error(t, err)
	})
}
