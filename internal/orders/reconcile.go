package orders

import (
	"errors"
	"fmt"

	"github.com/tanlooting/theta-engine/internal/broker"
)

// ErrInconsistentBracket reports open orders for one position that do not
// share a single common quantity. All live children guarding one position
// must be the same size; anything else means local state has corrupted and
// a human needs to look before more orders go out.
var ErrInconsistentBracket = errors.New("orders: open orders for position are inconsistent")

// ReplaceParams describes extending an existing position by AddQuantity
// contracts at Price. Offset fractions follow the same conventions as
// BracketParams.
type ReplaceParams struct {
	AddQuantity   int
	Price         float64
	StopLossPct   *float64
	TakeProfitPct *float64
	SlippageAdj   float64
	ParentKind    broker.OrderKind // zero value defaults to Market
	Tick          float64
}

// Replace builds the bracket that extends pos by params.AddQuantity and
// returns it together with the stale open orders the caller must cancel
// before submitting. The parent is sized to the increment only; the
// children cover the whole blended position (the old common child
// quantity plus the increment) at the quantity-weighted entry price.
// Replace never shrinks a position or flips its side.
func Replace(ids broker.IDAllocator, pos broker.Position, open []broker.Trade, p ReplaceParams) (broker.BracketOrder, []broker.Order, error) {
	if p.AddQuantity <= 0 {
		return broker.BracketOrder{}, nil, fmt.Errorf("orders: add quantity must be positive, got %d", p.AddQuantity)
	}
	if pos.Contract.Multiplier <= 0 {
		return broker.BracketOrder{}, nil, fmt.Errorf("orders: position %s has no multiplier", pos.Contract.LocalSymbol)
	}

	var stale []broker.Order
	commonQty := 0
	for _, tr := range open {
		if tr.Contract.LocalSymbol != pos.Contract.LocalSymbol {
			continue
		}
		if commonQty == 0 {
			commonQty = tr.Order.Quantity
		} else if tr.Order.Quantity != commonQty {
			return broker.BracketOrder{}, nil, fmt.Errorf("%w: %s has quantities %d and %d",
				ErrInconsistentBracket, pos.Contract.LocalSymbol, commonQty, tr.Order.Quantity)
		}
		stale = append(stale, tr.Order)
	}
	if len(stale) == 0 {
		return broker.BracketOrder{}, nil, fmt.Errorf("%w: no open orders for %s",
			ErrInconsistentBracket, pos.Contract.LocalSymbol)
	}

	existQty := pos.Quantity
	if existQty < 0 {
		existQty = -existQty
	}
	avgPrice := pos.AvgCost / float64(pos.Contract.Multiplier)
	blended := (p.Price*float64(p.AddQuantity) + avgPrice*float64(existQty)) /
		float64(existQty+p.AddQuantity)

	action := broker.Buy
	if pos.Quantity < 0 {
		action = broker.Sell
	}

	parentKind := p.ParentKind
	if parentKind == "" {
		parentKind = broker.Market
	}

	bracket, err := buildBracket(ids, action, p.AddQuantity, commonQty+p.AddQuantity,
		blended, p.StopLossPct, p.TakeProfitPct, p.SlippageAdj, parentKind, p.Tick)
	if err != nil {
		return broker.BracketOrder{}, nil, err
	}
	return bracket, stale, nil
}
