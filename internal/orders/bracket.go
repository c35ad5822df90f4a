// Package orders constructs bracket orders and replaces the brackets
// guarding an existing position. All price arithmetic happens here; the
// session only carries finished orders to the gateway.
package orders

import (
	"fmt"

	"github.com/tanlooting/theta-engine/internal/broker"
	"github.com/tanlooting/theta-engine/internal/util"
)

// BracketParams describes a fresh single-leg bracket: a parent order plus
// optional take-profit and stop-loss children. StopLossPct and
// TakeProfitPct are positive fractions of Price; nil omits that leg.
type BracketParams struct {
	Action        broker.Action
	Quantity      int
	Price         float64
	StopLossPct   *float64
	TakeProfitPct *float64
	// SlippageAdj shifts the stop trigger toward the entry so the stop
	// fires before the configured loss is fully realized.
	SlippageAdj float64
	ParentKind  broker.OrderKind // Market or Limit; Limit uses Price
	Tick        float64
}

// Build constructs a bracket from params. Children always take the
// opposite action of the parent. When the parent is a BUY both offset
// fractions are negated before use, so the child prices mirror the SELL
// case around the entry; each flip depends only on that leg's own
// presence. Only the last order of the group is marked transmit, making
// the bracket activate atomically at the broker; a parent without
// children transmits itself.
func Build(ids broker.IDAllocator, p BracketParams) (broker.BracketOrder, error) {
	return buildBracket(ids, p.Action, p.Quantity, p.Quantity, p.Price,
		p.StopLossPct, p.TakeProfitPct, p.SlippageAdj, p.ParentKind, p.Tick)
}

func buildBracket(
	ids broker.IDAllocator,
	action broker.Action,
	parentQty, childQty int,
	price float64,
	slPct, tpPct *float64,
	slippageAdj float64,
	parentKind broker.OrderKind,
	tick float64,
) (broker.BracketOrder, error) {
	if parentQty <= 0 || childQty <= 0 {
		return broker.BracketOrder{}, fmt.Errorf("orders: quantity must be positive, got parent=%d child=%d", parentQty, childQty)
	}
	if tick <= 0 {
		return broker.BracketOrder{}, fmt.Errorf("orders: tick must be positive, got %v", tick)
	}

	parent := &broker.Order{
		ID:       ids.NextOrderID(),
		Action:   action,
		Quantity: parentQty,
		TIF:      "GTC",
	}
	switch parentKind {
	case broker.Limit:
		parent.Kind = broker.Limit
		parent.LimitPrice = price
	case broker.Market:
		parent.Kind = broker.Market
	default:
		return broker.BracketOrder{}, fmt.Errorf("orders: parent kind must be %s or %s, got %q", broker.Market, broker.Limit, parentKind)
	}

	// A long position's stop sits below entry and its take-profit above,
	// the mirror of the short-premium case the fractions are written for.
	if action == broker.Buy {
		if slPct != nil {
			v := -*slPct
			slPct = &v
		}
		if tpPct != nil {
			v := -*tpPct
			tpPct = &v
		}
	}
	childAction := action.Opposite()

	bracket := broker.BracketOrder{Parent: parent}
	if tpPct != nil {
		bracket.TakeProfit = &broker.Order{
			ID:         ids.NextOrderID(),
			Action:     childAction,
			Kind:       broker.Limit,
			Quantity:   childQty,
			LimitPrice: util.RoundToTick(price*(1-*tpPct), tick),
			TIF:        "GTC",
			ParentID:   parent.ID,
		}
	}
	if slPct != nil {
		bracket.StopLoss = &broker.Order{
			ID:        ids.NextOrderID(),
			Action:    childAction,
			Kind:      broker.Stop,
			Quantity:  childQty,
			StopPrice: util.RoundToTick(price*(1+*slPct)-slippageAdj, tick),
			TIF:       "GTC",
			ParentID:  parent.ID,
		}
	}

	legs := bracket.Orders()
	legs[len(legs)-1].Transmit = true
	return bracket, nil
}
