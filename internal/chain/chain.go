// Package chain assembles option-chain snapshots and selects contracts
// nearest a target risk metric. Everything here is pure: selectors walk an
// in-memory snapshot, never the wire.
package chain

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/tanlooting/theta-engine/internal/broker"
)

var (
	// ErrIncomplete reports a snapshot with at least one quote missing
	// greeks. The whole fetch is retried rather than trading on a partial
	// chain; market-data subscriptions routinely lag a few seconds after
	// a request.
	ErrIncomplete = errors.New("chain: snapshot missing greeks")
	// ErrNoData reports an empty chain, or a chain where no row carries
	// the field a selector compares. Distinct from a nearest match that
	// misses tolerance, which is a valid business outcome.
	ErrNoData = errors.New("chain: no comparable data")
)

// Row is one contract's snapshot within a chain.
type Row struct {
	LocalSymbol  string
	Strike       float64
	Right        broker.Right
	Expiry       string
	Bid          float64
	Ask          float64
	BidSize      int
	AskSize      int
	Volume       int
	OpenInterest int
	IV           float64
	Delta        float64
	Gamma        float64
	Vega         float64
	Theta        float64
	UndPrice     float64
}

// Chain is a complete snapshot for one underlying and expiry, sorted by
// strike. Transient; rebuilt every selection cycle.
type Chain []Row

// Side selects which quote price a credit selector compares.
type Side int

const (
	// SideBid compares the bid price.
	SideBid Side = iota
	// SideAsk compares the ask price.
	SideAsk
)

// Build converts quote records into a chain, one row per distinct local
// symbol (first record wins). Any record without greeks fails the whole
// assembly with ErrIncomplete.
func Build(quotes []broker.Quote) (Chain, error) {
	seen := make(map[string]struct{}, len(quotes))
	rows := make(Chain, 0, len(quotes))
	for _, q := range quotes {
		ls := q.Contract.LocalSymbol
		if _, dup := seen[ls]; dup {
			continue
		}
		seen[ls] = struct{}{}

		if q.Greeks == nil {
			return nil, fmt.Errorf("%w: %s", ErrIncomplete, ls)
		}
		rows = append(rows, Row{
			LocalSymbol:  ls,
			Strike:       q.Contract.Strike,
			Right:        q.Contract.Right,
			Expiry:       q.Contract.Expiry,
			Bid:          q.Bid,
			Ask:          q.Ask,
			BidSize:      q.BidSize,
			AskSize:      q.AskSize,
			Volume:       q.Volume,
			OpenInterest: q.OpenInterest,
			IV:           q.Greeks.IV,
			Delta:        q.Greeks.Delta,
			Gamma:        q.Greeks.Gamma,
			Vega:         q.Greeks.Vega,
			Theta:        q.Greeks.Theta,
			UndPrice:     q.Greeks.UndPrice,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Strike < rows[j].Strike })
	return rows, nil
}

// SelectByDelta returns the row whose delta is nearest target. ok is false
// when the nearest row's deviation exceeds tolerance: no eligible contract,
// a valid outcome the caller handles by not trading. Ties break on the
// first occurrence in chain order.
func (c Chain) SelectByDelta(target, tolerance float64) (Row, bool, error) {
	return c.nearest(target, tolerance, func(r Row) float64 { return r.Delta })
}

// SelectByCredit is SelectByDelta applied to the bid or ask price.
func (c Chain) SelectByCredit(target float64, side Side, tolerance float64) (Row, bool, error) {
	switch side {
	case SideBid:
		return c.nearest(target, tolerance, func(r Row) float64 { return r.Bid })
	case SideAsk:
		return c.nearest(target, tolerance, func(r Row) float64 { return r.Ask })
	default:
		return Row{}, false, fmt.Errorf("chain: unknown side %d", side)
	}
}

func (c Chain) nearest(target, tolerance float64, field func(Row) float64) (Row, bool, error) {
	best := -1
	bestDist := math.Inf(1)
	for i, r := range c {
		v := field(r)
		if math.IsNaN(v) {
			continue
		}
		if d := math.Abs(v - target); d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return Row{}, false, ErrNoData
	}
	if bestDist > tolerance {
		return c[best], false, nil
	}
	return c[best], true, nil
}
