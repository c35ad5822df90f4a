// Package broker models the brokerage session boundary: tradable contracts,
// orders and their lifecycle, account positions, and the push events the
// gateway streams back. The wire protocol lives behind the Transport
// interface; everything above it works with the types in this file.
package broker

// Right identifies the option right of a contract.
type Right string

const (
	// RightPut is a put option.
	RightPut Right = "P"
	// RightCall is a call option.
	RightCall Right = "C"
)

// SecType identifies the security type of a contract.
type SecType string

const (
	// SecStock is an equity underlying.
	SecStock SecType = "STK"
	// SecOption is a single option contract.
	SecOption SecType = "OPT"
)

// Contract identifies one tradable instrument. An option contract is
// immutable once qualified: Qualify resolves it to a canonical identity
// (ConID plus the gateway's local symbol) and nothing mutates it afterwards.
type Contract struct {
	ConID        int64   `json:"con_id,omitempty"`
	SecType      SecType `json:"sec_type"`
	Symbol       string  `json:"symbol"`
	Expiry       string  `json:"expiry,omitempty"` // yyyymmdd
	Strike       float64 `json:"strike,omitempty"`
	Right        Right   `json:"right,omitempty"`
	Exchange     string  `json:"exchange"`
	Currency     string  `json:"currency,omitempty"`
	TradingClass string  `json:"trading_class,omitempty"`
	Multiplier   int     `json:"multiplier,omitempty"`
	LocalSymbol  string  `json:"local_symbol,omitempty"`
}

// Qualified reports whether the contract has been resolved by the gateway.
func (c Contract) Qualified() bool {
	return c.ConID != 0
}

// Action is the side of an order.
type Action string

const (
	// Buy opens or extends long exposure.
	Buy Action = "BUY"
	// Sell opens or extends short exposure.
	Sell Action = "SELL"
)

// Opposite returns the other side. Bracket children always take the
// opposite action of their parent.
func (a Action) Opposite() Action {
	if a == Buy {
		return Sell
	}
	return Buy
}

// OrderKind is the execution type of an order.
type OrderKind string

const (
	// Market executes at the prevailing price.
	Market OrderKind = "MKT"
	// Limit executes at LimitPrice or better.
	Limit OrderKind = "LMT"
	// Stop becomes a market order once StopPrice trades.
	Stop OrderKind = "STP"
)

// Order is one instruction to the gateway. IDs are allocated locally before
// submission from the session's monotonic allocator. A non-zero ParentID
// makes the order a bracket child: it stays inert at the broker until its
// parent fills. Transmit marks the order that activates the whole group;
// only the last order of a bracket carries it so the group goes live
// atomically from the broker's perspective.
type Order struct {
	ID         int64     `json:"id"`
	Action     Action    `json:"action"`
	Kind       OrderKind `json:"kind"`
	Quantity   int       `json:"quantity"`
	LimitPrice float64   `json:"limit_price,omitempty"`
	StopPrice  float64   `json:"stop_price,omitempty"`
	TIF        string    `json:"tif"`
	ParentID   int64     `json:"parent_id,omitempty"`
	Transmit   bool      `json:"transmit"`
}

// BracketOrder is a parent order with optional take-profit and stop-loss
// children. Either child may be nil independently.
type BracketOrder struct {
	Parent     *Order
	TakeProfit *Order
	StopLoss   *Order
}

// Orders returns the non-nil legs in submission order: parent, take-profit,
// stop-loss.
func (b BracketOrder) Orders() []*Order {
	out := make([]*Order, 0, 3)
	for _, o := range []*Order{b.Parent, b.TakeProfit, b.StopLoss} {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

// OrderStatus is the broker's view of where an order is in its lifecycle.
type OrderStatus string

const (
	// StatusPendingSubmit means the order was created locally but the
	// gateway has not acknowledged it yet.
	StatusPendingSubmit OrderStatus = "PendingSubmit"
	// StatusPreSubmitted means the gateway holds the order (e.g. an inert
	// bracket child waiting on its parent).
	StatusPreSubmitted OrderStatus = "PreSubmitted"
	// StatusSubmitted means the order is live at the exchange.
	StatusSubmitted OrderStatus = "Submitted"
	// StatusFilled is terminal.
	StatusFilled OrderStatus = "Filled"
	// StatusCancelled is terminal.
	StatusCancelled OrderStatus = "Cancelled"
	// StatusAPICancelled is terminal: cancelled by this client.
	StatusAPICancelled OrderStatus = "ApiCancelled"
	// StatusRejected is terminal.
	StatusRejected OrderStatus = "Rejected"
)

// Terminal reports whether the status is final.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusAPICancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// Cancelled reports whether the status is one of the cancellation variants.
func (s OrderStatus) Cancelled() bool {
	return s == StatusCancelled || s == StatusAPICancelled
}

// Active reports whether the order is working at the broker.
func (s OrderStatus) Active() bool {
	return s == StatusPreSubmitted || s == StatusSubmitted
}

// Trade is the broker's view of one submitted order plus its evolving fill
// statistics. Trades are created at submission and mutated only by the
// session's event dispatcher; everyone else reads copies.
type Trade struct {
	Contract     Contract    `json:"contract"`
	Order        Order       `json:"order"`
	Status       OrderStatus `json:"status"`
	Filled       int         `json:"filled"`
	Remaining    int         `json:"remaining"`
	AvgFillPrice float64     `json:"avg_fill_price"`
}

// Active reports whether the trade's order is working at the broker.
func (t Trade) Active() bool { return t.Status.Active() }

// Terminal reports whether the trade has reached a final status.
func (t Trade) Terminal() bool { return t.Status.Terminal() }

// Position is the currently held quantity and average cost for one
// contract. Quantity is signed: negative means short. AvgCost is the
// broker's per-contract cost, which includes the multiplier.
type Position struct {
	Contract Contract `json:"contract"`
	Quantity int      `json:"quantity"`
	AvgCost  float64  `json:"avg_cost"`
}

// Greeks is the model-derived risk block of a quote. A nil Greeks on a
// Quote means the market-data subscription has not produced them yet.
type Greeks struct {
	IV       float64 `json:"iv"`
	Delta    float64 `json:"delta"`
	Gamma    float64 `json:"gamma"`
	Vega     float64 `json:"vega"`
	Theta    float64 `json:"theta"`
	UndPrice float64 `json:"und_price"`
}

// Quote is one contract's market snapshot as delivered by the gateway.
type Quote struct {
	Contract     Contract `json:"contract"`
	Bid          float64  `json:"bid"`
	Ask          float64  `json:"ask"`
	BidSize      int      `json:"bid_size"`
	AskSize      int      `json:"ask_size"`
	Volume       int      `json:"volume"`
	OpenInterest int      `json:"open_interest"`
	Greeks       *Greeks  `json:"greeks,omitempty"`
}

// IDAllocator hands out locally-unique order identities. The session's
// allocator is monotonic for the life of the process.
type IDAllocator interface {
	NextOrderID() int64
}
