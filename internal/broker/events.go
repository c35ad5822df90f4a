package broker

// Event is a push message from the gateway. The concrete variants below are
// the only implementations; they all arrive on one inbound channel and are
// consumed by the session's single dispatcher goroutine, which is the only
// writer of the trade registry and position cache.
type Event interface {
	event()
}

// OrderStatusEvent reports a status change for one order. Events for a
// given order id arrive in the order the broker emitted them; no ordering
// is guaranteed across different orders.
type OrderStatusEvent struct {
	OrderID      int64       `json:"order_id"`
	Status       OrderStatus `json:"status"`
	Filled       int         `json:"filled"`
	Remaining    int         `json:"remaining"`
	AvgFillPrice float64     `json:"avg_fill_price"`
}

func (OrderStatusEvent) event() {}

// PositionEvent reports the new state of one account position.
type PositionEvent struct {
	Position Position `json:"position"`
}

func (PositionEvent) event() {}

// DisconnectEvent reports that the transport lost its connection. The
// session reacts by scheduling a fresh connect cycle.
type DisconnectEvent struct{}

func (DisconnectEvent) event() {}
