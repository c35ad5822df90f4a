package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tanlooting/theta-engine/internal/retry"
)

// State is the connection state of a session.
type State int32

const (
	// Disconnected means no live gateway connection.
	Disconnected State = iota
	// Connecting means a connect cycle is in flight.
	Connecting
	// Connected means the session handshake succeeded.
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ErrWaitTimeout is returned by WaitActive when the order did not become
// active before the context deadline.
var ErrWaitTimeout = errors.New("broker: timed out waiting for order to become active")

// SessionConfig tunes the session's connection behavior.
type SessionConfig struct {
	// ConnectPolicy bounds the initial connect. Exhausting it is fatal:
	// a brokerage session that needs a supervised trading day should not
	// loop forever unattended.
	ConnectPolicy retry.Policy
	// RedialDelay is the fixed delay between reconnect attempts after a
	// mid-session drop. Drops are assumed transient, so redialing is
	// unbounded, asymmetric from the initial-connect ceiling.
	RedialDelay time.Duration
}

// DefaultSessionConfig mirrors the gateway operators' guidance: ten
// initial attempts thirty seconds apart, and thirty-second redials.
var DefaultSessionConfig = SessionConfig{
	ConnectPolicy: retry.Policy{MaxAttempts: 10, Delay: 30 * time.Second},
	RedialDelay:   30 * time.Second,
}

// Session owns the connection lifecycle to the brokerage gateway, the
// monotonic order-id allocator, the canonical trade registry and the
// position cache. The registry and cache are written by PlaceOrder (trade
// creation at submission) and by the single dispatcher goroutine (all
// subsequent mutation); everything else reads copies.
type Session struct {
	transport Transport
	logger    zerolog.Logger
	cfg       SessionConfig

	state   atomic.Int32
	orderID atomic.Int64

	mu        sync.RWMutex
	trades    map[int64]*Trade
	positions map[string]Position
	waiters   map[int64][]chan error

	onFill   func(Trade)
	onCancel func(Trade)

	dispatchOnce sync.Once
	closeOnce    sync.Once
	done         chan struct{}
}

// NewSession creates a session over the given transport.
func NewSession(transport Transport, logger zerolog.Logger, cfg SessionConfig) *Session {
	if cfg.ConnectPolicy.MaxAttempts <= 0 {
		cfg.ConnectPolicy = DefaultSessionConfig.ConnectPolicy
	}
	if cfg.RedialDelay <= 0 {
		cfg.RedialDelay = DefaultSessionConfig.RedialDelay
	}
	return &Session{
		transport: transport,
		logger:    logger.With().Str("component", "session").Logger(),
		cfg:       cfg,
		trades:    make(map[int64]*Trade),
		positions: make(map[string]Position),
		waiters:   make(map[int64][]chan error),
		done:      make(chan struct{}),
	}
}

// SetHooks registers fill/cancel callbacks. Hooks run off the dispatcher
// after the registry update is committed and receive a copy of the trade;
// they must not mutate session state. Call before Connect.
func (s *Session) SetHooks(onFill, onCancel func(Trade)) {
	s.onFill = onFill
	s.onCancel = onCancel
}

// State returns the current connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// NextOrderID allocates one locally-unique order identity.
func (s *Session) NextOrderID() int64 {
	return s.orderID.Add(1)
}

// Connect establishes the gateway session, retrying per the configured
// connect policy. Exhausting the policy returns an error wrapping
// retry.ErrExhausted; the caller is expected to treat that as fatal.
func (s *Session) Connect(ctx context.Context) error {
	s.state.Store(int32(Connecting))
	err := s.cfg.ConnectPolicy.Do(ctx, s.logger, "gateway connect", func(ctx context.Context) error {
		return s.transport.Dial(ctx)
	})
	if err != nil {
		s.state.Store(int32(Disconnected))
		return err
	}
	if err := s.syncOpenTrades(ctx); err != nil {
		s.state.Store(int32(Disconnected))
		return fmt.Errorf("syncing open trades: %w", err)
	}
	s.state.Store(int32(Connected))
	s.dispatchOnce.Do(func() { go s.dispatch() })
	return nil
}

// syncOpenTrades seeds the trade registry with the orders already working
// at the gateway. The process restarts daily while GTC brackets stay live,
// so without this the registry would never see yesterday's children and
// reconciliation could not find the orders it must cancel. Locally-known
// entries win; the allocator is advanced past every seeded id so new
// orders cannot collide with a previous session's.
func (s *Session) syncOpenTrades(ctx context.Context) error {
	var open []Trade
	if err := s.transport.Request(ctx, "open_trades", nil, &open); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tr := range open {
		tr := tr
		if _, known := s.trades[tr.Order.ID]; !known {
			s.trades[tr.Order.ID] = &tr
		}
		for {
			cur := s.orderID.Load()
			if tr.Order.ID <= cur || s.orderID.CompareAndSwap(cur, tr.Order.ID) {
				break
			}
		}
	}
	if len(open) > 0 {
		s.logger.Info().Int("count", len(open)).Msg("seeded open trades from gateway")
	}
	return nil
}

// Close shuts the session down. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.transport.Close()
		s.state.Store(int32(Disconnected))
	})
	return err
}

// dispatch is the single consumer of the gateway's push stream. All trade
// registry and position cache mutation after submission happens here, which
// is what lets readers get away with lock-and-copy.
func (s *Session) dispatch() {
	events := s.transport.Events()
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev := ev.(type) {
			case OrderStatusEvent:
				s.applyOrderStatus(ev)
			case PositionEvent:
				s.applyPosition(ev)
			case DisconnectEvent:
				s.state.Store(int32(Disconnected))
				s.logger.Warn().Msg("session dropped, scheduling reconnect")
				go s.redial()
			}
		}
	}
}

func (s *Session) applyOrderStatus(ev OrderStatusEvent) {
	s.mu.Lock()
	tr, ok := s.trades[ev.OrderID]
	if !ok {
		s.mu.Unlock()
		s.logger.Debug().Int64("order_id", ev.OrderID).Msg("status event for unknown order")
		return
	}
	// A duplicate terminal event must not re-trigger persistence or
	// resynchronization side effects.
	if tr.Terminal() && ev.Status.Terminal() {
		s.mu.Unlock()
		s.logger.Debug().Int64("order_id", ev.OrderID).Str("status", string(ev.Status)).
			Msg("dropping duplicate terminal status")
		return
	}
	tr.Status = ev.Status
	tr.Filled = ev.Filled
	tr.Remaining = ev.Remaining
	tr.AvgFillPrice = ev.AvgFillPrice
	snapshot := *tr
	s.resolveWaitersLocked(ev.OrderID, snapshot)
	s.mu.Unlock()

	s.logger.Info().Int64("order_id", ev.OrderID).Str("status", string(ev.Status)).
		Int("filled", ev.Filled).Int("remaining", ev.Remaining).Msg("order status")

	switch {
	case snapshot.Status == StatusFilled:
		if s.onFill != nil {
			s.onFill(snapshot)
		}
	case snapshot.Status.Cancelled():
		if s.onCancel != nil {
			s.onCancel(snapshot)
		}
	}
}

func (s *Session) applyPosition(ev PositionEvent) {
	s.mu.Lock()
	s.positions[ev.Position.Contract.LocalSymbol] = ev.Position
	s.mu.Unlock()
	s.logger.Info().Str("local_symbol", ev.Position.Contract.LocalSymbol).
		Int("quantity", ev.Position.Quantity).Float64("avg_cost", ev.Position.AvgCost).
		Msg("position update")
}

// redial reconnects after a mid-session drop: unbounded attempts at a
// fixed delay.
func (s *Session) redial() {
	s.state.Store(int32(Connecting))
	for attempt := 1; ; attempt++ {
		select {
		case <-s.done:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := s.transport.Dial(ctx)
		if err == nil {
			// a drop may have eaten status events; re-seed anything the
			// gateway still has working that we don't know about
			if syncErr := s.syncOpenTrades(ctx); syncErr != nil {
				s.logger.Warn().Err(syncErr).Msg("open-trade resync after reconnect failed")
			}
			cancel()
			s.state.Store(int32(Connected))
			s.logger.Info().Int("attempt", attempt).Msg("session reconnected")
			return
		}
		cancel()
		s.logger.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")

		select {
		case <-s.done:
			return
		case <-time.After(s.cfg.RedialDelay):
		}
	}
}

// resolveWaitersLocked wakes WaitActive callers for orderID. Called with
// s.mu held.
func (s *Session) resolveWaitersLocked(orderID int64, tr Trade) {
	ws := s.waiters[orderID]
	if len(ws) == 0 {
		return
	}
	var outcome error
	switch {
	case tr.Active(), tr.Status == StatusFilled:
		outcome = nil
	case tr.Terminal():
		outcome = fmt.Errorf("order %d reached %s before becoming active", orderID, tr.Status)
	default:
		return // still pending, keep waiting
	}
	for _, ch := range ws {
		ch <- outcome
	}
	delete(s.waiters, orderID)
}

// WaitActive blocks until the order is working at the broker (or filled
// outright). A context deadline produces ErrWaitTimeout, distinct from a
// broker rejection.
func (s *Session) WaitActive(ctx context.Context, orderID int64) error {
	s.mu.Lock()
	if tr, ok := s.trades[orderID]; ok {
		switch {
		case tr.Active(), tr.Status == StatusFilled:
			s.mu.Unlock()
			return nil
		case tr.Terminal():
			status := tr.Status
			s.mu.Unlock()
			return fmt.Errorf("order %d reached %s before becoming active", orderID, status)
		}
	}
	ch := make(chan error, 1)
	s.waiters[orderID] = append(s.waiters[orderID], ch)
	s.mu.Unlock()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		s.removeWaiter(orderID, ch)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrWaitTimeout
		}
		return ctx.Err()
	}
}

func (s *Session) removeWaiter(orderID int64, ch chan error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws := s.waiters[orderID]
	for i, w := range ws {
		if w == ch {
			s.waiters[orderID] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(s.waiters[orderID]) == 0 {
		delete(s.waiters, orderID)
	}
}

// Qualify resolves contracts to canonical identities. The returned slice
// holds only the contracts the gateway recognized.
func (s *Session) Qualify(ctx context.Context, contracts ...Contract) ([]Contract, error) {
	var qualified []Contract
	params := struct {
		Contracts []Contract `json:"contracts"`
	}{Contracts: contracts}
	if err := s.transport.Request(ctx, "qualify", params, &qualified); err != nil {
		return nil, err
	}
	return qualified, nil
}

// Expirations lists the option expiries available for an underlying.
func (s *Session) Expirations(ctx context.Context, underlying Contract) ([]string, error) {
	var expirations []string
	params := struct {
		Contract Contract `json:"contract"`
	}{Contract: underlying}
	if err := s.transport.Request(ctx, "expirations", params, &expirations); err != nil {
		return nil, err
	}
	return expirations, nil
}

// OptionContracts resolves an option filter (symbol, expiry, right,
// trading class) to the concrete contracts trading under it.
func (s *Session) OptionContracts(ctx context.Context, filter Contract) ([]Contract, error) {
	var contracts []Contract
	params := struct {
		Contract Contract `json:"contract"`
	}{Contract: filter}
	if err := s.transport.Request(ctx, "contract_details", params, &contracts); err != nil {
		return nil, err
	}
	return contracts, nil
}

// ChainSnapshot fetches one quote-plus-greeks snapshot per contract.
func (s *Session) ChainSnapshot(ctx context.Context, contracts []Contract) ([]Quote, error) {
	var quotes []Quote
	params := struct {
		Contracts []Contract `json:"contracts"`
	}{Contracts: contracts}
	if err := s.transport.Request(ctx, "snapshot", params, &quotes); err != nil {
		return nil, err
	}
	return quotes, nil
}

// IsTradingDay asks the gateway's calendar whether the market trades today.
func (s *Session) IsTradingDay(ctx context.Context) (bool, error) {
	var clock struct {
		TradingDay bool `json:"trading_day"`
	}
	if err := s.transport.Request(ctx, "clock", nil, &clock); err != nil {
		return false, err
	}
	return clock.TradingDay, nil
}

// PlaceOrder submits an order (or modifies the working order with the same
// id) and registers it in the trade registry. The returned trade is a
// snapshot; subsequent status lives in the registry.
func (s *Session) PlaceOrder(ctx context.Context, contract Contract, order Order) (Trade, error) {
	s.mu.Lock()
	existing, modify := s.trades[order.ID]
	if modify {
		existing.Order = order
	} else {
		s.trades[order.ID] = &Trade{
			Contract: contract,
			Order:    order,
			Status:   StatusPendingSubmit,
		}
	}
	snapshot := *s.trades[order.ID]
	s.mu.Unlock()

	params := struct {
		Contract Contract `json:"contract"`
		Order    Order    `json:"order"`
	}{Contract: contract, Order: order}
	if err := s.transport.Request(ctx, "place_order", params, nil); err != nil {
		if !modify {
			s.mu.Lock()
			delete(s.trades, order.ID)
			s.mu.Unlock()
		}
		return Trade{}, err
	}
	return snapshot, nil
}

// CancelOrder asks the gateway to cancel a working order. The resulting
// Cancelled status arrives through the event stream like any other.
func (s *Session) CancelOrder(ctx context.Context, order Order) error {
	params := struct {
		OrderID int64 `json:"order_id"`
	}{OrderID: order.ID}
	return s.transport.Request(ctx, "cancel_order", params, nil)
}

// TradeFor returns a snapshot of the registry entry for an order id.
func (s *Session) TradeFor(orderID int64) (Trade, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tr, ok := s.trades[orderID]
	if !ok {
		return Trade{}, false
	}
	return *tr, true
}

// OpenTrades returns snapshots of every non-terminal trade in the registry.
func (s *Session) OpenTrades() []Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Trade, 0, len(s.trades))
	for _, tr := range s.trades {
		if !tr.Terminal() {
			out = append(out, *tr)
		}
	}
	return out
}

// PositionFor returns the cached position for a local symbol.
func (s *Session) PositionFor(localSymbol string) (Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[localSymbol]
	return pos, ok
}

// Positions returns a snapshot of the position cache.
func (s *Session) Positions() []Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Position, 0, len(s.positions))
	for _, pos := range s.positions {
		out = append(out, pos)
	}
	return out
}
