// Package strategy implements the daily hedged short put: sell a put near
// a delta target at the configured DTE, buy a smaller put whose premium
// recycles part of the collected credit, and guard the short leg with a
// take-profit and stop-loss bracket.
package strategy

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tanlooting/theta-engine/internal/alert"
	"github.com/tanlooting/theta-engine/internal/broker"
	"github.com/tanlooting/theta-engine/internal/chain"
	"github.com/tanlooting/theta-engine/internal/orders"
	"github.com/tanlooting/theta-engine/internal/retry"
	"github.com/tanlooting/theta-engine/internal/storage"
)

const (
	// shortPutParent names the bracket parent in the trade reference map;
	// fills against it trigger child resynchronization.
	shortPutParent = "short_put_parent"
	longPutRef     = "long_put"

	waitActiveTimeout = 2 * time.Minute
	// resyncDelay gives the gateway time to push the position update that
	// trails a fill before children are resized against it.
	resyncDelay = 5 * time.Second
)

// Session is the broker surface the runner needs. *broker.Session
// satisfies it; tests substitute a scripted fake.
type Session interface {
	Qualify(ctx context.Context, contracts ...broker.Contract) ([]broker.Contract, error)
	Expirations(ctx context.Context, underlying broker.Contract) ([]string, error)
	OptionContracts(ctx context.Context, filter broker.Contract) ([]broker.Contract, error)
	ChainSnapshot(ctx context.Context, contracts []broker.Contract) ([]broker.Quote, error)
	IsTradingDay(ctx context.Context) (bool, error)
	PlaceOrder(ctx context.Context, contract broker.Contract, order broker.Order) (broker.Trade, error)
	CancelOrder(ctx context.Context, order broker.Order) error
	WaitActive(ctx context.Context, orderID int64) error
	OpenTrades() []broker.Trade
	PositionFor(localSymbol string) (broker.Position, bool)
	NextOrderID() int64
}

// Recorder persists flattened fills. *storage.Store satisfies it.
type Recorder interface {
	RecordFill(ctx context.Context, rec storage.TradeRecord)
}

// Params are the strategy knobs, already validated by config.
type Params struct {
	Name         string
	Symbol       string
	Exchange     string
	TradingClass string
	Multiplier   int

	DailyPremium float64
	HedgeRatio   float64

	ShortDeltaTarget     float64
	ShortDeltaTolerance  float64
	HedgeCreditTarget    float64
	HedgeCreditTolerance float64

	ShortDTE int
	HedgeDTE int

	StopLossPct   float64
	TakeProfitPct float64
	SlippageAdj   float64
	Tick          float64
}

// Runner executes one scheduled strategy pass and owns the fill/cancel
// hooks for the orders it placed.
type Runner struct {
	session Session
	alerts  *alert.Dispatcher
	store   Recorder
	logger  zerolog.Logger
	params  Params

	chainPolicy retry.Policy
	resyncAfter time.Duration

	mu    sync.Mutex
	runID string
	refs  map[string]int64 // trade name -> order id
}

// NewRunner builds a runner. Register HandleFill/HandleCancel as the
// session hooks before connecting.
func NewRunner(session Session, alerts *alert.Dispatcher, store Recorder, logger zerolog.Logger, params Params) *Runner {
	return &Runner{
		session:     session,
		alerts:      alerts,
		store:       store,
		logger:      logger.With().Str("component", "strategy").Logger(),
		params:      params,
		chainPolicy: retry.Policy{MaxAttempts: 3, Delay: 30 * time.Second},
		resyncAfter: resyncDelay,
		refs:        make(map[string]int64),
	}
}

// Run executes one full strategy pass. A selection miss is a clean
// no-trade outcome, not an error; errors mean the pass aborted on a
// broker or data failure.
func (r *Runner) Run(ctx context.Context) error {
	trading, err := r.session.IsTradingDay(ctx)
	if err != nil {
		return fmt.Errorf("trading-day check: %w", err)
	}
	if !trading {
		r.alerts.Info(fmt.Sprintf("%s: not a trading day, run skipped", r.params.Name))
		return nil
	}

	r.mu.Lock()
	r.runID = uuid.NewString()
	r.refs = make(map[string]int64)
	runID := r.runID
	r.mu.Unlock()
	r.logger.Info().Str("run_id", runID).Msg("strategy run starting")

	underlying := broker.Contract{
		SecType:  broker.SecStock,
		Symbol:   r.params.Symbol,
		Exchange: r.params.Exchange,
		Currency: "USD",
	}
	expiries, err := r.session.Expirations(ctx, underlying)
	if err != nil {
		return fmt.Errorf("listing expirations: %w", err)
	}
	shortExpiry, err := nearestExpiry(expiries, time.Now(), r.params.ShortDTE)
	if err != nil {
		return fmt.Errorf("short leg expiry: %w", err)
	}
	hedgeExpiry, err := nearestExpiry(expiries, time.Now(), r.params.HedgeDTE)
	if err != nil {
		return fmt.Errorf("hedge leg expiry: %w", err)
	}

	var shortChain, hedgeChain chain.Chain
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		shortChain, err = r.fetchChain(gctx, shortExpiry)
		return err
	})
	g.Go(func() error {
		var err error
		hedgeChain, err = r.fetchChain(gctx, hedgeExpiry)
		return err
	})
	if err := g.Wait(); err != nil {
		r.alerts.Warning(fmt.Sprintf("%s: option chain unavailable: %v", r.params.Name, err))
		return err
	}

	shortRow, ok, err := shortChain.SelectByDelta(r.params.ShortDeltaTarget, r.params.ShortDeltaTolerance)
	if err != nil {
		return fmt.Errorf("short leg selection: %w", err)
	}
	if !ok {
		r.alerts.Info(fmt.Sprintf("%s: no short contract within the targeted delta range, no order placed", r.params.Name))
		return nil
	}

	hedgeCreditTarget := shortRow.Bid * r.params.HedgeCreditTarget / r.params.HedgeRatio
	hedgeRow, ok, err := hedgeChain.SelectByCredit(hedgeCreditTarget, chain.SideAsk, r.params.HedgeCreditTolerance)
	if err != nil {
		return fmt.Errorf("hedge leg selection: %w", err)
	}
	if !ok {
		r.alerts.Info(fmt.Sprintf("%s: no long put within the targeted credit range, no order placed", r.params.Name))
		return nil
	}

	shortContract := broker.ParseLocalSymbol(shortRow.LocalSymbol)
	hedgeContract := broker.ParseLocalSymbol(hedgeRow.LocalSymbol)
	if shortContract == nil || hedgeContract == nil {
		return fmt.Errorf("selected rows carry malformed local symbols %q / %q",
			shortRow.LocalSymbol, hedgeRow.LocalSymbol)
	}
	qualified, err := r.session.Qualify(ctx, *shortContract, *hedgeContract)
	if err != nil {
		return fmt.Errorf("qualifying selected legs: %w", err)
	}
	// match by local symbol; the gateway does not promise to echo the
	// request order, and a swapped pair would sell the hedge strike
	var short, hedge broker.Contract
	for _, c := range qualified {
		switch c.LocalSymbol {
		case shortContract.LocalSymbol:
			short = c
		case hedgeContract.LocalSymbol:
			hedge = c
		}
	}
	if short.LocalSymbol == "" || hedge.LocalSymbol == "" {
		r.alerts.Info(fmt.Sprintf("%s: incomplete contracts found, no order placed", r.params.Name))
		return nil
	}
	r.alerts.Info(fmt.Sprintf("%s: short leg found %s @ %.2f", r.params.Name, short.LocalSymbol, shortRow.Bid))
	r.alerts.Info(fmt.Sprintf("%s: long leg found %s @ %.2f", r.params.Name, hedge.LocalSymbol, hedgeRow.Ask))

	shortQty := int(math.Floor(r.params.DailyPremium / (shortRow.Bid * float64(r.params.Multiplier))))
	if shortQty < 1 {
		shortQty = 1
	}
	hedgeQty := int(math.Round(float64(shortQty) * r.params.HedgeRatio))
	if hedgeQty < 1 {
		hedgeQty = 1
	}

	// The hedge goes in first so the short put is never naked, even
	// briefly.
	if err := r.placeHedge(ctx, hedge, hedgeQty); err != nil {
		return err
	}

	if pos, held := r.session.PositionFor(short.LocalSymbol); held && pos.Quantity != 0 {
		r.alerts.Info(fmt.Sprintf("%s: %s already held, extending position", r.params.Name, short.LocalSymbol))
		return r.extendShort(ctx, short, pos, shortQty, shortRow.Ask)
	}
	return r.openShort(ctx, short, shortQty, shortRow.Ask)
}

func (r *Runner) fetchChain(ctx context.Context, expiry string) (chain.Chain, error) {
	filter := broker.Contract{
		SecType:      broker.SecOption,
		Symbol:       r.params.Symbol,
		Expiry:       expiry,
		Right:        broker.RightPut,
		Exchange:     r.params.Exchange,
		TradingClass: r.params.TradingClass,
	}
	contracts, err := r.session.OptionContracts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("contract details for %s: %w", expiry, err)
	}
	contracts, err = r.session.Qualify(ctx, contracts...)
	if err != nil {
		return nil, fmt.Errorf("qualifying %s chain: %w", expiry, err)
	}

	return retry.DoValue(ctx, r.chainPolicy, r.logger, "option chain "+expiry,
		func(ctx context.Context) (chain.Chain, error) {
			quotes, err := r.session.ChainSnapshot(ctx, contracts)
			if err != nil {
				return nil, err
			}
			return chain.Build(quotes)
		})
}

func (r *Runner) placeHedge(ctx context.Context, contract broker.Contract, qty int) error {
	order := broker.Order{
		ID:       r.session.NextOrderID(),
		Action:   broker.Buy,
		Kind:     broker.Market,
		Quantity: qty,
		TIF:      "GTC",
		Transmit: true,
	}
	if _, err := r.session.PlaceOrder(ctx, contract, order); err != nil {
		return fmt.Errorf("placing hedge order: %w", err)
	}
	r.setRef(longPutRef, order.ID)
	r.alerts.Info(fmt.Sprintf("%s: order placed (long put): BUY %d of %s", r.params.Name, qty, contract.LocalSymbol))

	if err := r.waitActive(ctx, order.ID); err != nil {
		return fmt.Errorf("hedge order never became active: %w", err)
	}
	return nil
}

func (r *Runner) openShort(ctx context.Context, contract broker.Contract, qty int, ask float64) error {
	bracket, err := orders.Build(r.session, orders.BracketParams{
		Action:        broker.Sell,
		Quantity:      qty,
		Price:         ask,
		StopLossPct:   &r.params.StopLossPct,
		TakeProfitPct: &r.params.TakeProfitPct,
		SlippageAdj:   r.params.SlippageAdj,
		ParentKind:    broker.Limit,
		Tick:          r.params.Tick,
	})
	if err != nil {
		return fmt.Errorf("building short bracket: %w", err)
	}
	return r.submitBracket(ctx, contract, bracket)
}

func (r *Runner) extendShort(ctx context.Context, contract broker.Contract, pos broker.Position, addQty int, ask float64) error {
	bracket, stale, err := orders.Replace(r.session, pos, r.session.OpenTrades(), orders.ReplaceParams{
		AddQuantity:   addQty,
		Price:         ask,
		StopLossPct:   &r.params.StopLossPct,
		TakeProfitPct: &r.params.TakeProfitPct,
		SlippageAdj:   r.params.SlippageAdj,
		ParentKind:    broker.Market,
		Tick:          r.params.Tick,
	})
	if err != nil {
		return fmt.Errorf("rebuilding bracket for %s: %w", contract.LocalSymbol, err)
	}
	for _, o := range stale {
		if err := r.session.CancelOrder(ctx, o); err != nil {
			return fmt.Errorf("cancelling stale order %d: %w", o.ID, err)
		}
	}
	return r.submitBracket(ctx, contract, bracket)
}

func (r *Runner) submitBracket(ctx context.Context, contract broker.Contract, bracket broker.BracketOrder) error {
	for i, o := range bracket.Orders() {
		if _, err := r.session.PlaceOrder(ctx, contract, *o); err != nil {
			return fmt.Errorf("placing bracket leg %d: %w", o.ID, err)
		}
		if i == 0 {
			r.setRef(shortPutParent, o.ID)
			r.alerts.Info(fmt.Sprintf("%s: parent order placed (short put): %s %d of %s",
				r.params.Name, o.Action, o.Quantity, contract.LocalSymbol))
		} else {
			r.setRef(fmt.Sprintf("short_put_child_%d", i), o.ID)
			r.alerts.Info(fmt.Sprintf("%s: bracket order placed (short put): %s %d of %s",
				r.params.Name, o.Action, o.Quantity, contract.LocalSymbol))
		}
		if err := r.waitActive(ctx, o.ID); err != nil {
			return fmt.Errorf("bracket leg %d never became active: %w", o.ID, err)
		}
	}
	r.alerts.Info(fmt.Sprintf("%s: short put bracket order is now active", r.params.Name))
	r.alerts.Info(fmt.Sprintf("%s: run completed", r.params.Name))
	return nil
}

func (r *Runner) waitActive(ctx context.Context, orderID int64) error {
	wctx, cancel := context.WithTimeout(ctx, waitActiveTimeout)
	defer cancel()
	return r.session.WaitActive(wctx, orderID)
}

// HandleFill is the session fill hook. It alerts, persists the flattened
// trade, and on the bracket parent's fill schedules child resizing once
// the trailing position update has had time to arrive.
func (r *Runner) HandleFill(tr broker.Trade) {
	r.alerts.Info(fmt.Sprintf("*Fills*: %s %d unit filled at %v",
		tr.Contract.LocalSymbol, tr.Filled, tr.AvgFillPrice))

	r.mu.Lock()
	runID := r.runID
	parentID := r.refs[shortPutParent]
	r.mu.Unlock()

	go r.store.RecordFill(context.Background(), storage.FlattenTrade(runID, tr))

	if tr.Order.ID == parentID {
		time.AfterFunc(r.resyncAfter, func() {
			r.resyncChildren(tr.Contract.LocalSymbol)
		})
	}
}

// HandleCancel is the session cancel hook.
func (r *Runner) HandleCancel(tr broker.Trade) {
	r.alerts.Info(fmt.Sprintf("*Order cancelled*: %d %s %d of %s",
		tr.Order.ID, tr.Order.Action, tr.Order.Quantity, tr.Contract.LocalSymbol))
}

// resyncChildren resizes the surviving bracket children to the absolute
// held quantity. A partial parent fill leaves children bigger than the
// position they guard; children already matching are left untouched.
func (r *Runner) resyncChildren(localSymbol string) {
	pos, ok := r.session.PositionFor(localSymbol)
	if !ok {
		r.logger.Warn().Str("local_symbol", localSymbol).
			Msg("no position after parent fill, skipping child resync")
		return
	}
	target := pos.Quantity
	if target < 0 {
		target = -target
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitActiveTimeout)
	defer cancel()
	for _, tr := range r.session.OpenTrades() {
		if tr.Contract.LocalSymbol != localSymbol || tr.Order.Quantity == target {
			continue
		}
		r.alerts.Info(fmt.Sprintf("%s: %s update child order qty from %d to %d",
			r.params.Name, localSymbol, tr.Order.Quantity, target))
		order := tr.Order
		order.Quantity = target
		order.Transmit = true
		if _, err := r.session.PlaceOrder(ctx, tr.Contract, order); err != nil {
			r.logger.Error().Err(err).Int64("order_id", order.ID).
				Msg("failed to resize child order")
		}
	}
}

func (r *Runner) setRef(name string, orderID int64) {
	r.mu.Lock()
	r.refs[name] = orderID
	r.mu.Unlock()
}

// TradeRef returns the order id recorded under a trade name for the
// current run.
func (r *Runner) TradeRef(name string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.refs[name]
	return id, ok
}

// nearestExpiry picks the expiry (yyyymmdd) closest to now+dte days. Ties
// break on the earlier listed expiry.
func nearestExpiry(expiries []string, now time.Time, dte int) (string, error) {
	if len(expiries) == 0 {
		return "", fmt.Errorf("no expirations available")
	}
	target := now.AddDate(0, 0, dte)

	best := ""
	bestDist := math.Inf(1)
	for _, e := range expiries {
		d, err := time.Parse("20060102", e)
		if err != nil {
			return "", fmt.Errorf("malformed expiry %q: %w", e, err)
		}
		if dist := math.Abs(d.Sub(target).Hours()); dist < bestDist {
			best, bestDist = e, dist
		}
	}
	return best, nil
}
