// Package session runs the game's single logical timeline: one goroutine owns
// the instrument snapshot and the active account, advances the market on a
// ticker, and executes every other request as a command between ticks.
//
// Nothing outside the loop touches that state. Callers submit commands and
// wait for the reply, so a trade always sees one consistent price snapshot
// and never interleaves with a tick.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dopamine/market-sim/internal/accounts"
	"github.com/dopamine/market-sim/internal/ledger"
	"github.com/dopamine/market-sim/internal/market"
	"github.com/dopamine/market-sim/internal/metrics"
	"github.com/dopamine/market-sim/internal/model"
	"github.com/dopamine/market-sim/internal/pricegen"
)

// DefaultTickInterval is the time between market ticks.
const DefaultTickInterval = 1500 * time.Millisecond

var (
	ErrNotLoggedIn   = errors.New("session: no active user")
	ErrUnknownSymbol = errors.New("session: unknown symbol")
	ErrStopped       = errors.New("session: engine stopped")
)

// Config tunes an Engine. The zero value is usable.
type Config struct {
	TickInterval   time.Duration
	AlertThreshold decimal.Decimal // percent; zero means market.DefaultAlertThreshold
	AlertLimit     int             // zero means 3
	QueueSize      int             // zero means 64
	Rand           pricegen.Rand
	Now            func() time.Time
}

// Snapshot is the market as of one tick. Its slices are never modified
// after they are handed out.
type Snapshot struct {
	Seq         uint64             `json:"seq"`
	At          time.Time          `json:"at"`
	Instruments []model.Instrument `json:"stocks"`
	Alerts      []market.Alert     `json:"alerts"`
}

// TradeResult is the outcome of a buy or sell. On failure User is the
// unmodified account and Err holds the ledger error.
type TradeResult struct {
	Success     bool               `json:"success"`
	Message     string             `json:"message"`
	User        model.UserAccount  `json:"user"`
	Transaction *model.Transaction `json:"transaction,omitempty"`
	Err         error              `json:"-"`
}

// BalanceResult is the outcome of an admin balance change.
type BalanceResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// PortfolioView is the active account valued at the current snapshot.
type PortfolioView struct {
	User         model.UserAccount   `json:"user"`
	Value        decimal.Decimal     `json:"value"`
	Summary      ledger.Summary      `json:"summary"`
	Transactions []model.Transaction `json:"recentTransactions"`
}

// Engine is the event loop. Create it with New and start it with Run.
type Engine struct {
	cfg      Config
	accounts *accounts.Store
	cmds     chan func(context.Context)
	done     chan struct{}

	// owned by the loop goroutine
	snap   Snapshot
	prices map[string]model.Instrument
	active *model.UserAccount

	subMu       sync.Mutex
	subscribers []func(Snapshot)
}

// New creates an engine over an initialized instrument snapshot.
func New(instruments []model.Instrument, store *accounts.Store, cfg Config) *Engine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.AlertThreshold.IsZero() {
		cfg.AlertThreshold = market.DefaultAlertThreshold
	}
	if cfg.AlertLimit == 0 {
		cfg.AlertLimit = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Rand == nil {
		cfg.Rand = pricegen.Global
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	e := &Engine{
		cfg:      cfg,
		accounts: store,
		cmds:     make(chan func(context.Context), cfg.QueueSize),
		done:     make(chan struct{}),
	}
	e.setSnapshot(Snapshot{
		At:          cfg.Now().UTC(),
		Instruments: instruments,
		Alerts:      []market.Alert{},
	})
	metrics.Instruments.Set(float64(len(instruments)))
	return e
}

// Subscribe registers fn to receive every new snapshot. fn runs on the loop
// goroutine and must not block or call back into the engine.
func (e *Engine) Subscribe(fn func(Snapshot)) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.subscribers = append(e.subscribers, fn)
}

// Run restores the active user and processes ticks and commands until ctx
// is done. It must be called exactly once.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)

	acct, ok, err := e.accounts.LoadActiveUser(ctx)
	if err != nil {
		return fmt.Errorf("restore active user: %w", err)
	}
	if ok {
		e.active = &acct
		slog.Info("restored active user", "username", acct.Username)
	}

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	slog.Info("session started",
		"instruments", len(e.snap.Instruments),
		"tick_interval", e.cfg.TickInterval.String(),
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("session stopping", "ticks", e.snap.Seq)
			return nil
		case <-ticker.C:
			e.tick()
		case cmd := <-e.cmds:
			cmd(ctx)
		}
	}
}

func (e *Engine) tick() {
	start := time.Now()
	next := market.Tick(e.snap.Instruments, e.cfg.Rand)
	alerts := market.Alerts(next, e.cfg.AlertThreshold, e.cfg.AlertLimit)
	if alerts == nil {
		alerts = []market.Alert{}
	}

	e.setSnapshot(Snapshot{
		Seq:         e.snap.Seq + 1,
		At:          e.cfg.Now().UTC(),
		Instruments: next,
		Alerts:      alerts,
	})

	metrics.TicksTotal.Inc()
	metrics.TickDuration.Observe(time.Since(start).Seconds())
	for _, a := range alerts {
		metrics.AlertsTotal.WithLabelValues(string(a.Kind)).Inc()
	}

	e.subMu.Lock()
	subs := e.subscribers
	e.subMu.Unlock()
	for _, fn := range subs {
		fn(e.snap)
	}
}

func (e *Engine) setSnapshot(s Snapshot) {
	e.snap = s
	e.prices = market.Index(s.Instruments)
}

// do runs fn on the loop and waits for it to finish. fn is skipped when
// ctx is done before the loop reaches it.
func (e *Engine) do(ctx context.Context, fn func(context.Context)) error {
	finished := make(chan struct{})
	var skipped error
	cmd := func(loopCtx context.Context) {
		defer close(finished)
		if err := ctx.Err(); err != nil {
			skipped = err
			return
		}
		fn(loopCtx)
	}

	select {
	case e.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}

	select {
	case <-finished:
		return skipped
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}
