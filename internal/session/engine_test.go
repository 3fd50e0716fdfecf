package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dopamine/market-sim/internal/accounts"
	"github.com/dopamine/market-sim/internal/kv"
	"github.com/dopamine/market-sim/internal/ledger"
	"github.com/dopamine/market-sim/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func testInstruments() []model.Instrument {
	mk := func(sym string, price float64) model.Instrument {
		p := d(price)
		return model.Instrument{
			Symbol: sym, Name: sym + " Inc.", Sector: "Technology",
			AnchorPrice: p, CurrentPrice: p, PreviousPrice: p,
			High24h: p, Low24h: p, Volume: 1_000_000, MarketCap: 1_000_000_000,
			History: []decimal.Decimal{p},
		}
	}
	return []model.Instrument{mk("SYM", 50), mk("BIG", 100)}
}

// startEngine runs an engine whose ticker effectively never fires; tests
// drive ticks with TickNow.
func startEngine(t *testing.T, kvs kv.Store) (*Engine, *accounts.Store) {
	t.Helper()
	store := accounts.NewStore(kvs, nil)
	e := New(testInstruments(), store, Config{
		TickInterval: time.Hour,
		Rand:         rand.New(rand.NewPCG(1, 2)),
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-errc; err != nil {
			t.Errorf("Run returned %v", err)
		}
	})
	return e, store
}

func TestEngine_SignupAndTrade(t *testing.T) {
	e, store := startEngine(t, kv.NewMemoryStore())
	ctx := context.Background()

	if _, err := e.Trade(ctx, "SYM", model.SideBuy, 1); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}

	if _, err := e.Signup(ctx, "getrich", "alice"); err != nil {
		t.Fatalf("Signup failed: %v", err)
	}

	res, err := e.Trade(ctx, "SYM", model.SideBuy, 10)
	if err != nil {
		t.Fatalf("Trade failed: %v", err)
	}
	if !res.Success || res.Message != "Bought 10 shares of SYM" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !res.User.Portfolio.Cash.Equal(d(99500)) || res.User.Portfolio.Holdings["SYM"] != 10 {
		t.Errorf("unexpected portfolio: %+v", res.User.Portfolio)
	}
	if res.Transaction == nil || !res.Transaction.Total.Equal(d(500)) {
		t.Errorf("unexpected transaction: %+v", res.Transaction)
	}

	persisted, ok, err := store.LoadActiveUser(ctx)
	if err != nil || !ok || persisted.Portfolio.Holdings["SYM"] != 10 {
		t.Errorf("trade not persisted: %+v ok=%v err=%v", persisted, ok, err)
	}
}

func TestEngine_RejectedTradeReturnsUnmodifiedUser(t *testing.T) {
	e, _ := startEngine(t, kv.NewMemoryStore())
	ctx := context.Background()
	e.Signup(ctx, "BULL", "bob")
	e.Trade(ctx, "SYM", model.SideBuy, 10)

	res, err := e.Trade(ctx, "SYM", model.SideSell, 11)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || res.Message != "Not enough shares" {
		t.Errorf("unexpected result: %+v", res)
	}
	if !errors.Is(res.Err, ledger.ErrInsufficientShares) {
		t.Errorf("expected ErrInsufficientShares, got %v", res.Err)
	}
	if res.User.Portfolio.Holdings["SYM"] != 10 || !res.User.Portfolio.Cash.Equal(d(99500)) {
		t.Errorf("expected unmodified user, got %+v", res.User.Portfolio)
	}

	res, _ = e.Trade(ctx, "BIG", model.SideBuy, 1_000_000)
	if res.Success || res.Message != "Insufficient funds" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestEngine_UnknownSymbol(t *testing.T) {
	e, _ := startEngine(t, kv.NewMemoryStore())
	ctx := context.Background()
	e.Signup(ctx, "BULL", "bob")
	if _, err := e.Trade(ctx, "NOPE", model.SideBuy, 1); !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("expected ErrUnknownSymbol, got %v", err)
	}
	if _, err := e.Instrument(ctx, "NOPE"); !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("expected ErrUnknownSymbol, got %v", err)
	}
	inst, err := e.Instrument(ctx, "BIG")
	if err != nil || inst.Symbol != "BIG" {
		t.Errorf("expected BIG, got %+v (%v)", inst, err)
	}
}

func TestEngine_SignupErrors(t *testing.T) {
	e, _ := startEngine(t, kv.NewMemoryStore())
	ctx := context.Background()
	if _, err := e.Signup(ctx, "wrong", "alice"); !errors.Is(err, accounts.ErrInvalidInviteCode) {
		t.Errorf("expected ErrInvalidInviteCode, got %v", err)
	}
	if _, err := e.Signup(ctx, "BULL", "a"); !errors.Is(err, accounts.ErrInvalidUsername) {
		t.Errorf("expected ErrInvalidUsername, got %v", err)
	}
	if _, ok, _ := e.ActiveUser(ctx); ok {
		t.Error("failed signup must not log anyone in")
	}
}

func TestEngine_TickProducesNewSnapshot(t *testing.T) {
	e, _ := startEngine(t, kv.NewMemoryStore())
	ctx := context.Background()

	before, err := e.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	beforePrice := before.Instruments[0].CurrentPrice

	var (
		mu  sync.Mutex
		got []uint64
	)
	e.Subscribe(func(s Snapshot) {
		mu.Lock()
		got = append(got, s.Seq)
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		if _, err := e.TickNow(ctx); err != nil {
			t.Fatalf("TickNow failed: %v", err)
		}
	}
	after, _ := e.Snapshot(ctx)
	if after.Seq != 5 {
		t.Errorf("expected seq 5, got %d", after.Seq)
	}
	if len(after.Instruments[0].History) != 6 {
		t.Errorf("expected 6 history points, got %d", len(after.Instruments[0].History))
	}
	if !before.Instruments[0].CurrentPrice.Equal(beforePrice) || len(before.Instruments[0].History) != 1 {
		t.Error("earlier snapshot was modified by later ticks")
	}
	if after.Alerts == nil {
		t.Error("alerts should be an empty slice, not nil")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 5 || got[4] != 5 {
		t.Errorf("expected subscriber to see seqs 1..5, got %v", got)
	}
}

func TestEngine_TradeUsesCurrentSnapshotPrice(t *testing.T) {
	e, _ := startEngine(t, kv.NewMemoryStore())
	ctx := context.Background()
	e.Signup(ctx, "BULL", "carol")

	snap, _ := e.TickNow(ctx)
	var price decimal.Decimal
	for _, inst := range snap.Instruments {
		if inst.Symbol == "SYM" {
			price = inst.CurrentPrice
		}
	}
	res, err := e.Trade(ctx, "SYM", model.SideBuy, 3)
	if err != nil || !res.Success {
		t.Fatalf("trade failed: %+v %v", res, err)
	}
	if !res.Transaction.Price.Equal(price) {
		t.Errorf("expected fill at %s, got %s", price, res.Transaction.Price)
	}
}

func TestEngine_PortfolioView(t *testing.T) {
	e, _ := startEngine(t, kv.NewMemoryStore())
	ctx := context.Background()

	if _, err := e.Portfolio(ctx); !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("expected ErrNotLoggedIn, got %v", err)
	}

	e.Signup(ctx, "BULL", "dave")
	e.Trade(ctx, "SYM", model.SideBuy, 10)
	view, err := e.Portfolio(ctx)
	if err != nil {
		t.Fatalf("Portfolio failed: %v", err)
	}
	if !view.Value.Equal(d(100000)) {
		t.Errorf("expected value 100000 at unchanged prices, got %s", view.Value)
	}
	if len(view.Transactions) != 1 || len(view.Summary.Positions) != 1 {
		t.Errorf("unexpected view: %+v", view)
	}
}

func TestEngine_LogoutAndRestore(t *testing.T) {
	mem := kv.NewMemoryStore()
	e, _ := startEngine(t, mem)
	ctx := context.Background()

	e.Signup(ctx, "BULL", "erin")
	e.Trade(ctx, "SYM", model.SideBuy, 2)

	// A second engine over the same store restores the active user.
	e2, _ := startEngine(t, mem)
	acct, ok, err := e2.ActiveUser(ctx)
	if err != nil || !ok || acct.Username != "erin" || acct.Portfolio.Holdings["SYM"] != 2 {
		t.Fatalf("expected erin restored, got %+v ok=%v err=%v", acct, ok, err)
	}

	if err := e.Logout(ctx); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, ok, _ := e.ActiveUser(ctx); ok {
		t.Error("expected no active user after logout")
	}
	users, err := e.ListUsers(ctx)
	if err != nil || len(users) != 1 {
		t.Errorf("expected registry to keep erin, got %v (%v)", users, err)
	}
}

func TestEngine_AdjustBalance(t *testing.T) {
	e, _ := startEngine(t, kv.NewMemoryStore())
	ctx := context.Background()
	e.Signup(ctx, "BULL", "alice")

	res, err := e.AdjustBalance(ctx, "alice", d(-99000))
	if err != nil {
		t.Fatalf("AdjustBalance failed: %v", err)
	}
	if !res.Success || !strings.Contains(res.Message, "Removed $99,000") {
		t.Errorf("unexpected result: %+v", res)
	}
	acct, _, _ := e.ActiveUser(ctx)
	if !acct.Portfolio.Cash.Equal(d(1000)) {
		t.Errorf("expected active cash 1000, got %s", acct.Portfolio.Cash)
	}

	res, err = e.AdjustBalance(ctx, "nobody", d(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || res.Message != `User "nobody" not found` {
		t.Errorf("unexpected result: %+v", res)
	}

	if _, err := e.AdjustBalance(ctx, "alice", decimal.Zero); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestEngine_StoppedAndCancelled(t *testing.T) {
	store := accounts.NewStore(kv.NewMemoryStore(), nil)
	e := New(testInstruments(), store, Config{TickInterval: time.Hour})

	// Not running: a cancelled context must not block.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Snapshot(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	runCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(runCtx)
		close(done)
	}()
	stop()
	<-done

	if _, err := e.Snapshot(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

func TestEngine_CancelledTradeIsNotApplied(t *testing.T) {
	e, _ := startEngine(t, kv.NewMemoryStore())
	if _, err := e.Signup(context.Background(), "getrich", "alice"); err != nil {
		t.Fatalf("Signup failed: %v", err)
	}

	// Hold the loop so the trade stays queued.
	release := make(chan struct{})
	busy := make(chan struct{})
	go e.do(context.Background(), func(context.Context) {
		close(busy)
		<-release
	})
	<-busy

	ctx, cancel := context.WithCancel(context.Background())
	tradeErr := make(chan error, 1)
	go func() {
		_, err := e.Trade(ctx, "SYM", model.SideBuy, 10)
		tradeErr <- err
	}()
	for len(e.cmds) == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-tradeErr; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	close(release)

	view, err := e.Portfolio(context.Background())
	if err != nil {
		t.Fatalf("Portfolio failed: %v", err)
	}
	if !view.User.Portfolio.Cash.Equal(model.StartingCash) || len(view.User.Portfolio.Holdings) != 0 {
		t.Errorf("cancelled trade was applied: %+v", view.User.Portfolio)
	}
}

func TestEngine_TickerFires(t *testing.T) {
	store := accounts.NewStore(kv.NewMemoryStore(), nil)
	e := New(testInstruments(), store, Config{TickInterval: 5 * time.Millisecond})

	ticked := make(chan uint64, 16)
	e.Subscribe(func(s Snapshot) {
		select {
		case ticked <- s.Seq:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	select {
	case seq := <-ticked:
		if seq != 1 {
			t.Errorf("expected first tick seq 1, got %d", seq)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ticker never fired")
	}
}
