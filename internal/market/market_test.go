package market

import (
	"math/rand/v2"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dopamine/market-sim/internal/model"
	"github.com/dopamine/market-sim/internal/roster"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func testRoster() []roster.Entry {
	return []roster.Entry{
		{Symbol: "AAPL", Name: "Apple Inc.", Sector: "Technology", Anchor: d(189.50)},
		{Symbol: "XOM", Name: "Exxon Mobil", Sector: "Energy", Anchor: d(104.20)},
		{Symbol: "GME", Name: "GameStop", Sector: "Retail", Anchor: d(14.80)},
	}
}

func testOptions() Options {
	return Options{SeedBase: 1700000000000, Rand: rand.New(rand.NewPCG(7, 11))}
}

func TestInitialize_HistoryAndDerivedFields(t *testing.T) {
	insts := Initialize(testRoster(), testOptions())
	if len(insts) != 3 {
		t.Fatalf("expected 3 instruments, got %d", len(insts))
	}
	for _, inst := range insts {
		if len(inst.History) != model.HistoryCap {
			t.Fatalf("%s: expected %d history points, got %d", inst.Symbol, model.HistoryCap, len(inst.History))
		}
		n := len(inst.History)
		if !inst.CurrentPrice.Equal(inst.History[n-1]) {
			t.Errorf("%s: current %s != last history point %s", inst.Symbol, inst.CurrentPrice, inst.History[n-1])
		}
		if !inst.PreviousPrice.Equal(inst.History[n-2]) {
			t.Errorf("%s: previous %s != second-to-last point %s", inst.Symbol, inst.PreviousPrice, inst.History[n-2])
		}
		if !inst.Change.Equal(inst.CurrentPrice.Sub(inst.PreviousPrice)) {
			t.Errorf("%s: change %s inconsistent", inst.Symbol, inst.Change)
		}

		high, low := highLow(inst.History[n-highLowWindow:])
		if !inst.High24h.Equal(high) || !inst.Low24h.Equal(low) {
			t.Errorf("%s: high/low %s/%s, want %s/%s over trailing window", inst.Symbol, inst.High24h, inst.Low24h, high, low)
		}
		if inst.Volume < 1_000_000 || inst.Volume > 51_000_000 {
			t.Errorf("%s: volume %d out of range", inst.Symbol, inst.Volume)
		}
		if inst.MarketCap <= 0 {
			t.Errorf("%s: expected positive market cap, got %d", inst.Symbol, inst.MarketCap)
		}
	}
}

func TestInitialize_DeterministicPrices(t *testing.T) {
	a := Initialize(testRoster(), testOptions())
	b := Initialize(testRoster(), testOptions())
	for i := range a {
		for j := range a[i].History {
			if !a[i].History[j].Equal(b[i].History[j]) {
				t.Fatalf("%s point %d differs: %s vs %s", a[i].Symbol, j, a[i].History[j], b[i].History[j])
			}
		}
	}
}

func TestInitialize_DistinctSeedsPerInstrument(t *testing.T) {
	same := []roster.Entry{
		{Symbol: "A", Name: "A", Sector: "X", Anchor: d(100)},
		{Symbol: "B", Name: "B", Sector: "X", Anchor: d(100)},
	}
	insts := Initialize(same, testOptions())
	identical := true
	for i := range insts[0].History {
		if !insts[0].History[i].Equal(insts[1].History[i]) {
			identical = false
			break
		}
	}
	if identical {
		t.Error("instruments with the same anchor should get different histories")
	}
}

func TestInitialize_HistoryLengthClamped(t *testing.T) {
	opts := testOptions()
	opts.HistoryLength = 1
	if got := len(Initialize(testRoster(), opts)[0].History); got != 2 {
		t.Errorf("expected history raised to 2, got %d", got)
	}
	opts.HistoryLength = 500
	if got := len(Initialize(testRoster(), opts)[0].History); got != model.HistoryCap {
		t.Errorf("expected history capped at %d, got %d", model.HistoryCap, got)
	}
}

func TestTick_DoesNotMutateInput(t *testing.T) {
	before := Initialize(testRoster(), testOptions())
	price := before[0].CurrentPrice
	last := before[0].History[len(before[0].History)-1]
	histLen := len(before[0].History)

	after := Tick(before, rand.New(rand.NewPCG(3, 4)))

	if !before[0].CurrentPrice.Equal(price) {
		t.Errorf("input current price changed: %s -> %s", price, before[0].CurrentPrice)
	}
	if len(before[0].History) != histLen || !before[0].History[histLen-1].Equal(last) {
		t.Error("input history was modified")
	}
	if !after[0].PreviousPrice.Equal(price) {
		t.Errorf("expected previous %s, got %s", price, after[0].PreviousPrice)
	}
}

func TestTick_HistoryCapAndInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	insts := Initialize(testRoster(), testOptions())
	for step := 0; step < 500; step++ {
		prev := insts
		insts = Tick(insts, rng)
		for i, inst := range insts {
			if len(inst.History) != model.HistoryCap {
				t.Fatalf("step %d %s: history length %d", step, inst.Symbol, len(inst.History))
			}
			if !inst.History[len(inst.History)-1].Equal(inst.CurrentPrice) {
				t.Fatalf("step %d %s: last history point is not the current price", step, inst.Symbol)
			}
			floor := inst.AnchorPrice.Mul(d(0.1))
			ceiling := inst.AnchorPrice.Mul(d(8))
			if inst.CurrentPrice.LessThan(floor) || inst.CurrentPrice.GreaterThan(ceiling) {
				t.Fatalf("step %d %s: price %s outside [%s, %s]", step, inst.Symbol, inst.CurrentPrice, floor, ceiling)
			}
			if inst.Volume < prev[i].Volume {
				t.Fatalf("step %d %s: volume decreased", step, inst.Symbol)
			}
			if inst.High24h.LessThan(prev[i].High24h) || inst.Low24h.GreaterThan(prev[i].Low24h) {
				t.Fatalf("step %d %s: high/low range shrank", step, inst.Symbol)
			}
			if inst.CurrentPrice.GreaterThan(inst.High24h) || inst.CurrentPrice.LessThan(inst.Low24h) {
				t.Fatalf("step %d %s: price outside high/low", step, inst.Symbol)
			}
		}
	}
}

func TestTick_ChangePercent(t *testing.T) {
	insts := []model.Instrument{{
		Symbol:       "T",
		AnchorPrice:  d(100),
		CurrentPrice: d(100),
		High24h:      d(100),
		Low24h:       d(100),
		History:      []decimal.Decimal{d(100)},
	}}
	// mega spike at its minimum magnitude: +5%
	next := Tick(insts, &script{vals: []float64{0.99, 0, 0}})
	if !next[0].CurrentPrice.Equal(d(105)) {
		t.Fatalf("expected 105, got %s", next[0].CurrentPrice)
	}
	if !next[0].Change.Equal(d(5)) || !next[0].ChangePercent.Equal(d(5)) {
		t.Errorf("expected change 5 / 5%%, got %s / %s", next[0].Change, next[0].ChangePercent)
	}
	if !next[0].High24h.Equal(d(105)) || !next[0].Low24h.Equal(d(100)) {
		t.Errorf("unexpected high/low %s/%s", next[0].High24h, next[0].Low24h)
	}
	if len(next[0].History) != 2 {
		t.Errorf("expected 2 history points, got %d", len(next[0].History))
	}
}

func TestAppendCapped(t *testing.T) {
	h := []decimal.Decimal{d(1), d(2), d(3)}
	got := appendCapped(h, d(4), 3)
	want := []decimal.Decimal{d(2), d(3), d(4)}
	if len(got) != len(want) {
		t.Fatalf("expected %d points, got %d", len(want), len(got))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("point %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if !h[0].Equal(d(1)) {
		t.Error("input slice was modified")
	}
}

func TestPercentOf_ZeroBase(t *testing.T) {
	if got := percentOf(d(5), decimal.Zero); !got.IsZero() {
		t.Errorf("expected 0, got %s", got)
	}
}

// script replays a fixed sequence of samples.
type script struct {
	vals []float64
	i    int
}

func (s *script) Float64() float64 {
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}

func moved(symbol string, cp float64) model.Instrument {
	return model.Instrument{Symbol: symbol, ChangePercent: d(cp)}
}

func TestAlerts(t *testing.T) {
	tests := []struct {
		name  string
		insts []model.Instrument
		limit int
		want  []Alert
	}{
		{
			name:  "threshold itself does not alert",
			insts: []model.Instrument{moved("UP", 5), moved("DOWN", -5), moved("FLAT", 0)},
			limit: 3,
			want:  nil,
		},
		{
			name:  "just past threshold",
			insts: []model.Instrument{moved("UP", 5.01), moved("DOWN", -7), moved("FLAT", 4.99)},
			limit: 3,
			want: []Alert{
				{Symbol: "UP", ChangePercent: d(5.01), Kind: AlertSpike},
				{Symbol: "DOWN", ChangePercent: d(-7), Kind: AlertCrash},
			},
		},
		{
			name: "first three in roster order",
			insts: []model.Instrument{
				moved("A", 6), moved("B", 1), moved("C", -9), moved("D", 12), moved("E", -30),
			},
			limit: 3,
			want: []Alert{
				{Symbol: "A", ChangePercent: d(6), Kind: AlertSpike},
				{Symbol: "C", ChangePercent: d(-9), Kind: AlertCrash},
				{Symbol: "D", ChangePercent: d(12), Kind: AlertSpike},
			},
		},
		{
			name:  "zero limit is unlimited",
			insts: []model.Instrument{moved("A", 6), moved("B", -6), moved("C", 7), moved("D", -8)},
			limit: 0,
			want: []Alert{
				{Symbol: "A", ChangePercent: d(6), Kind: AlertSpike},
				{Symbol: "B", ChangePercent: d(-6), Kind: AlertCrash},
				{Symbol: "C", ChangePercent: d(7), Kind: AlertSpike},
				{Symbol: "D", ChangePercent: d(-8), Kind: AlertCrash},
			},
		},
		{
			name:  "negative limit is unlimited",
			insts: []model.Instrument{moved("A", 6), moved("B", -6), moved("C", 7), moved("D", -8)},
			limit: -1,
			want: []Alert{
				{Symbol: "A", ChangePercent: d(6), Kind: AlertSpike},
				{Symbol: "B", ChangePercent: d(-6), Kind: AlertCrash},
				{Symbol: "C", ChangePercent: d(7), Kind: AlertSpike},
				{Symbol: "D", ChangePercent: d(-8), Kind: AlertCrash},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Alerts(tt.insts, DefaultAlertThreshold, tt.limit)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d alerts, got %+v", len(tt.want), got)
			}
			for i, want := range tt.want {
				if got[i].Symbol != want.Symbol || got[i].Kind != want.Kind || !got[i].ChangePercent.Equal(want.ChangePercent) {
					t.Errorf("alert %d: expected %+v, got %+v", i, want, got[i])
				}
			}
		})
	}
}

func TestTopMovers(t *testing.T) {
	insts := []model.Instrument{
		moved("A", 1), moved("B", -8), moved("C", 3), moved("D", 8), moved("E", -0.5),
	}
	tests := []struct {
		name string
		n    int
		want []string
	}{
		{"largest absolute move first, ties keep roster order", 3, []string{"B", "D", "C"}},
		{"n beyond length returns all", 10, []string{"B", "D", "C", "A", "E"}},
		{"zero", 0, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TopMovers(insts, tt.n)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d movers, got %d", len(tt.want), len(got))
			}
			for i, sym := range tt.want {
				if got[i].Symbol != sym {
					t.Errorf("position %d: expected %s, got %s", i, sym, got[i].Symbol)
				}
			}
		})
	}
	if insts[0].Symbol != "A" || insts[1].Symbol != "B" {
		t.Error("TopMovers reordered its input")
	}
}
