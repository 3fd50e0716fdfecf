// Package market owns the instrument roster state and advances it one tick
// at a time.
//
// Snapshots are copy-on-write: Initialize and Tick always return fresh
// slices (including fresh history slices) and never modify their input, so
// a caller holding an older snapshot sees it unchanged.
package market

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dopamine/market-sim/internal/model"
	"github.com/dopamine/market-sim/internal/pricegen"
	"github.com/dopamine/market-sim/internal/roster"
)

// SeedStride separates the bootstrap seeds of consecutive roster entries so
// every instrument gets a distinct history even when they share a base seed.
const SeedStride = 7919

// highLowWindow is the number of trailing history points used for the
// initial high/low.
const highLowWindow = 50

var hundred = decimal.NewFromInt(100)

// Options tunes Initialize. The zero value is usable.
type Options struct {
	// SeedBase is the seed of the first instrument; defaults to the current
	// time in milliseconds.
	SeedBase int64

	// HistoryLength is the number of bootstrap points. Defaults to
	// pricegen.DefaultHistoryLength; values below 2 are raised to 2 because
	// the previous price is read from the second-to-last point.
	HistoryLength int

	// Rand drives the cosmetic volume and market-cap draws.
	Rand pricegen.Rand
}

// Initialize builds the first snapshot of the roster.
func Initialize(entries []roster.Entry, opts Options) []model.Instrument {
	if opts.SeedBase == 0 {
		opts.SeedBase = time.Now().UnixMilli()
	}
	if opts.HistoryLength == 0 {
		opts.HistoryLength = pricegen.DefaultHistoryLength
	}
	if opts.HistoryLength < 2 {
		opts.HistoryLength = 2
	}
	if opts.HistoryLength > model.HistoryCap {
		opts.HistoryLength = model.HistoryCap
	}
	if opts.Rand == nil {
		opts.Rand = pricegen.Global
	}

	instruments := make([]model.Instrument, len(entries))
	for i, e := range entries {
		seed := opts.SeedBase + int64(i)*SeedStride
		history := toDecimals(pricegen.BootstrapHistory(e.Anchor.InexactFloat64(), seed, opts.HistoryLength))

		n := len(history)
		current, previous := history[n-1], history[n-2]
		change := current.Sub(previous)

		windowStart := 0
		if n > highLowWindow {
			windowStart = n - highLowWindow
		}
		high, low := highLow(history[windowStart:])

		volume := int64(math.Floor(opts.Rand.Float64()*50_000_000 + 1_000_000))
		capShares := decimal.NewFromFloat(opts.Rand.Float64()*5_000_000_000 + 500_000_000)

		instruments[i] = model.Instrument{
			Symbol:        e.Symbol,
			Name:          e.Name,
			Sector:        e.Sector,
			AnchorPrice:   e.Anchor,
			CurrentPrice:  current,
			PreviousPrice: previous,
			Change:        change.Round(model.MoneyScale),
			ChangePercent: percentOf(change, previous),
			High24h:       high,
			Low24h:        low,
			Volume:        volume,
			MarketCap:     current.Mul(capShares).Floor().IntPart(),
			History:       history,
		}
	}
	return instruments
}

// Tick advances every instrument by one price step and returns the new
// snapshot. High/low become the running max/min of the tracked value and
// the new price; they are not re-windowed.
func Tick(instruments []model.Instrument, rng pricegen.Rand) []model.Instrument {
	if rng == nil {
		rng = pricegen.Global
	}

	next := make([]model.Instrument, len(instruments))
	for i, inst := range instruments {
		price := decimal.NewFromFloat(pricegen.NextTick(
			inst.CurrentPrice.InexactFloat64(),
			inst.AnchorPrice.InexactFloat64(),
			rng,
		)).Round(model.MoneyScale)
		change := price.Sub(inst.CurrentPrice)

		inst.PreviousPrice = inst.CurrentPrice
		inst.CurrentPrice = price
		inst.Change = change.Round(model.MoneyScale)
		inst.ChangePercent = percentOf(change, inst.PreviousPrice)
		inst.High24h = decimal.Max(inst.High24h, price)
		inst.Low24h = decimal.Min(inst.Low24h, price)
		inst.Volume += int64(math.Floor(rng.Float64() * 100_000))
		inst.History = appendCapped(inst.History, price, model.HistoryCap)

		next[i] = inst
	}
	return next
}

// appendCapped returns a new slice holding the tail of h plus v, at most
// limit long. h itself is left untouched.
func appendCapped(h []decimal.Decimal, v decimal.Decimal, limit int) []decimal.Decimal {
	start := 0
	if len(h) >= limit {
		start = len(h) - limit + 1
	}
	out := make([]decimal.Decimal, 0, len(h)-start+1)
	out = append(out, h[start:]...)
	return append(out, v)
}

func toDecimals(prices []float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(prices))
	for i, p := range prices {
		out[i] = decimal.NewFromFloat(p).Round(model.MoneyScale)
	}
	return out
}

func highLow(points []decimal.Decimal) (high, low decimal.Decimal) {
	high, low = points[0], points[0]
	for _, p := range points[1:] {
		high = decimal.Max(high, p)
		low = decimal.Min(low, p)
	}
	return high, low
}

// percentOf returns change/base in percent, rounded to 2 places.
func percentOf(change, base decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return change.Div(base).Mul(hundred).Round(2)
}
