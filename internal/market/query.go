package market

import (
	"cmp"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dopamine/market-sim/internal/model"
)

// AlertKind distinguishes upward and downward moves.
type AlertKind string

const (
	AlertSpike AlertKind = "spike"
	AlertCrash AlertKind = "crash"
)

// DefaultAlertThreshold is the tick move, in percent, that raises an alert.
var DefaultAlertThreshold = decimal.NewFromInt(5)

// Alert flags an instrument whose last tick moved more than the threshold.
type Alert struct {
	Symbol        string          `json:"symbol"`
	ChangePercent decimal.Decimal `json:"changePercent"`
	Kind          AlertKind       `json:"type"`
}

// Alerts returns up to limit spike/crash alerts in roster order.
// A limit <= 0 means no limit.
func Alerts(instruments []model.Instrument, threshold decimal.Decimal, limit int) []Alert {
	var alerts []Alert
	neg := threshold.Neg()
	for _, inst := range instruments {
		if limit > 0 && len(alerts) == limit {
			break
		}
		switch {
		case inst.ChangePercent.GreaterThan(threshold):
			alerts = append(alerts, Alert{Symbol: inst.Symbol, ChangePercent: inst.ChangePercent, Kind: AlertSpike})
		case inst.ChangePercent.LessThan(neg):
			alerts = append(alerts, Alert{Symbol: inst.Symbol, ChangePercent: inst.ChangePercent, Kind: AlertCrash})
		}
	}
	return alerts
}

// TopMovers returns the n instruments with the largest absolute percent
// change, biggest first.
func TopMovers(instruments []model.Instrument, n int) []model.Instrument {
	sorted := slices.Clone(instruments)
	slices.SortStableFunc(sorted, func(a, b model.Instrument) int {
		return b.ChangePercent.Abs().Cmp(a.ChangePercent.Abs())
	})
	if n >= 0 && n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

// SortKey selects the column Filter orders by.
type SortKey string

const (
	SortSymbol    SortKey = "symbol"
	SortPrice     SortKey = "price"
	SortChange    SortKey = "change"
	SortVolume    SortKey = "volume"
	SortMarketCap SortKey = "marketCap"
)

// AllSectors disables sector filtering.
const AllSectors = "All"

// Query describes a market table view.
type Query struct {
	Search    string  // case-insensitive substring of symbol or name
	Sector    string  // exact sector, "" or AllSectors for none
	Sort      SortKey // defaults to SortMarketCap
	Ascending bool
}

// Filter returns the instruments matching q in the requested order.
func Filter(instruments []model.Instrument, q Query) []model.Instrument {
	search := strings.ToLower(strings.TrimSpace(q.Search))

	out := make([]model.Instrument, 0, len(instruments))
	for _, inst := range instruments {
		if search != "" &&
			!strings.Contains(strings.ToLower(inst.Symbol), search) &&
			!strings.Contains(strings.ToLower(inst.Name), search) {
			continue
		}
		if q.Sector != "" && q.Sector != AllSectors && inst.Sector != q.Sector {
			continue
		}
		out = append(out, inst)
	}

	compare := compareBy(q.Sort)
	slices.SortStableFunc(out, func(a, b model.Instrument) int {
		if q.Ascending {
			return compare(a, b)
		}
		return compare(b, a)
	})
	return out
}

func compareBy(key SortKey) func(a, b model.Instrument) int {
	switch key {
	case SortSymbol:
		return func(a, b model.Instrument) int { return strings.Compare(a.Symbol, b.Symbol) }
	case SortPrice:
		return func(a, b model.Instrument) int { return a.CurrentPrice.Cmp(b.CurrentPrice) }
	case SortChange:
		return func(a, b model.Instrument) int { return a.ChangePercent.Cmp(b.ChangePercent) }
	case SortVolume:
		return func(a, b model.Instrument) int { return cmp.Compare(a.Volume, b.Volume) }
	default:
		return func(a, b model.Instrument) int { return cmp.Compare(a.MarketCap, b.MarketCap) }
	}
}

// ValidSortKey reports whether key names a sortable column.
func ValidSortKey(key SortKey) bool {
	switch key {
	case SortSymbol, SortPrice, SortChange, SortVolume, SortMarketCap:
		return true
	}
	return false
}

// Sectors returns the distinct sectors, sorted.
func Sectors(instruments []model.Instrument) []string {
	seen := make(map[string]bool)
	var sectors []string
	for _, inst := range instruments {
		if !seen[inst.Sector] {
			seen[inst.Sector] = true
			sectors = append(sectors, inst.Sector)
		}
	}
	slices.Sort(sectors)
	return sectors
}

// Index maps symbols to instruments for price lookups.
func Index(instruments []model.Instrument) map[string]model.Instrument {
	idx := make(map[string]model.Instrument, len(instruments))
	for _, inst := range instruments {
		idx[inst.Symbol] = inst
	}
	return idx
}

// Find returns the instrument with the given symbol.
func Find(instruments []model.Instrument, symbol string) (model.Instrument, bool) {
	for _, inst := range instruments {
		if inst.Symbol == symbol {
			return inst, true
		}
	}
	return model.Instrument{}, false
}
