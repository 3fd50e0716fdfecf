package ledger

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/dopamine/market-sim/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Position is one holding valued at live prices.
type Position struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	Shares        int64           `json:"shares"`
	Price         decimal.Decimal `json:"price"`
	Value         decimal.Decimal `json:"value"`
	AvgCost       decimal.Decimal `json:"avgCost"`
	Gain          decimal.Decimal `json:"gain"`
	GainPercent   decimal.Decimal `json:"gainPercent"`
	ChangePercent decimal.Decimal `json:"changePercent"`
}

// Summary is the portfolio panel: totals plus a line per holding.
type Summary struct {
	Cash             decimal.Decimal `json:"cash"`
	HoldingsValue    decimal.Decimal `json:"holdingsValue"`
	TotalValue       decimal.Decimal `json:"totalValue"`
	TotalGain        decimal.Decimal `json:"totalGain"` // against model.StartingCash
	TotalGainPercent decimal.Decimal `json:"totalGainPercent"`
	Positions        []Position      `json:"positions"`
}

// Summarize values every holding whose symbol is in prices. Average cost is
// taken from the buy transactions still in the log; when none remain the
// current price stands in, so the gain reads zero.
func Summarize(p model.Portfolio, prices map[string]model.Instrument) Summary {
	s := Summary{
		Cash:      p.Cash,
		Positions: []Position{},
	}

	holdingsValue := decimal.Zero
	for sym, shares := range p.Holdings {
		inst, ok := prices[sym]
		if !ok {
			continue
		}
		qty := decimal.NewFromInt(shares)
		value := inst.CurrentPrice.Mul(qty)
		avg := averageCost(p.Transactions, sym)
		if avg.IsZero() {
			avg = inst.CurrentPrice
		}

		pos := Position{
			Symbol:        sym,
			Name:          inst.Name,
			Shares:        shares,
			Price:         inst.CurrentPrice,
			Value:         value.Round(model.MoneyScale),
			AvgCost:       avg.Round(model.MoneyScale),
			Gain:          inst.CurrentPrice.Sub(avg).Mul(qty).Round(model.MoneyScale),
			ChangePercent: inst.ChangePercent,
		}
		if avg.IsPositive() {
			pos.GainPercent = inst.CurrentPrice.Sub(avg).Div(avg).Mul(hundred).Round(2)
		}
		s.Positions = append(s.Positions, pos)
		holdingsValue = holdingsValue.Add(value)
	}

	sort.Slice(s.Positions, func(i, j int) bool {
		return s.Positions[i].Symbol < s.Positions[j].Symbol
	})

	s.HoldingsValue = holdingsValue.Round(model.MoneyScale)
	s.TotalValue = p.Cash.Add(holdingsValue).Round(model.MoneyScale)
	s.TotalGain = s.TotalValue.Sub(model.StartingCash)
	s.TotalGainPercent = s.TotalGain.Div(model.StartingCash).Mul(hundred).Round(2)
	return s
}

func averageCost(txs []model.Transaction, symbol string) decimal.Decimal {
	cost := decimal.Zero
	var shares int64
	for _, tx := range txs {
		if tx.Symbol != symbol || tx.Type != model.SideBuy {
			continue
		}
		cost = cost.Add(tx.Total)
		shares += tx.Shares
	}
	if shares == 0 {
		return decimal.Zero
	}
	return cost.Div(decimal.NewFromInt(shares))
}

// RecentTransactions returns up to n entries from the head of the log.
func RecentTransactions(p model.Portfolio, n int) []model.Transaction {
	if n > len(p.Transactions) {
		n = len(p.Transactions)
	}
	if n < 0 {
		n = 0
	}
	out := make([]model.Transaction, n)
	copy(out, p.Transactions[:n])
	return out
}

// MaxBuyable is the largest whole number of shares cash can pay for.
func MaxBuyable(cash, price decimal.Decimal) int64 {
	if !price.IsPositive() || cash.IsNegative() {
		return 0
	}
	return cash.Div(price).Floor().IntPart()
}
