// Package ledger applies trades and balance adjustments to portfolios.
//
// Every function is copy-on-write: the input portfolio or account is never
// modified, and a failed operation returns the zero value plus an error so
// the caller keeps its original state. All monetary values use
// shopspring/decimal rounded to cents.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dopamine/market-sim/internal/model"
)

var (
	ErrInsufficientFunds  = errors.New("ledger: insufficient funds")
	ErrInsufficientShares = errors.New("ledger: not enough shares")
	ErrInvalidShareCount  = errors.New("ledger: share count must be a positive whole number")
	ErrInvalidSide        = errors.New("ledger: side must be buy or sell")
	ErrInvalidAmount      = errors.New("ledger: amount must be non-zero")
)

// Fill is the outcome of a successful trade.
type Fill struct {
	Portfolio   model.Portfolio
	Transaction model.Transaction
	Message     string
}

// Execute dispatches to Buy or Sell.
func Execute(p model.Portfolio, inst model.Instrument, side model.Side, shares int64, now time.Time) (Fill, error) {
	switch side {
	case model.SideBuy:
		return Buy(p, inst, shares, now)
	case model.SideSell:
		return Sell(p, inst, shares, now)
	default:
		return Fill{}, fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
}

// Buy purchases shares at the instrument's current price. Spending the
// entire cash balance is allowed.
func Buy(p model.Portfolio, inst model.Instrument, shares int64, now time.Time) (Fill, error) {
	if shares <= 0 {
		return Fill{}, ErrInvalidShareCount
	}

	total := inst.CurrentPrice.Mul(decimal.NewFromInt(shares))
	if total.GreaterThan(p.Cash) {
		return Fill{}, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, total.StringFixed(2), p.Cash.StringFixed(2))
	}

	tx := newTransaction(inst, model.SideBuy, shares, total, now)

	next := p.Clone()
	next.Cash = p.Cash.Sub(total).Round(model.MoneyScale)
	next.Holdings[inst.Symbol] += shares
	next.Transactions = prepend(p.Transactions, tx)

	return Fill{
		Portfolio:   next,
		Transaction: tx,
		Message:     fmt.Sprintf("Bought %d shares of %s", shares, inst.Symbol),
	}, nil
}

// Sell disposes of shares at the instrument's current price. A holding that
// reaches zero is removed.
func Sell(p model.Portfolio, inst model.Instrument, shares int64, now time.Time) (Fill, error) {
	if shares <= 0 {
		return Fill{}, ErrInvalidShareCount
	}

	held := p.Holdings[inst.Symbol]
	if shares > held {
		return Fill{}, fmt.Errorf("%w: have %d %s, want %d", ErrInsufficientShares, held, inst.Symbol, shares)
	}

	total := inst.CurrentPrice.Mul(decimal.NewFromInt(shares))
	tx := newTransaction(inst, model.SideSell, shares, total, now)

	next := p.Clone()
	next.Cash = p.Cash.Add(total).Round(model.MoneyScale)
	if remaining := held - shares; remaining > 0 {
		next.Holdings[inst.Symbol] = remaining
	} else {
		delete(next.Holdings, inst.Symbol)
	}
	next.Transactions = prepend(p.Transactions, tx)

	return Fill{
		Portfolio:   next,
		Transaction: tx,
		Message:     fmt.Sprintf("Sold %d shares of %s", shares, inst.Symbol),
	}, nil
}

// Value recomputes the portfolio's worth from live prices: cash plus every
// holding at its current price. Holdings whose symbol is not in prices are
// skipped.
func Value(p model.Portfolio, prices map[string]model.Instrument) decimal.Decimal {
	total := p.Cash
	for sym, shares := range p.Holdings {
		inst, ok := prices[sym]
		if !ok {
			continue
		}
		total = total.Add(inst.CurrentPrice.Mul(decimal.NewFromInt(shares)))
	}
	return total.Round(model.MoneyScale)
}

// AdjustCash adds delta (negative to remove) to the account's cash. It is
// the admin faucet and skips trade validation, so a large removal can leave
// the balance negative.
func AdjustCash(acct model.UserAccount, delta decimal.Decimal) (model.UserAccount, string, error) {
	delta = delta.Round(model.MoneyScale)
	if delta.IsZero() {
		return model.UserAccount{}, "", ErrInvalidAmount
	}

	next := acct.Clone()
	next.Portfolio.Cash = acct.Portfolio.Cash.Add(delta).Round(model.MoneyScale)
	return next, AdjustMessage(acct.Username, delta), nil
}

// AdjustMessage describes a balance change the way the admin panel shows it.
func AdjustMessage(username string, delta decimal.Decimal) string {
	if delta.IsNegative() {
		return fmt.Sprintf("Removed %s from %s's account", FormatUSD(delta.Abs()), username)
	}
	return fmt.Sprintf("Added %s to %s's account", FormatUSD(delta), username)
}

// FormatUSD renders an amount as dollars, e.g. $1,250.00.
func FormatUSD(amount decimal.Decimal) string {
	cents := amount.Round(model.MoneyScale).Shift(model.MoneyScale).IntPart()
	return money.New(cents, money.USD).Display()
}

func newTransaction(inst model.Instrument, side model.Side, shares int64, total decimal.Decimal, now time.Time) model.Transaction {
	return model.Transaction{
		ID:        uuid.New().String(),
		Symbol:    inst.Symbol,
		Type:      side,
		Shares:    shares,
		Price:     inst.CurrentPrice,
		Total:     total.Round(model.MoneyScale),
		Timestamp: now.UTC(),
	}
}

// prepend returns a new log with tx first, truncated to model.TransactionCap.
func prepend(log []model.Transaction, tx model.Transaction) []model.Transaction {
	n := len(log) + 1
	if n > model.TransactionCap {
		n = model.TransactionCap
	}
	out := make([]model.Transaction, 0, n)
	out = append(out, tx)
	return append(out, log[:n-1]...)
}
