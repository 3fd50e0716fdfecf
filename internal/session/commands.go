package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/dopamine/market-sim/internal/accounts"
	"github.com/dopamine/market-sim/internal/ledger"
	"github.com/dopamine/market-sim/internal/metrics"
	"github.com/dopamine/market-sim/internal/model"
)

// RecentLimit is the number of transactions included in a PortfolioView.
const RecentLimit = 10

// Snapshot returns the current market snapshot.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	if err := e.do(ctx, func(context.Context) { snap = e.snap }); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Instrument returns one instrument from the current snapshot.
func (e *Engine) Instrument(ctx context.Context, symbol string) (model.Instrument, error) {
	var (
		inst model.Instrument
		ok   bool
	)
	if err := e.do(ctx, func(context.Context) { inst, ok = e.prices[symbol] }); err != nil {
		return model.Instrument{}, err
	}
	if !ok {
		return model.Instrument{}, ErrUnknownSymbol
	}
	return inst, nil
}

// TickNow applies one tick immediately, outside the ticker's schedule.
func (e *Engine) TickNow(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := e.do(ctx, func(context.Context) {
		e.tick()
		snap = e.snap
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// ActiveUser returns the logged-in account, if any.
func (e *Engine) ActiveUser(ctx context.Context) (model.UserAccount, bool, error) {
	var (
		acct model.UserAccount
		ok   bool
	)
	err := e.do(ctx, func(context.Context) {
		if e.active != nil {
			acct, ok = e.active.Clone(), true
		}
	})
	if err != nil {
		return model.UserAccount{}, false, err
	}
	return acct, ok, nil
}

// Signup checks the invite code and username, then logs the new (or
// returning) player in.
func (e *Engine) Signup(ctx context.Context, inviteCode, username string) (model.UserAccount, error) {
	var (
		acct   model.UserAccount
		cmdErr error
	)
	err := e.do(ctx, func(ctx context.Context) {
		acct, cmdErr = e.accounts.Signup(ctx, inviteCode, username)
		if cmdErr != nil {
			return
		}
		active := acct.Clone()
		e.active = &active
		metrics.Signups.Inc()
	})
	if err != nil {
		return model.UserAccount{}, err
	}
	if cmdErr != nil {
		return model.UserAccount{}, cmdErr
	}
	return acct, nil
}

// Logout clears the active slot; the account stays in the registry.
func (e *Engine) Logout(ctx context.Context) error {
	var cmdErr error
	err := e.do(ctx, func(ctx context.Context) {
		if cmdErr = e.accounts.Logout(ctx); cmdErr == nil {
			e.active = nil
		}
	})
	if err != nil {
		return err
	}
	return cmdErr
}

// Trade buys or sells shares of symbol for the active user at the current
// snapshot price. Ledger rejections come back as an unsuccessful
// TradeResult; the error return is reserved for missing session state,
// unknown symbols and persistence failures.
func (e *Engine) Trade(ctx context.Context, symbol string, side model.Side, shares int64) (TradeResult, error) {
	var (
		res    TradeResult
		cmdErr error
	)
	err := e.do(ctx, func(ctx context.Context) {
		res, cmdErr = e.trade(ctx, symbol, side, shares)
	})
	if err != nil {
		return TradeResult{}, err
	}
	if cmdErr != nil {
		return TradeResult{}, cmdErr
	}
	return res, nil
}

func (e *Engine) trade(ctx context.Context, symbol string, side model.Side, shares int64) (TradeResult, error) {
	if e.active == nil {
		return TradeResult{}, ErrNotLoggedIn
	}
	inst, ok := e.prices[symbol]
	if !ok {
		return TradeResult{}, ErrUnknownSymbol
	}

	user := e.active.Clone()
	fill, err := ledger.Execute(user.Portfolio, inst, side, shares, e.cfg.Now())
	if err != nil {
		metrics.TradeRejections.WithLabelValues(rejectionReason(err)).Inc()
		slog.Info("trade rejected",
			"username", user.Username,
			"symbol", symbol,
			"side", string(side),
			"shares", shares,
			"error", err,
		)
		return TradeResult{Success: false, Message: rejectionMessage(err), User: user, Err: err}, nil
	}

	next := user.Clone()
	next.Portfolio = fill.Portfolio
	if err := e.accounts.SaveActiveUser(ctx, next); err != nil {
		return TradeResult{}, err
	}
	e.active = &next

	metrics.TradesTotal.WithLabelValues(string(side)).Inc()
	slog.Info("trade executed",
		"trade_id", fill.Transaction.ID,
		"username", next.Username,
		"symbol", symbol,
		"side", string(side),
		"shares", shares,
		"price", fill.Transaction.Price.StringFixed(2),
		"total", fill.Transaction.Total.StringFixed(2),
		"cash", next.Portfolio.Cash.StringFixed(2),
	)

	tx := fill.Transaction
	return TradeResult{Success: true, Message: fill.Message, User: next.Clone(), Transaction: &tx}, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ledger.ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, ledger.ErrInvalidShareCount):
		return "invalid_share_count"
	default:
		return "other"
	}
}

func rejectionMessage(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "Insufficient funds"
	case errors.Is(err, ledger.ErrInsufficientShares):
		return "Not enough shares"
	case errors.Is(err, ledger.ErrInvalidShareCount):
		return "Share count must be a positive whole number"
	case errors.Is(err, ledger.ErrInvalidSide):
		return "Side must be buy or sell"
	default:
		return err.Error()
	}
}

// Portfolio values the active account at the current snapshot.
func (e *Engine) Portfolio(ctx context.Context) (PortfolioView, error) {
	var (
		view   PortfolioView
		cmdErr error
	)
	err := e.do(ctx, func(context.Context) {
		if e.active == nil {
			cmdErr = ErrNotLoggedIn
			return
		}
		p := e.active.Portfolio
		view = PortfolioView{
			User:         e.active.Clone(),
			Value:        ledger.Value(p, e.prices),
			Summary:      ledger.Summarize(p, e.prices),
			Transactions: ledger.RecentTransactions(p, RecentLimit),
		}
	})
	if err != nil {
		return PortfolioView{}, err
	}
	if cmdErr != nil {
		return PortfolioView{}, cmdErr
	}
	return view, nil
}

// ListUsers returns every registered account.
func (e *Engine) ListUsers(ctx context.Context) ([]model.UserAccount, error) {
	var (
		users  []model.UserAccount
		cmdErr error
	)
	err := e.do(ctx, func(ctx context.Context) {
		users, cmdErr = e.accounts.ListAllUsers(ctx)
	})
	if err != nil {
		return nil, err
	}
	return users, cmdErr
}

// AdjustBalance is the admin faucet. An unknown user yields an unsuccessful
// result, not an error; the error return is for persistence failures and
// invalid amounts.
func (e *Engine) AdjustBalance(ctx context.Context, username string, delta decimal.Decimal) (BalanceResult, error) {
	var (
		res    BalanceResult
		cmdErr error
	)
	err := e.do(ctx, func(ctx context.Context) {
		updated, msg, err := e.accounts.ModifyUserBalance(ctx, username, delta)
		if errors.Is(err, accounts.ErrUserNotFound) {
			res = BalanceResult{Success: false, Message: `User "` + username + `" not found`}
			return
		}
		if err != nil {
			cmdErr = err
			return
		}
		if e.active != nil && e.active.Username == username {
			e.active.Portfolio.Cash = updated.Portfolio.Cash
		}
		direction := "add"
		if delta.IsNegative() {
			direction = "remove"
		}
		metrics.BalanceChanges.WithLabelValues(direction).Inc()
		res = BalanceResult{Success: true, Message: msg}
	})
	if err != nil {
		return BalanceResult{}, err
	}
	if cmdErr != nil {
		return BalanceResult{}, cmdErr
	}
	return res, nil
}
