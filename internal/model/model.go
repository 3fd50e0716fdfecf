// Package model defines the core domain types shared across the simulator.
// All monetary values use shopspring/decimal rounded to cents, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side of a transaction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

const (
	// HistoryCap is the maximum number of points kept in an instrument's history.
	HistoryCap = 100

	// TransactionCap is the maximum number of transactions kept in a portfolio log.
	TransactionCap = 200

	// MoneyScale is the number of decimal places for cash and prices.
	MoneyScale int32 = 2
)

// StartingCash is the cash balance every new account receives.
var StartingCash = decimal.NewFromInt(100000)

// Instrument is one simulated tradable stock. Snapshots are treated as
// immutable: market functions return new values instead of editing these.
type Instrument struct {
	Symbol        string            `json:"symbol"`
	Name          string            `json:"name"`
	Sector        string            `json:"sector"`
	AnchorPrice   decimal.Decimal   `json:"basePrice"` // fixed at creation
	CurrentPrice  decimal.Decimal   `json:"currentPrice"`
	PreviousPrice decimal.Decimal   `json:"previousPrice"`
	Change        decimal.Decimal   `json:"change"`
	ChangePercent decimal.Decimal   `json:"changePercent"`
	High24h       decimal.Decimal   `json:"high24h"`
	Low24h        decimal.Decimal   `json:"low24h"`
	Volume        int64             `json:"volume"`
	MarketCap     int64             `json:"marketCap"` // computed once at initialization
	History       []decimal.Decimal `json:"history"`   // oldest first, at most HistoryCap
}

// Transaction is an immutable record of an executed trade.
type Transaction struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Type      Side            `json:"type"`
	Shares    int64           `json:"shares"`
	Price     decimal.Decimal `json:"price"`
	Total     decimal.Decimal `json:"total"`
	Timestamp time.Time       `json:"timestamp"`
}

// Portfolio is the cash, holdings and transaction log owned by one account.
// TotalValue is only set at account creation; current value is always
// recomputed from live prices.
type Portfolio struct {
	Cash         decimal.Decimal  `json:"cash"`
	Holdings     map[string]int64 `json:"holdings"`
	TotalValue   decimal.Decimal  `json:"totalValue"`
	Transactions []Transaction    `json:"transactions"` // newest first
}

// Clone returns a deep copy so the caller can derive a new snapshot
// without touching the receiver.
func (p Portfolio) Clone() Portfolio {
	holdings := make(map[string]int64, len(p.Holdings))
	for sym, n := range p.Holdings {
		holdings[sym] = n
	}
	txs := make([]Transaction, len(p.Transactions))
	copy(txs, p.Transactions)
	p.Holdings = holdings
	p.Transactions = txs
	return p
}

// UserAccount is a player and the portfolio they exclusively own.
type UserAccount struct {
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
	Portfolio Portfolio `json:"portfolio"`
}

// Clone returns a deep copy of the account.
func (u UserAccount) Clone() UserAccount {
	u.Portfolio = u.Portfolio.Clone()
	return u
}

// NewUserAccount creates an account holding only the starting cash.
func NewUserAccount(username string, now time.Time) UserAccount {
	return UserAccount{
		Username:  username,
		CreatedAt: now.UTC(),
		Portfolio: Portfolio{
			Cash:         StartingCash,
			Holdings:     map[string]int64{},
			TotalValue:   StartingCash,
			Transactions: []Transaction{},
		},
	}
}
