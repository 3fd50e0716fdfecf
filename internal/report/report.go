// Package report renders portfolios and market snapshots as Markdown for
// terminals.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/shopspring/decimal"

	"github.com/dopamine/market-sim/internal/ledger"
	"github.com/dopamine/market-sim/internal/market"
	"github.com/dopamine/market-sim/internal/model"
)

// DefaultWidth is the word-wrap column for Render.
const DefaultWidth = 100

// Portfolio writes the account summary, positions and recent trades.
func Portfolio(user model.UserAccount, s ledger.Summary, recent []model.Transaction, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Portfolio: %s\n\n", user.Username)
	fmt.Fprintf(&b, "_As of %s. Member since %s._\n\n", at.UTC().Format(time.RFC1123), user.CreatedAt.UTC().Format("2006-01-02"))

	b.WriteString("| | |\n|---|---:|\n")
	fmt.Fprintf(&b, "| Cash | %s |\n", ledger.FormatUSD(s.Cash))
	fmt.Fprintf(&b, "| Holdings | %s |\n", ledger.FormatUSD(s.HoldingsValue))
	fmt.Fprintf(&b, "| Total value | %s |\n", ledger.FormatUSD(s.TotalValue))
	fmt.Fprintf(&b, "| Total gain | %s (%s) |\n\n", signedUSD(s.TotalGain), signedPercent(s.TotalGainPercent))

	b.WriteString("## Positions\n\n")
	if len(s.Positions) == 0 {
		b.WriteString("No positions.\n\n")
	} else {
		b.WriteString("| Symbol | Shares | Price | Value | Avg cost | Gain |\n")
		b.WriteString("|---|---:|---:|---:|---:|---:|\n")
		for _, p := range s.Positions {
			fmt.Fprintf(&b, "| %s | %d | %s | %s | %s | %s (%s) |\n",
				p.Symbol, p.Shares,
				ledger.FormatUSD(p.Price), ledger.FormatUSD(p.Value), ledger.FormatUSD(p.AvgCost),
				signedUSD(p.Gain), signedPercent(p.GainPercent))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Recent transactions\n\n")
	if len(recent) == 0 {
		b.WriteString("No transactions.\n")
		return b.String()
	}
	b.WriteString("| Time | Side | Symbol | Shares | Price | Total |\n")
	b.WriteString("|---|---|---|---:|---:|---:|\n")
	for _, tx := range recent {
		fmt.Fprintf(&b, "| %s | %s | %s | %d | %s | %s |\n",
			tx.Timestamp.UTC().Format("2006-01-02 15:04:05"), strings.ToUpper(string(tx.Type)),
			tx.Symbol, tx.Shares, ledger.FormatUSD(tx.Price), ledger.FormatUSD(tx.Total))
	}
	return b.String()
}

// Users writes the admin registry table.
func Users(users []model.UserAccount) string {
	var b strings.Builder
	b.WriteString("# Registered users\n\n")
	if len(users) == 0 {
		b.WriteString("No users.\n")
		return b.String()
	}
	b.WriteString("| Username | Cash | Holdings | Trades | Created |\n")
	b.WriteString("|---|---:|---:|---:|---|\n")
	for _, u := range users {
		fmt.Fprintf(&b, "| %s | %s | %d | %d | %s |\n",
			u.Username, ledger.FormatUSD(u.Portfolio.Cash), len(u.Portfolio.Holdings),
			len(u.Portfolio.Transactions), u.CreatedAt.UTC().Format("2006-01-02"))
	}
	return b.String()
}

// Movers writes the biggest movers of a snapshot and its alerts.
func Movers(instruments []model.Instrument, alerts []market.Alert, n int) string {
	var b strings.Builder
	b.WriteString("# Top movers\n\n")
	b.WriteString("| Symbol | Name | Sector | Price | Change |\n")
	b.WriteString("|---|---|---|---:|---:|\n")
	for _, inst := range market.TopMovers(instruments, n) {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			inst.Symbol, inst.Name, inst.Sector, ledger.FormatUSD(inst.CurrentPrice), signedPercent(inst.ChangePercent))
	}

	if len(alerts) > 0 {
		b.WriteString("\n## Alerts\n\n")
		for _, a := range alerts {
			fmt.Fprintf(&b, "- **%s** %s %s\n", strings.ToUpper(string(a.Kind)), a.Symbol, signedPercent(a.ChangePercent))
		}
	}
	return b.String()
}

// Render formats Markdown for a terminal without color escapes. width <= 0
// uses DefaultWidth.
func Render(md string, width int) (string, error) {
	if width <= 0 {
		width = DefaultWidth
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("notty"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("create renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return out, nil
}

func signedUSD(v decimal.Decimal) string {
	if v.IsNegative() {
		return "-" + ledger.FormatUSD(v.Abs())
	}
	return "+" + ledger.FormatUSD(v)
}

func signedPercent(v decimal.Decimal) string {
	if v.IsNegative() {
		return v.StringFixed(2) + "%"
	}
	return "+" + v.StringFixed(2) + "%"
}
