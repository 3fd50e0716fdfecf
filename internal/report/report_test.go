package report

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dopamine/market-sim/internal/ledger"
	"github.com/dopamine/market-sim/internal/market"
	"github.com/dopamine/market-sim/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func instrument(sym string, price, changePct float64) model.Instrument {
	p := d(price)
	return model.Instrument{
		Symbol: sym, Name: sym + " Corp", Sector: "Technology",
		AnchorPrice: p, CurrentPrice: p, PreviousPrice: p,
		ChangePercent: d(changePct), History: []decimal.Decimal{p},
	}
}

func TestPortfolio(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	user := model.NewUserAccount("alice", now)
	aapl := instrument("AAPL", 150, 1.5)

	fill, err := ledger.Buy(user.Portfolio, aapl, 10, now)
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	user.Portfolio = fill.Portfolio

	aapl.CurrentPrice = d(160)
	prices := map[string]model.Instrument{"AAPL": aapl}
	md := Portfolio(user, ledger.Summarize(user.Portfolio, prices), ledger.RecentTransactions(user.Portfolio, 10), now)

	for _, want := range []string{
		"# Portfolio: alice",
		"| Cash | $98,500.00 |",
		"| Total value | $100,100.00 |",
		"| Total gain | +$100.00 (+0.10%) |",
		"| AAPL | 10 | $160.00 | $1,600.00 | $150.00 | +$100.00 (+6.67%) |",
		"| 2026-03-01 12:00:00 | BUY | AAPL | 10 | $150.00 | $1,500.00 |",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("missing %q in:\n%s", want, md)
		}
	}
}

func TestPortfolio_Empty(t *testing.T) {
	now := time.Now()
	user := model.NewUserAccount("bob", now)
	md := Portfolio(user, ledger.Summarize(user.Portfolio, nil), nil, now)
	if !strings.Contains(md, "No positions.") || !strings.Contains(md, "No transactions.") {
		t.Errorf("expected empty sections, got:\n%s", md)
	}
}

func TestUsers(t *testing.T) {
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	md := Users([]model.UserAccount{model.NewUserAccount("alice", now)})
	if !strings.Contains(md, "| alice | $100,000.00 | 0 | 0 | 2026-01-02 |") {
		t.Errorf("unexpected users table:\n%s", md)
	}
	if !strings.Contains(Users(nil), "No users.") {
		t.Error("expected empty registry message")
	}
}

func TestMovers(t *testing.T) {
	insts := []model.Instrument{
		instrument("AAA", 10, 0.5),
		instrument("BBB", 20, -7),
		instrument("CCC", 30, 3),
	}
	alerts := []market.Alert{{Symbol: "BBB", ChangePercent: d(-7), Kind: market.AlertCrash}}
	md := Movers(insts, alerts, 2)

	if strings.Contains(md, "| AAA |") {
		t.Error("expected only the top 2 movers")
	}
	bbb, ccc := strings.Index(md, "| BBB |"), strings.Index(md, "| CCC |")
	if bbb < 0 || ccc < 0 || bbb > ccc {
		t.Errorf("expected BBB before CCC:\n%s", md)
	}
	if !strings.Contains(md, "- **CRASH** BBB -7.00%") {
		t.Errorf("missing alert line:\n%s", md)
	}
}

func TestRender(t *testing.T) {
	out, err := Render("# Portfolio: alice\n\nCash on hand.\n", 0)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, "Portfolio: alice") || !strings.Contains(out, "Cash on hand.") {
		t.Errorf("unexpected render output: %q", out)
	}
}
