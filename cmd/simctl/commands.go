package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/dopamine/market-sim/internal/accounts"
	"github.com/dopamine/market-sim/internal/config"
	"github.com/dopamine/market-sim/internal/kv"
	"github.com/dopamine/market-sim/internal/ledger"
	"github.com/dopamine/market-sim/internal/logging"
	"github.com/dopamine/market-sim/internal/market"
	"github.com/dopamine/market-sim/internal/model"
	"github.com/dopamine/market-sim/internal/pricegen"
	"github.com/dopamine/market-sim/internal/report"
	"github.com/dopamine/market-sim/internal/roster"
	"github.com/dopamine/market-sim/internal/session"
)

// env is what every command needs: settings and an open account store.
type env struct {
	cfg      *config.Config
	accounts *accounts.Store
	close    func()
}

func openEnv(ctx context.Context, configPath string) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	// Operator output goes to stdout; keep logs on stderr and quiet.
	logger, _ := logging.New(logging.Options{Level: "warn", Output: os.Stderr})
	slog.SetDefault(logger)

	store, closeStore, err := kv.Open(ctx, cfg.KVOptions())
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Backend, err)
	}
	gate := accounts.NewGate(cfg.Accounts.InviteCodes)
	return &env{cfg: cfg, accounts: accounts.NewStore(store, gate), close: closeStore}, nil
}

// instruments builds a fresh market snapshot from the configured roster.
func (e *env) instruments() ([]model.Instrument, error) {
	entries := roster.Default()
	if e.cfg.Market.RosterPath != "" {
		var err error
		if entries, err = roster.Load(e.cfg.Market.RosterPath); err != nil {
			return nil, err
		}
	}
	return market.Initialize(entries, market.Options{SeedBase: e.cfg.Market.Seed, Rand: e.rand()}), nil
}

// rand is seeded from market.seed when set, so previews are reproducible.
func (e *env) rand() pricegen.Rand {
	if e.cfg.Market.Seed != 0 {
		return pricegen.NewLCG(e.cfg.Market.Seed)
	}
	return pricegen.Global
}

func printMarkdown(w io.Writer, md string, raw bool) subcommands.ExitStatus {
	if raw {
		fmt.Fprint(w, md)
		return subcommands.ExitSuccess
	}
	out, err := report.Render(md, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error rendering output: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Fprint(w, out)
	return subcommands.ExitSuccess
}

// --- usersCmd ---

type usersCmd struct {
	config *string
	raw    bool
}

func (*usersCmd) Name() string     { return "users" }
func (*usersCmd) Synopsis() string { return "lists every registered account" }
func (*usersCmd) Usage() string {
	return `simctl users [-raw]

Prints the account registry with each user's cash, holding count and trade count.
`
}
func (c *usersCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.raw, "raw", false, "print Markdown instead of rendering it")
}

func (c *usersCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, err := openEnv(ctx, *c.config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer e.close()

	users, err := e.accounts.ListAllUsers(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing users: %v\n", err)
		return subcommands.ExitFailure
	}
	return printMarkdown(os.Stdout, report.Users(users), c.raw)
}

// --- balanceCmd ---

type balanceCmd struct {
	config *string
	user   string
	delta  string
}

func (*balanceCmd) Name() string     { return "balance" }
func (*balanceCmd) Synopsis() string { return "adds or removes cash from an account" }
func (*balanceCmd) Usage() string {
	return `simctl balance -user <username> -delta <amount>

Adjusts a registered user's cash. A negative delta removes cash and may leave the balance below zero.
`
}
func (c *balanceCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "The username to adjust.")
	f.StringVar(&c.delta, "delta", "", "The amount to add, e.g. 2500 or -100.50.")
}

func (c *balanceCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user == "" || c.delta == "" {
		fmt.Fprintln(os.Stderr, "Error: -user and -delta flags are required.")
		return subcommands.ExitUsageError
	}
	delta, err := decimal.NewFromString(c.delta)
	if err != nil || delta.IsZero() {
		fmt.Fprintf(os.Stderr, "Error: -delta must be a non-zero amount, got %q\n", c.delta)
		return subcommands.ExitUsageError
	}

	e, err := openEnv(ctx, *c.config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer e.close()

	updated, msg, err := e.accounts.ModifyUserBalance(ctx, c.user, delta)
	if errors.Is(err, accounts.ErrUserNotFound) {
		fmt.Fprintf(os.Stderr, "User %q not found\n", c.user)
		return subcommands.ExitFailure
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error adjusting balance: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Println(msg)
	fmt.Printf("New balance: %s\n", ledger.FormatUSD(updated.Portfolio.Cash))
	return subcommands.ExitSuccess
}

// --- reportCmd ---

type reportCmd struct {
	config *string
	user   string
	raw    bool
}

func (*reportCmd) Name() string     { return "report" }
func (*reportCmd) Synopsis() string { return "prints a portfolio report" }
func (*reportCmd) Usage() string {
	return `simctl report [-user <username>] [-raw]

Prints the portfolio of the given user, or of the logged-in user when -user is omitted.
Holdings are valued against a freshly initialized market, not the running server's prices.
`
}
func (c *reportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "The username to report on; defaults to the active user.")
	f.BoolVar(&c.raw, "raw", false, "print Markdown instead of rendering it")
}

func (c *reportCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, err := openEnv(ctx, *c.config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer e.close()

	var acct model.UserAccount
	if c.user == "" {
		var ok bool
		acct, ok, err = e.accounts.LoadActiveUser(ctx)
		if err == nil && !ok {
			fmt.Fprintln(os.Stderr, "No user is logged in; pass -user.")
			return subcommands.ExitFailure
		}
	} else {
		acct, err = e.accounts.FindUser(ctx, c.user)
	}
	if errors.Is(err, accounts.ErrUserNotFound) {
		fmt.Fprintf(os.Stderr, "User %q not found\n", c.user)
		return subcommands.ExitFailure
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading account: %v\n", err)
		return subcommands.ExitFailure
	}

	insts, err := e.instruments()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading roster: %v\n", err)
		return subcommands.ExitFailure
	}
	prices := market.Index(insts)
	md := report.Portfolio(acct, ledger.Summarize(acct.Portfolio, prices),
		ledger.RecentTransactions(acct.Portfolio, session.RecentLimit), time.Now())
	return printMarkdown(os.Stdout, md, c.raw)
}

// --- previewCmd ---

type previewCmd struct {
	config *string
	ticks  int
	top    int
	raw    bool
}

func (*previewCmd) Name() string     { return "preview" }
func (*previewCmd) Synopsis() string { return "simulates ticks offline and prints the top movers" }
func (*previewCmd) Usage() string {
	return `simctl preview [-ticks <n>] [-top <n>] [-raw]

Initializes the configured roster, applies n ticks and prints the biggest movers and alerts.
Set market.seed in the config to make the run reproducible.
`
}
func (c *previewCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.ticks, "ticks", 20, "number of ticks to simulate")
	f.IntVar(&c.top, "top", 15, "number of movers to print")
	f.BoolVar(&c.raw, "raw", false, "print Markdown instead of rendering it")
}

func (c *previewCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.ticks < 0 || c.top <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -ticks must be >= 0 and -top must be positive.")
		return subcommands.ExitUsageError
	}
	cfg, err := config.Load(*c.config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	e := &env{cfg: cfg}
	insts, err := e.instruments()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading roster: %v\n", err)
		return subcommands.ExitFailure
	}

	rng := e.rand()
	for i := 0; i < c.ticks; i++ {
		insts = market.Tick(insts, rng)
	}
	alerts := market.Alerts(insts, cfg.Market.AlertThreshold, cfg.Market.AlertLimit)

	md := report.Movers(insts, alerts, c.top)
	md += fmt.Sprintf("\n_%d instruments after %d ticks. Sectors: %s._\n",
		len(insts), c.ticks, strings.Join(market.Sectors(insts), ", "))
	return printMarkdown(os.Stdout, md, c.raw)
}
