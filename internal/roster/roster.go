// Package roster loads the static list of simulated instruments.
// The default roster is embedded from instruments.yaml.
package roster

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed instruments.yaml
var defaultYAML []byte

// symbolRegex matches exchange-style tickers such as AAPL, BRK.B or 7203.T.
var symbolRegex = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,9}$`)

var (
	ErrInvalidSymbol   = errors.New("roster: invalid symbol")
	ErrDuplicateSymbol = errors.New("roster: duplicate symbol")
	ErrInvalidAnchor   = errors.New("roster: anchor price must be positive")
	ErrEmpty           = errors.New("roster: no instruments")
)

// Entry is one roster line: the fixed attributes of an instrument.
type Entry struct {
	Symbol string
	Name   string
	Sector string
	Anchor decimal.Decimal
}

type file struct {
	Instruments []struct {
		Symbol string  `yaml:"symbol"`
		Name   string  `yaml:"name"`
		Sector string  `yaml:"sector"`
		Anchor float64 `yaml:"anchor"`
	} `yaml:"instruments"`
}

// Default returns the embedded roster.
func Default() []Entry {
	entries, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded roster is invalid: %v", err))
	}
	return entries
}

// Load reads a roster from a YAML file. An empty path returns the default roster.
func Load(path string) ([]Entry, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates roster YAML. Order is preserved; it determines
// each instrument's seed offset.
func Parse(data []byte) ([]Entry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("roster: decode: %w", err)
	}
	if len(f.Instruments) == 0 {
		return nil, ErrEmpty
	}

	seen := make(map[string]bool, len(f.Instruments))
	entries := make([]Entry, 0, len(f.Instruments))
	for _, in := range f.Instruments {
		if !symbolRegex.MatchString(in.Symbol) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSymbol, in.Symbol)
		}
		if seen[in.Symbol] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSymbol, in.Symbol)
		}
		anchor := decimal.NewFromFloat(in.Anchor).Round(2)
		if !anchor.IsPositive() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidAnchor, in.Symbol)
		}
		seen[in.Symbol] = true
		entries = append(entries, Entry{
			Symbol: in.Symbol,
			Name:   in.Name,
			Sector: in.Sector,
			Anchor: anchor,
		})
	}
	return entries, nil
}
