package accounts

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MinUsernameLen = 2
	MaxUsernameLen = 16
)

// DefaultInviteCodes is the allow-list used when none is configured.
var DefaultInviteCodes = []string{"DOPAMINE2026", "GETRICH", "TOTHEMOON", "BULL", "DIAMOND"}

var (
	ErrInvalidInviteCode = errors.New("accounts: invalid invite code")
	ErrInvalidUsername   = errors.New("accounts: invalid username")
)

// Gate guards signup with an invite-code allow-list and username rules.
type Gate struct {
	codes map[string]bool
}

// NewGate builds a gate from codes; an empty list uses DefaultInviteCodes.
// Codes are compared trimmed and case-insensitively.
func NewGate(codes []string) *Gate {
	if len(codes) == 0 {
		codes = DefaultInviteCodes
	}
	g := &Gate{codes: make(map[string]bool, len(codes))}
	for _, c := range codes {
		g.codes[normalizeCode(c)] = true
	}
	return g
}

// CheckInviteCode returns ErrInvalidInviteCode unless code is on the allow-list.
func (g *Gate) CheckInviteCode(code string) error {
	if !g.codes[normalizeCode(code)] {
		return ErrInvalidInviteCode
	}
	return nil
}

// CheckUsername trims name and checks its length, returning the trimmed name.
func (g *Gate) CheckUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	switch {
	case n < MinUsernameLen:
		return "", fmt.Errorf("%w: must be at least %d characters", ErrInvalidUsername, MinUsernameLen)
	case n > MaxUsernameLen:
		return "", fmt.Errorf("%w: must be %d characters or less", ErrInvalidUsername, MaxUsernameLen)
	}
	return name, nil
}

func normalizeCode(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}
