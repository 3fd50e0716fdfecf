// Package accounts persists the active player and the registry of every
// player who has signed up, on top of a string key-value store.
//
// Stored JSON that fails to decode is treated as absent: it is logged and
// never returned as an error. Backend I/O failures are returned.
package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dopamine/market-sim/internal/kv"
	"github.com/dopamine/market-sim/internal/ledger"
	"github.com/dopamine/market-sim/internal/model"
)

// Storage keys.
const (
	ActiveUserKey = "active-user"
	RegistryKey   = "user-registry"
)

var (
	ErrUserNotFound   = errors.New("accounts: user not found")
	ErrMalformedState = errors.New("accounts: malformed stored state")
)

// Store is the account persistence facade.
type Store struct {
	kv   kv.Store
	gate *Gate
	now  func() time.Time

	// mu serializes registry read-modify-write cycles within this process.
	mu sync.Mutex
}

// NewStore creates an account store over kvs. A nil gate uses the default
// invite codes.
func NewStore(kvs kv.Store, gate *Gate) *Store {
	if gate == nil {
		gate = NewGate(nil)
	}
	return &Store{kv: kvs, gate: gate, now: time.Now}
}

// Gate returns the signup gate.
func (s *Store) Gate() *Gate { return s.gate }

// LoadActiveUser returns the logged-in account. ok is false when nobody is
// logged in or the slot holds undecodable data.
func (s *Store) LoadActiveUser(ctx context.Context) (acct model.UserAccount, ok bool, err error) {
	raw, err := s.kv.Get(ctx, ActiveUserKey)
	if errors.Is(err, kv.ErrNotFound) {
		return model.UserAccount{}, false, nil
	}
	if err != nil {
		return model.UserAccount{}, false, fmt.Errorf("load active user: %w", err)
	}

	acct, err = decodeAccount(raw)
	if err != nil {
		slog.Warn("discarding active user", "key", ActiveUserKey, "error", err)
		return model.UserAccount{}, false, nil
	}
	return acct, true, nil
}

// SaveActiveUser overwrites the active slot and upserts acct into the registry.
func (s *Store) SaveActiveUser(ctx context.Context, acct model.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveActiveLocked(ctx, acct)
}

func (s *Store) saveActiveLocked(ctx context.Context, acct model.UserAccount) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("encode account %s: %w", acct.Username, err)
	}
	if err := s.kv.Set(ctx, ActiveUserKey, string(data)); err != nil {
		return fmt.Errorf("save active user: %w", err)
	}

	users, err := s.listLocked(ctx)
	if err != nil {
		return err
	}
	return s.writeRegistry(ctx, upsert(users, acct))
}

// Logout clears the active slot. The registry entry survives.
func (s *Store) Logout(ctx context.Context) error {
	if err := s.kv.Delete(ctx, ActiveUserKey); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// ListAllUsers returns the registry in signup order; empty when absent or
// undecodable.
func (s *Store) ListAllUsers(ctx context.Context) ([]model.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(ctx)
}

func (s *Store) listLocked(ctx context.Context) ([]model.UserAccount, error) {
	raw, err := s.kv.Get(ctx, RegistryKey)
	if errors.Is(err, kv.ErrNotFound) {
		return []model.UserAccount{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}

	users, err := decodeRegistry(raw)
	if err != nil {
		slog.Warn("discarding user registry", "key", RegistryKey, "error", err)
		return []model.UserAccount{}, nil
	}
	return users, nil
}

// FindUser looks username up in the registry.
func (s *Store) FindUser(ctx context.Context, username string) (model.UserAccount, error) {
	users, err := s.ListAllUsers(ctx)
	if err != nil {
		return model.UserAccount{}, err
	}
	for _, u := range users {
		if u.Username == username {
			return u, nil
		}
	}
	return model.UserAccount{}, fmt.Errorf("%w: %q", ErrUserNotFound, username)
}

// CreateUser validates username and logs the player in. A name not yet in
// the registry gets a fresh account with the starting cash; a registered
// name resumes its existing account, so accounts are never reset.
func (s *Store) CreateUser(ctx context.Context, username string) (model.UserAccount, error) {
	name, err := s.gate.CheckUsername(username)
	if err != nil {
		return model.UserAccount{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.listLocked(ctx)
	if err != nil {
		return model.UserAccount{}, err
	}
	for _, u := range users {
		if u.Username == name {
			slog.Info("resuming registered user", "username", name)
			return u, s.saveActiveLocked(ctx, u)
		}
	}

	acct := model.NewUserAccount(name, s.now())
	if err := s.saveActiveLocked(ctx, acct); err != nil {
		return model.UserAccount{}, err
	}
	slog.Info("user created", "username", name, "cash", acct.Portfolio.Cash.StringFixed(2))
	return acct, nil
}

// Signup checks the invite code before creating the user.
func (s *Store) Signup(ctx context.Context, inviteCode, username string) (model.UserAccount, error) {
	if err := s.gate.CheckInviteCode(inviteCode); err != nil {
		return model.UserAccount{}, err
	}
	return s.CreateUser(ctx, username)
}

// ModifyUserBalance applies the admin faucet to a registered user. If that
// user is also the active one, the active slot's cash is updated to match.
// It returns the updated registry account and a confirmation message.
//
// The active slot is written before the registry, the same order
// SaveActiveUser uses. If the registry write fails the error is returned
// and the active slot already holds the new cash; the next save of the
// active user upserts it into the registry.
func (s *Store) ModifyUserBalance(ctx context.Context, username string, delta decimal.Decimal) (model.UserAccount, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.listLocked(ctx)
	if err != nil {
		return model.UserAccount{}, "", err
	}
	idx := -1
	for i, u := range users {
		if u.Username == username {
			idx = i
			break
		}
	}
	if idx < 0 {
		return model.UserAccount{}, "", fmt.Errorf("%w: %q", ErrUserNotFound, username)
	}

	updated, msg, err := ledger.AdjustCash(users[idx], delta)
	if err != nil {
		return model.UserAccount{}, "", err
	}
	users[idx] = updated

	active, ok, err := s.LoadActiveUser(ctx)
	if err != nil {
		return model.UserAccount{}, "", err
	}
	if ok && active.Username == username {
		active.Portfolio.Cash = updated.Portfolio.Cash
		data, err := json.Marshal(active)
		if err != nil {
			return model.UserAccount{}, "", fmt.Errorf("encode account %s: %w", username, err)
		}
		if err := s.kv.Set(ctx, ActiveUserKey, string(data)); err != nil {
			return model.UserAccount{}, "", fmt.Errorf("save active user: %w", err)
		}
	}
	if err := s.writeRegistry(ctx, users); err != nil {
		return model.UserAccount{}, "", err
	}

	slog.Info("balance changed",
		"username", username,
		"delta", delta.StringFixed(2),
		"cash", updated.Portfolio.Cash.StringFixed(2),
	)
	return updated, msg, nil
}

func (s *Store) writeRegistry(ctx context.Context, users []model.UserAccount) error {
	data, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if err := s.kv.Set(ctx, RegistryKey, string(data)); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}

// upsert replaces the entry with the same username in place, or appends.
func upsert(users []model.UserAccount, acct model.UserAccount) []model.UserAccount {
	for i, u := range users {
		if u.Username == acct.Username {
			users[i] = acct
			return users
		}
	}
	return append(users, acct)
}

func decodeAccount(raw string) (model.UserAccount, error) {
	var acct model.UserAccount
	if err := json.Unmarshal([]byte(raw), &acct); err != nil {
		return model.UserAccount{}, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	if acct.Username == "" {
		return model.UserAccount{}, fmt.Errorf("%w: account without username", ErrMalformedState)
	}
	normalize(&acct)
	return acct, nil
}

func decodeRegistry(raw string) ([]model.UserAccount, error) {
	var users []model.UserAccount
	if err := json.Unmarshal([]byte(raw), &users); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	if users == nil {
		users = []model.UserAccount{}
	}
	for i := range users {
		normalize(&users[i])
	}
	return users, nil
}

// normalize fills nil collections left by older or hand-edited JSON.
func normalize(acct *model.UserAccount) {
	if acct.Portfolio.Holdings == nil {
		acct.Portfolio.Holdings = map[string]int64{}
	}
	if acct.Portfolio.Transactions == nil {
		acct.Portfolio.Transactions = []model.Transaction{}
	}
}
