package ledger

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/phihocnguyen/ridemate-server/internal/models"
	"github.com/phihocnguyen/ridemate-server/internal/observability"
)

// Store is the balance persistence contract. Implementations must make
// Deduct's balance check and decrement one indivisible operation per
// account; the memory store does it under a per-account mutex, the
// Postgres store under a row lock.
type Store interface {
	Deduct(userID string, amount int) (newBalance int, err error)
	Credit(userID string, amount int) (newBalance int, err error)
	Balance(userID string) (int, error)
}

// Ledger mutates coin balances for fares, voucher redemptions and spin
// rewards. Balances never go below zero.
type Ledger struct {
	Store  Store
	Logger *slog.Logger
}

func New(store Store, logger *slog.Logger) *Ledger {
	return &Ledger{Store: store, Logger: logger}
}

func (l *Ledger) Deduct(userID string, amount int) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: negative amount %d", models.ErrValidation, amount)
	}
	if amount == 0 {
		return l.Store.Balance(userID)
	}
	balance, err := l.Store.Deduct(userID, amount)
	if err != nil {
		observability.LedgerInsufficientTotal.Inc()
		return balance, err
	}
	observability.LedgerDeductsTotal.Inc()
	l.Logger.Debug("coins deducted", "user_id", userID, "amount", amount, "balance", balance)
	return balance, nil
}

func (l *Ledger) Credit(userID string, amount int) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: negative amount %d", models.ErrValidation, amount)
	}
	if amount == 0 {
		return l.Store.Balance(userID)
	}
	balance, err := l.Store.Credit(userID, amount)
	if err != nil {
		return balance, err
	}
	observability.LedgerCreditsTotal.Inc()
	l.Logger.Debug("coins credited", "user_id", userID, "amount", amount, "balance", balance)
	return balance, nil
}

func (l *Ledger) Balance(userID string) (int, error) {
	return l.Store.Balance(userID)
}

// Settle moves the fare from the rider to the driver when a trip
// completes. The deduct side enforces the non-negative invariant; a
// rider who cannot cover the fare surfaces InsufficientBalance.
func (l *Ledger) Settle(riderID, driverID string, fare int) error {
	if _, err := l.Deduct(riderID, fare); err != nil {
		return err
	}
	if _, err := l.Credit(driverID, fare); err != nil {
		return err
	}
	l.Logger.Info("fare settled", "rider_id", riderID, "driver_id", driverID, "fare", fare)
	return nil
}

type account struct {
	mu      sync.Mutex
	balance int
}

// MemoryStore keeps one mutex per account so unrelated accounts never
// serialize against each other.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]*account)}
}

func (m *MemoryStore) acct(userID string) *account {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		a = &account{}
		m.accounts[userID] = a
	}
	return a
}

func (m *MemoryStore) Deduct(userID string, amount int) (int, error) {
	a := m.acct(userID)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.balance < amount {
		return a.balance, fmt.Errorf("%w: have %d, need %d", models.ErrInsufficientBalance, a.balance, amount)
	}
	a.balance -= amount
	return a.balance, nil
}

func (m *MemoryStore) Credit(userID string, amount int) (int, error) {
	a := m.acct(userID)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balance += amount
	return a.balance, nil
}

func (m *MemoryStore) Balance(userID string) (int, error) {
	a := m.acct(userID)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance, nil
}
