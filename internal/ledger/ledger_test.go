package ledger

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phihocnguyen/ridemate-server/internal/models"
)

func newTestLedger() *Ledger {
	return New(NewMemoryStore(), slog.Default())
}

func TestDeduct_NeverBelowZero(t *testing.T) {
	l := newTestLedger()
	_, err := l.Credit("u1", 50)
	require.NoError(t, err)

	balance, err := l.Deduct("u1", 80)
	require.ErrorIs(t, err, models.ErrInsufficientBalance)
	assert.Equal(t, 50, balance, "failed deduct must not change the balance")

	balance, err = l.Deduct("u1", 50)
	require.NoError(t, err)
	assert.Equal(t, 0, balance)

	_, err = l.Deduct("u1", 1)
	require.ErrorIs(t, err, models.ErrInsufficientBalance)
}

func TestDeduct_ConcurrentExhaustion(t *testing.T) {
	// 100 coins, 20 workers each trying to take 10: exactly 10 succeed
	l := newTestLedger()
	_, err := l.Credit("u1", 100)
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Deduct("u1", 10); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	balance, err := l.Balance("u1")
	require.NoError(t, err)
	assert.Equal(t, 0, balance)
	assert.GreaterOrEqual(t, balance, 0)
}

func TestDeduct_ZeroAndNegative(t *testing.T) {
	l := newTestLedger()
	_, err := l.Credit("u1", 25)
	require.NoError(t, err)

	balance, err := l.Deduct("u1", 0)
	require.NoError(t, err)
	assert.Equal(t, 25, balance, "zero deduct is a no-op")

	_, err = l.Deduct("u1", -5)
	require.ErrorIs(t, err, models.ErrValidation)
	_, err = l.Credit("u1", -5)
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestBalance_UnknownAccountIsZero(t *testing.T) {
	l := newTestLedger()
	balance, err := l.Balance("nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, balance)
}

func TestSettle_MovesFareRiderToDriver(t *testing.T) {
	l := newTestLedger()
	_, err := l.Credit("rider", 100)
	require.NoError(t, err)

	require.NoError(t, l.Settle("rider", "driver", 35))

	riderBalance, _ := l.Balance("rider")
	driverBalance, _ := l.Balance("driver")
	assert.Equal(t, 65, riderBalance)
	assert.Equal(t, 35, driverBalance)
}

func TestSettle_InsufficientRiderBalance(t *testing.T) {
	l := newTestLedger()
	_, err := l.Credit("rider", 10)
	require.NoError(t, err)

	err = l.Settle("rider", "driver", 35)
	require.ErrorIs(t, err, models.ErrInsufficientBalance)

	riderBalance, _ := l.Balance("rider")
	driverBalance, _ := l.Balance("driver")
	assert.Equal(t, 10, riderBalance, "failed settlement must not touch the rider")
	assert.Equal(t, 0, driverBalance, "driver must not be credited on failure")
}
