package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phihocnguyen/ridemate-server/internal/models"
)

// VoucherService lets users spend coins on vouchers. Redemption rides
// on the ledger's atomic deduct, so two concurrent redemptions cannot
// both succeed on a balance that only covers one.
type VoucherService struct {
	Ledger *Ledger
	Now    func() time.Time

	mu       sync.RWMutex
	vouchers map[string]models.Voucher
	owned    map[string][]models.UserVoucher // user id -> grants
}

func NewVoucherService(l *Ledger) *VoucherService {
	return &VoucherService{
		Ledger:   l,
		Now:      time.Now,
		vouchers: make(map[string]models.Voucher),
		owned:    make(map[string][]models.UserVoucher),
	}
}

func (v *VoucherService) AddVoucher(voucher models.Voucher) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.vouchers[voucher.ID] = voucher
}

func (v *VoucherService) Redeem(userID, voucherID string) (*models.UserVoucher, error) {
	v.mu.RLock()
	voucher, ok := v.vouchers[voucherID]
	v.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: voucher %s", models.ErrNotFound, voucherID)
	}
	if !voucher.Active {
		return nil, fmt.Errorf("%w: voucher %s is not active", models.ErrValidation, voucherID)
	}
	if voucher.ExpiresAt.Before(v.Now()) {
		return nil, fmt.Errorf("%w: voucher %s has expired", models.ErrValidation, voucherID)
	}

	if _, err := v.Ledger.Deduct(userID, voucher.Cost); err != nil {
		return nil, err
	}

	grant := models.UserVoucher{
		ID:         uuid.NewString(),
		UserID:     userID,
		VoucherID:  voucherID,
		AcquiredAt: v.Now(),
	}
	v.mu.Lock()
	v.owned[userID] = append(v.owned[userID], grant)
	v.mu.Unlock()
	return &grant, nil
}

func (v *VoucherService) UserVouchers(userID string) []models.UserVoucher {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]models.UserVoucher, len(v.owned[userID]))
	copy(out, v.owned[userID])
	return out
}
