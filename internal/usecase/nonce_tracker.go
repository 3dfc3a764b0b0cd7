package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
)

const maxNonceLength = 128

type NonceTracker struct {
	Store NonceStore
	Clock Clock
}

func NewNonceTracker(store NonceStore, clock Clock) *NonceTracker {
	return &NonceTracker{Store: store, Clock: clock}
}

// Issue mints a fresh time-ordered nonce value. It is not recorded until
// Consume is called with it.
func (t *NonceTracker) Issue() (string, error) {
	return newTimeOrderedID()
}

// Consume records (tenant, value) exactly once. A second call with the same
// pair returns domain.ErrNonceReplay and changes nothing.
func (t *NonceTracker) Consume(ctx context.Context, tenant domain.TenantID, value string) (domain.Nonce, error) {
	if err := tenant.Require(); err != nil {
		return domain.Nonce{}, err
	}
	if t.Store == nil {
		return domain.Nonce{}, errors.New("nonce store is required")
	}
	value = strings.TrimSpace(value)
	if value == "" || len(value) > maxNonceLength {
		return domain.Nonce{}, fmt.Errorf("%w: nonce must be 1-%d characters", domain.ErrInvalidInput, maxNonceLength)
	}
	nonce := domain.Nonce{
		TenantID:   tenant.String(),
		Value:      value,
		ConsumedAt: t.Clock.now(),
	}
	if err := t.Store.Insert(ctx, nonce); err != nil {
		return domain.Nonce{}, err
	}
	return nonce, nil
}

// Release forgets a consumed nonce whose request never produced a record.
func (t *NonceTracker) Release(ctx context.Context, tenant domain.TenantID, value string) error {
	if err := tenant.Require(); err != nil {
		return err
	}
	if t.Store == nil {
		return errors.New("nonce store is required")
	}
	return t.Store.Delete(ctx, tenant.String(), strings.TrimSpace(value))
}
