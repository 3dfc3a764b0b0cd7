package usecase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/usecase"
)

func TestKeyRegistry_CreatesKeyOnFirstUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alpha := tenant(t, "hospital-alpha")

	first, err := f.reg.GetActiveKey(ctx, alpha)
	require.NoError(t, err)
	second, err := f.reg.GetActiveKey(ctx, alpha)
	require.NoError(t, err)

	assert.Equal(t, first.KeyID(), second.KeyID())
	assert.Equal(t, "hospital-alpha", first.TenantID())
	assert.Equal(t, domain.SignatureAlgorithm, first.Algorithm())

	keys, err := f.reg.ListKeys(ctx, alpha)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, domain.KeyStatusActive, keys[0].Status)
}

func TestKeyRegistry_ConcurrentFirstUseYieldsOneActiveKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alpha := tenant(t, "hospital-alpha")

	const workers = 16
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key, err := f.reg.GetActiveKey(ctx, alpha)
			if err == nil {
				ids[i] = key.KeyID()
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	keys, err := f.reg.ListKeys(ctx, alpha)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestKeyRegistry_RotateRetainsOldKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alpha := tenant(t, "hospital-alpha")

	old, err := f.reg.GetActiveKey(ctx, alpha)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	rotated, err := f.reg.Rotate(ctx, alpha)
	require.NoError(t, err)
	require.NotEqual(t, old.KeyID(), rotated.KeyID())

	active, err := f.reg.GetActiveKey(ctx, alpha)
	require.NoError(t, err)
	assert.Equal(t, rotated.KeyID(), active.KeyID())

	previous, err := f.reg.GetKeyByID(ctx, alpha, old.KeyID())
	require.NoError(t, err)
	require.NotNil(t, previous)
	assert.Equal(t, domain.KeyStatusRotated, previous.Status)
	assert.True(t, previous.Key.Equal(old.Public()))
}

func TestKeyRegistry_GetKeyByIDAbsentIsNil(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alpha := tenant(t, "hospital-alpha")
	beta := tenant(t, "hospital-beta")

	key, err := f.reg.GetActiveKey(ctx, alpha)
	require.NoError(t, err)

	missing, err := f.reg.GetKeyByID(ctx, alpha, "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, missing)

	crossTenant, err := f.reg.GetKeyByID(ctx, beta, key.KeyID())
	require.NoError(t, err)
	assert.Nil(t, crossTenant, "a tenant must never resolve another tenant's key")
}

func TestKeyRegistry_RejectsMissingTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reg.GetActiveKey(ctx, domain.TenantID{})
	require.ErrorIs(t, err, domain.ErrTenantBindingMissing)

	_, err = domain.NewTenantID("   ")
	require.ErrorIs(t, err, domain.ErrTenantBindingMissing)

	_, err = f.reg.GetKeyByID(ctx, domain.TenantID{}, "kid")
	require.ErrorIs(t, err, domain.ErrTenantBindingMissing)
}

func TestKeyRegistry_MarkCompromisedReplacesActiveKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alpha := tenant(t, "hospital-alpha")

	old, err := f.reg.GetActiveKey(ctx, alpha)
	require.NoError(t, err)
	replacement, err := f.reg.MarkCompromised(ctx, alpha, old.KeyID())
	require.NoError(t, err)
	require.NotNil(t, replacement)
	assert.NotEqual(t, old.KeyID(), replacement.KeyID())

	compromised, err := f.reg.GetKeyByID(ctx, alpha, old.KeyID())
	require.NoError(t, err)
	require.NotNil(t, compromised)
	assert.Equal(t, domain.KeyStatusCompromised, compromised.Status)

	_, err = f.reg.MarkCompromised(ctx, alpha, "unknown")
	require.ErrorIs(t, err, domain.ErrKeyNotFound)
}

func TestKeyRegistry_RotateIfDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alpha := tenant(t, "hospital-alpha")
	reg := usecase.NewKeyRegistry(f.keys, usecase.Clock(f.clock.Now), 24*time.Hour, nil)

	first, rotated, err := reg.RotateIfDue(ctx, alpha)
	require.NoError(t, err)
	assert.False(t, rotated)

	f.clock.Advance(25 * time.Hour)
	second, rotated, err := reg.RotateIfDue(ctx, alpha)
	require.NoError(t, err)
	assert.True(t, rotated)
	assert.NotEqual(t, first.KeyID(), second.KeyID())
}
