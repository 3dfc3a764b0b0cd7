package usecase

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
	cryptoinfra "github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/infra/crypto"
)

// Signer signs canonical messages with one tenant's active key. The tenant is
// fixed at construction; there is no way to sign without one.
type Signer struct {
	keys   *KeyRegistry
	tenant domain.TenantID
}

func NewSigner(keys *KeyRegistry, tenant domain.TenantID) (*Signer, error) {
	if err := tenant.Require(); err != nil {
		return nil, err
	}
	if keys == nil {
		return nil, errors.New("key registry is required")
	}
	return &Signer{keys: keys, tenant: tenant}, nil
}

func (s *Signer) Tenant() domain.TenantID {
	return s.tenant
}

func (s *Signer) Sign(ctx context.Context, msg domain.CanonicalMessage) (domain.SignedEnvelope, error) {
	if s == nil {
		return domain.SignedEnvelope{}, domain.ErrTenantBindingMissing
	}
	if err := s.tenant.Require(); err != nil {
		return domain.SignedEnvelope{}, err
	}
	if err := msg.Validate(); err != nil {
		return domain.SignedEnvelope{}, err
	}
	canonical, err := CanonicalMessageBytes(msg)
	if err != nil {
		return domain.SignedEnvelope{}, err
	}
	key, err := s.keys.GetActiveKey(ctx, s.tenant)
	if err != nil {
		return domain.SignedEnvelope{}, err
	}
	if key.TenantID() != s.tenant.String() {
		return domain.SignedEnvelope{}, fmt.Errorf("%w: key belongs to another tenant", domain.ErrTenantBindingMissing)
	}
	sig, err := cryptoinfra.SignCanonical(key.private, canonical)
	if err != nil {
		return domain.SignedEnvelope{}, err
	}
	return domain.SignedEnvelope{
		CanonicalMessage: msg,
		Signature: domain.Signature{
			Algorithm: domain.SignatureAlgorithm,
			KeyID:     key.KeyID(),
			Value:     sig,
		},
	}, nil
}

// CanonicalMessageBytes returns the exact bytes that are signed for msg.
// Evidence packagers and offline verifiers use it to agree byte for byte.
func CanonicalMessageBytes(msg domain.CanonicalMessage) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return cryptoinfra.CanonicalizeAny(msg.Fields())
}

// VerifyEnvelope checks env against pub. It needs no storage or network.
func VerifyEnvelope(env domain.SignedEnvelope, pub *ecdsa.PublicKey) error {
	canonical, err := CanonicalMessageBytes(env.CanonicalMessage)
	if err != nil {
		return err
	}
	if env.Signature.Algorithm != domain.SignatureAlgorithm {
		return fmt.Errorf("%w: unsupported algorithm %q", domain.ErrSignatureInvalid, env.Signature.Algorithm)
	}
	if pub == nil {
		return fmt.Errorf("%w: %s", domain.ErrKeyNotFound, env.Signature.KeyID)
	}
	return cryptoinfra.VerifyCanonical(pub, canonical, env.Signature.Value)
}

// Verifier resolves the envelope key inside the given tenant and verifies.
type Verifier struct {
	Keys KeyLookup
}

func (v *Verifier) Verify(ctx context.Context, tenant domain.TenantID, env domain.SignedEnvelope) (*PublicKeyHandle, error) {
	if err := tenant.Require(); err != nil {
		return nil, err
	}
	if err := env.CanonicalMessage.Validate(); err != nil {
		return nil, err
	}
	key, err := v.Keys.GetKeyByID(ctx, tenant, env.Signature.KeyID)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrKeyNotFound, env.Signature.KeyID)
	}
	if err := VerifyEnvelope(env, key.Key); err != nil {
		return key, err
	}
	return key, nil
}
