package usecase

import (
	"encoding/base64"
	"fmt"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
	cryptoinfra "github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/infra/crypto"
)

// BuildEvidence assembles the material an offline verifier needs for record.
func BuildEvidence(record domain.CertificateRecord, key PublicKeyHandle) (domain.EvidenceBundle, error) {
	if key.KeyID != record.Signature.KeyID || key.TenantID != record.TenantID {
		return domain.EvidenceBundle{}, fmt.Errorf("%w: key %s does not match certificate", domain.ErrKeyNotFound, key.KeyID)
	}
	msg, err := CertificateMessage(record)
	if err != nil {
		return domain.EvidenceBundle{}, err
	}
	canonical, err := CanonicalMessageBytes(msg)
	if err != nil {
		return domain.EvidenceBundle{}, err
	}
	return domain.EvidenceBundle{
		Certificate:            record,
		CanonicalMessage:       string(canonical),
		CanonicalMessageBase64: base64.StdEncoding.EncodeToString(canonical),
		CanonicalMessageSHA256: cryptoinfra.SHA256Hex(canonical),
		KeyID:                  key.KeyID,
		Algorithm:              record.Signature.Algorithm,
		PublicKeyPEM:           key.PEM(),
	}, nil
}

// VerifyEvidence checks a bundle with nothing but its own contents: the
// embedded key must hash to the key id, the stored message bytes must match
// the recomputed ones, and the certificate must verify.
func VerifyEvidence(bundle domain.EvidenceBundle) (domain.CertificateVerification, error) {
	key, err := PublicKeyFromPEM(bundle.Certificate.TenantID, bundle.PublicKeyPEM)
	if err != nil {
		return domain.CertificateVerification{}, err
	}
	result := VerifyCertificate(bundle.Certificate, key, nil)

	msg, err := CertificateMessage(bundle.Certificate)
	if err == nil {
		var canonical []byte
		if canonical, err = CanonicalMessageBytes(msg); err == nil && string(canonical) != bundle.CanonicalMessage {
			result.Failures = append(result.Failures, domain.VerificationFailure{
				Check:    "canonical_message",
				Error:    domain.ErrorCode(domain.ErrHashMismatch),
				Expected: bundle.CanonicalMessageSHA256,
				Computed: cryptoinfra.SHA256Hex(canonical),
			})
		}
	}
	if bundle.KeyID != key.KeyID {
		result.Failures = append(result.Failures, domain.VerificationFailure{
			Check:    "key_id",
			Error:    domain.ErrorCode(domain.ErrKeyNotFound),
			Expected: bundle.KeyID,
			Computed: key.KeyID,
		})
	}
	result.Valid = len(result.Failures) == 0
	return result, nil
}

// PublicKeyFromPEM builds a verification handle for tenantID from a PEM SPKI
// key. The key id is derived from the key itself, never trusted from input.
func PublicKeyFromPEM(tenantID, publicKeyPEM string) (*PublicKeyHandle, error) {
	public, err := cryptoinfra.ParsePublicKeyPEM([]byte(publicKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	der, err := cryptoinfra.MarshalPublicKey(public)
	if err != nil {
		return nil, err
	}
	return &PublicKeyHandle{
		TenantID:  tenantID,
		KeyID:     cryptoinfra.KeyIDFromPublicKey(der),
		Algorithm: domain.SignatureAlgorithm,
		Key:       public,
		DER:       der,
	}, nil
}
