package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
	cryptoinfra "github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/infra/crypto"
)

const defaultChainAdvanceRetries = 5

// Verification check names reported in CertificateVerification.Checks.
const (
	CheckSchema      = "schema"
	CheckContentHash = "content_hash"
	CheckChainHash   = "chain_hash"
	CheckSignature   = "signature"
	CheckChainLink   = "chain_link"
)

type IssueCertificateRequest struct {
	Content     domain.CertificateContent
	PatientHash string
	Nonce       string
}

// CertificateLedger issues and verifies the per-tenant certificate chain.
type CertificateLedger struct {
	Keys       *KeyRegistry
	Store      CertificateStore
	Nonces     *NonceTracker
	Clock      Clock
	MaxRetries int
	Logger     *slog.Logger
}

// Issue consumes the request nonce, links a new certificate to the tenant's
// chain head, signs it and appends it. Losing a race on the head is retried
// with the fresh head. If no append completes the nonce is released.
func (l *CertificateLedger) Issue(ctx context.Context, tenant domain.TenantID, req IssueCertificateRequest) (domain.CertificateRecord, error) {
	signer, err := NewSigner(l.Keys, tenant)
	if err != nil {
		return domain.CertificateRecord{}, err
	}
	if l.Store == nil {
		return domain.CertificateRecord{}, errors.New("certificate store is required")
	}
	content := req.Content
	if content.PolicyVersionHash == "" {
		content.PolicyVersionHash = cryptoinfra.SHA256Hex([]byte(content.GovernancePolicyVersion))
	}
	if err := content.Validate(); err != nil {
		return domain.CertificateRecord{}, err
	}
	if req.PatientHash != "" && !domain.IsPrefixedDigest(req.PatientHash) {
		return domain.CertificateRecord{}, fmt.Errorf("%w: patient_hash must be sha256:<hex>", domain.ErrSchemaViolation)
	}

	keepNonce := false
	extras := map[string]string{}
	if req.PatientHash != "" {
		extras["patient_hash"] = req.PatientHash
	}
	if l.Nonces != nil {
		value := req.Nonce
		if value == "" {
			if value, err = l.Nonces.Issue(); err != nil {
				return domain.CertificateRecord{}, err
			}
		}
		nonce, err := l.Nonces.Consume(ctx, tenant, value)
		if err != nil {
			return domain.CertificateRecord{}, err
		}
		extras["nonce"] = nonce.Value
		// The nonce goes back when issuance fails before anything could have
		// been stored. A failed append may still have committed, so it keeps
		// the nonce.
		defer func() {
			if keepNonce {
				return
			}
			if err := l.Nonces.Release(context.WithoutCancel(ctx), tenant, nonce.Value); err != nil {
				l.logger().Warn("nonce release failed", "tenant_id", tenant.String(), "error", err)
			}
		}()
	}
	if len(extras) == 0 {
		extras = nil
	}

	certificateID, err := newTimeOrderedID()
	if err != nil {
		return domain.CertificateRecord{}, err
	}

	retries := l.MaxRetries
	if retries <= 0 {
		retries = defaultChainAdvanceRetries
	}
	for attempt := 1; attempt <= retries; attempt++ {
		head, err := l.Store.Head(ctx, tenant.String())
		if err != nil {
			return domain.CertificateRecord{}, err
		}
		record := domain.CertificateRecord{
			CertificateID:       certificateID,
			TenantID:            tenant.String(),
			Seq:                 1,
			IssuedAt:            domain.FormatTimestamp(l.Clock.now()),
			CertificateContent:  content,
			ExtraUnsignedFields: extras,
		}
		var expected *string
		if head != nil {
			previous := head.HeadHash
			expected = &previous
			record.PreviousHash = &previous
			record.Seq = head.Seq + 1
		}
		if record.ContentHash, record.ChainHash, err = ComputeCertificateHashes(record); err != nil {
			return domain.CertificateRecord{}, err
		}
		msg, err := CertificateMessage(record)
		if err != nil {
			return domain.CertificateRecord{}, err
		}
		env, err := signer.Sign(ctx, msg)
		if err != nil {
			return domain.CertificateRecord{}, err
		}
		record.Signature = env.Signature

		err = l.Store.AppendIfHead(ctx, record, expected)
		if errors.Is(err, domain.ErrConcurrentChainAdvance) {
			l.logger().Debug("certificate chain head advanced, retrying",
				"tenant_id", tenant.String(), "certificate_id", certificateID, "attempt", attempt)
			continue
		}
		keepNonce = true
		if err != nil {
			return domain.CertificateRecord{}, err
		}
		l.logger().Info("certificate issued",
			"tenant_id", tenant.String(),
			"certificate_id", record.CertificateID,
			"seq", record.Seq,
			"chain_hash", record.ChainHash,
			"key_id", record.Signature.KeyID,
		)
		return record, nil
	}
	return domain.CertificateRecord{}, fmt.Errorf("%w: gave up after %d attempts", domain.ErrConcurrentChainAdvance, retries)
}

func (l *CertificateLedger) Get(ctx context.Context, tenant domain.TenantID, certificateID string) (*domain.CertificateRecord, error) {
	if err := tenant.Require(); err != nil {
		return nil, err
	}
	return l.Store.GetByID(ctx, tenant.String(), certificateID)
}

// Verify checks one stored certificate: hashes, signature and the link to
// its immediate predecessor.
func (l *CertificateLedger) Verify(ctx context.Context, tenant domain.TenantID, certificateID string) (domain.CertificateVerification, error) {
	record, err := l.Get(ctx, tenant, certificateID)
	if err != nil {
		return domain.CertificateVerification{}, err
	}
	link := &CertificateLink{}
	if record.Seq > 1 {
		predecessor, err := l.Store.GetBySeq(ctx, tenant.String(), record.Seq-1)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return domain.CertificateVerification{}, err
		}
		link.Predecessor = predecessor
	}
	key, err := l.Keys.GetKeyByID(ctx, tenant, record.Signature.KeyID)
	if err != nil {
		return domain.CertificateVerification{}, err
	}
	return VerifyCertificate(*record, key, link), nil
}

// VerifyTenantChain walks every certificate of the tenant in issue order.
func (l *CertificateLedger) VerifyTenantChain(ctx context.Context, tenant domain.TenantID) (domain.ChainVerification, error) {
	if err := tenant.Require(); err != nil {
		return domain.ChainVerification{}, err
	}
	records, err := l.Store.ListByTenant(ctx, tenant.String())
	if err != nil {
		return domain.ChainVerification{}, err
	}
	keys := map[string]*PublicKeyHandle{}
	for _, record := range records {
		if _, ok := keys[record.Signature.KeyID]; ok {
			continue
		}
		key, err := l.Keys.GetKeyByID(ctx, tenant, record.Signature.KeyID)
		if err != nil {
			return domain.ChainVerification{}, err
		}
		keys[record.Signature.KeyID] = key
	}
	return VerifyChainRecords(tenant.String(), records, keys), nil
}

// VerifyChainRecords verifies records as one tenant sequence in the given
// order. keys maps key ids to public keys; a missing entry fails that
// certificate's signature check.
func VerifyChainRecords(tenantID string, records []domain.CertificateRecord, keys map[string]*PublicKeyHandle) domain.ChainVerification {
	out := domain.ChainVerification{
		TenantID:          tenantID,
		TotalCertificates: len(records),
		Failures:          []domain.ChainFailure{},
	}
	for i, record := range records {
		link := &CertificateLink{}
		if i > 0 {
			link.Predecessor = &records[i-1]
		}
		result := VerifyCertificate(record, keys[record.Signature.KeyID], link)
		if record.TenantID != tenantID {
			result.Failures = append(result.Failures, domain.VerificationFailure{
				Check:    CheckChainLink,
				Error:    domain.ErrorCode(domain.ErrChainBroken),
				Expected: tenantID,
				Computed: record.TenantID,
			})
			result.Valid = false
		}
		if result.Valid {
			out.VerifiedCertificates++
			continue
		}
		for _, failure := range result.Failures {
			out.Failures = append(out.Failures, domain.ChainFailure{
				CertificateID: record.CertificateID,
				Index:         i,
				Error:         failure.Error,
				Expected:      failure.Expected,
				Computed:      failure.Computed,
			})
		}
	}
	if len(records) > 0 {
		out.HeadHash = records[len(records)-1].ChainHash
	}
	out.Valid = len(out.Failures) == 0
	return out
}

func (l *CertificateLedger) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

// CertificateLink carries the predecessor used for the chain link check.
// A nil Predecessor asserts that the record starts its tenant's chain.
type CertificateLink struct {
	Predecessor *domain.CertificateRecord
}

// ComputeCertificateHashes returns the content hash ("sha256:" form) and the
// chain hash over every signed field plus previous_hash.
func ComputeCertificateHashes(record domain.CertificateRecord) (string, string, error) {
	canonicalContent, err := cryptoinfra.CanonicalizeAny(record.CertificateContent.Fields())
	if err != nil {
		return "", "", err
	}
	chainInput := record.SignedFields()
	if record.PreviousHash != nil {
		chainInput["previous_hash"] = *record.PreviousHash
	} else {
		chainInput["previous_hash"] = nil
	}
	chainHash, err := cryptoinfra.HashCanonical(chainInput)
	if err != nil {
		return "", "", err
	}
	return cryptoinfra.PrefixedSHA256(canonicalContent), chainHash, nil
}

// CertificateMessage is the four-field message signed for record.
func CertificateMessage(record domain.CertificateRecord) (domain.CanonicalMessage, error) {
	return domain.NewCanonicalMessage(record.CertificateID, record.IssuedAt, record.ChainHash, record.PolicyVersionHash)
}

// VerifyCertificate runs every offline check on record. key may be nil when
// the signing key is unknown. link nil skips the chain link check.
func VerifyCertificate(record domain.CertificateRecord, key *PublicKeyHandle, link *CertificateLink) domain.CertificateVerification {
	out := domain.CertificateVerification{
		CertificateID: record.CertificateID,
		TenantID:      record.TenantID,
		Checks:        []string{},
		Failures:      []domain.VerificationFailure{},
	}
	fail := func(check string, err error, expected, computed string) {
		out.Failures = append(out.Failures, domain.VerificationFailure{
			Check:    check,
			Error:    domain.ErrorCode(err),
			Expected: expected,
			Computed: computed,
		})
	}

	out.Checks = append(out.Checks, CheckSchema)
	schemaErr := record.ValidateUnsignedFields()
	if schemaErr == nil {
		schemaErr = record.CertificateContent.Validate()
	}
	if schemaErr == nil && record.TenantID == "" {
		schemaErr = domain.ErrTenantBindingMissing
	}
	if schemaErr != nil {
		fail(CheckSchema, schemaErr, "", "")
	}

	contentHash, chainHash, err := ComputeCertificateHashes(record)
	out.Checks = append(out.Checks, CheckContentHash, CheckChainHash)
	if err != nil {
		fail(CheckChainHash, domain.ErrSchemaViolation, record.ChainHash, "")
	} else {
		if contentHash != record.ContentHash {
			fail(CheckContentHash, domain.ErrHashMismatch, record.ContentHash, contentHash)
		}
		if chainHash != record.ChainHash {
			fail(CheckChainHash, domain.ErrHashMismatch, record.ChainHash, chainHash)
		}
	}

	out.Checks = append(out.Checks, CheckSignature)
	switch {
	case key == nil:
		fail(CheckSignature, domain.ErrKeyNotFound, record.Signature.KeyID, "")
	case key.TenantID != record.TenantID || key.KeyID != record.Signature.KeyID:
		fail(CheckSignature, domain.ErrKeyNotFound, record.Signature.KeyID, key.KeyID)
	default:
		out.KeyStatus = key.Status
		msg, err := CertificateMessage(record)
		if err == nil {
			err = VerifyEnvelope(domain.SignedEnvelope{CanonicalMessage: msg, Signature: record.Signature}, key.Key)
		}
		if err != nil {
			fail(CheckSignature, err, "", "")
		}
	}

	if link != nil {
		out.Checks = append(out.Checks, CheckChainLink)
		if err := checkCertificateLink(record, link.Predecessor); err != nil {
			var integrity *domain.IntegrityError
			if errors.As(err, &integrity) {
				fail(CheckChainLink, err, integrity.Expected, integrity.Computed)
			} else {
				fail(CheckChainLink, err, "", "")
			}
		}
	}

	out.Valid = len(out.Failures) == 0
	return out
}

// VerifyCertificateSequence checks a complete tenant sequence in order and
// returns the first integrity failure.
func VerifyCertificateSequence(records []domain.CertificateRecord) error {
	for i, record := range records {
		_, chainHash, err := ComputeCertificateHashes(record)
		if err != nil {
			return err
		}
		if chainHash != record.ChainHash {
			return &domain.IntegrityError{
				Kind:     domain.ErrHashMismatch,
				RecordID: record.CertificateID,
				Index:    i,
				Expected: record.ChainHash,
				Computed: chainHash,
			}
		}
		var predecessor *domain.CertificateRecord
		if i > 0 {
			predecessor = &records[i-1]
			if predecessor.TenantID != record.TenantID {
				return &domain.IntegrityError{Kind: domain.ErrChainBroken, RecordID: record.CertificateID, Index: i, Detail: "tenant changes inside sequence"}
			}
		}
		if err := checkCertificateLink(record, predecessor); err != nil {
			var integrity *domain.IntegrityError
			if errors.As(err, &integrity) {
				integrity.Index = i
			}
			return err
		}
	}
	return nil
}

func checkCertificateLink(record domain.CertificateRecord, predecessor *domain.CertificateRecord) error {
	if predecessor == nil {
		if record.PreviousHash != nil || record.Seq > 1 {
			return &domain.IntegrityError{
				Kind:     domain.ErrChainBroken,
				RecordID: record.CertificateID,
				Computed: derefString(record.PreviousHash),
				Detail:   "predecessor missing",
			}
		}
		return nil
	}
	if record.PreviousHash == nil || *record.PreviousHash != predecessor.ChainHash {
		return &domain.IntegrityError{
			Kind:     domain.ErrChainBroken,
			RecordID: record.CertificateID,
			Expected: predecessor.ChainHash,
			Computed: derefString(record.PreviousHash),
		}
	}
	if record.Seq != 0 && predecessor.Seq != 0 && record.Seq != predecessor.Seq+1 {
		return &domain.IntegrityError{
			Kind:     domain.ErrChainBroken,
			RecordID: record.CertificateID,
			Detail:   fmt.Sprintf("sequence gap: %d follows %d", record.Seq, predecessor.Seq),
		}
	}
	return nil
}
