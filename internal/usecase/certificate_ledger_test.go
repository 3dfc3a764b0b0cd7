package usecase_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/usecase"
)

// racingStore loses the head race a fixed number of times before delegating.
type racingStore struct {
	usecase.CertificateStore
	losses   int32
	attempts int32
}

func (s *racingStore) AppendIfHead(ctx context.Context, record domain.CertificateRecord, expectedHead *string) error {
	n := atomic.AddInt32(&s.attempts, 1)
	if n <= atomic.LoadInt32(&s.losses) {
		return domain.ErrConcurrentChainAdvance
	}
	return s.CertificateStore.AppendIfHead(ctx, record, expectedHead)
}

// failingStore fails every append with err.
type failingStore struct {
	usecase.CertificateStore
	err error
}

func (s *failingStore) AppendIfHead(context.Context, domain.CertificateRecord, *string) error {
	return s.err
}

func issue(t *testing.T, f *fixture, tenantID domain.TenantID, n int) []domain.CertificateRecord {
	t.Helper()
	out := make([]domain.CertificateRecord, 0, n)
	for i := 0; i < n; i++ {
		f.clock.Advance(time.Second)
		record, err := f.ledger.Issue(context.Background(), tenantID, usecase.IssueCertificateRequest{Content: sampleContent()})
		require.NoError(t, err)
		out = append(out, record)
	}
	return out
}

func TestCertificateLedger_IssueAndVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alpha := tenant(t, "hospital-alpha")

	record, err := f.ledger.Issue(ctx, alpha, usecase.IssueCertificateRequest{
		Content:     sampleContent(),
		PatientHash: "sha256:" + digest("7"),
	})
	require.NoError(t, err)

	assert.Equal(t, "hospital-alpha", record.TenantID)
	assert.Equal(t, int64(1), record.Seq)
	assert.Nil(t, record.PreviousHash)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, record.ContentHash)
	assert.Regexp(t, `^[0-9a-f]{64}$`, record.ChainHash)
	assert.Equal(t, "2026-03-01T09:30:00.000000Z", record.IssuedAt)
	assert.NotEmpty(t, record.ExtraUnsignedFields["nonce"])

	result, err := f.ledger.Verify(ctx, alpha, record.CertificateID)
	require.NoError(t, err)
	assert.True(t, result.Valid, "%+v", result.Failures)
	assert.Equal(t, domain.KeyStatusActive, result.KeyStatus)
	assert.Contains(t, result.Checks, usecase.CheckSignature)
}

func TestCertificateLedger_PolicyVersionHashDefault(t *testing.T) {
	f := newFixture(t)
	record, err := f.ledger.Issue(context.Background(), tenant(t, "hospital-alpha"), usecase.IssueCertificateRequest{Content: sampleContent()})
	require.NoError(t, err)
	// sha256("gov-2026-01")
	assert.Len(t, record.PolicyVersionHash, 64)
	assert.True(t, domain.IsHexDigest(record.PolicyVersionHash))
}

func TestCertificateLedger_ChainContinuity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alpha := tenant(t, "hospital-alpha")

	records := issue(t, f, alpha, 3)
	require.NoError(t, usecase.VerifyCertificateSequence(records))
	for i := 1; i < len(records); i++ {
		require.NotNil(t, records[i].PreviousHash)
		assert.Equal(t, records[i-1].ChainHash, *records[i].PreviousHash)
		assert.Equal(t, int64(i+1), records[i].Seq)
	}

	report, err := f.ledger.VerifyTenantChain(ctx, alpha)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 3, report.TotalCertificates)
	assert.Equal(t, 3, report.VerifiedCertificates)
	assert.Equal(t, records[2].ChainHash, report.HeadHash)
}

func TestCertificateLedger_DeletedOrReorderedIsChainBroken(t *testing.T) {
	f := newFixture(t)
	records := issue(t, f, tenant(t, "hospital-alpha"), 3)

	err := usecase.VerifyCertificateSequence([]domain.CertificateRecord{records[0], records[2]})
	require.ErrorIs(t, err, domain.ErrChainBroken)

	err = usecase.VerifyCertificateSequence([]domain.CertificateRecord{records[0], records[2], records[1]})
	require.ErrorIs(t, err, domain.ErrChainBroken)

	err = usecase.VerifyCertificateSequence([]domain.CertificateRecord{records[1], records[2]})
	require.ErrorIs(t, err, domain.ErrChainBroken)
}

func TestCertificateLedger_TamperedSignedField(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alpha := tenant(t, "hospital-alpha")
	records := issue(t, f, alpha, 2)

	tampered := records[1]
	tampered.ModelVersion = "v2"
	err := usecase.VerifyCertificateSequence([]domain.CertificateRecord{records[0], tampered})
	require.ErrorIs(t, err, domain.ErrHashMismatch)

	key, err := f.reg.GetKeyByID(ctx, alpha, tampered.Signature.KeyID)
	require.NoError(t, err)
	result := usecase.VerifyCertificate(tampered, key, &usecase.CertificateLink{Predecessor: &records[0]})
	assert.False(t, result.Valid)
	var codes []string
	for _, failure := range result.Failures {
		codes = append(codes, failure.Error)
	}
	assert.Contains(t, codes, "hash_mismatch")
}

func TestCertificateLedger_PatientHashIsNotSigned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alpha := tenant(t, "hospital-alpha")

	record, err := f.ledger.Issue(ctx, alpha, usecase.IssueCertificateRequest{
		Content:     sampleContent(),
		PatientHash: "sha256:" + digest("7"),
	})
	require.NoError(t, err)
	key, err := f.reg.GetKeyByID(ctx, alpha, record.Signature.KeyID)
	require.NoError(t, err)

	record.ExtraUnsignedFields = map[string]string{
		"patient_hash": "sha256:" + digest("8"),
		"nonce":        record.ExtraUnsignedFields["nonce"],
	}
	result := usecase.VerifyCertificate(record, key, &usecase.CertificateLink{})
	assert.True(t, result.Valid, "%+v", result.Failures)

	record.ExtraUnsignedFields["model_version"] = "v9"
	result = usecase.VerifyCertificate(record, key, &usecase.CertificateLink{})
	assert.False(t, result.Valid)
	assert.Equal(t, "schema_violation", result.Failures[0].Error)
}

func TestCertificateLedger_NonceReplayLeavesChainUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alpha := tenant(t, "hospital-alpha")

	_, err := f.ledger.Issue(ctx, alpha, usecase.IssueCertificateRequest{Content: sampleContent(), Nonce: "n-42"})
	require.NoError(t, err)
	_, err = f.ledger.Issue(ctx, alpha, usecase.IssueCertificateRequest{Content: sampleContent(), Nonce: "n-42"})
	require.ErrorIs(t, err, domain.ErrNonceReplay)

	records, err := f.certs.ListByTenant(ctx, "hospital-alpha")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestCertificateLedger_SchemaViolation(t *testing.T) {
	f := newFixture(t)
	content := sampleContent()
	content.NoteHash = digest("a")

	_, err := f.ledger.Issue(context.Background(), tenant(t, "hospital-alpha"), usecase.IssueCertificateRequest{Content: content})
	require.ErrorIs(t, err, domain.ErrSchemaViolation)

	_, err = f.ledger.Issue(context.Background(), domain.TenantID{}, usecase.IssueCertificateRequest{Content: sampleContent()})
	require.ErrorIs(t, err, domain.ErrTenantBindingMissing)
}

func TestCertificateLedger_RetriesLostHeadRace(t *testing.T) {
	f := newFixture(t)
	store := &racingStore{CertificateStore: f.certs, losses: 2}
	f.ledger.Store = store
	f.ledger.MaxRetries = 5

	record, err := f.ledger.Issue(context.Background(), tenant(t, "hospital-alpha"), usecase.IssueCertificateRequest{Content: sampleContent()})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&store.attempts))
	assert.Equal(t, int64(1), record.Seq)
}

func TestCertificateLedger_GivesUpAfterMaxRetries(t *testing.T) {
	f := newFixture(t)
	store := &racingStore{CertificateStore: f.certs, losses: 100}
	f.ledger.Store = store
	f.ledger.MaxRetries = 3

	_, err := f.ledger.Issue(context.Background(), tenant(t, "hospital-alpha"), usecase.IssueCertificateRequest{Content: sampleContent()})
	require.ErrorIs(t, err, domain.ErrConcurrentChainAdvance)
	assert.Equal(t, int32(3), atomic.LoadInt32(&store.attempts))
}

func TestCertificateLedger_NonceReleasedWhenRetriesExhausted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alpha := tenant(t, "hospital-alpha")
	f.ledger.Store = &racingStore{CertificateStore: f.certs, losses: 100}
	f.ledger.MaxRetries = 2

	req := usecase.IssueCertificateRequest{Content: sampleContent(), Nonce: "n-retry"}
	_, err := f.ledger.Issue(ctx, alpha, req)
	require.ErrorIs(t, err, domain.ErrConcurrentChainAdvance)

	f.ledger.Store = f.certs
	record, err := f.ledger.Issue(ctx, alpha, req)
	require.NoError(t, err)
	assert.Equal(t, "n-retry", record.ExtraUnsignedFields["nonce"])

	_, err = f.ledger.Issue(ctx, alpha, req)
	require.ErrorIs(t, err, domain.ErrNonceReplay)
}

func TestCertificateLedger_NonceKeptWhenAppendOutcomeUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alpha := tenant(t, "hospital-alpha")
	f.ledger.Store = &failingStore{CertificateStore: f.certs, err: errors.New("connection reset")}

	req := usecase.IssueCertificateRequest{Content: sampleContent(), Nonce: "n-unknown"}
	_, err := f.ledger.Issue(ctx, alpha, req)
	require.Error(t, err)

	f.ledger.Store = f.certs
	_, err = f.ledger.Issue(ctx, alpha, req)
	require.ErrorIs(t, err, domain.ErrNonceReplay)
}

func TestCertificateLedger_ConcurrentIssuanceStaysLinear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alpha := tenant(t, "hospital-alpha")

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.ledger.Issue(ctx, alpha, usecase.IssueCertificateRequest{Content: sampleContent()})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	records, err := f.certs.ListByTenant(ctx, "hospital-alpha")
	require.NoError(t, err)
	require.Len(t, records, workers)
	require.NoError(t, usecase.VerifyCertificateSequence(records))
}

func TestCertificateLedger_TenantIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alpha := tenant(t, "hospital-alpha")
	beta := tenant(t, "hospital-beta")

	a := issue(t, f, alpha, 2)
	b := issue(t, f, beta, 1)
	assert.Nil(t, b[0].PreviousHash, "each tenant has its own genesis")
	assert.NotEqual(t, a[0].Signature.KeyID, b[0].Signature.KeyID)

	_, err := f.ledger.Get(ctx, beta, a[0].CertificateID)
	require.True(t, errors.Is(err, domain.ErrNotFound))

	alphaKey, err := f.reg.GetKeyByID(ctx, alpha, a[0].Signature.KeyID)
	require.NoError(t, err)
	forged := b[0]
	forged.Signature = a[0].Signature
	result := usecase.VerifyCertificate(forged, alphaKey, nil)
	assert.False(t, result.Valid)
}

// The end-to-end flow a hospital integration goes through: issue, verify,
// package evidence, verify the evidence offline, then tamper.
func TestCertificateLedger_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alpha := tenant(t, "hospital-alpha")

	record, err := f.ledger.Issue(ctx, alpha, usecase.IssueCertificateRequest{Content: sampleContent()})
	require.NoError(t, err)

	result, err := f.ledger.Verify(ctx, alpha, record.CertificateID)
	require.NoError(t, err)
	require.True(t, result.Valid)

	key, err := f.reg.GetKeyByID(ctx, alpha, record.Signature.KeyID)
	require.NoError(t, err)
	bundle, err := usecase.BuildEvidence(record, *key)
	require.NoError(t, err)
	assert.Contains(t, bundle.PublicKeyPEM, "BEGIN PUBLIC KEY")

	offline, err := usecase.VerifyEvidence(bundle)
	require.NoError(t, err)
	assert.True(t, offline.Valid, "%+v", offline.Failures)

	bundle.Certificate.NoteHash = "sha256:" + digest("b")
	offline, err = usecase.VerifyEvidence(bundle)
	require.NoError(t, err)
	assert.False(t, offline.Valid)
}

func TestVerifyEvidence_SubstitutedKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alpha := tenant(t, "hospital-alpha")

	record, err := f.ledger.Issue(ctx, alpha, usecase.IssueCertificateRequest{Content: sampleContent()})
	require.NoError(t, err)
	key, err := f.reg.GetKeyByID(ctx, alpha, record.Signature.KeyID)
	require.NoError(t, err)
	bundle, err := usecase.BuildEvidence(record, *key)
	require.NoError(t, err)

	other, err := f.reg.GetActiveKey(ctx, tenant(t, "hospital-beta"))
	require.NoError(t, err)
	otherPublic, err := f.reg.GetKeyByID(ctx, tenant(t, "hospital-beta"), other.KeyID())
	require.NoError(t, err)
	bundle.PublicKeyPEM = otherPublic.PEM()

	offline, err := usecase.VerifyEvidence(bundle)
	require.NoError(t, err)
	assert.False(t, offline.Valid)
}
