package domain

import (
	"sort"
	"strings"
	"time"
)

const DigestPrefix = "sha256:"

// CertificateField declares one certificate field and whether it is covered
// by the chain hash, and therefore by the signature. Unsigned fields are
// informational: stored and exported, never signed.
type CertificateField struct {
	Name   string
	Signed bool
}

var CertificateFields = []CertificateField{
	{Name: "certificate_id", Signed: true},
	{Name: "tenant_id", Signed: true},
	{Name: "issued_at", Signed: true},
	{Name: "note_hash", Signed: true},
	{Name: "model_name", Signed: true},
	{Name: "model_version", Signed: true},
	{Name: "prompt_version", Signed: true},
	{Name: "governance_policy_version", Signed: true},
	{Name: "policy_version_hash", Signed: true},
	{Name: "human_reviewed", Signed: true},
	{Name: "human_reviewer_id_hash", Signed: true},
	{Name: "encounter_id_hash", Signed: true},
	// patient_hash is deliberately outside the signed scope.
	{Name: "patient_hash", Signed: false},
	{Name: "nonce", Signed: false},
}

func IsUnsignedCertificateField(name string) bool {
	for _, field := range CertificateFields {
		if field.Name == name {
			return !field.Signed
		}
	}
	return false
}

// CertificateContent is the attested content of a certificate.
type CertificateContent struct {
	NoteHash                string `json:"note_hash"`
	ModelName               string `json:"model_name"`
	ModelVersion            string `json:"model_version"`
	PromptVersion           string `json:"prompt_version"`
	GovernancePolicyVersion string `json:"governance_policy_version"`
	PolicyVersionHash       string `json:"policy_version_hash"`
	HumanReviewed           bool   `json:"human_reviewed"`
	HumanReviewerIDHash     string `json:"human_reviewer_id_hash"`
	EncounterIDHash         string `json:"encounter_id_hash"`
}

func (c CertificateContent) Validate() error {
	if !IsPrefixedDigest(c.NoteHash) {
		return schemaError("note_hash must be sha256:<hex>")
	}
	if strings.TrimSpace(c.ModelVersion) == "" {
		return schemaError("model_version is required")
	}
	if !IsHexDigest(c.PolicyVersionHash) {
		return schemaError("policy_version_hash must be a lowercase hex sha256 digest")
	}
	if c.HumanReviewerIDHash != "" && !IsPrefixedDigest(c.HumanReviewerIDHash) {
		return schemaError("human_reviewer_id_hash must be sha256:<hex>")
	}
	if c.EncounterIDHash != "" && !IsPrefixedDigest(c.EncounterIDHash) {
		return schemaError("encounter_id_hash must be sha256:<hex>")
	}
	return nil
}

// Fields returns the content fields as a generic tree.
func (c CertificateContent) Fields() map[string]any {
	return map[string]any{
		"note_hash":                 c.NoteHash,
		"model_name":                c.ModelName,
		"model_version":             c.ModelVersion,
		"prompt_version":            c.PromptVersion,
		"governance_policy_version": c.GovernancePolicyVersion,
		"policy_version_hash":       c.PolicyVersionHash,
		"human_reviewed":            c.HumanReviewed,
		"human_reviewer_id_hash":    c.HumanReviewerIDHash,
		"encounter_id_hash":         c.EncounterIDHash,
	}
}

type CertificateRecord struct {
	CertificateID string `json:"certificate_id"`
	TenantID      string `json:"tenant_id"`
	Seq           int64  `json:"seq"`
	IssuedAt      string `json:"issued_at"`
	CertificateContent
	ContentHash         string            `json:"content_hash"`
	ChainHash           string            `json:"chain_hash"`
	PreviousHash        *string           `json:"previous_hash"`
	Signature           Signature         `json:"signature"`
	ExtraUnsignedFields map[string]string `json:"extra_unsigned_fields,omitempty"`
}

// SignedFields returns every field flagged Signed, keyed by name.
func (r CertificateRecord) SignedFields() map[string]any {
	content := r.CertificateContent.Fields()
	out := make(map[string]any, len(CertificateFields))
	for _, field := range CertificateFields {
		if !field.Signed {
			continue
		}
		switch field.Name {
		case "certificate_id":
			out[field.Name] = r.CertificateID
		case "tenant_id":
			out[field.Name] = r.TenantID
		case "issued_at":
			out[field.Name] = r.IssuedAt
		default:
			out[field.Name] = content[field.Name]
		}
	}
	return out
}

// ValidateUnsignedFields rejects extra fields that are not declared unsigned.
func (r CertificateRecord) ValidateUnsignedFields() error {
	names := make([]string, 0, len(r.ExtraUnsignedFields))
	for name := range r.ExtraUnsignedFields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !IsUnsignedCertificateField(name) {
			return schemaError("field %s is not a declared unsigned certificate field", name)
		}
	}
	return nil
}

type ChainHead struct {
	TenantID  string
	HeadHash  string
	Seq       int64
	UpdatedAt time.Time
}

type VerificationFailure struct {
	Check    string `json:"check"`
	Error    string `json:"error"`
	Expected string `json:"expected,omitempty"`
	Computed string `json:"computed,omitempty"`
}

type CertificateVerification struct {
	Valid         bool                  `json:"valid"`
	CertificateID string                `json:"certificate_id"`
	TenantID      string                `json:"tenant_id"`
	Checks        []string              `json:"checks"`
	Failures      []VerificationFailure `json:"failures"`
	KeyStatus     KeyStatus             `json:"key_status,omitempty"`
}

type ChainFailure struct {
	CertificateID string `json:"certificate_id"`
	Index         int    `json:"index"`
	Error         string `json:"error"`
	Expected      string `json:"expected,omitempty"`
	Computed      string `json:"computed,omitempty"`
}

type ChainVerification struct {
	Valid                bool           `json:"valid"`
	TenantID             string         `json:"tenant_id"`
	TotalCertificates    int            `json:"total_certificates"`
	VerifiedCertificates int            `json:"verified_certificates"`
	HeadHash             string         `json:"head_hash,omitempty"`
	Failures             []ChainFailure `json:"failures"`
}

// EvidenceBundle is what an external packager needs for offline checks:
// the record, the exact signed bytes and the public key.
type EvidenceBundle struct {
	Certificate            CertificateRecord `json:"certificate"`
	CanonicalMessage       string            `json:"canonical_message"`
	CanonicalMessageBase64 string            `json:"canonical_message_b64"`
	CanonicalMessageSHA256 string            `json:"canonical_message_sha256"`
	KeyID                  string            `json:"key_id"`
	Algorithm              string            `json:"algorithm"`
	PublicKeyPEM           string            `json:"public_key_pem"`
}

// IsPrefixedDigest reports whether value is "sha256:" followed by a hex digest.
func IsPrefixedDigest(value string) bool {
	return strings.HasPrefix(value, DigestPrefix) && IsHexDigest(strings.TrimPrefix(value, DigestPrefix))
}
