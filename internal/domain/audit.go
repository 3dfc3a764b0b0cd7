package domain

import "time"

type AuditAction string

const (
	AuditActionCreate            AuditAction = "create"
	AuditActionEdit              AuditAction = "edit"
	AuditActionFinalize          AuditAction = "finalize"
	AuditActionAttest            AuditAction = "attest"
	AuditActionDeleteRequest     AuditAction = "delete_request"
	AuditActionCertificateIssued AuditAction = "certificate_issued"
	AuditActionKeyRotated        AuditAction = "key_rotated"
	AuditActionKeyCompromised    AuditAction = "key_compromised"
)

func (a AuditAction) Valid() bool {
	switch a {
	case AuditActionCreate, AuditActionEdit, AuditActionFinalize, AuditActionAttest, AuditActionDeleteRequest,
		AuditActionCertificateIssued, AuditActionKeyRotated, AuditActionKeyCompromised:
		return true
	}
	return false
}

const (
	AuditObjectCertificate = "certificate"
	AuditObjectSigningKey  = "signing_key"
	AuditObjectNote        = "clinical_note"
)

// AuditEvent is one ledger entry. Payload holds the serialized payload text
// exactly as it was hashed.
type AuditEvent struct {
	EventID       string      `json:"event_id"`
	TenantID      string      `json:"tenant_id"`
	Seq           int64       `json:"seq"`
	OccurredAt    time.Time   `json:"occurred_at"`
	ObjectType    string      `json:"object_type"`
	ObjectID      string      `json:"object_id"`
	Action        AuditAction `json:"action"`
	Payload       string      `json:"payload_serialized"`
	PrevEventHash *string     `json:"prev_event_hash"`
	EventHash     string      `json:"event_hash"`
}

type LedgerError struct {
	EventID   string `json:"event_id"`
	TenantID  string `json:"tenant_id"`
	Index     int    `json:"index"`
	Error     string `json:"error"`
	Expected  string `json:"expected"`
	Computed  string `json:"computed"`
	Timestamp string `json:"timestamp"`
}

const (
	LedgerErrorHashMismatch = "hash_mismatch"
	LedgerErrorChainBreak   = "chain_break"
)

type LedgerReport struct {
	Valid          bool           `json:"valid"`
	TotalEvents    int            `json:"total_events"`
	VerifiedEvents int            `json:"verified_events"`
	TenantCount    int            `json:"tenant_count"`
	TenantCounts   map[string]int `json:"tenant_counts"`
	Errors         []LedgerError  `json:"errors"`
}
