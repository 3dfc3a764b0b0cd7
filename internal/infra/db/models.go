package db

import "time"

type SigningKeyModel struct {
	TenantID   string    `gorm:"primaryKey"`
	KeyID      string    `gorm:"column:key_id;primaryKey"`
	Algorithm  string    `gorm:"not null"`
	Status     string    `gorm:"not null"`
	PrivateKey []byte    `gorm:"type:bytea;not null"`
	PublicKey  []byte    `gorm:"type:bytea;not null"`
	CreatedAt  time.Time `gorm:"not null"`
	RetiredAt  *time.Time
}

func (SigningKeyModel) TableName() string {
	return "signing_keys"
}

type NonceModel struct {
	TenantID   string    `gorm:"primaryKey"`
	Value      string    `gorm:"primaryKey"`
	ConsumedAt time.Time `gorm:"not null"`
}

func (NonceModel) TableName() string {
	return "nonces"
}

type CertificateModel struct {
	CertificateID           string `gorm:"primaryKey"`
	TenantID                string `gorm:"index;not null"`
	Seq                     int64  `gorm:"not null"`
	IssuedAt                string `gorm:"not null"`
	NoteHash                string `gorm:"not null"`
	ModelName               string `gorm:"not null"`
	ModelVersion            string `gorm:"not null"`
	PromptVersion           string `gorm:"not null"`
	GovernancePolicyVersion string `gorm:"not null"`
	PolicyVersionHash       string `gorm:"not null"`
	HumanReviewed           bool   `gorm:"not null"`
	HumanReviewerIDHash     string `gorm:"column:human_reviewer_id_hash;not null"`
	EncounterIDHash         string `gorm:"column:encounter_id_hash;not null"`
	ContentHash             string `gorm:"not null"`
	ChainHash               string `gorm:"not null"`
	PreviousHash            *string
	SignatureAlgorithm      string `gorm:"not null"`
	SignatureKeyID          string `gorm:"column:signature_key_id;not null"`
	Signature               string `gorm:"not null"`
	PatientHash             *string
	Nonce                   *string
	CreatedAt               time.Time `gorm:"not null"`
}

func (CertificateModel) TableName() string {
	return "certificates"
}

type ChainHeadModel struct {
	TenantID  string    `gorm:"primaryKey"`
	HeadHash  string    `gorm:"not null"`
	Seq       int64     `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (ChainHeadModel) TableName() string {
	return "certificate_chain_heads"
}

// AuditEventModel keeps the serialized payload as TEXT so the hashed bytes
// are stored exactly.
type AuditEventModel struct {
	EventID       string    `gorm:"primaryKey"`
	TenantID      string    `gorm:"index;not null"`
	Seq           int64     `gorm:"not null"`
	OccurredAt    time.Time `gorm:"not null"`
	ObjectType    string    `gorm:"not null"`
	ObjectID      string    `gorm:"column:object_id;not null"`
	Action        string    `gorm:"not null"`
	PayloadJSON   string    `gorm:"column:payload_serialized;type:text;not null"`
	PrevEventHash *string
	EventHash     string `gorm:"not null"`
}

func (AuditEventModel) TableName() string {
	return "audit_events"
}

type AuditSeqModel struct {
	TenantID string `gorm:"primaryKey"`
	Seq      int64  `gorm:"not null"`
}

func (AuditSeqModel) TableName() string {
	return "tenant_audit_seq"
}
