package domain

import "time"

type KeyStatus string

const (
	KeyStatusActive      KeyStatus = "active"
	KeyStatusRotated     KeyStatus = "rotated"
	KeyStatusCompromised KeyStatus = "compromised"
)

func (s KeyStatus) Valid() bool {
	switch s {
	case KeyStatusActive, KeyStatusRotated, KeyStatusCompromised:
		return true
	}
	return false
}

// TenantKeyRecord is the stored form of a tenant signing key. PrivateKey is
// PKCS#8 DER and PublicKey is PKIX DER.
type TenantKeyRecord struct {
	TenantID   string
	KeyID      string
	Algorithm  string
	Status     KeyStatus
	PrivateKey []byte
	PublicKey  []byte
	CreatedAt  time.Time
	RetiredAt  *time.Time
}

type PublicKeyInfo struct {
	TenantID     string    `json:"tenant_id"`
	KeyID        string    `json:"key_id"`
	Algorithm    string    `json:"algorithm"`
	Status       KeyStatus `json:"status"`
	PublicKeyPEM string    `json:"public_key_pem"`
	CreatedAt    time.Time `json:"created_at"`
}
