package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

const SignatureAlgorithm = "ECDSA_SHA_256"

// TimestampLayout is the single rendering used for every timestamp that is
// hashed or signed. Storage keeps microsecond precision, so six fractional
// digits survive a round trip unchanged.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Microsecond).Format(TimestampLayout)
}

var canonicalMessageFields = []string{"final_hash", "policy_version_hash", "timestamp", "transaction_id"}

// CanonicalMessage is the only structure that is ever signed.
type CanonicalMessage struct {
	TransactionID     string `json:"transaction_id"`
	Timestamp         string `json:"timestamp"`
	FinalHash         string `json:"final_hash"`
	PolicyVersionHash string `json:"policy_version_hash"`
}

func NewCanonicalMessage(transactionID, timestamp, finalHash, policyVersionHash string) (CanonicalMessage, error) {
	msg := CanonicalMessage{
		TransactionID:     transactionID,
		Timestamp:         timestamp,
		FinalHash:         finalHash,
		PolicyVersionHash: policyVersionHash,
	}
	if err := msg.Validate(); err != nil {
		return CanonicalMessage{}, err
	}
	return msg, nil
}

// CanonicalMessageFromFields builds a message from a loosely typed field set.
// Any field set other than exactly the four message fields is rejected.
func CanonicalMessageFromFields(fields map[string]any) (CanonicalMessage, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	if strings.Join(names, ",") != strings.Join(canonicalMessageFields, ",") {
		return CanonicalMessage{}, schemaError("canonical message fields must be exactly [%s], got [%s]",
			strings.Join(canonicalMessageFields, ", "), strings.Join(names, ", "))
	}
	values := make(map[string]string, len(fields))
	for _, name := range names {
		value, ok := fields[name].(string)
		if !ok {
			return CanonicalMessage{}, schemaError("canonical message field %s must be a string", name)
		}
		values[name] = value
	}
	return NewCanonicalMessage(values["transaction_id"], values["timestamp"], values["final_hash"], values["policy_version_hash"])
}

func (m CanonicalMessage) Validate() error {
	if strings.TrimSpace(m.TransactionID) == "" {
		return schemaError("transaction_id is required")
	}
	if !utf8.ValidString(m.TransactionID) {
		return schemaError("transaction_id must be valid UTF-8")
	}
	if err := validateTimestamp(m.Timestamp); err != nil {
		return err
	}
	if !IsHexDigest(m.FinalHash) {
		return schemaError("final_hash must be a lowercase hex sha256 digest")
	}
	if !IsHexDigest(m.PolicyVersionHash) {
		return schemaError("policy_version_hash must be a lowercase hex sha256 digest")
	}
	return nil
}

// Fields returns the message as a generic tree for canonicalization.
func (m CanonicalMessage) Fields() map[string]any {
	return map[string]any{
		"transaction_id":      m.TransactionID,
		"timestamp":           m.Timestamp,
		"final_hash":          m.FinalHash,
		"policy_version_hash": m.PolicyVersionHash,
	}
}

func (m *CanonicalMessage) UnmarshalJSON(data []byte) error {
	// Decoding would turn invalid bytes into U+FFFD before Validate sees them.
	if !utf8.Valid(data) {
		return schemaError("canonical message must be valid UTF-8")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return schemaError("canonical message must be a JSON object: %v", err)
	}
	msg, err := CanonicalMessageFromFields(fields)
	if err != nil {
		return err
	}
	*m = msg
	return nil
}

type Signature struct {
	Algorithm string `json:"algorithm"`
	KeyID     string `json:"key_id"`
	Value     string `json:"signature"`
}

type SignedEnvelope struct {
	CanonicalMessage CanonicalMessage `json:"canonical_message"`
	Signature        Signature        `json:"signature"`
}

func validateTimestamp(value string) error {
	if value == "" {
		return schemaError("timestamp is required")
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return schemaError("timestamp must be ISO-8601: %v", err)
	}
	if !strings.HasSuffix(value, "Z") || parsed.Location() != time.UTC {
		return schemaError("timestamp must be UTC")
	}
	return nil
}

// IsHexDigest reports whether value is a 64 character lowercase hex string.
func IsHexDigest(value string) bool {
	if len(value) != 64 {
		return false
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func ParseTimestamp(value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrInvalidInput, value)
	}
	return parsed.UTC(), nil
}
