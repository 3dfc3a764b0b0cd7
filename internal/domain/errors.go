package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSchemaViolation        = errors.New("schema violation")
	ErrTenantBindingMissing   = errors.New("tenant binding missing")
	ErrKeyNotFound            = errors.New("key not found")
	ErrSignatureInvalid       = errors.New("signature invalid")
	ErrChainBroken            = errors.New("chain broken")
	ErrHashMismatch           = errors.New("hash mismatch")
	ErrNonceReplay            = errors.New("nonce replay")
	ErrConcurrentChainAdvance = errors.New("concurrent chain advance")
	ErrNotFound               = errors.New("not found")
	ErrInvalidInput           = errors.New("invalid input")
	ErrConflict               = errors.New("conflict")
	ErrUnauthorized           = errors.New("unauthorized")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrSchemaViolation, "schema_violation"},
	{ErrTenantBindingMissing, "tenant_binding_missing"},
	{ErrKeyNotFound, "key_not_found"},
	{ErrSignatureInvalid, "signature_invalid"},
	{ErrChainBroken, "chain_broken"},
	{ErrHashMismatch, "hash_mismatch"},
	{ErrNonceReplay, "nonce_replay"},
	{ErrConcurrentChainAdvance, "concurrent_chain_advance"},
	{ErrNotFound, "not_found"},
	{ErrInvalidInput, "invalid_input"},
	{ErrConflict, "conflict"},
	{ErrUnauthorized, "unauthorized"},
}

// ErrorCode returns the stable machine code for err, or "internal" when err
// does not wrap a known kind.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return "internal"
}

// IntegrityError describes a single integrity failure. It carries identifiers,
// hashes and timestamps only; record content never appears in it.
type IntegrityError struct {
	Kind      error
	RecordID  string
	Index     int
	Expected  string
	Computed  string
	Timestamp string
	Detail    string
}

func (e *IntegrityError) Error() string {
	var b strings.Builder
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("integrity failure")
	}
	if e.RecordID != "" {
		fmt.Fprintf(&b, " (record %s, index %d)", e.RecordID, e.Index)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Expected != "" || e.Computed != "" {
		fmt.Fprintf(&b, " expected=%s computed=%s", e.Expected, e.Computed)
	}
	return b.String()
}

func (e *IntegrityError) Unwrap() error {
	return e.Kind
}

func schemaError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSchemaViolation, fmt.Sprintf(format, args...))
}
