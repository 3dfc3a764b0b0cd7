package domain

import "strings"

// TenantID is an explicit tenant binding. The zero value is not a valid
// tenant; every signing and verification entry point rejects it.
type TenantID struct {
	value string
}

func NewTenantID(raw string) (TenantID, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return TenantID{}, ErrTenantBindingMissing
	}
	return TenantID{value: value}, nil
}

func (t TenantID) String() string {
	return t.value
}

func (t TenantID) IsZero() bool {
	return t.value == ""
}

// Require returns ErrTenantBindingMissing for the zero value.
func (t TenantID) Require() error {
	if t.IsZero() {
		return ErrTenantBindingMissing
	}
	return nil
}

func (t TenantID) MarshalText() ([]byte, error) {
	if t.IsZero() {
		return nil, ErrTenantBindingMissing
	}
	return []byte(t.value), nil
}

func (t *TenantID) UnmarshalText(text []byte) error {
	parsed, err := NewTenantID(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
