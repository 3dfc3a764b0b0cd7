package domain

import "time"

type Nonce struct {
	TenantID   string
	Value      string
	ConsumedAt time.Time
}
