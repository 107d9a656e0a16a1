package domain

import "time"

// Reservation is the proof of one claimed quota unit. The dispatcher
// must hand its token back through the outcome reporter exactly once;
// the ledger rejects unknown and already-consumed tokens.
type Reservation struct {
	Token     string     `json:"token"`
	AccountID string     `json:"account_id"`
	TenantID  string     `json:"tenant_id"`
	Platform  Platform   `json:"platform"`
	Action    ActionType `json:"action"`
	IssuedAt  time.Time  `json:"issued_at"`
}
