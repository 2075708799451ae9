// Package models - key_usage_log.go defines the KeyUsageLog model for the
// append-only audit of key lifecycle calls, capturing the acting identity,
// outcome, rejection reason, and network origin. Audit rows are never
// consulted for authorization decisions; authorization state lives solely on
// the DigitalKey record.
package models

import "time"

// Key lifecycle actions recorded in the usage log.
const (
	KeyActionGenerate = "key.generate"
	KeyActionUse      = "key.use"
	KeyActionRotate   = "key.rotate"
	KeyActionRevoke   = "key.revoke"
	KeyActionGet      = "key.get"
)

// KeyUsageLog represents one audit entry for a key lifecycle call
type KeyUsageLog struct {
	ID        string                 `json:"id"`
	KeyID     *string                `json:"key_id,omitempty"` // nullable: generation failures have no key yet
	UserID    *string                `json:"user_id,omitempty"`
	Action    string                 `json:"action"`
	Success   bool                   `json:"success"`
	Reason    *string                `json:"reason,omitempty"`
	IPAddress *string                `json:"ip_address,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"` // JSONB: additional context
	CreatedAt time.Time              `json:"created_at"`
}
