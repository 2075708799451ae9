// Package models - download_attempt.go defines the DownloadAttempt model for
// the append-only audit of token validations and consumptions, success or
// failure, with the failure reason when applicable.
package models

import "time"

// DownloadAttempt represents one audit entry for a token validation or
// consumption attempt
type DownloadAttempt struct {
	ID         string    `db:"id" json:"id"`
	TokenID    *string   `db:"token_id" json:"token_id,omitempty"` // nullable: unknown tokens have no record
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Success    bool      `db:"success" json:"success"`
	Reason     *string   `db:"reason" json:"reason,omitempty"`
	IPAddress  *string   `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent  *string   `db:"user_agent" json:"user_agent,omitempty"`
	BytesSent  *int64    `db:"bytes_sent" json:"bytes_sent,omitempty"`
	DurationMs *int64    `db:"duration_ms" json:"duration_ms,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
