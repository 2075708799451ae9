// Package models - download_token.go defines the DownloadToken model: a
// short-lived capability that authorizes retrieval of exactly one protected
// resource. The opaque token value handed to the user is never stored; only
// its SHA-256 digest (TokenHash) is, so a database leak does not yield
// redeemable tokens.
package models

import "time"

// Resource types a download token can authorize.
const (
	ResourceTypeLicenseKey = "license_key"
	ResourceTypeInstaller  = "installer"
	ResourceTypeDocument   = "document"
)

// DownloadToken represents a stored download capability
type DownloadToken struct {
	ID               string     `db:"id" json:"id"`
	TokenHash        string     `db:"token_hash" json:"-"`
	ResourceID       string     `db:"resource_id" json:"resource_id"`
	ResourceType     string     `db:"resource_type" json:"resource_type"`
	UserID           string     `db:"user_id" json:"user_id"`
	FileName         *string    `db:"file_name" json:"file_name,omitempty"`
	FileSize         *int64     `db:"file_size" json:"file_size,omitempty"`
	Checksum         *string    `db:"checksum" json:"checksum,omitempty"`
	MaxDownloads     int        `db:"max_downloads" json:"max_downloads"`
	CurrentDownloads int        `db:"current_downloads" json:"current_downloads"`
	IPAllowlist      []string   `db:"-" json:"ip_allowlist,omitempty"` // JSONB, marshalled by the repository
	IsConsumed       bool       `db:"is_consumed" json:"is_consumed"`
	RevokedAt        *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt        time.Time  `db:"expires_at" json:"expires_at"`
	LastUsedAt       *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
}

// IPAllowed reports whether ip may redeem this token. An empty allow-list
// admits every address.
func (t *DownloadToken) IPAllowed(ip string) bool {
	if len(t.IPAllowlist) == 0 {
		return true
	}
	for _, allowed := range t.IPAllowlist {
		if allowed == ip {
			return true
		}
	}
	return false
}
