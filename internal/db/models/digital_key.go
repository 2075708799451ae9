// Package models defines the database model types for the key protection
// service. Each type corresponds to a database table and uses struct tags for
// both JSON serialization and sqlx row scanning. Models are pure data types —
// business logic belongs in the service layer, query logic belongs in the
// repositories layer.
package models

import "time"

// Key types recognised at issuance. The type selects the human-readable
// prefix of the generated plaintext secret.
const (
	KeyTypeLicense    = "license"
	KeyTypeActivation = "activation"
	KeyTypeDownload   = "download"
)

// DigitalKey represents an envelope-encrypted license/activation secret at
// rest. The plaintext secret is never persisted; ciphertext, IV, auth tag,
// and key-derivation salt together form the encrypted envelope, and
// Fingerprint indexes the envelope without exposing the plaintext.
type DigitalKey struct {
	ID            string            `db:"id" json:"id"`
	ProductID     string            `db:"product_id" json:"product_id"`
	UserID        string            `db:"user_id" json:"user_id"`
	KeyType       string            `db:"key_type" json:"key_type"`
	Algorithm     string            `db:"algorithm" json:"algorithm"`
	FormatVersion int               `db:"format_version" json:"format_version"`
	Fingerprint   string            `db:"fingerprint" json:"fingerprint"`
	KeySalt       []byte            `db:"key_salt" json:"-"`
	IV            []byte            `db:"iv" json:"-"`
	Ciphertext    []byte            `db:"ciphertext" json:"-"`
	AuthTag       []byte            `db:"auth_tag" json:"-"`
	Metadata      map[string]string `db:"-" json:"metadata,omitempty"` // JSONB, marshalled by the repository
	MaxUses       int               `db:"max_uses" json:"max_uses"`
	CurrentUses   int               `db:"current_uses" json:"current_uses"`
	IsActive      bool              `db:"is_active" json:"is_active"`
	ExpiresAt     *time.Time        `db:"expires_at" json:"expires_at,omitempty"`
	RevokedAt     *time.Time        `db:"revoked_at" json:"revoked_at,omitempty"`
	RevokedReason *string           `db:"revoked_reason" json:"revoked_reason,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`
}

// RemainingUses returns how many successful usage validations the key has left.
func (k *DigitalKey) RemainingUses() int {
	remaining := k.MaxUses - k.CurrentUses
	if remaining < 0 {
		return 0
	}
	return remaining
}
