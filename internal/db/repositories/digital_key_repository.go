// digital_key_repository.go implements DigitalKeyRepository, providing database
// queries for envelope-encrypted key records including the atomic conditional
// usage increment that backs usage validation.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/db/models"
)

const digitalKeyColumns = `id, product_id, user_id, key_type, algorithm, format_version, fingerprint,
		key_salt, iv, ciphertext, auth_tag, metadata, max_uses, current_uses, is_active,
		expires_at, revoked_at, revoked_reason, created_at, updated_at`

// DigitalKeyRepository handles digital key database operations
type DigitalKeyRepository struct {
	db *sql.DB
}

// NewDigitalKeyRepository creates a new DigitalKeyRepository
func NewDigitalKeyRepository(db *sql.DB) *DigitalKeyRepository {
	return &DigitalKeyRepository{db: db}
}

// CreateDigitalKey inserts a new key record, assigning its ID and timestamps
func (r *DigitalKeyRepository) CreateDigitalKey(ctx context.Context, key *models.DigitalKey) error {
	key.ID = uuid.New().String()
	key.CreatedAt = time.Now()
	key.UpdatedAt = key.CreatedAt

	metadataJSON, err := marshalMetadata(key.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO digital_keys (id, product_id, user_id, key_type, algorithm, format_version, fingerprint,
			key_salt, iv, ciphertext, auth_tag, metadata, max_uses, current_uses, is_active,
			expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err = r.db.ExecContext(ctx, query,
		key.ID,
		key.ProductID,
		key.UserID,
		key.KeyType,
		key.Algorithm,
		key.FormatVersion,
		key.Fingerprint,
		key.KeySalt,
		key.IV,
		key.Ciphertext,
		key.AuthTag,
		metadataJSON,
		key.MaxUses,
		key.CurrentUses,
		key.IsActive,
		key.ExpiresAt,
		key.CreatedAt,
		key.UpdatedAt,
	)

	return err
}

// GetDigitalKey retrieves a key by ID, returning nil when no record exists
func (r *DigitalKeyRepository) GetDigitalKey(ctx context.Context, keyID string) (*models.DigitalKey, error) {
	query := `SELECT ` + digitalKeyColumns + ` FROM digital_keys WHERE id = $1`
	return r.scanDigitalKey(r.db.QueryRowContext(ctx, query, keyID))
}

// GetDigitalKeyByFingerprint retrieves a key by its envelope fingerprint
func (r *DigitalKeyRepository) GetDigitalKeyByFingerprint(ctx context.Context, fingerprint string) (*models.DigitalKey, error) {
	query := `SELECT ` + digitalKeyColumns + ` FROM digital_keys WHERE fingerprint = $1`
	return r.scanDigitalKey(r.db.QueryRowContext(ctx, query, fingerprint))
}

// ConsumeUsage atomically increments the key's usage counter if and only if
// the key is active, unrevoked, unexpired, and below its usage limit. It
// returns the updated key on success and nil when the guard rejected the
// increment; concurrent callers can never push current_uses past max_uses
// because the check and the increment are a single statement.
func (r *DigitalKeyRepository) ConsumeUsage(ctx context.Context, keyID string) (*models.DigitalKey, error) {
	query := `
		UPDATE digital_keys
		SET current_uses = current_uses + 1, updated_at = NOW()
		WHERE id = $1
			AND is_active
			AND revoked_at IS NULL
			AND (expires_at IS NULL OR expires_at > NOW())
			AND current_uses < max_uses
		RETURNING ` + digitalKeyColumns

	key, err := r.scanDigitalKey(r.db.QueryRowContext(ctx, query, keyID))
	if err != nil {
		return nil, err
	}
	return key, nil
}

// UpdateEnvelope replaces the stored envelope after a rotation. Usage
// counters and lifecycle state are untouched; only the cryptographic
// material and the fingerprint change.
func (r *DigitalKeyRepository) UpdateEnvelope(ctx context.Context, key *models.DigitalKey) error {
	key.UpdatedAt = time.Now()

	query := `
		UPDATE digital_keys
		SET algorithm = $1, format_version = $2, fingerprint = $3,
			key_salt = $4, iv = $5, ciphertext = $6, auth_tag = $7, updated_at = $8
		WHERE id = $9
	`

	result, err := r.db.ExecContext(ctx, query,
		key.Algorithm,
		key.FormatVersion,
		key.Fingerprint,
		key.KeySalt,
		key.IV,
		key.Ciphertext,
		key.AuthTag,
		key.UpdatedAt,
		key.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RevokeDigitalKey marks a key revoked. Already-revoked keys are left
// untouched so the original revocation time and reason survive repeated
// calls; the returned count is 0 in that case.
func (r *DigitalKeyRepository) RevokeDigitalKey(ctx context.Context, keyID, reason string) (int64, error) {
	query := `
		UPDATE digital_keys
		SET is_active = FALSE, revoked_at = NOW(), revoked_reason = $1, updated_at = NOW()
		WHERE id = $2 AND revoked_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, reason, keyID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListDigitalKeysByUser retrieves all keys issued to a user, newest first
func (r *DigitalKeyRepository) ListDigitalKeysByUser(ctx context.Context, userID string) ([]*models.DigitalKey, error) {
	query := `SELECT ` + digitalKeyColumns + ` FROM digital_keys WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*models.DigitalKey, 0)
	for rows.Next() {
		key, err := scanDigitalKeyRow(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *DigitalKeyRepository) scanDigitalKey(row rowScanner) (*models.DigitalKey, error) {
	key, err := scanDigitalKeyRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return key, nil
}

func scanDigitalKeyRow(row rowScanner) (*models.DigitalKey, error) {
	key := &models.DigitalKey{}
	var metadataJSON []byte

	err := row.Scan(
		&key.ID,
		&key.ProductID,
		&key.UserID,
		&key.KeyType,
		&key.Algorithm,
		&key.FormatVersion,
		&key.Fingerprint,
		&key.KeySalt,
		&key.IV,
		&key.Ciphertext,
		&key.AuthTag,
		&metadataJSON,
		&key.MaxUses,
		&key.CurrentUses,
		&key.IsActive,
		&key.ExpiresAt,
		&key.RevokedAt,
		&key.RevokedReason,
		&key.CreatedAt,
		&key.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &key.Metadata); err != nil {
			return nil, err
		}
	}

	return key, nil
}

func marshalMetadata(metadata map[string]string) ([]byte, error) {
	if metadata == nil {
		return nil, nil
	}
	return json.Marshal(metadata)
}
