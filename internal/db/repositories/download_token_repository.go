// download_token_repository.go implements DownloadTokenRepository, providing
// database queries for download tokens: lookup by hash (the raw token value is
// never stored), the atomic consumption increment, revocation, and the expiry
// sweep used by the background janitor.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/db/models"
)

const downloadTokenColumns = `id, token_hash, resource_id, resource_type, user_id, file_name, file_size,
		checksum, max_downloads, current_downloads, ip_allowlist, is_consumed,
		revoked_at, created_at, expires_at, last_used_at`

// DownloadTokenRepository handles download token database operations
type DownloadTokenRepository struct {
	db *sql.DB
}

// NewDownloadTokenRepository creates a new DownloadTokenRepository
func NewDownloadTokenRepository(db *sql.DB) *DownloadTokenRepository {
	return &DownloadTokenRepository{db: db}
}

// CreateDownloadToken inserts a new token record, assigning its ID and
// creation timestamp
func (r *DownloadTokenRepository) CreateDownloadToken(ctx context.Context, token *models.DownloadToken) error {
	token.ID = uuid.New().String()
	token.CreatedAt = time.Now()

	var allowlistJSON []byte
	var err error
	if token.IPAllowlist != nil {
		allowlistJSON, err = json.Marshal(token.IPAllowlist)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO download_tokens (id, token_hash, resource_id, resource_type, user_id, file_name, file_size,
			checksum, max_downloads, current_downloads, ip_allowlist, is_consumed, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = r.db.ExecContext(ctx, query,
		token.ID,
		token.TokenHash,
		token.ResourceID,
		token.ResourceType,
		token.UserID,
		token.FileName,
		token.FileSize,
		token.Checksum,
		token.MaxDownloads,
		token.CurrentDownloads,
		allowlistJSON,
		token.IsConsumed,
		token.CreatedAt,
		token.ExpiresAt,
	)

	return err
}

// GetDownloadToken retrieves a token by ID, returning nil when no record exists
func (r *DownloadTokenRepository) GetDownloadToken(ctx context.Context, tokenID string) (*models.DownloadToken, error) {
	query := `SELECT ` + downloadTokenColumns + ` FROM download_tokens WHERE id = $1`

	token, err := scanDownloadTokenRow(r.db.QueryRowContext(ctx, query, tokenID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return token, nil
}

// GetDownloadTokenByHash retrieves a token by the SHA-256 digest of its raw
// value, returning nil when no record exists
func (r *DownloadTokenRepository) GetDownloadTokenByHash(ctx context.Context, tokenHash string) (*models.DownloadToken, error) {
	query := `SELECT ` + downloadTokenColumns + ` FROM download_tokens WHERE token_hash = $1`

	token, err := scanDownloadTokenRow(r.db.QueryRowContext(ctx, query, tokenHash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return token, nil
}

// ConsumeDownloadToken atomically increments the token's download counter if
// and only if the token is unrevoked, unexpired, unconsumed, and below its
// download limit. The token flips to consumed when the increment reaches the
// limit. It returns the updated token on success and nil when the guard
// rejected the increment.
func (r *DownloadTokenRepository) ConsumeDownloadToken(ctx context.Context, tokenID string) (*models.DownloadToken, error) {
	query := `
		UPDATE download_tokens
		SET current_downloads = current_downloads + 1,
			is_consumed = (current_downloads + 1 >= max_downloads),
			last_used_at = NOW()
		WHERE id = $1
			AND revoked_at IS NULL
			AND NOT is_consumed
			AND expires_at > NOW()
			AND current_downloads < max_downloads
		RETURNING ` + downloadTokenColumns

	token, err := scanDownloadTokenRow(r.db.QueryRowContext(ctx, query, tokenID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return token, nil
}

// RevokeDownloadToken marks a token revoked. Repeated calls keep the
// original revocation time; the returned count is 0 for an already-revoked
// or unknown token.
func (r *DownloadTokenRepository) RevokeDownloadToken(ctx context.Context, tokenID string) (int64, error) {
	query := `UPDATE download_tokens SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, tokenID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// MarkExpiredConsumed flips every expired, still-open token to consumed so
// later validations fail fast on the stored state. It returns the number of
// tokens swept.
func (r *DownloadTokenRepository) MarkExpiredConsumed(ctx context.Context) (int64, error) {
	query := `UPDATE download_tokens SET is_consumed = TRUE WHERE NOT is_consumed AND expires_at <= NOW()`

	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListDownloadTokensByUser retrieves all tokens issued to a user, newest first
func (r *DownloadTokenRepository) ListDownloadTokensByUser(ctx context.Context, userID string) ([]*models.DownloadToken, error) {
	query := `SELECT ` + downloadTokenColumns + ` FROM download_tokens WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := make([]*models.DownloadToken, 0)
	for rows.Next() {
		token, err := scanDownloadTokenRow(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}

	return tokens, rows.Err()
}

func scanDownloadTokenRow(row rowScanner) (*models.DownloadToken, error) {
	token := &models.DownloadToken{}
	var allowlistJSON []byte

	err := row.Scan(
		&token.ID,
		&token.TokenHash,
		&token.ResourceID,
		&token.ResourceType,
		&token.UserID,
		&token.FileName,
		&token.FileSize,
		&token.Checksum,
		&token.MaxDownloads,
		&token.CurrentDownloads,
		&allowlistJSON,
		&token.IsConsumed,
		&token.RevokedAt,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.LastUsedAt,
	)
	if err != nil {
		return nil, err
	}

	if allowlistJSON != nil {
		if err := json.Unmarshal(allowlistJSON, &token.IPAllowlist); err != nil {
			return nil, err
		}
	}

	return token, nil
}
