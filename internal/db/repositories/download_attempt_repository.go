// download_attempt_repository.go implements DownloadAttemptRepository,
// providing append and read queries for the download attempt audit trail.
// Reads use sqlx struct scanning since the table has no JSONB columns.
package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/db/models"
)

// DownloadAttemptRepository handles download attempt audit database operations
type DownloadAttemptRepository struct {
	db *sqlx.DB
}

// NewDownloadAttemptRepository creates a new DownloadAttemptRepository
func NewDownloadAttemptRepository(db *sqlx.DB) *DownloadAttemptRepository {
	return &DownloadAttemptRepository{db: db}
}

// CreateDownloadAttempt appends a new audit entry
func (r *DownloadAttemptRepository) CreateDownloadAttempt(ctx context.Context, attempt *models.DownloadAttempt) error {
	attempt.ID = uuid.New().String()
	attempt.CreatedAt = time.Now()

	query := `
		INSERT INTO download_attempts (id, token_id, resource_id, user_id, success, reason,
			ip_address, user_agent, bytes_sent, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		attempt.ID,
		attempt.TokenID,
		attempt.ResourceID,
		attempt.UserID,
		attempt.Success,
		attempt.Reason,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.BytesSent,
		attempt.DurationMs,
		attempt.CreatedAt,
	)

	return err
}

// ListDownloadAttemptsByToken retrieves all attempts recorded against a
// token, newest first
func (r *DownloadAttemptRepository) ListDownloadAttemptsByToken(ctx context.Context, tokenID string) ([]*models.DownloadAttempt, error) {
	query := `
		SELECT id, token_id, resource_id, user_id, success, reason,
			ip_address, user_agent, bytes_sent, duration_ms, created_at
		FROM download_attempts
		WHERE token_id = $1
		ORDER BY created_at DESC
	`

	attempts := make([]*models.DownloadAttempt, 0)
	if err := r.db.SelectContext(ctx, &attempts, query, tokenID); err != nil {
		return nil, err
	}
	return attempts, nil
}

// CountRecentFailures counts failed attempts from an IP address since the
// given time. Used by the admin stats endpoint to surface probing clients.
func (r *DownloadAttemptRepository) CountRecentFailures(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM download_attempts WHERE ip_address = $1 AND NOT success AND created_at >= $2`

	var count int
	if err := r.db.GetContext(ctx, &count, query, ipAddress, since); err != nil {
		return 0, err
	}
	return count, nil
}
