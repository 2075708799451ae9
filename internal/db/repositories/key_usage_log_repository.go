// key_usage_log_repository.go implements KeyUsageLogRepository, providing
// append and filtered-read queries for the key lifecycle audit trail.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/db/models"
)

// KeyUsageLogRepository handles key usage audit database operations
type KeyUsageLogRepository struct {
	db *sql.DB
}

// NewKeyUsageLogRepository creates a new KeyUsageLogRepository
func NewKeyUsageLogRepository(db *sql.DB) *KeyUsageLogRepository {
	return &KeyUsageLogRepository{db: db}
}

// KeyUsageFilters contains filters for querying key usage logs
type KeyUsageFilters struct {
	KeyID     *string
	UserID    *string
	Action    *string
	Success   *bool
	StartDate *time.Time
	EndDate   *time.Time
}

// CreateKeyUsageLog appends a new audit entry
func (r *KeyUsageLogRepository) CreateKeyUsageLog(ctx context.Context, log *models.KeyUsageLog) error {
	log.ID = uuid.New().String()
	log.CreatedAt = time.Now()

	var metadataJSON []byte
	var err error
	if log.Metadata != nil {
		metadataJSON, err = json.Marshal(log.Metadata)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO key_usage_logs (id, key_id, user_id, action, success, reason, ip_address, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.ExecContext(ctx, query,
		log.ID,
		log.KeyID,
		log.UserID,
		log.Action,
		log.Success,
		log.Reason,
		log.IPAddress,
		metadataJSON,
		log.CreatedAt,
	)

	return err
}

// ListKeyUsageLogs retrieves audit entries with optional filters and
// pagination, newest first
func (r *KeyUsageLogRepository) ListKeyUsageLogs(ctx context.Context, filters KeyUsageFilters, limit, offset int) ([]*models.KeyUsageLog, int, error) {
	countQuery := `SELECT COUNT(*) FROM key_usage_logs WHERE 1=1`
	query := `
		SELECT id, key_id, user_id, action, success, reason, ip_address, metadata, created_at
		FROM key_usage_logs
		WHERE 1=1
	`

	args := make([]interface{}, 0)
	paramIndex := 1

	addFilter := func(clause string, value interface{}) {
		countQuery += fmt.Sprintf(clause, paramIndex)
		query += fmt.Sprintf(clause, paramIndex)
		args = append(args, value)
		paramIndex++
	}

	if filters.KeyID != nil {
		addFilter(` AND key_id = $%d`, *filters.KeyID)
	}
	if filters.UserID != nil {
		addFilter(` AND user_id = $%d`, *filters.UserID)
	}
	if filters.Action != nil {
		addFilter(` AND action = $%d`, *filters.Action)
	}
	if filters.Success != nil {
		addFilter(` AND success = $%d`, *filters.Success)
	}
	if filters.StartDate != nil {
		addFilter(` AND created_at >= $%d`, *filters.StartDate)
	}
	if filters.EndDate != nil {
		addFilter(` AND created_at <= $%d`, *filters.EndDate)
	}

	var total int
	err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	logs := make([]*models.KeyUsageLog, 0)
	for rows.Next() {
		log := &models.KeyUsageLog{}
		var metadataJSON []byte

		err := rows.Scan(
			&log.ID,
			&log.KeyID,
			&log.UserID,
			&log.Action,
			&log.Success,
			&log.Reason,
			&log.IPAddress,
			&metadataJSON,
			&log.CreatedAt,
		)
		if err != nil {
			return nil, 0, err
		}

		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &log.Metadata); err != nil {
				return nil, 0, err
			}
		}

		logs = append(logs, log)
	}

	return logs, total, rows.Err()
}
