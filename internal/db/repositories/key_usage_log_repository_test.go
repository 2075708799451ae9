package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/db/models"
)

var keyUsageLogCols = []string{
	"id", "key_id", "user_id", "action", "success", "reason", "ip_address", "metadata", "created_at",
}

func newKeyUsageLogRepo(t *testing.T) (*KeyUsageLogRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewKeyUsageLogRepository(db), mock
}

func sampleKeyUsageLogRow() *sqlmock.Rows {
	return sqlmock.NewRows(keyUsageLogCols).
		AddRow("log-1", strPtr("key-1"), strPtr("user-1"), models.KeyActionUse,
			true, nil, strPtr("1.2.3.4"), []byte(`{"remaining":2}`), time.Now())
}

// ---------------------------------------------------------------------------
// CreateKeyUsageLog
// ---------------------------------------------------------------------------

func TestCreateKeyUsageLog_Success(t *testing.T) {
	repo, mock := newKeyUsageLogRepo(t)
	mock.ExpectExec("INSERT INTO key_usage_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	log := &models.KeyUsageLog{
		KeyID:   strPtr("key-1"),
		UserID:  strPtr("user-1"),
		Action:  models.KeyActionUse,
		Success: true,
	}
	if err := repo.CreateKeyUsageLog(context.Background(), log); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if log.ID == "" {
		t.Error("expected ID to be assigned")
	}
}

func TestCreateKeyUsageLog_WithMetadata(t *testing.T) {
	repo, mock := newKeyUsageLogRepo(t)
	mock.ExpectExec("INSERT INTO key_usage_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	log := &models.KeyUsageLog{
		Action:   models.KeyActionGenerate,
		Success:  false,
		Reason:   strPtr("encryption_failed"),
		Metadata: map[string]interface{}{"product_id": "product-1"},
	}
	if err := repo.CreateKeyUsageLog(context.Background(), log); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateKeyUsageLog_DBError(t *testing.T) {
	repo, mock := newKeyUsageLogRepo(t)
	mock.ExpectExec("INSERT INTO key_usage_logs").
		WillReturnError(errDB)

	log := &models.KeyUsageLog{Action: models.KeyActionRevoke}
	if err := repo.CreateKeyUsageLog(context.Background(), log); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// ListKeyUsageLogs
// ---------------------------------------------------------------------------

func TestListKeyUsageLogs_NoFilters(t *testing.T) {
	repo, mock := newKeyUsageLogRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM key_usage_logs").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT id.*FROM key_usage_logs").
		WillReturnRows(sampleKeyUsageLogRow())

	logs, total, err := repo.ListKeyUsageLogs(context.Background(), KeyUsageFilters{}, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
	if len(logs) != 1 {
		t.Fatalf("len(logs) = %d, want 1", len(logs))
	}
	if logs[0].Action != models.KeyActionUse {
		t.Errorf("Action = %q, want %q", logs[0].Action, models.KeyActionUse)
	}
}

func TestListKeyUsageLogs_WithFilters(t *testing.T) {
	repo, mock := newKeyUsageLogRepo(t)
	keyID := "key-1"
	action := models.KeyActionUse
	success := false

	mock.ExpectQuery("SELECT COUNT.*FROM key_usage_logs").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT id.*FROM key_usage_logs").
		WillReturnRows(sqlmock.NewRows(keyUsageLogCols))

	logs, total, err := repo.ListKeyUsageLogs(context.Background(), KeyUsageFilters{
		KeyID:   &keyID,
		Action:  &action,
		Success: &success,
	}, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0", total)
	}
	if len(logs) != 0 {
		t.Errorf("len(logs) = %d, want 0", len(logs))
	}
}

func TestListKeyUsageLogs_CountError(t *testing.T) {
	repo, mock := newKeyUsageLogRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM key_usage_logs").
		WillReturnError(errDB)

	if _, _, err := repo.ListKeyUsageLogs(context.Background(), KeyUsageFilters{}, 10, 0); err == nil {
		t.Error("expected error, got nil")
	}
}
