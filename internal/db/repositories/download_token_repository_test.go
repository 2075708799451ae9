package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/db/models"
)

// ---------------------------------------------------------------------------
// Column definitions and helpers
// ---------------------------------------------------------------------------

var downloadTokenCols = []string{
	"id", "token_hash", "resource_id", "resource_type", "user_id", "file_name", "file_size",
	"checksum", "max_downloads", "current_downloads", "ip_allowlist", "is_consumed",
	"revoked_at", "created_at", "expires_at", "last_used_at",
}

func newDownloadTokenRepo(t *testing.T) (*DownloadTokenRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewDownloadTokenRepository(db), mock
}

func sampleDownloadTokenRow(currentDownloads, maxDownloads int, consumed bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(downloadTokenCols).
		AddRow("token-1", "hash-1", "resource-1", models.ResourceTypeInstaller, "user-1",
			strPtr("setup.exe"), nil, nil, maxDownloads, currentDownloads,
			[]byte(`["10.0.0.1"]`), consumed, nil, now, now.Add(30*time.Minute), nil)
}

// ---------------------------------------------------------------------------
// CreateDownloadToken
// ---------------------------------------------------------------------------

func TestCreateDownloadToken_Success(t *testing.T) {
	repo, mock := newDownloadTokenRepo(t)
	mock.ExpectExec("INSERT INTO download_tokens").
		WillReturnResult(sqlmock.NewResult(1, 1))

	token := &models.DownloadToken{
		TokenHash:    "hash-1",
		ResourceID:   "resource-1",
		ResourceType: models.ResourceTypeInstaller,
		UserID:       "user-1",
		MaxDownloads: 1,
		IPAllowlist:  []string{"10.0.0.1"},
		ExpiresAt:    time.Now().Add(30 * time.Minute),
	}
	if err := repo.CreateDownloadToken(context.Background(), token); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token.ID == "" {
		t.Error("expected ID to be assigned")
	}
}

func TestCreateDownloadToken_DBError(t *testing.T) {
	repo, mock := newDownloadTokenRepo(t)
	mock.ExpectExec("INSERT INTO download_tokens").
		WillReturnError(errDB)

	token := &models.DownloadToken{TokenHash: "hash-1"}
	if err := repo.CreateDownloadToken(context.Background(), token); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// GetDownloadToken / GetDownloadTokenByHash
// ---------------------------------------------------------------------------

func TestGetDownloadToken_Found(t *testing.T) {
	repo, mock := newDownloadTokenRepo(t)
	mock.ExpectQuery("SELECT id.*FROM download_tokens WHERE id").
		WithArgs("token-1").
		WillReturnRows(sampleDownloadTokenRow(0, 1, false))

	token, err := repo.GetDownloadToken(context.Background(), "token-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == nil {
		t.Fatal("expected token, got nil")
	}
	if token.ID != "token-1" {
		t.Errorf("ID = %q, want %q", token.ID, "token-1")
	}
}

func TestGetDownloadTokenByHash_Found(t *testing.T) {
	repo, mock := newDownloadTokenRepo(t)
	mock.ExpectQuery("SELECT id.*FROM download_tokens WHERE token_hash").
		WithArgs("hash-1").
		WillReturnRows(sampleDownloadTokenRow(0, 1, false))

	token, err := repo.GetDownloadTokenByHash(context.Background(), "hash-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == nil {
		t.Fatal("expected token, got nil")
	}
	if token.ResourceID != "resource-1" {
		t.Errorf("ResourceID = %q, want %q", token.ResourceID, "resource-1")
	}
	if len(token.IPAllowlist) != 1 || token.IPAllowlist[0] != "10.0.0.1" {
		t.Errorf("IPAllowlist = %v, want [10.0.0.1]", token.IPAllowlist)
	}
}

func TestGetDownloadTokenByHash_NotFound(t *testing.T) {
	repo, mock := newDownloadTokenRepo(t)
	mock.ExpectQuery("SELECT id.*FROM download_tokens WHERE token_hash").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(downloadTokenCols))

	token, err := repo.GetDownloadTokenByHash(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != nil {
		t.Errorf("expected nil token, got %+v", token)
	}
}

// ---------------------------------------------------------------------------
// ConsumeDownloadToken
// ---------------------------------------------------------------------------

func TestConsumeDownloadToken_Success(t *testing.T) {
	repo, mock := newDownloadTokenRepo(t)
	mock.ExpectQuery("UPDATE download_tokens.*RETURNING").
		WithArgs("token-1").
		WillReturnRows(sampleDownloadTokenRow(1, 1, true))

	token, err := repo.ConsumeDownloadToken(context.Background(), "token-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == nil {
		t.Fatal("expected token, got nil")
	}
	if !token.IsConsumed {
		t.Error("expected token to be consumed at its download limit")
	}
}

func TestConsumeDownloadToken_GuardRejected(t *testing.T) {
	repo, mock := newDownloadTokenRepo(t)
	mock.ExpectQuery("UPDATE download_tokens.*RETURNING").
		WithArgs("token-1").
		WillReturnRows(sqlmock.NewRows(downloadTokenCols))

	token, err := repo.ConsumeDownloadToken(context.Background(), "token-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != nil {
		t.Errorf("expected nil token when guard rejects, got %+v", token)
	}
}

func TestConsumeDownloadToken_DBError(t *testing.T) {
	repo, mock := newDownloadTokenRepo(t)
	mock.ExpectQuery("UPDATE download_tokens.*RETURNING").
		WithArgs("token-1").
		WillReturnError(errDB)

	if _, err := repo.ConsumeDownloadToken(context.Background(), "token-1"); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// RevokeDownloadToken / MarkExpiredConsumed
// ---------------------------------------------------------------------------

func TestRevokeDownloadToken_Success(t *testing.T) {
	repo, mock := newDownloadTokenRepo(t)
	mock.ExpectExec("UPDATE download_tokens SET revoked_at").
		WithArgs("token-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rows, err := repo.RevokeDownloadToken(context.Background(), "token-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rows != 1 {
		t.Errorf("rows = %d, want 1", rows)
	}
}

func TestMarkExpiredConsumed(t *testing.T) {
	repo, mock := newDownloadTokenRepo(t)
	mock.ExpectExec("UPDATE download_tokens SET is_consumed").
		WillReturnResult(sqlmock.NewResult(0, 4))

	swept, err := repo.MarkExpiredConsumed(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if swept != 4 {
		t.Errorf("swept = %d, want 4", swept)
	}
}

// ---------------------------------------------------------------------------
// ListDownloadTokensByUser
// ---------------------------------------------------------------------------

func TestListDownloadTokensByUser(t *testing.T) {
	repo, mock := newDownloadTokenRepo(t)
	mock.ExpectQuery("SELECT id.*FROM download_tokens WHERE user_id").
		WithArgs("user-1").
		WillReturnRows(sampleDownloadTokenRow(0, 1, false))

	tokens, err := repo.ListDownloadTokensByUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tokens) != 1 {
		t.Fatalf("len(tokens) = %d, want 1", len(tokens))
	}
}
