// recorder.go implements the Recorder, the single entry point services use to
// emit audit records. Every record is written as a durable database row and,
// when shipping is configured, forwarded to the external destinations in the
// background. Audit emission is best effort: a failed write or ship is logged
// and counted but never fails the operation being audited, and authorization
// decisions never read the trail back.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/db/models"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/safego"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/telemetry"
)

const shipTimeout = 10 * time.Second

// keyUsageLogStore is the slice of KeyUsageLogRepository the recorder needs
type keyUsageLogStore interface {
	CreateKeyUsageLog(ctx context.Context, log *models.KeyUsageLog) error
}

// downloadAttemptStore is the slice of DownloadAttemptRepository the recorder needs
type downloadAttemptStore interface {
	CreateDownloadAttempt(ctx context.Context, attempt *models.DownloadAttempt) error
}

// Recorder persists audit records and fans copies out to external shippers
type Recorder struct {
	keyLogs  keyUsageLogStore
	attempts downloadAttemptStore
	shipper  Shipper // nil when no external destination is configured
}

// NewRecorder creates a Recorder. shipper may be nil.
func NewRecorder(keyLogs keyUsageLogStore, attempts downloadAttemptStore, shipper Shipper) *Recorder {
	return &Recorder{
		keyLogs:  keyLogs,
		attempts: attempts,
		shipper:  shipper,
	}
}

// RecordKeyAction records one key lifecycle call
func (r *Recorder) RecordKeyAction(ctx context.Context, log *models.KeyUsageLog) {
	if err := r.keyLogs.CreateKeyUsageLog(ctx, log); err != nil {
		slog.Error("failed to persist key usage audit row",
			"action", log.Action, "error", err)
	}

	r.ship(&LogEntry{
		Timestamp: time.Now(),
		Action:    log.Action,
		KeyID:     deref(log.KeyID),
		UserID:    deref(log.UserID),
		IPAddress: deref(log.IPAddress),
		Success:   log.Success,
		Reason:    deref(log.Reason),
		Metadata:  log.Metadata,
	})
}

// RecordDownloadAttempt records one token validation or consumption attempt
func (r *Recorder) RecordDownloadAttempt(ctx context.Context, attempt *models.DownloadAttempt) {
	if err := r.attempts.CreateDownloadAttempt(ctx, attempt); err != nil {
		slog.Error("failed to persist download attempt audit row", "error", err)
	}

	action := "token.validate"
	if attempt.Success && attempt.BytesSent != nil {
		action = "token.consume"
	}

	r.ship(&LogEntry{
		Timestamp:  time.Now(),
		Action:     action,
		TokenID:    deref(attempt.TokenID),
		ResourceID: deref(attempt.ResourceID),
		UserID:     deref(attempt.UserID),
		IPAddress:  deref(attempt.IPAddress),
		Success:    attempt.Success,
		Reason:     deref(attempt.Reason),
	})
}

// ship forwards the entry to the external destinations without blocking the
// caller. The request context is not reused: the ship outlives the request.
func (r *Recorder) ship(entry *LogEntry) {
	if r.shipper == nil {
		return
	}

	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shipTimeout)
		defer cancel()

		if err := r.shipper.Ship(ctx, entry); err != nil {
			telemetry.AuditShipFailuresTotal.Inc()
			slog.Warn("failed to ship audit entry", "action", entry.Action, "error", err)
		}
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
