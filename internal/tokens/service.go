// Package tokens implements the download token service: issuing, validating,
// consuming, and revoking the disposable capabilities that gate retrieval of
// a protected resource. Token values are unguessable 256-bit random strings;
// only their SHA-256 digest is stored, so a database leak yields nothing
// redeemable. Validation is a fail-closed gate pipeline and every attempt,
// pass or fail, lands in the download attempt log.
package tokens

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/db/models"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/ratelimit"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/telemetry"
)

var (
	// ErrTokenNotFound is returned when no token matches the presented value.
	ErrTokenNotFound = errors.New("tokens: token not found")
	// ErrTokenExpired is returned when the token's expiry time has passed.
	ErrTokenExpired = errors.New("tokens: token expired")
	// ErrTokenConsumed is returned when the token has no downloads left.
	ErrTokenConsumed = errors.New("tokens: token fully consumed")
	// ErrTokenRevoked is returned when the token was revoked out-of-band.
	ErrTokenRevoked = errors.New("tokens: token revoked")
	// ErrIPNotAllowed is returned when the requester's IP is outside the
	// token's allow-list.
	ErrIPNotAllowed = errors.New("tokens: ip not allowed")
	// ErrRateLimited is returned when the requester exceeded the validation
	// rate, or when the limiter backend could not be consulted (fail closed).
	ErrRateLimited = errors.New("tokens: rate limited")
	// ErrStorageUnavailable wraps persistence failures.
	ErrStorageUnavailable = errors.New("tokens: storage unavailable")
)

// Reason codes surfaced to callers and written to the attempt log. They are
// deliberately coarse: a caller can render "link expired" without learning
// whether a token exists for someone else.
const (
	ReasonTokenNotFound = "token_not_found"
	ReasonTokenExpired  = "token_expired"
	ReasonTokenConsumed = "token_consumed"
	ReasonTokenRevoked  = "token_revoked"
	ReasonIPNotAllowed  = "ip_not_allowed"
	ReasonRateLimited   = "rate_limited"
)

const tokenBytes = 32 // 256 bits of entropy

// tokenStore is the persistence contract the service consumes
type tokenStore interface {
	CreateDownloadToken(ctx context.Context, token *models.DownloadToken) error
	GetDownloadToken(ctx context.Context, tokenID string) (*models.DownloadToken, error)
	GetDownloadTokenByHash(ctx context.Context, tokenHash string) (*models.DownloadToken, error)
	ConsumeDownloadToken(ctx context.Context, tokenID string) (*models.DownloadToken, error)
	RevokeDownloadToken(ctx context.Context, tokenID string) (int64, error)
	MarkExpiredConsumed(ctx context.Context) (int64, error)
	ListDownloadTokensByUser(ctx context.Context, userID string) ([]*models.DownloadToken, error)
}

// attemptRecorder receives one entry per validation or consumption attempt
type attemptRecorder interface {
	RecordDownloadAttempt(ctx context.Context, attempt *models.DownloadAttempt)
}

// IssueOptions holds the caller-tunable parts of token issuance
type IssueOptions struct {
	// ExpiryMinutes bounds the token's lifetime; 0 means the configured
	// default. Negative values produce an already-expired token.
	ExpiryMinutes int
	// MaxDownloads bounds redemption count; 0 means the configured default.
	MaxDownloads int
	// IPAllowlist restricts validation to a closed set of addresses; empty
	// admits every address.
	IPAllowlist []string
	// FileName, FileSize, and Checksum are optional hints stored with the
	// token and echoed to the downloader.
	FileName string
	FileSize *int64
	Checksum string
}

// IssuedToken is the result of Issue. Value is the raw opaque token, handed
// out exactly once; only its digest is stored.
type IssuedToken struct {
	Value  string
	Record *models.DownloadToken
}

// RequestContext carries the network identity of a validation attempt
type RequestContext struct {
	IP        string
	UserAgent string
}

// ValidationResult reports the outcome of a validation gate run. Business
// rejections are data, not errors: Valid=false with a Reason code.
type ValidationResult struct {
	Valid  bool
	Reason string
	Token  *models.DownloadToken
}

// Service issues and redeems download tokens
type Service struct {
	store               tokenStore
	limiter             ratelimit.Limiter
	recorder            attemptRecorder
	defaultExpiry       time.Duration
	defaultMaxDownloads int
	queryTimeout        time.Duration
}

// NewService creates a download token service. defaultExpiryMinutes and
// defaultMaxDownloads apply when issue options leave them unset.
func NewService(store tokenStore, limiter ratelimit.Limiter, recorder attemptRecorder, defaultExpiryMinutes, defaultMaxDownloads int) *Service {
	if defaultExpiryMinutes <= 0 {
		defaultExpiryMinutes = 30
	}
	if defaultMaxDownloads < 1 {
		defaultMaxDownloads = 1
	}
	return &Service{
		store:               store,
		limiter:             limiter,
		recorder:            recorder,
		defaultExpiry:       time.Duration(defaultExpiryMinutes) * time.Minute,
		defaultMaxDownloads: defaultMaxDownloads,
	}
}

// SetQueryTimeout bounds every service call, and with it every persistence
// call, so a hung store fails closed as StorageUnavailable instead of
// stalling the caller. Zero or negative disables the bound.
func (s *Service) SetQueryTimeout(d time.Duration) {
	s.queryTimeout = d
}

// opCtx derives the bounded context a service call runs under
func (s *Service) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

// HashToken returns the hex SHA-256 digest of a raw token value, the only
// form in which token values touch the database.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// Issue creates a new download token for a resource. The returned Value is
// never derived from resource or user identifiers and is never stored.
func (s *Service) Issue(ctx context.Context, resourceID, resourceType, userID string, opts IssueOptions) (*IssuedToken, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	if resourceID == "" || userID == "" {
		return nil, fmt.Errorf("tokens: resource id and user id are required")
	}

	raw := make([]byte, tokenBytes)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, fmt.Errorf("tokens: read random: %w", err)
	}
	value := base64.RawURLEncoding.EncodeToString(raw)

	expiryMinutes := opts.ExpiryMinutes
	expiry := time.Duration(expiryMinutes) * time.Minute
	if expiryMinutes == 0 {
		expiry = s.defaultExpiry
	}

	maxDownloads := opts.MaxDownloads
	if maxDownloads < 1 {
		maxDownloads = s.defaultMaxDownloads
	}

	token := &models.DownloadToken{
		TokenHash:    HashToken(value),
		ResourceID:   resourceID,
		ResourceType: resourceType,
		UserID:       userID,
		MaxDownloads: maxDownloads,
		IPAllowlist:  opts.IPAllowlist,
		ExpiresAt:    time.Now().Add(expiry),
	}
	if opts.FileName != "" {
		token.FileName = &opts.FileName
	}
	if opts.FileSize != nil {
		token.FileSize = opts.FileSize
	}
	if opts.Checksum != "" {
		token.Checksum = &opts.Checksum
	}

	if err := s.store.CreateDownloadToken(ctx, token); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	telemetry.TokensIssuedTotal.WithLabelValues(resourceType).Inc()

	return &IssuedToken{Value: value, Record: token}, nil
}

// Validate runs the gate pipeline against a presented token value. The rate
// limiter runs first, keyed by requester IP, so floods of guesses at
// nonexistent tokens are rejected before any storage work; the remaining
// gates run cheapest-first. Every attempt is recorded.
func (s *Service) Validate(ctx context.Context, value string, rc RequestContext) (*ValidationResult, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, "ip:"+rc.IP)
		if err != nil {
			// A limiter that cannot be consulted fails closed: unmetered
			// validation would defeat its purpose.
			telemetry.RateLimitedTotal.Inc()
			s.recordAttempt(ctx, nil, rc, false, ReasonRateLimited, nil, nil)
			return s.reject(nil, ReasonRateLimited), nil
		}
		if !allowed {
			telemetry.RateLimitedTotal.Inc()
			s.recordAttempt(ctx, nil, rc, false, ReasonRateLimited, nil, nil)
			return s.reject(nil, ReasonRateLimited), nil
		}
	}

	token, err := s.store.GetDownloadTokenByHash(ctx, HashToken(value))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if token == nil {
		s.recordAttempt(ctx, nil, rc, false, ReasonTokenNotFound, nil, nil)
		return s.reject(nil, ReasonTokenNotFound), nil
	}

	if reason := classify(token, rc.IP); reason != "" {
		s.recordAttempt(ctx, token, rc, false, reason, nil, nil)
		return s.reject(token, reason), nil
	}

	s.recordAttempt(ctx, token, rc, true, "", nil, nil)
	telemetry.TokenValidationsTotal.WithLabelValues("valid").Inc()

	return &ValidationResult{Valid: true, Token: token}, nil
}

// Consume redeems one download against a token. It is called only after
// Validate succeeded and the resource bytes were actually delivered; the
// check and the increment are a single conditional update, so two concurrent
// redemptions of a single-use token cannot both succeed.
func (s *Service) Consume(ctx context.Context, value string, downloadedBytes, durationMs int64, rc RequestContext) (*models.DownloadToken, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	token, err := s.store.GetDownloadTokenByHash(ctx, HashToken(value))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if token == nil {
		s.recordAttempt(ctx, nil, rc, false, ReasonTokenNotFound, &downloadedBytes, &durationMs)
		return nil, ErrTokenNotFound
	}

	updated, err := s.store.ConsumeDownloadToken(ctx, token.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if updated == nil {
		// The guard rejected the increment; report the precise reason from
		// current state.
		reason := classify(token, "")
		if reason == "" {
			reason = ReasonTokenConsumed
		}
		s.recordAttempt(ctx, token, rc, false, reason, &downloadedBytes, &durationMs)
		return nil, errorFor(reason)
	}

	s.recordAttempt(ctx, updated, rc, true, "", &downloadedBytes, &durationMs)
	telemetry.ResourceDownloadsTotal.WithLabelValues(updated.ResourceType).Inc()
	telemetry.ResourceDownloadBytes.Add(float64(downloadedBytes))

	return updated, nil
}

// Revoke is the administrative terminal transition: once revoked, no further
// validation can succeed even before expiry. Revoking twice is a no-op
// success.
func (s *Service) Revoke(ctx context.Context, tokenID string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	rows, err := s.store.RevokeDownloadToken(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if rows == 0 {
		// Distinguish "already revoked" (idempotent success) from "unknown".
		token, err := s.store.GetDownloadToken(ctx, tokenID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		if token == nil {
			return ErrTokenNotFound
		}
	}
	return nil
}

// SweepExpired marks every expired, still-open token consumed. Run
// periodically by the maintenance job.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	swept, err := s.store.MarkExpiredConsumed(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return swept, nil
}

// ListTokens returns the tokens issued to a user, for status display. Raw
// token values are unrecoverable.
func (s *Service) ListTokens(ctx context.Context, userID string) ([]*models.DownloadToken, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	tokens, err := s.store.ListDownloadTokensByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return tokens, nil
}

// classify checks the stored-state gates in order: revocation, consumption,
// expiry, downloads remaining, then the IP allow-list when ip is non-empty.
// An empty return means the token is redeemable.
func classify(token *models.DownloadToken, ip string) string {
	if token.RevokedAt != nil {
		return ReasonTokenRevoked
	}
	if token.IsConsumed {
		return ReasonTokenConsumed
	}
	if !token.ExpiresAt.After(time.Now()) {
		return ReasonTokenExpired
	}
	if token.CurrentDownloads >= token.MaxDownloads {
		return ReasonTokenConsumed
	}
	if ip != "" && !token.IPAllowed(ip) {
		return ReasonIPNotAllowed
	}
	return ""
}

// errorFor maps a reason code to its sentinel error
func errorFor(reason string) error {
	switch reason {
	case ReasonTokenNotFound:
		return ErrTokenNotFound
	case ReasonTokenExpired:
		return ErrTokenExpired
	case ReasonTokenConsumed:
		return ErrTokenConsumed
	case ReasonTokenRevoked:
		return ErrTokenRevoked
	case ReasonIPNotAllowed:
		return ErrIPNotAllowed
	case ReasonRateLimited:
		return ErrRateLimited
	default:
		return fmt.Errorf("tokens: rejected: %s", reason)
	}
}

func (s *Service) reject(token *models.DownloadToken, reason string) *ValidationResult {
	telemetry.TokenValidationsTotal.WithLabelValues(reason).Inc()
	return &ValidationResult{Valid: false, Reason: reason, Token: token}
}

func (s *Service) recordAttempt(ctx context.Context, token *models.DownloadToken, rc RequestContext, success bool, reason string, bytes, durationMs *int64) {
	if s.recorder == nil {
		return
	}
	attempt := &models.DownloadAttempt{
		Success:    success,
		BytesSent:  bytes,
		DurationMs: durationMs,
	}
	if token != nil {
		attempt.TokenID = &token.ID
		attempt.ResourceID = &token.ResourceID
		attempt.UserID = &token.UserID
	}
	if reason != "" {
		attempt.Reason = &reason
	}
	if rc.IP != "" {
		attempt.IPAddress = &rc.IP
	}
	if rc.UserAgent != "" {
		attempt.UserAgent = &rc.UserAgent
	}
	s.recorder.RecordDownloadAttempt(ctx, attempt)
}
