// Package keys implements the key lifecycle manager: the business-rule layer
// over the envelope cipher. It generates human-traceable plaintext secrets,
// enforces usage-count and expiry policy with an atomic check-and-increment,
// rotates envelopes in place, and revokes keys idempotently. The plaintext of
// a key exists only in the response of GenerateSecureKey and UseDigitalKey;
// it is never persisted and never logged.
package keys

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/crypto"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/db/models"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/telemetry"
)

var (
	// ErrKeyNotFound is returned when no key exists for the given id.
	ErrKeyNotFound = errors.New("keys: key not found")
	// ErrKeyRevoked is returned when the key has been revoked or deactivated.
	ErrKeyRevoked = errors.New("keys: key is revoked")
	// ErrKeyExpired is returned when the key's expiry time has passed.
	ErrKeyExpired = errors.New("keys: key is expired")
	// ErrUsageLimitExceeded is returned when the key has no uses left.
	ErrUsageLimitExceeded = errors.New("keys: usage limit exceeded")
	// ErrInvalidKeyType is returned for key types outside the recognised set.
	ErrInvalidKeyType = errors.New("keys: invalid key type")
	// ErrStorageUnavailable wraps persistence failures. Callers may retry with
	// backoff; the manager itself never retries.
	ErrStorageUnavailable = errors.New("keys: storage unavailable")
)

// Audit reason codes for rejected calls.
const (
	reasonKeyNotFound        = "key_not_found"
	reasonKeyRevoked         = "key_revoked"
	reasonKeyExpired         = "key_expired"
	reasonUsageLimit         = "usage_limit_exceeded"
	reasonDecryptionFailed   = "decryption_failed"
	reasonEncryptionFailed   = "encryption_failed"
	reasonStorageUnavailable = "storage_unavailable"
)

// keyPrefixes map key types to the namespaced prefix of generated secrets.
var keyPrefixes = map[string]string{
	models.KeyTypeLicense:    "LIC",
	models.KeyTypeActivation: "ACT",
	models.KeyTypeDownload:   "DWN",
}

// randomEncoding renders the 256-bit random tail of a generated secret.
var randomEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// keyStore is the persistence contract the manager consumes
type keyStore interface {
	CreateDigitalKey(ctx context.Context, key *models.DigitalKey) error
	GetDigitalKey(ctx context.Context, keyID string) (*models.DigitalKey, error)
	GetDigitalKeyByFingerprint(ctx context.Context, fingerprint string) (*models.DigitalKey, error)
	ConsumeUsage(ctx context.Context, keyID string) (*models.DigitalKey, error)
	UpdateEnvelope(ctx context.Context, key *models.DigitalKey) error
	RevokeDigitalKey(ctx context.Context, keyID, reason string) (int64, error)
	ListDigitalKeysByUser(ctx context.Context, userID string) ([]*models.DigitalKey, error)
}

// auditRecorder receives one entry per lifecycle call, success or failure
type auditRecorder interface {
	RecordKeyAction(ctx context.Context, log *models.KeyUsageLog)
}

// GenerateOptions holds the caller-tunable parts of key generation
type GenerateOptions struct {
	// KeyType selects the secret prefix; defaults to license.
	KeyType string
	// MaxUses bounds lifetime uses; 0 means the configured default.
	MaxUses int
	// ExpiresAt bounds lifetime by wall clock; nil means no expiry.
	ExpiresAt *time.Time
	// Metadata is caller context bound into the envelope's AAD and stored
	// alongside the key.
	Metadata map[string]string
}

// GeneratedKey is the result of GenerateSecureKey. PlainSecret is handed out
// exactly once and never persisted.
type GeneratedKey struct {
	Key         *models.DigitalKey
	PlainSecret string
}

// UsageResult is the result of UseDigitalKey
type UsageResult struct {
	PlainSecret   string
	RemainingUses int
	Key           *models.DigitalKey
}

// Manager coordinates the cipher, the key store, and the audit trail
type Manager struct {
	store          keyStore
	cipher         *crypto.EnvelopeCipher
	recorder       auditRecorder
	defaultMaxUses int
	queryTimeout   time.Duration
}

// NewManager creates a key lifecycle manager. defaultMaxUses applies when
// generation options leave MaxUses unset; values below 1 fall back to
// single-use.
func NewManager(store keyStore, cipher *crypto.EnvelopeCipher, recorder auditRecorder, defaultMaxUses int) *Manager {
	if defaultMaxUses < 1 {
		defaultMaxUses = 1
	}
	return &Manager{
		store:          store,
		cipher:         cipher,
		recorder:       recorder,
		defaultMaxUses: defaultMaxUses,
	}
}

// SetQueryTimeout bounds every lifecycle call, and with it every persistence
// call the manager makes, so a hung store fails closed as StorageUnavailable
// instead of stalling the caller. Zero or negative disables the bound.
func (m *Manager) SetQueryTimeout(d time.Duration) {
	m.queryTimeout = d
}

// opCtx derives the bounded context a lifecycle call runs under
func (m *Manager) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.queryTimeout)
}

// GenerateSecureKey synthesizes a plaintext secret with a recognizable prefix
// and product/user correlation, encrypts it with the key's identity bound as
// AAD, and persists the envelope with zero uses consumed.
func (m *Manager) GenerateSecureKey(ctx context.Context, productID, userID string, opts GenerateOptions) (*GeneratedKey, error) {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()
	if productID == "" || userID == "" {
		return nil, fmt.Errorf("keys: product id and user id are required")
	}

	keyType := opts.KeyType
	if keyType == "" {
		keyType = models.KeyTypeLicense
	}
	if _, ok := keyPrefixes[keyType]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKeyType, keyType)
	}

	maxUses := opts.MaxUses
	if maxUses < 1 {
		maxUses = m.defaultMaxUses
	}

	plainSecret, err := generatePlainSecret(keyType, productID, userID)
	if err != nil {
		return nil, err
	}

	aad := aadMetadata(productID, userID, keyType, maxUses, opts.Metadata)

	timer := prometheus.NewTimer(telemetry.CryptoOperationDuration.WithLabelValues("encrypt"))
	env, err := m.cipher.Encrypt(plainSecret, aad)
	timer.ObserveDuration()
	if err != nil {
		m.audit(ctx, nil, &userID, models.KeyActionGenerate, false, reasonEncryptionFailed, nil)
		telemetry.KeyOperationsTotal.WithLabelValues("generate", "error").Inc()
		return nil, fmt.Errorf("keys: encrypt generated secret: %w", err)
	}

	key := &models.DigitalKey{
		ProductID:   productID,
		UserID:      userID,
		KeyType:     keyType,
		Metadata:    opts.Metadata,
		MaxUses:     maxUses,
		CurrentUses: 0,
		IsActive:    true,
		ExpiresAt:   opts.ExpiresAt,
	}
	applyEnvelope(key, env)

	if err := m.store.CreateDigitalKey(ctx, key); err != nil {
		m.audit(ctx, nil, &userID, models.KeyActionGenerate, false, reasonStorageUnavailable, nil)
		telemetry.KeyOperationsTotal.WithLabelValues("generate", "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	m.audit(ctx, &key.ID, &userID, models.KeyActionGenerate, true, "", map[string]interface{}{
		"product_id": productID,
		"key_type":   keyType,
		"max_uses":   maxUses,
	})
	telemetry.KeyOperationsTotal.WithLabelValues("generate", "success").Inc()

	return &GeneratedKey{Key: key, PlainSecret: plainSecret}, nil
}

// GetDigitalKey returns the stored record for status display. It never
// decrypts and never counts as a usage.
func (m *Manager) GetDigitalKey(ctx context.Context, keyID, callerUserID string) (*models.DigitalKey, error) {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()
	key, err := m.store.GetDigitalKey(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if key == nil {
		return nil, ErrKeyNotFound
	}

	m.audit(ctx, &key.ID, &callerUserID, models.KeyActionGet, true, "", nil)
	return key, nil
}

// GetDigitalKeyByFingerprint looks a key up by its envelope fingerprint.
// The fingerprint is a weak index for deduplication and rotation matching,
// never decryption material.
func (m *Manager) GetDigitalKeyByFingerprint(ctx context.Context, fingerprint string) (*models.DigitalKey, error) {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()
	key, err := m.store.GetDigitalKeyByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if key == nil {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

// ListDigitalKeys returns all keys issued to a user, for status display
func (m *Manager) ListDigitalKeys(ctx context.Context, userID string) ([]*models.DigitalKey, error) {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()
	keys, err := m.store.ListDigitalKeysByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return keys, nil
}

// ValidateUsage is the core policy gate: it checks revocation, then expiry,
// then the usage limit, and consumes one use as part of the same check. The
// check and the increment are a single conditional update, so concurrent
// callers can never be granted more than MaxUses successes between them. The
// returned key reflects the state after the increment.
func (m *Manager) ValidateUsage(ctx context.Context, keyID string) (*models.DigitalKey, error) {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()
	key, err := m.store.GetDigitalKey(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if key == nil {
		return nil, ErrKeyNotFound
	}
	if err := classify(key); err != nil {
		return nil, err
	}

	updated, err := m.store.ConsumeUsage(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if updated == nil {
		// The guard rejected the increment: state changed between the fetch
		// and the update. Re-fetch to report the precise reason.
		key, err = m.store.GetDigitalKey(ctx, keyID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		if key == nil {
			return nil, ErrKeyNotFound
		}
		if err := classify(key); err != nil {
			return nil, err
		}
		return nil, ErrUsageLimitExceeded
	}

	return updated, nil
}

// UseDigitalKey is the only call that returns plaintext. It decrypts the
// envelope, then passes the usage gate; a failed gate never leaks plaintext
// and a failed decrypt never consumes a use.
func (m *Manager) UseDigitalKey(ctx context.Context, keyID, callerUserID, ip string) (*UsageResult, error) {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()
	key, err := m.store.GetDigitalKey(ctx, keyID)
	if err != nil {
		m.auditUse(ctx, nil, callerUserID, ip, false, reasonStorageUnavailable)
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if key == nil {
		m.auditUse(ctx, nil, callerUserID, ip, false, reasonKeyNotFound)
		telemetry.KeyOperationsTotal.WithLabelValues("use", "rejected").Inc()
		return nil, ErrKeyNotFound
	}
	if err := classify(key); err != nil {
		m.auditUse(ctx, &key.ID, callerUserID, ip, false, reasonFor(err))
		telemetry.KeyOperationsTotal.WithLabelValues("use", "rejected").Inc()
		return nil, err
	}

	aad := aadMetadata(key.ProductID, key.UserID, key.KeyType, key.MaxUses, key.Metadata)

	timer := prometheus.NewTimer(telemetry.CryptoOperationDuration.WithLabelValues("decrypt"))
	plainSecret, err := m.cipher.Decrypt(envelopeFromKey(key), aad)
	timer.ObserveDuration()
	if err != nil {
		m.auditUse(ctx, &key.ID, callerUserID, ip, false, reasonDecryptionFailed)
		telemetry.KeyOperationsTotal.WithLabelValues("use", "error").Inc()
		return nil, fmt.Errorf("keys: open envelope for key %s: %w", key.ID, err)
	}

	updated, err := m.ValidateUsage(ctx, keyID)
	if err != nil {
		m.auditUse(ctx, &key.ID, callerUserID, ip, false, reasonFor(err))
		telemetry.KeyOperationsTotal.WithLabelValues("use", "rejected").Inc()
		return nil, err
	}

	m.audit(ctx, &updated.ID, &callerUserID, models.KeyActionUse, true, "", map[string]interface{}{
		"remaining_uses": updated.RemainingUses(),
	})
	telemetry.KeyOperationsTotal.WithLabelValues("use", "success").Inc()

	return &UsageResult{
		PlainSecret:   plainSecret,
		RemainingUses: updated.RemainingUses(),
		Key:           updated,
	}, nil
}

// RotateKey re-encrypts the key's envelope under newMasterSecret and persists
// it in place. The key's id, usage counters, and lifecycle state are
// unchanged; only the envelope and its fingerprint are replaced.
func (m *Manager) RotateKey(ctx context.Context, keyID, newMasterSecret string) (*models.DigitalKey, error) {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()
	key, err := m.store.GetDigitalKey(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if key == nil {
		m.audit(ctx, nil, nil, models.KeyActionRotate, false, reasonKeyNotFound, nil)
		telemetry.KeyOperationsTotal.WithLabelValues("rotate", "rejected").Inc()
		return nil, ErrKeyNotFound
	}

	aad := aadMetadata(key.ProductID, key.UserID, key.KeyType, key.MaxUses, key.Metadata)

	timer := prometheus.NewTimer(telemetry.CryptoOperationDuration.WithLabelValues("rotate"))
	env, err := m.cipher.Rotate(envelopeFromKey(key), aad, newMasterSecret)
	timer.ObserveDuration()
	if err != nil {
		m.audit(ctx, &key.ID, nil, models.KeyActionRotate, false, reasonDecryptionFailed, nil)
		telemetry.KeyOperationsTotal.WithLabelValues("rotate", "error").Inc()
		return nil, fmt.Errorf("keys: rotate envelope for key %s: %w", key.ID, err)
	}

	oldFingerprint := key.Fingerprint
	applyEnvelope(key, env)

	if err := m.store.UpdateEnvelope(ctx, key); err != nil {
		m.audit(ctx, &key.ID, nil, models.KeyActionRotate, false, reasonStorageUnavailable, nil)
		telemetry.KeyOperationsTotal.WithLabelValues("rotate", "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	m.audit(ctx, &key.ID, nil, models.KeyActionRotate, true, "", map[string]interface{}{
		"old_fingerprint": oldFingerprint,
		"new_fingerprint": key.Fingerprint,
	})
	telemetry.KeyOperationsTotal.WithLabelValues("rotate", "success").Inc()

	return key, nil
}

// RevokeKey marks the key revoked. Revoking an already-revoked key is a
// no-op success: the original revocation time and reason are preserved.
func (m *Manager) RevokeKey(ctx context.Context, keyID, callerUserID, reason string) error {
	ctx, cancel := m.opCtx(ctx)
	defer cancel()
	rows, err := m.store.RevokeDigitalKey(ctx, keyID, reason)
	if err != nil {
		m.audit(ctx, &keyID, &callerUserID, models.KeyActionRevoke, false, reasonStorageUnavailable, nil)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if rows == 0 {
		// Either already revoked (idempotent success) or unknown.
		key, err := m.store.GetDigitalKey(ctx, keyID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		if key == nil {
			m.audit(ctx, &keyID, &callerUserID, models.KeyActionRevoke, false, reasonKeyNotFound, nil)
			telemetry.KeyOperationsTotal.WithLabelValues("revoke", "rejected").Inc()
			return ErrKeyNotFound
		}
	}

	m.audit(ctx, &keyID, &callerUserID, models.KeyActionRevoke, true, "", map[string]interface{}{
		"reason": reason,
	})
	telemetry.KeyOperationsTotal.WithLabelValues("revoke", "success").Inc()

	return nil
}

// classify checks the lifecycle gates in order: revocation, expiry, usage
// limit. A nil return means the key may be used, pending the atomic
// increment.
func classify(key *models.DigitalKey) error {
	if key.RevokedAt != nil || !key.IsActive {
		return ErrKeyRevoked
	}
	if key.ExpiresAt != nil && !key.ExpiresAt.After(time.Now()) {
		return ErrKeyExpired
	}
	if key.CurrentUses >= key.MaxUses {
		return ErrUsageLimitExceeded
	}
	return nil
}

// reasonFor maps a sentinel error to its audit reason code
func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrKeyNotFound):
		return reasonKeyNotFound
	case errors.Is(err, ErrKeyRevoked):
		return reasonKeyRevoked
	case errors.Is(err, ErrKeyExpired):
		return reasonKeyExpired
	case errors.Is(err, ErrUsageLimitExceeded):
		return reasonUsageLimit
	case errors.Is(err, ErrStorageUnavailable):
		return reasonStorageUnavailable
	default:
		return "internal_error"
	}
}

// generatePlainSecret builds "<PREFIX>-<product>-<user>-<random>" with a
// 256-bit random tail, so support staff can trace a key to its product and
// owner without decrypting anything.
func generatePlainSecret(keyType, productID, userID string) (string, error) {
	random := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, random); err != nil {
		return "", fmt.Errorf("keys: read random: %w", err)
	}
	return fmt.Sprintf("%s-%s-%s-%s", keyPrefixes[keyType], productID, userID,
		randomEncoding.EncodeToString(random)), nil
}

// aadMetadata builds the metadata bundle bound into the envelope's AAD: the
// key's identity fields plus any caller metadata. Decryption reconstructs the
// same bundle from the stored row, so tampering with a row's identity columns
// makes its envelope undecryptable.
func aadMetadata(productID, userID, keyType string, maxUses int, extra map[string]string) map[string]string {
	aad := make(map[string]string, len(extra)+4)
	for k, v := range extra {
		aad[k] = v
	}
	aad["product_id"] = productID
	aad["user_id"] = userID
	aad["key_type"] = keyType
	aad["max_uses"] = strconv.Itoa(maxUses)
	return aad
}

func envelopeFromKey(key *models.DigitalKey) *crypto.Envelope {
	return &crypto.Envelope{
		Algorithm:   key.Algorithm,
		Version:     key.FormatVersion,
		Salt:        key.KeySalt,
		IV:          key.IV,
		Ciphertext:  key.Ciphertext,
		Tag:         key.AuthTag,
		Fingerprint: key.Fingerprint,
	}
}

func applyEnvelope(key *models.DigitalKey, env *crypto.Envelope) {
	key.Algorithm = env.Algorithm
	key.FormatVersion = env.Version
	key.KeySalt = env.Salt
	key.IV = env.IV
	key.Ciphertext = env.Ciphertext
	key.AuthTag = env.Tag
	key.Fingerprint = env.Fingerprint
}

func (m *Manager) audit(ctx context.Context, keyID, userID *string, action string, success bool, reason string, metadata map[string]interface{}) {
	if m.recorder == nil {
		return
	}
	log := &models.KeyUsageLog{
		KeyID:    keyID,
		UserID:   userID,
		Action:   action,
		Success:  success,
		Metadata: metadata,
	}
	if reason != "" {
		log.Reason = &reason
	}
	m.recorder.RecordKeyAction(ctx, log)
}

func (m *Manager) auditUse(ctx context.Context, keyID *string, userID, ip string, success bool, reason string) {
	if m.recorder == nil {
		return
	}
	log := &models.KeyUsageLog{
		KeyID:   keyID,
		UserID:  &userID,
		Action:  models.KeyActionUse,
		Success: success,
	}
	if ip != "" {
		log.IPAddress = &ip
	}
	if reason != "" {
		log.Reason = &reason
	}
	m.recorder.RecordKeyAction(ctx, log)
}
