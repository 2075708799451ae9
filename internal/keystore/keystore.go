// Package keystore supplies the master secret used by the envelope cipher.
// The secret is modelled as an explicit dependency handed to the cipher at
// construction time rather than a process global, so tests can inject a fixed
// secret and rotation can happen without restarting the process. A keystore
// also retains the previous secrets that are still needed to decrypt envelopes
// written before the most recent rotation.
package keystore

import (
	"errors"
	"sync"
)

// MinSecretLength is the minimum accepted master secret length in bytes.
// Shorter passphrases weaken the PBKDF2 derivation performed by the cipher.
const MinSecretLength = 16

// ErrSecretTooShort is returned when a master secret shorter than MinSecretLength is supplied.
var ErrSecretTooShort = errors.New("keystore: master secret must be at least 16 bytes")

// ErrNoSecret is returned when a keystore has no current secret configured.
var ErrNoSecret = errors.New("keystore: no master secret configured")

// Keystore provides the current master secret and the previous secrets kept
// for decrypting pre-rotation envelopes.
type Keystore interface {
	// Current returns the active master secret.
	Current() (string, error)
	// Previous returns retired secrets, most recent first. May be empty.
	Previous() []string
}

// Static is an in-memory keystore seeded from configuration or the
// environment. Rotate pushes the active secret onto the previous list so
// envelopes encrypted before the rotation stay decryptable.
type Static struct {
	mu       sync.RWMutex
	current  string
	previous []string
}

// NewStatic creates a keystore with a fixed current secret and optional
// retired secrets (most recent first).
func NewStatic(current string, previous ...string) (*Static, error) {
	if len(current) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	return &Static{current: current, previous: append([]string(nil), previous...)}, nil
}

// Current returns the active master secret.
func (s *Static) Current() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == "" {
		return "", ErrNoSecret
	}
	return s.current, nil
}

// Previous returns retired secrets, most recent first.
func (s *Static) Previous() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.previous...)
}

// Rotate installs a new active secret and retires the old one.
func (s *Static) Rotate(next string) error {
	if len(next) < MinSecretLength {
		return ErrSecretTooShort
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != "" {
		s.previous = append([]string{s.current}, s.previous...)
	}
	s.current = next
	return nil
}
