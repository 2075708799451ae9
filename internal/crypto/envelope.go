// Package crypto provides AES-256-GCM authenticated encryption for license
// and activation secrets that must be stored at rest in the database. A
// protected secret is stored as a versioned envelope: algorithm tag, format
// version, key-derivation salt, IV, ciphertext, and authentication tag. The
// key metadata (product, owner, key type, usage limit) is bound to the
// ciphertext as additional authenticated data, so tampering with the clear
// metadata columns is detected at decrypt time even though the metadata itself
// is not encrypted. AES-256-GCM is chosen because it provides both
// confidentiality and authenticated integrity, ensuring stored secrets cannot
// be silently tampered with even if the database is partially compromised.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/keystore"
)

const (
	// AlgorithmAESGCM is the algorithm tag written into every envelope.
	AlgorithmAESGCM = "aes-256-gcm"

	// FormatVersion is the current envelope format version. Older versions
	// remain decryptable; unknown versions fail closed.
	FormatVersion = 1

	pbkdf2Iterations = 100000
	keySize          = 32 // AES-256
	saltSize         = 16
	nonceSize        = 12 // 96-bit GCM nonce
	tagSize          = 16
)

var (
	// ErrDecryptionFailed is returned when authentication or decryption fails
	// under every available master secret, indicating tampering, corruption,
	// or a wrong/rotated-away secret. No partial plaintext is ever returned.
	ErrDecryptionFailed = errors.New("crypto: decryption operation failed")
	// ErrMalformedEnvelope is returned when an envelope is structurally invalid
	// (missing fields, wrong IV or tag length).
	ErrMalformedEnvelope = errors.New("crypto: envelope is malformed")
	// ErrUnknownVersion is returned for envelope format versions this build
	// does not understand. Unknown versions fail closed.
	ErrUnknownVersion = errors.New("crypto: unknown envelope format version")
	// ErrUnknownAlgorithm is returned for algorithm tags this build does not support.
	ErrUnknownAlgorithm = errors.New("crypto: unknown envelope algorithm")
)

// Envelope is the self-describing encrypted form of a protected secret.
// Fingerprint is a deterministic digest over the plaintext-independent parts
// of the envelope, used for lookup, deduplication, and rotation matching. It
// is never key material: knowing a fingerprint reveals nothing about the
// plaintext and cannot be used to decrypt.
type Envelope struct {
	Algorithm   string
	Version     int
	Salt        []byte
	IV          []byte
	Ciphertext  []byte
	Tag         []byte
	Fingerprint string
}

// EnvelopeCipher seals and opens envelopes using master secrets supplied by an
// injected keystore. Decryption also tries the keystore's retired secrets so
// envelopes written before a rotation stay readable.
type EnvelopeCipher struct {
	keys keystore.Keystore
}

// NewEnvelopeCipher creates a cipher bound to the given keystore.
func NewEnvelopeCipher(keys keystore.Keystore) *EnvelopeCipher {
	return &EnvelopeCipher{keys: keys}
}

// Encrypt seals plaintext under the keystore's current master secret, binding
// metadata as additional authenticated data. Each call generates a fresh salt
// and IV, so encrypting the same plaintext twice yields different envelopes.
func (c *EnvelopeCipher) Encrypt(plaintext string, metadata map[string]string) (*Envelope, error) {
	secret, err := c.keys.Current()
	if err != nil {
		return nil, err
	}
	return seal(secret, plaintext, metadata)
}

// Decrypt verifies and opens an envelope, returning the plaintext. The
// supplied metadata must match the metadata bound at encryption time. The
// current master secret is tried first, then retired secrets. Any
// verification failure, algorithm or version mismatch, or malformed envelope
// returns ErrDecryptionFailed (or a more specific sentinel) and no output.
func (c *EnvelopeCipher) Decrypt(env *Envelope, metadata map[string]string) (string, error) {
	if err := validate(env); err != nil {
		return "", err
	}

	current, err := c.keys.Current()
	if err != nil {
		return "", err
	}
	secrets := append([]string{current}, c.keys.Previous()...)

	aad := encodeAAD(metadata)
	for _, secret := range secrets {
		plaintext, err := open(secret, env, aad)
		if err == nil {
			return plaintext, nil
		}
	}
	return "", ErrDecryptionFailed
}

// Rotate re-encrypts an envelope under newSecret. The resulting envelope has
// fresh randomness and therefore a new fingerprint; the caller is responsible
// for persisting it in place so the key's external identity is unchanged.
// Plaintext exists only in process memory for the duration of the call.
func (c *EnvelopeCipher) Rotate(env *Envelope, metadata map[string]string, newSecret string) (*Envelope, error) {
	if len(newSecret) < keystore.MinSecretLength {
		return nil, keystore.ErrSecretTooShort
	}
	plaintext, err := c.Decrypt(env, metadata)
	if err != nil {
		return nil, err
	}
	return seal(newSecret, plaintext, metadata)
}

func seal(secret, plaintext string, metadata map[string]string) (*Envelope, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}

	aead, err := newAEAD(secret, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	sealed := aead.Seal(nil, nonce, []byte(plaintext), encodeAAD(metadata))
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	env := &Envelope{
		Algorithm:  AlgorithmAESGCM,
		Version:    FormatVersion,
		Salt:       salt,
		IV:         nonce,
		Ciphertext: ciphertext,
		Tag:        tag,
	}
	env.Fingerprint = fingerprint(env)
	return env, nil
}

func open(secret string, env *Envelope, aad []byte) (string, error) {
	aead, err := newAEAD(secret, env.Salt)
	if err != nil {
		return "", err
	}
	sealed := append(append([]byte(nil), env.Ciphertext...), env.Tag...)
	plaintext, err := aead.Open(nil, env.IV, sealed, aad)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

func newAEAD(secret string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(secret), salt, pbkdf2Iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func validate(env *Envelope) error {
	if env == nil {
		return ErrMalformedEnvelope
	}
	if env.Algorithm != AlgorithmAESGCM {
		return ErrUnknownAlgorithm
	}
	if env.Version != FormatVersion {
		return ErrUnknownVersion
	}
	if len(env.Salt) != saltSize || len(env.IV) != nonceSize || len(env.Tag) != tagSize || len(env.Ciphertext) == 0 {
		return ErrMalformedEnvelope
	}
	return nil
}

// fingerprint computes the envelope's lookup digest: SHA-256 over the
// version, salt, IV, ciphertext, and tag, hex-encoded. It is deterministic
// for a given envelope and changes on rotation because rotation generates
// fresh randomness.
func fingerprint(env *Envelope) string {
	h := sha256.New()
	var version [4]byte
	binary.BigEndian.PutUint32(version[:], uint32(env.Version))
	h.Write(version[:])
	h.Write(env.Salt)
	h.Write(env.IV)
	h.Write(env.Ciphertext)
	h.Write(env.Tag)
	return hex.EncodeToString(h.Sum(nil))
}

// encodeAAD serialises the metadata bundle into the byte string bound as
// additional authenticated data. encoding/json sorts map keys, so the
// encoding is stable across processes.
func encodeAAD(metadata map[string]string) []byte {
	if metadata == nil {
		metadata = map[string]string{}
	}
	aad, err := json.Marshal(metadata)
	if err != nil {
		// map[string]string cannot fail to marshal
		return nil
	}
	return aad
}

// FingerprintEqual compares two fingerprints in constant time.
func FingerprintEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
