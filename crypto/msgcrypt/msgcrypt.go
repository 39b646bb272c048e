// Package msgcrypt implements the transparent payload encryption layer for
// text frames: AES in GCM or CBC mode, keyed with a 16- or 32-byte shared
// secret, with a TTL-bounded memoization cache for repeated plaintexts.
//
// The wire format is base64(IV‖ciphertext) where GCM folds its tag into the
// ciphertext. Binary frames never pass through this package.
package msgcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shuliangfu/wsmesh/internal/quickhash"
	"github.com/shuliangfu/wsmesh/wserrors"
)

// Algorithm names a supported AES mode.
type Algorithm string

const (
	AES128GCM Algorithm = "aes-128-gcm"
	AES256GCM Algorithm = "aes-256-gcm"
	AES128CBC Algorithm = "aes-128-cbc"
	AES256CBC Algorithm = "aes-256-cbc"
)

const (
	gcmNonceLen = 12
	cbcIVLen    = aes.BlockSize

	// likelyCiphertextMin is the decoded-length threshold above which a pure
	// base64 string is treated as ciphertext. The smallest real frame is a
	// GCM nonce plus tag (28 bytes), so anything at or below the threshold
	// is assumed to be ordinary text that merely looks base64ish.
	likelyCiphertextMin = 20
)

var (
	// ErrKeyLength signals a key whose length does not match the algorithm.
	ErrKeyLength = errors.New("encryption key length mismatch")
	// ErrUnknownAlgorithm signals an algorithm outside the supported set.
	ErrUnknownAlgorithm = errors.New("unknown encryption algorithm")
	// ErrDecrypt signals that ciphertext failed authentication or padding checks.
	ErrDecrypt = errors.New("decryption failed")
	// ErrNotEncrypted signals input too short or malformed to be a frame.
	ErrNotEncrypted = errors.New("input is not an encrypted frame")
)

// Config configures a Cipher. A zero Config (no key) yields a disabled
// cipher whose Encrypt/Decrypt are identity functions.
type Config struct {
	Key       []byte        // 16 or 32 bytes; nil disables encryption.
	Algorithm Algorithm     // Optional; inferred from key length when empty.
	Disabled  bool          // Force-disable even when a key is present.
	CacheSize int           // Max memoized plaintexts; 0 = default, <0 = no cache.
	CacheTTL  time.Duration // Memoization TTL (0 uses default).
}

// keyLen returns the required key length for an algorithm.
func keyLen(alg Algorithm) (int, error) {
	switch alg {
	case AES128GCM, AES128CBC:
		return 16, nil
	case AES256GCM, AES256CBC:
		return 32, nil
	default:
		return 0, ErrUnknownAlgorithm
	}
}

// inferAlgorithm picks a GCM mode from the key length.
func inferAlgorithm(key []byte) (Algorithm, error) {
	switch len(key) {
	case 16:
		return AES128GCM, nil
	case 32:
		return AES256GCM, nil
	default:
		return "", ErrKeyLength
	}
}

// Cipher encrypts and decrypts text payloads. The zero value is unusable;
// construct with New or Identity.
type Cipher struct {
	alg     Algorithm
	enabled bool

	aead  cipher.AEAD  // GCM modes.
	block cipher.Block // CBC modes.

	cache *textCache // Nil when caching is disabled.
}

// Identity returns a disabled cipher whose Encrypt/Decrypt pass text through.
func Identity() *Cipher {
	return &Cipher{}
}

// New validates the key against the algorithm and builds a ready cipher.
// A missing algorithm is inferred from the key length. Key/algorithm
// mismatch is a construction-time failure (the only fatal error class in
// this package).
func New(cfg Config) (*Cipher, error) {
	if cfg.Disabled || len(cfg.Key) == 0 {
		return Identity(), nil
	}
	alg := cfg.Algorithm
	if alg == "" {
		inferred, err := inferAlgorithm(cfg.Key)
		if err != nil {
			return nil, wserrors.Wrap(wserrors.ScopeServer, wserrors.StageValidate, wserrors.CodeInvalidKeyLength, err)
		}
		alg = inferred
	}
	want, err := keyLen(alg)
	if err != nil {
		return nil, wserrors.Wrap(wserrors.ScopeServer, wserrors.StageValidate, wserrors.CodeInvalidAlgorithm, err)
	}
	if len(cfg.Key) != want {
		return nil, wserrors.Wrap(wserrors.ScopeServer, wserrors.StageValidate, wserrors.CodeInvalidKeyLength,
			fmt.Errorf("%w: algorithm %s requires %d bytes, got %d", ErrKeyLength, alg, want, len(cfg.Key)))
	}
	block, err := aes.NewCipher(cfg.Key)
	if err != nil {
		return nil, err
	}
	c := &Cipher{alg: alg, enabled: true}
	switch alg {
	case AES128GCM, AES256GCM:
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
		c.aead = aead
	case AES128CBC, AES256CBC:
		c.block = block
	}
	c.cache = newTextCache(cfg.CacheSize, cfg.CacheTTL)
	return c, nil
}

// Enabled reports whether this cipher actually transforms payloads.
func (c *Cipher) Enabled() bool {
	return c != nil && c.enabled
}

// Algorithm returns the active algorithm, or "" for a disabled cipher.
func (c *Cipher) Algorithm() Algorithm {
	if !c.Enabled() {
		return ""
	}
	return c.alg
}

// Encrypt transforms plaintext into base64(IV‖ciphertext). Repeated calls
// with the same plaintext may return a memoized frame while the cache entry
// lives; a cache miss recomputes with a fresh IV, which decrypts identically.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if !c.Enabled() {
		return plaintext, nil
	}
	if c.cache != nil {
		if ct, ok := c.cache.get(c.alg, plaintext); ok {
			return ct, nil
		}
	}
	ct, err := c.seal(plaintext)
	if err != nil {
		return "", err
	}
	if c.cache != nil {
		c.cache.put(c.alg, plaintext, ct)
	}
	return ct, nil
}

func (c *Cipher) seal(plaintext string) (string, error) {
	switch c.alg {
	case AES128GCM, AES256GCM:
		nonce := make([]byte, gcmNonceLen)
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return "", err
		}
		sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
		return base64.StdEncoding.EncodeToString(sealed), nil
	case AES128CBC, AES256CBC:
		padded := padPKCS7([]byte(plaintext), aes.BlockSize)
		out := make([]byte, cbcIVLen+len(padded))
		iv := out[:cbcIVLen]
		if _, err := io.ReadFull(rand.Reader, iv); err != nil {
			return "", err
		}
		cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out[cbcIVLen:], padded)
		return base64.StdEncoding.EncodeToString(out), nil
	default:
		return "", ErrUnknownAlgorithm
	}
}

// Decrypt reverses Encrypt. It returns ErrDecrypt (wrapped) when the frame
// fails authentication, padding, or structural checks.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	if !c.Enabled() {
		return ciphertext, nil
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrNotEncrypted
	}
	switch c.alg {
	case AES128GCM, AES256GCM:
		if len(raw) < gcmNonceLen+c.aead.Overhead() {
			return "", ErrNotEncrypted
		}
		plain, err := c.aead.Open(nil, raw[:gcmNonceLen], raw[gcmNonceLen:], nil)
		if err != nil {
			return "", ErrDecrypt
		}
		return string(plain), nil
	case AES128CBC, AES256CBC:
		if len(raw) < cbcIVLen+aes.BlockSize || (len(raw)-cbcIVLen)%aes.BlockSize != 0 {
			return "", ErrNotEncrypted
		}
		body := make([]byte, len(raw)-cbcIVLen)
		cipher.NewCBCDecrypter(c.block, raw[:cbcIVLen]).CryptBlocks(body, raw[cbcIVLen:])
		plain, err := unpadPKCS7(body, aes.BlockSize)
		if err != nil {
			return "", ErrDecrypt
		}
		return string(plain), nil
	default:
		return "", ErrUnknownAlgorithm
	}
}

// CacheStats returns hit/miss/eviction counters for the memoization cache.
func (c *Cipher) CacheStats() CacheStats {
	if c == nil || c.cache == nil {
		return CacheStats{}
	}
	return c.cache.stats()
}

// IsLikelyCiphertext reports whether s is plausibly an encrypted frame:
// pure standard base64 decoding to more than 20 bytes. It only distinguishes
// "undecryptable because we lack the key" from "malformed"; it is a
// heuristic, never a validator.
func IsLikelyCiphertext(s string) bool {
	if s == "" {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return false
	}
	return len(raw) > likelyCiphertextMin
}

// GenerateKey returns a fresh random key for the given strength (128 or 256).
func GenerateKey(bits int) ([]byte, error) {
	switch bits {
	case 128, 256:
	default:
		return nil, fmt.Errorf("unsupported key size %d (want 128 or 256)", bits)
	}
	key := make([]byte, bits/8)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// DeriveKeyFromPassword derives a key of the given strength from a password
// by SHA-256, truncated to 16 or 32 bytes.
func DeriveKeyFromPassword(password string, bits int) ([]byte, error) {
	switch bits {
	case 128, 256:
	default:
		return nil, fmt.Errorf("unsupported key size %d (want 128 or 256)", bits)
	}
	sum := sha256.Sum256([]byte(password))
	return sum[:bits/8], nil
}

func padPKCS7(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func unpadPKCS7(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, errors.New("bad padded length")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, errors.New("bad padding byte")
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, errors.New("inconsistent padding")
		}
	}
	return b[:len(b)-n], nil
}

// cacheKey builds the memoization key from the algorithm, the plaintext
// length, and at most the first 64 characters, hashed down to a short
// string. Plaintexts sharing length and prefix map to one entry; the
// reused frame still decrypts to the cached plaintext's bytes.
func cacheKey(alg Algorithm, plaintext string) string {
	prefix := plaintext
	if len(prefix) > 64 {
		prefix = prefix[:64]
	}
	return quickhash.Sum(string(alg) + "|" + strconv.Itoa(len(plaintext)) + "|" + prefix)
}
