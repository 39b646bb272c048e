package msgcrypt

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/shuliangfu/wsmesh/wserrors"
)

func mustCipher(t *testing.T, cfg Config) *Cipher {
	t.Helper()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestRoundTripAllAlgorithms(t *testing.T) {
	key16 := bytes.Repeat([]byte{0x42}, 16)
	key32 := bytes.Repeat([]byte{0x42}, 32)
	cases := []struct {
		alg Algorithm
		key []byte
	}{
		{AES128GCM, key16},
		{AES256GCM, key32},
		{AES128CBC, key16},
		{AES256CBC, key32},
	}
	payloads := []string{
		"",
		"hello",
		`{"type":"event","event":"chat","data":{"text":"hi"}}`,
		strings.Repeat("long payload ", 500),
		"unicode üñîçødé",
	}
	for _, tc := range cases {
		t.Run(string(tc.alg), func(t *testing.T) {
			c := mustCipher(t, Config{Key: tc.key, Algorithm: tc.alg, CacheSize: -1})
			for _, p := range payloads {
				ct, err := c.Encrypt(p)
				if err != nil {
					t.Fatalf("Encrypt(%q): %v", p, err)
				}
				if ct == p && p != "" {
					t.Fatalf("Encrypt(%q) returned plaintext unchanged", p)
				}
				got, err := c.Decrypt(ct)
				if err != nil {
					t.Fatalf("Decrypt: %v", err)
				}
				if got != p {
					t.Fatalf("round trip mismatch: got %q want %q", got, p)
				}
			}
		})
	}
}

func TestSharedKeyAcrossInstances(t *testing.T) {
	key, err := GenerateKey(256)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sender := mustCipher(t, Config{Key: key})
	receiver := mustCipher(t, Config{Key: key})
	ct, err := sender.Encrypt("cross-instance payload")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	got, err := receiver.Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != "cross-instance payload" {
		t.Fatalf("got %q", got)
	}
}

func TestAlgorithmInference(t *testing.T) {
	c16 := mustCipher(t, Config{Key: bytes.Repeat([]byte{1}, 16)})
	if got := c16.Algorithm(); got != AES128GCM {
		t.Fatalf("16-byte key inferred %q, want %q", got, AES128GCM)
	}
	c32 := mustCipher(t, Config{Key: bytes.Repeat([]byte{1}, 32)})
	if got := c32.Algorithm(); got != AES256GCM {
		t.Fatalf("32-byte key inferred %q, want %q", got, AES256GCM)
	}
	if _, err := New(Config{Key: bytes.Repeat([]byte{1}, 24)}); !wserrors.Is(err, wserrors.CodeInvalidKeyLength) {
		t.Fatalf("24-byte key: got %v, want invalid_key_length", err)
	}
}

func TestKeyAlgorithmMismatch(t *testing.T) {
	_, err := New(Config{Key: bytes.Repeat([]byte{1}, 16), Algorithm: AES256GCM})
	if !wserrors.Is(err, wserrors.CodeInvalidKeyLength) {
		t.Fatalf("got %v, want invalid_key_length", err)
	}
	_, err = New(Config{Key: bytes.Repeat([]byte{1}, 16), Algorithm: "aes-512-gcm"})
	if !wserrors.Is(err, wserrors.CodeInvalidAlgorithm) {
		t.Fatalf("got %v, want invalid_algorithm", err)
	}
}

func TestIdentityWhenDisabled(t *testing.T) {
	for name, c := range map[string]*Cipher{
		"zero config": mustCipher(t, Config{}),
		"forced off":  mustCipher(t, Config{Key: bytes.Repeat([]byte{1}, 16), Disabled: true}),
		"identity":    Identity(),
	} {
		if c.Enabled() {
			t.Fatalf("%s: Enabled() = true", name)
		}
		ct, err := c.Encrypt("as-is")
		if err != nil || ct != "as-is" {
			t.Fatalf("%s: Encrypt = %q, %v", name, ct, err)
		}
		pt, err := c.Decrypt("as-is")
		if err != nil || pt != "as-is" {
			t.Fatalf("%s: Decrypt = %q, %v", name, pt, err)
		}
	}
}

func TestDecryptRejectsTamperedFrame(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	c := mustCipher(t, Config{Key: key, Algorithm: AES256GCM, CacheSize: -1})
	ct, err := c.Encrypt("authentic")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(ct)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	raw[len(raw)-1] ^= 0xff
	if _, err := c.Decrypt(base64.StdEncoding.EncodeToString(raw)); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("tampered frame: got %v, want ErrDecrypt", err)
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	a := mustCipher(t, Config{Key: bytes.Repeat([]byte{1}, 32)})
	b := mustCipher(t, Config{Key: bytes.Repeat([]byte{2}, 32)})
	ct, err := a.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := b.Decrypt(ct); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("wrong key: got %v, want ErrDecrypt", err)
	}
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	c := mustCipher(t, Config{Key: bytes.Repeat([]byte{5}, 16)})
	for _, in := range []string{
		"not base64 at all!",
		base64.StdEncoding.EncodeToString([]byte("short")),
	} {
		if _, err := c.Decrypt(in); !errors.Is(err, ErrNotEncrypted) {
			t.Fatalf("Decrypt(%q): got %v, want ErrNotEncrypted", in, err)
		}
	}

	cbc := mustCipher(t, Config{Key: bytes.Repeat([]byte{5}, 16), Algorithm: AES128CBC})
	// 16-byte IV plus a body that is not a whole number of blocks.
	odd := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{9}, 16+17))
	if _, err := cbc.Decrypt(odd); !errors.Is(err, ErrNotEncrypted) {
		t.Fatalf("odd CBC length: got %v, want ErrNotEncrypted", err)
	}
}

func TestIsLikelyCiphertext(t *testing.T) {
	c := mustCipher(t, Config{Key: bytes.Repeat([]byte{3}, 32)})
	real, err := c.Encrypt("x")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	cases := []struct {
		in   string
		want bool
	}{
		{real, true},
		{base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 32)), true},
		{base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 20)), false},
		{base64.StdEncoding.EncodeToString([]byte("tiny")), false},
		{`{"type":"event","event":"x"}`, false},
		{"hello world", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsLikelyCiphertext(tc.in); got != tc.want {
			t.Fatalf("IsLikelyCiphertext(%.24q...) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestEncryptMemoization(t *testing.T) {
	c := mustCipher(t, Config{Key: bytes.Repeat([]byte{8}, 32)})
	first, err := c.Encrypt("repeated payload")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	second, err := c.Encrypt("repeated payload")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if first != second {
		t.Fatalf("memoized encrypt differs: %q vs %q", first, second)
	}
	st := c.CacheStats()
	if st.Hits != 1 || st.Misses != 1 {
		t.Fatalf("stats = %+v, want 1 hit 1 miss", st)
	}
	if got, err := c.Decrypt(second); err != nil || got != "repeated payload" {
		t.Fatalf("Decrypt memoized = %q, %v", got, err)
	}
}

func TestEncryptCacheEviction(t *testing.T) {
	c := mustCipher(t, Config{Key: bytes.Repeat([]byte{8}, 32), CacheSize: 2})
	for _, p := range []string{"a", "bb", "ccc"} {
		if _, err := c.Encrypt(p); err != nil {
			t.Fatalf("Encrypt(%q): %v", p, err)
		}
	}
	st := c.CacheStats()
	if st.Entries > 2 {
		t.Fatalf("entries = %d, want <= 2", st.Entries)
	}
	if st.Evictions != 1 {
		t.Fatalf("evictions = %d, want 1", st.Evictions)
	}
}

func TestKeyHelpers(t *testing.T) {
	k128, err := GenerateKey(128)
	if err != nil || len(k128) != 16 {
		t.Fatalf("GenerateKey(128) = %d bytes, %v", len(k128), err)
	}
	k256, err := GenerateKey(256)
	if err != nil || len(k256) != 32 {
		t.Fatalf("GenerateKey(256) = %d bytes, %v", len(k256), err)
	}
	if _, err := GenerateKey(192); err == nil {
		t.Fatal("GenerateKey(192) accepted")
	}

	d1, err := DeriveKeyFromPassword("hunter2", 256)
	if err != nil || len(d1) != 32 {
		t.Fatalf("DeriveKeyFromPassword = %d bytes, %v", len(d1), err)
	}
	d2, _ := DeriveKeyFromPassword("hunter2", 256)
	if !bytes.Equal(d1, d2) {
		t.Fatal("derivation is not deterministic")
	}
	d3, _ := DeriveKeyFromPassword("hunter2", 128)
	if len(d3) != 16 || !bytes.Equal(d3, d1[:16]) {
		t.Fatal("128-bit derivation should be the 256-bit prefix")
	}
	if _, err := DeriveKeyFromPassword("x", 512); err == nil {
		t.Fatal("DeriveKeyFromPassword(512) accepted")
	}
}
