// Package cmdutil holds small helpers shared by the wsmesh command-line
// tools: environment-variable parsing with fallbacks, encryption key
// decoding, and usage-error plumbing.
package cmdutil

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

// EnvString returns the trimmed env value if present, else fallback.
func EnvString(key, fallback string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return fallback
}

// EnvInt parses an integer env value; unset or blank returns fallback.
func EnvInt(key string, fallback int) (int, error) {
	v, ok := lookup(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// EnvBool parses a boolean env value; unset or blank returns fallback.
func EnvBool(key string, fallback bool) (bool, error) {
	v, ok := lookup(key)
	if !ok {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

// EnvDuration parses a time.Duration env value; unset or blank returns
// fallback.
func EnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := lookup(key)
	if !ok {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// ParseKey decodes an encryption key given as base64, hex, or a raw string
// that is already exactly 16 or 32 bytes. Encoded forms win when their
// decoded length is a valid key length, so "deadbeef..." hex is not
// mistaken for a raw passphrase.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil && validKeyLen(len(raw)) {
		return raw, nil
	}
	if raw, err := hex.DecodeString(s); err == nil && validKeyLen(len(raw)) {
		return raw, nil
	}
	if validKeyLen(len(s)) {
		return []byte(s), nil
	}
	return nil, fmt.Errorf("key must decode to 16 or 32 bytes (got %d raw characters)", len(s))
}

func validKeyLen(n int) bool { return n == 16 || n == 32 }

// UsageError marks an error as a usage/config error (exit=2 for CLIs).
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string { return e.Msg }

// Usagef builds a UsageError from a format string.
func Usagef(format string, args ...interface{}) error {
	return &UsageError{Msg: fmt.Sprintf(format, args...)}
}

// IsUsage reports whether err is a UsageError (directly or wrapped).
func IsUsage(err error) bool {
	var ue *UsageError
	return errors.As(err, &ue)
}

// WriteJSON writes v as JSON to w, followed by a newline.
func WriteJSON(w io.Writer, v interface{}, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
