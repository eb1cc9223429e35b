package mfa

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
)

// NewTOTPSecret generates a fresh 20-byte shared secret, base32-encoded
// per spec.md §4.7.
func NewTOTPSecret() (string, error) {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base32.StdEncoding.EncodeToString(raw), nil
}

// GenerateTOTP returns the 6-digit code for secret at the given 30-second
// time step (epoch_seconds / 30), per RFC 6238 over HMAC-SHA1.
func GenerateTOTP(secret string, timeStep uint64) (string, error) {
	key, err := decodeTOTPSecret(secret)
	if err != nil {
		return "", err
	}

	counterBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(counterBytes, timeStep)

	h := hmac.New(sha1.New, key)
	h.Write(counterBytes)
	sum := h.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	return fmt.Sprintf("%06d", code%1_000_000), nil
}

// VerifyTOTP checks code against secret across the time steps derived from
// epochSeconds, checking window steps to either side for clock drift.
// Comparison is constant-time.
func VerifyTOTP(secret string, code string, epochSeconds int64, window int) (bool, error) {
	step := uint64(epochSeconds) / 30
	for i := -window; i <= window; i++ {
		adjusted := adjustStep(step, i)
		expected, err := GenerateTOTP(secret, adjusted)
		if err != nil {
			return false, err
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return true, nil
		}
	}
	return false, nil
}

func adjustStep(step uint64, delta int) uint64 {
	if delta >= 0 {
		return step + uint64(delta)
	}
	return step - uint64(-delta)
}

func decodeTOTPSecret(secret string) ([]byte, error) {
	s := strings.ToUpper(strings.TrimSpace(secret))
	s = strings.TrimRight(s, "=")
	if mod := len(s) % 8; mod != 0 {
		s += strings.Repeat("=", 8-mod)
	}
	return base32.StdEncoding.DecodeString(s)
}
