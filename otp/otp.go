// Package otp implements the RFC 4226 HOTP and RFC 6238 TOTP algorithms
// used for second-factor verification. It is pure and stateless: every
// function derives its result from the supplied secret and counter or
// timestamp, and no state is kept between calls.
//
// Code comparison is constant-time. Counter bookkeeping (replay
// protection, throttling) belongs to the caller.
package otp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const (
	// SecretLength is the generated shared-secret size in bytes.
	// 20 bytes (160 bits) per the RFC 4226 recommendation.
	SecretLength = 20

	// Digits is the length of every generated code.
	Digits = 6

	// Period is the TOTP time-step in seconds.
	Period = 30
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// ErrEmptySecret is returned when a code is requested for a zero-length secret.
var ErrEmptySecret = errors.New("otp: empty secret")

// GenerateSecret draws a fresh shared secret from the system CSPRNG.
func GenerateSecret() ([]byte, error) {
	secret := make([]byte, SecretLength)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	return secret, nil
}

// EncodeSecret renders a secret as lowercase hex, the at-rest representation
// stored on the user record.
func EncodeSecret(secret []byte) string {
	return hex.EncodeToString(secret)
}

// DecodeSecret reverses EncodeSecret.
func DecodeSecret(encoded string) ([]byte, error) {
	return hex.DecodeString(encoded)
}

// HOTP derives the 6-digit code for the given counter and returns it together
// with the next counter value. The counter wraps at 2^64.
func HOTP(secret []byte, counter uint64) (string, uint64, error) {
	if len(secret) == 0 {
		return "", 0, ErrEmptySecret
	}

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	// Dynamic truncation per RFC 4226 §5.3: the low nibble of the final
	// byte selects a 4-byte window, read big-endian with the sign bit
	// cleared to yield a 31-bit integer.
	offset := sum[len(sum)-1] & 0x0f
	bin := (uint32(sum[offset])&0x7f)<<24 |
		uint32(sum[offset+1])<<16 |
		uint32(sum[offset+2])<<8 |
		uint32(sum[offset+3])

	code := bin % 1_000_000
	return fmt.Sprintf("%06d", code), counter + 1, nil
}

// VerifyHOTP reports whether candidate matches the code for the given counter.
func VerifyHOTP(secret []byte, counter uint64, candidate string) (bool, error) {
	expected, _, err := HOTP(secret, counter)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(candidate)) == 1, nil
}

// TOTP derives the code for the 30-second time-step containing now.
func TOTP(secret []byte, now time.Time) (string, error) {
	code, _, err := HOTP(secret, timeStep(now))
	return code, err
}

// VerifyTOTP checks candidate against the current time-step and, when skew is
// positive, against skew adjacent steps on either side to tolerate clock
// drift. skew=0 accepts only the current step.
func VerifyTOTP(secret []byte, candidate string, now time.Time, skew int) (bool, error) {
	if len(candidate) != Digits || !isNumeric(candidate) {
		return false, nil
	}

	base := timeStep(now)
	for step := -skew; step <= skew; step++ {
		counter := int64(base) + int64(step)
		if counter < 0 {
			continue
		}
		ok, err := VerifyHOTP(secret, uint64(counter), candidate)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// ProvisionURI formats the otpauth:// URI that authenticator apps import,
// typically by scanning the QR rendering from QRCodePNG.
func ProvisionURI(secret []byte, account, issuer string) string {
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", b32.EncodeToString(secret))
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(Period))
	v.Set("digits", strconv.Itoa(Digits))
	v.Set("algorithm", "SHA1")

	return "otpauth://totp/" + label + "?" + v.Encode()
}

func timeStep(now time.Time) uint64 {
	return uint64(now.Unix() / Period)
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
