package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// DateFormat is the timestamp layout the upstream expects in the Date
// header and in the signed material: UTC, second precision, trailing Z.
const DateFormat = "2006-01-02T15:04:05Z"

// ErrMissingKeys is returned when signing key material is not configured.
var ErrMissingKeys = errors.New("signing key material not configured")

// Signer computes per-request bearer tokens for the upstream API.
//
// The token is "Bearer <base64(keyA)>.<base64(sig)>" where sig is an
// HMAC-SHA-256 over "<method>:<path>:<date>\n" followed by the raw body
// bytes, keyed with keyB. Tokens embed the timestamp, so a fresh one must
// be produced immediately before each call.
type Signer struct {
	keyA []byte
	keyB []byte
}

// NewSigner creates a Signer. Both keys are required; signing fails
// closed when either is absent.
func NewSigner(keyA, keyB string) (*Signer, error) {
	if keyA == "" || keyB == "" {
		return nil, ErrMissingKeys
	}
	return &Signer{keyA: []byte(keyA), keyB: []byte(keyB)}, nil
}

// Sign returns the bearer token for one upstream call.
func (s *Signer) Sign(method, path string, body []byte, date string) (string, error) {
	if len(s.keyA) == 0 || len(s.keyB) == 0 {
		return "", ErrMissingKeys
	}

	input := make([]byte, 0, len(method)+len(path)+len(date)+3+len(body))
	input = append(input, []byte(method+":"+path+":"+date+"\n")...)
	input = append(input, body...)

	mac := hmac.New(sha256.New, s.keyB)
	mac.Write(input)
	sig := mac.Sum(nil)

	return fmt.Sprintf("Bearer %s.%s",
		base64.StdEncoding.EncodeToString(s.keyA),
		base64.StdEncoding.EncodeToString(sig)), nil
}

// FormattedDate returns the current UTC time in the upstream's format.
func FormattedDate() string {
	return time.Now().UTC().Format(DateFormat)
}
