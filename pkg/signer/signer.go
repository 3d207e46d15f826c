// Package signer produces and checks time-limited confirmation hashes.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"time"
)

var (
	ErrInvalidHash = errors.New("hash does not match")
	ErrExpired     = errors.New("hash expired")
)

type Signer struct {
	secret []byte
	expiry time.Duration
}

// New returns a signer. A non-positive expiry disables the age check.
func New(secret string, expiry time.Duration) *Signer {
	return &Signer{secret: []byte(secret), expiry: expiry}
}

// Expiry returns the validity window.
func (s *Signer) Expiry() time.Duration {
	return s.expiry
}

// Generate computes the hash for mail, discriminator and timestamp.
func (s *Signer) Generate(mail, discriminator string, ts int64) string {
	key := make([]byte, 0, len(s.secret)+len(discriminator))
	key = append(key, s.secret...)
	key = append(key, discriminator...)

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(mail))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Validate checks hash against the recomputed value first, then the age of
// ts at now. A wrong hash always wins over an expired one.
func (s *Signer) Validate(mail, discriminator string, ts int64, hash string, now time.Time) error {
	expected := s.Generate(mail, discriminator, ts)
	if !hmac.Equal([]byte(expected), []byte(hash)) {
		return ErrInvalidHash
	}
	if s.expiry > 0 && time.Unix(ts, 0).Before(now.Add(-s.expiry)) {
		return ErrExpired
	}
	return nil
}
