// Package qrtoken derives rotating, time-bucketed session tokens. A token is
// a pure function of (session id, time bucket, secret), so the server never
// stores issued tokens and any instance can validate them.
package qrtoken

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

const (
	// DefaultInterval is the width of one token bucket.
	DefaultInterval = 30 * time.Second
	// DefaultLength is the number of hex characters in a token.
	DefaultLength = 16
)

// Generate returns the token for the bucket containing at. Same session,
// bucket, and secret always yield the same token.
func Generate(sessionID, secret string, interval time.Duration, length int, at time.Time) string {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if length <= 0 {
		length = DefaultLength
	}
	bucket := at.Unix() / int64(interval.Seconds())

	sum := sha256.Sum256([]byte(sessionID + strconv.FormatInt(bucket, 10) + secret))
	token := hex.EncodeToString(sum[:])
	if length > len(token) {
		length = len(token)
	}
	return token[:length]
}

// Validate reports whether provided matches the token for the current bucket
// or the immediately preceding one. The single-bucket grace period absorbs
// clock skew and the delay between a client fetching a token and submitting
// it; anything older is rejected so a captured token cannot be replayed
// across the session's lifetime.
func Validate(sessionID, secret, provided string, interval time.Duration, length int, now time.Time) bool {
	if provided == "" {
		return false
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	current := Generate(sessionID, secret, interval, length, now)
	previous := Generate(sessionID, secret, interval, length, now.Add(-interval))
	return provided == current || provided == previous
}

// Remaining returns how long the current bucket's token stays valid.
func Remaining(now time.Time, interval time.Duration) time.Duration {
	if interval <= 0 {
		interval = DefaultInterval
	}
	secs := int64(interval.Seconds())
	return time.Duration(secs-now.Unix()%secs) * time.Second
}
