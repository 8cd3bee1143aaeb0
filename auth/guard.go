// Package auth implements the ingest guard: every capture submission is
// authenticated, replay-checked, and rate-limited before it enters the
// pipeline. Rejections happen synchronously at the boundary; nothing
// here retries on behalf of the caller.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"signal-scout/database"
)

// Guard rejection reasons. The API layer maps these onto HTTP statuses.
var (
	ErrBadSignature   = errors.New("signature verification failed")
	ErrStaleTimestamp = errors.New("timestamp outside tolerance window")
	ErrReplayedNonce  = errors.New("nonce already seen")
	ErrRateLimited    = errors.New("source feed submitting too frequently")
)

// CaptureStore is the persistence surface the guard needs for captures.
// Kept narrow so tests can substitute an in-memory fake.
type CaptureStore interface {
	CreateCaptureIfAbsent(capture *database.Capture) error
	GetLatestCaptureForFeed(sourceFeed string) (*database.Capture, error)
}

// NonceStore records nonces with create-if-absent semantics.
type NonceStore interface {
	CreateNonceIfAbsent(value string, seenAt time.Time) error
}

// Guard authenticates and deduplicates incoming capture batches.
type Guard struct {
	secret      []byte
	captures    CaptureStore
	nonces      NonceStore
	tolerance   time.Duration
	minInterval time.Duration

	// now is swappable for tests
	now func() time.Time
}

// NewGuard creates an ingest guard. tolerance bounds how far a request
// timestamp may drift from server time in either direction; minInterval
// is the per-source-feed minimum submission spacing.
func NewGuard(secret string, captures CaptureStore, nonces NonceStore, tolerance, minInterval time.Duration) *Guard {
	return &Guard{
		secret:      []byte(secret),
		captures:    captures,
		nonces:      nonces,
		tolerance:   tolerance,
		minInterval: minInterval,
		now:         time.Now,
	}
}

// ComputeSignature returns the hex HMAC-SHA256 of body under secret.
// Shared with webhook delivery so receivers can verify payloads the
// same way agents sign captures.
func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the hex HMAC-SHA256 signature over the raw
// request body using a constant-time comparison.
func (g *Guard) VerifySignature(body []byte, signature string) error {
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}

	mac := hmac.New(sha256.New, g.secret)
	mac.Write(body)
	expected := mac.Sum(nil)

	if !hmac.Equal(provided, expected) {
		return ErrBadSignature
	}
	return nil
}

// Admit runs the full guard sequence over a submission:
//
//  1. HMAC signature over the raw body (constant time)
//  2. millisecond timestamp within the tolerance window, either direction
//  3. nonce never seen (create-if-absent; duplicate = replay)
//  4. minimum submission interval for the source feed
//  5. idempotent capture create (existing capture id = legitimate retry)
//
// Returns duplicate=true when the capture already existed; the caller
// responds with success without reprocessing.
func (g *Guard) Admit(body []byte, signature string, timestampMs int64, nonce string, capture *database.Capture) (duplicate bool, err error) {
	if err := g.VerifySignature(body, signature); err != nil {
		return false, err
	}

	now := g.now().UTC()
	sent := time.UnixMilli(timestampMs).UTC()
	drift := now.Sub(sent)
	if drift < 0 {
		drift = -drift
	}
	if drift > g.tolerance {
		return false, ErrStaleTimestamp
	}

	if err := g.nonces.CreateNonceIfAbsent(nonce, now); err != nil {
		var exists *database.AlreadyExistsError
		if errors.As(err, &exists) {
			return false, ErrReplayedNonce
		}
		return false, err
	}

	last, err := g.captures.GetLatestCaptureForFeed(capture.SourceFeed)
	if err != nil && !database.IsNotFound(err) {
		return false, err
	}
	if last != nil && now.Sub(last.CreatedAt) < g.minInterval {
		return false, ErrRateLimited
	}

	if err := g.captures.CreateCaptureIfAbsent(capture); err != nil {
		var exists *database.AlreadyExistsError
		if errors.As(err, &exists) {
			return true, nil
		}
		return false, err
	}

	return false, nil
}
