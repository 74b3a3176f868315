package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// DefaultTTL bounds how long a submission key can be replayed.
const DefaultTTL = 24 * time.Hour

// State is the outcome of reserving a key.
type State int

const (
	// StateNew means the caller owns the key and must run the request.
	StateNew State = iota
	// StateCompleted means a stored response exists and must be replayed.
	StateCompleted
	// StateInFlight means another request holds the key.
	StateInFlight
)

// Record is the stored outcome of one keyed submission.
type Record struct {
	Key         string
	Fingerprint string
	Completed   bool
	Status      int
	ContentType string
	Location    string
	Body        []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Store persists reservations and final responses.
type Store interface {
	// Reserve claims key for fingerprint. A live record with a different fingerprint yields
	// ErrFingerprintMismatch.
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Record, error)
	// Complete stores the final response for a reserved key.
	Complete(ctx context.Context, record Record) error
	// Release drops a reservation so the client may retry with the same key.
	Release(ctx context.Context, key string) error
	// PurgeExpired deletes up to limit expired records and reports how many were removed.
	PurgeExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch reports a key reused for a different submission.
var ErrFingerprintMismatch = errors.New("idempotency: key already used for a different request")

// documentID hashes the scoped key so arbitrary client input is a valid document id.
func documentID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func pending(key, fingerprint string, now time.Time, ttl time.Duration) Record {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return Record{
		Key:         key,
		Fingerprint: fingerprint,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}
