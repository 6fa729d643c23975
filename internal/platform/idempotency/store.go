// Package idempotency replays the first response for a repeated Idempotency-Key so that a client
// retrying an allocation or transition after a timeout cannot pick the same stock twice.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a completed response can be replayed.
const DefaultTTL = 24 * time.Hour

// State reports what Reserve found for a key.
type State int

const (
	// StateNew means the caller owns the key and must run the request.
	StateNew State = iota
	// StateCompleted means a stored response is available for replay.
	StateCompleted
	// StatePending means another request holds the key.
	StatePending
)

// Entry is the persisted view of one key.
type Entry struct {
	Key         string
	Fingerprint string
	Completed   bool
	Status      int
	Header      http.Header
	Body        []byte
	ExpiresAt   time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

func (e Entry) state() State {
	if e.Completed {
		return StateCompleted
	}
	return StatePending
}

// Response is what the middleware stores after the handler ran.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Store persists reservations and completed responses.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Entry, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key already used for a different request")

func documentID(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// storableHeader drops hop-by-hop and per-response headers.
func storableHeader(header http.Header) http.Header {
	out := http.Header{}
	for name, values := range header {
		switch strings.ToLower(name) {
		case "content-length", "date", "connection", "keep-alive", "transfer-encoding", "upgrade", "trailer":
			continue
		}
		out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	return out
}
