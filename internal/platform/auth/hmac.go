// Package auth verifies HMAC-signed order uploads from marketplace relays.
package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mittalrahul074/picklist/internal/platform/httpx"
	"github.com/mittalrahul074/picklist/internal/platform/requestctx"
)

// Header names carried by signed requests.
const (
	HeaderSignature = "X-Picklist-Signature"
	HeaderTimestamp = "X-Picklist-Timestamp"
	HeaderNonce     = "X-Picklist-Nonce"

	defaultClockSkew = 5 * time.Minute
)

// Verifier checks HMAC-SHA256 signatures over method, path, timestamp, nonce and body digest.
type Verifier struct {
	secret  []byte
	now     func() time.Time
	skew    time.Duration
	maxBody int64

	mu     sync.Mutex
	nonces map[string]time.Time
}

// VerifierOption customises a Verifier.
type VerifierOption func(*Verifier)

// WithClock injects the time source.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithClockSkew sets the accepted distance between the signed timestamp and now.
func WithClockSkew(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d > 0 {
			v.skew = d
		}
	}
}

// WithMaxBody caps the body read for verification.
func WithMaxBody(limit int64) VerifierOption {
	return func(v *Verifier) {
		if limit > 0 {
			v.maxBody = limit
		}
	}
}

// NewVerifier returns a verifier for the shared secret.
func NewVerifier(secret string, opts ...VerifierOption) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	v := &Verifier{
		secret:  []byte(secret),
		now:     time.Now,
		skew:    defaultClockSkew,
		maxBody: 8 << 20,
		nonces:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// Sign computes the signature a client sends for the given request parts.
func Sign(secret, method, path, timestamp, nonce string, body []byte) string {
	return hex.EncodeToString(computeHMAC([]byte(secret), canonical(method, path, timestamp, nonce, body)))
}

// Middleware rejects requests that are unsigned, stale, replayed or tampered with.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		reject := func(code, message, reason string) {
			requestctx.Logger(ctx).Warn("signed request rejected", zap.String("reason", reason))
			httpx.WriteError(ctx, w, httpx.NewError(code, message, http.StatusUnauthorized))
		}

		rawSignature := strings.TrimSpace(r.Header.Get(HeaderSignature))
		rawTimestamp := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
		nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
		if rawSignature == "" || rawTimestamp == "" || nonce == "" {
			reject("signature_missing", "signature headers missing", "headers")
			return
		}

		seconds, err := strconv.ParseInt(rawTimestamp, 10, 64)
		if err != nil {
			reject("timestamp_invalid", "signature timestamp invalid", "timestamp")
			return
		}
		now := v.now()
		signedAt := time.Unix(seconds, 0)
		if skew := now.Sub(signedAt); skew > v.skew || skew < -v.skew {
			reject("timestamp_skew", "signature timestamp outside allowed window", "skew")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, v.maxBody+1))
		if err != nil || int64(len(body)) > v.maxBody {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read body for verification", http.StatusBadRequest))
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		signature, err := decodeSignature(rawSignature)
		if err != nil {
			reject("signature_invalid", "signature encoding invalid", "encoding")
			return
		}
		expected := computeHMAC(v.secret, canonical(r.Method, r.URL.EscapedPath(), rawTimestamp, nonce, body))
		if !hmac.Equal(signature, expected) {
			reject("signature_mismatch", "signature verification failed", "mismatch")
			return
		}
		if !v.useNonce(nonce, now) {
			reject("nonce_replay", "duplicate signature nonce", "replay")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// useNonce records nonce for twice the skew window. Anything older fails the timestamp check.
func (v *Verifier) useNonce(nonce string, now time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for key, expiry := range v.nonces {
		if !now.Before(expiry) {
			delete(v.nonces, key)
		}
	}
	if _, seen := v.nonces[nonce]; seen {
		return false
	}
	v.nonces[nonce] = now.Add(2 * v.skew)
	return true
}

func canonical(method, path, timestamp, nonce string, body []byte) []byte {
	if path == "" {
		path = "/"
	}
	digest := sha256.Sum256(body)
	return []byte(strings.Join([]string{
		strings.ToUpper(method),
		path,
		timestamp,
		nonce,
		hex.EncodeToString(digest[:]),
	}, "\n"))
}

func decodeSignature(value string) ([]byte, error) {
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be hex or base64 encoded")
}

func computeHMAC(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}
