package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

const (
	defaultDownloadExpiry = 10 * time.Minute
	maxDownloadExpiry     = time.Hour
)

var (
	errNoSigner      = errors.New("storage: signer is required")
	errExpiryTooLong = errors.New("storage: expiry exceeds permitted maximum")
	errInvalidBucket = errors.New("storage: bucket name is required")
	errInvalidObject = errors.New("storage: object name is required")
)

// Signer signs payloads for V4 signed URLs.
type Signer interface {
	// Email is used as the GoogleAccessID.
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// ServiceAccountSigner signs with a service account private key.
type ServiceAccountSigner struct {
	email string
	key   *rsa.PrivateKey
}

// NewServiceAccountSigner builds a signer from a raw service account JSON key, typically resolved
// from Secret Manager.
func NewServiceAccountSigner(data []byte) (*ServiceAccountSigner, error) {
	if len(data) == 0 {
		return nil, errors.New("storage: service account JSON is empty")
	}
	var key struct {
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("storage: decode service account json: %w", err)
	}
	email := strings.TrimSpace(key.ClientEmail)
	if email == "" {
		return nil, errors.New("storage: client_email missing in service account JSON")
	}
	rsaKey, err := parseRSAPrivateKey(strings.TrimSpace(key.PrivateKey))
	if err != nil {
		return nil, err
	}
	return &ServiceAccountSigner{email: email, key: rsaKey}, nil
}

// Email implements Signer.
func (s *ServiceAccountSigner) Email() string {
	if s == nil {
		return ""
	}
	return s.email
}

// SignBytes implements Signer with RSA SHA256.
func (s *ServiceAccountSigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errNoSigner
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("storage: sign payload: %w", err)
	}
	return sig, nil
}

func parseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("storage: failed to decode PEM private key")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("storage: private key is not RSA")
		}
		return rsaKey, nil
	}
	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("storage: parse RSA private key: %w", err)
	}
	return rsaKey, nil
}

// SignedURL is a time-limited GET link to an object.
type SignedURL struct {
	URL       string
	ExpiresAt time.Time
}

// URLSigner issues download links for exported objects.
type URLSigner struct {
	signer Signer
	expiry time.Duration
	now    func() time.Time
}

// NewURLSigner constructs a URLSigner. A non-positive expiry uses the default.
func NewURLSigner(signer Signer, expiry time.Duration, clock func() time.Time) (*URLSigner, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}
	if expiry <= 0 {
		expiry = defaultDownloadExpiry
	}
	if expiry > maxDownloadExpiry {
		return nil, errExpiryTooLong
	}
	if clock == nil {
		clock = time.Now
	}
	return &URLSigner{signer: signer, expiry: expiry, now: clock}, nil
}

// DownloadURL signs a GET URL for bucket/object.
func (u *URLSigner) DownloadURL(ctx context.Context, bucket, object string) (SignedURL, error) {
	if strings.TrimSpace(bucket) == "" {
		return SignedURL{}, errInvalidBucket
	}
	if strings.TrimSpace(object) == "" {
		return SignedURL{}, errInvalidObject
	}
	expires := u.now().Add(u.expiry)
	signed, err := gcs.SignedURL(bucket, object, &gcs.SignedURLOptions{
		GoogleAccessID: u.signer.Email(),
		Scheme:         gcs.SigningSchemeV4,
		Method:         "GET",
		Expires:        expires,
		SignBytes: func(payload []byte) ([]byte, error) {
			return u.signer.SignBytes(ctx, payload)
		},
	})
	if err != nil {
		return SignedURL{}, fmt.Errorf("storage: sign download url: %w", err)
	}
	return SignedURL{URL: signed, ExpiresAt: expires}, nil
}
