package idempotency

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/mittalrahul074/picklist/internal/platform/firestore"
)

const defaultCollection = "idempotency_keys"

// FirestoreStore shares replay state across replicas. Configure a Firestore TTL policy on
// expiresAt to reclaim old documents.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
	txOpts     []pfirestore.TxOption
}

// NewFirestoreStore builds a store on the shared provider. An empty collection uses the default.
func NewFirestoreStore(provider *pfirestore.Provider, collection string, opts ...pfirestore.TxOption) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	collection = strings.TrimSpace(collection)
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStore{provider: provider, collection: collection, txOpts: opts}, nil
}

type firestoreEntry struct {
	Key         string              `firestore:"key"`
	Fingerprint string              `firestore:"fingerprint"`
	Completed   bool                `firestore:"completed"`
	Status      int                 `firestore:"status"`
	Header      map[string][]string `firestore:"header"`
	Body        []byte              `firestore:"body"`
	ExpiresAt   time.Time           `firestore:"expiresAt"`
}

func (d firestoreEntry) entry() Entry {
	return Entry{
		Key:         d.Key,
		Fingerprint: d.Fingerprint,
		Completed:   d.Completed,
		Status:      d.Status,
		Header:      http.Header(d.Header),
		Body:        d.Body,
		ExpiresAt:   d.ExpiresAt,
	}
}

func (s *FirestoreStore) doc(ctx context.Context, key string) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(s.collection).Doc(documentID(key)), nil
}

// Reserve implements Store.
func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Entry, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref, err := s.doc(ctx, key)
	if err != nil {
		return 0, Entry{}, err
	}

	var (
		state State
		entry Entry
	)
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var existing firestoreEntry
			if err := snap.DataTo(&existing); err != nil {
				return err
			}
			current := existing.entry()
			if !current.expired(now) {
				if current.Fingerprint != fingerprint {
					return ErrFingerprintMismatch
				}
				state, entry = current.state(), current
				return nil
			}
		}
		fresh := firestoreEntry{Key: key, Fingerprint: fingerprint, ExpiresAt: now.Add(ttl)}
		if err := tx.Set(ref, fresh); err != nil {
			return err
		}
		state, entry = StateNew, fresh.entry()
		return nil
	}, s.txOpts...)
	if err != nil {
		if errors.Is(err, ErrFingerprintMismatch) {
			return 0, Entry{}, ErrFingerprintMismatch
		}
		return 0, Entry{}, pfirestore.WrapError("idempotency.reserve", err)
	}
	return state, entry, nil
}

// Complete implements Store.
func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	done := firestoreEntry{
		Key:         key,
		Fingerprint: fingerprint,
		Completed:   true,
		Status:      resp.Status,
		Header:      storableHeader(resp.Header),
		Body:        resp.Body,
		ExpiresAt:   now.Add(ttl),
	}
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var existing firestoreEntry
			if err := snap.DataTo(&existing); err != nil {
				return err
			}
			if existing.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
		}
		return tx.Set(ref, done)
	}, s.txOpts...)
	if err != nil && !errors.Is(err, ErrFingerprintMismatch) {
		return pfirestore.WrapError("idempotency.complete", err)
	}
	return err
}

// Release implements Store.
func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return pfirestore.WrapError("idempotency.release", err)
	}
	return nil
}
