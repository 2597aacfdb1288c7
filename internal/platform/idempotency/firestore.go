package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/firestore"
)

const (
	defaultCollection = "requestKeys"
	defaultPurgeLimit = 200
	txAttempts        = 3
	txTimeout         = 5 * time.Second
)

// FirestoreStore keeps reservations in a Firestore collection so every instance sees the same keys.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
}

// NewFirestoreStore builds a store on the shared provider. An empty collection uses requestKeys.
func NewFirestoreStore(provider *pfirestore.Provider, collection string) *FirestoreStore {
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStore{provider: provider, collection: collection}
}

var _ Store = (*FirestoreStore)(nil)

type keyDocument struct {
	Key         string              `firestore:"key"`
	Fingerprint string              `firestore:"fingerprint"`
	State       string              `firestore:"state"`
	Status      int                 `firestore:"responseStatus,omitempty"`
	Headers     map[string][]string `firestore:"responseHeaders,omitempty"`
	Body        []byte              `firestore:"responseBody,omitempty"`
	CreatedAt   time.Time           `firestore:"createdAt"`
	ExpiresAt   time.Time           `firestore:"expiresAt"`
}

func (d keyDocument) entry() Entry {
	return Entry{
		Key:         d.Key,
		Fingerprint: d.Fingerprint,
		State:       State(d.State),
		Outcome:     Outcome{Status: d.Status, Headers: d.Headers, Body: d.Body},
		CreatedAt:   d.CreatedAt,
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

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Entry, bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	ref, err := s.doc(ctx, key)
	if err != nil {
		return Entry{}, false, err
	}

	var (
		result Entry
		fresh  bool
	)
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		fresh = false
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var existing keyDocument
			if err := snap.DataTo(&existing); err != nil {
				return err
			}
			current := existing.entry()
			if !expired(current, now) {
				if current.Fingerprint != fingerprint {
					return ErrKeyReused
				}
				result = current
				return nil
			}
		}
		doc := keyDocument{
			Key:         key,
			Fingerprint: fingerprint,
			State:       string(StateInFlight),
			CreatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		result = doc.entry()
		fresh = true
		return nil
	}, pfirestore.WithTxAttempts(txAttempts), pfirestore.WithTxTimeout(txTimeout))
	if errors.Is(err, ErrKeyReused) {
		return Entry{}, false, ErrKeyReused
	}
	if err != nil {
		return Entry{}, false, pfirestore.WrapError("idempotency.reserve", err)
	}
	return result, fresh, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, outcome Outcome, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		created := now
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			var existing keyDocument
			if err := snap.DataTo(&existing); err != nil {
				return err
			}
			if existing.Fingerprint != fingerprint {
				return ErrKeyReused
			}
			if !existing.CreatedAt.IsZero() {
				created = existing.CreatedAt
			}
		case status.Code(err) != codes.NotFound:
			return err
		}
		return tx.Set(ref, keyDocument{
			Key:         key,
			Fingerprint: fingerprint,
			State:       string(StateCompleted),
			Status:      outcome.Status,
			Headers:     outcome.Headers,
			Body:        outcome.Body,
			CreatedAt:   created,
			ExpiresAt:   now.Add(ttl),
		})
	}, pfirestore.WithTxAttempts(txAttempts), pfirestore.WithTxTimeout(txTimeout))
	if errors.Is(err, ErrKeyReused) {
		return ErrKeyReused
	}
	return pfirestore.WrapError("idempotency.complete", err)
}

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

// Purge deletes up to limit expired keys. Deployments call it from a scheduled job.
func (s *FirestoreStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultPurgeLimit
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	docs, err := client.Collection(s.collection).Where("expiresAt", "<=", now.UTC()).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.purge", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	bulk := client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := bulk.Delete(doc.Ref); err != nil {
			bulk.End()
			return 0, pfirestore.WrapError("idempotency.purge", err)
		}
	}
	bulk.End()
	return len(docs), nil
}
