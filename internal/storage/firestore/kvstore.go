// Package firestore provides the Cloud Firestore backed kv.Store used as the
// durable production backend.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-relay/internal/storage/kv"
)

const defaultCollection = "relay_kv"

// Store implements kv.Store on a single Firestore collection, one document
// per key. Firestore has no native per-document TTL visible to reads, so the
// expiry is stored alongside the value and enforced on Get.
type Store struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

type kvDocument struct {
	Value     []byte     `firestore:"value"`
	ExpiresAt *time.Time `firestore:"expires_at,omitempty"`
	UpdatedAt time.Time  `firestore:"updated_at"`
}

// NewStore wraps an existing Firestore client.
func NewStore(client *firestore.Client) *Store {
	return &Store{
		client:     client,
		collection: defaultCollection,
		now:        time.Now,
	}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	snap, err := s.doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("firestore get %q: %w", key, err)
	}

	var doc kvDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore decode %q: %w", key, err)
	}
	if doc.ExpiresAt != nil && !s.now().Before(*doc.ExpiresAt) {
		// Expired at write time; treat as absent. The stale document is
		// cleaned up opportunistically rather than transactionally.
		_, _ = s.doc(key).Delete(ctx)
		return nil, kv.ErrNotFound
	}
	return doc.Value, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	doc := kvDocument{
		Value:     value,
		UpdatedAt: s.now(),
	}
	if ttl > 0 {
		expires := s.now().Add(ttl)
		doc.ExpiresAt = &expires
	}
	if _, err := s.doc(key).Set(ctx, doc); err != nil {
		return fmt.Errorf("firestore set %q: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.doc(key).Delete(ctx); err != nil {
		return fmt.Errorf("firestore delete %q: %w", key, err)
	}
	return nil
}

// ListByPrefix pages through document IDs in the prefix range. The cursor is
// the last document ID of the previous page.
func (s *Store) ListByPrefix(ctx context.Context, prefix, cursor string, limit int) ([]string, string, error) {
	// "\uf8ff" is after every code point that can appear in a key, so the
	// range [prefix, prefix+"\uf8ff") covers exactly the prefixed IDs.
	q := s.client.Collection(s.collection).Query.
		OrderBy(firestore.DocumentID, firestore.Asc).
		Where(firestore.DocumentID, ">=", prefix).
		Where(firestore.DocumentID, "<", prefix+"\uf8ff").
		Limit(limit)
	if cursor != "" {
		q = q.StartAfter(cursor)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var keys []string
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, "", fmt.Errorf("firestore scan %q: %w", prefix, err)
		}
		keys = append(keys, snap.Ref.ID)
	}

	if len(keys) < limit {
		return keys, "", nil
	}
	return keys, keys[len(keys)-1], nil
}

func (s *Store) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(key)
}
