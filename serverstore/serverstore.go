// Package serverstore implements askesis-vault's blob store: a dumb,
// never-decrypting key-value record per sync-key-hash, backed by Redis
// and modeled on the teacher's redisclient.Client wrapper.
package serverstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Record is the server-side shape the vault stores for one sync key:
// the same {lastModified, state} pair the client pushes (spec §6).
type Record struct {
	LastModified int64
	State        string
}

// Store wraps a Redis client scoped to the vault's hash keyspace.
type Store struct {
	client *redis.Client
}

func keyFor(keyHash string) string {
	return "askesis:vault:" + keyHash
}

// New parses redisURL (e.g. "redis://localhost:6379/0") and returns a
// Store, failing fast if the URL is malformed.
func New(redisURL string) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("serverstore: invalid redis url: %w", err)
	}
	return &Store{client: redis.NewClient(opt)}, nil
}

// Ping verifies connectivity, used by the /ready handler.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Get returns the stored record for keyHash, or found=false if none
// exists (spec §6: GET /api/sync → 204 when empty).
func (s *Store) Get(ctx context.Context, keyHash string) (Record, bool, error) {
	vals, err := s.client.HGetAll(ctx, keyFor(keyHash)).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("serverstore: get: %w", err)
	}
	if len(vals) == 0 {
		return Record{}, false, nil
	}
	var rec Record
	if _, err := fmt.Sscanf(vals["lastModified"], "%d", &rec.LastModified); err != nil {
		return Record{}, false, fmt.Errorf("serverstore: corrupt lastModified for %s: %w", keyHash, err)
	}
	rec.State = vals["state"]
	return rec, true, nil
}

// Put writes the record for keyHash, overwriting whatever was there.
func (s *Store) Put(ctx context.Context, keyHash string, rec Record) error {
	err := s.client.HSet(ctx, keyFor(keyHash), map[string]any{
		"lastModified": rec.LastModified,
		"state":        rec.State,
	}).Err()
	if err != nil {
		return fmt.Errorf("serverstore: put: %w", err)
	}
	return nil
}
