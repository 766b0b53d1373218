// Package redismemory is a Redis-backed alternative to gormmemory's
// Postgres implementation, for deployments that already run Redis for
// other stateless-worker coordination and would rather not add a
// database dependency just for subject locking.
package redismemory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fenwick-io/machina/internal/memory"
)

// LockTTL bounds how long a SETNX lock survives without being renewed.
// There is no heartbeat/renew call in the Memory interface, so this
// must exceed the longest single turn is expected to take.
const LockTTL = 2 * time.Minute

const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`

// Store is a memory.Memory backed by Redis.
type Store struct {
	client     *redis.Client
	instanceID string
	keyPrefix  string
	unlock     *redis.Script
}

// New builds a Store. keyPrefix namespaces this module's keys away from
// whatever else shares the Redis keyspace.
func New(client *redis.Client, instanceID, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = "arvo"
	}
	return &Store{
		client:     client,
		instanceID: instanceID,
		keyPrefix:  keyPrefix,
		unlock:     redis.NewScript(unlockScript),
	}
}

func (s *Store) lockKey(subject string) string   { return s.keyPrefix + ":lock:" + subject }
func (s *Store) recordKey(subject string) string { return s.keyPrefix + ":record:" + subject }

func (s *Store) Lock(ctx context.Context, subject string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.lockKey(subject), s.instanceID, LockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redismemory: lock: %w", err)
	}
	return ok, nil
}

// Unlock deletes the lock key only if it's still held by this instance
// — a compare-and-delete, run atomically via a Lua script so a lock that
// expired and was re-acquired by someone else is never deleted out from
// under them.
func (s *Store) Unlock(ctx context.Context, subject string) error {
	if err := s.unlock.Run(ctx, s.client, []string{s.lockKey(subject)}, s.instanceID).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("redismemory: unlock: %w", err)
	}
	return nil
}

func (s *Store) Read(ctx context.Context, subject string) (*memory.Record, error) {
	raw, err := s.client.Get(ctx, s.recordKey(subject)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redismemory: read: %w", err)
	}
	var rec memory.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("redismemory: read: decode: %w", err)
	}
	return &rec, nil
}

func (s *Store) Write(ctx context.Context, subject string, record *memory.Record, prev *memory.Record) error {
	if record == nil {
		return fmt.Errorf("redismemory: write: nil record")
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("redismemory: write: encode: %w", err)
	}
	if err := s.client.Set(ctx, s.recordKey(subject), raw, 0).Err(); err != nil {
		return fmt.Errorf("redismemory: write: %w", err)
	}
	return nil
}
