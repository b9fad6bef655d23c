package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const membershipKeyPrefix = "sitework:membership:"

// RedisMembershipStore is the shared membership cache tier. Each user's
// memberships live in one hash keyed by org id so a user can be
// invalidated with a single DEL.
type RedisMembershipStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMembershipStore creates a Redis-backed shared tier
func NewRedisMembershipStore(client *redis.Client, ttl time.Duration) *RedisMembershipStore {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisMembershipStore{client: client, ttl: ttl}
}

func membershipKey(userID string) string {
	return membershipKeyPrefix + userID
}

// Get returns the cached membership, reporting false on a miss
func (s *RedisMembershipStore) Get(ctx context.Context, orgID, userID string) (*Membership, bool, error) {
	key := membershipKey(userID)

	data, err := s.client.HGet(ctx, key, orgID).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("redis hget failed: %w", err)
	}

	var m Membership
	if err := json.Unmarshal(data, &m); err != nil {
		// corrupt entry
		s.client.HDel(ctx, key, orgID)
		return nil, false, fmt.Errorf("failed to unmarshal membership: %w", err)
	}
	return &m, true, nil
}

// Set stores m and refreshes the user's TTL
func (s *RedisMembershipStore) Set(ctx context.Context, m *Membership) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal membership: %w", err)
	}

	key := membershipKey(m.UserID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, m.OrgID, data)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache membership: %w", err)
	}
	return nil
}

// Delete drops every cached membership of userID
func (s *RedisMembershipStore) Delete(ctx context.Context, userID string) error {
	return s.client.Del(ctx, membershipKey(userID)).Err()
}

// DeleteAll drops every cached membership
func (s *RedisMembershipStore) DeleteAll(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, membershipKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan failed for memberships: %w", err)
	}
	return nil
}
