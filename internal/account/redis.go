package account

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh the cache; reads check
// Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

func (s *CachedStore) Get(ctx context.Context, accountID string) (*Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(accountID)).Bytes()
	if err == nil {
		var a Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, a)
	return a, nil
}

func (s *CachedStore) Put(ctx context.Context, a *Account) error {
	if err := s.primary.Put(ctx, a); err != nil {
		return err
	}
	s.cache(ctx, a)
	return nil
}

func (s *CachedStore) ListIDs(ctx context.Context) ([]string, error) {
	return s.primary.ListIDs(ctx)
}

func (s *CachedStore) Delete(ctx context.Context, accountID string) error {
	if err := s.primary.Delete(ctx, accountID); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(accountID))
	return nil
}

func (s *CachedStore) cache(ctx context.Context, a *Account) {
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, accountKey(a.AccountID), data, s.ttl)
	}
}

func accountKey(id string) string { return "account:" + id }
