// Package noncecache puts a Redis SETNX guard in front of the durable nonce
// store so replays across replicas are rejected without a database round trip.
package noncecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/usecase"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "cdil:nonce:"

type Store struct {
	client redis.UniversalClient
	next   usecase.NonceStore
	ttl    time.Duration
}

var _ usecase.NonceStore = (*Store)(nil)

// New wraps next. next may be nil, in which case Redis alone decides and a
// nonce is forgotten after ttl.
func New(client redis.UniversalClient, next usecase.NonceStore, ttl time.Duration) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Store{client: client, next: next, ttl: ttl}, nil
}

func (s *Store) Insert(ctx context.Context, nonce domain.Nonce) error {
	key := Key(nonce.TenantID, nonce.Value)
	ok, err := s.client.SetNX(ctx, key, nonce.ConsumedAt.UTC().Format(time.RFC3339Nano), s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis nonce guard: %w", err)
	}
	if !ok {
		return domain.ErrNonceReplay
	}
	if s.next == nil {
		return nil
	}
	if err := s.next.Insert(ctx, nonce); err != nil {
		if !errors.Is(err, domain.ErrNonceReplay) {
			// The nonce was not durably consumed; let the caller retry it.
			_ = s.client.Del(ctx, key).Err()
		}
		return err
	}
	return nil
}

// Delete drops the durable record first, so a failure leaves the Redis
// guard in place and the nonce still reads as consumed.
func (s *Store) Delete(ctx context.Context, tenantID, value string) error {
	if s.next != nil {
		if err := s.next.Delete(ctx, tenantID, value); err != nil {
			return err
		}
	}
	if err := s.client.Del(ctx, Key(tenantID, value)).Err(); err != nil {
		return fmt.Errorf("redis nonce guard: %w", err)
	}
	return nil
}

// Key is the Redis key holding a consumed nonce.
func Key(tenantID, value string) string {
	return keyPrefix + tenantID + ":" + value
}
