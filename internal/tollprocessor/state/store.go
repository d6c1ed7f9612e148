// Package state implements the Keyed State Store component: durable
// per-vehicle VehicleState with TTL, backed by Redis.
package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smarttoll/pipeline/internal/tollprocessor/models"
)

const keyPrefix = "vehicle_state:"

// Store is the Keyed State Store contract: get/put/delete by vehicleId,
// with TTL refresh on every put. Network timeouts are surfaced as errors
// to the caller (the Tracker), which must not commit the offset when a
// Store call fails — unlike the original Python implementation, which
// swallowed Redis timeouts as "state absent".
type Store interface {
	Get(ctx context.Context, vehicleID string) (*models.VehicleState, error)
	Put(ctx context.Context, vehicleID string, state *models.VehicleState) error
	Delete(ctx context.Context, vehicleID string) error
	Close() error
}

// RedisStore is the production Store implementation.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore constructs a RedisStore. It does not itself verify
// connectivity; callers typically PING once at startup as part of the
// readiness check.
func NewRedisStore(addr, password string, db int, dialTimeout, ttl time.Duration, logger *zap.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: dialTimeout,
	})
	return &RedisStore{client: client, ttl: ttl, logger: logger}
}

// Get retrieves and deserializes the VehicleState for vehicleID. A
// missing key returns (nil, nil). A corrupt stored value is deleted and
// also returns (nil, nil) — the spec requires corrupt values to be
// auto-deleted and treated as absent. Connection/timeout errors are
// returned to the caller rather than papered over.
func (s *RedisStore) Get(ctx context.Context, vehicleID string) (*models.VehicleState, error) {
	key := keyPrefix + vehicleID
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state store get %q: %w", vehicleID, err)
	}

	st, err := models.UnmarshalVehicleState(raw)
	if err != nil {
		if delErr := s.client.Del(ctx, key).Err(); delErr != nil {
			s.logger.Error("failed to delete corrupted state key",
				zap.String("vehicleId", vehicleID), zap.Error(delErr))
		}
		s.logger.Warn("discarded corrupt vehicle state", zap.String("vehicleId", vehicleID))
		return nil, nil
	}
	return st, nil
}

// Put serializes and stores state with TTL refresh.
func (s *RedisStore) Put(ctx context.Context, vehicleID string, st *models.VehicleState) error {
	raw, err := st.Marshal()
	if err != nil {
		return fmt.Errorf("state store marshal %q: %w", vehicleID, err)
	}
	key := keyPrefix + vehicleID
	if err := s.client.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("state store put %q: %w", vehicleID, err)
	}
	return nil
}

// Delete removes the stored state for vehicleID. Deleting an absent key
// is not an error.
func (s *RedisStore) Delete(ctx context.Context, vehicleID string) error {
	key := keyPrefix + vehicleID
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("state store delete %q: %w", vehicleID, err)
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping verifies connectivity, used by the /readyz handler.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
