// Package store holds the durable backends: a Redis key-value store for
// vault and registry records, and a Postgres archive for transaction
// records.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/terminal-bench/collateralvault/internal/vault"
)

const (
	vaultKeyPrefix = "vault:"
	registryKey    = "vault:authority-registry"
)

// RedisStore persists vault and registry records as binary codec output
// keyed by vault identity.
type RedisStore struct {
	rdb         *redis.Client
	registryCap int
}

// NewRedisStore creates a store on an existing Redis client. registryCap
// is applied to registries decoded from storage.
func NewRedisStore(rdb *redis.Client, registryCap int) *RedisStore {
	return &RedisStore{rdb: rdb, registryCap: registryCap}
}

// GetVault loads and decodes a vault record.
func (s *RedisStore) GetVault(ctx context.Context, id uuid.UUID) (*vault.Vault, error) {
	data, err := s.rdb.Get(ctx, vaultKeyPrefix+id.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, vault.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read vault %s: %w", id, err)
	}
	return vault.UnmarshalVault(data)
}

// PutVault encodes and writes a vault record.
func (s *RedisStore) PutVault(ctx context.Context, v *vault.Vault) error {
	key := vaultKeyPrefix + v.ID().String()
	if err := s.rdb.Set(ctx, key, vault.MarshalVault(v), 0).Err(); err != nil {
		return fmt.Errorf("failed to write vault %s: %w", v.ID(), err)
	}
	return nil
}

// LoadRegistry loads the authorization registry, returning an empty one
// when none has been persisted yet.
func (s *RedisStore) LoadRegistry(ctx context.Context) (*vault.Registry, error) {
	data, err := s.rdb.Get(ctx, registryKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return vault.NewRegistry(s.registryCap), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}
	return vault.UnmarshalRegistry(data, s.registryCap)
}

// SaveRegistry persists the authorization registry.
func (s *RedisStore) SaveRegistry(ctx context.Context, r *vault.Registry) error {
	if err := s.rdb.Set(ctx, registryKey, vault.MarshalRegistry(r), 0).Err(); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	return nil
}
