// Package redis implements the token-material stores on redis. Records live
// under TTL'd keys so natural expiry needs no sweeper; single-use consume is
// GETDEL, which redis executes atomically, with short-lived tombstones so a
// replay can still be told apart from an unknown artifact.
//
// Rotation here is strict: the reuse grace window is not supported and the
// grace argument is ignored. Deployments that need it use the postgres or
// memory adapter.
//
// Key TTLs are computed from the wall clock (time.Until the record's
// ExpiresAt), since redis expires keys on its own clock. Consume and rotate
// still compare ExpiresAt against the caller's injected now, so expiry
// decisions stay deterministic under test; only the background eviction
// moment is wall-clock bound.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/porthorian/openidc/pkg/storage"
)

// tombstoneTTL bounds how long a consumed artifact stays distinguishable
// from an unknown one. After it lapses replays degrade to ErrNotFound,
// which callers already treat as invalid_grant.
const tombstoneTTL = 24 * time.Hour

type Config struct {
	Address     string
	Username    string
	Password    string
	Database    int
	Namespace   string
	DialTimeout time.Duration
}

type Adapter struct {
	client    redis.UniversalClient
	namespace string
}

var _ storage.AuthCodeStore = (*Adapter)(nil)
var _ storage.AccessTokenStore = (*Adapter)(nil)
var _ storage.RefreshTokenStore = (*Adapter)(nil)

func NewAdapter(config Config) *Adapter {
	client := redis.NewClient(&redis.Options{
		Addr:        config.Address,
		Username:    config.Username,
		Password:    config.Password,
		DB:          config.Database,
		DialTimeout: config.DialTimeout,
	})
	return NewAdapterWithClient(client, config.Namespace)
}

func NewAdapterWithClient(client redis.UniversalClient, namespace string) *Adapter {
	return &Adapter{
		client:    client,
		namespace: namespace,
	}
}

func (a *Adapter) Close() error {
	if a == nil || a.client == nil {
		return nil
	}
	return a.client.Close()
}

func (a *Adapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

func (a *Adapter) PutAuthCode(ctx context.Context, record storage.AuthCodeRecord) error {
	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("redis adapter: encode auth code: %w", err)
	}
	return a.client.Set(ctx, a.key("code", record.Code), payload, ttl).Err()
}

func (a *Adapter) ConsumeAuthCode(ctx context.Context, code string, now time.Time) (storage.AuthCodeRecord, error) {
	raw, err := a.client.GetDel(ctx, a.key("code", code)).Bytes()
	if err == nil {
		var record storage.AuthCodeRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return storage.AuthCodeRecord{}, fmt.Errorf("redis adapter: decode auth code: %w", err)
		}

		usedAt := now.UTC()
		record.UsedAt = &usedAt
		if tombstone, err := json.Marshal(record); err == nil {
			_ = a.client.Set(ctx, a.key("code-used", code), tombstone, tombstoneTTL).Err()
		}
		return record, nil
	}
	if !errors.Is(err, redis.Nil) {
		return storage.AuthCodeRecord{}, fmt.Errorf("redis adapter: consume auth code: %w", err)
	}

	raw, err = a.client.Get(ctx, a.key("code-used", code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return storage.AuthCodeRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.AuthCodeRecord{}, fmt.Errorf("redis adapter: get consumed auth code: %w", err)
	}

	var record storage.AuthCodeRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return storage.AuthCodeRecord{}, fmt.Errorf("redis adapter: decode consumed auth code: %w", err)
	}
	return record, storage.ErrCodeConsumed
}

func (a *Adapter) PutAccessToken(ctx context.Context, record storage.AccessTokenRecord) error {
	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("redis adapter: encode access token: %w", err)
	}

	pipe := a.client.TxPipeline()
	pipe.Set(ctx, a.key("access", record.ID), payload, ttl)
	if record.AuthCodeID != "" {
		indexKey := a.key("code-tokens", record.AuthCodeID)
		pipe.SAdd(ctx, indexKey, record.ID)
		pipe.Expire(ctx, indexKey, ttl+tombstoneTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis adapter: put access token: %w", err)
	}
	return nil
}

func (a *Adapter) RevokeAccessToken(ctx context.Context, id string, now time.Time) error {
	if err := a.client.Del(ctx, a.key("access", id)).Err(); err != nil {
		return fmt.Errorf("redis adapter: revoke access token: %w", err)
	}
	return nil
}

func (a *Adapter) IsAccessTokenRevoked(ctx context.Context, id string) (bool, error) {
	exists, err := a.client.Exists(ctx, a.key("access", id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis adapter: check access token: %w", err)
	}
	// Absence means revoked or expired; either way the token is dead.
	return exists == 0, nil
}

func (a *Adapter) RevokeAccessTokensByAuthCode(ctx context.Context, authCodeID string, now time.Time) error {
	indexKey := a.key("code-tokens", authCodeID)
	ids, err := a.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("redis adapter: list tokens for auth code: %w", err)
	}

	for _, id := range ids {
		if err := a.client.Del(ctx, a.key("access", id)).Err(); err != nil {
			return fmt.Errorf("redis adapter: revoke access token %s: %w", id, err)
		}

		refreshIDs, err := a.client.SMembers(ctx, a.key("access-refresh", id)).Result()
		if err != nil {
			return fmt.Errorf("redis adapter: list refresh tokens for access token %s: %w", id, err)
		}
		for _, refreshID := range refreshIDs {
			if err := a.client.Del(ctx, a.key("refresh", refreshID)).Err(); err != nil {
				return fmt.Errorf("redis adapter: revoke refresh token %s: %w", refreshID, err)
			}
		}
	}

	return a.client.Del(ctx, indexKey).Err()
}

func (a *Adapter) PutRefreshToken(ctx context.Context, record storage.RefreshTokenRecord) error {
	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("redis adapter: encode refresh token: %w", err)
	}

	pipe := a.client.TxPipeline()
	pipe.Set(ctx, a.key("refresh", record.ID), payload, ttl)
	if record.AccessTokenID != "" {
		indexKey := a.key("access-refresh", record.AccessTokenID)
		pipe.SAdd(ctx, indexKey, record.ID)
		pipe.Expire(ctx, indexKey, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis adapter: put refresh token: %w", err)
	}
	return nil
}

func (a *Adapter) GetRefreshToken(ctx context.Context, id string) (storage.RefreshTokenRecord, error) {
	raw, err := a.client.Get(ctx, a.key("refresh", id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return storage.RefreshTokenRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.RefreshTokenRecord{}, fmt.Errorf("redis adapter: get refresh token: %w", err)
	}

	var record storage.RefreshTokenRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return storage.RefreshTokenRecord{}, fmt.Errorf("redis adapter: decode refresh token: %w", err)
	}
	return record, nil
}

func (a *Adapter) RotateRefreshToken(ctx context.Context, id string, now time.Time, grace time.Duration) (storage.RefreshTokenRecord, error) {
	raw, err := a.client.GetDel(ctx, a.key("refresh", id)).Bytes()
	if err == nil {
		var record storage.RefreshTokenRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return storage.RefreshTokenRecord{}, fmt.Errorf("redis adapter: decode refresh token: %w", err)
		}

		rotatedAt := now.UTC()
		record.RotatedAt = &rotatedAt
		_ = a.client.Set(ctx, a.key("refresh-used", id), "1", tombstoneTTL).Err()
		return record, nil
	}
	if !errors.Is(err, redis.Nil) {
		return storage.RefreshTokenRecord{}, fmt.Errorf("redis adapter: rotate refresh token: %w", err)
	}

	exists, err := a.client.Exists(ctx, a.key("refresh-used", id)).Result()
	if err != nil {
		return storage.RefreshTokenRecord{}, fmt.Errorf("redis adapter: check rotated refresh token: %w", err)
	}
	if exists > 0 {
		return storage.RefreshTokenRecord{}, storage.ErrTokenRotated
	}
	return storage.RefreshTokenRecord{}, storage.ErrNotFound
}

func (a *Adapter) RevokeRefreshToken(ctx context.Context, id string, now time.Time) error {
	if err := a.client.Del(ctx, a.key("refresh", id)).Err(); err != nil {
		return fmt.Errorf("redis adapter: revoke refresh token: %w", err)
	}
	return nil
}

func (a *Adapter) key(kind string, id string) string {
	if a.namespace == "" {
		return "openidc:" + kind + ":" + id
	}
	return a.namespace + ":" + kind + ":" + id
}
