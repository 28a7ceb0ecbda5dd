// Package memory implements the full storage surface in process memory.
// It backs tests, examples, and single-node deployments where durability
// is handled elsewhere. All single-use semantics are serialized on one
// mutex, so first-writer-wins holds under concurrent exchanges.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/porthorian/openidc/pkg/storage"
)

type Adapter struct {
	mu            sync.Mutex
	clients       map[string]storage.ClientRecord
	scopes        map[string]storage.ScopeRecord
	users         map[string]storage.UserRecord
	authCodes     map[string]storage.AuthCodeRecord
	accessTokens  map[string]storage.AccessTokenRecord
	refreshTokens map[string]storage.RefreshTokenRecord
}

var _ storage.Store = (*Adapter)(nil)

func NewAdapter() *Adapter {
	return &Adapter{
		clients:       map[string]storage.ClientRecord{},
		scopes:        map[string]storage.ScopeRecord{},
		users:         map[string]storage.UserRecord{},
		authCodes:     map[string]storage.AuthCodeRecord{},
		accessTokens:  map[string]storage.AccessTokenRecord{},
		refreshTokens: map[string]storage.RefreshTokenRecord{},
	}
}

// SeedClient registers a client. Entity registration is outside the core's
// contract, so seeding lives on the adapter rather than a store interface.
func (a *Adapter) SeedClient(record storage.ClientRecord) {
	a.mu.Lock()
	a.clients[record.ID] = cloneClient(record)
	a.mu.Unlock()
}

func (a *Adapter) SeedScope(record storage.ScopeRecord) {
	a.mu.Lock()
	a.scopes[record.ID] = record
	a.mu.Unlock()
}

func (a *Adapter) SeedUser(record storage.UserRecord) {
	a.mu.Lock()
	a.users[record.ID] = cloneUser(record)
	a.mu.Unlock()
}

func (a *Adapter) GetClient(ctx context.Context, id string) (storage.ClientRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	record, ok := a.clients[id]
	if !ok {
		return storage.ClientRecord{}, storage.ErrNotFound
	}
	return cloneClient(record), nil
}

func (a *Adapter) ListScopes(ctx context.Context, ids []string) ([]storage.ScopeRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	records := make([]storage.ScopeRecord, 0, len(ids))
	for _, id := range ids {
		if record, ok := a.scopes[id]; ok {
			records = append(records, record)
		}
	}
	return records, nil
}

func (a *Adapter) GetUser(ctx context.Context, id string) (storage.UserRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	record, ok := a.users[id]
	if !ok {
		return storage.UserRecord{}, storage.ErrNotFound
	}
	return cloneUser(record), nil
}

func (a *Adapter) PutAuthCode(ctx context.Context, record storage.AuthCodeRecord) error {
	a.mu.Lock()
	a.authCodes[record.Code] = cloneAuthCode(record)
	a.mu.Unlock()
	return nil
}

func (a *Adapter) ConsumeAuthCode(ctx context.Context, code string, now time.Time) (storage.AuthCodeRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	record, ok := a.authCodes[code]
	if !ok {
		return storage.AuthCodeRecord{}, storage.ErrNotFound
	}
	if record.UsedAt != nil {
		return cloneAuthCode(record), storage.ErrCodeConsumed
	}

	usedAt := now.UTC()
	record.UsedAt = &usedAt
	a.authCodes[code] = record
	return cloneAuthCode(record), nil
}

func (a *Adapter) PutAccessToken(ctx context.Context, record storage.AccessTokenRecord) error {
	a.mu.Lock()
	a.accessTokens[record.ID] = cloneAccessToken(record)
	a.mu.Unlock()
	return nil
}

func (a *Adapter) RevokeAccessToken(ctx context.Context, id string, now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	record, ok := a.accessTokens[id]
	if !ok {
		return storage.ErrNotFound
	}
	if record.RevokedAt == nil {
		revokedAt := now.UTC()
		record.RevokedAt = &revokedAt
		a.accessTokens[id] = record
	}
	return nil
}

func (a *Adapter) IsAccessTokenRevoked(ctx context.Context, id string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	record, ok := a.accessTokens[id]
	if !ok {
		// Unknown tokens are treated as revoked: fail closed.
		return true, nil
	}
	return record.RevokedAt != nil, nil
}

func (a *Adapter) RevokeAccessTokensByAuthCode(ctx context.Context, authCodeID string, now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	revokedAt := now.UTC()
	for id, record := range a.accessTokens {
		if record.AuthCodeID != authCodeID || record.RevokedAt != nil {
			continue
		}
		record.RevokedAt = &revokedAt
		a.accessTokens[id] = record

		for refreshID, refresh := range a.refreshTokens {
			if refresh.AccessTokenID != id || refresh.RevokedAt != nil {
				continue
			}
			refresh.RevokedAt = &revokedAt
			a.refreshTokens[refreshID] = refresh
		}
	}
	return nil
}

func (a *Adapter) PutRefreshToken(ctx context.Context, record storage.RefreshTokenRecord) error {
	a.mu.Lock()
	a.refreshTokens[record.ID] = cloneRefreshToken(record)
	a.mu.Unlock()
	return nil
}

func (a *Adapter) GetRefreshToken(ctx context.Context, id string) (storage.RefreshTokenRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	record, ok := a.refreshTokens[id]
	if !ok {
		return storage.RefreshTokenRecord{}, storage.ErrNotFound
	}
	return cloneRefreshToken(record), nil
}

func (a *Adapter) RotateRefreshToken(ctx context.Context, id string, now time.Time, grace time.Duration) (storage.RefreshTokenRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	record, ok := a.refreshTokens[id]
	if !ok {
		return storage.RefreshTokenRecord{}, storage.ErrNotFound
	}
	if record.RevokedAt != nil {
		return storage.RefreshTokenRecord{}, storage.ErrTokenRotated
	}
	if record.RotatedAt != nil {
		if grace > 0 && now.UTC().Before(record.RotatedAt.Add(grace)) {
			return cloneRefreshToken(record), nil
		}
		return storage.RefreshTokenRecord{}, storage.ErrTokenRotated
	}

	rotatedAt := now.UTC()
	record.RotatedAt = &rotatedAt
	a.refreshTokens[id] = record
	return cloneRefreshToken(record), nil
}

func (a *Adapter) RevokeRefreshToken(ctx context.Context, id string, now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	record, ok := a.refreshTokens[id]
	if !ok {
		return storage.ErrNotFound
	}
	if record.RevokedAt == nil {
		revokedAt := now.UTC()
		record.RevokedAt = &revokedAt
		a.refreshTokens[id] = record
	}
	return nil
}

func cloneClient(record storage.ClientRecord) storage.ClientRecord {
	record.RedirectURIs = cloneStrings(record.RedirectURIs)
	record.GrantTypes = cloneStrings(record.GrantTypes)
	record.Scopes = cloneStrings(record.Scopes)
	return record
}

func cloneUser(record storage.UserRecord) storage.UserRecord {
	if record.Claims != nil {
		claims := make(map[string]any, len(record.Claims))
		for key, value := range record.Claims {
			claims[key] = value
		}
		record.Claims = claims
	}
	return record
}

func cloneAuthCode(record storage.AuthCodeRecord) storage.AuthCodeRecord {
	record.Scopes = cloneStrings(record.Scopes)
	return record
}

func cloneAccessToken(record storage.AccessTokenRecord) storage.AccessTokenRecord {
	record.Scopes = cloneStrings(record.Scopes)
	return record
}

func cloneRefreshToken(record storage.RefreshTokenRecord) storage.RefreshTokenRecord {
	record.Scopes = cloneStrings(record.Scopes)
	return record
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	cloned := make([]string, len(values))
	copy(cloned, values)
	return cloned
}
