package openidc

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	ocrypto "github.com/porthorian/openidc/pkg/crypto"
	"github.com/porthorian/openidc/pkg/storage/memory"
	"github.com/porthorian/openidc/pkg/storage/postgres"
	redisstore "github.com/porthorian/openidc/pkg/storage/redis"
)

type StorageBackend string

const (
	StorageBackendNone     StorageBackend = "none"
	StorageBackendMemory   StorageBackend = "memory"
	StorageBackendPostgres StorageBackend = "postgres"
)

type TokenCacheBackend string

const (
	TokenCacheBackendNone  TokenCacheBackend = "none"
	TokenCacheBackendRedis TokenCacheBackend = "redis"
)

type RuntimeConfig struct {
	Storage    StorageConfig
	TokenCache TokenCacheConfig
	Keys       KeysConfig
}

type StorageConfig struct {
	Backend  StorageBackend
	Postgres PostgresConfig
}

type PostgresConfig struct {
	DriverName      string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	OpenDB          func(driverName string, dsn string) (*sql.DB, error)
}

type TokenCacheConfig struct {
	Backend TokenCacheBackend
	Redis   RedisConfig
}

type RedisConfig struct {
	Address     string
	Username    string
	Password    string
	Database    int
	Namespace   string
	DialTimeout time.Duration
}

// KeysConfig loads signing material from PEM when no KeySource is injected
// directly.
type KeysConfig struct {
	PrivateKeyPEM    []byte
	Passphrase       string
	EncryptionSecret string
}

func (c Config) initialize(ctx context.Context) (func() error, Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	config := c
	config.Logger = resolveLogger(config.Logger)

	config, err := initializeKeys(config)
	if err != nil {
		return nil, Config{}, err
	}

	// The token cache runs before storage so a redis backend claims the
	// token material and the storage backend only fills what is left.
	closeCache, config, err := initializeTokenCache(config)
	if err != nil {
		return nil, Config{}, err
	}

	closeStorage, config, err := initializeStorage(ctx, config)
	if err != nil {
		_ = closeCache()
		return nil, Config{}, err
	}

	return joinClosers(closeCache, closeStorage), config, nil
}

func initializeKeys(config Config) (Config, error) {
	if config.Keys != nil {
		return config, nil
	}
	if len(config.Runtime.Keys.PrivateKeyPEM) == 0 {
		return config, nil
	}

	material, err := ocrypto.NewKeyMaterial(
		config.Runtime.Keys.PrivateKeyPEM,
		config.Runtime.Keys.Passphrase,
		config.Runtime.Keys.EncryptionSecret,
	)
	if err != nil {
		return Config{}, fmt.Errorf("openidc config: failed to load key material: %w", err)
	}

	config.Keys = material
	config.Logger.V(1).Info("loaded signing key material", "kid", material.KeyID())
	return config, nil
}

func initializeStorage(ctx context.Context, config Config) (func() error, Config, error) {
	backend := config.Runtime.Storage.Backend
	if backend == "" {
		backend = StorageBackendNone
	}

	switch backend {
	case StorageBackendNone:
		return noopCloser, config, nil
	case StorageBackendMemory:
		return initializeMemoryStorage(config)
	case StorageBackendPostgres:
		return initializePostgres(ctx, config)
	default:
		return nil, Config{}, fmt.Errorf("openidc config: unsupported runtime.storage.backend %q", backend)
	}
}

func initializeMemoryStorage(config Config) (func() error, Config, error) {
	adapter := memory.NewAdapter()

	if config.Clients.Client == nil {
		config.Clients.Client = adapter
	}
	if config.Clients.Scope == nil {
		config.Clients.Scope = adapter
	}
	if config.Clients.User == nil {
		config.Clients.User = adapter
	}
	if config.Tokens.Code == nil {
		config.Tokens.Code = adapter
	}
	if config.Tokens.Access == nil {
		config.Tokens.Access = adapter
	}
	if config.Tokens.Refresh == nil {
		config.Tokens.Refresh = adapter
	}

	config.Logger.V(1).Info("initialized memory storage backend")
	return noopCloser, config, nil
}

func initializePostgres(ctx context.Context, config Config) (func() error, Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	pgConfig := config.Runtime.Storage.Postgres
	if pgConfig.DSN == "" {
		return nil, Config{}, fmt.Errorf("openidc config: runtime.storage.postgres.dsn is required")
	}

	if pgConfig.DriverName == "" {
		pgConfig.DriverName = "pgx"
	}
	if pgConfig.PingTimeout <= 0 {
		pgConfig.PingTimeout = 5 * time.Second
	}
	if pgConfig.OpenDB == nil {
		pgConfig.OpenDB = sql.Open
	}

	db, err := pgConfig.OpenDB(pgConfig.DriverName, pgConfig.DSN)
	if err != nil {
		return nil, Config{}, fmt.Errorf("openidc config: failed to open postgres database: %w", err)
	}

	if pgConfig.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pgConfig.MaxOpenConns)
	}
	if pgConfig.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pgConfig.MaxIdleConns)
	}
	if pgConfig.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pgConfig.ConnMaxLifetime)
	}
	if pgConfig.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pgConfig.ConnMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pgConfig.PingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, Config{}, fmt.Errorf("openidc config: failed to ping postgres database: %w", err)
	}

	adapter, err := postgres.NewAdapter(db)
	if err != nil {
		_ = db.Close()
		return nil, Config{}, fmt.Errorf("openidc config: failed to initialize postgres adapter: %w", err)
	}

	if config.Clients.Client == nil {
		config.Clients.Client = adapter
	}
	if config.Clients.Scope == nil {
		config.Clients.Scope = adapter
	}
	if config.Clients.User == nil {
		config.Clients.User = adapter
	}
	if config.Tokens.Code == nil {
		config.Tokens.Code = adapter
	}
	if config.Tokens.Access == nil {
		config.Tokens.Access = adapter
	}
	if config.Tokens.Refresh == nil {
		config.Tokens.Refresh = adapter
	}

	closeResource := func() error {
		closeErr := adapter.Close()
		return stderrors.Join(closeErr, db.Close())
	}

	config.Runtime.Storage.Postgres = pgConfig
	config.Logger.V(1).Info("initialized postgres storage backend", "driver", pgConfig.DriverName, "max_open_conns", pgConfig.MaxOpenConns, "max_idle_conns", pgConfig.MaxIdleConns)
	return closeResource, config, nil
}

func initializeTokenCache(config Config) (func() error, Config, error) {
	backend := config.Runtime.TokenCache.Backend
	if backend == "" {
		backend = TokenCacheBackendNone
	}

	switch backend {
	case TokenCacheBackendNone:
		return noopCloser, config, nil
	case TokenCacheBackendRedis:
		return initializeRedisTokenCache(config)
	default:
		return nil, Config{}, fmt.Errorf("openidc config: unsupported runtime.tokencache.backend %q", backend)
	}
}

func initializeRedisTokenCache(config Config) (func() error, Config, error) {
	redisConfig := config.Runtime.TokenCache.Redis
	if redisConfig.Address == "" {
		return nil, Config{}, fmt.Errorf("openidc config: runtime.tokencache.redis.address is required")
	}
	if redisConfig.DialTimeout <= 0 {
		redisConfig.DialTimeout = 5 * time.Second
	}

	adapter := redisstore.NewAdapter(redisstore.Config{
		Address:     redisConfig.Address,
		Username:    redisConfig.Username,
		Password:    redisConfig.Password,
		Database:    redisConfig.Database,
		Namespace:   redisConfig.Namespace,
		DialTimeout: redisConfig.DialTimeout,
	})

	if config.Tokens.Code == nil {
		config.Tokens.Code = adapter
	}
	if config.Tokens.Access == nil {
		config.Tokens.Access = adapter
	}
	if config.Tokens.Refresh == nil {
		config.Tokens.Refresh = adapter
	}

	config.Runtime.TokenCache.Redis = redisConfig
	config.Logger.V(1).Info("initialized redis token cache backend", "address", redisConfig.Address, "database", redisConfig.Database, "namespace", redisConfig.Namespace)
	return adapter.Close, config, nil
}

func joinClosers(closers ...func() error) func() error {
	return func() error {
		var errs []error

		for i := len(closers) - 1; i >= 0; i-- {
			if closers[i] == nil {
				continue
			}
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}

		return stderrors.Join(errs...)
	}
}

func noopCloser() error {
	return nil
}
