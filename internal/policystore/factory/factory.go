// Package factory builds the configured policy store backend.
package factory

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsglue "github.com/aws/aws-sdk-go-v2/service/glue"

	"catalogpolicy/internal/platform/config"
	platformpostgres "catalogpolicy/internal/platform/postgres"
	platformredis "catalogpolicy/internal/platform/redis"
	"catalogpolicy/internal/policystore"
	gluestore "catalogpolicy/internal/policystore/glue"
	"catalogpolicy/internal/policystore/memory"
	pgstore "catalogpolicy/internal/policystore/postgres"
	redisstore "catalogpolicy/internal/policystore/redis"
)

// RedisKeyPrefix namespaces document keys in a shared Redis.
const RedisKeyPrefix = "catalogpolicy:document:"

// Backend is a ready store plus the resources behind it.
type Backend struct {
	Store policystore.Store
	// Identity names the document independent of its content; it seeds the
	// stable physical resource id.
	Identity string
	closers  []func() error
}

// Close releases connection pools opened by New.
func (b *Backend) Close() error {
	var first error
	for _, c := range b.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// New opens the backend selected by cfg.Store.Backend and wraps it with tracing.
func New(ctx context.Context, cfg config.Config) (*Backend, error) {
	b := &Backend{}
	var (
		store policystore.Store
		err   error
	)

	switch cfg.Store.Backend {
	case config.BackendGlue:
		store, err = newGlue(ctx, cfg.Store)
		b.Identity = "glue:" + glueIdentity(cfg.Store)
	case config.BackendRedis:
		var client *platformredis.Client
		client, err = platformredis.New(ctx, cfg.Redis)
		if err == nil && client == nil {
			err = fmt.Errorf("redis backend requires REDIS_URL")
		}
		if err == nil {
			b.closers = append(b.closers, client.Close)
			store, err = redisstore.New(client.Client, RedisKeyPrefix+cfg.Store.DocumentName)
		}
		b.Identity = "redis:" + cfg.Store.DocumentName
	case config.BackendPostgres:
		store, err = newPostgres(ctx, cfg.Store, b)
		b.Identity = "postgres:" + cfg.Store.DocumentName
	case config.BackendMemory:
		store = memory.New()
		b.Identity = "memory:" + cfg.Store.DocumentName
	default:
		err = fmt.Errorf("unknown policy backend %q", cfg.Store.Backend)
	}
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("build %s policy store: %w", cfg.Store.Backend, err)
	}

	b.Store = policystore.Instrument(store, cfg.Store.Backend)
	return b, nil
}

func newGlue(ctx context.Context, cfg config.Store) (policystore.Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.AWSRegion != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return gluestore.New(awsglue.NewFromConfig(awsCfg),
		gluestore.WithResourceARN(cfg.GlueTarget()),
		gluestore.WithEnableHybrid(cfg.GlueEnableHybrid),
	)
}

func newPostgres(ctx context.Context, cfg config.Store, b *Backend) (policystore.Store, error) {
	db, err := platformpostgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, db.Close)

	store, err := pgstore.New(db, cfg.DocumentName)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func glueIdentity(cfg config.Store) string {
	if target := cfg.GlueTarget(); target != "" {
		return target
	}
	return "default-catalog/" + cfg.DocumentName
}
