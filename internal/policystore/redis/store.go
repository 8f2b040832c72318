// Package redis keeps the shared policy document in a Redis hash with a revision
// counter. Writes are guarded with WATCH/MULTI so a concurrent writer aborts the
// transaction instead of being overwritten.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"catalogpolicy/internal/policy"
	"catalogpolicy/internal/policystore"
)

const (
	fieldDocument = "document"
	fieldVersion  = "version"
)

type Store struct {
	client redis.UniversalClient
	key    string
}

// New returns a store for the document at key.
func New(client redis.UniversalClient, key string) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if key == "" {
		return nil, fmt.Errorf("redis key is required")
	}
	return &Store{client: client, key: key}, nil
}

func (s *Store) Fetch(ctx context.Context) (*policy.Document, policystore.Version, error) {
	values, err := s.client.HMGet(ctx, s.key, fieldDocument, fieldVersion).Result()
	if err != nil {
		return nil, policystore.NoVersion, policystore.Transport("fetch", err)
	}
	data, _ := values[0].(string)
	version, _ := values[1].(string)
	if data == "" || version == "" {
		return nil, policystore.NoVersion, policystore.NotFound("redis policy document %s", s.key)
	}

	doc, err := policy.ParseDocument([]byte(data))
	if err != nil {
		return nil, policystore.NoVersion, policystore.Transport("fetch", fmt.Errorf("malformed document at %s: %w", s.key, err))
	}
	return doc, policystore.Version(version), nil
}

func (s *Store) Replace(ctx context.Context, doc *policy.Document, precondition policystore.Version) error {
	data, err := doc.Marshal()
	if err != nil {
		return policystore.Transport("replace", err)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, s.key, fieldVersion).Result()
		if errors.Is(err, redis.Nil) {
			current = ""
		} else if err != nil {
			return err
		}
		if policystore.Version(current) != precondition {
			return policystore.Conflict("redis policy document %s is at revision %q, expected %q", s.key, current, precondition)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.key, fieldDocument, data)
			pipe.HIncrBy(ctx, s.key, fieldVersion, 1)
			return nil
		})
		return err
	}, s.key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return policystore.Conflict("redis policy document %s changed during write", s.key)
	default:
		return policystore.Transport("replace", err)
	}
}

// Revision parses a version token produced by this store.
func Revision(v policystore.Version) (int64, error) {
	return strconv.ParseInt(string(v), 10, 64)
}
