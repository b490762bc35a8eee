// Package cache stores compiled pipelines in Redis, keyed by a fingerprint
// of the query and the compiler options that produced them.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Defaults for New.
const (
	DefaultPrefix = "pipeql:pipeline:"
	DefaultTTL    = 10 * time.Minute
)

// Store is the subset of the go-redis API the cache needs. *redis.Client,
// *redis.ClusterClient and *redis.Ring satisfy it.
type Store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Cache maps fingerprints to pipelines.
type Cache struct {
	store  Store
	prefix string
	ttl    time.Duration
}

// Option configures a Cache.
type Option func(*Cache)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(c *Cache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithTTL sets the entry lifetime. Zero keeps entries until evicted.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl >= 0 {
			c.ttl = ttl
		}
	}
}

// New wraps a Redis store.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{store: store, prefix: DefaultPrefix, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fingerprint hashes parts as canonical JSON (object keys sorted) and
// returns the hex digest.
func Fingerprint(parts ...any) (string, error) {
	data, err := json.Marshal(parts)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (c *Cache) key(fingerprint string) string {
	return c.prefix + fingerprint
}

// Get returns the pipeline stored under fingerprint. A miss is reported as
// ok == false with a nil error.
func (c *Cache) Get(ctx context.Context, fingerprint string) (mongo.Pipeline, bool, error) {
	data, err := c.store.Get(ctx, c.key(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	pipeline, err := Decode(data)
	if err != nil {
		return nil, false, err
	}
	return pipeline, true, nil
}

// Put stores pipeline under fingerprint.
func (c *Cache) Put(ctx context.Context, fingerprint string, pipeline mongo.Pipeline) error {
	data, err := Encode(pipeline)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, c.key(fingerprint), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Delete drops the entry for fingerprint.
func (c *Cache) Delete(ctx context.Context, fingerprint string) error {
	if err := c.store.Del(ctx, c.key(fingerprint)).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Encode renders a pipeline as canonical Extended JSON, which keeps int64,
// double and date types intact across a round trip.
func Encode(pipeline mongo.Pipeline) ([]byte, error) {
	stages := make(bson.A, len(pipeline))
	for i, stage := range pipeline {
		stages[i] = stage
	}
	data, err := bson.MarshalExtJSON(bson.D{{Key: "pipeline", Value: stages}}, true, false)
	if err != nil {
		return nil, fmt.Errorf("encode pipeline: %w", err)
	}
	return data, nil
}

// Decode reverses Encode. Nested documents come back as bson.D.
func Decode(data []byte) (mongo.Pipeline, error) {
	var doc struct {
		Pipeline []bson.D `bson:"pipeline"`
	}
	if err := bson.UnmarshalExtJSON(data, true, &doc); err != nil {
		return nil, fmt.Errorf("decode pipeline: %w", err)
	}
	return mongo.Pipeline(doc.Pipeline), nil
}
