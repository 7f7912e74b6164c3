package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
)

const (
	classificationKeyPrefix = "classification:"
	rulesKey                = "classification_rules"
)

type Options struct {
	Addr     string
	Password string
	DB       int
}

func OpenClient(ctx context.Context, opts Options) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// DedupCache stores "already seen" markers keyed by content fingerprint.
type DedupCache struct {
	client   goredis.UniversalClient
	prefix   string
	executor *resilience.Executor
}

// NewDedupCache namespaces fingerprints with prefix; an empty prefix stores bare fingerprints.
func NewDedupCache(client goredis.UniversalClient, prefix string, executor *resilience.Executor) *DedupCache {
	return &DedupCache{client: client, prefix: prefix, executor: executor}
}

func (c *DedupCache) Seen(ctx context.Context, fingerprint string) (bool, error) {
	var n int64
	err := c.do(ctx, "redis.dedup.exists", func(ctx context.Context) error {
		var err error
		n, err = c.client.Exists(ctx, c.prefix+fingerprint).Result()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("check fingerprint: %w", err)
	}
	return n > 0, nil
}

func (c *DedupCache) Mark(ctx context.Context, fingerprint string, metadata map[string]any, ttl time.Duration) error {
	payload, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal dedup metadata: %w", err)
	}
	err = c.do(ctx, "redis.dedup.set", func(ctx context.Context) error {
		return c.client.Set(ctx, c.prefix+fingerprint, payload, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("mark fingerprint: %w", err)
	}
	return nil
}

func (c *DedupCache) do(ctx context.Context, op string, fn func(context.Context) error) error {
	if c.executor == nil {
		return fn(ctx)
	}
	return c.executor.Execute(ctx, op, fn, classifyRedisError)
}

// ClassificationCache holds per-document results and the merged keyword rule map.
type ClassificationCache struct {
	client   goredis.UniversalClient
	executor *resilience.Executor
}

func NewClassificationCache(client goredis.UniversalClient, executor *resilience.Executor) *ClassificationCache {
	return &ClassificationCache{client: client, executor: executor}
}

func (c *ClassificationCache) GetResult(ctx context.Context, documentName string) (*domain.ClassificationResult, bool, error) {
	raw, ok, err := c.get(ctx, "redis.classification.get", classificationKeyPrefix+documentName)
	if err != nil || !ok {
		return nil, false, err
	}
	var result domain.ClassificationResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false, fmt.Errorf("decode cached classification: %w", err)
	}
	return &result, true, nil
}

func (c *ClassificationCache) SetResult(ctx context.Context, documentName string, result domain.ClassificationResult, ttl time.Duration) error {
	return c.set(ctx, "redis.classification.set", classificationKeyPrefix+documentName, result, ttl)
}

func (c *ClassificationCache) GetRules(ctx context.Context) (map[string]string, bool, error) {
	raw, ok, err := c.get(ctx, "redis.rules.get", rulesKey)
	if err != nil || !ok {
		return nil, false, err
	}
	rules := map[string]string{}
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, false, fmt.Errorf("decode cached rules: %w", err)
	}
	return rules, true, nil
}

func (c *ClassificationCache) SetRules(ctx context.Context, rules map[string]string, ttl time.Duration) error {
	return c.set(ctx, "redis.rules.set", rulesKey, rules, ttl)
}

func (c *ClassificationCache) InvalidateRules(ctx context.Context) error {
	err := c.do(ctx, "redis.rules.del", func(ctx context.Context) error {
		return c.client.Del(ctx, rulesKey).Err()
	})
	if err != nil {
		return fmt.Errorf("invalidate rules cache: %w", err)
	}
	return nil
}

func (c *ClassificationCache) get(ctx context.Context, op, key string) ([]byte, bool, error) {
	var raw []byte
	found := true
	err := c.do(ctx, op, func(ctx context.Context) error {
		var err error
		raw, err = c.client.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			found = false
			return nil
		}
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return raw, found, nil
}

func (c *ClassificationCache) set(ctx context.Context, op, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	err = c.do(ctx, op, func(ctx context.Context) error {
		return c.client.Set(ctx, key, payload, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *ClassificationCache) do(ctx context.Context, op string, fn func(context.Context) error) error {
	if c.executor == nil {
		return fn(ctx)
	}
	return c.executor.Execute(ctx, op, fn, classifyRedisError)
}
