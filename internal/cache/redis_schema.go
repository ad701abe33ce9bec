// Package cache keeps issue property schemas in Redis so value reads and
// writes do not reload definitions from Postgres on every request.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"issueprops/api/internal/property"
)

// ErrMiss is returned by Get when no schema is cached for the key.
var ErrMiss = errors.New("schema not cached")

const defaultTTL = 10 * time.Minute

// cachedSchema is the JSON document stored per issue type.
type cachedSchema struct {
	Properties []property.Definition `json:"properties"`
	CachedAt   time.Time             `json:"cached_at"`
}

// RedisSchemaCache stores the property definitions of one issue type in one
// project under a single key.
//
// Keys carry the generation of the project and of the issue type. Invalidation
// bumps a generation instead of deleting data, so a load that started before a
// schema change writes to a key no reader will look up again and expires with
// the TTL.
type RedisSchemaCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSchemaCache connects to redisURL and verifies the connection.
func NewRedisSchemaCache(redisURL string, ttl time.Duration) (*RedisSchemaCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisSchemaCacheWithClient(client, ttl), nil
}

func NewRedisSchemaCacheWithClient(client *redis.Client, ttl time.Duration) *RedisSchemaCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisSchemaCache{
		client: client,
		prefix: "issueprops:schema:",
		ttl:    ttl,
	}
}

func (c *RedisSchemaCache) projectGenKey(workspaceID, projectID string) string {
	return c.prefix + "gen:" + workspaceID + ":" + projectID
}

func (c *RedisSchemaCache) typeGenKey(workspaceID, projectID, issueTypeID string) string {
	return c.projectGenKey(workspaceID, projectID) + ":" + issueTypeID
}

func (c *RedisSchemaCache) key(workspaceID, projectID, issueTypeID, version string) string {
	return c.prefix + workspaceID + ":" + projectID + ":" + issueTypeID + "@" + version
}

// Version returns the current generation pair of an issue type's schema.
func (c *RedisSchemaCache) Version(ctx context.Context, workspaceID, projectID, issueTypeID string) (string, error) {
	gens, err := c.client.MGet(ctx,
		c.projectGenKey(workspaceID, projectID),
		c.typeGenKey(workspaceID, projectID, issueTypeID),
	).Result()
	if err != nil {
		return "", fmt.Errorf("get schema generation: %w", err)
	}
	parts := make([]string, len(gens))
	for i, g := range gens {
		parts[i] = "0"
		if s, ok := g.(string); ok && s != "" {
			parts[i] = s
		}
	}
	return strings.Join(parts, "."), nil
}

// Get returns the cached definitions or ErrMiss, together with the version
// they were looked up under. Pass that version to Set after a miss.
func (c *RedisSchemaCache) Get(ctx context.Context, workspaceID, projectID, issueTypeID string) ([]property.Definition, string, error) {
	version, err := c.Version(ctx, workspaceID, projectID, issueTypeID)
	if err != nil {
		return nil, "", err
	}
	raw, err := c.client.Get(ctx, c.key(workspaceID, projectID, issueTypeID, version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, version, ErrMiss
	}
	if err != nil {
		return nil, "", fmt.Errorf("get cached schema: %w", err)
	}

	var doc cachedSchema
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, "", fmt.Errorf("unmarshal cached schema: %w", err)
	}
	return doc.Properties, version, nil
}

// Set caches defs under version. Definitions loaded before an invalidation
// land under a superseded version and are never served.
func (c *RedisSchemaCache) Set(ctx context.Context, workspaceID, projectID, issueTypeID, version string, defs []property.Definition) error {
	raw, err := json.Marshal(cachedSchema{Properties: defs, CachedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	if err := c.client.Set(ctx, c.key(workspaceID, projectID, issueTypeID, version), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache schema: %w", err)
	}
	return nil
}

// Invalidate retires the cached schema of one issue type.
func (c *RedisSchemaCache) Invalidate(ctx context.Context, workspaceID, projectID, issueTypeID string) error {
	if err := c.client.Incr(ctx, c.typeGenKey(workspaceID, projectID, issueTypeID)).Err(); err != nil {
		return fmt.Errorf("invalidate schema: %w", err)
	}
	return nil
}

// InvalidateProject retires every cached schema of a project.
func (c *RedisSchemaCache) InvalidateProject(ctx context.Context, workspaceID, projectID string) error {
	if err := c.client.Incr(ctx, c.projectGenKey(workspaceID, projectID)).Err(); err != nil {
		return fmt.Errorf("invalidate project schemas: %w", err)
	}
	return nil
}

func (c *RedisSchemaCache) Close() error {
	return c.client.Close()
}

func (c *RedisSchemaCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
