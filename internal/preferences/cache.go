package preferences

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"notification-hub/internal/common/logger"
	"notification-hub/internal/common/metrics"
	"notification-hub/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyPrefix   = "prefs:"
	versionKeyPrefix = "prefs:ver:"
)

// CachedStore is a Redis read-through cache in front of another Store.
// Redis failures degrade to the underlying store.
//
// Every Set bumps a per-user version key. A Get that missed the cache writes
// its result back only if the version is unchanged since before it read the
// store, so a read that raced a Set never re-caches the old map.
type CachedStore struct {
	next   Store
	redis  *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedStore(next Store, client *redis.Client, ttl time.Duration, log logger.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedStore{
		next:   next,
		redis:  client,
		ttl:    ttl,
		logger: log.WithFields(map[string]interface{}{"component": "preference-cache"}),
	}
}

func cacheKey(userID string) string {
	return cacheKeyPrefix + userID
}

func versionKey(userID string) string {
	return versionKeyPrefix + userID
}

var errStaleRead = stderrors.New("preferences changed while reading")

func (c *CachedStore) Get(ctx context.Context, userID string) (models.Preferences, error) {
	key := cacheKey(userID)

	cacheUsable := true
	var version string
	vals, err := c.redis.MGet(ctx, key, versionKey(userID)).Result()
	if err != nil {
		cacheUsable = false
		metrics.PreferenceCacheLookups.WithLabelValues("error").Inc()
		c.logger.Warn("preference cache read failed", map[string]interface{}{"userId": userID, "error": err})
	} else {
		if v, ok := vals[1].(string); ok {
			version = v
		}
		if val, ok := vals[0].(string); ok {
			var prefs models.Preferences
			if jsonErr := json.Unmarshal([]byte(val), &prefs); jsonErr == nil {
				metrics.PreferenceCacheLookups.WithLabelValues("hit").Inc()
				if prefs == nil {
					prefs = models.Preferences{}
				}
				return prefs, nil
			}
			c.logger.Warn("discarding corrupt cached preferences", map[string]interface{}{"userId": userID})
			metrics.PreferenceCacheLookups.WithLabelValues("error").Inc()
		} else {
			metrics.PreferenceCacheLookups.WithLabelValues("miss").Inc()
		}
	}

	prefs, err := c.next.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if cacheUsable {
		c.writeBack(ctx, userID, version, prefs)
	}
	return prefs, nil
}

// writeBack caches prefs unless a Set bumped the version after it was read.
func (c *CachedStore) writeBack(ctx context.Context, userID, version string, prefs models.Preferences) {
	data, err := json.Marshal(prefs)
	if err != nil {
		return
	}

	verKey := versionKey(userID)
	err = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, verKey).Result()
		if err != nil && !stderrors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errStaleRead
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cacheKey(userID), data, c.ttl)
			return nil
		})
		return err
	}, verKey)

	switch {
	case err == nil:
	case stderrors.Is(err, errStaleRead), stderrors.Is(err, redis.TxFailedErr):
		c.logger.Debug("skipping preference cache write after concurrent update", map[string]interface{}{"userId": userID})
	default:
		c.logger.Warn("preference cache write failed", map[string]interface{}{"userId": userID, "error": err})
	}
}

// Set writes through to the underlying store, then bumps the version and
// invalidates the cached entry.
func (c *CachedStore) Set(ctx context.Context, userID string, update models.Preferences) (models.Preferences, error) {
	merged, err := c.next.Set(ctx, userID, update)
	if err != nil {
		return nil, err
	}

	verKey := versionKey(userID)
	_, err = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, verKey)
		pipe.Expire(ctx, verKey, 2*c.ttl)
		pipe.Del(ctx, cacheKey(userID))
		return nil
	})
	if err != nil {
		c.logger.Warn("preference cache invalidation failed", map[string]interface{}{"userId": userID, "error": err})
	}
	return merged, nil
}
