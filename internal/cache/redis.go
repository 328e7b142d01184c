package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"histcache/config"
	"histcache/internal/market"
)

// RedisCache implements BarCache on top of Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
	stats  counters
}

// NewRedis connects to Redis and verifies the connection with a ping.
func NewRedis(cfg config.RedisConfig, prefix string, logger *zap.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{client: client, prefix: prefix, logger: logger}, nil
}

func (c *RedisCache) GetBars(ctx context.Context, key string, tf market.Timeframe) ([]market.Bar, bool) {
	data, err := c.client.Get(ctx, barKey(c.prefix, key, tf)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache read failed, treating as miss", zap.String("key", key), zap.Error(err))
		}
		c.stats.miss(ClassBars)
		return nil, false
	}

	var bars []market.Bar
	if err := json.Unmarshal(data, &bars); err != nil {
		c.logger.Warn("cache entry corrupt, treating as miss", zap.String("key", key), zap.Error(err))
		c.stats.miss(ClassBars)
		return nil, false
	}

	c.stats.hit(ClassBars)
	return bars, true
}

func (c *RedisCache) PutBars(ctx context.Context, key string, tf market.Timeframe, bars []market.Bar, ttl time.Duration) {
	data, err := json.Marshal(bars)
	if err != nil {
		c.logger.Warn("failed to serialize bars for cache", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, barKey(c.prefix, key, tf), data, ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *RedisCache) GetQuote(ctx context.Context, symbol string) (market.Quote, bool) {
	data, err := c.client.Get(ctx, quoteKey(c.prefix, symbol)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("quote cache read failed", zap.String("symbol", symbol), zap.Error(err))
		}
		c.stats.miss(ClassQuotes)
		return market.Quote{}, false
	}

	var q market.Quote
	if err := json.Unmarshal(data, &q); err != nil {
		c.stats.miss(ClassQuotes)
		return market.Quote{}, false
	}

	c.stats.hit(ClassQuotes)
	return q, true
}

func (c *RedisCache) PutQuote(ctx context.Context, q market.Quote, ttl time.Duration) {
	data, err := json.Marshal(q)
	if err != nil {
		c.logger.Warn("failed to serialize quote", zap.String("symbol", q.Symbol), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, quoteKey(c.prefix, q.Symbol), data, ttl).Err(); err != nil {
		c.logger.Warn("quote cache write failed", zap.String("symbol", q.Symbol), zap.Error(err))
	}
}

func (c *RedisCache) GetInstrument(ctx context.Context, symbol string) (market.Instrument, bool) {
	data, err := c.client.Get(ctx, symbolKey(c.prefix, symbol)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("symbol cache read failed", zap.String("symbol", symbol), zap.Error(err))
		}
		c.stats.miss(ClassSymbols)
		return market.Instrument{}, false
	}

	var inst market.Instrument
	if err := json.Unmarshal(data, &inst); err != nil {
		c.stats.miss(ClassSymbols)
		return market.Instrument{}, false
	}

	c.stats.hit(ClassSymbols)
	return inst, true
}

func (c *RedisCache) PutInstrument(ctx context.Context, symbol string, inst market.Instrument, ttl time.Duration) {
	data, err := json.Marshal(inst)
	if err != nil {
		c.logger.Warn("failed to serialize instrument", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, symbolKey(c.prefix, symbol), data, ttl).Err(); err != nil {
		c.logger.Warn("symbol cache write failed", zap.String("symbol", symbol), zap.Error(err))
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, pattern string) int {
	keys, err := c.client.Keys(ctx, c.prefix+":"+pattern).Result()
	if err != nil {
		c.logger.Warn("cache invalidate scan failed", zap.String("pattern", pattern), zap.Error(err))
		return 0
	}
	if len(keys) == 0 {
		return 0
	}
	removed, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("cache invalidate delete failed", zap.String("pattern", pattern), zap.Error(err))
		return 0
	}
	return int(removed)
}

func (c *RedisCache) Stats() map[Class]Stats {
	return c.stats.snapshot()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
