package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/redis/go-redis/v9"

	"highscores/core"
	"highscores/engine"
)

// Config holds Redis connection configuration. ConnectAttempts bounds the
// startup ping retries.
type Config struct {
	Addr            string        `json:"addr" env:"HIGHSCORES_REDIS_ADDR"`
	Password        string        `json:"password,omitempty" env:"HIGHSCORES_REDIS_PASSWORD"`
	DB              int           `json:"db" env:"HIGHSCORES_REDIS_DB"`
	PoolSize        int           `json:"pool_size" env:"HIGHSCORES_REDIS_POOL_SIZE"`
	MinIdleConns    int           `json:"min_idle_conns" env:"HIGHSCORES_REDIS_MIN_IDLE_CONNS"`
	DialTimeout     time.Duration `json:"dial_timeout" env:"HIGHSCORES_REDIS_DIAL_TIMEOUT"`
	ReadTimeout     time.Duration `json:"read_timeout" env:"HIGHSCORES_REDIS_READ_TIMEOUT"`
	WriteTimeout    time.Duration `json:"write_timeout" env:"HIGHSCORES_REDIS_WRITE_TIMEOUT"`
	ConnectAttempts uint          `json:"connect_attempts" env:"HIGHSCORES_REDIS_CONNECT_ATTEMPTS"`
	ConnectDelay    time.Duration `json:"connect_delay" env:"HIGHSCORES_REDIS_CONNECT_DELAY"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:            "localhost:6379",
		Password:        "",
		DB:              0,
		PoolSize:        10,
		MinIdleConns:    2,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		ConnectAttempts: 5,
		ConnectDelay:    500 * time.Millisecond,
	}
}

// Store implements engine.Store on Redis hashes and sorted sets.
type Store struct {
	client *redis.Client
}

// New connects to Redis, retrying the initial ping with backoff.
func New(ctx context.Context, config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	attempts := config.ConnectAttempts
	if attempts == 0 {
		attempts = 1
	}
	err := retry.Do(
		func() error { return client.Ping(ctx).Err() },
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(config.ConnectDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		_ = client.Close()
		return nil, core.StoreError("connect to redis", err)
	}
	return &Store{client: client}, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// setScoreIfScript applies the conditional score update and, only when it
// succeeds, writes the record hash in the same script invocation.
//
// KEYS[1] sorted set, KEYS[2] optional record hash
// ARGV[1] "GT" or "LT", ARGV[2] score, ARGV[3] member, ARGV[4..] field/value pairs
var setScoreIfScript = redis.NewScript(`
	local current = redis.call('ZSCORE', KEYS[1], ARGV[3])
	local score = tonumber(ARGV[2])
	if current then
		current = tonumber(current)
		if ARGV[1] == 'GT' and not (score > current) then
			return 0
		end
		if ARGV[1] == 'LT' and not (score < current) then
			return 0
		end
	end
	redis.call('ZADD', KEYS[1], ARGV[2], ARGV[3])
	if KEYS[2] then
		for i = 4, #ARGV, 2 do
			redis.call('HSET', KEYS[2], ARGV[i], ARGV[i + 1])
		end
	end
	return 1
`)

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, core.StoreError("incr", err)
	}
	return n, nil
}

func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return core.StoreError("hset", err)
	}
	return nil
}

func (s *Store) HGet(ctx context.Context, key string, fields ...string) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	if len(fields) == 0 {
		return out, nil
	}
	values, err := s.client.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, core.StoreError("hmget", err)
	}
	for i, v := range values {
		if str, ok := v.(string); ok {
			out[fields[i]] = str
		}
	}
	return out, nil
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, key, fields...).Err(); err != nil {
		return core.StoreError("hdel", err)
	}
	return nil
}

func (s *Store) SetScoreIf(ctx context.Context, key, member string, score float64, cond core.Condition, record engine.Record) (bool, error) {
	flag := "LT"
	if cond == core.GreaterThan {
		flag = "GT"
	}
	keys := []string{key}
	args := []interface{}{flag, strconv.FormatFloat(score, 'g', -1, 64), member}
	if record.Key != "" {
		keys = append(keys, record.Key)
		for f, v := range record.Fields {
			args = append(args, f, v)
		}
	}
	changed, err := setScoreIfScript.Run(ctx, s.client, keys, args...).Int64()
	if err != nil {
		return false, core.StoreError("set score", err)
	}
	return changed == 1, nil
}

func (s *Store) Rank(ctx context.Context, key, member string, order core.Order) (int64, bool, error) {
	var cmd *redis.IntCmd
	if order == core.OrderDescending {
		cmd = s.client.ZRevRank(ctx, key, member)
	} else {
		cmd = s.client.ZRank(ctx, key, member)
	}
	rank, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, core.StoreError("zrank", err)
	}
	return rank, true, nil
}

func (s *Store) Range(ctx context.Context, key string, skip, take int64, order core.Order) ([]string, error) {
	if skip < 0 {
		skip = 0
	}
	if take == 0 {
		return nil, nil
	}
	if take < 0 {
		// LIMIT with a negative count returns every remaining member
		take = -1
	}
	by := &redis.ZRangeBy{Min: "-inf", Max: "+inf", Offset: skip, Count: take}
	var (
		members []string
		err     error
	)
	if order == core.OrderDescending {
		members, err = s.client.ZRevRangeByScore(ctx, key, by).Result()
	} else {
		members, err = s.client.ZRangeByScore(ctx, key, by).Result()
	}
	if err != nil {
		return nil, core.StoreError("zrangebyscore", err)
	}
	return members, nil
}

func (s *Store) Card(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, core.StoreError("zcard", err)
	}
	return n, nil
}

func (s *Store) Remove(ctx context.Context, key, member string) error {
	if err := s.client.ZRem(ctx, key, member).Err(); err != nil {
		return core.StoreError("zrem", err)
	}
	return nil
}

func (s *Store) Del(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return core.StoreError("del", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return core.StoreError("ping", err)
	}
	return nil
}

func (s *Store) String() string {
	return fmt.Sprintf("redis(%s)", s.client.Options().Addr)
}

var _ engine.Store = (*Store)(nil)
