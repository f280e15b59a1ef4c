package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	credentialPrefix = "pointbeat:credential:"
	blacklistRKey    = "pointbeat:blacklist"
	queueSnapshotR   = "pointbeat:queue_snapshot"

	// Queue snapshots are only useful across a quick restart; let stale
	// ones age out rather than resurrect a day-old queue.
	queueSnapshotTimeout = 24 * time.Hour

	redisOpTimeout = 5 * time.Second
)

// RedisStore is a storage engine that writes to redis
type RedisStore struct {
	client *redis.Client
}

// NewRedisClient creates a new redis client object
func NewRedisClient(addr string, password string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	_, err := client.Ping(context.Background()).Result()
	if err != nil {
		panic(err)
	}
	return client
}

// NewRedisClientWithUrl creates a new redis client object
func NewRedisClientWithUrl(url string) *redis.Client {
	option, err := redis.ParseURL(url)
	if err != nil {
		panic(err)
	}

	client := redis.NewClient(option)
	_, err = client.Ping(context.Background()).Result()
	if err != nil {
		panic(err)
	}
	return client
}

// NewRedisStore creates new store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), redisOpTimeout)
}

// Ping will check if the connection works right
func (s *RedisStore) Ping(ctx context.Context) error {
	_, err := s.client.Ping(ctx).Result()
	return err
}

// WriteCredential persists one identity domain's token record.
func (s *RedisStore) WriteCredential(domain string, cred Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	ctx, cancel := redisCtx()
	defer cancel()
	return s.client.Set(ctx, credentialPrefix+domain, data, 0).Err()
}

// GetCredential loads one identity domain's token record, nil when absent.
func (s *RedisStore) GetCredential(domain string) *Credential {
	ctx, cancel := redisCtx()
	defer cancel()
	data, err := s.client.Get(ctx, credentialPrefix+domain).Bytes()
	if err != nil {
		return nil
	}
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		slog.Warn("corrupt credential record in redis", "domain", domain, "error", err)
		return nil
	}
	return &cred
}

// WriteBlacklist replaces the stored blacklist wholesale.
func (s *RedisStore) WriteBlacklist(entries []string) error {
	if entries == nil {
		entries = []string{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	ctx, cancel := redisCtx()
	defer cancel()
	return s.client.Set(ctx, blacklistRKey, data, 0).Err()
}

// Blacklist returns the stored blacklist, empty when never written.
func (s *RedisStore) Blacklist() []string {
	ctx, cancel := redisCtx()
	defer cancel()
	data, err := s.client.Get(ctx, blacklistRKey).Bytes()
	if err != nil {
		return nil
	}
	var entries []string
	if err := json.Unmarshal(data, &entries); err != nil {
		slog.Warn("corrupt blacklist in redis", "error", err)
		return nil
	}
	return entries
}

// WriteQueueSnapshot stores the serialized pending queue with a TTL.
func (s *RedisStore) WriteQueueSnapshot(data []byte) error {
	ctx, cancel := redisCtx()
	defer cancel()
	return s.client.Set(ctx, queueSnapshotR, data, queueSnapshotTimeout).Err()
}

// ReadQueueSnapshot returns the last stored queue snapshot, nil when absent.
func (s *RedisStore) ReadQueueSnapshot() []byte {
	ctx, cancel := redisCtx()
	defer cancel()
	data, err := s.client.Get(ctx, queueSnapshotR).Bytes()
	if err != nil {
		return nil
	}
	return data
}
