// Package rediscache keeps a Redis read cache in front of the question store.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/doubtbuddy/core"
	"github.com/trezcool/doubtbuddy/core/doubt"
)

const defaultTTL = 10 * time.Minute

// NewClient connects to the Redis server described by conf.
func NewClient(ctx context.Context, conf core.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Address,
		Password: conf.Password,
		DB:       conf.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return client, nil
}

// questionRepository caches single questions by id. Every write replaces the cached copy
// with the stored one unless a later version is already cached, and a failed write evicts it.
// Reads only fill an empty slot. Lists and comments are never cached.
type questionRepository struct {
	doubt.Repository
	client *redis.Client
	ttl    time.Duration
	logger core.Logger
}

var _ doubt.Repository = (*questionRepository)(nil)

func NewQuestionRepository(next doubt.Repository, client *redis.Client, ttl time.Duration, logger core.Logger) doubt.Repository {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &questionRepository{
		Repository: next,
		client:     client,
		ttl:        ttl,
		logger:     logger,
	}
}

func questionKey(id string) string {
	return fmt.Sprintf("question:%s", id)
}

func (repo *questionRepository) get(ctx context.Context, id string) (doubt.Question, bool) {
	v, err := repo.client.Get(ctx, questionKey(id)).Bytes()
	if err == redis.Nil {
		return doubt.Question{}, false
	}
	if err != nil {
		repo.logger.Warn(fmt.Sprintf("cache get %s: %v", id, err), err)
		return doubt.Question{}, false
	}

	var q doubt.Question
	if err = json.Unmarshal(v, &q); err != nil {
		repo.logger.Warn(fmt.Sprintf("cache decode %s: %v", id, err), err)
		repo.evict(ctx, id)
		return doubt.Question{}, false
	}
	return q, true
}

// storeNewer replaces the cached copy unless it already holds a later version.
var storeNewer = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur then
	local ok, q = pcall(cjson.decode, cur)
	if ok and type(q) == "table" and tonumber(q["version"]) and tonumber(q["version"]) > tonumber(ARGV[2]) then
		return 0
	end
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
return 1
`)

func (repo *questionRepository) encode(q doubt.Question) ([]byte, bool) {
	b, err := json.Marshal(q)
	if err != nil {
		repo.logger.Warn(fmt.Sprintf("cache encode %s: %v", q.ID, err), err)
		return nil, false
	}
	return b, true
}

// set caches q after a write, never overwriting a later version.
func (repo *questionRepository) set(ctx context.Context, q doubt.Question) {
	b, ok := repo.encode(q)
	if !ok {
		return
	}
	err := storeNewer.Run(ctx, repo.client, []string{questionKey(q.ID)}, b, q.Version, repo.ttl.Milliseconds()).Err()
	if err != nil {
		repo.logger.Warn(fmt.Sprintf("cache set %s: %v", q.ID, err), err)
	}
}

// fill caches q after a read-through, only if no write cached a copy in the meantime.
func (repo *questionRepository) fill(ctx context.Context, q doubt.Question) {
	b, ok := repo.encode(q)
	if !ok {
		return
	}
	if err := repo.client.SetNX(ctx, questionKey(q.ID), b, repo.ttl).Err(); err != nil {
		repo.logger.Warn(fmt.Sprintf("cache fill %s: %v", q.ID, err), err)
	}
}

func (repo *questionRepository) evict(ctx context.Context, id string) {
	if err := repo.client.Del(ctx, questionKey(id)).Err(); err != nil {
		repo.logger.Warn(fmt.Sprintf("cache del %s: %v", id, err), err)
	}
}

func (repo *questionRepository) CreateQuestion(ctx context.Context, q doubt.Question) (doubt.Question, error) {
	q, err := repo.Repository.CreateQuestion(ctx, q)
	if err != nil {
		return doubt.Question{}, err
	}
	repo.set(ctx, q)
	return q, nil
}

func (repo *questionRepository) GetQuestion(ctx context.Context, id string) (doubt.Question, error) {
	if q, ok := repo.get(ctx, id); ok {
		return q, nil
	}
	q, err := repo.Repository.GetQuestion(ctx, id)
	if err != nil {
		return doubt.Question{}, err
	}
	repo.fill(ctx, q)
	return q, nil
}

func (repo *questionRepository) UpdateQuestion(ctx context.Context, q doubt.Question, expectedVersion int) (doubt.Question, error) {
	saved, err := repo.Repository.UpdateQuestion(ctx, q, expectedVersion)
	if err != nil {
		repo.evict(ctx, q.ID)
		return doubt.Question{}, err
	}
	repo.set(ctx, saved)
	return saved, nil
}
