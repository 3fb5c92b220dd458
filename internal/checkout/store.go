package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"flea_market/pkg/logging"
	rediskey "flea_market/pkg/redis"

	rd "github.com/redis/go-redis/v9"
)

// Store 保存每个登录会话的结算进度，会话之间互不可见。
type Store interface {
	Load(ctx context.Context, sessionID string) (State, error)
	Save(ctx context.Context, sessionID string, st State) error
	Clear(ctx context.Context, sessionID string) error
}

// RedisStore 以 JSON 存在单个 key 上，每次写入刷新 TTL。
type RedisStore struct {
	rdb rd.Cmdable
	ttl time.Duration
}

func NewRedisStore(rdb rd.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (State, error) {
	b, err := s.rdb.Get(ctx, rediskey.CheckoutSessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return Empty{}, nil
		}
		return nil, fmt.Errorf("load checkout session: %w", err)
	}
	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		// 损坏的会话按空处理，用户会被带回第一步
		logging.Log(logging.Fields{Service: "checkout", Step: "session_load", Status: "corrupt", Message: err.Error()})
		return Empty{}, nil
	}
	return decodeState(r), nil
}

func (s *RedisStore) Save(ctx context.Context, sessionID string, st State) error {
	if st == nil || st.Stage() == StageEmpty {
		return s.Clear(ctx, sessionID)
	}
	b, err := json.Marshal(encodeState(st))
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, rediskey.CheckoutSessionKey(sessionID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("save checkout session: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, rediskey.CheckoutSessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("clear checkout session: %w", err)
	}
	return nil
}
