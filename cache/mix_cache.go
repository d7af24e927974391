package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"AutoFM/db"
	"AutoFM/logger"
	"AutoFM/model"

	"github.com/go-redis/redis/v8"
)

// 混音状态在Redis中的保留时间。状态轮询打在缓存上，落库的记录才是
// 事实来源，缓存过期后读取会自动回源。
const mixCacheTTL = 6 * time.Hour

// GetMixKey 根据混音ID生成Redis键
func GetMixKey(mixID string) string {
	return fmt.Sprintf("mix:%s", mixID)
}

// SetMix writes the current mix snapshot to Redis. Best effort: cache
// being down must never block a status transition, so errors are only
// logged.
func SetMix(ctx context.Context, mix *model.Mix) {
	if db.RedisClient == nil {
		return
	}

	data, err := json.Marshal(mix)
	if err != nil {
		logger.Warn("混音状态序列化失败", logger.String("mixId", mix.ID), logger.ErrorField(err))
		return
	}

	if err := db.RedisClient.Set(ctx, GetMixKey(mix.ID), data, mixCacheTTL).Err(); err != nil {
		logger.Warn("混音状态写入缓存失败", logger.String("mixId", mix.ID), logger.ErrorField(err))
	}
}

// GetMix reads the cached mix snapshot. Returns (nil, nil) on a cache
// miss or when Redis is not configured; callers fall back to the
// repository.
func GetMix(ctx context.Context, mixID string) (*model.Mix, error) {
	if db.RedisClient == nil {
		return nil, nil
	}

	data, err := db.RedisClient.Get(ctx, GetMixKey(mixID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get mix from cache: %w", err)
	}

	var mix model.Mix
	if err := json.Unmarshal(data, &mix); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached mix: %w", err)
	}
	return &mix, nil
}

// DeleteMix 从缓存中移除混音状态
func DeleteMix(ctx context.Context, mixID string) {
	if db.RedisClient == nil {
		return
	}
	if err := db.RedisClient.Del(ctx, GetMixKey(mixID)).Err(); err != nil {
		logger.Warn("混音状态缓存删除失败", logger.String("mixId", mixID), logger.ErrorField(err))
	}
}
