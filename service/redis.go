package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/TIANLI0/MaskKit/config"
	"github.com/TIANLI0/MaskKit/model"
	"github.com/TIANLI0/MaskKit/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisService struct {
	client *redis.Client
	ttl    time.Duration
	format string
}

// NewRedisService 创建掩码结果缓存，format 用于区分不同输出格式的缓存
func NewRedisService(cfg *config.RedisConfig, format string) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisService{
		client: client,
		ttl:    cfg.TTL,
		format: format,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisService) key(md5 string) string {
	return "mask:" + md5 + ":" + s.format
}

// GetMaskResult 从缓存获取掩码结果，未命中返回 nil
func (s *RedisService) GetMaskResult(ctx context.Context, md5 string) (*model.MaskResult, error) {
	data, err := s.client.Get(ctx, s.key(md5)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // 缓存未命中
		}
		return nil, err
	}

	var result model.MaskResult
	if err := json.Unmarshal(data, &result); err != nil {
		utils.Logger.Error("failed to unmarshal mask result",
			zap.String("md5", md5), zap.Error(err))
		return nil, err
	}

	return &result, nil
}

// SetMaskResult 设置掩码结果到缓存
func (s *RedisService) SetMaskResult(ctx context.Context, md5 string, result *model.MaskResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, s.key(md5), data, s.ttl).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}
