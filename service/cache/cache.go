/*
 * @module service/cache
 * @description 缓存版本服务：按实体范围维护 redis 版本号，写操作后递增使下游列表缓存整体失效
 * @architecture 分层架构 - 缓存层，版本号失效取代逐键删除
 * @documentReference ai_docs/event_req.md
 * @stateFlow 写入成功 -> 事件分发 -> 对应范围版本号 INCR -> 读方携带版本号组缓存键
 * @dependencies github.com/go-redis/redis/v8
 * @refs service/event/dispatcher.go
 */

package cache

import (
	"context"
	"fmt"
	"strings"

	"beneficiary-service/service/event"

	"github.com/go-redis/redis/v8"
)

const versionKeyPrefix = "beneficiary:cache:version:"

// CacheService 缓存版本服务
type CacheService struct {
	rdb *redis.Client
}

// NewCacheService 创建缓存版本服务
func NewCacheService(rdb *redis.Client) *CacheService {
	return &CacheService{rdb: rdb}
}

// GetVersion 读取范围当前版本号，键不存在按 0 处理
func (s *CacheService) GetVersion(ctx context.Context, scope string) (int64, error) {
	v, err := s.rdb.Get(ctx, versionKeyPrefix+scope).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("读取缓存版本失败: %w", err)
	}
	return v, nil
}

// BumpVersion 递增范围版本号
func (s *CacheService) BumpVersion(ctx context.Context, scope string) (int64, error) {
	v, err := s.rdb.Incr(ctx, versionKeyPrefix+scope).Result()
	if err != nil {
		return 0, fmt.Errorf("递增缓存版本失败: %w", err)
	}
	return v, nil
}

// VersionedKey 以当前版本号组缓存键
func (s *CacheService) VersionedKey(ctx context.Context, scope, suffix string) (string, error) {
	v, err := s.GetVersion(ctx, scope)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("beneficiary:%s:v%d:%s", scope, v, suffix), nil
}

// VersionBumpPublisher 事件发布器实现：按事件类型前缀递增对应范围的版本号
type VersionBumpPublisher struct {
	svc *CacheService
}

// NewVersionBumpPublisher 创建版本递增发布器
func NewVersionBumpPublisher(svc *CacheService) *VersionBumpPublisher {
	return &VersionBumpPublisher{svc: svc}
}

// Publish 事件类型形如 "household.withdrawn"，取点号前缀作为失效范围
func (p *VersionBumpPublisher) Publish(ctx context.Context, e *event.DomainEvent) error {
	scope := e.Type
	if idx := strings.Index(scope, "."); idx > 0 {
		scope = scope[:idx]
	}
	_, err := p.svc.BumpVersion(ctx, scope)
	return err
}

// Close 无资源可释放
func (p *VersionBumpPublisher) Close() error {
	return nil
}
