/*
 * @module service/distributed_lock/redis_lock
 * @description Redis分布式锁：多实例部署下查重调度与计划构建的防重执行
 * @architecture 工具层 - SET NX + Lua 释放，持有者标识防止误删他人锁
 * @documentReference ai_docs/scheduler_req.md
 * @stateFlow 获取锁 -> 执行任务(可选续期) -> 释放锁/自动过期
 * @rules 未抢到锁不算错误，说明任务正由其他实例执行
 * @dependencies github.com/go-redis/redis/v8
 * @refs service/scheduler, service/init.go
 */

package distributed_lock

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
)

const lockKeyPrefix = "beneficiary:lock:"

// DistributedLock 分布式锁接口
type DistributedLock interface {
	// TryLock 尝试获取锁，未抢到返回 false 不报错
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Unlock 释放锁，仅持有者能释放
	Unlock(ctx context.Context, key string) error
	// Refresh 刷新锁的过期时间
	Refresh(ctx context.Context, key string, ttl time.Duration) error
}

// RedisLock Redis分布式锁实现
type RedisLock struct {
	client     *redis.Client
	instanceID string // 锁持有者标识：主机名+进程号
}

// NewRedisLock 基于已有 redis 客户端创建分布式锁
func NewRedisLock(client *redis.Client) *RedisLock {
	hostname, _ := os.Hostname()
	return &RedisLock{
		client:     client,
		instanceID: fmt.Sprintf("%s:%d", hostname, os.Getpid()),
	}
}

// TryLock SET NX 抢锁
func (r *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, lockKeyPrefix+key, r.instanceID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("获取锁失败: %w", err)
	}
	return ok, nil
}

// Unlock Lua 脚本校验持有者后删除
func (r *RedisLock) Unlock(ctx context.Context, key string) error {
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`
	result, err := r.client.Eval(ctx, script, []string{lockKeyPrefix + key}, r.instanceID).Result()
	if err != nil {
		return fmt.Errorf("释放锁失败: %w", err)
	}
	if result.(int64) == 0 {
		slog.Warn("锁不存在或已被其他实例持有", "key", key, "instance", r.instanceID)
	}
	return nil
}

// Refresh Lua 脚本校验持有者后续期
func (r *RedisLock) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("expire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`
	result, err := r.client.Eval(ctx, script, []string{lockKeyPrefix + key}, r.instanceID, int(ttl.Seconds())).Result()
	if err != nil {
		return fmt.Errorf("刷新锁失败: %w", err)
	}
	if result.(int64) == 0 {
		return fmt.Errorf("锁不存在或已被其他实例持有")
	}
	return nil
}

// LockExecutor 带锁执行器
type LockExecutor struct {
	lock DistributedLock
}

// NewLockExecutor 创建带锁执行器
func NewLockExecutor(lock DistributedLock) *LockExecutor {
	return &LockExecutor{lock: lock}
}

// ExecuteWithLock 抢到锁则执行，未抢到静默跳过
func (e *LockExecutor) ExecuteWithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	locked, err := e.lock.TryLock(ctx, key, ttl)
	if err != nil {
		return err
	}
	if !locked {
		slog.Debug("锁已被其他实例持有，跳过执行", "key", key)
		return nil
	}
	defer func() {
		if unlockErr := e.lock.Unlock(ctx, key); unlockErr != nil {
			slog.Error("释放锁失败", "key", key, "error", unlockErr)
		}
	}()
	return fn()
}

// ExecuteWithLockAndRefresh 长任务版本：持锁执行并按间隔自动续期
func (e *LockExecutor) ExecuteWithLockAndRefresh(ctx context.Context, key string, ttl, refreshInterval time.Duration, fn func() error) error {
	locked, err := e.lock.TryLock(ctx, key, ttl)
	if err != nil {
		return err
	}
	if !locked {
		slog.Debug("锁已被其他实例持有，跳过执行", "key", key)
		return nil
	}

	refreshCtx, cancelRefresh := context.WithCancel(ctx)
	defer cancelRefresh()
	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-refreshCtx.Done():
				return
			case <-ticker.C:
				if refreshErr := e.lock.Refresh(ctx, key, ttl); refreshErr != nil {
					slog.Error("锁续期失败", "key", key, "error", refreshErr)
				}
			}
		}
	}()

	defer func() {
		if unlockErr := e.lock.Unlock(ctx, key); unlockErr != nil {
			slog.Error("释放锁失败", "key", key, "error", unlockErr)
		}
	}()
	return fn()
}
