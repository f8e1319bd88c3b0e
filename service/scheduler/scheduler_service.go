/*
 * @module service/scheduler/scheduler_service
 * @description 后台调度器：轮询待构建支付计划、排队查重批次，每日同步制裁名单
 * @architecture 分层架构 - 调度层，任务在分布式锁下执行保证多实例不重复
 * @documentReference ai_docs/scheduler_req.md
 * @stateFlow 定时触发 -> 抢锁 -> 拉取待处理记录 -> 逐条执行 -> 记录结果
 * @rules 单条任务失败只记日志不中断轮询；未抢到锁静默跳过
 * @dependencies github.com/robfig/cron/v3, service/distributed_lock
 * @refs service/payment_plan/builder.go, service/deduplication/pipeline.go
 */

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"beneficiary-service/service/deduplication"
	"beneficiary-service/service/distributed_lock"
	"beneficiary-service/service/meta"
	"beneficiary-service/service/models"
	paymentplan "beneficiary-service/service/payment_plan"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

const (
	lockPlanBuilds   = "plan_builds"
	lockBatchDedup   = "batch_dedup"
	lockSanctionSync = "sanction_sync"

	pollLockTTL     = 5 * time.Minute
	sanctionLockTTL = 30 * time.Minute
	refreshInterval = 1 * time.Minute
)

// SchedulerService 后台调度器
type SchedulerService struct {
	db       *gorm.DB
	builder  *paymentplan.Builder
	pipeline *deduplication.Pipeline
	executor *distributed_lock.LockExecutor
	cron     *cron.Cron
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
}

// NewSchedulerService 创建调度器实例
func NewSchedulerService(db *gorm.DB, builder *paymentplan.Builder, pipeline *deduplication.Pipeline, executor *distributed_lock.LockExecutor) *SchedulerService {
	ctx, cancel := context.WithCancel(context.Background())
	return &SchedulerService{
		db:       db,
		builder:  builder,
		pipeline: pipeline,
		executor: executor,
		cron:     cron.New(cron.WithSeconds()),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start 注册定时任务并启动调度
func (s *SchedulerService) Start() error {
	if s.started {
		return fmt.Errorf("调度器已经启动")
	}

	// 每30秒轮询待构建计划
	if _, err := s.cron.AddFunc("*/30 * * * * *", func() {
		if err := s.pollPendingBuilds(); err != nil {
			slog.Error("轮询待构建计划失败", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("添加定时任务失败: %w", err)
	}

	// 每30秒轮询排队查重的批次
	if _, err := s.cron.AddFunc("*/30 * * * * *", func() {
		if err := s.pollQueuedBatches(); err != nil {
			slog.Error("轮询查重批次失败", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("添加定时任务失败: %w", err)
	}

	// 每天凌晨3点同步制裁名单
	if _, err := s.cron.AddFunc("0 0 3 * * *", func() {
		if err := s.syncSanctionList(); err != nil {
			slog.Error("同步制裁名单失败", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("添加定时任务失败: %w", err)
	}

	s.cron.Start()
	s.started = true
	slog.Info("后台调度器启动成功")
	return nil
}

// Stop 停止调度器
func (s *SchedulerService) Stop() {
	if !s.started {
		return
	}
	slog.Info("停止后台调度器")
	s.cancel()
	s.cron.Stop()
	s.started = false
}

// pollPendingBuilds 在锁保护下逐个构建待构建的支付计划
func (s *SchedulerService) pollPendingBuilds() error {
	return s.executor.ExecuteWithLockAndRefresh(s.ctx, lockPlanBuilds, pollLockTTL, refreshInterval, func() error {
		var planIDs []string
		err := s.db.Model(&models.PaymentPlan{}).
			Where("build_status = ?", meta.BuildStatusPending).
			Order("created_at").
			Pluck("id", &planIDs).Error
		if err != nil {
			return fmt.Errorf("查询待构建计划失败: %w", err)
		}

		for _, id := range planIDs {
			if s.ctx.Err() != nil {
				return nil
			}
			if err := s.builder.BuildPopulation(s.ctx, id); err != nil {
				slog.Error("构建支付计划失败", "plan_id", id, "error", err)
			}
		}
		return nil
	})
}

// pollQueuedBatches 在锁保护下逐个查重排队中的登记批次
func (s *SchedulerService) pollQueuedBatches() error {
	return s.executor.ExecuteWithLockAndRefresh(s.ctx, lockBatchDedup, pollLockTTL, refreshInterval, func() error {
		var batchIDs []string
		err := s.db.Model(&models.RegistrationBatch{}).
			Where("dedup_queued = ?", true).
			Where("status = ?", meta.BatchStatusInReview).
			Order("created_at").
			Pluck("id", &batchIDs).Error
		if err != nil {
			return fmt.Errorf("查询排队批次失败: %w", err)
		}

		for _, id := range batchIDs {
			if s.ctx.Err() != nil {
				return nil
			}
			if err := s.pipeline.DeduplicateBatch(s.ctx, id); err != nil {
				slog.Error("批次查重失败", "batch_id", id, "error", err)
			}
		}
		return nil
	})
}

// syncSanctionList 在锁保护下从外部数据源同步制裁名单
func (s *SchedulerService) syncSanctionList() error {
	return s.executor.ExecuteWithLock(s.ctx, lockSanctionSync, sanctionLockTTL, func() error {
		return s.pipeline.SyncSanctionList(s.ctx)
	})
}
