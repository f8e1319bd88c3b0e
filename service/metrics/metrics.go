/*
 * @module service/metrics
 * @description 业务管道指标：查重处理量、裁定工单创建量、支付计划构建结果
 * @architecture 可观测层 - prometheus 计数器，/metrics 由 promhttp 暴露
 * @documentReference ai_docs/observability_req.md
 * @dependencies github.com/prometheus/client_golang
 * @refs main.go, service/deduplication, service/payment_plan
 */

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DedupIndividualsProcessed 查重管道处理过的个人数
	DedupIndividualsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beneficiary_dedup_individuals_processed_total",
		Help: "Individuals processed by the deduplication pipeline",
	})

	// DedupTicketsCreated 查重管道创建的工单数，按类别区分
	DedupTicketsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beneficiary_dedup_tickets_created_total",
		Help: "Grievance tickets created by the deduplication pipeline",
	}, []string{"category"})

	// DedupBatchesTotal 查重批次结果计数
	DedupBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beneficiary_dedup_batches_total",
		Help: "Registration batches deduplicated, by outcome",
	}, []string{"outcome"})

	// PlanBuildsTotal 支付计划构建结果计数
	PlanBuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beneficiary_plan_builds_total",
		Help: "Payment plan population builds, by outcome",
	}, []string{"outcome"})
)
