/*
 * @module service/event/dispatcher
 * @description 领域事件分发器：写操作成功后由服务层同步调用，取代隐式的数据库信号钩子
 * @architecture 事件驱动架构 - 同步分发，发布失败只记日志不影响主流程
 * @documentReference ai_docs/event_req.md
 * @stateFlow 写入成功 -> Dispatch -> 逐个发布器发布
 * @rules 分发必须在事务提交之后调用；发布器错误不回传给业务调用方
 * @dependencies log/slog
 * @refs service/event/kafka_publisher.go, service/cache
 */

package event

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// 领域事件类型
const (
	EventHouseholdWithdrawn  = "household.withdrawn"
	EventIndividualWithdrawn = "individual.withdrawn"
	EventHouseholdUpdated    = "household.updated"
	EventIndividualUpdated   = "individual.updated"
	EventTicketClosed        = "ticket.closed"
	EventPlanBuilt           = "payment_plan.built"
	EventBatchDeduplicated   = "registration_batch.deduplicated"
	EventBatchMerged         = "registration_batch.merged"
)

// DomainEvent 领域事件
type DomainEvent struct {
	Type       string                 `json:"type"`
	EntityID   string                 `json:"entity_id"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Publisher 事件发布器
type Publisher interface {
	Publish(ctx context.Context, event *DomainEvent) error
	Close() error
}

// Dispatcher 事件分发器，按注册顺序同步调用各发布器
type Dispatcher struct {
	mu         sync.RWMutex
	publishers []Publisher
}

// NewDispatcher 创建事件分发器
func NewDispatcher(publishers ...Publisher) *Dispatcher {
	return &Dispatcher{publishers: publishers}
}

// Register 注册发布器
func (d *Dispatcher) Register(p Publisher) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.publishers = append(d.publishers, p)
}

// Dispatch 分发事件，发布失败记日志后继续
func (d *Dispatcher) Dispatch(ctx context.Context, eventType, entityID string, payload map[string]interface{}) {
	event := &DomainEvent{
		Type:       eventType,
		EntityID:   entityID,
		Payload:    payload,
		OccurredAt: time.Now(),
	}

	d.mu.RLock()
	publishers := d.publishers
	d.mu.RUnlock()

	for _, p := range publishers {
		if err := p.Publish(ctx, event); err != nil {
			slog.Error("事件发布失败", "type", eventType, "entity_id", entityID, "error", err)
		}
	}
}

// Close 关闭所有发布器
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.publishers {
		if err := p.Close(); err != nil {
			slog.Error("关闭事件发布器失败", "error", err)
		}
	}
	d.publishers = nil
}
