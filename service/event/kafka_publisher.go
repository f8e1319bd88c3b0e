/*
 * @module service/event/kafka_publisher
 * @description Kafka事件发布器：领域事件序列化为JSON写入统一主题，供下游系统消费
 * @architecture 适配器模式 - 封装第三方Kafka客户端
 * @documentReference ai_docs/event_req.md
 * @stateFlow 事件序列化 -> 按实体ID分区写入 -> 批量提交
 * @dependencies github.com/segmentio/kafka-go, encoding/json
 * @refs service/event/dispatcher.go
 */

package event

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher 基于Kafka的事件发布器
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher 创建Kafka事件发布器
// brokers 取环境变量 KAFKA_BROKERS（逗号分隔），主题取 KAFKA_EVENT_TOPIC
func NewKafkaPublisher() *KafkaPublisher {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = "localhost:9092"
	}
	topic := os.Getenv("KAFKA_EVENT_TOPIC")
	if topic == "" {
		topic = "beneficiary-events"
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 100 * time.Millisecond,
		Async:        false,
	}
	return &KafkaPublisher{writer: writer}
}

// Publish 事件以实体ID为分区键写入主题
func (p *KafkaPublisher) Publish(ctx context.Context, event *DomainEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.EntityID),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("写入Kafka失败: %w", err)
	}
	return nil
}

// Close 关闭底层writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
