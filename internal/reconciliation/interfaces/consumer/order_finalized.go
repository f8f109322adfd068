// Package consumer 订单事件 Kafka 消费者
package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/feastops/reconciliation/internal/reconciliation/application"
	"github.com/feastops/reconciliation/pkg/logger"
	"github.com/feastops/reconciliation/pkg/mq"
	"github.com/feastops/reconciliation/pkg/utils"
)

// OrderFinalizedEvent 订单终态事件载荷
// 订单子系统在订单完成或取消时发布，对账引擎据此失效该租户的税务报表缓存
type OrderFinalizedEvent struct {
	TenantID string `json:"tenant_id"`
	OrderNo  string `json:"order_no"`
	Status   string `json:"status"`
}

// OrderFinalizedConsumer 订单终态事件消费者
type OrderFinalizedConsumer struct {
	consumer *mq.KafkaConsumer
	dlq      *mq.DeadLetterQueue
	tax      *application.TaxReportService
}

// NewOrderFinalizedConsumer 创建订单终态事件消费者
func NewOrderFinalizedConsumer(
	consumer *mq.KafkaConsumer,
	dlq *mq.DeadLetterQueue,
	tax *application.TaxReportService,
) *OrderFinalizedConsumer {
	return &OrderFinalizedConsumer{
		consumer: consumer,
		dlq:      dlq,
		tax:      tax,
	}
}

// Run 消费循环，阻塞直到 ctx 取消
func (c *OrderFinalizedConsumer) Run(ctx context.Context) {
	logger.Info(ctx, "Order finalized consumer started")
	for {
		msg, err := c.consumer.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info(ctx, "Order finalized consumer stopped")
				return
			}
			logger.Error(ctx, "Failed to read Kafka message", "error", err)
			// broker 不可用时避免紧循环刷错误日志
			time.Sleep(time.Second)
			continue
		}

		if err := c.handle(ctx, msg); err != nil {
			logger.Error(ctx, "Failed to handle order finalized event",
				"key", msg.Key,
				"offset", msg.Offset,
				"error", err,
			)
			if c.dlq != nil {
				if dlqErr := c.dlq.Send(ctx, msg, "order finalized handling failed", err); dlqErr != nil {
					logger.Error(ctx, "Failed to send message to DLQ", "error", dlqErr)
				}
			}
		}
	}
}

func (c *OrderFinalizedConsumer) handle(ctx context.Context, msg *mq.Message) error {
	var event OrderFinalizedEvent
	if err := msg.UnmarshalPayload(&event); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if event.TenantID == "" {
		return fmt.Errorf("invalid payload: tenant_id is empty")
	}

	// 失效是幂等操作，瞬时数据库故障重试即可
	return utils.RetryWithBackoff(3, 100*time.Millisecond, 2*time.Second, func() error {
		return c.tax.Invalidate(ctx, event.TenantID)
	})
}
