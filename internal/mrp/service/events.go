package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// 通知主题
const (
	TopicStockMovement       = "mrp.stock.movement"
	TopicLowStock            = "mrp.stock.low"
	TopicBOMCost             = "mrp.bom.cost"
	TopicBOMChanged          = "mrp.bom.changed"
	TopicItemChanged         = "mrp.item.changed"
	TopicProductionOrder     = "mrp.production_order.changed"
	TopicProductionIssued    = "mrp.production_order.issued"
	TopicProductionCompleted = "mrp.production_order.completed"
	TopicRequisition         = "mrp.requisition.changed"
)

// Topics 全部通知主题，跨实例转发时按此订阅
var Topics = []string{
	TopicStockMovement,
	TopicLowStock,
	TopicBOMCost,
	TopicBOMChanged,
	TopicItemChanged,
	TopicProductionOrder,
	TopicProductionIssued,
	TopicProductionCompleted,
	TopicRequisition,
}

// Publisher 变更通知发布者，事务提交后调用
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
}

// AuditSink 审计日志接收者
type AuditSink interface {
	Record(ctx context.Context, entityType, entityID, verb string, before, after interface{}, actorID string) error
}

// NopPublisher 不发送任何通知
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, interface{}) error { return nil }

// NopAuditSink 丢弃审计记录
type NopAuditSink struct{}

func (NopAuditSink) Record(context.Context, string, string, string, interface{}, interface{}, string) error {
	return nil
}

// publishTimeout 异步投递单条通知的超时
const publishTimeout = 5 * time.Second

type notification struct {
	topic   string
	payload interface{}
}

// notifier 提交后的副作用出口：失败只记日志，不影响业务结果
// buffer>0 时通知进入队列由后台协程投递，队列满时丢弃
type notifier struct {
	publisher Publisher
	audit     AuditSink
	logger    *zap.Logger

	mu     sync.RWMutex
	queue  chan notification
	done   chan struct{}
	closed bool
}

func newNotifier(publisher Publisher, audit AuditSink, logger *zap.Logger, buffer int) *notifier {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if audit == nil {
		audit = NopAuditSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &notifier{publisher: publisher, audit: audit, logger: logger}
	if buffer > 0 {
		n.queue = make(chan notification, buffer)
		n.done = make(chan struct{})
		go n.dispatch()
	}
	return n
}

func (n *notifier) publish(ctx context.Context, topic string, payload interface{}) {
	if n.queue == nil {
		n.deliver(ctx, topic, payload)
		return
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.logger.Warn("notifier closed, notification dropped", zap.String("topic", topic))
		return
	}
	select {
	case n.queue <- notification{topic: topic, payload: payload}:
	default:
		n.logger.Warn("notification queue full, dropped", zap.String("topic", topic))
	}
}

func (n *notifier) dispatch() {
	defer close(n.done)
	for msg := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		n.deliver(ctx, msg.topic, msg.payload)
		cancel()
	}
}

func (n *notifier) deliver(ctx context.Context, topic string, payload interface{}) {
	if err := n.publisher.Publish(ctx, topic, payload); err != nil {
		n.logger.Warn("publish notification failed",
			zap.String("topic", topic),
			zap.Error(err))
	}
}

// close 停止接收并等待队列中的通知投递完
func (n *notifier) close() {
	if n.queue == nil {
		return
	}
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	<-n.done
}

func (n *notifier) record(ctx context.Context, entityType, entityID, verb string, before, after interface{}, actorID string) {
	if err := n.audit.Record(ctx, entityType, entityID, verb, before, after, actorID); err != nil {
		n.logger.Warn("write audit log failed",
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.String("verb", verb),
			zap.Error(err))
	}
}
