package service

import (
	"context"
	"reflect"
	"sync"
	"testing"
)

// blockingPublisher 第一条通知阻塞到 release 关闭
type blockingPublisher struct {
	recordingPublisher
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *blockingPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	p.once.Do(func() {
		close(p.started)
		<-p.release
	})
	return p.recordingPublisher.Publish(ctx, topic, payload)
}

func TestNotifierAsyncDelivery(t *testing.T) {
	pub := &recordingPublisher{}
	n := newNotifier(pub, nil, nil, 8)
	for _, topic := range []string{TopicStockMovement, TopicLowStock, TopicRequisition} {
		n.publish(context.Background(), topic, nil)
	}
	n.close()

	want := []string{TopicStockMovement, TopicLowStock, TopicRequisition}
	if !reflect.DeepEqual(pub.topics, want) {
		t.Errorf("delivered = %v, want %v", pub.topics, want)
	}

	// 关闭后的通知丢弃，不阻塞也不 panic
	n.publish(context.Background(), TopicBOMCost, nil)
	n.close()
	if pub.count(TopicBOMCost) != 0 {
		t.Error("notification delivered after close")
	}
}

func TestNotifierDropsWhenQueueFull(t *testing.T) {
	pub := &blockingPublisher{started: make(chan struct{}), release: make(chan struct{})}
	n := newNotifier(pub, nil, nil, 1)

	n.publish(context.Background(), "first", nil)
	<-pub.started // 后台协程卡在第一条
	n.publish(context.Background(), "queued", nil)
	n.publish(context.Background(), "dropped", nil)

	close(pub.release)
	n.close()

	if want := []string{"first", "queued"}; !reflect.DeepEqual(pub.topics, want) {
		t.Errorf("delivered = %v, want %v", pub.topics, want)
	}
}

func TestNotifierSyncByDefault(t *testing.T) {
	pub := &recordingPublisher{}
	n := newNotifier(pub, nil, nil, 0)
	n.publish(context.Background(), TopicItemChanged, nil)
	if pub.count(TopicItemChanged) != 1 {
		t.Error("sync notifier did not deliver inline")
	}
	n.close()
}
