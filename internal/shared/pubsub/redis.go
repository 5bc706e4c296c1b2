package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publisher 发布一条通知
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
}

// Message 频道上的消息体，Origin 标识发布实例
type Message struct {
	Origin  string          `json:"origin"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// RedisPublisher 通过 Redis PUBLISH 投递通知，频道名为 prefix:topic
type RedisPublisher struct {
	rdb    redis.UniversalClient
	prefix string
	origin string
}

func NewRedisPublisher(rdb redis.UniversalClient, prefix string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, prefix: prefix, origin: uuid.NewString()}
}

// Channel topic 对应的频道名
func (p *RedisPublisher) Channel(topic string) string {
	if p.prefix == "" {
		return topic
	}
	return p.prefix + ":" + topic
}

func (p *RedisPublisher) encode(topic string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return json.Marshal(Message{Origin: p.origin, Topic: topic, Payload: raw})
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	data, err := p.encode(topic, payload)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, p.Channel(topic), data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe 订阅若干 topic，返回的 PubSub 由调用方关闭
func (p *RedisPublisher) Subscribe(ctx context.Context, topics ...string) *redis.PubSub {
	channels := make([]string, 0, len(topics))
	for _, t := range topics {
		channels = append(channels, p.Channel(t))
	}
	return p.rdb.Subscribe(ctx, channels...)
}

// Relay 把其他实例发布的通知转给本地 sink（通常是 SSE hub），直到 ctx 结束
func (p *RedisPublisher) Relay(ctx context.Context, sink Publisher, logger *zap.Logger, topics ...string) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	sub := p.Subscribe(ctx, topics...)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := p.deliver(ctx, sink, msg.Payload); err != nil {
				logger.Warn("relay notification failed",
					zap.String("channel", msg.Channel),
					zap.Error(err))
			}
		}
	}
}

// deliver 解码一条频道消息；本实例发出的消息已在本地投递过，跳过
func (p *RedisPublisher) deliver(ctx context.Context, sink Publisher, raw string) error {
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if m.Origin == p.origin {
		return nil
	}
	return sink.Publish(ctx, m.Topic, m.Payload)
}

// FanOut 依次投递给所有下游，返回第一个错误但不中断其余投递
type FanOut []Publisher

func (f FanOut) Publish(ctx context.Context, topic string, payload interface{}) error {
	var first error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, topic, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}
