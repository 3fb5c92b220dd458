package queue

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Handler 处理一条已解析的事件；返回错误会触发有限次重试。
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

type Consumer struct {
	r       *kafka.Reader
	handler Handler

	maxAttempts int
	backoff     time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, handler Handler) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		handler:     handler,
		maxAttempts: 3,
		backoff:     500 * time.Millisecond,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

// Run 处理完（或放弃）后才提交 offset。
func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			return // ctx cancel / 连接断开等
		}

		c.dispatch(ctx, m.Value)

		if err := c.r.CommitMessages(ctx, m); err != nil {
			log.Printf("consumer commit offset=%d: %v", m.Offset, err)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, value []byte) {
	var ev Event
	if err := json.Unmarshal(value, &ev); err != nil {
		log.Printf("consumer unmarshal: %v", err)
		return
	}
	if err := ev.Validate(); err != nil {
		log.Printf("consumer drop invalid event: %v", err)
		return
	}

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err := c.handler.Handle(ctx, ev)
		if err == nil {
			return
		}
		log.Printf("consumer handle event_id=%s type=%s attempt=%d: %v", ev.EventID, ev.Type, attempt, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	// 放弃后仍提交：待退款记录 / 对账标记留在 Redis，人工可以接手。
	log.Printf("consumer give up event_id=%s type=%s", ev.EventID, ev.Type)
}
