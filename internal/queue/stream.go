package queue

import (
	"context"

	rd "github.com/redis/go-redis/v9"
)

// Outbox 把事件追加到 Redis Stream，由 Relay 异步转 Kafka。
type Outbox struct {
	rdb    rd.Cmdable
	stream string
}

func NewOutbox(rdb rd.Cmdable, stream string) *Outbox {
	return &Outbox{rdb: rdb, stream: stream}
}

// Append 校验后 XADD，返回 stream 消息 id。
func (o *Outbox) Append(ctx context.Context, ev Event) (string, error) {
	if err := ev.Validate(); err != nil {
		return "", err
	}
	return o.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: o.stream,
		Values: ev.streamValues(),
	}).Result()
}
