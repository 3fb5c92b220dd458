package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	got []Event
	err error
}

func (f *fakePublisher) Publish(_ context.Context, ev Event) error {
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, ev)
	return nil
}

type countingHandler struct {
	calls   int
	failFor int
}

func (h *countingHandler) Handle(context.Context, Event) error {
	h.calls++
	if h.calls <= h.failFor {
		return errors.New("not yet")
	}
	return nil
}

func newRelayForTest(t *testing.T, pub Publisher) (*Relay, *Outbox, *rd.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRelay(rdb, pub, "events", "relay", "relay-1"), NewOutbox(rdb, "events"), rdb
}

func TestEventValidate(t *testing.T) {
	ev := NewEvent(EventChargeUnrecorded, 1)
	assert.Error(t, ev.Validate())
	ev.ChargeID = "ch_1"
	assert.NoError(t, ev.Validate())
	assert.Equal(t, "ch_1", ev.Key())

	n := NewEvent(EventNotificationCreated, 2)
	assert.Error(t, n.Validate())
	n.OrderID = 5
	assert.NoError(t, n.Validate())
	assert.Equal(t, "order-5", n.Key())

	assert.Error(t, NewEvent("order.deleted", 1).Validate())
	assert.Error(t, NewEvent(EventChargeUnknown, 0).Validate())
}

func TestOutboxRejectsInvalidEvent(t *testing.T) {
	_, outbox, _ := newRelayForTest(t, &fakePublisher{})
	_, err := outbox.Append(context.Background(), NewEvent(EventOrderSettled, 1))
	assert.Error(t, err)
}

func TestRelayForwardsAndAcks(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	relay, outbox, rdb := newRelayForTest(t, pub)

	ev := NewEvent(EventNotificationCreated, 4)
	ev.OrderID = 11
	ev.IsAction = true
	_, err := outbox.Append(ctx, ev)
	require.NoError(t, err)

	require.NoError(t, relay.ensureGroup(ctx))
	msgs, err := relay.readGroup(ctx, ">", -1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, relay.processOne(ctx, msgs[0]))
	require.Len(t, pub.got, 1)
	assert.Equal(t, ev, pub.got[0])

	n, err := rdb.XLen(ctx, "events").Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelayKeepsMessageWhenPublishFails(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{err: errors.New("kafka down")}
	relay, outbox, rdb := newRelayForTest(t, pub)

	ev := NewEvent(EventChargeUnrecorded, 4)
	ev.ChargeID = "ch_x"
	_, err := outbox.Append(ctx, ev)
	require.NoError(t, err)

	require.NoError(t, relay.ensureGroup(ctx))
	msgs, err := relay.readGroup(ctx, ">", -1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	assert.Error(t, relay.processOne(ctx, msgs[0]))
	n, err := rdb.XLen(ctx, "events").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRelayDropsDirtyMessage(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	relay, _, rdb := newRelayForTest(t, pub)

	require.NoError(t, rdb.XAdd(ctx, &rd.XAddArgs{Stream: "events", Values: map[string]any{"type": "x"}}).Err())
	require.NoError(t, relay.ensureGroup(ctx))
	msgs, err := relay.readGroup(ctx, ">", -1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, relay.processOne(ctx, msgs[0]))
	assert.Empty(t, pub.got)
}

func TestConsumerDispatchRetries(t *testing.T) {
	h := &countingHandler{failFor: 2}
	c := &Consumer{handler: h, maxAttempts: 3}

	ev := NewEvent(EventChargeUnrecorded, 1)
	ev.ChargeID = "ch_1"
	b, err := json.Marshal(ev)
	require.NoError(t, err)

	c.dispatch(context.Background(), b)
	assert.Equal(t, 3, h.calls)

	// 非法事件不会进入 handler
	c.dispatch(context.Background(), []byte(`{"type":"charge.unrecorded"}`))
	assert.Equal(t, 3, h.calls)
}
