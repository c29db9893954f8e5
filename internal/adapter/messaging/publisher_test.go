package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"trade-settlement-engine/internal/core/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEvent() *domain.TradeEvent {
	return &domain.TradeEvent{
		ID:         "01J9ZK8Q2V3W4X5Y6Z7A8B9C0D",
		TradeID:    uuid.New(),
		Type:       domain.EventTradeReleased,
		FromStatus: domain.TradeStatusPaymentClaimed,
		ToStatus:   domain.TradeStatusReleased,
		ActorID:    uuid.New(),
		BuyerID:    uuid.New(),
		SellerID:   uuid.New(),
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestRedisPublisher_Publish(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	defer client.Close()
	pub := NewRedisPublisher(client, "trade-events")
	event := newTestEvent()

	ctx := context.Background()
	sub := client.Subscribe(ctx, "trade-events", pub.UserChannel(event.SellerID))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, pub.Publish(ctx, event))

	seen := map[string]domain.TradeEvent{}
	for i := 0; i < 2; i++ {
		msg, err := sub.ReceiveMessage(ctx)
		require.NoError(t, err)
		var got domain.TradeEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		seen[msg.Channel] = got
	}
	assert.Equal(t, event.TradeID, seen["trade-events"].TradeID)
	assert.Equal(t, domain.EventTradeReleased, seen[pub.UserChannel(event.SellerID)].Type)
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_KeysByTrade(t *testing.T) {
	w := &fakeWriter{}
	pub := &KafkaPublisher{writer: w}
	event := newTestEvent()

	require.NoError(t, pub.Publish(context.Background(), event))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, event.TradeID.String(), string(w.msgs[0].Key))
	assert.Equal(t, event.CreatedAt, w.msgs[0].Time)
	assert.Equal(t, "trade.released", string(w.msgs[0].Headers[0].Value))

	require.NoError(t, pub.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	pub := &KafkaPublisher{writer: &fakeWriter{err: errors.New("broker unavailable")}}

	err := pub.Publish(context.Background(), newTestEvent())
	assert.ErrorContains(t, err, "kafka publish trade.released")
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	pub := NewLogPublisher(zerolog.New(&buf))

	require.NoError(t, pub.Publish(context.Background(), newTestEvent()))
	assert.Contains(t, buf.String(), `"event_type":"trade.released"`)
	assert.Contains(t, buf.String(), `"component":"events"`)
}
