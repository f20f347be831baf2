package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicNames(t *testing.T) {
	assert.Equal(t, "trades/bot-1", TradeTopic("bot-1"))
	assert.Equal(t, "trades/owner/owner-1", TradeOwnerTopic("owner-1"))
	assert.Equal(t, "runners/runner-1", RunnerTopic("runner-1"))
	assert.Equal(t, "runners/owner/owner-1", RunnerOwnerTopic("owner-1"))
}

func TestBrokerDeliversToTopicSubscribers(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	tradeSub := b.Subscribe(TradeTopic("bot-1"))
	otherSub := b.Subscribe(TradeTopic("bot-2"))

	event := TradeEvent{
		Type:      EventTradeOpened,
		TradeID:   7,
		BotID:     "bot-1",
		Pair:      "BTC/USDT",
		Status:    "open",
		Timestamp: time.Now(),
	}
	require.NoError(t, b.Publish(context.Background(), TradeTopic("bot-1"), event))

	select {
	case msg := <-tradeSub:
		got, ok := msg.Payload.(TradeEvent)
		require.True(t, ok)
		assert.Equal(t, 7, got.TradeID)
	case <-time.After(time.Second):
		t.Fatal("expected delivery")
	}

	select {
	case <-otherSub:
		t.Fatal("wrong topic received the event")
	default:
	}
}

func TestBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	sub := b.Subscribe("runners/runner-1")
	// Overflow the buffer; publishes must not block
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_ = b.Publish(context.Background(), "runners/runner-1", RunnerEvent{RunnerID: "runner-1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
	assert.Equal(t, 1, b.SubscriberCount("runners/runner-1"))
	_ = sub
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	sub := b.Subscribe("trades/bot-1")
	b.Unsubscribe("trades/bot-1", sub)

	_, open := <-sub
	assert.False(t, open)
	assert.Zero(t, b.SubscriberCount("trades/bot-1"))
}

func TestBrokerCloseIsIdempotent(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe("trades/bot-1")

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, open := <-sub
	assert.False(t, open)
	assert.NoError(t, b.Publish(context.Background(), "trades/bot-1", nil))
}
