package rabbitmq

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-seat-hold-booking/internal/config"
	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/notification"
)

func sampleEvent() notification.Event {
	return notification.Event{
		ID:         "ev-1",
		Type:       notification.EventBookingConfirmed,
		BookingID:  "bk-1",
		UserID:     "user-1",
		ShowID:     "show-1001",
		SeatIDs:    []string{"A01", "A02"},
		Amount:     24000,
		OccurredAt: time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC),
	}
}

func TestNewPublishing(t *testing.T) {
	msg, err := newPublishing(sampleEvent())
	require.NoError(t, err)

	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "ev-1", msg.MessageId)
	assert.Equal(t, "booking.confirmed", msg.Type)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, "bk-1", decoded["booking_id"])
	assert.Equal(t, float64(24000), decoded["amount"])
}

func TestPublisher_Publish(t *testing.T) {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		t.Skip("RABBITMQ_URL not set")
	}
	cfg := &config.RabbitMQConfig{URL: url, Queue: "booking.events.test"}
	p, err := NewPublisher(cfg)
	if err != nil {
		t.Skip("RabbitMQ not available")
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Publish(ctx, sampleEvent()))

	d, ok, err := p.ch.Get(cfg.Queue, true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ev-1", d.MessageId)
}
