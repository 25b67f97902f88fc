package kafka

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pricepilot/pricepilot/internal/config"
	"github.com/pricepilot/pricepilot/internal/models"
)

func testKafkaConfig() config.KafkaConfig {
	return config.KafkaConfig{
		Brokers:           []string{"127.0.0.1:1"},
		TopicPriceUpdates: "prices.updates",
		TopicDLQ:          "prices.updates.dlq",
		ConsumerGroup:     "test-group",
		MaxRetries:        1,
	}
}

func TestConsumerStart_UnreachableBroker(t *testing.T) {
	handler := func(ctx context.Context, event *models.PriceUpdateEvent) error {
		t.Error("handler must not run when the broker probe fails")
		return nil
	}
	c := NewConsumer(testKafkaConfig(), handler, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.Start(ctx); err == nil {
		t.Error("expected an error when no broker is reachable")
	}

	// Stop must be safe even though the consume loop never started.
	if err := c.Stop(); err != nil {
		t.Errorf("stop after failed start: %v", err)
	}
}
