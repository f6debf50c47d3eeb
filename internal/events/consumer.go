package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	"log/slog"
)

// MessageHandler processes one consumed record. Returning an error leaves
// the offset unmarked, so the record is redelivered on the next rebalance.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error
}

// HandlerFunc adapts a plain function to MessageHandler.
type HandlerFunc func(ctx context.Context, msg *sarama.ConsumerMessage) error

func (f HandlerFunc) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	return f(ctx, msg)
}

// TopicMux routes consumed records to the handler registered for their
// topic. Records on unregistered topics are acknowledged and dropped, so a
// widened subscription never stalls a partition.
type TopicMux struct {
	handlers map[string]MessageHandler
}

func NewTopicMux() *TopicMux {
	return &TopicMux{handlers: make(map[string]MessageHandler)}
}

func (m *TopicMux) Handle(topic string, handler MessageHandler) {
	if topic == "" || handler == nil {
		return
	}
	m.handlers[topic] = handler
}

func (m *TopicMux) Topics() []string {
	topics := make([]string, 0, len(m.handlers))
	for topic := range m.handlers {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

func (m *TopicMux) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	handler, ok := m.handlers[msg.Topic]
	if !ok {
		return nil
	}
	return handler.HandleMessage(ctx, msg)
}

type Consumer struct {
	group  sarama.ConsumerGroup
	logger *slog.Logger
}

func NewConsumer(brokers []string, groupID string, logger *slog.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	return &Consumer{
		group:  group,
		logger: logger,
	}, nil
}

func (c *Consumer) Consume(ctx context.Context, topics []string, handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("message handler required")
	}
	if len(topics) == 0 {
		return fmt.Errorf("at least one topic required")
	}

	cgHandler := &consumerGroupHandler{
		handler: handler,
		logger:  c.logger,
	}

	for {
		if err := c.group.Consume(ctx, topics, cgHandler); err != nil {
			c.logger.Error("kafka consume error", "error", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(2 * time.Second)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	if c.group == nil {
		return nil
	}
	return c.group.Close()
}

type consumerGroupHandler struct {
	handler MessageHandler
	logger  *slog.Logger
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := h.handler.HandleMessage(session.Context(), msg); err != nil {
			h.logger.Error("kafka message handler error",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"event_id", peekEventID(msg.Value),
				"error", err,
			)
			continue
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// peekEventID pulls the envelope id out of a payload for log correlation
// without committing to a full decode of the event body.
func peekEventID(payload []byte) string {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return ""
	}
	return envelope.EventID
}
