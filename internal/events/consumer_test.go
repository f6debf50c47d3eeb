package events

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/IBM/sarama"
)

type stubSession struct {
	ctx    context.Context
	marked int
}

func (s *stubSession) Context() context.Context                         { return s.ctx }
func (s *stubSession) Claims() map[string][]int32                       { return map[string][]int32{} }
func (s *stubSession) MemberID() string                                 { return "" }
func (s *stubSession) GenerationID() int32                              { return 0 }
func (s *stubSession) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *stubSession) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *stubSession) MarkMessage(_ *sarama.ConsumerMessage, _ string) {
	s.marked++
}
func (s *stubSession) Commit() {}

type stubClaim struct {
	msgCh chan *sarama.ConsumerMessage
}

func (c *stubClaim) Topic() string                            { return "rides.completed" }
func (c *stubClaim) Partition() int32                         { return 0 }
func (c *stubClaim) InitialOffset() int64                     { return 0 }
func (c *stubClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *stubClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgCh }

func runClaim(t *testing.T, handler MessageHandler, msgs ...*sarama.ConsumerMessage) *stubSession {
	t.Helper()
	msgCh := make(chan *sarama.ConsumerMessage, len(msgs))
	for _, msg := range msgs {
		msgCh <- msg
	}
	close(msgCh)

	session := &stubSession{ctx: context.Background()}
	cgHandler := &consumerGroupHandler{handler: handler, logger: slog.Default()}
	if err := cgHandler.ConsumeClaim(session, &stubClaim{msgCh: msgCh}); err != nil {
		t.Fatalf("consume claim error: %v", err)
	}
	return session
}

func TestConsumeClaimMarksOnSuccess(t *testing.T) {
	handled := 0
	handler := HandlerFunc(func(_ context.Context, _ *sarama.ConsumerMessage) error {
		handled++
		return nil
	})

	session := runClaim(t, handler,
		&sarama.ConsumerMessage{Topic: "rides.completed", Offset: 1, Value: []byte("{}")},
		&sarama.ConsumerMessage{Topic: "rides.completed", Offset: 2, Value: []byte("{}")},
	)

	if handled != 2 {
		t.Fatalf("expected both records handled, got %d", handled)
	}
	if session.marked != 2 {
		t.Fatalf("expected both offsets marked, got %d", session.marked)
	}
}

func TestConsumeClaimLeavesOffsetOnHandlerError(t *testing.T) {
	handler := HandlerFunc(func(_ context.Context, _ *sarama.ConsumerMessage) error {
		return errors.New("settle failed")
	})

	session := runClaim(t, handler,
		&sarama.ConsumerMessage{Topic: "rides.completed", Offset: 7, Value: []byte("{}")},
	)

	if session.marked != 0 {
		t.Fatal("failed record must stay unmarked for redelivery")
	}
}

func TestTopicMuxRoutesByTopic(t *testing.T) {
	mux := NewTopicMux()
	var completed, cancelled int
	mux.Handle("rides.completed", HandlerFunc(func(_ context.Context, _ *sarama.ConsumerMessage) error {
		completed++
		return nil
	}))
	mux.Handle("rides.cancelled", HandlerFunc(func(_ context.Context, _ *sarama.ConsumerMessage) error {
		cancelled++
		return nil
	}))

	topics := mux.Topics()
	if len(topics) != 2 || topics[0] != "rides.cancelled" || topics[1] != "rides.completed" {
		t.Fatalf("unexpected topics %v", topics)
	}

	msgs := []*sarama.ConsumerMessage{
		{Topic: "rides.completed", Value: []byte("{}")},
		{Topic: "rides.cancelled", Value: []byte("{}")},
		{Topic: "rides.completed", Value: []byte("{}")},
	}
	for _, msg := range msgs {
		if err := mux.HandleMessage(context.Background(), msg); err != nil {
			t.Fatalf("handle %s: %v", msg.Topic, err)
		}
	}
	if completed != 2 || cancelled != 1 {
		t.Fatalf("unexpected routing: completed=%d cancelled=%d", completed, cancelled)
	}
}

func TestTopicMuxDropsUnregisteredTopic(t *testing.T) {
	mux := NewTopicMux()
	mux.Handle("rides.completed", HandlerFunc(func(_ context.Context, _ *sarama.ConsumerMessage) error {
		t.Fatal("handler must not run for a foreign topic")
		return nil
	}))

	msg := &sarama.ConsumerMessage{Topic: "payments.settled", Value: []byte("{}")}
	if err := mux.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("foreign topics are dropped, got %v", err)
	}
}

func TestPeekEventID(t *testing.T) {
	id := peekEventID([]byte(`{"event_id":"evt-1","event_type":"ride.completed"}`))
	if id != "evt-1" {
		t.Fatalf("expected evt-1, got %q", id)
	}
	if got := peekEventID([]byte("{not json")); got != "" {
		t.Fatalf("malformed payload must yield an empty id, got %q", got)
	}
}
