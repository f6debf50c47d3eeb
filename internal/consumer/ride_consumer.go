package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/swiftride/fincore/internal/events"
	"github.com/swiftride/fincore/internal/service"
	"github.com/swiftride/fincore/internal/storage"
	"log/slog"
)

type RideCompletedEvent struct {
	events.Envelope
	RideID   string          `json:"ride_id"`
	DriverID string          `json:"driver_id"`
	UserID   string          `json:"user_id"`
	Fare     decimal.Decimal `json:"fare"`
}

type RideCancelledEvent struct {
	events.Envelope
	RideID      string `json:"ride_id"`
	DriverID    string `json:"driver_id"`
	CancelledBy string `json:"cancelled_by"`
}

type Settler interface {
	SettleRide(ctx context.Context, input service.RideSettlementInput) (*service.RideSettlementResult, error)
}

type RideMetricsStore interface {
	RecordRideOutcome(ctx context.Context, driverID uuid.UUID, completed bool) error
}

type RiskEvaluator interface {
	Evaluate(ctx context.Context, driverID uuid.UUID) (*service.EvaluationResult, error)
}

// RideHandler consumes ride lifecycle events. Completed rides settle the
// platform commission and bump the driver's counters; cancelled rides bump
// the counters and re-run the risk evaluation so a cancellation spike is
// caught as it happens.
type RideHandler struct {
	completedTopic string
	cancelledTopic string
	settler        Settler
	metrics        RideMetricsStore
	risk           RiskEvaluator
	dlq            *events.DLQPublisher
	logger         *slog.Logger
}

func NewRideHandler(completedTopic, cancelledTopic string, settler Settler, metrics RideMetricsStore, risk RiskEvaluator, dlq *events.DLQPublisher, logger *slog.Logger) *RideHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RideHandler{
		completedTopic: completedTopic,
		cancelledTopic: cancelledTopic,
		settler:        settler,
		metrics:        metrics,
		risk:           risk,
		dlq:            dlq,
		logger:         logger,
	}
}

// Register wires both ride topics into the mux.
func (h *RideHandler) Register(mux *events.TopicMux) {
	mux.Handle(h.completedTopic, h.guard(h.handleCompleted))
	mux.Handle(h.cancelledTopic, h.guard(h.handleCancelled))
}

// guard wraps a payload handler with the dead-letter policy: a failed
// record is parked so the partition keeps moving, and only when parking
// itself fails does the error surface for redelivery.
func (h *RideHandler) guard(fn func(context.Context, []byte) error) events.MessageHandler {
	return events.HandlerFunc(func(ctx context.Context, msg *sarama.ConsumerMessage) error {
		err := fn(ctx, msg.Value)
		if err == nil {
			return nil
		}
		if h.dlq != nil {
			if dlqErr := h.dlq.ParkMessage(ctx, msg, err); dlqErr != nil {
				h.logger.Error("dead-letter publish failed", "topic", msg.Topic, "error", dlqErr)
				return err
			}
			h.logger.Error("message parked in dead-letter queue", "topic", msg.Topic, "error", err)
			return nil
		}
		return err
	})
}

func (h *RideHandler) handleCompleted(ctx context.Context, payload []byte) error {
	var event RideCompletedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("decode ride.completed: %w", err)
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid ride.completed envelope: %w", err)
	}
	driverID, err := uuid.Parse(event.DriverID)
	if err != nil {
		return fmt.Errorf("invalid driver_id %q: %w", event.DriverID, err)
	}

	result, err := h.settler.SettleRide(ctx, service.RideSettlementInput{
		RideID:   event.RideID,
		DriverID: driverID,
		Fare:     event.Fare,
		EventID:  events.DeterministicEventID("ride", event.RideID),
	})
	if err != nil {
		return fmt.Errorf("settle ride %s: %w", event.RideID, err)
	}
	if result.AlreadyProcessed {
		h.logger.Info("ride already settled, skipping", "ride_id", event.RideID)
		return nil
	}

	if err := h.metrics.RecordRideOutcome(ctx, driverID, true); err != nil {
		return fmt.Errorf("record ride outcome: %w", err)
	}
	h.logger.Info("ride settled",
		"ride_id", event.RideID,
		"driver_id", event.DriverID,
		"commission", result.Commission.String(),
	)
	return nil
}

func (h *RideHandler) handleCancelled(ctx context.Context, payload []byte) error {
	var event RideCancelledEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("decode ride.cancelled: %w", err)
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid ride.cancelled envelope: %w", err)
	}
	driverID, err := uuid.Parse(event.DriverID)
	if err != nil {
		return fmt.Errorf("invalid driver_id %q: %w", event.DriverID, err)
	}

	if err := h.metrics.RecordRideOutcome(ctx, driverID, false); err != nil {
		return fmt.Errorf("record ride outcome: %w", err)
	}

	// Cancellations feed the risk score; evaluate immediately so repeat
	// offenders are suspended without waiting for an operator.
	if h.risk != nil {
		evaluation, err := h.risk.Evaluate(ctx, driverID)
		if err != nil {
			if errors.Is(err, storage.ErrDriverNotFound) {
				h.logger.Warn("driver missing during risk evaluation", "driver_id", event.DriverID)
				return nil
			}
			return fmt.Errorf("evaluate driver risk: %w", err)
		}
		if evaluation.ActionTaken {
			h.logger.Warn("automation acted on cancellation",
				"driver_id", event.DriverID,
				"score", evaluation.Analysis.Score,
			)
		}
	}
	return nil
}
