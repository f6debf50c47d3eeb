package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/swiftride/fincore/internal/risk"
	"github.com/swiftride/fincore/internal/storage"
	"log/slog"
)

type RiskStore interface {
	GetDriverProfile(ctx context.Context, driverID uuid.UUID) (*storage.DriverProfile, error)
	GetDriverMetrics(ctx context.Context, driverID uuid.UUID) (*storage.DriverMetrics, error)
}

// RiskService scores drivers from their stored signals and, on request,
// runs the automation rules against the result.
type RiskService struct {
	store      RiskStore
	automation *risk.Engine
	logger     *slog.Logger
}

func NewRiskService(store RiskStore, automation *risk.Engine, logger *slog.Logger) *RiskService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RiskService{store: store, automation: automation, logger: logger}
}

func (s *RiskService) Score(ctx context.Context, driverID uuid.UUID) (*risk.Analysis, error) {
	profile, err := s.store.GetDriverProfile(ctx, driverID)
	if err != nil {
		return nil, err
	}
	metrics, err := s.store.GetDriverMetrics(ctx, driverID)
	if err != nil {
		return nil, err
	}

	analysis := risk.ScoreDriver(risk.DriverSignals{
		Rating:      profile.Rating,
		Suspended:   profile.Status == DriverStatusSuspended,
		CancelRate:  metrics.CancelRate(),
		ReportCount: metrics.ReportCount,
	})
	return &analysis, nil
}

type EvaluationResult struct {
	Analysis    risk.Analysis
	ActionTaken bool
}

// Evaluate scores the driver and then applies the automation rules. Rule
// failures surface to the caller; a clean run with no rule firing is not
// an error.
func (s *RiskService) Evaluate(ctx context.Context, driverID uuid.UUID) (*EvaluationResult, error) {
	analysis, err := s.Score(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if s.automation == nil {
		return &EvaluationResult{Analysis: *analysis}, nil
	}
	taken, err := s.automation.Evaluate(ctx, driverID, *analysis)
	if err != nil {
		return nil, err
	}
	return &EvaluationResult{Analysis: *analysis, ActionTaken: taken}, nil
}
