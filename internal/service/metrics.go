package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	LedgerWritesTotal      *prometheus.CounterVec
	WalletAdjustmentsTotal *prometheus.CounterVec
	AdjustmentDuration     *prometheus.HistogramVec
	AuditWritesTotal       *prometheus.CounterVec
	RideSettlementsTotal   *prometheus.CounterVec
	ReconciliationsTotal   *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		LedgerWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fincore_ledger_writes_total",
				Help: "Total double-entry transactions recorded.",
			},
			[]string{"status"},
		),
		WalletAdjustmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fincore_wallet_adjustments_total",
				Help: "Total wallet adjustments processed.",
			},
			[]string{"direction", "status"},
		),
		AdjustmentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fincore_wallet_adjustment_duration_seconds",
				Help:    "Wallet adjustment duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"direction"},
		),
		AuditWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fincore_audit_writes_total",
				Help: "Total audit log append attempts.",
			},
			[]string{"status"},
		),
		RideSettlementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fincore_ride_settlements_total",
				Help: "Total ride commission settlements.",
			},
			[]string{"status"},
		),
		ReconciliationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fincore_wallet_reconciliations_total",
				Help: "Total wallet-vs-ledger reconciliation checks.",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		m.LedgerWritesTotal,
		m.WalletAdjustmentsTotal,
		m.AdjustmentDuration,
		m.AuditWritesTotal,
		m.RideSettlementsTotal,
		m.ReconciliationsTotal,
	)
	return m
}
