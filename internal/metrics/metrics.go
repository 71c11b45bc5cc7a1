// Package metrics exposes prometheus collectors for the verification
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScansTotal counts verification attempts by final outcome.
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkpoint_scans_total",
		Help: "Verification pipeline attempts by outcome.",
	}, []string{"outcome"})

	// StepFailures counts which pipeline step rejected an attempt.
	StepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkpoint_step_failures_total",
		Help: "Pipeline step failures by step.",
	}, []string{"step"})

	// FraudAlerts counts raised alerts by severity.
	FraudAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkpoint_fraud_alerts_total",
		Help: "Fraud alerts raised by severity.",
	}, []string{"severity"})

	// WSConnections tracks live websocket connections.
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkpoint_ws_connections",
		Help: "Current websocket connections.",
	})

	// NotificationRetries counts outbound notification delivery retries.
	NotificationRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkpoint_notification_retries_total",
		Help: "Outbound notification delivery retries.",
	})
)
