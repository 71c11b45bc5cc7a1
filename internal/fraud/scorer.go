// Package fraud computes a 0-100 risk score for one verification attempt
// and bands scores into alert severities.
package fraud

import (
	"github.com/campuskit/checkpoint/internal/models"
)

// Config centralizes every scoring weight and threshold. Penalties apply
// to hard violations; Weights apply to normalized behavioral sub-scores
// and should sum to 1.0.
type Config struct {
	LocationPenalty int
	DevicePenalty   int
	TimingPenalty   int
	PhotoPenalty    int

	BehaviorWeight float64
	NetworkWeight  float64

	AlertThreshold    int
	CriticalThreshold int
	HighThreshold     int
	MediumThreshold   int
}

// DefaultConfig returns the stock scoring policy. Tuning is a deployment
// decision, not a contract.
func DefaultConfig() Config {
	return Config{
		LocationPenalty:   50,
		DevicePenalty:     30,
		TimingPenalty:     40,
		PhotoPenalty:      25,
		BehaviorWeight:    0.6,
		NetworkWeight:     0.4,
		AlertThreshold:    70,
		CriticalThreshold: 90,
		HighThreshold:     70,
		MediumThreshold:   40,
	}
}

// Signals are the per-attempt inputs to the scorer. Boolean fields mark
// hard violations; BehaviorScore and NetworkScore are normalized 0..1
// sub-scores available only when richer telemetry exists.
type Signals struct {
	LocationViolation bool
	DeviceViolation   bool
	TimingViolation   bool
	PhotoMismatch     bool

	BehaviorScore float64
	NetworkScore  float64
}

// Scorer is a pure scoring function plus its policy.
type Scorer struct {
	cfg Config
}

func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score aggregates the weighted contributions, clamped to [0, 100].
func (s *Scorer) Score(sig Signals) int {
	total := 0

	if sig.LocationViolation {
		total += s.cfg.LocationPenalty
	}
	if sig.DeviceViolation {
		total += s.cfg.DevicePenalty
	}
	if sig.TimingViolation {
		total += s.cfg.TimingPenalty
	}
	if sig.PhotoMismatch {
		total += s.cfg.PhotoPenalty
	}

	behavioral := s.cfg.BehaviorWeight*clamp01(sig.BehaviorScore) +
		s.cfg.NetworkWeight*clamp01(sig.NetworkScore)
	total += int(behavioral * 100 * 0.2) // behavioral inputs cap at +20

	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}
	return total
}

// Alertable reports whether a score must raise a FraudAlert.
func (s *Scorer) Alertable(score int) bool {
	return score > s.cfg.AlertThreshold
}

// SeverityFor bands a score into an alert severity.
func (s *Scorer) SeverityFor(score int) models.AlertSeverity {
	switch {
	case score >= s.cfg.CriticalThreshold:
		return models.SeverityCritical
	case score >= s.cfg.HighThreshold:
		return models.SeverityHigh
	case score >= s.cfg.MediumThreshold:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// DominantType picks the alert type for the strongest contributing signal.
func DominantType(sig Signals) models.AlertType {
	switch {
	case sig.LocationViolation:
		return models.AlertLocation
	case sig.TimingViolation:
		return models.AlertBehavior
	case sig.DeviceViolation:
		return models.AlertDevice
	case sig.PhotoMismatch:
		return models.AlertPhoto
	case sig.NetworkScore > sig.BehaviorScore:
		return models.AlertNetwork
	default:
		return models.AlertBehavior
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
