package fraud

import (
	"testing"

	"github.com/campuskit/checkpoint/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestScorer_CleanScanScoresZero(t *testing.T) {
	s := NewScorer(DefaultConfig())

	assert.Equal(t, 0, s.Score(Signals{}))
}

func TestScorer_SingleViolations(t *testing.T) {
	s := NewScorer(DefaultConfig())

	assert.Equal(t, 50, s.Score(Signals{LocationViolation: true}))
	assert.Equal(t, 30, s.Score(Signals{DeviceViolation: true}))
	assert.Equal(t, 40, s.Score(Signals{TimingViolation: true}))
}

func TestScorer_ViolationsStrictlyIncreaseScore(t *testing.T) {
	s := NewScorer(DefaultConfig())

	base := s.Score(Signals{DeviceViolation: true})
	withLocation := s.Score(Signals{DeviceViolation: true, LocationViolation: true})
	withAll := s.Score(Signals{DeviceViolation: true, LocationViolation: true, TimingViolation: true})

	assert.Greater(t, withLocation, base)
	assert.GreaterOrEqual(t, withAll, withLocation)
}

func TestScorer_ClampedAt100(t *testing.T) {
	s := NewScorer(DefaultConfig())

	score := s.Score(Signals{
		LocationViolation: true,
		DeviceViolation:   true,
		TimingViolation:   true,
		PhotoMismatch:     true,
		BehaviorScore:     1.0,
		NetworkScore:      1.0,
	})

	assert.Equal(t, 100, score)
}

func TestScorer_AllThreeViolationsAreCritical(t *testing.T) {
	s := NewScorer(DefaultConfig())

	score := s.Score(Signals{
		LocationViolation: true,
		DeviceViolation:   true,
		TimingViolation:   true,
	})

	assert.GreaterOrEqual(t, score, 90)
	assert.Equal(t, models.SeverityCritical, s.SeverityFor(score))
}

func TestScorer_SeverityBands(t *testing.T) {
	s := NewScorer(DefaultConfig())

	assert.Equal(t, models.SeverityLow, s.SeverityFor(10))
	assert.Equal(t, models.SeverityMedium, s.SeverityFor(40))
	assert.Equal(t, models.SeverityHigh, s.SeverityFor(70))
	assert.Equal(t, models.SeverityCritical, s.SeverityFor(95))
}

func TestScorer_AlertThreshold(t *testing.T) {
	s := NewScorer(DefaultConfig())

	assert.False(t, s.Alertable(70))
	assert.True(t, s.Alertable(71))
}

func TestScorer_BehavioralInputsAreBounded(t *testing.T) {
	s := NewScorer(DefaultConfig())

	// Out-of-range telemetry must clamp, not explode the score.
	score := s.Score(Signals{BehaviorScore: 17.0, NetworkScore: -3.0})

	assert.LessOrEqual(t, score, 20)
	assert.GreaterOrEqual(t, score, 0)
}

func TestDominantType(t *testing.T) {
	assert.Equal(t, models.AlertLocation, DominantType(Signals{LocationViolation: true, DeviceViolation: true}))
	assert.Equal(t, models.AlertDevice, DominantType(Signals{DeviceViolation: true}))
	assert.Equal(t, models.AlertNetwork, DominantType(Signals{NetworkScore: 0.9}))
}
