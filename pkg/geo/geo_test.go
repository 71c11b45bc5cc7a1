package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance_ZeroForSamePoint(t *testing.T) {
	d := Distance(30.0444, 31.2357, 30.0444, 31.2357)
	assert.InDelta(t, 0, d, 0.01)
}

func TestDistance_KnownCityPair(t *testing.T) {
	// Cairo to Alexandria is roughly 180km.
	d := Distance(30.0444, 31.2357, 31.2001, 29.9187)
	assert.InDelta(t, 180000, d, 5000)
}

func TestDistance_SmallOffset(t *testing.T) {
	// ~0.00045 degrees latitude is about 50 meters.
	d := Distance(30.0444, 31.2357, 30.04485, 31.2357)
	assert.InDelta(t, 50, d, 2)
}

func TestFence_ContainsInsideRadius(t *testing.T) {
	fence := Fence{
		Center: Point{Latitude: 30.0444, Longitude: 31.2357},
		Radius: 50,
		Buffer: 50,
	}

	// ~40m north of center.
	result := fence.Contains(Point{Latitude: 30.04476, Longitude: 31.2357})

	assert.True(t, result.Inside)
	assert.InDelta(t, 40, result.Distance, 3)
	assert.Equal(t, 100.0, result.Allowed)
}

func TestFence_ContainsWithinBufferOnly(t *testing.T) {
	fence := Fence{
		Center: Point{Latitude: 30.0444, Longitude: 31.2357},
		Radius: 50,
		Buffer: 50,
	}

	// ~80m out: beyond radius, inside radius+buffer.
	result := fence.Contains(Point{Latitude: 30.04512, Longitude: 31.2357})

	assert.True(t, result.Inside)
	assert.Greater(t, result.Distance, 50.0)
}

func TestFence_RejectsOutsideBuffer(t *testing.T) {
	fence := Fence{
		Center: Point{Latitude: 30.0444, Longitude: 31.2357},
		Radius: 50,
		Buffer: 50,
	}

	// ~150m out.
	result := fence.Contains(Point{Latitude: 30.04575, Longitude: 31.2357})

	assert.False(t, result.Inside)
	assert.InDelta(t, 150, result.Distance, 5)
	assert.Equal(t, 100.0, result.Allowed)
}
