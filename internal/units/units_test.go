package units

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetersPerDegreeLon(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, MetersPerDegreeLat, MetersPerDegreeLon(0), 1e-9)
	assert.InDelta(t, MetersPerDegreeLat*math.Cos(60*math.Pi/180), MetersPerDegreeLon(60), 1e-6)
	// Longitude degrees collapse toward the poles.
	assert.InDelta(t, 0, MetersPerDegreeLon(90), 1e-6)
}

func TestDegreeMeterRoundTrip(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1000.0, DegreesLatForMeters(1000)*MetersPerDegreeLat, 1e-9)

	lat := 47.6
	deg := DegreesLonForMeters(2500, lat)
	assert.InDelta(t, 2500.0, deg*MetersPerDegreeLon(lat), 1e-6)
	// The same east-west distance spans more degrees at higher latitude.
	assert.Greater(t, DegreesLonForMeters(2500, 60), deg)
}

func TestPixelSizeMeters(t *testing.T) {
	t.Parallel()

	x, y := PixelSizeMeters(0.001, 0.001, 0)
	assert.InDelta(t, 111.32, x, 1e-9)
	assert.InDelta(t, 111.32, y, 1e-9)

	x, _ = PixelSizeMeters(0.001, 0.001, 60)
	assert.InDelta(t, 111.32*math.Cos(60*math.Pi/180), x, 1e-6)
}

func TestBufferBox(t *testing.T) {
	t.Parallel()

	minLon, minLat, maxLon, maxLat := BufferBox(47.6, -122.3, 1)

	assert.Less(t, minLat, 47.6)
	assert.Greater(t, maxLat, 47.6)
	assert.InDelta(t, 47.6, (minLat+maxLat)/2, 1e-12)
	assert.InDelta(t, -122.3, (minLon+maxLon)/2, 1e-12)

	// 1 km of latitude either side.
	assert.InDelta(t, 2000.0, (maxLat-minLat)*MetersPerDegreeLat, 1e-6)
	// The lon span covers the same ground distance at this latitude.
	assert.InDelta(t, 2000.0, (maxLon-minLon)*MetersPerDegreeLon(47.6), 1e-6)
}
