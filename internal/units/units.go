// Package units provides shared geodesy conversions between geographic
// degrees and ground metres. Elevation grids are stored in EPSG:4326, so
// horizontal pixel sizes are in degrees and must be scaled to metres before
// any gradient computation.
package units

import "math"

// MetersPerDegreeLat is the approximate ground distance of one degree of
// latitude. Latitude spacing varies by under 1% pole to equator, which is
// well inside the tolerance of the terrain products computed here.
const MetersPerDegreeLat = 111320.0

// EarthRadiusM is the WGS84 mean earth radius.
const EarthRadiusM = 6371008.8

// MetersPerDegreeLon returns the ground distance of one degree of longitude
// at the given latitude.
func MetersPerDegreeLon(latDeg float64) float64 {
	return MetersPerDegreeLat * math.Cos(latDeg*math.Pi/180)
}

// DegreesLatForMeters converts a north-south ground distance to degrees.
func DegreesLatForMeters(meters float64) float64 {
	return meters / MetersPerDegreeLat
}

// DegreesLonForMeters converts an east-west ground distance to degrees at
// the given latitude.
func DegreesLonForMeters(meters, latDeg float64) float64 {
	return meters / MetersPerDegreeLon(latDeg)
}

// PixelSizeMeters converts a geographic pixel size (degrees) to ground
// metres (x, y) at the given latitude.
func PixelSizeMeters(pixelDegX, pixelDegY, latDeg float64) (float64, float64) {
	return pixelDegX * MetersPerDegreeLon(latDeg), pixelDegY * MetersPerDegreeLat
}

// BufferBox expands the point (latDeg, lonDeg) by bufferKm in every
// direction and returns the resulting degree bounds (minLon, minLat,
// maxLon, maxLat).
func BufferBox(latDeg, lonDeg, bufferKm float64) (minLon, minLat, maxLon, maxLat float64) {
	dLat := DegreesLatForMeters(bufferKm * 1000)
	dLon := DegreesLonForMeters(bufferKm*1000, latDeg)
	return lonDeg - dLon, latDeg - dLat, lonDeg + dLon, latDeg + dLat
}
