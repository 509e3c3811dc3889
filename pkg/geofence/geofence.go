package geofence

import "math"

// earthRadiusMeters is the mean Earth radius used by the haversine formula.
const earthRadiusMeters = 6371000.0

// DistanceMeters calculates the great-circle distance between two points
// given in decimal degrees, using the haversine formula.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// WithinRadius checks if a worker's position falls within radiusMeters of the
// target coordinate. The boundary is inclusive: a point at exactly the radius
// counts as inside.
func WithinRadius(workerLat, workerLon, targetLat, targetLon, radiusMeters float64) bool {
	return DistanceMeters(workerLat, workerLon, targetLat, targetLon) <= radiusMeters
}
