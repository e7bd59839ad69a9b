// Package geo provides spherical geodesy primitives (great-circle
// distance, initial bearing, destination-point plotting) and the lat/lon
// bounding box used by the region model.
package geo

import "math"

// EarthRadius is the mean radius of the Earth in meters, used throughout
// the spherical approximations in this package.
const EarthRadius = 6371000.0

// Location is a WGS84 latitude/longitude pair in decimal degrees.
type Location struct {
	Lat float64
	Lon float64
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180.0 }
func toDegrees(rad float64) float64 { return rad * 180.0 / math.Pi }

// HaversineDistance returns the great-circle distance between two points,
// in meters.
func HaversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dPhi := toRadians(lat2 - lat1)
	dLambda := toRadians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadius * c
}

// Distance returns the great-circle distance between two Locations in
// meters.
func Distance(a, b Location) float64 {
	return HaversineDistance(a.Lat, a.Lon, b.Lat, b.Lon)
}

// InitialBearing returns the initial bearing in degrees (0-360, clockwise
// from true north) for the great-circle path from a to b.
func InitialBearing(a, b Location) float64 {
	phi1 := toRadians(a.Lat)
	phi2 := toRadians(b.Lat)
	dLambda := toRadians(b.Lon - a.Lon)

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	theta := math.Atan2(y, x)

	bearing := math.Mod(toDegrees(theta)+360, 360)
	return bearing
}

// Destination returns the point reached by travelling distanceM meters
// along the given initial bearing (degrees) from start, on the great
// circle.
func Destination(start Location, bearingDeg, distanceM float64) Location {
	delta := distanceM / EarthRadius
	theta := toRadians(bearingDeg)

	phi1 := toRadians(start.Lat)
	lambda1 := toRadians(start.Lon)

	phi2 := math.Asin(math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(theta))
	lambda2 := lambda1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(phi1),
		math.Cos(delta)-math.Sin(phi1)*math.Sin(phi2),
	)

	return Location{Lat: toDegrees(phi2), Lon: normalizeLon(toDegrees(lambda2))}
}

// GreatCirclePath returns n intermediate points (inclusive of the
// endpoints) along the great-circle path between a and b, for plotting.
func GreatCirclePath(a, b Location, n int) []Location {
	if n < 2 {
		n = 2
	}
	dist := Distance(a, b)
	bearing := InitialBearing(a, b)
	if dist == 0 {
		pts := make([]Location, n)
		for i := range pts {
			pts[i] = a
		}
		return pts
	}

	pts := make([]Location, n)
	for i := 0; i < n; i++ {
		frac := float64(i) / float64(n-1)
		pts[i] = Destination(a, bearing, dist*frac)
	}
	return pts
}

// normalizeLon wraps a longitude value back into [-180, 180].
func normalizeLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}

// BoundingBox is an axis-aligned lat/lon box.
type BoundingBox struct {
	North, South, East, West float64
}

// NewBoundingBox returns an empty bounding box ready for Extend calls.
func NewBoundingBox() *BoundingBox {
	return &BoundingBox{
		North: -90, South: 90, East: -180, West: 180,
	}
}

// Extend grows the bounding box to include loc.
func (b *BoundingBox) Extend(loc Location) {
	if loc.Lat > b.North {
		b.North = loc.Lat
	}
	if loc.Lat < b.South {
		b.South = loc.Lat
	}
	if loc.Lon > b.East {
		b.East = loc.Lon
	}
	if loc.Lon < b.West {
		b.West = loc.Lon
	}
}

// Contains reports whether loc falls within the box.
func (b *BoundingBox) Contains(loc Location) bool {
	return loc.Lat >= b.South && loc.Lat <= b.North && loc.Lon >= b.West && loc.Lon <= b.East
}
