// Package geo provides pure geometry helpers over geographic coordinates:
// bounding boxes, path lengths, and point-on-path containment for survey
// routes. All functions are stateless and perform no I/O.
package geo

import (
	"math"

	"github.com/twpayne/go-geom"
)

// earthRadiusM is the mean Earth radius in meters.
const earthRadiusM = 6_371_000

// BBox is a geographic bounding box in lng/lat degrees.
type BBox struct {
	MinLng float64 `json:"min_lng"`
	MinLat float64 `json:"min_lat"`
	MaxLng float64 `json:"max_lng"`
	MaxLat float64 `json:"max_lat"`
}

// Contains reports whether the point (lng, lat) lies inside the box,
// boundaries included.
func (b BBox) Contains(lng, lat float64) bool {
	return lng >= b.MinLng && lng <= b.MaxLng && lat >= b.MinLat && lat <= b.MaxLat
}

// Haversine returns the great-circle distance in meters between two
// lng/lat points.
func Haversine(lng1, lat1, lng2, lat2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLam := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLam/2)*math.Sin(dLam/2)
	return 2 * earthRadiusM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// PathBounds computes the bounding box of a route. Returns the zero box
// for an empty path.
func PathBounds(path []geom.Coord) BBox {
	if len(path) == 0 {
		return BBox{}
	}
	b := BBox{
		MinLng: path[0][0], MaxLng: path[0][0],
		MinLat: path[0][1], MaxLat: path[0][1],
	}
	for _, c := range path[1:] {
		b.MinLng = math.Min(b.MinLng, c[0])
		b.MaxLng = math.Max(b.MaxLng, c[0])
		b.MinLat = math.Min(b.MinLat, c[1])
		b.MaxLat = math.Max(b.MaxLat, c[1])
	}
	return b
}

// PathLengthMeters returns the great-circle length of a route, summed
// segment by segment. Paths with fewer than two points have zero length.
func PathLengthMeters(path []geom.Coord) float64 {
	var total float64
	for i := 1; i < len(path); i++ {
		total += Haversine(path[i-1][0], path[i-1][1], path[i][0], path[i][1])
	}
	return total
}

// LineLengthMeters returns the great-circle length of a go-geom
// LineString.
func LineLengthMeters(ls *geom.LineString) float64 {
	if ls == nil {
		return 0
	}
	return PathLengthMeters(ls.Coords())
}

// MultiLineLengthMeters returns the total great-circle length of a
// go-geom MultiLineString.
func MultiLineLengthMeters(mls *geom.MultiLineString) float64 {
	if mls == nil {
		return 0
	}
	var total float64
	for i := 0; i < mls.NumLineStrings(); i++ {
		total += LineLengthMeters(mls.LineString(i))
	}
	return total
}

// PointOnPath reports whether the point (lng, lat) lies within toleranceM
// meters of any segment of the route.
func PointOnPath(path []geom.Coord, lng, lat, toleranceM float64) bool {
	if len(path) == 0 {
		return false
	}
	if len(path) == 1 {
		return Haversine(lng, lat, path[0][0], path[0][1]) <= toleranceM
	}
	for i := 1; i < len(path); i++ {
		d := distanceToSegmentM(lng, lat, path[i-1], path[i])
		if d <= toleranceM {
			return true
		}
	}
	return false
}

// distanceToSegmentM approximates the distance in meters from a point to
// a great-circle segment by projecting in a local equirectangular plane
// centered on the segment. Accurate to well under a meter at the segment
// lengths surveys produce.
func distanceToSegmentM(lng, lat float64, a, b geom.Coord) float64 {
	cosLat := math.Cos(lat * math.Pi / 180)

	ax := (a[0] - lng) * cosLat
	ay := a[1] - lat
	bx := (b[0] - lng) * cosLat
	by := b[1] - lat

	dx := bx - ax
	dy := by - ay

	t := 0.0
	if l2 := dx*dx + dy*dy; l2 > 0 {
		t = -(ax*dx + ay*dy) / l2
		t = math.Max(0, math.Min(1, t))
	}

	px := ax + t*dx
	py := ay + t*dy

	degM := earthRadiusM * math.Pi / 180
	return math.Hypot(px, py) * degM
}
