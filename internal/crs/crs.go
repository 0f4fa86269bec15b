// Package crs provides the coordinate reference systems the pipeline
// works in. Everything downstream of boundary resolution is normalized to
// Lambert-93 (EPSG:2154); inputs arrive either already projected or as
// WGS84 longitude/latitude (EPSG:4326).
package crs

import (
	"fmt"
	"math"
)

// SRID identifies a coordinate reference system by EPSG code.
type SRID int

const (
	WGS84     SRID = 4326 // geographic lon/lat, degrees
	Lambert93 SRID = 2154 // RGF93 / Lambert-93, metres — the working CRS
)

func (s SRID) String() string { return fmt.Sprintf("EPSG:%d", int(s)) }

// Working is the CRS every dataset is normalized to before clipping.
const Working = Lambert93

// Bounds is an axis-aligned bounding box in the coordinates of one SRID.
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
}

// Valid reports whether the bounds span a non-degenerate area.
func (b Bounds) Valid() bool { return b.MaxX > b.MinX && b.MaxY > b.MinY }

// Extend grows the bounds to include the point (x, y).
func (b *Bounds) Extend(x, y float64) {
	if b.MinX == 0 && b.MinY == 0 && b.MaxX == 0 && b.MaxY == 0 {
		b.MinX, b.MinY, b.MaxX, b.MaxY = x, y, x, y
		return
	}
	b.MinX = math.Min(b.MinX, x)
	b.MinY = math.Min(b.MinY, y)
	b.MaxX = math.Max(b.MaxX, x)
	b.MaxY = math.Max(b.MaxY, y)
}

// TransformFunc maps a coordinate pair between two systems.
type TransformFunc func(x, y float64) (float64, float64)

// Transform returns the conversion between two supported systems. The
// identity transform is returned when from == to.
func Transform(from, to SRID) (TransformFunc, error) {
	switch {
	case from == to:
		return func(x, y float64) (float64, float64) { return x, y }, nil
	case from == WGS84 && to == Lambert93:
		return ToLambert93, nil
	case from == Lambert93 && to == WGS84:
		return ToWGS84, nil
	default:
		return nil, fmt.Errorf("unsupported transform %s -> %s", from, to)
	}
}

// RGF93 / Lambert-93 projection constants as published by IGN: a Lambert
// conformal conic (2SP) on the GRS80 ellipsoid.
const (
	grs80A    = 6378137.0
	grs80InvF = 298.257222101

	lccLat1    = 44.0  // first standard parallel, degrees
	lccLat2    = 49.0  // second standard parallel, degrees
	lccLat0    = 46.5  // latitude of origin, degrees
	lccLon0    = 3.0   // central meridian, degrees
	lccFalseE  = 700000.0
	lccFalseN  = 6600000.0
)

var (
	grs80E  = math.Sqrt(2/grs80InvF - 1/(grs80InvF*grs80InvF))
	lccN    float64
	lccF    float64
	lccRho0 float64
)

func init() {
	phi1 := lccLat1 * math.Pi / 180
	phi2 := lccLat2 * math.Pi / 180
	phi0 := lccLat0 * math.Pi / 180

	m1 := lccM(phi1)
	m2 := lccM(phi2)
	t0 := lccT(phi0)
	t1 := lccT(phi1)
	t2 := lccT(phi2)

	lccN = (math.Log(m1) - math.Log(m2)) / (math.Log(t1) - math.Log(t2))
	lccF = m1 / (lccN * math.Pow(t1, lccN))
	lccRho0 = grs80A * lccF * math.Pow(t0, lccN)
}

func lccM(phi float64) float64 {
	s := math.Sin(phi)
	return math.Cos(phi) / math.Sqrt(1-grs80E*grs80E*s*s)
}

func lccT(phi float64) float64 {
	s := math.Sin(phi)
	return math.Tan(math.Pi/4-phi/2) /
		math.Pow((1-grs80E*s)/(1+grs80E*s), grs80E/2)
}

// ToLambert93 projects WGS84 lon/lat (degrees) to Lambert-93 (metres).
func ToLambert93(lon, lat float64) (x, y float64) {
	phi := lat * math.Pi / 180
	lam := lon * math.Pi / 180
	lam0 := lccLon0 * math.Pi / 180

	rho := grs80A * lccF * math.Pow(lccT(phi), lccN)
	theta := lccN * (lam - lam0)

	x = lccFalseE + rho*math.Sin(theta)
	y = lccFalseN + lccRho0 - rho*math.Cos(theta)
	return x, y
}

// ToWGS84 unprojects Lambert-93 (metres) to WGS84 lon/lat (degrees).
func ToWGS84(x, y float64) (lon, lat float64) {
	dx := x - lccFalseE
	dy := lccRho0 - (y - lccFalseN)

	rho := math.Hypot(dx, dy)
	if lccN < 0 {
		rho = -rho
	}
	t := math.Pow(rho/(grs80A*lccF), 1/lccN)
	theta := math.Atan2(dx, dy)

	lam0 := lccLon0 * math.Pi / 180
	lam := theta/lccN + lam0

	// Iterate the latitude; converges in a handful of rounds.
	phi := math.Pi/2 - 2*math.Atan(t)
	for i := 0; i < 10; i++ {
		s := math.Sin(phi)
		next := math.Pi/2 - 2*math.Atan(t*math.Pow((1-grs80E*s)/(1+grs80E*s), grs80E/2))
		if math.Abs(next-phi) < 1e-12 {
			phi = next
			break
		}
		phi = next
	}

	return lam * 180 / math.Pi, phi * 180 / math.Pi
}
