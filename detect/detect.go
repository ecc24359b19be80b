package detect

import (
	"math"

	"gocv.io/x/gocv"
)

// Quad is a marker's 4-corner quadrilateral in image-pixel coordinates.
// Corner order follows the OpenCV ArUco convention: top-left, top-right,
// bottom-right, bottom-left.
type Quad [4]gocv.Point2f

// Finite reports whether every coordinate is a finite number.
func (q Quad) Finite() bool {
	for _, p := range q {
		for _, v := range []float64{float64(p.X), float64(p.Y)} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// InBounds reports whether every corner lies within [0,width) x [0,height).
func (q Quad) InBounds(width, height int) bool {
	for _, p := range q {
		if p.X < 0 || p.Y < 0 || p.X >= float32(width) || p.Y >= float32(height) {
			return false
		}
	}
	return true
}

// Center returns the centroid of the quad.
func (q Quad) Center() gocv.Point2f {
	var sx, sy float32
	for _, p := range q {
		sx += p.X
		sy += p.Y
	}
	return gocv.Point2f{X: sx / 4, Y: sy / 4}
}

// Bounds returns the integer bounding box min/max of the quad, expanded by
// expand pixels on each side. Callers clip to frame dimensions themselves.
func (q Quad) Bounds(expand int) (xMin, yMin, xMax, yMax int) {
	xMin, yMin = math.MaxInt32, math.MaxInt32
	xMax, yMax = math.MinInt32, math.MinInt32
	for _, p := range q {
		if v := int(math.Floor(float64(p.X))); v < xMin {
			xMin = v
		}
		if v := int(math.Ceil(float64(p.X))); v > xMax {
			xMax = v
		}
		if v := int(math.Floor(float64(p.Y))); v < yMin {
			yMin = v
		}
		if v := int(math.Ceil(float64(p.Y))); v > yMax {
			yMax = v
		}
	}
	return xMin - expand, yMin - expand, xMax + expand, yMax + expand
}

// Detector locates fiducial markers in a frame and decodes their identities.
// Implementations return a mapping from marker id to corner quad for every
// marker found in the given grayscale (or color) image.
type Detector interface {
	Detect(img gocv.Mat) (map[int]Quad, error)
	Close() error
}
