package recovery

import (
	"image"

	"gocv.io/x/gocv"

	"markercam/detect"
)

// clipROI expands the quad's bounding box by expand pixels per side and
// clips the result to the frame. Returns false when the clipped region is
// degenerate.
func clipROI(q detect.Quad, expand, width, height int) (image.Rectangle, bool) {
	xMin, yMin, xMax, yMax := q.Bounds(expand)
	if xMin < 0 {
		xMin = 0
	}
	if yMin < 0 {
		yMin = 0
	}
	if xMax > width {
		xMax = width
	}
	if yMax > height {
		yMax = height
	}
	if xMax <= xMin || yMax <= yMin {
		return image.Rectangle{}, false
	}
	return image.Rect(xMin, yMin, xMax, yMax), true
}

// quadToPointMat packs a quad into a 4x2 CV32F Mat, shifted by (-dx, -dy).
// The caller owns the returned Mat.
func quadToPointMat(q detect.Quad, dx, dy float32) gocv.Mat {
	m := gocv.NewMatWithSize(4, 2, gocv.MatTypeCV32F)
	for i, p := range q {
		m.SetFloatAt(i, 0, p.X-dx)
		m.SetFloatAt(i, 1, p.Y-dy)
	}
	return m
}

// pointMatToQuad reads a 4x2 CV32F point Mat back into a quad, shifted by
// (+dx, +dy).
func pointMatToQuad(m gocv.Mat, dx, dy float32) detect.Quad {
	var q detect.Quad
	for i := 0; i < 4; i++ {
		q[i] = gocv.Point2f{
			X: m.GetFloatAt(i, 0) + dx,
			Y: m.GetFloatAt(i, 1) + dy,
		}
	}
	return q
}

// refineSubPix refines a quad to sub-pixel accuracy against gray. Returns
// the input quad unchanged when refinement pushes any corner out of frame.
func refineSubPix(gray gocv.Mat, q detect.Quad) detect.Quad {
	corners := quadToPointMat(q, 0, 0)
	defer corners.Close()

	criteria := gocv.NewTermCriteria(gocv.MaxIter|gocv.EPS, 30, 0.001)
	gocv.CornerSubPix(gray, &corners, image.Pt(5, 5), image.Pt(-1, -1), criteria)

	refined := pointMatToQuad(corners, 0, 0)
	if !refined.Finite() || !refined.InBounds(gray.Cols(), gray.Rows()) {
		return q
	}
	return refined
}
