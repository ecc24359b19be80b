package recovery

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"

	"markercam/detect"
)

const (
	// Pyramidal LK parameters, fixed to the values the system was tuned with.
	flowWindow = 21
	flowLevels = 3

	// trackErrorNorm scales the mean LK residual into [0,1] match quality.
	trackErrorNorm = 32.0
)

// MotionTracker propagates a marker's corners forward one frame using
// pyramidal Lucas-Kanade optical flow inside a region of interest around the
// last known position. It is the cheap continuity path for brief occlusions;
// all four corners must track cleanly or the whole attempt is rejected.
type MotionTracker struct {
	roiExpand int
	refine    bool
}

// NewMotionTracker builds a motion tracker from config.
func NewMotionTracker(cfg Config) *MotionTracker {
	return &MotionTracker{
		roiExpand: cfg.ROIExpandPx,
		refine:    cfg.CornerRefine,
	}
}

// Track propagates last from prevGray to currGray. Returns the tracked quad,
// a match quality in [0,1], and whether tracking succeeded. Any failed
// corner status or out-of-bounds result is a hard reject.
func (mt *MotionTracker) Track(prevGray, currGray gocv.Mat, last detect.Quad) (detect.Quad, float64, bool) {
	width := currGray.Cols()
	height := currGray.Rows()
	if prevGray.Cols() != width || prevGray.Rows() != height {
		debugMsg("MOTION", "frame geometry changed since last sighting, can't track")
		return detect.Quad{}, 0, false
	}

	rect, ok := clipROI(last, mt.roiExpand, width, height)
	if !ok {
		return detect.Quad{}, 0, false
	}

	prevROI := prevGray.Region(rect)
	defer prevROI.Close()
	currROI := currGray.Region(rect)
	defer currROI.Close()

	prevPts := quadToPointMat(last, float32(rect.Min.X), float32(rect.Min.Y))
	defer prevPts.Close()
	nextPts := gocv.NewMat()
	defer nextPts.Close()
	status := gocv.NewMat()
	defer status.Close()
	flowErr := gocv.NewMat()
	defer flowErr.Close()

	criteria := gocv.NewTermCriteria(gocv.MaxIter|gocv.EPS, 30, 0.01)
	gocv.CalcOpticalFlowPyrLKWithParams(prevROI, currROI, prevPts, nextPts,
		&status, &flowErr, image.Pt(flowWindow, flowWindow), flowLevels, criteria, 0, 1e-4)

	if nextPts.Rows() < 4 || status.Rows() < 4 {
		return detect.Quad{}, 0, false
	}
	for i := 0; i < 4; i++ {
		if status.GetUCharAt(i, 0) == 0 {
			debugMsg("MOTION", fmt.Sprintf("corner %d lost during flow tracking", i))
			return detect.Quad{}, 0, false
		}
	}

	tracked := pointMatToQuad(nextPts, float32(rect.Min.X), float32(rect.Min.Y))
	if !tracked.Finite() || !tracked.InBounds(width, height) {
		return detect.Quad{}, 0, false
	}

	if mt.refine {
		tracked = refineSubPix(currGray, tracked)
	}

	return tracked, flowQuality(flowErr), true
}

// flowQuality converts per-corner LK residuals into 1 - normalized mean
// error, clamped to [0,1].
func flowQuality(flowErr gocv.Mat) float64 {
	if flowErr.Rows() < 4 {
		return 0
	}
	residuals := make([]float64, 4)
	for i := 0; i < 4; i++ {
		residuals[i] = float64(flowErr.GetFloatAt(i, 0))
	}
	q := 1.0 - stat.Mean(residuals, nil)/trackErrorNorm
	if q < 0 {
		return 0
	}
	if q > 1 {
		return 1
	}
	return q
}
