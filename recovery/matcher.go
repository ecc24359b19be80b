package recovery

import (
	"fmt"

	"gocv.io/x/gocv"

	"markercam/detect"
)

// ransacReprojPx is the fixed RANSAC reprojection threshold for homography
// fitting, in pixels.
const ransacReprojPx = 5.0

// ReacquireResult is the outcome of a successful template re-acquisition.
type ReacquireResult struct {
	Corners      detect.Quad
	Inliers      int
	ValidMatches int
	Quality      float64
	Homography   Homography
}

// TemplateMatcher re-derives a marker's corners from scratch by matching its
// cached template features against features extracted from the live frame,
// then fitting a homography. This is the expensive path; the orchestrator
// rate-limits calls into it.
type TemplateMatcher struct {
	store      *Store
	provider   FeatureProvider
	minInliers int
	roiExpand  int
	preferROI  bool
	refine     bool
}

// NewTemplateMatcher builds a matcher over the given template store and
// feature provider.
func NewTemplateMatcher(cfg Config, store *Store, provider FeatureProvider) *TemplateMatcher {
	return &TemplateMatcher{
		store:      store,
		provider:   provider,
		minInliers: cfg.MinInliers,
		// Re-acquisition searches a wider region than flow tracking since
		// the marker may have moved while it was lost.
		roiExpand: cfg.ROIExpandPx * 3,
		preferROI: cfg.PreferROIMatching,
		refine:    cfg.CornerRefine,
	}
}

// HasTemplate reports whether a template was loaded for the marker.
func (tm *TemplateMatcher) HasTemplate(id int) bool {
	return tm.store.Has(id)
}

// Reacquire attempts to locate marker id in gray. When last is non-nil and
// ROI matching is preferred, the search is restricted to a region around the
// last known position; otherwise the full frame is searched.
func (tm *TemplateMatcher) Reacquire(id int, gray gocv.Mat, last *detect.Quad) (ReacquireResult, bool) {
	tpl := tm.store.Get(id)
	if tpl == nil {
		return ReacquireResult{}, false
	}

	width := gray.Cols()
	height := gray.Rows()

	search := gray
	var offsetX, offsetY float32
	if tm.preferROI && last != nil {
		if rect, ok := clipROI(*last, tm.roiExpand, width, height); ok {
			region := gray.Region(rect)
			defer region.Close()
			search = region
			offsetX = float32(rect.Min.X)
			offsetY = float32(rect.Min.Y)
			debugMsg("REACQUIRE", fmt.Sprintf("marker %d: searching ROI (%d,%d)-(%d,%d)",
				id, rect.Min.X, rect.Min.Y, rect.Max.X, rect.Max.Y))
		}
	}

	frameKpts, frameDesc, err := tm.provider.ExtractFeatures(search)
	if err != nil {
		debugMsg("REACQUIRE", fmt.Sprintf("marker %d: frame feature extraction failed: %v", id, err))
		return ReacquireResult{}, false
	}
	defer frameDesc.Close()

	matches, err := tm.provider.MatchDescriptors(tpl.Descriptors, frameDesc)
	if err != nil {
		return ReacquireResult{}, false
	}
	if len(matches) < tm.minInliers {
		debugMsg("REACQUIRE", fmt.Sprintf("marker %d: insufficient matches (%d)", id, len(matches)))
		return ReacquireResult{}, false
	}

	srcPts := gocv.NewMatWithSize(len(matches), 2, gocv.MatTypeCV32F)
	defer srcPts.Close()
	dstPts := gocv.NewMatWithSize(len(matches), 2, gocv.MatTypeCV32F)
	defer dstPts.Close()
	for i, m := range matches {
		if m.QueryIdx >= len(tpl.Keypoints) || m.TrainIdx >= len(frameKpts) {
			return ReacquireResult{}, false
		}
		tk := tpl.Keypoints[m.QueryIdx]
		fk := frameKpts[m.TrainIdx]
		srcPts.SetFloatAt(i, 0, float32(tk.X))
		srcPts.SetFloatAt(i, 1, float32(tk.Y))
		dstPts.SetFloatAt(i, 0, float32(fk.X))
		dstPts.SetFloatAt(i, 1, float32(fk.Y))
	}

	mask := gocv.NewMat()
	defer mask.Close()
	h := gocv.FindHomography(srcPts, &dstPts, gocv.HomograpyMethodRANSAC, ransacReprojPx, &mask, 2000, 0.995)
	defer h.Close()
	if h.Empty() {
		debugMsg("REACQUIRE", fmt.Sprintf("marker %d: homography fit failed", id))
		return ReacquireResult{}, false
	}

	inliers := gocv.CountNonZero(mask)
	if inliers < tm.minInliers {
		debugMsg("REACQUIRE", fmt.Sprintf("marker %d: insufficient inliers (%d)", id, inliers))
		return ReacquireResult{}, false
	}

	corners, ok := projectQuad(tpl.Corners, h, offsetX, offsetY)
	if !ok || !corners.Finite() || !corners.InBounds(width, height) {
		debugMsg("REACQUIRE", fmt.Sprintf("marker %d: projected corners out of bounds", id))
		return ReacquireResult{}, false
	}

	if tm.refine {
		corners = refineSubPix(gray, corners)
	}

	return ReacquireResult{
		Corners:      corners,
		Inliers:      inliers,
		ValidMatches: len(matches),
		Quality:      float64(inliers) / float64(len(matches)),
		Homography:   homographyFromMat(h),
	}, true
}

// projectQuad maps template-space corners through h into search-region
// coordinates and translates them back to full-frame coordinates.
func projectQuad(q detect.Quad, h gocv.Mat, offsetX, offsetY float32) (detect.Quad, bool) {
	src := quadToPointMat(q, 0, 0)
	defer src.Close()
	// perspectiveTransform wants 2-channel point data.
	srcC2 := src.Reshape(2, 4)
	defer srcC2.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.PerspectiveTransform(srcC2, &dst, h)
	if dst.Rows() < 4 {
		return detect.Quad{}, false
	}

	var out detect.Quad
	for i := 0; i < 4; i++ {
		v := dst.GetVecfAt(i, 0)
		if len(v) < 2 {
			return detect.Quad{}, false
		}
		out[i] = gocv.Point2f{X: v[0] + offsetX, Y: v[1] + offsetY}
	}
	return out, true
}

// homographyFromMat copies a 3x3 CV64F Mat into a plain value type so the
// attempt record doesn't hold OpenCV memory.
func homographyFromMat(h gocv.Mat) Homography {
	var out Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r][c] = h.GetDoubleAt(r, c)
		}
	}
	return out
}
