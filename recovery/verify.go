package recovery

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"markercam/detect"
)

// verifyPatchSize is the side length of the canonical patch a candidate quad
// is warped into before re-decoding. verifyPatchMargin keeps a quiet zone
// around the warped marker; the ArUco detector rejects markers that touch
// the image border.
const (
	verifyPatchSize   = 200
	verifyPatchMargin = 25
)

// Verifier confirms a recovered quad actually encodes the expected marker
// identity. Both optical-flow drift and homography mis-fits can produce a
// plausible-looking but wrong quad; re-decoding the warped patch is the
// cheapest reliable cross-check.
type Verifier struct {
	enabled  bool
	detector detect.Detector
}

// NewVerifier builds a verifier. When verification is disabled in config or
// no detector is available, Verify accepts every candidate.
func NewVerifier(cfg Config, detector detect.Detector) *Verifier {
	enabled := cfg.VerifyID && detector != nil
	if cfg.VerifyID && detector == nil {
		debugMsg("VERIFY", "no verification detector available, identity checks disabled")
	}
	return &Verifier{enabled: enabled, detector: detector}
}

// Enabled reports whether identity checks actually run.
func (v *Verifier) Enabled() bool {
	return v.enabled
}

// Verify warps the candidate quad to a canonical square and re-runs marker
// detection on the patch. Any decode failure or identity mismatch is a
// rejection, never an error.
func (v *Verifier) Verify(gray gocv.Mat, q detect.Quad, expectedID int) bool {
	if !v.enabled {
		return true
	}

	const lo = verifyPatchMargin
	const hi = verifyPatchSize - 1 - verifyPatchMargin
	src := gocv.NewPoint2fVectorFromPoints(q[:])
	defer src.Close()
	dst := gocv.NewPoint2fVectorFromPoints([]gocv.Point2f{
		{X: lo, Y: lo},
		{X: hi, Y: lo},
		{X: hi, Y: hi},
		{X: lo, Y: hi},
	})
	defer dst.Close()

	transform := gocv.GetPerspectiveTransform2f(src, dst)
	defer transform.Close()

	warped := gocv.NewMat()
	defer warped.Close()
	gocv.WarpPerspectiveWithParams(gray, &warped, transform,
		image.Pt(verifyPatchSize, verifyPatchSize),
		gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{255, 255, 255, 0})

	found, err := v.detector.Detect(warped)
	if err != nil {
		debugMsg("VERIFY", fmt.Sprintf("marker %d: decode on warped patch failed: %v", expectedID, err))
		return false
	}
	if _, ok := found[expectedID]; !ok {
		debugMsg("VERIFY", fmt.Sprintf("marker %d: warped patch decoded to %v", expectedID, keysOf(found)))
		return false
	}
	return true
}

func keysOf(m map[int]detect.Quad) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return ids
}
