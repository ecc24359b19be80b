package recovery

import (
	"gocv.io/x/gocv"

	"markercam/detect"
)

// Source identifies which path produced a marker's corners this frame.
type Source int

const (
	// SourceNone marks a recovery attempt that produced no accepted corners.
	SourceNone Source = iota
	// SourceDirect means the upstream detector saw the marker live.
	SourceDirect
	// SourceTracked means the corners were propagated by optical flow.
	SourceTracked
	// SourceReacquired means the corners were re-derived from a template.
	SourceReacquired
)

// String returns the telemetry name of the source.
func (s Source) String() string {
	switch s {
	case SourceDirect:
		return "direct"
	case SourceTracked:
		return "tracked"
	case SourceReacquired:
		return "reacquired"
	default:
		return "none"
	}
}

// Homography is a 3x3 projective transform in row-major order.
type Homography [3][3]float64

// Attempt records the outcome for one marker in one frame: one record per
// directly detected marker plus one per attempted recovery. Corners is nil
// when the attempt failed. Transient, rebuilt every frame.
type Attempt struct {
	MarkerID     int
	Source       Source
	Corners      *detect.Quad
	Inliers      int
	MatchQuality float64
	// Homography is set only for reacquired results.
	Homography *Homography
}

// trackerState is the per-marker temporal memory used for motion propagation.
// lastGray is a private snapshot of the grayscale frame in which the marker
// was last seen; it is closed when the state is overwritten or torn down.
type trackerState struct {
	markerID      int
	lastCorners   detect.Quad
	lastSeenFrame int
	lastGray      gocv.Mat
	hasGray       bool
}

// close releases the cached frame snapshot.
func (ts *trackerState) close() {
	if ts.hasGray {
		ts.lastGray.Close()
		ts.hasGray = false
	}
}

// neverSeen is the sentinel last-seen index for markers with no history.
// It sorts after any real frame index and always fails age checks.
const neverSeen = -1 << 30

// Global debug function for the recovery package
var debugMsgFunc func(component, message string)

// SetDebugFunction allows the embedding process to provide a debug logger.
func SetDebugFunction(fn func(component, message string)) {
	debugMsgFunc = fn
}

// debugMsg is a wrapper that handles nil checks
func debugMsg(component, message string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message)
	}
}
