package recovery

import (
	"fmt"
	"sort"

	"gocv.io/x/gocv"

	"markercam/detect"
)

// motionEstimator propagates corners between consecutive grayscale frames.
type motionEstimator interface {
	Track(prevGray, currGray gocv.Mat, last detect.Quad) (detect.Quad, float64, bool)
}

// templateReacquirer re-derives corners from cached template features.
type templateReacquirer interface {
	HasTemplate(id int) bool
	Reacquire(id int, gray gocv.Mat, last *detect.Quad) (ReacquireResult, bool)
}

// identityChecker confirms a candidate quad encodes the expected marker id.
type identityChecker interface {
	Verify(gray gocv.Mat, q detect.Quad, expectedID int) bool
}

// Recovery is the per-camera marker-recovery orchestrator. It owns all
// mutable state (tracker-state table, reacquire timestamps, frame counter)
// and must not be shared across goroutines or cameras; each camera gets its
// own instance.
type Recovery struct {
	cfg     Config
	enabled bool

	provider FeatureProvider
	store    *Store
	motion   motionEstimator
	matcher  templateReacquirer
	verifier identityChecker

	states        map[int]*trackerState
	lastReacquire map[int]int
	frameIndex    int
}

// New builds the recovery subsystem. It never fails: when disabled by config
// or when a required dependency can't be initialized, it reports once and
// returns a cheap no-op instance.
func New(cfg Config, detector detect.Detector) *Recovery {
	cfg.Validate()

	r := &Recovery{
		cfg:           cfg,
		states:        make(map[int]*trackerState),
		lastReacquire: make(map[int]int),
	}

	if !cfg.Enabled {
		debugMsg("RECOVERY", "marker recovery is disabled")
		return r
	}

	provider, err := NewProvider(cfg)
	if err != nil {
		debugMsg("RECOVERY", fmt.Sprintf("marker recovery disabled: %v", err))
		return r
	}

	r.provider = provider
	r.store = LoadTemplates(cfg.TemplateDir, provider)
	r.motion = NewMotionTracker(cfg)
	r.matcher = NewTemplateMatcher(cfg, r.store, provider)
	r.verifier = NewVerifier(cfg, detector)
	r.enabled = true
	return r
}

// Enabled reports whether recovery will do any work per frame.
func (r *Recovery) Enabled() bool {
	return r.enabled
}

// FrameIndex returns the number of frames processed so far.
func (r *Recovery) FrameIndex() int {
	return r.frameIndex
}

// TemplateCount returns the number of loaded re-acquire templates.
func (r *Recovery) TemplateCount() int {
	if r.store == nil {
		return 0
	}
	return r.store.Len()
}

// Info returns the active feature backend description.
func (r *Recovery) Info() ProviderInfo {
	if r.provider == nil {
		return ProviderInfo{}
	}
	return r.provider.Info()
}

// RecoverMissing is the sole per-frame entry point. It updates tracker state
// for every directly-seen marker, then attempts recovery for missing ones
// under the per-frame cap, ordered by recency. The returned map merges
// direct and recovered detections; attempts holds one record per direct
// marker plus one per attempted recovery. A marker present in detected is
// never overwritten by a recovered result.
func (r *Recovery) RecoverMissing(frame gocv.Mat, detected map[int]detect.Quad, expected map[int]struct{}) (map[int]detect.Quad, []Attempt) {
	if !r.enabled || frame.Empty() {
		return detected, nil
	}

	r.frameIndex++

	gray := grayscale(frame)
	defer gray.Close()
	width := gray.Cols()
	height := gray.Rows()

	out := make(map[int]detect.Quad, len(detected)+2)
	attempts := make([]Attempt, 0, len(detected)+r.cfg.MaxFallbackMarkersPerFrame)

	// Direct markers first, in ascending id order so the attempts list is
	// deterministic.
	directIDs := make([]int, 0, len(detected))
	for id := range detected {
		directIDs = append(directIDs, id)
	}
	sort.Ints(directIDs)
	for _, id := range directIDs {
		q := detected[id]
		out[id] = q
		r.recordSighting(id, q, gray)
		corners := q
		attempts = append(attempts, Attempt{
			MarkerID:     id,
			Source:       SourceDirect,
			Corners:      &corners,
			MatchQuality: 1.0,
		})
	}

	missing := r.missingByRecency(detected, expected)
	if len(missing) == 0 {
		return out, attempts
	}
	debugMsg("RECOVERY", fmt.Sprintf("frame %d: missing markers %v", r.frameIndex, missing))

	budget := r.cfg.MaxFallbackMarkersPerFrame
	for _, id := range missing {
		if budget <= 0 {
			debugMsg("RECOVERY", fmt.Sprintf("frame %d: recovery budget exhausted", r.frameIndex))
			break
		}

		attempt, tried := r.recoverMarker(id, gray, width, height)
		if !tried {
			// No template and nothing trackable: skipped, no record, no
			// budget consumed.
			continue
		}
		budget--
		attempts = append(attempts, attempt)
		if attempt.Corners != nil {
			out[id] = *attempt.Corners
			debugMsg("RECOVERY", fmt.Sprintf("recovered marker %d via %s", id, attempt.Source))
		}
	}

	return out, attempts
}

// recoverMarker runs the per-marker policy: motion tracking when the marker
// was recently seen, then template re-acquisition subject to its rate limit.
// tried is false when neither path was applicable.
func (r *Recovery) recoverMarker(id int, gray gocv.Mat, width, height int) (Attempt, bool) {
	attempt := Attempt{MarkerID: id, Source: SourceNone}
	tried := false

	st := r.states[id]
	if st != nil && st.hasGray && r.frameIndex-st.lastSeenFrame <= r.cfg.MaxAgeFrames {
		tried = true
		if q, quality, ok := r.motion.Track(st.lastGray, gray, st.lastCorners); ok {
			if q.Finite() && q.InBounds(width, height) && r.verifier.Verify(gray, q, id) {
				r.recordSighting(id, q, gray)
				corners := q
				attempt.Source = SourceTracked
				attempt.Corners = &corners
				attempt.Inliers = 4
				attempt.MatchQuality = quality
				return attempt, true
			}
			debugMsg("RECOVERY", fmt.Sprintf("marker %d: tracked quad rejected", id))
		}
	}

	if !r.matcher.HasTemplate(id) {
		return attempt, tried
	}

	last, seen := r.lastReacquire[id]
	if !seen {
		last = neverSeen
	}
	if r.frameIndex-last < r.cfg.ReacquireIntervalFrames {
		debugMsg("RECOVERY", fmt.Sprintf("marker %d: reacquire rate-limited (%d frames since last attempt)",
			id, r.frameIndex-last))
		return attempt, tried
	}

	tried = true
	var lastQ *detect.Quad
	if st != nil {
		lastQ = &st.lastCorners
	}
	res, ok := r.matcher.Reacquire(id, gray, lastQ)
	if !ok {
		return attempt, tried
	}

	// The rate limit triggers on attempt cost, not attempt success: a fitted
	// homography that later fails identity verification still counts.
	r.lastReacquire[id] = r.frameIndex

	if !res.Corners.Finite() || !res.Corners.InBounds(width, height) {
		return attempt, tried
	}
	if !r.verifier.Verify(gray, res.Corners, id) {
		debugMsg("RECOVERY", fmt.Sprintf("marker %d: reacquired quad failed identity verification", id))
		return attempt, tried
	}

	r.recordSighting(id, res.Corners, gray)
	corners := res.Corners
	h := res.Homography
	attempt.Source = SourceReacquired
	attempt.Corners = &corners
	attempt.Inliers = res.Inliers
	attempt.MatchQuality = res.Quality
	attempt.Homography = &h
	return attempt, tried
}

// missingByRecency returns expected-but-undetected ids ordered most recently
// seen first; markers never seen sort last. Ties break on ascending id so
// the order is deterministic.
func (r *Recovery) missingByRecency(detected map[int]detect.Quad, expected map[int]struct{}) []int {
	missing := make([]int, 0, len(expected))
	for id := range expected {
		if _, ok := detected[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Slice(missing, func(i, j int) bool {
		li := r.lastSeenFrame(missing[i])
		lj := r.lastSeenFrame(missing[j])
		if li != lj {
			return li > lj
		}
		return missing[i] < missing[j]
	})
	return missing
}

func (r *Recovery) lastSeenFrame(id int) int {
	if st, ok := r.states[id]; ok {
		return st.lastSeenFrame
	}
	return neverSeen
}

// recordSighting overwrites the marker's tracker state with the current
// corners, frame index and a private grayscale snapshot. The previous
// snapshot Mat is released.
func (r *Recovery) recordSighting(id int, q detect.Quad, gray gocv.Mat) {
	if old, ok := r.states[id]; ok {
		old.close()
	}
	r.states[id] = &trackerState{
		markerID:      id,
		lastCorners:   q,
		lastSeenFrame: r.frameIndex,
		lastGray:      gray.Clone(),
		hasGray:       true,
	}
}

// grayscale returns a caller-owned grayscale copy of frame.
func grayscale(frame gocv.Mat) gocv.Mat {
	switch frame.Channels() {
	case 1:
		return frame.Clone()
	case 4:
		gray := gocv.NewMat()
		gocv.CvtColor(frame, &gray, gocv.ColorBGRAToGray)
		return gray
	default:
		gray := gocv.NewMat()
		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
		return gray
	}
}

// Close releases tracker-state snapshots, templates and the feature
// provider. The instance must not be used afterwards.
func (r *Recovery) Close() error {
	for _, st := range r.states {
		st.close()
	}
	r.states = make(map[int]*trackerState)
	if r.store != nil {
		r.store.Close()
	}
	if r.provider != nil {
		return r.provider.Close()
	}
	return nil
}
