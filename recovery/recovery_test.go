package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"markercam/detect"
)

// fullConfig returns an enabled end-to-end configuration with templates
// rendered for the given marker ids.
func fullConfig(t *testing.T, ids []int) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.FeatureBackend = "orb"
	cfg.TemplateDir = writeTemplateDir(t, "5x5_100", ids, 240)
	return cfg
}

func newTestDetector(t *testing.T) *detect.ArucoDetector {
	t.Helper()
	detector, err := detect.NewArucoDetector("5x5_100")
	require.NoError(t, err)
	t.Cleanup(func() { detector.Close() })
	return detector
}

func TestNewDisabledByConfig(t *testing.T) {
	r := New(DefaultConfig(), newTestDetector(t))
	defer r.Close()
	assert.False(t, r.Enabled())
	assert.Equal(t, 0, r.TemplateCount())
}

func TestNewBadBackendDegradesToDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.FeatureBackend = "surf"
	r := New(cfg, newTestDetector(t))
	defer r.Close()
	assert.False(t, r.Enabled())
}

func TestNewLoadsTemplates(t *testing.T) {
	cfg := fullConfig(t, []int{4, 9})
	r := New(cfg, newTestDetector(t))
	defer r.Close()

	require.True(t, r.Enabled())
	assert.Equal(t, 2, r.TemplateCount())
	assert.Equal(t, "ORB", r.Info().Backend)
}

// Brief occlusion: a marker seen directly, then hidden while the scene holds
// still, is carried forward by motion tracking.
func TestEndToEndMotionRecovery(t *testing.T) {
	cfg := fullConfig(t, []int{4})
	detector := newTestDetector(t)
	r := New(cfg, detector)
	defer r.Close()
	require.True(t, r.Enabled())

	frame := whiteFrame(800, 600)
	defer frame.Close()
	pasteMarker(t, frame, "5x5_100", 4, 300, 200, 240)

	detected, err := detector.Detect(frame)
	require.NoError(t, err)
	require.Contains(t, detected, 4)
	directQuad := detected[4]

	expected := expectedSet(4)

	out, attempts := r.RecoverMissing(frame, detected, expected)
	require.Contains(t, out, 4)
	require.Len(t, attempts, 1)
	assert.Equal(t, SourceDirect, attempts[0].Source)

	// Frames 2-4: same scene, but the upstream detector "missed" the marker.
	// Each frame must carry continuous tracked corners.
	for frameNo := 2; frameNo <= 4; frameNo++ {
		out, attempts = r.RecoverMissing(frame, nil, expected)
		require.Contains(t, out, 4, "frame %d", frameNo)
		require.Len(t, attempts, 1)
		assert.Equal(t, SourceTracked, attempts[0].Source, "frame %d", frameNo)
		assert.GreaterOrEqual(t, attempts[0].MatchQuality, 0.0)

		recovered := out[4]
		for i := 0; i < 4; i++ {
			assert.InDelta(t, float64(directQuad[i].X), float64(recovered[i].X), 3.0, "frame %d corner %d x", frameNo, i)
			assert.InDelta(t, float64(directQuad[i].Y), float64(recovered[i].Y), 3.0, "frame %d corner %d y", frameNo, i)
		}
	}
}

// Cold start: a marker that was never seen live is re-acquired from its
// template and survives identity verification.
func TestEndToEndTemplateRecovery(t *testing.T) {
	cfg := fullConfig(t, []int{9})
	detector := newTestDetector(t)
	r := New(cfg, detector)
	defer r.Close()
	require.True(t, r.Enabled())

	frame := whiteFrame(800, 600)
	defer frame.Close()
	quad := pasteMarker(t, frame, "5x5_100", 9, 300, 200, 240)

	out, attempts := r.RecoverMissing(frame, nil, expectedSet(9))
	require.Contains(t, out, 9)
	require.Len(t, attempts, 1)
	assert.Equal(t, SourceReacquired, attempts[0].Source)
	assert.GreaterOrEqual(t, attempts[0].Inliers, cfg.MinInliers)
	assert.NotNil(t, attempts[0].Homography)

	recovered := out[9]
	for i := 0; i < 4; i++ {
		assert.InDelta(t, float64(quad[i].X), float64(recovered[i].X), 5.0, "corner %d x", i)
		assert.InDelta(t, float64(quad[i].Y), float64(recovered[i].Y), 5.0, "corner %d y", i)
	}
}

// A marker absent from the scene is not hallucinated into the output.
func TestEndToEndAbsentMarkerNotRecovered(t *testing.T) {
	cfg := fullConfig(t, []int{9})
	detector := newTestDetector(t)
	r := New(cfg, detector)
	defer r.Close()
	require.True(t, r.Enabled())

	// Scene contains marker 23 only.
	frame := whiteFrame(800, 600)
	defer frame.Close()
	pasteMarker(t, frame, "5x5_100", 23, 300, 200, 240)

	out, _ := r.RecoverMissing(frame, nil, expectedSet(9))
	assert.NotContains(t, out, 9, "verification must reject a marker that is not there")
}
