package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"markercam/detect"
)

func newTestVerifier(t *testing.T, cfg Config) *Verifier {
	t.Helper()
	detector, err := detect.NewArucoDetector("5x5_100")
	require.NoError(t, err)
	t.Cleanup(func() { detector.Close() })
	return NewVerifier(cfg, detector)
}

func TestVerifyAcceptsCorrectID(t *testing.T) {
	v := newTestVerifier(t, DefaultConfig())
	require.True(t, v.Enabled())

	frame := whiteFrame(640, 480)
	defer frame.Close()
	quad := pasteMarker(t, frame, "5x5_100", 7, 200, 150, 160)

	assert.True(t, v.Verify(frame, quad, 7))
}

func TestVerifyRejectsWrongID(t *testing.T) {
	v := newTestVerifier(t, DefaultConfig())

	frame := whiteFrame(640, 480)
	defer frame.Close()
	quad := pasteMarker(t, frame, "5x5_100", 7, 200, 150, 160)

	assert.False(t, v.Verify(frame, quad, 8))
}

func TestVerifyRejectsEmptyRegion(t *testing.T) {
	v := newTestVerifier(t, DefaultConfig())

	frame := whiteFrame(640, 480)
	defer frame.Close()

	// A quad over blank background decodes to nothing.
	assert.False(t, v.Verify(frame, square(50, 50, 100), 7))
}

func TestVerifyDisabledAcceptsEverything(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VerifyID = false
	v := newTestVerifier(t, cfg)
	assert.False(t, v.Enabled())

	frame := whiteFrame(640, 480)
	defer frame.Close()
	assert.True(t, v.Verify(frame, square(50, 50, 100), 7))
}

func TestVerifyNoDetectorAcceptsEverything(t *testing.T) {
	v := NewVerifier(DefaultConfig(), nil)
	assert.False(t, v.Enabled())

	frame := whiteFrame(640, 480)
	defer frame.Close()
	assert.True(t, v.Verify(frame, square(50, 50, 100), 7))
}
