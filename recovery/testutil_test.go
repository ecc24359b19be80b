package recovery

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"markercam/detect"
)

// whiteFrame builds a grayscale frame with a uniform white background so a
// pasted marker has a natural quiet zone around it.
func whiteFrame(width, height int) gocv.Mat {
	frame := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC1)
	gocv.Rectangle(&frame, image.Rect(0, 0, width, height), color.RGBA{255, 255, 255, 0}, -1)
	return frame
}

// pasteMarker renders marker id from dict into frame at (x, y) with the given
// side length and returns the quad of its outer corners.
func pasteMarker(t *testing.T, frame gocv.Mat, dict string, id, x, y, sizePx int) detect.Quad {
	t.Helper()

	marker, err := detect.GenerateTemplate(dict, id, sizePx, 1)
	require.NoError(t, err)
	defer marker.Close()

	region := frame.Region(image.Rect(x, y, x+sizePx, y+sizePx))
	defer region.Close()
	marker.CopyTo(&region)

	s := float32(sizePx)
	return detect.Quad{
		{X: float32(x), Y: float32(y)},
		{X: float32(x) + s - 1, Y: float32(y)},
		{X: float32(x) + s - 1, Y: float32(y) + s - 1},
		{X: float32(x), Y: float32(y) + s - 1},
	}
}

// writeTemplateDir renders templates for ids into a fresh temp directory and
// returns its path.
func writeTemplateDir(t *testing.T, dict string, ids []int, sizePx int) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, detect.WriteTemplates(dir, dict, ids, sizePx))
	return dir
}

// newTestORBProvider builds an ORB provider with default config, failing the
// test when the backend is unavailable.
func newTestORBProvider(t *testing.T) FeatureProvider {
	t.Helper()
	cfg := DefaultConfig()
	cfg.FeatureBackend = "orb"
	provider, err := NewProvider(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { provider.Close() })
	return provider
}

// square returns an axis-aligned quad with top-left (x, y) and side s.
func square(x, y, s float32) detect.Quad {
	return detect.Quad{
		{X: x, Y: y},
		{X: x + s, Y: y},
		{X: x + s, Y: y + s},
		{X: x, Y: y + s},
	}
}
