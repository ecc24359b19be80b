package recovery

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// FeatureProvider is the capability interface for keypoint extraction and
// descriptor matching. A provider is selected once at construction; call
// sites never re-probe availability per frame.
type FeatureProvider interface {
	// ExtractFeatures detects keypoints and computes descriptors for a
	// grayscale image. The caller owns the returned descriptor Mat.
	ExtractFeatures(img gocv.Mat) ([]gocv.KeyPoint, gocv.Mat, error)
	// MatchDescriptors matches template descriptors (query) against live
	// frame descriptors (train) and returns only the matches that pass the
	// ratio test.
	MatchDescriptors(templateDesc, frameDesc gocv.Mat) ([]gocv.DMatch, error)
	Close() error
	Info() ProviderInfo
}

// ProviderInfo describes the active feature backend.
type ProviderInfo struct {
	Backend     string        // "SIFT" or "ORB"
	Norm        string        // Descriptor distance norm
	MaxFeatures int           // Keypoint cap, 0 when backend-default
	InitTime    time.Duration // Time taken to initialize
}

// NewProvider builds the feature provider named by cfg.FeatureBackend.
// "auto" tries SIFT first and falls back to ORB, verifying each candidate
// with a test extraction before committing to it.
func NewProvider(cfg Config) (FeatureProvider, error) {
	switch cfg.FeatureBackend {
	case "sift":
		return initProvider(newSIFTProvider(cfg))
	case "orb":
		return initProvider(newORBProvider(cfg))
	case "auto":
		sift, err := initProvider(newSIFTProvider(cfg))
		if err == nil {
			return sift, nil
		}
		debugMsg("PROVIDER", fmt.Sprintf("SIFT unavailable (%v), falling back to ORB", err))
		return initProvider(newORBProvider(cfg))
	default:
		return nil, fmt.Errorf("unknown feature backend %q", cfg.FeatureBackend)
	}
}

// initProvider runs a test extraction so a broken backend fails at
// construction instead of on the first live frame.
func initProvider(p FeatureProvider) (FeatureProvider, error) {
	start := time.Now()
	if err := testProvider(p); err != nil {
		p.Close()
		return nil, errors.Wrapf(err, "%s provider failed test extraction", p.Info().Backend)
	}
	info := p.Info()
	debugMsg("PROVIDER", fmt.Sprintf("%s provider initialized (%v)", info.Backend, time.Since(start)))
	return p, nil
}

// testProvider extracts features from a small synthetic checkerboard and
// requires at least a handful of keypoints back.
func testProvider(p FeatureProvider) error {
	test := checkerboardMat(96, 96, 12)
	defer test.Close()

	kpts, desc, err := p.ExtractFeatures(test)
	if err != nil {
		return err
	}
	defer desc.Close()
	if len(kpts) < 4 || desc.Empty() {
		return fmt.Errorf("test extraction produced %d keypoints", len(kpts))
	}
	return nil
}

// checkerboardMat builds a grayscale checkerboard test pattern.
func checkerboardMat(width, height, cell int) gocv.Mat {
	m := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC1)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if ((x/cell)+(y/cell))%2 == 0 {
				m.SetUCharAt(y, x, 255)
			}
		}
	}
	return m
}

// ratioTest keeps only k-NN match pairs where the best distance is clearly
// better than the runner-up.
func ratioTest(pairs [][]gocv.DMatch, threshold float64) []gocv.DMatch {
	valid := make([]gocv.DMatch, 0, len(pairs))
	for _, pair := range pairs {
		if len(pair) < 2 {
			// No runner-up to compare against; keep unambiguous singletons.
			if len(pair) == 1 {
				valid = append(valid, pair[0])
			}
			continue
		}
		if pair[0].Distance < threshold*pair[1].Distance {
			valid = append(valid, pair[0])
		}
	}
	return valid
}
