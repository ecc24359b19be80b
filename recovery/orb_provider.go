package recovery

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ORBProvider implements FeatureProvider with ORB keypoints and a
// brute-force Hamming matcher. Fast, binary descriptors; the default
// fallback backend.
type ORBProvider struct {
	orb         gocv.ORB
	matcher     gocv.BFMatcher
	maxFeatures int
	ratio       float64
}

func newORBProvider(cfg Config) *ORBProvider {
	return &ORBProvider{
		orb:         gocv.NewORBWithParams(cfg.MaxFeatures, 1.2, 8, 31, 0, 2, gocv.ORBScoreTypeHarris, 31, 20),
		matcher:     gocv.NewBFMatcherWithParams(gocv.NormHamming, false),
		maxFeatures: cfg.MaxFeatures,
		ratio:       cfg.MatchThreshold,
	}
}

// ExtractFeatures detects ORB keypoints and computes binary descriptors.
func (p *ORBProvider) ExtractFeatures(img gocv.Mat) ([]gocv.KeyPoint, gocv.Mat, error) {
	if img.Empty() {
		return nil, gocv.Mat{}, errors.New("empty image")
	}
	mask := gocv.NewMat()
	defer mask.Close()

	kpts, desc := p.orb.DetectAndCompute(img, mask)
	if len(kpts) == 0 {
		desc.Close()
		return nil, gocv.Mat{}, errors.New("no keypoints found")
	}
	return kpts, desc, nil
}

// MatchDescriptors runs 2-NN brute-force Hamming matching with a ratio test.
func (p *ORBProvider) MatchDescriptors(templateDesc, frameDesc gocv.Mat) ([]gocv.DMatch, error) {
	if templateDesc.Empty() || frameDesc.Empty() {
		return nil, errors.New("empty descriptors")
	}
	pairs := p.matcher.KnnMatch(templateDesc, frameDesc, 2)
	return ratioTest(pairs, p.ratio), nil
}

// Close releases the ORB extractor and matcher.
func (p *ORBProvider) Close() error {
	p.orb.Close()
	return p.matcher.Close()
}

// Info returns information about the ORB backend.
func (p *ORBProvider) Info() ProviderInfo {
	return ProviderInfo{
		Backend:     "ORB",
		Norm:        "Hamming",
		MaxFeatures: p.maxFeatures,
	}
}
