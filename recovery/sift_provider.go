package recovery

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// SIFTProvider implements FeatureProvider with SIFT keypoints and a
// brute-force L2 matcher. Slower than ORB but markedly more stable under
// scale and viewpoint change, so it is the preferred backend when available.
type SIFTProvider struct {
	sift    gocv.SIFT
	matcher gocv.BFMatcher
	ratio   float64
}

func newSIFTProvider(cfg Config) *SIFTProvider {
	return &SIFTProvider{
		sift:    gocv.NewSIFT(),
		matcher: gocv.NewBFMatcherWithParams(gocv.NormL2, false),
		ratio:   cfg.MatchThreshold,
	}
}

// ExtractFeatures detects SIFT keypoints and computes float descriptors.
func (p *SIFTProvider) ExtractFeatures(img gocv.Mat) ([]gocv.KeyPoint, gocv.Mat, error) {
	if img.Empty() {
		return nil, gocv.Mat{}, errors.New("empty image")
	}
	mask := gocv.NewMat()
	defer mask.Close()

	kpts, desc := p.sift.DetectAndCompute(img, mask)
	if len(kpts) == 0 {
		desc.Close()
		return nil, gocv.Mat{}, errors.New("no keypoints found")
	}
	return kpts, desc, nil
}

// MatchDescriptors runs 2-NN brute-force L2 matching with a ratio test.
func (p *SIFTProvider) MatchDescriptors(templateDesc, frameDesc gocv.Mat) ([]gocv.DMatch, error) {
	if templateDesc.Empty() || frameDesc.Empty() {
		return nil, errors.New("empty descriptors")
	}
	pairs := p.matcher.KnnMatch(templateDesc, frameDesc, 2)
	return ratioTest(pairs, p.ratio), nil
}

// Close releases the SIFT extractor and matcher.
func (p *SIFTProvider) Close() error {
	p.sift.Close()
	return p.matcher.Close()
}

// Info returns information about the SIFT backend.
func (p *SIFTProvider) Info() ProviderInfo {
	return ProviderInfo{
		Backend: "SIFT",
		Norm:    "L2",
	}
}
