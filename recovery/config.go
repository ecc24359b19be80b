package recovery

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Config is the immutable configuration snapshot for the recovery subsystem.
// It is supplied at construction and never mutated during operation.
type Config struct {
	// Enabled gates the whole subsystem. When false RecoverMissing is a
	// no-op that returns its input unchanged.
	Enabled bool `json:"enabled"`

	// FeatureBackend selects the feature extractor/matcher: "orb", "sift"
	// or "auto" (try SIFT, fall back to ORB).
	FeatureBackend string `json:"feature_backend"`

	// TemplateDir holds one template image per marker id, named id_<ID>.png.
	TemplateDir string `json:"template_dir"`

	// MinInliers is the minimum valid matches and geometric inliers required
	// to accept a template re-acquisition.
	MinInliers int `json:"min_inliers"`

	// MaxAgeFrames is the maximum gap between the current frame and a
	// marker's last sighting for motion tracking to apply.
	MaxAgeFrames int `json:"max_age_frames"`

	// ROIExpandPx expands the last known corner bounding box to form the
	// optical-flow region of interest. Template re-acquisition searches a
	// region expanded by three times this value.
	ROIExpandPx int `json:"roi_expand_px"`

	// VerifyID re-decodes every recovered quad and accepts it only when the
	// expected marker id is found.
	VerifyID bool `json:"verify_id"`

	// MaxFallbackMarkersPerFrame caps recovery attempts per frame.
	MaxFallbackMarkersPerFrame int `json:"max_fallback_markers_per_frame"`

	// ReacquireIntervalFrames is the minimum number of frames between two
	// template re-acquire attempts for the same marker.
	ReacquireIntervalFrames int `json:"reacquire_interval_frames"`

	// PreferROIMatching searches around the last known position before
	// falling back to full-frame matching.
	PreferROIMatching bool `json:"prefer_roi_matching"`

	// CornerRefine refines accepted corners to sub-pixel accuracy.
	CornerRefine bool `json:"corner_refine"`

	// MatchThreshold is the Lowe ratio-test threshold: a match is valid when
	// best distance < threshold * second-best distance.
	MatchThreshold float64 `json:"match_threshold"`

	// MaxFeatures caps the number of keypoints extracted per image.
	MaxFeatures int `json:"max_features"`
}

// DefaultConfig returns a Config with sensible default values. The subsystem
// ships disabled; embedding processes opt in explicitly.
func DefaultConfig() Config {
	return Config{
		Enabled:                    false,
		FeatureBackend:             "auto",
		TemplateDir:                "templates/markers",
		MinInliers:                 4,
		MaxAgeFrames:               5,
		ROIExpandPx:                50,
		VerifyID:                   true,
		MaxFallbackMarkersPerFrame: 2,
		ReacquireIntervalFrames:    5,
		PreferROIMatching:          true,
		CornerRefine:               true,
		MatchThreshold:             0.75,
		MaxFeatures:                2048,
	}
}

// Validate normalizes out-of-range values back to their defaults so a bad
// config degrades rather than wedging the per-frame policy.
func (c *Config) Validate() {
	def := DefaultConfig()
	if c.FeatureBackend == "" {
		c.FeatureBackend = def.FeatureBackend
	}
	if c.MinInliers < 4 {
		c.MinInliers = def.MinInliers
	}
	if c.MaxAgeFrames < 0 {
		c.MaxAgeFrames = def.MaxAgeFrames
	}
	if c.ROIExpandPx < 0 {
		c.ROIExpandPx = def.ROIExpandPx
	}
	if c.MaxFallbackMarkersPerFrame <= 0 {
		c.MaxFallbackMarkersPerFrame = def.MaxFallbackMarkersPerFrame
	}
	if c.ReacquireIntervalFrames < 0 {
		c.ReacquireIntervalFrames = def.ReacquireIntervalFrames
	}
	if c.MatchThreshold <= 0 || c.MatchThreshold >= 1 {
		c.MatchThreshold = def.MatchThreshold
	}
	if c.MaxFeatures <= 0 {
		c.MaxFeatures = def.MaxFeatures
	}
}

// LoadConfig reads a JSON config file. Fields absent from the file keep
// their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "can't read recovery config %s", path)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "can't parse recovery config %s", path)
	}
	cfg.Validate()
	return cfg, nil
}
