package recovery

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gocv.io/x/gocv"

	"markercam/detect"
)

// Template holds a marker's reference image and its features, computed once
// at load time and reused for every re-acquire attempt. Immutable after
// loading; owned exclusively by the Store.
type Template struct {
	ID          int
	Image       gocv.Mat
	Keypoints   []gocv.KeyPoint
	Descriptors gocv.Mat
	// Corners is the template's own corner geometry: the full image rect,
	// since templates are rendered as exactly the marker square.
	Corners detect.Quad
}

// Store maps marker ids to their loaded templates.
type Store struct {
	templates map[int]*Template
}

// LoadTemplates scans dir for files named id_<ID>.png (also .jpg/.jpeg),
// loads each grayscale, and precomputes its features with the given
// provider. A missing directory or unreadable file just means the affected
// markers have no re-acquire capability; it is never fatal.
func LoadTemplates(dir string, provider FeatureProvider) *Store {
	store := &Store{templates: make(map[int]*Template)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		debugMsg("TEMPLATE", fmt.Sprintf("template directory not available: %v", err))
		return store
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ok := templateID(entry.Name())
		if !ok {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		img := gocv.IMRead(path, gocv.IMReadGrayScale)
		if img.Empty() {
			debugMsg("TEMPLATE", fmt.Sprintf("failed to load template %s", path))
			continue
		}

		kpts, desc, err := provider.ExtractFeatures(img)
		if err != nil {
			debugMsg("TEMPLATE", fmt.Sprintf("feature extraction failed for %s: %v", path, err))
			img.Close()
			continue
		}

		w := float32(img.Cols())
		h := float32(img.Rows())
		store.templates[id] = &Template{
			ID:          id,
			Image:       img,
			Keypoints:   kpts,
			Descriptors: desc,
			Corners: detect.Quad{
				{X: 0, Y: 0},
				{X: w - 1, Y: 0},
				{X: w - 1, Y: h - 1},
				{X: 0, Y: h - 1},
			},
		}
		debugMsg("TEMPLATE", fmt.Sprintf("loaded template for marker %d: %d keypoints", id, len(kpts)))
	}

	debugMsg("TEMPLATE", fmt.Sprintf("loaded %d marker templates from %s", len(store.templates), dir))
	return store
}

// templateID parses the fixed id_<ID>.<ext> naming convention.
func templateID(name string) (int, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".png" && ext != ".jpg" && ext != ".jpeg" {
		return 0, false
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if !strings.HasPrefix(stem, "id_") {
		return 0, false
	}
	id, err := strconv.Atoi(strings.TrimPrefix(stem, "id_"))
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// Get returns the template for a marker, or nil when none was loaded.
func (s *Store) Get(id int) *Template {
	return s.templates[id]
}

// Has reports whether a template exists for the marker.
func (s *Store) Has(id int) bool {
	_, ok := s.templates[id]
	return ok
}

// Len returns the number of loaded templates.
func (s *Store) Len() int {
	return len(s.templates)
}

// Close releases every template's image and descriptor Mats.
func (s *Store) Close() {
	for _, t := range s.templates {
		t.Image.Close()
		t.Descriptors.Close()
	}
	s.templates = make(map[int]*Template)
}
