package detect

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// dictionaryCodes maps normalized dictionary names to gocv predefined
// dictionaries. Names accept an optional "DICT_" prefix and any case.
var dictionaryCodes = map[string]gocv.ArucoDictionaryCode{
	"4x4_50":   gocv.ArucoDict4x4_50,
	"4x4_100":  gocv.ArucoDict4x4_100,
	"4x4_250":  gocv.ArucoDict4x4_250,
	"4x4_1000": gocv.ArucoDict4x4_1000,
	"5x5_50":   gocv.ArucoDict5x5_50,
	"5x5_100":  gocv.ArucoDict5x5_100,
	"5x5_250":  gocv.ArucoDict5x5_250,
	"5x5_1000": gocv.ArucoDict5x5_1000,
	"6x6_50":   gocv.ArucoDict6x6_50,
	"6x6_100":  gocv.ArucoDict6x6_100,
	"6x6_250":  gocv.ArucoDict6x6_250,
	"6x6_1000": gocv.ArucoDict6x6_1000,
	"7x7_50":   gocv.ArucoDict7x7_50,
	"7x7_100":  gocv.ArucoDict7x7_100,
	"7x7_250":  gocv.ArucoDict7x7_250,
	"7x7_1000": gocv.ArucoDict7x7_1000,
}

// DictionaryCode resolves a dictionary name like "4x4_50", "DICT_6X6_250" or
// "6x6_250" to the matching gocv dictionary code.
func DictionaryCode(name string) (gocv.ArucoDictionaryCode, error) {
	n := strings.TrimSpace(name)
	if strings.HasPrefix(strings.ToUpper(n), "DICT_") {
		n = n[5:]
	}
	n = strings.ToLower(n)
	code, ok := dictionaryCodes[n]
	if !ok {
		return 0, fmt.Errorf("unknown aruco dictionary: %q", name)
	}
	return code, nil
}

// ArucoDetector is the gocv-backed implementation of Detector.
type ArucoDetector struct {
	detector gocv.ArucoDetector
	dictName string
}

// NewArucoDetector builds a detector for the named ArUco dictionary.
func NewArucoDetector(dictName string) (*ArucoDetector, error) {
	code, err := DictionaryCode(dictName)
	if err != nil {
		return nil, err
	}
	dictionary := gocv.GetPredefinedDictionary(code)
	params := gocv.NewArucoDetectorParameters()
	return &ArucoDetector{
		detector: gocv.NewArucoDetectorWithParams(dictionary, params),
		dictName: dictName,
	}, nil
}

// Detect runs marker detection on img and returns id -> corner quad.
// Markers whose corner sets are not exactly 4 points are dropped.
func (d *ArucoDetector) Detect(img gocv.Mat) (map[int]Quad, error) {
	if img.Empty() {
		return nil, errors.New("empty input image")
	}
	corners, ids, _ := d.detector.DetectMarkers(img)

	found := make(map[int]Quad, len(ids))
	for i, id := range ids {
		if i >= len(corners) || len(corners[i]) != 4 {
			continue
		}
		var q Quad
		copy(q[:], corners[i])
		found[id] = q
	}
	return found, nil
}

// Dictionary returns the dictionary name this detector was built with.
func (d *ArucoDetector) Dictionary() string {
	return d.dictName
}

// Close releases the underlying OpenCV detector.
func (d *ArucoDetector) Close() error {
	return d.detector.Close()
}

// GenerateTemplate renders a marker image suitable for use as a re-acquire
// template. The caller owns the returned Mat.
func GenerateTemplate(dictName string, id, sizePx, borderBits int) (gocv.Mat, error) {
	code, err := DictionaryCode(dictName)
	if err != nil {
		return gocv.Mat{}, err
	}
	if sizePx <= 0 {
		return gocv.Mat{}, fmt.Errorf("invalid template size: %d", sizePx)
	}
	if borderBits <= 0 {
		borderBits = 1
	}
	img := gocv.NewMat()
	gocv.ArucoGenerateImageMarker(code, id, sizePx, img, borderBits)
	if img.Empty() {
		img.Close()
		return gocv.Mat{}, fmt.Errorf("marker generation produced empty image for id %d", id)
	}
	return img, nil
}

// WriteTemplates renders one template per id into dir using the fixed
// id_<ID>.png naming convention consumed by the recovery template store.
func WriteTemplates(dir, dictName string, ids []int, sizePx int) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "can't create template directory %s", dir)
	}
	for _, id := range ids {
		img, err := GenerateTemplate(dictName, id, sizePx, 1)
		if err != nil {
			return errors.Wrapf(err, "can't generate template for marker %d", id)
		}
		path := filepath.Join(dir, fmt.Sprintf("id_%d.png", id))
		ok := gocv.IMWrite(path, img)
		img.Close()
		if !ok {
			return fmt.Errorf("can't write template image %s", path)
		}
	}
	return nil
}
