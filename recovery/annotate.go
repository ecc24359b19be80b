package recovery

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Source colors for annotated frames.
var (
	colorDirect     = color.RGBA{0, 255, 0, 0}
	colorTracked    = color.RGBA{0, 255, 255, 0}
	colorReacquired = color.RGBA{0, 165, 255, 0}
)

func sourceColor(s Source) color.RGBA {
	switch s {
	case SourceTracked:
		return colorTracked
	case SourceReacquired:
		return colorReacquired
	default:
		return colorDirect
	}
}

// DrawSources annotates frame in place with each marker's corner quad,
// color-coded by recovery source, plus a frame banner. Failed attempts have
// no corners and are not drawn. Intended for debugging only; correctness of
// the recovery output never depends on it.
func DrawSources(frame *gocv.Mat, frameIndex int, attempts []Attempt) {
	for _, a := range attempts {
		if a.Corners == nil {
			continue
		}
		c := sourceColor(a.Source)
		q := *a.Corners
		for i := 0; i < 4; i++ {
			p1 := image.Pt(int(q[i].X), int(q[i].Y))
			p2 := image.Pt(int(q[(i+1)%4].X), int(q[(i+1)%4].Y))
			gocv.Line(frame, p1, p2, c, 2)
		}
		center := q.Center()
		label := fmt.Sprintf("%d (%s)", a.MarkerID, a.Source)
		gocv.PutText(frame, label, image.Pt(int(center.X), int(center.Y)),
			gocv.FontHersheySimplex, 0.5, c, 2)
	}

	banner := fmt.Sprintf("frame %d", frameIndex)
	gocv.PutText(frame, banner, image.Pt(10, 30),
		gocv.FontHersheySimplex, 0.7, color.RGBA{255, 255, 255, 0}, 2)
}

// Saver writes annotated frames under a per-session directory. Saving is
// best-effort: a failed write logs and moves on, it never fails the frame
// loop.
type Saver struct {
	dir       string
	sessionID string
}

// NewSaver creates the session directory under baseDir, named with a fresh
// session id.
func NewSaver(baseDir string) (*Saver, error) {
	sessionID := uuid.NewString()
	dir := filepath.Join(baseDir, sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "can't create debug session directory %s", dir)
	}
	return &Saver{dir: dir, sessionID: sessionID}, nil
}

// SessionID returns the session identifier used for the output directory.
func (s *Saver) SessionID() string {
	return s.sessionID
}

// Dir returns the session output directory.
func (s *Saver) Dir() string {
	return s.dir
}

// Save writes one annotated frame as frame_<idx>.png.
func (s *Saver) Save(frameIndex int, frame gocv.Mat) {
	path := filepath.Join(s.dir, fmt.Sprintf("frame_%06d.png", frameIndex))
	if ok := gocv.IMWrite(path, frame); !ok {
		debugMsg("ANNOTATE", fmt.Sprintf("failed to write annotated frame %s", path))
	}
}
