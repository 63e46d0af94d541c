package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gocv.io/x/gocv"

	"github.com/banshee-data/incident.report/internal/monitoring"
	"github.com/banshee-data/incident.report/internal/traffic"
)

// Recorder keeps a bounded ring of recent frames so that an incident can be
// saved with the seconds that led up to it. Push is called once per frame
// from the pipeline loop; SaveClip snapshots the ring and writes it out on
// a separate goroutine so the loop never blocks on disk.
type Recorder struct {
	dir    string
	fps    float64
	frames []gocv.Mat
	next   int
	filled bool
}

// NewRecorder creates a ring holding capacity frames. At 30fps a capacity
// of 300 keeps the last ten seconds.
func NewRecorder(dir string, capacity int, fps float64) (*Recorder, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("recorder capacity must be positive, got %d", capacity)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create clip dir %s: %w", dir, err)
	}
	return &Recorder{
		dir:    dir,
		fps:    fps,
		frames: make([]gocv.Mat, capacity),
	}, nil
}

// Push copies the frame into the ring, overwriting the oldest entry.
func (r *Recorder) Push(frame gocv.Mat) {
	if !r.frames[r.next].Empty() {
		r.frames[r.next].Close()
	}
	r.frames[r.next] = frame.Clone()
	r.next++
	if r.next == len(r.frames) {
		r.next = 0
		r.filled = true
	}
}

// Publish implements traffic.Sink: every incident gets a clip of the frames
// that led up to it.
func (r *Recorder) Publish(inc traffic.Incident) {
	r.SaveClip(inc.ID)
}

// SaveClip snapshots the current ring contents and writes them to an AVI
// file named after the incident ID. The write happens on its own goroutine;
// failures are logged, not returned.
func (r *Recorder) SaveClip(incidentID string) string {
	ordered := r.snapshot()
	if len(ordered) == 0 {
		return ""
	}

	path := filepath.Join(r.dir, fmt.Sprintf("%s-%s.avi",
		time.Now().UTC().Format("20060102T150405Z"), incidentID))

	go func() {
		defer func() {
			for _, m := range ordered {
				m.Close()
			}
		}()
		if err := writeClip(path, ordered, r.fps); err != nil {
			monitoring.Logf("failed to save clip %s: %v", path, err)
			return
		}
		monitoring.Logf("saved incident clip %s (%d frames)", path, len(ordered))
	}()

	return path
}

// snapshot clones the ring in chronological order.
func (r *Recorder) snapshot() []gocv.Mat {
	var ordered []gocv.Mat
	appendFrame := func(m gocv.Mat) {
		if !m.Empty() {
			ordered = append(ordered, m.Clone())
		}
	}
	if r.filled {
		for i := r.next; i < len(r.frames); i++ {
			appendFrame(r.frames[i])
		}
	}
	for i := 0; i < r.next; i++ {
		appendFrame(r.frames[i])
	}
	return ordered
}

func writeClip(path string, frames []gocv.Mat, fps float64) error {
	first := frames[0]
	writer, err := gocv.VideoWriterFile(path, "MJPG", fps, first.Cols(), first.Rows(), true)
	if err != nil {
		return fmt.Errorf("open writer: %w", err)
	}
	defer writer.Close()

	for _, m := range frames {
		if err := writer.Write(m); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
	}
	return nil
}

// Close releases all buffered frames.
func (r *Recorder) Close() {
	for i := range r.frames {
		if !r.frames[i].Empty() {
			r.frames[i].Close()
		}
	}
}
