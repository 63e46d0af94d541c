// Package capture wraps gocv for frame acquisition, object detection,
// sparse optical flow and clip recording. Everything OpenCV-specific lives
// here so the analysis pipeline stays pure Go.
package capture

import (
	"fmt"
	"image"
	"strconv"
	"time"

	"gocv.io/x/gocv"

	"github.com/banshee-data/incident.report/internal/traffic"
)

// Source reads frames from a camera device or a video file. A numeric
// source string opens the matching camera index; anything else is treated
// as a file path or stream URL.
type Source struct {
	cap   *gocv.VideoCapture
	mat   gocv.Mat
	gray  gocv.Mat
	index int64
	fps   float64
}

// OpenSource opens the capture device or file.
func OpenSource(source string) (*Source, error) {
	var (
		cap *gocv.VideoCapture
		err error
	)
	if deviceID, convErr := strconv.Atoi(source); convErr == nil {
		cap, err = gocv.OpenVideoCapture(deviceID)
	} else {
		cap, err = gocv.VideoCaptureFile(source)
	}
	if err != nil {
		return nil, fmt.Errorf("open capture source %q: %w", source, err)
	}

	fps := cap.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = 30
	}

	return &Source{
		cap:  cap,
		mat:  gocv.NewMat(),
		gray: gocv.NewMat(),
		fps:  fps,
	}, nil
}

// FPS returns the source frame rate, defaulting to 30 when the backend
// does not report one.
func (s *Source) FPS() float64 { return s.fps }

// Read pulls the next frame. It returns the BGR mat (owned by the Source,
// valid until the next Read), a grayscale copy for the analysis layers,
// and false when the stream is exhausted.
func (s *Source) Read() (gocv.Mat, *image.Gray, traffic.Frame, bool) {
	if ok := s.cap.Read(&s.mat); !ok || s.mat.Empty() {
		return s.mat, nil, traffic.Frame{}, false
	}
	s.index++

	gocv.CvtColor(s.mat, &s.gray, gocv.ColorBGRToGray)
	gray := matToGray(s.gray)

	frame := traffic.Frame{
		Index: s.index,
		Time:  time.Now(),
		Gray:  gray,
	}
	return s.mat, gray, frame, true
}

// Close releases the capture handle and scratch mats.
func (s *Source) Close() error {
	s.mat.Close()
	s.gray.Close()
	return s.cap.Close()
}

// matToGray copies a single-channel mat into an image.Gray.
func matToGray(m gocv.Mat) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Cols(), m.Rows()))
	data := m.ToBytes()
	if len(data) == len(img.Pix) {
		copy(img.Pix, data)
	}
	return img
}

// grayToMat copies an image.Gray into a fresh single-channel mat. The
// caller owns the returned mat.
func grayToMat(img *image.Gray) (gocv.Mat, error) {
	b := img.Bounds()
	return gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8U, img.Pix)
}
