package capture

import (
	"image"
	"math"

	"gocv.io/x/gocv"

	"github.com/banshee-data/incident.report/internal/traffic"
)

// LKFlow computes sparse Lucas-Kanade optical flow for single points. It
// satisfies the pipeline's flow estimator contract: a false return is the
// soft-fail path, never an error.
type LKFlow struct{}

// NewLKFlow returns a pyramidal Lucas-Kanade estimator.
func NewLKFlow() *LKFlow { return &LKFlow{} }

// Flow tracks the point at from prev into curr and returns the displacement
// magnitude in pixels. ok is false when the point lies outside the frame or
// LK fails to converge.
func (l *LKFlow) Flow(prev, curr *image.Gray, at traffic.Point) (float64, bool) {
	if prev == nil || curr == nil {
		return 0, false
	}
	b := prev.Bounds()
	if at.X < float64(b.Min.X) || at.X >= float64(b.Max.X) ||
		at.Y < float64(b.Min.Y) || at.Y >= float64(b.Max.Y) {
		return 0, false
	}

	prevMat, err := grayToMat(prev)
	if err != nil {
		return 0, false
	}
	defer prevMat.Close()
	currMat, err := grayToMat(curr)
	if err != nil {
		return 0, false
	}
	defer currMat.Close()

	pv := gocv.NewPoint2fVectorFromPoints([]gocv.Point2f{
		{X: float32(at.X), Y: float32(at.Y)},
	})
	defer pv.Close()
	prevPts := pv.ToMat()
	defer prevPts.Close()

	nextPts := gocv.NewMat()
	defer nextPts.Close()
	status := gocv.NewMat()
	defer status.Close()
	errMat := gocv.NewMat()
	defer errMat.Close()

	gocv.CalcOpticalFlowPyrLK(prevMat, currMat, prevPts, nextPts, &status, &errMat)

	if status.Empty() || nextPts.Empty() || status.GetUCharAt(0, 0) == 0 {
		return 0, false
	}

	moved := nextPts.GetVecfAt(0, 0)
	dx := float64(moved[0]) - at.X
	dy := float64(moved[1]) - at.Y
	return math.Hypot(dx, dy), true
}
