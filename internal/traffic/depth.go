package traffic

import (
	"image"

	"gonum.org/v1/gonum/stat"
)

// DepthConfig holds configuration for the depth validation layer.
type DepthConfig struct {
	Enabled bool
	// MatchDistance is the maximum centre distance between a tracked vehicle
	// and a raw detection for the detection's crop to stand in for it (px).
	MatchDistance float64
	// DiffThreshold is the maximum depth-score difference for two vehicles to
	// count as being on the same depth plane.
	DiffThreshold float64
	// ShadowThreshold: the bottom band counts as shadowed when its mean
	// intensity is below this fraction of the whole crop's mean.
	ShadowThreshold float64
}

// DefaultDepthConfig returns the default depth layer configuration.
func DefaultDepthConfig() DepthConfig {
	return DepthConfig{
		Enabled:         true,
		MatchDistance:   50.0,
		DiffThreshold:   0.3,
		ShadowThreshold: 0.8,
	}
}

// DepthAnalysis is the diagnostic payload the depth layer attaches to a
// candidate.
type DepthAnalysis struct {
	Score1  float64
	Score2  float64
	Diff    float64
	Shadow1 bool
	Shadow2 bool
	// Matched is false when either vehicle had no nearby detection this
	// frame, in which case the scores are meaningless.
	Matched bool
}

// depthScore is the per-detection estimate: normalised crop intensity scaled
// by the detection's share of the frame. Brighter, larger boxes read as
// nearer. No true depth is available from a single camera; the score only
// needs to separate a near car from a far one it happens to overlap.
type depthScore struct {
	score  float64
	shadow bool
	center Point
}

// DepthLayer estimates a coarse relative depth per detection from intensity
// and shadow cues and confirms candidates whose vehicles sit on a similar
// depth plane. It is a soft layer: it annotates, it never drops.
type DepthLayer struct {
	Config DepthConfig
}

// NewDepthLayer creates the layer with the given configuration.
func NewDepthLayer(config DepthConfig) *DepthLayer {
	return &DepthLayer{Config: config}
}

// Validate scores each detection crop against the frame and marks the depth
// verdict on every candidate. A nil frame, a disabled layer, or a vehicle
// with no matching detection leaves the verdict false without touching the
// candidate otherwise.
func (l *DepthLayer) Validate(frame *image.Gray, candidates []*CollisionCandidate, detections []Detection) {
	for _, c := range candidates {
		c.Layers[LayerDepth] = false
	}
	if !l.Config.Enabled || frame == nil || len(candidates) == 0 {
		return
	}

	scores := make([]depthScore, 0, len(detections))
	for _, det := range detections {
		if s, ok := l.scoreDetection(frame, det); ok {
			scores = append(scores, s)
		}
	}

	for _, c := range candidates {
		s1, ok1 := l.nearestScore(scores, c.Track1.Center)
		s2, ok2 := l.nearestScore(scores, c.Track2.Center)
		if !ok1 || !ok2 {
			c.Depth = &DepthAnalysis{Matched: false}
			continue
		}
		diff := s1.score - s2.score
		if diff < 0 {
			diff = -diff
		}
		c.Depth = &DepthAnalysis{
			Score1:  s1.score,
			Score2:  s2.score,
			Diff:    diff,
			Shadow1: s1.shadow,
			Shadow2: s2.shadow,
			Matched: true,
		}
		c.Layers[LayerDepth] = diff < l.Config.DiffThreshold
	}
}

// scoreDetection computes the depth score for one detection's crop. Zero-size
// or fully out-of-frame crops are skipped for this frame only.
func (l *DepthLayer) scoreDetection(frame *image.Gray, det Detection) (depthScore, bool) {
	crop := clipRect(det.BBox, frame.Bounds())
	if crop.Dx() <= 0 || crop.Dy() <= 0 {
		return depthScore{}, false
	}

	mean := regionMeanIntensity(frame, crop)

	// Bottom 20% of the box is where a grounded vehicle casts its shadow.
	shadowBand := crop
	shadowBand.Min.Y = crop.Max.Y - crop.Dy()/5
	if shadowBand.Dy() <= 0 {
		shadowBand.Min.Y = crop.Max.Y - 1
	}
	bottom := regionMeanIntensity(frame, shadowBand)

	// Intensity carries the depth signal; the area term only discounts boxes
	// partially clipped by the frame edge. For a fully visible box the ratio
	// is 1 and the score is mean/255, independent of frame resolution.
	cropArea := float64(crop.Dx() * crop.Dy())
	score := (mean / 255.0) * (cropArea / det.Area())

	return depthScore{
		score:  score,
		shadow: bottom < mean*l.Config.ShadowThreshold,
		center: det.Center(),
	}, true
}

// nearestScore finds the scored detection closest to a track centre within
// the match gate.
func (l *DepthLayer) nearestScore(scores []depthScore, center Point) (depthScore, bool) {
	best := depthScore{}
	bestDist := l.Config.MatchDistance
	found := false
	for _, s := range scores {
		if d := s.center.Dist(center); d <= bestDist {
			best = s
			bestDist = d
			found = true
		}
	}
	return best, found
}

// regionMeanIntensity returns the mean pixel value over a rect of a grayscale
// frame. The rect must be non-empty and inside the frame bounds.
func regionMeanIntensity(frame *image.Gray, r image.Rectangle) float64 {
	vals := make([]float64, 0, r.Dx()*r.Dy())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := frame.Pix[(y-frame.Rect.Min.Y)*frame.Stride:]
		for x := r.Min.X; x < r.Max.X; x++ {
			vals = append(vals, float64(row[x-frame.Rect.Min.X]))
		}
	}
	return stat.Mean(vals, nil)
}

// clipRect converts a pixel bbox to an image.Rectangle clipped to bounds.
func clipRect(b BBox, bounds image.Rectangle) image.Rectangle {
	r := image.Rect(int(b.X), int(b.Y), int(b.X+b.W), int(b.Y+b.H))
	return r.Intersect(bounds)
}
