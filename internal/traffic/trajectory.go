package traffic

import "math"

// TrajectoryConfig holds configuration for collision candidate generation.
type TrajectoryConfig struct {
	MinTrajectoryLength int     // History points required before a track can pair
	MinCollisionSpeed   float64 // Minimum speed for both vehicles (px/frame)
	MaxPairDistance     float64 // Pairs further apart than this never qualify (px)
	MinApproachSpeed    float64 // Near-stationary rejection inside the approach test
	MinRelativeSpeed    float64 // Minimum ‖Δv‖; filters same-direction flow
	SameDirectionAngle  float64 // Below this angle (deg) pairs are never approaching
	HeadOnAngle         float64 // Above this angle (deg) the stronger closing gate applies
	HeadOnClosingDot    float64 // Δp·Δv must be below this for head-on pairs
	CollisionDistance   float64 // Predicted contact distance (px)
	PredictionHorizon   int     // Extrapolation steps (frames)
	FPS                 float64 // Frames per second, for TTC conversion
	MaxTTC              float64 // Predictions further out than this are rejected (s)
}

// DefaultTrajectoryConfig returns the default trajectory layer configuration.
func DefaultTrajectoryConfig() TrajectoryConfig {
	return TrajectoryConfig{
		MinTrajectoryLength: 10,
		MinCollisionSpeed:   6.0,
		MaxPairDistance:     150.0,
		MinApproachSpeed:    3.0,
		MinRelativeSpeed:    4.0,
		SameDirectionAngle:  60.0,
		HeadOnAngle:         120.0,
		HeadOnClosingDot:    -3.0,
		CollisionDistance:   30.0,
		PredictionHorizon:   30,
		FPS:                 30.0,
		MaxTTC:              2.0,
	}
}

// TrajectoryLayer generates collision candidates by linear extrapolation of
// track pairs. It is the only hard gate in the validation stack: a pair that
// fails here never becomes a candidate at all.
type TrajectoryLayer struct {
	Config TrajectoryConfig
}

// NewTrajectoryLayer creates the layer with the given configuration.
func NewTrajectoryLayer(config TrajectoryConfig) *TrajectoryLayer {
	return &TrajectoryLayer{Config: config}
}

// Detect examines every unordered pair of active tracks and returns the
// candidates whose extrapolated paths reach contact distance within the
// prediction horizon while still approaching.
func (l *TrajectoryLayer) Detect(tracks []*TrackedVehicle) []*CollisionCandidate {
	var candidates []*CollisionCandidate
	for i := 0; i < len(tracks); i++ {
		for j := i + 1; j < len(tracks); j++ {
			a, b := tracks[i], tracks[j]
			if !l.isCandidatePair(a, b) {
				continue
			}
			if !l.approaching(a, b) {
				continue
			}
			data, ok := l.predict(a, b)
			if !ok {
				continue
			}
			candidates = append(candidates, newCandidate(a, b, data))
		}
	}
	return candidates
}

// isCandidatePair applies the cheap per-track gates before any pair geometry.
func (l *TrajectoryLayer) isCandidatePair(a, b *TrackedVehicle) bool {
	for _, v := range [2]*TrackedVehicle{a, b} {
		if v.Velocity == nil {
			return false
		}
		if len(v.History) < l.Config.MinTrajectoryLength {
			return false
		}
		if v.Speed < l.Config.MinCollisionSpeed {
			return false
		}
	}
	return true
}

// approaching classifies the pair geometry by the angle between the two
// velocity vectors. Same-direction pairs are rejected outright; that filter
// is the primary defence against highway-lane false positives. Perpendicular
// pairs need any closing motion, head-on pairs need stronger closing
// evidence because the relative speed there is naturally large.
func (l *TrajectoryLayer) approaching(a, b *TrackedVehicle) bool {
	dp := b.Center.Sub(a.Center)
	dv := b.Velocity.Sub(*a.Velocity)

	if dp.Norm() > l.Config.MaxPairDistance {
		return false
	}
	if a.Speed < l.Config.MinApproachSpeed || b.Speed < l.Config.MinApproachSpeed {
		return false
	}
	if dv.Norm() < l.Config.MinRelativeSpeed {
		return false
	}

	angle := angleBetweenDeg(*a.Velocity, *b.Velocity)
	switch {
	case angle < l.Config.SameDirectionAngle:
		return false
	case angle > l.Config.HeadOnAngle:
		return dp.Dot(dv) < l.Config.HeadOnClosingDot
	default:
		return dp.Dot(dv) < 0
	}
}

// predict linearly extrapolates both tracks and reports the first step at
// which they reach contact distance while still closing. The TTC upper bound
// discards extrapolations too far out to be reliable.
func (l *TrajectoryLayer) predict(a, b *TrackedVehicle) (CollisionData, bool) {
	minDist := math.Inf(1)

	for t := 1; t <= l.Config.PredictionHorizon; t++ {
		ft := float64(t)
		pa := a.Center.Add(a.Velocity.Scale(ft))
		pb := b.Center.Add(b.Velocity.Scale(ft))

		dp := pb.Sub(pa)
		dist := dp.Norm()
		if dist < minDist {
			minDist = dist
		}

		if dist < l.Config.CollisionDistance {
			dv := b.Velocity.Sub(*a.Velocity)
			if dp.Dot(dv) >= 0 {
				// Already separating at the predicted frame.
				continue
			}
			ttc := ft / l.Config.FPS
			if ttc > l.Config.MaxTTC {
				return CollisionData{}, false
			}
			mid := pa.Add(pb).Scale(0.5)
			return CollisionData{
				TTC:            ttc,
				CollisionPoint: mid,
				MinDistance:    minDist,
				FramesAhead:    t,
			}, true
		}
	}
	return CollisionData{}, false
}

// angleBetweenDeg returns the unsigned angle between two vectors in degrees.
func angleBetweenDeg(u, v Point) float64 {
	nu, nv := u.Norm(), v.Norm()
	if nu == 0 || nv == 0 {
		return 0
	}
	cos := u.Dot(v) / (nu * nv)
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos) * 180 / math.Pi
}
