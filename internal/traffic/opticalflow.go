package traffic

import "image"

// MaxFlowPoints caps the per-vehicle rolling buffer of recent centre points.
const MaxFlowPoints = 5

// FlowConfig holds configuration for the optical-flow validation layer.
type FlowConfig struct {
	Enabled bool
	// MagnitudeThreshold is the flow displacement (px) above which a vehicle
	// counts as having a sudden, detector-independent motion spike.
	MagnitudeThreshold float64
}

// DefaultFlowConfig returns the default optical-flow layer configuration.
func DefaultFlowConfig() FlowConfig {
	return FlowConfig{
		Enabled:            true,
		MagnitudeThreshold: 20.0,
	}
}

// FlowEstimator computes sparse optical flow for a single point between two
// consecutive grayscale frames. ok is false when flow could not be computed
// (failed convergence, empty corner set, point outside frame); that is a
// normal condition, not an error, and the layer soft-fails on it.
type FlowEstimator interface {
	Flow(prev, curr *image.Gray, at Point) (magnitude float64, ok bool)
}

// FlowAnalysis is the diagnostic payload the flow layer attaches to a
// candidate.
type FlowAnalysis struct {
	Magnitude1 float64
	Magnitude2 float64
	Computed1  bool
	Computed2  bool
}

// FlowLayer validates candidates by looking for sudden sparse-flow spikes at
// each vehicle's last known point. Like depth, it is a soft layer.
type FlowLayer struct {
	Config    FlowConfig
	Estimator FlowEstimator

	// points holds each vehicle's recent centre points, newest last.
	points map[int64][]Point
}

// NewFlowLayer creates the layer. A nil estimator disables flow computation;
// every candidate then carries a false verdict, matching the soft-fail
// contract.
func NewFlowLayer(config FlowConfig, estimator FlowEstimator) *FlowLayer {
	return &FlowLayer{
		Config:    config,
		Estimator: estimator,
		points:    make(map[int64][]Point),
	}
}

// Observe records the current centre point for a vehicle. Called for every
// active track each frame so the buffer exists before the vehicle ever
// becomes part of a candidate.
func (l *FlowLayer) Observe(v *TrackedVehicle) {
	buf := append(l.points[v.ID], v.Center)
	if len(buf) > MaxFlowPoints {
		buf = buf[1:]
	}
	l.points[v.ID] = buf
}

// Forget drops the buffer for a vehicle that no longer exists.
func (l *FlowLayer) Forget(id int64) {
	delete(l.points, id)
}

// Validate computes flow for both vehicles of each candidate between the
// previous and current frame and passes the layer when either magnitude
// exceeds the threshold.
func (l *FlowLayer) Validate(curr, prev *image.Gray, candidates []*CollisionCandidate) {
	for _, c := range candidates {
		c.Layers[LayerOpticalFlow] = false
	}
	if !l.Config.Enabled || l.Estimator == nil || curr == nil || prev == nil {
		return
	}

	for _, c := range candidates {
		m1, ok1 := l.vehicleFlow(curr, prev, c.Track1)
		m2, ok2 := l.vehicleFlow(curr, prev, c.Track2)
		c.Flow = &FlowAnalysis{
			Magnitude1: m1,
			Magnitude2: m2,
			Computed1:  ok1,
			Computed2:  ok2,
		}
		pass := (ok1 && m1 > l.Config.MagnitudeThreshold) ||
			(ok2 && m2 > l.Config.MagnitudeThreshold)
		c.Layers[LayerOpticalFlow] = pass
	}
}

// vehicleFlow runs the estimator from the vehicle's previous-frame point.
// Needs at least two buffered points: the newest is the current frame's
// centre, the one before it belongs to the previous frame.
func (l *FlowLayer) vehicleFlow(curr, prev *image.Gray, v *TrackedVehicle) (float64, bool) {
	buf := l.points[v.ID]
	if len(buf) < 2 {
		return 0, false
	}
	return l.Estimator.Flow(prev, curr, buf[len(buf)-2])
}

// Reset drops all rolling buffers.
func (l *FlowLayer) Reset() {
	l.points = make(map[int64][]Point)
}
