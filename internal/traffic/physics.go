package traffic

// History caps for the physics series. Short windows keep the anomaly layer
// reactive to recent impacts rather than long-term drift.
const (
	MaxSpeedHistory    = 10
	MaxVelocityHistory = 8
	MaxAccelHistory    = 8
)

// PhysicsConfig holds configuration for the physics estimator.
type PhysicsConfig struct {
	// SmoothingAlpha is the exponential smoothing factor applied to raw
	// frame-to-frame velocity. 0.7 favours responsiveness over denoising.
	SmoothingAlpha float64
	// StationarySpeed is the speed below which a vehicle counts as stopped.
	StationarySpeed float64
}

// DefaultPhysicsConfig returns the default physics estimator configuration.
func DefaultPhysicsConfig() PhysicsConfig {
	return PhysicsConfig{
		SmoothingAlpha:  0.7,
		StationarySpeed: 2.0,
	}
}

// PhysicsEstimator derives smoothed velocity, speed and acceleration series
// from tracker position history. It mutates tracker state in place.
type PhysicsEstimator struct {
	Config PhysicsConfig
}

// NewPhysicsEstimator creates an estimator with the given configuration.
func NewPhysicsEstimator(config PhysicsConfig) *PhysicsEstimator {
	return &PhysicsEstimator{Config: config}
}

// UpdatePhysics refreshes the physics series for each of the given track IDs.
// Tracks with fewer than two history points are skipped this frame.
func (p *PhysicsEstimator) UpdatePhysics(tracker *Tracker, ids []int64, frameIndex int64) {
	for _, id := range ids {
		p.updateVehicle(tracker.Track(id), frameIndex)
	}
}

func (p *PhysicsEstimator) updateVehicle(v *TrackedVehicle, frameIndex int64) {
	n := len(v.History)
	if n < 2 {
		return
	}

	raw := v.History[n-1].Sub(v.History[n-2])

	var smoothed Point
	if v.Velocity == nil {
		smoothed = raw
	} else {
		a := p.Config.SmoothingAlpha
		smoothed = raw.Scale(a).Add(v.Velocity.Scale(1 - a))
	}

	// Acceleration magnitude over the smoothed series.
	if v.Velocity != nil {
		accel := smoothed.Sub(*v.Velocity).Norm()
		v.AccelHistory = append(v.AccelHistory, accel)
		if len(v.AccelHistory) > MaxAccelHistory {
			v.AccelHistory = v.AccelHistory[1:]
		}
	}

	v.Velocity = &smoothed
	v.Speed = smoothed.Norm()

	v.VelocityHistory = append(v.VelocityHistory, smoothed)
	if len(v.VelocityHistory) > MaxVelocityHistory {
		v.VelocityHistory = v.VelocityHistory[1:]
	}

	v.SpeedHistory = append(v.SpeedHistory, v.Speed)
	if len(v.SpeedHistory) > MaxSpeedHistory {
		v.SpeedHistory = v.SpeedHistory[1:]
	}

	// Stationary bookkeeping for the stopped-vehicle detector.
	if v.Speed < p.Config.StationarySpeed {
		if v.StoppedSince < 0 {
			v.StoppedSince = frameIndex
		}
	} else {
		v.StoppedSince = -1
		v.stoppedReported = false
	}
}
