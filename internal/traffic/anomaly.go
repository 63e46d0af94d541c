package traffic

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// AnomalyConfig holds configuration for the physics anomaly layer.
type AnomalyConfig struct {
	Enabled bool
	// DecelThreshold: any of the last three acceleration magnitudes above
	// this reads as a sudden deceleration.
	DecelThreshold float64
	// ReversalAngleDeg: a velocity direction change beyond this, measured
	// against the velocity three samples back, reads as an impact
	// deflection.
	ReversalAngleDeg float64
	// SpikeWindow, SpikeRange, SpikeMax define the spike-then-drop
	// signature: over the last SpikeWindow accelerations, max-min must
	// exceed SpikeRange and max must exceed SpikeMax.
	SpikeWindow int
	SpikeRange  float64
	SpikeMax    float64
}

// DefaultAnomalyConfig returns the default physics anomaly configuration.
func DefaultAnomalyConfig() AnomalyConfig {
	return AnomalyConfig{
		Enabled:          true,
		DecelThreshold:   11.0,
		ReversalAngleDeg: 45.0,
		SpikeWindow:      4,
		SpikeRange:       6.0,
		SpikeMax:         8.0,
	}
}

// PhysicsAnalysis is the diagnostic payload the anomaly layer attaches to a
// candidate.
type PhysicsAnalysis struct {
	Decel1, Decel2       bool
	Reversal1, Reversal2 bool
	Spike1, Spike2       bool
}

// AnomalyLayer inspects recent acceleration and velocity-direction history
// for kinematic signatures of impact. A single deceleration threshold cannot
// separate a T-bone from ordinary braking, so three signatures are OR-ed:
// sudden deceleration, direction reversal, and an acceleration
// spike-then-drop.
type AnomalyLayer struct {
	Config AnomalyConfig
}

// NewAnomalyLayer creates the layer with the given configuration.
func NewAnomalyLayer(config AnomalyConfig) *AnomalyLayer {
	return &AnomalyLayer{Config: config}
}

// Validate marks the physics verdict on each candidate: pass when either
// vehicle shows any anomaly signature.
func (l *AnomalyLayer) Validate(candidates []*CollisionCandidate) {
	for _, c := range candidates {
		c.Layers[LayerPhysics] = false
		if !l.Config.Enabled {
			continue
		}
		a1 := l.vehicleAnomaly(c.Track1)
		a2 := l.vehicleAnomaly(c.Track2)
		c.Physics = &PhysicsAnalysis{
			Decel1: a1.decel, Decel2: a2.decel,
			Reversal1: a1.reversal, Reversal2: a2.reversal,
			Spike1: a1.spike, Spike2: a2.spike,
		}
		c.Layers[LayerPhysics] = a1.any() || a2.any()
	}
}

type anomalyVerdict struct {
	decel    bool
	reversal bool
	spike    bool
}

func (v anomalyVerdict) any() bool { return v.decel || v.reversal || v.spike }

// DetectAnomaly reports whether a single vehicle shows any impact signature.
// Requires at least three acceleration and three velocity samples.
func (l *AnomalyLayer) DetectAnomaly(v *TrackedVehicle) bool {
	return l.vehicleAnomaly(v).any()
}

func (l *AnomalyLayer) vehicleAnomaly(v *TrackedVehicle) anomalyVerdict {
	if len(v.AccelHistory) < 3 || len(v.VelocityHistory) < 3 {
		return anomalyVerdict{}
	}

	var out anomalyVerdict

	// Signature 1: sudden deceleration in the last three samples.
	last3 := v.AccelHistory[len(v.AccelHistory)-3:]
	out.decel = floats.Max(last3) > l.Config.DecelThreshold

	// Signature 2: direction change versus three samples back. The absolute
	// dot product folds the angle into [0°, 90°], so this fires on sharp
	// deflections rather than clean 180° reversals; the deceleration
	// signature covers the latter.
	vOld := v.VelocityHistory[len(v.VelocityHistory)-3]
	vNew := v.VelocityHistory[len(v.VelocityHistory)-1]
	if n1, n2 := vOld.Norm(), vNew.Norm(); n1 > 0 && n2 > 0 {
		cos := math.Abs(vOld.Dot(vNew)) / (n1 * n2)
		cos = math.Min(1, cos)
		angle := math.Acos(cos) * 180 / math.Pi
		out.reversal = angle > l.Config.ReversalAngleDeg
	}

	// Signature 3: spike-then-drop over the recent acceleration window.
	w := l.Config.SpikeWindow
	if w > len(v.AccelHistory) {
		w = len(v.AccelHistory)
	}
	window := v.AccelHistory[len(v.AccelHistory)-w:]
	max, min := floats.Max(window), floats.Min(window)
	out.spike = max-min > l.Config.SpikeRange && max > l.Config.SpikeMax

	return out
}
