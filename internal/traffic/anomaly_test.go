package traffic

import "testing"

// anomalyTrack builds a track with the given physics series and a steady
// straight-line velocity history unless overridden.
func anomalyTrack(id int64, accel []float64, velocities []Point) *TrackedVehicle {
	if velocities == nil {
		velocities = []Point{{X: 10, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 0}}
	}
	return &TrackedVehicle{
		ID:              id,
		Class:           ClassCar,
		AccelHistory:    accel,
		VelocityHistory: velocities,
	}
}

func TestSuddenDecelerationSignature(t *testing.T) {
	l := NewAnomalyLayer(DefaultAnomalyConfig())

	v := anomalyTrack(1, []float64{2, 3, 14}, nil)
	if !l.DetectAnomaly(v) {
		t.Error("accel spike of 14 above threshold 11 not detected")
	}

	v = anomalyTrack(1, []float64{5, 6, 10}, nil)
	if l.DetectAnomaly(v) {
		t.Error("steady accel under every threshold flagged")
	}
}

func TestDirectionChangeSignature(t *testing.T) {
	l := NewAnomalyLayer(DefaultAnomalyConfig())

	// 90 degree turn over three samples.
	v := anomalyTrack(1, []float64{1, 1, 1}, []Point{
		{X: 10, Y: 0}, {X: 7, Y: 7}, {X: 0, Y: 10},
	})
	if !l.DetectAnomaly(v) {
		t.Error("90 degree direction change not detected")
	}

	// A clean 180 degree reversal folds to 0 under the absolute dot and is
	// deliberately not a direction-change anomaly.
	v = anomalyTrack(1, []float64{1, 1, 1}, []Point{
		{X: 10, Y: 0}, {X: 0, Y: 0.1}, {X: -10, Y: 0},
	})
	if l.DetectAnomaly(v) {
		t.Error("180 degree reversal flagged as direction change")
	}

	// 30 degrees is inside the threshold.
	v = anomalyTrack(1, []float64{1, 1, 1}, []Point{
		{X: 10, Y: 0}, {X: 9, Y: 3}, {X: 8.66, Y: 5},
	})
	if l.DetectAnomaly(v) {
		t.Error("30 degree turn flagged")
	}
}

func TestSpikeThenDropSignature(t *testing.T) {
	l := NewAnomalyLayer(DefaultAnomalyConfig())

	// Range 9-1=8 over the window with max 9: spike, but no single sample
	// over the deceleration threshold.
	v := anomalyTrack(1, []float64{1, 9, 1}, nil)
	if !l.DetectAnomaly(v) {
		t.Error("spike-then-drop 1,9,1 not detected")
	}

	// Range too small.
	v = anomalyTrack(1, []float64{3, 7, 3}, nil)
	if l.DetectAnomaly(v) {
		t.Error("range 4 flagged as spike")
	}

	// Large range but max under the spike floor.
	v = anomalyTrack(1, []float64{0.5, 7.5, 0.5}, nil)
	if l.DetectAnomaly(v) {
		t.Error("max 7.5 under spike floor flagged")
	}
}

func TestAnomalyNeedsHistory(t *testing.T) {
	l := NewAnomalyLayer(DefaultAnomalyConfig())

	v := anomalyTrack(1, []float64{20, 20}, nil)
	if l.DetectAnomaly(v) {
		t.Error("two accel samples flagged; three are required")
	}

	v = anomalyTrack(1, []float64{20, 20, 20}, []Point{{X: 10, Y: 0}, {X: 10, Y: 0}})
	if l.DetectAnomaly(v) {
		t.Error("two velocity samples flagged; three are required")
	}
}

func TestAnomalyValidateMarksCandidates(t *testing.T) {
	l := NewAnomalyLayer(DefaultAnomalyConfig())

	calm := anomalyTrack(1, []float64{1, 1, 1}, nil)
	impacted := anomalyTrack(2, []float64{2, 3, 14}, nil)
	c := newCandidate(calm, impacted, CollisionData{})

	l.Validate([]*CollisionCandidate{c})

	if !c.Layers[LayerPhysics] {
		t.Error("physics verdict = false, want true when either vehicle is anomalous")
	}
	if c.Physics == nil {
		t.Fatal("physics analysis missing")
	}
	if c.Physics.Decel1 || !c.Physics.Decel2 {
		t.Errorf("decel flags = (%v, %v), want (false, true)", c.Physics.Decel1, c.Physics.Decel2)
	}

	// Both calm: verdict false.
	c2 := newCandidate(calm, anomalyTrack(3, []float64{1, 1, 1}, nil), CollisionData{})
	l.Validate([]*CollisionCandidate{c2})
	if c2.Layers[LayerPhysics] {
		t.Error("physics verdict = true for two calm vehicles")
	}
}

func TestAnomalyDisabled(t *testing.T) {
	cfg := DefaultAnomalyConfig()
	cfg.Enabled = false
	l := NewAnomalyLayer(cfg)

	c := newCandidate(
		anomalyTrack(1, []float64{2, 3, 14}, nil),
		anomalyTrack(2, []float64{2, 3, 14}, nil),
		CollisionData{},
	)
	c.Layers[LayerPhysics] = true
	l.Validate([]*CollisionCandidate{c})
	if c.Layers[LayerPhysics] {
		t.Error("disabled layer left verdict true")
	}
}
