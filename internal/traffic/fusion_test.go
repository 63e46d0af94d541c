package traffic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// layerCandidate builds a candidate with the given layer verdicts using the
// provided tracks.
func layerCandidate(a, b *TrackedVehicle, traj, depth, flow, physics bool) *CollisionCandidate {
	c := newCandidate(a, b, CollisionData{
		TTC:            1.2,
		CollisionPoint: Point{X: 500, Y: 300},
	})
	c.Layers[LayerTrajectory] = traj
	c.Layers[LayerDepth] = depth
	c.Layers[LayerOpticalFlow] = flow
	c.Layers[LayerPhysics] = physics
	return c
}

func fusionTracks() (*TrackedVehicle, *TrackedVehicle) {
	a := &TrackedVehicle{ID: 1, Center: Point{X: 480, Y: 300}, Class: ClassCar}
	b := &TrackedVehicle{ID: 2, Center: Point{X: 520, Y: 300}, Class: ClassTruck}
	return a, b
}

func TestWeightedScores(t *testing.T) {
	f := NewFusion(DefaultFusionConfig())
	a, b := fusionTracks()

	cases := []struct {
		name                       string
		traj, depth, flow, physics bool
		want                       float64
	}{
		{"all layers", true, true, true, true, 1.0},
		{"trajectory only", true, false, false, false, 0.375},
		{"physics floor", true, false, false, true, 0.8},
		{"physics alone floored", false, false, false, true, 0.8},
		{"core plus one support", true, true, false, true, 0.875},
		{"support floor", false, true, true, false, 0.6},
		{"trajectory plus support pair", true, true, true, false, 0.625},
		{"trajectory plus one support", true, true, false, false, 0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := layerCandidate(a, b, tc.traj, tc.depth, tc.flow, tc.physics)
			assert.InDelta(t, tc.want, f.Score(c), 1e-9)
		})
	}
}

func TestWeightedEmitFloor(t *testing.T) {
	cfg := DefaultFusionConfig()
	cfg.Persistence = 1
	f := NewFusion(cfg)
	a, b := fusionTracks()
	now := time.Now()

	// Trajectory alone scores 0.375: below the 0.5 cutoff, never emitted.
	c := layerCandidate(a, b, true, false, false, false)
	assert.Empty(t, f.Finalize([]*CollisionCandidate{c}, 10, now))

	// Trajectory plus one support is exactly 0.5 and is emitted.
	c = layerCandidate(a, b, true, true, false, false)
	got := f.Finalize([]*CollisionCandidate{c}, 11, now)
	require.Len(t, got, 1)
	assert.Equal(t, 0.5, got[0].Confidence)
	assert.Equal(t, SeverityLow, got[0].Severity)
}

func TestWeightedMonotonicity(t *testing.T) {
	f := NewFusion(DefaultFusionConfig())
	a, b := fusionTracks()

	// Adding a passing layer never lowers the fused score.
	layers := [4]bool{}
	base := f.Score(layerCandidate(a, b, layers[0], layers[1], layers[2], layers[3]))
	for i := 0; i < 4; i++ {
		next := layers
		next[i] = true
		score := f.Score(layerCandidate(a, b, next[0], next[1], next[2], next[3]))
		assert.GreaterOrEqual(t, score, base, "layer %d", i)
	}
}

func TestAgreementMode(t *testing.T) {
	cfg := DefaultFusionConfig()
	cfg.Mode = FusionAgreement
	cfg.Persistence = 1
	f := NewFusion(cfg)
	a, b := fusionTracks()
	now := time.Now()

	// One passing layer is below the agreement minimum.
	c := layerCandidate(a, b, true, false, false, false)
	assert.Empty(t, f.Finalize([]*CollisionCandidate{c}, 10, now))

	// Two layers meet both the count and the 0.5 confidence threshold.
	c = layerCandidate(a, b, true, true, false, false)
	got := f.Finalize([]*CollisionCandidate{c}, 11, now)
	require.Len(t, got, 1)
	assert.Equal(t, 0.5, got[0].Confidence)

	// RequireAllLayers demands a unanimous verdict.
	cfg.RequireAllLayers = true
	f = NewFusion(cfg)
	c = layerCandidate(a, b, true, true, true, false)
	assert.Empty(t, f.Finalize([]*CollisionCandidate{c}, 12, now))
	c = layerCandidate(a, b, true, true, true, true)
	assert.Len(t, f.Finalize([]*CollisionCandidate{c}, 13, now), 1)
}

func TestPersistenceAcrossFrames(t *testing.T) {
	f := NewFusion(DefaultFusionConfig())
	a, b := fusionTracks()
	now := time.Now()

	// Default persistence is 4 consecutive frames.
	for frame := int64(10); frame <= 12; frame++ {
		c := layerCandidate(a, b, true, false, false, true)
		require.Empty(t, f.Finalize([]*CollisionCandidate{c}, frame, now), "frame %d", frame)
	}
	c := layerCandidate(a, b, true, false, false, true)
	assert.Len(t, f.Finalize([]*CollisionCandidate{c}, 13, now), 1)
}

func TestPersistenceResetsOnGap(t *testing.T) {
	f := NewFusion(DefaultFusionConfig())
	a, b := fusionTracks()
	now := time.Now()

	flag := func(frame int64) int {
		c := layerCandidate(a, b, true, false, false, true)
		return len(f.Finalize([]*CollisionCandidate{c}, frame, now))
	}

	flag(10)
	flag(11)
	// Gap at frame 12 resets the streak.
	flag(13)
	flag(14)
	flag(15)
	assert.Equal(t, 1, flag(16), "restarted streak should emit on its fourth frame")
}

func TestCooldownAndDedup(t *testing.T) {
	f := NewFusion(DefaultFusionConfig())
	a, b := fusionTracks()
	start := time.Now()

	flag := func(frame int64, at time.Time) []Incident {
		c := layerCandidate(a, b, true, false, false, true)
		return f.Finalize([]*CollisionCandidate{c}, frame, at)
	}

	for frame := int64(10); frame <= 12; frame++ {
		flag(frame, start)
	}
	require.Len(t, flag(13, start), 1, "initial incident")

	// Same pair, same place, inside the cooldown window: suppressed.
	assert.Empty(t, flag(14, start.Add(time.Second)), "inside cooldown")

	// Cooldown elapsed but both vehicles still near the reported spot.
	assert.Empty(t, flag(15, start.Add(11*time.Second)), "within dedup distance")

	// Cooldown elapsed and the pair has moved past the dedup radius.
	a.Center = a.Center.Add(Point{X: 80, Y: 0})
	b.Center = b.Center.Add(Point{X: 80, Y: 0})
	assert.Len(t, flag(16, start.Add(12*time.Second)), 1, "moved pair after cooldown")
}

func TestBuildIncidentFields(t *testing.T) {
	cfg := DefaultFusionConfig()
	cfg.Persistence = 1
	f := NewFusion(cfg)
	a, b := fusionTracks()
	now := time.Now()

	c := layerCandidate(a, b, true, true, true, true)
	got := f.Finalize([]*CollisionCandidate{c}, 42, now)
	require.Len(t, got, 1)

	inc := got[0]
	assert.NotEmpty(t, inc.ID)
	assert.Equal(t, IncidentCollision, inc.Type)
	assert.Equal(t, SeverityCritical, inc.Severity)
	assert.Equal(t, []int64{1, 2}, inc.VehicleIDs)
	assert.Equal(t, []ObjectClass{ClassCar, ClassTruck}, inc.Classes)
	assert.Equal(t, 1.2, inc.TTC)
	require.NotNil(t, inc.PredictedPoint)
	assert.Equal(t, Point{X: 500, Y: 300}, *inc.PredictedPoint)
	assert.Equal(t, int64(42), inc.FrameIndex)
	assert.Equal(t, now, inc.Timestamp)
}

func TestSeverityForConfidence(t *testing.T) {
	cases := []struct {
		confidence float64
		want       Severity
	}{
		{0.95, SeverityCritical},
		{0.9, SeverityCritical},
		{0.85, SeverityHigh},
		{0.8, SeverityHigh},
		{0.7, SeverityMedium},
		{0.6, SeverityMedium},
		{0.5, SeverityLow},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SeverityForConfidence(tc.confidence), "confidence %f", tc.confidence)
	}
}

func TestFusionForgetDropsPairState(t *testing.T) {
	f := NewFusion(DefaultFusionConfig())
	a, b := fusionTracks()
	now := time.Now()

	c := layerCandidate(a, b, true, false, false, true)
	f.Finalize([]*CollisionCandidate{c}, 10, now)
	require.Len(t, f.pairs, 1)

	// Forgetting an uninvolved track keeps the pair; forgetting either
	// member drops it.
	f.Forget(99)
	assert.Len(t, f.pairs, 1)
	f.Forget(a.ID)
	assert.Empty(t, f.pairs)
}

func TestFusionPrunesIdlePairs(t *testing.T) {
	f := NewFusion(DefaultFusionConfig())
	a, b := fusionTracks()
	now := time.Now()

	c := layerCandidate(a, b, true, false, false, true)
	f.Finalize([]*CollisionCandidate{c}, 10, now)
	require.Len(t, f.pairs, 1)

	// Within the retention window the state survives empty frames.
	f.Finalize(nil, 10+pairStateRetentionFrames, now)
	assert.Len(t, f.pairs, 1)

	// One frame past it, the idle pair is gone.
	f.Finalize(nil, 11+pairStateRetentionFrames, now)
	assert.Empty(t, f.pairs)
}

func TestFusionReset(t *testing.T) {
	f := NewFusion(DefaultFusionConfig())
	a, b := fusionTracks()
	now := time.Now()

	for frame := int64(10); frame <= 12; frame++ {
		c := layerCandidate(a, b, true, false, false, true)
		f.Finalize([]*CollisionCandidate{c}, frame, now)
	}
	f.Reset()

	// The streak is gone; frame 13 starts over.
	c := layerCandidate(a, b, true, false, false, true)
	assert.Empty(t, f.Finalize([]*CollisionCandidate{c}, 13, now))
}
