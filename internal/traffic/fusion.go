package traffic

import (
	"time"

	"github.com/google/uuid"
)

// FusionMode selects which decision rule turns layer verdicts into incidents.
type FusionMode string

const (
	// FusionWeighted scores trajectory and physics as core evidence (weight
	// 3 each) and depth and flow as support (weight 1 each). This is the
	// primary scheme: trajectory and physics are the two independent
	// kinematic signals, depth and flow only corroborate.
	FusionWeighted FusionMode = "weighted"
	// FusionAgreement is the simpler legacy rule: a minimum count of
	// passing layers plus a confidence threshold.
	FusionAgreement FusionMode = "agreement"
)

// FusionConfig holds configuration for the decision engine.
type FusionConfig struct {
	Mode FusionMode

	// Agreement-mode knobs.
	MinLayerAgreement   int
	ConfidenceThreshold float64
	RequireAllLayers    bool

	// Persistence is how many consecutive frames a pair must be flagged
	// before the first incident fires. Suppresses one-frame flickers.
	Persistence int

	// Cooldown suppresses repeat collision incidents for the same pair.
	Cooldown time.Duration
	// DedupDistance suppresses a new incident whose vehicle positions are
	// all within this distance of a previously reported one (px).
	DedupDistance float64
}

// DefaultFusionConfig returns the default fusion configuration.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		Mode:                FusionWeighted,
		MinLayerAgreement:   2,
		ConfidenceThreshold: 0.5,
		RequireAllLayers:    false,
		Persistence:         4,
		Cooldown:            10 * time.Second,
		DedupDistance:       50.0,
	}
}

// pairStateRetentionFrames is how long an idle pair keeps its persistence
// and cooldown state before Finalize prunes it. Longer than any cooldown at
// typical frame rates so a pruned pair cannot dodge its suppression window.
const pairStateRetentionFrames = 600

// pairKey identifies an unordered track pair; Track1.ID < Track2.ID by
// candidate construction.
type pairKey struct {
	a, b int64
}

// pairState tracks persistence and cooldown for one pair.
type pairState struct {
	count     int   // consecutive frames flagged
	lastFrame int64 // last frame this pair was flagged
	reported  bool
	lastEmit  time.Time
	positions [2]Point // positions at last emission
}

// Fusion combines layer verdicts into a confidence score and decides whether
// a candidate becomes an incident.
type Fusion struct {
	Config FusionConfig

	pairs map[pairKey]*pairState
}

// NewFusion creates the decision engine with the given configuration.
func NewFusion(config FusionConfig) *Fusion {
	return &Fusion{
		Config: config,
		pairs:  make(map[pairKey]*pairState),
	}
}

// Finalize scores each candidate and returns the incidents that clear the
// decision rule, persistence requirement, and cooldown.
func (f *Fusion) Finalize(candidates []*CollisionCandidate, frameIndex int64, now time.Time) []Incident {
	f.prune(frameIndex)

	var incidents []Incident
	for _, c := range candidates {
		confidence, emit := f.decide(c)
		if !emit {
			continue
		}
		if !f.clearGate(c, frameIndex, now) {
			continue
		}
		incidents = append(incidents, f.buildIncident(c, confidence, frameIndex, now))
	}
	return incidents
}

// Score returns the fused confidence for a candidate without any gating.
func (f *Fusion) Score(c *CollisionCandidate) float64 {
	confidence, _ := f.decide(c)
	return confidence
}

// decide applies the configured decision rule. The returned confidence is
// already floored per the rule that admitted the candidate.
func (f *Fusion) decide(c *CollisionCandidate) (float64, bool) {
	switch f.Config.Mode {
	case FusionAgreement:
		return f.decideAgreement(c)
	default:
		return f.decideWeighted(c)
	}
}

func (f *Fusion) decideWeighted(c *CollisionCandidate) (float64, bool) {
	core := 0.0
	if c.Layers[LayerTrajectory] {
		core += 3
	}
	if c.Layers[LayerPhysics] {
		core += 3
	}
	support := 0.0
	if c.Layers[LayerDepth] {
		support++
	}
	if c.Layers[LayerOpticalFlow] {
		support++
	}
	confidence := (core + support) / 8

	switch {
	case c.Layers[LayerPhysics]:
		if confidence < 0.8 {
			confidence = 0.8
		}
		return confidence, true
	case support >= 2:
		if confidence < 0.6 {
			confidence = 0.6
		}
		return confidence, true
	case confidence >= 0.5:
		return confidence, true
	}
	// Below 0.5 the candidate is dropped silently; no partial incidents.
	return confidence, false
}

func (f *Fusion) decideAgreement(c *CollisionCandidate) (float64, bool) {
	confirmed := 0
	for _, pass := range c.Layers {
		if pass {
			confirmed++
		}
	}
	confidence := float64(confirmed) / 4

	if f.Config.RequireAllLayers && confirmed < 4 {
		return confidence, false
	}
	if confirmed < f.Config.MinLayerAgreement {
		return confidence, false
	}
	if confidence < f.Config.ConfidenceThreshold {
		return confidence, false
	}
	return confidence, true
}

// clearGate enforces persistence across consecutive frames, the per-pair
// cooldown window, and positional dedup against the last reported incident.
func (f *Fusion) clearGate(c *CollisionCandidate, frameIndex int64, now time.Time) bool {
	key := pairKey{c.Track1.ID, c.Track2.ID}
	st, ok := f.pairs[key]
	if !ok {
		st = &pairState{}
		f.pairs[key] = st
	}

	if st.lastFrame == frameIndex-1 {
		st.count++
	} else {
		st.count = 1
	}
	st.lastFrame = frameIndex

	if st.count < f.Config.Persistence {
		return false
	}
	if st.reported {
		if now.Sub(st.lastEmit) < f.Config.Cooldown {
			return false
		}
		if c.Track1.Center.Dist(st.positions[0]) < f.Config.DedupDistance &&
			c.Track2.Center.Dist(st.positions[1]) < f.Config.DedupDistance {
			return false
		}
	}

	st.reported = true
	st.lastEmit = now
	st.positions = [2]Point{c.Track1.Center, c.Track2.Center}
	return true
}

func (f *Fusion) buildIncident(c *CollisionCandidate, confidence float64, frameIndex int64, now time.Time) Incident {
	point := c.Data.CollisionPoint
	return Incident{
		ID:             uuid.NewString(),
		Type:           IncidentCollision,
		Severity:       SeverityForConfidence(confidence),
		Confidence:     confidence,
		VehicleIDs:     []int64{c.Track1.ID, c.Track2.ID},
		Classes:        []ObjectClass{c.Track1.Class, c.Track2.Class},
		Positions:      []Point{c.Track1.Center, c.Track2.Center},
		PredictedPoint: &point,
		TTC:            c.Data.TTC,
		Timestamp:      now,
		FrameIndex:     frameIndex,
	}
}

// SeverityForConfidence maps a fused confidence score to a severity label.
func SeverityForConfidence(confidence float64) Severity {
	switch {
	case confidence >= 0.9:
		return SeverityCritical
	case confidence >= 0.8:
		return SeverityHigh
	case confidence >= 0.6:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Forget drops persistence and cooldown state for every pair involving the
// given track. Called when the tracker garbage collects the track; its ID is
// never reused, so the state can never be consulted again.
func (f *Fusion) Forget(id int64) {
	for key := range f.pairs {
		if key.a == id || key.b == id {
			delete(f.pairs, key)
		}
	}
}

// prune drops pair state idle for longer than the retention window.
func (f *Fusion) prune(frameIndex int64) {
	for key, st := range f.pairs {
		if frameIndex-st.lastFrame > pairStateRetentionFrames {
			delete(f.pairs, key)
		}
	}
}

// Reset drops all persistence and cooldown state.
func (f *Fusion) Reset() {
	f.pairs = make(map[pairKey]*pairState)
}
