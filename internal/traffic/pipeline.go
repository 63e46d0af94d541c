package traffic

import (
	"image"
	"sync"
	"time"
)

// Config aggregates the per-stage configurations for one pipeline instance.
type Config struct {
	Tracker    TrackerConfig
	Physics    PhysicsConfig
	Trajectory TrajectoryConfig
	Depth      DepthConfig
	Flow       FlowConfig
	Anomaly    AnomalyConfig
	Fusion     FusionConfig
	Secondary  SecondaryConfig
}

// DefaultConfig returns defaults for every stage.
func DefaultConfig() Config {
	return Config{
		Tracker:    DefaultTrackerConfig(),
		Physics:    DefaultPhysicsConfig(),
		Trajectory: DefaultTrajectoryConfig(),
		Depth:      DefaultDepthConfig(),
		Flow:       DefaultFlowConfig(),
		Anomaly:    DefaultAnomalyConfig(),
		Fusion:     DefaultFusionConfig(),
		Secondary:  DefaultSecondaryConfig(),
	}
}

// Frame is one fully decoded input frame: the detector's output plus an
// optional grayscale image for the depth and flow layers. Gray may be nil
// (replay logs carry no pixels); the image layers then soft-fail.
type Frame struct {
	Index      int64
	Time       time.Time
	Gray       *image.Gray
	Detections []Detection
}

// LayerStats counts per-layer confirmations across a run.
type LayerStats struct {
	TrajectoryDetected int64 `json:"trajectory_detected"`
	DepthConfirmed     int64 `json:"depth_confirmed"`
	FlowConfirmed      int64 `json:"flow_confirmed"`
	PhysicsConfirmed   int64 `json:"physics_confirmed"`
	FinalConfirmed     int64 `json:"final_confirmed"`
}

// Analytics is the running counter structure handed to the alert sink.
type Analytics struct {
	TotalFrames       int64                 `json:"total_frames"`
	TotalDetections   int64                 `json:"total_detections"`
	IncidentsDetected int64                 `json:"incidents_detected"`
	ClassTotals       map[ObjectClass]int64 `json:"class_totals"`
	Layers            LayerStats            `json:"collision_layers"`
}

// Pipeline orchestrates one camera stream: tracker update, physics update,
// the four validation layers in order, fusion, then the secondary detectors.
// One frame is fully processed before the next; all state is owned by the
// calling goroutine.
type Pipeline struct {
	Tracker   *Tracker
	Physics   *PhysicsEstimator
	Layer1    *TrajectoryLayer
	Layer2    *DepthLayer
	Layer3    *FlowLayer
	Layer4    *AnomalyLayer
	Fusion    *Fusion
	Secondary *SecondaryDetectors

	// Stats is owned by the processing goroutine. Snapshot readers get the
	// published copy, refreshed at the end of each frame.
	Stats Analytics

	prevGray *image.Gray

	mu        sync.Mutex
	published Analytics
}

// NewPipeline builds a pipeline. The flow estimator may be nil; the optical
// flow layer then reports false for every candidate.
func NewPipeline(config Config, flow FlowEstimator) *Pipeline {
	p := &Pipeline{
		Tracker:   NewTracker(config.Tracker),
		Physics:   NewPhysicsEstimator(config.Physics),
		Layer1:    NewTrajectoryLayer(config.Trajectory),
		Layer2:    NewDepthLayer(config.Depth),
		Layer3:    NewFlowLayer(config.Flow, flow),
		Layer4:    NewAnomalyLayer(config.Anomaly),
		Fusion:    NewFusion(config.Fusion),
		Secondary: NewSecondaryDetectors(config.Secondary),
		Stats:     Analytics{ClassTotals: make(map[ObjectClass]int64)},
	}
	p.publishStats()
	return p
}

// ApplyConfig swaps stage configurations between frames. Safe only from the
// pipeline's own goroutine; state (tracks, histories, cooldowns) is kept.
func (p *Pipeline) ApplyConfig(config Config) {
	p.Tracker.Config = config.Tracker
	p.Physics.Config = config.Physics
	p.Layer1.Config = config.Trajectory
	p.Layer2.Config = config.Depth
	p.Layer3.Config = config.Flow
	p.Layer4.Config = config.Anomaly
	p.Fusion.Config = config.Fusion
	p.Secondary.Config = config.Secondary
}

// ProcessFrame runs the full per-frame flow and returns the incidents
// detected this frame. A layer failure degrades that layer's verdict, never
// the whole frame.
func (p *Pipeline) ProcessFrame(f Frame) []Incident {
	now := f.Time
	if now.IsZero() {
		now = time.Now()
	}

	p.Stats.TotalFrames++
	p.Stats.TotalDetections += int64(len(f.Detections))
	for _, det := range f.Detections {
		p.Stats.ClassTotals[det.Class]++
	}

	ids := p.Tracker.Update(f.Detections, f.Index)
	for _, id := range p.Tracker.RemovedIDs() {
		p.Layer3.Forget(id)
		p.Fusion.Forget(id)
	}
	p.Physics.UpdatePhysics(p.Tracker, ids, f.Index)

	active := p.Tracker.ActiveTracks()
	for _, v := range active {
		p.Layer3.Observe(v)
	}

	candidates := p.Layer1.Detect(active)
	p.Stats.Layers.TrajectoryDetected += int64(len(candidates))

	p.Layer2.Validate(f.Gray, candidates, f.Detections)
	p.Layer3.Validate(f.Gray, p.prevGray, candidates)
	p.Layer4.Validate(candidates)
	for _, c := range candidates {
		if c.Layers[LayerDepth] {
			p.Stats.Layers.DepthConfirmed++
		}
		if c.Layers[LayerOpticalFlow] {
			p.Stats.Layers.FlowConfirmed++
		}
		if c.Layers[LayerPhysics] {
			p.Stats.Layers.PhysicsConfirmed++
		}
	}

	incidents := p.Fusion.Finalize(candidates, f.Index, now)
	p.Stats.Layers.FinalConfirmed += int64(len(incidents))

	incidents = append(incidents, p.Secondary.Detect(p.Tracker, f.Detections, f.Index, now)...)
	p.Stats.IncidentsDetected += int64(len(incidents))

	p.prevGray = f.Gray
	p.publishStats()
	return incidents
}

// publishStats copies the loop-owned counters into the guarded mirror read
// by Snapshot.
func (p *Pipeline) publishStats() {
	out := p.Stats
	out.ClassTotals = make(map[ObjectClass]int64, len(p.Stats.ClassTotals))
	for k, v := range p.Stats.ClassTotals {
		out.ClassTotals[k] = v
	}
	p.mu.Lock()
	p.published = out
	p.mu.Unlock()
}

// Snapshot returns a copy of the analytics counters as of the last completed
// frame. Safe to call from any goroutine.
func (p *Pipeline) Snapshot() Analytics {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.published
	out.ClassTotals = make(map[ObjectClass]int64, len(p.published.ClassTotals))
	for k, v := range p.published.ClassTotals {
		out.ClassTotals[k] = v
	}
	return out
}

// Reset drops all per-stream state and counters.
func (p *Pipeline) Reset() {
	p.Tracker.Reset()
	p.Layer3.Reset()
	p.Fusion.Reset()
	p.Secondary.Reset()
	p.Stats = Analytics{ClassTotals: make(map[ObjectClass]int64)}
	p.prevGray = nil
	p.publishStats()
}
