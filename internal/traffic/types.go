// Package traffic implements the per-camera incident detection pipeline:
// a nearest-centroid vehicle tracker, a physics estimator deriving smoothed
// velocity and acceleration series, four collision validation layers
// (trajectory, depth, optical flow, physics anomaly), a fusion engine that
// turns validated candidates into incidents, and secondary detectors for
// stopped vehicles, pedestrians on the roadway, and sudden speed changes.
//
// One Pipeline instance owns all mutable state for one camera stream and is
// driven from a single goroutine; multiple cameras run as independent
// instances with nothing shared.
package traffic

import (
	"math"
	"time"
)

// ObjectClass is the detector class of an observed object.
type ObjectClass string

const (
	ClassPerson     ObjectClass = "person"
	ClassCar        ObjectClass = "car"
	ClassTruck      ObjectClass = "truck"
	ClassBus        ObjectClass = "bus"
	ClassMotorcycle ObjectClass = "motorcycle"
	ClassBicycle    ObjectClass = "bicycle"
)

// IsVehicle reports whether the class participates in vehicle tracking.
// Pedestrians and bicycles are observed but never become tracks.
func (c ObjectClass) IsVehicle() bool {
	switch c {
	case ClassCar, ClassTruck, ClassBus, ClassMotorcycle:
		return true
	}
	return false
}

// Point is a 2D pixel coordinate. The same type carries velocity vectors
// (pixels/frame) where that reads naturally.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point { return Point{p.X - q.X, p.Y - q.Y} }

// Add returns p + q.
func (p Point) Add(q Point) Point { return Point{p.X + q.X, p.Y + q.Y} }

// Scale returns p scaled by s.
func (p Point) Scale(s float64) Point { return Point{p.X * s, p.Y * s} }

// Dot returns the dot product p·q.
func (p Point) Dot(q Point) float64 { return p.X*q.X + p.Y*q.Y }

// Norm returns the Euclidean magnitude of p.
func (p Point) Norm() float64 { return math.Hypot(p.X, p.Y) }

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 { return p.Sub(q).Norm() }

// BBox is an axis-aligned bounding box in pixel coordinates.
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Area returns the box area in square pixels.
func (b BBox) Area() float64 { return b.W * b.H }

// Center returns the box centre point.
func (b BBox) Center() Point { return Point{b.X + b.W/2, b.Y + b.H/2} }

// Detection is one detector observation in one frame. Detections come from a
// trusted in-process adapter, so fields are assumed populated; the tracker
// only defends against out-of-range geometry, not missing data.
type Detection struct {
	BBox       BBox        `json:"bbox"`
	Class      ObjectClass `json:"class"`
	Confidence float64     `json:"confidence"`
}

// Center returns the detection's bounding box centre.
func (d Detection) Center() Point { return d.BBox.Center() }

// Area returns the detection's bounding box area.
func (d Detection) Area() float64 { return d.BBox.Area() }

// TrackedVehicle is the persistent identity and state of one physical vehicle
// across frames. All history slices are bounded; see the per-field caps in
// TrackerConfig and PhysicsConfig.
type TrackedVehicle struct {
	ID         int64
	Center     Point
	BBox       BBox
	Class      ObjectClass
	Confidence float64

	// Velocity is the exponentially smoothed velocity in pixels/frame.
	// nil until the track has at least two history points.
	Velocity *Point
	Speed    float64

	// History is the bounded position history, oldest first.
	History []Point

	// SpeedHistory, VelocityHistory and AccelHistory are maintained by the
	// PhysicsEstimator. AccelHistory holds magnitudes of the delta between
	// consecutive smoothed velocities.
	SpeedHistory    []float64
	VelocityHistory []Point
	AccelHistory    []float64

	FirstSeen int64
	LastSeen  int64

	// StoppedSince is the frame index at which speed first dropped below the
	// stationary threshold, or -1 while the vehicle is moving.
	StoppedSince int64

	// stoppedReported suppresses repeat stopped-vehicle incidents until the
	// vehicle moves again.
	stoppedReported bool
	// lastSpeedAlert is the frame of the last sudden-speed-change incident.
	lastSpeedAlert int64
}

// Severity labels how urgent an incident is for downstream review.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// IncidentType enumerates the incident kinds the pipeline can emit.
type IncidentType string

const (
	IncidentCollision         IncidentType = "collision"
	IncidentStoppedVehicle    IncidentType = "stopped_vehicle"
	IncidentPedestrianOnRoad  IncidentType = "pedestrian_on_road"
	IncidentSuddenSpeedChange IncidentType = "sudden_speed_change"
)

// Incident is the final output record for one detected event. Incidents are
// immutable once created.
type Incident struct {
	ID         string       `json:"id"`
	Type       IncidentType `json:"type"`
	Severity   Severity     `json:"severity"`
	Confidence float64      `json:"confidence"`

	// VehicleIDs and Positions describe the involved tracks. Pedestrian
	// incidents carry one position and no vehicle IDs.
	VehicleIDs []int64       `json:"vehicle_ids,omitempty"`
	Classes    []ObjectClass `json:"classes,omitempty"`
	Positions  []Point       `json:"positions"`

	// PredictedPoint is the extrapolated collision point; collisions only.
	PredictedPoint *Point `json:"predicted_point,omitempty"`

	// TTC is the predicted time to collision in seconds; collisions only.
	TTC float64 `json:"ttc,omitempty"`

	// SpeedChange is the relative speed delta; sudden_speed_change only.
	SpeedChange float64 `json:"speed_change,omitempty"`

	Timestamp  time.Time `json:"timestamp"`
	FrameIndex int64     `json:"frame_index"`
}

// Layer names for CollisionCandidate verdicts.
const (
	LayerTrajectory  = "trajectory"
	LayerDepth       = "depth"
	LayerOpticalFlow = "optical_flow"
	LayerPhysics     = "physics"
)

// CollisionData is the trajectory layer's prediction for a candidate pair.
type CollisionData struct {
	// TTC is the predicted time to collision in seconds. Always > 0.
	TTC float64
	// CollisionPoint is the midpoint of the two extrapolated positions at
	// the predicted collision frame.
	CollisionPoint Point
	// MinDistance is the minimum extrapolated inter-vehicle distance over
	// the prediction horizon.
	MinDistance float64
	// FramesAhead is the extrapolation step at which contact is predicted.
	FramesAhead int
}

// CollisionCandidate is an ephemeral record for one qualifying track pair in
// one frame. Layer 1 constructs it, layers 2-4 enrich it, fusion consumes it.
// Track1 always has the lower ID.
type CollisionCandidate struct {
	Track1 *TrackedVehicle
	Track2 *TrackedVehicle
	Data   CollisionData

	// Layers maps layer name to pass/fail. Trajectory is true by
	// construction; the soft layers record false when they cannot run.
	Layers map[string]bool

	Depth   *DepthAnalysis
	Flow    *FlowAnalysis
	Physics *PhysicsAnalysis
}

// newCandidate builds a candidate with the trajectory verdict pre-set.
func newCandidate(a, b *TrackedVehicle, data CollisionData) *CollisionCandidate {
	if a.ID > b.ID {
		a, b = b, a
	}
	return &CollisionCandidate{
		Track1: a,
		Track2: b,
		Data:   data,
		Layers: map[string]bool{LayerTrajectory: true},
	}
}
