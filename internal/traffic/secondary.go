package traffic

import (
	"time"

	"github.com/google/uuid"
)

// RoadRegion is the rectangular roadway area in frame fractions. A person
// detection whose centre falls inside it is on the road.
type RoadRegion struct {
	X0, X1 float64 // horizontal extent, fractions of frame width
	Y0, Y1 float64 // vertical extent, fractions of frame height
}

// DefaultRoadRegion covers the central band of a typical traffic-camera view.
func DefaultRoadRegion() RoadRegion {
	return RoadRegion{X0: 0.10, X1: 0.90, Y0: 0.30, Y1: 0.80}
}

// Contains reports whether a pixel point lies inside the region for the
// given frame dimensions.
func (r RoadRegion) Contains(p Point, frameW, frameH float64) bool {
	if frameW <= 0 || frameH <= 0 {
		return false
	}
	fx, fy := p.X/frameW, p.Y/frameH
	return fx >= r.X0 && fx <= r.X1 && fy >= r.Y0 && fy <= r.Y1
}

// SecondaryConfig holds configuration for the non-collision detectors.
type SecondaryConfig struct {
	FPS float64

	// Stopped vehicle: speed below the estimator's stationary threshold for
	// longer than StoppedTime.
	StoppedTime time.Duration

	// Pedestrian on road.
	Road        RoadRegion
	FrameWidth  float64
	FrameHeight float64
	// PedestrianMinConfidence filters weak person detections; roadside
	// clutter (poles, bags) often produces low-confidence person boxes.
	PedestrianMinConfidence float64
	// PedestrianCooldown suppresses repeat pedestrian incidents near a
	// previously reported position.
	PedestrianCooldown time.Duration
	PedestrianDedupPx  float64

	// Sudden speed change.
	MinSpeedSamples      int
	SpeedChangeThreshold float64
	SpeedChangeCooldown  time.Duration
}

// DefaultSecondaryConfig returns the default secondary detector configuration.
func DefaultSecondaryConfig() SecondaryConfig {
	return SecondaryConfig{
		FPS:                     30.0,
		StoppedTime:             10 * time.Second,
		Road:                    DefaultRoadRegion(),
		FrameWidth:              1920,
		FrameHeight:             1080,
		PedestrianMinConfidence: 0.5,
		PedestrianCooldown:      15 * time.Second,
		PedestrianDedupPx:       50.0,
		MinSpeedSamples:         5,
		SpeedChangeThreshold:    0.8,
		SpeedChangeCooldown:     20 * time.Second,
	}
}

type pedestrianReport struct {
	pos  Point
	when time.Time
}

// SecondaryDetectors runs the stopped-vehicle, pedestrian-on-road and
// sudden-speed-change rules over the shared tracked-vehicle state. The rules
// are stateless per call beyond that shared state and small dedup maps.
type SecondaryDetectors struct {
	Config SecondaryConfig

	pedestrians []pedestrianReport
}

// NewSecondaryDetectors creates the detectors with the given configuration.
func NewSecondaryDetectors(config SecondaryConfig) *SecondaryDetectors {
	return &SecondaryDetectors{Config: config}
}

// Detect runs all three rules and returns any incidents. Runs after the
// collision pipeline each frame, against the same tracker state.
func (s *SecondaryDetectors) Detect(tracker *Tracker, detections []Detection, frameIndex int64, now time.Time) []Incident {
	var incidents []Incident
	incidents = append(incidents, s.stoppedVehicles(tracker, frameIndex, now)...)
	incidents = append(incidents, s.pedestriansOnRoad(detections, frameIndex, now)...)
	incidents = append(incidents, s.suddenSpeedChanges(tracker, frameIndex, now)...)
	return incidents
}

// stoppedVehicles emits one incident per track once it has been stationary
// for longer than StoppedTime. The estimator clears StoppedSince (and the
// reported flag) the moment the vehicle moves again.
func (s *SecondaryDetectors) stoppedVehicles(tracker *Tracker, frameIndex int64, now time.Time) []Incident {
	threshold := int64(s.Config.StoppedTime.Seconds() * s.Config.FPS)

	var incidents []Incident
	for _, v := range tracker.ActiveTracks() {
		if v.StoppedSince < 0 || v.stoppedReported {
			continue
		}
		if frameIndex-v.StoppedSince <= threshold {
			continue
		}
		v.stoppedReported = true
		incidents = append(incidents, Incident{
			ID:         uuid.NewString(),
			Type:       IncidentStoppedVehicle,
			Severity:   SeverityMedium,
			Confidence: 0.9,
			VehicleIDs: []int64{v.ID},
			Classes:    []ObjectClass{v.Class},
			Positions:  []Point{v.Center},
			Timestamp:  now,
			FrameIndex: frameIndex,
		})
	}
	return incidents
}

// pedestriansOnRoad flags any person detection inside the road region. No
// temporal requirement: a person on the roadway is urgent immediately. A
// positional cooldown keeps one person from producing an incident per frame.
func (s *SecondaryDetectors) pedestriansOnRoad(detections []Detection, frameIndex int64, now time.Time) []Incident {
	// Expire old reports first.
	kept := s.pedestrians[:0]
	for _, r := range s.pedestrians {
		if now.Sub(r.when) < s.Config.PedestrianCooldown {
			kept = append(kept, r)
		}
	}
	s.pedestrians = kept

	var incidents []Incident
	for _, det := range detections {
		if det.Class != ClassPerson || det.Confidence < s.Config.PedestrianMinConfidence {
			continue
		}
		center := det.Center()
		if !s.Config.Road.Contains(center, s.Config.FrameWidth, s.Config.FrameHeight) {
			continue
		}
		if s.recentlyReported(center) {
			continue
		}
		s.pedestrians = append(s.pedestrians, pedestrianReport{pos: center, when: now})
		incidents = append(incidents, Incident{
			ID:         uuid.NewString(),
			Type:       IncidentPedestrianOnRoad,
			Severity:   SeverityHigh,
			Confidence: det.Confidence,
			Positions:  []Point{center},
			Timestamp:  now,
			FrameIndex: frameIndex,
		})
	}
	return incidents
}

func (s *SecondaryDetectors) recentlyReported(p Point) bool {
	for _, r := range s.pedestrians {
		if r.pos.Dist(p) < s.Config.PedestrianDedupPx {
			return true
		}
	}
	return false
}

// suddenSpeedChanges flags vehicles whose latest speed jumped relative to the
// previous sample. The denominator is floored at 1 so a crawl-to-cruise
// transition does not divide by a near-zero speed.
func (s *SecondaryDetectors) suddenSpeedChanges(tracker *Tracker, frameIndex int64, now time.Time) []Incident {
	cooldown := int64(s.Config.SpeedChangeCooldown.Seconds() * s.Config.FPS)

	var incidents []Incident
	for _, v := range tracker.ActiveTracks() {
		if len(v.SpeedHistory) < s.Config.MinSpeedSamples {
			continue
		}
		cur := v.SpeedHistory[len(v.SpeedHistory)-1]
		prev := v.SpeedHistory[len(v.SpeedHistory)-2]
		denom := prev
		if denom < 1 {
			denom = 1
		}
		change := cur - prev
		if change < 0 {
			change = -change
		}
		change /= denom
		if change <= s.Config.SpeedChangeThreshold {
			continue
		}
		if v.lastSpeedAlert > 0 && frameIndex-v.lastSpeedAlert < cooldown {
			continue
		}
		v.lastSpeedAlert = frameIndex
		incidents = append(incidents, Incident{
			ID:          uuid.NewString(),
			Type:        IncidentSuddenSpeedChange,
			Severity:    SeverityMedium,
			Confidence:  0.7,
			VehicleIDs:  []int64{v.ID},
			Classes:     []ObjectClass{v.Class},
			Positions:   []Point{v.Center},
			SpeedChange: change,
			Timestamp:   now,
			FrameIndex:  frameIndex,
		})
	}
	return incidents
}

// Reset drops the pedestrian dedup state.
func (s *SecondaryDetectors) Reset() {
	s.pedestrians = nil
}
