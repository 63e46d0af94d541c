package traffic

import (
	"fmt"
	"sort"
)

// Constants for tracker housekeeping.
const (
	// DefaultGracePeriodFrames is how long a dead track is kept before it is
	// garbage collected. Generous on purpose: GC is housekeeping, not
	// correctness, and late cleanup keeps IDs inspectable in the API.
	DefaultGracePeriodFrames = 150
)

// TrackerConfig holds configuration for the vehicle tracker.
type TrackerConfig struct {
	MinConfidence     float64 // Minimum detection confidence to track
	MaxMatchDistance  float64 // Maximum centre distance for association (px)
	MaxAreaRatio      float64 // Maximum bbox area ratio between match and track
	GapTolerance      int64   // Frames a track stays matchable without a detection
	HistoryLength     int     // Bounded position history per track
	GracePeriodFrames int64   // Dead-track retention before GC
}

// DefaultTrackerConfig returns the default tracker configuration.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MinConfidence:     0.5,
		MaxMatchDistance:  80.0,
		MaxAreaRatio:      2.0,
		GapTolerance:      4,
		HistoryLength:     18,
		GracePeriodFrames: DefaultGracePeriodFrames,
	}
}

// Tracker assigns persistent IDs to per-frame vehicle detections. It is not
// safe for concurrent use; one pipeline goroutine owns it.
type Tracker struct {
	Tracks map[int64]*TrackedVehicle
	Config TrackerConfig

	nextID       int64
	currentFrame int64
	removed      []int64
}

// NewTracker creates a tracker with the given configuration.
func NewTracker(config TrackerConfig) *Tracker {
	return &Tracker{
		Tracks: make(map[int64]*TrackedVehicle),
		Config: config,
		nextID: 1,
	}
}

// Update associates the frame's detections with existing tracks, creating new
// tracks for unmatched vehicle detections, and returns the IDs touched this
// frame in ascending order. Detections of non-vehicle classes or below the
// confidence threshold are dropped entirely.
func (t *Tracker) Update(detections []Detection, frameIndex int64) []int64 {
	t.currentFrame = frameIndex

	var touched []int64
	used := make(map[int64]bool)

	for _, det := range detections {
		if !det.Class.IsVehicle() || det.Confidence < t.Config.MinConfidence {
			continue
		}
		if det.BBox.W <= 0 || det.BBox.H <= 0 {
			continue
		}

		if id, ok := t.match(det, frameIndex, used); ok {
			v := t.Tracks[id]
			t.updateTrack(v, det, frameIndex)
			used[id] = true
			touched = append(touched, id)
			continue
		}

		v := t.initTrack(det, frameIndex)
		used[v.ID] = true
		touched = append(touched, v.ID)
	}

	t.cleanupDeadTracks(frameIndex)

	sort.Slice(touched, func(i, j int) bool { return touched[i] < touched[j] })
	return touched
}

// match finds the nearest unclaimed active track within the distance gate and
// the area-ratio gate. Greedy nearest-centroid: detections are processed in
// input order and each track is claimed at most once per frame.
func (t *Tracker) match(det Detection, frameIndex int64, used map[int64]bool) (int64, bool) {
	center := det.Center()
	bestID := int64(0)
	bestDist := t.Config.MaxMatchDistance
	found := false

	for id, v := range t.Tracks {
		if used[id] {
			continue
		}
		if frameIndex-v.LastSeen > t.Config.GapTolerance {
			continue
		}
		if !areaCompatible(det.Area(), v.BBox.Area(), t.Config.MaxAreaRatio) {
			continue
		}
		d := center.Dist(v.Center)
		if d <= bestDist {
			// Ties go to the lower ID so association is deterministic.
			if found && d == bestDist && id > bestID {
				continue
			}
			bestDist = d
			bestID = id
			found = true
		}
	}
	return bestID, found
}

// areaCompatible rejects matches whose bounding boxes differ wildly in size,
// which keeps a car from inheriting a truck's ID when they cross.
func areaCompatible(a, b, maxRatio float64) bool {
	if a <= 0 || b <= 0 {
		return false
	}
	ratio := a / b
	if ratio < 1 {
		ratio = 1 / ratio
	}
	return ratio <= maxRatio
}

// updateTrack applies a matched detection to an existing track.
func (t *Tracker) updateTrack(v *TrackedVehicle, det Detection, frameIndex int64) {
	v.Center = det.Center()
	v.BBox = det.BBox
	v.Confidence = det.Confidence
	v.LastSeen = frameIndex

	v.History = append(v.History, v.Center)
	if len(v.History) > t.Config.HistoryLength {
		v.History = v.History[1:]
	}
}

// initTrack creates a new track from an unmatched detection.
func (t *Tracker) initTrack(det Detection, frameIndex int64) *TrackedVehicle {
	v := &TrackedVehicle{
		ID:           t.nextID,
		Center:       det.Center(),
		BBox:         det.BBox,
		Class:        det.Class,
		Confidence:   det.Confidence,
		History:      []Point{det.Center()},
		FirstSeen:    frameIndex,
		LastSeen:     frameIndex,
		StoppedSince: -1,
	}
	t.nextID++
	t.Tracks[v.ID] = v
	return v
}

// cleanupDeadTracks removes tracks unseen for longer than the grace period
// and records the collected IDs for RemovedIDs.
func (t *Tracker) cleanupDeadTracks(frameIndex int64) {
	grace := t.Config.GracePeriodFrames
	if grace <= 0 {
		grace = DefaultGracePeriodFrames
	}
	t.removed = t.removed[:0]
	for id, v := range t.Tracks {
		if frameIndex-v.LastSeen > grace {
			delete(t.Tracks, id)
			t.removed = append(t.removed, id)
		}
	}
	sort.Slice(t.removed, func(i, j int) bool { return t.removed[i] < t.removed[j] })
}

// RemovedIDs returns the track IDs garbage collected by the most recent
// Update, in ascending order. Downstream layers drop per-track state for
// these IDs. The slice is reused across frames.
func (t *Tracker) RemovedIDs() []int64 { return t.removed }

// ActiveTracks returns tracks seen within the gap tolerance of the current
// frame, sorted by ID. Only these participate in candidate generation.
func (t *Tracker) ActiveTracks() []*TrackedVehicle {
	active := make([]*TrackedVehicle, 0, len(t.Tracks))
	for _, v := range t.Tracks {
		if t.currentFrame-v.LastSeen <= t.Config.GapTolerance {
			active = append(active, v)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	return active
}

// Track returns the track with the given ID. Panics if the ID is unknown:
// callers hold IDs returned by Update, so a miss is a tracker invariant
// violation, not a runtime condition.
func (t *Tracker) Track(id int64) *TrackedVehicle {
	v, ok := t.Tracks[id]
	if !ok {
		panic(fmt.Sprintf("traffic: unknown track id %d", id))
	}
	return v
}

// TrackCount returns the number of known tracks, including dead ones awaiting GC.
func (t *Tracker) TrackCount() int { return len(t.Tracks) }

// Reset drops all tracker state. IDs keep increasing across resets so log
// lines from before and after a reset never collide.
func (t *Tracker) Reset() {
	t.Tracks = make(map[int64]*TrackedVehicle)
	t.currentFrame = 0
	t.removed = nil
}
