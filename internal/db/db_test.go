package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/banshee-data/incident.report/internal/traffic"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "incidents.db")
	database, err := NewDB(path)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
	return database
}

func testIncident(id string, typ traffic.IncidentType, at time.Time) traffic.Incident {
	return traffic.Incident{
		ID:         id,
		Type:       typ,
		Severity:   traffic.SeverityHigh,
		Confidence: 0.85,
		VehicleIDs: []int64{3, 7},
		Positions:  []traffic.Point{{X: 100, Y: 200}, {X: 140, Y: 210}},
		FrameIndex: 42,
		Timestamp:  at,
	}
}

func TestMigrateVersion(t *testing.T) {
	database := newTestDB(t)

	version, dirty, err := database.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	if dirty {
		t.Error("expected clean migration state")
	}
	if version == 0 {
		t.Error("expected non-zero version after MigrateUp")
	}

	// Up again is a no-op.
	if err := database.MigrateUp(); err != nil {
		t.Fatalf("second MigrateUp: %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	database := newTestDB(t)
	if err := database.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown: %v", err)
	}
	version, _, err := database.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion after down: %v", err)
	}
	if version != 0 {
		t.Errorf("version after down = %d, want 0", version)
	}
}

func TestInsertAndListIncidents(t *testing.T) {
	database := newTestDB(t)

	base := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	inc := testIncident("inc-1", traffic.IncidentCollision, base)
	inc.TTC = 1.4
	inc.PredictedPoint = &traffic.Point{X: 120, Y: 205}
	if err := database.InsertIncident(inc); err != nil {
		t.Fatalf("InsertIncident: %v", err)
	}

	got, err := database.ListIncidents(IncidentFilter{})
	if err != nil {
		t.Fatalf("ListIncidents: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ListIncidents returned %d incidents, want 1", len(got))
	}

	out := got[0]
	// The driver may hand the timestamp back in a different location;
	// compare it on the instant and the rest structurally.
	if diff := cmp.Diff(inc, out, cmpopts.IgnoreFields(traffic.Incident{}, "Timestamp")); diff != "" {
		t.Errorf("incident round trip mismatch (-want +got):\n%s", diff)
	}
	if !out.Timestamp.Equal(base) {
		t.Errorf("timestamp = %v, want %v", out.Timestamp, base)
	}
}

func TestListIncidentsNilPredictedPoint(t *testing.T) {
	database := newTestDB(t)

	inc := testIncident("inc-stop", traffic.IncidentStoppedVehicle, time.Now())
	if err := database.InsertIncident(inc); err != nil {
		t.Fatalf("InsertIncident: %v", err)
	}

	got, err := database.ListIncidents(IncidentFilter{})
	if err != nil {
		t.Fatalf("ListIncidents: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d incidents, want 1", len(got))
	}
	if got[0].PredictedPoint != nil {
		t.Errorf("predicted point = %v, want nil", got[0].PredictedPoint)
	}
}

func TestListIncidentsFilters(t *testing.T) {
	database := newTestDB(t)

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	records := []traffic.Incident{
		testIncident("a", traffic.IncidentCollision, base),
		testIncident("b", traffic.IncidentStoppedVehicle, base.Add(1*time.Minute)),
		testIncident("c", traffic.IncidentCollision, base.Add(2*time.Minute)),
		testIncident("d", traffic.IncidentPedestrianOnRoad, base.Add(3*time.Minute)),
	}
	for _, r := range records {
		if err := database.InsertIncident(r); err != nil {
			t.Fatalf("InsertIncident %s: %v", r.ID, err)
		}
	}

	collisions, err := database.ListIncidents(IncidentFilter{Type: traffic.IncidentCollision})
	if err != nil {
		t.Fatalf("ListIncidents by type: %v", err)
	}
	if len(collisions) != 2 {
		t.Fatalf("collision count = %d, want 2", len(collisions))
	}
	// Newest first.
	if collisions[0].ID != "c" || collisions[1].ID != "a" {
		t.Errorf("collision order = [%s %s], want [c a]", collisions[0].ID, collisions[1].ID)
	}

	recent, err := database.ListIncidents(IncidentFilter{Since: base.Add(90 * time.Second)})
	if err != nil {
		t.Fatalf("ListIncidents since: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("since filter count = %d, want 2", len(recent))
	}

	limited, err := database.ListIncidents(IncidentFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ListIncidents limit: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "d" {
		t.Errorf("limit 1 = %v, want just d", limited)
	}
}

func TestCountIncidentsByType(t *testing.T) {
	database := newTestDB(t)

	now := time.Now()
	for i, typ := range []traffic.IncidentType{
		traffic.IncidentCollision,
		traffic.IncidentCollision,
		traffic.IncidentSuddenSpeedChange,
	} {
		inc := testIncident(string(rune('a'+i)), typ, now)
		if err := database.InsertIncident(inc); err != nil {
			t.Fatalf("InsertIncident: %v", err)
		}
	}

	counts, err := database.CountIncidentsByType()
	if err != nil {
		t.Fatalf("CountIncidentsByType: %v", err)
	}
	if counts[traffic.IncidentCollision] != 2 {
		t.Errorf("collision count = %d, want 2", counts[traffic.IncidentCollision])
	}
	if counts[traffic.IncidentSuddenSpeedChange] != 1 {
		t.Errorf("speed change count = %d, want 1", counts[traffic.IncidentSuddenSpeedChange])
	}
}

func TestIncidentTimeline(t *testing.T) {
	database := newTestDB(t)

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	// The second timestamp carries nanoseconds, like a live time.Now() clock;
	// bucketing must not depend on second-precision storage.
	times := []time.Time{
		base.Add(10 * time.Second),
		base.Add(30*time.Second + 123456789*time.Nanosecond),
		base.Add(70 * time.Second),
	}
	for i, at := range times {
		inc := testIncident(string(rune('a'+i)), traffic.IncidentCollision, at)
		if err := database.InsertIncident(inc); err != nil {
			t.Fatalf("InsertIncident: %v", err)
		}
	}

	buckets, err := database.IncidentTimeline(base)
	if err != nil {
		t.Fatalf("IncidentTimeline: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("bucket count = %d, want 2", len(buckets))
	}
	if buckets[0].Count != 2 || buckets[1].Count != 1 {
		t.Errorf("bucket counts = [%d %d], want [2 1]", buckets[0].Count, buckets[1].Count)
	}
	if !buckets[0].Minute.Equal(base) {
		t.Errorf("first bucket minute = %v, want %v", buckets[0].Minute, base)
	}
}

func TestRunStatsRoundTrip(t *testing.T) {
	database := newTestDB(t)

	_, ok, err := database.LoadRunStats("missing")
	if err != nil {
		t.Fatalf("LoadRunStats missing: %v", err)
	}
	if ok {
		t.Error("expected no stats for unknown run")
	}

	stats := traffic.Analytics{
		TotalFrames:       900,
		TotalDetections:   4200,
		IncidentsDetected: 3,
		ClassTotals: map[traffic.ObjectClass]int64{
			traffic.ClassCar: 4000,
		},
	}
	if err := database.SaveRunStats("run-1", stats); err != nil {
		t.Fatalf("SaveRunStats: %v", err)
	}

	got, ok, err := database.LoadRunStats("run-1")
	if err != nil {
		t.Fatalf("LoadRunStats: %v", err)
	}
	if !ok {
		t.Fatal("expected stored stats")
	}
	if got.TotalFrames != 900 || got.IncidentsDetected != 3 {
		t.Errorf("stats = %+v", got)
	}

	// Upsert replaces the previous snapshot.
	stats.TotalFrames = 1800
	if err := database.SaveRunStats("run-1", stats); err != nil {
		t.Fatalf("SaveRunStats upsert: %v", err)
	}
	got, _, err = database.LoadRunStats("run-1")
	if err != nil {
		t.Fatalf("LoadRunStats after upsert: %v", err)
	}
	if got.TotalFrames != 1800 {
		t.Errorf("frames after upsert = %d, want 1800", got.TotalFrames)
	}
}
