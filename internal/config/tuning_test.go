package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/incident.report/internal/traffic"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }
func strPtr(v string) *string     { return &v }
func boolPtr(v bool) *bool        { return &v }

func TestEmptyConfigAccessorDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	// Every accessor must return its documented default on an empty doc.
	if cfg.GetMinTrackingConfidence() != 0.5 {
		t.Errorf("GetMinTrackingConfidence() = %f, want 0.5", cfg.GetMinTrackingConfidence())
	}
	if cfg.GetMaxMatchDistance() != 80 {
		t.Errorf("GetMaxMatchDistance() = %f, want 80", cfg.GetMaxMatchDistance())
	}
	if cfg.GetGapTolerance() != 4 {
		t.Errorf("GetGapTolerance() = %d, want 4", cfg.GetGapTolerance())
	}
	if cfg.GetCollisionDistanceThreshold() != 30 {
		t.Errorf("GetCollisionDistanceThreshold() = %f, want 30", cfg.GetCollisionDistanceThreshold())
	}
	if cfg.GetCollisionAngleThreshold() != 60 {
		t.Errorf("GetCollisionAngleThreshold() = %f, want 60", cfg.GetCollisionAngleThreshold())
	}
	if cfg.GetDecelerationThreshold() != 11 {
		t.Errorf("GetDecelerationThreshold() = %f, want 11", cfg.GetDecelerationThreshold())
	}
	if cfg.GetFusionMode() != traffic.FusionWeighted {
		t.Errorf("GetFusionMode() = %v, want weighted", cfg.GetFusionMode())
	}
	if cfg.GetCollisionCooldown() != 10*time.Second {
		t.Errorf("GetCollisionCooldown() = %v, want 10s", cfg.GetCollisionCooldown())
	}
	if cfg.GetStoppedVehicleTime() != 10 {
		t.Errorf("GetStoppedVehicleTime() = %f, want 10", cfg.GetStoppedVehicleTime())
	}
	if cfg.GetSpeedChangeThreshold() != 0.8 {
		t.Errorf("GetSpeedChangeThreshold() = %f, want 0.8", cfg.GetSpeedChangeThreshold())
	}
	if !cfg.GetDepthAnalysisEnabled() || !cfg.GetOpticalFlowEnabled() || !cfg.GetPhysicsValidationEnabled() {
		t.Error("validation layers should default to enabled")
	}
}

func TestDefaultsFileMatchesAccessors(t *testing.T) {
	cfg := MustLoadDefaultConfig()

	// The checked-in defaults file and the accessor fallbacks are the same
	// values; a mismatch means one was updated without the other.
	empty := EmptyTuningConfig()
	if cfg.GetMaxMatchDistance() != empty.GetMaxMatchDistance() {
		t.Errorf("max_match_distance: file=%f accessor=%f",
			cfg.GetMaxMatchDistance(), empty.GetMaxMatchDistance())
	}
	if cfg.GetFlowMagnitudeThreshold() != empty.GetFlowMagnitudeThreshold() {
		t.Errorf("flow_magnitude_threshold: file=%f accessor=%f",
			cfg.GetFlowMagnitudeThreshold(), empty.GetFlowMagnitudeThreshold())
	}
	if cfg.GetCollisionPersistence() != empty.GetCollisionPersistence() {
		t.Errorf("collision_persistence: file=%d accessor=%d",
			cfg.GetCollisionPersistence(), empty.GetCollisionPersistence())
	}
	if cfg.GetIncidentCooldown() != empty.GetIncidentCooldown() {
		t.Errorf("incident_cooldown: file=%v accessor=%v",
			cfg.GetIncidentCooldown(), empty.GetIncidentCooldown())
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()

	path := filepath.Join(tmpDir, "tuning.json")
	content := `{"confidence_threshold": 0.7, "gap_tolerance": 5, "collision_cooldown": "15s"}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadTuningConfig(path)
	if err != nil {
		t.Fatalf("LoadTuningConfig: %v", err)
	}
	if cfg.GetConfidenceThreshold() != 0.7 {
		t.Errorf("confidence threshold = %f, want 0.7", cfg.GetConfidenceThreshold())
	}
	if cfg.GetGapTolerance() != 5 {
		t.Errorf("gap tolerance = %d, want 5", cfg.GetGapTolerance())
	}
	if cfg.GetCollisionCooldown() != 15*time.Second {
		t.Errorf("collision cooldown = %v, want 15s", cfg.GetCollisionCooldown())
	}
	// Omitted keys keep their defaults.
	if cfg.GetMaxMatchDistance() != 80 {
		t.Errorf("max match distance = %f, want default 80", cfg.GetMaxMatchDistance())
	}
}

func TestLoadTuningConfigErrors(t *testing.T) {
	tmpDir := t.TempDir()

	// Wrong extension.
	badExt := filepath.Join(tmpDir, "tuning.yaml")
	os.WriteFile(badExt, []byte("{}"), 0o644)
	if _, err := LoadTuningConfig(badExt); err == nil {
		t.Error("expected error for non-json extension")
	}

	// Missing file.
	if _, err := LoadTuningConfig(filepath.Join(tmpDir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	// Malformed JSON.
	malformed := filepath.Join(tmpDir, "bad.json")
	os.WriteFile(malformed, []byte(`{"fps":`), 0o644)
	if _, err := LoadTuningConfig(malformed); err == nil {
		t.Error("expected error for malformed JSON")
	}

	// Valid JSON, invalid values.
	invalid := filepath.Join(tmpDir, "invalid.json")
	os.WriteFile(invalid, []byte(`{"confidence_threshold": 2.0}`), 0o644)
	if _, err := LoadTuningConfig(invalid); err == nil {
		t.Error("expected error for out-of-range value")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     TuningConfig
		wantErr bool
	}{
		{"empty is valid", TuningConfig{}, false},
		{"unit range ok", TuningConfig{ConfidenceThreshold: floatPtr(0.9)}, false},
		{"unit range low", TuningConfig{ConfidenceThreshold: floatPtr(-0.1)}, true},
		{"unit range high", TuningConfig{CollisionConfidenceThreshold: floatPtr(1.1)}, true},
		{"fusion weighted", TuningConfig{FusionMode: strPtr("weighted")}, false},
		{"fusion agreement", TuningConfig{FusionMode: strPtr("agreement")}, false},
		{"fusion unknown", TuningConfig{FusionMode: strPtr("vote")}, true},
		{"agreement in range", TuningConfig{MinimumLayerAgreement: intPtr(3)}, false},
		{"agreement too high", TuningConfig{MinimumLayerAgreement: intPtr(5)}, true},
		{"angle edge low", TuningConfig{CollisionAngleThreshold: floatPtr(0)}, true},
		{"angle edge high", TuningConfig{CollisionAngleThreshold: floatPtr(90)}, true},
		{"angle mid", TuningConfig{CollisionAngleThreshold: floatPtr(45)}, false},
		{"negative fps", TuningConfig{FPS: floatPtr(-1)}, true},
		{"short trajectory", TuningConfig{MinTrajectoryLength: intPtr(1)}, true},
		{
			"history below trajectory",
			TuningConfig{HistoryLength: intPtr(5), MinTrajectoryLength: intPtr(10)},
			true,
		},
		{"bad cooldown", TuningConfig{CollisionCooldown: strPtr("forever")}, true},
		{"good cooldown", TuningConfig{IncidentCooldown: strPtr("1m30s")}, false},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if tc.wantErr && err == nil {
			t.Errorf("%s: expected error, got nil", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
	}
}

func TestMerge(t *testing.T) {
	base := EmptyTuningConfig()
	base.ConfidenceThreshold = floatPtr(0.4)
	base.GapTolerance = intPtr(4)

	base.Merge(&TuningConfig{
		ConfidenceThreshold: floatPtr(0.6),
		OpticalFlowEnabled:  boolPtr(false),
	})

	if *base.ConfidenceThreshold != 0.6 {
		t.Errorf("merged confidence = %f, want 0.6", *base.ConfidenceThreshold)
	}
	// Fields absent from the partial stay untouched.
	if base.GapTolerance == nil || *base.GapTolerance != 4 {
		t.Errorf("gap tolerance = %v, want 4", base.GapTolerance)
	}
	if base.OpticalFlowEnabled == nil || *base.OpticalFlowEnabled {
		t.Error("optical flow should be disabled after merge")
	}
}

func TestPipelineConfigMapping(t *testing.T) {
	cfg := EmptyTuningConfig()
	cfg.MinTrackingConfidence = floatPtr(0.6)
	cfg.CollisionAngleThreshold = floatPtr(50)
	cfg.StoppedVehicleTime = floatPtr(5)
	cfg.FusionMode = strPtr("agreement")
	cfg.OpticalFlowEnabled = boolPtr(false)

	pc := cfg.PipelineConfig()

	if pc.Tracker.MinConfidence != 0.6 {
		t.Errorf("tracker min confidence = %f, want 0.6", pc.Tracker.MinConfidence)
	}
	if pc.Trajectory.SameDirectionAngle != 50 {
		t.Errorf("same direction angle = %f, want 50", pc.Trajectory.SameDirectionAngle)
	}
	// Head-on band is the mirror of the same-direction band.
	if pc.Trajectory.HeadOnAngle != 130 {
		t.Errorf("head-on angle = %f, want 130", pc.Trajectory.HeadOnAngle)
	}
	if pc.Secondary.StoppedTime != 5*time.Second {
		t.Errorf("stopped time = %v, want 5s", pc.Secondary.StoppedTime)
	}
	if pc.Fusion.Mode != traffic.FusionAgreement {
		t.Errorf("fusion mode = %v, want agreement", pc.Fusion.Mode)
	}
	if pc.Flow.Enabled {
		t.Error("flow should be disabled")
	}
}

func TestStoreGeneration(t *testing.T) {
	store := NewStore(nil)
	gen := store.Generation()

	if err := store.Update(&TuningConfig{ConfidenceThreshold: floatPtr(0.7)}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if store.Generation() != gen+1 {
		t.Errorf("generation = %d, want %d", store.Generation(), gen+1)
	}
	current := store.Current()
	if current.ConfidenceThreshold == nil || *current.ConfidenceThreshold != 0.7 {
		t.Errorf("current confidence = %v, want 0.7", current.ConfidenceThreshold)
	}

	// Invalid updates are rejected and do not bump the generation.
	if err := store.Update(&TuningConfig{FusionMode: strPtr("vote")}); err == nil {
		t.Error("expected validation error")
	}
	if store.Generation() != gen+1 {
		t.Errorf("generation moved on rejected update: %d", store.Generation())
	}
}

func TestStoreUpdateLeavesSnapshotsUntouched(t *testing.T) {
	store := NewStore(nil)
	if err := store.Update(&TuningConfig{ConfidenceThreshold: floatPtr(0.7)}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// A snapshot taken between updates must keep reading the document it was
	// taken from, even through its pointer fields.
	snap := store.Current()
	ptr := snap.ConfidenceThreshold
	if ptr == nil || *ptr != 0.7 {
		t.Fatalf("snapshot confidence = %v, want 0.7", ptr)
	}

	if err := store.Update(&TuningConfig{ConfidenceThreshold: floatPtr(0.2)}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if *ptr != 0.7 {
		t.Errorf("snapshot pointer changed under later update: %f", *ptr)
	}
	if snap.GetConfidenceThreshold() != 0.7 {
		t.Errorf("snapshot accessor = %f, want 0.7", snap.GetConfidenceThreshold())
	}
	cur := store.Current()
	if cur.GetConfidenceThreshold() != 0.2 {
		t.Errorf("current = %f, want 0.2", cur.GetConfidenceThreshold())
	}
}

func TestClone(t *testing.T) {
	base := EmptyTuningConfig()
	base.ConfidenceThreshold = floatPtr(0.4)
	base.FusionMode = strPtr("weighted")

	clone := base.Clone()
	if clone.ConfidenceThreshold == base.ConfidenceThreshold {
		t.Error("clone shares the confidence pointer")
	}
	if *clone.ConfidenceThreshold != 0.4 || *clone.FusionMode != "weighted" {
		t.Errorf("clone values = %v/%v, want 0.4/weighted",
			clone.ConfidenceThreshold, clone.FusionMode)
	}

	*clone.ConfidenceThreshold = 0.9
	if *base.ConfidenceThreshold != 0.4 {
		t.Errorf("mutating clone changed base: %f", *base.ConfidenceThreshold)
	}
}
