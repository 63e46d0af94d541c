// Package config loads and validates the flat tuning document shared by the
// startup configuration file and the /api/params endpoint.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/incident.report/internal/traffic"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig is the root tuning document. The schema matches the
// /api/params endpoint so the same JSON drives both startup configuration
// and runtime updates. All fields are pointers: omitted keys keep their
// defaults, so partial configs are safe.
type TuningConfig struct {
	// Detector / tracker params
	ConfidenceThreshold   *float64 `json:"confidence_threshold,omitempty"`
	MinTrackingConfidence *float64 `json:"min_tracking_confidence,omitempty"`
	MaxMatchDistance      *float64 `json:"max_match_distance,omitempty"`
	GapTolerance          *int     `json:"gap_tolerance,omitempty"`
	HistoryLength         *int     `json:"history_length,omitempty"`
	FPS                   *float64 `json:"fps,omitempty"`
	FrameWidth            *float64 `json:"frame_width,omitempty"`
	FrameHeight           *float64 `json:"frame_height,omitempty"`

	// Trajectory layer params
	CollisionDistanceThreshold *float64 `json:"collision_distance_threshold,omitempty"`
	PredictionHorizon          *int     `json:"prediction_horizon,omitempty"`
	MinCollisionSpeed          *float64 `json:"min_collision_speed,omitempty"`
	CollisionAngleThreshold    *float64 `json:"collision_angle_threshold,omitempty"`
	MinTrajectoryLength        *int     `json:"min_trajectory_length,omitempty"`

	// Depth layer params
	DepthAnalysisEnabled     *bool    `json:"depth_analysis_enabled,omitempty"`
	DepthDifferenceThreshold *float64 `json:"depth_difference_threshold,omitempty"`
	ShadowDetectionThreshold *float64 `json:"shadow_detection_threshold,omitempty"`

	// Optical flow layer params
	OpticalFlowEnabled     *bool    `json:"optical_flow_enabled,omitempty"`
	FlowMagnitudeThreshold *float64 `json:"flow_magnitude_threshold,omitempty"`

	// Physics anomaly layer params
	PhysicsValidationEnabled *bool    `json:"physics_validation_enabled,omitempty"`
	DecelerationThreshold    *float64 `json:"deceleration_threshold,omitempty"`

	// Fusion params
	FusionMode                   *string  `json:"fusion_mode,omitempty"` // "weighted" or "agreement"
	RequireAllLayers             *bool    `json:"require_all_layers,omitempty"`
	MinimumLayerAgreement        *int     `json:"minimum_layer_agreement,omitempty"`
	CollisionConfidenceThreshold *float64 `json:"collision_confidence_threshold,omitempty"`
	CollisionPersistence         *int     `json:"collision_persistence,omitempty"`
	CollisionCooldown            *string  `json:"collision_cooldown,omitempty"` // duration string like "10s"

	// Secondary detector params
	StoppedVehicleTime      *float64 `json:"stopped_vehicle_time,omitempty"` // seconds
	SpeedChangeThreshold    *float64 `json:"speed_change_threshold,omitempty"`
	PedestrianRoadThreshold *float64 `json:"pedestrian_road_threshold,omitempty"`
	IncidentCooldown        *string  `json:"incident_cooldown,omitempty"` // non-collision cooldown
}

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The path must have
// a .json extension and the file must be under the size cap; fields omitted
// from the JSON keep their defaults.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from
// DefaultConfigPath, searching upward from the working directory. Panics if
// the file cannot be found; intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that set values are inside their valid operating ranges.
func (c *TuningConfig) Validate() error {
	checkUnit := func(name string, v *float64) error {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
		return nil
	}
	if err := checkUnit("confidence_threshold", c.ConfidenceThreshold); err != nil {
		return err
	}
	if err := checkUnit("min_tracking_confidence", c.MinTrackingConfidence); err != nil {
		return err
	}
	if err := checkUnit("collision_confidence_threshold", c.CollisionConfidenceThreshold); err != nil {
		return err
	}
	if err := checkUnit("pedestrian_road_threshold", c.PedestrianRoadThreshold); err != nil {
		return err
	}
	if err := checkUnit("shadow_detection_threshold", c.ShadowDetectionThreshold); err != nil {
		return err
	}

	if c.FusionMode != nil {
		switch traffic.FusionMode(*c.FusionMode) {
		case traffic.FusionWeighted, traffic.FusionAgreement:
		default:
			return fmt.Errorf("fusion_mode must be %q or %q, got %q",
				traffic.FusionWeighted, traffic.FusionAgreement, *c.FusionMode)
		}
	}
	if c.MinimumLayerAgreement != nil {
		if *c.MinimumLayerAgreement < 1 || *c.MinimumLayerAgreement > 4 {
			return fmt.Errorf("minimum_layer_agreement must be between 1 and 4, got %d", *c.MinimumLayerAgreement)
		}
	}
	if c.PredictionHorizon != nil && *c.PredictionHorizon < 1 {
		return fmt.Errorf("prediction_horizon must be positive, got %d", *c.PredictionHorizon)
	}
	if c.MinTrajectoryLength != nil && *c.MinTrajectoryLength < 2 {
		return fmt.Errorf("min_trajectory_length must be at least 2, got %d", *c.MinTrajectoryLength)
	}
	if c.HistoryLength != nil && c.MinTrajectoryLength != nil && *c.HistoryLength < *c.MinTrajectoryLength {
		return fmt.Errorf("history_length (%d) must not be below min_trajectory_length (%d)",
			*c.HistoryLength, *c.MinTrajectoryLength)
	}
	if c.FPS != nil && *c.FPS <= 0 {
		return fmt.Errorf("fps must be positive, got %f", *c.FPS)
	}
	if c.CollisionAngleThreshold != nil && (*c.CollisionAngleThreshold <= 0 || *c.CollisionAngleThreshold >= 90) {
		return fmt.Errorf("collision_angle_threshold must be in (0, 90) degrees, got %f", *c.CollisionAngleThreshold)
	}
	if c.StoppedVehicleTime != nil && *c.StoppedVehicleTime <= 0 {
		return fmt.Errorf("stopped_vehicle_time must be positive, got %f", *c.StoppedVehicleTime)
	}
	for name, v := range map[string]*string{
		"collision_cooldown": c.CollisionCooldown,
		"incident_cooldown":  c.IncidentCooldown,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}
	return nil
}

// Merge overlays set fields of other onto c. Used by the params endpoint to
// apply partial runtime updates. Unmarshal writes through c's existing
// non-nil pointers, so callers holding copies that alias c must clone first.
func (c *TuningConfig) Merge(other *TuningConfig) {
	merged, _ := json.Marshal(other)
	// Unmarshal into c only touches fields present in other: nil pointers
	// marshal away under omitempty.
	_ = json.Unmarshal(merged, c)
}

// Clone returns a deep copy with freshly allocated pointer fields.
func (c *TuningConfig) Clone() *TuningConfig {
	raw, _ := json.Marshal(c)
	out := &TuningConfig{}
	_ = json.Unmarshal(raw, out)
	return out
}

// GetConfidenceThreshold returns the detector confidence floor or the default.
func (c *TuningConfig) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return 0.4
	}
	return *c.ConfidenceThreshold
}

// GetMinTrackingConfidence returns the tracker confidence floor or the default.
func (c *TuningConfig) GetMinTrackingConfidence() float64 {
	if c.MinTrackingConfidence == nil {
		return 0.5
	}
	return *c.MinTrackingConfidence
}

// GetMaxMatchDistance returns the association distance gate or the default.
func (c *TuningConfig) GetMaxMatchDistance() float64 {
	if c.MaxMatchDistance == nil {
		return 80.0
	}
	return *c.MaxMatchDistance
}

// GetGapTolerance returns the frame gap tolerance or the default.
func (c *TuningConfig) GetGapTolerance() int {
	if c.GapTolerance == nil {
		return 4
	}
	return *c.GapTolerance
}

// GetHistoryLength returns the position history cap or the default.
func (c *TuningConfig) GetHistoryLength() int {
	if c.HistoryLength == nil {
		return 18
	}
	return *c.HistoryLength
}

// GetFPS returns the assumed frame rate or the default.
func (c *TuningConfig) GetFPS() float64 {
	if c.FPS == nil {
		return 30.0
	}
	return *c.FPS
}

// GetFrameWidth returns the frame width in pixels or the default.
func (c *TuningConfig) GetFrameWidth() float64 {
	if c.FrameWidth == nil {
		return 1920
	}
	return *c.FrameWidth
}

// GetFrameHeight returns the frame height in pixels or the default.
func (c *TuningConfig) GetFrameHeight() float64 {
	if c.FrameHeight == nil {
		return 1080
	}
	return *c.FrameHeight
}

// GetCollisionDistanceThreshold returns the predicted contact distance or the default.
func (c *TuningConfig) GetCollisionDistanceThreshold() float64 {
	if c.CollisionDistanceThreshold == nil {
		return 30.0
	}
	return *c.CollisionDistanceThreshold
}

// GetPredictionHorizon returns the extrapolation horizon or the default.
func (c *TuningConfig) GetPredictionHorizon() int {
	if c.PredictionHorizon == nil {
		return 30
	}
	return *c.PredictionHorizon
}

// GetMinCollisionSpeed returns the candidate speed floor or the default.
func (c *TuningConfig) GetMinCollisionSpeed() float64 {
	if c.MinCollisionSpeed == nil {
		return 6.0
	}
	return *c.MinCollisionSpeed
}

// GetCollisionAngleThreshold returns the same-direction angle bound or the default.
func (c *TuningConfig) GetCollisionAngleThreshold() float64 {
	if c.CollisionAngleThreshold == nil {
		return 60.0
	}
	return *c.CollisionAngleThreshold
}

// GetMinTrajectoryLength returns the history floor for candidates or the default.
func (c *TuningConfig) GetMinTrajectoryLength() int {
	if c.MinTrajectoryLength == nil {
		return 10
	}
	return *c.MinTrajectoryLength
}

// GetDepthAnalysisEnabled reports whether the depth layer runs.
func (c *TuningConfig) GetDepthAnalysisEnabled() bool {
	if c.DepthAnalysisEnabled == nil {
		return true
	}
	return *c.DepthAnalysisEnabled
}

// GetDepthDifferenceThreshold returns the depth score gate or the default.
func (c *TuningConfig) GetDepthDifferenceThreshold() float64 {
	if c.DepthDifferenceThreshold == nil {
		return 0.3
	}
	return *c.DepthDifferenceThreshold
}

// GetShadowDetectionThreshold returns the shadow band fraction or the default.
func (c *TuningConfig) GetShadowDetectionThreshold() float64 {
	if c.ShadowDetectionThreshold == nil {
		return 0.8
	}
	return *c.ShadowDetectionThreshold
}

// GetOpticalFlowEnabled reports whether the flow layer runs.
func (c *TuningConfig) GetOpticalFlowEnabled() bool {
	if c.OpticalFlowEnabled == nil {
		return true
	}
	return *c.OpticalFlowEnabled
}

// GetFlowMagnitudeThreshold returns the flow spike gate or the default.
func (c *TuningConfig) GetFlowMagnitudeThreshold() float64 {
	if c.FlowMagnitudeThreshold == nil {
		return 20.0
	}
	return *c.FlowMagnitudeThreshold
}

// GetPhysicsValidationEnabled reports whether the anomaly layer runs.
func (c *TuningConfig) GetPhysicsValidationEnabled() bool {
	if c.PhysicsValidationEnabled == nil {
		return true
	}
	return *c.PhysicsValidationEnabled
}

// GetDecelerationThreshold returns the sudden-deceleration gate or the default.
func (c *TuningConfig) GetDecelerationThreshold() float64 {
	if c.DecelerationThreshold == nil {
		return 11.0
	}
	return *c.DecelerationThreshold
}

// GetFusionMode returns the decision rule or the default.
func (c *TuningConfig) GetFusionMode() traffic.FusionMode {
	if c.FusionMode == nil {
		return traffic.FusionWeighted
	}
	return traffic.FusionMode(*c.FusionMode)
}

// GetRequireAllLayers reports whether agreement mode demands all four layers.
func (c *TuningConfig) GetRequireAllLayers() bool {
	if c.RequireAllLayers == nil {
		return false
	}
	return *c.RequireAllLayers
}

// GetMinimumLayerAgreement returns the agreement-mode layer count or the default.
func (c *TuningConfig) GetMinimumLayerAgreement() int {
	if c.MinimumLayerAgreement == nil {
		return 2
	}
	return *c.MinimumLayerAgreement
}

// GetCollisionConfidenceThreshold returns the agreement-mode confidence gate
// or the default.
func (c *TuningConfig) GetCollisionConfidenceThreshold() float64 {
	if c.CollisionConfidenceThreshold == nil {
		return 0.5
	}
	return *c.CollisionConfidenceThreshold
}

// GetCollisionPersistence returns the consecutive-frame requirement or the default.
func (c *TuningConfig) GetCollisionPersistence() int {
	if c.CollisionPersistence == nil {
		return 4
	}
	return *c.CollisionPersistence
}

// GetCollisionCooldown parses and returns the per-pair cooldown window.
func (c *TuningConfig) GetCollisionCooldown() time.Duration {
	if c.CollisionCooldown == nil || *c.CollisionCooldown == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(*c.CollisionCooldown)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetStoppedVehicleTime returns the stationary duration in seconds or the default.
func (c *TuningConfig) GetStoppedVehicleTime() float64 {
	if c.StoppedVehicleTime == nil {
		return 10.0
	}
	return *c.StoppedVehicleTime
}

// GetSpeedChangeThreshold returns the relative speed jump gate or the default.
func (c *TuningConfig) GetSpeedChangeThreshold() float64 {
	if c.SpeedChangeThreshold == nil {
		return 0.8
	}
	return *c.SpeedChangeThreshold
}

// GetPedestrianRoadThreshold returns the person-detection confidence floor
// for the pedestrian rule or the default.
func (c *TuningConfig) GetPedestrianRoadThreshold() float64 {
	if c.PedestrianRoadThreshold == nil {
		return 0.5
	}
	return *c.PedestrianRoadThreshold
}

// GetIncidentCooldown parses and returns the non-collision incident cooldown.
func (c *TuningConfig) GetIncidentCooldown() time.Duration {
	if c.IncidentCooldown == nil || *c.IncidentCooldown == "" {
		return 20 * time.Second
	}
	d, err := time.ParseDuration(*c.IncidentCooldown)
	if err != nil {
		return 20 * time.Second
	}
	return d
}

// PipelineConfig maps the tuning document onto the per-stage pipeline
// configuration. Values the document does not carry keep the pipeline's
// compiled-in defaults.
func (c *TuningConfig) PipelineConfig() traffic.Config {
	cfg := traffic.DefaultConfig()

	cfg.Tracker.MinConfidence = c.GetMinTrackingConfidence()
	cfg.Tracker.MaxMatchDistance = c.GetMaxMatchDistance()
	cfg.Tracker.GapTolerance = int64(c.GetGapTolerance())
	cfg.Tracker.HistoryLength = c.GetHistoryLength()

	cfg.Trajectory.CollisionDistance = c.GetCollisionDistanceThreshold()
	cfg.Trajectory.PredictionHorizon = c.GetPredictionHorizon()
	cfg.Trajectory.MinCollisionSpeed = c.GetMinCollisionSpeed()
	cfg.Trajectory.SameDirectionAngle = c.GetCollisionAngleThreshold()
	cfg.Trajectory.HeadOnAngle = 180 - c.GetCollisionAngleThreshold()
	cfg.Trajectory.MinTrajectoryLength = c.GetMinTrajectoryLength()
	cfg.Trajectory.FPS = c.GetFPS()

	cfg.Depth.Enabled = c.GetDepthAnalysisEnabled()
	cfg.Depth.DiffThreshold = c.GetDepthDifferenceThreshold()
	cfg.Depth.ShadowThreshold = c.GetShadowDetectionThreshold()

	cfg.Flow.Enabled = c.GetOpticalFlowEnabled()
	cfg.Flow.MagnitudeThreshold = c.GetFlowMagnitudeThreshold()

	cfg.Anomaly.Enabled = c.GetPhysicsValidationEnabled()
	cfg.Anomaly.DecelThreshold = c.GetDecelerationThreshold()

	cfg.Fusion.Mode = c.GetFusionMode()
	cfg.Fusion.RequireAllLayers = c.GetRequireAllLayers()
	cfg.Fusion.MinLayerAgreement = c.GetMinimumLayerAgreement()
	cfg.Fusion.ConfidenceThreshold = c.GetCollisionConfidenceThreshold()
	cfg.Fusion.Persistence = c.GetCollisionPersistence()
	cfg.Fusion.Cooldown = c.GetCollisionCooldown()

	cfg.Secondary.FPS = c.GetFPS()
	cfg.Secondary.StoppedTime = time.Duration(c.GetStoppedVehicleTime() * float64(time.Second))
	cfg.Secondary.FrameWidth = c.GetFrameWidth()
	cfg.Secondary.FrameHeight = c.GetFrameHeight()
	cfg.Secondary.PedestrianMinConfidence = c.GetPedestrianRoadThreshold()
	cfg.Secondary.PedestrianCooldown = c.GetIncidentCooldown()
	cfg.Secondary.SpeedChangeThreshold = c.GetSpeedChangeThreshold()
	cfg.Secondary.SpeedChangeCooldown = c.GetIncidentCooldown()

	return cfg
}
