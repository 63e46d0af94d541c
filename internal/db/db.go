// Package db persists incidents and run analytics to sqlite.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/incident.report/internal/monitoring"
	"github.com/banshee-data/incident.report/internal/traffic"
)

// DB wraps the sqlite handle with the incident schema helpers.
type DB struct {
	*sql.DB
}

// NewDB opens (or creates) the sqlite database at path and applies the
// connection pragmas. Schema setup is a separate step; call MigrateUp.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// WAL keeps the single writer from blocking API reads; the busy timeout
	// covers the brief overlap between the sink worker and list queries.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	return &DB{sqlDB}, nil
}

// Publish implements traffic.Sink. Storage failures are logged and dropped;
// run behind a traffic.AsyncSink so the frame loop never waits on sqlite.
func (db *DB) Publish(inc traffic.Incident) {
	if err := db.InsertIncident(inc); err != nil {
		monitoring.Logf("failed to store incident %s: %v", inc.ID, err)
	}
}

// InsertIncident stores one incident record.
func (db *DB) InsertIncident(inc traffic.Incident) error {
	vehicleIDs, err := json.Marshal(inc.VehicleIDs)
	if err != nil {
		return fmt.Errorf("marshal vehicle ids: %w", err)
	}
	positions, err := json.Marshal(inc.Positions)
	if err != nil {
		return fmt.Errorf("marshal positions: %w", err)
	}
	var predicted []byte
	if inc.PredictedPoint != nil {
		predicted, err = json.Marshal(inc.PredictedPoint)
		if err != nil {
			return fmt.Errorf("marshal predicted point: %w", err)
		}
	}

	_, err = db.Exec(`
		INSERT INTO incidents (
			id, type, severity, confidence, vehicle_ids, positions,
			predicted_point, ttc, speed_change, frame_index, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.ID, string(inc.Type), string(inc.Severity), inc.Confidence,
		string(vehicleIDs), string(positions), nullableString(predicted),
		inc.TTC, inc.SpeedChange, inc.FrameIndex, inc.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert incident %s: %w", inc.ID, err)
	}
	return nil
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// IncidentFilter narrows ListIncidents.
type IncidentFilter struct {
	Type  traffic.IncidentType // empty matches all types
	Since time.Time            // zero matches all time
	Limit int                  // <=0 means the default of 200
}

// ListIncidents returns stored incidents, newest first.
func (db *DB) ListIncidents(f IncidentFilter) ([]traffic.Incident, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}

	query := `
		SELECT id, type, severity, confidence, vehicle_ids, positions,
		       predicted_point, ttc, speed_change, frame_index, occurred_at
		FROM incidents WHERE 1=1`
	var args []any
	if f.Type != "" {
		query += " AND type = ?"
		args = append(args, string(f.Type))
	}
	if !f.Since.IsZero() {
		query += " AND occurred_at >= ?"
		args = append(args, f.Since.UTC())
	}
	query += " ORDER BY occurred_at DESC, frame_index DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var out []traffic.Incident
	for rows.Next() {
		var inc traffic.Incident
		var typ, severity, vehicleIDs, positions string
		var predicted sql.NullString
		if err := rows.Scan(&inc.ID, &typ, &severity, &inc.Confidence,
			&vehicleIDs, &positions, &predicted, &inc.TTC,
			&inc.SpeedChange, &inc.FrameIndex, &inc.Timestamp); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		inc.Type = traffic.IncidentType(typ)
		inc.Severity = traffic.Severity(severity)
		if err := json.Unmarshal([]byte(vehicleIDs), &inc.VehicleIDs); err != nil {
			return nil, fmt.Errorf("unmarshal vehicle ids for %s: %w", inc.ID, err)
		}
		if err := json.Unmarshal([]byte(positions), &inc.Positions); err != nil {
			return nil, fmt.Errorf("unmarshal positions for %s: %w", inc.ID, err)
		}
		if predicted.Valid {
			var p traffic.Point
			if err := json.Unmarshal([]byte(predicted.String), &p); err != nil {
				return nil, fmt.Errorf("unmarshal predicted point for %s: %w", inc.ID, err)
			}
			inc.PredictedPoint = &p
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// CountIncidentsByType returns per-type totals over all stored incidents.
func (db *DB) CountIncidentsByType() (map[traffic.IncidentType]int64, error) {
	rows, err := db.Query(`SELECT type, COUNT(*) FROM incidents GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("count incidents: %w", err)
	}
	defer rows.Close()

	out := make(map[traffic.IncidentType]int64)
	for rows.Next() {
		var typ string
		var n int64
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan incident count: %w", err)
		}
		out[traffic.IncidentType(typ)] = n
	}
	return out, rows.Err()
}

// IncidentTimeline returns incident counts bucketed per minute since the
// given time, oldest first. Used by the chart endpoint.
type TimelineBucket struct {
	Minute time.Time
	Count  int64
}

// IncidentTimeline aggregates incidents per minute. Bucketing happens in Go:
// the driver's timestamp format carries sub-second precision that SQLite's
// date functions do not parse, so the query only filters and orders.
func (db *DB) IncidentTimeline(since time.Time) ([]TimelineBucket, error) {
	rows, err := db.Query(`
		SELECT occurred_at
		FROM incidents
		WHERE occurred_at >= ?`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("incident timeline: %w", err)
	}
	defer rows.Close()

	counts := make(map[time.Time]int64)
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, fmt.Errorf("scan timeline bucket: %w", err)
		}
		counts[at.UTC().Truncate(time.Minute)]++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]TimelineBucket, 0, len(counts))
	for minute, n := range counts {
		out = append(out, TimelineBucket{Minute: minute, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Minute.Before(out[j].Minute) })
	return out, nil
}

// SaveRunStats stores an analytics snapshot for a processing run.
func (db *DB) SaveRunStats(runID string, stats traffic.Analytics) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal run stats: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO run_stats (run_id, stats, recorded_at)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET stats = excluded.stats,
			recorded_at = excluded.recorded_at`,
		runID, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save run stats %s: %w", runID, err)
	}
	return nil
}

// LoadRunStats returns the analytics snapshot for a run, or false if none.
func (db *DB) LoadRunStats(runID string) (traffic.Analytics, bool, error) {
	var payload string
	err := db.QueryRow(`SELECT stats FROM run_stats WHERE run_id = ?`, runID).Scan(&payload)
	if err == sql.ErrNoRows {
		return traffic.Analytics{}, false, nil
	}
	if err != nil {
		return traffic.Analytics{}, false, fmt.Errorf("load run stats %s: %w", runID, err)
	}
	var stats traffic.Analytics
	if err := json.Unmarshal([]byte(payload), &stats); err != nil {
		return traffic.Analytics{}, false, fmt.Errorf("unmarshal run stats %s: %w", runID, err)
	}
	return stats, true, nil
}
