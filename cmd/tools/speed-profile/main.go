// Command speed-profile plots per-track speed over time from a recorded
// detection log. Runs only the tracker and physics stages; the output PNG
// shows the smoothed speed series for the longest-lived tracks, which is
// the quickest way to sanity-check smoothing and threshold settings
// against real footage.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/incident.report/internal/config"
	"github.com/banshee-data/incident.report/internal/traffic"
)

var (
	logPath    = flag.String("log", "", "Detection log (JSONL) to profile")
	outPath    = flag.String("out", "speed-profile.png", "Output PNG path")
	topN       = flag.Int("top", 8, "Number of longest-lived tracks to plot")
	configPath = flag.String("config", "", "Tuning config JSON path (built-in defaults when empty)")
)

type series struct {
	id     int64
	points plotter.XYs
}

func main() {
	flag.Parse()
	if *logPath == "" {
		log.Fatal("-log is required")
	}

	var tuning *config.TuningConfig
	if *configPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	} else {
		tuning = config.MustLoadDefaultConfig()
	}
	cfg := tuning.PipelineConfig()

	f, err := os.Open(*logPath)
	if err != nil {
		log.Fatalf("failed to open log: %v", err)
	}
	defer f.Close()

	records, err := traffic.ReadLog(f)
	if err != nil {
		log.Fatalf("failed to read log: %v", err)
	}

	tracker := traffic.NewTracker(cfg.Tracker)
	physics := traffic.NewPhysicsEstimator(cfg.Physics)

	profiles := make(map[int64]plotter.XYs)
	for _, rec := range records {
		ids := tracker.Update(rec.Detections, rec.FrameIndex)
		physics.UpdatePhysics(tracker, ids, rec.FrameIndex)

		for _, id := range ids {
			v := tracker.Track(id)
			if v.Velocity == nil {
				continue
			}
			profiles[id] = append(profiles[id], plotter.XY{
				X: float64(rec.FrameIndex),
				Y: v.Speed,
			})
		}
	}
	if len(profiles) == 0 {
		log.Fatal("no tracks with speed data in log")
	}

	all := make([]series, 0, len(profiles))
	for id, pts := range profiles {
		all = append(all, series{id: id, points: pts})
	}
	sort.Slice(all, func(i, j int) bool {
		if len(all[i].points) != len(all[j].points) {
			return len(all[i].points) > len(all[j].points)
		}
		return all[i].id < all[j].id
	})
	if len(all) > *topN {
		all = all[:*topN]
	}

	p := plot.New()
	p.Title.Text = "Track speed profiles"
	p.X.Label.Text = "frame"
	p.Y.Label.Text = "speed (px/frame)"
	p.Add(plotter.NewGrid())

	args := make([]interface{}, 0, len(all)*2)
	for _, s := range all {
		args = append(args, fmt.Sprintf("track %d", s.id), s.points)
	}
	if err := plotutil.AddLinePoints(p, args...); err != nil {
		log.Fatalf("failed to add series: %v", err)
	}

	if err := p.Save(14*vg.Inch, 6*vg.Inch, *outPath); err != nil {
		log.Fatalf("failed to save plot: %v", err)
	}
	log.Printf("wrote %s (%d tracks, %d frames)", *outPath, len(all), len(records))
}
