// Command replay reprocesses a recorded detection log through the incident
// pipeline and prints a run summary. Useful for tuning: edit the config,
// replay the same log, compare the output.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/banshee-data/incident.report/internal/config"
	"github.com/banshee-data/incident.report/internal/monitoring"
	"github.com/banshee-data/incident.report/internal/traffic"
)

var (
	logPath    = flag.String("log", "", "Detection log (JSONL) to replay")
	configPath = flag.String("config", "", "Tuning config JSON path (built-in defaults when empty)")
	jsonOut    = flag.Bool("json", false, "Emit the summary as JSON instead of text")
	verbose    = flag.Bool("v", false, "Log pipeline diagnostics during replay")
)

type summary struct {
	Analytics  traffic.Analytics            `json:"analytics"`
	Incidents  []traffic.Incident           `json:"incidents"`
	BySeverity map[traffic.Severity]int     `json:"by_severity"`
	ByType     map[traffic.IncidentType]int `json:"by_type"`
}

func main() {
	flag.Parse()
	if *logPath == "" {
		log.Fatal("-log is required")
	}

	if !*verbose {
		monitoring.SetLogger(nil)
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

	f, err := os.Open(*logPath)
	if err != nil {
		log.Fatalf("failed to open log: %v", err)
	}
	defer f.Close()

	records, err := traffic.ReadLog(f)
	if err != nil {
		log.Fatalf("failed to read log: %v", err)
	}

	pipe := traffic.NewPipeline(tuning.PipelineConfig(), nil)

	s := summary{
		BySeverity: make(map[traffic.Severity]int),
		ByType:     make(map[traffic.IncidentType]int),
	}
	for _, rec := range records {
		frame := traffic.Frame{Index: rec.FrameIndex, Time: rec.Time, Detections: rec.Detections}
		for _, inc := range pipe.ProcessFrame(frame) {
			s.Incidents = append(s.Incidents, inc)
			s.BySeverity[inc.Severity]++
			s.ByType[inc.Type]++
		}
	}
	s.Analytics = pipe.Snapshot()

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s); err != nil {
			log.Fatalf("failed to encode summary: %v", err)
		}
		return
	}

	printSummary(s)
}

func printSummary(s summary) {
	fmt.Printf("frames:     %d\n", s.Analytics.TotalFrames)
	fmt.Printf("detections: %d\n", s.Analytics.TotalDetections)
	fmt.Printf("incidents:  %d\n", s.Analytics.IncidentsDetected)
	fmt.Printf("layers:     trajectory=%d depth=%d flow=%d physics=%d\n",
		s.Analytics.Layers.TrajectoryDetected, s.Analytics.Layers.DepthConfirmed,
		s.Analytics.Layers.FlowConfirmed, s.Analytics.Layers.PhysicsConfirmed)

	if len(s.ByType) > 0 {
		types := make([]string, 0, len(s.ByType))
		for typ := range s.ByType {
			types = append(types, string(typ))
		}
		sort.Strings(types)
		fmt.Println("by type:")
		for _, typ := range types {
			fmt.Printf("  %-22s %d\n", typ, s.ByType[traffic.IncidentType(typ)])
		}
	}

	for _, inc := range s.Incidents {
		fmt.Printf("[%s] frame=%-6d %-22s confidence=%.2f", inc.Severity, inc.FrameIndex, inc.Type, inc.Confidence)
		if inc.TTC > 0 {
			fmt.Printf(" ttc=%.2fs", inc.TTC)
		}
		fmt.Println()
	}
}
