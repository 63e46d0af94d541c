// Command trafficwatch runs the incident detection pipeline over a live
// camera (or video file) and serves the incident API. With -replay it
// reprocesses a recorded detection log instead of opening a camera.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/incident.report/internal/api"
	"github.com/banshee-data/incident.report/internal/capture"
	"github.com/banshee-data/incident.report/internal/config"
	"github.com/banshee-data/incident.report/internal/db"
	"github.com/banshee-data/incident.report/internal/monitoring"
	"github.com/banshee-data/incident.report/internal/traffic"
	"github.com/banshee-data/incident.report/internal/version"
)

var (
	source       = flag.String("source", "0", "Camera index, video file or stream URL")
	replayPath   = flag.String("replay", "", "Process a detection log (JSONL) instead of live video")
	dbFile       = flag.String("db", "incidents.db", "Sqlite database path")
	listen       = flag.String("listen", ":8080", "Listen address")
	configPath   = flag.String("config", "", "Tuning config JSON path (built-in defaults when empty)")
	detectionLog = flag.String("detection-log", "", "Append detector output to this JSONL file")
	clipDir      = flag.String("clips", "clips", "Directory for incident video clips")
	modelPath    = flag.String("model", "models/yolov8n.onnx", "YOLO ONNX model path")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		log.Printf("trafficwatch %s", version.String())
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
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
	store := config.NewStore(tuning)

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()
	if err := database.MigrateUp(); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	runID := uuid.NewString()
	monitoring.Logf("trafficwatch %s starting run %s", version.String(), runID)

	var flow traffic.FlowEstimator
	if *replayPath == "" {
		flow = capture.NewLKFlow()
	}
	pipe := traffic.NewPipeline(tuning.PipelineConfig(), flow)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database writes and log lines happen on the sink worker, off the
	// pipeline loop.
	sink := traffic.NewAsyncSink(traffic.Sinks{database, traffic.LogSink{}}, 64)

	// pipeline loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer sink.Close()
		defer stop()

		var err error
		if *replayPath != "" {
			err = runReplay(ctx, pipe, store, *replayPath, sink)
		} else {
			err = runLive(ctx, pipe, store, sink)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("pipeline loop failed: %v", err)
		}

		if err := database.SaveRunStats(runID, pipe.Snapshot()); err != nil {
			monitoring.Logf("failed to save run stats: %v", err)
		}
	}()

	// HTTP server
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(database, store, pipe).ServeMux()
		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		monitoring.Logf("listening on %s", *listen)

		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				monitoring.Logf("HTTP server force close error: %v", err)
			}
		}
	}()

	wg.Wait()
	monitoring.Logf("run %s complete", runID)
}

// runLive processes frames from the camera until the stream ends or the
// context is cancelled. Tuning updates from the params endpoint are applied
// between frames.
func runLive(ctx context.Context, pipe *traffic.Pipeline, store *config.Store, sink traffic.Sink) error {
	src, err := capture.OpenSource(*source)
	if err != nil {
		return err
	}
	defer src.Close()

	detector, err := capture.NewDetector(detectorConfig())
	if err != nil {
		return err
	}
	defer detector.Close()

	// ten seconds of pre-roll at the source frame rate
	recorder, err := capture.NewRecorder(*clipDir, int(src.FPS()*10), src.FPS())
	if err != nil {
		return err
	}
	defer recorder.Close()
	sinks := traffic.Sinks{recorder, sink}

	var logWriter *traffic.LogWriter
	if *detectionLog != "" {
		f, err := os.OpenFile(*detectionLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		logWriter = traffic.NewLogWriter(f)
		defer logWriter.Flush()
	}

	lastGen := store.Generation()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if gen := store.Generation(); gen != lastGen {
			lastGen = gen
			current := store.Current()
			pipe.ApplyConfig(current.PipelineConfig())
			monitoring.Logf("applied tuning generation %d", gen)
		}

		bgr, _, frame, ok := src.Read()
		if !ok {
			monitoring.Logf("capture source exhausted")
			return nil
		}
		recorder.Push(bgr)

		frame.Detections, err = detector.Detect(bgr)
		if err != nil {
			monitoring.Logf("detector failed on frame %d: %v", frame.Index, err)
			continue
		}

		if logWriter != nil {
			rec := traffic.LogRecord{FrameIndex: frame.Index, Time: frame.Time, Detections: frame.Detections}
			if err := logWriter.Write(rec); err != nil {
				monitoring.Logf("detection log write failed: %v", err)
			}
		}

		for _, inc := range pipe.ProcessFrame(frame) {
			sinks.Publish(inc)
		}
	}
}

// runReplay reprocesses a recorded detection log. No frames are available,
// so the depth and flow layers soft-fail throughout.
func runReplay(ctx context.Context, pipe *traffic.Pipeline, store *config.Store, path string, sink traffic.Sink) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	records, err := traffic.ReadLog(f)
	if err != nil {
		return err
	}
	monitoring.Logf("replaying %d frames from %s", len(records), path)

	lastGen := store.Generation()
	for _, rec := range records {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if gen := store.Generation(); gen != lastGen {
			lastGen = gen
			current := store.Current()
			pipe.ApplyConfig(current.PipelineConfig())
		}

		frame := traffic.Frame{Index: rec.FrameIndex, Time: rec.Time, Detections: rec.Detections}
		for _, inc := range pipe.ProcessFrame(frame) {
			sink.Publish(inc)
		}
	}

	stats := pipe.Snapshot()
	monitoring.Logf("replay complete: frames=%d detections=%d incidents=%d",
		stats.TotalFrames, stats.TotalDetections, stats.IncidentsDetected)
	return nil
}

func detectorConfig() capture.DetectorConfig {
	cfg := capture.DefaultDetectorConfig()
	cfg.ModelPath = *modelPath
	return cfg
}
