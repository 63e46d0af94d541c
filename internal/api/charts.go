package api

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/incident.report/internal/db"
	"github.com/banshee-data/incident.report/internal/traffic"
)

// incidentCharts renders an HTML page with the incident timeline and the
// per-type totals. Debugging-only endpoint (no auth); the query param
// window (e.g. "2h", default "1h") bounds the timeline.
func (s *Server) incidentCharts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	window := time.Hour
	if winStr := r.URL.Query().Get("window"); winStr != "" {
		d, err := time.ParseDuration(winStr)
		if err != nil || d <= 0 {
			s.writeJSONError(w, http.StatusBadRequest, "invalid window parameter")
			return
		}
		window = d
	}

	since := time.Now().Add(-window)
	buckets, err := s.db.IncidentTimeline(since)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("timeline query failed: %v", err))
		return
	}
	counts, err := s.db.CountIncidentsByType()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("count query failed: %v", err))
		return
	}

	page := components.NewPage()
	page.SetPageTitle("Incident Report")
	page.AddCharts(
		timelineChart(buckets, window),
		typeTotalsChart(counts),
		layerChart(s.stats.Snapshot().Layers),
	)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render charts: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func timelineChart(buckets []db.TimelineBucket, window time.Duration) *charts.Line {
	minutes := make([]string, 0, len(buckets))
	values := make([]opts.LineData, 0, len(buckets))
	for _, b := range buckets {
		minutes = append(minutes, b.Minute.Format("15:04"))
		values = append(values, opts.LineData{Value: b.Count})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: "dark", Width: "1100px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Incidents per minute",
			Subtitle: fmt.Sprintf("last %s", window),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	line.SetXAxis(minutes)
	line.AddSeries("incidents", values,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))
	return line
}

func typeTotalsChart(counts map[traffic.IncidentType]int64) *charts.Bar {
	types := make([]string, 0, len(counts))
	for typ := range counts {
		types = append(types, string(typ))
	}
	sort.Strings(types)

	values := make([]opts.BarData, 0, len(types))
	for _, typ := range types {
		values = append(values, opts.BarData{Value: counts[traffic.IncidentType(typ)]})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: "dark", Width: "1100px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Incidents by type"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(types)
	bar.AddSeries("total", values)
	return bar
}

func layerChart(layers traffic.LayerStats) *charts.Bar {
	names := []string{"trajectory", "depth", "flow", "physics", "final"}
	values := []opts.BarData{
		{Value: layers.TrajectoryDetected},
		{Value: layers.DepthConfirmed},
		{Value: layers.FlowConfirmed},
		{Value: layers.PhysicsConfirmed},
		{Value: layers.FinalConfirmed},
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: "dark", Width: "1100px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Layer confirmations",
			Subtitle: "this run",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names)
	bar.AddSeries("count", values)
	return bar
}
