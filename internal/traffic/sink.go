package traffic

import (
	"github.com/banshee-data/incident.report/internal/monitoring"
)

// Sink consumes incidents emitted by the pipeline. Publish must not block:
// implementations do cheap in-memory work or hand off to their own goroutine.
// A failing sink logs and drops; the frame loop never waits on delivery.
type Sink interface {
	Publish(inc Incident)
}

// Sinks fans each incident out to every registered sink in order.
type Sinks []Sink

// Publish delivers inc to each sink.
func (s Sinks) Publish(inc Incident) {
	for _, sink := range s {
		sink.Publish(inc)
	}
}

// LogSink writes a one-line summary of each incident to the package logger.
type LogSink struct{}

// Publish logs the incident.
func (LogSink) Publish(inc Incident) {
	monitoring.Logf("incident %s: type=%s severity=%s confidence=%.2f frame=%d",
		inc.ID, inc.Type, inc.Severity, inc.Confidence, inc.FrameIndex)
}

// AsyncSink decouples slow sinks (database writes) from the frame loop with a
// buffered channel and a single worker goroutine. Publish drops when the
// backlog is full.
type AsyncSink struct {
	inner Sink
	ch    chan Incident
	done  chan struct{}
}

// NewAsyncSink starts the worker. Close must be called to drain it.
func NewAsyncSink(inner Sink, buffer int) *AsyncSink {
	s := &AsyncSink{
		inner: inner,
		ch:    make(chan Incident, buffer),
		done:  make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		for inc := range s.ch {
			s.inner.Publish(inc)
		}
	}()
	return s
}

// Publish queues the incident for the worker.
func (s *AsyncSink) Publish(inc Incident) {
	select {
	case s.ch <- inc:
	default:
		monitoring.Logf("incident sink backlog full, dropping %s", inc.ID)
	}
}

// Close stops accepting incidents and waits for the worker to drain the
// backlog.
func (s *AsyncSink) Close() {
	close(s.ch)
	<-s.done
}
