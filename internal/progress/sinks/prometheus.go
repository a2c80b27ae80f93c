package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/progress"
)

// PrometheusSink exports run and page progress as Prometheus collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec
	discovered    prometheus.Counter

	pages        *prometheus.CounterVec
	pdfBytes     *prometheus.CounterVec
	pageDuration *prometheus.HistogramVec
	pageAttempts prometheus.Histogram

	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_runs_started_total",
			Help: "Scrape runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_runs_completed_total",
			Help: "Scrape runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_runs_running",
			Help: "Scrape runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 2400, 3600},
		}, []string{"result"}),
		discovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_pages_discovered_total",
			Help: "URLs returned by link discovery.",
		}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_pages_total",
			Help: "Page renders partitioned by site, result, and status class.",
		}, []string{"site", "result", "status_class"}),
		pdfBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_pdf_bytes_total",
			Help: "Bytes of page PDF produced per site.",
		}, []string{"site"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_page_duration_seconds",
			Help:    "Render time per page including retries.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"site", "result"}),
		pageAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scraper_page_attempts",
			Help:    "Attempts needed per page.",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		}),
		running: make(map[uuid.UUID]struct{}),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.discovered,
		s.pages,
		s.pdfBytes,
		s.pageDuration,
		s.pageAttempts,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			if s.track(evt.RunID, true) {
				s.runsRunning.Inc()
			}
		case progress.StageRunDiscovered:
			s.discovered.Add(float64(evt.Pages))
		case progress.StageRunDone:
			s.finishRun(evt, "success")
		case progress.StageRunError:
			s.finishRun(evt, "error")
		case progress.StagePageDone:
			s.observePage(evt, "rendered")
			if evt.Bytes > 0 {
				s.pdfBytes.WithLabelValues(siteLabel(evt)).Add(float64(evt.Bytes))
			}
		case progress.StagePageError:
			s.observePage(evt, "failed")
		}
	}
	return nil
}

func (s *PrometheusSink) finishRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.track(evt.RunID, false) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observePage(evt progress.Event, result string) {
	site := siteLabel(evt)
	s.pages.WithLabelValues(site, result, progress.StatusClass(evt.StatusCode)).Inc()
	if evt.Dur > 0 {
		s.pageDuration.WithLabelValues(site, result).Observe(evt.Dur.Seconds())
	}
	if evt.Attempts > 0 {
		s.pageAttempts.Observe(float64(evt.Attempts))
	}
}

// track records a run as running (start) or finished and reports whether
// the set changed.
func (s *PrometheusSink) track(id uuid.UUID, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	if start {
		if ok {
			return false
		}
		s.running[id] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.running, id)
	return true
}

func siteLabel(evt progress.Event) string {
	if evt.Site != "" {
		return evt.Site
	}
	return progress.SiteOf(evt.URL)
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
