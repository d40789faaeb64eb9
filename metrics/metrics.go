// Package metrics bundles the Prometheus collectors shared by the page
// scraper and the image materializer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for a scrape run.
type Metrics struct {
	Registry            *prometheus.Registry
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	CardsExtractedTotal prometheus.Counter
	ImagesTotal         *prometheus.CounterVec
	CollisionsTotal     prometheus.Counter
	ErrorsTotal         *prometheus.CounterVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP requests issued by the scraper.",
		},
		[]string{"kind"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for page and image requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	cards := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_cards_extracted_total",
			Help: "Total number of book cards extracted from the page.",
		},
	)
	images := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_images_total",
			Help: "Thumbnails handled by the image materializer by result.",
		},
		[]string{"result"},
	)
	collisions := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_thumbnail_collisions_total",
			Help: "Thumbnails overwritten by a different source URL with the same file name.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(requests, requestDuration, cards, images, collisions, errorsTotal)

	return &Metrics{
		Registry:            registry,
		RequestsTotal:       requests,
		RequestDuration:     requestDuration,
		CardsExtractedTotal: cards,
		ImagesTotal:         images,
		CollisionsTotal:     collisions,
		ErrorsTotal:         errorsTotal,
	}
}

// IncRequest increments the requests counter for a kind ("page" or "image").
func (m *Metrics) IncRequest(kind string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(kind).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// IncCards increments the extracted cards counter.
func (m *Metrics) IncCards() {
	if m == nil {
		return
	}
	m.CardsExtractedTotal.Inc()
}

// IncImage increments the images counter for a result label.
func (m *Metrics) IncImage(result string) {
	if m == nil {
		return
	}
	m.ImagesTotal.WithLabelValues(result).Inc()
}

// IncCollision increments the thumbnail collision counter.
func (m *Metrics) IncCollision() {
	if m == nil {
		return
	}
	m.CollisionsTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
