// Package metrics exposes crawl progress counters over an optional
// Prometheus endpoint.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moltbook_requests_total",
			Help: "Total API requests issued, labeled by HTTP status code (0 = transport error).",
		},
		[]string{"status_code"},
	)
	requestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "moltbook_request_duration_seconds",
			Help:    "Duration of API round trips in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	postsStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "moltbook_posts_stored_total",
			Help: "Posts written to posts.jsonl.",
		},
	)
	commentsStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "moltbook_comments_stored_total",
			Help: "Comments written to comments.jsonl.",
		},
	)
	listingsStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "moltbook_listings_stored_total",
			Help: "Listing rows written to listings.jsonl.",
		},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(requestDuration)
	prometheus.MustRegister(postsStored)
	prometheus.MustRegister(commentsStored)
	prometheus.MustRegister(listingsStored)
}

// ObserveRequest counts one finished API request.
func ObserveRequest(statusCode int) {
	requestsTotal.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// ObserveRequestDuration records one round-trip duration.
func ObserveRequestDuration(d time.Duration) {
	requestDuration.Observe(d.Seconds())
}

// AddPosts counts posts written to the output file.
func AddPosts(n int) { postsStored.Add(float64(n)) }

// AddComments counts comments written to the output file.
func AddComments(n int) { commentsStored.Add(float64(n)) }

// AddListings counts listing rows written to the output file.
func AddListings(n int) { listingsStored.Add(float64(n)) }

// Expose serves /metrics on addr. It blocks, so run it in its own goroutine.
func Expose(addr string) {
	log.Info().Str("addr", addr).Msg("Exposing Prometheus metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("Metrics server stopped")
	}
}
