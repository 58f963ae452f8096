package handler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collection_crud_requests_total",
			Help: "The total number of handled CRUD requests",
		},
		[]string{"collection", "action", "code"},
	)
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collection_crud_request_duration_seconds",
			Help:    "Time spent handling CRUD requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection", "action"},
	)
)
