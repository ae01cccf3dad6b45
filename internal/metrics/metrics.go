package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sharelink"

// Metrics holds the share lifecycle counters.
type Metrics struct {
	Uploads       *prometheus.CounterVec
	UploadedBytes prometheus.Counter
	Notifications *prometheus.CounterVec
	Resolves      *prometheus.CounterVec
}

// New registers the lifecycle counters on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload attempts by result.",
		}, []string{"result"}),
		UploadedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Bytes accepted into the blob store.",
		}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Share notification attempts by result.",
		}, []string{"result"}),
		Resolves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolves_total",
			Help:      "Link resolutions by result.",
		}, []string{"result"}),
	}
}
