package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/federated-storage/registry/internal/models"
)

var (
	registryEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_events_total",
			Help: "Registry events committed, by kind",
		},
		[]string{"kind"},
	)

	tipVolume = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_tip_volume_total",
			Help: "Sum of all successful tips",
		},
	)

	rewardsClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_rewards_claimed_total",
			Help: "Sum of all claimed rewards",
		},
	)

	registryFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_files",
			Help: "Number of registered files",
		},
	)

	contentCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "content_cache_hits_total",
			Help: "Content cache hits",
		},
	)

	contentCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "content_cache_misses_total",
			Help: "Content cache misses",
		},
	)

	contentBytesStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "content_bytes_stored_total",
			Help: "Bytes written to the content store",
		},
	)
)

// EventMetrics records registry events as Prometheus metrics
type EventMetrics struct{}

// Publish updates counters for ev
func (EventMetrics) Publish(ev models.Event) {
	registryEvents.WithLabelValues(string(ev.Kind)).Inc()

	switch ev.Kind {
	case models.EventFileCreated:
		registryFiles.Set(float64(ev.FileID))
	case models.EventTipRecorded:
		tipVolume.Add(float64(ev.Amount))
	case models.EventRewardClaimed:
		rewardsClaimed.Add(float64(ev.Amount))
	}
}
