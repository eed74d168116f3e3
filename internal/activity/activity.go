// Package activity implements the per-world activity tracker: a
// pending-operations counter and monotonic activity id driving
// response-start/response-end/idle world events, plus Prometheus gauges
// for external observability.
//
// Grounded on a precedent in internal/observability/metrics.go
// (promauto-registered CounterVec/GaugeVec wrapped by small typed methods)
// and its ActiveSessions gauge specifically, the closest analogue to an
// in-flight-operations count.
package activity

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/haasonsaas/worldrt/internal/worldbus"
	"github.com/haasonsaas/worldrt/pkg/models"
)

// Metrics holds the Prometheus collectors shared across every world's
// Tracker. Construct once per process and pass into NewTracker.
type Metrics struct {
	PendingOperations *prometheus.GaugeVec
	ResponseStarts    *prometheus.CounterVec
	ResponseEnds      *prometheus.CounterVec
}

// NewMetrics registers the activity-tracker collectors with Prometheus's
// default registry. Call once at process startup.
func NewMetrics() *Metrics {
	return &Metrics{
		PendingOperations: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "worldrt_pending_operations",
				Help: "Current number of in-flight agent operations by world",
			},
			[]string{"world_id"},
		),
		ResponseStarts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worldrt_response_starts_total",
				Help: "Total number of agent response-start events by world",
			},
			[]string{"world_id"},
		),
		ResponseEnds: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worldrt_response_ends_total",
				Help: "Total number of agent response-end events by world",
			},
			[]string{"world_id"},
		),
	}
}

// Tracker maintains one world's pending-operation count and active-source
// set, emitting world-channel activity events and updating Prometheus
// gauges as operations start and stop.
type Tracker struct {
	mu                sync.Mutex
	worldID           string
	pendingOperations int
	activityID        int64
	activeSources     map[string]struct{}

	bus     *worldbus.Bus
	metrics *Metrics
}

// NewTracker creates a Tracker for one world. metrics may be nil to skip
// Prometheus instrumentation (e.g. in tests).
func NewTracker(worldID string, bus *worldbus.Bus, metrics *Metrics) *Tracker {
	return &Tracker{
		worldID:       worldID,
		activeSources: make(map[string]struct{}),
		bus:           bus,
		metrics:       metrics,
	}
}

// Start records a source beginning work, incrementing pendingOperations and
// emitting a response-start world event. Activity events always carry a
// nil chatId (world-level) and bypass chat filtering.
func (t *Tracker) Start(ctx context.Context, source string) {
	t.mu.Lock()
	t.pendingOperations++
	t.activityID++
	t.activeSources[source] = struct{}{}
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.PendingOperations.WithLabelValues(t.worldID).Set(float64(snapshot.pending))
		t.metrics.ResponseStarts.WithLabelValues(t.worldID).Inc()
	}

	t.emit(ctx, models.WorldResponseStart, source, snapshot)
}

// End records a source finishing work, decrementing pendingOperations and
// emitting response-end; an additional idle event is emitted when the
// count transitions to zero.
func (t *Tracker) End(ctx context.Context, source string) {
	t.mu.Lock()
	if t.pendingOperations > 0 {
		t.pendingOperations--
	}
	t.activityID++
	delete(t.activeSources, source)
	snapshot := t.snapshotLocked()
	wentIdle := snapshot.pending == 0
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.PendingOperations.WithLabelValues(t.worldID).Set(float64(snapshot.pending))
		t.metrics.ResponseEnds.WithLabelValues(t.worldID).Inc()
	}

	t.emit(ctx, models.WorldResponseEnd, source, snapshot)
	if wentIdle {
		t.emit(ctx, models.WorldIdle, source, snapshot)
	}
}

type snapshot struct {
	pending int
	id      int64
	sources []string
}

func (t *Tracker) snapshotLocked() snapshot {
	sources := make([]string, 0, len(t.activeSources))
	for s := range t.activeSources {
		sources = append(sources, s)
	}
	return snapshot{pending: t.pendingOperations, id: t.activityID, sources: sources}
}

func (t *Tracker) emit(ctx context.Context, eventType models.WorldEventType, source string, s snapshot) {
	if t.bus == nil {
		return
	}
	t.bus.EmitWorld(ctx, nil, models.WorldPayload{
		Type:              eventType,
		Source:            source,
		PendingOperations: s.pending,
		ActivityID:        s.id,
		ActiveSources:     s.sources,
	})
}

// PendingOperations returns the current in-flight operation count.
func (t *Tracker) PendingOperations() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pendingOperations
}
