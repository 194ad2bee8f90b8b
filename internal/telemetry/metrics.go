package telemetry

// Package-level stats, no-ops until Init binds prometheus implementations.
var (
	// CoalescerFlushesTotal counts batch flushes by entity type and kind.
	CoalescerFlushesTotal CounterVec = noopCounterVec{}

	// CoalescerEventsTotal counts raw events buffered by entity type and kind.
	CoalescerEventsTotal CounterVec = noopCounterVec{}

	// BusDroppedTotal counts events dropped on full subscriber buffers.
	BusDroppedTotal Counter = noopStat{}

	// FeedSubscriptionsActive tracks currently open subscription handles.
	FeedSubscriptionsActive Gauge = noopStat{}

	// AlertCuesTotal counts audible cues played, by category.
	AlertCuesTotal CounterVec = noopCounterVec{}

	// OutboundWritesTotal counts outbound writes by operation and result.
	OutboundWritesTotal CounterVec = noopCounterVec{}

	// MediaTransfersTotal counts finished media transfers by outcome.
	MediaTransfersTotal CounterVec = noopCounterVec{}

	// PermRetriesTotal counts permission fetch retry attempts.
	PermRetriesTotal Counter = noopStat{}
)

func bindMetrics() {
	CoalescerFlushesTotal = NewCounterVec("coalescer_flushes_total", "Batch flushes by entity type and change kind", "entity", "kind")
	CoalescerEventsTotal = NewCounterVec("coalescer_events_total", "Raw change events buffered by entity type and change kind", "entity", "kind")
	BusDroppedTotal = NewCounter("bus_dropped_total", "Bus events dropped on full subscriber buffers")
	FeedSubscriptionsActive = NewGauge("feed_subscriptions_active", "Currently open change feed subscription handles")
	AlertCuesTotal = NewCounterVec("alert_cues_total", "Audible alert cues played", "category")
	OutboundWritesTotal = NewCounterVec("outbound_writes_total", "Outbound point writes", "op", "result")
	MediaTransfersTotal = NewCounterVec("media_transfers_total", "Finished media transfers", "outcome")
	PermRetriesTotal = NewCounter("perm_retries_total", "Permission fetch retry attempts")
}
