// Package metrics exposes the server's Prometheus collectors. They are
// registered on the default registry; cmd/server serves them via
// promhttp on the status listener.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "itemlink",
		Name:      "connections_open",
		Help:      "Currently open client connections by transport.",
	}, []string{"transport"})

	ConnectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "itemlink",
		Name:      "connections_total",
		Help:      "Accepted client connections by transport and wire version.",
	}, []string{"transport", "version"})

	RoomsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "itemlink",
		Name:      "rooms_open",
		Help:      "Rooms currently held by the registry.",
	})

	ItemsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "itemlink",
		Name:      "items_queued_total",
		Help:      "Items accepted into a room queue (after dedup).",
	})

	ItemsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "itemlink",
		Name:      "items_deduplicated_total",
		Help:      "Item submissions dropped as duplicates.",
	})

	BroadcastWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "itemlink",
		Name:      "broadcast_write_failures_total",
		Help:      "Client writes that failed during a room broadcast.",
	})

	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "itemlink",
		Name:      "decode_errors_total",
		Help:      "Inbound frames that failed to decode, by wire version.",
	}, []string{"version"})

	SavesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "itemlink",
		Name:      "saves_total",
		Help:      "Save blobs accepted from clients.",
	})
)
