package cvm

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups every Prometheus collector the VM updates as it executes
// instructions and opcodes. A package-level default instance is registered
// once; callers embedding the VM in a larger service can construct their
// own via NewMetrics and a private registry instead.
type Metrics struct {
	opcodeSuccesses *prometheus.CounterVec
	opcodeFailures  *prometheus.CounterVec
	pohSlot         prometheus.Gauge
	storageFill     prometheus.Gauge
	relayFill       prometheus.Gauge
}

// NewMetrics builds a fresh Metrics set and registers it with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		opcodeSuccesses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cvm",
			Name:      "opcode_success_total",
			Help:      "Number of opcode executions that completed without error, by opcode name.",
		}, []string{"opcode"}),
		opcodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cvm",
			Name:      "opcode_failure_total",
			Help:      "Number of opcode executions rejected before any state mutation, by opcode name.",
		}, []string{"opcode"}),
		pohSlot: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cvm",
			Name:      "poh_slot",
			Help:      "Current proof-of-history slot counter for the VM.",
		}),
		storageFill: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cvm",
			Name:      "storage_tree_next_index",
			Help:      "Current next_index of the storage compression Merkle tree.",
		}),
		relayFill: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cvm",
			Name:      "relay_tree_next_index",
			Help:      "Current next_index of the relay commitment Merkle tree.",
		}),
	}

	reg.MustRegister(m.opcodeSuccesses, m.opcodeFailures, m.pohSlot, m.storageFill, m.relayFill)
	return m
}

// defaultMetrics is registered against the default Prometheus registry so a
// VM constructed without explicit wiring still exposes metrics on the
// process's default /metrics handler.
var defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// ObserveStorage updates the storage Merkle tree fill gauge. Called by the
// Compress/Decompress instruction handlers after every tree mutation.
func (m *Metrics) ObserveStorage(storage *StorageAccount) {
	if storage == nil || storage.Merkle == nil {
		return
	}
	m.storageFill.Set(float64(storage.Merkle.NextIndex()))
}

// ObserveRelay updates the relay commitment tree fill gauge. Called by the
// Relay/ExternalRelay opcode handlers after every commitment insertion.
func (m *Metrics) ObserveRelay(relay *RelayAccount) {
	if relay == nil || relay.History == nil {
		return
	}
	m.relayFill.Set(float64(relay.History.NextIndex()))
}
