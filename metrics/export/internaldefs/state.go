package internaldefs

import (
	"github.com/MrEthical07/goBFF"
)

// Source is what exporters read from. [goBFF.Engine] implements it.
type Source interface {
	MetricsSnapshot() goBFF.MetricsSnapshot
	StoreStats() goBFF.StoreStats
	AuditDelivered() uint64
	AuditDropped() uint64
}

// State is the part of an engine that lives outside its counters: the
// shared-store connection and the audit pipeline. Unlike the snapshot it is
// reported even when metrics collection is disabled.
type State struct {
	Store          goBFF.StoreStats
	AuditDelivered uint64
	AuditDropped   uint64
}

// ReadState collects State from src.
func ReadState(src Source) State {
	return State{
		Store:          src.StoreStats(),
		AuditDelivered: src.AuditDelivered(),
		AuditDropped:   src.AuditDropped(),
	}
}

// Kind is how an exporter should treat a [StateDef].
type Kind uint8

const (
	// Counter only grows for the life of the process.
	Counter Kind = iota
	// Gauge can go up and down.
	Gauge
)

func (k Kind) String() string {
	if k == Gauge {
		return "gauge"
	}
	return "counter"
}

// StateDef names one value derived from [State].
type StateDef struct {
	Name  string
	Help  string
	Kind  Kind
	Value func(State) uint64
}

// StateDefs lists every exported state value in output order.
var StateDefs = []StateDef{
	{
		Name: "bff_store_up",
		Help: "1 while a shared-store connection is established.",
		Kind: Gauge,
		Value: func(s State) uint64 {
			if s.Store.Connected {
				return 1
			}
			return 0
		},
	},
	{
		Name:  "bff_store_reconnects_total",
		Help:  "Times the shared-store connection was recreated after a transient failure.",
		Kind:  Counter,
		Value: func(s State) uint64 { return s.Store.Reconnects },
	},
	{
		Name:  "bff_store_pool_connections",
		Help:  "Connections held by the shared-store pool.",
		Kind:  Gauge,
		Value: func(s State) uint64 { return uint64(s.Store.TotalConns) },
	},
	{
		Name:  "bff_store_pool_idle_connections",
		Help:  "Idle connections in the shared-store pool.",
		Kind:  Gauge,
		Value: func(s State) uint64 { return uint64(s.Store.IdleConns) },
	},
	{
		Name:  "bff_store_pool_timeouts_total",
		Help:  "Waits for a shared-store pool connection that timed out.",
		Kind:  Counter,
		Value: func(s State) uint64 { return uint64(s.Store.PoolTimeouts) },
	},
	{
		Name:  "bff_audit_delivered_total",
		Help:  "Audit events handed to the sink.",
		Kind:  Counter,
		Value: func(s State) uint64 { return s.AuditDelivered },
	},
	{
		Name:  "bff_audit_dropped_total",
		Help:  "Audit events discarded because the buffer was full or the caller gave up.",
		Kind:  Counter,
		Value: func(s State) uint64 { return s.AuditDropped },
	},
}
