package enrich

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PositionsEnriched - обогащённые позиции по типу инструмента и исходу
var PositionsEnriched = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "portsync",
		Subsystem: "enrich",
		Name:      "positions_total",
		Help:      "Enriched positions by security type and outcome",
	},
	[]string{"sec_type", "outcome"}, // full, partial, none, skipped, blacklisted
)

// CacheLookups - обращения к кэшу справочников по результату
var CacheLookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "portsync",
		Subsystem: "enrich",
		Name:      "cache_lookups_total",
		Help:      "Contract reference cache lookups by outcome",
	},
	[]string{"outcome"}, // memory_hit, store_hit, miss
)

// BondBlacklistSize - размер чёрного списка облигаций
var BondBlacklistSize = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "portsync",
		Subsystem: "enrich",
		Name:      "bond_blacklist_size",
		Help:      "Bond symbols excluded from tick snapshot enrichment",
	},
)
