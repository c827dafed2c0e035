package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RefreshCycles - циклы синхронизации по триггеру и исходу
var RefreshCycles = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "portsync",
		Subsystem: "sync",
		Name:      "refresh_cycles_total",
		Help:      "Portfolio refresh cycles by trigger and outcome",
	},
	[]string{"trigger", "outcome"}, // manual/auto, ok/error
)

// RefreshDuration - длительность полного цикла синхронизации
//
// Buckets широкие: цикл включает download, серию справочных запросов
// с обязательными интервалами и запись в БД.
var RefreshDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "portsync",
		Subsystem: "sync",
		Name:      "refresh_duration_seconds",
		Help:      "Full refresh cycle duration in seconds",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	},
	[]string{"trigger"},
)

// SyncWrites - под-операции записи по категории и исходу
var SyncWrites = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "portsync",
		Subsystem: "sync",
		Name:      "writes_total",
		Help:      "Persistence sub-writes by category and outcome",
	},
	[]string{"category", "outcome"}, // balance/portfolio/cash, ok/error
)
