// Package metrics exposes prometheus counters/gauges for the pieces of the
// runtime that run unattended long enough to be worth watching: the event
// loop's dispatch rate, the worker pool's spawn/reap churn, and the
// read-everything engine's throughput and stall rate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EvloopDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ltp",
		Subsystem: "evloop",
		Name:      "dispatches_total",
		Help:      "Number of readiness callbacks dispatched by an event loop.",
	}, []string{"loop"})

	EvloopBatchSaturated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ltp",
		Subsystem: "evloop",
		Name:      "batch_saturated_total",
		Help:      "Number of epoll_wait calls that returned a full event batch.",
	})

	WorkersStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ltp",
		Subsystem: "workerpool",
		Name:      "workers_started_total",
		Help:      "Number of worker processes started.",
	})

	WorkersReaped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ltp",
		Subsystem: "workerpool",
		Name:      "workers_reaped_total",
		Help:      "Number of worker processes reaped, labeled by how they ended.",
	}, []string{"reason"})

	WorkersRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ltp",
		Subsystem: "workerpool",
		Name:      "workers_running",
		Help:      "Current number of tracked worker processes.",
	})

	ReadAllFilesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ltp",
		Subsystem: "readall",
		Name:      "files_processed_total",
		Help:      "Files read by the read-everything engine, labeled by outcome.",
	}, []string{"outcome"})

	ReadAllReaderTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ltp",
		Subsystem: "readall",
		Name:      "reader_timeouts_total",
		Help:      "Reader workers retired for exceeding the read timeout.",
	})

	ChannelSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ltp",
		Subsystem: "pipechannel",
		Name:      "sends_total",
		Help:      "Channel.Send calls, labeled by outcome (ok/error).",
	}, []string{"outcome"})

	TestResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ltp",
		Subsystem: "harness",
		Name:      "results_total",
		Help:      "Test results recorded, labeled by kind (TPASS/TFAIL/TCONF/...).",
	}, []string{"kind"})
)
