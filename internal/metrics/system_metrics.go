package metrics

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// System metrics matter here because extraction runs last for hours: memory
// growth and CPU saturation are the usual reasons a long run degrades, and
// session recycling decisions are tuned against these curves.
var (
	systemOnce sync.Once

	systemCPUUsage    *prometheus.GaugeVec
	systemMemoryUsage *prometheus.GaugeVec
	goGoroutines      prometheus.Gauge
	goHeapAlloc       prometheus.Gauge
	goHeapSys         prometheus.Gauge
)

func initSystemMetrics() {
	systemCPUUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "system_cpu_usage_percent",
			Help: "Current CPU usage percentage",
		},
		[]string{"core"},
	)

	systemMemoryUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "system_memory_usage_bytes",
			Help: "Current memory usage in bytes",
		},
		[]string{"type"},
	)

	goGoroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "extractor_goroutines",
			Help: "Number of goroutines that currently exist",
		},
	)

	goHeapAlloc = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "extractor_heap_alloc_bytes",
			Help: "Heap memory usage in bytes",
		},
	)

	goHeapSys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "extractor_heap_sys_bytes",
			Help: "Heap memory reserved in bytes",
		},
	)

	Registry().MustRegister(
		systemCPUUsage,
		systemMemoryUsage,
		goGoroutines,
		goHeapAlloc,
		goHeapSys,
	)
}

// StartSystemMetrics samples system and runtime metrics on a ticker until
// ctx is cancelled.
func StartSystemMetrics(ctx context.Context, interval time.Duration) {
	systemOnce.Do(initSystemMetrics)

	if interval <= 0 {
		interval = 15 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				collectSystemMetrics()
				collectRuntimeMetrics()
			}
		}
	}()
}

func collectSystemMetrics() {
	if cpuPercentages, err := cpu.Percent(0, true); err == nil {
		for i, percentage := range cpuPercentages {
			systemCPUUsage.WithLabelValues(fmt.Sprintf("cpu%d", i)).Set(percentage)
		}
	}

	if vmstat, err := mem.VirtualMemory(); err == nil {
		systemMemoryUsage.WithLabelValues("total").Set(float64(vmstat.Total))
		systemMemoryUsage.WithLabelValues("available").Set(float64(vmstat.Available))
		systemMemoryUsage.WithLabelValues("used").Set(float64(vmstat.Used))
	}
}

func collectRuntimeMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	goGoroutines.Set(float64(runtime.NumGoroutine()))
	goHeapAlloc.Set(float64(m.HeapAlloc))
	goHeapSys.Set(float64(m.HeapSys))
}
