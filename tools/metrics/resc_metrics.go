package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	memoryHeapAlloc = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "maaltijdplus",
		Subsystem: "runtime",
		Name:      "maaltijdplus_memory_heap_alloc_bytes",
		Help:      "Current heap allocation of the maaltijdplus application in bytes",
	})

	goroutinesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "maaltijdplus",
		Subsystem: "runtime",
		Name:      "maaltijdplus_goroutines_active",
		Help:      "Current number of goroutines of the maaltijdplus application",
	})
)

func resourceMetricsRunner() {

	for {
		stats := runtime.MemStats{}
		runtime.ReadMemStats(&stats)
		memoryHeapAlloc.Set(float64(stats.HeapAlloc))

		goroutinesActive.Set(float64(runtime.NumGoroutine()))

		time.Sleep(15 * time.Second)
	}
}
