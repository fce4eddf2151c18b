package metrics

import (
	"context"
	"runtime"
	"time"
)

// CollectRuntime samples Go runtime stats into gauges named <prefix>_* every
// interval until ctx is done. One sample is taken before it returns.
func (r *Registry) CollectRuntime(ctx context.Context, prefix string, interval time.Duration) {
	goroutines := r.Gauge(prefix+"_goroutines", "Number of live goroutines.")
	heap := r.Gauge(prefix+"_heap_alloc_bytes", "Bytes of allocated heap objects.")
	sys := r.Gauge(prefix+"_sys_bytes", "Bytes obtained from the OS.")
	gcs := r.Gauge(prefix+"_gc_cycles", "Completed GC cycles.")
	uptime := r.Gauge(prefix+"_uptime_seconds", "Seconds since the collector started.")
	start := time.Now()

	sample := func() {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		goroutines.Set(float64(runtime.NumGoroutine()))
		heap.Set(float64(ms.HeapAlloc))
		sys.Set(float64(ms.Sys))
		gcs.Set(float64(ms.NumGC))
		uptime.Set(time.Since(start).Seconds())
	}
	sample()

	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sample()
			}
		}
	}()
}
