package database

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterPoolMetrics exposes pool counters read from stat on every scrape.
func RegisterPoolMetrics(reg prometheus.Registerer, stat func() PoolStat) error {
	gauge := func(name, help string, f func(PoolStat) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "mordhub",
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return f(stat()) })
	}
	counter := func(name, help string, f func(PoolStat) float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "mordhub",
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return f(stat()) })
	}
	collectors := []prometheus.Collector{
		gauge("connections_total", "Live connections.", func(s PoolStat) float64 { return float64(s.Total) }),
		gauge("connections_idle", "Idle connections.", func(s PoolStat) float64 { return float64(s.Idle) }),
		gauge("connections_acquired", "Connections held by a handle.", func(s PoolStat) float64 { return float64(s.Acquired) }),
		gauge("connections_max", "Configured max_size.", func(s PoolStat) float64 { return float64(s.MaxSize) }),
		counter("acquires_total", "Successful acquires.", func(s PoolStat) float64 { return float64(s.AcquireCount) }),
		counter("acquires_waited_total", "Acquires that had to wait or connect.", func(s PoolStat) float64 { return float64(s.EmptyAcquireCount) }),
		counter("acquire_timeouts_total", "Acquires that hit the acquire timeout.", func(s PoolStat) float64 { return float64(s.TimedOut) }),
		counter("discarded_total", "Broken connections destroyed.", func(s PoolStat) float64 { return float64(s.Discarded) }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
