package pool

import "github.com/smartpool-go/smartpool/lib/metrics"

// Pool utilization metrics
var (
	// PoolResourcesMax is the maximum pool size.
	PoolResourcesMax = metrics.NewGauge(
		"smartpool_pool_resources_max",
		"Maximum number of resources in the pool",
	)
	// PoolResourcesOpen is the current number of pool members.
	PoolResourcesOpen = metrics.NewGauge(
		"smartpool_pool_resources_open",
		"Current number of resources in the pool",
	)
	// PoolResourcesIdle is the current number of idle members.
	PoolResourcesIdle = metrics.NewGauge(
		"smartpool_pool_resources_idle",
		"Current number of idle resources in the pool",
	)
	// PoolResourcesInUse is the number of members currently checked out.
	PoolResourcesInUse = metrics.NewGauge(
		"smartpool_pool_resources_in_use",
		"Number of resources currently checked out",
	)
	// PoolGrantsTotal is the number of successful grants.
	PoolGrantsTotal = metrics.NewCounter(
		"smartpool_pool_grants_total",
		"Total number of successful resource grants",
	)
	// PoolCreatesTotal is the number of resources created.
	PoolCreatesTotal = metrics.NewCounter(
		"smartpool_pool_creates_total",
		"Total number of resources created",
	)
	// PoolEvictionsTotal is the number of resources evicted by cleanup passes.
	PoolEvictionsTotal = metrics.NewCounter(
		"smartpool_pool_evictions_total",
		"Total number of resources evicted after exceeding the idle threshold",
	)
	// PoolExhaustedTotal is the number of failed acquisitions on a full pool.
	PoolExhaustedTotal = metrics.NewCounter(
		"smartpool_pool_exhausted_total",
		"Total number of acquisitions that failed because the pool was exhausted",
	)
	// PoolGrantLatency tracks time spent granting resources.
	PoolGrantLatency = metrics.NewHistogram(
		"smartpool_pool_grant_duration_seconds",
		"Time spent granting a resource from the pool",
		metrics.DefaultLatencyBuckets,
	)
)

// UpdateMetrics updates the pool gauges from Stats.
func UpdateMetrics(stats Stats) {
	PoolResourcesMax.Set(int64(stats.MaxCount))
	PoolResourcesOpen.Set(int64(stats.Total))
	PoolResourcesIdle.Set(int64(stats.Idle))
	PoolResourcesInUse.Set(int64(stats.InUse))
}
