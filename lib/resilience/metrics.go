package resilience

import (
	"github.com/smartpool-go/smartpool/lib/metrics"
)

// Retry metrics for Prometheus exposition.
var (
	// RetryAttemptsTotal counts acquisition attempts made under Retry.
	RetryAttemptsTotal = metrics.NewCounter(
		"smartpool_retry_attempts_total",
		"Total acquisition attempts made under retry",
	)

	// RetryGiveUpsTotal counts retries that exhausted their budget.
	RetryGiveUpsTotal = metrics.NewCounter(
		"smartpool_retry_giveups_total",
		"Total retries that gave up without pool capacity",
	)
)
