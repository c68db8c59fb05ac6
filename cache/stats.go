package cache

import "sync/atomic"

// Stats is a point-in-time snapshot of Client counters.
type Stats struct {
	Hits           int64 `json:"hits"`
	SentinelHits   int64 `json:"sentinel_hits"`
	Misses         int64 `json:"misses"`
	StaleHits      int64 `json:"stale_hits"`
	Loads          int64 `json:"loads"`
	Rebuilds       int64 `json:"rebuilds"`
	RebuildsFailed int64 `json:"rebuilds_failed"`
	LockContention int64 `json:"lock_contention"`
	Degraded       int64 `json:"degraded"`
	DecodeFailures int64 `json:"decode_failures"`
}

type counters struct {
	hits           atomic.Int64
	sentinelHits   atomic.Int64
	misses         atomic.Int64
	staleHits      atomic.Int64
	loads          atomic.Int64
	rebuilds       atomic.Int64
	rebuildsFailed atomic.Int64
	lockContention atomic.Int64
	degraded       atomic.Int64
	decodeFailures atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Hits:           c.hits.Load(),
		SentinelHits:   c.sentinelHits.Load(),
		Misses:         c.misses.Load(),
		StaleHits:      c.staleHits.Load(),
		Loads:          c.loads.Load(),
		Rebuilds:       c.rebuilds.Load(),
		RebuildsFailed: c.rebuildsFailed.Load(),
		LockContention: c.lockContention.Load(),
		Degraded:       c.degraded.Load(),
		DecodeFailures: c.decodeFailures.Load(),
	}
}
