package cache

import (
	"github.com/rs/zerolog"
)

// defaultHighWaterPct is the utilization above which the guard evicts.
const defaultHighWaterPct = 90

// QuotaGuard is a best-effort safety valve consulted before writes to a
// namespace under storage pressure. When aggregate utilization crosses the
// high-water mark it evicts exactly one entry, the first-inserted one.
// Eviction order is deliberately FIFO, not LRU; precise recency tracking
// is not load-bearing here.
type QuotaGuard struct {
	provider     Provider
	highWaterPct int64
	log          zerolog.Logger
}

func NewQuotaGuard(provider Provider, logger zerolog.Logger) QuotaGuard {
	return QuotaGuard{
		provider:     provider,
		highWaterPct: defaultHighWaterPct,
		log:          logger,
	}
}

// EnsureHeadroom checks utilization and evicts the oldest entry of the
// namespace if the high-water mark is exceeded. Failures are logged and
// swallowed; the caller's write proceeds regardless.
func (g QuotaGuard) EnsureHeadroom(ns string) {
	usage, err := g.provider.Usage()
	if err != nil {
		g.log.Warn().Err(err).Msg("Could not query storage usage")
		return
	}
	if usage.Quota <= 0 || usage.Used*100 <= usage.Quota*g.highWaterPct {
		return
	}
	keys, err := g.provider.Keys(ns)
	if err != nil {
		g.log.Warn().Err(err).Str("ns", ns).Msg("Could not list keys for eviction")
		return
	}
	if len(keys) == 0 {
		return
	}
	oldest := keys[0]
	if err := g.provider.Delete(ns, oldest); err != nil {
		g.log.Warn().Err(err).Str("ns", ns).Str("key", oldest).Msg("Could not evict entry")
		return
	}
	g.log.Debug().
		Str("ns", ns).
		Str("key", oldest).
		Int64("used", usage.Used).
		Int64("quota", usage.Quota).
		Msg("Evicted oldest entry under quota pressure")
}
