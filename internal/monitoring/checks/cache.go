package checks

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/mondtic/corporate-access/internal/cache"
	"github.com/mondtic/corporate-access/internal/monitoring"
)

const defaultCacheTimeout = 2 * time.Second

// Cache returns a readiness probe that round-trips a sentinel value through
// the configured cache store.
func Cache(store cache.Store, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("cache", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if store == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  "cache not configured",
				Duration: time.Since(start),
			}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultCacheTimeout))
		defer cancel()

		const key = "healthcheck:probe"
		value := []byte(start.UTC().Format(time.RFC3339Nano))

		if err := store.Set(probeCtx, key, value, time.Minute); err != nil {
			return monitoring.ResultFromError("cache", err, time.Since(start))
		}
		got, found, err := store.Get(probeCtx, key)
		if err != nil {
			return monitoring.ResultFromError("cache", err, time.Since(start))
		}
		if !found || !bytes.Equal(got, value) {
			return monitoring.ResultFromError("cache", errors.New("probe value mismatch"), time.Since(start))
		}

		return monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Duration: time.Since(start),
		}
	})
}
