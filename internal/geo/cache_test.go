package geo

import (
	"io"
	"testing"
	"time"

	"log/slog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gcgateway/internal/config"
)

// offlineResolver has no remote service and no local database, so every
// resolve attempt comes back nil. That makes cache behavior observable.
func offlineResolver() *Resolver {
	cfg := &config.Config{GeoServiceTimeoutSeconds: 1}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewResolver(cfg, logger, nil)
}

func TestLookupExpiredEntryResolvesAgain(t *testing.T) {
	r := offlineResolver()
	stale := &Location{CountryCode: "AE", Country: "United Arab Emirates"}

	r.cache["session-old"] = cacheEntry{loc: stale, storedAt: time.Now().Add(-cacheTTL - time.Minute)}

	// Expired entry is not served; the lookup re-resolves, which fails
	// offline and caches the failure fresh.
	assert.Nil(t, r.Lookup("session-old", "203.0.113.20"))

	entry, ok := r.cache["session-old"]
	require.True(t, ok)
	assert.Nil(t, entry.loc)
	assert.WithinDuration(t, time.Now(), entry.storedAt, time.Minute)
}

func TestLookupFreshEntryIsServed(t *testing.T) {
	r := offlineResolver()
	loc := &Location{CountryCode: "QA", Country: "Qatar"}

	r.cache["session-fresh"] = cacheEntry{loc: loc, storedAt: time.Now()}

	assert.Equal(t, loc, r.Lookup("session-fresh", "203.0.113.21"))
}

func TestSweepEvictsExpiredSessions(t *testing.T) {
	r := offlineResolver()
	expired := time.Now().Add(-cacheTTL - time.Minute)

	// Sessions whose end never fired and whose entries are past the TTL.
	r.cache["abandoned-1"] = cacheEntry{storedAt: expired}
	r.cache["abandoned-2"] = cacheEntry{storedAt: expired}
	r.cache["abandoned-3"] = cacheEntry{storedAt: expired}
	r.lastSweep = time.Now().Add(-cacheSweepInterval - time.Minute)

	// Any write-side lookup past the sweep interval triggers the sweep.
	r.Lookup("session-live", "203.0.113.22")

	assert.Len(t, r.cache, 1)
	_, ok := r.cache["session-live"]
	assert.True(t, ok)
}

func TestSweepThrottled(t *testing.T) {
	r := offlineResolver()
	r.cache["abandoned"] = cacheEntry{storedAt: time.Now().Add(-cacheTTL - time.Minute)}

	// lastSweep is recent, so this lookup must not pay for a sweep.
	r.Lookup("session-live", "203.0.113.23")

	assert.Len(t, r.cache, 2)
}
