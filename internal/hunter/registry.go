// Package hunter implements the five verification sub-components of
// spec §4.8: event ingestion, the three-tier verifier, the cycle
// scheduler, the flag submitter, and a lazy-TTL pinner-registry cache.
// Grounded on the teacher's internal/cron.Service (a periodic task over
// a store-backed worklist) and internal/service/worker.go (per-item
// check-then-act), generalized from "resell a storage contract" to
// "audit another pinner's claimed work".
package hunter

import (
	"context"
	"fmt"
	"time"

	"github.com/pinnerd/pinnerd/internal/ledgerclient"
	"github.com/pinnerd/pinnerd/internal/store"
)

// PinnerLookup is the subset of ledgerclient.Client the cache needs.
type PinnerLookup interface {
	GetPinner(ctx context.Context, pinnerAddress string) (ledgerclient.PinnerInfo, error)
}

// Registry is the lazy-TTL read-through cache over the on-chain pinner
// registry (spec §4.8.5).
type Registry struct {
	store  *store.Store
	ledger PinnerLookup
	ttl    time.Duration
}

// NewRegistry constructs a Registry with the given cache TTL.
func NewRegistry(s *store.Store, ledger PinnerLookup, ttl time.Duration) *Registry {
	return &Registry{store: s, ledger: ledger, ttl: ttl}
}

// GetPinnerInfo returns a pinner's registry entry, refreshing from chain
// on a cache miss or expiry (spec §4.8.5).
func (r *Registry) GetPinnerInfo(ctx context.Context, address string) (store.PinnerCacheEntry, error) {
	entry, err := r.store.PinnerCacheGet(address)
	if err == nil && time.Since(entry.CachedAt) <= r.ttl {
		return entry, nil
	}
	if err != nil && err != store.ErrNotFound {
		return store.PinnerCacheEntry{}, fmt.Errorf("failed to read pinner cache: %w", err)
	}

	info, err := r.ledger.GetPinner(ctx, address)
	if err != nil {
		// a stale cache entry is still useful if the refresh itself fails.
		if entry.Address != "" {
			return entry, nil
		}
		return store.PinnerCacheEntry{}, fmt.Errorf("failed to fetch pinner from ledger: %w", err)
	}

	fresh := store.PinnerCacheEntry{
		Address:   address,
		NodeID:    info.NodeID,
		Multiaddr: info.GatewayURL,
		Active:    info.Active,
	}
	if err := r.store.PinnerCacheSet(fresh); err != nil {
		return fresh, fmt.Errorf("failed to refresh pinner cache: %w", err)
	}
	return fresh, nil
}
