package hunter

import (
	"context"
	"fmt"

	"github.com/pinnerd/pinnerd/internal/ledgerclient"
	"github.com/pinnerd/pinnerd/internal/store"
)

// OnPinEvent tracks our own published content so other pinners' claims on
// it can later be audited (spec §4.8.1).
func (h *Hunter) OnPinEvent(ctx context.Context, e ledgerclient.PinEvent, ourAddress string) error {
	if e.Publisher != ourAddress {
		return nil
	}
	return h.store.AddTrackedCID(store.TrackedCID{
		CID:       e.CID,
		CIDHash:   ledgerclient.CIDHash(e.CID),
		SlotID:    e.SlotID,
		Publisher: e.Publisher,
		Gateway:   e.Gateway,
		PinQty:    e.PinQty,
	})
}

// OnPinnedEvent registers a claim by another pinner on content we
// published, deduped by the (cid, pinner) composite key (spec §4.8.1).
func (h *Hunter) OnPinnedEvent(ctx context.Context, e ledgerclient.PinnedEvent, ourAddress string) error {
	if e.Pinner == ourAddress {
		return nil
	}

	tracked, err := h.store.GetTrackedCIDByHash(e.CIDHash)
	if err == store.ErrNotFound {
		return nil // not content we published; nothing to audit
	}
	if err != nil {
		return fmt.Errorf("failed to look up tracked cid: %w", err)
	}

	info, err := h.registry.GetPinnerInfo(ctx, e.Pinner)
	if err != nil {
		return fmt.Errorf("failed to resolve pinner registry entry: %w", err)
	}

	return h.store.AddTrackedPin(store.TrackedPin{
		CID:             tracked.CID,
		Pinner:          e.Pinner,
		PinnerNodeID:    info.NodeID,
		PinnerMultiaddr: info.Multiaddr,
		SlotID:          e.SlotID,
		Status:          store.TrackedPinTracking,
	})
}

// OnUnpinEvent marks every TrackedPin for the freed slot's content as
// slot_freed, stopping further verification of it (spec §4.8.1).
func (h *Hunter) OnUnpinEvent(ctx context.Context, e ledgerclient.UnpinEvent) error {
	tracked, err := h.store.GetTrackedCIDByHash(e.CIDHash)
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up tracked cid: %w", err)
	}
	return h.store.MarkTrackedPinsSlotFreed(tracked.CID)
}
