package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/pinnerd/pinnerd/internal/claim"
	"github.com/pinnerd/pinnerd/internal/store"
)

// RecoverOnStartup re-drives offers left in a non-terminal, non-waiting
// status by a prior crash, per the status-keyed recovery table of spec
// §4.7. awaiting_approval and approved offers need no action; terminal
// statuses need no action either.
func (d *Daemon) RecoverOnStartup(ctx context.Context) error {
	if err := d.recoverPinning(ctx); err != nil {
		return err
	}
	if err := d.recoverPinned(ctx); err != nil {
		return err
	}
	if err := d.recoverClaiming(ctx); err != nil {
		return err
	}
	return nil
}

func (d *Daemon) recoverPinning(ctx context.Context) error {
	offers, err := d.store.GetOffersByStatus(store.OfferPinning)
	if err != nil {
		return fmt.Errorf("failed to list pinning offers: %w", err)
	}
	for _, offer := range offers {
		log.Warn().Uint64("slot_id", offer.SlotID).Msg("recovering offer stuck in pinning, re-running executor")
		if err := d.mode.ExecuteAndClaim(ctx, offer.SlotID, offer.CID, offer.Filename, offer.Gateway, d.maxContentSize); err != nil {
			if errors.Is(err, claim.ErrNotPinner) {
				return err
			}
			log.Error().Err(err).Uint64("slot_id", offer.SlotID).Msg("recovery re-run failed")
		}
	}
	return nil
}

func (d *Daemon) recoverPinned(ctx context.Context) error {
	offers, err := d.store.GetOffersByStatus(store.OfferPinned)
	if err != nil {
		return fmt.Errorf("failed to list pinned offers: %w", err)
	}
	for _, offer := range offers {
		if err := d.store.UpdateOfferStatus(offer.SlotID, store.OfferClaiming, ""); err != nil {
			log.Error().Err(err).Uint64("slot_id", offer.SlotID).Msg("recovery failed to advance pinned offer to claiming")
			continue
		}
		if _, err := d.claim.SubmitClaim(ctx, offer.SlotID, offer.CID); err != nil {
			if errors.Is(err, claim.ErrNotPinner) {
				return err
			}
			log.Error().Err(err).Uint64("slot_id", offer.SlotID).Msg("recovery claim submission failed")
		}
	}
	return nil
}

func (d *Daemon) recoverClaiming(ctx context.Context) error {
	offers, err := d.store.GetOffersByStatus(store.OfferClaiming)
	if err != nil {
		return fmt.Errorf("failed to list claiming offers: %w", err)
	}
	for _, offer := range offers {
		log.Warn().Uint64("slot_id", offer.SlotID).Msg("recovering offer stuck in claiming, resubmitting claim")
		if _, err := d.claim.SubmitClaim(ctx, offer.SlotID, offer.CID); err != nil {
			if errors.Is(err, claim.ErrNotPinner) {
				return err
			}
			log.Error().Err(err).Uint64("slot_id", offer.SlotID).Msg("recovery claim resubmission failed")
		}
	}
	return nil
}
