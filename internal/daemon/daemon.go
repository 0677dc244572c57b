// Package daemon runs the one-iteration supervisory loop of spec §4.7:
// drain the poller, route each event, drain the approval queue, expire
// stale entries, sleep. Grounded on the teacher's internal/service
// worker loop shape (internal/service/service.go's for-select poll
// cadence), generalized from a single TON contract resync loop to the
// full pin-offer lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pinnerd/pinnerd/internal/claim"
	"github.com/pinnerd/pinnerd/internal/filter"
	"github.com/pinnerd/pinnerd/internal/hunter"
	"github.com/pinnerd/pinnerd/internal/ledgerclient"
	"github.com/pinnerd/pinnerd/internal/mode"
	"github.com/pinnerd/pinnerd/internal/store"
)

// Unpinner is the subset of executor.Executor the daemon needs to honor
// the unpin_on_event policy knob (spec §4.4, "used for UNPIN events only
// if configured — default keep").
type Unpinner interface {
	Unpin(ctx context.Context, cid string) error
}

// Poller is the subset of ledgerclient.Client the daemon needs to drain
// events.
type Poller interface {
	Poll(ctx context.Context, cursor uint32) ([]ledgerclient.Event, uint32, error)
}

// Daemon owns the main supervisory loop.
type Daemon struct {
	store          *store.Store
	poller         Poller
	filter         *filter.Filter
	mode           *mode.Controller
	claim          *claim.Submitter
	hunter         *hunter.Hunter
	unpinner       Unpinner
	ourAddress     string
	pollInterval   time.Duration
	maxContentSize int64
	unpinOnEvent   bool
}

// Config bundles the policy knobs the loop needs beyond its collaborators.
type Config struct {
	OurAddress     string
	PollInterval   time.Duration
	MaxContentSize int64
	UnpinOnEvent   bool
}

// New constructs a Daemon.
func New(s *store.Store, poller Poller, f *filter.Filter, m *mode.Controller, c *claim.Submitter, h *hunter.Hunter, u Unpinner, cfg Config) *Daemon {
	return &Daemon{
		store:          s,
		poller:         poller,
		filter:         f,
		mode:           m,
		claim:          c,
		hunter:         h,
		unpinner:       u,
		ourAddress:     cfg.OurAddress,
		pollInterval:   cfg.PollInterval,
		maxContentSize: cfg.MaxContentSize,
		unpinOnEvent:   cfg.UnpinOnEvent,
	}
}

// Run loops until ctx is cancelled, running one iteration, then sleeping
// poll_interval. Exits after the current offer reaches a safe persisted
// state (spec §5's cancellation discipline).
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.RecoverOnStartup(ctx); err != nil {
		return fmt.Errorf("crash recovery failed: %w", err)
	}

	for {
		if err := d.runIteration(ctx); err != nil {
			if errors.Is(err, claim.ErrNotPinner) {
				return err
			}
			log.Error().Err(err).Msg("daemon iteration failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d.pollInterval):
		}
	}
}

// runIteration executes steps 1-4 of spec §4.7; Run does step 5's sleep.
func (d *Daemon) runIteration(ctx context.Context) error {
	if err := d.drainEvents(ctx); err != nil {
		return fmt.Errorf("failed to drain events: %w", err)
	}
	if err := d.drainApprovalQueue(ctx); err != nil {
		return fmt.Errorf("failed to drain approval queue: %w", err)
	}
	if err := d.expireStaleApprovals(); err != nil {
		return fmt.Errorf("failed to expire stale approvals: %w", err)
	}
	return nil
}

// drainEvents runs step 1-2: poll, and route every event in ledger order,
// advancing the cursor only after the whole batch is durably applied
// (spec §4.2, §4.7, §5 ordering guarantees).
func (d *Daemon) drainEvents(ctx context.Context) error {
	cursor, err := d.store.GetCursor()
	if err != nil {
		return fmt.Errorf("failed to read cursor: %w", err)
	}

	events, newCursor, err := d.poller.Poll(ctx, cursor)
	if err != nil {
		return fmt.Errorf("failed to poll events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	for _, ev := range events {
		if err := d.routeEvent(ctx, ev); err != nil {
			if errors.Is(err, claim.ErrNotPinner) {
				return err
			}
			log.Error().Err(err).Msg("failed to route event, skipping")
		}
	}

	if err := d.store.SetCursor(newCursor); err != nil {
		return fmt.Errorf("failed to advance cursor: %w", err)
	}
	return nil
}

func (d *Daemon) routeEvent(ctx context.Context, ev ledgerclient.Event) error {
	switch ev.Kind {
	case ledgerclient.EventPin:
		return d.handlePinEvent(ctx, *ev.Pin)
	case ledgerclient.EventPinned:
		return d.handlePinnedEvent(ctx, *ev.Pinned)
	case ledgerclient.EventUnpin:
		return d.handleUnpinEvent(ctx, *ev.Unpin)
	default:
		return nil
	}
}

func (d *Daemon) handlePinEvent(ctx context.Context, ev ledgerclient.PinEvent) error {
	if err := d.store.SaveOffer(store.Offer{
		SlotID:             ev.SlotID,
		CID:                ev.CID,
		Filename:           ev.Filename,
		Gateway:            ev.Gateway,
		OfferPrice:         ev.OfferPrice,
		PinQty:             ev.PinQty,
		PinsRemaining:      ev.PinQty,
		Publisher:          ev.Publisher,
		LedgerSequenceSeen: ev.LedgerSequence,
		Status:             store.OfferPending,
	}); err != nil {
		return fmt.Errorf("failed to save offer: %w", err)
	}
	if err := d.store.LogActivity("offer_seen", &ev.SlotID, ev.CID, nil, fmt.Sprintf("offer seen for slot %d", ev.SlotID)); err != nil {
		log.Error().Err(err).Msg("failed to log activity")
	}

	if err := d.hunter.OnPinEvent(ctx, ev, d.ourAddress); err != nil {
		log.Error().Err(err).Msg("hunter failed to ingest pin event")
	}

	cfg, err := d.store.GetDaemonConfig(store.DaemonConfig{Mode: store.ModeAuto})
	if err != nil {
		return fmt.Errorf("failed to read daemon config: %w", err)
	}

	result, err := d.filter.Evaluate(ctx, ev, cfg.MinPrice, cfg.MaxContentSize)
	if err != nil {
		return fmt.Errorf("failed to evaluate offer: %w", err)
	}

	if !result.Accepted {
		if err := d.store.UpdateOfferStatus(ev.SlotID, store.OfferRejected, string(result.Reason)); err != nil {
			return fmt.Errorf("failed to reject offer: %w", err)
		}
		return d.store.LogActivity("offer_rejected", &ev.SlotID, ev.CID, nil, string(result.Reason))
	}

	return d.mode.HandleAcceptedOffer(ctx, ev.SlotID, ev.CID, ev.Filename, ev.Gateway, d.maxContentSize)
}

func (d *Daemon) handlePinnedEvent(ctx context.Context, ev ledgerclient.PinnedEvent) error {
	if ev.Pinner == d.ourAddress && ev.PinsRemaining == 0 {
		if err := d.store.UpdateOfferStatus(ev.SlotID, store.OfferFilled, ""); err != nil {
			log.Error().Err(err).Msg("failed to mark offer filled")
		}
	}
	return d.hunter.OnPinnedEvent(ctx, ev, d.ourAddress)
}

func (d *Daemon) handleUnpinEvent(ctx context.Context, ev ledgerclient.UnpinEvent) error {
	if err := d.store.UpdateOfferStatus(ev.SlotID, store.OfferExpired, "unpinned"); err != nil {
		log.Error().Err(err).Msg("failed to mark offer expired on unpin")
	}

	if d.unpinOnEvent {
		offer, err := d.store.GetOffer(ev.SlotID)
		if err == nil && offer.CID != "" {
			if err := d.unpinner.Unpin(ctx, offer.CID); err != nil {
				log.Error().Err(err).Str("cid", offer.CID).Msg("failed to unpin content on unpin event")
			}
		}
	}

	return d.hunter.OnUnpinEvent(ctx, ev)
}

// drainApprovalQueue runs step 3: execute-and-claim every offer the
// operator has approved via IPC since the last iteration.
func (d *Daemon) drainApprovalQueue(ctx context.Context) error {
	approved, err := d.store.GetOffersByStatus(store.OfferApproved)
	if err != nil {
		return fmt.Errorf("failed to list approved offers: %w", err)
	}
	for _, offer := range approved {
		if err := d.mode.ExecuteAndClaim(ctx, offer.SlotID, offer.CID, offer.Filename, offer.Gateway, d.maxContentSize); err != nil {
			if errors.Is(err, claim.ErrNotPinner) {
				return err
			}
			log.Error().Err(err).Uint64("slot_id", offer.SlotID).Msg("execute-and-claim failed for approved offer")
		}
	}
	return nil
}

// expireStaleApprovals runs step 4.
func (d *Daemon) expireStaleApprovals() error {
	queue, err := d.store.GetApprovalQueue()
	if err != nil {
		return fmt.Errorf("failed to list approval queue: %w", err)
	}
	now := time.Now()
	for _, offer := range queue {
		if offer.EstimatedExpiry != nil && now.After(*offer.EstimatedExpiry) {
			if err := d.store.UpdateOfferStatus(offer.SlotID, store.OfferExpired, "approval_window_elapsed"); err != nil {
				log.Error().Err(err).Uint64("slot_id", offer.SlotID).Msg("failed to expire stale approval")
			}
		}
	}
	return nil
}
