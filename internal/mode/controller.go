// Package mode implements the Mode Controller (spec §4.6): routing an
// accepted offer either straight into execution (AUTO) or into an
// operator approval queue (APPROVE), and the durable mode switch itself.
package mode

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pinnerd/pinnerd/internal/claim"
	"github.com/pinnerd/pinnerd/internal/executor"
	"github.com/pinnerd/pinnerd/internal/store"
)

// Controller routes accepted offers according to the current DaemonMode.
type Controller struct {
	store       *store.Store
	executor    *executor.Executor
	claim       *claim.Submitter
	approvalTTL time.Duration
}

// New constructs a Controller. approvalTTL bounds how long an offer may
// sit in awaiting_approval before the daemon loop's expiry sweep reclaims
// it (spec §4.7 step 4).
func New(s *store.Store, exec *executor.Executor, claimSubmitter *claim.Submitter, approvalTTL time.Duration) *Controller {
	return &Controller{store: s, executor: exec, claim: claimSubmitter, approvalTTL: approvalTTL}
}

// GetMode reads the current durable mode.
func (c *Controller) GetMode() (store.DaemonMode, error) {
	cfg, err := c.store.GetDaemonConfig(store.DaemonConfig{Mode: store.ModeAuto})
	if err != nil {
		return "", fmt.Errorf("failed to read daemon config: %w", err)
	}
	return cfg.Mode, nil
}

// SetMode durably switches mode. Per spec §4.6: AUTO -> APPROVE leaves
// already-approved offers to run once; APPROVE -> AUTO does not
// auto-approve offers already sitting in awaiting_approval — they still
// require an explicit approve call, preventing surprise spending.
func (c *Controller) SetMode(newMode store.DaemonMode) error {
	_, err := c.store.SetDaemonConfig(&newMode, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to set mode: %w", err)
	}
	return nil
}

// HandleAcceptedOffer routes one filter-accepted offer per the current
// mode (spec §4.6).
func (c *Controller) HandleAcceptedOffer(ctx context.Context, slotID uint64, cid, filename, gateway string, maxContentSize int64) error {
	currentMode, err := c.GetMode()
	if err != nil {
		return err
	}

	if currentMode == store.ModeApprove {
		if err := c.store.UpdateOfferStatus(slotID, store.OfferAwaitingApproval, ""); err != nil {
			return fmt.Errorf("failed to queue offer for approval: %w", err)
		}
		if c.approvalTTL > 0 {
			if err := c.store.SetApprovalExpiry(slotID, time.Now().Add(c.approvalTTL)); err != nil {
				return fmt.Errorf("failed to set approval expiry: %w", err)
			}
		}
		return nil
	}

	return c.ExecuteAndClaim(ctx, slotID, cid, filename, gateway, maxContentSize)
}

// ExecuteAndClaim runs the pin pipeline followed by a claim submission
// for one offer, used both by AUTO routing and by the approval-queue
// drain loop in the daemon (spec §4.4/§4.5/§4.7 step 3).
func (c *Controller) ExecuteAndClaim(ctx context.Context, slotID uint64, cid, filename, gateway string, maxContentSize int64) error {
	if err := c.store.UpdateOfferStatus(slotID, store.OfferPinning, ""); err != nil {
		return fmt.Errorf("failed to transition offer to pinning: %w", err)
	}
	if err := c.store.LogActivity("pin_started", &slotID, cid, nil, fmt.Sprintf("pinning started for slot %d", slotID)); err != nil {
		log.Error().Err(err).Msg("failed to log activity")
	}

	pinResult := c.executor.Pin(ctx, cid, filename, gateway, maxContentSize)
	if !pinResult.Success {
		if err := c.store.UpdateOfferStatus(slotID, store.OfferPinFailed, pinResult.Error.Error()); err != nil {
			return fmt.Errorf("failed to transition offer to pin_failed: %w", err)
		}
		if err := c.store.LogActivity("pin_failed", &slotID, cid, nil, pinResult.Error.Error()); err != nil {
			log.Error().Err(err).Msg("failed to log activity")
		}
		return pinResult.Error
	}

	if err := c.store.SavePin(cid, &slotID, pinResult.BytesPinned); err != nil {
		return fmt.Errorf("failed to save pin: %w", err)
	}
	if err := c.store.UpdateOfferStatus(slotID, store.OfferPinned, ""); err != nil {
		return fmt.Errorf("failed to transition offer to pinned: %w", err)
	}
	if err := c.store.LogActivity("pin_success", &slotID, cid, nil, fmt.Sprintf("pinned %d bytes for slot %d", pinResult.BytesPinned, slotID)); err != nil {
		log.Error().Err(err).Msg("failed to log activity")
	}

	if err := c.store.UpdateOfferStatus(slotID, store.OfferClaiming, ""); err != nil {
		return fmt.Errorf("failed to transition offer to claiming: %w", err)
	}

	result, err := c.claim.SubmitClaim(ctx, slotID, cid)
	if err != nil {
		return err
	}
	if !result.Success && !result.Retryable {
		// terminal error mapping already applied the right status transition
		// inside SubmitClaim; nothing more to do here.
		return nil
	}
	if !result.Success && result.Retryable {
		return fmt.Errorf("claim submission failed transiently, will retry next iteration")
	}
	return nil
}
