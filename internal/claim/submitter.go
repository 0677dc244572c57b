// Package claim submits collect_pin invocations once an offer has been
// successfully pinned, mapping the contract's exhaustive error taxonomy
// onto offer-status transitions (spec §4.5).
package claim

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/xdr"

	"github.com/pinnerd/pinnerd/internal/ledgerclient"
	"github.com/pinnerd/pinnerd/internal/store"
	"github.com/pinnerd/pinnerd/pkg/contract"
)

// ErrNotPinner is fatal to the daemon: the operator's identity is not
// registered on the contract (spec §4.5, §6 exit code 2).
var ErrNotPinner = errors.New("operator identity is not registered as a pinner on-chain")

// Invoker is the subset of ledgerclient.Client the submitter needs.
type Invoker interface {
	Invoke(ctx context.Context, kp *keypair.Full, method string, args []xdr.ScVal) (ledgerclient.SubmitResult, error)
}

// Result mirrors spec §4.5's ClaimResult.
type Result struct {
	Success      bool
	Retryable    bool
	AmountEarned int64
	TxHash       string
}

// Submitter builds, simulates, signs, and submits collect_pin calls.
type Submitter struct {
	store  *store.Store
	ledger Invoker
	kp     *keypair.Full
}

// New constructs a Submitter signing with kp.
func New(s *store.Store, ledger Invoker, kp *keypair.Full) *Submitter {
	return &Submitter{store: s, ledger: ledger, kp: kp}
}

// SubmitClaim runs collect_pin(caller, slot_id) and maps the outcome onto
// an offer-status transition, per spec §4.5's exhaustive error mapping.
func (s *Submitter) SubmitClaim(ctx context.Context, slotID uint64, cid string) (Result, error) {
	callerAddr, err := contract.Address(s.kp.Address())
	if err != nil {
		return Result{}, fmt.Errorf("failed to resolve operator address: %w", err)
	}

	if err := s.store.LogActivity("claim_submitted", &slotID, cid, nil, fmt.Sprintf("claim submitted for slot %d", slotID)); err != nil {
		log.Error().Err(err).Msg("failed to log activity")
	}

	sub, err := s.ledger.Invoke(ctx, s.kp, contract.MethodCollectPin, contract.CollectPinArgs(callerAddr, slotID))
	if err != nil {
		if err := s.store.LogActivity("error", &slotID, cid, nil, fmt.Sprintf("transport error submitting claim: %v", err)); err != nil {
			log.Error().Err(err).Msg("failed to log activity")
		}
		return Result{Retryable: true}, fmt.Errorf("transport error submitting claim: %w", err)
	}

	if sub.Success {
		amount := int64(0)
		if len(sub.ReturnVals) > 0 {
			if parsed, err := contract.ParseI128Amount(sub.ReturnVals[0]); err == nil {
				amount = parsed
			}
		}
		if err := s.store.SaveClaim(store.Claim{SlotID: slotID, CID: cid, AmountEarned: amount, TxHash: sub.TxHash}); err != nil && err != store.ErrDuplicate {
			return Result{}, fmt.Errorf("failed to save claim: %w", err)
		}
		if err := s.store.UpdateOfferStatus(slotID, store.OfferClaimed, ""); err != nil {
			return Result{}, fmt.Errorf("failed to transition offer to claimed: %w", err)
		}
		if err := s.store.LogActivity("claim_success", &slotID, cid, &amount, fmt.Sprintf("claim confirmed for slot %d, tx %s", slotID, sub.TxHash)); err != nil {
			log.Error().Err(err).Msg("failed to log activity")
		}
		return Result{Success: true, AmountEarned: amount, TxHash: sub.TxHash}, nil
	}

	switch sub.ErrorCode {
	case contract.ErrAlreadyClaimed:
		if err := s.store.UpdateOfferStatus(slotID, store.OfferClaimFailed, "already_claimed"); err != nil {
			return Result{}, fmt.Errorf("failed to transition offer to claim_failed: %w", err)
		}
		if err := s.store.LogActivity("claim_failed", &slotID, cid, nil, "already_claimed"); err != nil {
			log.Error().Err(err).Msg("failed to log activity")
		}
		return Result{Success: false, Retryable: false}, nil
	case contract.ErrSlotExpired, contract.ErrSlotNotActive:
		if err := s.store.UpdateOfferStatus(slotID, store.OfferExpired, string(sub.ErrorCode)); err != nil {
			return Result{}, fmt.Errorf("failed to transition offer to expired: %w", err)
		}
		if err := s.store.LogActivity("claim_failed", &slotID, cid, nil, string(sub.ErrorCode)); err != nil {
			log.Error().Err(err).Msg("failed to log activity")
		}
		return Result{Success: false, Retryable: false}, nil
	case contract.ErrNotPinner:
		return Result{Success: false, Retryable: false}, ErrNotPinner
	default:
		if err := s.store.LogActivity("error", &slotID, cid, nil, fmt.Sprintf("claim submission failed with error code %q", sub.ErrorCode)); err != nil {
			log.Error().Err(err).Msg("failed to log activity")
		}
		return Result{Success: false, Retryable: true}, nil
	}
}
