package hunter

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/stellar/go/keypair"

	"github.com/pinnerd/pinnerd/internal/store"
)

// Hunter composes the five verification sub-components into one
// capability the daemon holds by value (spec §9: "the Hunter is
// constructed after the store but before the supervisor; the supervisor
// holds the Hunter by value", avoiding a back-pointer to the supervisor).
type Hunter struct {
	store     *store.Store
	registry  *Registry
	verifier  *Verifier
	flag      *FlagSubmitter
	scheduler *Scheduler
}

// Config bundles the policy knobs the scheduler and verifier need.
type Config struct {
	CycleInterval       time.Duration
	MaxConcurrentChecks int
	FailureThreshold    int
	CooldownAfterFlag   time.Duration
	CheckTimeout        time.Duration
	RetrievalEnabled    bool
	PinnerCacheTTL      time.Duration
}

// kuboClient is the narrow storage-node surface the verifier needs,
// avoiding tying this package's constructor to pkg/kubo's concrete type.
type kuboClient = interface {
	FindProvs(ctx context.Context, cid string, numProviders int) ([]string, error)
	SwarmConnect(ctx context.Context, multiaddr string) error
	BlockGet(ctx context.Context, cid string) ([]byte, error)
	Cat(ctx context.Context, cid string) ([]byte, error)
}

// New constructs a Hunter with all five sub-components wired together.
func New(s *store.Store, ledger PinnerLookup, flagLedger Invoker, kp *keypair.Full, k kuboClient, cfg Config) *Hunter {
	h := &Hunter{store: s}
	h.registry = NewRegistry(s, ledger, cfg.PinnerCacheTTL)
	h.verifier = NewVerifier(k, cfg.CheckTimeout, cfg.RetrievalEnabled)
	h.flag = NewFlagSubmitter(s, flagLedger, kp)
	h.scheduler = NewScheduler(h, cfg.CycleInterval, cfg.MaxConcurrentChecks, cfg.FailureThreshold, cfg.CooldownAfterFlag)
	return h
}

// RunScheduler starts the periodic cycle loop; blocks until ctx is
// cancelled (spec §4.8.3, §5).
func (h *Hunter) RunScheduler(ctx context.Context) {
	h.scheduler.Run(ctx)
}

// checkOne verifies one TrackedPin, updates it atomically with the
// verification outcome, and flags the pinner if the failure threshold is
// reached within this same callback (spec §4.8.3, testable property 5).
func (h *Hunter) checkOne(ctx context.Context, pin store.TrackedPin, failureThreshold int) (passed, flagged, errored bool) {
	result := h.verifier.Verify(ctx, pin.CID, pin.PinnerNodeID, pin.PinnerMultiaddr)

	if err := h.store.RecordVerification(pin.CID, pin.Pinner, result.Passed, result.MethodUsed, result.MethodsAttempted, result.DurationMs); err != nil {
		log.Error().Err(err).Str("cid", pin.CID).Str("pinner", pin.Pinner).Msg("failed to record verification")
	}

	now := time.Now()
	pin.LastCheckedAt = &now
	pin.TotalChecks++

	switch {
	case result.Passed == nil:
		// network error: neither pass nor fail, does not touch
		// consecutive_failures (spec §4.8 failure semantics).
		if err := h.store.UpdateTrackedPin(pin); err != nil {
			log.Error().Err(err).Msg("failed to persist tracked pin after errored check")
		}
		return false, false, true
	case *result.Passed:
		pin.LastVerifiedAt = &now
		pin.ConsecutiveFailures = 0
		pin.Status = store.TrackedPinVerified
		if err := h.store.UpdateTrackedPin(pin); err != nil {
			log.Error().Err(err).Msg("failed to persist tracked pin after passed check")
		}
		return true, false, false
	default:
		pin.ConsecutiveFailures++
		pin.TotalFailures++
		if pin.ConsecutiveFailures >= failureThreshold {
			fr, err := h.flag.SubmitFlag(ctx, pin.Pinner)
			if err != nil {
				log.Error().Err(err).Str("pinner", pin.Pinner).Msg("failed to submit flag")
				if aerr := h.store.LogActivity("error", &pin.SlotID, pin.CID, nil, fmt.Sprintf("flag submission failed for pinner %s: %v", pin.Pinner, err)); aerr != nil {
					log.Error().Err(aerr).Msg("failed to log activity")
				}
				pin.Status = store.TrackedPinSuspect
				if uerr := h.store.UpdateTrackedPin(pin); uerr != nil {
					log.Error().Err(uerr).Msg("failed to persist tracked pin after flag error")
				}
				return false, false, true
			}
			pin.Status = store.TrackedPinFlagSubmitted
			pin.FlaggedAt = &now
			pin.FlagTxHash = fr.TxHash
			if err := h.store.UpdateTrackedPin(pin); err != nil {
				log.Error().Err(err).Msg("failed to persist tracked pin after flag")
			}
			if err := h.store.LogActivity("hunter_flag", &pin.SlotID, pin.CID, nil, fmt.Sprintf("flagged pinner %s after %d consecutive failures", pin.Pinner, pin.ConsecutiveFailures)); err != nil {
				log.Error().Err(err).Msg("failed to log activity")
			}
			return false, true, false
		}
		pin.Status = store.TrackedPinSuspect
		if err := h.store.UpdateTrackedPin(pin); err != nil {
			log.Error().Err(err).Msg("failed to persist tracked pin after failed check")
		}
		return false, false, false
	}
}

// VerifyNow triggers an immediate check of one (cid, pinner) pair,
// bypassing the scheduler's cadence (spec §6 verify_now).
func (h *Hunter) VerifyNow(ctx context.Context, cid, pinner string) (VerificationResult, error) {
	pins, err := h.store.GetTrackedPins()
	if err != nil {
		return VerificationResult{}, err
	}
	for _, p := range pins {
		if p.CID == cid && p.Pinner == pinner {
			return h.verifier.Verify(ctx, p.CID, p.PinnerNodeID, p.PinnerMultiaddr), nil
		}
	}
	return h.verifier.Verify(ctx, cid, "", ""), nil
}

// FlagNow submits a flag immediately, bypassing the failure threshold
// but still honoring the has_already_flagged pre-check (spec §6 flag_now).
func (h *Hunter) FlagNow(ctx context.Context, pinnerAddress string) (FlagResult, error) {
	return h.flag.SubmitFlag(ctx, pinnerAddress)
}
