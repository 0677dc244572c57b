// Package filter implements the Offer Filter (spec §4.3): the decision
// of whether to accept or reject a pin offer, evaluated in a fixed
// rejection order with pure integer arithmetic throughout. Grounded on
// the teacher's internal/service/worker.go decision chain (a sequence of
// early returns against a config threshold) generalized from TON gram
// amounts to stroop amounts.
package filter

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pinnerd/pinnerd/internal/ledgerclient"
	"github.com/pinnerd/pinnerd/internal/store"
)

// RejectReason is the exhaustive, ordered set of rejection reasons (spec §4.3).
type RejectReason string

const (
	ReasonNone              RejectReason = ""
	ReasonAlreadySeenClaimed RejectReason = "already_seen_claimed"
	ReasonCIDAlreadyPinned  RejectReason = "cid_already_pinned"
	ReasonPriceTooLow       RejectReason = "price_too_low"
	ReasonSlotNotActive     RejectReason = "slot_not_active"
	ReasonContentTooLarge   RejectReason = "content_too_large"
	ReasonInsufficientXLM   RejectReason = "insufficient_xlm"
	ReasonUnprofitable      RejectReason = "unprofitable"
)

// safetyFactor is the fixed multiplier applied to estimated_tx_fee when
// checking wallet solvency (spec §4.3).
const safetyFactor = 2

// Result is the outcome of evaluating one offer.
type Result struct {
	Accepted       bool
	Reason         RejectReason
	WalletBalance  int64
	EstimatedTxFee int64
	NetProfit      int64
}

// LedgerQuerier is the read-only subset of ledgerclient.Client the filter
// needs, kept as an interface so tests can supply a fake (spec §4.3).
type LedgerQuerier interface {
	SlotStatus(ctx context.Context, slotID uint64) (active bool, pinsRemaining uint32, err error)
	AccountBalance(ctx context.Context, accountAddress string) (int64, error)
	EstimateFee(ctx context.Context, caller string) (int64, error)
}

// Filter evaluates pin offers against local state, chain state, and policy.
type Filter struct {
	store             *store.Store
	ledger            LedgerQuerier
	httpClient        *http.Client
	operatorAddress   string
	conservativeTxFee int64
}

// New constructs a Filter. conservativeTxFee is the fallback used when
// EstimateFee fails (spec §4.3).
func New(s *store.Store, ledger LedgerQuerier, httpClient *http.Client, operatorAddress string, conservativeTxFee int64) *Filter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Filter{
		store:             s,
		ledger:            ledger,
		httpClient:        httpClient,
		operatorAddress:   operatorAddress,
		conservativeTxFee: conservativeTxFee,
	}
}

// Evaluate runs the seven-step rejection chain against one PinEvent,
// stopping at the first failing check (spec §4.3).
func (f *Filter) Evaluate(ctx context.Context, ev ledgerclient.PinEvent, minPrice, maxContentSize int64) (Result, error) {
	res := Result{}

	if alreadySeenClaimed, err := f.alreadySeenClaimed(ev.SlotID); err != nil {
		return res, err
	} else if alreadySeenClaimed {
		res.Reason = ReasonAlreadySeenClaimed
		return res, nil
	}

	pinned, err := f.store.IsCIDPinned(ev.CID)
	if err != nil {
		return res, fmt.Errorf("failed to check existing pin: %w", err)
	}
	if pinned {
		res.Reason = ReasonCIDAlreadyPinned
		return res, nil
	}

	if ev.OfferPrice < minPrice {
		res.Reason = ReasonPriceTooLow
		return res, nil
	}

	active, pinsRemaining, err := f.ledger.SlotStatus(ctx, ev.SlotID)
	if err != nil {
		return res, fmt.Errorf("failed to query slot status: %w", err)
	}
	if !active || pinsRemaining == 0 {
		res.Reason = ReasonSlotNotActive
		return res, nil
	}

	if maxContentSize > 0 {
		tooLarge, err := f.contentTooLarge(ctx, ev.Gateway, ev.CID, maxContentSize)
		if err != nil {
			// a failed HEAD is not itself a rejection reason (spec §4.3 calls
			// it "optional"); fall through and let the executor's own
			// Content-Length check catch it during fetch.
			tooLarge = false
		}
		if tooLarge {
			res.Reason = ReasonContentTooLarge
			return res, nil
		}
	}

	balance, err := f.ledger.AccountBalance(ctx, f.operatorAddress)
	if err != nil {
		return res, fmt.Errorf("failed to query wallet balance: %w", err)
	}
	res.WalletBalance = balance

	fee, err := f.ledger.EstimateFee(ctx, f.operatorAddress)
	if err != nil {
		fee = f.conservativeTxFee
	}
	res.EstimatedTxFee = fee

	if balance < fee*safetyFactor {
		res.Reason = ReasonInsufficientXLM
		return res, nil
	}

	netProfit := ev.OfferPrice - fee
	res.NetProfit = netProfit
	if netProfit <= 0 {
		res.Reason = ReasonUnprofitable
		return res, nil
	}

	res.Accepted = true
	return res, nil
}

func (f *Filter) alreadySeenClaimed(slotID uint64) (bool, error) {
	offer, err := f.store.GetOffer(slotID)
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read offer: %w", err)
	}
	switch offer.Status {
	case store.OfferClaiming, store.OfferClaimed, store.OfferFilled, store.OfferRejected, store.OfferClaimFailed, store.OfferExpired:
		return true, nil
	default:
		return false, nil
	}
}

func (f *Filter) contentTooLarge(ctx context.Context, gateway, cid string, maxContentSize int64) (bool, error) {
	url := fmt.Sprintf("%s/ipfs/%s", gateway, cid)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build head request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("head request failed: %w", err)
	}
	defer resp.Body.Close()
	return resp.ContentLength > maxContentSize, nil
}
