package hunter

import (
	"context"
	"fmt"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/xdr"

	"github.com/pinnerd/pinnerd/internal/ledgerclient"
	"github.com/pinnerd/pinnerd/internal/store"
	"github.com/pinnerd/pinnerd/pkg/contract"
)

// Invoker is the subset of ledgerclient.Client the flag submitter needs.
type Invoker interface {
	Invoke(ctx context.Context, kp *keypair.Full, method string, args []xdr.ScVal) (ledgerclient.SubmitResult, error)
}

// FlagResult mirrors spec §4.8.4's FlagResult.
type FlagResult struct {
	Submitted     bool
	AlreadyFlagged bool
	FlagCount     *int
	BountyEarned  *int64
	TxHash        string
}

// FlagSubmitter submits flag_pinner calls, pre-checking local flag
// history before ever touching the network (spec §4.8.4).
type FlagSubmitter struct {
	store  *store.Store
	ledger Invoker
	kp     *keypair.Full
}

// NewFlagSubmitter constructs a FlagSubmitter signing with kp.
func NewFlagSubmitter(s *store.Store, ledger Invoker, kp *keypair.Full) *FlagSubmitter {
	return &FlagSubmitter{store: s, ledger: ledger, kp: kp}
}

// SubmitFlag runs flag_pinner(caller, pinner_address), deduping against
// local flag history first (spec §4.8.4).
func (f *FlagSubmitter) SubmitFlag(ctx context.Context, pinnerAddress string) (FlagResult, error) {
	already, err := f.store.HasAlreadyFlagged(pinnerAddress)
	if err != nil {
		return FlagResult{}, fmt.Errorf("failed to check flag history: %w", err)
	}
	if already {
		return FlagResult{AlreadyFlagged: true}, nil
	}

	callerAddr, err := contract.Address(f.kp.Address())
	if err != nil {
		return FlagResult{}, fmt.Errorf("failed to resolve operator address: %w", err)
	}
	pinnerAddr, err := contract.Address(pinnerAddress)
	if err != nil {
		return FlagResult{}, fmt.Errorf("failed to resolve pinner address: %w", err)
	}

	sub, err := f.ledger.Invoke(ctx, f.kp, contract.MethodFlagPinner, contract.FlagPinnerArgs(callerAddr, pinnerAddr))
	if err != nil {
		return FlagResult{}, fmt.Errorf("transport error submitting flag: %w", err)
	}

	if !sub.Success {
		if sub.ErrorCode == contract.ErrAlreadyFlagged {
			return FlagResult{AlreadyFlagged: true}, nil
		}
		return FlagResult{}, fmt.Errorf("flag submission failed with error code %q", sub.ErrorCode)
	}

	result := FlagResult{Submitted: true, TxHash: sub.TxHash}
	if len(sub.ReturnVals) > 0 {
		if n, err := contract.ParseI128Amount(sub.ReturnVals[0]); err == nil {
			count := int(n)
			result.FlagCount = &count
		}
	}
	if len(sub.ReturnVals) > 1 {
		if bounty, err := contract.ParseI128Amount(sub.ReturnVals[1]); err == nil {
			result.BountyEarned = &bounty
		}
	}

	if err := f.store.SaveFlag(store.FlagRecord{
		PinnerAddress:  pinnerAddress,
		TxHash:         sub.TxHash,
		FlagCountAfter: result.FlagCount,
		BountyEarned:   result.BountyEarned,
	}); err != nil && err != store.ErrDuplicate {
		return result, fmt.Errorf("failed to save flag record: %w", err)
	}

	return result, nil
}
