package daemon

import (
	"context"
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinnerd/pinnerd/internal/claim"
	"github.com/pinnerd/pinnerd/internal/ledgerclient"
	"github.com/pinnerd/pinnerd/internal/store"
	"github.com/pinnerd/pinnerd/pkg/contract"
)

func TestRecoverOnStartup_PinningOfferIsRedrivenToClaimed(t *testing.T) {
	rig := newTestRig(t, Config{MaxContentSize: 1_000_000}, ledgerclient.SubmitResult{Success: true, TxHash: "tx-1"})
	require.NoError(t, rig.store.SaveOffer(store.Offer{SlotID: 10, CID: "cid-1", Filename: "f.txt", Gateway: rig.gatewayURL, Status: store.OfferPinning}))

	require.NoError(t, rig.daemon.RecoverOnStartup(context.Background()))

	offer, err := rig.store.GetOffer(10)
	require.NoError(t, err)
	assert.Equal(t, store.OfferClaimed, offer.Status)
}

func TestRecoverOnStartup_PinnedOfferAdvancesThroughClaimingToClaimed(t *testing.T) {
	rig := newTestRig(t, Config{MaxContentSize: 1_000_000}, ledgerclient.SubmitResult{Success: true, TxHash: "tx-2"})
	require.NoError(t, rig.store.SaveOffer(store.Offer{SlotID: 11, CID: "cid-11", Status: store.OfferPinned}))

	require.NoError(t, rig.daemon.RecoverOnStartup(context.Background()))

	offer, err := rig.store.GetOffer(11)
	require.NoError(t, err)
	assert.Equal(t, store.OfferClaimed, offer.Status)
}

func TestRecoverOnStartup_ClaimingOfferIsResubmitted(t *testing.T) {
	rig := newTestRig(t, Config{MaxContentSize: 1_000_000}, ledgerclient.SubmitResult{Success: true, TxHash: "tx-3"})
	require.NoError(t, rig.store.SaveOffer(store.Offer{SlotID: 12, CID: "cid-12", Status: store.OfferClaiming}))

	require.NoError(t, rig.daemon.RecoverOnStartup(context.Background()))

	offer, err := rig.store.GetOffer(12)
	require.NoError(t, err)
	assert.Equal(t, store.OfferClaimed, offer.Status)
}

func TestRecoverOnStartup_NotPinnerAbortsRecoveryImmediately(t *testing.T) {
	rig := newTestRig(t, Config{MaxContentSize: 1_000_000}, ledgerclient.SubmitResult{})
	require.NoError(t, rig.store.SaveOffer(store.Offer{SlotID: 13, CID: "cid-13", Status: store.OfferClaiming}))

	kp, err := keypair.Random()
	require.NoError(t, err)
	rig.daemon.claim = claim.New(rig.store, &fakeInvoker{result: ledgerclient.SubmitResult{
		Success:   false,
		ErrorCode: contract.ErrNotPinner,
	}}, kp)

	recoverErr := rig.daemon.RecoverOnStartup(context.Background())
	assert.ErrorIs(t, recoverErr, claim.ErrNotPinner)
}

func TestRecoverOnStartup_AwaitingApprovalOfferIsLeftAlone(t *testing.T) {
	rig := newTestRig(t, Config{MaxContentSize: 1_000_000}, ledgerclient.SubmitResult{Success: true})
	require.NoError(t, rig.store.SaveOffer(store.Offer{SlotID: 14, CID: "cid-14", Status: store.OfferAwaitingApproval}))

	require.NoError(t, rig.daemon.RecoverOnStartup(context.Background()))

	offer, err := rig.store.GetOffer(14)
	require.NoError(t, err)
	assert.Equal(t, store.OfferAwaitingApproval, offer.Status)
}
