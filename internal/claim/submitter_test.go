package claim

import (
	"context"
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinnerd/pinnerd/internal/ledgerclient"
	"github.com/pinnerd/pinnerd/internal/store"
	"github.com/pinnerd/pinnerd/pkg/contract"
)

type fakeInvoker struct {
	result ledgerclient.SubmitResult
	err    error
}

func (f *fakeInvoker) Invoke(ctx context.Context, kp *keypair.Full, method string, args []xdr.ScVal) (ledgerclient.SubmitResult, error) {
	return f.result, f.err
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newOperatorKey(t *testing.T) *keypair.Full {
	t.Helper()
	kp, err := keypair.Random()
	require.NoError(t, err)
	return kp
}

func TestSubmitClaim_SuccessTransitionsOfferAndSavesClaim(t *testing.T) {
	s := newTestStore(t)
	kp := newOperatorKey(t)
	require.NoError(t, s.SaveOffer(store.Offer{SlotID: 1, CID: "cid-1", Status: store.OfferClaiming}))

	u := xdr.Uint64(777)
	inv := &fakeInvoker{result: ledgerclient.SubmitResult{
		Success:    true,
		TxHash:     "tx-abc",
		ReturnVals: []xdr.ScVal{{Type: xdr.ScValTypeScvU64, U64: &u}},
	}}
	sub := New(s, inv, kp)

	res, err := sub.SubmitClaim(context.Background(), 1, "cid-1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.EqualValues(t, 777, res.AmountEarned)
	assert.Equal(t, "tx-abc", res.TxHash)

	offer, err := s.GetOffer(1)
	require.NoError(t, err)
	assert.Equal(t, store.OfferClaimed, offer.Status)
}

func TestSubmitClaim_AlreadyClaimedMarksOfferClaimFailed(t *testing.T) {
	s := newTestStore(t)
	kp := newOperatorKey(t)
	require.NoError(t, s.SaveOffer(store.Offer{SlotID: 1, CID: "cid-1", Status: store.OfferClaiming}))

	inv := &fakeInvoker{result: ledgerclient.SubmitResult{Success: false, ErrorCode: contract.ErrAlreadyClaimed}}
	sub := New(s, inv, kp)

	res, err := sub.SubmitClaim(context.Background(), 1, "cid-1")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.False(t, res.Retryable)

	offer, err := s.GetOffer(1)
	require.NoError(t, err)
	assert.Equal(t, store.OfferClaimFailed, offer.Status)
}

func TestSubmitClaim_SlotExpiredMarksOfferExpired(t *testing.T) {
	s := newTestStore(t)
	kp := newOperatorKey(t)
	require.NoError(t, s.SaveOffer(store.Offer{SlotID: 1, CID: "cid-1", Status: store.OfferClaiming}))

	inv := &fakeInvoker{result: ledgerclient.SubmitResult{Success: false, ErrorCode: contract.ErrSlotExpired}}
	sub := New(s, inv, kp)

	_, err := sub.SubmitClaim(context.Background(), 1, "cid-1")
	require.NoError(t, err)

	offer, err := s.GetOffer(1)
	require.NoError(t, err)
	assert.Equal(t, store.OfferExpired, offer.Status)
}

func TestSubmitClaim_NotPinnerReturnsFatalSentinel(t *testing.T) {
	s := newTestStore(t)
	kp := newOperatorKey(t)
	require.NoError(t, s.SaveOffer(store.Offer{SlotID: 1, CID: "cid-1", Status: store.OfferClaiming}))

	inv := &fakeInvoker{result: ledgerclient.SubmitResult{Success: false, ErrorCode: contract.ErrNotPinner}}
	sub := New(s, inv, kp)

	_, err := sub.SubmitClaim(context.Background(), 1, "cid-1")
	assert.ErrorIs(t, err, ErrNotPinner)

	offer, err := s.GetOffer(1)
	require.NoError(t, err)
	assert.Equal(t, store.OfferClaiming, offer.Status, "NotPinner must leave the offer's status untouched for a later retry")
}

func TestSubmitClaim_UnknownErrorCodeIsRetryable(t *testing.T) {
	s := newTestStore(t)
	kp := newOperatorKey(t)
	require.NoError(t, s.SaveOffer(store.Offer{SlotID: 1, CID: "cid-1", Status: store.OfferClaiming}))

	inv := &fakeInvoker{result: ledgerclient.SubmitResult{Success: false, ErrorCode: contract.ErrTransient}}
	sub := New(s, inv, kp)

	res, err := sub.SubmitClaim(context.Background(), 1, "cid-1")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.Retryable)
}

func TestSubmitClaim_TransportErrorIsRetryable(t *testing.T) {
	s := newTestStore(t)
	kp := newOperatorKey(t)
	require.NoError(t, s.SaveOffer(store.Offer{SlotID: 1, CID: "cid-1", Status: store.OfferClaiming}))

	inv := &fakeInvoker{err: assertErr("rpc unreachable")}
	sub := New(s, inv, kp)

	res, err := sub.SubmitClaim(context.Background(), 1, "cid-1")
	require.Error(t, err)
	assert.True(t, res.Retryable)
}

type stringErr string

func (e stringErr) Error() string { return string(e) }

func assertErr(msg string) error { return stringErr(msg) }
