package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCursor_DefaultsToZeroThenAdvances(t *testing.T) {
	s := newTestStore(t)

	cursor, err := s.GetCursor()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), cursor)

	require.NoError(t, s.SetCursor(10))
	cursor, err = s.GetCursor()
	require.NoError(t, err)
	assert.Equal(t, uint32(10), cursor)
}

func TestCursor_RejectsGoingBackwards(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetCursor(10))
	err := s.SetCursor(5)
	assert.Error(t, err)

	cursor, err := s.GetCursor()
	require.NoError(t, err)
	assert.Equal(t, uint32(10), cursor, "cursor must not move on a rejected update")
}

func TestCursor_SameValueIsAccepted(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetCursor(10))
	require.NoError(t, s.SetCursor(10))
}

func TestDaemonConfig_SeedsDefaultsOnFirstRead(t *testing.T) {
	s := newTestStore(t)
	cfg, err := s.GetDaemonConfig(DaemonConfig{Mode: ModeApprove, MinPrice: 100, MaxContentSize: 1000})
	require.NoError(t, err)
	assert.Equal(t, ModeApprove, cfg.Mode)
	assert.EqualValues(t, 100, cfg.MinPrice)
	assert.EqualValues(t, 1000, cfg.MaxContentSize)

	again, err := s.GetDaemonConfig(DaemonConfig{Mode: ModeAuto, MinPrice: 999})
	require.NoError(t, err)
	assert.Equal(t, ModeApprove, again.Mode, "seeded row must not be re-seeded on a later read")
}

func TestDaemonConfig_PartialUpdateOnlyTouchesGivenFields(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetDaemonConfig(DaemonConfig{Mode: ModeAuto, MinPrice: 100, MaxContentSize: 1000})
	require.NoError(t, err)

	newMode := ModeApprove
	updated, err := s.SetDaemonConfig(&newMode, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ModeApprove, updated.Mode)
	assert.EqualValues(t, 100, updated.MinPrice, "unspecified fields must be left alone")
	assert.EqualValues(t, 1000, updated.MaxContentSize)
}

func TestSaveOffer_IsIdempotentOnDuplicateSlot(t *testing.T) {
	s := newTestStore(t)
	offer := Offer{SlotID: 1, CID: "cid-1", Status: OfferPending, OfferPrice: 500}
	require.NoError(t, s.SaveOffer(offer))

	dup := offer
	dup.OfferPrice = 999
	require.NoError(t, s.SaveOffer(dup))

	got, err := s.GetOffer(1)
	require.NoError(t, err)
	assert.EqualValues(t, 500, got.OfferPrice, "second save must be ignored, not overwrite")
}

func TestGetOffer_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetOffer(999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateOfferStatus_LegalTransitionsSucceed(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveOffer(Offer{SlotID: 1, CID: "cid-1", Status: OfferPending}))

	require.NoError(t, s.UpdateOfferStatus(1, OfferAwaitingApproval, ""))
	require.NoError(t, s.UpdateOfferStatus(1, OfferApproved, ""))
	require.NoError(t, s.UpdateOfferStatus(1, OfferPinning, ""))
	require.NoError(t, s.UpdateOfferStatus(1, OfferPinned, ""))
	require.NoError(t, s.UpdateOfferStatus(1, OfferClaiming, ""))
	require.NoError(t, s.UpdateOfferStatus(1, OfferClaimed, ""))

	got, err := s.GetOffer(1)
	require.NoError(t, err)
	assert.Equal(t, OfferClaimed, got.Status)
}

func TestUpdateOfferStatus_IllegalTransitionRejected(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveOffer(Offer{SlotID: 1, CID: "cid-1", Status: OfferPending}))

	err := s.UpdateOfferStatus(1, OfferClaimed, "")
	assert.Error(t, err)

	got, err := s.GetOffer(1)
	require.NoError(t, err)
	assert.Equal(t, OfferPending, got.Status, "rejected transition must not mutate status")
}

func TestUpdateOfferStatus_TerminalStateCannotBeLeft(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveOffer(Offer{SlotID: 1, CID: "cid-1", Status: OfferRejected}))

	err := s.UpdateOfferStatus(1, OfferPinning, "")
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestUpdateOfferStatus_SameStateBypassAllowsIdempotentRedrive(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveOffer(Offer{SlotID: 1, CID: "cid-1", Status: OfferPinning}))

	// recovery re-driving an offer already in its target status must not
	// be rejected as an illegal self-transition.
	err := s.UpdateOfferStatus(1, OfferPinning, "")
	assert.NoError(t, err)
}

func TestUpdateOfferStatus_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateOfferStatus(42, OfferRejected, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOffersByStatusAndApprovalQueue(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveOffer(Offer{SlotID: 1, CID: "cid-1", Status: OfferPending}))
	require.NoError(t, s.SaveOffer(Offer{SlotID: 2, CID: "cid-2", Status: OfferPending}))
	require.NoError(t, s.UpdateOfferStatus(1, OfferAwaitingApproval, ""))

	queue, err := s.GetApprovalQueue()
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.EqualValues(t, 1, queue[0].SlotID)

	pending, err := s.GetOffersByStatus(OfferPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.EqualValues(t, 2, pending[0].SlotID)
}

func TestSaveClaim_RejectsDuplicateSlot(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveOffer(Offer{SlotID: 1, CID: "cid-1", Status: OfferClaiming}))
	require.NoError(t, s.SaveClaim(Claim{SlotID: 1, CID: "cid-1", AmountEarned: 10, TxHash: "tx1"}))

	err := s.SaveClaim(Claim{SlotID: 1, CID: "cid-1", AmountEarned: 20, TxHash: "tx2"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestSaveAndIsCIDPinned(t *testing.T) {
	s := newTestStore(t)
	pinned, err := s.IsCIDPinned("cid-1")
	require.NoError(t, err)
	assert.False(t, pinned)

	slotID := uint64(1)
	require.NoError(t, s.SavePin("cid-1", &slotID, 1024))

	pinned, err = s.IsCIDPinned("cid-1")
	require.NoError(t, err)
	assert.True(t, pinned)
}

func TestLogActivityAndGetRecentActivity(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.LogActivity("offer_seen", nil, "cid", nil, "seen"))
	}

	entries, err := s.GetRecentActivity(2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestGetEarnings_AggregatesAndRespectsWindow(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveOffer(Offer{SlotID: 1, CID: "cid-1", Status: OfferClaiming}))
	require.NoError(t, s.SaveOffer(Offer{SlotID: 2, CID: "cid-2", Status: OfferClaiming}))
	require.NoError(t, s.SaveClaim(Claim{SlotID: 1, CID: "cid-1", AmountEarned: 100, TxHash: "tx1"}))
	require.NoError(t, s.SaveClaim(Claim{SlotID: 2, CID: "cid-2", AmountEarned: 250, TxHash: "tx2"}))

	total, count, err := s.GetEarnings(nil)
	require.NoError(t, err)
	assert.EqualValues(t, 350, total)
	assert.EqualValues(t, 2, count)

	future := time.Now().Add(time.Hour)
	total, count, err = s.GetEarnings(&future)
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
	assert.EqualValues(t, 0, count)
}

func TestIsUniqueConstraintErr(t *testing.T) {
	assert.False(t, isUniqueConstraintErr(nil))
	assert.True(t, isUniqueConstraintErr(assertErr("UNIQUE constraint failed: claims.slot_id")))
	assert.True(t, isUniqueConstraintErr(assertErr("unique constraint violation")))
	assert.False(t, isUniqueConstraintErr(assertErr("no such table")))
}

type stringErr string

func (e stringErr) Error() string { return string(e) }

func assertErr(msg string) error { return stringErr(msg) }
