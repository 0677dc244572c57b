package hunter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinnerd/pinnerd/internal/ledgerclient"
	"github.com/pinnerd/pinnerd/internal/store"
	"github.com/pinnerd/pinnerd/pkg/kubo"
)

// verifyMode controls how the fake storage node behaves for block/get:
// "pass" returns a nonempty block, "fail" returns a definitive empty
// block (a clean bitswap round trip that found nothing), "error" 404s
// (a transport-indistinguishable-from-absent failure).
func newHunterForTest(t *testing.T, s *store.Store, verifyMode string, flagInv Invoker) *Hunter {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v0/block/get" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch verifyMode {
		case "pass":
			_, _ = w.Write([]byte("ok"))
		case "fail":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	kp, err := keypair.Random()
	require.NoError(t, err)
	k := kubo.New(srv.URL, &http.Client{Timeout: time.Second})

	return New(s, &fakePinnerLookup{}, flagInv, kp, k, Config{
		CheckTimeout:     time.Second,
		RetrievalEnabled: false,
	})
}

func TestCheckOne_PassResetsConsecutiveFailures(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddTrackedPin(store.TrackedPin{CID: "cid-1", Pinner: "pinner-1"}))
	h := newHunterForTest(t, s, "pass", &fakeFlagInvoker{})

	pin := store.TrackedPin{CID: "cid-1", Pinner: "pinner-1", ConsecutiveFailures: 2, Status: store.TrackedPinSuspect}
	passed, flagged, errored := h.checkOne(context.Background(), pin, 3)

	assert.True(t, passed)
	assert.False(t, flagged)
	assert.False(t, errored)

	pins, err := s.GetTrackedPins(store.TrackedPinVerified)
	require.NoError(t, err)
	require.Len(t, pins, 1)
	assert.Equal(t, 0, pins[0].ConsecutiveFailures)
}

func TestCheckOne_FailureBelowThresholdMarksSuspect(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddTrackedPin(store.TrackedPin{CID: "cid-1", Pinner: "pinner-1"}))
	h := newHunterForTest(t, s, "fail", &fakeFlagInvoker{})

	pin := store.TrackedPin{CID: "cid-1", Pinner: "pinner-1", ConsecutiveFailures: 0}
	passed, flagged, errored := h.checkOne(context.Background(), pin, 3)

	assert.False(t, passed)
	assert.False(t, flagged)
	assert.False(t, errored)

	pins, err := s.GetTrackedPins(store.TrackedPinSuspect)
	require.NoError(t, err)
	require.Len(t, pins, 1)
	assert.Equal(t, 1, pins[0].ConsecutiveFailures)
}

func TestCheckOne_ThresholdReachedSubmitsFlag(t *testing.T) {
	s := newTestStore(t)
	// The flag submitter encodes the pinner as a contract address, so it
	// must be a valid account strkey.
	pinner, err := keypair.Random()
	require.NoError(t, err)
	require.NoError(t, s.AddTrackedPin(store.TrackedPin{CID: "cid-1", Pinner: pinner.Address()}))

	count := xdr.Uint64(1)
	flagInv := &fakeFlagInvoker{result: ledgerclient.SubmitResult{
		Success:    true,
		TxHash:     "flag-tx",
		ReturnVals: []xdr.ScVal{{Type: xdr.ScValTypeScvU64, U64: &count}},
	}}
	h := newHunterForTest(t, s, "fail", flagInv)

	pin := store.TrackedPin{CID: "cid-1", Pinner: pinner.Address(), ConsecutiveFailures: 2}
	passed, flagged, errored := h.checkOne(context.Background(), pin, 3)

	assert.False(t, passed)
	assert.True(t, flagged)
	assert.False(t, errored)

	pins, err := s.GetTrackedPins(store.TrackedPinFlagSubmitted)
	require.NoError(t, err)
	require.Len(t, pins, 1)
	assert.Equal(t, "flag-tx", pins[0].FlagTxHash)
}

func TestCheckOne_NetworkErrorDoesNotIncrementFailures(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddTrackedPin(store.TrackedPin{CID: "cid-1", Pinner: "pinner-1"}))
	h := newHunterForTest(t, s, "fail", &fakeFlagInvoker{})

	// multiaddr set forces SwarmConnect first, which 404s against our test
	// server and yields a transport error rather than a definitive fail.
	pin := store.TrackedPin{CID: "cid-1", Pinner: "pinner-1", PinnerMultiaddr: "/ip4/1.2.3.4/tcp/4001", ConsecutiveFailures: 1}
	passed, flagged, errored := h.checkOne(context.Background(), pin, 3)

	assert.False(t, passed)
	assert.False(t, flagged)
	assert.True(t, errored)

	pins, err := s.GetTrackedPins()
	require.NoError(t, err)
	require.Len(t, pins, 1)
	assert.Equal(t, 1, pins[0].ConsecutiveFailures, "errored check must not touch consecutive_failures")
}
