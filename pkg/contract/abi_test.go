package contract

import (
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want ErrorCode
	}{
		{"already claimed", "Error(Contract, #1): AlreadyClaimed", ErrAlreadyClaimed},
		{"already flagged", "host error: AlreadyFlagged", ErrAlreadyFlagged},
		{"slot expired", "panic: SlotExpired", ErrSlotExpired},
		{"slot not active", "SlotNotActive", ErrSlotNotActive},
		{"not pinner", "caller is NotPinner", ErrNotPinner},
		{"timeout is transient", "request timeout contacting rpc", ErrTransient},
		{"connection is transient", "connection refused", ErrTransient},
		{"unrecognized message", "some other panic message", ErrNone},
		{"empty message", "", ErrNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.msg))
		})
	}
}

func TestAddress_AccountVsContract(t *testing.T) {
	kp, err := keypair.Random()
	require.NoError(t, err)

	accAddr, err := Address(kp.Address())
	require.NoError(t, err)
	assert.Equal(t, xdr.ScAddressTypeScAddressTypeAccount, accAddr.Type)
	assert.NotNil(t, accAddr.AccountId)
	assert.Nil(t, accAddr.ContractId)

	contractStrkey, err := strkey.Encode(strkey.VersionByteContract, make([]byte, 32))
	require.NoError(t, err)
	conAddr, err := Address(contractStrkey)
	require.NoError(t, err)
	assert.Equal(t, xdr.ScAddressTypeScAddressTypeContract, conAddr.Type)
	assert.NotNil(t, conAddr.ContractId)
	assert.Nil(t, conAddr.AccountId)
}

func TestAddress_InvalidStrkeyFails(t *testing.T) {
	_, err := Address("not-a-valid-strkey-address")
	require.Error(t, err)
}

func TestScU64AndScAddr(t *testing.T) {
	v := ScU64(42)
	require.Equal(t, xdr.ScValTypeScvU64, v.Type)
	require.NotNil(t, v.U64)
	assert.Equal(t, xdr.Uint64(42), *v.U64)

	kp, err := keypair.Random()
	require.NoError(t, err)
	addr, err := Address(kp.Address())
	require.NoError(t, err)

	sv := ScAddr(addr)
	require.Equal(t, xdr.ScValTypeScvAddress, sv.Type)
	require.NotNil(t, sv.Address)
}

func TestCollectPinArgs(t *testing.T) {
	kp, err := keypair.Random()
	require.NoError(t, err)
	addr, err := Address(kp.Address())
	require.NoError(t, err)

	args := CollectPinArgs(addr, 7)
	require.Len(t, args, 2)
	assert.Equal(t, xdr.ScValTypeScvAddress, args[0].Type)
	assert.Equal(t, xdr.ScValTypeScvU64, args[1].Type)
	assert.Equal(t, xdr.Uint64(7), *args[1].U64)
}

func TestFlagPinnerArgs(t *testing.T) {
	kp1, err := keypair.Random()
	require.NoError(t, err)
	kp2, err := keypair.Random()
	require.NoError(t, err)
	a1, err := Address(kp1.Address())
	require.NoError(t, err)
	a2, err := Address(kp2.Address())
	require.NoError(t, err)

	args := FlagPinnerArgs(a1, a2)
	require.Len(t, args, 2)
	assert.Equal(t, xdr.ScValTypeScvAddress, args[0].Type)
	assert.Equal(t, xdr.ScValTypeScvAddress, args[1].Type)
}

func TestParseI128Amount(t *testing.T) {
	u := xdr.Uint64(100)
	i := xdr.Int64(200)
	hi := xdr.Int64(0)
	lo := xdr.Uint64(300)

	tests := []struct {
		name    string
		v       xdr.ScVal
		want    int64
		wantErr bool
	}{
		{"u64 value", xdr.ScVal{Type: xdr.ScValTypeScvU64, U64: &u}, 100, false},
		{"i64 value", xdr.ScVal{Type: xdr.ScValTypeScvI64, I64: &i}, 200, false},
		{"i128 small value", xdr.ScVal{Type: xdr.ScValTypeScvI128, I128: &xdr.Int128Parts{Hi: hi, Lo: lo}}, 300, false},
		{"nil u64", xdr.ScVal{Type: xdr.ScValTypeScvU64}, 0, true},
		{"unsupported type", xdr.ScVal{Type: xdr.ScValTypeScvVoid}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseI128Amount(tt.v)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseI128Amount_OverflowingHiRejected(t *testing.T) {
	hi := xdr.Int64(1)
	lo := xdr.Uint64(0)
	_, err := ParseI128Amount(xdr.ScVal{Type: xdr.ScValTypeScvI128, I128: &xdr.Int128Parts{Hi: hi, Lo: lo}})
	assert.Error(t, err)
}

func TestParseBool(t *testing.T) {
	yes := xdr.Bool(true)
	no := xdr.Bool(false)

	got, err := ParseBool(xdr.ScVal{Type: xdr.ScValTypeScvBool, B: &yes})
	require.NoError(t, err)
	assert.True(t, got)

	got, err = ParseBool(xdr.ScVal{Type: xdr.ScValTypeScvBool, B: &no})
	require.NoError(t, err)
	assert.False(t, got)

	_, err = ParseBool(xdr.ScVal{Type: xdr.ScValTypeScvU64})
	assert.Error(t, err)
}
