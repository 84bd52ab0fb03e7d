package venue

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestLimitOrder_Encode(t *testing.T) {
	id := common.HexToHash("0xabc")
	o := LimitOrder{
		Asset:         3,
		IsBuy:         true,
		LimitPrice:    5_000_000_000_000,
		Size:          100,
		TimeInForce:   TIFImmediateOrCancel,
		ClientOrderID: ClientOrderID(id, 0),
	}

	b := o.Encode()
	require.Len(t, b, headerLen+39)
	require.Equal(t, []byte{1, 0, 0, ActionLimitOrder}, b[:4])
	require.Equal(t, []byte{3, 0, 0, 0}, b[4:8], "asset must be little-endian")
	require.Equal(t, byte(1), b[8])
	require.Equal(t, byte(o.ClientOrderID[15]), b[27], "cloid is written least significant byte first")

	decoded, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, o, decoded)
}

func TestTransferAndCancel_RoundTrip(t *testing.T) {
	tr := Transfer{Amount: 42, TowardPerp: true}
	got, err := Decode(tr.Encode())
	require.NoError(t, err)
	require.Equal(t, tr, got)

	c := Cancel{Asset: 7, OrderID: 0x0102030405060708}
	b := c.Encode()
	require.Equal(t, ActionCancel, b[3])
	require.True(t, bytes.Equal(b[8:16], []byte{8, 7, 6, 5, 4, 3, 2, 1}))

	got, err = Decode(b)
	require.NoError(t, err)
	require.Equal(t, c, got)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode([]byte{1, 0})
	require.ErrorIs(t, err, ErrShortAction)

	_, err = Decode([]byte{2, 0, 0, ActionCancel})
	require.ErrorIs(t, err, ErrBadVersion)

	_, err = Decode([]byte{1, 0, 0, 99})
	require.ErrorIs(t, err, ErrUnknownAction)

	b := Cancel{Asset: 1, OrderID: 1}.Encode()
	_, err = Decode(b[:len(b)-1])
	if !errors.Is(err, ErrShortAction) {
		t.Errorf("Expected ErrShortAction for truncated payload, got %v", err)
	}
}

func TestClientOrderID_Deterministic(t *testing.T) {
	id := common.HexToHash("0x01")
	require.Equal(t, ClientOrderID(id, 10), ClientOrderID(id, 10))
	require.NotEqual(t, ClientOrderID(id, 10), ClientOrderID(id, 20))
	require.NotEqual(t, ClientOrderID(id, 10), ClientOrderID(common.HexToHash("0x02"), 10))
}

func TestVenueOrderID(t *testing.T) {
	var id common.Hash
	copy(id[:], []byte{0, 0, 0, 0, 0, 0, 1, 2, 0xff})
	if got := VenueOrderID(id); got != 0x0102 {
		t.Errorf("Expected 0x0102, got %#x", got)
	}
}
