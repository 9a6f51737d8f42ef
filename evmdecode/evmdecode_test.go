package evmdecode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReferenceHandlersFailWithTxDeserializationError(t *testing.T) {
	t.Parallel()

	ref := Reference{}

	_, newGas, err := ref.HandleRaw(nil, 10)
	require.Equal(t, uint64(10), newGas)

	var txErr *TxDeserializationError
	require.ErrorAs(t, err, &txErr)
	require.ErrorIs(t, err, ErrNotImplemented)

	_, err = ref.HandleWithdraw(nil, 0)
	require.ErrorAs(t, err, &txErr)

	_, err = ref.HandleDeposit(nil, 0)
	require.ErrorAs(t, err, &txErr)
}

func TestBasicTxGasUsedBlock(t *testing.T) {
	t.Parallel()

	tx := BasicTx{gasUsedBlock: 42, Kind: "raw"}
	require.Equal(t, uint64(42), tx.GasUsedBlock())
}
