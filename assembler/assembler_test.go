package assembler

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/chainforge/evmship/actionhash"
	"github.com/chainforge/evmship/broadcast"
	"github.com/chainforge/evmship/evmdecode"
	"github.com/chainforge/evmship/shiptypes"
	"github.com/chainforge/evmship/sink"
)

type fakeBroadcaster struct {
	heads []broadcast.Head
}

func (f *fakeBroadcaster) PublishHead(head broadcast.Head) {
	f.heads = append(f.heads, head)
}

func globalRowDelta(blockNum uint32) shiptypes.TableDelta {
	return shiptypes.TableDelta{
		Code: "eosio", Scope: "eosio", Table: "global", Present: true,
		Value: map[string]any{"block_num": blockNum},
	}
}

func rawAction(gasReturned uint64) shiptypes.Action {
	return shiptypes.Action{Account: "eosio.evm", Name: "raw", RawData: []byte{0x01, 0x02}}
}

func transferAction(from, to string) shiptypes.Action {
	raw := make([]byte, 16)
	binary.LittleEndian.PutUint64(raw[0:8], encodeNameForTest(from))
	binary.LittleEndian.PutUint64(raw[8:16], encodeNameForTest(to))

	return shiptypes.Action{Account: "eosio.token", Name: "transfer", RawData: raw}
}

// encodeNameForTest is the exact inverse of codec.DecodeName, used to
// build fixtures for parseTransfer's round trip.
func encodeNameForTest(s string) uint64 {
	const charset = ".12345abcdefghijklmnopqrstuvwxyz"

	padded := s
	for len(padded) < 13 {
		padded += "."
	}

	var value uint64

	for k := 0; k <= 12; k++ {
		idx := uint64(0)

		for ci, c := range charset {
			if byte(c) == padded[k] {
				idx = uint64(ci)

				break
			}
		}

		bits := uint(5)
		if k == 12 {
			bits = 4
		}

		value = value<<bits | idx
	}

	return value
}

func newTestAssembler(t *testing.T, debug bool) (*Assembler, *sink.Mock, *fakeBroadcaster, *evmdecode.RawHandlerMock) {
	t.Helper()

	rawMock := &evmdecode.RawHandlerMock{HandleRawFn: func(data []byte, gasUsedBlock uint64) (shiptypes.EVMTx, uint64, error) {
		return evmdecode.NewBasicTx("raw", gasUsedBlock+21000), gasUsedBlock + 21000, nil
	}}

	sinkMock := &sink.Mock{}
	bc := &fakeBroadcaster{}

	a := New(Config{
		Hasher:      actionhash.New(actionhash.ModeRelease),
		Decoders:    evmdecode.Decoders{Raw: rawMock, Withdraw: evmdecode.Reference{}, Deposit: evmdecode.Reference{}},
		Sink:        sinkMock,
		Broadcaster: bc,
		Debug:       debug,
		Logger:      hclog.NewNullLogger(),
	})

	return a, sinkMock, bc, rawMock
}

func TestProcessBlockHappyPath(t *testing.T) {
	t.Parallel()

	a, sinkMock, bc, _ := newTestAssembler(t, false)

	sinkMock.On("IndexBlock", uint32(10), mock.Anything, mock.Anything).Return(nil)

	decoded := shiptypes.DecodedBlock{
		Envelope: shiptypes.BlockEnvelope{ThisBlock: shiptypes.Position{BlockNum: 10, BlockID: "abc"}, Head: shiptypes.Position{BlockNum: 10}},
		Block:    map[string]any{},
		Traces: []shiptypes.ActionTrace{
			{TrxID: "t1", ActionOrdinal: 1, GlobalSequence: 1, Receiver: "eosio.evm", Act: rawAction(0)},
		},
		Deltas: []shiptypes.TableDelta{globalRowDelta(5)},
	}

	err := a.ProcessBlock(context.Background(), decoded, shiptypes.SignatureMap{})
	require.NoError(t, err)

	sinkMock.AssertExpectations(t)
	require.Len(t, bc.heads, 1)
	require.Equal(t, broadcast.HexUint(5), bc.heads[0].Number)
}

func TestProcessBlockLimboThenResolve(t *testing.T) {
	t.Parallel()

	a, sinkMock, _, _ := newTestAssembler(t, false)

	var capturedActions []shiptypes.ActionRecord

	sinkMock.IndexBlockFn = func(blockNum uint32, actions []shiptypes.ActionRecord, meta shiptypes.SinkMeta) error {
		capturedActions = actions

		return nil
	}

	limboBlock := shiptypes.DecodedBlock{
		Envelope: shiptypes.BlockEnvelope{ThisBlock: shiptypes.Position{BlockNum: 10}, Head: shiptypes.Position{BlockNum: 10}},
		Block:    map[string]any{},
		Traces: []shiptypes.ActionTrace{
			{TrxID: "t1", ActionOrdinal: 1, Receiver: "eosio.evm", Act: rawAction(0)},
		},
		// no global row: must buffer in limbo
	}

	require.NoError(t, a.ProcessBlock(context.Background(), limboBlock, shiptypes.SignatureMap{}))
	require.False(t, a.limbo.IsEmpty())

	resolvingBlock := shiptypes.DecodedBlock{
		Envelope: shiptypes.BlockEnvelope{ThisBlock: shiptypes.Position{BlockNum: 11}, Head: shiptypes.Position{BlockNum: 11}},
		Block:    map[string]any{},
		Traces: []shiptypes.ActionTrace{
			{TrxID: "t2", ActionOrdinal: 1, Receiver: "eosio.evm", Act: rawAction(0)},
		},
		Deltas: []shiptypes.TableDelta{globalRowDelta(6)},
	}

	require.NoError(t, a.ProcessBlock(context.Background(), resolvingBlock, shiptypes.SignatureMap{}))
	require.True(t, a.limbo.IsEmpty())
	require.Len(t, capturedActions, 2, "limbo record from block 10 plus the new record from block 11")
	require.Equal(t, "t1", capturedActions[0].TrxID)
	require.Equal(t, "t2", capturedActions[1].TrxID)
}

func TestProcessBlockSignatureMissIsNonFatal(t *testing.T) {
	t.Parallel()

	a, sinkMock, _, _ := newTestAssembler(t, false)

	var capturedActions []shiptypes.ActionRecord
	sinkMock.IndexBlockFn = func(blockNum uint32, actions []shiptypes.ActionRecord, meta shiptypes.SinkMeta) error {
		capturedActions = actions

		return nil
	}

	decoded := shiptypes.DecodedBlock{
		Envelope: shiptypes.BlockEnvelope{ThisBlock: shiptypes.Position{BlockNum: 1}, Head: shiptypes.Position{BlockNum: 1}},
		Block:    map[string]any{},
		Traces: []shiptypes.ActionTrace{
			{TrxID: "t1", ActionOrdinal: 1, Receiver: "eosio.evm", Act: rawAction(0)},
		},
		Deltas: []shiptypes.TableDelta{globalRowDelta(1)},
	}

	require.NoError(t, a.ProcessBlock(context.Background(), decoded, shiptypes.SignatureMap{}))
	require.Len(t, capturedActions, 1)
	require.Nil(t, capturedActions[0].Signatures)
}

func TestIsKeptTransferFilter(t *testing.T) {
	t.Parallel()

	kept, err := isKept(transferAction("alice", "eosio.evm"))
	require.NoError(t, err)
	require.True(t, kept)

	kept, err = isKept(transferAction("eosio", "eosio.evm"))
	require.NoError(t, err)
	require.False(t, kept, "system account deposits are excluded")

	kept, err = isKept(transferAction("alice", "bob"))
	require.NoError(t, err)
	require.False(t, kept, "transfers not addressed to eosio.evm are irrelevant")
}

func TestProcessBlockGapIsFatal(t *testing.T) {
	t.Parallel()

	a, sinkMock, _, _ := newTestAssembler(t, false)
	sinkMock.IndexBlockFn = func(uint32, []shiptypes.ActionRecord, shiptypes.SinkMeta) error { return nil }

	first := shiptypes.DecodedBlock{
		Envelope: shiptypes.BlockEnvelope{ThisBlock: shiptypes.Position{BlockNum: 10}, Head: shiptypes.Position{BlockNum: 10}},
		Block:    map[string]any{},
		Deltas:   []shiptypes.TableDelta{globalRowDelta(1)},
	}
	require.NoError(t, a.ProcessBlock(context.Background(), first, shiptypes.SignatureMap{}))

	skipped := shiptypes.DecodedBlock{
		Envelope: shiptypes.BlockEnvelope{ThisBlock: shiptypes.Position{BlockNum: 12}, Head: shiptypes.Position{BlockNum: 12}},
		Block:    map[string]any{},
	}

	err := a.ProcessBlock(context.Background(), skipped, shiptypes.SignatureMap{})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrGap))
}

func TestProcessBlockForkIsFatal(t *testing.T) {
	t.Parallel()

	a, sinkMock, _, _ := newTestAssembler(t, false)
	sinkMock.IndexBlockFn = func(uint32, []shiptypes.ActionRecord, shiptypes.SinkMeta) error { return nil }

	first := shiptypes.DecodedBlock{
		Envelope: shiptypes.BlockEnvelope{ThisBlock: shiptypes.Position{BlockNum: 10}, Head: shiptypes.Position{BlockNum: 10}},
		Block:    map[string]any{},
		Deltas:   []shiptypes.TableDelta{globalRowDelta(1)},
	}
	require.NoError(t, a.ProcessBlock(context.Background(), first, shiptypes.SignatureMap{}))

	rewound := shiptypes.DecodedBlock{
		Envelope: shiptypes.BlockEnvelope{ThisBlock: shiptypes.Position{BlockNum: 9}, Head: shiptypes.Position{BlockNum: 10}},
		Block:    map[string]any{},
	}

	err := a.ProcessBlock(context.Background(), rewound, shiptypes.SignatureMap{})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrFork))
}

func TestStateMachineTransitionsToHead(t *testing.T) {
	t.Parallel()

	a, sinkMock, _, _ := newTestAssembler(t, false)
	sinkMock.IndexBlockFn = func(uint32, []shiptypes.ActionRecord, shiptypes.SinkMeta) error { return nil }

	require.Equal(t, shiptypes.StateSync, a.Snapshot().State)

	farFromHead := shiptypes.DecodedBlock{
		Envelope: shiptypes.BlockEnvelope{ThisBlock: shiptypes.Position{BlockNum: 1}, Head: shiptypes.Position{BlockNum: 1000}},
		Block:    map[string]any{},
		Deltas:   []shiptypes.TableDelta{globalRowDelta(1)},
	}
	require.NoError(t, a.ProcessBlock(context.Background(), farFromHead, shiptypes.SignatureMap{}))
	require.Equal(t, shiptypes.StateSync, a.Snapshot().State)

	nearHead := shiptypes.DecodedBlock{
		Envelope: shiptypes.BlockEnvelope{ThisBlock: shiptypes.Position{BlockNum: 950}, Head: shiptypes.Position{BlockNum: 1000}},
		Block:    map[string]any{},
		Deltas:   []shiptypes.TableDelta{globalRowDelta(1)},
	}
	a.lastAccepted = 949
	a.hasLastAccepted = true
	require.NoError(t, a.ProcessBlock(context.Background(), nearHead, shiptypes.SignatureMap{}))
	require.Equal(t, shiptypes.StateHead, a.Snapshot().State)
}

func TestDebugModeAccumulatesDecoderErrors(t *testing.T) {
	t.Parallel()

	a, sinkMock, _, rawMock := newTestAssembler(t, true)
	rawMock.HandleRawFn = func(data []byte, gasUsedBlock uint64) (shiptypes.EVMTx, uint64, error) {
		return nil, gasUsedBlock, &evmdecode.TxDeserializationError{Action: "eosio.evm::raw", Cause: errors.New("boom")}
	}

	sinkMock.IndexBlockFn = func(blockNum uint32, actions []shiptypes.ActionRecord, meta shiptypes.SinkMeta) error {
		return nil
	}

	decoded := shiptypes.DecodedBlock{
		Envelope: shiptypes.BlockEnvelope{ThisBlock: shiptypes.Position{BlockNum: 1}, Head: shiptypes.Position{BlockNum: 1}},
		Block:    map[string]any{},
		Traces: []shiptypes.ActionTrace{
			{TrxID: "t1", ActionOrdinal: 1, Receiver: "eosio.evm", Act: rawAction(0)},
		},
		Deltas: []shiptypes.TableDelta{globalRowDelta(1)},
	}

	records, txErrs, err := a.buildActionRecords(decoded, shiptypes.SignatureMap{})
	require.NoError(t, err)
	require.Empty(t, records)
	require.Len(t, txErrs, 1)
}
