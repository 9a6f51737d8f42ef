package boltsink

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainforge/evmship/shiptypes"
)

func newTestSink(t *testing.T) *Sink {
	t.Helper()

	dir := t.TempDir()

	s, err := New(filepath.Join(dir, "sink.db"))
	require.NoError(t, err)
	require.NoError(t, s.Init())

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestGetLastIndexedBlockEmpty(t *testing.T) {
	t.Parallel()

	s := newTestSink(t)

	block, err := s.GetLastIndexedBlock()
	require.NoError(t, err)
	require.Nil(t, block)
}

func TestIndexBlockThenGetLastIndexed(t *testing.T) {
	t.Parallel()

	s := newTestSink(t)

	meta := shiptypes.SinkMeta{
		Timestamp:      time.Unix(1_700_000_000, 0).UTC(),
		GlobalBlockNum: 42,
		EVMBlockHash:   "0xdead",
	}

	require.NoError(t, s.IndexBlock(100, nil, meta))

	block, err := s.GetLastIndexedBlock()
	require.NoError(t, err)
	require.NotNil(t, block)
	require.Equal(t, uint32(100), block.BlockNum)
	require.Equal(t, "0xdead", block.EVMBlockHash)
}

func TestIndexStateRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestSink(t)

	require.NoError(t, s.IndexState(shiptypes.StateHead))

	state, err := s.GetIndexerState()
	require.NoError(t, err)
	require.Equal(t, shiptypes.StateHead, state)
}
