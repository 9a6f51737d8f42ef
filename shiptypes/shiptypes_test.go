package shiptypes

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewBlockRequestDefaults(t *testing.T) {
	t.Parallel()

	req := NewBlockRequest(10, 50)

	require.Equal(t, uint32(10), req.StartBlockNum)
	require.Equal(t, uint32(math.MaxUint32), req.EndBlockNum)
	require.True(t, req.FetchBlock)
	require.True(t, req.FetchTraces)
	require.True(t, req.FetchDeltas)
}

func TestBlockRequestCloneIsIndependent(t *testing.T) {
	t.Parallel()

	req := NewBlockRequest(1, 10)
	req.HavePositions = []Position{{BlockNum: 1, BlockID: "a"}}

	clone := req.Clone()
	clone.HavePositions[0].BlockNum = 99
	clone.HavePositions = append(clone.HavePositions, Position{BlockNum: 2, BlockID: "b"})

	require.Equal(t, uint32(1), req.HavePositions[0].BlockNum)
	require.Len(t, req.HavePositions, 1)
}

func TestPositionIsZero(t *testing.T) {
	t.Parallel()

	require.True(t, Position{}.IsZero())
	require.False(t, Position{BlockNum: 1}.IsZero())
}

func TestLimboBuffer(t *testing.T) {
	t.Parallel()

	var buf LimboBuffer

	require.True(t, buf.IsEmpty())

	buf.Add(ActionRecord{TrxID: "a"}, ActionRecord{TrxID: "b"})
	require.False(t, buf.IsEmpty())

	drained := buf.Drain()
	require.Len(t, drained, 2)
	require.True(t, buf.IsEmpty())
}

func TestIndexerStateString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "SYNC", StateSync.String())
	require.Equal(t, "HEAD", StateHead.String())
}
