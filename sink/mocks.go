package sink

import (
	"github.com/stretchr/testify/mock"

	"github.com/chainforge/evmship/shiptypes"
)

// Mock is a ConsumerSink test double, following the embedded
// mock.Mock + optional *Fn override convention used throughout this
// module's tests.
type Mock struct {
	mock.Mock
	GetLastIndexedBlockFn func() (*shiptypes.LastIndexedBlock, error)
	IndexBlockFn          func(blockNum uint32, actions []shiptypes.ActionRecord, meta shiptypes.SinkMeta) error
}

func (m *Mock) Init() error { return m.Called().Error(0) }

func (m *Mock) Close() error { return m.Called().Error(0) }

func (m *Mock) GetLastIndexedBlock() (*shiptypes.LastIndexedBlock, error) {
	if m.GetLastIndexedBlockFn != nil {
		return m.GetLastIndexedBlockFn()
	}

	args := m.Called()

	block, _ := args.Get(0).(*shiptypes.LastIndexedBlock)

	return block, args.Error(1)
}

func (m *Mock) IndexBlock(blockNum uint32, actions []shiptypes.ActionRecord, meta shiptypes.SinkMeta) error {
	if m.IndexBlockFn != nil {
		return m.IndexBlockFn(blockNum, actions, meta)
	}

	return m.Called(blockNum, actions, meta).Error(0)
}

func (m *Mock) IndexState(state shiptypes.IndexerState) error {
	return m.Called(state).Error(0)
}

func (m *Mock) GetIndexerState() (shiptypes.IndexerState, error) {
	args := m.Called()

	state, _ := args.Get(0).(shiptypes.IndexerState)

	return state, args.Error(1)
}

var _ ConsumerSink = (*Mock)(nil)
