package evmdecode

import (
	"github.com/stretchr/testify/mock"

	"github.com/chainforge/evmship/shiptypes"
)

// RawHandlerMock is a table-driven-test double: when the Fn override
// is set it takes precedence, otherwise the call is recorded on the
// embedded mock.Mock as usual.
type RawHandlerMock struct {
	mock.Mock
	HandleRawFn func(data []byte, gasUsedBlock uint64) (shiptypes.EVMTx, uint64, error)
}

func (m *RawHandlerMock) HandleRaw(data []byte, gasUsedBlock uint64) (shiptypes.EVMTx, uint64, error) {
	if m.HandleRawFn != nil {
		return m.HandleRawFn(data, gasUsedBlock)
	}

	args := m.Called(data, gasUsedBlock)

	tx, _ := args.Get(0).(shiptypes.EVMTx)

	return tx, args.Get(1).(uint64), args.Error(2)
}

var _ RawHandler = (*RawHandlerMock)(nil)

type WithdrawHandlerMock struct {
	mock.Mock
	HandleWithdrawFn func(data []byte, gasUsedBlock uint64) (shiptypes.EVMTx, error)
}

func (m *WithdrawHandlerMock) HandleWithdraw(data []byte, gasUsedBlock uint64) (shiptypes.EVMTx, error) {
	if m.HandleWithdrawFn != nil {
		return m.HandleWithdrawFn(data, gasUsedBlock)
	}

	args := m.Called(data, gasUsedBlock)

	tx, _ := args.Get(0).(shiptypes.EVMTx)

	return tx, args.Error(1)
}

var _ WithdrawHandler = (*WithdrawHandlerMock)(nil)

type DepositHandlerMock struct {
	mock.Mock
	HandleDepositFn func(data []byte, gasUsedBlock uint64) (shiptypes.EVMTx, error)
}

func (m *DepositHandlerMock) HandleDeposit(data []byte, gasUsedBlock uint64) (shiptypes.EVMTx, error) {
	if m.HandleDepositFn != nil {
		return m.HandleDepositFn(data, gasUsedBlock)
	}

	args := m.Called(data, gasUsedBlock)

	tx, _ := args.Get(0).(shiptypes.EVMTx)

	return tx, args.Error(1)
}

var _ DepositHandler = (*DepositHandlerMock)(nil)
