// Package evmdecode defines the boundary to the three EVM
// transaction decoder collaborators the assembler dispatches to (spec
// §4.7 step 6): raw transactions, withdrawals, and token-transfer
// deposits. Their actual EVM semantics are an external collaborator
// per spec §1; this package only fixes the Go-side contract and
// supplies a reference, no-op implementation so the assembler has
// something concrete to call and test against.
package evmdecode

import (
	"errors"
	"fmt"

	"github.com/chainforge/evmship/shiptypes"
)

// TxDeserializationError wraps a decoder failure (spec §7). In debug
// mode the assembler collects these into ProcessedBlock.Errors and
// continues; otherwise it is fatal to the session.
type TxDeserializationError struct {
	Action string
	Cause  error
}

func (e *TxDeserializationError) Error() string {
	return fmt.Sprintf("evmdecode: %s: %v", e.Action, e.Cause)
}

func (e *TxDeserializationError) Unwrap() error {
	return e.Cause
}

// BasicTx is the minimal shiptypes.EVMTx the reference decoders
// produce: only the cumulative gas figure the assembler threads
// across actions in a block.
type BasicTx struct {
	gasUsedBlock uint64
	Kind         string
}

func (t BasicTx) GasUsedBlock() uint64 { return t.gasUsedBlock }

// NewBasicTx builds a BasicTx carrying the given cumulative gas
// figure, for decoder implementations with no richer payload to
// report.
func NewBasicTx(kind string, gasUsedBlock uint64) BasicTx {
	return BasicTx{gasUsedBlock: gasUsedBlock, Kind: kind}
}

// RawHandler decodes an eosio.evm::raw action's data into an EVM
// transaction, returning the new cumulative gasusedblock for the
// block.
type RawHandler interface {
	HandleRaw(data []byte, gasUsedBlock uint64) (shiptypes.EVMTx, uint64, error)
}

// WithdrawHandler decodes an eosio.evm::withdraw action.
type WithdrawHandler interface {
	HandleWithdraw(data []byte, gasUsedBlock uint64) (shiptypes.EVMTx, error)
}

// DepositHandler decodes an eosio.token::transfer-to-eosio.evm
// deposit.
type DepositHandler interface {
	HandleDeposit(data []byte, gasUsedBlock uint64) (shiptypes.EVMTx, error)
}

// Decoders bundles the three collaborators the assembler dispatches
// to by action account/name (spec §4.7 step 6).
type Decoders struct {
	Raw      RawHandler
	Withdraw WithdrawHandler
	Deposit  DepositHandler
}

// ErrNotImplemented is returned by the reference decoders; production
// deployments supply their own Decoders.
var ErrNotImplemented = errors.New("evmdecode: decoder not implemented")

// Reference is a no-op Decoders implementation: it always fails with
// TxDeserializationError, wrapping ErrNotImplemented, so integration
// tests can exercise the assembler's debug-mode error-accumulation
// path without a real EVM decoder wired in.
type Reference struct{}

func (Reference) HandleRaw(_ []byte, gasUsedBlock uint64) (shiptypes.EVMTx, uint64, error) {
	return nil, gasUsedBlock, &TxDeserializationError{Action: "eosio.evm::raw", Cause: ErrNotImplemented}
}

func (Reference) HandleWithdraw(_ []byte, _ uint64) (shiptypes.EVMTx, error) {
	return nil, &TxDeserializationError{Action: "eosio.evm::withdraw", Cause: ErrNotImplemented}
}

func (Reference) HandleDeposit(_ []byte, _ uint64) (shiptypes.EVMTx, error) {
	return nil, &TxDeserializationError{Action: "eosio.token::transfer", Cause: ErrNotImplemented}
}

var (
	_ RawHandler      = Reference{}
	_ WithdrawHandler = Reference{}
	_ DepositHandler  = Reference{}
)
