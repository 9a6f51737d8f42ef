// Package assembler implements the BlockAssembler (spec §4.7), the
// SYNC/HEAD StateMachine (spec §4.8), and the LimboBuffer: the
// per-block state machine that turns a decoded native block's traces
// and table deltas into an ordered EVMTx list and emits it downstream.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/chainforge/evmship/actionhash"
	"github.com/chainforge/evmship/broadcast"
	"github.com/chainforge/evmship/evmdecode"
	"github.com/chainforge/evmship/extract"
	"github.com/chainforge/evmship/shiptypes"
	"github.com/chainforge/evmship/sink"
)

// snapshotHolder publishes a shiptypes.StateSnapshot for concurrent
// reads without requiring the reader to take the Assembler's lock.
type snapshotHolder struct {
	mu    sync.RWMutex
	value shiptypes.StateSnapshot
}

func (h *snapshotHolder) Store(v shiptypes.StateSnapshot) {
	h.mu.Lock()
	h.value = v
	h.mu.Unlock()
}

func (h *snapshotHolder) Load() shiptypes.StateSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.value
}

// headSyncHorizon is the head-distance threshold at which the state
// machine moves from SYNC to HEAD (spec §4.8).
const headSyncHorizon = 100

// Config wires an Assembler's collaborators.
type Config struct {
	Hasher      actionhash.Hasher
	Decoders    evmdecode.Decoders
	Sink        sink.ConsumerSink
	Broadcaster broadcast.Broadcaster // nil disables head broadcast
	Debug       bool
	Logger      hclog.Logger
}

// Assembler is not safe to call ProcessBlock on concurrently — it is
// meant to be driven by exactly one goroutine (Runner). Snapshot is
// the one method other goroutines may call concurrently.
type Assembler struct {
	cfg Config

	hasLastAccepted bool
	lastAccepted    uint32
	hasLastEVMBlock bool
	lastEVMBlock    uint64

	limbo shiptypes.LimboBuffer
	state shiptypes.IndexerState

	snapshot snapshotHolder
}

func New(cfg Config) *Assembler {
	a := &Assembler{cfg: cfg, state: shiptypes.StateSync}
	a.publishSnapshot()

	return a
}

// Resume seeds lastAccepted from a prior session's last indexed block,
// so the gap check on the first frame after a reconnect does not
// misfire (spec §5 "resume from sink").
func (a *Assembler) Resume(lastIndexed *shiptypes.LastIndexedBlock) {
	if lastIndexed == nil {
		return
	}

	a.hasLastAccepted = true
	a.lastAccepted = lastIndexed.BlockNum
	a.publishSnapshot()
}

// Snapshot is the small, atomically-published view the ShipClient
// reads in place of a back-reference to the assembler (design note
// §9: "one-way channel from reader to assembler").
func (a *Assembler) Snapshot() shiptypes.StateSnapshot {
	return a.snapshot.Load()
}

// ProcessBlock implements spec §4.7 steps 1–8. sigMap is the
// per-block signature map the ShipClient mined from the block body's
// transactions (spec §4.6).
func (a *Assembler) ProcessBlock(
	ctx context.Context, decoded shiptypes.DecodedBlock, sigMap shiptypes.SignatureMap,
) error {
	thisBlockNum := decoded.Envelope.ThisBlock.BlockNum

	if a.hasLastAccepted && thisBlockNum > a.lastAccepted+1 {
		return fmt.Errorf("%w: expected %d, got %d", ErrGap, a.lastAccepted+1, thisBlockNum)
	}

	if a.hasLastAccepted && thisBlockNum <= a.lastAccepted {
		a.cfg.Logger.Error("fork or rollback observed; rollback is not implemented",
			"block", thisBlockNum, "lastAccepted", a.lastAccepted)

		return fmt.Errorf("%w: block %d already accepted (lastAccepted=%d)", ErrFork, thisBlockNum, a.lastAccepted)
	}

	row := extract.GlobalRow(decoded.Deltas)

	newRecords, txErrs, err := a.buildActionRecords(decoded, sigMap)
	if err != nil {
		return err
	}

	if row == nil {
		a.limbo.Add(newRecords...)
		a.lastAccepted = thisBlockNum
		a.hasLastAccepted = true
		a.updateState(decoded.Envelope.Head.BlockNum)

		a.cfg.Logger.Debug("block lacks global row, buffered in limbo",
			"block", thisBlockNum, "pendingRecords", len(newRecords))

		return nil
	}

	evmBlockNumber := uint64(row.BlockNum)

	if a.hasLastEVMBlock && evmBlockNumber <= a.lastEVMBlock {
		a.cfg.Logger.Warn("evmBlockNumber did not strictly increase",
			"block", thisBlockNum, "evmBlockNumber", evmBlockNumber, "previous", a.lastEVMBlock)
	}

	merged := append(a.limbo.Drain(), newRecords...)

	processed := shiptypes.ProcessedBlock{
		NativeBlockHash:   decoded.Envelope.ThisBlock.BlockID,
		NativeBlockNumber: thisBlockNum,
		EVMBlockNumber:    evmBlockNumber,
		BlockTimestamp:    blockTimestamp(decoded.Block),
		EVMTxs:            merged,
		Errors:            txErrs,
	}

	if err := a.emit(processed); err != nil {
		return err
	}

	a.lastAccepted = thisBlockNum
	a.hasLastAccepted = true
	a.lastEVMBlock = evmBlockNumber
	a.hasLastEVMBlock = true
	a.updateState(decoded.Envelope.Head.BlockNum)

	return nil
}

func (a *Assembler) emit(block shiptypes.ProcessedBlock) error {
	meta := shiptypes.SinkMeta{
		Timestamp:      block.BlockTimestamp,
		GlobalBlockNum: uint32(block.EVMBlockNumber),
		EVMBlockHash:   "", // computed by an external collaborator, spec §9
	}

	if err := a.cfg.Sink.IndexBlock(block.NativeBlockNumber, block.EVMTxs, meta); err != nil {
		return fmt.Errorf("assembler: indexing block %d: %w", block.NativeBlockNumber, err)
	}

	if a.cfg.Broadcaster != nil {
		a.cfg.Broadcaster.PublishHead(headOf(block))
	}

	return nil
}

func headOf(block shiptypes.ProcessedBlock) broadcast.Head {
	var gasUsed uint64

	for _, rec := range block.EVMTxs {
		if rec.EVMTx != nil {
			gasUsed = rec.EVMTx.GasUsedBlock()
		}
	}

	return broadcast.Head{
		ExtraData: "0x" + block.NativeBlockHash,
		GasUsed:   broadcast.HexUint(gasUsed),
		Number:    broadcast.HexUint(block.EVMBlockNumber),
		Timestamp: broadcast.HexUint(uint64(block.BlockTimestamp.Unix())),
	}
}

func (a *Assembler) updateState(headBlockNum uint32) {
	if a.state == shiptypes.StateHead {
		a.publishSnapshot()

		return
	}

	var headDistance uint32
	if headBlockNum > a.lastAccepted {
		headDistance = headBlockNum - a.lastAccepted
	}

	if headDistance <= headSyncHorizon {
		a.cfg.Logger.Info("switching to HEAD state", "headDistance", headDistance)
		a.state = shiptypes.StateHead
	}

	a.publishSnapshot()
}

func (a *Assembler) publishSnapshot() {
	a.snapshot.Store(shiptypes.StateSnapshot{State: a.state, LastOrderedBlock: a.lastAccepted})
}

// buildActionRecords implements spec §4.7 steps 4–7 against the
// traces the Extractor already flattened and sorted.
func (a *Assembler) buildActionRecords(
	decoded shiptypes.DecodedBlock, sigMap shiptypes.SignatureMap,
) ([]shiptypes.ActionRecord, []error, error) {
	var (
		records []shiptypes.ActionRecord
		txErrs  []error
		gasUsed uint64
	)

	for _, trace := range decoded.Traces {
		keep, err := isKept(trace.Act)
		if err != nil {
			wrapped := &evmdecode.TxDeserializationError{Action: trace.Act.Account + "::" + trace.Act.Name, Cause: err}
			if a.cfg.Debug {
				txErrs = append(txErrs, wrapped)

				continue
			}

			return nil, nil, wrapped
		}

		if !keep {
			continue
		}

		tx, newGasUsed, skip, err := a.dispatch(trace.Act, gasUsed)
		if skip {
			continue
		}

		gasUsed = newGasUsed

		if err != nil {
			var txErr *evmdecode.TxDeserializationError
			if !errors.As(err, &txErr) {
				txErr = &evmdecode.TxDeserializationError{Action: trace.Act.Account + "::" + trace.Act.Name, Cause: err}
			}

			if a.cfg.Debug {
				txErrs = append(txErrs, txErr)

				continue
			}

			return nil, nil, txErr
		}

		records = append(records, shiptypes.ActionRecord{
			TrxID:         trace.TrxID,
			ActionOrdinal: trace.ActionOrdinal,
			Signatures:    a.lookupSignature(trace, decoded.Traces, sigMap),
			EVMTx:         tx,
		})
	}

	return records, txErrs, nil
}

// lookupSignature implements spec §4.7 step 5: search the owning
// transaction's traces, in order, for the first fingerprint present
// in sigMap. A miss is non-fatal: it yields an empty signature list.
func (a *Assembler) lookupSignature(
	trace shiptypes.ActionTrace, allTraces []shiptypes.ActionTrace, sigMap shiptypes.SignatureMap,
) []string {
	for _, t := range allTraces {
		if t.TrxID != trace.TrxID {
			continue
		}

		if sigs, ok := sigMap[a.cfg.Hasher.Hash(t.Act)]; ok {
			return sigs
		}
	}

	return nil
}

// isKept implements spec §4.7 step 4's whitelist.
func isKept(act shiptypes.Action) (bool, error) {
	switch act.Account {
	case "eosio.evm":
		return act.Name == "raw" || act.Name == "withdraw" || act.Name == "exec", nil
	case "eosio.msig":
		return act.Name == "exec", nil
	case "eosio.token":
		if act.Name != "transfer" {
			return false, nil
		}

		from, to, err := parseTransfer(act.RawData)
		if err != nil {
			return false, err
		}

		if to != "eosio.evm" {
			return false, nil
		}

		switch from {
		case "eosio", "eosio.stake", "eosio.ram":
			return false, nil
		default:
			return true, nil
		}
	default:
		return false, nil
	}
}

// dispatch implements spec §4.7 step 6. skip is true for kept traces
// with no mapped decoder (eosio.evm::exec, eosio.msig::exec — kept by
// the filter for future extension but not yet routed anywhere).
func (a *Assembler) dispatch(act shiptypes.Action, gasUsedBlock uint64) (tx shiptypes.EVMTx, newGasUsedBlock uint64, skip bool, err error) {
	switch {
	case act.Account == "eosio.evm" && act.Name == "raw":
		tx, newGasUsedBlock, err = a.cfg.Decoders.Raw.HandleRaw(act.RawData, gasUsedBlock)

		return tx, newGasUsedBlock, false, err
	case act.Account == "eosio.evm" && act.Name == "withdraw":
		tx, err = a.cfg.Decoders.Withdraw.HandleWithdraw(act.RawData, gasUsedBlock)

		return tx, gasUsedBlock, false, err
	case act.Account == "eosio.token" && act.Name == "transfer":
		tx, err = a.cfg.Decoders.Deposit.HandleDeposit(act.RawData, gasUsedBlock)

		return tx, gasUsedBlock, false, err
	default:
		return nil, gasUsedBlock, true, nil
	}
}

// blockEpoch is the EOSIO block_timestamp_type epoch
// (2000-01-01T00:00:00Z); slots are 500ms each.
var blockEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// blockTimestamp reads the native block header's timestamp field
// (block_timestamp_type: slot count since blockEpoch). Absent or
// unparseable values yield the zero time rather than an error; that
// zero time is then what the sink meta and the broadcast head carry.
func blockTimestamp(block map[string]any) time.Time {
	raw, ok := block["timestamp"]
	if !ok {
		return time.Time{}
	}

	slot, ok := toUint32(raw)
	if !ok {
		return time.Time{}
	}

	return blockEpoch.Add(time.Duration(slot) * 500 * time.Millisecond)
}

func toUint32(v any) (uint32, bool) {
	switch t := v.(type) {
	case uint32:
		return t, true
	case uint64:
		return uint32(t), true
	case int:
		return uint32(t), true
	case int64:
		return uint32(t), true
	}

	return 0, false
}
