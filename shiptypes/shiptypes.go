// Package shiptypes holds the data model shared by the codec, the
// State-History reader and the block assembler: positions, the block
// request, the raw envelope, the decoded block, and the records the
// assembler produces for the sink and the broadcaster.
package shiptypes

import (
	"fmt"
	"math"
	"time"

	"github.com/jinzhu/copier"
)

// Position identifies a block by number and id, as used for
// this_block/head/last_irreversible and for have_positions entries.
type Position struct {
	BlockNum uint32 `json:"block_num"`
	BlockID  string `json:"block_id"`
}

func (p Position) IsZero() bool {
	return p.BlockNum == 0 && p.BlockID == ""
}

func (p Position) String() string {
	return fmt.Sprintf("%d (%s)", p.BlockNum, p.BlockID)
}

// BlockRequest is the session configuration sent as
// get_blocks_request_v0 and mutated only between ACK boundaries.
type BlockRequest struct {
	StartBlockNum       uint32
	EndBlockNum         uint32
	MaxMessagesInFlight int
	IrreversibleOnly    bool
	HavePositions       []Position
	FetchBlock          bool
	FetchTraces         bool
	FetchDeltas         bool
}

// NewBlockRequest builds a request covering [startBlock, endless) with
// every fetch flag enabled, matching the reader's default session.
func NewBlockRequest(startBlock uint32, maxMessagesInFlight int) BlockRequest {
	return BlockRequest{
		StartBlockNum:       startBlock,
		EndBlockNum:         math.MaxUint32,
		MaxMessagesInFlight: maxMessagesInFlight,
		FetchBlock:          true,
		FetchTraces:         true,
		FetchDeltas:         true,
	}
}

// Clone returns a deep copy: the clone's HavePositions is a separate
// slice, so changes to it do not affect the original request.
func (r BlockRequest) Clone() BlockRequest {
	var out BlockRequest

	if err := copier.CopyWithOption(&out, &r, copier.Option{DeepCopy: true}); err != nil {
		// copier only fails on structurally incompatible types; BlockRequest
		// copying into itself cannot hit that path.
		panic(fmt.Sprintf("shiptypes: BlockRequest clone failed: %v", err))
	}

	return out
}

// BlockEnvelope is the raw, partially-decoded block as received off
// the wire: positions plus opaque payload blobs.
type BlockEnvelope struct {
	ThisBlock        Position
	Head             Position
	LastIrreversible Position

	BlockBytes  []byte
	TracesBytes []byte
	DeltasBytes []byte
}

// HasThisBlock reports whether the node sent a real block in this
// result, as opposed to a "caught up"/pre-snapshot empty frame.
func (e BlockEnvelope) HasThisBlock() bool {
	return !e.ThisBlock.IsZero()
}

// Permission is one actor/permission pair in an action's
// authorization list.
type Permission struct {
	Actor      string
	Permission string
}

// Action is a native contract action: account/name identify the
// handler, Authorization the signing permissions, Data the
// action-ABI-decoded payload, RawData the undecoded bytes it was
// decoded from. Fingerprinting (see actionhash) always hashes RawData,
// never Data, since struct-field order of a decoded map is not stable.
type Action struct {
	Account       string
	Name          string
	Authorization []Permission
	Data          map[string]any
	RawData       []byte
}

// ActionTrace is one decoded transaction_trace_v0 action trace.
type ActionTrace struct {
	TrxID          string
	ActionOrdinal  int
	GlobalSequence uint64
	Receiver       string
	Status         uint8
	Act            Action
}

// TableDelta is one decoded contract_row inside a table_delta_v0|v1.
type TableDelta struct {
	Code    string
	Scope   string
	Table   string
	Present bool
	Value   map[string]any
}

// GlobalRow is the decoded eosio/eosio/global contract_row payload.
type GlobalRow struct {
	BlockNum uint32
}

// DecodedBlock is a BlockEnvelope after the three parallel decodes
// have completed.
type DecodedBlock struct {
	Envelope     BlockEnvelope
	Block        map[string]any
	Transactions []any
	Traces       []ActionTrace
	Deltas       []TableDelta
}

// SignatureMap maps an action fingerprint (see the actionhash
// package) to the ordered signature list of the transaction that
// carried it, scoped to a single block.
type SignatureMap map[string][]string

// EVMTx is the opaque output of the raw/deposit/withdraw decoder
// collaborators; this module only needs the cumulative gas figure to
// thread gasusedblock across actions within a block.
type EVMTx interface {
	GasUsedBlock() uint64
}

// ActionRecord is an EVM-relevant action selected from traces.
type ActionRecord struct {
	TrxID         string
	ActionOrdinal int
	Signatures    []string
	EVMTx         EVMTx
}

// ProcessedBlock is the assembled, emittable output.
type ProcessedBlock struct {
	NativeBlockHash   string
	NativeBlockNumber uint32
	EVMBlockNumber    uint64
	BlockTimestamp    time.Time
	EVMTxs            []ActionRecord
	Errors            []error
}

// LimboBuffer carries ActionRecords extracted from a block that
// lacked the global row, until the next block that carries it.
type LimboBuffer struct {
	pending []ActionRecord
}

func (l *LimboBuffer) IsEmpty() bool {
	return len(l.pending) == 0
}

func (l *LimboBuffer) Add(records ...ActionRecord) {
	l.pending = append(l.pending, records...)
}

// Drain returns and clears everything accumulated so far.
func (l *LimboBuffer) Drain() []ActionRecord {
	out := l.pending
	l.pending = nil

	return out
}

// IndexerState is the two-phase SYNC/HEAD state; it only moves
// forward.
type IndexerState int

const (
	StateSync IndexerState = iota
	StateHead
)

func (s IndexerState) String() string {
	if s == StateHead {
		return "HEAD"
	}

	return "SYNC"
}

// StateSnapshot is the small, atomically-published view the assembler
// exposes to the reader in place of a back-reference (design note:
// "one-way channel from reader to assembler").
type StateSnapshot struct {
	State            IndexerState
	LastOrderedBlock uint32
}

// LastIndexedBlock is what getLastIndexedBlock() returns to resume a
// session after restart.
type LastIndexedBlock struct {
	BlockNum     uint32
	EVMBlockHash string
	Timestamp    time.Time
}

// SinkMeta is the meta object accompanying indexBlock(), per the
// downstream sink's external interface.
type SinkMeta struct {
	Timestamp      time.Time
	GlobalBlockNum uint32
	EVMBlockHash   string
}
