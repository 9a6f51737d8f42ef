// Package sink defines the downstream document-store contract the
// assembler writes assembled blocks to (spec §4.9, §6): the real
// production document-store client is out of scope (spec §1) and
// plugs in behind this interface. Two local backends
// (sink/boltsink, sink/leveldbsink) are provided for development and
// for resuming a session without a real store attached.
package sink

import (
	"github.com/chainforge/evmship/shiptypes"
)

// ConsumerSink is assumed idempotent on blockNum: the core guarantees
// monotonic increase of the numbers it writes but not exactly-once
// delivery, since a reconnect may resend the last unconfirmed block
// before the sink had a chance to persist it.
type ConsumerSink interface {
	Init() error
	Close() error

	// GetLastIndexedBlock returns nil, nil if the sink has never
	// indexed a block.
	GetLastIndexedBlock() (*shiptypes.LastIndexedBlock, error)
	IndexBlock(blockNum uint32, actions []shiptypes.ActionRecord, meta shiptypes.SinkMeta) error

	IndexState(state shiptypes.IndexerState) error
	GetIndexerState() (shiptypes.IndexerState, error)
}
