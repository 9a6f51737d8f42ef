// Package leveldbsink is a goleveldb-backed ConsumerSink, the second
// of the two interchangeable local backends (grounded on the
// teacher's indexer/db/leveldb), behind the same sink.ConsumerSink
// interface as sink/boltsink.
package leveldbsink

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/chainforge/evmship/shiptypes"
	"github.com/chainforge/evmship/sink"
)

var (
	lastIndexedKey = []byte("P1_last_indexed")
	stateKey       = []byte("P2_state")
	blockKeyPrefix = []byte("P3_block_")
)

type record struct {
	NativeBlockNumber uint32
	EVMBlockHash      string
	BlockTimestamp    int64
	ActionCount       int
}

// Sink is a ConsumerSink backed by a goleveldb file.
type Sink struct {
	db *leveldb.DB
}

var _ sink.ConsumerSink = (*Sink)(nil)

func New(path string) (*Sink, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("leveldbsink: could not open db: %w", err)
	}

	return &Sink{db: db}, nil
}

func (s *Sink) Init() error {
	return nil // goleveldb has no bucket concept to pre-create
}

func (s *Sink) Close() error {
	return s.db.Close()
}

func (s *Sink) GetLastIndexedBlock() (*shiptypes.LastIndexedBlock, error) {
	data, err := s.db.Get(lastIndexedKey, nil)
	if err != nil {
		return nil, processNotFoundErr(err)
	}

	var result shiptypes.LastIndexedBlock
	if err := cbor.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("leveldbsink: unmarshalling last-indexed marker: %w", err)
	}

	return &result, nil
}

func (s *Sink) IndexBlock(blockNum uint32, actions []shiptypes.ActionRecord, meta shiptypes.SinkMeta) error {
	rec := record{
		NativeBlockNumber: blockNum,
		EVMBlockHash:      meta.EVMBlockHash,
		BlockTimestamp:    meta.Timestamp.Unix(),
		ActionCount:       len(actions),
	}

	data, err := cbor.Marshal(rec)
	if err != nil {
		return fmt.Errorf("leveldbsink: marshalling block %d: %w", blockNum, err)
	}

	last := shiptypes.LastIndexedBlock{
		BlockNum:     blockNum,
		EVMBlockHash: meta.EVMBlockHash,
		Timestamp:    meta.Timestamp,
	}

	lastData, err := cbor.Marshal(last)
	if err != nil {
		return fmt.Errorf("leveldbsink: marshalling last-indexed marker for block %d: %w", blockNum, err)
	}

	batch := new(leveldb.Batch)
	batch.Put(blockKey(blockNum), data)
	batch.Put(lastIndexedKey, lastData)

	return s.db.Write(batch, nil)
}

func (s *Sink) IndexState(state shiptypes.IndexerState) error {
	return s.db.Put(stateKey, []byte{byte(state)}, nil)
}

func (s *Sink) GetIndexerState() (shiptypes.IndexerState, error) {
	data, err := s.db.Get(stateKey, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return shiptypes.StateSync, nil
		}

		return 0, err
	}

	if len(data) != 1 {
		return 0, errors.New("leveldbsink: corrupt indexer state record")
	}

	return shiptypes.IndexerState(data[0]), nil
}

func blockKey(blockNum uint32) []byte {
	return fmt.Appendf(append([]byte{}, blockKeyPrefix...), "%012d", blockNum)
}

func processNotFoundErr(err error) error {
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil
	}

	return err
}
