// Package boltsink is a bbolt-backed ConsumerSink, grounded on the
// teacher's indexer/db/bbolt backend: one bucket per concern, CBOR
// records rather than JSON since the action records carry an opaque
// EVMTx payload that a real document-store client would otherwise
// need a registered concrete type for.
package boltsink

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"

	"github.com/chainforge/evmship/shiptypes"
	"github.com/chainforge/evmship/sink"
)

var (
	lastIndexedBucket = []byte("LastIndexedBlock")
	stateBucket       = []byte("IndexerState")
	blocksBucket      = []byte("IndexedBlocks")

	defaultKey = []byte("default")
)

type record struct {
	NativeBlockHash   string
	NativeBlockNumber uint32
	EVMBlockHash      string
	BlockTimestamp    int64
	ActionCount       int
}

// Sink is a ConsumerSink backed by a bbolt file.
type Sink struct {
	db *bbolt.DB
}

var _ sink.ConsumerSink = (*Sink)(nil)

// New opens (creating if necessary) the bbolt file at path.
func New(path string) (*Sink, error) {
	s := &Sink{}

	if err := s.openAt(path); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Sink) openAt(path string) error {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return fmt.Errorf("boltsink: could not open db: %w", err)
	}

	s.db = db

	return nil
}

func (s *Sink) Init() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{lastIndexedBucket, stateBucket, blocksBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("boltsink: creating bucket %s: %w", bucket, err)
			}
		}

		return nil
	})
}

func (s *Sink) Close() error {
	return s.db.Close()
}

func (s *Sink) GetLastIndexedBlock() (*shiptypes.LastIndexedBlock, error) {
	var result *shiptypes.LastIndexedBlock

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(lastIndexedBucket).Get(defaultKey)
		if len(data) == 0 {
			return nil
		}

		return cbor.Unmarshal(data, &result)
	})

	return result, err
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
		return fmt.Errorf("boltsink: marshalling block %d: %w", blockNum, err)
	}

	last := shiptypes.LastIndexedBlock{
		BlockNum:     blockNum,
		EVMBlockHash: meta.EVMBlockHash,
		Timestamp:    meta.Timestamp,
	}

	lastData, err := cbor.Marshal(last)
	if err != nil {
		return fmt.Errorf("boltsink: marshalling last-indexed marker for block %d: %w", blockNum, err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(blocksBucket).Put(blockKey(blockNum), data); err != nil {
			return fmt.Errorf("boltsink: writing block %d: %w", blockNum, err)
		}

		return tx.Bucket(lastIndexedBucket).Put(defaultKey, lastData)
	})
}

func (s *Sink) IndexState(state shiptypes.IndexerState) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(stateBucket).Put(defaultKey, []byte{byte(state)})
	})
}

func (s *Sink) GetIndexerState() (shiptypes.IndexerState, error) {
	var state shiptypes.IndexerState

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(stateBucket).Get(defaultKey)
		if len(data) == 0 {
			return nil
		}

		if len(data) != 1 {
			return errors.New("boltsink: corrupt indexer state record")
		}

		state = shiptypes.IndexerState(data[0])

		return nil
	})

	return state, err
}

func blockKey(blockNum uint32) []byte {
	return fmt.Appendf(nil, "%012d", blockNum)
}
