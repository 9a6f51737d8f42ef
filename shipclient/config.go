// Package shipclient implements the State-History streaming client
// (spec §4.6): a websocket session state machine that loads the
// node's schema, streams get_blocks_result frames, mines signatures,
// and hands each decoded block to the assembler either via the
// OrderedQueue (SYNC) or immediately (HEAD).
package shipclient

import (
	"math"
	"time"
)

// Config is the reader's session configuration. Most fields mirror
// the config.Config fields the caller threads through at wiring time;
// this package has no dependency on the config package itself so it
// stays testable in isolation.
type Config struct {
	URL string

	StartBlock           uint32
	StopBlock            uint32
	MaxMessagesInFlight  int
	MinBlockConfirmation int

	DecodeThreads    int
	QueueConcurrency int

	ReconnectDelay time.Duration

	// AllowEmptyBlock/Traces/Deltas downgrade a missing requested
	// payload from session-fatal to a warning (spec §4.6 "missing-data
	// policy").
	AllowEmptyBlock  bool
	AllowEmptyTraces bool
	AllowEmptyDeltas bool

	Debug bool
}

// DefaultConfig fills in the same defaults config.Default uses for
// the reader-owned fields.
func DefaultConfig() Config {
	return Config{
		StopBlock:            math.MaxUint32,
		MaxMessagesInFlight:  50,
		MinBlockConfirmation: 1,
		DecodeThreads:        4,
		QueueConcurrency:     8,
		ReconnectDelay:       5 * time.Second,
	}
}
