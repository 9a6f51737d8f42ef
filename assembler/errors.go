package assembler

import "errors"

// Sentinel fatal errors raised by ProcessBlock (spec §7). Callers
// classify with errors.Is; none of these are retried within the same
// session — the ShipClient reconnect path resumes from lastAccepted+1
// instead.
var (
	// ErrGap is raised when this_block.block_num skips ahead of
	// lastAccepted+1.
	ErrGap = errors.New("assembler: gap in block sequence")

	// ErrFork is raised when this_block.block_num is re-observed or
	// recedes relative to lastAccepted; rollback handling is an open
	// question this implementation declares fatal instead of
	// inferring silent rewind semantics (spec §9).
	ErrFork = errors.New("assembler: fork or rollback detected")
)
