package assembler

import (
	"context"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"

	"github.com/chainforge/evmship/shiptypes"
)

// RunnerConfig sizes the Runner's queue; the queue is the one-way
// channel from reader to assembler design note §9 calls for, so the
// ShipClient never blocks waiting on assembler internals directly.
type RunnerConfig struct {
	QueueChannelSize int
}

type queueItem struct {
	Decoded shiptypes.DecodedBlock
	SigMap  shiptypes.SignatureMap
}

// Runner drives a single Assembler from exactly one goroutine,
// receiving decoded blocks off queueCh in submission order and
// surfacing the first fatal error (ErrGap, ErrFork, a non-debug-mode
// TxDeserializationError, or a sink error) on ErrorCh. It does not
// retry: the spec treats every ProcessBlock error as session-fatal
// (§7), unlike the teacher's runner, which retries non-fatal errors
// with a delay — there is no analogous "non-fatal, retry" error class
// here.
type Runner struct {
	assembler *Assembler
	logger    hclog.Logger

	isClosed uint32
	errorCh  chan error
	closeCh  chan struct{}
	queueCh  chan queueItem
}

func NewRunner(assembler *Assembler, config RunnerConfig, logger hclog.Logger) *Runner {
	return &Runner{
		assembler: assembler,
		logger:    logger,
		errorCh:   make(chan error, 1),
		closeCh:   make(chan struct{}),
		queueCh:   make(chan queueItem, config.QueueChannelSize),
	}
}

// ErrorCh surfaces the first fatal error the loop encountered. The
// caller should Close and exit on a receive.
func (r *Runner) ErrorCh() <-chan error {
	return r.errorCh
}

// Snapshot exposes the driven Assembler's state for the reader to
// decide SYNC (OrderedQueue) vs HEAD (immediate) scheduling (spec
// §4.6 step 3) without holding a direct reference to the Assembler.
func (r *Runner) Snapshot() shiptypes.StateSnapshot {
	return r.assembler.Snapshot()
}

// Submit enqueues a decoded block for processing, blocking only if
// the queue is full. It returns immediately if the runner has been
// closed.
func (r *Runner) Submit(decoded shiptypes.DecodedBlock, sigMap shiptypes.SignatureMap) {
	select {
	case r.queueCh <- queueItem{Decoded: decoded, SigMap: sigMap}:
	case <-r.closeCh:
	}
}

// Start launches the processing loop in its own goroutine.
func (r *Runner) Start(ctx context.Context) {
	go r.loop(ctx)
}

func (r *Runner) loop(ctx context.Context) {
	r.logger.Info("assembler runner started")

	defer r.logger.Info("assembler runner stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.closeCh:
			return
		case item := <-r.queueCh:
			if err := r.assembler.ProcessBlock(ctx, item.Decoded, item.SigMap); err != nil {
				r.logger.Error("assembler runner: fatal error processing block",
					"block", item.Decoded.Envelope.ThisBlock, "err", err)

				select {
				case r.errorCh <- err:
				default:
				}

				return
			}
		}
	}
}

// Close stops the loop; Submit becomes a no-op after this returns.
func (r *Runner) Close() {
	if atomic.CompareAndSwapUint32(&r.isClosed, 0, 1) {
		close(r.closeCh)
	}
}
