// Package decodepool parallelises CPU-bound binary decoding of large
// opaque byte arrays (spec §4.4) across a fixed-size pool, behind the
// same opaque execute(batch) -> result contract regardless of
// implementation (spec §9): here, a capacity-bounded semaphore over
// goroutines rather than separate worker processes, since decoding is
// pure and shares no mutable state.
package decodepool

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/chainforge/evmship/codec"
)

// ErrClosed is returned by any call made after Close; the pool must
// be torn down on reconnect before a new one is created for the next
// session's schema (spec §4.4, §4.6).
var ErrClosed = errors.New("decodepool: pool is closed")

// Item is one opaque decode job.
type Item struct {
	Type string
	Data []byte
	Mode codec.Mode
}

// Result is what a decode job resolves to: exactly one of Value or
// Err is set, mirroring the wire contract's {success, data|message}.
type Result struct {
	Value any
	Err   error
}

// Pool decodes Items against a single, fixed Codec/schema. A pool
// with threads == 0 falls through to fully inline decoding on the
// calling goroutine (spec §4.4).
type Pool struct {
	codec   *codec.Codec
	threads int
	sem     *semaphore.Weighted
	logger  hclog.Logger
	closed  bool
}

func New(c *codec.Codec, threads int, logger hclog.Logger) *Pool {
	p := &Pool{
		codec:   c,
		threads: threads,
		logger:  logger,
	}

	if threads > 0 {
		p.sem = semaphore.NewWeighted(int64(threads))
	}

	return p
}

// Close marks the pool unusable. It does not wait for in-flight
// decodes: callers let their Decode/DecodeBatch calls return before
// calling Close, and inline (threads == 0) decodes never outlive their
// call.
func (p *Pool) Close() {
	p.closed = true
}

// Decode runs a single decode job, acquiring a pool slot if the pool
// is not running inline.
func (p *Pool) Decode(ctx context.Context, item Item) (any, error) {
	if p.closed {
		return nil, ErrClosed
	}

	if p.threads == 0 {
		return p.decodeOne(item)
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("decodepool: acquiring slot: %w", err)
	}
	defer p.sem.Release(1)

	return p.decodeOne(item)
}

// DecodeBatch decodes every item, each carrying its own result so a
// single failure does not lose the rest of the batch (the caller
// decides whether any failure is fatal).
func (p *Pool) DecodeBatch(ctx context.Context, items []Item) ([]Result, error) {
	if p.closed {
		return nil, ErrClosed
	}

	results := make([]Result, len(items))

	if p.threads == 0 {
		for i, item := range items {
			v, err := p.decodeOne(item)
			results[i] = Result{Value: v, Err: err}
		}

		return results, nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.threads)

	for i, item := range items {
		i, item := i, item

		group.Go(func() error {
			v, err := p.decodeWithContext(groupCtx, item)
			results[i] = Result{Value: v, Err: err}

			return nil // per-item errors surface via Result, not the group
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func (p *Pool) decodeWithContext(ctx context.Context, item Item) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	return p.decodeOne(item)
}

func (p *Pool) decodeOne(item Item) (any, error) {
	v, err := p.codec.Decode(item.Type, item.Data, item.Mode)
	if err != nil {
		p.logger.Error("decode failed", "type", item.Type, "err", err)

		return nil, err
	}

	return v, nil
}
