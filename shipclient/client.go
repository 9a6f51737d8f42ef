package shipclient

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"

	"github.com/chainforge/evmship/actionhash"
	"github.com/chainforge/evmship/assembler"
	"github.com/chainforge/evmship/codec"
	"github.com/chainforge/evmship/common"
	"github.com/chainforge/evmship/decodepool"
	"github.com/chainforge/evmship/extract"
	"github.com/chainforge/evmship/orderedqueue"
	"github.com/chainforge/evmship/shiptypes"
)

// dialRetryCount bounds the quick retries connect() makes against a
// single endpoint before handing the failure up to Run's outer
// reconnect-delay loop.
const dialRetryCount = 3

// maxFrameBytes is the accepted frame size cap (spec §4.6 CONNECTING:
// "accept very large frames").
const maxFrameBytes = 512 * 1024 * 1024

// ErrMissingPayload is fatal to a session: a fetch flag was set but
// the node's response omitted that payload and the corresponding
// allow-empty config flag is false (spec §4.6 "missing-data policy").
var ErrMissingPayload = errors.New("shipclient: requested payload missing from result")

type queueResult struct {
	Decoded shiptypes.DecodedBlock
	SigMap  shiptypes.SignatureMap
}

// Client drives one State-History session at a time, reconnecting
// with a fixed backoff whenever the session ends in error (spec §4.6
// "Disconnect").
type Client struct {
	cfg    Config
	runner *assembler.Runner
	hasher actionhash.Hasher
	logger hclog.Logger

	isClosed uint32
	closeCh  chan struct{}

	// lastSchemaFingerprint is the blake2b-256 digest of the previous
	// session's raw ABI bytes; an unexpected change across a reconnect
	// means the node's wire schema drifted mid-deployment (supplemented
	// feature, not in spec §4.6 — see SPEC_FULL.md §3).
	lastSchemaFingerprint [32]byte
	hasSchemaFingerprint  bool
}

func New(cfg Config, runner *assembler.Runner, hasher actionhash.Hasher, logger hclog.Logger) *Client {
	return &Client{cfg: cfg, runner: runner, hasher: hasher, logger: logger, closeCh: make(chan struct{})}
}

// Close stops Run at the next opportunity; in-flight session work is
// abandoned, per spec §5's cancellation model.
func (cl *Client) Close() {
	if atomic.CompareAndSwapUint32(&cl.isClosed, 0, 1) {
		close(cl.closeCh)
	}
}

// Run drives reconnect/session cycles until ctx is cancelled or Close
// is called. A session error is logged and retried after
// ReconnectDelay (spec §4.6 "Disconnect").
func (cl *Client) Run(ctx context.Context, initial shiptypes.BlockRequest) error {
	for {
		if done, err := cl.waitOrDone(ctx, 0); done {
			return err
		}

		br := initial
		if snap := cl.runner.Snapshot(); snap.LastOrderedBlock+1 > br.StartBlockNum {
			br.StartBlockNum = snap.LastOrderedBlock + 1
		}

		if err := cl.session(ctx, br); err != nil {
			cl.logger.Error("shipclient: session ended", "err", err)
		}

		if done, err := cl.waitOrDone(ctx, cl.cfg.ReconnectDelay); done {
			return err
		}
	}
}

func (cl *Client) waitOrDone(ctx context.Context, delay time.Duration) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-cl.closeCh:
		return true, nil
	case <-time.After(delay):
		return false, nil
	}
}

func (cl *Client) session(ctx context.Context, br shiptypes.BlockRequest) error {
	conn, err := cl.connect(ctx)
	if err != nil {
		return fmt.Errorf("shipclient: connecting: %w", err)
	}
	defer conn.Close() //nolint:errcheck

	c, err := cl.awaitABI(conn, br)
	if err != nil {
		return fmt.Errorf("shipclient: awaiting ABI: %w", err)
	}

	pool := decodepool.New(c, cl.cfg.DecodeThreads, cl.logger)
	defer pool.Close()

	queue := orderedqueue.New[queueResult](cl.cfg.QueueConcurrency, cl.logger)

	drainDone := make(chan error, 1)
	go cl.drainQueue(ctx, queue, drainDone)

	err = cl.streamLoop(ctx, conn, c, pool, queue, br)

	// streamLoop has returned, so nothing will Enqueue onto queue again.
	// Close waits for any still-running decode tasks and then closes
	// Results(), so drainQueue's select observes the close instead of
	// blocking forever — which it otherwise would whenever the session
	// ends with nothing left to drain (every HEAD-state block bypasses
	// the queue entirely, and a clean SYNC-state disconnect leaves no
	// failed task to unblock it either).
	if closeErr := queue.Close(ctx); closeErr != nil && err == nil {
		err = closeErr
	}

	if drainErr := <-drainDone; drainErr != nil && err == nil {
		err = drainErr
	}

	return err
}

// connect implements spec §4.6 CONNECTING. A handful of quick retries
// absorb a momentary refusal (the node restarting, a load balancer
// between hops) without falling all the way back to Run's
// ReconnectDelay.
func (cl *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{EnableCompression: false}

	conn, err := common.ExecuteWithRetry(ctx, func(context.Context) (*websocket.Conn, error) {
		conn, _, err := dialer.Dial(cl.cfg.URL, nil)

		return conn, err
	},
		common.WithRetryCount(dialRetryCount),
		common.WithRetryWaitTime(time.Second),
		common.WithIsRetryableError(func(error) bool { return true }),
		common.WithLogger(cl.logger),
	)
	if err != nil {
		return nil, err
	}

	conn.SetReadLimit(maxFrameBytes)

	return conn, nil
}

// awaitABI implements spec §4.6 AWAITING_ABI: the first frame is the
// node's schema; load it, then send the initial request.
func (cl *Client) awaitABI(conn *websocket.Conn, br shiptypes.BlockRequest) (*codec.Codec, error) {
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading schema frame: %w", err)
	}

	cl.checkSchemaFingerprint(raw)

	schema, err := codec.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}

	c := codec.New(schema)

	if err := sendRequest(conn, c, br); err != nil {
		return nil, fmt.Errorf("sending initial block request: %w", err)
	}

	return c, nil
}

// checkSchemaFingerprint logs when the ABI bytes received on this
// session differ from the previous session's (a reconnect, since a
// first-ever connect has nothing to compare against). Fingerprint
// mismatches are not fatal: the Codec is rebuilt from whatever schema
// the node just sent regardless.
func (cl *Client) checkSchemaFingerprint(raw []byte) {
	digest := blake2b.Sum256(raw)

	if cl.hasSchemaFingerprint && digest != cl.lastSchemaFingerprint {
		cl.logger.Warn("shipclient: ABI schema fingerprint changed since last session",
			"previous", hex.EncodeToString(cl.lastSchemaFingerprint[:]),
			"current", hex.EncodeToString(digest[:]))
	}

	cl.lastSchemaFingerprint = digest
	cl.hasSchemaFingerprint = true
}

// streamLoop implements spec §4.6 STREAMING.
func (cl *Client) streamLoop(
	ctx context.Context, conn *websocket.Conn, c *codec.Codec, pool *decodepool.Pool,
	queue *orderedqueue.Queue[queueResult], br shiptypes.BlockRequest,
) error {
	unconfirmed := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cl.closeCh:
			return nil
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading result frame: %w", err)
		}

		val, err := c.Decode("result", raw, codec.ModeCheckLength)
		if err != nil {
			return fmt.Errorf("decoding result frame: %w", err)
		}

		variant, ok := val.(codec.Variant)
		if !ok {
			return fmt.Errorf("shipclient: result frame decoded to %T, want Variant", val)
		}

		resultVersion, err := codec.ResultVersion(variant.Type)
		if err != nil {
			return err
		}

		resultMap, ok := asMap(variant.Value)
		if !ok {
			return fmt.Errorf("shipclient: %s decoded to %T, want struct", variant.Type, variant.Value)
		}

		env := parseResult(resultMap)

		if !env.ThisBlock.IsZero() {
			if err := cl.scheduleDecode(ctx, c, pool, queue, resultVersion, env, br); err != nil {
				return err
			}

			unconfirmed++

			if unconfirmed >= cl.cfg.MinBlockConfirmation {
				if err := sendAck(conn, c, unconfirmed); err != nil {
					return fmt.Errorf("sending ack: %w", err)
				}

				unconfirmed = 0
			}
		} else {
			cl.logger.Debug("shipclient: result with no this_block (caught up or pre-snapshot)")
		}
	}
}

func (cl *Client) scheduleDecode(
	ctx context.Context, c *codec.Codec, pool *decodepool.Pool, queue *orderedqueue.Queue[queueResult],
	resultVersion int, env envelope, br shiptypes.BlockRequest,
) error {
	if err := cl.checkMissingData(env, br); err != nil {
		return err
	}

	task := func(taskCtx context.Context) (queueResult, error) {
		return cl.decodeBlock(taskCtx, c, pool, resultVersion, env)
	}

	if cl.runner.Snapshot().State == shiptypes.StateHead {
		result, err := task(ctx)
		if err != nil {
			return err
		}

		cl.runner.Submit(result.Decoded, result.SigMap)

		return nil
	}

	if err := queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("enqueueing block %d: %w", env.ThisBlock.BlockNum, err)
	}

	return nil
}

// checkMissingData implements spec §4.6's missing-data policy: a
// requested-but-absent payload is a warning under the matching
// allow-empty flag, otherwise session-fatal.
func (cl *Client) checkMissingData(env envelope, br shiptypes.BlockRequest) error {
	checks := []struct {
		requested bool
		have      bool
		allow     bool
		name      string
	}{
		{br.FetchBlock, env.HaveBlock, cl.cfg.AllowEmptyBlock, "block"},
		{br.FetchTraces, env.HaveTraces, cl.cfg.AllowEmptyTraces, "traces"},
		{br.FetchDeltas, env.HaveDeltas, cl.cfg.AllowEmptyDeltas, "deltas"},
	}

	for _, chk := range checks {
		if !chk.requested || chk.have {
			continue
		}

		if chk.allow {
			cl.logger.Warn("shipclient: requested payload missing from result", "payload", chk.name, "block", env.ThisBlock)

			continue
		}

		return fmt.Errorf("%w: %s (block %d)", ErrMissingPayload, chk.name, env.ThisBlock.BlockNum)
	}

	return nil
}

// decodeBlock runs the three parallel decodes (spec §4.6 step 2),
// mines signatures, and assembles the DecodedBlock/SignatureMap the
// assembler consumes.
func (cl *Client) decodeBlock(
	ctx context.Context, c *codec.Codec, pool *decodepool.Pool, resultVersion int, env envelope,
) (queueResult, error) {
	var (
		blockBody map[string]any
		traces    []shiptypes.ActionTrace
		deltas    []shiptypes.TableDelta
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if len(env.Block) == 0 {
			return nil
		}

		typeName := codec.BlockBodyTypeName(resultVersion)

		val, err := pool.Decode(groupCtx, decodepool.Item{Type: typeName, Data: env.Block, Mode: codec.ModeCheckLength})
		if err != nil {
			return fmt.Errorf("decoding block body: %w", err)
		}

		blockBody, err = codec.ResolveBlockBody(typeName, val)

		return err
	})

	group.Go(func() error {
		if len(env.Traces) == 0 {
			return nil
		}

		val, err := pool.Decode(groupCtx, decodepool.Item{
			Type: "transaction_trace[]", Data: env.Traces, Mode: codec.ModeCheckLength,
		})
		if err != nil {
			return fmt.Errorf("decoding traces: %w", err)
		}

		rawTraces, ok := val.([]any)
		if !ok {
			return fmt.Errorf("shipclient: traces decoded to %T, want []any", val)
		}

		traces, err = extract.Traces(rawTraces)

		return err
	})

	group.Go(func() error {
		if len(env.Deltas) == 0 {
			return nil
		}

		val, err := pool.Decode(groupCtx, decodepool.Item{
			Type: "table_delta[]", Data: env.Deltas, Mode: codec.ModeCheckLength,
		})
		if err != nil {
			return fmt.Errorf("decoding deltas: %w", err)
		}

		rawDeltas, ok := val.([]any)
		if !ok {
			return fmt.Errorf("shipclient: deltas decoded to %T, want []any", val)
		}

		deltas, err = buildTableDeltas(c, rawDeltas)

		return err
	})

	if err := group.Wait(); err != nil {
		return queueResult{}, err
	}

	transactions, _ := blockBody["transactions"].([]any)

	sigMap := shiptypes.SignatureMap{}
	if transactions != nil {
		sigMap = mineSignatures(c, cl.hasher, transactions)
	}

	decoded := shiptypes.DecodedBlock{
		Envelope: shiptypes.BlockEnvelope{
			ThisBlock:        env.ThisBlock,
			Head:             env.Head,
			LastIrreversible: env.LastIrreversible,
			BlockBytes:       env.Block,
			TracesBytes:      env.Traces,
			DeltasBytes:      env.Deltas,
		},
		Block:        blockBody,
		Transactions: transactions,
		Traces:       traces,
		Deltas:       deltas,
	}

	return queueResult{Decoded: decoded, SigMap: sigMap}, nil
}

// drainQueue forwards every in-order completion to the assembler
// runner, stopping (and reporting) on the first failed task — the
// queue has already paused itself by that point (spec §4.5, §7). It
// also stops on ctx cancellation and on the queue's Results() channel
// closing (session() closes it once streamLoop has returned and every
// in-flight task has finished), rather than ranging forever over a
// channel nothing may ever close or send to again.
func (cl *Client) drainQueue(ctx context.Context, queue *orderedqueue.Queue[queueResult], done chan<- error) {
	for {
		select {
		case <-ctx.Done():
			done <- ctx.Err()

			return
		case item, ok := <-queue.Results():
			if !ok {
				done <- nil

				return
			}

			if item.Err != nil {
				done <- item.Err

				return
			}

			cl.runner.Submit(item.Value.Decoded, item.Value.SigMap)
		}
	}
}
