package link

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-esplink/internal/pool"
	"github.com/arloliu/go-esplink/internal/queue"
	"github.com/arloliu/go-esplink/logger"
	"github.com/arloliu/go-esplink/transport"
)

// Transport is the line-oriented connection driven by the dispatcher worker.
// *transport.Transport implements it.
type Transport interface {
	Connect(ctx context.Context) error
	SendLine(text string) error
	ReadLine() (string, error)
	Close() error
	State() transport.State
}

var _ Transport = (*transport.Transport)(nil)

// Dispatcher serializes commands onto a Transport.
//
// Submit and its variants are safe for concurrent use. The transport is only
// touched by the worker goroutine started in Open, and by Close.
type Dispatcher struct {
	tr      Transport
	opts    *options
	logger  logger.Logger
	metrics Metrics

	ctx    context.Context //nolint:containedctx
	cancel context.CancelFunc

	mu      sync.Mutex
	pending queue.Queue[*Command]
	notify  chan struct{}

	// outstanding holds every submitted command that is not yet resolved.
	outstanding *xsync.MapOf[uuid.UUID, *Command]
	current     atomic.Pointer[Command]
	phase       atomic.Uint32

	opened    atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Dispatcher for tr. The worker does not run until Open is
// called; commands submitted earlier wait in the queue.
func New(tr Transport, opts ...Option) (*Dispatcher, error) {
	if tr == nil {
		return nil, ErrTransportNil
	}

	o := defaultOptions()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(o); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		tr:          tr,
		opts:        o,
		logger:      o.logger,
		ctx:         ctx,
		cancel:      cancel,
		pending:     queue.NewSliceQueue[*Command](16),
		notify:      make(chan struct{}, 1),
		outstanding: xsync.NewMapOf[uuid.UUID, *Command](),
	}

	return d, nil
}

// Open starts the worker.
//
// If waitConnected is true, Open connects the transport first and returns
// once it is connected, ctx is done, or the connect attempt limit is
// exhausted. Otherwise the worker connects before the first command.
// Calling Open on an open dispatcher is a no-op.
func (d *Dispatcher) Open(ctx context.Context, waitConnected bool) error {
	if d.closed.Load() {
		return ErrLinkClosed
	}
	if !d.opened.CompareAndSwap(false, true) {
		return nil
	}

	if waitConnected && d.tr.State() != transport.Connected {
		connCtx, stop := mergeCancel(ctx, d.ctx)
		err := d.connect(connCtx, false)
		stop()

		if err != nil {
			d.opened.Store(false)
			return err
		}
	}

	d.wg.Add(1)
	go d.run()

	d.logger.Debug("dispatcher opened", "settleDelay", d.opts.settleDelay, "queueSize", d.opts.queueSize)

	return nil
}

// Close stops the worker, closes the transport and fails every outstanding
// command with ErrLinkClosed. A reconnect in progress is cancelled.
// Close is idempotent.
func (d *Dispatcher) Close() error {
	var err error

	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed.Store(true)
		queued := d.pending.Drain()
		d.mu.Unlock()

		d.cancel()

		// outstanding commands fail with ErrLinkClosed, not with the I/O error of the teardown
		for _, cmd := range queued {
			d.failClosed(cmd)
		}
		d.outstanding.Range(func(_ uuid.UUID, cmd *Command) bool {
			d.failClosed(cmd)
			return true
		})

		err = d.tr.Close()

		d.wg.Wait()
		d.outstanding.Clear()
		d.setPhase(PhaseIdle)

		d.logger.Info("dispatcher closed", "failedQueued", len(queued))
	})

	return err
}

// IsClosed reports whether Close has been called.
func (d *Dispatcher) IsClosed() bool { return d.closed.Load() }

// Phase returns the current worker phase.
func (d *Dispatcher) Phase() Phase { return Phase(d.phase.Load()) }

// Outstanding returns the number of submitted commands not yet resolved.
func (d *Dispatcher) Outstanding() int { return d.outstanding.Size() }

// Metrics returns the dispatcher metrics.
func (d *Dispatcher) Metrics() *Metrics { return &d.metrics }

// SubmitAsync enqueues text and returns a handle to its result.
//
// If ctx is done before the worker takes the command, the command is never
// sent and resolves with ctx.Err().
func (d *Dispatcher) SubmitAsync(ctx context.Context, text string, expectsReply bool) (*Future, error) {
	if err := validateText(text); err != nil {
		return nil, err
	}

	cmd := newCommand(ctx, text, expectsReply)

	d.mu.Lock()
	if d.closed.Load() {
		d.mu.Unlock()
		return nil, ErrLinkClosed
	}
	if d.opts.queueSize > 0 && d.pending.Length() >= d.opts.queueSize {
		d.mu.Unlock()
		d.metrics.incRejectCount()

		return nil, ErrQueueFull
	}
	d.outstanding.Store(cmd.id, cmd)
	d.pending.Enqueue(cmd)
	d.mu.Unlock()

	d.metrics.incSubmitCount()

	select {
	case d.notify <- struct{}{}:
	default:
	}

	return &Future{cmd: cmd}, nil
}

// Submit enqueues text and blocks until it is resolved or ctx is done.
// For commands without a reply the response is empty.
func (d *Dispatcher) Submit(ctx context.Context, text string, expectsReply bool) (string, error) {
	f, err := d.SubmitAsync(ctx, text, expectsReply)
	if err != nil {
		return "", err
	}

	return f.Wait(ctx)
}

// SubmitCommand sends text without reading a reply.
func (d *Dispatcher) SubmitCommand(ctx context.Context, text string) error {
	_, err := d.Submit(ctx, text, false)
	return err
}

// SubmitQuery sends text and returns the reply line.
func (d *Dispatcher) SubmitQuery(ctx context.Context, text string) (string, error) {
	return d.Submit(ctx, text, true)
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		cmd, ok := d.next()
		if !ok {
			return
		}

		d.current.Store(cmd)
		d.process(cmd)
		d.current.Store(nil)
	}
}

// next blocks until a command is queued or the dispatcher is closed.
func (d *Dispatcher) next() (*Command, bool) {
	for {
		d.mu.Lock()
		cmd, ok := d.pending.Dequeue()
		d.mu.Unlock()

		if ok {
			return cmd, true
		}

		select {
		case <-d.notify:
		case <-d.ctx.Done():
			return nil, false
		}
	}
}

func (d *Dispatcher) process(cmd *Command) {
	if cmd.isResolved() || d.skipAbandoned(cmd) {
		return
	}

	if d.tr.State() != transport.Connected {
		if err := d.connect(d.ctx, false); err != nil {
			d.fail(cmd, PhaseRecovering, DeliveryNone, err)
			return
		}
		// connecting may take a while
		if d.skipAbandoned(cmd) {
			return
		}
	}

	d.metrics.incInflight()
	defer d.metrics.decInflight()

	cmd.markWriting()
	d.setPhase(PhaseSending)
	if err := d.tr.SendLine(cmd.text); err != nil {
		d.fail(cmd, PhaseSending, deliveryOf(err), err)
		d.reconnectAfterFault(err)

		return
	}
	cmd.markWritten()
	d.metrics.incSendCount()

	if err := pool.Sleep(d.ctx, d.opts.settleDelay); err != nil {
		d.fail(cmd, PhaseSending, DeliveryComplete, ErrLinkClosed)
		return
	}

	if !cmd.expectsReply {
		d.succeed(cmd, "")
		return
	}

	d.setPhase(PhaseAwaitingReply)
	resp, err := d.tr.ReadLine()
	if err != nil {
		d.fail(cmd, PhaseAwaitingReply, DeliveryComplete, err)
		d.reconnectAfterFault(err)

		return
	}

	d.succeed(cmd, resp)
}

// skipAbandoned resolves cmd with its context error if the submitter gave up.
func (d *Dispatcher) skipAbandoned(cmd *Command) bool {
	err := cmd.ctx.Err()
	if err == nil {
		return false
	}

	d.resolve(cmd, "", err, func() {
		d.metrics.incSkipCount()
		d.logger.Debug("command abandoned before transmission", "id", cmd.id, "command", cmd.text, "error", err)
	})

	return true
}

// reconnectAfterFault reconnects exactly once after a transport fault. An empty
// response never reconnects here: a blank line leaves the connection usable,
// and a closed stream leaves the transport Faulted so the next command
// connects first.
func (d *Dispatcher) reconnectAfterFault(cause error) {
	if d.closed.Load() || errors.Is(cause, transport.ErrEmptyResponse) {
		d.setPhase(PhaseIdle)
		return
	}

	if err := d.connect(d.ctx, true); err != nil {
		d.logger.Warn("reconnect after fault failed", "cause", cause, "error", err)
	}
}

func (d *Dispatcher) connect(ctx context.Context, afterFault bool) error {
	d.setPhase(PhaseRecovering)
	defer d.setPhase(PhaseIdle)

	d.metrics.incConnectCount()
	if afterFault {
		d.metrics.incReconnectCount()
	}

	err := d.tr.Connect(ctx)
	if err == nil {
		return nil
	}
	if d.closed.Load() || errors.Is(err, transport.ErrTransportClosed) {
		return ErrLinkClosed
	}

	return err
}

func (d *Dispatcher) succeed(cmd *Command, resp string) {
	d.setPhase(PhaseIdle)

	d.resolve(cmd, resp, nil, func() {
		d.metrics.incSuccessCount()
		d.logger.Debug("command done", "id", cmd.id, "command", cmd.text, "response", resp)
	})
}

func (d *Dispatcher) fail(cmd *Command, phase Phase, delivery Delivery, err error) {
	cerr := &CommandError{
		ID:       cmd.id,
		Command:  cmd.text,
		Phase:    phase,
		Delivery: delivery,
		Err:      err,
	}

	d.resolve(cmd, "", cerr, func() {
		d.metrics.incFailCount()
		d.logger.Warn("command failed",
			"id", cmd.id,
			"command", cmd.text,
			"phase", phase,
			"delivery", delivery,
			"error", err,
		)
	})
}

// resolve removes cmd from the outstanding set and sets its result once.
func (d *Dispatcher) resolve(cmd *Command, resp string, err error, onResolved func()) {
	cmd.resolve(resp, err, func() {
		d.outstanding.Delete(cmd.id)
		onResolved()
	})
}

// failClosed fails cmd with ErrLinkClosed. The delivery comes from the write
// progress recorded on the command, so a line closed during the settle delay
// or in the middle of a write is never reported as unsent.
func (d *Dispatcher) failClosed(cmd *Command) {
	phase := PhaseIdle
	if d.current.Load() == cmd {
		phase = d.Phase()
	}

	d.fail(cmd, phase, cmd.delivery(), ErrLinkClosed)
}

func (d *Dispatcher) setPhase(p Phase) {
	d.phase.Store(uint32(p))
}

// mergeCancel returns a context that is done when either ctx or other is done.
func mergeCancel(ctx context.Context, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(other, cancel)

	return merged, func() {
		stop()
		cancel()
	}
}
