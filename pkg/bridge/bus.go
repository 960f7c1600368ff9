// Package bridge is a typed request/response bus between a front end and the
// processing back end.
//
// Every call carries a UUID correlation ID. Workers run the handler and post
// replies on a shared channel; a dispatcher routes each reply back to the
// caller waiting on that ID. A call that outlives its timeout returns
// ErrTimeout and its handler context is cancelled.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrTimeout is returned when no reply arrives within the call timeout
var ErrTimeout = errors.New("bridge: request timed out")

// ErrClosed is returned for calls made after Close
var ErrClosed = errors.New("bridge: bus closed")

// Handler serves one request
type Handler[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Options configure a bus
type Options struct {
	// Workers is the number of concurrent handlers; 1 serializes requests
	Workers int
	// Timeout bounds each call; 0 means no bound beyond the caller context
	Timeout time.Duration
}

type envelope[Req any] struct {
	id      string
	ctx     context.Context
	payload Req
}

type reply[Resp any] struct {
	id      string
	payload Resp
	err     error
}

// Bus correlates typed requests with their replies
type Bus[Req, Resp any] struct {
	name     string
	handler  Handler[Req, Resp]
	opts     Options
	requests chan envelope[Req]
	replies  chan reply[Resp]
	log      logrus.FieldLogger

	mu      sync.Mutex
	pending map[string]chan reply[Resp]

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New starts a bus named name that serves requests with handler
func New[Req, Resp any](name string, handler Handler[Req, Resp], opts Options, log logrus.FieldLogger) *Bus[Req, Resp] {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	b := &Bus[Req, Resp]{
		name:     name,
		handler:  handler,
		opts:     opts,
		requests: make(chan envelope[Req]),
		replies:  make(chan reply[Resp]),
		log:      log.WithField("bus", name),
		pending:  make(map[string]chan reply[Resp]),
		done:     make(chan struct{}),
	}

	b.wg.Add(opts.Workers + 1)
	for i := 0; i < opts.Workers; i++ {
		go b.work()
	}
	go b.dispatch()
	return b
}

// Call sends req and waits for its correlated reply
func (b *Bus[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	var zero Resp

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if b.opts.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, b.opts.Timeout)
	}
	defer cancel()

	id := uuid.NewString()
	ch := make(chan reply[Resp], 1)

	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()
	defer b.forget(id)

	select {
	case b.requests <- envelope[Req]{id: id, ctx: callCtx, payload: req}:
	case <-b.done:
		return zero, ErrClosed
	case <-callCtx.Done():
		return zero, b.expired(ctx, id)
	}

	select {
	case r := <-ch:
		if r.err != nil && callCtx.Err() != nil {
			return zero, b.expired(ctx, id)
		}
		return r.payload, r.err
	case <-b.done:
		return zero, ErrClosed
	case <-callCtx.Done():
		return zero, b.expired(ctx, id)
	}
}

// Close stops the workers and dispatcher. Pending calls return ErrClosed.
func (b *Bus[Req, Resp]) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
	})
	b.wg.Wait()
}

func (b *Bus[Req, Resp]) expired(parent context.Context, id string) error {
	if err := parent.Err(); err != nil {
		return err
	}
	b.log.WithField("id", id).Warn("request timed out")
	return fmt.Errorf("%w after %s (id %s)", ErrTimeout, b.opts.Timeout, id)
}

func (b *Bus[Req, Resp]) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

func (b *Bus[Req, Resp]) work() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case env := <-b.requests:
			payload, err := b.handler(env.ctx, env.payload)
			select {
			case b.replies <- reply[Resp]{id: env.id, payload: payload, err: err}:
			case <-b.done:
				return
			}
		}
	}
}

func (b *Bus[Req, Resp]) dispatch() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case r := <-b.replies:
			b.mu.Lock()
			ch, ok := b.pending[r.id]
			b.mu.Unlock()
			if !ok {
				b.log.WithField("id", r.id).Debug("dropping reply for abandoned request")
				continue
			}
			ch <- r
		}
	}
}
