package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wilkinlas2/IBKR-Server-V6/internal/broker"
)

// ErrConnection marks a failed session establishment. Once connect fails the
// runner stays broken until the process restarts; there is no reconnect.
var ErrConnection = errors.New("broker connection failed")

var ErrClosed = errors.New("session runner closed")

// UnitOfWork runs on the runner's worker goroutine with the live connection.
type UnitOfWork func(sess broker.Session) (any, error)

type task struct {
	ctx    context.Context
	fn     UnitOfWork
	done   chan struct{}
	result any
	err    error
}

// Runner owns the one broker connection. Units of work submitted to it run
// strictly in submission order, one at a time, on a dedicated goroutine that
// performs the connect exactly once on first use.
type Runner struct {
	host     string
	port     int
	clientID int
	sess     broker.Session
	log      *slog.Logger

	once      sync.Once
	closeOnce sync.Once
	tasks     chan *task
	quit      chan struct{}

	mu      sync.Mutex
	connErr error
}

func NewRunner(sess broker.Session, host string, port, clientID int, log *slog.Logger) *Runner {
	return &Runner{
		host:     host,
		port:     port,
		clientID: clientID,
		sess:     sess,
		log:      log,
		tasks:    make(chan *task, 64),
		quit:     make(chan struct{}),
	}
}

// Session exposes the underlying session for wiring its update channel. All
// command traffic must still go through Submit.
func (r *Runner) Session() broker.Session {
	return r.sess
}

// Submit blocks until the unit of work has run and returns its result or
// error. Submission order is execution order.
func (r *Runner) Submit(ctx context.Context, fn UnitOfWork) (any, error) {
	r.once.Do(func() { go r.loop() })
	select {
	case <-r.quit:
		return nil, ErrClosed
	default:
	}
	if err := r.connFailure(); err != nil {
		return nil, err
	}
	t := &task{ctx: ctx, fn: fn, done: make(chan struct{})}
	select {
	case r.tasks <- t:
	case <-r.quit:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case <-t.done:
		return t.result, t.err
	case <-r.quit:
		return nil, ErrClosed
	}
}

// Close stops the worker. On a runner that never ran a unit of work it only
// consumes the lazy start, so no connection is ever opened just to tear down.
func (r *Runner) Close() {
	r.once.Do(func() {})
	r.closeOnce.Do(func() { close(r.quit) })
}

func (r *Runner) connFailure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connErr
}

func (r *Runner) loop() {
	if err := r.sess.Connect(context.Background(), r.host, r.port, r.clientID); err != nil {
		cerr := fmt.Errorf("%w: connect %s:%d client %d: %v", ErrConnection, r.host, r.port, r.clientID, err)
		r.mu.Lock()
		r.connErr = cerr
		r.mu.Unlock()
		r.log.Error("broker connect failed", "host", r.host, "port", r.port, "err", err)
		// fail everything already queued, then exit; connFailure stops new work
		for {
			select {
			case t := <-r.tasks:
				t.err = cerr
				close(t.done)
			case <-r.quit:
				return
			}
		}
	}
	r.log.Info("broker session established", "host", r.host, "port", r.port, "client_id", r.clientID)
	defer r.sess.Close()
	for {
		select {
		case t := <-r.tasks:
			r.exec(t)
		case <-r.quit:
			return
		}
	}
}

func (r *Runner) exec(t *task) {
	defer close(t.done)
	defer func() {
		if p := recover(); p != nil {
			t.err = fmt.Errorf("unit of work panicked: %v", p)
		}
	}()
	if err := t.ctx.Err(); err != nil {
		t.err = err
		return
	}
	t.result, t.err = t.fn(r.sess)
}
