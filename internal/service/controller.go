package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/target/portal-identity/internal/observability/statsd"
	"github.com/target/portal-identity/internal/ports"
	"github.com/target/portal-identity/internal/state"
)

const defaultFetchQueueSize = 8

// SessionControllerOptions groups dependencies for SessionController.
type SessionControllerOptions struct {
	Channel ports.AuthChannel
	Derived *DerivedDataService
	Store   *state.Store
	Logger  *slog.Logger
	Metrics statsd.Sink

	// QueueSize bounds the derived-fetch handoff queue; zero means the
	// default.
	QueueSize int
}

// SessionController reconciles the session state store with the identity
// channel. On every channel event (and the initial one-shot query) it
// writes the identity/session fields synchronously, then hands the
// derived-data fetch to its worker goroutine.
//
// The handoff exists because channel callbacks may not issue further calls
// to the identity backend from inside the notification dispatch; running
// the fetch on the worker guarantees it executes outside the channel's
// call stack. A fetch that resolves after the identity has changed is
// discarded by the store's user-id guard, not cancelled.
type SessionController struct {
	channel ports.AuthChannel
	derived *DerivedDataService
	store   *state.Store
	logger  *slog.Logger
	metrics statsd.Sink

	queue       chan string
	unsubscribe func()
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewSessionController constructs a SessionController.
func NewSessionController(opts SessionControllerOptions) (*SessionController, error) {
	if opts.Channel == nil {
		return nil, errors.New("auth channel is required")
	}
	if opts.Derived == nil {
		return nil, errors.New("derived data service is required")
	}
	if opts.Store == nil {
		return nil, errors.New("session store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultFetchQueueSize
	}
	return &SessionController{
		channel: opts.Channel,
		derived: opts.Derived,
		store:   opts.Store,
		logger:  logger,
		metrics: opts.Metrics,
		queue:   make(chan string, queueSize),
		done:    make(chan struct{}),
	}, nil
}

// Start subscribes to the channel and performs the initial reconciliation.
// The subscription is installed before the one-shot session query: a
// notification and the query race, and registering first guarantees an
// authoritative update is observed even if the query result arrives out of
// order. A failed initial query degrades to signed-out rather than
// failing startup; the next channel event corrects the state.
func (c *SessionController) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.worker(workerCtx)

	c.unsubscribe = c.channel.Subscribe(c.handleChange)

	st, err := c.channel.CurrentSession(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "initial session query failed", "error", err)
		c.count("session.initial_query_failed", nil)
		c.store.SetSession(nil, nil)
		return
	}
	c.handleChange(st)
}

// Stop unsubscribes from the channel and stops the fetch worker. Safe to
// call once after Start.
func (c *SessionController) Stop() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	if c.cancel != nil {
		c.cancel()
		<-c.done
		c.cancel = nil
	}
}

// handleChange runs on the channel dispatch goroutine (and once from
// Start). It must not call the identity backend; the derived fetch is
// enqueued for the worker instead.
func (c *SessionController) handleChange(st ports.AuthState) {
	c.store.SetSession(st.Identity, st.Session)
	c.count("session.reconcile", map[string]string{"signed_in": boolTag(st.SignedIn())})

	if st.Identity == nil {
		return
	}
	c.enqueue(st.Identity.UserID)
}

// enqueue hands a user id to the worker without blocking the dispatch.
// When the queue is full the oldest entry is dropped: the store's guard
// makes superseded fetches worthless anyway.
func (c *SessionController) enqueue(userID string) {
	for {
		select {
		case c.queue <- userID:
			return
		default:
		}
		select {
		case <-c.queue:
		default:
		}
	}
}

func (c *SessionController) worker(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case userID := <-c.queue:
			derived := c.derived.Fetch(ctx, userID)
			if !c.store.SetDerived(userID, derived) {
				c.logger.DebugContext(ctx, "discarding derived data for superseded identity", "user_id", userID)
				c.count("session.derived_stale", nil)
			}
		}
	}
}

func (c *SessionController) count(name string, tags map[string]string) {
	if c.metrics != nil {
		c.metrics.Count(name, 1, tags)
	}
}

func boolTag(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
