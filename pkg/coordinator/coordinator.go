// Package coordinator implements the periodic refresh of portal data.
//
// It provides:
//   - A single cached Snapshot of services, collection schedules and invoice headers
//   - All-or-nothing refreshes: a failed refresh never replaces the Snapshot
//   - Classification of failures into AuthError and TransientError
//   - Coalescing of concurrent refresh requests onto one in-flight fetch
//   - Synchronous fan-out to subscribed listeners after each successful refresh
//
// The coordinator does not schedule itself and does not retry; see package
// scheduler for the fixed-interval loop and auth escalation.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/andreweacott/jatekukko-exporter/pkg/logger"
	"github.com/andreweacott/jatekukko-exporter/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

const (
	refreshKey    = "refresh"
	logoutTimeout = 10 * time.Second
)

// Listener is invoked with the new Snapshot after every successful refresh
type Listener func(snapshot *Snapshot)

type subscription struct {
	id       int
	listener Listener
}

// Status describes the outcome of past refreshes
type Status struct {
	LastSuccess             time.Time
	LastError               error
	ConsecutiveAuthFailures int
	BreakerState            CircuitBreakerState
}

// Coordinator owns the cached Snapshot and runs the fetch-and-reshape cycle
type Coordinator struct {
	api             PortalAPI
	name            string
	log             *logger.Logger
	exporterMetrics *metrics.ExporterMetrics // Optional: for internal health monitoring
	now             func() time.Time
	shutdown        context.Context

	group singleflight.Group

	mu                      sync.RWMutex
	snapshot                *Snapshot
	lastSuccess             time.Time
	lastErr                 error
	consecutiveAuthFailures int

	listenersMu sync.Mutex
	listeners   []subscription
	nextID      int
}

// New creates a coordinator for the given portal API. name identifies the
// coordinator in logs, typically the customer number.
func New(api PortalAPI, name string, log *logger.Logger) *Coordinator {
	if log == nil {
		log = logger.Discard()
	}

	return &Coordinator{
		api:      api,
		name:     name,
		log:      log,
		now:      time.Now,
		shutdown: context.Background(),
	}
}

// WithShutdownContext ties in-flight refreshes to the lifetime of the host:
// they are cancelled when ctx is done, never by the caller that started them.
func (c *Coordinator) WithShutdownContext(ctx context.Context) *Coordinator {
	c.shutdown = ctx
	return c
}

// WithExporterMetrics adds exporter health metrics to the coordinator
func (c *Coordinator) WithExporterMetrics(em *metrics.ExporterMetrics) *Coordinator {
	c.exporterMetrics = em
	return c
}

// Name returns the coordinator's name
func (c *Coordinator) Name() string {
	return c.name
}

// Snapshot returns the current Snapshot, or nil before the first successful refresh
func (c *Coordinator) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// LastSuccess returns when the last successful refresh finished
func (c *Coordinator) LastSuccess() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSuccess
}

// LastError returns the error of the last refresh, nil if it succeeded
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// ConsecutiveAuthFailures returns how many refreshes in a row ended with an AuthError
func (c *Coordinator) ConsecutiveAuthFailures() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.consecutiveAuthFailures
}

// Status returns a consistent view of the refresh bookkeeping
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	status := Status{
		LastSuccess:             c.lastSuccess,
		LastError:               c.lastErr,
		ConsecutiveAuthFailures: c.consecutiveAuthFailures,
	}
	c.mu.RUnlock()

	if reporter, ok := c.api.(interface{ State() CircuitBreakerState }); ok {
		status.BreakerState = reporter.State()
	}
	return status
}

// Subscribe registers a listener for successful refreshes. Listeners run
// synchronously in registration order. The returned function unsubscribes.
func (c *Coordinator) Subscribe(listener Listener) func() {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners = append(c.listeners, subscription{id: id, listener: listener})

	return func() {
		c.listenersMu.Lock()
		defer c.listenersMu.Unlock()
		for i, sub := range c.listeners {
			if sub.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// Refresh fetches fresh data and replaces the Snapshot. A request arriving while
// another refresh is running joins it instead of starting a second fetch. The
// shared fetch keeps the starting caller's values but not its cancellation, so
// any caller may stop waiting without aborting the fetch for the others; only
// the shutdown context cancels it.
//
// Errors are always *AuthError or *TransientError.
func (c *Coordinator) Refresh(ctx context.Context) (*Snapshot, error) {
	ch := c.group.DoChan(refreshKey, func() (interface{}, error) {
		fetchCtx, cancel := c.fetchContext(ctx)
		defer cancel()
		return c.refresh(fetchCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.log.Debug("Refresh request coalesced with in-flight refresh", "coordinator", c.name)
		}
		return res.Val.(*Snapshot), nil
	case <-ctx.Done():
		return nil, &TransientError{Op: "refresh", Err: ctx.Err()}
	}
}

func (c *Coordinator) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(c.shutdown, cancel)
	return fetchCtx, func() {
		stop()
		cancel()
	}
}

func (c *Coordinator) refresh(ctx context.Context) (*Snapshot, error) {
	start := c.now()

	snapshot, err := c.fetch(ctx)

	if c.exporterMetrics != nil {
		c.exporterMetrics.RecordRefreshDuration(c.now().Sub(start))
	}

	if err != nil {
		c.recordFailure(err)

		if ctx.Err() != nil {
			c.log.Info("Refresh cancelled, keeping previous snapshot", "coordinator", c.name)
			c.logout(context.Background())
		}
		return nil, err
	}

	c.mu.Lock()
	c.snapshot = snapshot
	c.lastSuccess = snapshot.FetchedAt
	c.lastErr = nil
	c.consecutiveAuthFailures = 0
	c.mu.Unlock()

	if c.exporterMetrics != nil {
		c.exporterMetrics.SetAuthenticationValid(true)
		c.exporterMetrics.RecordRefreshSuccess(snapshot.FetchedAt)
	}

	c.log.Info("Refresh completed",
		"coordinator", c.name,
		"services", len(snapshot.Services),
		"invoice_headers", len(snapshot.InvoiceHeaders))

	c.notify(snapshot)

	return snapshot, nil
}

// fetch performs the remote calls of one cycle sequentially and builds a new Snapshot
func (c *Coordinator) fetch(ctx context.Context) (*Snapshot, error) {
	services, err := c.api.GetServices(ctx)
	if err != nil {
		return nil, classify("list services", err, true)
	}

	serviceData := make(map[int]ServiceData, len(services))
	for _, service := range services {
		schedule, err := c.api.GetCollectionSchedule(ctx, service)
		if err != nil {
			c.log.WithServicePos(service.Pos).Warn("Failed to fetch collection schedule")
			return nil, classify("get collection schedule", err, false)
		}
		serviceData[service.Pos] = ServiceData{Service: service, CollectionSchedule: schedule}
	}

	invoiceHeaders, err := c.api.GetInvoiceHeaders(ctx)
	if err != nil {
		return nil, classify("get invoice headers", err, false)
	}

	return &Snapshot{
		Services:       serviceData,
		InvoiceHeaders: invoiceHeaders,
		FetchedAt:      c.now(),
	}, nil
}

func (c *Coordinator) recordFailure(err error) {
	var authErr *AuthError
	isAuth := errors.As(err, &authErr)
	// A cancelled cycle says nothing about the credentials; the streak stays as is
	cancelled := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)

	c.mu.Lock()
	c.lastErr = err
	switch {
	case isAuth:
		c.consecutiveAuthFailures++
	case !cancelled:
		c.consecutiveAuthFailures = 0
	}
	failures := c.consecutiveAuthFailures
	c.mu.Unlock()

	if c.exporterMetrics != nil {
		c.exporterMetrics.IncrementRefreshErrors(errorKind(err))
		if isAuth {
			c.exporterMetrics.IncrementAuthenticationErrors()
			c.exporterMetrics.SetAuthenticationValid(false)
		}
	}

	if isAuth {
		c.log.Warn("Portal rejected credentials",
			"coordinator", c.name,
			"consecutive_auth_failures", failures,
			"error", err.Error())
		return
	}
	c.log.Warn("Refresh failed, keeping previous snapshot", "coordinator", c.name, "error", err.Error())
}

func (c *Coordinator) notify(snapshot *Snapshot) {
	c.listenersMu.Lock()
	listeners := make([]Listener, 0, len(c.listeners))
	for _, sub := range c.listeners {
		listeners = append(listeners, sub.listener)
	}
	c.listenersMu.Unlock()

	for _, listener := range listeners {
		listener(snapshot)
	}
}

// Close releases the portal session. Failures are logged and never returned.
func (c *Coordinator) Close(ctx context.Context) {
	c.logout(ctx)
}

func (c *Coordinator) logout(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, logoutTimeout)
	defer cancel()

	if err := c.api.Logout(ctx); err != nil {
		c.log.Debug("Could not logout", "coordinator", c.name, "error", err.Error())
	}
}
