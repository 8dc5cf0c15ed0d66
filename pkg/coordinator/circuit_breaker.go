package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andreweacott/jatekukko-exporter/pkg/logger"
	"github.com/andreweacott/jatekukko-exporter/pkg/portal"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the breaker rejects calls without reaching the portal
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures the circuit breaker behavior
type CircuitBreakerConfig struct {
	// MaxConsecutiveFailures is the number of consecutive failures before opening
	MaxConsecutiveFailures uint32
	// Timeout is how long the circuit breaker stays open before trying half-open
	Timeout time.Duration
}

// DefaultCircuitBreakerConfig returns sensible defaults for a portal polled every few hours
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxConsecutiveFailures: 5,
		Timeout:                time.Minute,
	}
}

// CircuitBreakerState represents the circuit breaker state
type CircuitBreakerState int

const (
	CircuitClosed CircuitBreakerState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// circuitBreakerAPI wraps PortalAPI with circuit breaker protection
type circuitBreakerAPI struct {
	api     PortalAPI
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

// NewPortalAPIWithCircuitBreaker wraps a PortalAPI with circuit breaker protection.
// Unauthorized responses count as successes for the breaker: the portal is
// reachable, and the auth failure has to reach the coordinator unchanged.
func NewPortalAPIWithCircuitBreaker(api PortalAPI, config CircuitBreakerConfig, log *logger.Logger) PortalAPI {
	if log == nil {
		log = logger.Discard()
	}

	// Interval 0 keeps the closed-state counts until the next success: cycles are
	// hours apart, so failures must accumulate across cycles to trip the breaker.
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "JatekukkoPortal",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     2 * config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || portal.IsUnauthorized(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &circuitBreakerAPI{
		api:     api,
		breaker: cb,
		timeout: config.Timeout,
	}
}

// execute runs fn through the breaker
func execute[T any](cb *circuitBreakerAPI, fn func() (T, error)) (T, error) {
	result, err := cb.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, cb.wrapError(err)
	}
	return result.(T), nil
}

// Login implements PortalAPI.Login with circuit breaker protection
func (cb *circuitBreakerAPI) Login(ctx context.Context) error {
	_, err := execute(cb, func() (struct{}, error) {
		return struct{}{}, cb.api.Login(ctx)
	})
	return err
}

// Logout bypasses the breaker: it is best-effort and must still run while the breaker is open
func (cb *circuitBreakerAPI) Logout(ctx context.Context) error {
	return cb.api.Logout(ctx)
}

// GetServices implements PortalAPI.GetServices with circuit breaker protection
func (cb *circuitBreakerAPI) GetServices(ctx context.Context) ([]portal.Service, error) {
	return execute(cb, func() ([]portal.Service, error) {
		return cb.api.GetServices(ctx)
	})
}

// GetCollectionSchedule implements PortalAPI.GetCollectionSchedule with circuit breaker protection
func (cb *circuitBreakerAPI) GetCollectionSchedule(ctx context.Context, service portal.Service) ([]portal.Date, error) {
	return execute(cb, func() ([]portal.Date, error) {
		return cb.api.GetCollectionSchedule(ctx, service)
	})
}

// GetInvoiceHeaders implements PortalAPI.GetInvoiceHeaders with circuit breaker protection
func (cb *circuitBreakerAPI) GetInvoiceHeaders(ctx context.Context) ([]portal.InvoiceHeader, error) {
	return execute(cb, func() ([]portal.InvoiceHeader, error) {
		return cb.api.GetInvoiceHeaders(ctx)
	})
}

// GetCustomerData implements PortalAPI.GetCustomerData with circuit breaker protection
func (cb *circuitBreakerAPI) GetCustomerData(ctx context.Context) (map[string][]portal.Customer, error) {
	return execute(cb, func() (map[string][]portal.Customer, error) {
		return cb.api.GetCustomerData(ctx)
	})
}

// wrapError converts circuit breaker errors to user-friendly messages; portal errors pass through
func (cb *circuitBreakerAPI) wrapError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) {
		return fmt.Errorf("%w: portal is temporarily unavailable (will retry after %v)", ErrCircuitOpen, 2*cb.timeout)
	}

	if errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: half-open, testing portal recovery", ErrCircuitOpen)
	}

	return err
}

// State returns the current circuit breaker state
func (cb *circuitBreakerAPI) State() CircuitBreakerState {
	switch cb.breaker.State() {
	case gobreaker.StateOpen:
		return CircuitOpen
	case gobreaker.StateHalfOpen:
		return CircuitHalfOpen
	default:
		return CircuitClosed
	}
}
