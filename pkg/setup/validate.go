// Package setup validates portal credentials and keeps the validated entries.
package setup

import (
	"context"
	"errors"
	"fmt"

	"github.com/andreweacott/jatekukko-exporter/pkg/logger"
	"github.com/andreweacott/jatekukko-exporter/pkg/portal"
)

// Validation failure kinds. ValidationError matches them with errors.Is.
var (
	ErrCannotConnect = errors.New("cannot connect to portal")
	ErrInvalidAuth   = errors.New("invalid customer number or password")
	ErrUnknown       = errors.New("unexpected error")
)

// ValidationError is returned by Validate
type ValidationError struct {
	Kind error
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *ValidationError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Reason returns the short machine-readable reason shown to the user
func (e *ValidationError) Reason() string {
	switch e.Kind {
	case ErrCannotConnect:
		return "cannot_connect"
	case ErrInvalidAuth:
		return "invalid_auth"
	default:
		return "unknown"
	}
}

// Client is the part of the portal client needed for validation
type Client interface {
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	GetCustomerData(ctx context.Context) (map[string][]portal.Customer, error)
}

// ClientFactory creates a portal client for a set of credentials
type ClientFactory func(customerNumber, password string) (Client, error)

// PortalClientFactory returns a ClientFactory backed by portal.Client
func PortalClientFactory(baseURL string, log *logger.Logger) ClientFactory {
	return func(customerNumber, password string) (Client, error) {
		client, err := portal.NewClient(baseURL, customerNumber, password, nil, log)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Validate logs in with the given credentials and returns the display title of
// the account: the customer name when the portal provides one, otherwise the
// customer number. The name lookup never fails validation.
func Validate(ctx context.Context, factory ClientFactory, customerNumber, password string, log *logger.Logger) (string, error) {
	if log == nil {
		log = logger.Discard()
	}

	client, err := factory(customerNumber, password)
	if err != nil {
		log.WithError(err).Error("Unexpected error creating portal client")
		return "", &ValidationError{Kind: ErrUnknown, Err: err}
	}

	if err := client.Login(ctx); err != nil {
		switch {
		case portal.IsConnectionError(err):
			return "", &ValidationError{Kind: ErrCannotConnect, Err: err}
		case portal.IsUnauthorized(err):
			return "", &ValidationError{Kind: ErrInvalidAuth, Err: err}
		default:
			log.WithError(err).WithField("customer_number", customerNumber).Error("Unexpected error validating credentials")
			return "", &ValidationError{Kind: ErrUnknown, Err: err}
		}
	}
	defer func() {
		if err := client.Logout(ctx); err != nil {
			log.Debug("Could not logout after validation", "error", err.Error())
		}
	}()

	title := customerNumber
	if name := customerName(ctx, client, customerNumber, log); name != "" {
		title = name
	}
	return title, nil
}

func customerName(ctx context.Context, client Client, customerNumber string, log *logger.Logger) string {
	data, err := client.GetCustomerData(ctx)
	if err != nil {
		log.WithError(err).Debug("Could not get customer name")
		return ""
	}
	customers := data[customerNumber]
	if len(customers) == 0 {
		log.WithCustomerNumber(customerNumber).Debug("Could not get customer name")
		return ""
	}
	return customers[0].Name
}
