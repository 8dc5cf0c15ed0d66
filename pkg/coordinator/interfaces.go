// Package coordinator provides interfaces for portal interactions.
package coordinator

import (
	"context"

	"github.com/andreweacott/jatekukko-exporter/pkg/portal"
)

// PortalAPI defines the interface for Jätekukko portal interactions.
// This interface allows for dependency injection and testing with mocks.
type PortalAPI interface {
	// Login establishes an authenticated session
	Login(ctx context.Context) error

	// Logout ends the authenticated session
	Logout(ctx context.Context) error

	// GetServices lists the customer's collection services
	GetServices(ctx context.Context) ([]portal.Service, error)

	// GetCollectionSchedule retrieves the collection dates of one service
	GetCollectionSchedule(ctx context.Context, service portal.Service) ([]portal.Date, error)

	// GetInvoiceHeaders retrieves the customer's invoice headers
	GetInvoiceHeaders(ctx context.Context) ([]portal.InvoiceHeader, error)

	// GetCustomerData retrieves customer records keyed by customer number
	GetCustomerData(ctx context.Context) (map[string][]portal.Customer, error)
}
