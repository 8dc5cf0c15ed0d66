// Package mocks provides test doubles for the coordinator package.
package mocks

import (
	"context"

	"github.com/andreweacott/jatekukko-exporter/pkg/portal"
	"github.com/stretchr/testify/mock"
)

// MockPortalAPI is a mock implementation of the PortalAPI interface
type MockPortalAPI struct {
	mock.Mock
}

// Login implements PortalAPI.Login
func (m *MockPortalAPI) Login(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Logout implements PortalAPI.Logout
func (m *MockPortalAPI) Logout(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// GetServices implements PortalAPI.GetServices
func (m *MockPortalAPI) GetServices(ctx context.Context) ([]portal.Service, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]portal.Service), args.Error(1)
}

// GetCollectionSchedule implements PortalAPI.GetCollectionSchedule
func (m *MockPortalAPI) GetCollectionSchedule(ctx context.Context, service portal.Service) ([]portal.Date, error) {
	args := m.Called(ctx, service)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]portal.Date), args.Error(1)
}

// GetInvoiceHeaders implements PortalAPI.GetInvoiceHeaders
func (m *MockPortalAPI) GetInvoiceHeaders(ctx context.Context) ([]portal.InvoiceHeader, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]portal.InvoiceHeader), args.Error(1)
}

// GetCustomerData implements PortalAPI.GetCustomerData
func (m *MockPortalAPI) GetCustomerData(ctx context.Context) (map[string][]portal.Customer, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string][]portal.Customer), args.Error(1)
}

// ExpectGetServicesReturns sets up expectation for GetServices to return services
func (m *MockPortalAPI) ExpectGetServicesReturns(services ...portal.Service) *MockPortalAPI {
	m.On("GetServices", mock.Anything).Return(services, nil)
	return m
}

// ExpectGetServicesReturnsError sets up expectation for GetServices to return an error
func (m *MockPortalAPI) ExpectGetServicesReturnsError(err error) *MockPortalAPI {
	m.On("GetServices", mock.Anything).Return(nil, err)
	return m
}

// ExpectSchedule sets up expectation for the schedule of the service at pos
func (m *MockPortalAPI) ExpectSchedule(pos int, dates ...portal.Date) *MockPortalAPI {
	m.On("GetCollectionSchedule", mock.Anything, mock.MatchedBy(func(s portal.Service) bool {
		return s.Pos == pos
	})).Return(dates, nil)
	return m
}

// ExpectInvoiceHeaders sets up expectation for GetInvoiceHeaders to return headers
func (m *MockPortalAPI) ExpectInvoiceHeaders(headers ...portal.InvoiceHeader) *MockPortalAPI {
	m.On("GetInvoiceHeaders", mock.Anything).Return(headers, nil)
	return m
}
