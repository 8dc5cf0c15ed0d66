package views

import (
	"slices"
	"sync"

	"github.com/andreweacott/jatekukko-exporter/pkg/coordinator"
	"github.com/andreweacott/jatekukko-exporter/pkg/portal"
)

// InvoiceCalendarName is the display name of the invoice calendar
const InvoiceCalendarName = "Jätekukko invoices"

// InvoiceCalendar projects the invoice due dates. It has no unavailable state:
// missing data is an empty calendar.
type InvoiceCalendar struct {
	uniqueID string
	clock    Clock

	mu       sync.RWMutex
	invoices []portal.InvoiceHeader
}

// NewInvoiceCalendar creates the invoice calendar of a customer
func NewInvoiceCalendar(customerNumber string, clock Clock) *InvoiceCalendar {
	return &InvoiceCalendar{
		uniqueID: "invoices@" + customerNumber,
		clock:    clock,
	}
}

// UniqueID returns "invoices@<customer number>"
func (c *InvoiceCalendar) UniqueID() string { return c.uniqueID }

// Name returns the calendar display name
func (c *InvoiceCalendar) Name() string { return InvoiceCalendarName }

// Available is always true
func (c *InvoiceCalendar) Available() bool { return true }

// OnNotify replaces the cached invoices with a copy sorted by due date
func (c *InvoiceCalendar) OnNotify(snapshot *coordinator.Snapshot) {
	var invoices []portal.InvoiceHeader
	if snapshot != nil {
		invoices = slices.Clone(snapshot.InvoiceHeaders)
		slices.SortStableFunc(invoices, func(a, b portal.InvoiceHeader) int {
			return a.DueDate.Compare(b.DueDate)
		})
	}

	c.mu.Lock()
	c.invoices = invoices
	c.mu.Unlock()
}

// CurrentEvent returns the invoice due earliest today or later, labelled with its name
func (c *InvoiceCalendar) CurrentEvent() *Event {
	now := today(c.clock)

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, invoice := range c.invoices {
		if !invoice.DueDate.Before(now) {
			event := newEvent(invoice.DueDate, invoice.Name)
			return &event
		}
	}
	return nil
}

// EventsInRange returns the invoices due with start <= due < end in ascending order
func (c *InvoiceCalendar) EventsInRange(start, end portal.Date) []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()

	events := []Event{}
	for _, invoice := range c.invoices {
		if inRange(invoice.DueDate, start, end) {
			events = append(events, newEvent(invoice.DueDate, invoice.Name))
		}
	}
	return events
}
