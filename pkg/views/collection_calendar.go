package views

import (
	"fmt"
	"slices"
	"sync"

	"github.com/andreweacott/jatekukko-exporter/pkg/coordinator"
	"github.com/andreweacott/jatekukko-exporter/pkg/portal"
)

// CollectionCalendar projects the collection schedule of one service
type CollectionCalendar struct {
	pos      int
	name     string
	uniqueID string
	clock    Clock

	mu        sync.RWMutex
	available bool
	schedule  []portal.Date
}

// NewCollectionCalendar creates a calendar for the service in data
func NewCollectionCalendar(data coordinator.ServiceData, customerNumber string, clock Clock) *CollectionCalendar {
	return &CollectionCalendar{
		pos:       data.Service.Pos,
		name:      data.Service.Name,
		uniqueID:  fmt.Sprintf("%d@%s", data.Service.Pos, customerNumber),
		clock:     clock,
		available: true,
		schedule:  sortedDates(data.CollectionSchedule),
	}
}

// UniqueID returns "<pos>@<customer number>"
func (c *CollectionCalendar) UniqueID() string { return c.uniqueID }

// Name returns the service name
func (c *CollectionCalendar) Name() string { return c.name }

// Pos returns the service position the calendar follows
func (c *CollectionCalendar) Pos() int { return c.pos }

// Available reports whether the service was present in the latest snapshot
func (c *CollectionCalendar) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

// OnNotify re-reads the snapshot. A service missing from it makes the
// calendar unavailable and clears the cached schedule.
func (c *CollectionCalendar) OnNotify(snapshot *coordinator.Snapshot) {
	data, ok := snapshot.Service(c.pos)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !ok {
		c.available = false
		c.schedule = nil
		return
	}
	c.available = true
	c.schedule = sortedDates(data.CollectionSchedule)
}

// CurrentEvent returns the earliest collection today or later, nil if none
func (c *CollectionCalendar) CurrentEvent() *Event {
	now := today(c.clock)

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, d := range c.schedule {
		if !d.Before(now) {
			event := newEvent(d, c.name)
			return &event
		}
	}
	return nil
}

// EventsInRange returns the collections with start <= date < end in ascending order
func (c *CollectionCalendar) EventsInRange(start, end portal.Date) []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()

	events := []Event{}
	for _, d := range c.schedule {
		if inRange(d, start, end) {
			events = append(events, newEvent(d, c.name))
		}
	}
	return events
}

func sortedDates(dates []portal.Date) []portal.Date {
	sorted := slices.Clone(dates)
	slices.SortFunc(sorted, portal.Date.Compare)
	return sorted
}
