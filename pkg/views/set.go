package views

import (
	"errors"
	"sort"

	"github.com/andreweacott/jatekukko-exporter/pkg/coordinator"
	"github.com/andreweacott/jatekukko-exporter/pkg/logger"
)

// ErrNoSnapshot is returned when views are built before the first successful refresh
var ErrNoSnapshot = errors.New("no snapshot available yet")

// Set is the collection of views built for one customer
type Set struct {
	Calendars []Calendar
	Sensors   []*NextCollectionSensor

	unsubscribe []func()
}

// Build creates the views for the current snapshot of source and subscribes them
// to future refreshes. Services with an empty schedule get no calendar and
// services without a next collection date get no sensor.
func Build(source Source, customerNumber string, clock Clock, log *logger.Logger) (*Set, error) {
	snapshot := source.Snapshot()
	if snapshot == nil {
		return nil, ErrNoSnapshot
	}
	if log == nil {
		log = logger.Discard()
	}

	positions := make([]int, 0, len(snapshot.Services))
	for pos := range snapshot.Services {
		positions = append(positions, pos)
	}
	sort.Ints(positions)

	set := &Set{}
	for _, pos := range positions {
		data := snapshot.Services[pos]

		if len(data.CollectionSchedule) > 0 {
			calendar := NewCollectionCalendar(data, customerNumber, clock)
			set.Calendars = append(set.Calendars, calendar)
			set.subscribe(source, calendar.UniqueID(), calendar.OnNotify, log)
		} else {
			log.WithServicePos(pos).Debug("Skipping calendar for service without collection schedule")
		}

		if data.Service.NextCollection != nil {
			sensor := NewNextCollectionSensor(data.Service, customerNumber)
			set.Sensors = append(set.Sensors, sensor)
			set.subscribe(source, sensor.UniqueID(), sensor.OnNotify, log)
		}
	}

	invoices := NewInvoiceCalendar(customerNumber, clock)
	invoices.OnNotify(snapshot)
	set.Calendars = append(set.Calendars, invoices)
	set.subscribe(source, invoices.UniqueID(), invoices.OnNotify, log)

	log.Info("Views created",
		"customer_number", customerNumber,
		"calendars", len(set.Calendars),
		"sensors", len(set.Sensors))

	return set, nil
}

func (s *Set) subscribe(source Source, uniqueID string, onNotify coordinator.Listener, log *logger.Logger) {
	s.unsubscribe = append(s.unsubscribe, source.Subscribe(func(snapshot *coordinator.Snapshot) {
		onNotify(snapshot)
		log.WithView(uniqueID).Debug("View state updated")
	}))
}

// Calendar looks up a calendar by unique ID
func (s *Set) Calendar(uniqueID string) (Calendar, bool) {
	for _, c := range s.Calendars {
		if c.UniqueID() == uniqueID {
			return c, true
		}
	}
	return nil, false
}

// Close detaches every view from the coordinator
func (s *Set) Close() {
	for _, unsubscribe := range s.unsubscribe {
		unsubscribe()
	}
	s.unsubscribe = nil
}
