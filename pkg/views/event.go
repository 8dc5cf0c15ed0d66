// Package views provides read-only projections of the coordinator snapshot.
//
// Views do no I/O. Each keeps a sorted copy of the slice of the snapshot it
// cares about, rebuilt only when the coordinator notifies it, so reads never
// sort.
package views

import (
	"time"

	"github.com/andreweacott/jatekukko-exporter/pkg/coordinator"
	"github.com/andreweacott/jatekukko-exporter/pkg/portal"
)

// Event is an all-day calendar event
type Event struct {
	Start   portal.Date `json:"start"`
	End     portal.Date `json:"end"`
	Summary string      `json:"summary"`
}

func newEvent(d portal.Date, summary string) Event {
	return Event{Start: d, End: d, Summary: summary}
}

// Clock returns the current time; views derive "today" from it
type Clock func() time.Time

// Source is the part of the coordinator views depend on
type Source interface {
	Snapshot() *coordinator.Snapshot
	Subscribe(listener coordinator.Listener) func()
}

// Calendar is the common read surface of the calendar views
type Calendar interface {
	UniqueID() string
	Name() string
	Available() bool
	CurrentEvent() *Event
	EventsInRange(start, end portal.Date) []Event
}

func today(clock Clock) portal.Date {
	if clock == nil {
		clock = time.Now
	}
	return portal.DateOf(clock())
}

func inRange(d, start, end portal.Date) bool {
	return !d.Before(start) && d.Before(end)
}
