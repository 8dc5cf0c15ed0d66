package views

import (
	"fmt"
	"sync"

	"github.com/andreweacott/jatekukko-exporter/pkg/coordinator"
	"github.com/andreweacott/jatekukko-exporter/pkg/portal"
)

// NextCollectionSensor exposes the portal's own next collection date of a service
type NextCollectionSensor struct {
	pos      int
	name     string
	uniqueID string

	mu        sync.RWMutex
	available bool
	value     *portal.Date
}

// NewNextCollectionSensor creates a sensor for service
func NewNextCollectionSensor(service portal.Service, customerNumber string) *NextCollectionSensor {
	s := &NextCollectionSensor{
		pos:       service.Pos,
		name:      service.Name,
		uniqueID:  fmt.Sprintf("%d@%s", service.Pos, customerNumber),
		available: true,
	}
	s.value = copyDate(service.NextCollection)
	return s
}

// UniqueID returns "<pos>@<customer number>"
func (s *NextCollectionSensor) UniqueID() string { return s.uniqueID }

// Name returns the service name
func (s *NextCollectionSensor) Name() string { return s.name }

// Available reports whether the service was present in the latest snapshot
func (s *NextCollectionSensor) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.available
}

// Value returns the next collection date, nil when unknown
func (s *NextCollectionSensor) Value() *portal.Date {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyDate(s.value)
}

// OnNotify re-reads the service; a missing service makes the sensor unavailable
// and keeps the last value.
func (s *NextCollectionSensor) OnNotify(snapshot *coordinator.Snapshot) {
	data, ok := snapshot.Service(s.pos)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !ok {
		s.available = false
		return
	}
	s.available = true
	s.value = copyDate(data.Service.NextCollection)
}

func copyDate(d *portal.Date) *portal.Date {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
