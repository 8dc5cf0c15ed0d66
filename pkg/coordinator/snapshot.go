package coordinator

import (
	"time"

	"github.com/andreweacott/jatekukko-exporter/pkg/portal"
)

// ServiceData pairs a service with its collection schedule as fetched, unsorted
type ServiceData struct {
	Service            portal.Service
	CollectionSchedule []portal.Date
}

// Snapshot is the result of one successful refresh. It is replaced as a whole on
// the next successful refresh and must be treated as read-only by consumers.
type Snapshot struct {
	Services       map[int]ServiceData
	InvoiceHeaders []portal.InvoiceHeader
	FetchedAt      time.Time
}

// Service looks up the data of one service by its position
func (s *Snapshot) Service(pos int) (ServiceData, bool) {
	if s == nil {
		return ServiceData{}, false
	}
	data, ok := s.Services[pos]
	return data, ok
}
