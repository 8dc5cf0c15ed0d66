package coordinator

import (
	"strconv"
	"sync"
	"time"

	"github.com/andreweacott/jatekukko-exporter/pkg/metrics"
	"github.com/andreweacott/jatekukko-exporter/pkg/portal"
)

// NewMetricsListener returns a Listener that exports each new Snapshot as
// Prometheus gauges. Dates are exported as local midnight in loc. Series of
// services missing from a newer Snapshot are deleted; the rest are updated in
// place so a scrape never sees them absent.
func NewMetricsListener(md *metrics.MetricDescriptors, customerNumber string, loc *time.Location, now func() time.Time) Listener {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}

	var (
		mu       sync.Mutex
		recorded = map[serviceSeries]struct{}{}
	)

	return func(snapshot *Snapshot) {
		mu.Lock()
		defer mu.Unlock()

		today := portal.DateOf(now().In(loc))
		current := make(map[serviceSeries]struct{}, len(snapshot.Services))

		for pos, data := range snapshot.Services {
			next := data.Service.NextCollection
			if next == nil {
				next = earliestFrom(data.CollectionSchedule, today)
			}
			var nextTime *time.Time
			if next != nil {
				t := next.In(loc)
				nextTime = &t
			}
			series := serviceSeries{pos: strconv.Itoa(pos), name: data.Service.Name}
			md.RecordService(customerNumber, series.pos, series.name, len(data.CollectionSchedule), nextTime)
			current[series] = struct{}{}
		}
		for series := range recorded {
			if _, ok := current[series]; !ok {
				md.DeleteService(customerNumber, series.pos, series.name)
			}
		}
		recorded = current

		dueDates := make([]portal.Date, 0, len(snapshot.InvoiceHeaders))
		for _, header := range snapshot.InvoiceHeaders {
			dueDates = append(dueDates, header.DueDate)
		}
		var nextDue *time.Time
		if due := earliestFrom(dueDates, today); due != nil {
			t := due.In(loc)
			nextDue = &t
		}
		md.RecordInvoices(customerNumber, len(snapshot.InvoiceHeaders), nextDue)
	}
}

// serviceSeries identifies the label set of one exported service
type serviceSeries struct {
	pos  string
	name string
}

// earliestFrom returns the earliest date on or after today, nil if there is none
func earliestFrom(dates []portal.Date, today portal.Date) *portal.Date {
	var earliest *portal.Date
	for i := range dates {
		if dates[i].Before(today) {
			continue
		}
		if earliest == nil || dates[i].Before(*earliest) {
			earliest = &dates[i]
		}
	}
	return earliest
}
