// Package metrics defines the Prometheus metrics exported for the collection
// schedule and invoice data, plus the exporter's own health metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricDescriptors holds the Prometheus metrics derived from the portal snapshot
type MetricDescriptors struct {
	// Service-level metrics (labels: customer_number, pos, service)
	NextCollectionTimestamp *prometheus.GaugeVec
	ScheduledCollections    *prometheus.GaugeVec

	// Invoice metrics (label: customer_number)
	NextInvoiceDueTimestamp *prometheus.GaugeVec
	Invoices                *prometheus.GaugeVec
}

var serviceLabels = []string{"customer_number", "pos", "service"}

// NewMetricDescriptors creates the snapshot metrics and registers them with reg
func NewMetricDescriptors(reg prometheus.Registerer) (*MetricDescriptors, error) {
	md := NewMetricDescriptorsUnregistered()
	if err := md.RegisterWith(reg); err != nil {
		return nil, err
	}
	return md, nil
}

// NewMetricDescriptorsUnregistered creates the snapshot metrics without registering them
func NewMetricDescriptorsUnregistered() *MetricDescriptors {
	return &MetricDescriptors{
		NextCollectionTimestamp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "jatekukko_next_collection_timestamp_seconds",
				Help: "Unix timestamp (local midnight) of the next scheduled collection",
			},
			serviceLabels,
		),

		ScheduledCollections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "jatekukko_scheduled_collections",
				Help: "Number of collection dates in the fetched schedule",
			},
			serviceLabels,
		),

		NextInvoiceDueTimestamp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "jatekukko_next_invoice_due_timestamp_seconds",
				Help: "Unix timestamp (local midnight) of the earliest upcoming invoice due date",
			},
			[]string{"customer_number"},
		),

		Invoices: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "jatekukko_invoices",
				Help: "Number of invoice headers returned by the portal",
			},
			[]string{"customer_number"},
		),
	}
}

// RegisterWith registers all snapshot metrics with the given registerer
func (md *MetricDescriptors) RegisterWith(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		md.NextCollectionTimestamp,
		md.ScheduledCollections,
		md.NextInvoiceDueTimestamp,
		md.Invoices,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordService records a service's schedule size and, when known, its next
// collection. An unknown next collection removes the series.
func (md *MetricDescriptors) RecordService(customerNumber, pos, name string, scheduled int, next *time.Time) {
	labels := []string{customerNumber, pos, name}
	md.ScheduledCollections.WithLabelValues(labels...).Set(float64(scheduled))
	if next != nil {
		md.NextCollectionTimestamp.WithLabelValues(labels...).Set(float64(next.Unix()))
	} else {
		md.NextCollectionTimestamp.DeleteLabelValues(labels...)
	}
}

// DeleteService removes the series of a service that is no longer reported
func (md *MetricDescriptors) DeleteService(customerNumber, pos, name string) {
	md.ScheduledCollections.DeleteLabelValues(customerNumber, pos, name)
	md.NextCollectionTimestamp.DeleteLabelValues(customerNumber, pos, name)
}

// RecordInvoices records the invoice count and, when known, the next due date.
// An unknown next due date removes the series.
func (md *MetricDescriptors) RecordInvoices(customerNumber string, count int, nextDue *time.Time) {
	md.Invoices.WithLabelValues(customerNumber).Set(float64(count))
	if nextDue != nil {
		md.NextInvoiceDueTimestamp.WithLabelValues(customerNumber).Set(float64(nextDue.Unix()))
	} else {
		md.NextInvoiceDueTimestamp.DeleteLabelValues(customerNumber)
	}
}
