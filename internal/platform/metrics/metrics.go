package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns the LabFlow collectors.
type Registry struct {
	reg *prometheus.Registry

	OrdersCreated       prometheus.Counter
	SamplesAccessioned  prometheus.Counter
	AccessionConflicts  prometheus.Counter
	ResultsVerified     prometheus.Counter
	DeltaCheckFlags     prometheus.Counter
	AbnormalResults     prometheus.Counter
	PaymentsRecorded    prometheus.Counter
	WriteConflicts      prometheus.Counter
	HTTPRequestDuration *prometheus.HistogramVec
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	m := &Registry{
		reg:                r,
		OrdersCreated:      prometheus.NewCounter(prometheus.CounterOpts{Name: "labflow_orders_created_total"}),
		SamplesAccessioned: prometheus.NewCounter(prometheus.CounterOpts{Name: "labflow_samples_accessioned_total"}),
		AccessionConflicts: prometheus.NewCounter(prometheus.CounterOpts{Name: "labflow_accession_conflicts_total"}),
		ResultsVerified:    prometheus.NewCounter(prometheus.CounterOpts{Name: "labflow_results_verified_total"}),
		DeltaCheckFlags:    prometheus.NewCounter(prometheus.CounterOpts{Name: "labflow_delta_check_flags_total"}),
		AbnormalResults:    prometheus.NewCounter(prometheus.CounterOpts{Name: "labflow_abnormal_results_total"}),
		PaymentsRecorded:   prometheus.NewCounter(prometheus.CounterOpts{Name: "labflow_payments_recorded_total"}),
		WriteConflicts:     prometheus.NewCounter(prometheus.CounterOpts{Name: "labflow_write_conflicts_total"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "labflow_http_request_duration_seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	r.MustRegister(
		m.OrdersCreated, m.SamplesAccessioned, m.AccessionConflicts, m.ResultsVerified,
		m.DeltaCheckFlags, m.AbnormalResults, m.PaymentsRecorded, m.WriteConflicts,
		m.HTTPRequestDuration,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
