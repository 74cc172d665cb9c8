package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer captures telemetry for mapper operations.
type Observer interface {
	RecordUpload(duration time.Duration, sizeBytes uint64, err error)
	RecordDelete(duration time.Duration, err error)
	RecordFetch(duration time.Duration, sizeBytes uint64, err error)
}

// PrometheusObserver exports mapper metrics to Prometheus.
type PrometheusObserver struct {
	operationDuration *prometheus.HistogramVec
	operationErrors   *prometheus.CounterVec
	transferredBytes  *prometheus.CounterVec
}

// NewPrometheusObserver registers upload/delete/fetch metrics.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "artifact_storage"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	observer := &PrometheusObserver{
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency for storage mapper operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		operationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Count of storage mapper failures.",
		}, []string{"operation"}),
		transferredBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transferred_bytes_total",
			Help:      "Cumulative payload bytes moved through the mapper.",
		}, []string{"operation"}),
	}
	if err := reg.Register(observer.operationDuration); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			observer.operationDuration = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			return nil, fmt.Errorf("register storage metric: %w", err)
		}
	}
	if err := reg.Register(observer.operationErrors); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			observer.operationErrors = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, fmt.Errorf("register storage metric: %w", err)
		}
	}
	if err := reg.Register(observer.transferredBytes); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			observer.transferredBytes = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, fmt.Errorf("register storage metric: %w", err)
		}
	}
	return observer, nil
}

// RecordUpload tracks upload duration, size, and failures.
func (o *PrometheusObserver) RecordUpload(duration time.Duration, sizeBytes uint64, err error) {
	if o == nil {
		return
	}
	o.operationDuration.WithLabelValues("upload").Observe(duration.Seconds())
	if err != nil {
		o.operationErrors.WithLabelValues("upload").Inc()
		return
	}
	o.transferredBytes.WithLabelValues("upload").Add(float64(sizeBytes))
}

// RecordDelete tracks delete latency and failures.
func (o *PrometheusObserver) RecordDelete(duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.operationDuration.WithLabelValues("delete").Observe(duration.Seconds())
	if err != nil {
		o.operationErrors.WithLabelValues("delete").Inc()
	}
}

// RecordFetch tracks ephemeral download latency, size, and failures.
func (o *PrometheusObserver) RecordFetch(duration time.Duration, sizeBytes uint64, err error) {
	if o == nil {
		return
	}
	o.operationDuration.WithLabelValues("fetch").Observe(duration.Seconds())
	if err != nil {
		o.operationErrors.WithLabelValues("fetch").Inc()
		return
	}
	o.transferredBytes.WithLabelValues("fetch").Add(float64(sizeBytes))
}

type nopObserver struct{}

func (nopObserver) RecordUpload(time.Duration, uint64, error) {}

func (nopObserver) RecordDelete(time.Duration, error) {}

func (nopObserver) RecordFetch(time.Duration, uint64, error) {}

// NopObserver returns an Observer that discards all measurements.
func NopObserver() Observer {
	return nopObserver{}
}

// ObservedMapper decorates a Mapper with an Observer.
type ObservedMapper struct {
	delegate Mapper
	observer Observer
}

// NewObservedMapper wires telemetry around a mapper.
func NewObservedMapper(delegate Mapper, observer Observer) *ObservedMapper {
	if observer == nil {
		observer = NopObserver()
	}
	return &ObservedMapper{delegate: delegate, observer: observer}
}

func (m *ObservedMapper) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	start := time.Now()
	result, err := m.delegate.Upload(ctx, req)
	m.observer.RecordUpload(time.Since(start), result.SizeBytes, err)
	return result, err
}

func (m *ObservedMapper) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := m.delegate.Delete(ctx, key)
	m.observer.RecordDelete(time.Since(start), err)
	return err
}

var _ Mapper = (*ObservedMapper)(nil)

// ObservedFetcher decorates a Fetcher with an Observer.
type ObservedFetcher struct {
	delegate Fetcher
	observer Observer
}

// NewObservedFetcher wires telemetry around a fetcher.
func NewObservedFetcher(delegate Fetcher, observer Observer) *ObservedFetcher {
	if observer == nil {
		observer = NopObserver()
	}
	return &ObservedFetcher{delegate: delegate, observer: observer}
}

func (f *ObservedFetcher) Fetch(ctx context.Context, ephemeralURL string) ([]byte, string, error) {
	start := time.Now()
	data, contentType, err := f.delegate.Fetch(ctx, ephemeralURL)
	f.observer.RecordFetch(time.Since(start), uint64(len(data)), err)
	return data, contentType, err
}

var _ Fetcher = (*ObservedFetcher)(nil)
