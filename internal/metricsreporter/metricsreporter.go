// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

// Package metricsreporter is the reference MetricsReporter: it records
// every pipeline metric as an OpenTelemetry instrument against the global
// MeterProvider the agent's common/pkg/metrics package installs.
package metricsreporter

import (
	"context"
	"fmt"

	"github.com/edgecheck/updatecheck/internal/omahaclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/edgecheck/updatecheck"

// Reporter implements omahaclient.MetricsReporter over OpenTelemetry
// instruments. Construct it after calling common/pkg/metrics.Init so that
// otel.Meter resolves against the real MeterProvider.
type Reporter struct {
	checkInterval       metric.Float64Histogram
	responseTime        metric.Float64Histogram
	retries             metric.Int64Counter
	failureReason       metric.Int64Counter
	attemptsToSucceed    metric.Int64Histogram
	failedUpdateDuration metric.Float64Histogram
	successDuration      metric.Float64Histogram
	successFromFirstSeen metric.Float64Histogram
}

// New builds a Reporter, registering one instrument per omahaclient.MetricName.
func New() (*Reporter, error) {
	meter := otel.Meter(meterName)

	checkInterval, err := meter.Float64Histogram("updatecheck.check_interval_seconds")
	if err != nil {
		return nil, fmt.Errorf("registering check_interval_seconds: %w", err)
	}
	responseTime, err := meter.Float64Histogram("updatecheck.response_time_seconds")
	if err != nil {
		return nil, fmt.Errorf("registering response_time_seconds: %w", err)
	}
	retries, err := meter.Int64Counter("updatecheck.retries_total")
	if err != nil {
		return nil, fmt.Errorf("registering retries_total: %w", err)
	}
	failureReason, err := meter.Int64Counter("updatecheck.failures_total")
	if err != nil {
		return nil, fmt.Errorf("registering failures_total: %w", err)
	}
	attemptsToSucceed, err := meter.Int64Histogram("updatecheck.attempts_to_succeed")
	if err != nil {
		return nil, fmt.Errorf("registering attempts_to_succeed: %w", err)
	}
	failedUpdateDuration, err := meter.Float64Histogram("updatecheck.failed_update_duration_seconds")
	if err != nil {
		return nil, fmt.Errorf("registering failed_update_duration_seconds: %w", err)
	}
	successDuration, err := meter.Float64Histogram("updatecheck.successful_update_duration_seconds")
	if err != nil {
		return nil, fmt.Errorf("registering successful_update_duration_seconds: %w", err)
	}
	successFromFirstSeen, err := meter.Float64Histogram("updatecheck.successful_update_from_first_seen_seconds")
	if err != nil {
		return nil, fmt.Errorf("registering successful_update_from_first_seen_seconds: %w", err)
	}

	return &Reporter{
		checkInterval:        checkInterval,
		responseTime:         responseTime,
		retries:              retries,
		failureReason:        failureReason,
		attemptsToSucceed:    attemptsToSucceed,
		failedUpdateDuration: failedUpdateDuration,
		successDuration:      successDuration,
		successFromFirstSeen: successFromFirstSeen,
	}, nil
}

// ReportMetrics records m against the instrument matching its Name.
func (r *Reporter) ReportMetrics(ctx context.Context, m omahaclient.Metric) error {
	switch m.Name {
	case omahaclient.MetricUpdateCheckInterval:
		r.checkInterval.Record(ctx, m.Dur.Seconds())
	case omahaclient.MetricUpdateCheckResponseTime:
		r.responseTime.Record(ctx, m.Dur.Seconds())
	case omahaclient.MetricUpdateCheckRetries:
		r.retries.Add(ctx, m.Int)
	case omahaclient.MetricUpdateCheckFailureReason:
		r.failureReason.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", m.Reason.String())))
	case omahaclient.MetricAttemptsToSucceed:
		r.attemptsToSucceed.Record(ctx, m.Int)
	case omahaclient.MetricFailedUpdateDuration:
		r.failedUpdateDuration.Record(ctx, m.Dur.Seconds())
	case omahaclient.MetricSuccessfulUpdateDuration:
		r.successDuration.Record(ctx, m.Dur.Seconds())
	case omahaclient.MetricSuccessfulUpdateFromFirstSeen:
		r.successFromFirstSeen.Record(ctx, m.Dur.Seconds())
	default:
		return fmt.Errorf("unknown metric name %d", m.Name)
	}
	return nil
}
