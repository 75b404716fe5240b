package slackbot

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics keeps in-process counters for the handler
type Metrics struct {
	Events         atomic.Int64
	Polls          atomic.Int64
	Notices        atomic.Int64
	Errors         atomic.Int64
	TotalLatencyNs atomic.Int64
}

func (m *Metrics) RecordEvent() { m.Events.Add(1) }
func (m *Metrics) RecordPoll()  { m.Polls.Add(1) }
func (m *Metrics) RecordNotice() {
	m.Notices.Add(1)
}
func (m *Metrics) RecordError() { m.Errors.Add(1) }
func (m *Metrics) RecordLatency(d time.Duration) {
	m.TotalLatencyNs.Add(d.Nanoseconds())
}

var (
	slackMetricsOnce      sync.Once
	slackEventCounter     metric.Int64Counter
	slackErrorCounter     metric.Int64Counter
	slackPollCounter      metric.Int64Counter
	slackLatencyHistogram metric.Float64Histogram
)

func initSlackOTelMetrics() {
	slackMetricsOnce.Do(func() {
		meter := otel.Meter("slackvote/slackbot")

		var err error
		slackEventCounter, err = meter.Int64Counter(
			"slackvote.slack.events.total",
			metric.WithDescription("Total Slack event callbacks handled"),
		)
		if err != nil {
			log.Printf("observability: failed to create slack event counter: %v", err)
		}

		slackErrorCounter, err = meter.Int64Counter(
			"slackvote.slack.errors.total",
			metric.WithDescription("Total failures caught while creating polls"),
		)
		if err != nil {
			log.Printf("observability: failed to create slack error counter: %v", err)
		}

		slackPollCounter, err = meter.Int64Counter(
			"slackvote.polls.created.total",
			metric.WithDescription("Total poll messages posted"),
		)
		if err != nil {
			log.Printf("observability: failed to create poll counter: %v", err)
		}

		slackLatencyHistogram, err = meter.Float64Histogram(
			"slackvote.slack.handle_time",
			metric.WithDescription("Slack event handling time (ms)"),
			metric.WithUnit("ms"),
		)
		if err != nil {
			log.Printf("observability: failed to create slack latency histogram: %v", err)
		}
	})
}

func recordSlackMetrics(ctx context.Context, attrs []attribute.KeyValue, duration time.Duration, hadError, pollCreated bool) {
	initSlackOTelMetrics()
	if slackEventCounter != nil {
		slackEventCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if slackLatencyHistogram != nil {
		slackLatencyHistogram.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	}
	if hadError && slackErrorCounter != nil {
		slackErrorCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if pollCreated && slackPollCounter != nil {
		slackPollCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
