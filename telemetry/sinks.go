package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hupe1980/verimesh/logging"
)

// LogSink writes every event to a logger.
type LogSink struct {
	logger logging.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger logging.Logger) *LogSink {
	return &LogSink{logger: logging.OrNoOp(logger)}
}

// Handle implements Sink.
func (s *LogSink) Handle(_ context.Context, e Event) error {
	s.logger.Info("telemetry."+string(e.Kind),
		"task_id", e.TaskID,
		"agent_id", e.AgentID,
		"round_count", e.RoundCount,
		"final_score", e.FinalScore,
	)
	return nil
}

// InstrumentationName is the OpenTelemetry meter name.
const InstrumentationName = "github.com/hupe1980/verimesh/telemetry"

// OTelSink records events as OpenTelemetry metrics.
type OTelSink struct {
	rounds     metric.Int64Counter
	accepted   metric.Int64Counter
	exhausted  metric.Int64Counter
	finalScore metric.Float64Histogram
	taskRounds metric.Int64Histogram
}

// NewOTelSink creates the instruments on meter, or on the global meter
// provider when meter is nil.
func NewOTelSink(meter metric.Meter) (*OTelSink, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	s := &OTelSink{}
	var err error

	s.rounds, err = meter.Int64Counter(
		"verimesh.rounds.total",
		metric.WithDescription("Total number of completed rounds"),
		metric.WithUnit("{round}"),
	)
	if err != nil {
		return nil, err
	}

	s.accepted, err = meter.Int64Counter(
		"verimesh.tasks.accepted.total",
		metric.WithDescription("Total number of accepted tasks"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	s.exhausted, err = meter.Int64Counter(
		"verimesh.tasks.exhausted.total",
		metric.WithDescription("Total number of tasks that ran out of rounds or failed"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	s.finalScore, err = meter.Float64Histogram(
		"verimesh.task.final_score",
		metric.WithDescription("Final critique score per task"),
		metric.WithExplicitBucketBoundaries(0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1),
	)
	if err != nil {
		return nil, err
	}

	s.taskRounds, err = meter.Int64Histogram(
		"verimesh.task.rounds",
		metric.WithDescription("Zero-based index of the last round per task"),
		metric.WithUnit("{round}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 3, 5, 8),
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Handle implements Sink.
func (s *OTelSink) Handle(ctx context.Context, e Event) error {
	attrs := metric.WithAttributes(attribute.String("agent_id", e.AgentID))
	switch e.Kind {
	case KindRoundCompleted:
		s.rounds.Add(ctx, 1, attrs)
	case KindTaskAccepted:
		s.accepted.Add(ctx, 1, attrs)
		s.finalScore.Record(ctx, e.FinalScore, attrs)
		s.taskRounds.Record(ctx, int64(e.RoundCount), attrs)
	case KindTaskExhausted:
		s.exhausted.Add(ctx, 1, attrs)
		s.finalScore.Record(ctx, e.FinalScore, attrs)
		s.taskRounds.Record(ctx, int64(e.RoundCount), attrs)
	}
	return nil
}

// PrometheusSink records events as Prometheus metrics.
type PrometheusSink struct {
	events     *prometheus.CounterVec
	finalScore prometheus.Histogram
}

// NewPrometheusSink registers the collectors with reg, or with the default
// registerer when reg is nil. Collectors already registered by an earlier
// sink are reused, so several sinks may share one registerer.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	events, err := register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "verimesh",
			Subsystem: "engine",
			Name:      "events_total",
			Help:      "Total number of lifecycle events by kind",
		},
		[]string{"kind"},
	))
	if err != nil {
		return nil, err
	}
	finalScore, err := register(reg, prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "verimesh",
			Subsystem: "engine",
			Name:      "final_score",
			Help:      "Final critique score of finished tasks",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		},
	))
	if err != nil {
		return nil, err
	}
	return &PrometheusSink{events: events, finalScore: finalScore}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, fmt.Errorf("register prometheus collector: %w", err)
	}
	return c, nil
}

// Handle implements Sink.
func (s *PrometheusSink) Handle(_ context.Context, e Event) error {
	s.events.WithLabelValues(string(e.Kind)).Inc()
	if e.Kind != KindRoundCompleted {
		s.finalScore.Observe(e.FinalScore)
	}
	return nil
}
