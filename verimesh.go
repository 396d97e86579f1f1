// Package verimesh is the caller-facing entry point of the reliability
// orchestration engine.
//
// A Mesh wires one model gateway into the executor, verifier and editor
// agents, wraps them in a round controller and runs tasks through the
// engine:
//
//	mesh, err := verimesh.New(func(o *verimesh.Options) {
//	    o.Model = openai.NewModel()
//	})
//	if err != nil {
//	    return err
//	}
//	defer mesh.Close(ctx)
//
//	task := core.NewTask("Count the words in the text", schema.New(schema.Field("count", schema.TypeInteger)))
//	result, err := mesh.Execute(ctx, task, core.AgentIdentity{AgentID: "counter"})
//
// The error return of Execute and Dispatch is reserved for invalid input
// and cancellation. A task that could not be accepted still yields a
// result with Accepted=false.
package verimesh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/verimesh/agent"
	"github.com/hupe1980/verimesh/compress"
	"github.com/hupe1980/verimesh/config"
	"github.com/hupe1980/verimesh/core"
	"github.com/hupe1980/verimesh/dispatch"
	"github.com/hupe1980/verimesh/durable"
	"github.com/hupe1980/verimesh/engine"
	"github.com/hupe1980/verimesh/evaluation"
	"github.com/hupe1980/verimesh/logging"
	"github.com/hupe1980/verimesh/memory"
	"github.com/hupe1980/verimesh/model"
	"github.com/hupe1980/verimesh/telemetry"
	"github.com/hupe1980/verimesh/tool"
)

// ErrNoModel is returned by New when no model is configured.
var ErrNoModel = errors.New("verimesh: no model configured")

// Options configures a Mesh. Only Model is required.
type Options struct {
	Model model.Model
	// Config defaults to config.Default().
	Config *config.Config

	// MemoryStore overrides the store selected by Config.Memory.
	MemoryStore core.MemoryStore
	// CheckpointStore overrides the store selected by Config.Durable.
	CheckpointStore core.CheckpointStore
	Tools           tool.Collaborator
	// Verifier defaults to a ModelVerifier on the same gateway.
	Verifier   evaluation.Verifier
	Summarizer compress.Summarizer
	// Instruction overrides the executor's default agent instruction.
	Instruction agent.Instruction

	TelemetrySinks       []telemetry.Sink
	PrometheusRegisterer prometheus.Registerer
	MeterProvider        metric.MeterProvider
	TracerProvider       trace.TracerProvider
	Logger               logging.Logger
}

// Mesh runs tasks through the reliability loop.
type Mesh struct {
	engine      *engine.Engine
	emitter     *telemetry.Emitter
	checkpoints core.CheckpointStore
	closers     []io.Closer
	logger      logging.Logger
}

// New builds a Mesh from options.
func New(optFns ...func(o *Options)) (*Mesh, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Model == nil {
		return nil, ErrNoModel
	}
	cfg := config.Default()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("verimesh: %w", err)
	}
	logger := logging.OrNoOp(opts.Logger)

	m := &Mesh{logger: logger}
	ctx := context.Background()

	memStore := opts.MemoryStore
	if memStore == nil && cfg.Memory.Enabled {
		store, closer, err := openMemory(ctx, cfg.Memory)
		if err != nil {
			return nil, err
		}
		memStore = store
		m.own(closer)
	}

	checkpoints := opts.CheckpointStore
	if checkpoints == nil && cfg.Durable.Enabled {
		store, closer, err := openCheckpoints(ctx, cfg.Durable)
		if err != nil {
			m.closeOwned()
			return nil, err
		}
		checkpoints = store
		m.own(closer)
	}
	m.checkpoints = checkpoints

	emitter, err := newEmitter(cfg.Telemetry, opts, logger)
	if err != nil {
		m.closeOwned()
		return nil, err
	}
	m.emitter = emitter

	gateway := model.NewGateway(opts.Model, func(o *model.GatewayOptions) {
		o.Timeout = cfg.Gateway.Timeout
		o.RatePerSecond = cfg.Gateway.RatePerSecond
		o.Burst = cfg.Gateway.Burst
		o.Logger = logger
	})

	summarizer := opts.Summarizer
	if summarizer == nil && cfg.Compression.Summarize {
		summarizer = compress.NewModelSummarizer(gateway, cfg.Gateway.Timeout)
	}
	compressor := compress.New(func(o *compress.Options) {
		o.Summarizer = summarizer
		o.MinSummaryTokens = cfg.Compression.MinSummaryTokens
		o.Logger = logger
	})

	executor := agent.NewExecutor(gateway, func(o *agent.ExecutorOptions) {
		o.Instruction = opts.Instruction
		o.Tools = opts.Tools
		o.MaxToolTurns = cfg.Gateway.MaxToolTurns
		o.Timeout = cfg.Gateway.Timeout
		o.Compressor = compressor
		o.BudgetTokens = cfg.Compression.BudgetTokens
		o.Logger = logger
	})

	verifier := opts.Verifier
	if verifier == nil {
		verifier = evaluation.NewModelVerifier(gateway, func(o *evaluation.VerifierOptions) {
			o.Timeout = cfg.Gateway.Timeout
			o.Logger = logger
		})
	}

	editor := agent.NewEditor(gateway, func(o *agent.EditorOptions) {
		o.Timeout = cfg.Gateway.Timeout
		o.Logger = logger
	})

	controller := agent.NewRoundController(executor, verifier, editor, func(o *agent.ControllerOptions) {
		o.MaxRounds = cfg.Rounds.MaxRounds
		o.Threshold = cfg.Rounds.Threshold
		o.MaxRetries = cfg.Retry.MaxRetries
		o.InitialBackoff = cfg.Retry.InitialBackoff
		o.MaxBackoff = cfg.Retry.MaxBackoff
		o.Memory = memStore
		o.RecallK = cfg.Memory.RecallK
		o.Checkpoints = checkpoints
		o.AutoCleanup = cfg.Durable.AutoCleanup
		o.Telemetry = emitter
		o.Logger = logger
	})

	m.engine = engine.New(controller, func(o *engine.Options) {
		o.Concurrency = cfg.Dispatch.Concurrency
		o.Dispatcher = dispatch.New(func(o *dispatch.Options) {
			o.MinOverlap = cfg.Dispatch.MinOverlap
			o.DefaultAgent = cfg.Dispatch.DefaultAgent
			o.Logger = logger
		})
		o.TracerProvider = opts.TracerProvider
		o.Logger = logger
	})
	return m, nil
}

func openMemory(ctx context.Context, cfg config.MemoryConfig) (core.MemoryStore, io.Closer, error) {
	withRetention := func(o *memory.Options) { o.MaxRecordsPerAgent = cfg.MaxRecordsPerAgent }
	if cfg.Backend == config.BackendSQLite {
		store, err := memory.NewSQLiteStore(ctx, cfg.Path, withRetention)
		if err != nil {
			return nil, nil, fmt.Errorf("verimesh: open memory store: %w", err)
		}
		return store, store, nil
	}
	return memory.NewInMemoryStore(withRetention), nil, nil
}

func openCheckpoints(ctx context.Context, cfg config.DurableConfig) (core.CheckpointStore, io.Closer, error) {
	if cfg.Backend == config.BackendSQLite {
		store, err := durable.NewSQLiteStore(ctx, cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("verimesh: open checkpoint store: %w", err)
		}
		return store, store, nil
	}
	return durable.NewInMemoryStore(), nil, nil
}

func newEmitter(cfg config.TelemetryConfig, opts Options, logger logging.Logger) (*telemetry.Emitter, error) {
	sinks := append([]telemetry.Sink(nil), opts.TelemetrySinks...)
	if cfg.Enabled {
		if cfg.Log {
			sinks = append(sinks, telemetry.NewLogSink(logger))
		}
		if cfg.Prometheus {
			sink, err := telemetry.NewPrometheusSink(opts.PrometheusRegisterer)
			if err != nil {
				return nil, fmt.Errorf("verimesh: %w", err)
			}
			sinks = append(sinks, sink)
		}
		if cfg.OTel {
			var meter metric.Meter
			if opts.MeterProvider != nil {
				meter = opts.MeterProvider.Meter(telemetry.InstrumentationName)
			}
			sink, err := telemetry.NewOTelSink(meter)
			if err != nil {
				return nil, fmt.Errorf("verimesh: %w", err)
			}
			sinks = append(sinks, sink)
		}
	}
	return telemetry.New(sinks, func(o *telemetry.Options) {
		o.Enabled = cfg.Enabled
		o.BufferSize = cfg.BufferSize
		o.Logger = logger
	}), nil
}

func (m *Mesh) own(c io.Closer) {
	if c != nil {
		m.closers = append(m.closers, c)
	}
}

func (m *Mesh) closeOwned() error {
	var errs []error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.closers = nil
	return errors.Join(errs...)
}

// Register adds an agent identity used by Dispatch when no agents are given.
func (m *Mesh) Register(identity core.AgentIdentity) error { return m.engine.Register(identity) }

// Engine exposes the underlying engine, e.g. to add callbacks.
func (m *Mesh) Engine() *engine.Engine { return m.engine }

// Execute runs one task as identity.
func (m *Mesh) Execute(ctx context.Context, task *core.Task, identity core.AgentIdentity) (*core.TaskResult, error) {
	return m.engine.Execute(ctx, task, identity)
}

// Dispatch assigns tasks to agents and runs them concurrently. Results are
// keyed by task id.
func (m *Mesh) Dispatch(ctx context.Context, tasks []*core.Task, agents []core.AgentIdentity) (*dispatch.Assignment, map[string]*core.TaskResult, error) {
	return m.engine.Dispatch(ctx, tasks, agents)
}

// Execution re-attaches to a stored execution by id.
func (m *Mesh) Execution(ctx context.Context, executionID string) (*durable.Execution, error) {
	return durable.LoadExecution(ctx, m.checkpoints, executionID, func(o *durable.ExecutionOptions) {
		o.Logger = m.logger
	})
}

// CleanupExecutions deletes finished checkpoints older than age and returns
// how many were removed. Without a checkpoint store it does nothing.
func (m *Mesh) CleanupExecutions(ctx context.Context, age time.Duration) (int, error) {
	if m.checkpoints == nil {
		return 0, nil
	}
	n, err := m.checkpoints.DeleteOlderThan(ctx, time.Now().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("verimesh: cleanup executions: %w", err)
	}
	m.logger.Info("durable.cleanup.completed", "deleted", n, "older_than", age.String())
	return n, nil
}

// Stop cancels the running execution of taskID.
func (m *Mesh) Stop(taskID string) error { return m.engine.Stop(taskID) }

// Close flushes telemetry and closes the stores the Mesh opened itself.
// Stores passed in through Options are left open.
func (m *Mesh) Close(ctx context.Context) error {
	return errors.Join(m.emitter.Close(ctx), m.closeOwned())
}
