package verimesh

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/verimesh/config"
	"github.com/hupe1980/verimesh/core"
	"github.com/hupe1980/verimesh/durable"
	"github.com/hupe1980/verimesh/internal/testutil"
	"github.com/hupe1980/verimesh/memory"
	"github.com/hupe1980/verimesh/model"
	"github.com/hupe1980/verimesh/schema"
	"github.com/hupe1980/verimesh/telemetry"
)

// roleModel critiques every candidate with score and otherwise answers
// output, both for the executor and the editor.
func roleModel(output string, score float64) *model.FuncModel {
	return model.NewFuncModel(func(_ context.Context, req model.Request) (model.Response, error) {
		if strings.HasPrefix(req.Instructions, "You are a strict reviewer") {
			return model.TextResponse(testutil.CritiqueReply(score).Text), nil
		}
		return model.TextResponse(output), nil
	})
}

func countTask(id string) *core.Task {
	return testutil.NewTaskBuilder("Count the words in: the quick brown fox").
		ID(id).
		Field("count", schema.TypeInteger).
		Build()
}

func TestNew_RequiresModel(t *testing.T) {
	_, err := New()
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Rounds.Threshold = 2
	_, err := New(func(o *Options) {
		o.Model = roleModel("{}", 1)
		o.Config = &cfg
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rounds.threshold")
}

func TestExecute_Accepted(t *testing.T) {
	var (
		mu     sync.Mutex
		events []telemetry.Event
	)
	sink := telemetry.SinkFunc(func(_ context.Context, e telemetry.Event) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
		return nil
	})
	store := memory.NewInMemoryStore()

	mesh, err := New(func(o *Options) {
		o.Model = roleModel(`{"count": 4}`, 0.95)
		o.MemoryStore = store
		o.TelemetrySinks = []telemetry.Sink{sink}
	})
	require.NoError(t, err)

	task := countTask("count")
	identity := core.AgentIdentity{AgentID: "counter", MemoryEnabled: true}
	res, err := mesh.Execute(context.Background(), task, identity)
	require.NoError(t, err)
	require.NoError(t, mesh.Close(context.Background()))

	assert.True(t, res.Accepted)
	assert.Equal(t, 0, res.RoundCount)
	assert.EqualValues(t, 4, res.ParsedOutput["count"])
	assert.Same(t, res, task.Response())
	assert.Equal(t, 1, store.Len("counter"))

	mu.Lock()
	defer mu.Unlock()
	var kinds []telemetry.Kind
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []telemetry.Kind{telemetry.KindRoundCompleted, telemetry.KindTaskAccepted}, kinds)
}

func TestExecute_NotAcceptedIsAResult(t *testing.T) {
	cfg := config.Default()
	cfg.Rounds.MaxRounds = 2

	mesh, err := New(func(o *Options) {
		o.Model = roleModel(`{"count": 4}`, 0.2)
		o.Config = &cfg
	})
	require.NoError(t, err)
	defer mesh.Close(context.Background())

	res, err := mesh.Execute(context.Background(), countTask("low"), testutil.Agent("counter"))
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, 1, res.RoundCount)
	assert.Len(t, res.CritiqueHistory, 2)
}

func TestExecute_InvalidInput(t *testing.T) {
	mesh, err := New(func(o *Options) { o.Model = roleModel("{}", 1) })
	require.NoError(t, err)
	defer mesh.Close(context.Background())

	_, err = mesh.Execute(context.Background(), nil, testutil.Agent("a"))
	assert.Error(t, err)

	_, err = mesh.Execute(context.Background(), countTask("x"), core.AgentIdentity{})
	assert.ErrorIs(t, err, core.ErrInvalidAgent)
}

func TestDispatch(t *testing.T) {
	mesh, err := New(func(o *Options) { o.Model = roleModel(`{"count": 4}`, 0.9) })
	require.NoError(t, err)
	defer mesh.Close(context.Background())

	require.NoError(t, mesh.Register(testutil.Agent("counter", "count", "words")))
	require.NoError(t, mesh.Register(testutil.Agent("poet", "poem")))

	tasks := []*core.Task{countTask("t1"), countTask("t2")}
	assignment, results, err := mesh.Dispatch(context.Background(), tasks, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, task := range tasks {
		agentID, ok := assignment.AgentFor(task.ID)
		require.True(t, ok)
		assert.Equal(t, "counter", agentID)
		assert.True(t, results[task.ID].Accepted)
	}
}

func TestNew_SQLiteStoresFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Memory = config.MemoryConfig{Enabled: true, Backend: config.BackendSQLite, Path: ":memory:", RecallK: 2}
	cfg.Durable = config.DurableConfig{Enabled: true, Backend: config.BackendSQLite, Path: ":memory:"}
	cfg.Telemetry.Enabled = false

	mesh, err := New(func(o *Options) {
		o.Model = roleModel(`{"count": 4}`, 0.9)
		o.Config = &cfg
	})
	require.NoError(t, err)
	assert.Len(t, mesh.closers, 2)

	identity := core.AgentIdentity{AgentID: "counter", MemoryEnabled: true}
	for _, id := range []string{"a", "b"} {
		res, err := mesh.Execute(context.Background(), countTask(id), identity)
		require.NoError(t, err)
		assert.True(t, res.Accepted)
	}
	require.NoError(t, mesh.Close(context.Background()))
	assert.Empty(t, mesh.closers)
}

func TestNew_PrometheusSharedRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := config.Default()
	cfg.Telemetry.Prometheus = true

	var meshes []*Mesh
	for i := 0; i < 2; i++ {
		mesh, err := New(func(o *Options) {
			o.Model = roleModel(`{"count": 4}`, 0.9)
			o.Config = &cfg
			o.PrometheusRegisterer = reg
		})
		require.NoError(t, err)
		meshes = append(meshes, mesh)
	}

	for i, mesh := range meshes {
		_, err := mesh.Execute(context.Background(), countTask(fmt.Sprintf("t-%d", i)), core.AgentIdentity{AgentID: "counter"})
		require.NoError(t, err)
		require.NoError(t, mesh.Close(context.Background()))
	}

	count, err := promtestutil.GatherAndCount(reg, "verimesh_engine_final_score")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "verimesh_engine_final_score" {
			assert.Equal(t, uint64(2), mf.GetMetric()[0].GetHistogram().GetSampleCount())
		}
	}
}

func TestNew_PrometheusConflictingCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{Name: "verimesh_engine_events_total", Help: "other"}))
	cfg := config.Default()
	cfg.Telemetry.Prometheus = true

	_, err := New(func(o *Options) {
		o.Model = roleModel(`{"count": 4}`, 0.9)
		o.Config = &cfg
		o.PrometheusRegisterer = reg
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "register prometheus collector")
}

func TestMesh_ExecutionAndCleanup(t *testing.T) {
	cfg := config.Default()
	cfg.Durable = config.DurableConfig{Enabled: true, Backend: config.BackendMemory}
	cfg.Telemetry.Enabled = false
	store := durable.NewInMemoryStore()

	mesh, err := New(func(o *Options) {
		o.Model = roleModel(`{"count": 4}`, 0.9)
		o.Config = &cfg
		o.CheckpointStore = store
	})
	require.NoError(t, err)
	defer mesh.Close(context.Background()) //nolint:errcheck

	_, err = mesh.Execute(context.Background(), countTask("kept"), core.AgentIdentity{AgentID: "counter"})
	require.NoError(t, err)

	done, err := store.List(context.Background(), core.StatusCompleted, 0)
	require.NoError(t, err)
	require.Len(t, done, 1)

	exec, err := mesh.Execution(context.Background(), done[0].ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, "kept", exec.Last().TaskID)

	n, err := mesh.CleanupExecutions(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = mesh.CleanupExecutions(context.Background(), -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMesh_CleanupWithoutCheckpoints(t *testing.T) {
	cfg := config.Default()
	cfg.Telemetry.Enabled = false
	mesh, err := New(func(o *Options) {
		o.Model = roleModel(`{"count": 4}`, 0.9)
		o.Config = &cfg
	})
	require.NoError(t, err)

	n, err := mesh.CleanupExecutions(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = mesh.Execution(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrCheckpointNotFound)
}
