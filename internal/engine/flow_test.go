package engine

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/petrijr/strata/internal/persistence"
	"github.com/petrijr/strata/internal/taskqueue"
	"github.com/petrijr/strata/pkg/api"
	"github.com/petrijr/strata/pkg/executor"
)

func TestNewFlow_Validation(t *testing.T) {
	_, err := NewFlow(Config{Name: "demo"})
	require.ErrorIs(t, err, api.ErrStructural, "missing executor")

	_, err = NewFlow(Config{Name: "bad/name", Executor: executor.NewLocal(0, nil)})
	require.ErrorIs(t, err, api.ErrStructural, "invalid flow name")

	f, err := NewFlow(Config{Name: "demo", Executor: executor.NewLocal(0, nil)})
	require.NoError(t, err)
	assert.Equal(t, "demo", f.Name())
}

func TestNewFlow_DurableExecutorNeedsDurableStore(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	q, err := taskqueue.NewSQLiteQueue(db)
	require.NoError(t, err)

	durable := executor.NewQueue(executor.QueueConfig{Queue: q})
	t.Cleanup(func() { _ = durable.Close() })

	_, err = NewFlow(Config{Name: "demo", Executor: durable})
	require.ErrorIs(t, err, api.ErrStructural)
	_, err = NewFlow(Config{Name: "demo", Executor: durable, Store: persistence.NewMemoryStore()})
	require.ErrorIs(t, err, api.ErrStructural)

	backend, err := persistence.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	_, err = NewFlow(Config{Name: "demo", Executor: durable, Store: persistence.NewBlobStore(backend)})
	require.NoError(t, err)

	// The in-memory queue stays in process and may pair with a MemoryStore.
	local := executor.NewQueue(executor.QueueConfig{})
	t.Cleanup(func() { _ = local.Close() })
	_, err = NewFlow(Config{Name: "demo", Executor: local})
	require.NoError(t, err)
}

func TestRegister_Validation(t *testing.T) {
	zero, negative := 0, -1
	cases := []struct {
		name string
		tmpl api.Template
		kind error
	}{
		{"missing namespace", api.Template{Name: "Layer"}, api.ErrLayerDefinition},
		{"bad namespace", api.Template{Name: "my-ns.Layer"}, api.ErrLayerDefinition},
		{"bad class", api.Template{Name: "ns.a/b"}, api.ErrStructural},
		{"reserved input", api.Template{Name: "ns.X", Inputs: []api.Input{in("index", "ns.A")}}, api.ErrStructural},
		{"empty input", api.Template{Name: "ns.X", Inputs: []api.Input{in("", "ns.A")}}, api.ErrStructural},
		{"duplicate input", api.Template{Name: "ns.X", Inputs: []api.Input{in("a", "ns.A"), in("a", "ns.B")}}, api.ErrStructural},
		{"bad input layer", api.Template{Name: "ns.X", Inputs: []api.Input{in("a", "A")}}, api.ErrStructural},
		{
			"foreach over non-input",
			api.Template{Name: "ns.X", Config: api.Configuration{ForEach: []api.Parameter{{Layer: "ns.A", Attribute: "items"}}}},
			api.ErrStructural,
		},
		{
			"foreach reserved attribute",
			api.Template{Name: "ns.X", Inputs: []api.Input{in("a", "ns.A")}, Config: api.Configuration{ForEach: []api.Parameter{{Layer: "ns.A", Attribute: "splits"}}}},
			api.ErrLayerDefinition,
		},
		{
			"foreach attribute with path separator",
			api.Template{Name: "ns.X", Inputs: []api.Input{in("a", "ns.A")}, Config: api.Configuration{ForEach: []api.Parameter{{Layer: "ns.A", Attribute: "../items"}}}},
			api.ErrLayerDefinition,
		},
		{
			"foreach negative index",
			api.Template{Name: "ns.X", Inputs: []api.Input{in("a", "ns.A")}, Config: api.Configuration{ForEach: []api.Parameter{{Layer: "ns.A", Attribute: "items", Index: &negative}}}},
			api.ErrStructural,
		},
		{
			"duplicate foreach parameter",
			api.Template{Name: "ns.X", Inputs: []api.Input{in("a", "ns.A")}, Config: api.Configuration{ForEach: []api.Parameter{
				{Layer: "ns.A", Attribute: "items"},
				{Layer: "ns.A", Attribute: "items", Index: &zero},
			}}},
			api.ErrStructural,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newTestFlow(t, nil, nil, nil)
			err := f.Register(tc.tmpl)
			require.ErrorIs(t, err, tc.kind)
			assert.Empty(t, f.Names())
		})
	}
}

func TestRegister_DuplicateName(t *testing.T) {
	f := newTestFlow(t, nil, nil, nil)
	mustRegister(t, f, api.Template{Name: "ns.A"})
	err := f.Register(api.Template{Name: "ns.A"})
	require.ErrorIs(t, err, api.ErrStructural)
	assert.Equal(t, []string{"ns.A"}, f.Names())
}

func TestRegister_CopiesTemplate(t *testing.T) {
	f := newTestFlow(t, nil, nil, nil)
	inputs := []api.Input{in("a", "ns.A")}
	mustRegister(t, f, api.Template{Name: "ns.B", Inputs: inputs})
	inputs[0].Layer = "ns.Z"

	tmpl, err := f.Template("ns.B")
	require.NoError(t, err)
	assert.Equal(t, "ns.A", tmpl.Inputs[0].Layer)

	_, err = f.Template("ns.Missing")
	require.ErrorIs(t, err, api.ErrUnknownLayer)
	require.ErrorIs(t, err, api.ErrStructural)
}

func TestDependenciesAndDependents(t *testing.T) {
	f := newTestFlow(t, nil, nil, nil)
	mustRegister(t, f,
		api.Template{Name: "ns.A"},
		api.Template{Name: "ns.B", Inputs: []api.Input{in("a", "ns.A"), in("again", "ns.A")}},
		api.Template{Name: "ns.C", Inputs: []api.Input{in("b", "ns.B"), in("a", "ns.A")}},
	)

	deps := f.Dependencies()
	assert.Equal(t, []string{}, deps["ns.A"])
	assert.Equal(t, []string{"ns.A"}, deps["ns.B"])
	assert.Equal(t, []string{"ns.B", "ns.A"}, deps["ns.C"])

	dependents := f.Dependents()
	assert.Equal(t, []string{"ns.B", "ns.C"}, dependents["ns.A"])
	assert.Equal(t, []string{"ns.C"}, dependents["ns.B"])
	assert.Equal(t, []string{}, dependents["ns.C"])
}

func TestLayer_UnknownAndRecordedSplits(t *testing.T) {
	ctx := context.Background()
	f := newTestFlow(t, nil, nil, nil)
	mustRegister(t, f, api.Template{Name: "ns.A", Run: sharder("items", 1, 2, 3)},
		api.Template{Name: "ns.B", Inputs: []api.Input{in("a", "ns.A")}, Config: api.Configuration{
			ForEach: []api.Parameter{{Layer: "ns.A", Attribute: "items"}},
		}},
	)

	_, err := f.Layer(ctx, "ns.Missing", api.Overrides{})
	require.ErrorIs(t, err, api.ErrUnknownLayer)

	exec, err := f.Run(ctx, api.RunOptions{})
	require.NoError(t, err)

	b, err := f.Layer(ctx, "ns.B", api.Overrides{Execution: exec.ID, Index: api.AllSplits})
	require.NoError(t, err)
	assert.Equal(t, 3, b.Splits)
	assert.Equal(t, "demo", b.Flow)

	b, err = f.Layer(ctx, "ns.B", api.Overrides{Execution: exec.ID, Splits: 7})
	require.NoError(t, err)
	assert.Equal(t, 7, b.Splits, "explicit overrides win over the record")
}

func TestLoad_MissingAttribute(t *testing.T) {
	ctx := context.Background()
	f := newTestFlow(t, nil, nil, nil)
	mustRegister(t, f, api.Template{Name: "ns.A", Run: func(ctx context.Context, l *api.Layer) error {
		return l.Set("foo", "bar")
	}})
	exec, err := f.Run(ctx, api.RunOptions{})
	require.NoError(t, err)

	a := splitInstance(t, f, exec.ID, "ns.A", 0)
	_, err = a.Get(ctx, "nope")
	require.ErrorIs(t, err, api.ErrNoAttribute)
	require.ErrorIs(t, err, persistence.ErrNotFound)

	v, err := a.Get(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, "bar", v)
}

func TestExecute_RejectsForeignCoordinates(t *testing.T) {
	f := newTestFlow(t, nil, nil, nil)
	mustRegister(t, f, api.Template{Name: "ns.A"})

	err := f.Execute(context.Background(), api.Coordinates{Flow: "other", Layer: "ns.A"})
	require.ErrorIs(t, err, api.ErrStructural)

	err = f.Execute(context.Background(), api.Coordinates{Flow: "demo", Layer: "ns.B"})
	require.ErrorIs(t, err, api.ErrUnknownLayer)
}

func TestExecute_LayerErrorIsReturned(t *testing.T) {
	f := newTestFlow(t, nil, nil, nil)
	boom := errors.New("boom")
	mustRegister(t, f, api.Template{Name: "ns.A", Run: func(ctx context.Context, l *api.Layer) error {
		return boom
	}})
	err := f.Execute(context.Background(), api.Coordinates{Execution: "e1", Layer: "ns.A"})
	require.ErrorIs(t, err, boom)

	has, err := f.Store().HasRecord(context.Background(), "demo", "e1", "ns.A")
	require.NoError(t, err)
	assert.False(t, has, "a split alone never writes the record")
}
