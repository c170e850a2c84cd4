package capgate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/capgate/internal/analysis"
	"github.com/jward/capgate/internal/config"
	"github.com/jward/capgate/internal/ref"
	"github.com/jward/capgate/internal/store"
	"github.com/jward/capgate/internal/unit"
)

var testUnits = filepath.Join("testdata", "units")

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	all := append([]Option{WithLoader(unit.DirLoader(testUnits))}, opts...)
	e, err := New(all...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func depStrings(t *testing.T, e *Engine, name string) []string {
	t.Helper()
	deps, ok := e.DependencySet(name)
	require.True(t, ok, "dependency set of %s", name)
	out := make([]string, len(deps))
	for i, d := range deps {
		out[i] = d.String()
	}
	return out
}

func TestNew_RequiresLoader(t *testing.T) {
	_, err := New()
	assert.ErrorContains(t, err, "no unit loader")
}

func TestNew_InvalidStorePath(t *testing.T) {
	_, err := New(WithLoader(unit.MapLoader{}), WithStore("/nonexistent/dir/db.sqlite", ""))
	require.Error(t, err)
}

func TestNew_MissingScript(t *testing.T) {
	_, err := New(WithLoader(unit.MapLoader{}), WithScripts(t.TempDir(), "hooks/missing.risor"))
	assert.ErrorContains(t, err, "hook script")
}

func TestIsImplemented_FollowsRegistrations(t *testing.T) {
	e := newTestEngine(t)
	a := ref.NewMethod("test/Abc", "a", "()V", false)
	d := ref.NewMethod("test/Abc", "d", "()T", false)
	greeting := ref.NewMethod("test/Abc", "greeting", "()T", false)

	assert.False(t, e.IsImplemented(a))
	assert.True(t, e.IsImplemented(greeting), "working default")

	assert.True(t, e.RegisterImplementation("test/AbcImpl", "test/Abc"))
	assert.False(t, e.RegisterImplementation("test/AbcImpl", "test/Abc"), "unchanged")

	assert.True(t, e.IsImplemented(a))
	assert.True(t, e.AreAllImplemented([]Reference{a, d, greeting}))
	assert.False(t, e.AreAllImplemented([]Reference{a, ref.NewMethod("test/Abc", "b", "()T", false)}))
	assert.True(t, e.AreAllImplemented(nil))
}

func TestAnalyzeAndRewrite_RequiredCalls(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterImplementation("test/AbcImpl", "test/Abc")

	_, ok := e.DependencySet("test/RequiredClient")
	assert.False(t, ok, "absent before analysis")

	u, err := e.AnalyzeAndRewrite(context.Background(), "test/RequiredClient")
	require.NoError(t, err)
	assert.Equal(t, "test/RequiredClient", u.Name)
	assert.Equal(t, []string{
		"required test/Abc.a ()V",
		"required test/Abc.b ()T",
	}, depStrings(t, e, "test/RequiredClient"))

	again, err := e.AnalyzeAndRewrite(context.Background(), "test/RequiredClient")
	require.NoError(t, err)
	assert.Same(t, u, again)
}

func TestAnalyzeAndRewrite_MissingUnit(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.AnalyzeAndRewrite(context.Background(), "test/Nope")
	assert.ErrorIs(t, err, analysis.ErrUnresolvable)
}

func TestMarkLoaded_NotWalkable(t *testing.T) {
	e := newTestEngine(t)
	e.MarkLoaded("test/RequiredClient")
	_, err := e.AnalyzeAndRewrite(context.Background(), "test/RequiredClient")
	assert.ErrorIs(t, err, analysis.ErrNotWalkable)
}

func TestWithExcludedPrefixes(t *testing.T) {
	e := newTestEngine(t, WithExcludedPrefixes("test/Req"))
	_, err := e.AnalyzeAndRewrite(context.Background(), "test/RequiredClient")
	assert.ErrorIs(t, err, analysis.ErrNotWalkable)

	_, err = e.AnalyzeAndRewrite(context.Background(), "test/OptionalClient")
	assert.NoError(t, err)
}

func TestWithHooks_AnswerBeforeDefaults(t *testing.T) {
	b := ref.NewMethod("test/Abc", "b", "()T", false)
	e := newTestEngine(t, WithHooks(analysis.Hook{
		Name: "b-is-fine",
		CheckImplemented: func(_ analysis.Lookup, r ref.Reference) analysis.Verdict {
			if r.Equal(b) {
				return analysis.Yes
			}
			return analysis.Abstain
		},
	}))
	assert.True(t, e.IsImplemented(b))
	assert.False(t, e.IsImplemented(ref.NewMethod("test/Abc", "c", "()T", false)))
}

func TestWithScriptsFS(t *testing.T) {
	fsys := fstest.MapFS{"hooks/c.risor": {Data: []byte(`event == "implemented" && ref["name"] == "c"`)}}
	e := newTestEngine(t, WithScriptsFS(fsys), WithScripts("", "hooks/c.risor"))

	assert.True(t, e.IsImplemented(ref.NewMethod("test/Abc", "c", "()T", false)))
	assert.False(t, e.IsImplemented(ref.NewMethod("test/Abc", "b", "()T", false)))
}

func TestWithRequiredPredicate(t *testing.T) {
	called := false
	e := newTestEngine(t, WithRequiredPredicate(func(w int) bool {
		called = true
		return w <= 0
	}))
	_, err := e.AnalyzeAndRewrite(context.Background(), "test/RequiredClient")
	require.NoError(t, err)
	assert.True(t, called)
}

func TestNewMachine_RunsRewrittenUnits(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	m := e.NewMachine()

	// Loading the implementation registers it for test/Abc.
	impl, err := m.New(ctx, "test/AbcImpl")
	require.NoError(t, err)
	got, ok := e.Registry().ImplementationFor("test/Abc")
	require.True(t, ok)
	assert.Equal(t, "test/AbcImpl", got)

	out, err := m.Call(ctx, "test/OptionalClient", "testD", "(Ltest/Abc;)T", impl)
	require.NoError(t, err)
	assert.Equal(t, "D", out)

	out, err = m.Call(ctx, "test/OptionalClient", "testB", "(Ltest/Abc;)T", impl)
	require.NoError(t, err)
	assert.Equal(t, "absent", out)
}

func TestStore_RecordsAnalyzedUnits(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "results.db")
	e, err := New(WithLoader(unit.DirLoader(testUnits)), WithStore(dbPath, "nightly"))
	require.NoError(t, err)
	e.RegisterImplementation("test/AbcImpl", "test/Abc")
	require.NotNil(t, e.Store())
	sessionID := e.Session().ID

	_, err = e.AnalyzeAndRewrite(context.Background(), "test/RequiredClient")
	require.NoError(t, err)
	_, err = e.AnalyzeAndRewrite(context.Background(), "test/RequiredClient")
	require.NoError(t, err)
	require.NoError(t, e.Close())

	s, err := store.NewStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	sessions, err := s.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "nightly", sessions[0].Label)

	units, err := s.UnitsBySession(sessionID)
	require.NoError(t, err)
	require.Len(t, units, 1, "a unit is recorded once per session")
	rec := units[0]
	assert.Equal(t, "test/RequiredClient", rec.Name)

	decoded, err := unit.Decode(rec.Blob)
	require.NoError(t, err)
	assert.Equal(t, "test/RequiredClient", decoded.Name)

	deps, err := s.DependenciesByUnit(rec.ID)
	require.NoError(t, err)
	require.Len(t, deps, 2)
	assert.Equal(t, "required test/Abc.a ()V", deps[0].String())
	assert.Equal(t, "required test/Abc.b ()T", deps[1].String())
	assert.Equal(t, store.ComputeUnitHash(rec.Blob, []string{deps[0].String(), deps[1].String()}), rec.Hash)

	methods, err := s.MethodsByUnit(rec.ID)
	require.NoError(t, err)
	require.Len(t, methods, 1)
	assert.Equal(t, "test/RequiredClient.testA (Ltest/Abc;)V", methods[0].Ref)
	assert.Equal(t, -1, methods[0].Weight)
}

func TestStore_RecordsUnitsRewrittenByMachine(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, WithStore(filepath.Join(t.TempDir(), "results.db"), ""))
	m := e.NewMachine()
	impl, err := m.New(ctx, "test/AbcImpl")
	require.NoError(t, err)
	_, err = m.Call(ctx, "test/SwitchClient", "testC", "(Ltest/Abc;)T", impl)
	require.NoError(t, err)
	require.NoError(t, e.Flush())

	rec, err := e.Store().UnitByName(e.Session().ID, "test/SwitchClient")
	require.NoError(t, err)
	require.NotNil(t, rec)

	deps, err := e.Store().DependenciesByUnit(rec.ID)
	require.NoError(t, err)
	var kinds []string
	for _, d := range deps {
		kinds = append(kinds, d.Kind)
	}
	assert.Contains(t, kinds, store.KindSwitch)
}

func TestNewFromConfig(t *testing.T) {
	dir := t.TempDir()
	units, err := filepath.Abs(testUnits)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "hooks"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hooks", "b.risor"),
		[]byte(`event == "implemented" && ref["name"] == "b"`), 0o644))

	data := fmt.Sprintf(`
[units]
dirs = [%q]

[analysis]
exclude = ["test/Opt"]

[hooks]
scripts = ["hooks/b.risor"]

[store]
path = "results.db"
`, units)
	cfg, err := config.Parse([]byte(data), dir)
	require.NoError(t, err)

	e, err := NewFromConfig(cfg)
	require.NoError(t, err)
	defer e.Close()

	assert.True(t, e.IsImplemented(ref.NewMethod("test/Abc", "b", "()T", false)))
	_, err = e.AnalyzeAndRewrite(context.Background(), "test/OptionalClient")
	assert.ErrorIs(t, err, analysis.ErrNotWalkable)
	require.NotNil(t, e.Store())
	assert.FileExists(t, filepath.Join(dir, "results.db"))
}

func TestDependencyRecords(t *testing.T) {
	a := ref.NewMethod("test/Abc", "a", "()V", false)
	b := ref.NewMethod("test/Abc", "b", "()T", false)
	d := ref.NewMethod("test/Abc", "d", "()T", false)

	recs := dependencyRecords([]Dependency{
		SingleDependency{Ref: a},
		SwitchDependency{
			Chosen:       []SingleDependency{{Ref: d}},
			Alternatives: []SingleDependency{{Ref: b, Optional: true}},
			Resolved:     true,
		},
		SwitchDependency{Alternatives: []SingleDependency{{Ref: b}}},
	})
	require.Len(t, recs, 3)

	assert.Equal(t, 0, recs[0].Ordinal)
	assert.Equal(t, store.KindSingle, recs[0].Kind)
	assert.Equal(t, "required test/Abc.a ()V", recs[0].String())

	assert.Equal(t, store.KindSwitch, recs[1].Kind)
	assert.Equal(t, "test/Abc.d ()T", recs[1].Ref)
	assert.Equal(t, []string{"test/Abc.b ()T"}, recs[1].Alternatives)
	assert.True(t, recs[1].Resolved)

	assert.Equal(t, 2, recs[2].Ordinal)
	assert.False(t, recs[2].Resolved)
	assert.Equal(t, "none [test/Abc.b ()T]", recs[2].String())
}
