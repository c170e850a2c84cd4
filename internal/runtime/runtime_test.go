package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/risor-io/risor/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/capgate/internal/analysis"
	"github.com/jward/capgate/internal/ref"
	"github.com/jward/capgate/internal/registry"
	"github.com/jward/capgate/internal/store"
	"github.com/jward/capgate/internal/unit"
)

var testUnits = filepath.Join("..", "..", "testdata", "units")

const hookScript = `
func decide() {
    if event == "candidate" && ref["owner"] == "test/Vendor" {
        return false
    }
    if event == "implemented" && ref["name"] == "c" {
        return true
    }
    if event == "loaded" && !unit["interface"] && inherits(unit["name"], "test/Abc") {
        return register(unit["name"], "test/Abc")
    }
    return nil
}
decide()
`

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func scriptHook(t *testing.T, rt *Runtime) analysis.Hook {
	t.Helper()
	h, err := rt.Hook(context.Background(), "hooks/decide.risor")
	require.NoError(t, err)
	return h
}

func TestRunSource_ReturnsLastValue(t *testing.T) {
	t.Parallel()
	rt := NewRuntime("")

	got, err := rt.RunSource(context.Background(), `x := 40
x + extra`, map[string]any{"extra": 2})
	require.NoError(t, err)
	require.IsType(t, &object.Int{}, got)
	assert.Equal(t, int64(42), got.(*object.Int).Value())
}

func TestRunSource_Error(t *testing.T) {
	t.Parallel()
	rt := NewRuntime("")
	_, err := rt.RunSource(context.Background(), `undefined_fn()`, nil)
	assert.ErrorContains(t, err, "<inline>")
}

func TestLoadScript_FromDisk(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "hooks"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hooks", "decide.risor"), []byte(hookScript), 0o644))

	rt := NewRuntime(dir)
	src, err := rt.LoadScript("hooks/decide.risor")
	require.NoError(t, err)
	assert.Equal(t, hookScript, src)

	_, err = rt.LoadScript("hooks/missing.risor")
	assert.Error(t, err)
}

func TestHook_Verdicts(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{"hooks/decide.risor": {Data: []byte(hookScript)}}
	rt := NewRuntime("", WithRuntimeFS(fsys))
	h := scriptHook(t, rt)
	assert.Equal(t, "script:hooks/decide.risor", h.Name)

	ctx := analysis.NewContext(nil)
	assert.Equal(t, analysis.No, h.IsDependencyCandidate(ctx, ref.NewMethod("test/Vendor", "x", "()V", false)))
	assert.Equal(t, analysis.Abstain, h.IsDependencyCandidate(ctx, ref.NewMethod("test/Abc", "x", "()V", false)))

	assert.Equal(t, analysis.Yes, h.CheckImplemented(nil, ref.NewMethod("test/Abc", "c", "()T", false)))
	assert.Equal(t, analysis.Abstain, h.CheckImplemented(nil, ref.NewMethod("test/Abc", "b", "()T", false)))
}

func TestHook_FailingScriptAbstains(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{"hooks/decide.risor": {Data: []byte(`nope(`)}}
	h := scriptHook(t, NewRuntime("", WithRuntimeFS(fsys)))

	assert.Equal(t, analysis.Abstain, h.CheckImplemented(nil, ref.NewMethod("test/Abc", "c", "()T", false)))
}

func TestHook_InProvider(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	fsys := fstest.MapFS{"hooks/decide.risor": {Data: []byte(hookScript)}}
	h := scriptHook(t, NewRuntime("", WithRuntimeFS(fsys), WithRegistry(reg)))
	p := analysis.NewProvider(unit.DirLoader(testUnits), analysis.WithHooks(h))

	assert.True(t, p.IsImplemented(ref.NewMethod("test/Abc", "c", "()T", false)))

	impl, err := p.Definition("test/AbcImpl")
	require.NoError(t, err)
	p.NotifyLoaded(impl)
	got, ok := reg.ImplementationFor("test/Abc")
	require.True(t, ok)
	assert.Equal(t, "test/AbcImpl", got)

	abc, err := p.Definition("test/Abc")
	require.NoError(t, err)
	p.NotifyLoaded(abc)
	assert.Len(t, reg.Implementations(), 1, "interfaces are skipped by the script")
}

func TestDBQuery(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	sess, err := s.NewSession("nightly")
	require.NoError(t, err)

	rt := NewRuntime("", WithStore(s))
	got, err := rt.RunSource(context.Background(), `
rows := db_query("SELECT label FROM sessions WHERE id = ?", session)
rows[0]["label"]
`, map[string]any{"session": sess.ID})
	require.NoError(t, err)
	require.IsType(t, &object.String{}, got)
	assert.Equal(t, "nightly", got.(*object.String).Value())

	_, err = rt.RunSource(context.Background(), `db_query("DELETE FROM sessions")`, nil)
	assert.Error(t, err, "only SELECT is allowed")
}

func TestLatestUnit(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	sess, err := s.NewSession("")
	require.NoError(t, err)
	u := &store.UnitRecord{SessionID: sess.ID, Name: "test/Client", Hash: "h1", Blob: []byte{1},
		AnalyzedAt: time.Now().UTC().Truncate(time.Second)}
	_, err = s.InsertUnit(u)
	require.NoError(t, err)
	_, err = s.InsertDependency(&store.DependencyRecord{UnitID: u.ID, Kind: store.KindSingle, Ref: "test/Abc.b ()T"})
	require.NoError(t, err)

	rt := NewRuntime("", WithStore(s))
	got, err := rt.RunSource(context.Background(), `
u := latest_unit("test/Client")
u["dependencies"][0]["ref"]
`, nil)
	require.NoError(t, err)
	require.IsType(t, &object.String{}, got)
	assert.Equal(t, "test/Abc.b ()T", got.(*object.String).Value())

	got, err = rt.RunSource(context.Background(), `latest_unit("test/Nope")`, nil)
	require.NoError(t, err)
	assert.Equal(t, object.Nil, got)
}
