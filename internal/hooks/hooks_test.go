package hooks

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/capgate/internal/analysis"
	"github.com/jward/capgate/internal/ref"
	"github.com/jward/capgate/internal/registry"
	"github.com/jward/capgate/internal/unit"
)

var testUnits = filepath.Join("..", "..", "testdata", "units")

func newTestProvider(t *testing.T, reg *registry.Registry) *analysis.Provider {
	t.Helper()
	return analysis.NewProvider(unit.DirLoader(testUnits),
		analysis.WithHooks(Defaults(ref.CapabilityOwner, reg)...))
}

func abc(name, desc string) ref.Reference {
	return ref.NewMethod("test/Abc", name, desc, false)
}

func TestExplicitImplementation(t *testing.T) {
	reg := registry.New()
	reg.Register("test/AbcImpl", "test/Abc")
	p := newTestProvider(t, reg)

	assert.True(t, p.IsImplemented(abc("a", "()V")), "overridden")
	assert.True(t, p.IsImplemented(abc("d", "()T")), "overridden")
	assert.False(t, p.IsImplemented(abc("b", "()T")), "default bails out")
	assert.True(t, p.IsImplemented(abc("greeting", "()T")), "working default")
	assert.True(t, p.IsImplemented(ref.NewMethod("test/Plain", "x", "()V", true)), "not a capability")
}

func TestExplicitImplementation_NoRegistration(t *testing.T) {
	p := newTestProvider(t, registry.New())

	assert.False(t, p.IsImplemented(abc("a", "()V")))
	assert.False(t, p.IsImplemented(abc("d", "()T")))
	assert.True(t, p.IsImplemented(abc("greeting", "()T")))
}

func TestExplicitImplementation_CyclicSupers(t *testing.T) {
	loader := unit.MapLoader{}
	for _, src := range []string{`
name = "cyc/Cap"
interface = true
interfaces = ["capgate/Capability"]

[[methods]]
name = "m"
desc = "()V"
code = '''
invokestatic capgate/Capability.unimplemented ()O
throw
'''
`, `
name = "cyc/A"
super = "cyc/B"
interfaces = ["cyc/Cap"]
`, `
name = "cyc/B"
super = "cyc/A"
`} {
		require.NoError(t, loader.AddSource(src))
	}
	reg := registry.New()
	reg.Register("cyc/A", "cyc/Cap")
	p := analysis.NewProvider(loader, analysis.WithHooks(ExplicitImplementation(ref.CapabilityOwner, reg)))

	assert.False(t, p.IsImplemented(ref.NewMethod("cyc/Cap", "m", "()V", false)))
}

func TestStaticFieldsNotNil(t *testing.T) {
	p := newTestProvider(t, registry.New())

	assert.True(t, p.IsImplemented(ref.NewField("test/Abc", "IMPLEMENTED", "T", true)))
	assert.False(t, p.IsImplemented(ref.NewField("test/Abc", "UNIMPLEMENTED", "T", true)))
	assert.True(t, p.IsImplemented(ref.NewField("test/Abc", "MISSING", "T", true)))
}

func TestAutoRegister(t *testing.T) {
	reg := registry.New()
	p := newTestProvider(t, reg)
	a := abc("a", "()V")
	require.False(t, p.IsImplemented(a))

	impl, err := p.Definition("test/AbcImpl")
	require.NoError(t, err)
	p.NotifyLoaded(impl)

	got, ok := reg.ImplementationFor("test/Abc")
	require.True(t, ok)
	assert.Equal(t, "test/AbcImpl", got)
	assert.True(t, p.IsImplemented(a), "verdict cache is dropped after a registration")

	// Interfaces and non-capability units register nothing.
	def, err := p.Definition("test/Abc")
	require.NoError(t, err)
	p.NotifyLoaded(def)
	client, err := p.Definition("test/RequiredClient")
	require.NoError(t, err)
	p.NotifyLoaded(client)
	assert.Len(t, reg.Implementations(), 1)
}

func TestCandidates(t *testing.T) {
	lookup := analysis.NewContext(nil)
	self := ExcludeCallsOnSelf()
	names := ExcludeNames("close")

	inAbc := lookup.Push(analysis.Frame{Ref: abc("a", "()V")})
	assert.Equal(t, analysis.No, self.IsDependencyCandidate(inAbc, abc("b", "()T")))
	assert.Equal(t, analysis.Abstain, self.IsDependencyCandidate(inAbc, ref.NewMethod("test/Other", "b", "()T", false)))
	assert.Equal(t, analysis.Abstain, self.IsDependencyCandidate(lookup, abc("b", "()T")))

	assert.Equal(t, analysis.No, names.IsDependencyCandidate(lookup, abc("close", "()V")))
	assert.Equal(t, analysis.No, names.IsDependencyCandidate(lookup, abc(ref.Constructor, "()V")))
	assert.Equal(t, analysis.Abstain, names.IsDependencyCandidate(lookup, abc("b", "()T")))
}

func TestAdapters_Rewrite(t *testing.T) {
	p := newTestProvider(t, registry.New())
	u, err := p.AnalyzeAndRewrite(context.Background(), "test/AdaptClient")
	require.NoError(t, err)

	convert := []string{
		`const.text "T"`,
		`const.text "Ltest/Handle;"`,
		"invokestatic capgate/Runtime.convert (OTT)O",
	}
	lines := func(name, desc string) []string {
		m := u.Method(name, desc)
		require.NotNil(t, m)
		return unit.DisassembleToLines(m.Code)
	}

	assert.Equal(t, append(append([]string{"load 0"}, convert...),
		"checkcast Ltest/Handle;", "return"), lines("cast", "(T)O"))
	assert.Equal(t, append(append([]string{"load 0"}, convert...),
		"putstatic test/AdaptClient.last Ltest/Handle;", "return.void"), lines("store", "(T)V"))
	assert.Equal(t, append(append([]string{"load 0"}, convert...),
		"return"), lines("direct", "(T)Ltest/Handle;"))

	deps, ok := p.DependencySet("test/AdaptClient")
	require.True(t, ok)
	assert.Empty(t, deps)
}

func TestAdapters_NoDestination(t *testing.T) {
	p := newTestProvider(t, registry.New())
	_, err := p.AnalyzeAndRewrite(context.Background(), "test/BadAdaptClient")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoDestination))
}
