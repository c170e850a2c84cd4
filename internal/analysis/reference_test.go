package analysis

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/capgate/internal/ref"
	"github.com/jward/capgate/internal/unit"
)

func walked(name string, callees ...*ReferenceAnalysis) *ReferenceAnalysis {
	a := newReferenceAnalysis(ref.NewMethod("test/X", name, "()V", true), &Walked{Complete: true})
	for _, c := range callees {
		a.state.(*Walked).addCallee(c)
	}
	return a
}

func TestPropagation_CycleTerminates(t *testing.T) {
	a := walked("a")
	b := walked("b", a)
	a.state.(*Walked).addCallee(b)

	a.MarkRequired(Context{})
	assert.Equal(t, -1, a.Weight())
	assert.Equal(t, -1, b.Weight())
}

func TestPropagation_DiamondCountsEachPath(t *testing.T) {
	leaf := walked("leaf")
	left := walked("left", leaf)
	right := walked("right", leaf)
	top := walked("top", left, right)

	top.MarkOptional(Context{})
	assert.Equal(t, 2, top.Weight())
	assert.Equal(t, 4, leaf.Weight(), "leaf is reached through both branches")
}

func TestMarkReached_DoesNotFanOut(t *testing.T) {
	leaf := walked("leaf")
	mid := walked("mid", leaf)

	mid.MarkReached(Context{})
	assert.Equal(t, -1, mid.Weight())
	assert.Zero(t, leaf.Weight())
}

func TestPromote(t *testing.T) {
	a := newReferenceAnalysis(ref.NewMethod("test/X", "m", "()V", true), &Stub{Reason: StubExcluded})
	a.MarkOptional(Context{})
	a.Set("k", "v")
	a.Attach(&ReferenceHook{})

	w, err := a.promote()
	require.NoError(t, err)
	assert.False(t, w.Complete)
	assert.False(t, a.IsComplete())
	assert.Equal(t, 2, a.Weight())
	v, ok := a.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	assert.Len(t, a.hooks, 1)

	_, err = a.promote()
	assert.Error(t, err)
}

func TestReduce(t *testing.T) {
	a := ref.NewMethod("test/Abc", "a", "()V", false)
	b := ref.NewMethod("test/Abc", "b", "()V", false)
	c := ref.NewMethod("test/Abc", "c", "()V", false)
	weights := map[ref.Key]int{a.Key(): -1, b.Key(): 0, c.Key(): 3}

	deps := []Dependency{
		SingleDependency{Ref: a, Optional: true},
		SingleDependency{Ref: b, Ambiguous: true},
		SingleDependency{Ref: c, Ambiguous: true},
		SwitchDependency{Resolved: false},
		SingleDependency{Ref: a, Ambiguous: true},
		SingleDependency{Ref: b, Optional: true},
	}
	out := reduce(deps, func(r ref.Reference) int { return weights[r.Key()] })

	var got []string
	for _, d := range out {
		got = append(got, d.String())
	}
	assert.Equal(t, []string{
		"required test/Abc.a ()V",
		"required test/Abc.b ()V",
		"optional test/Abc.c ()V",
		"none",
	}, got)
}

func TestBuilder(t *testing.T) {
	var b Builder
	discard := false
	weight := 0

	b.Keep(unit.Simple(unit.OpNop))
	b.Discardable(unit.IntOp(unit.OpConstInt, 1), &discard, unit.Simple(unit.OpConstNil))
	b.Deferred(func() ([]unit.Instruction, error) {
		if weight < 0 {
			return []unit.Instruction{unit.Simple(unit.OpThrow)}, nil
		}
		return nil, nil
	})
	b.Insert()
	b.Replace(unit.Simple(unit.OpReturn))
	assert.Equal(t, 4, b.Len())

	code, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"nop", "const.int 1", "return"}, unit.DisassembleToLines(code))

	discard, weight = true, -1
	code, err = b.Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"nop", "const.nil", "throw", "return"}, unit.DisassembleToLines(code))

	boom := errors.New("boom")
	b.Deferred(func() ([]unit.Instruction, error) { return nil, boom })
	_, err = b.Build()
	assert.ErrorIs(t, err, boom)
}

func TestContext_PushIsPersistent(t *testing.T) {
	m1 := ref.NewMethod("test/X", "m1", "()V", true)
	m2 := ref.NewMethod("test/X", "m2", "()V", true)

	root := NewContext(nil)
	c1 := root.Push(Frame{Ref: m1})
	c2 := c1.Push(Frame{Ref: m2})
	c2b := c1.Push(Frame{Ref: m1})

	assert.Equal(t, 0, root.Depth())
	assert.Equal(t, 1, c1.Depth())
	assert.True(t, c2.Contains(m1))
	assert.True(t, c2.Contains(m2))
	assert.False(t, c1.Contains(m2))
	assert.Equal(t, "m2", c2.CurrentMethod().Name)
	assert.Equal(t, "m1", c2b.CurrentMethod().Name)
	assert.Equal(t, []ref.Reference{m1, m2}, c2.Path())

	_, ok := root.Current()
	assert.False(t, ok)
}

func TestResolveError(t *testing.T) {
	err := &ResolveError{
		Ref:  ref.NewMethod("x/Y", "z", "()V", true),
		Path: []ref.Reference{ref.NewMethod("a/B", "c", "()V", true)},
		Err:  unit.ErrNotFound,
	}
	assert.True(t, errors.Is(err, ErrUnresolvable))
	assert.True(t, errors.Is(err, unit.ErrNotFound))
	assert.Equal(t, "analysis: cannot resolve x/Y.z ()V (via a/B.c): unit: not found", err.Error())
}
