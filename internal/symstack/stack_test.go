package symstack

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/capgate/internal/ref"
	"github.com/jward/capgate/internal/unit"
)

func assemble(t *testing.T, src string) []unit.Instruction {
	t.Helper()
	code, err := unit.Assemble(src)
	require.NoError(t, err)
	return code
}

func run(t *testing.T, s *Stack, src string) {
	t.Helper()
	for _, ins := range assemble(t, src) {
		s.Apply(ins)
	}
}

func TestForMethod_SeedsArguments(t *testing.T) {
	m := ref.NewMethod("test/C", "m", "(IT)V", false)
	s := ForMethod(m, 4)

	assert.Equal(t, LocalSlot{Index: 0, T: "Ltest/C;"}, s.Local(0))
	assert.Equal(t, LocalSlot{Index: 1, T: "I"}, s.Local(1))
	assert.Equal(t, LocalSlot{Index: 2, T: "T"}, s.Local(2))
	assert.Nil(t, s.Local(3))
}

func TestApply_Invoke(t *testing.T) {
	s := ForMethod(ref.NewMethod("test/C", "m", "(Ltest/Abc;)T", true), 1)
	run(t, s, `
load 0
const.int 3
invoke test/Abc.d (I)T
`)
	require.Equal(t, 1, s.Len())
	ret, ok := s.Pop().(MethodReturn)
	require.True(t, ok)
	assert.Equal(t, "d", ret.Ref.Name)
	assert.Equal(t, ref.TypeText, ret.Type())
}

func TestApply_VoidInvokePushesNothing(t *testing.T) {
	s := New(0)
	run(t, s, `
const.nil
invoke test/Abc.a ()V
`)
	assert.Equal(t, 0, s.Len())
}

func TestApply_Fields(t *testing.T) {
	s := New(1)
	run(t, s, `
getstatic test/Abc.IMPLEMENTED T
const.nil
swap
putfield test/C.x T
getstatic test/Abc.UNIMPLEMENTED T
`)
	require.Equal(t, 1, s.Len())
	f, ok := s.Peek().(FieldAccess)
	require.True(t, ok)
	assert.Equal(t, "UNIMPLEMENTED", f.Ref.Name)
	assert.True(t, f.Ref.Static)
}

func TestApply_ClosureConsumesCaptures(t *testing.T) {
	s := ForMethod(ref.NewMethod("test/C", "m", "(Ltest/Abc;)V", true), 1)
	run(t, s, `
const.int 7
load 0
closure test/Abc.b ()T 0
`)
	require.Equal(t, 2, s.Len(), "receiver captured, constant left below")
	c, ok := s.Pop().(*ClosureLiteral)
	require.True(t, ok)
	assert.True(t, c.Direct)
	assert.False(t, *c.Discard)

	run(t, s, `
closure static test/C.lambda$m$0 (I)O 1
`)
	c2, ok := s.Pop().(*ClosureLiteral)
	require.True(t, ok)
	assert.False(t, c2.Direct)
	assert.Equal(t, 1, s.Len(), "arity-1 closure over a 1-slot body captures nothing")
}

func TestApply_ArrayLiteralOfClosures(t *testing.T) {
	s := ForMethod(ref.NewMethod("test/C", "m", "(Ltest/Abc;)O", true), 1)
	run(t, s, `
const.int 2
newarray F
dup
const.int 0
load 0
closure test/Abc.b ()T 0
astore
dup
const.int 1
load 0
closure test/Abc.d ()T 0
astore
`)
	require.Equal(t, 1, s.Len())
	arr, ok := s.Peek().(*ArrayLiteral)
	require.True(t, ok)
	closures, ok := arr.Closures()
	require.True(t, ok)
	require.Len(t, closures, 2)
	assert.Equal(t, "b", closures[0].Target.Name)
	assert.Equal(t, "d", closures[1].Target.Name)
}

func TestApply_LargeArraysAreNotTracked(t *testing.T) {
	s := New(0)
	run(t, s, `
const.int 1000000000000
newarray F
`)
	require.Equal(t, 1, s.Len())
	assert.Equal(t, Unknown{T: "[F"}, s.Peek())

	s = New(0)
	run(t, s, `
const.int 1
newarray F
dup
const.int 1000000000000
const.nil
astore
dup
const.int 0
const.nil
astore
`)
	arr, ok := s.Peek().(*ArrayLiteral)
	require.True(t, ok)
	assert.Len(t, arr.Slots, 1, "stores past the tracked bound are ignored")
}

func TestApply_StoredClosureSurvivesLocals(t *testing.T) {
	s := New(2)
	run(t, s, `
closure static test/C.lambda$m$0 ()O 0
store 1
load 1
`)
	_, ok := s.Pop().(*ClosureLiteral)
	assert.True(t, ok)
}

func TestApply_LabelsRestoreShape(t *testing.T) {
	s := ForMethod(ref.NewMethod("test/C", "m", "(Z)I", true), 1)
	run(t, s, `
load 0
jumpif yes
const.int 1
jump done
label yes
const.int 2
label done
return
`)
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Reachable())
}

func TestPop_EmptyPanics(t *testing.T) {
	s := New(0)
	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, ErrStackUnderflow))
	}()
	s.Pop()
}

func TestOrNoneAccessors(t *testing.T) {
	s := New(0)
	_, ok := s.PeekOrNone()
	assert.False(t, ok)
	_, ok = s.PopOrNone()
	assert.False(t, ok)

	s.Push(Unknown{T: ref.TypeInt})
	v, ok := s.PopOrNone()
	require.True(t, ok)
	assert.Equal(t, ref.TypeInt, v.Type())
}

func TestClone_IsIndependent(t *testing.T) {
	s := New(1)
	s.Push(Constant{T: ref.TypeInt, V: int64(1)})
	c := s.Clone()
	c.Push(Constant{T: ref.TypeInt, V: int64(2)})
	c.SetLocal(0, Unknown{T: ref.TypeText})

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 2, c.Len())
	assert.Nil(t, s.Local(0))
}
