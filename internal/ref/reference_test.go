package ref

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_IgnoresStaticAndSignature(t *testing.T) {
	a := NewMethod("test/Abc", "a", "()V", false)
	b := NewMethod("test/Abc", "a", "()V", true)
	b.Signature = "<T:O>()V"

	assert.Equal(t, a.Key(), b.Key())
	assert.True(t, a.Equal(b))

	m := map[Key]int{a.Key(): 1}
	assert.Equal(t, 1, m[b.Key()])
}

func TestKey_KindIsIdentity(t *testing.T) {
	m := NewMethod("test/Abc", "x", "I", false)
	f := NewField("test/Abc", "x", "I", false)
	assert.False(t, m.Equal(f))
}

func TestParse(t *testing.T) {
	r, err := Parse("test/Abc.b ()T")
	require.NoError(t, err)
	assert.Equal(t, Method, r.Kind)
	assert.Equal(t, "test/Abc", r.Owner)
	assert.Equal(t, "b", r.Name)
	assert.Equal(t, "()T", r.Desc)
	assert.False(t, r.Static)

	r, err = Parse("static test/Abc.UNIMPLEMENTED T")
	require.NoError(t, err)
	assert.Equal(t, Field, r.Kind)
	assert.True(t, r.Static)

	r, err = Parse("test/Abc")
	require.NoError(t, err)
	assert.Equal(t, Class, r.Kind)
	assert.Equal(t, "test/Abc", r.String())
}

func TestParse_Errors(t *testing.T) {
	for _, in := range []string{"", "test/Abc.b", ".b ()V", "test/Abc.b (X)V", "test/Abc.b (I", "test/Abc.f Lfoo"} {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
}

func TestString_RoundTrip(t *testing.T) {
	r := NewMethod("test/Abc", "d", "(I[Ltest/Abc;)T", false)
	back, err := Parse(r.String())
	require.NoError(t, err)
	assert.True(t, r.Equal(back))
}

func TestSplitMethod(t *testing.T) {
	params, ret, err := SplitMethod("(IZLtest/Abc;[TF)Q")
	require.NoError(t, err)
	assert.Equal(t, []string{"I", "Z", "Ltest/Abc;", "[T", "F"}, params)
	assert.Equal(t, "Q", ret)
}

func TestSlots(t *testing.T) {
	assert.Equal(t, 1, NewMethod("o", "m", "()V", false).Slots())
	assert.Equal(t, 2, NewMethod("o", "m", "(IT)V", true).Slots())
	assert.Equal(t, 3, NewMethod("o", "m", "(IT)V", false).Slots())
}

func TestSentinel(t *testing.T) {
	assert.True(t, Sentinel.IsSentinel())
	assert.False(t, Sentinel.Equal(NewMethod("", "<unimplemented>", "", false)))
}

func TestSpecialNamesAndIntrinsics(t *testing.T) {
	assert.True(t, IsSpecialName("unimplemented"))
	assert.True(t, IsSpecialName("<init>"))
	assert.False(t, IsSpecialName("a"))
	assert.True(t, IsIntrinsic(UsageOwner))
	assert.False(t, IsIntrinsic("test/Abc"))
	assert.True(t, NewMethod("test/C", "lambda$testE$0", "()O", true).IsClosureBody())
}

func TestClassName(t *testing.T) {
	name, ok := ClassName("Ltest/Abc;")
	require.True(t, ok)
	assert.Equal(t, "test/Abc", name)
	_, ok = ClassName("I")
	assert.False(t, ok)
	assert.Equal(t, "Ltest/Abc;", ElementType(ArrayOf(ClassType("test/Abc"))))
}
