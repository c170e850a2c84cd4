package unit

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/capgate/internal/ref"
)

const abcSource = `
name = "test/Abc"
interfaces = ["capgate/Capability"]
interface = true

[[fields]]
name = "IMPLEMENTED"
desc = "T"
static = true
value = "ABC"

[[fields]]
name = "UNIMPLEMENTED"
desc = "T"
static = true

[[methods]]
name = "a"
desc = "()V"
code = """
invokestatic capgate/Capability.unimplemented ()O  # default body
throw
"""

[[methods]]
name = "d"
desc = "()T"
abstract = true
`

const clientSource = `
name = "test/Client"

[[methods]]
name = "testE"
desc = "(Ltest/Abc;)T"
static = true
code = '''
load 0
closure static test/Client.lambda$testE$0 (Ltest/Abc;)O 0
invokestatic capgate/Usage.optionally (F)Q
const.text "A#B\"C"
invoke capgate/Optional.orElse (O)O
checkcast T
return
'''

[[methods]]
name = "lambda$testE$0"
desc = "(Ltest/Abc;)O"
static = true
code = '''
load 0
invoke test/Abc.e ()O
return
'''

[[methods]]
name = "loop"
desc = "(Z)I"
static = true
code = '''
label top
load 0
jumpifnot done
const.int 1
store 1
jump top
label done
const.int 0
return
'''
`

func mustParse(t *testing.T, src string) *Unit {
	t.Helper()
	u, err := ParseSource([]byte(src))
	require.NoError(t, err)
	return u
}

func TestParseSource(t *testing.T) {
	u := mustParse(t, abcSource)

	assert.Equal(t, "test/Abc", u.Name)
	assert.True(t, u.IsInterface())
	require.Len(t, u.Fields, 2)
	require.NotNil(t, u.Field("IMPLEMENTED").Value)
	assert.Equal(t, "ABC", u.Field("IMPLEMENTED").Value.Value())
	assert.Nil(t, u.Field("UNIMPLEMENTED").Value)

	a := u.Method("a", "()V")
	require.NotNil(t, a)
	assert.Equal(t, 1, a.Locals, "receiver slot")
	require.Len(t, a.Code, 2)
	assert.Equal(t, OpInvokeStatic, a.Code[0].Op)
	assert.True(t, a.Code[0].Ref.Static)
	assert.Equal(t, OpThrow, a.Code[1].Op)

	d := u.Method("d", "()T")
	require.NotNil(t, d)
	assert.True(t, d.Abstract)
	assert.Empty(t, d.Code)
}

func TestParseSource_Closure(t *testing.T) {
	u := mustParse(t, clientSource)

	m := u.Method("testE", "(Ltest/Abc;)T")
	require.NotNil(t, m)
	c := m.Code[1]
	assert.Equal(t, OpClosure, c.Op)
	assert.True(t, c.Ref.Static)
	assert.True(t, c.Ref.IsClosureBody())
	assert.Equal(t, 1, c.Captures())
	assert.Equal(t, "A#B\"C", m.Code[3].Text)
}

func TestParseSource_LabelsAndLocals(t *testing.T) {
	u := mustParse(t, clientSource)
	m := u.Method("loop", "(Z)I")
	require.NotNil(t, m)
	assert.Equal(t, 2, m.Locals)
	assert.Equal(t, OpLabel, m.Code[0].Op)
	assert.Equal(t, int64(0), m.Code[0].Int)
	assert.Equal(t, int64(1), m.Code[2].Int, "forward label gets the next id")
}

func TestParseSource_Errors(t *testing.T) {
	cases := map[string]string{
		"unknown key":     "name = \"x/Y\"\nbogus = 1\n",
		"bad mnemonic":    "name = \"x/Y\"\n[[methods]]\nname = \"m\"\ndesc = \"()V\"\nstatic = true\ncode = \"frob\"\n",
		"undefined label": "name = \"x/Y\"\n[[methods]]\nname = \"m\"\ndesc = \"()V\"\nstatic = true\ncode = \"jump nowhere\"\n",
		"bad descriptor":  "name = \"x/Y\"\n[[methods]]\nname = \"m\"\ndesc = \"(X)V\"\nstatic = true\ncode = \"return.void\"\n",
		"missing name":    "[[methods]]\nname = \"m\"\ndesc = \"()V\"\nstatic = true\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSource([]byte(src))
			assert.Error(t, err)
		})
	}
}

func TestEncodeDecode(t *testing.T) {
	u := mustParse(t, clientSource)

	data, err := Encode(u)
	require.NoError(t, err)
	assert.True(t, IsEncoded(data))

	back, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, u.Name, back.Name)
	require.Len(t, back.Methods, len(u.Methods))
	for i := range u.Methods {
		assert.Equal(t, DisassembleToLines(u.Methods[i].Code), DisassembleToLines(back.Methods[i].Code))
	}

	again, err := Encode(back)
	require.NoError(t, err)
	assert.Equal(t, data, again, "encoding is deterministic")
}

func TestDecode_BadMagic(t *testing.T) {
	_, err := Decode([]byte("nope"))
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestDisassemble_RoundTripsThroughAssembler(t *testing.T) {
	u := mustParse(t, clientSource)
	for _, m := range u.Methods {
		lines := DisassembleToLines(m.Code)
		src := ""
		for _, l := range lines {
			src += l + "\n"
		}
		code, err := Assemble(src)
		require.NoError(t, err, m.Name)
		assert.Equal(t, lines, DisassembleToLines(code), m.Name)
	}

	listing := Disassemble(u)
	assert.Contains(t, listing, "; === test/Client ===")
	assert.Contains(t, listing, "invokestatic capgate/Usage.optionally (F)Q")
	assert.Contains(t, listing, "L1:")
}

func TestClone_IsDeep(t *testing.T) {
	u := mustParse(t, clientSource)
	c := u.Clone()
	c.Methods[0].Code[0] = Simple(OpNop)
	c.Methods[0].Code[1].Ref.Name = "changed"
	assert.Equal(t, OpLoad, u.Methods[0].Code[0].Op)
	assert.Equal(t, "lambda$testE$0", u.Methods[0].Code[1].Ref.Name)
}

func TestLoaders(t *testing.T) {
	m := MapLoader{}
	require.NoError(t, m.Add(mustParse(t, abcSource)))

	fsys := fstest.MapFS{
		"test/Client.toml": &fstest.MapFile{Data: []byte(clientSource)},
	}
	l := Chain{m, NewFSLoader(fsys)}

	abc, err := Load(l, "test/Abc")
	require.NoError(t, err)
	assert.True(t, abc.IsInterface())

	client, err := Load(l, "test/Client")
	require.NoError(t, err)
	assert.NotNil(t, client.Method("loop", "(Z)I"))

	_, err = Load(l, "test/Missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRefOp_NormalizesStatic(t *testing.T) {
	r := ref.NewMethod("test/Abc", "a", "()V", true)
	assert.False(t, RefOp(OpInvoke, r).Ref.Static)
	assert.True(t, RefOp(OpGetStatic, ref.NewField("test/Abc", "X", "T", false)).Ref.Static)
}

func TestOpcodeTable(t *testing.T) {
	for op, info := range opcodeInfoTable {
		back, ok := LookupOpcode(info.Name)
		require.True(t, ok, info.Name)
		assert.Equal(t, op, back)
	}
	assert.False(t, Opcode(0xEE).Valid())
	assert.True(t, OpThrow.IsTerminal())
	assert.True(t, OpInvokeSpecial.IsInvoke())
}
