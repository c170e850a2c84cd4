package unit

import "fmt"

// Opcode identifies an instruction. Opcodes are grouped into ranges by
// category.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop  Opcode = 0x00 // No operation
	OpPop  Opcode = 0x01 // Pop top of stack
	OpDup  Opcode = 0x02 // Duplicate top of stack
	OpSwap Opcode = 0x03 // Swap top two stack elements

	// ========================================================================
	// Constants (0x10-0x1F)
	// ========================================================================

	OpConstNil  Opcode = 0x10 // Push nil
	OpConstInt  Opcode = 0x11 // Push Int
	OpConstText Opcode = 0x12 // Push Text
	OpConstBool Opcode = 0x13 // Push Int != 0
	OpConstRef  Opcode = 0x14 // Push Ref as a reference value

	// ========================================================================
	// Local slots (0x20-0x2F)
	// ========================================================================

	OpLoad  Opcode = 0x20 // Push local slot Int
	OpStore Opcode = 0x21 // Pop into local slot Int

	// ========================================================================
	// Fields (0x30-0x3F)
	// ========================================================================

	OpGetField  Opcode = 0x30 // Pop receiver, push field Ref
	OpPutField  Opcode = 0x31 // Pop receiver and value, store field Ref
	OpGetStatic Opcode = 0x32 // Push static field Ref
	OpPutStatic Opcode = 0x33 // Pop value into static field Ref

	// ========================================================================
	// Calls (0x40-0x4F)
	// ========================================================================

	OpInvoke        Opcode = 0x40 // Virtual call: pops receiver + args of Ref
	OpInvokeStatic  Opcode = 0x41 // Static call: pops args of Ref
	OpInvokeSpecial Opcode = 0x42 // Non-virtual instance call (constructors)

	// ========================================================================
	// Objects and closures (0x50-0x5F)
	// ========================================================================

	OpNew        Opcode = 0x50 // Push new instance of unit Text
	OpCheckCast  Opcode = 0x51 // Assert top of stack is of type Text
	OpInstanceOf Opcode = 0x52 // Pop value, push whether it is of type Text
	OpClosure    Opcode = 0x53 // Pop captured slots, push closure over Ref with arity Int

	// ========================================================================
	// Arrays (0x60-0x6F)
	// ========================================================================

	OpNewArray   Opcode = 0x60 // Pop length, push array of element type Text
	OpArrayLoad  Opcode = 0x61 // Pop array and index, push element
	OpArrayStore Opcode = 0x62 // Pop array, index and value
	OpArrayLen   Opcode = 0x63 // Pop array, push length

	// ========================================================================
	// Arithmetic, comparison and text (0x70-0x7F)
	// ========================================================================

	OpAdd    Opcode = 0x70
	OpSub    Opcode = 0x71
	OpEq     Opcode = 0x72
	OpNot    Opcode = 0x73
	OpConcat Opcode = 0x74

	// ========================================================================
	// Control flow (0x80-0x8F)
	// ========================================================================

	OpLabel     Opcode = 0x80 // Jump target Int; no effect
	OpJump      Opcode = 0x81 // Jump to label Int
	OpJumpIf    Opcode = 0x82 // Pop, jump to label Int if true
	OpJumpIfNot Opcode = 0x83 // Pop, jump to label Int if false

	// ========================================================================
	// Return (0xF0-0xFF)
	// ========================================================================

	OpReturn     Opcode = 0xF0 // Pop and return value
	OpReturnVoid Opcode = 0xF1 // Return without a value
	OpThrow      Opcode = 0xF2 // Pop and raise value as a failure
)

// OperandKind describes which Instruction fields an opcode uses.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandInt
	OperandText
	OperandBool
	OperandRef
	OperandType
	OperandLabel
	OperandClosure
)

// OpcodeInfo provides metadata about each opcode for the assembler,
// disassembler and stack simulation.
type OpcodeInfo struct {
	Name      string      // Assembler mnemonic
	StackPop  int         // Values popped (-1 = depends on Ref)
	StackPush int         // Values pushed (-1 = depends on Ref)
	Operand   OperandKind // Operand fields consumed
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Stack manipulation
	OpNop:  {"nop", 0, 0, OperandNone},
	OpPop:  {"pop", 1, 0, OperandNone},
	OpDup:  {"dup", 1, 2, OperandNone},
	OpSwap: {"swap", 2, 2, OperandNone},

	// Constants
	OpConstNil:  {"const.nil", 0, 1, OperandNone},
	OpConstInt:  {"const.int", 0, 1, OperandInt},
	OpConstText: {"const.text", 0, 1, OperandText},
	OpConstBool: {"const.bool", 0, 1, OperandBool},
	OpConstRef:  {"const.ref", 0, 1, OperandRef},

	// Locals
	OpLoad:  {"load", 0, 1, OperandInt},
	OpStore: {"store", 1, 0, OperandInt},

	// Fields
	OpGetField:  {"getfield", 1, 1, OperandRef},
	OpPutField:  {"putfield", 2, 0, OperandRef},
	OpGetStatic: {"getstatic", 0, 1, OperandRef},
	OpPutStatic: {"putstatic", 1, 0, OperandRef},

	// Calls
	OpInvoke:        {"invoke", -1, -1, OperandRef},
	OpInvokeStatic:  {"invokestatic", -1, -1, OperandRef},
	OpInvokeSpecial: {"invokespecial", -1, -1, OperandRef},

	// Objects and closures
	OpNew:        {"new", 0, 1, OperandType},
	OpCheckCast:  {"checkcast", 1, 1, OperandType},
	OpInstanceOf: {"instanceof", 1, 1, OperandType},
	OpClosure:    {"closure", -1, 1, OperandClosure},

	// Arrays
	OpNewArray:   {"newarray", 1, 1, OperandType},
	OpArrayLoad:  {"aload", 2, 1, OperandNone},
	OpArrayStore: {"astore", 3, 0, OperandNone},
	OpArrayLen:   {"alen", 1, 1, OperandNone},

	// Arithmetic
	OpAdd:    {"add", 2, 1, OperandNone},
	OpSub:    {"sub", 2, 1, OperandNone},
	OpEq:     {"eq", 2, 1, OperandNone},
	OpNot:    {"not", 1, 1, OperandNone},
	OpConcat: {"concat", 2, 1, OperandNone},

	// Control flow
	OpLabel:     {"label", 0, 0, OperandLabel},
	OpJump:      {"jump", 0, 0, OperandLabel},
	OpJumpIf:    {"jumpif", 1, 0, OperandLabel},
	OpJumpIfNot: {"jumpifnot", 1, 0, OperandLabel},

	// Return
	OpReturn:     {"return", 1, 0, OperandNone},
	OpReturnVoid: {"return.void", 0, 0, OperandNone},
	OpThrow:      {"throw", 1, 0, OperandNone},
}

var opcodesByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		m[info.Name] = op
	}
	return m
}()

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("op(0x%02X)", byte(op))}
}

// String returns the mnemonic of the opcode.
func (op Opcode) String() string {
	return op.Info().Name
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// IsInvoke reports whether op is one of the call instructions.
func (op Opcode) IsInvoke() bool {
	return op == OpInvoke || op == OpInvokeStatic || op == OpInvokeSpecial
}

// IsTerminal reports whether control never falls through op.
func (op Opcode) IsTerminal() bool {
	return op == OpJump || op == OpReturn || op == OpReturnVoid || op == OpThrow
}

// LookupOpcode finds an opcode by mnemonic.
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opcodesByName[name]
	return op, ok
}
