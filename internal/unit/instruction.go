package unit

import (
	"fmt"
	"strconv"

	"github.com/jward/capgate/internal/ref"
)

// Instruction is one element of a method's code. Which operand fields are
// meaningful depends on Op.Info().Operand.
type Instruction struct {
	Op   Opcode         `cbor:"1,keyasint"`
	Ref  *ref.Reference `cbor:"2,keyasint,omitempty"`
	Int  int64          `cbor:"3,keyasint,omitempty"`
	Text string         `cbor:"4,keyasint,omitempty"`
}

// Simple returns an instruction without operands.
func Simple(op Opcode) Instruction {
	return Instruction{Op: op}
}

// IntOp returns an instruction with an integer operand (constants, slots,
// labels).
func IntOp(op Opcode, n int64) Instruction {
	return Instruction{Op: op, Int: n}
}

// TextOp returns an instruction with a text operand (text constants, types).
func TextOp(op Opcode, s string) Instruction {
	return Instruction{Op: op, Text: s}
}

// RefOp returns an instruction operating on a symbol. The static flag of r is
// normalized from the opcode.
func RefOp(op Opcode, r ref.Reference) Instruction {
	switch op {
	case OpInvokeStatic, OpGetStatic, OpPutStatic:
		r.Static = true
	case OpInvoke, OpInvokeSpecial, OpGetField, OpPutField:
		r.Static = false
	}
	return Instruction{Op: op, Ref: &r}
}

// ClosureOp returns a closure factory over target with the given arity.
func ClosureOp(target ref.Reference, arity int) Instruction {
	return Instruction{Op: OpClosure, Ref: &target, Int: int64(arity)}
}

// Captures returns how many stack slots a closure factory consumes.
func (ins Instruction) Captures() int {
	if ins.Op != OpClosure || ins.Ref == nil {
		return 0
	}
	n := ins.Ref.Slots() - int(ins.Int)
	if n < 0 {
		return 0
	}
	return n
}

// Target returns the referenced symbol, or the zero Reference.
func (ins Instruction) Target() ref.Reference {
	if ins.Ref == nil {
		return ref.Reference{}
	}
	return *ins.Ref
}

// Label returns the label id of a control-flow instruction.
func (ins Instruction) Label() int {
	return int(ins.Int)
}

// String renders the instruction in assembler syntax.
func (ins Instruction) String() string {
	info := ins.Op.Info()
	switch info.Operand {
	case OperandInt:
		return fmt.Sprintf("%s %d", info.Name, ins.Int)
	case OperandText:
		return fmt.Sprintf("%s %s", info.Name, strconv.Quote(ins.Text))
	case OperandBool:
		return fmt.Sprintf("%s %t", info.Name, ins.Int != 0)
	case OperandType:
		return fmt.Sprintf("%s %s", info.Name, ins.Text)
	case OperandLabel:
		return fmt.Sprintf("%s L%d", info.Name, ins.Int)
	case OperandRef:
		if ins.Op == OpConstRef && ins.Ref != nil && ins.Ref.Static {
			return fmt.Sprintf("%s static %s", info.Name, ins.Ref)
		}
		return fmt.Sprintf("%s %s", info.Name, ins.Target())
	case OperandClosure:
		prefix := ""
		if ins.Ref != nil && ins.Ref.Static {
			prefix = "static "
		}
		return fmt.Sprintf("%s %s%s %d", info.Name, prefix, ins.Target(), ins.Int)
	}
	return info.Name
}

func (ins Instruction) clone() Instruction {
	if ins.Ref != nil {
		r := *ins.Ref
		ins.Ref = &r
	}
	return ins
}
