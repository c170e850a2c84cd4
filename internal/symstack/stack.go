package symstack

import (
	"errors"
	"fmt"
	"slices"

	"github.com/jward/capgate/internal/ref"
	"github.com/jward/capgate/internal/unit"
)

// ErrStackUnderflow is the panic value (wrapped) raised when the simulation
// pops an empty stack. It always indicates a defect in the analyzer or a
// malformed instruction stream, never a recoverable condition.
var ErrStackUnderflow = errors.New("symstack: stack underflow")

// Stack is the simulated state of one method activation: an operand stack,
// a fixed-size local slot array and the stack shapes recorded at jump
// targets.
type Stack struct {
	values      []Value
	locals      []Value
	labels      map[int][]Value
	unreachable bool
}

// New returns an empty stack with the given number of local slots.
func New(locals int) *Stack {
	return &Stack{
		locals: make([]Value, locals),
		labels: make(map[int][]Value),
	}
}

// ForMethod returns a stack whose leading locals hold the arguments of m,
// receiver first for instance methods.
func ForMethod(m ref.Reference, locals int) *Stack {
	s := New(locals)
	slot := 0
	if !m.Static {
		s.locals[0] = LocalSlot{Index: 0, T: ref.ClassType(m.Owner)}
		slot = 1
	}
	params, _, _ := ref.SplitMethod(m.Desc)
	for _, p := range params {
		if slot >= len(s.locals) {
			break
		}
		s.locals[slot] = LocalSlot{Index: slot, T: p}
		slot++
	}
	return s
}

// Push pushes v.
func (s *Stack) Push(v Value) {
	s.values = append(s.values, v)
}

// Pop removes and returns the top value. Popping an empty stack panics.
func (s *Stack) Pop() Value {
	if len(s.values) == 0 {
		panic(fmt.Errorf("%w: pop on empty stack", ErrStackUnderflow))
	}
	v := s.values[len(s.values)-1]
	s.values = s.values[:len(s.values)-1]
	return v
}

// PopN removes the top n values and returns them in push order.
func (s *Stack) PopN(n int) []Value {
	if n > len(s.values) {
		panic(fmt.Errorf("%w: pop %d with %d on stack", ErrStackUnderflow, n, len(s.values)))
	}
	out := slices.Clone(s.values[len(s.values)-n:])
	s.values = s.values[:len(s.values)-n]
	return out
}

// Peek returns the top value without removing it. Peeking an empty stack
// panics.
func (s *Stack) Peek() Value {
	if len(s.values) == 0 {
		panic(fmt.Errorf("%w: peek on empty stack", ErrStackUnderflow))
	}
	return s.values[len(s.values)-1]
}

// PeekOrNone returns the top value, or false if the stack is empty.
func (s *Stack) PeekOrNone() (Value, bool) {
	if len(s.values) == 0 {
		return nil, false
	}
	return s.values[len(s.values)-1], true
}

// PopOrNone removes the top value, or returns false if the stack is empty.
func (s *Stack) PopOrNone() (Value, bool) {
	if len(s.values) == 0 {
		return nil, false
	}
	return s.Pop(), true
}

// Len returns the operand stack depth.
func (s *Stack) Len() int {
	return len(s.values)
}

// Local returns the value held in slot i.
func (s *Stack) Local(i int) Value {
	return s.locals[i]
}

// SetLocal stores v in slot i.
func (s *Stack) SetLocal(i int, v Value) {
	s.locals[i] = v
}

// Clone returns an independent copy for speculative simulation. Array and
// closure literals are shared; they describe the same runtime objects.
func (s *Stack) Clone() *Stack {
	c := &Stack{
		values:      slices.Clone(s.values),
		locals:      slices.Clone(s.locals),
		labels:      make(map[int][]Value, len(s.labels)),
		unreachable: s.unreachable,
	}
	for k, v := range s.labels {
		c.labels[k] = slices.Clone(v)
	}
	return c
}

// Reachable reports whether control can fall through to the next
// instruction.
func (s *Stack) Reachable() bool {
	return !s.unreachable
}

// Terminate marks the current position as unreachable by fallthrough.
func (s *Stack) Terminate() {
	s.unreachable = true
}

func (s *Stack) recordLabel(id int) {
	if _, ok := s.labels[id]; !ok {
		s.labels[id] = slices.Clone(s.values)
	}
}

func (s *Stack) enterLabel(id int) {
	if shape, ok := s.labels[id]; ok && s.unreachable {
		s.values = slices.Clone(shape)
	}
	s.unreachable = false
}

// Apply simulates the stack effect of ins.
func (s *Stack) Apply(ins unit.Instruction) {
	switch ins.Op {
	case unit.OpNop:

	case unit.OpPop:
		s.Pop()
	case unit.OpDup:
		v := s.Peek()
		s.Push(v)
	case unit.OpSwap:
		vs := s.PopN(2)
		s.Push(vs[1])
		s.Push(vs[0])

	case unit.OpConstNil:
		s.Push(Constant{T: ref.TypeObject})
	case unit.OpConstInt:
		s.Push(Constant{T: ref.TypeInt, V: ins.Int})
	case unit.OpConstText:
		s.Push(Constant{T: ref.TypeText, V: ins.Text})
	case unit.OpConstBool:
		s.Push(Constant{T: ref.TypeBool, V: ins.Int != 0})
	case unit.OpConstRef:
		s.Push(Constant{T: ref.TypeRef, V: ins.Target()})

	case unit.OpLoad:
		s.Push(s.load(int(ins.Int)))
	case unit.OpStore:
		s.locals[ins.Int] = s.Pop()

	case unit.OpGetField:
		s.Pop()
		s.Push(FieldAccess{Ref: ins.Target()})
	case unit.OpGetStatic:
		s.Push(FieldAccess{Ref: ins.Target()})
	case unit.OpPutField:
		s.PopN(2)
	case unit.OpPutStatic:
		s.Pop()

	case unit.OpInvoke, unit.OpInvokeStatic, unit.OpInvokeSpecial:
		s.Invoke(ins.Target())

	case unit.OpNew:
		s.Push(TypeWitness{T: ref.ClassType(ins.Text)})
	case unit.OpCheckCast:
		s.Pop()
		s.Push(TypeWitness{T: ins.Text})
	case unit.OpInstanceOf:
		s.Pop()
		s.Push(Unknown{T: ref.TypeBool})
	case unit.OpClosure:
		s.PopN(ins.Captures())
		s.Push(NewClosure(ins.Target()))

	case unit.OpNewArray:
		s.Push(newArray(ins.Text, s.Pop()))
	case unit.OpArrayStore:
		vs := s.PopN(3)
		storeArray(vs[0], vs[1], vs[2])
	case unit.OpArrayLoad:
		vs := s.PopN(2)
		s.Push(loadArray(vs[0], vs[1]))
	case unit.OpArrayLen:
		s.Pop()
		s.Push(Unknown{T: ref.TypeInt})

	case unit.OpAdd, unit.OpSub:
		s.PopN(2)
		s.Push(Unknown{T: ref.TypeInt})
	case unit.OpEq:
		s.PopN(2)
		s.Push(Unknown{T: ref.TypeBool})
	case unit.OpNot:
		s.Pop()
		s.Push(Unknown{T: ref.TypeBool})
	case unit.OpConcat:
		s.PopN(2)
		s.Push(Unknown{T: ref.TypeText})

	case unit.OpLabel:
		s.enterLabel(ins.Label())
	case unit.OpJump:
		s.recordLabel(ins.Label())
		s.unreachable = true
	case unit.OpJumpIf, unit.OpJumpIfNot:
		s.Pop()
		s.recordLabel(ins.Label())

	case unit.OpReturn, unit.OpThrow:
		s.Pop()
		s.unreachable = true
	case unit.OpReturnVoid:
		s.unreachable = true

	default:
		panic(fmt.Sprintf("symstack: unhandled opcode %s", ins.Op))
	}
}

// Invoke pops the arguments (and receiver) of a call to r and pushes its
// result unless it returns void. It returns the popped values, receiver
// first.
func (s *Stack) Invoke(r ref.Reference) []Value {
	args := s.PopN(r.Slots())
	if ret := ref.ReturnType(r.Desc); ret != ref.TypeVoid {
		s.Push(MethodReturn{Ref: r, T: ret})
	}
	return args
}

// NewClosure returns a fresh closure literal over target.
func NewClosure(target ref.Reference) *ClosureLiteral {
	return &ClosureLiteral{
		Direct:  !target.IsClosureBody(),
		Target:  target,
		Discard: new(bool),
	}
}

func (s *Stack) load(i int) Value {
	switch v := s.locals[i].(type) {
	case *ClosureLiteral, *ArrayLiteral, *Tracked:
		return v
	case LocalSlot:
		return v
	case nil:
		return LocalSlot{Index: i, T: ref.TypeObject}
	default:
		return LocalSlot{Index: i, T: v.Type()}
	}
}

// MaxTrackedArray bounds the length of array literals whose elements are
// tracked. Longer arrays become Unknown values of the array type.
const MaxTrackedArray = 64

func newArray(elem string, length Value) Value {
	a := &ArrayLiteral{Elem: elem}
	if c, ok := length.(Constant); ok {
		n, ok := c.V.(int64)
		switch {
		case !ok || n <= 0:
		case n > MaxTrackedArray:
			return Unknown{T: a.Type()}
		default:
			a.Slots = make([]Value, n)
		}
	}
	return a
}

func constIndex(v Value) (int, bool) {
	c, ok := v.(Constant)
	if !ok {
		return 0, false
	}
	n, ok := c.V.(int64)
	return int(n), ok && n >= 0 && n < MaxTrackedArray
}

func storeArray(arr, index, val Value) {
	a, ok := arr.(*ArrayLiteral)
	if !ok {
		return
	}
	i, ok := constIndex(index)
	if !ok {
		return
	}
	for len(a.Slots) <= i {
		a.Slots = append(a.Slots, nil)
	}
	a.Slots[i] = val
}

func loadArray(arr, index Value) Value {
	a, ok := arr.(*ArrayLiteral)
	if !ok {
		return Unknown{T: ref.ElementType(arr.Type())}
	}
	if i, ok := constIndex(index); ok && i < len(a.Slots) && a.Slots[i] != nil {
		return a.Slots[i]
	}
	return Unknown{T: a.Elem}
}
