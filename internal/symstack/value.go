// Package symstack simulates the operand stack and local slots of a method
// without executing it. Every slot holds a Value describing where it came
// from and what type it has.
package symstack

import (
	"fmt"

	"github.com/jward/capgate/internal/ref"
)

// Value is one symbolic slot.
type Value interface {
	// Type returns the type descriptor of the slot.
	Type() string
	String() string
	isValue()
}

// Constant is a literal pushed by a const instruction.
type Constant struct {
	T string
	V any
}

// LocalSlot is a value read from (or an argument held in) a local slot.
type LocalSlot struct {
	Index     int
	T         string
	Signature string
}

// FieldAccess is the result of reading a field.
type FieldAccess struct {
	Ref ref.Reference
}

// MethodReturn is the result of a call.
type MethodReturn struct {
	Ref       ref.Reference
	T         string
	Signature string
}

// ArrayLiteral is an array whose construction was observed. Slots holds the
// values stored at constant indexes; unknown elements are nil.
type ArrayLiteral struct {
	Elem  string
	Slots []Value
}

// ClosureLiteral is a function value over Target. A direct closure is
// exactly one call to Target; an indirect one is a synthetic body whose
// analyzed dependencies stand in for it. Discard is shared with the
// instruction that created the closure, so the rewriter can strip it.
type ClosureLiteral struct {
	Direct  bool
	Target  ref.Reference
	Discard *bool
}

// TypeWitness marks a value whose type is known from a cast or allocation.
type TypeWitness struct {
	T string
}

// Unknown is a value of known type but untracked provenance.
type Unknown struct {
	T string
}

// Tracked lets a hook tag a slot so it can recognize the value when it is
// consumed later.
type Tracked struct {
	T       string
	Payload any
}

func (Constant) isValue()        {}
func (LocalSlot) isValue()       {}
func (FieldAccess) isValue()     {}
func (MethodReturn) isValue()    {}
func (*ArrayLiteral) isValue()   {}
func (*ClosureLiteral) isValue() {}
func (TypeWitness) isValue()     {}
func (Unknown) isValue()         {}
func (*Tracked) isValue()        {}

func (c Constant) Type() string        { return c.T }
func (l LocalSlot) Type() string       { return l.T }
func (f FieldAccess) Type() string     { return f.Ref.Desc }
func (m MethodReturn) Type() string    { return m.T }
func (a *ArrayLiteral) Type() string   { return ref.ArrayOf(a.Elem) }
func (c *ClosureLiteral) Type() string { return ref.TypeClosure }
func (w TypeWitness) Type() string     { return w.T }
func (u Unknown) Type() string         { return u.T }
func (t *Tracked) Type() string        { return t.T }

func (c Constant) String() string       { return fmt.Sprintf("const(%s %v)", c.T, c.V) }
func (l LocalSlot) String() string      { return fmt.Sprintf("local(%d %s)", l.Index, l.T) }
func (f FieldAccess) String() string    { return fmt.Sprintf("field(%s)", f.Ref) }
func (m MethodReturn) String() string   { return fmt.Sprintf("return(%s)", m.Ref) }
func (a *ArrayLiteral) String() string  { return fmt.Sprintf("array(%s x%d)", a.Elem, len(a.Slots)) }
func (w TypeWitness) String() string    { return fmt.Sprintf("witness(%s)", w.T) }
func (u Unknown) String() string        { return fmt.Sprintf("unknown(%s)", u.T) }
func (t *Tracked) String() string       { return fmt.Sprintf("tracked(%s)", t.T) }
func (c *ClosureLiteral) String() string {
	kind := "indirect"
	if c.Direct {
		kind = "direct"
	}
	return fmt.Sprintf("closure(%s %s)", kind, c.Target)
}

// Closures returns the closure literals held by a, in slot order. ok is false
// if any slot is not a closure literal.
func (a *ArrayLiteral) Closures() (out []*ClosureLiteral, ok bool) {
	out = make([]*ClosureLiteral, 0, len(a.Slots))
	for _, v := range a.Slots {
		c, isClosure := v.(*ClosureLiteral)
		if !isClosure {
			return nil, false
		}
		out = append(out, c)
	}
	return out, true
}
