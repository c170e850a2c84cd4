// Package vm executes units. It is the host that loads rewritten units and
// supplies the intrinsic capgate/ units that rewritten code calls into.
package vm

import (
	"context"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/jward/capgate/internal/adapter"
	"github.com/jward/capgate/internal/ref"
	"github.com/jward/capgate/internal/unit"
)

var log = commonlog.GetLogger("capgate.vm")

// DefaultMaxDepth bounds the call depth of a Machine.
const DefaultMaxDepth = 512

// Option configures a Machine.
type Option func(*Machine)

// WithAdapters sets the adapter registry behind Runtime.convert.
func WithAdapters(r *adapter.Registry) Option {
	return func(m *Machine) { m.adapters = r }
}

// WithMaxDepth bounds the call depth.
func WithMaxDepth(n int) Option {
	return func(m *Machine) { m.maxDepth = n }
}

// Machine interprets units obtained from a Source. A Machine is not safe for
// concurrent use.
type Machine struct {
	src      Source
	adapters *adapter.Registry
	maxDepth int

	classes     map[string]*Class
	conversions map[[2]string]adapter.Func
	depth       int
}

// New returns a Machine reading units from src.
func New(src Source, opts ...Option) *Machine {
	m := &Machine{
		src:         src,
		maxDepth:    DefaultMaxDepth,
		classes:     make(map[string]*Class),
		conversions: make(map[[2]string]adapter.Func),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Class loads and links the named unit.
func (m *Machine) Class(ctx context.Context, name string) (*Class, error) {
	if c, ok := m.classes[name]; ok {
		return c, nil
	}
	u, err := m.src.Unit(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("vm: load %s: %w", name, err)
	}
	c := &Class{Unit: u, statics: make(map[string]Value)}
	// Registered before linking so cyclic hierarchies terminate.
	m.classes[name] = c
	if u.Super != "" {
		if c.Super, err = m.Class(ctx, u.Super); err != nil {
			delete(m.classes, name)
			return nil, err
		}
	}
	for _, iname := range u.Interfaces {
		if ref.IsIntrinsic(iname) {
			continue
		}
		ic, err := m.Class(ctx, iname)
		if err != nil {
			delete(m.classes, name)
			return nil, err
		}
		c.Interfaces = append(c.Interfaces, ic)
	}
	for _, f := range u.Fields {
		if !f.Static {
			continue
		}
		var v Value
		if f.Value != nil {
			v = f.Value.Value()
		}
		c.statics[f.Name] = v
	}
	log.Debugf("loaded %s", name)
	return c, nil
}

// New allocates an instance of the named unit and runs its no-argument
// constructor when it declares one.
func (m *Machine) New(ctx context.Context, name string) (*Object, error) {
	c, err := m.Class(ctx, name)
	if err != nil {
		return nil, err
	}
	obj := newObject(c)
	if mt := c.Unit.Method(ref.Constructor, "()V"); mt != nil {
		if _, err := m.execute(ctx, c, mt, []Value{obj}); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// Call invokes a static method.
func (m *Machine) Call(ctx context.Context, owner, name, desc string, args ...Value) (Value, error) {
	return m.invokeStatic(ctx, ref.Reference{}, ref.NewMethod(owner, name, desc, true), args)
}

// Invoke calls r. Instance methods take the receiver as the first argument
// and are dispatched on it.
func (m *Machine) Invoke(ctx context.Context, r ref.Reference, args ...Value) (Value, error) {
	if r.Static {
		return m.invokeStatic(ctx, ref.Reference{}, r, args)
	}
	return m.invokeVirtual(ctx, ref.Reference{}, r, args)
}

// CallClosure applies a closure to args.
func (m *Machine) CallClosure(ctx context.Context, c *Closure, args ...Value) (Value, error) {
	full := append(append(make([]Value, 0, len(c.Captured)+len(args)), c.Captured...), args...)
	return m.Invoke(ctx, c.Target, full...)
}

func newObject(c *Class) *Object {
	obj := &Object{Class: c, Fields: make(map[string]Value)}
	for k := c; k != nil; k = k.Super {
		for _, f := range k.Unit.Fields {
			if f.Static {
				continue
			}
			if _, ok := obj.Fields[f.Name]; ok {
				continue
			}
			var v Value
			if f.Value != nil {
				v = f.Value.Value()
			}
			obj.Fields[f.Name] = v
		}
	}
	return obj
}

func (m *Machine) invokeStatic(ctx context.Context, caller, r ref.Reference, args []Value) (Value, error) {
	if ref.IsIntrinsic(r.Owner) {
		return m.intrinsic(ctx, caller, r, args)
	}
	c, err := m.Class(ctx, r.Owner)
	if err != nil {
		return nil, err
	}
	owner, mt := c.findDeclared(r.Name, r.Desc)
	if mt == nil || mt.Abstract {
		return nil, fmt.Errorf("%w: %s", ErrNoMethod, r)
	}
	return m.execute(ctx, owner, mt, args)
}

func (m *Machine) invokeSpecial(ctx context.Context, r ref.Reference, args []Value) (Value, error) {
	c, err := m.Class(ctx, r.Owner)
	if err != nil {
		return nil, err
	}
	owner, mt := c.findDeclared(r.Name, r.Desc)
	if mt == nil || mt.Abstract {
		return nil, fmt.Errorf("%w: %s", ErrNoMethod, r)
	}
	return m.execute(ctx, owner, mt, args)
}

func (m *Machine) invokeVirtual(ctx context.Context, caller, r ref.Reference, args []Value) (Value, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNilReceiver, r)
	}
	switch recv := args[0].(type) {
	case nil:
		return nil, fmt.Errorf("%w: %s", ErrNilReceiver, r)
	case *Object:
		owner, mt := recv.Class.dispatch(r.Name, r.Desc)
		if mt == nil {
			return nil, fmt.Errorf("%w: %s on %s", ErrNoMethod, r, recv.Class.Name())
		}
		return m.execute(ctx, owner, mt, args)
	default:
		if ref.IsIntrinsic(r.Owner) {
			return m.intrinsic(ctx, caller, r, args)
		}
		return nil, fmt.Errorf("%w: %s on %T", ErrNoMethod, r, recv)
	}
}

// findDeclared looks up a method along the superclass chain.
func (c *Class) findDeclared(name, desc string) (*Class, *unit.Method) {
	for k := c; k != nil; k = k.Super {
		if mt := k.Unit.Method(name, desc); mt != nil {
			return k, mt
		}
	}
	return nil, nil
}

// dispatch finds the concrete method: the superclass chain first, then
// interface defaults breadth first.
func (c *Class) dispatch(name, desc string) (*Class, *unit.Method) {
	for k := c; k != nil; k = k.Super {
		if mt := k.Unit.Method(name, desc); mt != nil && !mt.Abstract {
			return k, mt
		}
	}
	seen := make(map[*Class]bool)
	var queue []*Class
	for k := c; k != nil; k = k.Super {
		queue = append(queue, k.Interfaces...)
	}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		if seen[i] {
			continue
		}
		seen[i] = true
		if mt := i.Unit.Method(name, desc); mt != nil && !mt.Abstract {
			return i, mt
		}
		queue = append(queue, i.Interfaces...)
	}
	return nil, nil
}

func (c *Class) static(name string) (*Class, bool) {
	for k := c; k != nil; k = k.Super {
		if _, ok := k.statics[name]; ok {
			return k, true
		}
	}
	for _, i := range c.Interfaces {
		if k, ok := i.static(name); ok {
			return k, true
		}
	}
	return nil, false
}

type frame struct {
	class  *Class
	method *unit.Method
	ref    ref.Reference
	locals []Value
	stack  []Value
}

func (f *frame) push(v Value) { f.stack = append(f.stack, v) }

func (f *frame) pop() (Value, error) {
	if len(f.stack) == 0 {
		return nil, fmt.Errorf("vm: stack underflow in %s", f.ref)
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v, nil
}

func (f *frame) popN(n int) ([]Value, error) {
	if len(f.stack) < n {
		return nil, fmt.Errorf("vm: stack underflow in %s", f.ref)
	}
	out := make([]Value, n)
	copy(out, f.stack[len(f.stack)-n:])
	f.stack = f.stack[:len(f.stack)-n]
	return out, nil
}

func popAs[T any](f *frame) (T, error) {
	var zero T
	v, err := f.pop()
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: want %T, got %s in %s", ErrTypeMismatch, zero, Format(v), f.ref)
	}
	return t, nil
}

func labels(code []unit.Instruction) map[int]int {
	out := make(map[int]int)
	for pc, ins := range code {
		if ins.Op == unit.OpLabel {
			out[ins.Label()] = pc
		}
	}
	return out
}

func (m *Machine) execute(ctx context.Context, c *Class, mt *unit.Method, args []Value) (Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.depth >= m.maxDepth {
		return nil, ErrStackOverflow
	}
	m.depth++
	defer func() { m.depth-- }()

	f := &frame{class: c, method: mt, ref: c.Unit.MethodRef(mt)}
	n := max(mt.Locals, len(args))
	f.locals = make([]Value, n)
	copy(f.locals, args)
	jumps := labels(mt.Code)

	for pc := 0; pc < len(mt.Code); pc++ {
		ins := mt.Code[pc]
		switch ins.Op {
		case unit.OpNop, unit.OpLabel:

		case unit.OpPop:
			if _, err := f.pop(); err != nil {
				return nil, err
			}
		case unit.OpDup:
			v, err := f.pop()
			if err != nil {
				return nil, err
			}
			f.push(v)
			f.push(v)
		case unit.OpSwap:
			vs, err := f.popN(2)
			if err != nil {
				return nil, err
			}
			f.push(vs[1])
			f.push(vs[0])

		case unit.OpConstNil:
			f.push(nil)
		case unit.OpConstInt:
			f.push(ins.Int)
		case unit.OpConstText:
			f.push(ins.Text)
		case unit.OpConstBool:
			f.push(ins.Int != 0)
		case unit.OpConstRef:
			f.push(ins.Target())

		case unit.OpLoad:
			slot := int(ins.Int)
			if slot < 0 || slot >= len(f.locals) {
				return nil, fmt.Errorf("vm: bad local %d in %s", slot, f.ref)
			}
			f.push(f.locals[slot])
		case unit.OpStore:
			slot := int(ins.Int)
			if slot < 0 {
				return nil, fmt.Errorf("vm: bad local %d in %s", slot, f.ref)
			}
			v, err := f.pop()
			if err != nil {
				return nil, err
			}
			for slot >= len(f.locals) {
				f.locals = append(f.locals, nil)
			}
			f.locals[slot] = v

		case unit.OpGetField:
			obj, err := popAs[*Object](f)
			if err != nil {
				return nil, err
			}
			v, ok := obj.Fields[ins.Target().Name]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrNoField, ins.Target())
			}
			f.push(v)
		case unit.OpPutField:
			v, err := f.pop()
			if err != nil {
				return nil, err
			}
			obj, err := popAs[*Object](f)
			if err != nil {
				return nil, err
			}
			obj.Fields[ins.Target().Name] = v
		case unit.OpGetStatic, unit.OpPutStatic:
			r := ins.Target()
			oc, err := m.Class(ctx, r.Owner)
			if err != nil {
				return nil, err
			}
			holder, ok := oc.static(r.Name)
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrNoField, r)
			}
			if ins.Op == unit.OpGetStatic {
				f.push(holder.statics[r.Name])
				break
			}
			v, err := f.pop()
			if err != nil {
				return nil, err
			}
			holder.statics[r.Name] = v

		case unit.OpInvoke, unit.OpInvokeStatic, unit.OpInvokeSpecial:
			r := ins.Target()
			args, err := f.popN(r.Slots())
			if err != nil {
				return nil, err
			}
			var v Value
			switch ins.Op {
			case unit.OpInvoke:
				v, err = m.invokeVirtual(ctx, f.ref, r, args)
			case unit.OpInvokeStatic:
				v, err = m.invokeStatic(ctx, f.ref, r, args)
			default:
				v, err = m.invokeSpecial(ctx, r, args)
			}
			if err != nil {
				return nil, err
			}
			if ref.ReturnType(r.Desc) != ref.TypeVoid {
				f.push(v)
			}

		case unit.OpNew:
			nc, err := m.Class(ctx, ins.Text)
			if err != nil {
				return nil, err
			}
			f.push(newObject(nc))
		case unit.OpCheckCast:
			v, err := f.pop()
			if err != nil {
				return nil, err
			}
			if !conforms(v, ins.Text) {
				return nil, fmt.Errorf("%w: %s is not %s in %s", ErrBadCast, Format(v), ins.Text, f.ref)
			}
			f.push(v)
		case unit.OpInstanceOf:
			v, err := f.pop()
			if err != nil {
				return nil, err
			}
			f.push(v != nil && conforms(v, ins.Text))
		case unit.OpClosure:
			captured, err := f.popN(ins.Captures())
			if err != nil {
				return nil, err
			}
			f.push(&Closure{Target: ins.Target(), Captured: captured})

		case unit.OpNewArray:
			n, err := popAs[int64](f)
			if err != nil {
				return nil, err
			}
			if n < 0 {
				return nil, fmt.Errorf("%w: length %d", ErrIndexOutOfRange, n)
			}
			f.push(&Array{Elem: ins.Text, Items: make([]Value, n)})
		case unit.OpArrayLoad:
			i, err := popAs[int64](f)
			if err != nil {
				return nil, err
			}
			arr, err := popAs[*Array](f)
			if err != nil {
				return nil, err
			}
			if i < 0 || int(i) >= len(arr.Items) {
				return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
			}
			f.push(arr.Items[i])
		case unit.OpArrayStore:
			v, err := f.pop()
			if err != nil {
				return nil, err
			}
			i, err := popAs[int64](f)
			if err != nil {
				return nil, err
			}
			arr, err := popAs[*Array](f)
			if err != nil {
				return nil, err
			}
			if i < 0 || int(i) >= len(arr.Items) {
				return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
			}
			arr.Items[i] = v
		case unit.OpArrayLen:
			arr, err := popAs[*Array](f)
			if err != nil {
				return nil, err
			}
			f.push(int64(len(arr.Items)))

		case unit.OpAdd, unit.OpSub:
			b, err := popAs[int64](f)
			if err != nil {
				return nil, err
			}
			a, err := popAs[int64](f)
			if err != nil {
				return nil, err
			}
			if ins.Op == unit.OpAdd {
				f.push(a + b)
			} else {
				f.push(a - b)
			}
		case unit.OpEq:
			vs, err := f.popN(2)
			if err != nil {
				return nil, err
			}
			f.push(equal(vs[0], vs[1]))
		case unit.OpNot:
			b, err := popAs[bool](f)
			if err != nil {
				return nil, err
			}
			f.push(!b)
		case unit.OpConcat:
			vs, err := f.popN(2)
			if err != nil {
				return nil, err
			}
			f.push(text(vs[0]) + text(vs[1]))

		case unit.OpJump:
			pc = jumps[ins.Label()]
		case unit.OpJumpIf, unit.OpJumpIfNot:
			b, err := popAs[bool](f)
			if err != nil {
				return nil, err
			}
			if b == (ins.Op == unit.OpJumpIf) {
				pc = jumps[ins.Label()]
			}

		case unit.OpReturn:
			return f.pop()
		case unit.OpReturnVoid:
			return nil, nil
		case unit.OpThrow:
			v, err := f.pop()
			if err != nil {
				return nil, err
			}
			if e, ok := v.(error); ok {
				return nil, e
			}
			return nil, &ThrownError{Value: v}

		default:
			return nil, fmt.Errorf("vm: invalid opcode %s in %s", ins.Op, f.ref)
		}
	}
	return nil, nil
}

func equal(a, b Value) bool {
	if ra, ok := a.(ref.Reference); ok {
		rb, ok := b.(ref.Reference)
		return ok && ra.Equal(rb)
	}
	return a == b
}

func text(v Value) string {
	if s, ok := v.(string); ok {
		return s
	}
	return Format(v)
}
