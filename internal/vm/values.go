package vm

import (
	"fmt"
	"strings"

	"github.com/jward/capgate/internal/ref"
	"github.com/jward/capgate/internal/unit"
)

// Value is a runtime value: nil, int64, string, bool, ref.Reference,
// *Object, *Closure, *Array or *Optional.
type Value = any

// Class is a loaded, linked unit.
type Class struct {
	Unit       *unit.Unit
	Super      *Class
	Interfaces []*Class

	statics map[string]Value
}

// Name returns the unit name.
func (c *Class) Name() string { return c.Unit.Name }

// Inherits reports whether c is name or a transitive subtype of it.
func (c *Class) Inherits(name string) bool {
	if c == nil {
		return false
	}
	if c.Unit.Name == name {
		return true
	}
	if c.Super.Inherits(name) {
		return true
	}
	for _, i := range c.Interfaces {
		if i.Inherits(name) {
			return true
		}
	}
	return false
}

// Object is an instance of a class.
type Object struct {
	Class  *Class
	Fields map[string]Value
}

func (o *Object) String() string {
	return fmt.Sprintf("%s@%p", o.Class.Name(), o)
}

// Closure is a function value with its captured arguments.
type Closure struct {
	Target   ref.Reference
	Captured []Value
}

func (c *Closure) String() string {
	return fmt.Sprintf("closure(%s)", c.Target.Qualified())
}

// Array is a fixed-length array.
type Array struct {
	Elem  string
	Items []Value
}

// Optional is the result of an optional block.
type Optional struct {
	Value   Value
	Present bool
}

func (o *Optional) String() string {
	if !o.Present {
		return "Optional.empty"
	}
	return fmt.Sprintf("Optional[%s]", Format(o.Value))
}

// Format renders v for display.
func Format(v Value) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case string:
		return fmt.Sprintf("%q", x)
	case *Array:
		parts := make([]string, len(x.Items))
		for i, it := range x.Items {
			parts[i] = Format(it)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

// conforms reports whether v may be viewed as type descriptor t.
func conforms(v Value, t string) bool {
	if v == nil {
		return t != ref.TypeInt && t != ref.TypeBool
	}
	switch t {
	case ref.TypeObject:
		return true
	case ref.TypeInt:
		_, ok := v.(int64)
		return ok
	case ref.TypeBool:
		_, ok := v.(bool)
		return ok
	case ref.TypeText:
		_, ok := v.(string)
		return ok
	case ref.TypeClosure:
		_, ok := v.(*Closure)
		return ok
	case ref.TypeOptional:
		_, ok := v.(*Optional)
		return ok
	case ref.TypeRef:
		_, ok := v.(ref.Reference)
		return ok
	}
	if name, ok := ref.ClassName(t); ok {
		o, ok := v.(*Object)
		return ok && o.Class.Inherits(name)
	}
	if strings.HasPrefix(t, "[") {
		_, ok := v.(*Array)
		return ok
	}
	return false
}
