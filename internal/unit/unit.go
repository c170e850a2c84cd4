// Package unit models compiled units: named, method-bearing types whose
// methods carry a stack-machine instruction stream. It provides the binary
// codec, a TOML source assembler, a disassembler and the loaders the
// analyzer reads units through.
package unit

import (
	"slices"

	"github.com/jward/capgate/internal/ref"
)

// Flags describe a unit.
type Flags uint16

const (
	FlagInterface Flags = 1 << iota
	FlagAbstract
)

// Const is a constant initial value of a field.
type Const struct {
	Type string `cbor:"1,keyasint"` // I, Z or T
	Int  int64  `cbor:"2,keyasint,omitempty"`
	Text string `cbor:"3,keyasint,omitempty"`
}

// Value returns the Go value of the constant.
func (c *Const) Value() any {
	switch c.Type {
	case ref.TypeInt:
		return c.Int
	case ref.TypeBool:
		return c.Int != 0
	default:
		return c.Text
	}
}

// Field is a declared field. A nil Value means the field starts out nil.
type Field struct {
	Name   string `cbor:"name"`
	Desc   string `cbor:"desc"`
	Static bool   `cbor:"static,omitempty"`
	Value  *Const `cbor:"value,omitempty"`
}

// Method is a declared method. Abstract methods have no code.
type Method struct {
	Name     string        `cbor:"name"`
	Desc     string        `cbor:"desc"`
	Static   bool          `cbor:"static,omitempty"`
	Abstract bool          `cbor:"abstract,omitempty"`
	Locals   int           `cbor:"locals,omitempty"`
	Code     []Instruction `cbor:"code,omitempty"`
}

// Unit is one compiled type.
type Unit struct {
	Name       string    `cbor:"name"`
	Super      string    `cbor:"super,omitempty"`
	Interfaces []string  `cbor:"interfaces,omitempty"`
	Flags      Flags     `cbor:"flags,omitempty"`
	Fields     []*Field  `cbor:"fields,omitempty"`
	Methods    []*Method `cbor:"methods,omitempty"`
}

// IsInterface reports whether the unit is an interface.
func (u *Unit) IsInterface() bool {
	return u.Flags&FlagInterface != 0
}

// Method finds a declared method by name and descriptor.
func (u *Unit) Method(name, desc string) *Method {
	for _, m := range u.Methods {
		if m.Name == name && m.Desc == desc {
			return m
		}
	}
	return nil
}

// Field finds a declared field by name.
func (u *Unit) Field(name string) *Field {
	for _, f := range u.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// MethodRef returns the reference identifying m within u.
func (u *Unit) MethodRef(m *Method) ref.Reference {
	return ref.NewMethod(u.Name, m.Name, m.Desc, m.Static)
}

// FieldRef returns the reference identifying f within u.
func (u *Unit) FieldRef(f *Field) ref.Reference {
	return ref.NewField(u.Name, f.Name, f.Desc, f.Static)
}

// Supertypes returns the direct supertypes of u: the superclass first, then
// the declared interfaces.
func (u *Unit) Supertypes() []string {
	var out []string
	if u.Super != "" {
		out = append(out, u.Super)
	}
	return append(out, u.Interfaces...)
}

// Clone returns a deep copy of u.
func (u *Unit) Clone() *Unit {
	c := *u
	c.Interfaces = slices.Clone(u.Interfaces)
	c.Fields = make([]*Field, len(u.Fields))
	for i, f := range u.Fields {
		fc := *f
		if f.Value != nil {
			v := *f.Value
			fc.Value = &v
		}
		c.Fields[i] = &fc
	}
	c.Methods = make([]*Method, len(u.Methods))
	for i, m := range u.Methods {
		mc := *m
		mc.Code = make([]Instruction, len(m.Code))
		for j, ins := range m.Code {
			mc.Code[j] = ins.clone()
		}
		c.Methods[i] = &mc
	}
	return &c
}
