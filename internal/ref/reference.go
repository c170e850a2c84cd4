// Package ref defines the identity of symbols that can become capability
// dependencies: methods, fields and whole units.
package ref

import (
	"fmt"
	"strings"
)

// Kind classifies what a Reference points at.
type Kind uint8

const (
	Method Kind = iota
	Field
	Class
	// Unimplemented is the kind of the distinguished Sentinel reference.
	Unimplemented
)

func (k Kind) String() string {
	switch k {
	case Method:
		return "method"
	case Field:
		return "field"
	case Class:
		return "class"
	case Unimplemented:
		return "unimplemented"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Reference is the immutable identity of a symbol. Static and Signature are
// call-site metadata and take no part in equality; compare via Key.
type Reference struct {
	Owner     string
	Name      string
	Desc      string
	Kind      Kind
	Static    bool
	Signature string
}

// Key is the comparable identity of a Reference.
type Key struct {
	Owner string
	Name  string
	Desc  string
	Kind  Kind
}

// Sentinel always evaluates as not implemented and is never analyzed.
var Sentinel = Reference{Name: "<unimplemented>", Kind: Unimplemented}

// NewMethod returns a method reference.
func NewMethod(owner, name, desc string, static bool) Reference {
	return Reference{Owner: owner, Name: name, Desc: desc, Kind: Method, Static: static}
}

// NewField returns a field reference. desc is the field's type descriptor.
func NewField(owner, name, desc string, static bool) Reference {
	return Reference{Owner: owner, Name: name, Desc: desc, Kind: Field, Static: static}
}

// NewClass returns a class-only reference.
func NewClass(owner string) Reference {
	return Reference{Owner: owner, Kind: Class}
}

// Key returns the identity of r.
func (r Reference) Key() Key {
	return Key{Owner: r.Owner, Name: r.Name, Desc: r.Desc, Kind: r.Kind}
}

// Equal reports whether r and o identify the same symbol.
func (r Reference) Equal(o Reference) bool {
	return r.Key() == o.Key()
}

func (r Reference) IsMethod() bool   { return r.Kind == Method }
func (r Reference) IsField() bool    { return r.Kind == Field }
func (r Reference) IsSentinel() bool { return r.Kind == Unimplemented }

// Qualified returns "owner.name", or just the owner for class references.
func (r Reference) Qualified() string {
	if r.Name == "" {
		return r.Owner
	}
	return r.Owner + "." + r.Name
}

// String renders r in the same form Parse accepts.
func (r Reference) String() string {
	switch r.Kind {
	case Unimplemented:
		return r.Name
	case Class:
		return r.Owner
	}
	return r.Qualified() + " " + r.Desc
}

// WithStatic returns a copy of r with the static flag set to static.
func (r Reference) WithStatic(static bool) Reference {
	r.Static = static
	return r
}

// Parse reads "owner.name desc" (method when desc starts with '(', field
// otherwise) or a bare owner name (class). An optional "static " prefix sets
// the static flag.
func Parse(s string) (Reference, error) {
	s = strings.TrimSpace(s)
	static := false
	if rest, ok := strings.CutPrefix(s, "static "); ok {
		static = true
		s = strings.TrimSpace(rest)
	}
	if s == "" {
		return Reference{}, fmt.Errorf("ref: empty reference")
	}

	sym, desc, hasDesc := strings.Cut(s, " ")
	dot := strings.LastIndexByte(sym, '.')
	if !hasDesc {
		if dot >= 0 {
			return Reference{}, fmt.Errorf("ref: %q: member reference without descriptor", s)
		}
		return NewClass(sym), nil
	}
	if dot <= 0 || dot == len(sym)-1 {
		return Reference{}, fmt.Errorf("ref: %q: expected owner.name", s)
	}
	owner, name := sym[:dot], sym[dot+1:]
	desc = strings.TrimSpace(desc)

	if strings.HasPrefix(desc, "(") {
		if _, _, err := SplitMethod(desc); err != nil {
			return Reference{}, err
		}
		return NewMethod(owner, name, desc, static), nil
	}
	if _, err := nextType(desc, 0); err != nil {
		return Reference{}, fmt.Errorf("ref: %q: %w", s, err)
	}
	return NewField(owner, name, desc, static), nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) Reference {
	r, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return r
}
