package ref

import (
	"fmt"
	"strings"
)

// Type descriptors. Every value occupies exactly one slot.
//
//	V  void (return only)
//	I  integer
//	Z  boolean
//	T  text
//	O  any object
//	F  closure
//	Q  optional
//	R  reference
//	L<name>;  instance of a unit
//	[<elem>   array
const (
	TypeVoid     = "V"
	TypeInt      = "I"
	TypeBool     = "Z"
	TypeText     = "T"
	TypeObject   = "O"
	TypeClosure  = "F"
	TypeOptional = "Q"
	TypeRef      = "R"
)

// nextType returns the index just past the type descriptor starting at i.
func nextType(desc string, i int) (int, error) {
	if i >= len(desc) {
		return 0, fmt.Errorf("ref: truncated descriptor %q", desc)
	}
	switch desc[i] {
	case 'V', 'I', 'Z', 'T', 'O', 'F', 'Q', 'R':
		return i + 1, nil
	case 'L':
		end := strings.IndexByte(desc[i:], ';')
		if end <= 1 {
			return 0, fmt.Errorf("ref: unterminated class type in %q", desc)
		}
		return i + end + 1, nil
	case '[':
		return nextType(desc, i+1)
	}
	return 0, fmt.Errorf("ref: bad type %q in descriptor %q", desc[i], desc)
}

// SplitMethod splits a method descriptor "(args)ret" into its parameter types
// and return type.
func SplitMethod(desc string) ([]string, string, error) {
	if !strings.HasPrefix(desc, "(") {
		return nil, "", fmt.Errorf("ref: method descriptor %q must start with '('", desc)
	}
	var params []string
	i := 1
	for i < len(desc) && desc[i] != ')' {
		end, err := nextType(desc, i)
		if err != nil {
			return nil, "", err
		}
		params = append(params, desc[i:end])
		i = end
	}
	if i >= len(desc) {
		return nil, "", fmt.Errorf("ref: method descriptor %q missing ')'", desc)
	}
	ret := desc[i+1:]
	end, err := nextType(ret, 0)
	if err != nil {
		return nil, "", err
	}
	if end != len(ret) {
		return nil, "", fmt.Errorf("ref: trailing data in descriptor %q", desc)
	}
	return params, ret, nil
}

// ArgCount returns the number of declared parameters of a method descriptor,
// or 0 if the descriptor is malformed.
func ArgCount(desc string) int {
	params, _, err := SplitMethod(desc)
	if err != nil {
		return 0
	}
	return len(params)
}

// ReturnType returns the return type of a method descriptor.
func ReturnType(desc string) string {
	_, ret, err := SplitMethod(desc)
	if err != nil {
		return TypeObject
	}
	return ret
}

// Slots returns the number of local slots a method's arguments occupy,
// counting the receiver of instance methods.
func (r Reference) Slots() int {
	n := ArgCount(r.Desc)
	if !r.Static {
		n++
	}
	return n
}

// ClassType returns the descriptor "L<name>;".
func ClassType(name string) string {
	return "L" + name + ";"
}

// ClassName returns the unit name of an "L<name>;" descriptor.
func ClassName(t string) (string, bool) {
	if len(t) > 2 && t[0] == 'L' && t[len(t)-1] == ';' {
		return t[1 : len(t)-1], true
	}
	return "", false
}

// ArrayOf returns the array descriptor for elem.
func ArrayOf(elem string) string {
	return "[" + elem
}

// ElementType returns the element type of an array descriptor.
func ElementType(t string) string {
	if strings.HasPrefix(t, "[") {
		return t[1:]
	}
	return TypeObject
}
