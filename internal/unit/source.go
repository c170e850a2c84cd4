package unit

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jward/capgate/internal/ref"
)

// sourceUnit is the TOML form of a unit.
type sourceUnit struct {
	Name       string         `toml:"name"`
	Super      string         `toml:"super"`
	Interfaces []string       `toml:"interfaces"`
	Interface  bool           `toml:"interface"`
	Abstract   bool           `toml:"abstract"`
	Fields     []sourceField  `toml:"fields"`
	Methods    []sourceMethod `toml:"methods"`
}

type sourceField struct {
	Name   string `toml:"name"`
	Desc   string `toml:"desc"`
	Static bool   `toml:"static"`
	Value  any    `toml:"value"`
}

type sourceMethod struct {
	Name     string `toml:"name"`
	Desc     string `toml:"desc"`
	Static   bool   `toml:"static"`
	Abstract bool   `toml:"abstract"`
	Locals   int    `toml:"locals"`
	Code     string `toml:"code"`
}

// ParseSource assembles a unit from its TOML source form.
func ParseSource(data []byte) (*Unit, error) {
	var src sourceUnit
	md, err := toml.Decode(string(data), &src)
	if err != nil {
		return nil, fmt.Errorf("unit: parse source: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unit: parse source %s: unknown key %s", src.Name, undecoded[0])
	}

	u := &Unit{
		Name:       src.Name,
		Super:      src.Super,
		Interfaces: src.Interfaces,
	}
	if src.Interface {
		u.Flags |= FlagInterface
	}
	if src.Abstract {
		u.Flags |= FlagAbstract
	}

	for _, sf := range src.Fields {
		f := &Field{Name: sf.Name, Desc: sf.Desc, Static: sf.Static}
		if sf.Value != nil {
			c, err := constOf(sf.Value)
			if err != nil {
				return nil, fmt.Errorf("unit: %s.%s: %w", src.Name, sf.Name, err)
			}
			f.Value = c
		}
		u.Fields = append(u.Fields, f)
	}

	for _, sm := range src.Methods {
		m := &Method{Name: sm.Name, Desc: sm.Desc, Static: sm.Static, Abstract: sm.Abstract}
		if !sm.Abstract {
			code, err := Assemble(sm.Code)
			if err != nil {
				return nil, fmt.Errorf("unit: %s.%s: %w", src.Name, sm.Name, err)
			}
			m.Code = code
			m.Locals = sm.Locals
			if m.Locals == 0 {
				m.Locals = inferLocals(u.MethodRef(m), code)
			}
		}
		u.Methods = append(u.Methods, m)
	}

	if err := Validate(u); err != nil {
		return nil, err
	}
	return u, nil
}

func constOf(v any) (*Const, error) {
	switch x := v.(type) {
	case string:
		return &Const{Type: ref.TypeText, Text: x}, nil
	case int64:
		return &Const{Type: ref.TypeInt, Int: x}, nil
	case bool:
		c := &Const{Type: ref.TypeBool}
		if x {
			c.Int = 1
		}
		return c, nil
	}
	return nil, fmt.Errorf("unsupported constant %T", v)
}

func inferLocals(mr ref.Reference, code []Instruction) int {
	n := mr.Slots()
	for _, ins := range code {
		if (ins.Op == OpLoad || ins.Op == OpStore) && int(ins.Int)+1 > n {
			n = int(ins.Int) + 1
		}
	}
	return n
}

// Assemble parses assembler text, one instruction per line. '#' starts a
// comment outside of quoted text. Labels are named and numbered in order of
// first appearance.
func Assemble(src string) ([]Instruction, error) {
	var code []Instruction
	labels := make(map[string]int64)
	labelID := func(name string) int64 {
		if id, ok := labels[name]; ok {
			return id
		}
		id := int64(len(labels))
		labels[name] = id
		return id
	}

	sc := bufio.NewScanner(strings.NewReader(src))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(stripComment(sc.Text()))
		if line == "" {
			continue
		}
		ins, err := assembleLine(line, labelID)
		if err != nil {
			return nil, fmt.Errorf("line %d: %q: %w", lineNo, line, err)
		}
		code = append(code, ins)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return code, nil
}

func assembleLine(line string, labelID func(string) int64) (Instruction, error) {
	mnemonic, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	op, ok := LookupOpcode(mnemonic)
	if !ok {
		return Instruction{}, fmt.Errorf("unknown mnemonic %q", mnemonic)
	}

	kind := op.Info().Operand
	if kind == OperandNone {
		if rest != "" {
			return Instruction{}, fmt.Errorf("%s takes no operand", mnemonic)
		}
		return Simple(op), nil
	}
	if rest == "" {
		return Instruction{}, fmt.Errorf("%s requires an operand", mnemonic)
	}

	switch kind {
	case OperandInt:
		n, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return Instruction{}, err
		}
		return IntOp(op, n), nil
	case OperandText:
		s, err := strconv.Unquote(rest)
		if err != nil {
			return Instruction{}, fmt.Errorf("bad text literal: %w", err)
		}
		return TextOp(op, s), nil
	case OperandBool:
		b, err := strconv.ParseBool(rest)
		if err != nil {
			return Instruction{}, err
		}
		var n int64
		if b {
			n = 1
		}
		return IntOp(op, n), nil
	case OperandType:
		return TextOp(op, rest), nil
	case OperandLabel:
		return IntOp(op, labelID(rest)), nil
	case OperandRef:
		r, err := ref.Parse(rest)
		if err != nil {
			return Instruction{}, err
		}
		if op == OpConstRef {
			return Instruction{Op: op, Ref: &r}, nil
		}
		return RefOp(op, r), nil
	case OperandClosure:
		i := strings.LastIndexByte(rest, ' ')
		if i < 0 {
			return Instruction{}, fmt.Errorf("closure requires a target and an arity")
		}
		arity, err := strconv.Atoi(rest[i+1:])
		if err != nil {
			return Instruction{}, fmt.Errorf("bad closure arity: %w", err)
		}
		r, err := ref.Parse(rest[:i])
		if err != nil {
			return Instruction{}, err
		}
		if !r.IsMethod() {
			return Instruction{}, fmt.Errorf("closure target %s is not a method", r)
		}
		return ClosureOp(r, arity), nil
	}
	return Instruction{}, fmt.Errorf("unhandled operand kind %d", kind)
}

func stripComment(line string) string {
	inQuote := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '\\':
			if inQuote {
				i++
			}
		case '"':
			inQuote = !inQuote
		case '#':
			if !inQuote {
				return line[:i]
			}
		}
	}
	return line
}
