package unit

import (
	"fmt"
	"strconv"
	"strings"
)

// Disassemble returns a human-readable listing of the unit.
func Disassemble(u *Unit) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("; === %s ===\n", u.Name))
	if u.Super != "" {
		sb.WriteString(fmt.Sprintf("; Super: %s\n", u.Super))
	}
	if len(u.Interfaces) > 0 {
		sb.WriteString(fmt.Sprintf("; Interfaces: %s\n", strings.Join(u.Interfaces, ", ")))
	}
	if u.Flags != 0 {
		sb.WriteString(fmt.Sprintf("; Flags: 0x%04X", uint16(u.Flags)))
		if u.IsInterface() {
			sb.WriteString(" [INTERFACE]")
		}
		if u.Flags&FlagAbstract != 0 {
			sb.WriteString(" [ABSTRACT]")
		}
		sb.WriteString("\n")
	}

	for _, f := range u.Fields {
		sb.WriteString("\nfield ")
		if f.Static {
			sb.WriteString("static ")
		}
		sb.WriteString(fmt.Sprintf("%s %s = %s\n", f.Name, f.Desc, constString(f.Value)))
	}

	for _, m := range u.Methods {
		sb.WriteString("\nmethod ")
		if m.Static {
			sb.WriteString("static ")
		}
		if m.Abstract {
			sb.WriteString("abstract ")
		}
		sb.WriteString(fmt.Sprintf("%s %s", m.Name, m.Desc))
		if !m.Abstract {
			sb.WriteString(fmt.Sprintf(" ; locals=%d", m.Locals))
		}
		sb.WriteString("\n")
		sb.WriteString(DisassembleCode(m.Code))
	}
	return sb.String()
}

// DisassembleCode lists a code sequence with offsets. Labels are outdented.
func DisassembleCode(code []Instruction) string {
	var sb strings.Builder
	for i, ins := range code {
		if ins.Op == OpLabel {
			sb.WriteString(fmt.Sprintf("  L%d:\n", ins.Int))
			continue
		}
		sb.WriteString(fmt.Sprintf("  %04d  %s\n", i, ins))
	}
	return sb.String()
}

// DisassembleToLines returns one assembler line per instruction, suitable
// for comparisons in tests and for feeding back into Assemble.
func DisassembleToLines(code []Instruction) []string {
	lines := make([]string, len(code))
	for i, ins := range code {
		lines[i] = ins.String()
	}
	return lines
}

func constString(c *Const) string {
	if c == nil {
		return "nil"
	}
	switch v := c.Value().(type) {
	case string:
		return strconv.Quote(v)
	default:
		return fmt.Sprint(v)
	}
}
