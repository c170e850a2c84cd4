package unit

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/jward/capgate/internal/ref"
)

// Magic prefixes every encoded unit.
var Magic = []byte("CGU1")

// ErrBadMagic is returned when decoding data that is not an encoded unit.
var ErrBadMagic = errors.New("unit: bad magic")

// ErrInvalid is wrapped by every structural validation failure.
var ErrInvalid = errors.New("unit: invalid")

// Canonical mode so the same unit always encodes to the same bytes.
var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("unit: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Encode serializes u to its binary form.
func Encode(u *Unit) ([]byte, error) {
	body, err := encMode.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("unit: encode %s: %w", u.Name, err)
	}
	out := make([]byte, 0, len(Magic)+len(body))
	out = append(out, Magic...)
	return append(out, body...), nil
}

// IsEncoded reports whether data starts with the unit magic.
func IsEncoded(data []byte) bool {
	return bytes.HasPrefix(data, Magic)
}

// Decode parses and validates an encoded unit.
func Decode(data []byte) (*Unit, error) {
	if !IsEncoded(data) {
		return nil, ErrBadMagic
	}
	var u Unit
	if err := cbor.Unmarshal(data[len(Magic):], &u); err != nil {
		return nil, fmt.Errorf("unit: decode: %w", err)
	}
	if err := Validate(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Validate checks the structural invariants the analyzer and VM rely on.
func Validate(u *Unit) error {
	if u.Name == "" {
		return fmt.Errorf("%w: unit without a name", ErrInvalid)
	}
	for _, m := range u.Methods {
		mr := u.MethodRef(m)
		if _, _, err := ref.SplitMethod(m.Desc); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, mr, err)
		}
		if m.Abstract {
			if len(m.Code) != 0 {
				return fmt.Errorf("%w: %s: abstract method with code", ErrInvalid, mr)
			}
			continue
		}
		if m.Locals < mr.Slots() {
			return fmt.Errorf("%w: %s: %d locals cannot hold %d argument slots", ErrInvalid, mr, m.Locals, mr.Slots())
		}
		if err := validateCode(m); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, mr, err)
		}
	}
	return nil
}

func validateCode(m *Method) error {
	labels := make(map[int64]bool)
	for _, ins := range m.Code {
		if ins.Op == OpLabel {
			if labels[ins.Int] {
				return fmt.Errorf("label L%d defined twice", ins.Int)
			}
			labels[ins.Int] = true
		}
	}
	for i, ins := range m.Code {
		if !ins.Op.Valid() {
			return fmt.Errorf("instruction %d: unknown opcode 0x%02X", i, byte(ins.Op))
		}
		switch ins.Op.Info().Operand {
		case OperandRef, OperandClosure:
			if ins.Ref == nil {
				return fmt.Errorf("instruction %d: %s without a reference", i, ins.Op)
			}
		case OperandLabel:
			if !labels[ins.Int] {
				return fmt.Errorf("instruction %d: undefined label L%d", i, ins.Int)
			}
		}
		if (ins.Op == OpLoad || ins.Op == OpStore) && (ins.Int < 0 || ins.Int >= int64(m.Locals)) {
			return fmt.Errorf("instruction %d: slot %d out of range", i, ins.Int)
		}
	}
	return nil
}
