package analysis

import (
	"github.com/jward/capgate/internal/unit"
)

type itemKind uint8

const (
	itemFixed itemKind = iota
	itemDiscardable
	itemDeferred
)

type item struct {
	kind itemKind
	code []unit.Instruction

	// discardable
	discard     *bool
	replacement []unit.Instruction

	// deferred
	emit func() ([]unit.Instruction, error)
}

// Builder accumulates the rewritten code of one method. Decisions that are
// only known after the whole unit is analyzed are recorded as discardable or
// deferred items and resolved by Build.
type Builder struct {
	items []item
}

// Keep emits an original instruction unchanged.
func (b *Builder) Keep(ins unit.Instruction) {
	b.items = append(b.items, item{kind: itemFixed, code: []unit.Instruction{ins}})
}

// Insert emits new instructions.
func (b *Builder) Insert(code ...unit.Instruction) {
	if len(code) == 0 {
		return
	}
	b.items = append(b.items, item{kind: itemFixed, code: code})
}

// Replace emits code in place of the instruction being visited, which is
// not kept.
func (b *Builder) Replace(code ...unit.Instruction) {
	b.Insert(code...)
}

// Discardable emits ins, or replacement if *discard is true at build time.
func (b *Builder) Discardable(ins unit.Instruction, discard *bool, replacement ...unit.Instruction) {
	b.items = append(b.items, item{
		kind:        itemDiscardable,
		code:        []unit.Instruction{ins},
		discard:     discard,
		replacement: replacement,
	})
}

// Deferred emits whatever emit returns at build time.
func (b *Builder) Deferred(emit func() ([]unit.Instruction, error)) {
	b.items = append(b.items, item{kind: itemDeferred, emit: emit})
}

// Len returns the number of recorded items.
func (b *Builder) Len() int {
	return len(b.items)
}

// Build resolves every item and returns the final code. It does not modify
// the builder; calling it twice yields the same code as long as the
// underlying decisions did not change.
func (b *Builder) Build() ([]unit.Instruction, error) {
	var out []unit.Instruction
	for _, it := range b.items {
		switch it.kind {
		case itemFixed:
			out = append(out, it.code...)
		case itemDiscardable:
			if *it.discard {
				out = append(out, it.replacement...)
			} else {
				out = append(out, it.code...)
			}
		case itemDeferred:
			code, err := it.emit()
			if err != nil {
				return nil, err
			}
			out = append(out, code...)
		}
	}
	return out, nil
}
