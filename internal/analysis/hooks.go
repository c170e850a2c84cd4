package analysis

import (
	"github.com/jward/capgate/internal/ref"
	"github.com/jward/capgate/internal/unit"
)

// Verdict is a hook's answer to a yes/no question. Abstain defers to the
// next hook in the chain.
type Verdict int8

const (
	Abstain Verdict = iota
	Yes
	No
)

// VerdictOf converts b to Yes or No.
func VerdictOf(b bool) Verdict {
	if b {
		return Yes
	}
	return No
}

func (v Verdict) String() string {
	switch v {
	case Yes:
		return "yes"
	case No:
		return "no"
	}
	return "abstain"
}

// InstructionFunc intercepts an instruction before the analyzer's own
// handling. Returning true means the hook performed the stack effect and the
// emission; the analyzer then skips the instruction.
type InstructionFunc func(ctx Context, ins unit.Instruction) bool

// Lookup is the provider view handed to hooks. Hooks run while the provider
// is busy, so they must use this instead of the provider's public methods.
type Lookup interface {
	// Definition returns the (unrewritten) unit called name.
	Definition(name string) (*unit.Unit, error)
	// Inherits reports whether name is super or transitively extends or
	// implements it.
	Inherits(name, super string) bool
	// IsLoaded reports whether name was loaded by the host.
	IsLoaded(name string) bool
}

// Hook extends the analysis. All members are optional. Hooks are consulted
// in registration order.
type Hook struct {
	Name string

	// IsDependencyCandidate decides whether a reach of r is a capability
	// touch-point. The chain defaults to No.
	IsDependencyCandidate func(ctx Context, r ref.Reference) Verdict
	// CheckImplemented decides whether r is implemented. The chain
	// defaults to Yes.
	CheckImplemented func(l Lookup, r ref.Reference) Verdict
	// Method is called once per walked method and may return an
	// instruction interceptor for it.
	Method func(ctx Context, b *Builder) InstructionFunc
	// Reference is called once per new analysis record and may return
	// lifecycle callbacks to attach to it.
	Reference func(ctx Context, a *ReferenceAnalysis) *ReferenceHook
	// UnitLoaded is told about every unit the host loads. It returns true
	// when it changed what is implemented.
	UnitLoaded func(l Lookup, u *unit.Unit) bool

	Enter func(ctx Context)
	Leave func(ctx Context)
}
