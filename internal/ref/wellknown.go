package ref

import "strings"

// Namespace prefixes every intrinsic unit. Intrinsic units are provided by
// the VM and are never walked.
const Namespace = "capgate/"

const (
	UsageOwner       = Namespace + "Usage"
	SubstitutesOwner = Namespace + "Substitutes"
	RuntimeOwner     = Namespace + "Runtime"
	CapabilityOwner  = Namespace + "Capability"
	OptionalOwner    = Namespace + "Optional"
)

// ClosurePrefix marks synthetic closure bodies. A closure whose target does
// not carry it is a direct reference to exactly one symbol.
const ClosurePrefix = "lambda$"

// Guarded constructs recognized by the analyzer.
var (
	Optionally    = NewMethod(UsageOwner, "optionally", "(F)Q", true)
	OptionallyRun = NewMethod(UsageOwner, "optionallyRun", "(F)Z", true)
	Either        = NewMethod(UsageOwner, "either", "([F)O", true)
)

// Substitutes emitted in place of guarded constructs.
var (
	NotPresentOptional = NewMethod(SubstitutesOwner, "notPresentOptional", "(F)Q", true)
	NotPresentBoolean  = NewMethod(SubstitutesOwner, "notPresentBoolean", "(F)Z", true)
	OnePresent         = NewMethod(SubstitutesOwner, "onePresent", "([FI)O", true)
	NonePresent        = NewMethod(SubstitutesOwner, "nonePresent", "([F)O", true)
)

// Runtime support called from rewritten code.
var (
	NotImplemented = NewMethod(RuntimeOwner, "notImplemented", "(R)O", true)
	Convert        = NewMethod(RuntimeOwner, "convert", "(OTT)O", true)
)

// Capability marker members.
var (
	UnimplementedCall = NewMethod(CapabilityOwner, "unimplemented", "()O", true)
	IsImplementedCall = NewMethod(CapabilityOwner, "isImplemented", "(R)Z", true)
	Adapt             = NewMethod(CapabilityOwner, "adapt", "(O)O", true)
)

// Optional members understood by the VM.
var (
	OptionalOrElse    = NewMethod(OptionalOwner, "orElse", "(O)O", false)
	OptionalIsPresent = NewMethod(OptionalOwner, "isPresent", "()Z", false)
	OptionalGet       = NewMethod(OptionalOwner, "get", "()O", false)
)

// Constructor is the member name of unit constructors.
const Constructor = "<init>"

var specialNames = map[string]bool{
	"unimplemented": true,
	"isImplemented": true,
	Constructor:     true,
}

// IsSpecialName reports whether member name never counts as a dependency.
func IsSpecialName(name string) bool {
	return specialNames[name]
}

// IsIntrinsic reports whether owner is provided by the VM.
func IsIntrinsic(owner string) bool {
	return strings.HasPrefix(owner, Namespace)
}

// IsClosureBody reports whether r names a synthetic closure body.
func (r Reference) IsClosureBody() bool {
	return strings.HasPrefix(r.Name, ClosurePrefix)
}
