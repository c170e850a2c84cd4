// Package hooks provides the default analysis hook chain: dependency
// candidate selection, implemented checks backed by the implementation
// registry, registration of loaded implementations, and value adapters.
package hooks

import (
	"slices"

	"github.com/tliron/commonlog"

	"github.com/jward/capgate/internal/analysis"
	"github.com/jward/capgate/internal/ref"
	"github.com/jward/capgate/internal/registry"
	"github.com/jward/capgate/internal/unit"
)

var log = commonlog.GetLogger("capgate.hooks")

// Defaults returns the standard chain for capabilities marked by marker.
// Order matters: exclusions answer before the candidate check, and the
// static field check answers before the registry-backed check.
func Defaults(marker string, reg *registry.Registry) []analysis.Hook {
	return []analysis.Hook{
		ExcludeNames(),
		ExcludeCallsOnSelf(),
		CapabilityCandidates(marker, true),
		StaticFieldsNotNil(),
		ExplicitImplementation(marker, reg),
		AutoRegister(marker, reg),
		Adapters(marker),
	}
}

// ExcludeNames rejects the listed member names (and the constructor) as
// dependency candidates.
func ExcludeNames(names ...string) analysis.Hook {
	excluded := append([]string{ref.Constructor}, names...)
	return analysis.Hook{
		Name: "exclude-names",
		IsDependencyCandidate: func(_ analysis.Context, r ref.Reference) analysis.Verdict {
			if slices.Contains(excluded, r.Name) {
				return analysis.No
			}
			return analysis.Abstain
		},
	}
}

// ExcludeCallsOnSelf rejects references into the unit being walked.
func ExcludeCallsOnSelf() analysis.Hook {
	return analysis.Hook{
		Name: "exclude-self",
		IsDependencyCandidate: func(ctx analysis.Context, r ref.Reference) analysis.Verdict {
			if ctx.Depth() > 0 && r.Owner == ctx.CurrentMethod().Owner {
				return analysis.No
			}
			return analysis.Abstain
		},
	}
}

// CapabilityCandidates accepts members of units that inherit marker. Fields
// count only when includeFields is set.
func CapabilityCandidates(marker string, includeFields bool) analysis.Hook {
	return analysis.Hook{
		Name: "capability-candidates",
		IsDependencyCandidate: func(ctx analysis.Context, r ref.Reference) analysis.Verdict {
			switch {
			case r.Kind == ref.Class, r.IsSentinel(), r.Owner == marker:
				return analysis.No
			case r.IsField() && !includeFields:
				return analysis.Abstain
			}
			if ctx.Lookup().Inherits(r.Owner, marker) {
				return analysis.Yes
			}
			return analysis.Abstain
		},
	}
}

// StaticFieldsNotNil treats a static field declared without an initial value
// as not implemented.
func StaticFieldsNotNil() analysis.Hook {
	return analysis.Hook{
		Name: "static-fields",
		CheckImplemented: func(l analysis.Lookup, r ref.Reference) analysis.Verdict {
			if !r.IsField() || !r.Static {
				return analysis.Abstain
			}
			def, err := l.Definition(r.Owner)
			if err != nil {
				return analysis.Abstain
			}
			f := def.Field(r.Name)
			if f == nil || !f.Static {
				return analysis.Abstain
			}
			return analysis.VerdictOf(f.Value != nil)
		},
	}
}

// ExplicitImplementation decides capability methods. A method is implemented
// when its own body works (it never calls the unimplemented marker), or when
// the implementation registered for its owner overrides it with a working
// body. A capability without a registered implementation implements nothing
// beyond its working defaults.
func ExplicitImplementation(marker string, reg *registry.Registry) analysis.Hook {
	return analysis.Hook{
		Name: "explicit-implementation",
		CheckImplemented: func(l analysis.Lookup, r ref.Reference) analysis.Verdict {
			if !r.IsMethod() || r.Owner == marker || !l.Inherits(r.Owner, marker) {
				return analysis.Abstain
			}
			def, err := l.Definition(r.Owner)
			if err != nil {
				return analysis.Abstain
			}
			if working(def.Method(r.Name, r.Desc)) {
				return analysis.Yes
			}

			impl, ok := reg.ImplementationFor(r.Owner)
			if !ok {
				log.Debugf("%s: no implementation registered", r.Owner)
				return analysis.No
			}
			seen := make(map[string]bool)
			for name := impl; name != "" && !seen[name]; {
				seen[name] = true
				idef, err := l.Definition(name)
				if err != nil {
					log.Warningf("%s: implementation %s: %s", r.Owner, name, err)
					return analysis.No
				}
				if m := idef.Method(r.Name, r.Desc); m != nil {
					return analysis.VerdictOf(working(m))
				}
				name = idef.Super
			}
			return analysis.No
		},
	}
}

// working reports whether m has a body that does not bail out through the
// unimplemented marker.
func working(m *unit.Method) bool {
	if m == nil || m.Abstract {
		return false
	}
	for _, ins := range m.Code {
		if ins.Op.IsInvoke() && ins.Target().Equal(ref.UnimplementedCall) {
			return false
		}
	}
	return true
}

// AutoRegister registers every loaded concrete unit as the implementation of
// the capabilities it implements.
func AutoRegister(marker string, reg *registry.Registry) analysis.Hook {
	return analysis.Hook{
		Name: "auto-register",
		UnitLoaded: func(l analysis.Lookup, u *unit.Unit) bool {
			if u.IsInterface() || u.Flags&unit.FlagAbstract != 0 {
				return false
			}
			caps := capabilitiesOf(l, u, marker)
			if len(caps) == 0 {
				return false
			}
			changed := reg.Register(u.Name, caps...)
			if changed {
				log.Infof("registered %s for %v", u.Name, caps)
			}
			return changed
		},
	}
}

// capabilitiesOf collects the capability interfaces u implements, directly
// or through its supertypes.
func capabilitiesOf(l analysis.Lookup, u *unit.Unit, marker string) []string {
	var out []string
	seen := map[string]bool{u.Name: true}
	queue := slices.Clone(u.Supertypes())
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if seen[name] || name == marker {
			continue
		}
		seen[name] = true
		def, err := l.Definition(name)
		if err != nil {
			continue
		}
		if def.IsInterface() && l.Inherits(name, marker) {
			out = append(out, name)
		}
		queue = append(queue, def.Supertypes()...)
	}
	return out
}
