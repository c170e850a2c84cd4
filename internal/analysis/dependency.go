package analysis

import (
	"fmt"
	"strings"

	"github.com/jward/capgate/internal/ref"
)

// Dependency is a capability touch-point recorded for a unit. The variants
// are SingleDependency and SwitchDependency.
type Dependency interface {
	String() string
	isDependency()
}

// SingleDependency is one direct reach of a capability symbol.
//
// Ambiguous marks a required record whose final classification is decided
// at unit finalization from the target's weight. OverrideImplemented, when
// set, replaces the implemented check for this record.
type SingleDependency struct {
	Ref                 ref.Reference
	Optional            bool
	OverrideImplemented *bool
	Ambiguous           bool
}

func (SingleDependency) isDependency() {}

// AsOptional returns a decided copy of d with the given classification.
func (d SingleDependency) AsOptional(optional bool) SingleDependency {
	d.Optional = optional
	d.Ambiguous = false
	return d
}

func (d SingleDependency) String() string {
	if d.Optional {
		return "optional " + d.Ref.String()
	}
	return "required " + d.Ref.String()
}

// SwitchDependency records one alternatives site. Chosen holds the deps of
// the selected branch, Alternatives those of the rejected ones, and
// Resolved whether any branch was selectable.
type SwitchDependency struct {
	Chosen       []SingleDependency
	Alternatives []SingleDependency
	Resolved     bool
}

func (SwitchDependency) isDependency() {}

func (d SwitchDependency) String() string {
	if !d.Resolved {
		return "none"
	}
	parts := make([]string, len(d.Chosen))
	for i, c := range d.Chosen {
		parts[i] = c.Ref.String()
	}
	return fmt.Sprintf("one [%s]", strings.Join(parts, ", "))
}

// reduce decides every ambiguous record from the weight of its target and
// collapses duplicates by reference. A weight <= 0 keeps a record required,
// the same boundary as the default required predicate. A required record
// replaces its optional mirror in place; records keep the position of their
// first occurrence.
func reduce(deps []Dependency, weight func(ref.Reference) int) []Dependency {
	out := make([]Dependency, 0, len(deps))
	index := make(map[ref.Key]int)

	for _, d := range deps {
		single, ok := d.(SingleDependency)
		if !ok {
			out = append(out, d)
			continue
		}
		if single.Ambiguous {
			single = single.AsOptional(weight(single.Ref) > 0)
		}

		k := single.Ref.Key()
		pos, seen := index[k]
		if !seen {
			index[k] = len(out)
			out = append(out, single)
			continue
		}
		existing := out[pos].(SingleDependency)
		if existing.Optional && !single.Optional {
			out[pos] = single
		}
	}
	return out
}
