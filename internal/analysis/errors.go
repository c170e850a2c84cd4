package analysis

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jward/capgate/internal/ref"
)

var (
	// ErrUnresolvable means a referenced unit could not be located. It is
	// fatal for the analysis that hit it.
	ErrUnresolvable = errors.New("analysis: unresolvable reference")
	// ErrNotWalkable means a unit is excluded or host-loaded and cannot be
	// rewritten.
	ErrNotWalkable = errors.New("analysis: unit is not walkable")
	// ErrReentrant means a unit was asked for while it was being finalized.
	ErrReentrant = errors.New("analysis: unit finalization re-entered")
)

// ResolveError reports an unresolvable reference and the walk path that
// reached it.
type ResolveError struct {
	Ref  ref.Reference
	Path []ref.Reference
	Err  error
}

func (e *ResolveError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "analysis: cannot resolve %s", e.Ref)
	if len(e.Path) > 0 {
		parts := make([]string, len(e.Path))
		for i, p := range e.Path {
			parts[i] = p.Qualified()
		}
		fmt.Fprintf(&b, " (via %s)", strings.Join(parts, " -> "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ResolveError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUnresolvable}
	}
	return []error{ErrUnresolvable, e.Err}
}
