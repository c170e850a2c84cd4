package vm

import (
	"context"
	"errors"

	"github.com/jward/capgate/internal/analysis"
	"github.com/jward/capgate/internal/ref"
	"github.com/jward/capgate/internal/unit"
)

// Source supplies units to a Machine.
type Source interface {
	// Unit returns the executable form of the named unit.
	Unit(ctx context.Context, name string) (*unit.Unit, error)
	// IsImplemented answers Capability.isImplemented at run time.
	IsImplemented(r ref.Reference) bool
}

// Rewriting serves walkable units in their analyzed and rewritten form and
// every other unit as defined. Each unit served is reported loaded.
// Rewritten, when set, sees every unit served in rewritten form.
type Rewriting struct {
	Provider  *analysis.Provider
	Rewritten func(u *unit.Unit) error
}

func (s Rewriting) Unit(ctx context.Context, name string) (*unit.Unit, error) {
	// A unit rewritten earlier stays cached even once it counts as loaded.
	u, err := s.Provider.AnalyzeAndRewrite(ctx, name)
	switch {
	case errors.Is(err, analysis.ErrNotWalkable):
		u, err = s.Provider.Definition(name)
	case err == nil && s.Rewritten != nil:
		err = s.Rewritten(u)
	}
	if err != nil {
		return nil, err
	}
	s.Provider.NotifyLoaded(u)
	return u, nil
}

func (s Rewriting) IsImplemented(r ref.Reference) bool {
	return s.Provider.IsImplemented(r)
}

// Plain serves units exactly as a loader returns them. Nothing is rewritten,
// so guarded constructs fail with ErrNotRewritten.
type Plain struct {
	Loader unit.Loader
}

func (s Plain) Unit(_ context.Context, name string) (*unit.Unit, error) {
	return unit.Load(s.Loader, name)
}

func (s Plain) IsImplemented(ref.Reference) bool { return true }
