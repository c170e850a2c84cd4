package hooks

import (
	"errors"
	"fmt"

	"github.com/jward/capgate/internal/analysis"
	"github.com/jward/capgate/internal/ref"
	"github.com/jward/capgate/internal/symstack"
	"github.com/jward/capgate/internal/unit"
)

// ErrNoDestination means an adapted value was never cast, stored or
// returned, so its target type is unknown.
var ErrNoDestination = errors.New("hooks: adapted value has no destination type")

type adaptSite struct {
	src, dst string
	method   ref.Reference
}

// Adapters rewrites adapt calls on capabilities into runtime conversions.
// The source type comes from the adapted value, the destination from the
// first cast, field store or return that consumes it.
func Adapters(marker string) analysis.Hook {
	return analysis.Hook{
		Name: "adapters",
		Method: func(_ analysis.Context, b *analysis.Builder) analysis.InstructionFunc {
			return func(ctx analysis.Context, ins unit.Instruction) bool {
				return adapt(ctx, b, marker, ins)
			}
		},
	}
}

func isAdapt(l analysis.Lookup, marker string, r ref.Reference) bool {
	return r.Name == ref.Adapt.Name && r.Desc == ref.Adapt.Desc && l.Inherits(r.Owner, marker)
}

func adapt(ctx analysis.Context, b *analysis.Builder, marker string, ins unit.Instruction) bool {
	s := ctx.CurrentStack()

	if ins.Op.IsInvoke() {
		r := ins.Target()
		if !isAdapt(ctx.Lookup(), marker, r) {
			return false
		}
		args := s.PopN(r.Slots())
		site := &adaptSite{src: args[len(args)-1].Type(), method: ctx.CurrentMethod()}
		if !r.Static {
			b.Insert(unit.Simple(unit.OpSwap), unit.Simple(unit.OpPop))
		}
		b.Deferred(func() ([]unit.Instruction, error) {
			if site.dst == "" {
				return nil, fmt.Errorf("%w: %s from %s", ErrNoDestination, site.method.Qualified(), site.src)
			}
			return []unit.Instruction{
				unit.TextOp(unit.OpConstText, site.src),
				unit.TextOp(unit.OpConstText, site.dst),
				unit.RefOp(unit.OpInvokeStatic, ref.Convert),
			}, nil
		})
		s.Push(&symstack.Tracked{T: ref.TypeObject, Payload: site})
		log.Debugf("%s: adapting %s", site.method.Qualified(), site.src)
		return true
	}

	top, ok := s.PeekOrNone()
	if !ok {
		return false
	}
	tracked, ok := top.(*symstack.Tracked)
	if !ok {
		return false
	}
	site, ok := tracked.Payload.(*adaptSite)
	if !ok || site.dst != "" {
		return false
	}

	switch ins.Op {
	case unit.OpCheckCast:
		site.dst = ins.Text
	case unit.OpPutField, unit.OpPutStatic:
		site.dst = ins.Target().Desc
	case unit.OpReturn:
		site.dst = ref.ReturnType(ctx.CurrentMethod().Desc)
	default:
		return false
	}
	s.Apply(ins)
	b.Keep(ins)
	return true
}
