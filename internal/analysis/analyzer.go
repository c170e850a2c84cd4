package analysis

import (
	"github.com/jward/capgate/internal/ref"
	"github.com/jward/capgate/internal/symstack"
	"github.com/jward/capgate/internal/unit"
)

type methodResult struct {
	analysis *ReferenceAnalysis
	builder  *Builder
}

// UnitAnalysis is the per-unit analysis state: the walked methods, the
// dependencies recorded while walking them, and, once finalized, the
// rewritten unit.
type UnitAnalysis struct {
	Unit *unit.Unit

	provider     *Provider
	methods      map[ref.Key]*methodResult
	dependencies []Dependency
	running      bool
	completed    bool
	rewritten    *unit.Unit
}

// Completed reports whether the unit was finalized.
func (ua *UnitAnalysis) Completed() bool { return ua.completed }

func (ua *UnitAnalysis) record(deps ...Dependency) {
	ua.dependencies = append(ua.dependencies, deps...)
}

// walk simulates m, filling a's walked state and the method's builder. On
// error a is restored to its previous state.
func (ua *UnitAnalysis) walk(ctx Context, m *unit.Method, a *ReferenceAnalysis) (err error) {
	p := ua.provider
	r := ua.Unit.MethodRef(m)

	prev := a.state
	w, err := a.promote()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			a.state = prev
			delete(ua.methods, r.Key())
		}
	}()

	stack := symstack.ForMethod(r, m.Locals)
	ctx = ctx.Push(Frame{Ref: r, Stack: stack, Analysis: a})
	b := &Builder{}
	ua.methods[r.Key()] = &methodResult{analysis: a, builder: b}

	var intercept []InstructionFunc
	for _, h := range p.hooks {
		if h.Enter != nil {
			h.Enter(ctx)
		}
		if h.Method != nil {
			if fn := h.Method(ctx, b); fn != nil {
				intercept = append(intercept, fn)
			}
		}
	}

	log.Debugf("walking %s (depth %d)", r.Qualified(), ctx.Depth())
	mw := &methodWalker{ctx: ctx, ua: ua, p: p, a: a, w: w, b: b, s: stack}
next:
	for _, ins := range m.Code {
		for _, fn := range intercept {
			if fn(ctx, ins) {
				continue next
			}
		}
		if err := mw.step(ins); err != nil {
			return err
		}
	}

	for _, h := range p.hooks {
		if h.Leave != nil {
			h.Leave(ctx)
		}
	}
	w.Complete = true
	return nil
}

// finalize walks whatever was not walked yet, classifies every method,
// reduces the dependency list and emits the rewritten unit.
func (ua *UnitAnalysis) finalize(ctx Context) (*unit.Unit, error) {
	p := ua.provider
	ua.running = true
	defer func() { ua.running = false }()

	for _, m := range ua.Unit.Methods {
		if m.Abstract {
			continue
		}
		if _, err := p.resolve(ctx, ua.Unit.MethodRef(m)); err != nil {
			return nil, err
		}
	}

	for _, m := range ua.Unit.Methods {
		res, ok := ua.methods[ua.Unit.MethodRef(m).Key()]
		if !ok {
			continue
		}
		a := res.analysis
		if a.weight < 0 || p.required(a.weight) {
			a.MarkRequired(ctx)
		}
		a.PostAnalyze()
	}

	ua.dependencies = reduce(ua.dependencies, func(r ref.Reference) int {
		if a, ok := p.analyses[r.Key()]; ok {
			return a.weight
		}
		return 0
	})

	out := ua.Unit.Clone()
	for _, m := range out.Methods {
		res, ok := ua.methods[out.MethodRef(m).Key()]
		if !ok {
			continue
		}
		code, err := res.builder.Build()
		if err != nil {
			return nil, err
		}
		m.Code = code
	}
	if err := unit.Validate(out); err != nil {
		return nil, err
	}

	ua.rewritten = out
	ua.completed = true
	log.Infof("rewrote %s: %d methods, %d dependencies", out.Name, len(ua.methods), len(ua.dependencies))
	return out, nil
}

// methodWalker carries the state of one method walk.
type methodWalker struct {
	ctx Context
	ua  *UnitAnalysis
	p   *Provider
	a   *ReferenceAnalysis
	w   *Walked
	b   *Builder
	s   *symstack.Stack
}

func (mw *methodWalker) step(ins unit.Instruction) error {
	switch ins.Op {
	case unit.OpClosure:
		captures := ins.Captures()
		mw.s.PopN(captures)
		c := symstack.NewClosure(ins.Target())
		mw.s.Push(c)
		mw.b.Discardable(ins, c.Discard, discardClosure(captures)...)
		return nil

	case unit.OpInvoke, unit.OpInvokeStatic, unit.OpInvokeSpecial:
		r := ins.Target()
		switch {
		case r.Equal(ref.Optionally), r.Equal(ref.OptionallyRun):
			return mw.optionalBlock(ins)
		case r.Equal(ref.Either):
			return mw.alternatives(ins)
		}
		mw.s.Apply(ins)
		mw.b.Keep(ins)
		return mw.reach(r)

	case unit.OpGetField, unit.OpGetStatic:
		mw.s.Apply(ins)
		mw.b.Keep(ins)
		return mw.reach(ins.Target())
	}

	mw.s.Apply(ins)
	mw.b.Keep(ins)
	return nil
}

// reach handles an ordinary call or field read of r.
func (mw *methodWalker) reach(r ref.Reference) error {
	target, err := mw.p.resolve(mw.ctx, r)
	if err != nil {
		return err
	}
	if target != nil {
		mw.w.addRequired(target.RequiredDependencies()...)
		// Each caller charges a callee once, however often it calls it.
		if mw.w.addCallee(target) {
			target.MarkReached(mw.ctx)
		}
	}

	if ref.IsSpecialName(r.Name) || !mw.p.isDependencyCandidate(mw.ctx, r) {
		return nil
	}
	mw.ua.record(SingleDependency{Ref: r, Ambiguous: true})
	mw.w.addRequired(r)

	if mw.a.weight <= 0 && !mw.p.isImplemented(r) {
		caller := mw.a
		mw.b.Deferred(func() ([]unit.Instruction, error) {
			if caller.weight < 0 {
				return trap(r), nil
			}
			return nil, nil
		})
	}
	return nil
}

// closureDeps returns the references a closure needs. A direct closure over
// a capability symbol needs exactly that symbol; anything else needs what
// its body requires.
func (mw *methodWalker) closureDeps(c *symstack.ClosureLiteral, target *ReferenceAnalysis) []ref.Reference {
	if mw.isDirect(c) {
		return []ref.Reference{c.Target}
	}
	if target == nil {
		return nil
	}
	return target.RequiredDependencies()
}

func (mw *methodWalker) isDirect(c *symstack.ClosureLiteral) bool {
	return c.Direct && mw.p.isDependencyCandidate(mw.ctx, c.Target)
}

// knownDeps returns a closure's deps when they are known without walking
// anything new.
func (mw *methodWalker) knownDeps(c *symstack.ClosureLiteral) ([]ref.Reference, bool) {
	if mw.isDirect(c) {
		return []ref.Reference{c.Target}, true
	}
	a, ok := mw.p.analyses[c.Target.Key()]
	if !ok || !a.IsComplete() {
		return nil, false
	}
	return a.RequiredDependencies(), true
}

func singles(rs []ref.Reference, optional bool) []SingleDependency {
	out := make([]SingleDependency, 0, len(rs))
	for _, r := range rs {
		if r.IsSentinel() {
			continue
		}
		out = append(out, SingleDependency{Ref: r, Optional: optional})
	}
	return out
}

func (mw *methodWalker) recordSingles(ds []SingleDependency) {
	for _, d := range ds {
		mw.ua.record(d)
	}
}

// optionalBlock handles optionally and optionallyRun. The block is kept when
// everything it needs is implemented and replaced by its absent result
// otherwise.
func (mw *methodWalker) optionalBlock(ins unit.Instruction) error {
	guard := ins.Target()
	v := mw.s.Pop()
	c, ok := v.(*symstack.ClosureLiteral)
	if !ok {
		log.Warningf("%s: %s argument is not a closure literal; left as is", mw.ctx.CurrentMethod().Qualified(), guard.Name)
		mw.s.Push(v)
		mw.s.Apply(ins)
		mw.b.Keep(ins)
		return nil
	}

	target, err := mw.p.resolve(mw.ctx, c.Target)
	if err != nil {
		return err
	}
	if target != nil {
		target.MarkOptional(mw.ctx)
	}

	deps := mw.closureDeps(c, target)
	if mw.p.areAllImplemented(deps) {
		mw.b.Keep(ins)
		mw.recordSingles(singles(deps, false))
	} else {
		*c.Discard = true
		if !mw.isDirect(c) && target != nil {
			target.MarkDiscarded(mw.ctx)
		}
		sub := ref.NotPresentOptional
		if guard.Equal(ref.OptionallyRun) {
			sub = ref.NotPresentBoolean
		}
		mw.b.Replace(unit.RefOp(unit.OpInvokeStatic, sub))
		mw.recordSingles(singles(deps, true))
	}

	mw.s.Push(symstack.MethodReturn{Ref: guard, T: ref.ReturnType(guard.Desc)})
	return nil
}

// alternatives handles either: the first alternative whose needs are all
// implemented is selected, and the call is rewritten to invoke it directly.
func (mw *methodWalker) alternatives(ins unit.Instruction) error {
	v := mw.s.Pop()
	arr, isArr := v.(*symstack.ArrayLiteral)
	var closures []*symstack.ClosureLiteral
	if isArr {
		closures, isArr = arr.Closures()
	}
	if !isArr {
		log.Warningf("%s: either argument is not an array of closure literals; left as is", mw.ctx.CurrentMethod().Qualified())
		mw.s.Push(v)
		mw.s.Apply(ins)
		mw.b.Keep(ins)
		return nil
	}

	chosen := -1
	sw := SwitchDependency{}
	for i, c := range closures {
		if chosen >= 0 {
			*c.Discard = true
			if deps, ok := mw.knownDeps(c); ok {
				ds := singles(deps, true)
				sw.Alternatives = append(sw.Alternatives, ds...)
				mw.recordSingles(ds)
			}
			continue
		}

		target, err := mw.p.resolve(mw.ctx, c.Target)
		if err != nil {
			return err
		}
		deps := mw.closureDeps(c, target)
		if !mw.p.areAllImplemented(deps) {
			*c.Discard = true
			if !mw.isDirect(c) && target != nil {
				target.MarkOptional(mw.ctx)
				target.MarkDiscarded(mw.ctx)
			}
			ds := singles(deps, true)
			sw.Alternatives = append(sw.Alternatives, ds...)
			mw.recordSingles(ds)
			continue
		}

		chosen = i
		if target != nil && mw.w.addCallee(target) {
			target.MarkReached(mw.ctx)
		}
		ds := singles(deps, false)
		sw.Chosen = append(sw.Chosen, ds...)
		mw.recordSingles(ds)
	}

	sw.Resolved = chosen >= 0
	mw.ua.record(sw)

	if chosen >= 0 {
		mw.b.Insert(unit.IntOp(unit.OpConstInt, int64(chosen)))
		mw.b.Replace(unit.RefOp(unit.OpInvokeStatic, ref.OnePresent))
	} else {
		mw.w.addRequired(ref.Sentinel)
		mw.b.Replace(unit.RefOp(unit.OpInvokeStatic, ref.NonePresent))
	}
	mw.s.Push(symstack.MethodReturn{Ref: ins.Target(), T: ref.ReturnType(ins.Target().Desc)})
	return nil
}

// discardClosure drops a closure factory's captures and leaves a nil
// placeholder for its consumer.
func discardClosure(captures int) []unit.Instruction {
	out := make([]unit.Instruction, 0, captures+1)
	for range captures {
		out = append(out, unit.Simple(unit.OpPop))
	}
	return append(out, unit.Simple(unit.OpConstNil))
}

// trap raises a not-implemented error for r.
func trap(r ref.Reference) []unit.Instruction {
	return []unit.Instruction{
		unit.RefOp(unit.OpConstRef, r),
		unit.RefOp(unit.OpInvokeStatic, ref.NotImplemented),
		unit.Simple(unit.OpThrow),
	}
}
