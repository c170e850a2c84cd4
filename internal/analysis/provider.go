package analysis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/jward/capgate/internal/ref"
	"github.com/jward/capgate/internal/unit"
)

var log = commonlog.GetLogger("capgate.analysis")

// Provider owns every cache of an analysis session: unit definitions, unit
// analyses, reference analyses and implemented verdicts. Public methods are
// serialized by one session lock; hooks run under that lock and reach the
// provider through Lookup.
type Provider struct {
	mu sync.Mutex

	loader   unit.Loader
	hooks    []Hook
	exclude  func(owner string) bool
	required func(weight int) bool

	defs        map[string]*unit.Unit
	units       map[string]*UnitAnalysis
	analyses    map[ref.Key]*ReferenceAnalysis
	implemented map[ref.Key]bool
	loaded      map[string]bool
	inherits    map[[2]string]bool
}

// Option configures a Provider.
type Option func(*Provider)

// WithHooks appends hooks to the chain.
func WithHooks(h ...Hook) Option {
	return func(p *Provider) {
		p.hooks = append(p.hooks, h...)
	}
}

// WithExclude sets the policy predicate for units that must never be
// walked. Intrinsic units are always excluded.
func WithExclude(fn func(owner string) bool) Option {
	return func(p *Provider) {
		p.exclude = fn
	}
}

// WithRequiredPredicate overrides the weight classification applied at
// finalization. The default treats weight <= 0 as required.
func WithRequiredPredicate(fn func(weight int) bool) Option {
	return func(p *Provider) {
		p.required = fn
	}
}

// NewProvider returns a provider reading unit definitions from loader.
func NewProvider(loader unit.Loader, opts ...Option) *Provider {
	p := &Provider{
		loader:      loader,
		exclude:     func(string) bool { return false },
		required:    func(w int) bool { return w <= 0 },
		defs:        make(map[string]*unit.Unit),
		units:       make(map[string]*UnitAnalysis),
		analyses:    make(map[ref.Key]*ReferenceAnalysis),
		implemented: make(map[ref.Key]bool),
		loaded:      make(map[string]bool),
		inherits:    make(map[[2]string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddHooks appends hooks to the chain.
func (p *Provider) AddHooks(h ...Hook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, h...)
}

// Resolve returns the analysis of r, walking it if needed. It returns nil
// for the sentinel and for class references.
func (p *Provider) Resolve(r ref.Reference) (*ReferenceAnalysis, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolve(p.newContext(), r)
}

// Analysis returns the cached analysis of r without walking anything.
func (p *Provider) Analysis(r ref.Reference) (*ReferenceAnalysis, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.analyses[r.Key()]
	return a, ok
}

// IsImplemented reports whether r is implemented. Answers are cached.
func (p *Provider) IsImplemented(r ref.Reference) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isImplemented(r)
}

// AreAllImplemented reports whether every reference in rs is implemented.
// It is true for an empty list.
func (p *Provider) AreAllImplemented(rs []ref.Reference) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.areAllImplemented(rs)
}

// InvalidateImplemented drops every cached implemented verdict.
func (p *Provider) InvalidateImplemented() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.implemented)
}

// DependencySet returns the reduced dependencies of a finalized unit.
func (p *Provider) DependencySet(name string) ([]Dependency, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ua, ok := p.units[name]
	if !ok || !ua.completed {
		return nil, false
	}
	return slices.Clone(ua.dependencies), true
}

// AnalyzeAndRewrite analyzes every method of the named unit and returns the
// rewritten unit. Results are cached: a second call returns the same unit.
func (p *Provider) AnalyzeAndRewrite(ctx context.Context, name string) (*unit.Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if ua, ok := p.units[name]; ok && ua.completed {
		return ua.rewritten, nil
	}
	if !p.walkable(name) {
		return nil, fmt.Errorf("%w: %s", ErrNotWalkable, name)
	}
	def, err := p.definition(name)
	if err != nil {
		return nil, &ResolveError{Ref: ref.NewClass(name), Err: err}
	}
	ua := p.unitAnalysis(def)
	if ua.running {
		return nil, fmt.Errorf("%w: %s", ErrReentrant, name)
	}
	return ua.finalize(p.newContext())
}

// MarkLoaded records that the host loaded name itself. Host-loaded units are
// never walked.
func (p *Provider) MarkLoaded(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded[name] = true
}

// NotifyLoaded marks u loaded and tells the unit-loaded hooks about it.
func (p *Provider) NotifyLoaded(u *unit.Unit) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded[u.Name] = true

	changed := false
	for _, h := range p.hooks {
		if h.UnitLoaded != nil && h.UnitLoaded(p.lookup(), u) {
			changed = true
		}
	}
	if changed {
		log.Debugf("implemented cache invalidated by load of %s", u.Name)
		clear(p.implemented)
	}
}

// Definition returns the original definition of name.
func (p *Provider) Definition(name string) (*unit.Unit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.definition(name)
}

// Inherits reports whether name is super or a transitive subtype of it.
func (p *Provider) Inherits(name, super string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inheritsFrom(name, super)
}

// IsWalkable reports whether units named owner are analyzed and rewritten.
func (p *Provider) IsWalkable(owner string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.walkable(owner)
}

// --- internals; callers hold p.mu ---

type lookup struct{ p *Provider }

func (l lookup) Definition(name string) (*unit.Unit, error) { return l.p.definition(name) }
func (l lookup) Inherits(name, super string) bool            { return l.p.inheritsFrom(name, super) }
func (l lookup) IsLoaded(name string) bool                   { return l.p.loaded[name] }

func (p *Provider) lookup() Lookup {
	return lookup{p}
}

func (p *Provider) newContext() Context {
	return NewContext(p.lookup())
}

func (p *Provider) walkable(owner string) bool {
	if ref.IsIntrinsic(owner) || p.exclude(owner) {
		return false
	}
	return !p.loaded[owner]
}

func (p *Provider) definition(name string) (*unit.Unit, error) {
	if u, ok := p.defs[name]; ok {
		return u, nil
	}
	if ref.IsIntrinsic(name) {
		return nil, fmt.Errorf("%w: %s is intrinsic", unit.ErrNotFound, name)
	}
	u, err := unit.Load(p.loader, name)
	if err != nil {
		return nil, err
	}
	p.defs[name] = u
	return u, nil
}

func (p *Provider) inheritsFrom(name, super string) bool {
	if name == super {
		return true
	}
	k := [2]string{name, super}
	if v, ok := p.inherits[k]; ok {
		return v
	}
	// Seed false so a cyclic hierarchy terminates.
	p.inherits[k] = false
	def, err := p.definition(name)
	if err != nil {
		return false
	}
	for _, st := range def.Supertypes() {
		if p.inheritsFrom(st, super) {
			p.inherits[k] = true
			return true
		}
	}
	return false
}

func (p *Provider) unitAnalysis(def *unit.Unit) *UnitAnalysis {
	if ua, ok := p.units[def.Name]; ok {
		return ua
	}
	ua := &UnitAnalysis{
		Unit:     def,
		provider: p,
		methods:  make(map[ref.Key]*methodResult),
	}
	p.units[def.Name] = ua
	return ua
}

func (p *Provider) isDependencyCandidate(ctx Context, r ref.Reference) bool {
	for _, h := range p.hooks {
		if h.IsDependencyCandidate == nil {
			continue
		}
		switch h.IsDependencyCandidate(ctx, r) {
		case Yes:
			return true
		case No:
			return false
		}
	}
	return false
}

func (p *Provider) isImplemented(r ref.Reference) bool {
	if r.IsSentinel() {
		return false
	}
	k := r.Key()
	if v, ok := p.implemented[k]; ok {
		return v
	}
	v := true
	for _, h := range p.hooks {
		if h.CheckImplemented == nil {
			continue
		}
		if verdict := h.CheckImplemented(p.lookup(), r); verdict != Abstain {
			v = verdict == Yes
			break
		}
	}
	p.implemented[k] = v
	return v
}

func (p *Provider) areAllImplemented(rs []ref.Reference) bool {
	for _, r := range rs {
		if !p.isImplemented(r) {
			return false
		}
	}
	return true
}

func (p *Provider) newAnalysis(ctx Context, r ref.Reference, state State) *ReferenceAnalysis {
	a := newReferenceAnalysis(r, state)
	for _, h := range p.hooks {
		if h.Reference != nil {
			a.Attach(h.Reference(ctx, a))
		}
	}
	p.analyses[r.Key()] = a
	return a
}

func (p *Provider) stub(ctx Context, r ref.Reference, reason StubReason) *ReferenceAnalysis {
	if a, ok := p.analyses[r.Key()]; ok {
		return a
	}
	return p.newAnalysis(ctx, r, &Stub{Reason: reason})
}

// resolve returns the analysis of r. A nil analysis with a nil error means
// r is the sentinel, a class, or is already being walked.
func (p *Provider) resolve(ctx Context, r ref.Reference) (*ReferenceAnalysis, error) {
	if r.IsSentinel() || r.Kind == ref.Class {
		return nil, nil
	}

	a := p.analyses[r.Key()]
	if a != nil {
		if r.IsField() {
			return a, nil
		}
		if w, ok := a.Walked(); ok {
			if w.Complete {
				return a, nil
			}
			return nil, nil
		}
	}
	if ctx.Contains(r) {
		return nil, nil
	}

	if r.IsField() {
		return p.stub(ctx, r, StubField), nil
	}
	if !p.walkable(r.Owner) {
		reason := StubExcluded
		if p.loaded[r.Owner] {
			reason = StubHostLoaded
		}
		return p.stub(ctx, r, reason), nil
	}

	def, err := p.definition(r.Owner)
	if err != nil {
		return nil, &ResolveError{Ref: r, Path: ctx.Path(), Err: err}
	}
	m := def.Method(r.Name, r.Desc)
	switch {
	case m == nil:
		return p.stub(ctx, r, StubMissingMember), nil
	case m.Abstract:
		return p.stub(ctx, r, StubAbstract), nil
	}

	if a == nil {
		a = p.newAnalysis(ctx, r, nil)
	}
	if err := p.unitAnalysis(def).walk(ctx, m, a); err != nil {
		var re *ResolveError
		if errors.As(err, &re) {
			return nil, err
		}
		return nil, fmt.Errorf("analysis: walking %s: %w", r.Qualified(), err)
	}
	return a, nil
}
