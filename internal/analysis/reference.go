package analysis

import (
	"fmt"
	"slices"

	"github.com/jward/capgate/internal/ref"
)

// StubReason records why a reference was not walked.
type StubReason uint8

const (
	StubField StubReason = iota
	StubHostLoaded
	StubExcluded
	StubMissingMember
	StubAbstract
)

func (r StubReason) String() string {
	switch r {
	case StubField:
		return "field"
	case StubHostLoaded:
		return "host-loaded"
	case StubExcluded:
		return "excluded"
	case StubMissingMember:
		return "missing-member"
	case StubAbstract:
		return "abstract"
	}
	return fmt.Sprintf("stub(%d)", uint8(r))
}

// State is the analysis state of a reference: *Stub or *Walked.
type State interface {
	isState()
}

// Stub is a trusted record for a reference whose code was not walked. Its
// implemented verdict is not stored here; Provider.IsImplemented answers it
// and forgets the answer when registrations change.
type Stub struct {
	Reason StubReason
}

// Walked is the result of walking a method's code.
type Walked struct {
	// Required lists the references the body requires, directly or through
	// its callees, in first-reach order.
	Required []ref.Reference
	// Callees are the analyses this body reaches; weight changes fan out
	// along them.
	Callees  []*ReferenceAnalysis
	Complete bool

	required map[ref.Key]bool
}

func (*Stub) isState()   {}
func (*Walked) isState() {}

func (w *Walked) addRequired(rs ...ref.Reference) {
	if w.required == nil {
		w.required = make(map[ref.Key]bool)
	}
	for _, r := range rs {
		if !w.required[r.Key()] {
			w.required[r.Key()] = true
			w.Required = append(w.Required, r)
		}
	}
}

// addCallee records a call edge to a and reports whether it is new.
func (w *Walked) addCallee(a *ReferenceAnalysis) bool {
	if slices.Contains(w.Callees, a) {
		return false
	}
	w.Callees = append(w.Callees, a)
	return true
}

// ReferenceHook receives weight lifecycle events for one analysis. Nil
// members are skipped.
type ReferenceHook struct {
	Required    func(ctx Context)
	Optional    func(ctx Context)
	Discarded   func(ctx Context)
	PostAnalyze func()
}

// ReferenceAnalysis is the memoized analysis of one reference. There is at
// most one per reference key in a Provider.
//
// Weight is decremented by 1 on every required reach and incremented by 2 on
// every optional reach; a net weight <= 0 classifies the symbol as required.
type ReferenceAnalysis struct {
	Ref ref.Reference

	state  State
	weight int
	hooks  []*ReferenceHook
	extra  map[any]any
}

func newReferenceAnalysis(r ref.Reference, state State) *ReferenceAnalysis {
	return &ReferenceAnalysis{Ref: r, state: state}
}

// State returns the current state.
func (a *ReferenceAnalysis) State() State { return a.state }

// Weight returns the net optional weight.
func (a *ReferenceAnalysis) Weight() int { return a.weight }

// Stub returns the stub state, if a is a stub.
func (a *ReferenceAnalysis) Stub() (*Stub, bool) {
	s, ok := a.state.(*Stub)
	return s, ok
}

// Walked returns the walked state, if a was walked.
func (a *ReferenceAnalysis) Walked() (*Walked, bool) {
	w, ok := a.state.(*Walked)
	return w, ok
}

// IsPartial reports whether a is a trusted stub.
func (a *ReferenceAnalysis) IsPartial() bool {
	_, ok := a.state.(*Stub)
	return ok
}

// IsComplete reports whether a needs no further work. Stubs are complete.
func (a *ReferenceAnalysis) IsComplete() bool {
	switch s := a.state.(type) {
	case *Stub:
		return true
	case *Walked:
		return s.Complete
	}
	return false
}

// RequiredDependencies returns what the body requires. Stubs require
// nothing that is known.
func (a *ReferenceAnalysis) RequiredDependencies() []ref.Reference {
	if w, ok := a.Walked(); ok {
		return w.Required
	}
	return nil
}

// Callees returns the analyses weight changes propagate to.
func (a *ReferenceAnalysis) Callees() []*ReferenceAnalysis {
	if w, ok := a.Walked(); ok {
		return w.Callees
	}
	return nil
}

// Get returns hook data stored under key.
func (a *ReferenceAnalysis) Get(key any) (any, bool) {
	v, ok := a.extra[key]
	return v, ok
}

// Set stores hook data under key.
func (a *ReferenceAnalysis) Set(key, val any) {
	if a.extra == nil {
		a.extra = make(map[any]any)
	}
	a.extra[key] = val
}

// Attach adds a lifecycle hook. Attached hooks survive promotion.
func (a *ReferenceAnalysis) Attach(h *ReferenceHook) {
	if h != nil {
		a.hooks = append(a.hooks, h)
	}
}

// promote turns a stub (or a fresh record) into a walked analysis. Weight,
// hooks and hook data are kept, so anything accumulated while the record
// was a stub adds to the genuine analysis.
func (a *ReferenceAnalysis) promote() (*Walked, error) {
	if _, ok := a.state.(*Walked); ok {
		return nil, fmt.Errorf("analysis: %s is already walked", a.Ref)
	}
	w := &Walked{}
	a.state = w
	return w, nil
}

// propagate applies visit to a and everything reachable through callees.
// A node already on the current propagation path is skipped, so cycles
// terminate; diamonds are visited once per path.
func (a *ReferenceAnalysis) propagate(visit func(*ReferenceAnalysis)) {
	active := make(map[*ReferenceAnalysis]bool)
	var walk func(x *ReferenceAnalysis)
	walk = func(x *ReferenceAnalysis) {
		if active[x] {
			return
		}
		active[x] = true
		visit(x)
		for _, c := range x.Callees() {
			walk(c)
		}
		delete(active, x)
	}
	walk(a)
}

// MarkReached records one unconditional call edge into a. Unlike
// MarkRequired it does not fan out; a's callees are charged when a's own
// callers are classified.
func (a *ReferenceAnalysis) MarkReached(ctx Context) {
	for _, h := range a.hooks {
		if h.Required != nil {
			h.Required(ctx)
		}
	}
	a.weight--
}

// MarkRequired records a required reach of a and, transitively, its callees.
func (a *ReferenceAnalysis) MarkRequired(ctx Context) {
	a.propagate(func(x *ReferenceAnalysis) {
		for _, h := range x.hooks {
			if h.Required != nil {
				h.Required(ctx)
			}
		}
		x.weight--
	})
}

// MarkOptional records an optional reach of a and, transitively, its
// callees.
func (a *ReferenceAnalysis) MarkOptional(ctx Context) {
	a.propagate(func(x *ReferenceAnalysis) {
		for _, h := range x.hooks {
			if h.Optional != nil {
				h.Optional(ctx)
			}
		}
		x.weight += 2
	})
}

// MarkDiscarded tells a and its callees that an optional block containing
// them was dropped from the rewritten code.
func (a *ReferenceAnalysis) MarkDiscarded(ctx Context) {
	a.propagate(func(x *ReferenceAnalysis) {
		for _, h := range x.hooks {
			if h.Discarded != nil {
				h.Discarded(ctx)
			}
		}
	})
}

// PostAnalyze runs the post-analysis hooks of a and its callees.
func (a *ReferenceAnalysis) PostAnalyze() {
	a.propagate(func(x *ReferenceAnalysis) {
		for _, h := range x.hooks {
			if h.PostAnalyze != nil {
				h.PostAnalyze()
			}
		}
	})
}
