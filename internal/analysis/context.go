package analysis

import (
	"github.com/jward/capgate/internal/ref"
	"github.com/jward/capgate/internal/symstack"
)

// Frame is one in-flight method walk.
type Frame struct {
	Ref      ref.Reference
	Stack    *symstack.Stack
	Analysis *ReferenceAnalysis
}

// Context is the stack of method walks in progress. It is a value: Push
// returns a new Context and leaves the receiver untouched, so a callee walk
// can never disturb its caller's view.
type Context struct {
	lookup Lookup
	frames []Frame
}

// NewContext returns an empty context.
func NewContext(l Lookup) Context {
	return Context{lookup: l}
}

// Push returns a context with f on top.
func (c Context) Push(f Frame) Context {
	frames := make([]Frame, len(c.frames), len(c.frames)+1)
	copy(frames, c.frames)
	return Context{lookup: c.lookup, frames: append(frames, f)}
}

// Depth returns the number of frames.
func (c Context) Depth() int {
	return len(c.frames)
}

// Current returns the top frame.
func (c Context) Current() (Frame, bool) {
	if len(c.frames) == 0 {
		return Frame{}, false
	}
	return c.frames[len(c.frames)-1], true
}

// CurrentMethod returns the reference being walked, or the zero Reference.
func (c Context) CurrentMethod() ref.Reference {
	f, _ := c.Current()
	return f.Ref
}

// CurrentStack returns the symbolic stack of the method being walked.
func (c Context) CurrentStack() *symstack.Stack {
	f, _ := c.Current()
	return f.Stack
}

// CurrentAnalysis returns the analysis of the method being walked.
func (c Context) CurrentAnalysis() *ReferenceAnalysis {
	f, _ := c.Current()
	return f.Analysis
}

// Contains reports whether r is being walked somewhere on the stack.
func (c Context) Contains(r ref.Reference) bool {
	k := r.Key()
	for _, f := range c.frames {
		if f.Ref.Key() == k {
			return true
		}
	}
	return false
}

// Path returns the references being walked, outermost first.
func (c Context) Path() []ref.Reference {
	out := make([]ref.Reference, len(c.frames))
	for i, f := range c.frames {
		out[i] = f.Ref
	}
	return out
}

// Lookup returns the provider view available to hooks.
func (c Context) Lookup() Lookup {
	return c.lookup
}
