package runtime

import (
	"context"
	"fmt"

	"github.com/risor-io/risor/object"

	"github.com/jward/capgate/internal/analysis"
	"github.com/jward/capgate/internal/ref"
	"github.com/jward/capgate/internal/registry"
	"github.com/jward/capgate/internal/unit"
)

// Events a hook script is evaluated for. The script sees the event in the
// global "event" and answers with its last expression: true or false to
// decide, anything else to abstain.
const (
	EventCandidate   = "candidate"   // globals: ref, current, depth
	EventImplemented = "implemented" // globals: ref
	EventLoaded      = "loaded"      // globals: unit; true means registrations changed
)

// Hook compiles the script at path into an analysis hook. ctx bounds every
// evaluation of the script. A script that fails abstains and logs a warning.
func (r *Runtime) Hook(ctx context.Context, path string) (analysis.Hook, error) {
	src, err := r.LoadScript(path)
	if err != nil {
		return analysis.Hook{}, err
	}
	label := path
	run := func(l analysis.Lookup, globals map[string]any) analysis.Verdict {
		// Every event sees every name; Risor resolves globals at compile time.
		for _, name := range []string{"ref", "unit"} {
			if _, ok := globals[name]; !ok {
				globals[name] = object.Nil
			}
		}
		if _, ok := globals["current"]; !ok {
			globals["current"] = ""
		}
		if _, ok := globals["depth"]; !ok {
			globals["depth"] = int64(0)
		}
		globals["inherits"] = makeInheritsFn(l)
		globals["is_loaded"] = makeIsLoadedFn(l)
		result, err := r.eval(ctx, src, label, globals)
		if err != nil {
			log.Warningf("%s", err)
			return analysis.Abstain
		}
		return verdictOf(result)
	}

	return analysis.Hook{
		Name: "script:" + path,
		IsDependencyCandidate: func(c analysis.Context, target ref.Reference) analysis.Verdict {
			current := ""
			if f, ok := c.Current(); ok {
				current = f.Ref.String()
			}
			return run(c.Lookup(), map[string]any{
				"event":   EventCandidate,
				"ref":     refObject(target),
				"current": current,
				"depth":   int64(c.Depth()),
			})
		},
		CheckImplemented: func(l analysis.Lookup, target ref.Reference) analysis.Verdict {
			return run(l, map[string]any{
				"event": EventImplemented,
				"ref":   refObject(target),
			})
		},
		UnitLoaded: func(l analysis.Lookup, u *unit.Unit) bool {
			return run(l, map[string]any{
				"event": EventLoaded,
				"unit":  unitObject(u),
			}) == analysis.Yes
		},
	}, nil
}

func verdictOf(obj object.Object) analysis.Verdict {
	if b, ok := obj.(*object.Bool); ok {
		return analysis.VerdictOf(b.Value())
	}
	return analysis.Abstain
}

// refObject converts a reference to a Risor map.
func refObject(r ref.Reference) object.Object {
	return object.NewMap(map[string]object.Object{
		"owner":  object.NewString(r.Owner),
		"name":   object.NewString(r.Name),
		"desc":   object.NewString(r.Desc),
		"kind":   object.NewString(r.Kind.String()),
		"static": object.NewBool(r.Static),
		"text":   object.NewString(r.String()),
	})
}

// unitObject converts a unit's shape (not its code) to a Risor map.
func unitObject(u *unit.Unit) object.Object {
	interfaces := make([]object.Object, len(u.Interfaces))
	for i, name := range u.Interfaces {
		interfaces[i] = object.NewString(name)
	}
	methods := make([]object.Object, len(u.Methods))
	for i, m := range u.Methods {
		methods[i] = object.NewString(m.Name + " " + m.Desc)
	}
	return object.NewMap(map[string]object.Object{
		"name":       object.NewString(u.Name),
		"super":      object.NewString(u.Super),
		"interfaces": object.NewList(interfaces),
		"interface":  object.NewBool(u.IsInterface()),
		"abstract":   object.NewBool(u.Flags&unit.FlagAbstract != 0),
		"methods":    object.NewList(methods),
	})
}

// makeInheritsFn creates the "inherits" host function.
//
// inherits(name, super) → bool
func makeInheritsFn(l analysis.Lookup) *object.Builtin {
	return object.NewBuiltin("inherits", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("inherits", 2, len(args))
		}
		name, err := toString(args[0])
		if err != nil {
			return object.Errorf("inherits: name %v", err)
		}
		super, err := toString(args[1])
		if err != nil {
			return object.Errorf("inherits: super %v", err)
		}
		if l == nil {
			return object.False
		}
		return object.NewBool(l.Inherits(name, super))
	})
}

// makeIsLoadedFn creates the "is_loaded" host function.
//
// is_loaded(name) → bool
func makeIsLoadedFn(l analysis.Lookup) *object.Builtin {
	return object.NewBuiltin("is_loaded", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("is_loaded", 1, len(args))
		}
		name, err := toString(args[0])
		if err != nil {
			return object.Errorf("is_loaded: %v", err)
		}
		if l == nil {
			return object.False
		}
		return object.NewBool(l.IsLoaded(name))
	})
}

// makeRegisterFn creates the "register" host function.
//
// register(impl, capability...) → bool (whether anything changed)
func makeRegisterFn(reg *registry.Registry) *object.Builtin {
	return object.NewBuiltin("register", func(ctx context.Context, args ...object.Object) object.Object {
		if reg == nil {
			return object.Errorf("register: no registry configured")
		}
		if len(args) < 2 {
			return object.Errorf("register: expected at least 2 arguments (impl, capability), got %d", len(args))
		}
		impl, err := toString(args[0])
		if err != nil {
			return object.Errorf("register: impl %v", err)
		}
		caps := make([]string, 0, len(args)-1)
		for _, a := range args[1:] {
			c, err := toString(a)
			if err != nil {
				return object.Errorf("register: capability %v", err)
			}
			caps = append(caps, c)
		}
		return object.NewBool(reg.Register(impl, caps...))
	})
}

// makeImplementationForFn creates the "implementation_for" host function.
//
// implementation_for(capability) → string or nil
func makeImplementationForFn(reg *registry.Registry) *object.Builtin {
	return object.NewBuiltin("implementation_for", func(ctx context.Context, args ...object.Object) object.Object {
		if reg == nil {
			return object.Errorf("implementation_for: no registry configured")
		}
		if len(args) != 1 {
			return object.NewArgsError("implementation_for", 1, len(args))
		}
		c, err := toString(args[0])
		if err != nil {
			return object.Errorf("implementation_for: %v", err)
		}
		impl, ok := reg.ImplementationFor(c)
		if !ok {
			return object.Nil
		}
		return object.NewString(impl)
	})
}

// logObject provides log.Info/Warn/Error methods for Risor scripts.
type logObject struct {
	prefix string
}

func (l *logObject) Info(msg string) {
	log.Infof("[%s] %s", l.prefix, msg)
}

func (l *logObject) Warn(msg string) {
	log.Warningf("[%s] %s", l.prefix, msg)
}

func (l *logObject) Error(msg string) {
	log.Errorf("[%s] %s", l.prefix, msg)
}

func toString(obj object.Object) (string, error) {
	if s, ok := obj.(*object.String); ok {
		return s.Value(), nil
	}
	return "", fmt.Errorf("expected string, got %s", obj.Type())
}
