// Package capgate resolves conditional capability use in compiled units.
// A capability is an interface whose default methods may be unimplemented;
// client code guards the calls it can live without. capgate analyzes each
// unit as it is loaded, decides which capability symbols are actually
// implemented, and rewrites the guarded constructs so that missing
// capabilities take their fallback path instead of failing at run time.
//
// # Pipeline
//
// Analysis of one unit runs in a single depth-first walk:
//
//  1. Load: the Provider reads the unit definition through a unit.Loader
//     (encoded .cgu files or TOML sources).
//
//  2. Walk: every method is simulated on a symbolic stack. Calls into
//     capability units are classified by the hook chain and recorded as
//     required or optional dependencies.
//
//  3. Rewrite: optional blocks around unimplemented symbols become
//     substitutes, alternatives switches keep only their first implemented
//     branch, and required calls to unimplemented symbols are followed by a
//     trap that raises a not-implemented error.
//
// # Usage
//
// Create an Engine, register implementations, analyze and run:
//
//	e, err := capgate.New(capgate.WithLoader(unit.DirLoader("units")))
//	if err != nil { ... }
//	defer e.Close()
//
//	e.RegisterImplementation("acme/FastStore", "acme/Store")
//	u, err := e.AnalyzeAndRewrite(ctx, "acme/Client")
//	deps, _ := e.DependencySet("acme/Client")
//
//	m := e.NewMachine()
//	out, err := m.Call(ctx, "acme/Client", "run", "()T")
//
// # Hooks
//
// Hooks decide dependency candidates and implemented verdicts, intercept
// instructions and observe loaded units. The default chain lives in
// internal/hooks. [WithHooks] adds Go hooks and [WithScripts] adds Risor
// scripts; both answer before the defaults.
//
// # Results
//
// With [WithStore], each analyzed unit is recorded in SQLite together with
// its dependency set and method weights, grouped by session.
package capgate
