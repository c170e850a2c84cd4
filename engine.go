package capgate

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/tliron/commonlog"

	"github.com/jward/capgate/internal/adapter"
	"github.com/jward/capgate/internal/analysis"
	"github.com/jward/capgate/internal/config"
	"github.com/jward/capgate/internal/hooks"
	"github.com/jward/capgate/internal/ref"
	"github.com/jward/capgate/internal/registry"
	"github.com/jward/capgate/internal/runtime"
	"github.com/jward/capgate/internal/store"
	"github.com/jward/capgate/internal/unit"
	"github.com/jward/capgate/internal/vm"
)

var log = commonlog.GetLogger("capgate")

// Engine orchestrates one analysis session: unit loading, analysis and
// rewriting through the Provider, implementation registration, scripted
// hooks, result persistence and execution of rewritten units.
type Engine struct {
	provider *analysis.Provider
	registry *registry.Registry
	adapters *adapter.Registry

	loader   unit.Loader
	marker   string
	excluded []string
	hooks    []analysis.Hook
	required func(weight int) bool

	// Optional results database. Units are buffered in batch and written
	// to SQLite on Flush or Close.
	dbPath  string
	label   string
	store   *store.Store
	batch   *store.BatchedStore
	session *store.Session

	runtime    *runtime.Runtime
	scriptsDir string
	scriptsFS  fs.FS
	scripts    []string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLoader sets where unit definitions come from.
func WithLoader(l unit.Loader) Option {
	return func(e *Engine) {
		e.loader = l
	}
}

// WithFS reads unit definitions (encoded .cgu files or .toml sources) from
// fsys.
func WithFS(fsys fs.FS) Option {
	return func(e *Engine) {
		e.loader = unit.NewFSLoader(fsys)
	}
}

// WithExcludedPrefixes excludes units whose names start with any of the
// prefixes from analysis. Excluded units are served as defined.
func WithExcludedPrefixes(prefixes ...string) Option {
	return func(e *Engine) {
		e.excluded = append(e.excluded, prefixes...)
	}
}

// WithCapability sets the marker unit that capabilities inherit from.
func WithCapability(marker string) Option {
	return func(e *Engine) {
		e.marker = marker
	}
}

// WithHooks adds hooks ahead of the default chain, so they answer first.
func WithHooks(h ...analysis.Hook) Option {
	return func(e *Engine) {
		e.hooks = append(e.hooks, h...)
	}
}

// WithRequiredPredicate overrides how a final weight classifies a
// dependency. The default treats weight <= 0 as required.
func WithRequiredPredicate(fn func(weight int) bool) Option {
	return func(e *Engine) {
		e.required = fn
	}
}

// WithStore records every analyzed unit in a SQLite database at dbPath,
// under a new session labelled label.
func WithStore(dbPath, label string) Option {
	return func(e *Engine) {
		e.dbPath = dbPath
		e.label = label
	}
}

// WithScripts adds Risor hook scripts. Relative paths resolve against dir.
func WithScripts(dir string, paths ...string) Option {
	return func(e *Engine) {
		e.scriptsDir = dir
		e.scripts = append(e.scripts, paths...)
	}
}

// WithScriptsFS loads hook scripts from fsys instead of from disk.
func WithScriptsFS(fsys fs.FS) Option {
	return func(e *Engine) {
		e.scriptsFS = fsys
	}
}

// WithAdapters sets the adapter registry used by rewritten conversions.
func WithAdapters(r *adapter.Registry) Option {
	return func(e *Engine) {
		e.adapters = r
	}
}

// New creates an Engine. A loader is required; everything else has a
// default.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		registry: registry.New(),
		marker:   ref.CapabilityOwner,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.loader == nil {
		return nil, fmt.Errorf("capgate: no unit loader configured")
	}

	if e.dbPath != "" {
		if err := e.openStore(); err != nil {
			return nil, err
		}
	}

	// Scripts see the registry and, when configured, the results database.
	rtOpts := []runtime.RuntimeOption{runtime.WithRegistry(e.registry)}
	if e.scriptsFS != nil {
		rtOpts = append(rtOpts, runtime.WithRuntimeFS(e.scriptsFS))
	}
	if e.store != nil {
		rtOpts = append(rtOpts, runtime.WithStore(e.store))
	}
	e.runtime = runtime.NewRuntime(e.scriptsDir, rtOpts...)

	var scripted []analysis.Hook
	for _, path := range e.scripts {
		h, err := e.runtime.Hook(context.Background(), path)
		if err != nil {
			e.closeStore()
			return nil, fmt.Errorf("capgate: hook script: %w", err)
		}
		scripted = append(scripted, h)
	}

	// Caller hooks, then scripts, then the defaults: first match wins.
	chain := append(append(scripted, e.hooks...), hooks.Defaults(e.marker, e.registry)...)
	pOpts := []analysis.Option{
		analysis.WithHooks(chain...),
		analysis.WithExclude(e.isExcluded),
	}
	if e.required != nil {
		pOpts = append(pOpts, analysis.WithRequiredPredicate(e.required))
	}
	e.provider = analysis.NewProvider(e.loader, pOpts...)

	if e.adapters == nil {
		e.adapters = adapter.New(adapter.WithHierarchy(e.supertypes))
	}
	return e, nil
}

// NewFromConfig creates an Engine from a loaded capgate.toml. opts are
// applied after the configuration, so they take precedence.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Engine, error) {
	base := []Option{
		WithLoader(unit.DirLoader(cfg.UnitDirs()...)),
		WithExcludedPrefixes(cfg.Analysis.Exclude...),
		WithCapability(cfg.Analysis.Capability),
	}
	if scripts := cfg.ScriptPaths(); len(scripts) > 0 {
		base = append(base, WithScripts(cfg.Dir, scripts...))
	}
	if path := cfg.StorePath(); path != "" {
		base = append(base, WithStore(path, ""))
	}
	return New(append(base, opts...)...)
}

func (e *Engine) openStore() error {
	s, err := store.NewStore(e.dbPath)
	if err != nil {
		return fmt.Errorf("capgate: create store: %w", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return fmt.Errorf("capgate: migrate: %w", err)
	}
	sess, err := s.NewSession(e.label)
	if err != nil {
		s.Close()
		return fmt.Errorf("capgate: new session: %w", err)
	}
	e.store = s
	e.session = sess
	e.batch = store.NewBatchedStore(s)
	log.Infof("session %s started", sess.ID)
	return nil
}

func (e *Engine) closeStore() error {
	if e.store == nil {
		return nil
	}
	err := e.store.Close()
	e.store = nil
	return err
}

func (e *Engine) isExcluded(owner string) bool {
	for _, p := range e.excluded {
		if strings.HasPrefix(owner, p) {
			return true
		}
	}
	return false
}

func (e *Engine) supertypes(name string) []string {
	def, err := e.provider.Definition(name)
	if err != nil {
		return nil
	}
	return def.Supertypes()
}

// Close writes pending results and releases the Engine's database.
func (e *Engine) Close() error {
	if err := e.Flush(); err != nil {
		e.closeStore()
		return err
	}
	return e.closeStore()
}

// Flush writes results buffered since the last flush to the database. It
// does nothing without a store.
func (e *Engine) Flush() error {
	if e.store == nil || e.batch.Len() == 0 {
		return nil
	}
	if err := e.store.CommitBatch(e.batch); err != nil {
		return fmt.Errorf("capgate: %w", err)
	}
	return nil
}

// Provider returns the analysis session.
func (e *Engine) Provider() *analysis.Provider { return e.provider }

// Registry returns the implementation registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Adapters returns the adapter registry.
func (e *Engine) Adapters() *adapter.Registry { return e.adapters }

// Store returns the results database, or nil when none is configured.
func (e *Engine) Store() *Store { return e.store }

// Session returns the current results session, or nil without a store.
func (e *Engine) Session() *store.Session { return e.session }

// IsImplemented reports whether r is implemented.
func (e *Engine) IsImplemented(r Reference) bool {
	return e.provider.IsImplemented(r)
}

// AreAllImplemented reports whether every reference in rs is implemented.
func (e *Engine) AreAllImplemented(rs []Reference) bool {
	return e.provider.AreAllImplemented(rs)
}

// DependencySet returns the dependencies of an analyzed unit. It reports
// false until the unit has been fully analyzed.
func (e *Engine) DependencySet(name string) ([]Dependency, bool) {
	return e.provider.DependencySet(name)
}

// Definition returns the unit as defined, before any rewriting.
func (e *Engine) Definition(name string) (*unit.Unit, error) {
	return e.provider.Definition(name)
}

// AnalyzeAndRewrite analyzes the named unit and returns its rewritten form.
// With a store configured, the first rewrite of each unit in a session is
// recorded.
func (e *Engine) AnalyzeAndRewrite(ctx context.Context, name string) (*unit.Unit, error) {
	u, err := e.provider.AnalyzeAndRewrite(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("capgate: analyze %s: %w", name, err)
	}
	if e.store != nil {
		if err := e.record(u); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// RegisterImplementation records impl as the implementation of the given
// capabilities. Cached implemented verdicts are dropped when anything
// changed.
func (e *Engine) RegisterImplementation(impl string, capabilities ...string) bool {
	changed := e.registry.Register(impl, capabilities...)
	if changed {
		e.provider.InvalidateImplemented()
	}
	return changed
}

// MarkLoaded records that the host loaded name itself. It will never be
// analyzed, and references into it resolve to stubs.
func (e *Engine) MarkLoaded(name string) {
	e.provider.MarkLoaded(name)
}

// NewMachine returns an interpreter that runs units in their rewritten form
// and converts values through the Engine's adapters.
func (e *Engine) NewMachine(opts ...vm.Option) *vm.Machine {
	all := append([]vm.Option{vm.WithAdapters(e.adapters)}, opts...)
	src := vm.Rewriting{Provider: e.provider}
	if e.store != nil {
		src.Rewritten = e.record
	}
	return vm.New(src, all...)
}

// record writes u, its dependency set and its method weights to the
// session batch.
func (e *Engine) record(u *unit.Unit) error {
	existing, err := e.batch.UnitByName(e.session.ID, u.Name)
	if err != nil {
		return fmt.Errorf("capgate: lookup %s: %w", u.Name, err)
	}
	if existing != nil {
		return nil
	}

	blob, err := unit.Encode(u)
	if err != nil {
		return fmt.Errorf("capgate: encode %s: %w", u.Name, err)
	}
	deps, _ := e.provider.DependencySet(u.Name)
	records := dependencyRecords(deps)
	texts := make([]string, len(records))
	for i, d := range records {
		texts[i] = d.String()
	}

	rec := &store.UnitRecord{
		SessionID:  e.session.ID,
		Name:       u.Name,
		Hash:       store.ComputeUnitHash(blob, texts),
		Blob:       blob,
		AnalyzedAt: time.Now().UTC(),
	}
	unitID, err := e.batch.InsertUnit(rec)
	if err != nil {
		return fmt.Errorf("capgate: record %s: %w", u.Name, err)
	}
	for _, d := range records {
		d.UnitID = unitID
		if _, err := e.batch.InsertDependency(d); err != nil {
			return fmt.Errorf("capgate: record %s: %w", u.Name, err)
		}
	}
	for _, m := range u.Methods {
		a, ok := e.provider.Analysis(u.MethodRef(m))
		if !ok {
			continue
		}
		mr := &store.MethodRecord{UnitID: unitID, Ref: a.Ref.String(), Weight: a.Weight()}
		if _, err := e.batch.InsertMethod(mr); err != nil {
			return fmt.Errorf("capgate: record %s: %w", u.Name, err)
		}
	}
	log.Debugf("recorded %s (%d dependencies)", u.Name, len(records))
	return nil
}

// dependencyRecords converts a dependency set to store rows in set order.
func dependencyRecords(deps []Dependency) []*store.DependencyRecord {
	out := make([]*store.DependencyRecord, 0, len(deps))
	for i, d := range deps {
		switch d := d.(type) {
		case analysis.SingleDependency:
			out = append(out, &store.DependencyRecord{
				Ordinal:  i,
				Kind:     store.KindSingle,
				Ref:      d.Ref.String(),
				Optional: d.Optional,
			})
		case analysis.SwitchDependency:
			out = append(out, &store.DependencyRecord{
				Ordinal:      i,
				Kind:         store.KindSwitch,
				Ref:          strings.Join(refTexts(d.Chosen), ", "),
				Alternatives: refTexts(d.Alternatives),
				Resolved:     d.Resolved,
			})
		}
	}
	return out
}

func refTexts(ds []analysis.SingleDependency) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Ref.String()
	}
	return out
}
