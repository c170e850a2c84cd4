package capgate

import (
	"github.com/jward/capgate/internal/analysis"
	"github.com/jward/capgate/internal/ref"
	"github.com/jward/capgate/internal/registry"
	"github.com/jward/capgate/internal/store"
	"github.com/jward/capgate/internal/unit"
)

// Public type aliases for the internal types used by the Engine API.

type Reference = ref.Reference
type Dependency = analysis.Dependency
type SingleDependency = analysis.SingleDependency
type SwitchDependency = analysis.SwitchDependency
type Unit = unit.Unit
type Registry = registry.Registry
type Store = store.Store
