package store

import (
	"strings"
	"time"
)

// Dependency kinds.
const (
	KindSingle = "single"
	KindSwitch = "switch"
)

// Session groups the results of one analysis run.
type Session struct {
	ID        string
	Label     string
	StartedAt time.Time
}

// UnitRecord is one rewritten unit in its encoded form.
type UnitRecord struct {
	ID         int64
	SessionID  string
	Name       string
	Hash       string
	Blob       []byte
	AnalyzedAt time.Time
}

// DependencyRecord is one entry of a unit's dependency set, in set order.
// Single dependencies use Ref and Optional; switch dependencies use
// Alternatives, Ref (the chosen alternative, if any) and Resolved.
type DependencyRecord struct {
	ID           int64
	UnitID       int64
	Ordinal      int
	Kind         string
	Ref          string
	Optional     bool
	Alternatives []string
	Resolved     bool
}

// MethodRecord is the final weight of one analyzed method.
type MethodRecord struct {
	ID     int64
	UnitID int64
	Ref    string
	Weight int
}

// String renders d the way dependency sets print.
func (d *DependencyRecord) String() string {
	if d.Kind == KindSwitch {
		if !d.Resolved {
			return "none [" + strings.Join(d.Alternatives, ", ") + "]"
		}
		return "one [" + d.Ref + "] over [" + strings.Join(d.Alternatives, ", ") + "]"
	}
	if d.Optional {
		return "optional " + d.Ref
	}
	return "required " + d.Ref
}
