package store

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// ComputeUnitHash computes a deterministic hash of a rewritten unit: its
// encoded bytes plus its dependency set. Dependencies are sorted, so the
// hash does not depend on the order they were recorded in.
func ComputeUnitHash(blob []byte, deps []string) string {
	h := sha256.New()
	fmt.Fprintf(h, "blob:%d\n", len(blob))
	h.Write(blob)

	sorted := make([]string, len(deps))
	copy(sorted, deps)
	sort.Strings(sorted)
	fmt.Fprintf(h, "\ndeps:%s\n", strings.Join(sorted, ";"))

	return fmt.Sprintf("%x", h.Sum(nil))
}
