// Package slot implements the process-wide upload-slot admission
// policy from spec.md §4.7: a single re-scanning counter over the
// C↔C session registry, deliberately uncached so it can never drift
// from the registry it counts.
package slot

import "github.com/amrav/ncdc/internal/runtime"

// Streaming is the minimal capability a C↔C session must expose for
// slot accounting: how many bytes remain in its current file send.
// InUse counts every session whose transport reports a non-zero
// remaining byte count, regardless of whether that transfer actually
// required a slot (files under 16 KiB stream without one) — this is
// the documented over-count spec.md §4.5.5/§9 preserves intentionally.
type Streaming interface {
	RemainingBytes() int64
}

// InUse re-scans reg and counts sessions currently streaming file
// bytes. There is no cached counter: the registry size is bounded by
// the configured listen backlog plus active sessions, so a full scan
// on every query is cheap enough.
func InUse[T Streaming](reg *runtime.Registry[T]) int {
	n := 0
	reg.Each(func(_ runtime.ID, v T) {
		if v.RemainingBytes() > 0 {
			n++
		}
	})
	return n
}

// Free reports how many of configured slots remain, per spec.md
// §4.5.5: max(0, configured - inUse). Because inUse can exceed
// configured (the over-count above), Free never goes negative.
func Free(inUse, configured int) int {
	f := configured - inUse
	if f < 0 {
		return 0
	}
	return f
}

// Admit reports whether a new slot-bearing transfer may start.
func Admit(inUse, configured int) bool {
	return inUse < configured
}
