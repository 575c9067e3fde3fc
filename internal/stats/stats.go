// Package stats contains snapshot counters for subsystems whose efficiency
// is an internal guarantee rather than an externally observable behavior
// (imaging batch diffing, buffer pool lease/escalation, request dispatch).
package stats

func ptrInt64() *int64 {
	v := int64(0)
	return &v
}

// Stats contains process-wide counters exposed for diagnostics.
//
// use pointers to avoid a crash on 32bit platforms
// https://github.com/golang/go/issues/9959
type Stats struct {
	// connection acceptor / dispatcher
	CountConnectionsAccepted *int64
	CountRequestsDispatched  *int64
	CountRequestsFaulted     *int64

	// buffer pool (L0)
	CountBufferPoolLeases     *int64
	CountBufferPoolEscalations *int64

	// imaging batch diffing
	CountImagingParamsChanged   *int64
	CountImagingParamsUnchanged *int64
}

// New allocates a Stats.
func New() *Stats {
	return &Stats{
		CountConnectionsAccepted:   ptrInt64(),
		CountRequestsDispatched:    ptrInt64(),
		CountRequestsFaulted:       ptrInt64(),
		CountBufferPoolLeases:      ptrInt64(),
		CountBufferPoolEscalations: ptrInt64(),
		CountImagingParamsChanged:   ptrInt64(),
		CountImagingParamsUnchanged: ptrInt64(),
	}
}

// Close closes a stats struct. Present for symmetry with components that
// own a lifecycle (kept as a no-op, matching the teacher's own Stats.Close).
func (s *Stats) Close() {
}
