package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLeaseReleaseRoundTrip(t *testing.T) {
	p := New(4, 128)

	l := p.Lease(64)
	require.Len(t, l.Bytes(), 64)
	require.Equal(t, uint64(1), p.Stats().Hits)
	require.Equal(t, uint64(1), p.Stats().CurrentUsed)

	p.Release(l)
	require.Equal(t, uint64(0), p.Stats().CurrentUsed)
}

func TestLeaseExhaustionFallsBackToDynamic(t *testing.T) {
	p := New(2, 128)

	l1 := p.Lease(32)
	l2 := p.Lease(32)
	l3 := p.Lease(32) // pool exhausted, must fall back

	require.Len(t, l3.Bytes(), 32)
	require.Equal(t, uint64(2), p.Stats().Hits)
	require.Equal(t, uint64(1), p.Stats().Misses)

	p.Release(l1)
	p.Release(l2)
	p.Release(l3) // no-op, dynamic buffer
	require.Equal(t, uint64(0), p.Stats().CurrentUsed)
}

func TestLeaseOversizeIsAlwaysDynamic(t *testing.T) {
	p := New(4, 128)

	l := p.Lease(4096)
	require.Len(t, l.Bytes(), 4096)
	require.Equal(t, uint64(0), p.Stats().Hits)
	require.Equal(t, uint64(1), p.Stats().Misses)
}

func TestPeakUsedTracksHighWaterMark(t *testing.T) {
	p := New(4, 128)

	l1 := p.Lease(16)
	l2 := p.Lease(16)
	require.Equal(t, uint64(2), p.Stats().PeakUsed)

	p.Release(l1)
	require.Equal(t, uint64(2), p.Stats().PeakUsed)

	p.Release(l2)
	require.Equal(t, uint64(2), p.Stats().PeakUsed)
}

func TestUtilizationPercent(t *testing.T) {
	p := New(4, 128)

	l1 := p.Lease(16)
	l2 := p.Lease(16)
	require.Equal(t, 50, p.Stats().UtilizationPercent)

	p.Release(l1)
	p.Release(l2)
}
