package responsebuilder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ocamdaemon/onvifd/internal/bufferpool"
)

func TestBuildLeasesFromPoolWhenItFits(t *testing.T) {
	pool := bufferpool.New(4, 1024)
	b := New(pool)

	resp := b.Build(200, []byte("<soap:Envelope/>"))
	require.Equal(t, OwnershipBorrowed, resp.Ownership)
	require.Equal(t, ContentType, resp.ContentType)
	require.Equal(t, []byte("<soap:Envelope/>"), resp.Body)

	b.Release(resp)
	require.Equal(t, uint64(0), pool.Stats().CurrentUsed)
}

func TestBuildEscalatesWhenPayloadExceedsBufferSize(t *testing.T) {
	pool := bufferpool.New(4, 8)
	b := New(pool)

	payload := []byte("this payload is definitely bigger than 8 bytes")
	resp := b.Build(200, payload)
	require.Equal(t, OwnershipOwned, resp.Ownership)
	require.Equal(t, payload, resp.Body)

	b.Release(resp) // no-op for dynamic buffers
	require.Equal(t, uint64(0), pool.Stats().CurrentUsed)
}
