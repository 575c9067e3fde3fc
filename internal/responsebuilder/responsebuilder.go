// Package responsebuilder implements the Response Builder (L3): given
// serialized SOAP bytes, it sizes the payload, leases a pool buffer or
// escalates to a dynamic allocation, and populates the outgoing
// HttpResponse.
package responsebuilder

import (
	"github.com/ocamdaemon/onvifd/internal/bufferpool"
	"github.com/ocamdaemon/onvifd/internal/soapcontext"
)

// ContentType is the fixed SOAP 1.2 content type every response carries.
const ContentType = soapcontext.ContentType

// Ownership records which allocation path a Response's body took, so the
// connection task knows whether to release it back to the pool.
type Ownership int

// Ownership values.
const (
	// OwnershipBorrowed means Body came from a buffer-pool lease and must
	// be released via Builder.Release.
	OwnershipBorrowed Ownership = iota
	// OwnershipOwned means Body is a dynamic allocation; nothing to release.
	OwnershipOwned
)

// Response is the final HTTP payload, ready to be written to the socket.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
	Ownership   Ownership

	leased *bufferpool.Leased
}

// Builder sizes and allocates response bodies against a shared buffer pool.
type Builder struct {
	pool *bufferpool.Pool
}

// New returns a Builder drawing leases from pool.
func New(pool *bufferpool.Pool) *Builder {
	return &Builder{pool: pool}
}

// Build copies payload into a pool-leased buffer when it fits, or a dynamic
// buffer otherwise, and returns the finished Response. statusCode is
// typically 200: SOAP faults are still carried in a 200 response per the
// ONVIF wire contract, with the fault encoded in the body.
func (b *Builder) Build(statusCode int, payload []byte) *Response {
	leased := b.pool.Lease(len(payload))
	copy(leased.Bytes(), payload)

	ownership := OwnershipOwned
	if leased.Pooled() {
		ownership = OwnershipBorrowed
	}

	return &Response{
		StatusCode:  statusCode,
		ContentType: ContentType,
		Body:        leased.Bytes(),
		Ownership:   ownership,
		leased:      leased,
	}
}

// Release returns r's body to the buffer pool when it was borrowed. Safe to
// call on a dynamically allocated response (no-op).
func (b *Builder) Release(r *Response) {
	b.pool.Release(r.leased)
}
