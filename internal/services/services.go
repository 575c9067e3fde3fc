// Package services holds the shared per-operation dispatch table used by
// the four concrete ONVIF service handlers (Device, Media, Imaging, PTZ).
// Each handler follows the same three-phase template (validate, execute,
// post-process) described per-operation; this package only supplies the
// common "array of {operation_name, function} entries, linearly searched"
// shape so the four handlers don't each reimplement it.
package services

import (
	"github.com/ocamdaemon/onvifd/internal/onviferr"
	"github.com/ocamdaemon/onvifd/internal/soapcontext"
)

// OperationFunc is one operation's full validate/execute/post-process
// sequence, driven entirely off ctx: it decodes arguments, performs the
// action, and leaves ctx holding a serialized response or fault.
type OperationFunc func(ctx *soapcontext.Context) error

// Operation pairs a SOAP action name with its handler function.
type Operation struct {
	Name string
	Fn   OperationFunc
}

// Table is a service's operation list, linearly searched per request — the
// same tradeoff the dispatcher makes for the service registry: at this
// cardinality linear scan beats a map and keeps dispatch allocation-free.
type Table []Operation

// Dispatch finds operation by name and runs it. Unknown operations return
// onviferr.Unsupported, which handlers can turn straight into
// ctx.GenerateFaultFromError.
func (t Table) Dispatch(ctx *soapcontext.Context, operation string) error {
	for _, op := range t {
		if op.Name == operation {
			if err := op.Fn(ctx); err != nil {
				if oerr, ok := err.(*onviferr.Error); ok {
					ctx.GenerateFaultFromError(oerr)
					return nil
				}
				ctx.GenerateFaultFromError(onviferr.Wrap(onviferr.KindInternal, err))
				return nil
			}
			return nil
		}
	}

	ctx.GenerateFaultFromError(onviferr.Unsupported(operation))
	return nil
}

// Names returns the operation names in the table, for a service's
// CapabilitiesBuilder / diagnostics use.
func (t Table) Names() []string {
	out := make([]string, len(t))
	for i, op := range t {
		out[i] = op.Name
	}
	return out
}
