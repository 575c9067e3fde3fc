// Package dispatcher implements the process-global service registry and
// request router (L2): a bounded, append-mostly table of registered ONVIF
// services, dispatched by linear scan.
package dispatcher

import (
	"fmt"
	"sync"

	"github.com/ocamdaemon/onvifd/internal/onviferr"
	"github.com/ocamdaemon/onvifd/internal/soapcontext"
)

// MaxServices bounds the registry; linear scan beats a hash table at this
// size and keeps the registry allocation-free.
const MaxServices = 8

// OperationHandler is the capability every registered service implements:
// given a parsed SOAP context positioned on an operation, execute it and
// leave the context holding either a response or a fault.
type OperationHandler interface {
	// Handle executes operation against ctx. A nil return means ctx already
	// holds a serialized response or fault; any non-nil error is wrapped
	// into a Receiver fault by the dispatcher, since handlers are expected
	// to populate sender faults themselves via ctx.GenerateFaultFromError.
	Handle(ctx *soapcontext.Context, operation string) error
}

// CapabilitiesBuilder returns the WSDL-level capability fragment a service
// contributes to GetCapabilities; the Device service aggregates these
// across the registry rather than hard-coding a list.
type CapabilitiesBuilder func() []byte

// Registration is an immutable record describing one registered service.
// Constructed once per service at daemon startup.
type Registration struct {
	ServiceName         string
	NamespaceURI        string
	OperationHandler    OperationHandler
	InitHandler         func() error
	CleanupHandler      func()
	Operations          []string
	CapabilitiesBuilder CapabilitiesBuilder
}

func (r Registration) validate() error {
	if r.ServiceName == "" || r.OperationHandler == nil {
		return onviferr.Invalid("registration missing service_name or operation_handler")
	}
	return nil
}

// Registry is the process-wide service_name -> Registration table.
type Registry struct {
	mutex sync.RWMutex
	order []string // insertion order, for cleanup() and list_services()
	byName map[string]Registration
}

// New returns an empty registry. Equivalent to calling Init on a zero
// value; provided for symmetry with the rest of the package's
// constructor-based style.
func New() *Registry {
	r := &Registry{}
	r.Init()
	return r
}

// Init prepares the registry for use. Idempotent: calling it again on an
// already-initialized registry is a no-op, matching init(); init() ==
// init() from the component contract.
func (r *Registry) Init() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.byName == nil {
		r.byName = make(map[string]Registration, MaxServices)
	}
}

// Cleanup calls each registration's CleanupHandler in reverse registration
// order, then clears the registry. Idempotent.
func (r *Registry) Cleanup() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i := len(r.order) - 1; i >= 0; i-- {
		reg := r.byName[r.order[i]]
		if reg.CleanupHandler != nil {
			reg.CleanupHandler()
		}
	}
	r.order = nil
	r.byName = make(map[string]Registration, MaxServices)
}

// RegisterService inserts reg if its required fields are present, its name
// is not already registered, and the registry has room. If reg carries an
// InitHandler, it runs before the entry becomes visible; a failure there
// rolls the insert back and the registry is left unchanged.
func (r *Registry) RegisterService(reg Registration) error {
	if err := reg.validate(); err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.byName == nil {
		r.byName = make(map[string]Registration, MaxServices)
	}
	if _, exists := r.byName[reg.ServiceName]; exists {
		return onviferr.New(onviferr.KindInvalid, "duplicate service: %s", reg.ServiceName)
	}
	if len(r.order) >= MaxServices {
		return onviferr.New(onviferr.KindInvalid, "registry full: at most %d services", MaxServices)
	}

	if reg.InitHandler != nil {
		if err := reg.InitHandler(); err != nil {
			return onviferr.Wrap(onviferr.KindInternal, fmt.Errorf("init_handler for %s: %w", reg.ServiceName, err))
		}
	}

	r.byName[reg.ServiceName] = reg
	r.order = append(r.order, reg.ServiceName)
	return nil
}

// UnregisterService removes service_name if present, calling its
// CleanupHandler. Fails with NotFound otherwise.
func (r *Registry) UnregisterService(serviceName string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	reg, ok := r.byName[serviceName]
	if !ok {
		return onviferr.NotFound("service not registered: %s", serviceName)
	}

	if reg.CleanupHandler != nil {
		reg.CleanupHandler()
	}

	delete(r.byName, serviceName)
	for i, n := range r.order {
		if n == serviceName {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Dispatch looks up serviceName and forwards ctx (already positioned on
// operation by soapcontext.ParseRequest) to its OperationHandler. Any
// handler panic is recovered and converted to an internal Receiver fault;
// the connection stays alive.
func (r *Registry) Dispatch(serviceName, operation string, ctx *soapcontext.Context) (err error) {
	r.mutex.RLock()
	reg, ok := r.byName[serviceName]
	r.mutex.RUnlock()

	if !ok {
		return onviferr.NotFound("unknown service: %s", serviceName)
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = onviferr.New(onviferr.KindInternal, "recovered panic in %s::%s: %v", serviceName, operation, rec)
		}
	}()

	return reg.OperationHandler.Handle(ctx, operation)
}

// IsRegistered reports whether serviceName currently has an entry.
func (r *Registry) IsRegistered(serviceName string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, ok := r.byName[serviceName]
	return ok
}

// ListServices returns a snapshot of registered service names, in
// registration order, for diagnostics.
func (r *Registry) ListServices() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Capabilities aggregates every registered service's CapabilitiesBuilder
// output, for the Device service's GetCapabilities to assemble without
// hard-coding which services exist.
func (r *Registry) Capabilities() map[string][]byte {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make(map[string][]byte, len(r.order))
	for _, name := range r.order {
		reg := r.byName[name]
		if reg.CapabilitiesBuilder != nil {
			out[name] = reg.CapabilitiesBuilder()
		}
	}
	return out
}
