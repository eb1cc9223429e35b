package siem

import (
	"context"

	"github.com/apathy-ca/sark/internal/domain/audit"
)

// Router fans a single audit record out to every registered Forwarder.
// It satisfies service.SIEMRouter.
type Router struct {
	forwarders []Forwarder
}

// NewRouter constructs a Router over zero or more forwarders. A Router
// with no forwarders is a valid, inert no-op.
func NewRouter(forwarders ...Forwarder) *Router {
	return &Router{forwarders: forwarders}
}

// Submit hands the record to every forwarder; each decides independently
// whether its severity warrants forwarding.
func (r *Router) Submit(record audit.AuditRecord) {
	for _, f := range r.forwarders {
		f.Submit(record)
	}
}

// Start begins every forwarder's background batching worker.
func (r *Router) Start(ctx context.Context) {
	for _, f := range r.forwarders {
		f.Start(ctx)
	}
}

// Stop drains and stops every forwarder, flushing any pending batch.
func (r *Router) Stop() {
	for _, f := range r.forwarders {
		f.Stop()
	}
}
