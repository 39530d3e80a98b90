package server

import (
	"sync"
	"time"

	"payment-orchestrator/internal/detector"
	"payment-orchestrator/internal/models"
)

// flowEntry ties together everything live for one checkout: the gateway
// session, the immutable request, the payer's email for the receipt and the
// completion detector for redirect flows.
type flowEntry struct {
	session    *models.PaymentSession
	request    models.PaymentRequest
	payerEmail string
	billing    models.BillingDetails
	detector   *detector.Detector
	startedAt  time.Time
}

// Registry tracks active payment flows by external reference. Normally there
// is one active flow at a time, but entries are independent.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*flowEntry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*flowEntry)}
}

func (r *Registry) Put(reference string, entry *flowEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[reference] = entry
}

func (r *Registry) Get(reference string) (*flowEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[reference]
	return entry, ok
}

// Remove tears the flow down. The processing guard is released so an
// abandoned flow never blocks a later retry.
func (r *Registry) Remove(reference string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[reference]; ok {
		entry.session.EndConfirm()
		delete(r.entries, reference)
	}
}
