package reqorch

import (
	"sync"

	"github.com/google/uuid"
)

// pendingRegistry tracks in-flight pendingRecords by request ID, so
// operations like Orchestrator.Cancel(id) can reach a specific
// in-progress request's Signal from outside its goroutine.
type pendingRegistry struct {
	mu      sync.Mutex
	records map[string]*pendingRecord
}

func newPendingRegistry() *pendingRegistry {
	return &pendingRegistry{records: make(map[string]*pendingRecord)}
}

func (r *pendingRegistry) add(rec *pendingRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.req.ID] = rec
}

func (r *pendingRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
}

func (r *pendingRegistry) get(id string) (*pendingRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return rec, ok
}

func (r *pendingRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func newRequestID() string {
	return uuid.NewString()
}
