package results

import (
	"sync"

	"github.com/wilkinlas2/IBKR-Server-V6/internal/model"
)

// Store keeps the latest known snapshot per internal order id. Entries are
// last-write-wins and never deleted.
type Store interface {
	Set(rec model.OrderRecord)
	Get(internalID string) (model.OrderRecord, bool)
	List() []model.OrderRecord
}

type Memory struct {
	mu   sync.RWMutex
	recs map[string]model.OrderRecord
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{recs: make(map[string]model.OrderRecord)}
}

func (m *Memory) Set(rec model.OrderRecord) {
	m.mu.Lock()
	m.recs[rec.InternalID] = rec
	m.mu.Unlock()
}

func (m *Memory) Get(internalID string) (model.OrderRecord, bool) {
	m.mu.RLock()
	rec, ok := m.recs[internalID]
	m.mu.RUnlock()
	return rec, ok
}

func (m *Memory) List() []model.OrderRecord {
	m.mu.RLock()
	out := make([]model.OrderRecord, 0, len(m.recs))
	for _, rec := range m.recs {
		out = append(out, rec)
	}
	m.mu.RUnlock()
	return out
}
