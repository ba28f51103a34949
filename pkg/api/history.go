package api

import (
	"sync"

	"github.com/google/uuid"

	"randooprun/pkg/models"
)

// DefaultHistorySize bounds how many finished runs the status API keeps.
const DefaultHistorySize = 200

// History is a bounded in-memory record of finished runs, newest last.
type History struct {
	mu      sync.RWMutex
	records []*models.RunRecord
	size    int
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size}
}

// Add appends rec, evicting the oldest record when full. It matches the
// signature of Pipeline.OnRecord.
func (h *History) Add(rec *models.RunRecord) {
	if rec == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) == h.size {
		copy(h.records, h.records[1:])
		h.records = h.records[:h.size-1]
	}
	h.records = append(h.records, rec)
}

// List returns up to limit records, newest first, optionally restricted to
// one package. limit <= 0 means no limit.
func (h *History) List(pkg string, limit int) []*models.RunRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*models.RunRecord, 0, len(h.records))
	for i := len(h.records) - 1; i >= 0; i-- {
		rec := h.records[i]
		if pkg != "" && rec.PackageName != pkg {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Get finds a record by run ID.
func (h *History) Get(id uuid.UUID) (*models.RunRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, rec := range h.records {
		if rec.ID == id {
			return rec, true
		}
	}
	return nil, false
}

// Last returns the most recent record, if any.
func (h *History) Last() (*models.RunRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.records) == 0 {
		return nil, false
	}
	return h.records[len(h.records)-1], true
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}
