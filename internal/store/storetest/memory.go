// Package storetest provides an in-memory store.Store for tests. It applies
// the same existence and status-transition rules as the DynamoDB conditions.
package storetest

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/fpang/image-analysis-pipeline/internal/analysis"
	"github.com/fpang/image-analysis-pipeline/internal/store"
)

// Memory is a concurrency-safe in-memory Store. Set Err to make every call fail.
type Memory struct {
	mu      sync.Mutex
	records map[string]*store.ImageRecord
	Err     error

	// Calls counts invocations by method name.
	Calls map[string]int
}

var _ store.Store = (*Memory)(nil)

func NewMemory(records ...*store.ImageRecord) *Memory {
	m := &Memory{records: make(map[string]*store.ImageRecord), Calls: make(map[string]int)}
	for _, r := range records {
		cp := *r
		m.records[key(r.OwnerID, r.ImageID)] = &cp
	}
	return m
}

func key(ownerID, imageID string) string { return ownerID + "/" + imageID }

func (m *Memory) begin(method string) error {
	m.Calls[method]++
	return m.Err
}

// Record returns a copy of a stored record, or nil.
func (m *Memory) Record(ownerID, imageID string) *store.ImageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[key(ownerID, imageID)]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

func (m *Memory) CreateImage(_ context.Context, rec *store.ImageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("CreateImage"); err != nil {
		return err
	}
	k := key(rec.OwnerID, rec.ImageID)
	if _, ok := m.records[k]; ok {
		return store.ErrExists
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().Unix()
	}
	rec.UpdatedAt = rec.CreatedAt
	rec.Status = store.StatusPending
	cp := *rec
	m.records[k] = &cp
	return nil
}

func (m *Memory) GetImage(_ context.Context, ownerID, imageID string) (*store.ImageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("GetImage"); err != nil {
		return nil, err
	}
	r, ok := m.records[key(ownerID, imageID)]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) ListImages(_ context.Context, ownerID string) ([]*store.ImageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("ListImages"); err != nil {
		return nil, err
	}
	var out []*store.ImageRecord
	for _, r := range m.records {
		if r.OwnerID == ownerID {
			cp := *r
			out = append(out, &cp)
		}
	}
	slices.SortStableFunc(out, func(a, b *store.ImageRecord) int {
		if c := cmp.Compare(b.CreatedAt, a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ImageID, b.ImageID)
	})
	return out, nil
}

func (m *Memory) transition(method, ownerID, imageID string, next store.Status, apply func(*store.ImageRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(method); err != nil {
		return err
	}
	r, ok := m.records[key(ownerID, imageID)]
	if !ok || !r.Status.CanTransitionTo(next) {
		return fmt.Errorf("%s %s/%s: %w", method, ownerID, imageID, store.ErrTransitionRejected)
	}
	r.Status = next
	r.UpdatedAt = time.Now().Unix()
	apply(r)
	return nil
}

func (m *Memory) MarkProcessing(_ context.Context, ownerID, imageID string) error {
	return m.transition("MarkProcessing", ownerID, imageID, store.StatusProcessing, func(*store.ImageRecord) {})
}

func (m *Memory) SetExecution(_ context.Context, ownerID, imageID, executionARN string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("SetExecution"); err != nil {
		return err
	}
	r, ok := m.records[key(ownerID, imageID)]
	if !ok {
		return store.ErrTransitionRejected
	}
	r.ExecutionARN = executionARN
	return nil
}

func (m *Memory) CompleteImage(_ context.Context, ownerID, imageID string, results *analysis.Results) error {
	doc, err := analysis.Document(results)
	if err != nil {
		return err
	}
	return m.transition("CompleteImage", ownerID, imageID, store.StatusCompleted, func(r *store.ImageRecord) {
		r.Results = doc
		r.Error = ""
	})
}

func (m *Memory) FailImage(_ context.Context, ownerID, imageID, message string) error {
	return m.transition("FailImage", ownerID, imageID, store.StatusFailed, func(r *store.ImageRecord) {
		r.Error = message
	})
}

func (m *Memory) DeleteImage(_ context.Context, ownerID, imageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("DeleteImage"); err != nil {
		return err
	}
	delete(m.records, key(ownerID, imageID))
	return nil
}
