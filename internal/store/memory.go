package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Store guarded by a single RWMutex: reads share the lock and every
// mutation, including its unique-key checks, runs under the exclusive lock.
type Memory[T any] struct {
	schema Schema[T]

	mu      sync.RWMutex
	records map[string]T
	indexes map[string]map[string]string // index name -> key -> id
}

// NewMemory constructs an empty in-memory store for schema.
func NewMemory[T any](schema Schema[T]) (*Memory[T], error) {
	if err := schema.validate(); err != nil {
		return nil, err
	}

	indexes := make(map[string]map[string]string, len(schema.Unique))
	for _, idx := range schema.Unique {
		indexes[idx.Name] = make(map[string]string)
	}

	return &Memory[T]{
		schema:  schema,
		records: make(map[string]T),
		indexes: indexes,
	}, nil
}

func (m *Memory[T]) Create(ctx context.Context, rec T) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	rec = m.schema.clone(rec)
	id := m.schema.ID(rec)
	if id == "" {
		id = uuid.NewString()
		m.schema.SetID(&rec, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[id]; exists {
		return zero, conflict(m.schema.Name, "id")
	}
	for _, idx := range m.schema.Unique {
		if key := idx.Key(rec); key != "" {
			if _, taken := m.indexes[idx.Name][key]; taken {
				return zero, conflict(m.schema.Name, idx.Name)
			}
		}
	}

	m.records[id] = rec
	m.link(id, rec)

	return m.schema.clone(rec), nil
}

func (m *Memory[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return zero, ErrNotFound
	}
	return m.schema.clone(rec), nil
}

func (m *Memory[T]) GetBy(ctx context.Context, index, value string) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if _, ok := m.schema.index(index); !ok {
		return zero, errUnknownIndex(m.schema.Name, index)
	}
	if value == "" {
		return zero, ErrNotFound
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.indexes[index][value]
	if !ok {
		return zero, ErrNotFound
	}
	return m.schema.clone(m.records[id]), nil
}

func (m *Memory[T]) GetMany(ctx context.Context, filter Filter) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []T
	for _, rec := range m.records {
		ok, err := m.schema.matches(rec, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, m.schema.clone(rec))
		}
	}
	return out, nil
}

func (m *Memory[T]) Update(ctx context.Context, id string, patch func(*T) error) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.records[id]
	if !ok {
		return zero, ErrNotFound
	}

	next := m.schema.clone(current)
	if err := patch(&next); err != nil {
		return zero, err
	}
	if err := m.schema.checkID(id, next); err != nil {
		return zero, err
	}

	for _, idx := range m.schema.Unique {
		key := idx.Key(next)
		if key == "" {
			continue
		}
		if owner, taken := m.indexes[idx.Name][key]; taken && owner != id {
			return zero, conflict(m.schema.Name, idx.Name)
		}
	}

	m.unlink(current)
	m.records[id] = next
	m.link(id, next)

	return m.schema.clone(next), nil
}

func (m *Memory[T]) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	m.unlink(current)
	delete(m.records, id)
	return nil
}

// Len returns the number of stored records.
func (m *Memory[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *Memory[T]) link(id string, rec T) {
	for _, idx := range m.schema.Unique {
		if key := idx.Key(rec); key != "" {
			m.indexes[idx.Name][key] = id
		}
	}
}

func (m *Memory[T]) unlink(rec T) {
	for _, idx := range m.schema.Unique {
		if key := idx.Key(rec); key != "" {
			delete(m.indexes[idx.Name], key)
		}
	}
}
