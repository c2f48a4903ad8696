// Package store provides the record store used for users and verification challenges.
// Every variant enforces declared unique keys atomically with the insert or update that
// introduces them, and keeps its secondary indexes consistent with the primary records.
package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates no record matched the id or key.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict indicates a unique key is already taken by another record.
	ErrConflict = errors.New("store: unique key conflict")
	// ErrStorage marks failures of the underlying backend.
	ErrStorage = errors.New("store: backend failure")
)

// Filter selects records whose named fields equal the given values. An empty filter matches all.
type Filter map[string]any

// Store is a concurrency-safe collection of records of type T.
type Store[T any] interface {
	// Create inserts rec, assigning an id when it has none. Returns ErrConflict on any unique key collision.
	Create(ctx context.Context, rec T) (T, error)
	// Get returns the record with the given id.
	Get(ctx context.Context, id string) (T, error)
	// GetBy returns the record owning value in the named unique index.
	GetBy(ctx context.Context, index, value string) (T, error)
	// GetMany returns every record matching filter, in no particular order.
	GetMany(ctx context.Context, filter Filter) ([]T, error)
	// Update applies patch to a copy of the record and stores the result atomically. An error from
	// patch aborts the update and is returned unchanged.
	Update(ctx context.Context, id string, patch func(*T) error) (T, error)
	// Delete removes the record with the given id.
	Delete(ctx context.Context, id string) error
}

// Index declares a unique secondary key. Records whose Key is empty are not indexed.
type Index[T any] struct {
	Name   string
	Column string
	Key    func(T) string
}

// Field declares a filterable attribute.
type Field[T any] struct {
	Name   string
	Column string
	Value  func(T) any
}

// Schema describes how a store reads and indexes records of type T.
type Schema[T any] struct {
	Name     string
	IDColumn string
	ID       func(T) string
	SetID    func(*T, string)
	// Clone deep-copies a record; nil means T is safe to copy by value.
	Clone  func(T) T
	Unique []Index[T]
	Fields []Field[T]
}

func (s Schema[T]) validate() error {
	if s.Name == "" {
		return errors.New("store: schema name is required")
	}
	if s.ID == nil || s.SetID == nil {
		return fmt.Errorf("store: schema %s requires id accessors", s.Name)
	}
	seen := make(map[string]struct{})
	for _, idx := range s.Unique {
		if idx.Name == "" || idx.Key == nil {
			return fmt.Errorf("store: schema %s has an incomplete index", s.Name)
		}
		if _, dup := seen[idx.Name]; dup {
			return fmt.Errorf("store: schema %s declares %q twice", s.Name, idx.Name)
		}
		seen[idx.Name] = struct{}{}
	}
	for _, f := range s.Fields {
		if f.Name == "" || f.Value == nil {
			return fmt.Errorf("store: schema %s has an incomplete field", s.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("store: schema %s declares %q twice", s.Name, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

func (s Schema[T]) idColumn() string {
	if s.IDColumn == "" {
		return "id"
	}
	return s.IDColumn
}

func (s Schema[T]) clone(rec T) T {
	if s.Clone == nil {
		return rec
	}
	return s.Clone(rec)
}

func (s Schema[T]) index(name string) (Index[T], bool) {
	for _, idx := range s.Unique {
		if idx.Name == name {
			return idx, true
		}
	}
	return Index[T]{}, false
}

// column resolves a filter name to its SQL column.
func (s Schema[T]) column(name string) (string, bool) {
	if name == "id" {
		return s.idColumn(), true
	}
	for _, f := range s.Fields {
		if f.Name == name {
			return columnOr(f.Column, f.Name), true
		}
	}
	if idx, ok := s.index(name); ok {
		return columnOr(idx.Column, idx.Name), true
	}
	return "", false
}

// matches evaluates filter against rec in memory.
func (s Schema[T]) matches(rec T, filter Filter) (bool, error) {
	for name, want := range filter {
		got, err := s.value(rec, name)
		if err != nil {
			return false, err
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false, nil
		}
	}
	return true, nil
}

func (s Schema[T]) value(rec T, name string) (any, error) {
	if name == "id" {
		return s.ID(rec), nil
	}
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Value(rec), nil
		}
	}
	if idx, ok := s.index(name); ok {
		return idx.Key(rec), nil
	}
	return nil, fmt.Errorf("store: %s has no field %q", s.Name, name)
}

func (s Schema[T]) checkID(before string, after T) error {
	if s.ID(after) != before {
		return fmt.Errorf("store: %s patch changed the record id", s.Name)
	}
	return nil
}

func columnOr(column, fallback string) string {
	if column != "" {
		return column
	}
	return fallback
}

func errUnknownIndex(schema, index string) error {
	return fmt.Errorf("store: %s has no unique index %q", schema, index)
}

func conflict(schema, index string) error {
	return fmt.Errorf("%w: %s.%s", ErrConflict, schema, index)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}
