package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Gorm is a Store backed by a SQL database. Unique keys are enforced by the database's unique
// indexes; updates run in a transaction that locks the target row.
type Gorm[T any] struct {
	db     *gorm.DB
	schema Schema[T]
}

// NewGorm constructs a SQL-backed store. The table for T must already be migrated.
func NewGorm[T any](db *gorm.DB, schema Schema[T]) (*Gorm[T], error) {
	if db == nil {
		return nil, errors.New("store: db is required")
	}
	if err := schema.validate(); err != nil {
		return nil, err
	}
	return &Gorm[T]{db: db, schema: schema}, nil
}

func (s *Gorm[T]) Create(ctx context.Context, rec T) (T, error) {
	var zero T

	rec = s.schema.clone(rec)
	if s.schema.ID(rec) == "" {
		s.schema.SetID(&rec, uuid.NewString())
	}

	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueConstraintError(err) {
			return zero, conflict(s.schema.Name, constraintName(err))
		}
		return zero, storageErr("create "+s.schema.Name, err)
	}
	return rec, nil
}

func (s *Gorm[T]) Get(ctx context.Context, id string) (T, error) {
	return s.take(s.db.WithContext(ctx), s.schema.idColumn(), id, "get")
}

func (s *Gorm[T]) GetBy(ctx context.Context, index, value string) (T, error) {
	var zero T
	idx, ok := s.schema.index(index)
	if !ok {
		return zero, errUnknownIndex(s.schema.Name, index)
	}
	if value == "" {
		return zero, ErrNotFound
	}
	return s.take(s.db.WithContext(ctx), columnOr(idx.Column, idx.Name), value, "get by "+index)
}

func (s *Gorm[T]) GetMany(ctx context.Context, filter Filter) ([]T, error) {
	query := s.db.WithContext(ctx)
	for name, value := range filter {
		column, ok := s.schema.column(name)
		if !ok {
			return nil, fmt.Errorf("store: %s has no field %q", s.schema.Name, name)
		}
		query = query.Where(clause.Eq{Column: clause.Column{Name: column}, Value: value})
	}

	var out []T
	if err := query.Find(&out).Error; err != nil {
		return nil, storageErr("list "+s.schema.Name, err)
	}
	return out, nil
}

func (s *Gorm[T]) Update(ctx context.Context, id string, patch func(*T) error) (T, error) {
	var (
		zero     T
		next     T
		patchErr error
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.take(tx.Clauses(clause.Locking{Strength: "UPDATE"}), s.schema.idColumn(), id, "update")
		if err != nil {
			return err
		}

		next = s.schema.clone(current)
		if patchErr = patch(&next); patchErr != nil {
			return patchErr
		}
		if patchErr = s.schema.checkID(id, next); patchErr != nil {
			return patchErr
		}

		return tx.Save(&next).Error
	})

	switch {
	case err == nil:
		return next, nil
	case patchErr != nil:
		return zero, patchErr
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrStorage):
		return zero, err
	case isUniqueConstraintError(err):
		return zero, conflict(s.schema.Name, constraintName(err))
	default:
		return zero, storageErr("update "+s.schema.Name, err)
	}
}

func (s *Gorm[T]) Delete(ctx context.Context, id string) error {
	var model T
	result := s.db.WithContext(ctx).
		Where(clause.Eq{Column: clause.Column{Name: s.schema.idColumn()}, Value: id}).
		Delete(&model)
	if result.Error != nil {
		return storageErr("delete "+s.schema.Name, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Gorm[T]) take(db *gorm.DB, column, value, op string) (T, error) {
	var rec T
	err := db.Where(clause.Eq{Column: clause.Column{Name: column}, Value: value}).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		var zero T
		return zero, ErrNotFound
	}
	if err != nil {
		var zero T
		return zero, storageErr(op+" "+s.schema.Name, err)
	}
	return rec, nil
}

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique constraint") ||
		strings.Contains(lower, "duplicate")
}

// constraintName extracts a best-effort description of the violated constraint.
func constraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.ConstraintName != "" {
		return pgErr.ConstraintName
	}
	msg := err.Error()
	if i := strings.LastIndex(msg, "failed: "); i >= 0 {
		return msg[i+len("failed: "):]
	}
	return "unique"
}
