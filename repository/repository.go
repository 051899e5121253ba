package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// Scope narrows a query.
type Scope func(*gorm.DB) *gorm.DB

// Repository is typed CRUD access to one entity.
type Repository[T any] interface {
	Get(ctx context.Context, id string) (*T, error)
	GetForUpdate(ctx context.Context, id string) (*T, error)
	First(ctx context.Context, scopes ...Scope) (*T, error)
	List(ctx context.Context, scopes ...Scope) ([]T, error)
	Count(ctx context.Context, scopes ...Scope) (int64, error)
	Insert(ctx context.Context, entity *T) error
	Update(ctx context.Context, entity *T) error
	Delete(ctx context.Context, entity *T) error
	WithTx(tx *gorm.DB) Repository[T]
}

// GormRepository implements Repository over a gorm handle.
type GormRepository[T any] struct {
	DB *gorm.DB
}

// New returns a repository for T.
func New[T any](db *gorm.DB) *GormRepository[T] {
	return &GormRepository[T]{DB: db}
}

func (r *GormRepository[T]) WithTx(tx *gorm.DB) Repository[T] {
	return &GormRepository[T]{DB: tx}
}

func (r *GormRepository[T]) Get(ctx context.Context, id string) (*T, error) {
	return r.First(ctx, Where("id = ?", id))
}

// GetForUpdate reads the row with a write lock. Only meaningful inside a transaction.
func (r *GormRepository[T]) GetForUpdate(ctx context.Context, id string) (*T, error) {
	return r.First(ctx, ForUpdate(), Where("id = ?", id))
}

func (r *GormRepository[T]) First(ctx context.Context, scopes ...Scope) (*T, error) {
	var entity T
	err := r.query(ctx, scopes).First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

func (r *GormRepository[T]) List(ctx context.Context, scopes ...Scope) ([]T, error) {
	var out []T
	if err := r.query(ctx, scopes).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *GormRepository[T]) Count(ctx context.Context, scopes ...Scope) (int64, error) {
	var n int64
	var entity T
	err := r.query(ctx, scopes).Model(&entity).Count(&n).Error
	return n, err
}

func (r *GormRepository[T]) Insert(ctx context.Context, entity *T) error {
	return r.DB.WithContext(ctx).Create(entity).Error
}

func (r *GormRepository[T]) Update(ctx context.Context, entity *T) error {
	return r.DB.WithContext(ctx).Save(entity).Error
}

func (r *GormRepository[T]) Delete(ctx context.Context, entity *T) error {
	return r.DB.WithContext(ctx).Delete(entity).Error
}

func (r *GormRepository[T]) query(ctx context.Context, scopes []Scope) *gorm.DB {
	q := r.DB.WithContext(ctx)
	for _, s := range scopes {
		q = s(q)
	}
	return q
}

// Where filters rows.
func Where(query any, args ...any) Scope {
	return func(db *gorm.DB) *gorm.DB { return db.Where(query, args...) }
}

// OrderBy sorts rows.
func OrderBy(order string) Scope {
	return func(db *gorm.DB) *gorm.DB { return db.Order(order) }
}

// Limit caps the row count.
func Limit(n int) Scope {
	return func(db *gorm.DB) *gorm.DB { return db.Limit(n) }
}

// Offset skips rows.
func Offset(n int) Scope {
	return func(db *gorm.DB) *gorm.DB { return db.Offset(n) }
}

// ForUpdate takes a row lock on dialects that support it.
func ForUpdate() Scope {
	return func(db *gorm.DB) *gorm.DB { return db.Clauses(clause.Locking{Strength: "UPDATE"}) }
}
