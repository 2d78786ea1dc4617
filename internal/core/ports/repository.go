package ports

import (
	"context"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
)

// Repository is the per-entity CRUD surface of the entity store. Field names
// in filters, orderings and updates are storage column names.
type Repository[T any] interface {
	Create(ctx context.Context, row T) (T, error)
	CreateMany(ctx context.Context, rows []T) error
	FindUnique(ctx context.Context, where domain.Where) (T, error)
	FindMany(ctx context.Context, q domain.Query) ([]T, error)
	Update(ctx context.Context, where domain.Where, set map[string]any) (T, error)
	UpdateMany(ctx context.Context, where domain.Where, set map[string]any) (int64, error)
	Upsert(ctx context.Context, row T, conflict []string, update []string) (T, error)
	Delete(ctx context.Context, where domain.Where) (bool, error)
	DeleteMany(ctx context.Context, where domain.Where) (int64, error)
	Count(ctx context.Context, where domain.Where) (int64, error)
	GroupBy(ctx context.Context, by []string, where domain.Where) ([]domain.Group, error)
	Aggregate(ctx context.Context, field string, where domain.Where) (domain.Aggregate, error)
}

// Tx exposes every repository bound to one transaction.
type Tx interface {
	Themes() Repository[domain.Theme]
	ThemeVersions() Repository[domain.ThemeVersion]
	Stores() Repository[domain.Store]
	StoreStates() Repository[domain.StoreState]
	ComponentStates() Repository[domain.ComponentState]
	PageCompositions() Repository[domain.PageComposition]
	DataEntities() Repository[domain.DataEntity]
	Collections() Repository[domain.Collection]
	CollectionItems() Repository[domain.CollectionItem]
	DataBindings() Repository[domain.DataBinding]
	Snapshots() Repository[domain.Snapshot]

	// Record appends audit and outbox rows for change inside the transaction.
	Record(ctx context.Context, change domain.Change, meta domain.MutationMetadata) error
}

// EntityStore runs units of work. A WriteTx that returns an error is rolled
// back in full.
type EntityStore interface {
	ReadTx(ctx context.Context, fn func(tx Tx) error) error
	WriteTx(ctx context.Context, fn func(tx Tx) error) error
}
