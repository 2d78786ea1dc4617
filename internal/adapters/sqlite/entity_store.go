package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/atvirokodosprendimai/storefront/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
	"github.com/atvirokodosprendimai/storefront/internal/core/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// EntityStore implements ports.EntityStore on top of the split reader/writer
// pools of gormsqlite.
type EntityStore struct {
	db    *gormsqlite.DB
	metas entityMetas
}

type entityMetas struct {
	themes, versions, stores, states, components, pages *tableMeta
	entities, collections, items, bindings, snapshots    *tableMeta
}

var _ ports.EntityStore = (*EntityStore)(nil)

func NewEntityStore(db *gormsqlite.DB) (*EntityStore, error) {
	naming := db.W.NamingStrategy
	var metas entityMetas
	for _, tbl := range []struct {
		dst   **tableMeta
		model any
	}{
		{&metas.themes, &themeModel{}},
		{&metas.versions, &themeVersionModel{}},
		{&metas.stores, &storeModel{}},
		{&metas.states, &storeStateModel{}},
		{&metas.components, &componentStateModel{}},
		{&metas.pages, &pageCompositionModel{}},
		{&metas.entities, &dataEntityModel{}},
		{&metas.collections, &collectionModel{}},
		{&metas.items, &collectionItemModel{}},
		{&metas.bindings, &dataBindingModel{}},
		{&metas.snapshots, &snapshotModel{}},
	} {
		meta, err := newTableMeta(tbl.model, naming)
		if err != nil {
			return nil, err
		}
		*tbl.dst = meta
	}
	return &EntityStore{db: db, metas: metas}, nil
}

func (s *EntityStore) ReadTx(ctx context.Context, fn func(tx ports.Tx) error) error {
	return s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return fn(&gormTx{db: tx.DB, metas: &s.metas})
	})
}

func (s *EntityStore) WriteTx(ctx context.Context, fn func(tx ports.Tx) error) error {
	return s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return fn(&gormTx{db: tx.DB, metas: &s.metas})
	})
}

type gormTx struct {
	db    *gorm.DB
	metas *entityMetas
}

func (t *gormTx) Themes() ports.Repository[domain.Theme] {
	return &table[domain.Theme, themeModel]{db: t.db, meta: t.metas.themes, toModel: themeToModel, toDomain: themeToDomain}
}

func (t *gormTx) ThemeVersions() ports.Repository[domain.ThemeVersion] {
	return &table[domain.ThemeVersion, themeVersionModel]{db: t.db, meta: t.metas.versions, toModel: themeVersionToModel, toDomain: themeVersionToDomain}
}

func (t *gormTx) Stores() ports.Repository[domain.Store] {
	return &table[domain.Store, storeModel]{db: t.db, meta: t.metas.stores, toModel: storeToModel, toDomain: storeToDomain}
}

func (t *gormTx) StoreStates() ports.Repository[domain.StoreState] {
	return &table[domain.StoreState, storeStateModel]{db: t.db, meta: t.metas.states, toModel: storeStateToModel, toDomain: storeStateToDomain}
}

func (t *gormTx) ComponentStates() ports.Repository[domain.ComponentState] {
	return &table[domain.ComponentState, componentStateModel]{db: t.db, meta: t.metas.components, toModel: componentToModel, toDomain: componentToDomain}
}

func (t *gormTx) PageCompositions() ports.Repository[domain.PageComposition] {
	return &table[domain.PageComposition, pageCompositionModel]{db: t.db, meta: t.metas.pages, toModel: pageToModel, toDomain: pageToDomain}
}

func (t *gormTx) DataEntities() ports.Repository[domain.DataEntity] {
	return &table[domain.DataEntity, dataEntityModel]{db: t.db, meta: t.metas.entities, toModel: entityToModel, toDomain: entityToDomain}
}

func (t *gormTx) Collections() ports.Repository[domain.Collection] {
	return &table[domain.Collection, collectionModel]{db: t.db, meta: t.metas.collections, toModel: collectionToModel, toDomain: collectionToDomain}
}

func (t *gormTx) CollectionItems() ports.Repository[domain.CollectionItem] {
	return &table[domain.CollectionItem, collectionItemModel]{db: t.db, meta: t.metas.items, toModel: itemToModel, toDomain: itemToDomain}
}

func (t *gormTx) DataBindings() ports.Repository[domain.DataBinding] {
	return &table[domain.DataBinding, dataBindingModel]{db: t.db, meta: t.metas.bindings, toModel: bindingToModel, toDomain: bindingToDomain}
}

func (t *gormTx) Snapshots() ports.Repository[domain.Snapshot] {
	return &table[domain.Snapshot, snapshotModel]{db: t.db, meta: t.metas.snapshots, toModel: snapshotToModel, toDomain: snapshotToDomain}
}

func (t *gormTx) Record(ctx context.Context, change domain.Change, meta domain.MutationMetadata) error {
	return recordChange(t.db.WithContext(ctx), change, meta)
}

// tableMeta is the parsed gorm schema of one model. Its column set is the
// whitelist for every field name that reaches SQL.
type tableMeta struct {
	name    string
	schema  *schema.Schema
	columns map[string]struct{}
}

func newTableMeta(model any, naming schema.Namer) (*tableMeta, error) {
	s, err := schema.Parse(model, &sync.Map{}, naming)
	if err != nil {
		return nil, fmt.Errorf("parse model %T: %w", model, err)
	}
	cols := make(map[string]struct{}, len(s.DBNames))
	for _, name := range s.DBNames {
		cols[name] = struct{}{}
	}
	return &tableMeta{name: s.Table, schema: s, columns: cols}, nil
}

func (m *tableMeta) column(field string) (clause.Column, error) {
	if _, ok := m.columns[field]; !ok {
		return clause.Column{}, fmt.Errorf("%s has no column %q: %w", m.name, field, domain.ErrInvalidFilter)
	}
	return clause.Column{Table: clause.CurrentTable, Name: field}, nil
}

func (m *tableMeta) conditions(where domain.Where) ([]clause.Expression, error) {
	if err := where.Validate(); err != nil {
		return nil, err
	}
	exprs := make([]clause.Expression, 0, len(where))
	for _, c := range where {
		col, err := m.column(c.Field)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, condition(col, c.Op, c.Value))
	}
	return exprs, nil
}

func condition(col clause.Column, op string, value any) clause.Expression {
	value = columnValue(value)
	switch op {
	case domain.OpNe:
		return clause.Neq{Column: col, Value: value}
	case domain.OpIn:
		values, _ := value.([]any)
		converted := make([]any, len(values))
		for i, v := range values {
			converted[i] = columnValue(v)
		}
		return clause.IN{Column: col, Values: converted}
	case domain.OpGt:
		return clause.Gt{Column: col, Value: value}
	case domain.OpGte:
		return clause.Gte{Column: col, Value: value}
	case domain.OpLt:
		return clause.Lt{Column: col, Value: value}
	case domain.OpLte:
		return clause.Lte{Column: col, Value: value}
	default:
		return clause.Eq{Column: col, Value: value}
	}
}

func (m *tableMeta) assignments(set map[string]any) (map[string]any, error) {
	if len(set) == 0 {
		return nil, fmt.Errorf("%s update needs at least one column: %w", m.name, domain.ErrInvalidInput)
	}
	out := make(map[string]any, len(set))
	for field, value := range set {
		if _, err := m.column(field); err != nil {
			return nil, err
		}
		if m.schema.PrioritizedPrimaryField != nil && field == m.schema.PrioritizedPrimaryField.DBName {
			return nil, fmt.Errorf("%s primary key is immutable: %w", m.name, domain.ErrInvalidInput)
		}
		out[field] = columnValue(value)
	}
	return out, nil
}

// fieldValue reads column col from a model pointer, dereferencing nullable
// fields so the result can be compared with Eq.
func (m *tableMeta) fieldValue(ctx context.Context, model any, col string) (any, error) {
	field := m.schema.LookUpField(col)
	if field == nil {
		return nil, fmt.Errorf("%s has no column %q: %w", m.name, col, domain.ErrInvalidFilter)
	}
	v, _ := field.ValueOf(ctx, reflect.ValueOf(model).Elem())
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		return rv.Elem().Interface(), nil
	}
	return v, nil
}

func columnValue(v any) any {
	switch x := v.(type) {
	case json.RawMessage:
		if x == nil {
			return nil
		}
		return string(x)
	default:
		return v
	}
}

// table is the gorm backed Repository for domain type D persisted as model M.
type table[D any, M any] struct {
	db       *gorm.DB
	meta     *tableMeta
	toModel  func(D) M
	toDomain func(M) D
}

func (t *table[D, M]) scoped(ctx context.Context, where domain.Where) (*gorm.DB, error) {
	exprs, err := t.meta.conditions(where)
	if err != nil {
		return nil, err
	}
	q := t.db.WithContext(ctx).Model(new(M))
	if len(exprs) > 0 {
		q = q.Clauses(clause.Where{Exprs: exprs})
	}
	return q, nil
}

// filtered is scoped for statements that must never touch the whole table.
func (t *table[D, M]) filtered(ctx context.Context, where domain.Where) (*gorm.DB, error) {
	if len(where) == 0 {
		return nil, fmt.Errorf("%s: an empty filter would match every row: %w", t.meta.name, domain.ErrInvalidFilter)
	}
	return t.scoped(ctx, where)
}

func (t *table[D, M]) Create(ctx context.Context, row D) (D, error) {
	m := t.toModel(row)
	if err := t.db.WithContext(ctx).Create(&m).Error; err != nil {
		var zero D
		return zero, translateError("create "+t.meta.name, err)
	}
	return t.toDomain(m), nil
}

func (t *table[D, M]) CreateMany(ctx context.Context, rows []D) error {
	if len(rows) == 0 {
		return nil
	}
	models := make([]M, 0, len(rows))
	for _, row := range rows {
		models = append(models, t.toModel(row))
	}
	if err := t.db.WithContext(ctx).CreateInBatches(&models, 100).Error; err != nil {
		return translateError("create many "+t.meta.name, err)
	}
	return nil
}

func (t *table[D, M]) FindUnique(ctx context.Context, where domain.Where) (D, error) {
	var zero D
	q, err := t.filtered(ctx, where)
	if err != nil {
		return zero, err
	}
	var m M
	if err := q.Take(&m).Error; err != nil {
		return zero, translateError("find "+t.meta.name, err)
	}
	return t.toDomain(m), nil
}

func (t *table[D, M]) FindMany(ctx context.Context, query domain.Query) ([]D, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	q, err := t.scoped(ctx, query.Where)
	if err != nil {
		return nil, err
	}
	for _, o := range query.OrderBy {
		col, err := t.meta.column(o.Field)
		if err != nil {
			return nil, err
		}
		q = q.Order(clause.OrderByColumn{Column: col, Desc: o.Desc})
	}
	if query.Cursor != nil {
		col, err := t.meta.column(query.Cursor.Field)
		if err != nil {
			return nil, err
		}
		desc := false
		for _, o := range query.OrderBy {
			if o.Field == query.Cursor.Field {
				desc = o.Desc
			}
		}
		op := domain.OpGt
		if desc {
			op = domain.OpLt
		}
		q = q.Where(condition(col, op, query.Cursor.Value))
	}
	if query.Take > 0 {
		q = q.Limit(query.Take)
	}
	if query.Skip > 0 {
		q = q.Offset(query.Skip)
	}

	var models []M
	if err := q.Find(&models).Error; err != nil {
		return nil, translateError("list "+t.meta.name, err)
	}
	out := make([]D, 0, len(models))
	for _, m := range models {
		out = append(out, t.toDomain(m))
	}
	return out, nil
}

func (t *table[D, M]) Update(ctx context.Context, where domain.Where, set map[string]any) (D, error) {
	var zero D
	q, err := t.filtered(ctx, where)
	if err != nil {
		return zero, err
	}
	values, err := t.meta.assignments(set)
	if err != nil {
		return zero, err
	}
	var current M
	if err := q.Take(&current).Error; err != nil {
		return zero, translateError("update "+t.meta.name, err)
	}
	byKey, err := t.primaryKeyWhere(ctx, &current)
	if err != nil {
		return zero, err
	}
	if err := t.db.WithContext(ctx).Model(new(M)).Where(byKey).Updates(values).Error; err != nil {
		return zero, translateError("update "+t.meta.name, err)
	}
	var updated M
	if err := t.db.WithContext(ctx).Where(byKey).Take(&updated).Error; err != nil {
		return zero, translateError("reload "+t.meta.name, err)
	}
	return t.toDomain(updated), nil
}

func (t *table[D, M]) UpdateMany(ctx context.Context, where domain.Where, set map[string]any) (int64, error) {
	q, err := t.filtered(ctx, where)
	if err != nil {
		return 0, err
	}
	values, err := t.meta.assignments(set)
	if err != nil {
		return 0, err
	}
	res := q.Updates(values)
	if res.Error != nil {
		return 0, translateError("update many "+t.meta.name, res.Error)
	}
	return res.RowsAffected, nil
}

// Upsert inserts row or, when it collides on the conflict columns, updates
// the listed columns of the existing row. An empty update list keeps the
// existing row. The stored row is returned either way.
func (t *table[D, M]) Upsert(ctx context.Context, row D, conflict []string, update []string) (D, error) {
	var zero D
	if len(conflict) == 0 {
		return zero, fmt.Errorf("%s upsert needs conflict columns: %w", t.meta.name, domain.ErrInvalidInput)
	}
	onConflict := clause.OnConflict{}
	for _, name := range conflict {
		col, err := t.meta.column(name)
		if err != nil {
			return zero, err
		}
		onConflict.Columns = append(onConflict.Columns, clause.Column{Name: col.Name})
	}
	for _, name := range update {
		if _, err := t.meta.column(name); err != nil {
			return zero, err
		}
	}
	if len(update) == 0 {
		onConflict.DoNothing = true
	} else {
		onConflict.DoUpdates = clause.AssignmentColumns(update)
	}

	m := t.toModel(row)
	if err := t.db.WithContext(ctx).Clauses(onConflict).Create(&m).Error; err != nil {
		return zero, translateError("upsert "+t.meta.name, err)
	}

	where := make(domain.Where, 0, len(conflict))
	for _, name := range conflict {
		v, err := t.meta.fieldValue(ctx, &m, name)
		if err != nil {
			return zero, err
		}
		where = append(where, domain.Eq(name, v))
	}
	return t.FindUnique(ctx, where)
}

func (t *table[D, M]) Delete(ctx context.Context, where domain.Where) (bool, error) {
	n, err := t.DeleteMany(ctx, where)
	return n > 0, err
}

func (t *table[D, M]) DeleteMany(ctx context.Context, where domain.Where) (int64, error) {
	q, err := t.filtered(ctx, where)
	if err != nil {
		return 0, err
	}
	res := q.Delete(new(M))
	if res.Error != nil {
		return 0, translateError("delete "+t.meta.name, res.Error)
	}
	return res.RowsAffected, nil
}

func (t *table[D, M]) Count(ctx context.Context, where domain.Where) (int64, error) {
	q, err := t.scoped(ctx, where)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, translateError("count "+t.meta.name, err)
	}
	return n, nil
}

func (t *table[D, M]) GroupBy(ctx context.Context, by []string, where domain.Where) ([]domain.Group, error) {
	if len(by) == 0 {
		return nil, fmt.Errorf("%s group by needs columns: %w", t.meta.name, domain.ErrInvalidFilter)
	}
	for _, name := range by {
		if _, err := t.meta.column(name); err != nil {
			return nil, err
		}
	}
	q, err := t.scoped(ctx, where)
	if err != nil {
		return nil, err
	}
	cols := strings.Join(by, ", ")
	var rows []map[string]any
	if err := q.Select(cols + ", COUNT(*) AS count").Group(cols).Order(cols).Find(&rows).Error; err != nil {
		return nil, translateError("group "+t.meta.name, err)
	}
	out := make([]domain.Group, 0, len(rows))
	for _, row := range rows {
		g := domain.Group{Keys: make(map[string]any, len(by)), Count: toInt64(row["count"])}
		for _, name := range by {
			g.Keys[name] = row[name]
		}
		out = append(out, g)
	}
	return out, nil
}

func (t *table[D, M]) Aggregate(ctx context.Context, field string, where domain.Where) (domain.Aggregate, error) {
	col, err := t.meta.column(field)
	if err != nil {
		return domain.Aggregate{}, err
	}
	q, err := t.scoped(ctx, where)
	if err != nil {
		return domain.Aggregate{}, err
	}
	var agg aggregateRow
	sel := fmt.Sprintf("COUNT(*) AS count, COALESCE(MIN(%[1]s), 0) AS min, COALESCE(MAX(%[1]s), 0) AS max, COALESCE(SUM(%[1]s), 0) AS sum", col.Name)
	if err := q.Select(sel).Scan(&agg).Error; err != nil {
		return domain.Aggregate{}, translateError("aggregate "+t.meta.name, err)
	}
	return domain.Aggregate{Count: agg.Count, Min: agg.Min, Max: agg.Max, Sum: agg.Sum}, nil
}

type aggregateRow struct {
	Count int64
	Min   float64
	Max   float64
	Sum   float64
}

func (t *table[D, M]) primaryKeyWhere(ctx context.Context, m *M) (clause.Eq, error) {
	pk := t.meta.schema.PrioritizedPrimaryField
	if pk == nil {
		return clause.Eq{}, fmt.Errorf("%s has no primary key", t.meta.name)
	}
	v, err := t.meta.fieldValue(ctx, m, pk.DBName)
	if err != nil {
		return clause.Eq{}, err
	}
	return clause.Eq{Column: clause.Column{Table: clause.CurrentTable, Name: pk.DBName}, Value: v}, nil
}

// translateError maps driver and gorm errors onto the domain taxonomy.
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey), strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%s: %w: %s", op, domain.ErrDuplicateKey, msg)
	case errors.Is(err, gorm.ErrForeignKeyViolated),
		strings.Contains(msg, "FOREIGN KEY constraint failed"),
		strings.Contains(msg, "CHECK constraint failed"):
		return fmt.Errorf("%s: %w: %s", op, domain.ErrIntegrityViolation, msg)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	case []byte:
		var out int64
		_, _ = fmt.Sscan(string(n), &out)
		return out
	default:
		return 0
	}
}
