package domain

import (
	"fmt"
	"regexp"
)

// Comparison operators understood by every repository.
const (
	OpEq  = "eq"
	OpNe  = "ne"
	OpIn  = "in"
	OpGt  = "gt"
	OpGte = "gte"
	OpLt  = "lt"
	OpLte = "lte"
)

var fieldPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Cond is a single column predicate. A nil Value with OpEq matches NULL.
type Cond struct {
	Field string
	Op    string
	Value any
}

func Eq(field string, value any) Cond { return Cond{Field: field, Op: OpEq, Value: value} }
func Ne(field string, value any) Cond { return Cond{Field: field, Op: OpNe, Value: value} }
func Gt(field string, value any) Cond { return Cond{Field: field, Op: OpGt, Value: value} }
func In(field string, values ...any) Cond { return Cond{Field: field, Op: OpIn, Value: values} }

// Where is a conjunction of conditions.
type Where []Cond

func (w Where) Validate() error {
	for _, c := range w {
		if !fieldPattern.MatchString(c.Field) {
			return fmt.Errorf("field %q: %w", c.Field, ErrInvalidFilter)
		}
		switch c.Op {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		case OpIn:
			if _, ok := c.Value.([]any); !ok {
				return fmt.Errorf("field %q: in needs a value list: %w", c.Field, ErrInvalidFilter)
			}
		default:
			return fmt.Errorf("operator %q: %w", c.Op, ErrInvalidFilter)
		}
	}
	return nil
}

type Order struct {
	Field string
	Desc  bool
}

func Asc(field string) Order { return Order{Field: field} }
func Desc(field string) Order { return Order{Field: field, Desc: true} }

// Cursor resumes a listing after the row whose Field equals Value. The
// direction follows the matching Order entry, ascending when absent.
type Cursor struct {
	Field string
	Value any
}

type Query struct {
	Where   Where
	OrderBy []Order
	Cursor  *Cursor
	Take    int
	Skip    int
}

func (q Query) Validate() error {
	if err := q.Where.Validate(); err != nil {
		return err
	}
	for _, o := range q.OrderBy {
		if !fieldPattern.MatchString(o.Field) {
			return fmt.Errorf("order field %q: %w", o.Field, ErrInvalidFilter)
		}
	}
	if q.Cursor != nil && !fieldPattern.MatchString(q.Cursor.Field) {
		return fmt.Errorf("cursor field %q: %w", q.Cursor.Field, ErrInvalidFilter)
	}
	if q.Take < 0 || q.Skip < 0 {
		return fmt.Errorf("take and skip must not be negative: %w", ErrInvalidFilter)
	}
	return nil
}

// Group is one row of a GroupBy result keyed by the grouped columns.
type Group struct {
	Keys  map[string]any
	Count int64
}

// Aggregate summarizes a numeric column over the matching rows. Min, Max and
// Sum are zero when Count is zero.
type Aggregate struct {
	Count int64
	Min   float64
	Max   float64
	Sum   float64
}
