package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
)

// Operator is a comparison or logical operator in a Condition.
type Operator string

// Operators.
const (
	OpAnd     Operator = "AND"
	OpOr      Operator = "OR"
	OpNot     Operator = "NOT"
	OpNil     Operator = "NIL"
	OpEq      Operator = "EQ"
	OpNe      Operator = "NE"
	OpGt      Operator = "GT"
	OpGte     Operator = "GTE"
	OpLt      Operator = "LT"
	OpLte     Operator = "LTE"
	OpLike    Operator = "LIKE"
	OpIn      Operator = "IN"
	OpBetween Operator = "BETWEEN"
)

var comparisons = map[Operator]string{
	OpEq:   "=",
	OpNe:   "<>",
	OpGt:   ">",
	OpGte:  ">=",
	OpLt:   "<",
	OpLte:  "<=",
	OpLike: "LIKE",
}

// Condition is one node of a query filter: a comparison on a property, or
// a logical combination of child conditions.
//
//	persistence.Field("age").Gt(18).And(persistence.Field("lastName").Like("S%"))
type Condition struct {
	Property string
	Operator Operator
	Value    any
	Children []*Condition
}

// Field starts a condition on a logical property name.
func Field(property string) *Condition {
	return &Condition{Property: property}
}

// And combines this condition with others using AND.
func (c *Condition) And(conditions ...*Condition) *Condition {
	return &Condition{Operator: OpAnd, Children: append([]*Condition{c}, conditions...)}
}

// Or combines this condition with others using OR.
func (c *Condition) Or(conditions ...*Condition) *Condition {
	return &Condition{Operator: OpOr, Children: append([]*Condition{c}, conditions...)}
}

// Not negates this condition.
func (c *Condition) Not() *Condition {
	return &Condition{Operator: OpNot, Children: []*Condition{c}}
}

// IsNull matches a NULL property.
func (c *Condition) IsNull() *Condition {
	c.Operator, c.Value = OpNil, nil
	return c
}

// Eq matches property = v. v may be a Param or a *Subquery.
func (c *Condition) Eq(v any) *Condition { return c.set(OpEq, v) }

// Ne matches property <> v.
func (c *Condition) Ne(v any) *Condition { return c.set(OpNe, v) }

// Gt matches property > v.
func (c *Condition) Gt(v any) *Condition { return c.set(OpGt, v) }

// Gte matches property >= v.
func (c *Condition) Gte(v any) *Condition { return c.set(OpGte, v) }

// Lt matches property < v.
func (c *Condition) Lt(v any) *Condition { return c.set(OpLt, v) }

// Lte matches property <= v.
func (c *Condition) Lte(v any) *Condition { return c.set(OpLte, v) }

// Like matches an SQL LIKE pattern.
func (c *Condition) Like(pattern any) *Condition { return c.set(OpLike, pattern) }

// In matches any of the values. An empty list matches nothing.
func (c *Condition) In(values ...any) *Condition { return c.set(OpIn, values) }

// Between matches lo <= property <= hi.
func (c *Condition) Between(lo, hi any) *Condition { return c.set(OpBetween, []any{lo, hi}) }

func (c *Condition) set(op Operator, v any) *Condition {
	c.Operator, c.Value = op, v
	return c
}

func (c *Condition) clone() *Condition {
	if c == nil {
		return nil
	}
	out := *c
	if vs, ok := c.Value.([]any); ok {
		out.Value = slices.Clone(vs)
	}
	if sq, ok := c.Value.(*Subquery); ok {
		cp := *sq
		cp.Query = sq.Query.clone()
		out.Value = &cp
	}
	out.Children = make([]*Condition, len(c.Children))
	for i, child := range c.Children {
		out.Children[i] = child.clone()
	}
	return &out
}

// Param is a named placeholder bound with Query.Bind before execution.
type Param string

// Aggregate is an SQL aggregate function.
type Aggregate string

// Aggregates.
const (
	AggCount Aggregate = "COUNT"
	AggAvg   Aggregate = "AVG"
	AggSum   Aggregate = "SUM"
	AggMin   Aggregate = "MIN"
	AggMax   Aggregate = "MAX"
)

// Subquery is a scalar aggregate over another query, usable as a
// comparison operand.
type Subquery struct {
	Query     *Query
	Aggregate Aggregate
	Property  string
}

// Order is one ORDER BY term.
type Order struct {
	Property string
	Desc     bool
}

// Query selects entities of one type.
type Query struct {
	Entity  string
	Where   *Condition
	OrderBy []Order
	Limit   int
	Offset  int

	params map[string]any
}

// From starts a query over the named entity.
func From(entity string) *Query {
	return &Query{Entity: entity}
}

// Filter adds a condition, ANDed with any existing one.
func (q *Query) Filter(c *Condition) *Query {
	if q.Where == nil {
		q.Where = c
	} else {
		q.Where = q.Where.And(c)
	}
	return q
}

// Asc orders by property ascending.
func (q *Query) Asc(property string) *Query {
	q.OrderBy = append(q.OrderBy, Order{Property: property})
	return q
}

// Desc orders by property descending.
func (q *Query) Desc(property string) *Query {
	q.OrderBy = append(q.OrderBy, Order{Property: property, Desc: true})
	return q
}

// Page restricts the result to one page; pages are numbered from zero.
func (q *Query) Page(page, size int) *Query {
	q.Limit, q.Offset = size, page*size
	return q
}

// Bind sets the value of a Param.
func (q *Query) Bind(name string, v any) *Query {
	if q.params == nil {
		q.params = make(map[string]any)
	}
	q.params[name] = v
	return q
}

// Scalar makes a subquery computing agg over property for this query's rows.
func (q *Query) Scalar(agg Aggregate, property string) *Subquery {
	return &Subquery{Query: q, Aggregate: agg, Property: property}
}

func (q *Query) clone() *Query {
	out := *q
	out.Where = q.Where.clone()
	out.OrderBy = slices.Clone(q.OrderBy)
	out.params = maps.Clone(q.params)
	return &out
}

// compiler turns a Query into SQL for one factory.
type compiler struct {
	factory *Factory
	params  map[string]any
	args    []any
}

func (c *compiler) where(schema *Schema, q *Query) (string, error) {
	if q.Where == nil {
		return "", nil
	}
	clause, err := c.condition(schema, q.Where)
	if err != nil {
		return "", err
	}
	return " WHERE " + clause, nil
}

func (c *compiler) condition(schema *Schema, cond *Condition) (string, error) {
	if len(cond.Children) > 0 {
		parts := make([]string, 0, len(cond.Children))
		for _, child := range cond.Children {
			p, err := c.condition(schema, child)
			if err != nil {
				return "", err
			}
			parts = append(parts, p)
		}
		switch cond.Operator {
		case OpOr:
			return "(" + strings.Join(parts, " OR ") + ")", nil
		case OpNot:
			return "NOT (" + strings.Join(parts, " AND ") + ")", nil
		default:
			return "(" + strings.Join(parts, " AND ") + ")", nil
		}
	}

	col, err := schema.Column(cond.Property)
	if err != nil {
		return "", err
	}

	switch cond.Operator {
	case OpNil:
		return col + " IS NULL", nil
	case OpIn:
		values, _ := cond.Value.([]any)
		if len(values) == 0 {
			return "1 = 0", nil
		}
		marks := make([]string, len(values))
		for i, v := range values {
			m, err := c.operand(v)
			if err != nil {
				return "", err
			}
			marks[i] = m
		}
		return fmt.Sprintf("%s IN (%s)", col, strings.Join(marks, ", ")), nil
	case OpBetween:
		bounds, _ := cond.Value.([]any)
		if len(bounds) != 2 {
			return "", fmt.Errorf("between on %s needs two bounds", cond.Property)
		}
		lo, err := c.operand(bounds[0])
		if err != nil {
			return "", err
		}
		hi, err := c.operand(bounds[1])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", col, lo, hi), nil
	}

	sqlOp, ok := comparisons[cond.Operator]
	if !ok {
		return "", fmt.Errorf("condition on %s has no operator", cond.Property)
	}
	operand, err := c.operand(cond.Value)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %s", col, sqlOp, operand), nil
}

// operand renders a value as a placeholder or a parenthesised subquery.
func (c *compiler) operand(v any) (string, error) {
	switch x := v.(type) {
	case Param:
		bound, ok := c.params[string(x)]
		if !ok {
			return "", fmt.Errorf("parameter %q is not bound", string(x))
		}
		c.args = append(c.args, bound)
		return "?", nil
	case *Subquery:
		sub, err := c.aggregate(x.Query, x.Aggregate, x.Property)
		if err != nil {
			return "", err
		}
		return "(" + sub + ")", nil
	default:
		c.args = append(c.args, v)
		return "?", nil
	}
}

func (c *compiler) aggregate(q *Query, agg Aggregate, property string) (string, error) {
	schema, err := c.factory.Schema(q.Entity)
	if err != nil {
		return "", err
	}
	target := "*"
	if property != "" {
		if target, err = schema.Column(property); err != nil {
			return "", err
		}
	}
	where, err := c.where(schema, q)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT %s(%s) FROM %s%s", agg, target, schema.Table, where), nil
}

func (c *compiler) selectEntities(schema *Schema, q *Query) (string, error) {
	where, err := c.where(schema, q)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s%s", schema.selectList(""), schema.Table, where)

	order := q.OrderBy
	if len(order) == 0 {
		order = []Order{{Property: IDColumn}}
	}
	terms := make([]string, len(order))
	for i, o := range order {
		col, err := schema.Column(o.Property)
		if err != nil {
			return "", err
		}
		terms[i] = col
		if o.Desc {
			terms[i] += " DESC"
		}
	}
	b.WriteString(" ORDER BY " + strings.Join(terms, ", "))

	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
		if q.Offset > 0 {
			fmt.Fprintf(&b, " OFFSET %d", q.Offset)
		}
	}
	return b.String(), nil
}

// Select runs q and returns the matching entities in order. Rows whose key
// is tracked resolve to the tracked instance; entities removed in this
// session are left out. Unflushed changes are not visible to the store:
// flush first when the filter depends on them.
func (s *Session) Select(ctx context.Context, q *Query) ([]Entity, error) {
	if err := s.enter(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	schema, err := s.factory.Schema(q.Entity)
	if err != nil {
		return nil, err
	}
	c := &compiler{factory: s.factory, params: q.params}
	query, err := c.selectEntities(schema, q)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", q.Entity, err)
	}

	rows, err := s.query(ctx, s.conn, query, c.args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", q.Entity, err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		e, err := s.scanEntity(schema, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying %s: %w", q.Entity, err)
	}
	return s.live(out), nil
}

// Count returns the number of rows q matches, ignoring its paging.
func (s *Session) Count(ctx context.Context, q *Query) (int64, error) {
	v, err := s.Aggregate(ctx, q, AggCount, "")
	if err != nil {
		return 0, err
	}
	return int64(v.Float64), nil
}

// Aggregate computes agg over property for the rows q matches. The result
// is invalid when no row matched (except for COUNT).
func (s *Session) Aggregate(ctx context.Context, q *Query, agg Aggregate, property string) (sql.NullFloat64, error) {
	if err := s.enter(ctx); err != nil {
		return sql.NullFloat64{}, err
	}
	defer s.mu.Unlock()

	c := &compiler{factory: s.factory, params: q.params}
	query, err := c.aggregate(q, agg, property)
	if err != nil {
		return sql.NullFloat64{}, fmt.Errorf("aggregating %s: %w", q.Entity, err)
	}
	var v sql.NullFloat64
	if err := s.queryRow(ctx, s.conn, query, c.args...).Scan(&v); err != nil {
		return sql.NullFloat64{}, fmt.Errorf("aggregating %s: %w", q.Entity, err)
	}
	return v, nil
}

// Named returns a copy of a query registered with Factory.RegisterNamed.
func (s *Session) Named(name string) (*Query, error) {
	return s.factory.namedQuery(name)
}

// List runs q and returns the entities as T.
func List[T Entity](ctx context.Context, s *Session, q *Query) ([]T, error) {
	if q.Entity == "" {
		var zero T
		schema, err := s.factory.schemaOfType(reflect.TypeOf(zero))
		if err != nil {
			return nil, err
		}
		q.Entity = schema.Name
	}
	list, err := s.Select(ctx, q)
	if err != nil {
		return nil, err
	}
	return cast[T](list)
}
