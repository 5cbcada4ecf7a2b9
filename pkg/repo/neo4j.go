package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

// Neo4jRepo is a generic Neo4j-backed repository.
type Neo4jRepo[T any, ID comparable] struct {
	driver     neo4j.DriverWithContext
	label      string
	idKey      string
	toMap      func(T) map[string]any
	fromRecord func(*neo4j.Record) (T, error)
	newSession func(ctx context.Context) runner // for testing
}

// Neo4jOption configures a Neo4jRepo.
type Neo4jOption[T any, ID comparable] func(*Neo4jRepo[T, ID])

// WithIDKey sets the property name used as the ID (default "id").
func WithIDKey[T any, ID comparable](key string) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) { r.idKey = key }
}

// NewNeo4jRepo creates a new Neo4j-backed repository.
func NewNeo4jRepo[T any, ID comparable](
	driver neo4j.DriverWithContext,
	label string,
	toMap func(T) map[string]any,
	fromRecord func(*neo4j.Record) (T, error),
	opts ...Neo4jOption[T, ID],
) *Neo4jRepo[T, ID] {
	r := &Neo4jRepo[T, ID]{
		driver:     driver,
		label:      label,
		idKey:      "id",
		toMap:      toMap,
		fromRecord: fromRecord,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Compile-time interface check.
var _ Repository[any, string] = (*Neo4jRepo[any, string])(nil)

// neo4jSessionAdapter adapts neo4j.SessionWithContext to the runner interface.
type neo4jSessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *neo4jSessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *neo4jSessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

func (r *Neo4jRepo[T, ID]) session(ctx context.Context) runner {
	if r.newSession != nil {
		return r.newSession(ctx)
	}
	return &neo4jSessionAdapter{sess: r.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

func (r *Neo4jRepo[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	var zero T
	sess := r.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) RETURN n", r.label, r.idKey)
	res, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return zero, err
	}
	if !res.Next(ctx) {
		return zero, fmt.Errorf("%w: %s", ErrNotFound, r.label)
	}
	return r.fromRecord(res.Record())
}

// whereClause translates ListOpts.Filters into a Cypher WHERE fragment and
// matching param map. Only operators with a direct Cypher equivalent are
// supported here; OpIn values are passed through as a list parameter.
func whereClause(filters []Filter) (string, map[string]any) {
	if len(filters) == 0 {
		return "", nil
	}
	clauses := make([]string, 0, len(filters))
	params := make(map[string]any, len(filters))
	for i, f := range filters {
		key := fmt.Sprintf("f%d", i)
		params[key] = f.Value
		switch f.Operator {
		case OpEq:
			clauses = append(clauses, fmt.Sprintf("n.%s = $%s", f.Field, key))
		case OpNeq:
			clauses = append(clauses, fmt.Sprintf("n.%s <> $%s", f.Field, key))
		case OpGt:
			clauses = append(clauses, fmt.Sprintf("n.%s > $%s", f.Field, key))
		case OpGte:
			clauses = append(clauses, fmt.Sprintf("n.%s >= $%s", f.Field, key))
		case OpLt:
			clauses = append(clauses, fmt.Sprintf("n.%s < $%s", f.Field, key))
		case OpLte:
			clauses = append(clauses, fmt.Sprintf("n.%s <= $%s", f.Field, key))
		case OpIn:
			clauses = append(clauses, fmt.Sprintf("n.%s IN $%s", f.Field, key))
		case OpExists:
			delete(params, key)
			clauses = append(clauses, fmt.Sprintf("n.%s IS NOT NULL", f.Field))
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), params
}

func orderClause(sorts []Sort) string {
	if len(sorts) == 0 {
		return ""
	}
	parts := make([]string, 0, len(sorts))
	for _, s := range sorts {
		dir := "ASC"
		if s.Dir == SortDesc {
			dir = "DESC"
		}
		parts = append(parts, fmt.Sprintf("n.%s %s", s.Field, dir))
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

func (r *Neo4jRepo[T, ID]) List(ctx context.Context, opts ListOpts) (ListResult[T], error) {
	sess := r.session(ctx)
	defer sess.Close(ctx)

	where, whereParams := whereClause(opts.Filters)

	countCypher := fmt.Sprintf("MATCH (n:%s)%s RETURN count(n) AS total", r.label, where)
	countRes, err := sess.Run(ctx, countCypher, whereParams)
	if err != nil {
		return ListResult[T]{}, err
	}
	total := 0
	if countRes.Next(ctx) {
		if v, ok := countRes.Record().Get("total"); ok {
			if n, ok := v.(int64); ok {
				total = int(n)
			}
		}
	}

	params := make(map[string]any, len(whereParams)+2)
	for k, v := range whereParams {
		params[k] = v
	}
	params["offset"] = opts.Offset
	params["limit"] = opts.limit()

	cypher := fmt.Sprintf("MATCH (n:%s)%s RETURN n%s SKIP $offset LIMIT $limit", r.label, where, orderClause(opts.Sort))
	res, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return ListResult[T]{}, err
	}

	var items []T
	for res.Next(ctx) {
		item, err := r.fromRecord(res.Record())
		if err != nil {
			return ListResult[T]{}, err
		}
		items = append(items, item)
	}
	return ListResult[T]{Items: items, Total: total}, nil
}

func (r *Neo4jRepo[T, ID]) Create(ctx context.Context, entity T) (T, error) {
	var zero T
	sess := r.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("CREATE (n:%s $props) RETURN n", r.label)
	res, err := sess.Run(ctx, cypher, map[string]any{"props": r.toMap(entity)})
	if err != nil {
		return zero, err
	}
	if !res.Next(ctx) {
		return zero, fmt.Errorf("repo: failed to create %s", r.label)
	}
	return r.fromRecord(res.Record())
}

func (r *Neo4jRepo[T, ID]) Update(ctx context.Context, entity T) (T, error) {
	var zero T
	sess := r.session(ctx)
	defer sess.Close(ctx)

	props := r.toMap(entity)
	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) SET n += $props RETURN n", r.label, r.idKey)
	res, err := sess.Run(ctx, cypher, map[string]any{"id": props[r.idKey], "props": props})
	if err != nil {
		return zero, err
	}
	if !res.Next(ctx) {
		return zero, fmt.Errorf("%w: %s", ErrNotFound, r.label)
	}
	return r.fromRecord(res.Record())
}

func (r *Neo4jRepo[T, ID]) Delete(ctx context.Context, id ID) error {
	sess := r.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) DELETE n", r.label, r.idKey)
	_, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	return err
}
