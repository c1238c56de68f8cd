// Package search executes structured queries against the catalog index.
package search

import "github.com/go-faster/jx"

// Query is a boolean match-clause tree, built by the caller and treated as
// opaque by the catalog service.
type Query struct {
	clauses []clause
}

type clause struct {
	kind   string
	field  string
	value  string
	values []string
	gte    string
	lte    string
}

// NewQuery returns an empty query matching everything.
func NewQuery() *Query {
	return &Query{}
}

// Match adds an exact-match clause on a single field.
func (q *Query) Match(field, value string) *Query {
	q.clauses = append(q.clauses, clause{kind: "match", field: field, value: value})
	return q
}

// Terms adds a clause matching any of the given values.
func (q *Query) Terms(field string, values []string) *Query {
	q.clauses = append(q.clauses, clause{kind: "terms", field: field, values: values})
	return q
}

// Range adds an inclusive bound clause. Empty bounds are omitted, so a
// one-sided range passes "" for the missing side.
func (q *Query) Range(field, gte, lte string) *Query {
	q.clauses = append(q.clauses, clause{kind: "range", field: field, gte: gte, lte: lte})
	return q
}

// Encode writes the query body. A single clause encodes directly; multiple
// clauses are wrapped into a bool/must conjunction.
func (q *Query) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("query")
	switch len(q.clauses) {
	case 0:
		e.ObjStart()
		e.FieldStart("match_all")
		e.ObjStart()
		e.ObjEnd()
		e.ObjEnd()
	case 1:
		q.clauses[0].encode(e)
	default:
		e.ObjStart()
		e.FieldStart("bool")
		e.ObjStart()
		e.FieldStart("must")
		e.ArrStart()
		for _, c := range q.clauses {
			c.encode(e)
		}
		e.ArrEnd()
		e.ObjEnd()
		e.ObjEnd()
	}
	e.ObjEnd()
}

func (c clause) encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart(c.kind)
	e.ObjStart()
	e.FieldStart(c.field)
	switch c.kind {
	case "terms":
		e.ArrStart()
		for _, v := range c.values {
			e.Str(v)
		}
		e.ArrEnd()
	case "range":
		e.ObjStart()
		if c.gte != "" {
			e.FieldStart("gte")
			e.Str(c.gte)
		}
		if c.lte != "" {
			e.FieldStart("lte")
			e.Str(c.lte)
		}
		e.ObjEnd()
	default:
		e.Str(c.value)
	}
	e.ObjEnd()
	e.ObjEnd()
	e.ObjEnd()
}

// Bytes returns the encoded query body.
func (q *Query) Bytes() []byte {
	e := &jx.Encoder{}
	q.Encode(e)
	return e.Bytes()
}
