package filter

import (
	"strings"
)

// propertiesColumn is the JSON column the compiled predicate reads.
// The tile scan query joins activities, so the qualified name is safe
// in every query the store issues.
const propertiesColumn = "activities.properties"

// SQL compiles the filter to a predicate clause and its bound
// arguments. An empty filter compiles to a clause that is always
// true.
//
// Missing keys and mixed-type comparisons evaluate to false, which
// the generated SQL guarantees by guarding every comparison with a
// type check and using IS for boolean tests so NOT composes without
// NULL leakage.
func (f *Filter) SQL() (string, []any) {
	if f == nil || f.root == nil {
		return "1", nil
	}
	b := &sqlBuilder{}
	f.root.compile(b)
	return b.sql.String(), b.args
}

type sqlBuilder struct {
	sql  strings.Builder
	args []any
}

func (b *sqlBuilder) write(s string)   { b.sql.WriteString(s) }
func (b *sqlBuilder) bind(arg any)     { b.args = append(b.args, arg) }
func (b *sqlBuilder) extract(key string) {
	b.write(propertiesColumn + " ->> ?")
	b.bind(jsonPath(key))
}
func (b *sqlBuilder) jsonType(key string) {
	b.write("json_type(" + propertiesColumn + ", ?)")
	b.bind(jsonPath(key))
}

// jsonPath quotes a property key as a JSON path expression.
func jsonPath(key string) string {
	escaped := strings.ReplaceAll(key, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `$."` + escaped + `"`
}

func (n *orNode) compile(b *sqlBuilder) {
	b.write("(")
	for i, term := range n.terms {
		if i > 0 {
			b.write(" OR ")
		}
		term.compile(b)
	}
	b.write(")")
}

func (n *andNode) compile(b *sqlBuilder) {
	b.write("(")
	for i, term := range n.terms {
		if i > 0 {
			b.write(" AND ")
		}
		term.compile(b)
	}
	b.write(")")
}

func (n *notNode) compile(b *sqlBuilder) {
	b.write("(NOT ")
	n.term.compile(b)
	b.write(")")
}

func (n *cmpNode) compile(b *sqlBuilder) {
	switch n.val.kind {
	case valueBool:
		// json_type distinguishes true/false from numeric 0/1. IS
		// keeps the result two-valued when the key is missing.
		want := "'false'"
		if n.val.b == (n.op == "=") {
			want = "'true'"
		}
		b.write("(")
		b.jsonType(n.key)
		b.write(" IS " + want + ")")

	case valueNumber:
		b.write("(typeof(")
		b.extract(n.key)
		b.write(") IN ('integer', 'real') AND ")
		b.extract(n.key)
		b.write(" " + n.op + " ?)")
		b.bind(n.val.num)

	default:
		b.write("(typeof(")
		b.extract(n.key)
		b.write(") = 'text' AND ")
		b.extract(n.key)
		b.write(" " + n.op + " ?)")
		b.bind(n.val.str)
	}
}

func (n *inNode) compile(b *sqlBuilder) {
	b.write("(typeof(")
	b.extract(n.key)
	b.write(") = 'text' AND ")
	b.extract(n.key)
	b.write(" IN (")
	for i, v := range n.values {
		if i > 0 {
			b.write(", ")
		}
		b.write("?")
		b.bind(v)
	}
	b.write("))")
}

func (n *likeNode) compile(b *sqlBuilder) {
	b.write("(typeof(")
	b.extract(n.key)
	b.write(") = 'text' AND ")
	b.extract(n.key)
	b.write(" LIKE ?)")
	b.bind(n.pattern)
}

func (n *hasNode) compile(b *sqlBuilder) {
	b.write("(")
	b.jsonType(n.key)
	b.write(" IS NOT NULL)")
}
