package search

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/spamguard/spamrag/errdefs"
)

// Expr is a typed filter expression. It is rendered to the backend's query
// language only at the execution boundary.
type Expr interface {
	fields(acc map[string]struct{})
}

type equalsExpr struct {
	Field string
	Value string
}

type oneOfExpr struct {
	Field  string
	Values []string
}

type andExpr struct{ Exprs []Expr }

type orExpr struct{ Exprs []Expr }

func (e equalsExpr) fields(acc map[string]struct{}) { acc[e.Field] = struct{}{} }
func (e oneOfExpr) fields(acc map[string]struct{}) { acc[e.Field] = struct{}{} }
func (e andExpr) fields(acc map[string]struct{}) {
	for _, x := range e.Exprs {
		x.fields(acc)
	}
}
func (e orExpr) fields(acc map[string]struct{}) {
	for _, x := range e.Exprs {
		x.fields(acc)
	}
}

func Equals(field, value string) Expr { return equalsExpr{Field: field, Value: value} }

// OneOf matches any of values. A single value collapses to Equals.
func OneOf(field string, values ...string) Expr {
	if len(values) == 1 {
		return Equals(field, values[0])
	}
	return oneOfExpr{Field: field, Values: values}
}

// And joins non-nil expressions; nil when none remain.
func And(exprs ...Expr) Expr { return join(exprs, func(xs []Expr) Expr { return andExpr{Exprs: xs} }) }

// Or joins non-nil expressions; nil when none remain.
func Or(exprs ...Expr) Expr { return join(exprs, func(xs []Expr) Expr { return orExpr{Exprs: xs} }) }

func join(exprs []Expr, wrap func([]Expr) Expr) Expr {
	kept := make([]Expr, 0, len(exprs))
	for _, e := range exprs {
		if e != nil {
			kept = append(kept, e)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return wrap(kept)
}

// Fields lists the fields referenced by e, sorted.
func Fields(e Expr) []string {
	if e == nil {
		return nil
	}
	acc := map[string]struct{}{}
	e.fields(acc)
	out := make([]string, 0, len(acc))
	for f := range acc {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate rejects malformed field names and fields outside allowed.
func Validate(e Expr, allowed func(string) bool) error {
	for _, f := range Fields(e) {
		if !fieldName.MatchString(f) {
			return errdefs.InvalidInputf("search.filter", "invalid field name %q", f)
		}
		if !allowed(f) {
			return errdefs.InvalidInputf("search.filter", "field %q is not filterable", f)
		}
	}
	return nil
}

// RenderOData renders e as an Azure AI Search $filter.
func RenderOData(e Expr) string {
	switch x := e.(type) {
	case nil:
		return ""
	case equalsExpr:
		return fmt.Sprintf("%s eq %s", x.Field, odataQuote(x.Value))
	case oneOfExpr:
		parts := make([]string, len(x.Values))
		for i, v := range x.Values {
			parts[i] = fmt.Sprintf("%s eq %s", x.Field, odataQuote(v))
		}
		return "(" + strings.Join(parts, " or ") + ")"
	case andExpr:
		return renderJoined(x.Exprs, " and ", RenderOData)
	case orExpr:
		return renderJoined(x.Exprs, " or ", RenderOData)
	default:
		panic(fmt.Sprintf("search: unknown filter expression %T", e))
	}
}

// RenderMilvus renders e as a Milvus boolean expression.
func RenderMilvus(e Expr) string {
	switch x := e.(type) {
	case nil:
		return ""
	case equalsExpr:
		return fmt.Sprintf("%s == %s", x.Field, milvusQuote(x.Value))
	case oneOfExpr:
		parts := make([]string, len(x.Values))
		for i, v := range x.Values {
			parts[i] = milvusQuote(v)
		}
		return fmt.Sprintf("%s in [%s]", x.Field, strings.Join(parts, ", "))
	case andExpr:
		return renderJoined(x.Exprs, " and ", RenderMilvus)
	case orExpr:
		return renderJoined(x.Exprs, " or ", RenderMilvus)
	default:
		panic(fmt.Sprintf("search: unknown filter expression %T", e))
	}
}

func renderJoined(exprs []Expr, sep string, render func(Expr) string) string {
	parts := make([]string, 0, len(exprs))
	for _, e := range exprs {
		switch e.(type) {
		case andExpr, orExpr:
			parts = append(parts, "("+render(e)+")")
		default:
			parts = append(parts, render(e))
		}
	}
	return strings.Join(parts, sep)
}

func odataQuote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func milvusQuote(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(v) + `"`
}
