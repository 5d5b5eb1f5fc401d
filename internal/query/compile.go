package query

import (
	"regexp"
	"sort"
	"strings"

	"github.com/darshan-rambhia/chimera/internal/catalog"
	"github.com/darshan-rambhia/chimera/internal/model"
)

// Predicate is a compiled filter expression. The concrete types are
// Contains, Exact, Regex, Exclude, InSet, Or and And.
type Predicate interface {
	isPredicate()
}

// Contains matches values containing Term, ignoring case. Term is lowercase.
type Contains struct {
	Field catalog.Field
	Term  string
}

// Exact matches values equal to one of Terms, ignoring case. Terms are
// lowercase, sorted and unique.
type Exact struct {
	Field catalog.Field
	Terms []string
}

// Regex matches values against an anchored, case-insensitive pattern.
type Regex struct {
	Field   catalog.Field
	Pattern string
}

// Exclude negates Pred. Rows where the field is NULL are kept.
type Exclude struct {
	Field catalog.Field
	Pred  Predicate
}

// InSet matches values equal to one of Values, case-sensitively. It carries
// the SERVER_ID sets resolved from annotations.
type InSet struct {
	Field  catalog.Field
	Values []string
	Negate bool
}

// Or matches when any element matches.
type Or []Predicate

// And matches when every element matches.
type And []Predicate

func (Contains) isPredicate() {}
func (Exact) isPredicate()    {}
func (Regex) isPredicate()    {}
func (Exclude) isPredicate()  {}
func (InSet) isPredicate()    {}
func (Or) isPredicate()       {}
func (And) isPredicate()      {}

// ServerIDField is the field used for SERVER_ID set restrictions.
var ServerIDField = catalog.Field{Canonical: model.FieldServerID, InputName: model.FieldServerID}

// Compile turns the resolved filters into one predicate: a conjunction
// across fields, a disjunction within a field. It returns nil when no
// filter contributes a condition.
func Compile(filters []Filter) (Predicate, error) {
	var and And
	for _, f := range filters {
		p, err := CompileTerms(f.Field, f.Terms)
		if err != nil {
			return nil, err
		}
		and = appendAnd(and, p)
	}
	return collapse(and), nil
}

// CompileTerms compiles the terms of a single field.
//
// Terms prefixed with "!" are exclusions; the others form the include
// group. When any include term contains "*", every include term is an
// anchored regex ("@" is dropped). Otherwise the include terms form one
// case-folded membership set, with or without "@". Exclusions are compiled
// term by term with the same rules and negated together. Empty terms are
// ignored.
func CompileTerms(field catalog.Field, terms []string) (Predicate, error) {
	return compileTerms(field, terms, false)
}

// CompileNotes compiles ANNOTATION terms against the annotation notes.
// It differs from CompileTerms in that a bare term is a case-insensitive
// substring match; "@term" stays an exact match.
func CompileNotes(field catalog.Field, terms []string) (Predicate, error) {
	return compileTerms(field, terms, true)
}

func compileTerms(field catalog.Field, terms []string, contains bool) (Predicate, error) {
	var include, exclude []string
	for _, t := range terms {
		if rest, ok := strings.CutPrefix(t, "!"); ok {
			if rest != "" && rest != "@" {
				exclude = append(exclude, rest)
			}
			continue
		}
		if t != "" && t != "@" {
			include = append(include, t)
		}
	}

	var and And
	if len(include) > 0 {
		p, err := compileInclude(field, include, contains)
		if err != nil {
			return nil, err
		}
		and = appendAnd(and, p)
	}
	if len(exclude) > 0 {
		p, err := compileExclude(field, exclude, contains)
		if err != nil {
			return nil, err
		}
		and = appendAnd(and, p)
	}
	return collapse(and), nil
}

func compileInclude(field catalog.Field, terms []string, contains bool) (Predicate, error) {
	if anyWildcard(terms) {
		var or Or
		for _, t := range uniqueSorted(terms, func(s string) string { return strings.TrimPrefix(s, "@") }) {
			r, err := compileRegex(field, t)
			if err != nil {
				return nil, err
			}
			or = append(or, r)
		}
		return collapseOr(or), nil
	}

	var exact, plain []string
	for _, t := range terms {
		if rest, ok := strings.CutPrefix(t, "@"); ok || !contains {
			exact = append(exact, rest)
		} else {
			plain = append(plain, t)
		}
	}
	var or Or
	if len(exact) > 0 {
		or = append(or, Exact{Field: field, Terms: uniqueSorted(exact, strings.ToLower)})
	}
	for _, t := range uniqueSorted(plain, strings.ToLower) {
		or = append(or, Contains{Field: field, Term: t})
	}
	return collapseOr(or), nil
}

func compileExclude(field catalog.Field, terms []string, contains bool) (Predicate, error) {
	var or Or
	var exact []string
	for _, t := range uniqueSorted(terms, func(s string) string { return s }) {
		rest, isExact := strings.CutPrefix(t, "@")
		switch {
		case strings.Contains(t, "*"):
			r, err := compileRegex(field, rest)
			if err != nil {
				return nil, err
			}
			or = append(or, r)
		case isExact || !contains:
			exact = append(exact, rest)
		default:
			or = append(or, Contains{Field: field, Term: strings.ToLower(t)})
		}
	}
	if len(exact) > 0 {
		or = append(Or{Exact{Field: field, Terms: uniqueSorted(exact, strings.ToLower)}}, or...)
	}
	return Exclude{Field: field, Pred: collapseOr(or)}, nil
}

// WildcardPattern converts a term with "*" wildcards into the anchored
// pattern used by Regex. The rest of the term is kept as regex syntax.
func WildcardPattern(term string) string {
	return "^" + strings.ReplaceAll(term, "*", ".*") + "$"
}

func compileRegex(field catalog.Field, term string) (Regex, error) {
	pattern := WildcardPattern(term)
	if _, err := regexp.Compile("(?i)" + pattern); err != nil {
		return Regex{}, invalidf("Invalid pattern for '%s': %s", field.InputName, term)
	}
	return Regex{Field: field, Pattern: pattern}, nil
}

func anyWildcard(terms []string) bool {
	for _, t := range terms {
		if strings.Contains(t, "*") {
			return true
		}
	}
	return false
}

func uniqueSorted(terms []string, norm func(string) string) []string {
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		n := norm(t)
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

func appendAnd(and And, p Predicate) And {
	switch p := p.(type) {
	case nil:
		return and
	case And:
		return append(and, p...)
	default:
		return append(and, p)
	}
}

func collapse(and And) Predicate {
	switch len(and) {
	case 0:
		return nil
	case 1:
		return and[0]
	}
	return and
}

func collapseOr(or Or) Predicate {
	switch len(or) {
	case 0:
		return nil
	case 1:
		return or[0]
	}
	return or
}

// Restrict adds a SERVER_ID set condition to p.
func Restrict(p Predicate, ids []string, negate bool) Predicate {
	set := InSet{Field: ServerIDField, Values: ids, Negate: negate}
	return collapse(appendAnd(appendAnd(nil, set), p))
}
