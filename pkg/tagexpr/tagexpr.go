// Package tagexpr parses and evaluates boolean tag expressions used to select
// behavior-driven scenarios.
//
// An expression is a formula over tag literals combined with AND, OR and NOT,
// grouped with parentheses:
//
//	critical AND NOT long-running
//	(@smoke or @critical) and not @broken
//
// Keywords are case-insensitive and a leading "@" on a tag is optional. Parsed
// expressions render back to a canonical form (upper-case keywords, minimal
// parentheses) or to the cucumber runner syntax.
package tagexpr

import (
	"fmt"
	"sort"
	"strings"
)

// Syntax selects how an expression is rendered.
type Syntax string

const (
	// SyntaxCanonical renders "critical AND NOT long-running".
	SyntaxCanonical Syntax = "canonical"

	// SyntaxCucumber renders "@critical and not @long-running".
	SyntaxCucumber Syntax = "cucumber"
)

// Expr is a parsed tag expression.
type Expr interface {
	// Evaluate reports whether a scenario carrying tags matches the expression.
	Evaluate(tags []string) bool

	// String returns the canonical form.
	String() string

	precedence() int
	render(s Syntax) string
}

const (
	precOr = iota + 1
	precAnd
	precNot
	precTag
)

// Tag is a single tag literal.
type Tag struct {
	Name string
}

// Not negates an expression.
type Not struct {
	X Expr
}

// Binary is an AND or OR node.
type Binary struct {
	Op    string
	Left  Expr
	Right Expr
}

const (
	opAnd = "AND"
	opOr  = "OR"
)

func (t Tag) Evaluate(tags []string) bool {
	for _, tag := range tags {
		if strings.TrimPrefix(tag, "@") == t.Name {
			return true
		}
	}
	return false
}

func (t Tag) String() string { return t.render(SyntaxCanonical) }
func (t Tag) precedence() int { return precTag }
func (t Tag) render(s Syntax) string {
	if s == SyntaxCucumber || isKeyword(t.Name) {
		return "@" + t.Name
	}
	return t.Name
}

// isKeyword reports whether a bare tag name would lex as an operator.
func isKeyword(name string) bool {
	switch strings.ToUpper(name) {
	case opAnd, opOr, "NOT":
		return true
	}
	return false
}

func (n Not) Evaluate(tags []string) bool { return !n.X.Evaluate(tags) }
func (n Not) String() string { return n.render(SyntaxCanonical) }
func (n Not) precedence() int { return precNot }
func (n Not) render(s Syntax) string {
	return keyword("NOT", s) + " " + wrap(n.X, precNot, s)
}

func (b Binary) Evaluate(tags []string) bool {
	if b.Op == opAnd {
		return b.Left.Evaluate(tags) && b.Right.Evaluate(tags)
	}
	return b.Left.Evaluate(tags) || b.Right.Evaluate(tags)
}

func (b Binary) String() string { return b.render(SyntaxCanonical) }

func (b Binary) precedence() int {
	if b.Op == opAnd {
		return precAnd
	}
	return precOr
}

func (b Binary) render(s Syntax) string {
	p := b.precedence()
	// AND and OR are associative, so an operand of the same operator never
	// needs parentheses.
	return wrap(b.Left, p, s) + " " + keyword(b.Op, s) + " " + wrap(b.Right, p, s)
}

func wrap(e Expr, parent int, s Syntax) string {
	if e.precedence() < parent {
		return "(" + e.render(s) + ")"
	}
	return e.render(s)
}

func keyword(kw string, s Syntax) string {
	if s == SyntaxCucumber {
		return strings.ToLower(kw)
	}
	return kw
}

// Render returns the expression in the requested syntax.
func Render(e Expr, s Syntax) string {
	if e == nil {
		return ""
	}
	return e.render(s)
}

// And joins two expressions with AND. A nil operand yields the other operand.
func And(a, b Expr) Expr {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return Binary{Op: opAnd, Left: a, Right: b}
}

// RequiredTags returns the tags every matching scenario must carry: positive
// literals reachable from the root through AND nodes only.
func RequiredTags(e Expr) []string {
	seen := map[string]bool{}
	var walk func(Expr)
	walk = func(x Expr) {
		switch v := x.(type) {
		case Tag:
			seen[v.Name] = true
		case Binary:
			if v.Op == opAnd {
				walk(v.Left)
				walk(v.Right)
			}
		}
	}
	walk(e)

	out := make([]string, 0, len(seen))
	for tag := range seen {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Normalize parses s and returns its canonical form.
func Normalize(s string) (string, error) {
	e, err := Parse(s)
	if err != nil {
		return "", err
	}
	return e.String(), nil
}

// Validate reports whether s is a well-formed expression.
func Validate(s string) error {
	_, err := Parse(s)
	return err
}

// SyntaxError describes a malformed expression.
type SyntaxError struct {
	Input string
	Pos   int
	Msg   string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("tag expression %q: %s at offset %d", e.Input, e.Msg, e.Pos)
}
