package tagexpr

import (
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokTag
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// Parse parses an expression. Empty or whitespace-only input is an error.
func Parse(input string) (Expr, error) {
	toks, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	p := &parser{input: input, toks: toks}
	if p.peek().kind == tokEOF {
		return nil, p.errorf(0, "empty expression")
	}

	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t.pos, "unexpected "+describe(t))
	}
	return expr, nil
}

// MustParse is like Parse but panics on error. Intended for constants.
func MustParse(input string) Expr {
	e, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return e
}

func tokenize(input string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == '@' || isTagStart(c):
			start := i
			if c == '@' {
				i++
				if i >= len(input) || !isTagStart(input[i]) {
					return nil, &SyntaxError{Input: input, Pos: start, Msg: "tag name expected after '@'"}
				}
			}
			for i < len(input) && isTagChar(input[i]) {
				i++
			}
			word := input[start:i]
			toks = append(toks, classify(word, start))
		default:
			return nil, &SyntaxError{Input: input, Pos: i, Msg: "invalid character " + string(c)}
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(input)})
	return toks, nil
}

func classify(word string, pos int) token {
	if !strings.HasPrefix(word, "@") {
		switch strings.ToUpper(word) {
		case opAnd:
			return token{kind: tokAnd, text: word, pos: pos}
		case opOr:
			return token{kind: tokOr, text: word, pos: pos}
		case "NOT":
			return token{kind: tokNot, text: word, pos: pos}
		}
	}
	return token{kind: tokTag, text: strings.TrimPrefix(word, "@"), pos: pos}
}

func isTagStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isTagChar(c byte) bool {
	return isTagStart(c) || c == '-' || c == '.' || c == ':'
}

type parser struct {
	input string
	toks  []token
	pos   int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(pos int, msg string) error {
	return &SyntaxError{Input: p.input, Pos: pos, Msg: msg}
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: opOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: opAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.peek().kind == tokNot {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not{X: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.next()
	switch t.kind {
	case tokTag:
		return Tag{Name: t.text}, nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, p.errorf(closing.pos, "expected ')' but found "+describe(closing))
		}
		return inner, nil
	default:
		return nil, p.errorf(t.pos, "expected tag or '(' but found "+describe(t))
	}
}

func describe(t token) string {
	if t.kind == tokEOF {
		return "end of expression"
	}
	return "'" + t.text + "'"
}
