// Package filter implements the activity filter expression language.
// Expressions parse into an AST and compile to a SQL predicate over
// the JSON properties column, so filtering happens inside the tile
// scan query.
package filter

import (
	"fmt"
	"strings"
	"unicode"
)

// Filter is a parsed expression. The zero value matches everything.
type Filter struct {
	root node
}

// Parse parses a filter expression. An empty or all-whitespace
// expression matches every activity.
func Parse(expr string) (*Filter, error) {
	if strings.TrimSpace(expr) == "" {
		return &Filter{}, nil
	}

	tokens, err := lex(expr)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, fmt.Errorf("unexpected %q at end of filter", p.peek().text)
	}
	return &Filter{root: root}, nil
}

type valueKind int

const (
	valueNumber valueKind = iota
	valueString
	valueBool
)

type value struct {
	kind valueKind
	num  float64
	str  string
	b    bool
}

type node interface {
	compile(b *sqlBuilder)
}

type orNode struct{ terms []node }
type andNode struct{ terms []node }
type notNode struct{ term node }

type cmpNode struct {
	key string
	op  string
	val value
}

type inNode struct {
	key    string
	values []string
}

type likeNode struct {
	key     string
	pattern string
}

type hasNode struct{ key string }

type tokenKind int

const (
	tokKey tokenKind = iota // bareword or quoted string in key position
	tokString
	tokNumber
	tokBool
	tokOp     // = != < <= > >=
	tokOr     // ||
	tokAnd    // &&
	tokNot    // !
	tokLParen // (
	tokRParen // )
	tokLBrack // [
	tokRBrack // ]
	tokComma  // ,
	tokIn     // in
	tokLike   // like
	tokHas    // has?
)

type token struct {
	kind tokenKind
	text string
	num  float64
	b    bool
}

func lex(expr string) ([]token, error) {
	var tokens []token
	runes := []rune(expr)
	i := 0

	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "("})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")"})
			i++
		case r == '[':
			tokens = append(tokens, token{kind: tokLBrack, text: "["})
			i++
		case r == ']':
			tokens = append(tokens, token{kind: tokRBrack, text: "]"})
			i++
		case r == ',':
			tokens = append(tokens, token{kind: tokComma, text: ","})
			i++

		case r == '|':
			if i+1 >= len(runes) || runes[i+1] != '|' {
				return nil, fmt.Errorf("unexpected '|' (did you mean '||'?)")
			}
			tokens = append(tokens, token{kind: tokOr, text: "||"})
			i += 2
		case r == '&':
			if i+1 >= len(runes) || runes[i+1] != '&' {
				return nil, fmt.Errorf("unexpected '&' (did you mean '&&'?)")
			}
			tokens = append(tokens, token{kind: tokAnd, text: "&&"})
			i += 2

		case r == '!':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, token{kind: tokOp, text: "!="})
				i += 2
			} else {
				tokens = append(tokens, token{kind: tokNot, text: "!"})
				i++
			}
		case r == '=':
			tokens = append(tokens, token{kind: tokOp, text: "="})
			i++
		case r == '<':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, token{kind: tokOp, text: "<="})
				i += 2
			} else {
				tokens = append(tokens, token{kind: tokOp, text: "<"})
				i++
			}
		case r == '>':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, token{kind: tokOp, text: ">="})
				i += 2
			} else {
				tokens = append(tokens, token{kind: tokOp, text: ">"})
				i++
			}

		case r == '"':
			s, next, err := lexString(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokString, text: s})
			i = next

		case r == '-' || unicode.IsDigit(r):
			start := i
			i++
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			text := string(runes[start:i])
			var num float64
			if _, err := fmt.Sscanf(text, "%g", &num); err != nil {
				return nil, fmt.Errorf("invalid number: %q", text)
			}
			tokens = append(tokens, token{kind: tokNumber, text: text, num: num})

		case r == '_' || unicode.IsLetter(r):
			start := i
			i++
			for i < len(runes) && (runes[i] == '_' || unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i])) {
				i++
			}
			word := string(runes[start:i])
			switch word {
			case "in":
				tokens = append(tokens, token{kind: tokIn, text: word})
			case "like":
				tokens = append(tokens, token{kind: tokLike, text: word})
			case "true":
				tokens = append(tokens, token{kind: tokBool, text: word, b: true})
			case "false":
				tokens = append(tokens, token{kind: tokBool, text: word, b: false})
			case "has":
				if i < len(runes) && runes[i] == '?' {
					i++
					tokens = append(tokens, token{kind: tokHas, text: "has?"})
				} else {
					tokens = append(tokens, token{kind: tokKey, text: word})
				}
			default:
				tokens = append(tokens, token{kind: tokKey, text: word})
			}

		default:
			return nil, fmt.Errorf("unexpected character %q in filter", r)
		}
	}

	return tokens, nil
}

func lexString(runes []rune, start int) (string, int, error) {
	var sb strings.Builder
	i := start + 1
	for i < len(runes) {
		switch runes[i] {
		case '"':
			return sb.String(), i + 1, nil
		case '\\':
			if i+1 >= len(runes) {
				return "", 0, fmt.Errorf("unterminated escape in string")
			}
			switch runes[i+1] {
			case '"', '\\':
				sb.WriteRune(runes[i+1])
			default:
				return "", 0, fmt.Errorf("invalid escape \\%c in string", runes[i+1])
			}
			i += 2
		default:
			sb.WriteRune(runes[i])
			i++
		}
	}
	return "", 0, fmt.Errorf("unterminated string in filter")
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) done() bool { return p.pos >= len(p.tokens) }

func (p *parser) peek() token {
	if p.done() {
		return token{}
	}
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	if p.done() {
		return token{}, fmt.Errorf("expected %s, got end of filter", what)
	}
	t := p.next()
	if t.kind != kind {
		return token{}, fmt.Errorf("expected %s, got %q", what, t.text)
	}
	return t, nil
}

func (p *parser) parseOr() (node, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := []node{first}
	for !p.done() && p.peek().kind == tokOr {
		p.next()
		term, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return &orNode{terms: terms}, nil
}

func (p *parser) parseAnd() (node, error) {
	first, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	terms := []node{first}
	for !p.done() && p.peek().kind == tokAnd {
		p.next()
		term, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return &andNode{terms: terms}, nil
}

func (p *parser) parseNot() (node, error) {
	if !p.done() && p.peek().kind == tokNot {
		p.next()
		term, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notNode{term: term}, nil
	}
	return p.parseAtom()
}

func (p *parser) parseAtom() (node, error) {
	if p.done() {
		return nil, fmt.Errorf("unexpected end of filter")
	}

	switch p.peek().kind {
	case tokLParen:
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil

	case tokHas:
		p.next()
		key, err := p.parseKey()
		if err != nil {
			return nil, err
		}
		return &hasNode{key: key}, nil

	case tokKey, tokString:
		key, err := p.parseKey()
		if err != nil {
			return nil, err
		}
		return p.parsePredicate(key)

	default:
		return nil, fmt.Errorf("unexpected %q in filter", p.peek().text)
	}
}

func (p *parser) parseKey() (string, error) {
	if p.done() {
		return "", fmt.Errorf("expected key, got end of filter")
	}
	t := p.next()
	if t.kind != tokKey && t.kind != tokString {
		return "", fmt.Errorf("expected key, got %q", t.text)
	}
	return t.text, nil
}

func (p *parser) parsePredicate(key string) (node, error) {
	if p.done() {
		return nil, fmt.Errorf("expected operator after %q", key)
	}

	switch t := p.next(); t.kind {
	case tokOp:
		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		if val.kind == valueBool && t.text != "=" && t.text != "!=" {
			return nil, fmt.Errorf("operator %q cannot compare booleans", t.text)
		}
		return &cmpNode{key: key, op: t.text, val: val}, nil

	case tokIn:
		if _, err := p.expect(tokLBrack, "'['"); err != nil {
			return nil, err
		}
		var values []string
		for {
			val, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			values = append(values, val.asString())
			if p.done() {
				return nil, fmt.Errorf("expected ',' or ']', got end of filter")
			}
			if p.peek().kind == tokComma {
				p.next()
				continue
			}
			break
		}
		if _, err := p.expect(tokRBrack, "']'"); err != nil {
			return nil, err
		}
		return &inNode{key: key, values: values}, nil

	case tokLike:
		pattern, err := p.expect(tokString, "pattern string")
		if err != nil {
			return nil, err
		}
		return &likeNode{key: key, pattern: pattern.text}, nil

	default:
		return nil, fmt.Errorf("expected operator after %q, got %q", key, t.text)
	}
}

func (p *parser) parseValue() (value, error) {
	if p.done() {
		return value{}, fmt.Errorf("expected value, got end of filter")
	}
	switch t := p.next(); t.kind {
	case tokNumber:
		return value{kind: valueNumber, num: t.num}, nil
	case tokBool:
		return value{kind: valueBool, b: t.b}, nil
	case tokString, tokKey:
		return value{kind: valueString, str: t.text}, nil
	default:
		return value{}, fmt.Errorf("expected value, got %q", t.text)
	}
}

func (v value) asString() string {
	switch v.kind {
	case valueNumber:
		return fmt.Sprintf("%g", v.num)
	case valueBool:
		if v.b {
			return "true"
		}
		return "false"
	default:
		return v.str
	}
}
