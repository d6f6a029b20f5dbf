package queryir

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseError reports malformed query text.
type ParseError struct {
	// Pos is the byte offset of the offending token.
	Pos     int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("query:%d: %s", e.Pos, e.Message)
}

// timestampLayouts are accepted inside TIMESTAMP literals.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Parse parses query text:
//
//	SELECT * FROM type [, type ...] [WHERE expr] [ORDER BY field [ASC|DESC] [, ...]]
func Parse(text string) (*Query, error) {
	p := &parser{l: newLexer(text)}
	p.advance()
	p.advance()

	q, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	if err := Validate(q); err != nil {
		return nil, err
	}
	return q, nil
}

type parser struct {
	l    *lexer
	cur  token
	peek token
}

func (p *parser) advance() {
	p.cur = p.peek
	p.peek = p.l.next()
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Pos: p.cur.pos, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) unexpected(want string) error {
	got := p.cur.kind.String()
	if p.cur.value != "" {
		got = fmt.Sprintf("%s %q", got, p.cur.value)
	}
	return p.errorf("expected %s, got %s", want, got)
}

func (p *parser) expect(kind tokenKind) error {
	if p.cur.kind != kind {
		return p.unexpected(kind.String())
	}
	p.advance()
	return nil
}

func (p *parser) parseQuery() (*Query, error) {
	if err := p.expect(tokSelect); err != nil {
		return nil, err
	}
	if err := p.expect(tokStar); err != nil {
		return nil, err
	}
	if err := p.expect(tokFrom); err != nil {
		return nil, err
	}

	q := &Query{}
	for {
		if p.cur.kind != tokIdent {
			return nil, p.unexpected("type name")
		}
		q.From = append(q.From, p.cur.value)
		p.advance()
		if p.cur.kind != tokComma {
			break
		}
		p.advance()
	}

	if p.cur.kind == tokWhere {
		p.advance()
		where, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		q.Where = where
	}

	if p.cur.kind == tokOrder {
		p.advance()
		if err := p.expect(tokBy); err != nil {
			return nil, err
		}
		for {
			if p.cur.kind != tokIdent {
				return nil, p.unexpected("field name")
			}
			key := OrderKey{Field: p.cur.value}
			p.advance()
			switch p.cur.kind {
			case tokAsc:
				p.advance()
			case tokDesc:
				key.Desc = true
				p.advance()
			}
			q.OrderBy = append(q.OrderBy, key)
			if p.cur.kind != tokComma {
				break
			}
			p.advance()
		}
	}

	if p.cur.kind != tokEnd {
		return nil, p.unexpected(tokEnd.String())
	}
	return q, nil
}

func (p *parser) parseOr() (Predicate, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokOr {
		return left, nil
	}
	or := &Or{Predicates: []Predicate{left}}
	for p.cur.kind == tokOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		or.Predicates = append(or.Predicates, right)
	}
	return or, nil
}

func (p *parser) parseAnd() (Predicate, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokAnd {
		return left, nil
	}
	and := &And{Predicates: []Predicate{left}}
	for p.cur.kind == tokAnd {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		and.Predicates = append(and.Predicates, right)
	}
	return and, nil
}

func (p *parser) parseNot() (Predicate, error) {
	if p.cur.kind == tokNot {
		p.advance()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Not{Predicate: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Predicate, error) {
	if p.cur.kind == tokOpen {
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokClose); err != nil {
			return nil, err
		}
		return inner, nil
	}
	if p.cur.kind != tokIdent {
		return nil, p.unexpected("field name")
	}
	field := p.cur.value
	p.advance()
	return p.parseCondition(field)
}

// parseCondition parses what follows the field of a leaf predicate.
func (p *parser) parseCondition(field string) (Predicate, error) {
	switch p.cur.kind {
	case tokOp:
		op := Op(p.cur.value)
		p.advance()
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		return &Comparison{Field: field, Op: op, Value: v}, nil

	case tokIs:
		p.advance()
		isNull := &IsNull{Field: field}
		if p.cur.kind == tokNot {
			isNull.Not = true
			p.advance()
		}
		if err := p.expect(tokNull); err != nil {
			return nil, err
		}
		return isNull, nil

	case tokStartsWith:
		p.advance()
		if p.cur.kind != tokString {
			return nil, p.unexpected("path string")
		}
		path := p.cur.value
		p.advance()
		return &StartsWith{Field: field, Path: path}, nil
	}

	not := false
	if p.cur.kind == tokNot {
		not = true
		p.advance()
	}
	switch p.cur.kind {
	case tokLike:
		p.advance()
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		op := OpLike
		if not {
			op = OpNotLike
		}
		return &Comparison{Field: field, Op: op, Value: v}, nil

	case tokIn:
		p.advance()
		if err := p.expect(tokOpen); err != nil {
			return nil, err
		}
		in := &In{Field: field, Not: not}
		for {
			v, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			in.Values = append(in.Values, v)
			if p.cur.kind != tokComma {
				break
			}
			p.advance()
		}
		if err := p.expect(tokClose); err != nil {
			return nil, err
		}
		return in, nil

	case tokBetween:
		p.advance()
		low, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokAnd); err != nil {
			return nil, err
		}
		high, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		return &Between{Field: field, Low: low, High: high, Not: not}, nil
	}

	if not {
		return nil, p.unexpected("LIKE, IN or BETWEEN")
	}
	return nil, p.unexpected("operator")
}

func (p *parser) parseValue() (Value, error) {
	switch p.cur.kind {
	case tokString:
		v := String(p.cur.value)
		p.advance()
		return v, nil
	case tokTrue, tokFalse:
		v := Bool(p.cur.kind == tokTrue)
		p.advance()
		return v, nil
	case tokMinus:
		p.advance()
		if p.cur.kind != tokNumber {
			return nil, p.unexpected("number")
		}
		return p.parseNumber("-")
	case tokNumber:
		return p.parseNumber("")
	case tokDate:
		p.advance()
		if p.cur.kind != tokString {
			return nil, p.unexpected("date string")
		}
		t, err := time.ParseInLocation(time.DateOnly, p.cur.value, time.UTC)
		if err != nil {
			return nil, p.errorf("invalid date %q", p.cur.value)
		}
		p.advance()
		return Date{Time: t}, nil
	case tokTimestamp:
		p.advance()
		if p.cur.kind != tokString {
			return nil, p.unexpected("timestamp string")
		}
		t, err := parseTimestamp(p.cur.value)
		if err != nil {
			return nil, p.errorf("invalid timestamp %q", p.cur.value)
		}
		p.advance()
		return Timestamp{Time: t}, nil
	}
	return nil, p.unexpected("literal")
}

func (p *parser) parseNumber(sign string) (Value, error) {
	text := sign + p.cur.value
	if !strings.ContainsAny(text, ".eE") {
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, p.errorf("invalid integer %s", text)
		}
		p.advance()
		return Int(n), nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, p.errorf("invalid number %s", text)
	}
	p.advance()
	return Float(f), nil
}

func parseTimestamp(s string) (time.Time, error) {
	var err error
	for _, layout := range timestampLayouts {
		var t time.Time
		if t, err = time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, err
}
