package queryir

import (
	"strings"
)

type tokenKind int

const (
	tokEnd tokenKind = iota
	tokInvalid
	tokIdent
	tokString
	tokNumber
	tokComma
	tokStar
	tokOpen
	tokClose
	tokMinus
	tokOp // = <> != < <= > >=

	// keywords
	tokSelect
	tokFrom
	tokWhere
	tokOrder
	tokBy
	tokAsc
	tokDesc
	tokAnd
	tokOr
	tokNot
	tokLike
	tokIn
	tokBetween
	tokIs
	tokNull
	tokTrue
	tokFalse
	tokDate
	tokTimestamp
	tokStartsWith
)

var keywords = map[string]tokenKind{
	"SELECT":     tokSelect,
	"FROM":       tokFrom,
	"WHERE":      tokWhere,
	"ORDER":      tokOrder,
	"BY":         tokBy,
	"ASC":        tokAsc,
	"DESC":       tokDesc,
	"AND":        tokAnd,
	"OR":         tokOr,
	"NOT":        tokNot,
	"LIKE":       tokLike,
	"IN":         tokIn,
	"BETWEEN":    tokBetween,
	"IS":         tokIs,
	"NULL":       tokNull,
	"TRUE":       tokTrue,
	"FALSE":      tokFalse,
	"DATE":       tokDate,
	"TIMESTAMP":  tokTimestamp,
	"STARTSWITH": tokStartsWith,
}

func (k tokenKind) String() string {
	switch k {
	case tokEnd:
		return "end of query"
	case tokInvalid:
		return "invalid character"
	case tokIdent:
		return "identifier"
	case tokString:
		return "string"
	case tokNumber:
		return "number"
	case tokComma:
		return "','"
	case tokStar:
		return "'*'"
	case tokOpen:
		return "'('"
	case tokClose:
		return "')'"
	case tokMinus:
		return "'-'"
	case tokOp:
		return "operator"
	}
	for word, kind := range keywords {
		if kind == k {
			return word
		}
	}
	return "unknown"
}

type token struct {
	kind  tokenKind
	value string
	pos   int
}

// lexer splits query text into tokens. Keywords are case-insensitive;
// identifiers keep their case and may contain ':' and '.'.
type lexer struct {
	input   string
	pos     int
	readPos int
	ch      byte
}

func newLexer(input string) *lexer {
	l := &lexer{input: input}
	l.readChar()
	return l
}

func (l *lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *lexer) skipWhiteSpace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

func (l *lexer) next() token {
	l.skipWhiteSpace()
	start := l.pos

	single := func(kind tokenKind) token {
		tok := token{kind: kind, value: string(l.ch), pos: start}
		l.readChar()
		return tok
	}

	switch l.ch {
	case 0:
		return token{kind: tokEnd, pos: start}
	case ',':
		return single(tokComma)
	case '*':
		return single(tokStar)
	case '(':
		return single(tokOpen)
	case ')':
		return single(tokClose)
	case '-':
		return single(tokMinus)
	case '=':
		return single(tokOp)
	case '<':
		if p := l.peekChar(); p == '=' || p == '>' {
			l.readChar()
			l.readChar()
			return token{kind: tokOp, value: "<" + string(p), pos: start}
		}
		return single(tokOp)
	case '>':
		if l.peekChar() == '=' {
			l.readChar()
			l.readChar()
			return token{kind: tokOp, value: ">=", pos: start}
		}
		return single(tokOp)
	case '!':
		if l.peekChar() == '=' {
			l.readChar()
			l.readChar()
			return token{kind: tokOp, value: "<>", pos: start}
		}
		return single(tokInvalid)
	case '\'', '"':
		s, ok := l.readString(l.ch)
		if !ok {
			return token{kind: tokInvalid, value: "unterminated string", pos: start}
		}
		return token{kind: tokString, value: s, pos: start}
	}

	switch {
	case isLetter(l.ch):
		word := l.readIdent()
		if kind, ok := keywords[strings.ToUpper(word)]; ok {
			return token{kind: kind, value: word, pos: start}
		}
		return token{kind: tokIdent, value: word, pos: start}
	case isDigit(l.ch):
		return token{kind: tokNumber, value: l.readNumber(), pos: start}
	default:
		return single(tokInvalid)
	}
}

func isLetter(ch byte) bool {
	return ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') || ch == '_'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func (l *lexer) readIdent() string {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == ':' || l.ch == '.' {
		l.readChar()
	}
	return l.input[start:l.pos]
}

func (l *lexer) readNumber() string {
	start := l.pos
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if l.ch == 'e' || l.ch == 'E' {
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return l.input[start:l.pos]
}

// readString reads a quoted string. A doubled quote stands for itself.
func (l *lexer) readString(quote byte) (string, bool) {
	var b strings.Builder
	l.readChar()
	for {
		switch l.ch {
		case 0:
			return "", false
		case quote:
			if l.peekChar() != quote {
				l.readChar()
				return b.String(), true
			}
			l.readChar()
		}
		b.WriteByte(l.ch)
		l.readChar()
	}
}
