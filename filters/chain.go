package filters

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenID int

const (
	symbol tokenID = iota
	stringLiteral
	number
	arrow
	openParen
	closeParen
	comma
)

type token struct {
	id  tokenID
	val string
}

type charPredicate func(byte) bool

type chainLexer struct {
	code          string
	initialLength int
	lastToken     *token
}

const (
	escapeChar  = '\\'
	decimalChar = '.'
	newlineChar = '\n'
	underscore  = '_'
)

var (
	errInvalidCharacter = errors.New("invalid character")
	errIncompleteToken  = errors.New("incomplete token")
	errUnexpectedToken  = errors.New("unexpected token")
	errEOF              = errors.New("eof")
)

var fixedTokens = []struct {
	val string
	id  tokenID
}{
	{"->", arrow},
	{"(", openParen},
	{")", closeParen},
	{",", comma},
}

func (t token) String() string { return t.val }

func isWhitespace(c byte) bool  { return unicode.IsSpace(rune(c)) }
func isNewline(c byte) bool     { return c == newlineChar }
func isAlpha(c byte) bool       { return unicode.IsLetter(rune(c)) }
func isDigit(c byte) bool       { return unicode.IsDigit(rune(c)) }
func isSymbolChar(c byte) bool  { return c == underscore || isAlpha(c) || isDigit(c) }
func isDecimalChar(c byte) bool { return c == decimalChar }

func scanWhile(code string, p charPredicate) (string, string) {
	i := 0
	for i < len(code) && p(code[i]) {
		i++
	}

	return code[:i], code[i:]
}

func scanEscaped(delimiter byte, code string) ([]byte, string) {
	var b []byte
	escaped := false
	for len(code) > 0 {
		c := code[0]
		isDelimiter := c == delimiter
		isEscapeChar := c == escapeChar

		if escaped {
			if !isDelimiter && !isEscapeChar {
				b = append(b, escapeChar)
			}

			b = append(b, c)
			escaped = false
		} else {
			if isDelimiter {
				return b, code
			}

			if isEscapeChar {
				escaped = true
			} else {
				b = append(b, c)
			}
		}

		code = code[1:]
	}

	return b, code
}

func scanStringLiteral(code string) (t token, rest string, err error) {
	b, rest := scanEscaped(code[0], code[1:])
	if len(rest) == 0 {
		err = errIncompleteToken
		return
	}

	t.id = stringLiteral
	t.val = string(b)
	rest = rest[1:]
	return
}

func scanNumber(code string) (t token, rest string, err error) {
	sign := ""
	if code[0] == '-' {
		sign, code = "-", code[1:]
	}

	decimal := false
	n, rest := scanWhile(code, func(c byte) bool {
		if isDecimalChar(c) {
			if decimal {
				return false
			}

			decimal = true
			return true
		}

		return isDigit(c)
	})

	if n == "" || isDecimalChar(n[len(n)-1]) {
		err = errIncompleteToken
		return
	}

	t.id = number
	t.val = sign + n
	return
}

func scanSymbol(code string) (t token, rest string, err error) {
	t.val, rest = scanWhile(code, isSymbolChar)
	t.id = symbol
	return
}

func newChainLexer(code string) *chainLexer {
	return &chainLexer{code: code, initialLength: len(code)}
}

func (l *chainLexer) skipVoid() {
	for {
		_, l.code = scanWhile(l.code, isWhitespace)
		if !strings.HasPrefix(l.code, "//") {
			return
		}

		_, l.code = scanWhile(l.code, func(c byte) bool { return !isNewline(c) })
	}
}

func (l *chainLexer) next() (t token, err error) {
	l.skipVoid()
	if len(l.code) == 0 {
		err = errEOF
		return
	}

	for _, f := range fixedTokens {
		if strings.HasPrefix(l.code, f.val) {
			t = token{id: f.id, val: f.val}
			l.code = l.code[len(f.val):]
			l.lastToken = &t
			return
		}
	}

	c := l.code[0]
	switch {
	case c == '"' || c == '`':
		t, l.code, err = scanStringLiteral(l.code)
	case c == '-' || isDigit(c) || isDecimalChar(c):
		t, l.code, err = scanNumber(l.code)
	case isAlpha(c) || c == underscore:
		t, l.code, err = scanSymbol(l.code)
	default:
		err = errInvalidCharacter
	}

	if err == nil {
		l.lastToken = &t
	}

	return
}

func (l *chainLexer) error(err error) error {
	return fmt.Errorf(
		"parse failed after token %v, position %d: %w",
		l.lastToken, l.initialLength-len(l.code), err)
}

func (l *chainLexer) expect(id tokenID) (token, error) {
	t, err := l.next()
	if err != nil {
		return t, l.error(err)
	}

	if t.id != id {
		return t, l.error(errUnexpectedToken)
	}

	return t, nil
}

func parseArg(t token) (interface{}, error) {
	switch t.id {
	case stringLiteral:
		return t.val, nil
	case number:
		return strconv.ParseFloat(t.val, 64)
	default:
		return nil, errUnexpectedToken
	}
}

func (l *chainLexer) parseArgs() ([]interface{}, error) {
	var args []interface{}
	t, err := l.next()
	if err != nil {
		return nil, l.error(err)
	}

	if t.id == closeParen {
		return nil, nil
	}

	for {
		a, err := parseArg(t)
		if err != nil {
			return nil, l.error(err)
		}

		args = append(args, a)

		t, err = l.next()
		if err != nil {
			return nil, l.error(err)
		}

		switch t.id {
		case closeParen:
			return args, nil
		case comma:
			if t, err = l.next(); err != nil {
				return nil, l.error(err)
			}
		default:
			return nil, l.error(errUnexpectedToken)
		}
	}
}

// ParseChain parses a filter chain expression in the form of:
//
//	name(arg, ...) -> name(...)
//
// Arguments can be double quoted or backtick quoted strings, or numbers.
// Numbers are parsed as float64. Lines starting with // are comments. The
// empty expression gives an empty chain.
func ParseChain(code string) ([]*Config, error) {
	l := newChainLexer(code)
	var chain []*Config
	for {
		t, err := l.next()
		if err == errEOF && len(chain) == 0 {
			return nil, nil
		}

		if err != nil {
			return nil, l.error(err)
		}

		if t.id != symbol {
			return nil, l.error(errUnexpectedToken)
		}

		if _, err := l.expect(openParen); err != nil {
			return nil, err
		}

		args, err := l.parseArgs()
		if err != nil {
			return nil, err
		}

		chain = append(chain, &Config{Name: t.val, Args: args})

		t, err = l.next()
		if err == errEOF {
			return chain, nil
		}

		if err != nil {
			return nil, l.error(err)
		}

		if t.id != arrow {
			return nil, l.error(errUnexpectedToken)
		}
	}
}
