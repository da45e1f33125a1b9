package syntax

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/geleto/cascada/errors"
)

// Type identifies a lexical token.
type Type int

const (
	Data Type = iota
	BlockStart
	BlockEnd
	VarStart
	VarEnd
	Name
	String
	Int
	Float
	Op
	EOF
)

func (t Type) String() string {
	switch t {
	case Data:
		return "template data"
	case BlockStart:
		return "'{%'"
	case BlockEnd:
		return "'%}'"
	case VarStart:
		return "'{{'"
	case VarEnd:
		return "'}}'"
	case Name:
		return "name"
	case String:
		return "string"
	case Int:
		return "integer"
	case Float:
		return "float"
	case Op:
		return "operator"
	case EOF:
		return "end of template"
	}
	return "unknown"
}

// Token is one lexical unit with its 1-based position.
type Token struct {
	Value string
	Type  Type
	Line  int
	Col   int
}

// operators are matched longest first.
var operators = []string{
	"**", "//", "==", "!=", "<=", ">=",
	"(", ")", "[", "]", "{", "}", ",", ".", ":", "|", "!", "=",
	"<", ">", "+", "-", "*", "/", "%", "~", "@",
}

type lexer struct {
	name   string
	src    string
	pos    int
	line   int
	col    int
	tokens []Token
	// trimNext strips leading whitespace from the next data token (`-%}`).
	trimNext bool
}

// Tokenize splits template source into tokens. name is used in error
// positions only.
func Tokenize(name, src string) ([]Token, error) {
	l := &lexer{name: name, src: src, line: 1, col: 1}
	if err := l.run(); err != nil {
		return nil, err
	}
	l.emit(EOF, "", l.line, l.col)
	return l.tokens, nil
}

func (l *lexer) emit(t Type, v string, line, col int) {
	l.tokens = append(l.tokens, Token{Type: t, Value: v, Line: line, Col: col})
}

func (l *lexer) errorf(line, col int, format string, args ...any) error {
	return errors.New(errors.PhaseParse, errors.KindSyntax).
		Template(l.name).
		At(line, col).
		Detail(format, args...).
		Build()
}

// advance moves the cursor n bytes forward keeping line/col current.
func (l *lexer) advance(n int) {
	for i := 0; i < n && l.pos < len(l.src); {
		r, w := utf8.DecodeRuneInString(l.src[l.pos:])
		l.pos += w
		i += w
		if r == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}
	}
}

func (l *lexer) run() error {
	for l.pos < len(l.src) {
		next := l.nextTagStart()
		if next < 0 {
			l.data(l.src[l.pos:], false)
			l.advance(len(l.src) - l.pos)
			return nil
		}
		opener := l.src[next : next+2]
		trimBefore := next+2 < len(l.src) && l.src[next+2] == '-'
		if next > l.pos {
			l.data(l.src[l.pos:next], trimBefore)
			l.advance(next - l.pos)
		}
		switch opener {
		case "{#":
			if err := l.comment(); err != nil {
				return err
			}
		case "{%":
			if err := l.tag(BlockStart, BlockEnd, "%}", trimBefore); err != nil {
				return err
			}
		case "{{":
			if err := l.tag(VarStart, VarEnd, "}}", trimBefore); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *lexer) nextTagStart() int {
	best := -1
	for _, open := range []string{"{%", "{{", "{#"} {
		if i := strings.Index(l.src[l.pos:], open); i >= 0 {
			if best < 0 || l.pos+i < best {
				best = l.pos + i
			}
		}
	}
	return best
}

func (l *lexer) data(text string, trimRight bool) {
	line, col := l.line, l.col
	if l.trimNext {
		trimmed := strings.TrimLeftFunc(text, unicode.IsSpace)
		// keep positions pointing at the first emitted byte
		for _, r := range text[:len(text)-len(trimmed)] {
			if r == '\n' {
				line++
				col = 1
			} else {
				col++
			}
		}
		text = trimmed
		l.trimNext = false
	}
	if trimRight {
		text = strings.TrimRightFunc(text, unicode.IsSpace)
	}
	if text != "" {
		l.emit(Data, text, line, col)
	}
}

func (l *lexer) comment() error {
	line, col := l.line, l.col
	end := strings.Index(l.src[l.pos+2:], "#}")
	if end < 0 {
		return l.errorf(line, col, "unclosed comment")
	}
	body := l.src[l.pos+2 : l.pos+2+end]
	l.trimNext = strings.HasSuffix(body, "-")
	l.advance(2 + end + 2)
	return nil
}

func (l *lexer) tag(start, end Type, closer string, trim bool) error {
	l.emit(start, l.src[l.pos:l.pos+2], l.line, l.col)
	l.advance(2)
	if trim {
		l.advance(1)
	}
	for {
		l.skipSpace()
		if l.pos >= len(l.src) {
			return l.errorf(l.line, l.col, "unexpected end of template, expected %q", closer)
		}
		rest := l.src[l.pos:]
		if strings.HasPrefix(rest, "-"+closer) {
			l.emit(end, closer, l.line, l.col)
			l.advance(len(closer) + 1)
			l.trimNext = true
			return nil
		}
		if strings.HasPrefix(rest, closer) {
			l.emit(end, closer, l.line, l.col)
			l.advance(len(closer))
			return nil
		}
		if err := l.token(); err != nil {
			return err
		}
	}
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		r, _ := utf8.DecodeRuneInString(l.src[l.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		l.advance(1)
	}
}

func (l *lexer) token() error {
	line, col := l.line, l.col
	r, _ := utf8.DecodeRuneInString(l.src[l.pos:])

	switch {
	case r == '"' || r == '\'':
		return l.str(r)
	case unicode.IsDigit(r):
		l.number()
		return nil
	case r == '_' || unicode.IsLetter(r):
		start := l.pos
		for l.pos < len(l.src) {
			c, _ := utf8.DecodeRuneInString(l.src[l.pos:])
			if c != '_' && !unicode.IsLetter(c) && !unicode.IsDigit(c) {
				break
			}
			l.advance(1)
		}
		l.emit(Name, l.src[start:l.pos], line, col)
		return nil
	}

	rest := l.src[l.pos:]
	for _, op := range operators {
		if strings.HasPrefix(rest, op) {
			l.emit(Op, op, line, col)
			l.advance(len(op))
			return nil
		}
	}
	return l.errorf(line, col, "unexpected character %q", r)
}

func (l *lexer) str(quote rune) error {
	line, col := l.line, l.col
	l.advance(1)
	var b strings.Builder
	for {
		if l.pos >= len(l.src) {
			return l.errorf(line, col, "unterminated string")
		}
		r, w := utf8.DecodeRuneInString(l.src[l.pos:])
		if r == quote {
			l.advance(w)
			break
		}
		if r == '\\' && l.pos+1 < len(l.src) {
			l.advance(1)
			e, ew := utf8.DecodeRuneInString(l.src[l.pos:])
			switch e {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteRune(e)
			}
			l.advance(ew)
			continue
		}
		b.WriteRune(r)
		l.advance(w)
	}
	l.emit(String, b.String(), line, col)
	return nil
}

func (l *lexer) number() {
	line, col := l.line, l.col
	start := l.pos
	isFloat := false
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c >= '0' && c <= '9', c == '_':
		case c == '.' && !isFloat && l.pos+1 < len(l.src) && l.src[l.pos+1] >= '0' && l.src[l.pos+1] <= '9':
			isFloat = true
		case (c == 'e' || c == 'E') && l.pos+1 < len(l.src):
			isFloat = true
			if n := l.src[l.pos+1]; n == '+' || n == '-' {
				l.advance(1)
			}
		default:
			typ := Int
			if isFloat {
				typ = Float
			}
			l.emit(typ, strings.ReplaceAll(l.src[start:l.pos], "_", ""), line, col)
			return
		}
		l.advance(1)
	}
	typ := Int
	if isFloat {
		typ = Float
	}
	l.emit(typ, strings.ReplaceAll(l.src[start:l.pos], "_", ""), line, col)
}
