package lexer

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"quill/internal/errors"
)

type TokenType string

const (
	// Keywords
	TokenVar      TokenType = "VAR"
	TokenLet      TokenType = "LET"
	TokenConst    TokenType = "CONST"
	TokenFunction TokenType = "FUNCTION"
	TokenReturn   TokenType = "RETURN"
	TokenIf       TokenType = "IF"
	TokenElse     TokenType = "ELSE"
	TokenWhile    TokenType = "WHILE"
	TokenDo       TokenType = "DO"
	TokenFor      TokenType = "FOR"
	TokenBreak    TokenType = "BREAK"
	TokenContinue TokenType = "CONTINUE"
	TokenThrow    TokenType = "THROW"
	TokenTry      TokenType = "TRY"
	TokenCatch    TokenType = "CATCH"
	TokenFinally  TokenType = "FINALLY"
	TokenTypeof   TokenType = "TYPEOF"
	TokenThis     TokenType = "THIS"

	// Literals
	TokenTrue      TokenType = "TRUE"
	TokenFalse     TokenType = "FALSE"
	TokenNull      TokenType = "NULL"
	TokenUndefined TokenType = "UNDEFINED"
	TokenIdent     TokenType = "IDENT"
	TokenString    TokenType = "STRING"
	TokenNumber    TokenType = "NUMBER"

	// Symbols
	TokenLParen       TokenType = "("
	TokenRParen       TokenType = ")"
	TokenLBrace       TokenType = "{"
	TokenRBrace       TokenType = "}"
	TokenLBracket     TokenType = "["
	TokenRBracket     TokenType = "]"
	TokenComma        TokenType = ","
	TokenDot          TokenType = "."
	TokenSemicolon    TokenType = ";"
	TokenColon        TokenType = ":"
	TokenQuestion     TokenType = "?"
	TokenNullish      TokenType = "??"
	TokenOptional     TokenType = "?."
	TokenPlus         TokenType = "+"
	TokenMinus        TokenType = "-"
	TokenStar         TokenType = "*"
	TokenStarStar     TokenType = "**"
	TokenSlash        TokenType = "/"
	TokenPercent      TokenType = "%"
	TokenPlusPlus     TokenType = "++"
	TokenMinusMinus   TokenType = "--"
	TokenEqual        TokenType = "="
	TokenPlusEqual    TokenType = "+="
	TokenMinusEqual   TokenType = "-="
	TokenStarEqual    TokenType = "*="
	TokenSlashEqual   TokenType = "/="
	TokenPercentEqual TokenType = "%="
	TokenArrow        TokenType = "=>"
	TokenDoubleEqual  TokenType = "=="
	TokenTripleEqual  TokenType = "==="
	TokenNotEqual     TokenType = "!="
	TokenNotDoubleEq  TokenType = "!=="
	TokenLT           TokenType = "<"
	TokenGT           TokenType = ">"
	TokenLE           TokenType = "<="
	TokenGE           TokenType = ">="
	TokenAnd          TokenType = "&&"
	TokenOr           TokenType = "||"
	TokenNot          TokenType = "!"
	TokenEOF          TokenType = "EOF"
)

var keywords = map[string]TokenType{
	"var":       TokenVar,
	"let":       TokenLet,
	"const":     TokenConst,
	"function":  TokenFunction,
	"return":    TokenReturn,
	"if":        TokenIf,
	"else":      TokenElse,
	"while":     TokenWhile,
	"do":        TokenDo,
	"for":       TokenFor,
	"break":     TokenBreak,
	"continue":  TokenContinue,
	"throw":     TokenThrow,
	"try":       TokenTry,
	"catch":     TokenCatch,
	"finally":   TokenFinally,
	"typeof":    TokenTypeof,
	"this":      TokenThis,
	"true":      TokenTrue,
	"false":     TokenFalse,
	"null":      TokenNull,
	"undefined": TokenUndefined,
}

// IsKeyword reports whether name is reserved.
func IsKeyword(name string) bool {
	_, ok := keywords[name]
	return ok
}

type Token struct {
	Type   TokenType
	Lexeme string
	// Value holds the decoded string for TokenString and the parsed number for TokenNumber.
	Value interface{}
	// NewlineBefore is set when a line break separates this token from the previous one.
	NewlineBefore bool
	File          string
	Offset        int
	Line          int
	Column        int
}

func (t Token) String() string {
	return fmt.Sprintf("[%s] '%s'", t.Type, t.Lexeme)
}

// Location converts the token position for error reporting.
func (t Token) Location() errors.SourceLocation {
	return errors.SourceLocation{File: t.File, Index: t.Offset, Line: t.Line, Column: t.Column}
}

type Scanner struct {
	source    string
	file      string
	tokens    []Token
	start     int
	current   int
	line      int
	lineStart int
	newline   bool
}

func NewScanner(source string) *Scanner {
	return NewScannerWithFile(source, "")
}

func NewScannerWithFile(source, file string) *Scanner {
	return &Scanner{
		source: source,
		file:   file,
		line:   1,
	}
}

// ScanTokens tokenizes the whole source. The first lexical error stops the scan
// and is returned as a SyntaxError.
func (s *Scanner) ScanTokens() ([]Token, error) {
	if strings.HasPrefix(s.source, "#!") {
		s.skipLine()
	}

	for {
		if err := s.skipTrivia(); err != nil {
			return nil, err
		}
		s.start = s.current
		if s.isAtEnd() {
			break
		}
		if err := s.scanToken(); err != nil {
			return nil, err
		}
	}
	s.start = s.current
	s.addToken(TokenEOF, nil)
	return s.tokens, nil
}

func (s *Scanner) scanToken() error {
	c := s.advance()
	switch c {
	case '(':
		s.addToken(TokenLParen, nil)
	case ')':
		s.addToken(TokenRParen, nil)
	case '{':
		s.addToken(TokenLBrace, nil)
	case '}':
		s.addToken(TokenRBrace, nil)
	case '[':
		s.addToken(TokenLBracket, nil)
	case ']':
		s.addToken(TokenRBracket, nil)
	case ',':
		s.addToken(TokenComma, nil)
	case ';':
		s.addToken(TokenSemicolon, nil)
	case ':':
		s.addToken(TokenColon, nil)
	case '.':
		if isDigit(s.peek()) {
			return s.number()
		}
		s.addToken(TokenDot, nil)
	case '?':
		if s.match('?') {
			s.addToken(TokenNullish, nil)
		} else if s.peek() == '.' && !isDigit(s.peekNext()) {
			s.advance()
			s.addToken(TokenOptional, nil)
		} else {
			s.addToken(TokenQuestion, nil)
		}
	case '+':
		switch {
		case s.match('+'):
			s.addToken(TokenPlusPlus, nil)
		case s.match('='):
			s.addToken(TokenPlusEqual, nil)
		default:
			s.addToken(TokenPlus, nil)
		}
	case '-':
		switch {
		case s.match('-'):
			s.addToken(TokenMinusMinus, nil)
		case s.match('='):
			s.addToken(TokenMinusEqual, nil)
		default:
			s.addToken(TokenMinus, nil)
		}
	case '*':
		switch {
		case s.match('*'):
			s.addToken(TokenStarStar, nil)
		case s.match('='):
			s.addToken(TokenStarEqual, nil)
		default:
			s.addToken(TokenStar, nil)
		}
	case '/':
		if s.match('=') {
			s.addToken(TokenSlashEqual, nil)
		} else {
			s.addToken(TokenSlash, nil)
		}
	case '%':
		if s.match('=') {
			s.addToken(TokenPercentEqual, nil)
		} else {
			s.addToken(TokenPercent, nil)
		}
	case '=':
		switch {
		case s.match('>'):
			s.addToken(TokenArrow, nil)
		case s.match('='):
			if s.match('=') {
				s.addToken(TokenTripleEqual, nil)
			} else {
				s.addToken(TokenDoubleEqual, nil)
			}
		default:
			s.addToken(TokenEqual, nil)
		}
	case '!':
		if s.match('=') {
			if s.match('=') {
				s.addToken(TokenNotDoubleEq, nil)
			} else {
				s.addToken(TokenNotEqual, nil)
			}
		} else {
			s.addToken(TokenNot, nil)
		}
	case '<':
		if s.match('=') {
			s.addToken(TokenLE, nil)
		} else {
			s.addToken(TokenLT, nil)
		}
	case '>':
		if s.match('=') {
			s.addToken(TokenGE, nil)
		} else {
			s.addToken(TokenGT, nil)
		}
	case '&':
		if !s.match('&') {
			return s.errorAt(s.start, "Unexpected token '&'")
		}
		s.addToken(TokenAnd, nil)
	case '|':
		if !s.match('|') {
			return s.errorAt(s.start, "Unexpected token '|'")
		}
		s.addToken(TokenOr, nil)
	case '"', '\'':
		return s.string(c)
	default:
		if isDigit(c) {
			return s.number()
		}
		s.current = s.start
		r, size := utf8.DecodeRuneInString(s.source[s.current:])
		if isIdentStart(r) {
			s.current += size
			s.identifier()
			return nil
		}
		return s.errorAt(s.start, fmt.Sprintf("Invalid or unexpected token '%c'", r))
	}
	return nil
}

func (s *Scanner) identifier() {
	for !s.isAtEnd() {
		r, size := utf8.DecodeRuneInString(s.source[s.current:])
		if !isIdentPart(r) {
			break
		}
		s.current += size
	}
	text := s.source[s.start:s.current]
	if t, ok := keywords[text]; ok {
		s.addToken(t, nil)
		return
	}
	s.addToken(TokenIdent, nil)
}

func (s *Scanner) number() error {
	if s.source[s.start] == '0' && (s.peek() == 'x' || s.peek() == 'X') {
		s.advance()
		for isHexDigit(s.peek()) {
			s.advance()
		}
		v, err := strconv.ParseUint(s.source[s.start+2:s.current], 16, 64)
		if err != nil {
			return s.errorAt(s.start, "Invalid hexadecimal literal")
		}
		s.addToken(TokenNumber, float64(v))
		return nil
	}
	for isDigit(s.peek()) {
		s.advance()
	}
	if s.peek() == '.' && s.source[s.start] != '.' {
		s.advance()
		for isDigit(s.peek()) {
			s.advance()
		}
	}
	if s.peek() == 'e' || s.peek() == 'E' {
		s.advance()
		if s.peek() == '+' || s.peek() == '-' {
			s.advance()
		}
		if !isDigit(s.peek()) {
			return s.errorAt(s.start, "Invalid number literal")
		}
		for isDigit(s.peek()) {
			s.advance()
		}
	}
	if isIdentStart(rune(s.peek())) {
		return s.errorAt(s.current, "Invalid or unexpected token")
	}
	v, err := strconv.ParseFloat(s.source[s.start:s.current], 64)
	if err != nil {
		return s.errorAt(s.start, "Invalid number literal")
	}
	s.addToken(TokenNumber, v)
	return nil
}

func (s *Scanner) string(quote byte) error {
	var sb strings.Builder
	for {
		if s.isAtEnd() || s.peek() == '\n' {
			return s.errorAt(s.start, "Unterminated string literal")
		}
		c := s.advance()
		if c == quote {
			break
		}
		if c != '\\' {
			sb.WriteByte(c)
			continue
		}
		if s.isAtEnd() {
			return s.errorAt(s.start, "Unterminated string literal")
		}
		esc := s.advance()
		switch esc {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		case 'b':
			sb.WriteByte('\b')
		case 'f':
			sb.WriteByte('\f')
		case 'v':
			sb.WriteByte('\v')
		case '0':
			sb.WriteByte(0)
		case 'x':
			r, err := s.hexEscape(2)
			if err != nil {
				return err
			}
			sb.WriteRune(r)
		case 'u':
			r, err := s.hexEscape(4)
			if err != nil {
				return err
			}
			sb.WriteRune(r)
		case '\n':
			s.line++
			s.lineStart = s.current
		default:
			sb.WriteByte(esc)
		}
	}
	s.addToken(TokenString, sb.String())
	return nil
}

func (s *Scanner) hexEscape(n int) (rune, error) {
	at := s.current - 2
	if s.current+n > len(s.source) {
		return 0, s.errorAt(at, "Invalid hexadecimal escape sequence")
	}
	v, err := strconv.ParseUint(s.source[s.current:s.current+n], 16, 32)
	if err != nil {
		return 0, s.errorAt(at, "Invalid hexadecimal escape sequence")
	}
	s.current += n
	return rune(v), nil
}

// skipTrivia consumes whitespace and comments, remembering line breaks.
func (s *Scanner) skipTrivia() error {
	for !s.isAtEnd() {
		c := s.peek()
		switch {
		case c == '\n':
			s.advance()
			s.line++
			s.lineStart = s.current
			s.newline = true
		case c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v':
			s.advance()
		case c == '/' && s.peekNext() == '/':
			s.skipLine()
		case c == '/' && s.peekNext() == '*':
			start := s.current
			s.current += 2
			for {
				if s.isAtEnd() {
					return s.errorAt(start, "Unterminated comment")
				}
				if s.peek() == '*' && s.peekNext() == '/' {
					s.current += 2
					break
				}
				if s.advance() == '\n' {
					s.line++
					s.lineStart = s.current
					s.newline = true
				}
			}
		case c >= utf8.RuneSelf:
			r, size := utf8.DecodeRuneInString(s.source[s.current:])
			if !unicode.IsSpace(r) {
				return nil
			}
			s.current += size
		default:
			return nil
		}
	}
	return nil
}

func (s *Scanner) skipLine() {
	for !s.isAtEnd() && s.peek() != '\n' {
		s.advance()
	}
}

func (s *Scanner) addToken(t TokenType, value interface{}) {
	s.tokens = append(s.tokens, Token{
		Type:          t,
		Lexeme:        s.source[s.start:s.current],
		Value:         value,
		NewlineBefore: s.newline,
		File:          s.file,
		Offset:        s.start,
		Line:          s.line,
		Column:        s.column(s.start),
	})
	s.newline = false
}

func (s *Scanner) column(offset int) int {
	return utf8.RuneCountInString(s.source[s.lineStart:offset]) + 1
}

func (s *Scanner) errorAt(offset int, msg string) error {
	loc := errors.SourceLocation{File: s.file, Index: offset, Line: s.line, Column: s.column(offset)}
	return errors.NewSyntaxError(msg, loc).WithSource(errors.SourceLine(s.source, s.line))
}

func (s *Scanner) match(expected byte) bool {
	if s.isAtEnd() || s.source[s.current] != expected {
		return false
	}
	s.current++
	return true
}

func (s *Scanner) advance() byte {
	s.current++
	return s.source[s.current-1]
}

func (s *Scanner) peek() byte {
	if s.isAtEnd() {
		return '\000'
	}
	return s.source[s.current]
}

func (s *Scanner) peekNext() byte {
	if s.current+1 >= len(s.source) {
		return '\000'
	}
	return s.source[s.current+1]
}

func (s *Scanner) isAtEnd() bool {
	return s.current >= len(s.source)
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}

func isHexDigit(c byte) bool {
	return isDigit(c) || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
