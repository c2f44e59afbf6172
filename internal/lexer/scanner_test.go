package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quill/internal/errors"
)

func scan(t *testing.T, src string) []Token {
	t.Helper()
	toks, err := NewScanner(src).ScanTokens()
	require.NoError(t, err)
	return toks
}

func types(toks []Token) []TokenType {
	out := make([]TokenType, len(toks))
	for i, tok := range toks {
		out[i] = tok.Type
	}
	return out
}

func TestOperators(t *testing.T) {
	toks := scan(t, "a === b !== c ?? d?.e ** 2 => x += 1 && y || !z")
	assert.Equal(t, []TokenType{
		TokenIdent, TokenTripleEqual, TokenIdent, TokenNotDoubleEq, TokenIdent, TokenNullish,
		TokenIdent, TokenOptional, TokenIdent, TokenStarStar, TokenNumber, TokenArrow, TokenIdent,
		TokenPlusEqual, TokenNumber, TokenAnd, TokenIdent, TokenOr, TokenNot, TokenIdent, TokenEOF,
	}, types(toks))
}

func TestConditionalBeforeFraction(t *testing.T) {
	toks := scan(t, "a?.5:1")
	assert.Equal(t, []TokenType{TokenIdent, TokenQuestion, TokenNumber, TokenColon, TokenNumber, TokenEOF}, types(toks))
	assert.Equal(t, 0.5, toks[2].Value)
}

func TestKeywordsAndIdentifiers(t *testing.T) {
	toks := scan(t, "var let const function typeof undefined of $x _y café")
	assert.Equal(t, []TokenType{
		TokenVar, TokenLet, TokenConst, TokenFunction, TokenTypeof, TokenUndefined,
		TokenIdent, TokenIdent, TokenIdent, TokenIdent, TokenEOF,
	}, types(toks))
	assert.Equal(t, "café", toks[9].Lexeme)
}

func TestNumbers(t *testing.T) {
	tests := map[string]float64{
		"42":   42,
		"3.25": 3.25,
		".5":   0.5,
		"1e3":  1000,
		"2E-2": 0.02,
		"0xff": 255,
		"0":    0,
	}
	for src, want := range tests {
		t.Run(src, func(t *testing.T) {
			toks := scan(t, src)
			require.Equal(t, TokenNumber, toks[0].Type)
			assert.Equal(t, want, toks[0].Value)
		})
	}
}

func TestStrings(t *testing.T) {
	toks := scan(t, `'it\'s' "tab\tnew\nline" "é\x41" 'a\\b'`)
	assert.Equal(t, "it's", toks[0].Value)
	assert.Equal(t, "tab\tnew\nline", toks[1].Value)
	assert.Equal(t, "éA", toks[2].Value)
	assert.Equal(t, `a\b`, toks[3].Value)
}

func TestPositionsAndNewlines(t *testing.T) {
	toks := scan(t, "let a = 1 // trailing\n/* block\ncomment */  b\n\tc")

	b := toks[4]
	assert.Equal(t, "b", b.Lexeme)
	assert.True(t, b.NewlineBefore)
	assert.Equal(t, 3, b.Line)
	assert.Equal(t, 13, b.Column)

	c := toks[5]
	assert.True(t, c.NewlineBefore)
	assert.Equal(t, 4, c.Line)
	assert.Equal(t, 2, c.Column)

	assert.False(t, toks[1].NewlineBefore)
	assert.Equal(t, 4, toks[1].Offset)
}

func TestColumnsCountRunes(t *testing.T) {
	toks := scan(t, "'日本' x")
	assert.Equal(t, 6, toks[1].Column)
	assert.Equal(t, 9, toks[1].Offset)
}

func TestShebang(t *testing.T) {
	toks := scan(t, "#!/usr/bin/env quill\nx")
	assert.Equal(t, TokenIdent, toks[0].Type)
	assert.Equal(t, 2, toks[0].Line)
}

func TestScanErrors(t *testing.T) {
	tests := []struct {
		src     string
		message string
		column  int
	}{
		{"'open", "Unterminated string literal", 1},
		{"x = 'a\nb'", "Unterminated string literal", 5},
		{"/* never closed", "Unterminated comment", 1},
		{"a & b", "Unexpected token '&'", 3},
		{"@", "Invalid or unexpected token '@'", 1},
		{"1e", "Invalid number literal", 1},
		{"3in", "Invalid or unexpected token", 2},
	}
	for _, test := range tests {
		t.Run(test.src, func(t *testing.T) {
			_, err := NewScannerWithFile(test.src, "bad.js").ScanTokens()
			require.Error(t, err)
			se, ok := errors.As(err)
			require.True(t, ok)
			assert.Equal(t, errors.SyntaxError, se.Type)
			assert.Equal(t, test.message, se.Message)
			assert.Equal(t, test.column, se.Location.Column)
			assert.Equal(t, "bad.js", se.Location.File)
		})
	}
}
