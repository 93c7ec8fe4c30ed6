package lexer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func kinds(src string) []TokenKind {
	lex := New(src)
	var out []TokenKind
	for {
		tok := lex.Next()
		if tok.Kind == TokenEOF {
			return out
		}
		out = append(out, tok.Kind)
	}
}

func TestPunctuationDisambiguation(t *testing.T) {
	require.Equal(t,
		[]TokenKind{TokenColon, TokenAssign, TokenPlus, TokenPlusPlus, TokenPlusEq, TokenArrow, TokenMinusMinus, TokenLTE, TokenLT, TokenEq},
		kinds(": := + ++ += -> -- <= < ="))
}

func TestKeywordsAndIdentifiers(t *testing.T) {
	lex := New("let mutable rec letx fun")
	require.Equal(t, TokenLet, lex.Next().Kind)
	require.Equal(t, TokenMutable, lex.Next().Kind)
	require.Equal(t, TokenRec, lex.Next().Kind)
	tok := lex.Next()
	require.Equal(t, TokenIdent, tok.Kind)
	require.Equal(t, "letx", tok.Text)
	require.Equal(t, TokenFun, lex.Next().Kind)
}

func TestNumbers(t *testing.T) {
	lex := New("42 3.14 7.name")
	a := lex.Next()
	require.Equal(t, TokenInt, a.Kind)
	require.Equal(t, "42", a.Text)
	b := lex.Next()
	require.Equal(t, TokenFloat, b.Kind)
	require.Equal(t, "3.14", b.Text)
	// a dot not followed by a digit is a member access, not a float
	c := lex.Next()
	require.Equal(t, TokenInt, c.Kind)
	require.Equal(t, "7", c.Text)
	require.Equal(t, TokenDot, lex.Next().Kind)
	require.Equal(t, TokenIdent, lex.Next().Kind)
}

func TestStringsAndEscapes(t *testing.T) {
	lex := New(`"hej\nverden" "tab\there"`)
	a := lex.Next()
	require.Equal(t, TokenString, a.Kind)
	require.Equal(t, "hej\nverden", a.Text)
	b := lex.Next()
	require.Equal(t, "tab\there", b.Text)
	require.Empty(t, lex.Errors())
}

func TestUnterminatedStringIsAnError(t *testing.T) {
	lex := New("\"oops\nassert(true)")
	tok := lex.Next()
	require.Equal(t, TokenString, tok.Kind)
	require.NotEmpty(t, lex.Errors())
}

func TestCommentsAreSkipped(t *testing.T) {
	require.Equal(t,
		[]TokenKind{TokenLet, TokenIdent, TokenEq, TokenInt},
		kinds("// heading\nlet x = 1 // trailing"))
}

func TestPositions(t *testing.T) {
	lex := New("let\n  x")
	a := lex.Next()
	require.Equal(t, Position{Line: 1, Col: 1}, a.Pos)
	b := lex.Next()
	require.Equal(t, Position{Line: 2, Col: 3}, b.Pos)
}

func TestPeekDoesNotConsume(t *testing.T) {
	lex := New("a b")
	require.Equal(t, "a", lex.Peek().Text)
	require.Equal(t, "a", lex.Next().Text)
	require.Equal(t, "b", lex.Next().Text)
}
